package service

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"ikedadada/go-onion/shared/domain/repository"
)

// WireEncodingService handles encoding and decoding of every structure that
// crosses a hop. The encoding is CBOR with integer keys; unknown fields are
// rejected and decode failures are protocol errors.
type WireEncodingService interface {
	EncodeFrame(*FrameDTO) ([]byte, error)
	DecodeFrame([]byte) (*FrameDTO, error)
	EncodeEnvelope(*EnvelopeDTO) ([]byte, error)
	DecodeEnvelope([]byte) (*EnvelopeDTO, error)
	EncodeLayer(*LayerDTO) ([]byte, error)
	DecodeLayer([]byte) (*LayerDTO, error)
	EncodeReturnLayer(*ReturnLayerDTO) ([]byte, error)
	DecodeReturnLayer([]byte) (*ReturnLayerDTO, error)
	EncodeReply(*ReplyDTO) ([]byte, error)
	DecodeReply([]byte) (*ReplyDTO, error)
	EncodeDestinationRequest(*DestinationRequestDTO) ([]byte, error)
	DecodeDestinationRequest([]byte) (*DestinationRequestDTO, error)
	EncodeDelivery(*DeliveryDTO) ([]byte, error)
	DecodeDelivery([]byte) (*DeliveryDTO, error)
}

// FrameDTO is the unit exchanged on a hop connection.
type FrameDTO struct {
	Version uint8  `cbor:"1,keyasint"`
	Type    uint8  `cbor:"2,keyasint"`
	Body    []byte `cbor:"3,keyasint,omitempty"`
}

// EnvelopeDTO is what one relay receives and peels.
type EnvelopeDTO struct {
	Version      uint8  `cbor:"1,keyasint"`
	EncryptedKey []byte `cbor:"2,keyasint"`
	Payload      []byte `cbor:"3,keyasint"`
}

// LayerDTO is the decrypted payload of an envelope.
type LayerDTO struct {
	Kind          uint8  `cbor:"1,keyasint"`
	SessionID     []byte `cbor:"2,keyasint"`
	NextHop       string `cbor:"3,keyasint"`
	ReturnAddress string `cbor:"4,keyasint,omitempty"`
	Body          []byte `cbor:"5,keyasint,omitempty"`
	// BudgetMillis is how long this hop may wait downstream; 0 means the
	// relay's own default.
	BudgetMillis uint32 `cbor:"6,keyasint,omitempty"`
}

// ReturnLayerDTO is the plaintext of one backward-path layer.
type ReturnLayerDTO struct {
	Kind uint8  `cbor:"1,keyasint"`
	Body []byte `cbor:"2,keyasint,omitempty"`
}

// ReplyDTO is the typed result delivered to the client.
type ReplyDTO struct {
	Status    uint8             `cbor:"1,keyasint"`
	ErrorKind uint8             `cbor:"2,keyasint,omitempty"`
	Message   string            `cbor:"3,keyasint,omitempty"`
	Headers   map[string]string `cbor:"4,keyasint,omitempty"`
	Body      []byte            `cbor:"5,keyasint,omitempty"`
}

// Reply statuses.
const (
	ReplyOK    uint8 = 0
	ReplyError uint8 = 1
)

// DestinationRequestDTO is the terminal request handed to the exit relay.
type DestinationRequestDTO struct {
	Method string `cbor:"1,keyasint,omitempty"`
	URL    string `cbor:"2,keyasint,omitempty"`
	Body   []byte `cbor:"3,keyasint,omitempty"`
}

// DeliveryDTO carries an asynchronously routed response to a terminus.
type DeliveryDTO struct {
	SessionID []byte `cbor:"1,keyasint"`
	Blob      []byte `cbor:"2,keyasint"`
}

var (
	wireEnc cbor.EncMode
	wireDec cbor.DecMode
)

func init() {
	var err error
	wireEnc, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	wireDec, err = cbor.DecOptions{
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

type wireEncodingServiceImpl struct{}

// NewWireEncodingService creates a new wire encoding service
func NewWireEncodingService() WireEncodingService {
	return &wireEncodingServiceImpl{}
}

func (s *wireEncodingServiceImpl) EncodeFrame(f *FrameDTO) ([]byte, error) { return encodeWire(f) }
func (s *wireEncodingServiceImpl) DecodeFrame(b []byte) (*FrameDTO, error) {
	return decodeWire[FrameDTO]("frame", b)
}

func (s *wireEncodingServiceImpl) EncodeEnvelope(e *EnvelopeDTO) ([]byte, error) { return encodeWire(e) }
func (s *wireEncodingServiceImpl) DecodeEnvelope(b []byte) (*EnvelopeDTO, error) {
	return decodeWire[EnvelopeDTO]("envelope", b)
}

func (s *wireEncodingServiceImpl) EncodeLayer(l *LayerDTO) ([]byte, error) { return encodeWire(l) }
func (s *wireEncodingServiceImpl) DecodeLayer(b []byte) (*LayerDTO, error) {
	return decodeWire[LayerDTO]("layer", b)
}

func (s *wireEncodingServiceImpl) EncodeReturnLayer(l *ReturnLayerDTO) ([]byte, error) {
	return encodeWire(l)
}
func (s *wireEncodingServiceImpl) DecodeReturnLayer(b []byte) (*ReturnLayerDTO, error) {
	return decodeWire[ReturnLayerDTO]("return layer", b)
}

func (s *wireEncodingServiceImpl) EncodeReply(r *ReplyDTO) ([]byte, error) { return encodeWire(r) }
func (s *wireEncodingServiceImpl) DecodeReply(b []byte) (*ReplyDTO, error) {
	return decodeWire[ReplyDTO]("reply", b)
}

func (s *wireEncodingServiceImpl) EncodeDestinationRequest(r *DestinationRequestDTO) ([]byte, error) {
	return encodeWire(r)
}
func (s *wireEncodingServiceImpl) DecodeDestinationRequest(b []byte) (*DestinationRequestDTO, error) {
	return decodeWire[DestinationRequestDTO]("destination request", b)
}

func (s *wireEncodingServiceImpl) EncodeDelivery(d *DeliveryDTO) ([]byte, error) { return encodeWire(d) }
func (s *wireEncodingServiceImpl) DecodeDelivery(b []byte) (*DeliveryDTO, error) {
	return decodeWire[DeliveryDTO]("delivery", b)
}

func encodeWire(v any) ([]byte, error) {
	b, err := wireEnc.Marshal(v)
	if err != nil {
		return nil, repository.NewFailure(repository.KindProtocol, "encode", err)
	}
	return b, nil
}

func decodeWire[T any](what string, data []byte) (*T, error) {
	if len(data) == 0 {
		return nil, repository.NewFailure(repository.KindProtocol, "decode "+what, fmt.Errorf("empty input"))
	}
	var result T
	if err := wireDec.Unmarshal(data, &result); err != nil {
		return nil, repository.NewFailure(repository.KindProtocol, "decode "+what, err)
	}
	return &result, nil
}
