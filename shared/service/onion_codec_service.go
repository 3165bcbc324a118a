package service

import (
	"errors"
	"fmt"
	"math"
	"time"

	"ikedadada/go-onion/shared/domain/entity"
	"ikedadada/go-onion/shared/domain/repository"
	vo "ikedadada/go-onion/shared/domain/value_object"
)

// OnionCodecService builds and peels the nested per-hop encryption and wraps
// and unwraps the backward path.
type OnionCodecService interface {
	BuildOnion(in BuildOnionInput) (*BuildOnionOutput, error)
	PeelOneLayer(envelope []byte, priv *vo.RSAPrivKey) (*PeeledLayer, error)
	WrapResponse(kind vo.ReturnKind, body []byte, key vo.AESKey) ([]byte, error)
	// WrapReply encodes reply and wraps it as the final return layer.
	WrapReply(reply *ReplyDTO, key vo.AESKey) ([]byte, error)
	// UnwrapResponse removes layers with keys in order, hop 1 first, until it
	// reaches the final one. It also reports how many layers it removed.
	UnwrapResponse(blob []byte, keys []vo.AESKey) (*ReplyDTO, int, error)
}

// BuildOnionInput describes one onion. Destination may be zero when the
// terminal request carries a URL instead.
type BuildOnionInput struct {
	SessionID     vo.SessionID
	Path          []*entity.RelayDescriptor
	Destination   vo.Endpoint
	Request       []byte
	ReturnAddress string
	// Budgets are aligned with Path; see HopBudgets. Optional.
	Budgets []time.Duration
}

type BuildOnionOutput struct {
	Envelope []byte
	Entry    vo.Endpoint
	// Keys are aligned with the path.
	Keys []vo.AESKey
}

// PeeledLayer is what one relay learns from its own layer.
type PeeledLayer struct {
	Kind          vo.LayerKind
	SessionID     vo.SessionID
	NextHop       vo.Endpoint
	ReturnAddress string
	// Inner is the encoded next envelope for Forward and the encoded
	// destination request for Terminal.
	Inner []byte
	Key   vo.AESKey
	// Budget is how long this hop may wait downstream, 0 when unset.
	Budget time.Duration
}

// HopBudgets returns the per-hop budgets for an n-hop path, hop 1 first.
// The exit gets base and each earlier hop margin more than the next one, so
// a hop never gives up before its successor has answered.
func HopBudgets(n int, base, margin time.Duration) []time.Duration {
	if n <= 0 || base <= 0 {
		return nil
	}
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = base + time.Duration(n-1-i)*margin
	}
	return out
}

type onionCodecServiceImpl struct {
	crypto CryptoService
	wire   WireEncodingService
}

func NewOnionCodecService(crypto CryptoService, wire WireEncodingService) OnionCodecService {
	return &onionCodecServiceImpl{crypto: crypto, wire: wire}
}

func (s *onionCodecServiceImpl) BuildOnion(in BuildOnionInput) (*BuildOnionOutput, error) {
	n := len(in.Path)
	if n == 0 {
		return nil, fmt.Errorf("build onion: %w: empty path", repository.ErrInvalidInput)
	}
	if in.SessionID.IsZero() {
		return nil, fmt.Errorf("build onion: %w: zero session id", repository.ErrInvalidInput)
	}
	if len(in.Budgets) != 0 && len(in.Budgets) != n {
		return nil, fmt.Errorf("build onion: %w: %d budgets for %d hops", repository.ErrInvalidInput, len(in.Budgets), n)
	}
	keys := make([]vo.AESKey, n)
	wipe := func() {
		for i := range keys {
			keys[i].Wipe()
		}
	}

	// 内側から外側へ
	var inner []byte
	for i := n - 1; i >= 0; i-- {
		hop := in.Path[i]
		if hop == nil {
			wipe()
			return nil, fmt.Errorf("build onion: %w: hop %d is nil", repository.ErrInvalidInput, i)
		}
		layer := &LayerDTO{SessionID: in.SessionID.Bytes()}
		if i == n-1 {
			layer.Kind = uint8(vo.LayerTerminal)
			if !in.Destination.IsZero() {
				layer.NextHop = in.Destination.String()
			}
			layer.Body = in.Request
		} else {
			layer.Kind = uint8(vo.LayerForward)
			layer.NextHop = in.Path[i+1].Address().String()
			layer.Body = inner
		}
		if i == 0 {
			layer.ReturnAddress = in.ReturnAddress
		}
		if len(in.Budgets) != 0 {
			layer.BudgetMillis = uint32(min(in.Budgets[i].Milliseconds(), math.MaxUint32))
		}

		key, err := s.crypto.NewAESKey()
		if err != nil {
			wipe()
			return nil, err
		}
		keys[i] = key
		env, err := s.seal(hop.PubKey(), key, layer)
		if err != nil {
			wipe()
			return nil, fmt.Errorf("build onion: hop %d (%s): %w", i+1, hop.Address(), err)
		}
		inner = env
	}
	return &BuildOnionOutput{Envelope: inner, Entry: in.Path[0].Address(), Keys: keys}, nil
}

func (s *onionCodecServiceImpl) seal(pub vo.RSAPubKey, key vo.AESKey, layer *LayerDTO) ([]byte, error) {
	plain, err := s.wire.EncodeLayer(layer)
	if err != nil {
		return nil, err
	}
	payload, err := s.crypto.AESSeal(key, plain)
	if err != nil {
		return nil, err
	}
	ek, err := s.crypto.RSAEncrypt(pub, key[:])
	if err != nil {
		return nil, err
	}
	return s.wire.EncodeEnvelope(&EnvelopeDTO{
		Version:      uint8(vo.ProtocolV1),
		EncryptedKey: ek,
		Payload:      payload,
	})
}

func (s *onionCodecServiceImpl) PeelOneLayer(envelope []byte, priv *vo.RSAPrivKey) (*PeeledLayer, error) {
	env, err := s.wire.DecodeEnvelope(envelope)
	if err != nil {
		return nil, err
	}
	if v := vo.ProtocolVersion(env.Version); !v.IsSupported() {
		return nil, protocolErr("peel", fmt.Errorf("unsupported envelope version %s", v))
	}
	if len(env.EncryptedKey) == 0 || len(env.Payload) == 0 {
		return nil, protocolErr("peel", errors.New("envelope missing key or payload"))
	}

	rawKey, err := s.crypto.RSADecrypt(priv, env.EncryptedKey)
	if err != nil {
		return nil, err
	}
	key, err := vo.AESKeyFrom(rawKey)
	clear(rawKey)
	if err != nil {
		return nil, cryptoErr("peel", err)
	}
	plain, err := s.crypto.AESOpen(key, env.Payload)
	if err != nil {
		return nil, err
	}
	layer, err := s.wire.DecodeLayer(plain)
	if err != nil {
		return nil, err
	}

	out := &PeeledLayer{
		Kind:          vo.LayerKind(layer.Kind),
		ReturnAddress: layer.ReturnAddress,
		Inner:         layer.Body,
		Key:           key,
		Budget:        time.Duration(layer.BudgetMillis) * time.Millisecond,
	}
	if !out.Kind.IsValid() {
		return nil, protocolErr("peel", fmt.Errorf("unknown layer kind %s", out.Kind))
	}
	if out.SessionID, err = vo.SessionIDFromBytes(layer.SessionID); err != nil {
		return nil, protocolErr("peel", fmt.Errorf("session id: %w", err))
	}
	if layer.NextHop != "" {
		if out.NextHop, err = vo.ParseEndpoint(layer.NextHop); err != nil {
			return nil, protocolErr("peel", err)
		}
	}
	if out.ReturnAddress != "" {
		if _, err := vo.ParseEndpoint(out.ReturnAddress); err != nil {
			return nil, protocolErr("peel", fmt.Errorf("return address: %w", err))
		}
	}
	if out.Kind == vo.LayerForward && (out.NextHop.IsZero() || len(out.Inner) == 0) {
		return nil, protocolErr("peel", errors.New("forward layer without next hop or inner envelope"))
	}
	return out, nil
}

func (s *onionCodecServiceImpl) WrapResponse(kind vo.ReturnKind, body []byte, key vo.AESKey) ([]byte, error) {
	if !kind.IsValid() {
		return nil, protocolErr("wrap", fmt.Errorf("invalid return kind %s", kind))
	}
	plain, err := s.wire.EncodeReturnLayer(&ReturnLayerDTO{Kind: uint8(kind), Body: body})
	if err != nil {
		return nil, err
	}
	return s.crypto.AESSeal(key, plain)
}

func (s *onionCodecServiceImpl) WrapReply(reply *ReplyDTO, key vo.AESKey) ([]byte, error) {
	b, err := s.wire.EncodeReply(reply)
	if err != nil {
		return nil, err
	}
	return s.WrapResponse(vo.ReturnFinal, b, key)
}

func (s *onionCodecServiceImpl) UnwrapResponse(blob []byte, keys []vo.AESKey) (*ReplyDTO, int, error) {
	for i, key := range keys {
		plain, err := s.crypto.AESOpen(key, blob)
		if err != nil {
			return nil, i, fmt.Errorf("unwrap hop %d: %w", i+1, err)
		}
		rl, err := s.wire.DecodeReturnLayer(plain)
		if err != nil {
			return nil, i, fmt.Errorf("unwrap hop %d: %w", i+1, err)
		}
		switch vo.ReturnKind(rl.Kind) {
		case vo.ReturnFinal:
			reply, err := s.wire.DecodeReply(rl.Body)
			if err != nil {
				return nil, i + 1, fmt.Errorf("unwrap hop %d: %w", i+1, err)
			}
			return reply, i + 1, nil
		case vo.ReturnRelayed:
			blob = rl.Body
		default:
			return nil, i, protocolErr(fmt.Sprintf("unwrap hop %d", i+1), fmt.Errorf("unknown return kind %d", rl.Kind))
		}
	}
	return nil, len(keys), protocolErr("unwrap", errors.New("response relayed past the last hop"))
}
