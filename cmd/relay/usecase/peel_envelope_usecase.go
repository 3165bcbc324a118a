package usecase

import (
	"fmt"

	"gopkg.in/op/go-logging.v1"

	"ikedadada/go-onion/shared/domain/entity"
	"ikedadada/go-onion/shared/domain/repository"
	vo "ikedadada/go-onion/shared/domain/value_object"
	"ikedadada/go-onion/shared/service"
)

// ---------- DTO ----------

type PeelEnvelopeInput struct {
	Envelope []byte
	// Caller is the remote address of the connection the envelope arrived on.
	Caller string
}

type PeelEnvelopeOutput struct {
	Layer *service.PeeledLayer
	// Async is set when the layer names its own return address, so the
	// response is delivered by dialing it.
	Async bool
}

// PeelEnvelopeUseCase removes this relay's layer and records the session's
// return state.
type PeelEnvelopeUseCase interface {
	Handle(in PeelEnvelopeInput) (*PeelEnvelopeOutput, error)
}

// ---------- 実装 ----------

type peelEnvelopeUseCaseImpl struct {
	priv     *vo.RSAPrivKey
	codec    service.OnionCodecService
	sessions repository.SessionRepository
	log      *logging.Logger
}

func NewPeelEnvelopeUseCase(priv *vo.RSAPrivKey, codec service.OnionCodecService, sessions repository.SessionRepository, log *logging.Logger) PeelEnvelopeUseCase {
	return &peelEnvelopeUseCaseImpl{priv: priv, codec: codec, sessions: sessions, log: log}
}

func (uc *peelEnvelopeUseCaseImpl) Handle(in PeelEnvelopeInput) (*PeelEnvelopeOutput, error) {
	layer, err := uc.codec.PeelOneLayer(in.Envelope, uc.priv)
	if err != nil {
		return nil, err
	}

	st := entity.NewSessionState(in.Caller, false, layer.Key)
	if layer.ReturnAddress != "" {
		st = entity.NewSessionState(layer.ReturnAddress, true, layer.Key)
	}
	if err := uc.sessions.Record(layer.SessionID, st); err != nil {
		layer.Key.Wipe()
		return nil, fmt.Errorf("record session %s: %w", layer.SessionID, err)
	}
	uc.log.Debugf("peeled %s layer sid=%s next=%s", layer.Kind, layer.SessionID, layer.NextHop)
	return &PeelEnvelopeOutput{Layer: layer, Async: layer.ReturnAddress != ""}, nil
}
