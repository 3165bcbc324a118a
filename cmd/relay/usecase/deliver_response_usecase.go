package usecase

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/op/go-logging.v1"

	"ikedadada/go-onion/shared/domain/repository"
	vo "ikedadada/go-onion/shared/domain/value_object"
	"ikedadada/go-onion/shared/service"
)

type DeliverResponseInput struct {
	SessionID vo.SessionID
	Blob      []byte
}

// DeliverResponseUseCase sends an asynchronously routed response to the
// return address recorded for its session.
type DeliverResponseUseCase interface {
	Handle(ctx context.Context, in DeliverResponseInput) error
}

type deliverResponseUseCaseImpl struct {
	sessions repository.SessionRepository
	wire     service.WireEncodingService
	frames   service.FrameService
	timeout  time.Duration
	log      *logging.Logger
}

func NewDeliverResponseUseCase(sessions repository.SessionRepository, wire service.WireEncodingService, frames service.FrameService, timeout time.Duration, log *logging.Logger) DeliverResponseUseCase {
	return &deliverResponseUseCaseImpl{sessions: sessions, wire: wire, frames: frames, timeout: timeout, log: log}
}

func (uc *deliverResponseUseCaseImpl) Handle(ctx context.Context, in DeliverResponseInput) error {
	st, err := uc.sessions.Find(in.SessionID)
	if err != nil {
		return fmt.Errorf("deliver sid=%s: %w", in.SessionID, err)
	}
	body, err := uc.wire.EncodeDelivery(&service.DeliveryDTO{SessionID: in.SessionID.Bytes(), Blob: in.Blob})
	if err != nil {
		return err
	}
	ft, _, err := uc.frames.Exchange(ctx, st.ReturnAddress, vo.FrameDeliver, body, uc.timeout)
	if err != nil {
		return fmt.Errorf("deliver sid=%s: %w", in.SessionID, err)
	}
	if ft != vo.FrameAccepted {
		return repository.NewFailure(repository.KindProtocol, "deliver to "+st.ReturnAddress, fmt.Errorf("unexpected %s frame", ft))
	}
	uc.log.Debugf("delivered sid=%s to %s", in.SessionID, st.ReturnAddress)
	return nil
}
