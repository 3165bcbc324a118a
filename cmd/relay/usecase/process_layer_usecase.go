package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gopkg.in/op/go-logging.v1"

	"ikedadada/go-onion/cmd/relay/infrastructure/destination"
	"ikedadada/go-onion/shared/domain/repository"
	vo "ikedadada/go-onion/shared/domain/value_object"
	"ikedadada/go-onion/shared/service"
)

// ProcessLayerUseCase forwards a peeled layer to the next hop or, at the
// exit, calls the destination. It always yields a blob wrapped under the
// layer key: failures travel back as a wrapped error reply.
type ProcessLayerUseCase interface {
	Handle(ctx context.Context, layer *service.PeeledLayer) ([]byte, error)
}

type processLayerUseCaseImpl struct {
	codec      service.OnionCodecService
	wire       service.WireEncodingService
	frames     service.FrameService
	fetcher    destination.HTTPFetcher
	dialer     destination.StreamDialer
	hopTimeout time.Duration
	maxBudget  time.Duration
	log        *logging.Logger
}

func NewProcessLayerUseCase(
	codec service.OnionCodecService,
	wire service.WireEncodingService,
	frames service.FrameService,
	fetcher destination.HTTPFetcher,
	dialer destination.StreamDialer,
	hopTimeout time.Duration,
	maxBudget time.Duration,
	log *logging.Logger,
) ProcessLayerUseCase {
	return &processLayerUseCaseImpl{
		codec:      codec,
		wire:       wire,
		frames:     frames,
		fetcher:    fetcher,
		dialer:     dialer,
		hopTimeout: hopTimeout,
		maxBudget:  maxBudget,
		log:        log,
	}
}

func (uc *processLayerUseCaseImpl) Handle(ctx context.Context, layer *service.PeeledLayer) ([]byte, error) {
	switch layer.Kind {
	case vo.LayerForward:
		return uc.forward(ctx, layer)
	case vo.LayerTerminal:
		return uc.exit(ctx, layer)
	default:
		err := repository.NewFailure(repository.KindProtocol, "process", fmt.Errorf("unknown layer kind %s", layer.Kind))
		return uc.fail(layer, err)
	}
}

func (uc *processLayerUseCaseImpl) fail(layer *service.PeeledLayer, err error) ([]byte, error) {
	uc.log.Warningf("sid=%s: %v", layer.SessionID, err)
	return uc.codec.WrapReply(service.ErrorReply(err), layer.Key)
}

// budget is how long this hop waits downstream. The client sets it per layer
// so that hops nearer the exit give up first.
func (uc *processLayerUseCaseImpl) budget(layer *service.PeeledLayer) time.Duration {
	if layer.Budget <= 0 {
		return uc.hopTimeout
	}
	if uc.maxBudget > 0 && layer.Budget > uc.maxBudget {
		return uc.maxBudget
	}
	return layer.Budget
}

func (uc *processLayerUseCaseImpl) forward(ctx context.Context, layer *service.PeeledLayer) ([]byte, error) {
	next := layer.NextHop.String()
	ft, body, err := uc.frames.Exchange(ctx, next, vo.FrameEnvelope, layer.Inner, uc.budget(layer))
	if err != nil {
		if repository.KindOf(err) == repository.KindNone {
			err = repository.NewFailure(repository.KindTransport, "forward to "+next, err)
		}
		return uc.fail(layer, err)
	}

	switch ft {
	case vo.FrameResponse:
		uc.log.Debugf("sid=%s: relayed %d bytes from %s", layer.SessionID, len(body), next)
		return uc.codec.WrapResponse(vo.ReturnRelayed, body, layer.Key)
	case vo.FrameError:
		// 下流に鍵がなかった: 平文の Reply をそのまま自分の鍵で包む
		reply, err := uc.wire.DecodeReply(body)
		if err != nil {
			return uc.fail(layer, err)
		}
		if reply.Status == service.ReplyOK {
			return uc.fail(layer, repository.NewFailure(repository.KindProtocol, "forward to "+next, errors.New("error frame with OK status")))
		}
		uc.log.Noticef("sid=%s: %s answered %v", layer.SessionID, next, service.ReplyErr(reply))
		return uc.codec.WrapReply(reply, layer.Key)
	default:
		return uc.fail(layer, repository.NewFailure(repository.KindProtocol, "forward to "+next, fmt.Errorf("unexpected %s frame", ft)))
	}
}

func (uc *processLayerUseCaseImpl) exit(ctx context.Context, layer *service.PeeledLayer) ([]byte, error) {
	req, err := uc.wire.DecodeDestinationRequest(layer.Inner)
	if err != nil {
		return uc.fail(layer, err)
	}

	ctx, cancel := context.WithTimeout(ctx, uc.budget(layer))
	defer cancel()

	var reply *service.ReplyDTO
	switch {
	case req.URL != "":
		method, rewritten := destination.NormalizeMethod(req.Method)
		if rewritten {
			uc.log.Warningf("sid=%s: method %q not supported, using %s", layer.SessionID, req.Method, method)
		}
		headers, body, err := uc.fetcher.Fetch(ctx, method, req.URL, req.Body)
		if err != nil {
			return uc.fail(layer, repository.NewFailure(repository.KindDestination, "fetch", err))
		}
		reply = service.OKReply(headers, body)
	case !layer.NextHop.IsZero():
		body, err := uc.dialer.Exchange(ctx, layer.NextHop.String(), req.Body)
		if err != nil {
			return uc.fail(layer, repository.NewFailure(repository.KindDestination, "destination", err))
		}
		reply = service.OKReply(nil, body)
	default:
		return uc.fail(layer, repository.NewFailure(repository.KindProtocol, "exit", errors.New("terminal layer names neither a URL nor a destination")))
	}
	uc.log.Debugf("sid=%s: destination answered %d bytes", layer.SessionID, len(reply.Body))
	return uc.codec.WrapReply(reply, layer.Key)
}
