package transport

import (
	"context"
	"fmt"
	"time"

	"ikedadada/go-onion/shared/domain/repository"
	vo "ikedadada/go-onion/shared/domain/value_object"
	"ikedadada/go-onion/shared/service"
)

// AsyncTransport hands the envelope to the entry relay, which acknowledges
// at once and later delivers the response to the terminus at returnAddr.
type AsyncTransport struct {
	frames     service.FrameService
	wire       service.WireEncodingService
	pending    repository.PendingRepository
	returnAddr string
	hopTimeout time.Duration
	idle       time.Duration
}

func NewAsyncTransport(
	frames service.FrameService,
	wire service.WireEncodingService,
	pending repository.PendingRepository,
	returnAddr string,
	hopTimeout, idle time.Duration,
) *AsyncTransport {
	return &AsyncTransport{
		frames:     frames,
		wire:       wire,
		pending:    pending,
		returnAddr: returnAddr,
		hopTimeout: hopTimeout,
		idle:       idle,
	}
}

func (t *AsyncTransport) ReturnAddress() string { return t.returnAddr }

type delivery struct {
	blob []byte
	err  error
}

func (t *AsyncTransport) RoundTrip(ctx context.Context, id vo.SessionID, entry vo.Endpoint, envelope []byte, wait time.Duration) ([]byte, error) {
	// 応答が Accepted より先に届くことがあるので先に登録する
	ch := make(chan delivery, 1)
	if err := t.pending.Register(id, max(t.idle, wait), func(blob []byte, err error) {
		ch <- delivery{blob: blob, err: err}
	}); err != nil {
		return nil, fmt.Errorf("await %s: %w", id, err)
	}

	ft, body, err := t.frames.Exchange(ctx, entry.String(), vo.FrameEnvelope, envelope, t.hopTimeout)
	if err != nil {
		t.pending.Cancel(id)
		return nil, err
	}
	switch ft {
	case vo.FrameAccepted:
	case vo.FrameError:
		t.pending.Cancel(id)
		return nil, errorFrame(t.wire, body)
	default:
		t.pending.Cancel(id)
		return nil, unexpected(entry, ft)
	}

	select {
	case d := <-ch:
		return d.blob, d.err
	case <-ctx.Done():
		t.pending.Cancel(id)
		return nil, repository.NewFailure(repository.KindTransport, "await "+id.String(), ctx.Err())
	}
}
