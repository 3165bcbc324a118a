package prober

import (
	"context"
	"fmt"
	"time"

	"ikedadada/go-onion/shared/domain/repository"
	vo "ikedadada/go-onion/shared/domain/value_object"
	"ikedadada/go-onion/shared/service"
)

// TCPProber checks a relay by sending a PING frame and waiting for PONG.
type TCPProber struct {
	frames  service.FrameService
	timeout time.Duration
}

func NewTCPProber(frames service.FrameService, timeout time.Duration) *TCPProber {
	return &TCPProber{frames: frames, timeout: timeout}
}

func (p *TCPProber) Probe(ctx context.Context, addr vo.Endpoint) error {
	ft, _, err := p.frames.Exchange(ctx, addr.String(), vo.FramePing, nil, p.timeout)
	if err != nil {
		return err
	}
	if ft != vo.FramePong {
		return repository.NewFailure(repository.KindProtocol, "probe "+addr.String(), fmt.Errorf("expected PONG, got %s", ft))
	}
	return nil
}
