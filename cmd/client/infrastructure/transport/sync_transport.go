// Package transport implements the two ways a response gets back to the
// client: on the request connection, or by the entry relay dialing the
// client's terminus.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ikedadada/go-onion/shared/domain/repository"
	vo "ikedadada/go-onion/shared/domain/value_object"
	"ikedadada/go-onion/shared/service"
)

// SyncTransport waits for the response on the request connection.
type SyncTransport struct {
	frames  service.FrameService
	wire    service.WireEncodingService
	timeout time.Duration
}

func NewSyncTransport(frames service.FrameService, wire service.WireEncodingService, timeout time.Duration) *SyncTransport {
	return &SyncTransport{frames: frames, wire: wire, timeout: timeout}
}

func (t *SyncTransport) ReturnAddress() string { return "" }

func (t *SyncTransport) RoundTrip(ctx context.Context, _ vo.SessionID, entry vo.Endpoint, envelope []byte, wait time.Duration) ([]byte, error) {
	ft, body, err := t.frames.Exchange(ctx, entry.String(), vo.FrameEnvelope, envelope, max(t.timeout, wait))
	if err != nil {
		return nil, err
	}
	switch ft {
	case vo.FrameResponse:
		return body, nil
	case vo.FrameError:
		return nil, errorFrame(t.wire, body)
	default:
		return nil, unexpected(entry, ft)
	}
}

// errorFrame turns a plaintext error reply from the entry relay into its
// classified error.
func errorFrame(wire service.WireEncodingService, body []byte) error {
	reply, err := wire.DecodeReply(body)
	if err != nil {
		return err
	}
	if err := service.ReplyErr(reply); err != nil {
		return err
	}
	return repository.NewFailure(repository.KindProtocol, "entry relay", errors.New("error frame with OK status"))
}

func unexpected(entry vo.Endpoint, ft vo.FrameType) error {
	return repository.NewFailure(repository.KindProtocol, "entry relay "+entry.String(), fmt.Errorf("unexpected %s frame", ft))
}
