package destination

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"
)

// StreamDialer sends raw bytes to a TCP destination and reads its reply.
type StreamDialer interface {
	Exchange(ctx context.Context, addr string, body []byte) ([]byte, error)
}

type streamDialerImpl struct {
	timeout time.Duration
}

func NewStreamDialer(timeout time.Duration) StreamDialer {
	return &streamDialerImpl{timeout: timeout}
}

// Exchange writes body, half-closes the write side and reads until EOF.
func (d *streamDialerImpl) Exchange(ctx context.Context, addr string, body []byte) ([]byte, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := conn.Write(body); err != nil {
		return nil, fmt.Errorf("write %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.CloseWrite(); err != nil {
			return nil, fmt.Errorf("half-close %s: %w", addr, err)
		}
	}
	b, err := io.ReadAll(io.LimitReader(conn, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", addr, err)
	}
	if len(b) > MaxResponseSize {
		return nil, ErrResponseTooLarge
	}
	return b, nil
}
