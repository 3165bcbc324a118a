package service

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"ikedadada/go-onion/shared/domain/repository"
	vo "ikedadada/go-onion/shared/domain/value_object"
)

// MaxFrameSize bounds one frame on the wire.
const MaxFrameSize = 16 << 20

// FrameService は hop 間の TCP フレーム入出力を担当するサービス。
// A frame is a 4-byte big-endian length followed by an encoded FrameDTO.
type FrameService interface {
	WriteFrame(w io.Writer, t vo.FrameType, body []byte) error
	ReadFrame(r io.Reader) (vo.FrameType, []byte, error)
	// Exchange dials addr, writes one frame and reads one reply frame. The
	// whole exchange is bounded by timeout when it is positive.
	Exchange(ctx context.Context, addr string, t vo.FrameType, body []byte, timeout time.Duration) (vo.FrameType, []byte, error)
}

type frameServiceImpl struct {
	wire WireEncodingService
}

// NewFrameService creates a FrameService encoding frames with wire.
func NewFrameService(wire WireEncodingService) FrameService {
	return &frameServiceImpl{wire: wire}
}

func transportErr(op string, err error) error {
	return repository.NewFailure(repository.KindTransport, op, err)
}

func protocolErr(op string, err error) error {
	return repository.NewFailure(repository.KindProtocol, op, err)
}

func (s *frameServiceImpl) WriteFrame(w io.Writer, t vo.FrameType, body []byte) error {
	if !t.IsValid() {
		return protocolErr("write frame", fmt.Errorf("invalid frame type %s", t))
	}
	enc, err := s.wire.EncodeFrame(&FrameDTO{Version: uint8(vo.ProtocolV1), Type: uint8(t), Body: body})
	if err != nil {
		return err
	}
	if len(enc) > MaxFrameSize {
		return protocolErr("write frame", fmt.Errorf("frame too large (%d bytes)", len(enc)))
	}
	buf := make([]byte, 4+len(enc))
	binary.BigEndian.PutUint32(buf, uint32(len(enc)))
	copy(buf[4:], enc)
	if _, err := w.Write(buf); err != nil {
		return transportErr("write frame", err)
	}
	return nil
}

func (s *frameServiceImpl) ReadFrame(r io.Reader) (vo.FrameType, []byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("%w: %w", repository.ErrConnectionClosed, err)
		}
		return 0, nil, transportErr("read frame", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 || n > MaxFrameSize {
		return 0, nil, protocolErr("read frame", fmt.Errorf("bad frame length %d", n))
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, nil, transportErr("read frame", err)
	}
	f, err := s.wire.DecodeFrame(buf)
	if err != nil {
		return 0, nil, err
	}
	if v := vo.ProtocolVersion(f.Version); !v.IsSupported() {
		return 0, nil, protocolErr("read frame", fmt.Errorf("unsupported version %s", v))
	}
	t := vo.FrameType(f.Type)
	if !t.IsValid() {
		return 0, nil, protocolErr("read frame", fmt.Errorf("unknown frame type %s", t))
	}
	return t, f.Body, nil
}

func (s *frameServiceImpl) Exchange(ctx context.Context, addr string, t vo.FrameType, body []byte, timeout time.Duration) (vo.FrameType, []byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, nil, transportErr("dial "+addr, err)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	// a cancelled context unblocks the read
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := s.WriteFrame(conn, t, body); err != nil {
		return 0, nil, annotateTimeout(err, addr)
	}
	rt, rb, err := s.ReadFrame(conn)
	if err != nil {
		return 0, nil, annotateTimeout(err, addr)
	}
	return rt, rb, nil
}

func annotateTimeout(err error, addr string) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return transportErr("exchange with "+addr, fmt.Errorf("timed out: %w", err))
	}
	return err
}
