package handler

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"gopkg.in/op/go-logging.v1"

	"ikedadada/go-onion/shared/domain/repository"
	vo "ikedadada/go-onion/shared/domain/value_object"
	"ikedadada/go-onion/shared/service"
)

// TerminusHandler accepts asynchronously routed responses from entry relays.
type TerminusHandler struct {
	frames  service.FrameService
	wire    service.WireEncodingService
	pending repository.PendingRepository
	timeout time.Duration
	log     *logging.Logger
}

func NewTerminusHandler(frames service.FrameService, wire service.WireEncodingService, pending repository.PendingRepository, timeout time.Duration, log *logging.Logger) *TerminusHandler {
	return &TerminusHandler{frames: frames, wire: wire, pending: pending, timeout: timeout, log: log}
}

// ServeConn handles one delivery connection.
func (h *TerminusHandler) ServeConn(c net.Conn) {
	defer c.Close()
	if h.timeout > 0 {
		_ = c.SetDeadline(time.Now().Add(h.timeout))
	}

	ft, body, err := h.frames.ReadFrame(c)
	if err != nil {
		if !errors.Is(err, io.EOF) && !errors.Is(err, repository.ErrConnectionClosed) {
			h.log.Warningf("read from %s: %v", c.RemoteAddr(), err)
		}
		return
	}

	switch ft {
	case vo.FramePing:
		h.write(c, vo.FramePong, nil)
	case vo.FrameDeliver:
		if err := h.deliver(body); err != nil {
			h.log.Warningf("delivery from %s: %v", c.RemoteAddr(), err)
			h.replyError(c, err)
			return
		}
		h.write(c, vo.FrameAccepted, nil)
	default:
		h.replyError(c, repository.NewFailure(repository.KindProtocol, "terminus", fmt.Errorf("unexpected %s frame", ft)))
	}
}

func (h *TerminusHandler) deliver(body []byte) error {
	d, err := h.wire.DecodeDelivery(body)
	if err != nil {
		return err
	}
	sid, err := vo.SessionIDFromBytes(d.SessionID)
	if err != nil {
		return repository.NewFailure(repository.KindProtocol, "terminus", err)
	}
	if err := h.pending.Fulfill(sid, d.Blob); err != nil {
		// 期限切れか未知のセッション
		return repository.NewFailure(repository.KindProtocol, "terminus", fmt.Errorf("session %s: %w", sid, err))
	}
	h.log.Debugf("delivered sid=%s (%d bytes)", sid, len(d.Blob))
	return nil
}

func (h *TerminusHandler) replyError(c net.Conn, err error) {
	b, encErr := h.wire.EncodeReply(service.ErrorReply(err))
	if encErr != nil {
		return
	}
	h.write(c, vo.FrameError, b)
}

func (h *TerminusHandler) write(c net.Conn, t vo.FrameType, body []byte) {
	if err := h.frames.WriteFrame(c, t, body); err != nil {
		h.log.Warningf("write %s to %s: %v", t, c.RemoteAddr(), err)
	}
}
