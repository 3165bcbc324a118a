package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"ikedadada/go-onion/cmd/relay/usecase"
	"ikedadada/go-onion/shared/domain/repository"
	vo "ikedadada/go-onion/shared/domain/value_object"
	"ikedadada/go-onion/shared/service"
)

// RelayHandler serves one request frame per inbound connection.
type RelayHandler struct {
	frames  service.FrameService
	wire    service.WireEncodingService
	peel    usecase.PeelEnvelopeUseCase
	process usecase.ProcessLayerUseCase
	deliver usecase.DeliverResponseUseCase
	timeout time.Duration
	log     *logging.Logger

	// ctx is cancelled on Cancel; it bounds forwards and deliveries.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRelayHandler(
	frames service.FrameService,
	wire service.WireEncodingService,
	peel usecase.PeelEnvelopeUseCase,
	process usecase.ProcessLayerUseCase,
	deliver usecase.DeliverResponseUseCase,
	timeout time.Duration,
	log *logging.Logger,
) *RelayHandler {
	ctx, cancel := context.WithCancel(context.Background())
	return &RelayHandler{
		frames:  frames,
		wire:    wire,
		peel:    peel,
		process: process,
		deliver: deliver,
		timeout: timeout,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ServeConn handles a relay connection
func (h *RelayHandler) ServeConn(c net.Conn) {
	defer c.Close()
	h.log.Debugf("connection from %s", c.RemoteAddr())

	if h.timeout > 0 {
		_ = c.SetReadDeadline(time.Now().Add(h.timeout))
	}
	ft, body, err := h.frames.ReadFrame(c)
	if err != nil {
		if !errors.Is(err, repository.ErrConnectionClosed) && !errors.Is(err, io.EOF) {
			h.log.Warningf("read from %s: %v", c.RemoteAddr(), err)
		}
		if repository.IsProtocol(err) {
			h.replyError(c, err)
		}
		return
	}
	_ = c.SetReadDeadline(time.Time{})

	switch ft {
	case vo.FramePing:
		h.write(c, vo.FramePong, nil)
	case vo.FrameEnvelope:
		h.handleEnvelope(c, body)
	default:
		h.replyError(c, repository.NewFailure(repository.KindProtocol, "serve", fmt.Errorf("unexpected %s frame", ft)))
	}
}

func (h *RelayHandler) handleEnvelope(c net.Conn, envelope []byte) {
	out, err := h.peel.Handle(usecase.PeelEnvelopeInput{Envelope: envelope, Caller: c.RemoteAddr().String()})
	if err != nil {
		// 鍵がないので平文のエラーを返す
		h.log.Warningf("peel from %s: %v", c.RemoteAddr(), err)
		h.replyError(c, err)
		return
	}
	layer := out.Layer

	if !out.Async {
		blob, err := h.process.Handle(h.ctx, layer)
		layer.Key.Wipe()
		if err != nil {
			h.log.Errorf("sid=%s: wrap response: %v", layer.SessionID, err)
			h.replyError(c, err)
			return
		}
		h.write(c, vo.FrameResponse, blob)
		return
	}

	h.write(c, vo.FrameAccepted, nil)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer layer.Key.Wipe()
		blob, err := h.process.Handle(h.ctx, layer)
		if err != nil {
			h.log.Errorf("sid=%s: wrap response: %v", layer.SessionID, err)
			return
		}
		if err := h.deliver.Handle(h.ctx, usecase.DeliverResponseInput{SessionID: layer.SessionID, Blob: blob}); err != nil {
			h.log.Warningf("sid=%s: %v", layer.SessionID, err)
		}
	}()
}

func (h *RelayHandler) replyError(c net.Conn, err error) {
	b, encErr := h.wire.EncodeReply(service.ErrorReply(err))
	if encErr != nil {
		h.log.Errorf("encode error reply: %v", encErr)
		return
	}
	h.write(c, vo.FrameError, b)
}

func (h *RelayHandler) write(c net.Conn, t vo.FrameType, body []byte) {
	if h.timeout > 0 {
		_ = c.SetWriteDeadline(time.Now().Add(h.timeout))
	}
	if err := h.frames.WriteFrame(c, t, body); err != nil {
		h.log.Warningf("write %s to %s: %v", t, c.RemoteAddr(), err)
	}
}

// Cancel aborts in-flight forwards and background deliveries.
func (h *RelayHandler) Cancel() { h.cancel() }

// Wait waits for background deliveries. Call it once no connection is
// being served.
func (h *RelayHandler) Wait() { h.wg.Wait() }
