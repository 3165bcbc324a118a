// Package app wires the circuit client. In the async style it also runs the
// terminus listener that entry relays deliver responses to.
package app

import (
	"context"
	"errors"
	"net"
	"sync"

	"gopkg.in/op/go-logging.v1"

	"ikedadada/go-onion/cmd/client/handler"
	infraRepo "ikedadada/go-onion/cmd/client/infrastructure/repository"
	"ikedadada/go-onion/cmd/client/infrastructure/transport"
	"ikedadada/go-onion/cmd/client/usecase"
	"ikedadada/go-onion/shared/config"
	"ikedadada/go-onion/shared/domain/entity"
	"ikedadada/go-onion/shared/domain/repository"
	vo "ikedadada/go-onion/shared/domain/value_object"
	infraHTTP "ikedadada/go-onion/shared/infrastructure/http"
	"ikedadada/go-onion/shared/infrastructure/log"
	"ikedadada/go-onion/shared/service"
)

// Client is a circuit client instance.
type Client struct {
	sync.WaitGroup

	cfg   *config.Config
	log   *logging.Logger
	style vo.RoutingStyle

	circuits repository.CircuitRepository
	pending  repository.PendingRepository

	build    usecase.BuildCircuitUseCase
	send     usecase.SendRequestUseCase
	teardown usecase.TeardownCircuitUseCase
	fetch    usecase.FetchUseCase

	terminus net.Listener

	haltCh   chan struct{}
	haltedCh chan struct{}
	haltOnce sync.Once
}

// New creates a client. The async style starts the terminus listener.
func New(cfg *config.Config, backend *log.Backend) (*Client, error) {
	c := &Client{
		cfg:      cfg,
		log:      backend.GetLogger("client"),
		style:    cfg.Client.RoutingStyle(),
		circuits: infraRepo.NewCircuitRepository(),
		pending:  infraRepo.NewPendingRepository(),
		haltCh:   make(chan struct{}),
		haltedCh: make(chan struct{}),
	}
	wire := service.NewWireEncodingService()
	frames := service.NewFrameService(wire)
	codec := service.NewOnionCodecService(service.NewCryptoService(), wire)
	directory := service.NewDirectoryClientService(cfg.Directory.URL, infraHTTP.NewHTTPClient(cfg.Timeouts.DirectoryCall))

	var rt usecase.RoundTripper
	switch c.style {
	case vo.StyleAsync:
		l, err := net.Listen("tcp", cfg.Client.TerminusAddress)
		if err != nil {
			c.log.Errorf("Failed to start terminus '%v': %v", cfg.Client.TerminusAddress, err)
			return nil, err
		}
		c.terminus = l
		rt = transport.NewAsyncTransport(frames, wire, c.pending, l.Addr().String(), cfg.Timeouts.Hop, cfg.Timeouts.ClientWait)

		h := handler.NewTerminusHandler(frames, wire, c.pending, cfg.Timeouts.Hop, backend.GetLogger("terminus"))
		c.Add(1)
		go c.terminusWorker(h)
	default:
		rt = transport.NewSyncTransport(frames, wire, cfg.Timeouts.ClientWait)
	}

	c.build = usecase.NewBuildCircuitUseCase(directory, c.circuits, cfg.Client.PathLength, c.log)
	c.send = usecase.NewSendRequestUseCase(codec, wire, rt, cfg.Timeouts.Hop, cfg.Timeouts.HopMargin, c.log)
	c.teardown = usecase.NewTeardownCircuitUseCase(c.circuits, c.log)
	c.fetch = usecase.NewFetchUseCase(c.build, c.send, c.teardown, c.log)
	c.log.Noticef("Client ready (%s style, %d hops)", c.style, cfg.Client.PathLength)
	return c, nil
}

func (c *Client) terminusWorker(h *handler.TerminusHandler) {
	defer c.Done()
	c.log.Noticef("Terminus listening on: %v", c.terminus.Addr())
	for {
		conn, err := c.terminus.Accept()
		if err != nil {
			select {
			case <-c.haltCh:
			default:
				c.log.Errorf("Critical terminus accept failure: %v", err)
			}
			return
		}
		c.Add(1)
		go func() {
			defer c.Done()
			h.ServeConn(conn)
		}()
	}
}

// Style is the configured routing style.
func (c *Client) Style() vo.RoutingStyle { return c.style }

// TerminusAddr is the return address, empty in the sync style.
func (c *Client) TerminusAddr() string {
	if c.terminus == nil {
		return ""
	}
	return c.terminus.Addr().String()
}

// DestinationAddress is the configured default stream destination.
func (c *Client) DestinationAddress() string { return c.cfg.Destination.Address }

// BuildCircuit opens a circuit of hops relays; 0 uses the configured length.
func (c *Client) BuildCircuit(ctx context.Context, hops int) (*entity.Circuit, error) {
	out, err := c.build.Handle(ctx, usecase.BuildCircuitInput{Hops: hops})
	if err != nil {
		return nil, err
	}
	return out.Circuit, nil
}

// SendRequest sends body to a raw stream destination over an open circuit.
func (c *Client) SendRequest(ctx context.Context, cir *entity.Circuit, dest vo.Endpoint, body []byte) (usecase.SendRequestOutput, error) {
	return c.send.Handle(ctx, usecase.SendRequestInput{Circuit: cir, Destination: dest, Body: body})
}

// FetchOver performs an HTTP request at the exit of an open circuit.
func (c *Client) FetchOver(ctx context.Context, cir *entity.Circuit, url, method string, body []byte) (usecase.SendRequestOutput, error) {
	return c.send.Handle(ctx, usecase.SendRequestInput{Circuit: cir, URL: url, Method: method, Body: body})
}

// Fetch performs an HTTP request over a fresh circuit.
func (c *Client) Fetch(ctx context.Context, url, method string, body []byte) (usecase.SendRequestOutput, error) {
	return c.fetch.Handle(ctx, usecase.FetchInput{URL: url, Method: method, Body: body})
}

// Echo sends body to a raw stream destination over a fresh circuit.
func (c *Client) Echo(ctx context.Context, dest vo.Endpoint, body []byte) (usecase.SendRequestOutput, error) {
	return c.fetch.Handle(ctx, usecase.FetchInput{Destination: dest, Body: body})
}

// Teardown wipes the circuit's keys and forgets it.
func (c *Client) Teardown(cir *entity.Circuit) error {
	return c.teardown.Handle(usecase.TeardownCircuitInput{CircuitID: cir.ID()})
}

// Wait waits till the client is shut down.
func (c *Client) Wait() {
	<-c.haltedCh
}

// Shutdown tears down every open circuit and stops the terminus.
func (c *Client) Shutdown() {
	c.haltOnce.Do(func() { c.halt() })
}

func (c *Client) halt() {
	close(c.haltCh)
	if c.terminus != nil {
		c.terminus.Close()
	}
	c.WaitGroup.Wait()

	active, _ := c.circuits.ListActive()
	for _, cir := range active {
		if err := c.Teardown(cir); err != nil && !errors.Is(err, repository.ErrNotFound) {
			c.log.Warningf("%v", err)
		}
	}
	c.log.Debug("Client stopped.")
	close(c.haltedCh)
}
