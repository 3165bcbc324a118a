// Package server wires the directory service and owns its lifecycle.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"ikedadada/go-onion/cmd/directory/handler"
	"ikedadada/go-onion/cmd/directory/infrastructure/prober"
	infraRepo "ikedadada/go-onion/cmd/directory/infrastructure/repository"
	"ikedadada/go-onion/cmd/directory/usecase"
	"ikedadada/go-onion/shared/config"
	"ikedadada/go-onion/shared/domain/repository"
	"ikedadada/go-onion/shared/infrastructure/log"
	"ikedadada/go-onion/shared/service"
)

const shutdownGrace = 5 * time.Second

// Server is a running directory service instance.
type Server struct {
	sync.WaitGroup

	cfg  *config.Config
	log  *logging.Logger
	repo repository.RelayRepository

	liveness usecase.LivenessUseCase
	listener net.Listener
	httpSrv  *http.Server

	haltCh   chan struct{}
	haltedCh chan struct{}
	haltOnce sync.Once
}

// New starts the directory API and the liveness worker.
func New(cfg *config.Config, backend *log.Backend) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		log:      backend.GetLogger("directory"),
		repo:     infraRepo.NewRelayRepository(),
		haltCh:   make(chan struct{}),
		haltedCh: make(chan struct{}),
	}

	frames := service.NewFrameService(service.NewWireEncodingService())
	s.liveness = usecase.NewLivenessUseCase(
		s.repo,
		prober.NewTCPProber(frames, cfg.Timeouts.Ping),
		cfg.Directory.PingConcurrency,
		backend.GetLogger("liveness"),
	)
	h := handler.NewDirectoryHandler(
		usecase.NewRegisterRelayUseCase(s.repo, s.log),
		usecase.NewDeregisterRelayUseCase(s.repo, s.log),
		usecase.NewSelectRelaysUseCase(s.repo, s.log),
		usecase.NewListRelaysUseCase(s.repo),
		s.log,
	)

	l, err := net.Listen("tcp", cfg.Directory.Address)
	if err != nil {
		s.log.Errorf("Failed to start listener '%v': %v", cfg.Directory.Address, err)
		return nil, err
	}
	s.listener = l
	s.httpSrv = &http.Server{
		Handler:           h.Mux(),
		ReadHeaderTimeout: cfg.Timeouts.DirectoryCall,
	}

	s.Add(2)
	go s.serveWorker()
	go s.livenessWorker()
	return s, nil
}

// Addr is the bound listen address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Relays exposes the directory table.
func (s *Server) Relays() repository.RelayRepository { return s.repo }

func (s *Server) serveWorker() {
	defer s.Done()
	s.log.Noticef("Listening on: %v", s.listener.Addr())
	if err := s.httpSrv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Errorf("Critical serve failure: %v", err)
		go s.Shutdown()
	}
}

func (s *Server) livenessWorker() {
	defer s.Done()
	interval := s.cfg.Directory.PingInterval
	t := time.NewTicker(interval)
	defer t.Stop()
	s.log.Noticef("Liveness sweep every %v", interval)
	for {
		select {
		case <-s.haltCh:
			return
		case <-t.C:
		}
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-s.haltCh:
				cancel()
			case <-ctx.Done():
			}
		}()
		out := s.liveness.Sweep(ctx)
		cancel()
		s.log.Debugf("sweep probed %d, evicted %d", out.Probed, len(out.Evicted))
	}
}

// Wait waits till the server is terminated for any reason.
func (s *Server) Wait() {
	<-s.haltedCh
}

// Shutdown cleanly shuts down a given Server instance.
func (s *Server) Shutdown() {
	s.haltOnce.Do(func() { s.halt() })
}

func (s *Server) halt() {
	s.log.Notice("Starting graceful shutdown.")
	close(s.haltCh)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.log.Warningf("HTTP shutdown: %v", err)
	}
	s.WaitGroup.Wait()

	s.log.Notice("Shutdown complete.")
	close(s.haltedCh)
}
