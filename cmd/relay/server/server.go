// Package server wires a relay node and owns its lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"ikedadada/go-onion/cmd/relay/handler"
	"ikedadada/go-onion/cmd/relay/infrastructure/destination"
	infraRepo "ikedadada/go-onion/cmd/relay/infrastructure/repository"
	"ikedadada/go-onion/cmd/relay/usecase"
	"ikedadada/go-onion/shared/config"
	"ikedadada/go-onion/shared/domain/repository"
	vo "ikedadada/go-onion/shared/domain/value_object"
	infraHTTP "ikedadada/go-onion/shared/infrastructure/http"
	"ikedadada/go-onion/shared/infrastructure/log"
	keystore "ikedadada/go-onion/shared/infrastructure/repository"
	"ikedadada/go-onion/shared/infrastructure/retry"
	"ikedadada/go-onion/shared/service"
)

// Server is a running relay instance.
type Server struct {
	sync.WaitGroup

	cfg  *config.Config
	log  *logging.Logger
	priv *vo.RSAPrivKey
	addr vo.Endpoint

	sessions  repository.SessionRepository
	directory service.DirectoryClientService
	handler   *handler.RelayHandler
	listener  net.Listener

	haltCh   chan struct{}
	haltedCh chan struct{}
	haltOnce sync.Once
}

// New loads the relay key, listens, registers with the directory and starts
// serving. A registration that exhausts its retries is fatal.
func New(cfg *config.Config, backend *log.Backend) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		log:      backend.GetLogger("relay"),
		haltCh:   make(chan struct{}),
		haltedCh: make(chan struct{}),
	}
	crypto := service.NewCryptoService()

	var err error
	if s.priv, err = s.loadKey(crypto); err != nil {
		s.log.Errorf("Failed to load relay key: %v", err)
		return nil, err
	}
	s.log.Noticef("Relay identity %q fingerprint %s", cfg.Relay.Identity, s.priv.PublicKey().Fingerprint())

	l, err := net.Listen("tcp", cfg.Relay.Address)
	if err != nil {
		s.log.Errorf("Failed to start listener '%v': %v", cfg.Relay.Address, err)
		return nil, err
	}
	s.listener = l
	if s.addr, err = vo.ParseEndpoint(l.Addr().String()); err != nil {
		l.Close()
		return nil, err
	}
	s.log = backend.GetLogger("relay/" + s.addr.String())

	wire := service.NewWireEncodingService()
	frames := service.NewFrameService(wire)
	codec := service.NewOnionCodecService(crypto, wire)
	s.sessions = infraRepo.NewSessionRepository(cfg.Relay.SessionCapacity, cfg.Relay.SessionTTL)
	s.directory = service.NewDirectoryClientService(cfg.Directory.URL, infraHTTP.NewHTTPClient(cfg.Timeouts.DirectoryCall))
	s.handler = handler.NewRelayHandler(
		frames,
		wire,
		usecase.NewPeelEnvelopeUseCase(s.priv, codec, s.sessions, s.log),
		usecase.NewProcessLayerUseCase(
			codec,
			wire,
			frames,
			destination.NewHTTPFetcher(cfg.Timeouts.Hop),
			destination.NewStreamDialer(cfg.Timeouts.Hop),
			cfg.Timeouts.Hop,
			cfg.Timeouts.MaxBudget,
			s.log,
		),
		usecase.NewDeliverResponseUseCase(s.sessions, wire, frames, cfg.Timeouts.Hop, s.log),
		cfg.Timeouts.Hop,
		s.log,
	)

	if err := s.register(); err != nil {
		l.Close()
		s.sessions.Close()
		return nil, err
	}

	s.Add(1)
	go s.acceptWorker()
	return s, nil
}

func (s *Server) loadKey(crypto service.CryptoService) (*vo.RSAPrivKey, error) {
	rCfg := s.cfg.Relay
	if rCfg.KeyFile != "" {
		b, err := os.ReadFile(rCfg.KeyFile)
		if err != nil {
			return nil, err
		}
		return vo.RSAPrivKeyFromPEM(b)
	}
	if rCfg.KeyStore == "" {
		s.log.Notice("No key store configured, generating an ephemeral key.")
		return crypto.GenerateRSAKeypair(rCfg.KeyBits)
	}

	store, err := keystore.NewKeyRepository(rCfg.KeyStore)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	key, err := store.Load(rCfg.Identity)
	switch {
	case err == nil:
		return key, nil
	case !repository.IsNotFound(err):
		return nil, err
	}
	if key, err = crypto.GenerateRSAKeypair(rCfg.KeyBits); err != nil {
		return nil, err
	}
	if err := store.Save(rCfg.Identity, key); err != nil {
		return nil, err
	}
	s.log.Noticef("Generated and stored a new key for %q.", rCfg.Identity)
	return key, nil
}

func (s *Server) register() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := retry.Do(ctx, s.cfg.Relay.RegisterPolicy(), func(ctx context.Context) error {
		return s.directory.Register(ctx, s.addr, s.priv.PublicKey())
	}, func(attempt int, err error, wait time.Duration) {
		s.log.Warningf("Registration attempt %d failed: %v (retrying in %v)", attempt, err, wait)
	})
	if err != nil {
		s.log.Errorf("Registration with %s failed: %v", s.cfg.Directory.URL, err)
		return fmt.Errorf("register with directory: %w", err)
	}
	s.log.Noticef("Registered with %s as %s", s.cfg.Directory.URL, s.addr)
	return nil
}

func (s *Server) acceptWorker() {
	defer s.Done()
	s.log.Noticef("Listening on: %v", s.addr)
	for {
		c, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.haltCh:
				return
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.log.Errorf("Critical accept failure: %v", err)
			go s.Shutdown()
			return
		}
		s.Add(1)
		go func() {
			defer s.Done()
			s.handler.ServeConn(c)
		}()
	}
}

// Addr is the advertised address.
func (s *Server) Addr() vo.Endpoint { return s.addr }

// PublicKey is the key registered with the directory.
func (s *Server) PublicKey() vo.RSAPubKey { return s.priv.PublicKey() }

// Sessions exposes the session table.
func (s *Server) Sessions() repository.SessionRepository { return s.sessions }

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

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeouts.DirectoryCall)
	if err := s.directory.Deregister(ctx, s.addr); err != nil {
		s.log.Warningf("Deregistration failed: %v", err)
	}
	cancel()

	s.listener.Close()
	s.handler.Cancel()
	s.WaitGroup.Wait()
	s.handler.Wait()
	s.sessions.Close()

	s.log.Notice("Shutdown complete.")
	close(s.haltedCh)
}
