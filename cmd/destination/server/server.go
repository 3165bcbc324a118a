// Package server is the echo destination: it reads a request until the
// caller half-closes and answers with a JSON echo of it.
package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"ikedadada/go-onion/shared/config"
	"ikedadada/go-onion/shared/infrastructure/log"
)

// MaxRequestSize bounds what one connection may send.
const MaxRequestSize = 1 << 20

// Echo is the answer written back to the caller.
type Echo struct {
	Result string          `json:"result"`
	Echo   json.RawMessage `json:"echo,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Respond builds the answer for one request body. JSON is echoed as is;
// base64 wrapped JSON is accepted too.
func Respond(req []byte) Echo {
	body := bytes.TrimSpace(req)
	if !bytes.HasPrefix(body, []byte("{")) {
		if dec, err := base64.StdEncoding.DecodeString(string(body)); err == nil {
			body = bytes.TrimSpace(dec)
		}
	}
	if len(body) == 0 {
		return Echo{Result: "ERROR", Error: "empty request"}
	}
	if !json.Valid(body) {
		return Echo{Result: "ERROR", Error: "could not decode payload as JSON"}
	}
	return Echo{Result: "OK", Echo: json.RawMessage(body)}
}

// Server is a running echo destination.
type Server struct {
	sync.WaitGroup

	log      *logging.Logger
	listener net.Listener
	timeout  time.Duration

	httpListener net.Listener
	httpSrv      *http.Server

	haltCh   chan struct{}
	haltedCh chan struct{}
	haltOnce sync.Once
}

// New listens on cfg.Destination.Address and starts serving.
func New(cfg *config.Config, backend *log.Backend) (*Server, error) {
	s := &Server{
		log:      backend.GetLogger("destination"),
		timeout:  cfg.Timeouts.Hop,
		haltCh:   make(chan struct{}),
		haltedCh: make(chan struct{}),
	}
	l, err := net.Listen("tcp", cfg.Destination.Address)
	if err != nil {
		s.log.Errorf("Failed to start listener '%v': %v", cfg.Destination.Address, err)
		return nil, err
	}
	s.listener = l

	if a := cfg.Destination.HTTPAddress; a != "" {
		hl, err := net.Listen("tcp", a)
		if err != nil {
			l.Close()
			s.log.Errorf("Failed to start HTTP listener '%v': %v", a, err)
			return nil, err
		}
		s.httpListener = hl
		s.httpSrv = &http.Server{Handler: HTTPHandler(s.log), ReadHeaderTimeout: s.timeout}
		s.Add(1)
		go s.httpWorker()
	}

	s.Add(1)
	go s.acceptWorker()
	return s, nil
}

func (s *Server) httpWorker() {
	defer s.Done()
	s.log.Noticef("HTTP listening on: %v", s.httpListener.Addr())
	if err := s.httpSrv.Serve(s.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Errorf("Critical serve failure: %v", err)
		go s.Shutdown()
	}
}

func (s *Server) acceptWorker() {
	defer s.Done()
	s.log.Noticef("Listening on: %v", s.listener.Addr())
	for {
		c, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.haltCh:
			default:
				s.log.Errorf("Critical accept failure: %v", err)
				go s.Shutdown()
			}
			return
		}
		s.Add(1)
		go func() {
			defer s.Done()
			s.serve(c)
		}()
	}
}

func (s *Server) serve(c net.Conn) {
	defer c.Close()
	if s.timeout > 0 {
		_ = c.SetDeadline(time.Now().Add(s.timeout))
	}
	req, err := io.ReadAll(io.LimitReader(c, MaxRequestSize+1))
	var resp Echo
	switch {
	case err != nil:
		resp = Echo{Result: "ERROR", Error: err.Error()}
	case len(req) > MaxRequestSize:
		resp = Echo{Result: "ERROR", Error: fmt.Sprintf("request exceeds %d bytes", MaxRequestSize)}
	default:
		resp = Respond(req)
	}
	s.log.Debugf("%s: %d bytes, %s", c.RemoteAddr(), len(req), resp.Result)

	b, err := json.Marshal(resp)
	if err != nil {
		s.log.Warningf("marshal: %v", err)
		return
	}
	if _, err := c.Write(b); err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.Warningf("write to %s: %v", c.RemoteAddr(), err)
	}
}

// Addr is the bound listen address.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// HTTPAddr is the bound HTTP address, empty when disabled.
func (s *Server) HTTPAddr() string {
	if s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
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
	close(s.haltCh)
	s.listener.Close()
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.log.Warningf("HTTP shutdown: %v", err)
		}
		cancel()
	}
	s.WaitGroup.Wait()
	s.log.Notice("Shutdown complete.")
	close(s.haltedCh)
}
