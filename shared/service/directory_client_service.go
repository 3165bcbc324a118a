package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"ikedadada/go-onion/shared/domain/entity"
	"ikedadada/go-onion/shared/domain/repository"
	vo "ikedadada/go-onion/shared/domain/value_object"
	infraHTTP "ikedadada/go-onion/shared/infrastructure/http"
)

// Directory API wire values.
const (
	StatusOK                = "OK"
	StatusError             = "ERROR"
	ErrCodeInsufficient     = "INSUFFICIENT_RELAYS"
	DirectoryRelaysPath     = "/relays"
	DirectoryRelaysListPath = "/relays/all"
)

// RegisterRequestDTO is the body of POST /relays.
type RegisterRequestDTO struct {
	Address    string `json:"address"`
	PublicKey  string `json:"public_key,omitempty"`
	Deregister bool   `json:"deregister,omitempty"`
}

// StatusResponseDTO is the directory's OK | ERROR answer.
type StatusResponseDTO struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// RelayDTO is one relay descriptor in its wire form.
type RelayDTO struct {
	Address   string `json:"address"`
	PublicKey string `json:"public_key"`
}

type RelayListResponseDTO struct {
	Status string     `json:"status,omitempty"`
	Error  string     `json:"error,omitempty"`
	Relays []RelayDTO `json:"relays"`
}

// ToRelayDTO converts a descriptor to its wire form.
func ToRelayDTO(r *entity.RelayDescriptor) RelayDTO {
	return RelayDTO{Address: r.Address().String(), PublicKey: string(r.PubKey().ToPEM())}
}

// DirectoryClientService is how relays and clients talk to the directory.
type DirectoryClientService interface {
	Register(ctx context.Context, addr vo.Endpoint, pub vo.RSAPubKey) error
	Deregister(ctx context.Context, addr vo.Endpoint) error
	SelectRelays(ctx context.Context, n int) ([]*entity.RelayDescriptor, error)
	ListRelays(ctx context.Context) ([]*entity.RelayDescriptor, error)
}

type directoryClientServiceImpl struct {
	base string
	http infraHTTP.HTTPClient
}

// NewDirectoryClientService talks to the directory at base
// (e.g. "http://127.0.0.1:9000").
func NewDirectoryClientService(base string, client infraHTTP.HTTPClient) DirectoryClientService {
	return &directoryClientServiceImpl{base: strings.TrimRight(base, "/"), http: client}
}

func (s *directoryClientServiceImpl) Register(ctx context.Context, addr vo.Endpoint, pub vo.RSAPubKey) error {
	return s.post(ctx, "register", RegisterRequestDTO{Address: addr.String(), PublicKey: string(pub.ToPEM())})
}

func (s *directoryClientServiceImpl) Deregister(ctx context.Context, addr vo.Endpoint) error {
	return s.post(ctx, "deregister", RegisterRequestDTO{Address: addr.String(), Deregister: true})
}

func (s *directoryClientServiceImpl) post(ctx context.Context, op string, req RegisterRequestDTO) error {
	var res StatusResponseDTO
	status, err := s.http.DoJSON(ctx, http.MethodPost, s.base+DirectoryRelaysPath, req, &res)
	if err != nil {
		return repository.NewFailure(repository.KindTransport, op+" "+req.Address, err)
	}
	if status != http.StatusOK || res.Status != StatusOK {
		return fmt.Errorf("%s %s: directory answered %d %s: %s", op, req.Address, status, res.Status, res.Error)
	}
	return nil
}

func (s *directoryClientServiceImpl) SelectRelays(ctx context.Context, n int) ([]*entity.RelayDescriptor, error) {
	if n < 1 {
		return nil, fmt.Errorf("select relays: %w: count %d", repository.ErrInvalidInput, n)
	}
	u := s.base + DirectoryRelaysPath + "?" + url.Values{"count": {strconv.Itoa(n)}}.Encode()
	relays, err := s.fetch(ctx, "select relays", u)
	if err != nil {
		return nil, err
	}
	if len(relays) != n {
		return nil, repository.NewFailure(repository.KindProtocol, "select relays",
			fmt.Errorf("asked for %d relays, got %d", n, len(relays)))
	}
	return relays, nil
}

func (s *directoryClientServiceImpl) ListRelays(ctx context.Context) ([]*entity.RelayDescriptor, error) {
	return s.fetch(ctx, "list relays", s.base+DirectoryRelaysListPath)
}

func (s *directoryClientServiceImpl) fetch(ctx context.Context, op, u string) ([]*entity.RelayDescriptor, error) {
	var res RelayListResponseDTO
	status, err := s.http.DoJSON(ctx, http.MethodGet, u, nil, &res)
	if err != nil {
		return nil, repository.NewFailure(repository.KindTransport, op, err)
	}
	switch {
	case status == http.StatusServiceUnavailable && res.Error == ErrCodeInsufficient:
		return nil, repository.NewFailure(repository.KindInsufficientRelays, op, nil)
	case status != http.StatusOK:
		return nil, fmt.Errorf("%s: directory answered %d: %s", op, status, res.Error)
	}

	out := make([]*entity.RelayDescriptor, 0, len(res.Relays))
	seen := make(map[string]struct{}, len(res.Relays))
	for _, r := range res.Relays {
		d, err := entity.RelayDescriptorFromWire(r.Address, r.PublicKey)
		if err != nil {
			return nil, repository.NewFailure(repository.KindProtocol, op, err)
		}
		if _, dup := seen[d.Address().String()]; dup {
			return nil, repository.NewFailure(repository.KindProtocol, op, errors.New("duplicate relay "+r.Address))
		}
		seen[d.Address().String()] = struct{}{}
		out = append(out, d)
	}
	return out, nil
}
