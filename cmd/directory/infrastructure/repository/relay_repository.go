package repository

import (
	"sync"

	"ikedadada/go-onion/shared/domain/entity"
	"ikedadada/go-onion/shared/domain/repository"
	vo "ikedadada/go-onion/shared/domain/value_object"
)

// relayRepositoryImpl is the directory table. One mutex guards every read and
// write; nothing under it does I/O.
type relayRepositoryImpl struct {
	mu sync.Mutex
	m  map[vo.Endpoint]*entity.RelayDescriptor
}

// NewRelayRepository creates an empty directory table.
func NewRelayRepository() repository.RelayRepository {
	return &relayRepositoryImpl{m: make(map[vo.Endpoint]*entity.RelayDescriptor)}
}

func (r *relayRepositoryImpl) Upsert(rel *entity.RelayDescriptor) (repository.UpsertResult, error) {
	if rel == nil {
		return 0, repository.ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.m[rel.Address()]
	switch {
	case !ok:
		r.m[rel.Address()] = rel
		return repository.RelayCreated, nil
	case cur.SameKey(rel):
		return repository.RelayUnchanged, nil
	default:
		r.m[rel.Address()] = rel
		return repository.RelayKeyRotated, nil
	}
}

func (r *relayRepositoryImpl) Delete(addr vo.Endpoint) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[addr]; !ok {
		return false, nil
	}
	delete(r.m, addr)
	return true, nil
}

func (r *relayRepositoryImpl) FindByAddress(addr vo.Endpoint) (*entity.RelayDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rel, ok := r.m[addr]; ok {
		return rel, nil
	}
	return nil, repository.ErrNotFound
}

func (r *relayRepositoryImpl) All() []*entity.RelayDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.RelayDescriptor, 0, len(r.m))
	for _, rel := range r.m {
		out = append(out, rel)
	}
	return out
}

func (r *relayRepositoryImpl) Evict(failed []*entity.RelayDescriptor) []vo.Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	var evicted []vo.Endpoint
	for _, f := range failed {
		cur, ok := r.m[f.Address()]
		// re-registered with a new key while the probe ran
		if !ok || !cur.SameKey(f) {
			continue
		}
		delete(r.m, f.Address())
		evicted = append(evicted, f.Address())
	}
	return evicted
}

func (r *relayRepositoryImpl) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}
