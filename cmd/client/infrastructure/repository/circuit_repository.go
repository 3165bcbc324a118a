package repository

import (
	"sync"

	"ikedadada/go-onion/shared/domain/entity"
	"ikedadada/go-onion/shared/domain/repository"
	vo "ikedadada/go-onion/shared/domain/value_object"
)

type circuitRepositoryImpl struct {
	mu sync.RWMutex
	m  map[vo.SessionID]*entity.Circuit
}

// NewCircuitRepository creates an in-memory circuit table.
func NewCircuitRepository() repository.CircuitRepository {
	return &circuitRepositoryImpl{m: make(map[vo.SessionID]*entity.Circuit)}
}

func (r *circuitRepositoryImpl) Save(c *entity.Circuit) error {
	if c == nil {
		return repository.ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[c.ID()]; ok {
		return repository.ErrDuplicate
	}
	r.m[c.ID()] = c
	return nil
}

func (r *circuitRepositoryImpl) Find(id vo.SessionID) (*entity.Circuit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.m[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c, nil
}

func (r *circuitRepositoryImpl) Delete(id vo.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, id)
	return nil
}

func (r *circuitRepositoryImpl) ListActive() ([]*entity.Circuit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entity.Circuit, 0, len(r.m))
	for _, c := range r.m {
		out = append(out, c)
	}
	return out, nil
}
