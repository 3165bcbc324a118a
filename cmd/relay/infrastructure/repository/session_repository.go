package repository

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"ikedadada/go-onion/shared/domain/entity"
	"ikedadada/go-onion/shared/domain/repository"
	vo "ikedadada/go-onion/shared/domain/value_object"
)

type sessionRepository struct {
	// mu makes the read-merge-write in Record atomic.
	mu  sync.Mutex
	lru *expirable.LRU[vo.SessionID, *entity.SessionState]
}

// NewSessionRepository creates a session table holding at most capacity
// entries, each expiring ttl after it was last recorded. Evicted keys are
// wiped.
func NewSessionRepository(capacity int, ttl time.Duration) repository.SessionRepository {
	onEvict := func(_ vo.SessionID, st *entity.SessionState) { st.Key.Wipe() }
	return &sessionRepository{
		lru: expirable.NewLRU[vo.SessionID, *entity.SessionState](capacity, onEvict, ttl),
	}
}

func (r *sessionRepository) Record(id vo.SessionID, st *entity.SessionState) error {
	if id.IsZero() || st == nil {
		return repository.ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	next := *st
	if prev, ok := r.lru.Peek(id); ok && !st.Explicit && prev.ReturnAddress != "" {
		next.ReturnAddress = prev.ReturnAddress
		next.Explicit = prev.Explicit
	}
	if next.LastSeen.IsZero() {
		next.LastSeen = time.Now()
	}
	r.lru.Add(id, &next)
	return nil
}

// Find returns a copy so eviction cannot wipe a key a caller still holds.
func (r *sessionRepository) Find(id vo.SessionID) (*entity.SessionState, error) {
	st, ok := r.lru.Get(id)
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (r *sessionRepository) Delete(id vo.SessionID) error {
	r.lru.Remove(id)
	return nil
}

func (r *sessionRepository) Len() int { return r.lru.Len() }

func (r *sessionRepository) Close() error {
	r.lru.Purge()
	return nil
}
