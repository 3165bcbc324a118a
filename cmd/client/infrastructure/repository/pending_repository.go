package repository

import (
	"errors"
	"sync"
	"time"

	"ikedadada/go-onion/shared/domain/repository"
	vo "ikedadada/go-onion/shared/domain/value_object"
)

var errIdleTimeout = errors.New("no response before the idle timeout")

type pendingEntry struct {
	cb    repository.ResponseCallback
	timer *time.Timer
}

type pendingRepositoryImpl struct {
	mu sync.Mutex
	m  map[vo.SessionID]*pendingEntry
}

// NewPendingRepository creates an empty pending-response registry.
func NewPendingRepository() repository.PendingRepository {
	return &pendingRepositoryImpl{m: make(map[vo.SessionID]*pendingEntry)}
}

func (r *pendingRepositoryImpl) Register(id vo.SessionID, idle time.Duration, cb repository.ResponseCallback) error {
	if id.IsZero() || cb == nil || idle <= 0 {
		return repository.ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[id]; ok {
		return repository.ErrDuplicate
	}
	e := &pendingEntry{cb: cb}
	e.timer = time.AfterFunc(idle, func() {
		if r.take(id, e) {
			cb(nil, repository.NewFailure(repository.KindTransport, "await "+id.String(), errIdleTimeout))
		}
	})
	r.m[id] = e
	return nil
}

// take removes id if it still maps to e. Whoever takes the entry runs its
// callback.
func (r *pendingRepositoryImpl) take(id vo.SessionID, e *pendingEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.m[id]; !ok || cur != e {
		return false
	}
	delete(r.m, id)
	return true
}

func (r *pendingRepositoryImpl) Fulfill(id vo.SessionID, blob []byte) error {
	r.mu.Lock()
	e, ok := r.m[id]
	if ok {
		delete(r.m, id)
	}
	r.mu.Unlock()
	if !ok {
		return repository.ErrNotFound
	}
	e.timer.Stop()
	e.cb(blob, nil)
	return nil
}

func (r *pendingRepositoryImpl) Cancel(id vo.SessionID) {
	r.mu.Lock()
	e, ok := r.m[id]
	if ok {
		delete(r.m, id)
	}
	r.mu.Unlock()
	if ok {
		e.timer.Stop()
	}
}

func (r *pendingRepositoryImpl) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}
