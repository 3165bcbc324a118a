package repository

import (
	"time"

	vo "ikedadada/go-onion/shared/domain/value_object"
)

// ResponseCallback receives the wrapped response blob of one session, or the
// error that ended the wait.
type ResponseCallback func(blob []byte, err error)

// PendingRepository is the client's registry of sessions awaiting an
// asynchronous response. Each callback runs exactly once.
type PendingRepository interface {
	// Register fails with ErrDuplicate if the session is already pending.
	// If nothing arrives within idle, cb gets a transport error.
	Register(id vo.SessionID, idle time.Duration, cb ResponseCallback) error
	// Fulfill fails with ErrNotFound if the session is not pending.
	Fulfill(id vo.SessionID, blob []byte) error
	// Cancel drops a pending session without running its callback.
	Cancel(id vo.SessionID)
	Len() int
}
