package repository

import (
	"ikedadada/go-onion/shared/domain/entity"
	vo "ikedadada/go-onion/shared/domain/value_object"
)

// SessionRepository holds per-session return state at a relay. Entries expire
// after a TTL and the table is bounded.
type SessionRepository interface {
	// Record stores the state for a session. The first return address seen
	// for a session is kept unless st carries an explicit one.
	Record(vo.SessionID, *entity.SessionState) error
	Find(vo.SessionID) (*entity.SessionState, error)
	Delete(vo.SessionID) error
	Len() int
	Close() error
}
