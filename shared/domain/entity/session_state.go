package entity

import (
	"time"

	vo "ikedadada/go-onion/shared/domain/value_object"
)

// SessionState is what a relay remembers about one session so it can route
// the response back without knowing the rest of the path.
type SessionState struct {
	ReturnAddress string
	// Explicit is set when ReturnAddress came from the layer itself (async
	// style) rather than from the caller's connection.
	Explicit bool
	Key      vo.AESKey
	LastSeen time.Time
}

func NewSessionState(returnAddr string, explicit bool, key vo.AESKey) *SessionState {
	return &SessionState{
		ReturnAddress: returnAddr,
		Explicit:      explicit,
		Key:           key,
		LastSeen:      time.Now(),
	}
}
