package value_object

import (
	"fmt"

	"github.com/google/uuid"
)

// SessionID correlates a request and its response across every hop of one
// circuit. Always a random UUIDv4.
type SessionID struct{ val uuid.UUID }

func NewSessionID() SessionID { return SessionID{uuid.New()} }

func SessionIDFrom(s string) (SessionID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return SessionID{}, err
	}
	if id.Version() != 4 {
		return SessionID{}, fmt.Errorf("session id must be uuid v4, got v%d", id.Version())
	}
	return SessionID{val: id}, nil
}

func SessionIDFromBytes(b []byte) (SessionID, error) {
	id, err := uuid.FromBytes(b)
	if err != nil {
		return SessionID{}, err
	}
	if id.Version() != 4 {
		return SessionID{}, fmt.Errorf("session id must be uuid v4, got v%d", id.Version())
	}
	return SessionID{val: id}, nil
}

func (s SessionID) String() string         { return s.val.String() }
func (s SessionID) Equal(o SessionID) bool { return s.val == o.val }
func (s SessionID) IsZero() bool           { return s.val == uuid.Nil }
func (s SessionID) Bytes() []byte {
	b := s.val
	return b[:]
}
