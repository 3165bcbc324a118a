package repository

import (
	"errors"
	"fmt"
)

// Common domain errors used across different layers
var (
	// ErrNotFound indicates a requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrDuplicate indicates a resource already exists
	ErrDuplicate = errors.New("already exists")

	// ErrInvalidInput indicates invalid input parameters
	ErrInvalidInput = errors.New("invalid input")

	// ErrConnectionClosed indicates a network connection was closed
	ErrConnectionClosed = errors.New("connection closed")
)

// Protocol failures. These are the kinds a client can receive back through a
// circuit, so each one has a stable wire code (ErrorKind).
var (
	ErrCrypto             = errors.New("crypto error")
	ErrInsufficientRelays = errors.New("insufficient relays")
	ErrTransport          = errors.New("transport error")
	ErrProtocol           = errors.New("protocol error")
	ErrDestination        = errors.New("destination error")
)

// ErrorKind is the wire code of a protocol failure.
type ErrorKind uint8

const (
	KindNone ErrorKind = iota
	KindCrypto
	KindInsufficientRelays
	KindTransport
	KindProtocol
	KindDestination
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindCrypto:
		return ErrCrypto
	case KindInsufficientRelays:
		return ErrInsufficientRelays
	case KindTransport:
		return ErrTransport
	case KindProtocol:
		return ErrProtocol
	case KindDestination:
		return ErrDestination
	default:
		return nil
	}
}

func (k ErrorKind) String() string {
	if s := k.sentinel(); s != nil {
		return s.Error()
	}
	if k == KindNone {
		return "none"
	}
	return fmt.Sprintf("unknown error kind %d", uint8(k))
}

// Failure is a classified protocol failure.
type Failure struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewFailure classifies err. A nil err keeps just the kind.
func NewFailure(kind ErrorKind, op string, err error) *Failure {
	return &Failure{Kind: kind, Op: op, Err: err}
}

func (f *Failure) Error() string {
	msg := f.Kind.String()
	if f.Op != "" {
		msg = f.Op + ": " + msg
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := f.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if f.Err != nil {
		errs = append(errs, f.Err)
	}
	return errs
}

// KindOf reports the ErrorKind of err, KindNone when it is not classified.
func KindOf(err error) ErrorKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	switch {
	case errors.Is(err, ErrCrypto):
		return KindCrypto
	case errors.Is(err, ErrInsufficientRelays):
		return KindInsufficientRelays
	case errors.Is(err, ErrTransport):
		return KindTransport
	case errors.Is(err, ErrProtocol):
		return KindProtocol
	case errors.Is(err, ErrDestination):
		return KindDestination
	}
	return KindNone
}

// IsNotFound checks if an error is a "not found" error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicate checks if an error is a "duplicate" error
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// IsInvalidInput checks if an error is an "invalid input" error
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

func IsCrypto(err error) bool             { return errors.Is(err, ErrCrypto) }
func IsInsufficientRelays(err error) bool { return errors.Is(err, ErrInsufficientRelays) }
func IsTransport(err error) bool          { return errors.Is(err, ErrTransport) }
func IsProtocol(err error) bool           { return errors.Is(err, ErrProtocol) }
func IsDestination(err error) bool        { return errors.Is(err, ErrDestination) }
