package repository

import (
	"ikedadada/go-onion/shared/domain/entity"
	vo "ikedadada/go-onion/shared/domain/value_object"
)

// UpsertResult reports what a registration did to the directory table.
type UpsertResult uint8

const (
	RelayCreated UpsertResult = iota + 1
	RelayKeyRotated
	RelayUnchanged
)

func (r UpsertResult) String() string {
	switch r {
	case RelayCreated:
		return "created"
	case RelayKeyRotated:
		return "key-rotated"
	case RelayUnchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// RelayRepository is the directory table: at most one descriptor per address.
type RelayRepository interface {
	Upsert(*entity.RelayDescriptor) (UpsertResult, error)
	// Delete is idempotent; it reports whether a descriptor was removed.
	Delete(vo.Endpoint) (bool, error)
	FindByAddress(vo.Endpoint) (*entity.RelayDescriptor, error)
	// All returns a snapshot copy.
	All() []*entity.RelayDescriptor
	// Evict removes every given descriptor whose stored key is still the
	// same, atomically, and returns the addresses it removed.
	Evict([]*entity.RelayDescriptor) []vo.Endpoint
	Count() int
}
