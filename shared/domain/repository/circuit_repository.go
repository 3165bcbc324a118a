package repository

import (
	"ikedadada/go-onion/shared/domain/entity"
	vo "ikedadada/go-onion/shared/domain/value_object"
)

// CircuitRepository holds the client's open circuits so one can be reused
// across requests.
type CircuitRepository interface {
	Save(*entity.Circuit) error
	Find(vo.SessionID) (*entity.Circuit, error)
	Delete(vo.SessionID) error
	ListActive() ([]*entity.Circuit, error)
}
