package usecase

import (
	"fmt"

	"gopkg.in/op/go-logging.v1"

	"ikedadada/go-onion/shared/domain/repository"
	vo "ikedadada/go-onion/shared/domain/value_object"
)

type TeardownCircuitInput struct {
	CircuitID vo.SessionID
}

// TeardownCircuitUseCase wipes a circuit's keys and forgets it.
type TeardownCircuitUseCase interface {
	Handle(in TeardownCircuitInput) error
}

type teardownCircuitUseCaseImpl struct {
	circuits repository.CircuitRepository
	log      *logging.Logger
}

func NewTeardownCircuitUseCase(circuits repository.CircuitRepository, log *logging.Logger) TeardownCircuitUseCase {
	return &teardownCircuitUseCaseImpl{circuits: circuits, log: log}
}

func (uc *teardownCircuitUseCaseImpl) Handle(in TeardownCircuitInput) error {
	cir, err := uc.circuits.Find(in.CircuitID)
	if err != nil {
		return fmt.Errorf("teardown %s: %w", in.CircuitID, err)
	}
	cir.WipeKeys()
	if err := uc.circuits.Delete(in.CircuitID); err != nil {
		return err
	}
	uc.log.Debugf("circuit %s torn down", in.CircuitID)
	return nil
}
