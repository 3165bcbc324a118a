package usecase

import (
	"fmt"

	"gopkg.in/op/go-logging.v1"

	"ikedadada/go-onion/shared/domain/entity"
	"ikedadada/go-onion/shared/domain/repository"
	vo "ikedadada/go-onion/shared/domain/value_object"
)

// ---------- DTO ----------

type RegisterRelayInput struct {
	Address   string // "host:port"
	PublicKey string // PEM
}

type RegisterRelayOutput struct {
	Result      repository.UpsertResult
	Fingerprint string
}

// RegisterRelayUseCase upserts a relay descriptor keyed by address.
type RegisterRelayUseCase interface {
	Handle(in RegisterRelayInput) (RegisterRelayOutput, error)
}

// ---------- 実装 ----------

type registerRelayUseCaseImpl struct {
	repo repository.RelayRepository
	log  *logging.Logger
}

func NewRegisterRelayUseCase(repo repository.RelayRepository, log *logging.Logger) RegisterRelayUseCase {
	return &registerRelayUseCaseImpl{repo: repo, log: log}
}

func (uc *registerRelayUseCaseImpl) Handle(in RegisterRelayInput) (RegisterRelayOutput, error) {
	rel, err := entity.RelayDescriptorFromWire(in.Address, in.PublicKey)
	if err != nil {
		return RegisterRelayOutput{}, fmt.Errorf("register: %w: %v", repository.ErrInvalidInput, err)
	}
	res, err := uc.repo.Upsert(rel)
	if err != nil {
		return RegisterRelayOutput{}, err
	}
	fp := rel.Fingerprint()
	switch res {
	case repository.RelayCreated:
		uc.log.Noticef("registered %s fp=%s", rel.Address(), fp)
	case repository.RelayKeyRotated:
		uc.log.Noticef("key rotated for %s fp=%s", rel.Address(), fp)
	default:
		uc.log.Debugf("re-registered %s unchanged", rel.Address())
	}
	return RegisterRelayOutput{Result: res, Fingerprint: fp}, nil
}

// ---------- deregister ----------

type DeregisterRelayInput struct {
	Address string
}

type DeregisterRelayOutput struct {
	// Removed is false when the relay was not registered.
	Removed bool
}

// DeregisterRelayUseCase removes a relay; absent relays are not an error.
type DeregisterRelayUseCase interface {
	Handle(in DeregisterRelayInput) (DeregisterRelayOutput, error)
}

type deregisterRelayUseCaseImpl struct {
	repo repository.RelayRepository
	log  *logging.Logger
}

func NewDeregisterRelayUseCase(repo repository.RelayRepository, log *logging.Logger) DeregisterRelayUseCase {
	return &deregisterRelayUseCaseImpl{repo: repo, log: log}
}

func (uc *deregisterRelayUseCaseImpl) Handle(in DeregisterRelayInput) (DeregisterRelayOutput, error) {
	ep, err := vo.ParseEndpoint(in.Address)
	if err != nil {
		return DeregisterRelayOutput{}, fmt.Errorf("deregister: %w: %v", repository.ErrInvalidInput, err)
	}
	removed, err := uc.repo.Delete(ep)
	if err != nil {
		return DeregisterRelayOutput{}, err
	}
	if removed {
		uc.log.Noticef("deregistered %s", ep)
	} else {
		uc.log.Debugf("deregister %s: not registered", ep)
	}
	return DeregisterRelayOutput{Removed: removed}, nil
}
