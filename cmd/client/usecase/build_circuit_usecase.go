package usecase

import (
	"context"
	"fmt"

	"gopkg.in/op/go-logging.v1"

	"ikedadada/go-onion/shared/domain/entity"
	"ikedadada/go-onion/shared/domain/repository"
	vo "ikedadada/go-onion/shared/domain/value_object"
	"ikedadada/go-onion/shared/service"
)

// ---------- DTO ----------

// BuildCircuitInput はユーザーが指定できるパラメータ
type BuildCircuitInput struct {
	Hops int // 省略時はデフォルト
}

type BuildCircuitOutput struct {
	Circuit *entity.Circuit
}

// BuildCircuitUseCase selects a random path from the directory and opens a
// circuit over it.
type BuildCircuitUseCase interface {
	Handle(ctx context.Context, in BuildCircuitInput) (BuildCircuitOutput, error)
}

// ---------- 実装 ----------

type buildCircuitUseCaseImpl struct {
	directory   service.DirectoryClientService
	circuits    repository.CircuitRepository
	defaultHops int
	log         *logging.Logger
}

func NewBuildCircuitUseCase(directory service.DirectoryClientService, circuits repository.CircuitRepository, defaultHops int, log *logging.Logger) BuildCircuitUseCase {
	return &buildCircuitUseCaseImpl{directory: directory, circuits: circuits, defaultHops: defaultHops, log: log}
}

func (uc *buildCircuitUseCaseImpl) Handle(ctx context.Context, in BuildCircuitInput) (BuildCircuitOutput, error) {
	hops := in.Hops
	if hops == 0 {
		hops = uc.defaultHops
	}
	if hops < 1 {
		return BuildCircuitOutput{}, fmt.Errorf("build circuit: %w: %d hops", repository.ErrInvalidInput, hops)
	}

	// InsufficientRelays はそのまま返す
	relays, err := uc.directory.SelectRelays(ctx, hops)
	if err != nil {
		return BuildCircuitOutput{}, err
	}
	cir, err := entity.NewCircuit(vo.NewSessionID(), relays)
	if err != nil {
		return BuildCircuitOutput{}, fmt.Errorf("build circuit: %w", err)
	}
	if err := uc.circuits.Save(cir); err != nil {
		return BuildCircuitOutput{}, fmt.Errorf("build circuit: %w", err)
	}
	for i, r := range relays {
		uc.log.Noticef("circuit %s hop %d: %s fp=%s", cir.ID(), i+1, r.Address(), r.Fingerprint())
	}
	return BuildCircuitOutput{Circuit: cir}, nil
}
