package usecase

import (
	"context"

	"golang.org/x/sync/errgroup"
	"gopkg.in/op/go-logging.v1"

	"ikedadada/go-onion/shared/domain/entity"
	"ikedadada/go-onion/shared/domain/repository"
	vo "ikedadada/go-onion/shared/domain/value_object"
)

// RelayProber checks that a relay answers.
type RelayProber interface {
	Probe(ctx context.Context, addr vo.Endpoint) error
}

type LivenessOutput struct {
	Probed  int
	Evicted []vo.Endpoint
}

// LivenessUseCase runs one liveness sweep: snapshot, probe outside the
// table lock, then evict the failed set in one step.
type LivenessUseCase interface {
	Sweep(ctx context.Context) LivenessOutput
}

type livenessUseCaseImpl struct {
	repo        repository.RelayRepository
	prober      RelayProber
	concurrency int
	log         *logging.Logger
}

func NewLivenessUseCase(repo repository.RelayRepository, prober RelayProber, concurrency int, log *logging.Logger) LivenessUseCase {
	if concurrency < 1 {
		concurrency = 1
	}
	return &livenessUseCaseImpl{repo: repo, prober: prober, concurrency: concurrency, log: log}
}

func (uc *livenessUseCaseImpl) Sweep(ctx context.Context) LivenessOutput {
	snapshot := uc.repo.All()
	if len(snapshot) == 0 {
		return LivenessOutput{}
	}

	failed := make([]bool, len(snapshot))
	var g errgroup.Group
	g.SetLimit(uc.concurrency)
	for i, rel := range snapshot {
		g.Go(func() error {
			if err := uc.prober.Probe(ctx, rel.Address()); err != nil {
				uc.log.Warningf("probe %s failed: %v", rel.Address(), err)
				failed[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	var dead []*entity.RelayDescriptor
	for i, f := range failed {
		if f {
			dead = append(dead, snapshot[i])
		}
	}
	out := LivenessOutput{Probed: len(snapshot)}
	if len(dead) > 0 {
		out.Evicted = uc.repo.Evict(dead)
		for _, ep := range out.Evicted {
			uc.log.Noticef("evicted %s", ep)
		}
	}
	return out
}
