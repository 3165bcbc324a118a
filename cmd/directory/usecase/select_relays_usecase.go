package usecase

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"gopkg.in/op/go-logging.v1"

	"ikedadada/go-onion/shared/domain/entity"
	"ikedadada/go-onion/shared/domain/repository"
)

type SelectRelaysInput struct {
	Count int
}

type SelectRelaysOutput struct {
	Relays []*entity.RelayDescriptor
}

// SelectRelaysUseCase picks Count distinct relays uniformly at random.
type SelectRelaysUseCase interface {
	Handle(in SelectRelaysInput) (SelectRelaysOutput, error)
}

type selectRelaysUseCaseImpl struct {
	repo repository.RelayRepository
	log  *logging.Logger
}

func NewSelectRelaysUseCase(repo repository.RelayRepository, log *logging.Logger) SelectRelaysUseCase {
	return &selectRelaysUseCaseImpl{repo: repo, log: log}
}

func (uc *selectRelaysUseCaseImpl) Handle(in SelectRelaysInput) (SelectRelaysOutput, error) {
	if in.Count < 1 {
		return SelectRelaysOutput{}, fmt.Errorf("select: %w: count %d", repository.ErrInvalidInput, in.Count)
	}
	relays := uc.repo.All()
	if len(relays) < in.Count {
		return SelectRelaysOutput{}, repository.NewFailure(repository.KindInsufficientRelays, "select",
			fmt.Errorf("need %d, have %d", in.Count, len(relays)))
	}
	if err := partialShuffle(relays, in.Count); err != nil {
		return SelectRelaysOutput{}, fmt.Errorf("shuffle relays: %w", err)
	}
	out := relays[:in.Count:in.Count]
	for _, r := range out {
		uc.log.Debugf("selected %s fp=%.16s", r.Address(), r.Fingerprint())
	}
	return SelectRelaysOutput{Relays: out}, nil
}

// partialShuffle moves a uniform random sample of k elements to the front of
// xs (Fisher-Yates stopped after k steps).
func partialShuffle[T any](xs []T, k int) error {
	n := len(xs)
	for i := 0; i < k && i < n-1; i++ {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(n-i)))
		if err != nil {
			return err
		}
		r := i + int(j.Int64())
		xs[i], xs[r] = xs[r], xs[i]
	}
	return nil
}

// ---------- list ----------

type ListRelaysOutput struct {
	Relays []*entity.RelayDescriptor
}

// ListRelaysUseCase returns a snapshot of every registered relay.
type ListRelaysUseCase interface {
	Handle() ListRelaysOutput
}

type listRelaysUseCaseImpl struct {
	repo repository.RelayRepository
}

func NewListRelaysUseCase(repo repository.RelayRepository) ListRelaysUseCase {
	return &listRelaysUseCaseImpl{repo: repo}
}

func (uc *listRelaysUseCaseImpl) Handle() ListRelaysOutput {
	return ListRelaysOutput{Relays: uc.repo.All()}
}
