package usecase

import (
	"context"

	"gopkg.in/op/go-logging.v1"

	vo "ikedadada/go-onion/shared/domain/value_object"
)

// FetchInput describes a one-shot request over a fresh circuit.
type FetchInput struct {
	Hops        int
	Destination vo.Endpoint
	Method      string
	URL         string
	Body        []byte
}

// FetchUseCase builds a circuit, sends one request over it and tears it down.
type FetchUseCase interface {
	Handle(ctx context.Context, in FetchInput) (SendRequestOutput, error)
}

type fetchUseCaseImpl struct {
	build    BuildCircuitUseCase
	send     SendRequestUseCase
	teardown TeardownCircuitUseCase
	log      *logging.Logger
}

func NewFetchUseCase(build BuildCircuitUseCase, send SendRequestUseCase, teardown TeardownCircuitUseCase, log *logging.Logger) FetchUseCase {
	return &fetchUseCaseImpl{build: build, send: send, teardown: teardown, log: log}
}

func (uc *fetchUseCaseImpl) Handle(ctx context.Context, in FetchInput) (SendRequestOutput, error) {
	bo, err := uc.build.Handle(ctx, BuildCircuitInput{Hops: in.Hops})
	if err != nil {
		return SendRequestOutput{}, err
	}
	defer func() {
		if err := uc.teardown.Handle(TeardownCircuitInput{CircuitID: bo.Circuit.ID()}); err != nil {
			uc.log.Warningf("%v", err)
		}
	}()
	return uc.send.Handle(ctx, SendRequestInput{
		Circuit:     bo.Circuit,
		Destination: in.Destination,
		Method:      in.Method,
		URL:         in.URL,
		Body:        in.Body,
	})
}
