package usecase

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/op/go-logging.v1"

	"ikedadada/go-onion/shared/domain/entity"
	"ikedadada/go-onion/shared/domain/repository"
	vo "ikedadada/go-onion/shared/domain/value_object"
	"ikedadada/go-onion/shared/service"
)

// RoundTripper delivers the outermost envelope to the entry relay and
// returns the wrapped response blob. The sync and async routing styles differ
// only here.
type RoundTripper interface {
	// ReturnAddress is put in the entry layer; empty for the sync style.
	ReturnAddress() string
	// wait is how long the circuit may take to answer, 0 when unknown.
	RoundTrip(ctx context.Context, id vo.SessionID, entry vo.Endpoint, envelope []byte, wait time.Duration) ([]byte, error)
}

// ---------- DTO ----------

// SendRequestInput は URL か Destination のどちらかを指定する
type SendRequestInput struct {
	Circuit *entity.Circuit

	// Destination receives Body as a raw stream. Ignored when URL is set.
	Destination vo.Endpoint

	Method string
	URL    string
	Body   []byte
}

type SendRequestOutput struct {
	Headers map[string]string
	Body    []byte
	// Layers is how many return layers were removed.
	Layers int
}

// SendRequestUseCase sends one request over an open circuit and unwraps the
// typed reply. An error reply comes back as the classified error.
type SendRequestUseCase interface {
	Handle(ctx context.Context, in SendRequestInput) (SendRequestOutput, error)
}

// ---------- 実装 ----------

type sendRequestUseCaseImpl struct {
	codec  service.OnionCodecService
	wire   service.WireEncodingService
	rt     RoundTripper
	hop    time.Duration
	margin time.Duration
	log    *logging.Logger
}

// NewSendRequestUseCase gives the exit hop a budget of hop and every earlier
// hop margin more. A zero hop leaves budgets to the relays.
func NewSendRequestUseCase(
	codec service.OnionCodecService,
	wire service.WireEncodingService,
	rt RoundTripper,
	hop, margin time.Duration,
	log *logging.Logger,
) SendRequestUseCase {
	return &sendRequestUseCaseImpl{codec: codec, wire: wire, rt: rt, hop: hop, margin: margin, log: log}
}

func (uc *sendRequestUseCaseImpl) Handle(ctx context.Context, in SendRequestInput) (SendRequestOutput, error) {
	if in.Circuit == nil {
		return SendRequestOutput{}, fmt.Errorf("send request: %w: no circuit", repository.ErrInvalidInput)
	}
	if in.URL == "" && in.Destination.IsZero() {
		return SendRequestOutput{}, fmt.Errorf("send request: %w: neither URL nor destination", repository.ErrInvalidInput)
	}
	cir := in.Circuit

	// --- 1. 終端リクエストを組み立てる
	req, err := uc.wire.EncodeDestinationRequest(&service.DestinationRequestDTO{Method: in.Method, URL: in.URL, Body: in.Body})
	if err != nil {
		return SendRequestOutput{}, err
	}
	dest := in.Destination
	if in.URL != "" {
		dest = vo.Endpoint{}
	}

	// --- 2. 内側から外側へ onion を作る
	budgets := service.HopBudgets(cir.Len(), uc.hop, uc.margin)
	var wait time.Duration
	if len(budgets) > 0 {
		wait = budgets[0] + uc.margin
	}
	built, err := uc.codec.BuildOnion(service.BuildOnionInput{
		SessionID:     cir.ID(),
		Path:          cir.Hops(),
		Destination:   dest,
		Request:       req,
		ReturnAddress: uc.rt.ReturnAddress(),
		Budgets:       budgets,
	})
	if err != nil {
		return SendRequestOutput{}, err
	}
	keys := built.Keys
	defer func() {
		for i := range keys {
			keys[i].Wipe()
		}
	}()
	if err := cir.SetHopKeys(keys); err != nil {
		return SendRequestOutput{}, err
	}

	// --- 3. 送信して hop 1 の鍵から順に剥がす
	blob, err := uc.rt.RoundTrip(ctx, cir.ID(), built.Entry, built.Envelope, wait)
	if err != nil {
		uc.log.Warningf("circuit %s: %v", cir.ID(), err)
		return SendRequestOutput{}, err
	}
	reply, n, err := uc.codec.UnwrapResponse(blob, keys)
	if err != nil {
		return SendRequestOutput{Layers: n}, err
	}
	if err := service.ReplyErr(reply); err != nil {
		uc.log.Noticef("circuit %s: error after %d layers: %v", cir.ID(), n, err)
		return SendRequestOutput{Layers: n}, err
	}
	uc.log.Debugf("circuit %s: %d bytes after %d layers", cir.ID(), len(reply.Body), n)
	return SendRequestOutput{Headers: reply.Headers, Body: reply.Body, Layers: n}, nil
}
