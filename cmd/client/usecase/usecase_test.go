package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	infraRepo "ikedadada/go-onion/cmd/client/infrastructure/repository"
	"ikedadada/go-onion/cmd/client/usecase"
	"ikedadada/go-onion/shared/domain/entity"
	"ikedadada/go-onion/shared/domain/repository"
	vo "ikedadada/go-onion/shared/domain/value_object"
	"ikedadada/go-onion/shared/infrastructure/log"
	"ikedadada/go-onion/shared/service"
)

var (
	keysOnce sync.Once
	testKeys []*vo.RSAPrivKey

	crypto = service.NewCryptoService()
	wire   = service.NewWireEncodingService()
	codec  = service.NewOnionCodecService(crypto, wire)
	logger = log.NewForTest().GetLogger("client")
)

func relayKeys() []*vo.RSAPrivKey {
	keysOnce.Do(func() {
		for i := 0; i < 3; i++ {
			k, err := crypto.GenerateRSAKeypair(service.MinRSABits)
			if err != nil {
				panic(err)
			}
			testKeys = append(testKeys, k)
		}
	})
	return testKeys
}

// fakeDirectory hands out the fixed relay set.
type fakeDirectory struct {
	relays []*entity.RelayDescriptor
	keys   map[string]*vo.RSAPrivKey
}

func newFakeDirectory(t *testing.T, n int) *fakeDirectory {
	t.Helper()
	d := &fakeDirectory{keys: make(map[string]*vo.RSAPrivKey)}
	for i, k := range relayKeys()[:n] {
		ep, err := vo.NewEndpoint("127.0.0.1", uint16(7001+i))
		require.NoError(t, err)
		r, err := entity.NewRelayDescriptor(ep, k.PublicKey())
		require.NoError(t, err)
		d.relays = append(d.relays, r)
		d.keys[ep.String()] = k
	}
	return d
}

func (d *fakeDirectory) Register(context.Context, vo.Endpoint, vo.RSAPubKey) error { return nil }
func (d *fakeDirectory) Deregister(context.Context, vo.Endpoint) error            { return nil }
func (d *fakeDirectory) ListRelays(context.Context) ([]*entity.RelayDescriptor, error) {
	return d.relays, nil
}
func (d *fakeDirectory) SelectRelays(_ context.Context, n int) ([]*entity.RelayDescriptor, error) {
	if n > len(d.relays) {
		return nil, repository.NewFailure(repository.KindInsufficientRelays, "select",
			fmt.Errorf("%d requested, %d available", n, len(d.relays)))
	}
	return d.relays[:n], nil
}

// pathRoundTripper plays every relay of the path in-process: it peels each
// layer with that relay's key, answers at the exit and wraps back.
type pathRoundTripper struct {
	dir       *fakeDirectory
	returnTo  string
	failAtHop int // 1-based; 0 means no failure
	failWith  error
	seenLayer []*service.PeeledLayer
	wait      time.Duration
}

func (p *pathRoundTripper) ReturnAddress() string { return p.returnTo }

func (p *pathRoundTripper) RoundTrip(_ context.Context, _ vo.SessionID, entry vo.Endpoint, envelope []byte, wait time.Duration) ([]byte, error) {
	p.wait = wait
	return p.hop(1, entry, envelope)
}

func (p *pathRoundTripper) hop(n int, at vo.Endpoint, envelope []byte) ([]byte, error) {
	layer, err := codec.PeelOneLayer(envelope, p.dir.keys[at.String()])
	if err != nil {
		return nil, err
	}
	p.seenLayer = append(p.seenLayer, layer)
	if n == p.failAtHop {
		return codec.WrapReply(service.ErrorReply(p.failWith), layer.Key)
	}
	if layer.Kind == vo.LayerForward {
		inner, err := p.hop(n+1, layer.NextHop, layer.Inner)
		if err != nil {
			return nil, err
		}
		return codec.WrapResponse(vo.ReturnRelayed, inner, layer.Key)
	}
	req, err := wire.DecodeDestinationRequest(layer.Inner)
	if err != nil {
		return nil, err
	}
	return codec.WrapReply(service.OKReply(map[string]string{"Status": "200 OK"}, append([]byte("echo:"), req.Body...)), layer.Key)
}

func dest(t *testing.T) vo.Endpoint {
	t.Helper()
	ep, err := vo.NewEndpoint("127.0.0.1", 9100)
	require.NoError(t, err)
	return ep
}

func TestBuildCircuit(t *testing.T) {
	dir := newFakeDirectory(t, 3)
	circuits := infraRepo.NewCircuitRepository()
	uc := usecase.NewBuildCircuitUseCase(dir, circuits, 3, logger)

	out, err := uc.Handle(context.Background(), usecase.BuildCircuitInput{})
	require.NoError(t, err)
	require.Equal(t, 3, out.Circuit.Len())

	saved, err := circuits.Find(out.Circuit.ID())
	require.NoError(t, err)
	require.Same(t, out.Circuit, saved)
}

func TestBuildCircuit_Errors(t *testing.T) {
	dir := newFakeDirectory(t, 2)
	uc := usecase.NewBuildCircuitUseCase(dir, infraRepo.NewCircuitRepository(), 3, logger)

	_, err := uc.Handle(context.Background(), usecase.BuildCircuitInput{})
	require.True(t, repository.IsInsufficientRelays(err))

	_, err = uc.Handle(context.Background(), usecase.BuildCircuitInput{Hops: -1})
	require.ErrorIs(t, err, repository.ErrInvalidInput)
}

func TestSendRequest_ThreeHops(t *testing.T) {
	dir := newFakeDirectory(t, 3)
	circuits := infraRepo.NewCircuitRepository()
	build := usecase.NewBuildCircuitUseCase(dir, circuits, 3, logger)
	rt := &pathRoundTripper{dir: dir}
	send := usecase.NewSendRequestUseCase(codec, wire, rt, 0, 0, logger)

	bo, err := build.Handle(context.Background(), usecase.BuildCircuitInput{})
	require.NoError(t, err)
	out, err := send.Handle(context.Background(), usecase.SendRequestInput{Circuit: bo.Circuit, Destination: dest(t), Body: []byte("hi")})
	require.NoError(t, err)
	require.Equal(t, "echo:hi", string(out.Body))
	require.Equal(t, 3, out.Layers)
	require.Equal(t, "200 OK", out.Headers["Status"])

	// each relay saw only its neighbour
	require.Len(t, rt.seenLayer, 3)
	require.Equal(t, dir.relays[1].Address(), rt.seenLayer[0].NextHop)
	require.Equal(t, dir.relays[2].Address(), rt.seenLayer[1].NextHop)
	require.Equal(t, dest(t), rt.seenLayer[2].NextHop)
	for _, l := range rt.seenLayer {
		require.True(t, l.SessionID.Equal(bo.Circuit.ID()))
	}
	require.Len(t, bo.Circuit.HopKeys(), 3)
}

func TestSendRequest_BudgetsShrinkTowardsExit(t *testing.T) {
	dir := newFakeDirectory(t, 3)
	cir, err := entity.NewCircuit(vo.NewSessionID(), dir.relays)
	require.NoError(t, err)
	rt := &pathRoundTripper{dir: dir}
	send := usecase.NewSendRequestUseCase(codec, wire, rt, 3*time.Second, time.Second, logger)

	_, err = send.Handle(context.Background(), usecase.SendRequestInput{Circuit: cir, Destination: dest(t), Body: []byte("x")})
	require.NoError(t, err)
	require.Len(t, rt.seenLayer, 3)
	require.Equal(t, 5*time.Second, rt.seenLayer[0].Budget)
	require.Equal(t, 4*time.Second, rt.seenLayer[1].Budget)
	require.Equal(t, 3*time.Second, rt.seenLayer[2].Budget)
	// the client outlasts the entry relay
	require.Equal(t, 6*time.Second, rt.wait)
}

func TestSendRequest_ErrorAtHop(t *testing.T) {
	tests := []struct {
		name   string
		hop    int
		err    error
		is     func(error) bool
		layers int
	}{
		{"entry transport", 1, repository.NewFailure(repository.KindTransport, "dial", errors.New("refused")), repository.IsTransport, 1},
		{"middle protocol", 2, errors.New("unclassified"), repository.IsProtocol, 2},
		{"exit destination", 3, repository.NewFailure(repository.KindDestination, "fetch", errors.New("404")), repository.IsDestination, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := newFakeDirectory(t, 3)
			cir, err := entity.NewCircuit(vo.NewSessionID(), dir.relays)
			require.NoError(t, err)
			send := usecase.NewSendRequestUseCase(codec, wire, &pathRoundTripper{dir: dir, failAtHop: tt.hop, failWith: tt.err}, 0, 0, logger)

			out, err := send.Handle(context.Background(), usecase.SendRequestInput{Circuit: cir, Destination: dest(t), Body: []byte("x")})
			require.Error(t, err)
			require.True(t, tt.is(err), "got %v", err)
			require.Equal(t, tt.layers, out.Layers)
		})
	}
}

func TestSendRequest_URLAndReturnAddress(t *testing.T) {
	dir := newFakeDirectory(t, 2)
	cir, err := entity.NewCircuit(vo.NewSessionID(), dir.relays[:2])
	require.NoError(t, err)
	rt := &pathRoundTripper{dir: dir, returnTo: "127.0.0.1:7777"}
	send := usecase.NewSendRequestUseCase(codec, wire, rt, 0, 0, logger)

	_, err = send.Handle(context.Background(), usecase.SendRequestInput{Circuit: cir, URL: "http://example.invalid/", Method: "GET"})
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:7777", rt.seenLayer[0].ReturnAddress)
	require.Empty(t, rt.seenLayer[1].ReturnAddress)

	exitReq, err := wire.DecodeDestinationRequest(rt.seenLayer[1].Inner)
	require.NoError(t, err)
	require.Equal(t, "http://example.invalid/", exitReq.URL)
	require.True(t, rt.seenLayer[1].NextHop.IsZero())
}

func TestSendRequest_InvalidInput(t *testing.T) {
	dir := newFakeDirectory(t, 1)
	cir, err := entity.NewCircuit(vo.NewSessionID(), dir.relays)
	require.NoError(t, err)
	send := usecase.NewSendRequestUseCase(codec, wire, &pathRoundTripper{dir: dir}, 0, 0, logger)

	_, err = send.Handle(context.Background(), usecase.SendRequestInput{Destination: dest(t)})
	require.ErrorIs(t, err, repository.ErrInvalidInput)
	_, err = send.Handle(context.Background(), usecase.SendRequestInput{Circuit: cir})
	require.ErrorIs(t, err, repository.ErrInvalidInput)
}

func TestFetch_TearsDown(t *testing.T) {
	dir := newFakeDirectory(t, 3)
	circuits := infraRepo.NewCircuitRepository()
	build := usecase.NewBuildCircuitUseCase(dir, circuits, 3, logger)
	send := usecase.NewSendRequestUseCase(codec, wire, &pathRoundTripper{dir: dir}, 0, 0, logger)
	teardown := usecase.NewTeardownCircuitUseCase(circuits, logger)
	fetch := usecase.NewFetchUseCase(build, send, teardown, logger)

	out, err := fetch.Handle(context.Background(), usecase.FetchInput{Destination: dest(t), Body: []byte("hi")})
	require.NoError(t, err)
	require.Equal(t, "echo:hi", string(out.Body))

	active, err := circuits.ListActive()
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestTeardownCircuit(t *testing.T) {
	dir := newFakeDirectory(t, 1)
	circuits := infraRepo.NewCircuitRepository()
	cir, err := entity.NewCircuit(vo.NewSessionID(), dir.relays)
	require.NoError(t, err)
	k, err := crypto.NewAESKey()
	require.NoError(t, err)
	require.NoError(t, cir.SetHopKeys([]vo.AESKey{k}))
	require.NoError(t, circuits.Save(cir))

	uc := usecase.NewTeardownCircuitUseCase(circuits, logger)
	require.NoError(t, uc.Handle(usecase.TeardownCircuitInput{CircuitID: cir.ID()}))
	require.Empty(t, cir.HopKeys())

	err = uc.Handle(usecase.TeardownCircuitInput{CircuitID: cir.ID()})
	require.ErrorIs(t, err, repository.ErrNotFound)
}
