package handler_test

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ikedadada/go-onion/cmd/relay/handler"
	"ikedadada/go-onion/cmd/relay/infrastructure/destination"
	infraRepo "ikedadada/go-onion/cmd/relay/infrastructure/repository"
	"ikedadada/go-onion/cmd/relay/usecase"
	"ikedadada/go-onion/shared/domain/entity"
	"ikedadada/go-onion/shared/domain/repository"
	vo "ikedadada/go-onion/shared/domain/value_object"
	"ikedadada/go-onion/shared/infrastructure/log"
	"ikedadada/go-onion/shared/service"
)

var (
	crypto = service.NewCryptoService()
	wire   = service.NewWireEncodingService()
	frames = service.NewFrameService(wire)
	codec  = service.NewOnionCodecService(crypto, wire)
)

type fixture struct {
	priv     *vo.RSAPrivKey
	addr     vo.Endpoint
	sessions repository.SessionRepository
}

// startRelay serves a relay handler on a loopback listener until the test ends.
func startRelay(t *testing.T) *fixture {
	t.Helper()
	priv, err := crypto.GenerateRSAKeypair(service.MinRSABits)
	require.NoError(t, err)
	sessions := infraRepo.NewSessionRepository(16, time.Minute)
	logger := log.NewForTest().GetLogger("relay")
	h := handler.NewRelayHandler(
		frames,
		wire,
		usecase.NewPeelEnvelopeUseCase(priv, codec, sessions, logger),
		usecase.NewProcessLayerUseCase(codec, wire, frames,
			destination.NewHTTPFetcher(time.Second), destination.NewStreamDialer(time.Second), time.Second, time.Minute, logger),
		usecase.NewDeliverResponseUseCase(sessions, wire, frames, time.Second, logger),
		time.Second,
		logger,
	)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go h.ServeConn(c)
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		h.Cancel()
		h.Wait()
		sessions.Close()
	})
	addr, err := vo.ParseEndpoint(ln.Addr().String())
	require.NoError(t, err)
	return &fixture{priv: priv, addr: addr, sessions: sessions}
}

func (f *fixture) descriptor(t *testing.T) *entity.RelayDescriptor {
	t.Helper()
	d, err := entity.NewRelayDescriptor(f.addr, f.priv.PublicKey())
	require.NoError(t, err)
	return d
}

// echoDestination answers each connection with "echo:" + what it read.
func echoDestination(t *testing.T) vo.Endpoint {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				b, _ := io.ReadAll(c)
				_, _ = c.Write(append([]byte("echo:"), b...))
			}()
		}
	}()
	ep, err := vo.ParseEndpoint(ln.Addr().String())
	require.NoError(t, err)
	return ep
}

func exchange(t *testing.T, addr vo.Endpoint, ft vo.FrameType, body []byte) (vo.FrameType, []byte) {
	t.Helper()
	rt, rb, err := frames.Exchange(context.Background(), addr.String(), ft, body, 5*time.Second)
	require.NoError(t, err)
	return rt, rb
}

func errorKind(t *testing.T, body []byte) error {
	t.Helper()
	reply, err := wire.DecodeReply(body)
	require.NoError(t, err)
	return service.ReplyErr(reply)
}

func TestRelayHandler_Ping(t *testing.T) {
	f := startRelay(t)
	rt, _ := exchange(t, f.addr, vo.FramePing, nil)
	require.Equal(t, vo.FramePong, rt)
}

func TestRelayHandler_UnexpectedFrame(t *testing.T) {
	f := startRelay(t)
	rt, rb := exchange(t, f.addr, vo.FrameAccepted, nil)
	require.Equal(t, vo.FrameError, rt)
	require.True(t, repository.IsProtocol(errorKind(t, rb)))
}

func TestRelayHandler_MalformedEnvelope(t *testing.T) {
	f := startRelay(t)
	rt, rb := exchange(t, f.addr, vo.FrameEnvelope, []byte("not an envelope"))
	require.Equal(t, vo.FrameError, rt)
	require.True(t, repository.IsProtocol(errorKind(t, rb)))
}

func TestRelayHandler_WrongKey(t *testing.T) {
	f := startRelay(t)
	other := startRelay(t)
	// addressed to other, sent to f
	built, err := codec.BuildOnion(service.BuildOnionInput{SessionID: vo.NewSessionID(), Path: []*entity.RelayDescriptor{other.descriptor(t)}, Request: []byte("x")})
	require.NoError(t, err)

	rt, rb := exchange(t, f.addr, vo.FrameEnvelope, built.Envelope)
	require.Equal(t, vo.FrameError, rt)
	require.True(t, repository.IsCrypto(errorKind(t, rb)))
}

func TestRelayHandler_TwoHopsSync(t *testing.T) {
	r1, r2 := startRelay(t), startRelay(t)
	dest := echoDestination(t)
	req, err := wire.EncodeDestinationRequest(&service.DestinationRequestDTO{Body: []byte("hi")})
	require.NoError(t, err)

	sid := vo.NewSessionID()
	built, err := codec.BuildOnion(service.BuildOnionInput{
		SessionID:   sid,
		Path:        []*entity.RelayDescriptor{r1.descriptor(t), r2.descriptor(t)},
		Destination: dest,
		Request:     req,
	})
	require.NoError(t, err)

	rt, rb := exchange(t, r1.addr, vo.FrameEnvelope, built.Envelope)
	require.Equal(t, vo.FrameResponse, rt)
	reply, n, err := codec.UnwrapResponse(rb, built.Keys)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, service.ReplyErr(reply))
	require.Equal(t, "echo:hi", string(reply.Body))

	// r2 learned r1 as the caller, r1 learned the client
	_, err = r1.sessions.Find(sid)
	require.NoError(t, err)
	_, err = r2.sessions.Find(sid)
	require.NoError(t, err)
}

func TestRelayHandler_AsyncDelivers(t *testing.T) {
	r1 := startRelay(t)
	dest := echoDestination(t)
	req, err := wire.EncodeDestinationRequest(&service.DestinationRequestDTO{Body: []byte("hi")})
	require.NoError(t, err)

	delivered := make(chan *service.DeliveryDTO, 1)
	terminus, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer terminus.Close()
	go func() {
		c, err := terminus.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		ft, body, err := frames.ReadFrame(c)
		if err != nil || ft != vo.FrameDeliver {
			return
		}
		d, err := wire.DecodeDelivery(body)
		if err != nil {
			return
		}
		_ = frames.WriteFrame(c, vo.FrameAccepted, nil)
		delivered <- d
	}()

	sid := vo.NewSessionID()
	built, err := codec.BuildOnion(service.BuildOnionInput{
		SessionID:     sid,
		Path:          []*entity.RelayDescriptor{r1.descriptor(t)},
		Destination:   dest,
		Request:       req,
		ReturnAddress: terminus.Addr().String(),
	})
	require.NoError(t, err)

	rt, _ := exchange(t, r1.addr, vo.FrameEnvelope, built.Envelope)
	require.Equal(t, vo.FrameAccepted, rt)

	select {
	case d := <-delivered:
		require.Equal(t, sid.Bytes(), d.SessionID)
		reply, _, err := codec.UnwrapResponse(d.Blob, built.Keys)
		require.NoError(t, err)
		require.Equal(t, "echo:hi", string(reply.Body))
	case <-time.After(5 * time.Second):
		t.Fatal("no delivery")
	}
}
