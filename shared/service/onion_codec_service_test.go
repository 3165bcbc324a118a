package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ikedadada/go-onion/shared/domain/entity"
	"ikedadada/go-onion/shared/domain/repository"
	vo "ikedadada/go-onion/shared/domain/value_object"
)

type testHop struct {
	desc *entity.RelayDescriptor
	priv *vo.RSAPrivKey
}

func makeTestPath(t *testing.T, n int) []testHop {
	t.Helper()
	keys := testKeypairs(t, n)
	hops := make([]testHop, n)
	for i := range hops {
		ep, err := vo.NewEndpoint("127.0.0.1", uint16(6001+i))
		require.NoError(t, err)
		d, err := entity.NewRelayDescriptor(ep, keys[i].PublicKey())
		require.NoError(t, err)
		hops[i] = testHop{desc: d, priv: keys[i]}
	}
	return hops
}

func descriptors(hops []testHop) []*entity.RelayDescriptor {
	out := make([]*entity.RelayDescriptor, len(hops))
	for i, h := range hops {
		out[i] = h.desc
	}
	return out
}

func newCodec() OnionCodecService {
	return NewOnionCodecService(NewCryptoService(), NewWireEncodingService())
}

func TestOnionCodec_RoundTrip(t *testing.T) {
	codec := newCodec()
	dest, _ := vo.ParseEndpoint("127.0.0.1:9100")

	for n := 1; n <= 4; n++ {
		t.Run(fmt.Sprintf("%d hops", n), func(t *testing.T) {
			hops := makeTestPath(t, n)
			byAddr := map[vo.Endpoint]testHop{}
			for _, h := range hops {
				byAddr[h.desc.Address()] = h
			}
			sid := vo.NewSessionID()
			request := []byte(`{"echo":"hi"}`)

			out, err := codec.BuildOnion(BuildOnionInput{
				SessionID:     sid,
				Path:          descriptors(hops),
				Destination:   dest,
				Request:       request,
				ReturnAddress: "127.0.0.1:7000",
			})
			require.NoError(t, err)
			require.Len(t, out.Keys, n)
			require.Equal(t, hops[0].desc.Address(), out.Entry)

			env, at := out.Envelope, out.Entry
			for i := 0; i < n; i++ {
				hop, ok := byAddr[at]
				require.True(t, ok, "no relay at %s", at)
				p, err := codec.PeelOneLayer(env, hop.priv)
				require.NoError(t, err)
				require.True(t, sid.Equal(p.SessionID))
				require.Equal(t, out.Keys[i], p.Key)
				require.Zero(t, p.Budget)
				if i == 0 {
					require.Equal(t, "127.0.0.1:7000", p.ReturnAddress)
				} else {
					require.Empty(t, p.ReturnAddress)
				}
				if i < n-1 {
					require.Equal(t, vo.LayerForward, p.Kind)
				} else {
					require.Equal(t, vo.LayerTerminal, p.Kind)
					require.Equal(t, dest, p.NextHop)
					require.Equal(t, request, p.Inner)
				}
				env, at = p.Inner, p.NextHop
			}
		})
	}
}

func TestOnionCodec_KeyIsolation(t *testing.T) {
	codec := newCodec()
	hops := makeTestPath(t, 3)
	out, err := codec.BuildOnion(BuildOnionInput{SessionID: vo.NewSessionID(), Path: descriptors(hops), Request: []byte("x")})
	require.NoError(t, err)

	for _, wrong := range hops[1:] {
		_, err := codec.PeelOneLayer(out.Envelope, wrong.priv)
		require.True(t, repository.IsCrypto(err), "got %v", err)
	}
}

func TestOnionCodec_PeelMalformed(t *testing.T) {
	codec := newCodec()
	wire := NewWireEncodingService()
	crypto := NewCryptoService()
	hops := makeTestPath(t, 1)
	priv := hops[0].priv

	out, err := codec.BuildOnion(BuildOnionInput{SessionID: vo.NewSessionID(), Path: descriptors(hops), Request: []byte("x")})
	require.NoError(t, err)
	good, err := wire.DecodeEnvelope(out.Envelope)
	require.NoError(t, err)

	sealLayer := func(l *LayerDTO) []byte {
		key, _ := crypto.NewAESKey()
		plain, err := wire.EncodeLayer(l)
		require.NoError(t, err)
		payload, err := crypto.AESSeal(key, plain)
		require.NoError(t, err)
		ek, err := crypto.RSAEncrypt(priv.PublicKey(), key[:])
		require.NoError(t, err)
		b, err := wire.EncodeEnvelope(&EnvelopeDTO{Version: 1, EncryptedKey: ek, Payload: payload})
		require.NoError(t, err)
		return b
	}
	reencode := func(e EnvelopeDTO) []byte {
		b, err := wire.EncodeEnvelope(&e)
		require.NoError(t, err)
		return b
	}
	sid := vo.NewSessionID().Bytes()
	truncated := *good
	truncated.Payload = good.Payload[:len(good.Payload)/2]
	badVersion := *good
	badVersion.Version = 9
	noKey := *good
	noKey.EncryptedKey = nil

	tests := []struct {
		name  string
		in    []byte
		check func(error) bool
	}{
		{"garbage", []byte("not an envelope"), repository.IsProtocol},
		{"truncated payload", reencode(truncated), repository.IsCrypto},
		{"bad version", reencode(badVersion), repository.IsProtocol},
		{"missing key", reencode(noKey), repository.IsProtocol},
		{"untagged layer", sealLayer(&LayerDTO{SessionID: sid, Body: []byte("x")}), repository.IsProtocol},
		{"forward without next hop", sealLayer(&LayerDTO{Kind: 1, SessionID: sid, Body: []byte("x")}), repository.IsProtocol},
		{"bad session id", sealLayer(&LayerDTO{Kind: 2, SessionID: []byte{1, 2}}), repository.IsProtocol},
		{"bad next hop", sealLayer(&LayerDTO{Kind: 2, SessionID: sid, NextHop: "nowhere"}), repository.IsProtocol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.PeelOneLayer(tt.in, priv)
			require.True(t, tt.check(err), "got %v", err)
		})
	}
}

func TestOnionCodec_BuildInvalid(t *testing.T) {
	codec := newCodec()
	_, err := codec.BuildOnion(BuildOnionInput{SessionID: vo.NewSessionID()})
	require.ErrorIs(t, err, repository.ErrInvalidInput)
	_, err = codec.BuildOnion(BuildOnionInput{Path: descriptors(makeTestPath(t, 1))})
	require.ErrorIs(t, err, repository.ErrInvalidInput)
}

// wrapBack simulates the backward path: the hop at index `from` produces the
// final reply and every hop before it relays.
func wrapBack(t *testing.T, codec OnionCodecService, keys []vo.AESKey, from int, reply *ReplyDTO) []byte {
	t.Helper()
	blob, err := codec.WrapReply(reply, keys[from])
	require.NoError(t, err)
	for i := from - 1; i >= 0; i-- {
		blob, err = codec.WrapResponse(vo.ReturnRelayed, blob, keys[i])
		require.NoError(t, err)
	}
	return blob
}

func TestOnionCodec_UnwrapResponse(t *testing.T) {
	codec := newCodec()
	crypto := NewCryptoService()
	keys := make([]vo.AESKey, 3)
	for i := range keys {
		keys[i], _ = crypto.NewAESKey()
	}

	t.Run("full path", func(t *testing.T) {
		blob := wrapBack(t, codec, keys, 2, OKReply(map[string]string{"Content-Type": "application/json"}, []byte(`{"echo":"hi"}`)))
		reply, n, err := codec.UnwrapResponse(blob, keys)
		require.NoError(t, err)
		require.Equal(t, 3, n)
		require.NoError(t, ReplyErr(reply))
		require.Equal(t, []byte(`{"echo":"hi"}`), reply.Body)
		require.Equal(t, "application/json", reply.Headers["Content-Type"])
	})

	t.Run("error raised mid path", func(t *testing.T) {
		cause := repository.NewFailure(repository.KindTransport, "dial 127.0.0.1:6003", fmt.Errorf("refused"))
		blob := wrapBack(t, codec, keys, 1, ErrorReply(cause))
		reply, n, err := codec.UnwrapResponse(blob, keys)
		require.NoError(t, err)
		require.Equal(t, 2, n)
		require.True(t, repository.IsTransport(ReplyErr(reply)))
	})

	t.Run("wrong order", func(t *testing.T) {
		blob := wrapBack(t, codec, keys, 2, OKReply(nil, nil))
		reversed := []vo.AESKey{keys[2], keys[1], keys[0]}
		_, _, err := codec.UnwrapResponse(blob, reversed)
		require.True(t, repository.IsCrypto(err))
	})

	t.Run("relayed past last hop", func(t *testing.T) {
		blob, err := codec.WrapResponse(vo.ReturnRelayed, []byte("more"), keys[0])
		require.NoError(t, err)
		_, _, err = codec.UnwrapResponse(blob, keys[:1])
		require.True(t, repository.IsProtocol(err))
	})
}

func TestReplyErr(t *testing.T) {
	require.NoError(t, ReplyErr(OKReply(nil, nil)))
	err := ReplyErr(ErrorReply(fmt.Errorf("plain")))
	require.True(t, repository.IsProtocol(err))
	err = ReplyErr(&ReplyDTO{Status: ReplyError, ErrorKind: 99})
	require.True(t, repository.IsProtocol(err))
	err = ReplyErr(ErrorReply(repository.NewFailure(repository.KindDestination, "fetch", fmt.Errorf("refused"))))
	require.True(t, repository.IsDestination(err))
	require.Contains(t, err.Error(), "refused")
}

func TestHopBudgets(t *testing.T) {
	require.Equal(t,
		[]time.Duration{5 * time.Second, 3 * time.Second, time.Second},
		HopBudgets(3, time.Second, 2*time.Second))
	require.Equal(t, []time.Duration{time.Second}, HopBudgets(1, time.Second, 2*time.Second))
	require.Nil(t, HopBudgets(0, time.Second, time.Second))
	require.Nil(t, HopBudgets(3, 0, time.Second))
}

func TestOnionCodec_BudgetsShrinkTowardsExit(t *testing.T) {
	codec := newCodec()
	hops := makeTestPath(t, 3)
	byAddr := map[vo.Endpoint]testHop{}
	for _, h := range hops {
		byAddr[h.desc.Address()] = h
	}
	dest, _ := vo.ParseEndpoint("127.0.0.1:9100")
	budgets := HopBudgets(3, time.Second, 500*time.Millisecond)

	out, err := codec.BuildOnion(BuildOnionInput{
		SessionID:   vo.NewSessionID(),
		Path:        descriptors(hops),
		Destination: dest,
		Request:     []byte("x"),
		Budgets:     budgets,
	})
	require.NoError(t, err)

	env, at := out.Envelope, out.Entry
	var seen []time.Duration
	for range hops {
		p, err := codec.PeelOneLayer(env, byAddr[at].priv)
		require.NoError(t, err)
		seen = append(seen, p.Budget)
		env, at = p.Inner, p.NextHop
	}
	require.Equal(t, budgets, seen)

	_, err = codec.BuildOnion(BuildOnionInput{SessionID: vo.NewSessionID(), Path: descriptors(hops), Request: []byte("x"), Budgets: budgets[:1]})
	require.ErrorIs(t, err, repository.ErrInvalidInput)
}
