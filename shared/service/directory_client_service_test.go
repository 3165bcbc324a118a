package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ikedadada/go-onion/shared/domain/repository"
	vo "ikedadada/go-onion/shared/domain/value_object"
	infraHTTP "ikedadada/go-onion/shared/infrastructure/http"
)

func newTestDirectoryClient(t *testing.T, h http.HandlerFunc) DirectoryClientService {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewDirectoryClientService(srv.URL+"/", infraHTTP.NewHTTPClient(time.Second))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestDirectoryClient_Register(t *testing.T) {
	key := testKeypairs(t, 1)[0]
	ep, _ := vo.ParseEndpoint("127.0.0.1:6001")

	var got RegisterRequestDTO
	c := newTestDirectoryClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, DirectoryRelaysPath, r.URL.Path)
		// 毎回新しい値に読む: omitempty の項目が前回の値で残らないように
		var req RegisterRequestDTO
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		got = req
		writeJSON(w, http.StatusOK, StatusResponseDTO{Status: StatusOK})
	})

	require.NoError(t, c.Register(context.Background(), ep, key.PublicKey()))
	require.Equal(t, "127.0.0.1:6001", got.Address)
	pk, err := vo.RSAPubKeyFromPEM([]byte(got.PublicKey))
	require.NoError(t, err)
	require.True(t, pk.Equal(key.PublicKey()))

	require.NoError(t, c.Deregister(context.Background(), ep))
	require.True(t, got.Deregister)
	require.Empty(t, got.PublicKey)
}

func TestDirectoryClient_RegisterRejected(t *testing.T) {
	ep, _ := vo.ParseEndpoint("127.0.0.1:6001")
	c := newTestDirectoryClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, StatusResponseDTO{Status: StatusError, Error: "bad key"})
	})
	err := c.Register(context.Background(), ep, testKeypairs(t, 1)[0].PublicKey())
	require.ErrorContains(t, err, "bad key")
}

func TestDirectoryClient_SelectRelays(t *testing.T) {
	keys := testKeypairs(t, 3)
	relays := []RelayDTO{
		{Address: "127.0.0.1:6001", PublicKey: string(keys[0].PublicKey().ToPEM())},
		{Address: "127.0.0.1:6002", PublicKey: string(keys[1].PublicKey().ToPEM())},
		{Address: "127.0.0.1:6003", PublicKey: string(keys[2].PublicKey().ToPEM())},
	}
	c := newTestDirectoryClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("count") {
		case "3":
			writeJSON(w, http.StatusOK, RelayListResponseDTO{Relays: relays})
		case "2":
			writeJSON(w, http.StatusOK, RelayListResponseDTO{Relays: []RelayDTO{relays[0], relays[0]}})
		default:
			writeJSON(w, http.StatusServiceUnavailable, RelayListResponseDTO{Status: StatusError, Error: ErrCodeInsufficient})
		}
	})

	got, err := c.SelectRelays(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "127.0.0.1:6002", got[1].Address().String())
	require.True(t, got[2].PubKey().Equal(keys[2].PublicKey()))

	_, err = c.SelectRelays(context.Background(), 2)
	require.True(t, repository.IsProtocol(err), "duplicates must be rejected: %v", err)

	_, err = c.SelectRelays(context.Background(), 5)
	require.True(t, repository.IsInsufficientRelays(err))

	_, err = c.SelectRelays(context.Background(), 0)
	require.ErrorIs(t, err, repository.ErrInvalidInput)
}

func TestDirectoryClient_Unreachable(t *testing.T) {
	c := NewDirectoryClientService("http://127.0.0.1:1", infraHTTP.NewHTTPClient(time.Second))
	_, err := c.SelectRelays(context.Background(), 3)
	require.True(t, repository.IsTransport(err))
}
