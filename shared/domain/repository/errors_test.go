package repository_test

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"ikedadada/go-onion/shared/domain/repository"
)

func TestFailure_IsSentinel(t *testing.T) {
	tests := []struct {
		kind repository.ErrorKind
		is   func(error) bool
	}{
		{repository.KindCrypto, repository.IsCrypto},
		{repository.KindInsufficientRelays, repository.IsInsufficientRelays},
		{repository.KindTransport, repository.IsTransport},
		{repository.KindProtocol, repository.IsProtocol},
		{repository.KindDestination, repository.IsDestination},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			err := fmt.Errorf("outer: %w", repository.NewFailure(tt.kind, "op", io.EOF))
			require.True(t, tt.is(err))
			require.ErrorIs(t, err, io.EOF)
			require.Equal(t, tt.kind, repository.KindOf(err))
		})
	}
}

func TestFailure_Error(t *testing.T) {
	f := repository.NewFailure(repository.KindTransport, "dial 127.0.0.1:6002", errors.New("refused"))
	require.Equal(t, "dial 127.0.0.1:6002: transport error: refused", f.Error())

	f = repository.NewFailure(repository.KindDestination, "", nil)
	require.Equal(t, "destination error", f.Error())
}

func TestKindOf_Sentinels(t *testing.T) {
	require.Equal(t, repository.KindCrypto, repository.KindOf(fmt.Errorf("x: %w", repository.ErrCrypto)))
	require.Equal(t, repository.KindNone, repository.KindOf(io.EOF))
	require.Equal(t, repository.KindNone, repository.KindOf(nil))
	require.Equal(t, "unknown error kind 42", repository.ErrorKind(42).String())
}
