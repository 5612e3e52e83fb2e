package xterr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorString(t *testing.T) {
	err := New(OpDeleteChain, KindNotEmpty)
	require.Equal(t, "delete_chain: not-empty", err.Error())

	wrapped := Wrap(OpCommit, KindPermission, errors.New("EPERM"))
	require.Equal(t, "commit: permission: EPERM", wrapped.Error())
}

func TestStrerrorPrefersOpScopedMessage(t *testing.T) {
	err := New(OpDeleteChain, KindStillReferenced)
	require.Equal(t, "cannot delete chain: it is still the target of a jump", Strerror(OpDeleteChain, err))

	// an op without a scoped message falls back to the generic string
	require.Equal(t, "chain is still referenced by a jump", Strerror(OpZeroCounter, err))

	// permission has no scoped variant anywhere
	require.Equal(t, "permission denied", Strerror(OpCommit, New(OpCommit, KindPermission)))
}

func TestStrerrorPassesThroughForeignErrors(t *testing.T) {
	plain := errors.New("some transport failure")
	require.Equal(t, "some transport failure", Strerror(OpCommit, plain))
}

func TestHasKindUnwraps(t *testing.T) {
	inner := New(OpParse, KindInvalidRule)
	outer := fmt.Errorf("while initializing: %w", inner)
	require.True(t, HasKind(outer, KindInvalidRule))
	require.False(t, HasKind(outer, KindNotFound))

	nested := Wrap(OpInit, KindSnapshotChanged, inner)
	require.True(t, HasKind(nested, KindSnapshotChanged))
	require.True(t, HasKind(nested, KindInvalidRule))
	require.False(t, HasKind(nil, KindInvalidRule))
	require.False(t, HasKind(errors.New("plain"), KindInvalidRule))
}

func TestUnwrapPlaysWithErrorsIs(t *testing.T) {
	sentinel := errors.New("root cause")
	err := Wrap(OpCommit, KindInvalidRule, sentinel)
	require.True(t, errors.Is(err, sentinel))
}
