package edit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pdok/vedit/backend"
	"github.com/pdok/vedit/memstore"
)

func TestCreateChild(t *testing.T) {
	ctx := context.Background()
	store := headAt10()
	tree := NewStateTree(connect(t, store))

	child, err := tree.CreateChild(ctx, 10)
	require.NoError(t, err)
	info, err := tree.Info(ctx, child)
	require.NoError(t, err)
	require.Equal(t, backend.StateID(10), info.Parent)
	require.False(t, info.Open)

	_, err = tree.CreateChild(ctx, 99)
	require.ErrorIs(t, err, ErrStateTree)
	require.Equal(t, backend.CodeStateNotFound, err.(*Error).Code)
}

func TestCreateChildOfOpenState(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	store.PutState(10, backend.BaseStateID, true)
	tree := NewStateTree(connect(t, store))

	_, err := tree.CreateChild(ctx, 10)
	require.ErrorIs(t, err, ErrBaselineLocked)
	require.Contains(t, err.Error(), "must be closed before it can be branched")
	require.NotContains(t, store.Calls(), backend.OpStateCreate)
}

func TestOpenCloseState(t *testing.T) {
	ctx := context.Background()
	store := headAt10()
	a := NewStateTree(connect(t, store))
	b := NewStateTree(connect(t, store))

	child, err := a.CreateChild(ctx, 10)
	require.NoError(t, err)
	require.NoError(t, a.Open(ctx, child))

	err = b.Open(ctx, child)
	require.ErrorIs(t, err, ErrStateTree)
	require.True(t, err.(*Error).InUse())
	_, err = b.CreateChild(ctx, child)
	require.ErrorIs(t, err, ErrBaselineLocked)

	require.NoError(t, a.Close(ctx, child))
	require.NoError(t, b.Open(ctx, child))
}

func TestTrimAndDeleteInUse(t *testing.T) {
	ctx := context.Background()
	store := headAt10()
	store.PutState(11, 10, false)
	store.PutVersion("PIN", 10)
	tree := NewStateTree(connect(t, store))

	err := tree.Trim(ctx, 10, 11)
	require.ErrorIs(t, err, ErrStateTree)
	require.Equal(t, SeverityWarning, err.(*Error).Severity)
	require.Contains(t, err.Error(), "warning in "+backend.OpStateTrimTree)

	err = tree.Delete(ctx, 10)
	require.Equal(t, SeverityWarning, err.(*Error).Severity)

	err = tree.Delete(ctx, 42)
	require.ErrorIs(t, err, ErrStateTree)
	require.Equal(t, SeverityFatal, err.(*Error).Severity)
	require.Equal(t, backend.CodeStateNotFound, err.(*Error).Code)

	require.NoError(t, tree.Delete(ctx, 11))
}
