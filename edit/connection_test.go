package edit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pdok/vedit/backend"
	"github.com/pdok/vedit/memstore"
)

func connect(t *testing.T, store *memstore.Store) *Connection {
	t.Helper()
	c, err := Connect(context.Background(), store, params, backend.ProtectedPolicy, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Release() })
	return c
}

func TestConnectSetConcurrencyFailure(t *testing.T) {
	store := memstore.New()
	store.Fail(backend.OpSetConcurrency, backend.Errorf(backend.OpSetConcurrency, backend.CodeInvalid, "unsupported"))

	c, err := Connect(context.Background(), store, params, backend.ProtectedPolicy, nil)
	require.Nil(t, c)
	require.ErrorIs(t, err, ErrConnect)
	calls := store.Calls()
	require.Equal(t, backend.OpClose, calls[len(calls)-1])
}

func TestConnectionTransactionSlot(t *testing.T) {
	ctx := context.Background()
	c := connect(t, memstore.New())

	err := c.Commit(ctx)
	require.ErrorIs(t, err, ErrTransaction)
	require.True(t, err.(*Error).Code == backend.CodeNoTransaction)
	require.ErrorIs(t, c.Rollback(ctx), ErrTransaction)

	require.NoError(t, c.Begin(ctx))
	require.True(t, c.InTransaction())
	err = c.Begin(ctx)
	require.ErrorIs(t, err, ErrTransaction)
	require.Equal(t, backend.CodeTransactionActive, err.(*Error).Code)

	require.NoError(t, c.Commit(ctx))
	require.False(t, c.InTransaction())
	require.NoError(t, c.Begin(ctx))
	require.NoError(t, c.Rollback(ctx))
	require.False(t, c.InTransaction())
}

func TestFailedCommitKeepsTransaction(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	c := connect(t, store)
	require.NoError(t, c.Begin(ctx))

	store.Fail(backend.OpCommit, backend.Errorf(backend.OpCommit, backend.CodeBusy, "locked"))
	require.ErrorIs(t, c.Commit(ctx), ErrTransaction)
	require.True(t, c.InTransaction())
	require.NoError(t, c.Rollback(ctx))
}

func TestReleaseWithActiveTransaction(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	c := connect(t, store)
	require.NoError(t, c.Begin(ctx))

	err := c.Release()
	require.ErrorIs(t, err, ErrTransaction)
	require.True(t, c.Released())
	require.False(t, c.InTransaction())
	calls := store.Calls()
	require.Equal(t, []string{backend.OpRollback, backend.OpClose}, calls[len(calls)-2:])

	require.NoError(t, c.Release())
	require.ErrorIs(t, c.Begin(ctx), ErrTransaction)
	_, err = Resolve(ctx, c, backend.DefaultVersion)
	require.Equal(t, backend.CodeConnectionClosed, err.(*Error).Code)
}
