package edit

import (
	"context"
	"errors"
	"log/slog"

	"github.com/pdok/vedit/backend"
)

// Connection owns a backend connection and its single transaction slot.
type Connection struct {
	conn     backend.Conn
	log      *slog.Logger
	inTx     bool
	released bool
}

// Connect opens a connection and sets its concurrency policy. On any failure the
// connection is released and a connect error is returned.
func Connect(ctx context.Context, b backend.Backend, params backend.ConnectParams, policy backend.ConcurrencyPolicy, log *slog.Logger) (*Connection, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, err := b.Connect(ctx, params)
	if err != nil {
		return nil, newError(KindConnect, backend.OpConnect, err)
	}
	c := &Connection{conn: conn, log: log.With("connection", conn.ID())}
	if err := conn.SetConcurrency(ctx, policy); err != nil {
		cerr := newError(KindConnect, backend.OpSetConcurrency, err)
		if rerr := c.Release(); rerr != nil {
			return nil, errors.Join(cerr, rerr)
		}
		return nil, cerr
	}
	c.log.Debug("connected", "server", params.Server, "database", params.Database, "policy", policy)
	return c, nil
}

// Backend exposes the underlying connection for collaborators such as the layer registry.
func (c *Connection) Backend() backend.Conn {
	return c.conn
}

// ID is the backend's identity of this connection.
func (c *Connection) ID() string {
	return c.conn.ID()
}

// InTransaction reports whether a transaction is active.
func (c *Connection) InTransaction() bool {
	return c.inTx
}

// Released reports whether Release was called.
func (c *Connection) Released() bool {
	return c.released
}

func (c *Connection) usable(op string) error {
	if c.released {
		return errorf(KindTransaction, op, backend.CodeConnectionClosed, "connection already released")
	}
	return nil
}

// Begin starts the transaction. Only one may be active.
func (c *Connection) Begin(ctx context.Context) error {
	if err := c.usable(backend.OpBegin); err != nil {
		return err
	}
	if c.inTx {
		return errorf(KindTransaction, backend.OpBegin, backend.CodeTransactionActive, "a transaction is already active")
	}
	if err := c.conn.Begin(ctx); err != nil {
		return newError(KindTransaction, backend.OpBegin, err)
	}
	c.inTx = true
	return nil
}

// Commit commits the active transaction.
func (c *Connection) Commit(ctx context.Context) error {
	if err := c.usable(backend.OpCommit); err != nil {
		return err
	}
	if !c.inTx {
		return errorf(KindTransaction, backend.OpCommit, backend.CodeNoTransaction, "no active transaction")
	}
	if err := c.conn.Commit(ctx); err != nil {
		// a failed commit leaves the transaction open so it can still be rolled back
		return newError(KindTransaction, backend.OpCommit, err)
	}
	c.inTx = false
	return nil
}

// Rollback rolls back the active transaction. The slot is freed even when the
// backend reports a failure, since there is nothing left to retry.
func (c *Connection) Rollback(ctx context.Context) error {
	if err := c.usable(backend.OpRollback); err != nil {
		return err
	}
	if !c.inTx {
		return errorf(KindTransaction, backend.OpRollback, backend.CodeNoTransaction, "no active transaction")
	}
	c.inTx = false
	if err := c.conn.Rollback(ctx); err != nil {
		return newError(KindTransaction, backend.OpRollback, err)
	}
	return nil
}

// Release frees the connection. It is safe to call more than once. A transaction
// that is still active is rolled back first and reported as an error.
func (c *Connection) Release() error {
	if c.released {
		return nil
	}
	var errs []error
	if c.inTx {
		errs = append(errs, errorf(KindTransaction, backend.OpClose, backend.CodeTransactionActive, "released with an active transaction, rolling back"))
		if err := c.Rollback(context.Background()); err != nil {
			errs = append(errs, err)
		}
	}
	c.released = true
	if err := c.conn.Close(); err != nil {
		errs = append(errs, newError(KindConnect, backend.OpClose, err))
	}
	c.log.Debug("released")
	return errors.Join(errs...)
}
