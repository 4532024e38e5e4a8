package gpkgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-spatial/geom/encoding/gpkg"

	"github.com/pdok/vedit/backend"
)

// busy timeouts per concurrency policy, in milliseconds
const (
	unprotectedBusyTimeout = 0
	protectedBusyTimeout   = 5000
)

type conn struct {
	handle *gpkg.Handle
	db     *sql.Conn
	tx     *sql.Tx
	id     string
	closed bool
}

func (c *conn) ID() string {
	return c.id
}

// q is the transaction when one is active, the connection otherwise.
func (c *conn) q() querier {
	if c.tx != nil {
		return c.tx
	}
	return c.db
}

func (c *conn) check(op string) error {
	if c.closed {
		return backend.Errorf(op, backend.CodeConnectionClosed, "connection %s is closed", c.id)
	}
	return nil
}

// atomic runs f in the active transaction, or in a transaction of its own.
func (c *conn) atomic(ctx context.Context, op string, f func(q querier) error) error {
	if err := c.check(op); err != nil {
		return err
	}
	if c.tx != nil {
		return wrap(op, backend.CodeInternal, f(c.tx))
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(op, backend.CodeInternal, err)
	}
	if err := f(tx); err != nil {
		_ = tx.Rollback()
		return wrap(op, backend.CodeInternal, err)
	}
	return wrap(op, backend.CodeInternal, tx.Commit())
}

func (c *conn) SetConcurrency(ctx context.Context, policy backend.ConcurrencyPolicy) error {
	const op = backend.OpSetConcurrency
	if err := c.check(op); err != nil {
		return err
	}
	timeout := unprotectedBusyTimeout
	if policy == backend.ProtectedPolicy {
		timeout = protectedBusyTimeout
	}
	_, err := c.db.ExecContext(ctx, fmt.Sprintf(`PRAGMA busy_timeout = %d`, timeout))
	return wrap(op, backend.CodeInternal, err)
}

func (c *conn) Begin(ctx context.Context) error {
	const op = backend.OpBegin
	if err := c.check(op); err != nil {
		return err
	}
	if c.tx != nil {
		return backend.Errorf(op, backend.CodeTransactionActive, "transaction already started")
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(op, backend.CodeInternal, err)
	}
	c.tx = tx
	return nil
}

func (c *conn) Commit(_ context.Context) error {
	const op = backend.OpCommit
	if err := c.check(op); err != nil {
		return err
	}
	if c.tx == nil {
		return backend.Errorf(op, backend.CodeNoTransaction, "no transaction started")
	}
	tx := c.tx
	// a transaction is finished after a commit attempt, even a failed one
	c.tx = nil
	return wrap(op, backend.CodeInternal, tx.Commit())
}

func (c *conn) Rollback(_ context.Context) error {
	const op = backend.OpRollback
	if err := c.check(op); err != nil {
		return err
	}
	if c.tx == nil {
		return backend.Errorf(op, backend.CodeNoTransaction, "no transaction started")
	}
	tx := c.tx
	c.tx = nil
	return wrap(op, backend.CodeInternal, tx.Rollback())
}

func (c *conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	var errs []error
	if c.tx != nil {
		errs = append(errs, c.tx.Rollback())
		c.tx = nil
	}
	errs = append(errs, c.db.Close())
	errs = append(errs, c.handle.Close())
	return wrap(backend.OpClose, backend.CodeInternal, errors.Join(errs...))
}
