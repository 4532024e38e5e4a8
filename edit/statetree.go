package edit

import (
	"context"

	"github.com/pdok/vedit/backend"
)

// StateTree runs the state operations of one connection.
//
// The checks made here are advisory. Other sessions mutate the same tree, so no
// read-then-act sequence is atomic: the backend has the final word, and "in use"
// answers from Trim and Delete are expected under concurrent use.
type StateTree struct {
	conn *Connection
}

// NewStateTree binds the state operations to conn.
func NewStateTree(conn *Connection) StateTree {
	return StateTree{conn: conn}
}

func (t StateTree) call(op string, f func(backend.Conn) error) error {
	if err := t.conn.usable(op); err != nil {
		return err
	}
	if err := f(t.conn.Backend()); err != nil {
		return newError(KindStateTree, op, err)
	}
	return nil
}

// Info returns the parent and open flag of a state.
func (t StateTree) Info(ctx context.Context, id backend.StateID) (backend.StateInfo, error) {
	var info backend.StateInfo
	err := t.call(backend.OpStateGetInfo, func(c backend.Conn) (err error) {
		info, err = c.StateInfo(ctx, id)
		return err
	})
	return info, err
}

// CreateChild creates a new state under parent. A parent that is open for edits
// cannot be branched: that is checked up front and again atomically by the
// backend, and both are reported as ErrBaselineLocked.
func (t StateTree) CreateChild(ctx context.Context, parent backend.StateID) (backend.StateID, error) {
	info, err := t.Info(ctx, parent)
	if err != nil {
		return backend.DefaultStateID, err
	}
	if info.Open {
		return backend.DefaultStateID, baselineLocked(parent, nil)
	}
	var child backend.StateInfo
	err = t.call(backend.OpStateCreate, func(c backend.Conn) (err error) {
		child, err = c.CreateState(ctx, parent)
		return err
	})
	if e, ok := err.(*Error); ok && e.Code == backend.CodeStateOpen {
		return backend.DefaultStateID, baselineLocked(parent, e.Err)
	}
	if err != nil {
		return backend.DefaultStateID, err
	}
	return child.ID, nil
}

func baselineLocked(parent backend.StateID, cause error) *Error {
	e := errorf(KindBaselineLocked, backend.OpStateCreate, backend.CodeStateOpen,
		"state %d is currently open for edits, it must be closed before it can be branched", parent)
	e.Err = cause
	return e
}

// Open makes id the write target of this connection.
func (t StateTree) Open(ctx context.Context, id backend.StateID) error {
	return t.call(backend.OpStateOpen, func(c backend.Conn) error {
		return c.OpenState(ctx, id)
	})
}

// Close ends writing to id. A state must be closed before a version can point to it.
func (t StateTree) Close(ctx context.Context, id backend.StateID) error {
	return t.call(backend.OpStateClose, func(c backend.Conn) error {
		return c.CloseState(ctx, id)
	})
}

// Trim prunes the states between from and to that became unreachable. A state
// still referenced elsewhere is reported with SeverityWarning.
func (t StateTree) Trim(ctx context.Context, from, to backend.StateID) error {
	return tolerateInUse(t.call(backend.OpStateTrimTree, func(c backend.Conn) error {
		return c.TrimTree(ctx, from, to)
	}))
}

// Delete removes id. Another session holding or depending on it is reported with
// SeverityWarning.
func (t StateTree) Delete(ctx context.Context, id backend.StateID) error {
	return tolerateInUse(t.call(backend.OpStateDelete, func(c backend.Conn) error {
		return c.DeleteState(ctx, id)
	}))
}

func tolerateInUse(err error) error {
	if e, ok := err.(*Error); ok && e.InUse() {
		e.Severity = SeverityWarning
	}
	return err
}
