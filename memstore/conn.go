package memstore

import (
	"context"

	"github.com/pdok/vedit/backend"
)

type conn struct {
	store  *Store
	id     string
	policy backend.ConcurrencyPolicy
	tx     bool
	closed bool
}

func (c *conn) ID() string {
	return c.id
}

// enter locks the store and checks the connection. The returned func unlocks.
func (c *conn) enter(op string) (func(), error) {
	c.store.mu.Lock()
	unlock := c.store.mu.Unlock
	if err := c.store.enter(op); err != nil {
		return unlock, err
	}
	if c.closed {
		return unlock, backend.Errorf(op, backend.CodeConnectionClosed, "connection %s is closed", c.id)
	}
	return unlock, nil
}

func (c *conn) SetConcurrency(_ context.Context, policy backend.ConcurrencyPolicy) error {
	unlock, err := c.enter(backend.OpSetConcurrency)
	defer unlock()
	if err != nil {
		return err
	}
	c.policy = policy
	return nil
}

func (c *conn) Begin(_ context.Context) error {
	unlock, err := c.enter(backend.OpBegin)
	defer unlock()
	if err != nil {
		return err
	}
	if c.tx {
		return backend.Errorf(backend.OpBegin, backend.CodeTransactionActive, "transaction already started")
	}
	c.tx = true
	return nil
}

func (c *conn) Commit(_ context.Context) error {
	return c.endTx(backend.OpCommit)
}

func (c *conn) Rollback(_ context.Context) error {
	return c.endTx(backend.OpRollback)
}

func (c *conn) endTx(op string) error {
	unlock, err := c.enter(op)
	defer unlock()
	if err != nil {
		return err
	}
	if !c.tx {
		return backend.Errorf(op, backend.CodeNoTransaction, "no transaction started")
	}
	c.tx = false
	return nil
}

func (c *conn) VersionInfo(_ context.Context, name string) (backend.VersionInfo, error) {
	unlock, err := c.enter(backend.OpVersionGetInfo)
	defer unlock()
	if err != nil {
		return backend.VersionInfo{}, err
	}
	if c.store.release != backend.Release {
		return backend.VersionInfo{}, backend.Errorf(backend.OpVersionGetInfo, backend.CodeInvalidRelease,
			"store release %d, client release %d", c.store.release, backend.Release)
	}
	v, ok := c.store.versions.Get(name)
	if !ok {
		return backend.VersionInfo{}, backend.Errorf(backend.OpVersionGetInfo, backend.CodeVersionNotFound, "version %q does not exist", name)
	}
	return *v, nil
}

func (c *conn) ChangeVersionState(_ context.Context, name string, state backend.StateID) error {
	const op = backend.OpVersionChangeState
	unlock, err := c.enter(op)
	defer unlock()
	if err != nil {
		return err
	}
	v, ok := c.store.versions.Get(name)
	if !ok {
		return backend.Errorf(op, backend.CodeVersionNotFound, "version %q does not exist", name)
	}
	st, err := c.store.state(op, state)
	if err != nil {
		return err
	}
	if st.Open {
		return backend.Errorf(op, backend.CodeStateOpen, "state %d must be closed before a version can point to it", state)
	}
	v.State = state
	return nil
}

func (c *conn) StateInfo(_ context.Context, id backend.StateID) (backend.StateInfo, error) {
	unlock, err := c.enter(backend.OpStateGetInfo)
	defer unlock()
	if err != nil {
		return backend.StateInfo{}, err
	}
	st, err := c.store.state(backend.OpStateGetInfo, id)
	if err != nil {
		return backend.StateInfo{}, err
	}
	return *st, nil
}

func (c *conn) CreateState(_ context.Context, parent backend.StateID) (backend.StateInfo, error) {
	const op = backend.OpStateCreate
	unlock, err := c.enter(op)
	defer unlock()
	if err != nil {
		return backend.StateInfo{}, err
	}
	p, err := c.store.state(op, parent)
	if err != nil {
		return backend.StateInfo{}, err
	}
	if p.Open {
		return backend.StateInfo{}, backend.Errorf(op, backend.CodeStateOpen, "parent state %d is open", parent)
	}
	st := &backend.StateInfo{ID: c.store.nextID, Parent: parent}
	c.store.nextID++
	c.store.states.Set(st.ID, st)
	return *st, nil
}

func (c *conn) OpenState(_ context.Context, id backend.StateID) error {
	const op = backend.OpStateOpen
	unlock, err := c.enter(op)
	defer unlock()
	if err != nil {
		return err
	}
	st, err := c.store.state(op, id)
	if err != nil {
		return err
	}
	if st.Open && st.Owner != c.id {
		return backend.Errorf(op, backend.CodeStateInUse, "state %d is open by another connection", id)
	}
	for p := c.store.states.Oldest(); p != nil; p = p.Next() {
		if p.Key != id && p.Value.Open && p.Value.Owner == c.id {
			return backend.Errorf(op, backend.CodeStateOpen, "connection already holds state %d open", p.Key)
		}
	}
	st.Open = true
	st.Owner = c.id
	return nil
}

func (c *conn) CloseState(_ context.Context, id backend.StateID) error {
	const op = backend.OpStateClose
	unlock, err := c.enter(op)
	defer unlock()
	if err != nil {
		return err
	}
	st, err := c.store.state(op, id)
	if err != nil {
		return err
	}
	if st.Open && st.Owner != c.id {
		return backend.Errorf(op, backend.CodeStateInUse, "state %d is open by another connection", id)
	}
	st.Open = false
	st.Owner = ""
	return nil
}

func (c *conn) TrimTree(_ context.Context, from, to backend.StateID) error {
	const op = backend.OpStateTrimTree
	unlock, err := c.enter(op)
	defer unlock()
	if err != nil {
		return err
	}
	if from == to {
		return backend.Errorf(op, backend.CodeInvalid, "cannot trim state %d onto itself", from)
	}
	if _, err = c.store.state(op, from); err != nil {
		return err
	}
	leaf, err := c.store.state(op, to)
	if err != nil {
		return err
	}
	// path runs bottom-up from the parent of to until from
	var path []backend.StateID
	for id := leaf.Parent; ; {
		path = append(path, id)
		if id == from {
			break
		}
		if id == backend.BaseStateID {
			return backend.Errorf(op, backend.CodeInvalid, "state %d is not an ancestor of %d", from, to)
		}
		st, err := c.store.state(op, id)
		if err != nil {
			return err
		}
		id = st.Parent
	}

	var inUse []string
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == backend.BaseStateID {
			continue
		}
		st, _ := c.store.states.Get(path[i])
		if reason := c.store.dependency(st); reason != "" {
			inUse = append(inUse, reason)
			continue
		}
		child, _ := c.store.states.Get(c.store.children(st.ID)[0])
		child.Parent = st.Parent
		c.store.states.Delete(st.ID)
	}
	if len(inUse) > 0 {
		return backend.Errorf(op, backend.CodeStateInUse, "%v", inUse)
	}
	return nil
}

func (c *conn) DeleteState(_ context.Context, id backend.StateID) error {
	const op = backend.OpStateDelete
	unlock, err := c.enter(op)
	defer unlock()
	if err != nil {
		return err
	}
	st, err := c.store.state(op, id)
	if err != nil {
		return err
	}
	switch {
	case id == backend.BaseStateID:
		return backend.Errorf(op, backend.CodeStateInUse, "the base state cannot be deleted")
	case st.Open && st.Owner != c.id:
		return backend.Errorf(op, backend.CodeStateInUse, "state %d is open by another connection", id)
	case len(c.store.referencedBy(id)) > 0:
		return backend.Errorf(op, backend.CodeStateInUse, "state %d is referenced by version %v", id, c.store.referencedBy(id))
	case len(c.store.children(id)) > 0:
		return backend.Errorf(op, backend.CodeStateInUse, "state %d has children", id)
	}
	c.store.states.Delete(id)
	return nil
}

func (c *conn) Close() error {
	unlock, err := c.enter(backend.OpClose)
	defer unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.tx = false
	return err
}
