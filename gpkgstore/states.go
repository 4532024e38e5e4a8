package gpkgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/pdok/vedit/backend"
)

func (c *conn) VersionInfo(ctx context.Context, name string) (backend.VersionInfo, error) {
	const op = backend.OpVersionGetInfo
	if err := c.check(op); err != nil {
		return backend.VersionInfo{}, err
	}
	var release int
	if err := c.q().QueryRowContext(ctx, `SELECT release FROM vedit_release`).Scan(&release); err != nil {
		return backend.VersionInfo{}, wrap(op, backend.CodeInternal, err)
	}
	if release != backend.Release {
		return backend.VersionInfo{}, backend.Errorf(op, backend.CodeInvalidRelease,
			"store release %d, client release %d", release, backend.Release)
	}
	v, err := version(ctx, c.q(), op, name)
	return v, wrap(op, backend.CodeInternal, err)
}

func version(ctx context.Context, q querier, op, name string) (backend.VersionInfo, error) {
	v := backend.VersionInfo{Name: name}
	err := q.QueryRowContext(ctx, `SELECT state_id, description FROM vedit_versions WHERE name = ?`, name).Scan(&v.State, &v.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return v, backend.Errorf(op, backend.CodeVersionNotFound, "version %q does not exist", name)
	}
	return v, err
}

func (c *conn) ChangeVersionState(ctx context.Context, name string, state backend.StateID) error {
	const op = backend.OpVersionChangeState
	return c.atomic(ctx, op, func(q querier) error {
		if _, err := version(ctx, q, op, name); err != nil {
			return err
		}
		st, err := stateInfo(ctx, q, op, state)
		if err != nil {
			return err
		}
		if st.Open {
			return backend.Errorf(op, backend.CodeStateOpen, "state %d must be closed before a version can point to it", state)
		}
		_, err = q.ExecContext(ctx, `UPDATE vedit_versions SET state_id = ? WHERE name = ?`, state, name)
		return err
	})
}

func stateInfo(ctx context.Context, q querier, op string, id backend.StateID) (backend.StateInfo, error) {
	st := backend.StateInfo{ID: id}
	var owner sql.NullString
	err := q.QueryRowContext(ctx, `SELECT parent_id, open_by FROM vedit_states WHERE state_id = ?`, id).Scan(&st.Parent, &owner)
	if errors.Is(err, sql.ErrNoRows) {
		return st, backend.Errorf(op, backend.CodeStateNotFound, "state %d does not exist", id)
	}
	st.Open = owner.Valid
	st.Owner = owner.String
	return st, err
}

func (c *conn) StateInfo(ctx context.Context, id backend.StateID) (backend.StateInfo, error) {
	const op = backend.OpStateGetInfo
	if err := c.check(op); err != nil {
		return backend.StateInfo{}, err
	}
	st, err := stateInfo(ctx, c.q(), op, id)
	return st, wrap(op, backend.CodeInternal, err)
}

func (c *conn) CreateState(ctx context.Context, parent backend.StateID) (backend.StateInfo, error) {
	const op = backend.OpStateCreate
	var child backend.StateInfo
	err := c.atomic(ctx, op, func(q querier) error {
		// open check and insert are a single statement
		res, err := q.ExecContext(ctx, `INSERT INTO vedit_states (parent_id)
			SELECT state_id FROM vedit_states WHERE state_id = ? AND open_by IS NULL`, parent)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			p, err := stateInfo(ctx, q, op, parent)
			if err != nil {
				return err
			}
			if p.Open {
				return backend.Errorf(op, backend.CodeStateOpen, "parent state %d is open", parent)
			}
			return backend.Errorf(op, backend.CodeInternal, "state %d was not branched", parent)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		child = backend.StateInfo{ID: backend.StateID(id), Parent: parent}
		return nil
	})
	return child, err
}

func (c *conn) OpenState(ctx context.Context, id backend.StateID) error {
	const op = backend.OpStateOpen
	return c.atomic(ctx, op, func(q querier) error {
		st, err := stateInfo(ctx, q, op, id)
		if err != nil {
			return err
		}
		if st.Open && st.Owner != c.id {
			return backend.Errorf(op, backend.CodeStateInUse, "state %d is open by another connection", id)
		}
		var other backend.StateID
		err = q.QueryRowContext(ctx, `SELECT state_id FROM vedit_states WHERE open_by = ? AND state_id <> ?`, c.id, id).Scan(&other)
		switch {
		case err == nil:
			return backend.Errorf(op, backend.CodeStateOpen, "connection already holds state %d open", other)
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}
		_, err = q.ExecContext(ctx, `UPDATE vedit_states SET open_by = ? WHERE state_id = ?`, c.id, id)
		return err
	})
}

func (c *conn) CloseState(ctx context.Context, id backend.StateID) error {
	const op = backend.OpStateClose
	return c.atomic(ctx, op, func(q querier) error {
		st, err := stateInfo(ctx, q, op, id)
		if err != nil {
			return err
		}
		if st.Open && st.Owner != c.id {
			return backend.Errorf(op, backend.CodeStateInUse, "state %d is open by another connection", id)
		}
		_, err = q.ExecContext(ctx, `UPDATE vedit_states SET open_by = NULL WHERE state_id = ?`, id)
		return err
	})
}

// tree is a snapshot of the state tree inside one transaction.
type tree struct {
	states   map[backend.StateID]*backend.StateInfo
	children map[backend.StateID][]backend.StateID
	refs     map[backend.StateID][]string
}

func loadTree(ctx context.Context, q querier) (*tree, error) {
	t := &tree{
		states:   make(map[backend.StateID]*backend.StateInfo),
		children: make(map[backend.StateID][]backend.StateID),
		refs:     make(map[backend.StateID][]string),
	}
	states, err := listStates(ctx, q)
	if err != nil {
		return nil, err
	}
	for i := range states {
		st := &states[i]
		t.states[st.ID] = st
		if st.ID != st.Parent {
			t.children[st.Parent] = append(t.children[st.Parent], st.ID)
		}
	}
	versions, err := listVersions(ctx, q)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		t.refs[v.State] = append(t.refs[v.State], v.Name)
	}
	return t, nil
}

// dependency explains why a state cannot be folded away, or returns "".
func (t *tree) dependency(st *backend.StateInfo) string {
	switch {
	case st.Open:
		return fmt.Sprintf("state %d is open", st.ID)
	case len(t.refs[st.ID]) > 0:
		return fmt.Sprintf("state %d is referenced by version %s", st.ID, strings.Join(t.refs[st.ID], ", "))
	case len(t.children[st.ID]) != 1:
		return fmt.Sprintf("state %d has %d children", st.ID, len(t.children[st.ID]))
	}
	return ""
}

func (c *conn) TrimTree(ctx context.Context, from, to backend.StateID) error {
	const op = backend.OpStateTrimTree
	if from == to {
		return backend.Errorf(op, backend.CodeInvalid, "cannot trim state %d onto itself", from)
	}
	// states that cannot be folded are reported after the others are committed
	var inUse []string
	err := c.atomic(ctx, op, func(q querier) error {
		t, err := loadTree(ctx, q)
		if err != nil {
			return err
		}
		if _, ok := t.states[from]; !ok {
			return backend.Errorf(op, backend.CodeStateNotFound, "state %d does not exist", from)
		}
		leaf, ok := t.states[to]
		if !ok {
			return backend.Errorf(op, backend.CodeStateNotFound, "state %d does not exist", to)
		}
		var path []backend.StateID
		for id := leaf.Parent; ; {
			path = append(path, id)
			if id == from {
				break
			}
			if id == backend.BaseStateID {
				return backend.Errorf(op, backend.CodeInvalid, "state %d is not an ancestor of %d", from, to)
			}
			st, ok := t.states[id]
			if !ok {
				return backend.Errorf(op, backend.CodeStateNotFound, "state %d does not exist", id)
			}
			id = st.Parent
		}
		tables, err := multiversionTables(ctx, q)
		if err != nil {
			return err
		}

		for i := len(path) - 1; i >= 0; i-- {
			if path[i] == backend.BaseStateID {
				continue
			}
			st := t.states[path[i]]
			if reason := t.dependency(st); reason != "" {
				inUse = append(inUse, reason)
				continue
			}
			child := t.states[t.children[st.ID][0]]
			if err := fold(ctx, q, tables, st, child.ID); err != nil {
				return err
			}
			child.Parent = st.Parent
			delete(t.states, st.ID)
		}
		return nil
	})
	if err == nil && len(inUse) > 0 {
		return backend.Errorf(op, backend.CodeStateInUse, "%s", strings.Join(inUse, "; "))
	}
	return err
}

// fold moves the rows of st into its only child and removes st from the tree.
func fold(ctx context.Context, q querier, tables []string, st *backend.StateInfo, child backend.StateID) error {
	for _, table := range tables {
		query := fmt.Sprintf(`UPDATE %s SET %s = ? WHERE %s = ?`, quote(table), StateColumn, StateColumn)
		if _, err := q.ExecContext(ctx, query, child, st.ID); err != nil {
			return err
		}
	}
	if _, err := q.ExecContext(ctx, `UPDATE vedit_states SET parent_id = ? WHERE state_id = ?`, st.Parent, child); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `DELETE FROM vedit_states WHERE state_id = ?`, st.ID)
	return err
}

func (c *conn) DeleteState(ctx context.Context, id backend.StateID) error {
	const op = backend.OpStateDelete
	return c.atomic(ctx, op, func(q querier) error {
		t, err := loadTree(ctx, q)
		if err != nil {
			return err
		}
		st, ok := t.states[id]
		switch {
		case !ok:
			return backend.Errorf(op, backend.CodeStateNotFound, "state %d does not exist", id)
		case id == backend.BaseStateID:
			return backend.Errorf(op, backend.CodeStateInUse, "the base state cannot be deleted")
		case st.Open && st.Owner != c.id:
			return backend.Errorf(op, backend.CodeStateInUse, "state %d is open by another connection", id)
		case len(t.refs[id]) > 0:
			return backend.Errorf(op, backend.CodeStateInUse, "state %d is referenced by version %s", id, strings.Join(t.refs[id], ", "))
		case len(t.children[id]) > 0:
			return backend.Errorf(op, backend.CodeStateInUse, "state %d has children", id)
		}
		tables, err := multiversionTables(ctx, q)
		if err != nil {
			return err
		}
		for _, table := range tables {
			query := fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, quote(table), StateColumn)
			if _, err := q.ExecContext(ctx, query, id); err != nil {
				return err
			}
		}
		_, err = q.ExecContext(ctx, `DELETE FROM vedit_states WHERE state_id = ?`, id)
		return err
	})
}

func listStates(ctx context.Context, q querier) ([]backend.StateInfo, error) {
	rows, err := q.QueryContext(ctx, `SELECT state_id, parent_id, open_by FROM vedit_states ORDER BY state_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var states []backend.StateInfo
	for rows.Next() {
		var st backend.StateInfo
		var owner sql.NullString
		if err := rows.Scan(&st.ID, &st.Parent, &owner); err != nil {
			return nil, err
		}
		st.Open = owner.Valid
		st.Owner = owner.String
		states = append(states, st)
	}
	return states, rows.Err()
}

func listVersions(ctx context.Context, q querier) ([]backend.VersionInfo, error) {
	rows, err := q.QueryContext(ctx, `SELECT name, state_id, description FROM vedit_versions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var versions []backend.VersionInfo
	for rows.Next() {
		var v backend.VersionInfo
		if err := rows.Scan(&v.Name, &v.State, &v.Description); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
