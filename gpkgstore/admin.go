package gpkgstore

import (
	"context"

	"github.com/pdok/vedit/backend"
)

func (c *conn) Versions(ctx context.Context) ([]backend.VersionInfo, error) {
	const op = backend.OpVersionList
	if err := c.check(op); err != nil {
		return nil, err
	}
	versions, err := listVersions(ctx, c.q())
	return versions, wrap(op, backend.CodeInternal, err)
}

func (c *conn) States(ctx context.Context) ([]backend.StateInfo, error) {
	const op = backend.OpStateList
	if err := c.check(op); err != nil {
		return nil, err
	}
	states, err := listStates(ctx, c.q())
	return states, wrap(op, backend.CodeInternal, err)
}

func (c *conn) CreateVersion(ctx context.Context, name, from, description string) (backend.VersionInfo, error) {
	const op = backend.OpVersionCreate
	var v backend.VersionInfo
	err := c.atomic(ctx, op, func(q querier) error {
		if name == "" {
			return backend.Errorf(op, backend.CodeInvalid, "version name is empty")
		}
		if _, err := version(ctx, q, op, name); err == nil {
			return backend.Errorf(op, backend.CodeVersionExists, "version %q already exists", name)
		}
		parent, err := version(ctx, q, op, from)
		if err != nil {
			return err
		}
		v = backend.VersionInfo{Name: name, State: parent.State, Description: description}
		_, err = q.ExecContext(ctx, `INSERT INTO vedit_versions (name, state_id, description) VALUES (?, ?, ?)`,
			v.Name, v.State, v.Description)
		return err
	})
	return v, err
}

func (c *conn) DeleteVersion(ctx context.Context, name string) error {
	const op = backend.OpVersionDelete
	return c.atomic(ctx, op, func(q querier) error {
		if name == backend.DefaultVersion {
			return backend.Errorf(op, backend.CodeInvalid, "version %q cannot be deleted", name)
		}
		res, err := q.ExecContext(ctx, `DELETE FROM vedit_versions WHERE name = ?`, name)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return backend.Errorf(op, backend.CodeVersionNotFound, "version %q does not exist", name)
		}
		return nil
	})
}
