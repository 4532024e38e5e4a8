package memstore

import (
	"context"

	"github.com/pdok/vedit/backend"
)

func (c *conn) Versions(_ context.Context) ([]backend.VersionInfo, error) {
	unlock, err := c.enter(backend.OpVersionList)
	defer unlock()
	if err != nil {
		return nil, err
	}
	versions := make([]backend.VersionInfo, 0, c.store.versions.Len())
	for p := c.store.versions.Oldest(); p != nil; p = p.Next() {
		versions = append(versions, *p.Value)
	}
	return versions, nil
}

func (c *conn) States(_ context.Context) ([]backend.StateInfo, error) {
	unlock, err := c.enter(backend.OpStateList)
	defer unlock()
	if err != nil {
		return nil, err
	}
	states := make([]backend.StateInfo, 0, c.store.states.Len())
	for p := c.store.states.Oldest(); p != nil; p = p.Next() {
		states = append(states, *p.Value)
	}
	return states, nil
}

func (c *conn) CreateVersion(_ context.Context, name, from, description string) (backend.VersionInfo, error) {
	const op = backend.OpVersionCreate
	unlock, err := c.enter(op)
	defer unlock()
	if err != nil {
		return backend.VersionInfo{}, err
	}
	if name == "" {
		return backend.VersionInfo{}, backend.Errorf(op, backend.CodeInvalid, "version name is empty")
	}
	if _, ok := c.store.versions.Get(name); ok {
		return backend.VersionInfo{}, backend.Errorf(op, backend.CodeVersionExists, "version %q already exists", name)
	}
	parent, ok := c.store.versions.Get(from)
	if !ok {
		return backend.VersionInfo{}, backend.Errorf(op, backend.CodeVersionNotFound, "version %q does not exist", from)
	}
	v := &backend.VersionInfo{Name: name, State: parent.State, Description: description}
	c.store.versions.Set(name, v)
	return *v, nil
}

func (c *conn) DeleteVersion(_ context.Context, name string) error {
	const op = backend.OpVersionDelete
	unlock, err := c.enter(op)
	defer unlock()
	if err != nil {
		return err
	}
	if name == backend.DefaultVersion {
		return backend.Errorf(op, backend.CodeInvalid, "version %q cannot be deleted", name)
	}
	if _, ok := c.store.versions.Delete(name); !ok {
		return backend.Errorf(op, backend.CodeVersionNotFound, "version %q does not exist", name)
	}
	return nil
}
