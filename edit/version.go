package edit

import (
	"context"

	"github.com/pdok/vedit/backend"
)

// Resolve returns the state a version currently points to. An incompatible store
// release is reported as ErrVersionIncompatible so callers can degrade to the
// unversioned default state instead of giving up.
func Resolve(ctx context.Context, conn *Connection, name string) (backend.StateID, error) {
	if err := conn.usable(backend.OpVersionGetInfo); err != nil {
		return backend.DefaultStateID, err
	}
	v, err := conn.Backend().VersionInfo(ctx, name)
	switch backend.CodeOf(err) {
	case backend.CodeSuccess:
		return v.State, nil
	case backend.CodeInvalidRelease:
		return backend.DefaultStateID, newError(KindVersionIncompatible, backend.OpVersionGetInfo, err)
	case backend.CodeVersionNotFound:
		return backend.DefaultStateID, newError(KindVersionNotFound, backend.OpVersionGetInfo, err)
	default:
		return backend.DefaultStateID, newError(KindVersion, backend.OpVersionGetInfo, err)
	}
}
