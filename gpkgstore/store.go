// Package gpkgstore keeps a state tree, its versions and multiversion feature
// tables in a single GeoPackage.
//
// The database named by backend.ConnectParams.Database is the GeoPackage file. Every
// connection gets its own SQLite connection, so two connections on the same file
// behave like two sessions on a shared server: writes of one are only visible to
// the other after commit, and concurrent writers wait for or fail on the file lock
// depending on the concurrency policy.
package gpkgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-spatial/geom/encoding/gpkg"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/pdok/vedit/backend"
)

// StateColumn holds the state a row of a multiversion table was written in.
const StateColumn = "sde_state_id"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS vedit_release (
	release INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS vedit_states (
	state_id  INTEGER PRIMARY KEY AUTOINCREMENT,
	parent_id INTEGER NOT NULL,
	open_by   TEXT
);
CREATE TABLE IF NOT EXISTS vedit_versions (
	name        TEXT PRIMARY KEY,
	state_id    INTEGER NOT NULL,
	description TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS vedit_registry (
	table_name      TEXT PRIMARY KEY,
	description     TEXT NOT NULL DEFAULT '',
	rowid_column    TEXT NOT NULL,
	geometry_column TEXT NOT NULL,
	multiversion    INTEGER NOT NULL,
	hidden          INTEGER NOT NULL DEFAULT 0
);
`

// Store is a backend.Backend over GeoPackage files. The zero value is ready to use.
type Store struct{}

// New returns a Store.
func New() *Store {
	return &Store{}
}

// Init prepares path to hold a state tree: the GeoPackage core tables, the base
// state and the default version. It is safe to run on an initialised file.
func Init(ctx context.Context, path string) error {
	return initRelease(ctx, path, backend.Release)
}

func initRelease(ctx context.Context, path string, release int) error {
	h, err := gpkg.Open(path)
	if err != nil {
		return fmt.Errorf("opening GeoPackage %s: %w", path, err)
	}
	defer h.Close()

	tx, err := h.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmts := []struct {
		query string
		args  []interface{}
	}{
		{query: schemaSQL},
		{query: `INSERT INTO vedit_release (release) SELECT ? WHERE NOT EXISTS (SELECT 1 FROM vedit_release)`, args: []interface{}{release}},
		{query: `INSERT OR IGNORE INTO vedit_states (state_id, parent_id) VALUES (?, ?)`, args: []interface{}{backend.BaseStateID, backend.BaseStateID}},
		{query: `INSERT OR IGNORE INTO vedit_versions (name, state_id, description) VALUES (?, ?, ?)`, args: []interface{}{backend.DefaultVersion, backend.BaseStateID, "default version"}},
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s.query, s.args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("initialising GeoPackage %s: %w", path, err)
		}
	}
	return tx.Commit()
}

// Connect implements backend.Backend.
func (s *Store) Connect(ctx context.Context, params backend.ConnectParams) (backend.Conn, error) {
	if params.Database == "" {
		return nil, backend.Errorf(backend.OpConnect, backend.CodeConnectFailed, "no GeoPackage given")
	}
	h, err := gpkg.Open(params.Database)
	if err != nil {
		return nil, wrap(backend.OpConnect, backend.CodeConnectFailed, err)
	}
	var n int
	err = h.QueryRowContext(ctx, `SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'vedit_states'`).Scan(&n)
	if err == nil && n == 0 {
		err = backend.Errorf(backend.OpConnect, backend.CodeConnectFailed, "%s holds no state tree, run init first", params.Database)
	}
	if err != nil {
		h.Close()
		return nil, wrap(backend.OpConnect, backend.CodeConnectFailed, err)
	}
	sc, err := h.Conn(ctx)
	if err != nil {
		h.Close()
		return nil, wrap(backend.OpConnect, backend.CodeConnectFailed, err)
	}
	return &conn{handle: h, db: sc, id: uuid.NewString()}, nil
}

// querier is implemented by both *sql.Conn and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// codeOf maps SQLite failures onto backend codes.
func codeOf(err error, fallback backend.Code) backend.Code {
	var be *backend.Error
	if errors.As(err, &be) {
		return be.Code
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return backend.CodeBusy
		case sqlite3.ErrConstraint:
			return backend.CodeInvalid
		}
	}
	return fallback
}

// wrap turns err into a backend error of op. Backend errors keep their code.
func wrap(op string, fallback backend.Code, err error) error {
	if err == nil {
		return nil
	}
	var be *backend.Error
	if errors.As(err, &be) && be.Op == op {
		return err
	}
	return &backend.Error{Op: op, Code: codeOf(err, fallback), Msg: err.Error(), Err: err}
}
