// Package backend describes the protocol of a versioned spatial store: a tree of
// immutable states, named versions pointing into that tree, and connections that
// carry a single transaction at a time.
//
// The wire protocol itself is owned by the implementations (see gpkgstore and memstore).
package backend

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-spatial/geom"
)

// StateID identifies a node in the state tree.
type StateID int64

const (
	// BaseStateID is the root of every state tree. It is never trimmed or deleted.
	BaseStateID StateID = 0
	// DefaultStateID is the sentinel for "no version resolved": edits and reads go
	// against the base tables directly.
	DefaultStateID StateID = -1
)

// DefaultVersion is the version every store is created with.
const DefaultVersion = "SDE.DEFAULT"

// Release is the protocol release this client speaks. A store created with another
// release answers version lookups with CodeInvalidRelease.
const Release = 1

func (id StateID) String() string {
	if id == DefaultStateID {
		return "default"
	}
	return fmt.Sprintf("%d", int64(id))
}

// ConcurrencyPolicy tells the backend how the connection will be used from the client.
type ConcurrencyPolicy int

const (
	// UnprotectedPolicy is for single threaded access, which is all a session needs.
	UnprotectedPolicy ConcurrencyPolicy = iota
	// ProtectedPolicy serializes calls on the connection at the backend.
	ProtectedPolicy
)

func (p ConcurrencyPolicy) String() string {
	switch p {
	case UnprotectedPolicy:
		return "unprotected"
	case ProtectedPolicy:
		return "protected"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParseConcurrencyPolicy is the inverse of ConcurrencyPolicy.String.
func ParseConcurrencyPolicy(s string) (ConcurrencyPolicy, error) {
	switch s {
	case "", "unprotected":
		return UnprotectedPolicy, nil
	case "protected":
		return ProtectedPolicy, nil
	default:
		return UnprotectedPolicy, fmt.Errorf("unknown concurrency policy %q", s)
	}
}

// ConnectParams are the fields a connection needs. Server, Instance and Database are
// interpreted by the implementation; gpkgstore uses Database as the file path.
type ConnectParams struct {
	Server   string
	Instance string
	Database string
	User     string
	Password string
}

// StateInfo is the metadata of a single state.
type StateInfo struct {
	ID     StateID
	Parent StateID
	// Open is true while a connection holds the state open for writing.
	Open bool
	// Owner is the ID of the connection holding the state open, if any.
	Owner string
}

// VersionInfo binds a version name to its current state.
type VersionInfo struct {
	Name        string
	State       StateID
	Description string
}

// Backend opens connections.
type Backend interface {
	Connect(ctx context.Context, params ConnectParams) (Conn, error)
}

// Conn is a live channel to the store. Every call is a synchronous round trip; none
// of them is safe for concurrent use unless ProtectedPolicy is set.
type Conn interface {
	// ID is unique per connection and is used as the lock owner of open states.
	ID() string
	SetConcurrency(ctx context.Context, policy ConcurrencyPolicy) error

	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	VersionInfo(ctx context.Context, name string) (VersionInfo, error)
	ChangeVersionState(ctx context.Context, name string, state StateID) error

	StateInfo(ctx context.Context, id StateID) (StateInfo, error)
	// CreateState creates a closed child of parent. It fails with CodeStateOpen
	// when parent is open, atomically at the store.
	CreateState(ctx context.Context, parent StateID) (StateInfo, error)
	OpenState(ctx context.Context, id StateID) error
	CloseState(ctx context.Context, id StateID) error
	// TrimTree folds the states between from and to that nothing else depends on.
	TrimTree(ctx context.Context, from, to StateID) error
	DeleteState(ctx context.Context, id StateID) error

	Close() error
}

// Admin is implemented by stores that can enumerate and manage versions.
type Admin interface {
	Versions(ctx context.Context) ([]VersionInfo, error)
	States(ctx context.Context) ([]StateInfo, error)
	// CreateVersion creates name pointing at the current state of from.
	CreateVersion(ctx context.Context, name, from, description string) (VersionInfo, error)
	DeleteVersion(ctx context.Context, name string) error
}

// Column is an attribute column of a layer.
type Column struct {
	Name string `validate:"required"`
	Type string `validate:"columntype"`
}

// columnTypes are the attribute data types of a GeoPackage feature table.
var columnTypes = map[string]bool{
	"BOOLEAN": true, "TINYINT": true, "SMALLINT": true, "MEDIUMINT": true, "INT": true, "INTEGER": true,
	"FLOAT": true, "DOUBLE": true, "REAL": true, "TEXT": true, "BLOB": true, "DATE": true, "DATETIME": true,
}

var sizedColumnType = regexp.MustCompile(`^(TEXT|BLOB)\([1-9][0-9]{0,9}\)$`)

// ValidColumnType reports whether t is a GeoPackage column type, optionally with a
// maximum length for TEXT and BLOB.
func ValidColumnType(t string) bool {
	t = strings.ToUpper(t)
	return columnTypes[t] || sizedColumnType.MatchString(t)
}

// LayerInfo describes a registered table.
type LayerInfo struct {
	Table          string
	Description    string
	RowIDColumn    string
	GeometryColumn string
	GeometryType   string
	SRSID          int32
	Columns        []Column
	MultiVersion   bool
	Hidden         bool
}

// SpatialReference is the reference system a new layer is stored in.
type SpatialReference struct {
	ID           int32
	Name         string
	Organization string
	Code         int32
	Definition   string
}

// LayerDefinition is the input of Tables.CreateLayer.
type LayerDefinition struct {
	Table          string
	Description    string
	RowIDColumn    string
	GeometryColumn string
	GeometryType   string
	SRS            SpatialReference
	Columns        []Column
	MultiVersion   bool
}

// Feature is a row of a layer.
type Feature struct {
	RowID      int64
	State      StateID
	Attributes map[string]interface{}
	Geometry   geom.Geometry
}

// Tables is implemented by stores that host spatial tables. Mutations run inside the
// connection's transaction when one is active.
type Tables interface {
	Layers(ctx context.Context) ([]LayerInfo, error)
	Layer(ctx context.Context, table string) (LayerInfo, error)
	CreateLayer(ctx context.Context, def LayerDefinition) (LayerInfo, error)
	DeleteLayer(ctx context.Context, table string) error
	// InsertFeature writes a feature into state. Multiversion tables accept writes on
	// the base state (or DefaultStateID) and on a state this connection holds open.
	InsertFeature(ctx context.Context, table string, state StateID, f Feature) (int64, error)
	// Features returns the rows visible from state: for multiversion tables the rows
	// of state and all of its ancestors.
	Features(ctx context.Context, table string, state StateID) ([]Feature, error)
}
