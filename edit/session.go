// Package edit coordinates edit sessions against a versioned state tree store.
//
// A session connects, resolves a version to its current state and, when opened for
// update with version edits, branches a child state from it to receive all writes.
// Closing the session folds the child into the version; aborting it discards the
// child. Either way the connection, the state tree and the version pointer are left
// consistent, and the connection is always released.
package edit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pdok/vedit/backend"
)

// Phase is the position of a session in its lifecycle:
//
//	INIT → CONNECTED → VERSION_RESOLVED → (READONLY | EDIT_OPEN) → {COMMITTED | ABORTED} → CLOSED
type Phase int

const (
	PhaseInit Phase = iota
	PhaseConnected
	PhaseVersionResolved
	PhaseReadOnly
	PhaseEditOpen
	PhaseCommitted
	PhaseAborted
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "INIT"
	case PhaseConnected:
		return "CONNECTED"
	case PhaseVersionResolved:
		return "VERSION_RESOLVED"
	case PhaseReadOnly:
		return "READONLY"
	case PhaseEditOpen:
		return "EDIT_OPEN"
	case PhaseCommitted:
		return "COMMITTED"
	case PhaseAborted:
		return "ABORTED"
	case PhaseClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Config is read once when a session is opened.
type Config struct {
	Params backend.ConnectParams
	// Version to edit, backend.DefaultVersion when empty.
	Version string
	// Update requests write access.
	Update bool
	// VersionEdits routes writes through a child state. Without it an update
	// session writes directly against the base tables.
	VersionEdits bool
	Concurrency  backend.ConcurrencyPolicy
	Logger       *slog.Logger
}

// Session is one connect, edit, finish lifecycle. It is not safe for concurrent use.
type Session struct {
	cfg      Config
	log      *slog.Logger
	conn     *Connection
	tree     StateTree
	phase    Phase
	trace    []Phase
	source   backend.StateID
	target   backend.StateID
	writable bool
	warnings []error
}

// Open runs a session up to READONLY or EDIT_OPEN. When it fails, everything it
// did is undone and the connection is released before the error is returned.
func Open(ctx context.Context, b backend.Backend, cfg Config) (*Session, error) {
	if cfg.Version == "" {
		cfg.Version = backend.DefaultVersion
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Session{
		cfg:    cfg,
		log:    log.With("version", cfg.Version),
		phase:  PhaseInit,
		trace:  []Phase{PhaseInit},
		source: backend.DefaultStateID,
		target: backend.DefaultStateID,
	}

	conn, err := Connect(ctx, b, cfg.Params, cfg.Concurrency, s.log)
	if err != nil {
		return nil, err
	}
	s.conn = conn
	s.tree = NewStateTree(conn)
	s.log = s.log.With("connection", conn.ID())
	s.enter(PhaseConnected)

	if err := s.resolve(ctx); err != nil {
		return nil, s.fail(err)
	}

	if !cfg.Update || !cfg.VersionEdits || s.source == backend.DefaultStateID {
		if cfg.Update && cfg.VersionEdits {
			s.warn(errorf(KindSession, backend.OpSessionOpen, backend.CodeInvalidRelease,
				"version %q has no state to branch from, edits are refused and the session is read-only", cfg.Version))
		}
		s.writable = cfg.Update && !cfg.VersionEdits
		s.enter(PhaseReadOnly)
		return s, nil
	}

	if err := s.openEdit(ctx); err != nil {
		return nil, s.fail(err)
	}
	return s, nil
}

// resolve binds the baseline. An incompatible store degrades to the default state.
func (s *Session) resolve(ctx context.Context) error {
	state, err := Resolve(ctx, s.conn, s.cfg.Version)
	var e *Error
	if errors.As(err, &e) && e.Kind == KindVersionIncompatible {
		e.Severity = SeverityWarning
		s.warn(e)
		err = nil
	}
	if err != nil {
		return err
	}
	s.source = state
	s.enter(PhaseVersionResolved)
	return nil
}

func (s *Session) openEdit(ctx context.Context) error {
	if err := s.conn.Begin(ctx); err != nil {
		return err
	}
	child, err := s.tree.CreateChild(ctx, s.source)
	if err != nil {
		return s.abortEdit(ctx, err)
	}
	s.target = child
	if err := s.tree.Open(ctx, child); err != nil {
		return s.abortEdit(ctx, err)
	}
	s.writable = true
	s.log.Info("edit state opened", "baseline", s.source, "state", s.target)
	s.enter(PhaseEditOpen)
	return nil
}

// fail ends a session that could not be opened.
func (s *Session) fail(err error) error {
	if rerr := s.release(); rerr != nil {
		return errors.Join(err, rerr)
	}
	return err
}

func (s *Session) enter(p Phase) {
	s.log.Debug("session phase", "from", s.phase, "to", p)
	s.phase = p
	s.trace = append(s.trace, p)
}

func (s *Session) warn(err error) {
	s.log.Warn("edit session", "warning", err)
	s.warnings = append(s.warnings, err)
}

// Phase is the current lifecycle phase.
func (s *Session) Phase() Phase {
	return s.phase
}

// Trace lists every phase the session went through.
func (s *Session) Trace() []Phase {
	return append([]Phase(nil), s.trace...)
}

// Warnings are the failures that were downgraded instead of ending the session.
func (s *Session) Warnings() []error {
	return append([]error(nil), s.warnings...)
}

// Version is the name of the version this session reads and edits.
func (s *Session) Version() string {
	return s.cfg.Version
}

// Connection is the connection the session drives. Table operations must go
// through it while the session is READONLY or EDIT_OPEN.
func (s *Session) Connection() *Connection {
	return s.conn
}

// SourceState is the baseline the session reads from, or backend.DefaultStateID.
func (s *Session) SourceState() backend.StateID {
	return s.source
}

// TargetState is the child state receiving the writes of this session, if any.
func (s *Session) TargetState() (backend.StateID, bool) {
	return s.target, s.target != backend.DefaultStateID
}

// Ready reports whether tables may be used: the session is READONLY or EDIT_OPEN.
func (s *Session) Ready() bool {
	return s.phase == PhaseReadOnly || s.phase == PhaseEditOpen
}

// Writable reports whether table mutations are allowed.
func (s *Session) Writable() bool {
	return s.Ready() && s.writable
}

// ReadState is the state table reads are made from.
func (s *Session) ReadState() backend.StateID {
	if s.phase == PhaseEditOpen {
		return s.target
	}
	if s.source == backend.DefaultStateID {
		return backend.BaseStateID
	}
	return s.source
}

// WriteState is the state table writes go to: the child state of an edit session,
// or backend.DefaultStateID for direct edits.
func (s *Session) WriteState() (backend.StateID, error) {
	if !s.Writable() {
		return backend.DefaultStateID, errorf(KindSession, backend.OpSessionWrite, backend.CodeInvalid,
			"session on version %q is not open for writing (phase %s)", s.cfg.Version, s.phase)
	}
	if s.phase == PhaseEditOpen {
		return s.target, nil
	}
	return backend.DefaultStateID, nil
}
