package edit

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/pdok/vedit/backend"
)

// step is one action of a teardown pipeline. Failures carrying one of the ignore
// codes mean there was nothing left to do.
type step struct {
	op     string
	run    func(ctx context.Context) error
	ignore []backend.Code
}

func (s *Session) classify(st step, err error) Severity {
	var e *Error
	if !errors.As(err, &e) {
		if slices.Contains(st.ignore, backend.CodeOf(err)) {
			return SeverityIgnore
		}
		return SeverityFatal
	}
	if slices.Contains(st.ignore, e.Code) {
		return SeverityIgnore
	}
	return e.Severity
}

// runSteps runs the pipeline in order and returns its fatal failures, first one
// first. With stopOnFatal the pipeline ends at the first fatal failure, otherwise
// every step is attempted.
func (s *Session) runSteps(ctx context.Context, steps []step, stopOnFatal bool) []error {
	var errs []error
	for _, st := range steps {
		err := st.run(ctx)
		if err == nil {
			continue
		}
		switch s.classify(st, err) {
		case SeverityIgnore:
			s.log.Debug("teardown step had nothing to do", "op", st.op, "error", err)
		case SeverityWarning:
			s.warn(err)
		default:
			s.log.Error("teardown step failed", "op", st.op, "error", err)
			errs = append(errs, err)
			if stopOnFatal {
				return errs
			}
		}
	}
	return errs
}

func (s *Session) commitSteps() []step {
	return []step{
		{op: backend.OpCommit, run: s.conn.Commit},
		{op: backend.OpStateClose, run: func(ctx context.Context) error {
			return s.tree.Close(ctx, s.target)
		}},
		{op: backend.OpVersionChangeState, run: func(ctx context.Context) error {
			if err := s.conn.usable(backend.OpVersionChangeState); err != nil {
				return err
			}
			if err := s.conn.Backend().ChangeVersionState(ctx, s.cfg.Version, s.target); err != nil {
				return newError(KindStateTree, backend.OpVersionChangeState, err)
			}
			return nil
		}},
	}
}

func (s *Session) abortSteps() []step {
	var steps []step
	if _, ok := s.TargetState(); ok {
		steps = append(steps, step{
			op: backend.OpStateDelete,
			run: func(ctx context.Context) error {
				return s.tree.Delete(ctx, s.target)
			},
			ignore: []backend.Code{backend.CodeStateNotFound},
		})
	}
	return append(steps, step{
		op:     backend.OpRollback,
		run:    s.conn.Rollback,
		ignore: []backend.Code{backend.CodeNoTransaction},
	})
}

// abortEdit discards the child state and the transaction, returning cause joined
// with every cleanup failure.
func (s *Session) abortEdit(ctx context.Context, cause error) error {
	errs := s.runSteps(ctx, s.abortSteps(), false)
	s.enter(PhaseAborted)
	if target, ok := s.TargetState(); ok {
		s.log.Info("edit state discarded", "baseline", s.source, "state", target)
	}
	return joinNonNil(append([]error{cause}, errs...)...)
}

// commitEdit folds the child state into the version. When the fold fails
// part way the child state is discarded as in abortEdit.
func (s *Session) commitEdit(ctx context.Context) error {
	s.log.Debug("moving version to edit state", "baseline", s.source, "state", s.target)
	if errs := s.runSteps(ctx, s.commitSteps(), true); len(errs) > 0 {
		return s.abortEdit(ctx, errs[0])
	}
	s.enter(PhaseCommitted)
	s.log.Info("edit state committed", "baseline", s.source, "state", s.target)
	trim := step{op: backend.OpStateTrimTree, run: func(ctx context.Context) error {
		return s.tree.Trim(ctx, s.source, s.target)
	}}
	return joinNonNil(s.runSteps(ctx, []step{trim}, false)...)
}

// release is the one unconditional step: it always moves the session to CLOSED.
func (s *Session) release() error {
	var err error
	if s.conn != nil {
		err = s.conn.Release()
	}
	s.enter(PhaseClosed)
	return err
}

// Close ends the session normally. An EDIT_OPEN session is committed: the child
// state is closed, the version is moved to it and the old state is trimmed. If ctx
// is already cancelled the session is aborted instead. Closing a finished session
// does nothing.
func (s *Session) Close(ctx context.Context) error {
	switch s.phase {
	case PhaseClosed:
		return nil
	case PhaseEditOpen:
		if err := ctx.Err(); err != nil {
			return s.Abort(ctx, fmt.Errorf("edit session on version %q cancelled: %w", s.cfg.Version, err))
		}
		err := s.commitEdit(context.WithoutCancel(ctx))
		return joinNonNil(err, s.release())
	default:
		return s.release()
	}
}

// Abort ends the session discarding its edits: the child state is deleted and the
// transaction rolled back. The returned error joins cause with every cleanup
// failure. Aborting a finished session returns cause.
func (s *Session) Abort(ctx context.Context, cause error) error {
	switch s.phase {
	case PhaseClosed:
		return cause
	case PhaseEditOpen:
		err := s.abortEdit(context.WithoutCancel(ctx), cause)
		return joinNonNil(err, s.release())
	default:
		return joinNonNil(cause, s.release())
	}
}

func joinNonNil(errs ...error) error {
	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		return errors.Join(nonNil...)
	}
}

// Do opens a session, runs f and ends the session: committed when f succeeds,
// aborted when f fails, the context is cancelled, or f panics.
func Do(ctx context.Context, b backend.Backend, cfg Config, f func(ctx context.Context, s *Session) error) error {
	s, err := Open(ctx, b, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = s.Abort(ctx, fmt.Errorf("panic in edit session: %v", r))
			panic(r)
		}
	}()
	if err := f(ctx, s); err != nil {
		return s.Abort(ctx, err)
	}
	return s.Close(ctx)
}
