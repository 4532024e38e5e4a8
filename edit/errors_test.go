package edit

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pdok/vedit/backend"
)

func TestErrorFormat(t *testing.T) {
	cause := backend.Errorf(backend.OpStateDelete, backend.CodeStateInUse, "state 11 is referenced")
	e := newError(KindStateTree, backend.OpStateDelete, cause)

	require.Equal(t, "state tree error in state_delete: state 11 is referenced (-6)", e.Error())
	e.Severity = SeverityWarning
	require.Equal(t, "state tree warning in state_delete: state 11 is referenced (-6)", e.Error())
	require.True(t, e.InUse())

	var be *backend.Error
	require.ErrorAs(t, e, &be)
	require.Equal(t, cause, be)
}

func TestErrorIsKind(t *testing.T) {
	err := fmt.Errorf("opening layer: %w", errorf(KindBaselineLocked, backend.OpStateCreate, backend.CodeStateOpen, "open"))
	require.ErrorIs(t, err, ErrBaselineLocked)
	require.False(t, errors.Is(err, ErrStateTree))

	plain := newError(KindTransaction, backend.OpCommit, errors.New("driver: bad connection"))
	require.Equal(t, backend.CodeInternal, plain.Code)
	require.Equal(t, "driver: bad connection", plain.Msg)
}

func TestKindString(t *testing.T) {
	require.Equal(t, "version incompatible", KindVersionIncompatible.String())
	require.Equal(t, "kind(99)", Kind(99).String())
	require.Equal(t, "ignore", SeverityIgnore.String())
}

func TestJoinNonNil(t *testing.T) {
	a := errors.New("a")
	require.NoError(t, joinNonNil(nil, nil))
	require.Equal(t, a, joinNonNil(nil, a))
	joined := joinNonNil(a, nil, errors.New("b"))
	require.ErrorIs(t, joined, a)
	require.Contains(t, joined.Error(), "b")
}
