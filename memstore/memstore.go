// Package memstore is an in-memory state tree store. It follows the same rules as
// the GeoPackage store but keeps everything in process, and lets callers inject
// failures per operation and inspect the calls that were made.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/pdok/vedit/backend"
)

// Store is safe for concurrent use by multiple connections.
type Store struct {
	mu       sync.Mutex
	release  int
	nextID   backend.StateID
	states   *orderedmap.OrderedMap[backend.StateID, *backend.StateInfo]
	versions *orderedmap.OrderedMap[string, *backend.VersionInfo]
	faults   map[string]error
	calls    []string
}

// New returns a store holding only the base state and the default version.
func New() *Store {
	s := &Store{
		release:  backend.Release,
		nextID:   backend.BaseStateID + 1,
		states:   orderedmap.New[backend.StateID, *backend.StateInfo](),
		versions: orderedmap.New[string, *backend.VersionInfo](),
		faults:   make(map[string]error),
	}
	s.states.Set(backend.BaseStateID, &backend.StateInfo{ID: backend.BaseStateID, Parent: backend.BaseStateID})
	s.versions.Set(backend.DefaultVersion, &backend.VersionInfo{Name: backend.DefaultVersion, State: backend.BaseStateID})
	return s
}

// PutState adds or replaces a state. The parent must exist.
func (s *Store) PutState(id, parent backend.StateID, open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states.Get(parent); !ok {
		panic(fmt.Sprintf("memstore: parent state %d does not exist", parent))
	}
	info := &backend.StateInfo{ID: id, Parent: parent, Open: open}
	if open {
		info.Owner = "seed"
	}
	s.states.Set(id, info)
	if id >= s.nextID {
		s.nextID = id + 1
	}
}

// PutVersion adds or repoints a version.
func (s *Store) PutVersion(name string, state backend.StateID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.versions.Get(name); ok {
		v.State = state
		return
	}
	s.versions.Set(name, &backend.VersionInfo{Name: name, State: state})
}

// SetRelease changes the release the store claims to speak.
func (s *Store) SetRelease(release int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.release = release
}

// Fail makes every following call of op return err. A nil err clears the fault.
func (s *Store) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

// Calls returns the operations made so far, in order.
func (s *Store) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// State returns a copy of a state without going through a connection.
func (s *Store) State(id backend.StateID) (backend.StateInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states.Get(id)
	if !ok {
		return backend.StateInfo{}, false
	}
	return *st, true
}

// Version returns the state a version points to.
func (s *Store) Version(name string) (backend.StateID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions.Get(name)
	if !ok {
		return 0, false
	}
	return v.State, true
}

// Connect implements backend.Backend.
func (s *Store) Connect(_ context.Context, params backend.ConnectParams) (backend.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(backend.OpConnect); err != nil {
		return nil, err
	}
	if params.Database == "" {
		return nil, backend.Errorf(backend.OpConnect, backend.CodeConnectFailed, "no database given")
	}
	return &conn{store: s, id: uuid.NewString()}, nil
}

// enter records op and returns the injected fault for it. Callers hold s.mu.
func (s *Store) enter(op string) error {
	s.calls = append(s.calls, op)
	return s.faults[op]
}

func (s *Store) state(op string, id backend.StateID) (*backend.StateInfo, error) {
	st, ok := s.states.Get(id)
	if !ok {
		return nil, backend.Errorf(op, backend.CodeStateNotFound, "state %d does not exist", id)
	}
	return st, nil
}

func (s *Store) children(id backend.StateID) []backend.StateID {
	var children []backend.StateID
	for p := s.states.Oldest(); p != nil; p = p.Next() {
		if p.Key != id && p.Value.Parent == id {
			children = append(children, p.Key)
		}
	}
	return children
}

func (s *Store) referencedBy(id backend.StateID) []string {
	var names []string
	for p := s.versions.Oldest(); p != nil; p = p.Next() {
		if p.Value.State == id {
			names = append(names, p.Key)
		}
	}
	return names
}

// dependency explains why a state cannot be folded away, or returns "".
func (s *Store) dependency(st *backend.StateInfo) string {
	if st.Open {
		return fmt.Sprintf("state %d is open", st.ID)
	}
	if names := s.referencedBy(st.ID); len(names) > 0 {
		return fmt.Sprintf("state %d is referenced by version %v", st.ID, names)
	}
	if children := s.children(st.ID); len(children) != 1 {
		return fmt.Sprintf("state %d has %d children", st.ID, len(children))
	}
	return ""
}
