package gpkgstore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/stretchr/testify/require"

	"github.com/pdok/vedit/backend"
)

func newFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "edits.gpkg")
	require.NoError(t, Init(context.Background(), path))
	return path
}

func connect(t *testing.T, path string) *conn {
	t.Helper()
	c, err := New().Connect(context.Background(), backend.ConnectParams{Server: "localhost", Database: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c.(*conn)
}

var roads = backend.LayerDefinition{
	Table:          "roads",
	Description:    "road centre lines",
	RowIDColumn:    "OBJECTID",
	GeometryColumn: "SHAPE",
	GeometryType:   "linestring",
	SRS:            backend.SpatialReference{ID: 28992, Name: "Amersfoort / RD New", Organization: "EPSG", Code: 28992},
	Columns:        []backend.Column{{Name: "name", Type: "TEXT"}, {Name: "lanes", Type: "INTEGER"}},
	MultiVersion:   true,
}

func road(name string, x float64) backend.Feature {
	return backend.Feature{
		Attributes: map[string]interface{}{"name": name, "lanes": int64(2)},
		Geometry:   geom.LineString{{x, 0}, {x + 10, 10}},
	}
}

func TestInit(t *testing.T) {
	ctx := context.Background()
	path := newFile(t)
	require.NoError(t, Init(ctx, path))

	c := connect(t, path)
	v, err := c.VersionInfo(ctx, backend.DefaultVersion)
	require.NoError(t, err)
	require.Equal(t, backend.BaseStateID, v.State)
	states, err := c.States(ctx)
	require.NoError(t, err)
	require.Equal(t, []backend.StateInfo{{ID: backend.BaseStateID, Parent: backend.BaseStateID}}, states)
}

func TestConnectUninitialised(t *testing.T) {
	ctx := context.Background()
	_, err := New().Connect(ctx, backend.ConnectParams{})
	require.True(t, backend.IsCode(err, backend.CodeConnectFailed))

	_, err = New().Connect(ctx, backend.ConnectParams{Database: filepath.Join(t.TempDir(), "plain.gpkg")})
	require.True(t, backend.IsCode(err, backend.CodeConnectFailed))
	require.Contains(t, err.Error(), "run init first")
}

func TestIncompatibleRelease(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "old.gpkg")
	require.NoError(t, initRelease(ctx, path, backend.Release+1))

	c := connect(t, path)
	_, err := c.VersionInfo(ctx, backend.DefaultVersion)
	require.True(t, backend.IsCode(err, backend.CodeInvalidRelease))
}

func TestTransactions(t *testing.T) {
	ctx := context.Background()
	c := connect(t, newFile(t))

	require.True(t, backend.IsCode(c.Commit(ctx), backend.CodeNoTransaction))
	require.NoError(t, c.Begin(ctx))
	require.True(t, backend.IsCode(c.Begin(ctx), backend.CodeTransactionActive))

	child, err := c.CreateState(ctx, backend.BaseStateID)
	require.NoError(t, err)
	require.NoError(t, c.Rollback(ctx))

	_, err = c.StateInfo(ctx, child.ID)
	require.True(t, backend.IsCode(err, backend.CodeStateNotFound), "rolled back state should be gone")

	require.NoError(t, c.Close())
	require.Error(t, c.handle.Ping(), "closing the connection closes the file handle")
	require.NoError(t, c.Close())
	_, err = c.StateInfo(ctx, backend.BaseStateID)
	require.True(t, backend.IsCode(err, backend.CodeConnectionClosed))
}

func TestStateLocking(t *testing.T) {
	ctx := context.Background()
	path := newFile(t)
	a := connect(t, path)
	b := connect(t, path)

	child, err := a.CreateState(ctx, backend.BaseStateID)
	require.NoError(t, err)
	require.Equal(t, backend.StateID(1), child.ID)
	require.NoError(t, a.OpenState(ctx, child.ID))

	info, err := b.StateInfo(ctx, child.ID)
	require.NoError(t, err)
	require.True(t, info.Open)
	require.Equal(t, a.ID(), info.Owner)

	require.True(t, backend.IsCode(b.OpenState(ctx, child.ID), backend.CodeStateInUse))
	require.True(t, backend.IsCode(b.CloseState(ctx, child.ID), backend.CodeStateInUse))
	_, err = b.CreateState(ctx, child.ID)
	require.True(t, backend.IsCode(err, backend.CodeStateOpen))
	require.True(t, backend.IsCode(b.DeleteState(ctx, child.ID), backend.CodeStateInUse))
	require.True(t, backend.IsCode(a.ChangeVersionState(ctx, backend.DefaultVersion, child.ID), backend.CodeStateOpen))

	second, err := a.CreateState(ctx, backend.BaseStateID)
	require.NoError(t, err)
	require.True(t, backend.IsCode(a.OpenState(ctx, second.ID), backend.CodeStateOpen))

	require.NoError(t, a.CloseState(ctx, child.ID))
	require.NoError(t, b.OpenState(ctx, child.ID))
}

func TestVersionAdmin(t *testing.T) {
	ctx := context.Background()
	c := connect(t, newFile(t))

	v, err := c.CreateVersion(ctx, "HEAD", backend.DefaultVersion, "work in progress")
	require.NoError(t, err)
	require.Equal(t, backend.BaseStateID, v.State)

	_, err = c.CreateVersion(ctx, "HEAD", backend.DefaultVersion, "")
	require.True(t, backend.IsCode(err, backend.CodeVersionExists))
	_, err = c.CreateVersion(ctx, "", backend.DefaultVersion, "")
	require.True(t, backend.IsCode(err, backend.CodeInvalid))
	_, err = c.CreateVersion(ctx, "X", "missing", "")
	require.True(t, backend.IsCode(err, backend.CodeVersionNotFound))

	versions, err := c.Versions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	require.Equal(t, "HEAD", versions[0].Name)
	require.Equal(t, "work in progress", versions[0].Description)

	require.True(t, backend.IsCode(c.DeleteVersion(ctx, backend.DefaultVersion), backend.CodeInvalid))
	require.True(t, backend.IsCode(c.DeleteVersion(ctx, "missing"), backend.CodeVersionNotFound))
	require.NoError(t, c.DeleteVersion(ctx, "HEAD"))
	_, err = c.VersionInfo(ctx, "HEAD")
	require.True(t, backend.IsCode(err, backend.CodeVersionNotFound))
}

func TestLayers(t *testing.T) {
	ctx := context.Background()
	c := connect(t, newFile(t))

	l, err := c.CreateLayer(ctx, roads)
	require.NoError(t, err)
	require.Equal(t, "roads", l.Table)
	require.Equal(t, "LINESTRING", l.GeometryType)
	require.Equal(t, int32(28992), l.SRSID)
	require.True(t, l.MultiVersion)
	require.Equal(t, roads.Columns, l.Columns)

	_, err = c.CreateLayer(ctx, roads)
	require.True(t, backend.IsCode(err, backend.CodeLayerExists))

	bad := roads
	bad.Table = "bad"
	bad.GeometryType = "circle"
	_, err = c.CreateLayer(ctx, bad)
	require.True(t, backend.IsCode(err, backend.CodeInvalid))

	layers, err := c.Layers(ctx)
	require.NoError(t, err)
	require.Len(t, layers, 1)
	require.Equal(t, l, layers[0])

	require.NoError(t, c.DeleteLayer(ctx, "roads"))
	require.True(t, backend.IsCode(c.DeleteLayer(ctx, "roads"), backend.CodeLayerNotFound))
	_, err = c.Layer(ctx, "roads")
	require.True(t, backend.IsCode(err, backend.CodeLayerNotFound))
}

func TestCreateLayerColumnTypes(t *testing.T) {
	ctx := context.Background()
	c := connect(t, newFile(t))

	tests := []struct {
		name    string
		typ     string
		wantErr bool
	}{
		{name: "plain", typ: "INTEGER"},
		{name: "lower case", typ: "datetime"},
		{name: "sized text", typ: "TEXT(40)"},
		{name: "statement", typ: "TEXT); CREATE TABLE injected(x", wantErr: true},
		{name: "empty", typ: "", wantErr: true},
		{name: "unknown", typ: "VARCHAR", wantErr: true},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := roads
			def.Table = fmt.Sprintf("t%d", i)
			def.Columns = []backend.Column{{Name: "a", Type: tt.typ}}
			_, err := c.CreateLayer(ctx, def)
			if tt.wantErr {
				require.True(t, backend.IsCode(err, backend.CodeInvalid), err)
				return
			}
			require.NoError(t, err)
		})
	}

	var n int
	require.NoError(t, c.db.QueryRowContext(ctx, `SELECT count(*) FROM sqlite_master WHERE name = 'injected'`).Scan(&n))
	require.Zero(t, n)
}

func TestInsertFeature(t *testing.T) {
	ctx := context.Background()
	c := connect(t, newFile(t))
	_, err := c.CreateLayer(ctx, roads)
	require.NoError(t, err)

	id, err := c.InsertFeature(ctx, "roads", backend.DefaultStateID, road("A1", 0))
	require.NoError(t, err)
	require.Equal(t, int64(1), id)

	features, err := c.Features(ctx, "roads", backend.BaseStateID)
	require.NoError(t, err)
	require.Len(t, features, 1)
	require.Equal(t, int64(1), features[0].RowID)
	require.Equal(t, backend.BaseStateID, features[0].State)
	require.Equal(t, "A1", features[0].Attributes["name"])
	require.Equal(t, int64(2), features[0].Attributes["lanes"])
	require.Equal(t, geom.LineString{{0, 0}, {10, 10}}, features[0].Geometry)

	wrongType := road("A2", 0)
	wrongType.Geometry = geom.Point{1, 1}
	_, err = c.InsertFeature(ctx, "roads", backend.DefaultStateID, wrongType)
	require.True(t, backend.IsCode(err, backend.CodeInvalid))

	unknown := road("A3", 0)
	unknown.Attributes["speed"] = 100
	_, err = c.InsertFeature(ctx, "roads", backend.DefaultStateID, unknown)
	require.True(t, backend.IsCode(err, backend.CodeInvalid))

	child, err := c.CreateState(ctx, backend.BaseStateID)
	require.NoError(t, err)
	_, err = c.InsertFeature(ctx, "roads", child.ID, road("A4", 0))
	require.True(t, backend.IsCode(err, backend.CodeStateClosed))

	var minx, maxx float64
	require.NoError(t, c.db.QueryRowContext(ctx, `SELECT min_x, max_x FROM gpkg_contents WHERE table_name = 'roads'`).Scan(&minx, &maxx))
	require.Equal(t, 0.0, minx)
	require.Equal(t, 10.0, maxx)
}

func TestStateVisibilityAndTrim(t *testing.T) {
	ctx := context.Background()
	c := connect(t, newFile(t))
	_, err := c.CreateLayer(ctx, roads)
	require.NoError(t, err)
	_, err = c.InsertFeature(ctx, "roads", backend.BaseStateID, road("base", 0))
	require.NoError(t, err)

	// two edits in a row on the default version: 0 <- 1 <- 2
	var states []backend.StateID
	parent := backend.BaseStateID
	for _, name := range []string{"first", "second"} {
		child, err := c.CreateState(ctx, parent)
		require.NoError(t, err)
		require.NoError(t, c.OpenState(ctx, child.ID))
		_, err = c.InsertFeature(ctx, "roads", child.ID, road(name, 100))
		require.NoError(t, err)
		require.NoError(t, c.CloseState(ctx, child.ID))
		require.NoError(t, c.ChangeVersionState(ctx, backend.DefaultVersion, child.ID))
		states = append(states, child.ID)
		parent = child.ID
	}

	features, err := c.Features(ctx, "roads", backend.BaseStateID)
	require.NoError(t, err)
	require.Len(t, features, 1)
	features, err = c.Features(ctx, "roads", states[0])
	require.NoError(t, err)
	require.Len(t, features, 2)

	require.NoError(t, c.TrimTree(ctx, states[0], states[1]))
	_, err = c.StateInfo(ctx, states[0])
	require.True(t, backend.IsCode(err, backend.CodeStateNotFound))
	info, err := c.StateInfo(ctx, states[1])
	require.NoError(t, err)
	require.Equal(t, backend.BaseStateID, info.Parent)

	features, err = c.Features(ctx, "roads", states[1])
	require.NoError(t, err)
	require.Len(t, features, 3)
	for _, f := range features[1:] {
		require.Equal(t, states[1], f.State, "rows of the trimmed state move to its child")
	}

	require.True(t, backend.IsCode(c.TrimTree(ctx, states[1], states[1]), backend.CodeInvalid))
	_, err = c.Features(ctx, "roads", states[0])
	require.True(t, backend.IsCode(err, backend.CodeStateNotFound))
}

func TestTrimInUse(t *testing.T) {
	ctx := context.Background()
	c := connect(t, newFile(t))

	one, err := c.CreateState(ctx, backend.BaseStateID)
	require.NoError(t, err)
	two, err := c.CreateState(ctx, one.ID)
	require.NoError(t, err)
	_, err = c.CreateVersion(ctx, "PIN", backend.DefaultVersion, "")
	require.NoError(t, err)
	require.NoError(t, c.ChangeVersionState(ctx, "PIN", one.ID))

	err = c.TrimTree(ctx, one.ID, two.ID)
	require.True(t, backend.IsCode(err, backend.CodeStateInUse))
	_, err = c.StateInfo(ctx, one.ID)
	require.NoError(t, err)

	require.True(t, backend.IsCode(c.DeleteState(ctx, one.ID), backend.CodeStateInUse))
	require.True(t, backend.IsCode(c.DeleteState(ctx, backend.BaseStateID), backend.CodeStateInUse))
	require.NoError(t, c.DeleteState(ctx, two.ID))
	require.True(t, backend.IsCode(c.DeleteState(ctx, two.ID), backend.CodeStateNotFound))
}
