package gpkgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/gpkg"
	"golang.org/x/exp/maps"

	"github.com/pdok/vedit/backend"
)

var geometryTypes = map[string]gpkg.GeometryType{
	"GEOMETRY":           gpkg.Geometry,
	"POINT":              gpkg.Point,
	"LINESTRING":         gpkg.Linestring,
	"POLYGON":            gpkg.Polygon,
	"MULTIPOINT":         gpkg.MultiPoint,
	"MULTILINESTRING":    gpkg.MultiLinestring,
	"MULTIPOLYGON":       gpkg.MultiPolygon,
	"GEOMETRYCOLLECTION": gpkg.GeometryCollection,
}

// geometryTypeFromString returns the GeoPackage geometry type of a type name.
func geometryTypeFromString(name string) (gpkg.GeometryType, bool) {
	t, ok := geometryTypes[strings.ToUpper(name)]
	return t, ok
}

const layerSQL = `SELECT r.table_name, r.description, r.rowid_column, r.geometry_column, r.multiversion, r.hidden,
	g.geometry_type_name, g.srs_id
FROM vedit_registry r JOIN gpkg_geometry_columns g ON g.table_name = r.table_name`

func scanLayer(row interface{ Scan(...interface{}) error }) (backend.LayerInfo, error) {
	var l backend.LayerInfo
	err := row.Scan(&l.Table, &l.Description, &l.RowIDColumn, &l.GeometryColumn, &l.MultiVersion, &l.Hidden,
		&l.GeometryType, &l.SRSID)
	return l, err
}

// tableColumns lists the attribute columns of a layer: every column except the
// row id, the geometry and the state column.
func tableColumns(ctx context.Context, q querier, l backend.LayerInfo) ([]backend.Column, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, quote(l.Table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var columns []backend.Column
	for rows.Next() {
		var (
			cid, notnull, pk int
			name, ctype      string
			dflt             interface{}
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		switch name {
		case l.RowIDColumn, l.GeometryColumn, StateColumn:
			continue
		}
		columns = append(columns, backend.Column{Name: name, Type: ctype})
	}
	return columns, rows.Err()
}

func layer(ctx context.Context, q querier, op, table string) (backend.LayerInfo, error) {
	l, err := scanLayer(q.QueryRowContext(ctx, layerSQL+` WHERE r.table_name = ?`, table))
	if errors.Is(err, sql.ErrNoRows) {
		return l, backend.Errorf(op, backend.CodeLayerNotFound, "layer %q does not exist", table)
	}
	if err != nil {
		return l, err
	}
	l.Columns, err = tableColumns(ctx, q, l)
	return l, err
}

func multiversionTables(ctx context.Context, q querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT table_name FROM vedit_registry WHERE multiversion = 1 ORDER BY table_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tables []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

func (c *conn) Layers(ctx context.Context) ([]backend.LayerInfo, error) {
	const op = backend.OpLayerList
	if err := c.check(op); err != nil {
		return nil, err
	}
	layers, err := c.layers(ctx)
	return layers, wrap(op, backend.CodeInternal, err)
}

func (c *conn) layers(ctx context.Context) ([]backend.LayerInfo, error) {
	rows, err := c.q().QueryContext(ctx, layerSQL+` ORDER BY r.table_name`)
	if err != nil {
		return nil, err
	}
	var layers []backend.LayerInfo
	for rows.Next() {
		l, err := scanLayer(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		layers = append(layers, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// columns are read once the registry rows are closed
	for i := range layers {
		if layers[i].Columns, err = tableColumns(ctx, c.q(), layers[i]); err != nil {
			return nil, err
		}
	}
	return layers, nil
}

func (c *conn) Layer(ctx context.Context, table string) (backend.LayerInfo, error) {
	const op = backend.OpLayerGetInfo
	if err := c.check(op); err != nil {
		return backend.LayerInfo{}, err
	}
	l, err := layer(ctx, c.q(), op, table)
	return l, wrap(op, backend.CodeInternal, err)
}

// createSQL builds the CREATE statement of a feature table
func createSQL(def backend.LayerDefinition) string {
	parts := []string{quote(def.RowIDColumn) + ` INTEGER PRIMARY KEY AUTOINCREMENT`}
	for _, col := range def.Columns {
		parts = append(parts, quote(col.Name)+` `+strings.ToUpper(col.Type))
	}
	parts = append(parts, quote(def.GeometryColumn)+` `+strings.ToUpper(def.GeometryType))
	if def.MultiVersion {
		parts = append(parts, StateColumn+` INTEGER NOT NULL DEFAULT 0`)
	}
	return `CREATE TABLE ` + quote(def.Table) + ` (` + strings.Join(parts, `, `) + `)`
}

func validateDefinition(op string, def backend.LayerDefinition) error {
	if def.Table == "" || def.RowIDColumn == "" || def.GeometryColumn == "" {
		return backend.Errorf(op, backend.CodeInvalid, "layer needs a table name, a row id column and a geometry column")
	}
	if _, ok := geometryTypeFromString(def.GeometryType); !ok {
		return backend.Errorf(op, backend.CodeInvalid, "unknown geometry type %q", def.GeometryType)
	}
	seen := map[string]bool{def.RowIDColumn: true, def.GeometryColumn: true, StateColumn: true}
	for _, col := range def.Columns {
		if col.Name == "" || seen[col.Name] {
			return backend.Errorf(op, backend.CodeInvalid, "column %q is empty or used twice", col.Name)
		}
		if !backend.ValidColumnType(col.Type) {
			return backend.Errorf(op, backend.CodeInvalid, "column %q has unknown type %q", col.Name, col.Type)
		}
		seen[col.Name] = true
	}
	return nil
}

func (c *conn) CreateLayer(ctx context.Context, def backend.LayerDefinition) (backend.LayerInfo, error) {
	const op = backend.OpLayerCreate
	var l backend.LayerInfo
	err := c.atomic(ctx, op, func(q querier) error {
		if err := validateDefinition(op, def); err != nil {
			return err
		}
		var n int
		err := q.QueryRowContext(ctx, `SELECT count(*) FROM sqlite_master WHERE name = ?`, def.Table).Scan(&n)
		if err != nil {
			return err
		}
		if n > 0 {
			return backend.Errorf(op, backend.CodeLayerExists, "table %q already exists", def.Table)
		}

		gtype, _ := geometryTypeFromString(def.GeometryType)
		srs := gpkg.SpatialReferenceSystem{
			Name:                   def.SRS.Name,
			ID:                     int(def.SRS.ID),
			Organization:           def.SRS.Organization,
			OrganizationCoordsysID: int(def.SRS.Code),
			Definition:             def.SRS.Definition,
		}
		if srs.Definition == "" {
			srs.Definition = "undefined"
		}
		desc := gpkg.TableDescription{
			Name:          def.Table,
			ShortName:     def.Table,
			Description:   def.Description,
			GeometryField: def.GeometryColumn,
			GeometryType:  gtype,
			SRS:           def.SRS.ID,
			Z:             gpkg.Prohibited,
			M:             gpkg.Prohibited,
		}
		// the statements Handle.UpdateSRS and Handle.AddGeometryTable run, on the session transaction
		stmts := []struct {
			query string
			args  []interface{}
		}{
			{query: `INSERT OR IGNORE INTO gpkg_spatial_ref_sys (srs_name, srs_id, organization, organization_coordsys_id, definition)
				VALUES (?, ?, ?, ?, ?)`, args: []interface{}{srs.Name, srs.ID, srs.Organization, srs.OrganizationCoordsysID, srs.Definition}},
			{query: createSQL(def)},
			{query: `INSERT INTO gpkg_contents (table_name, data_type, identifier, description, srs_id) VALUES (?, 'features', ?, ?, ?)`,
				args: []interface{}{desc.Name, desc.ShortName, desc.Description, desc.SRS}},
			{query: `INSERT INTO gpkg_geometry_columns (table_name, column_name, geometry_type_name, srs_id, z, m) VALUES (?, ?, ?, ?, ?, ?)`,
				args: []interface{}{desc.Name, desc.GeometryField, strings.ToUpper(def.GeometryType), desc.SRS, int(desc.Z), int(desc.M)}},
			{query: `INSERT INTO vedit_registry (table_name, description, rowid_column, geometry_column, multiversion) VALUES (?, ?, ?, ?, ?)`,
				args: []interface{}{def.Table, def.Description, def.RowIDColumn, def.GeometryColumn, def.MultiVersion}},
		}
		for _, s := range stmts {
			if _, err := q.ExecContext(ctx, s.query, s.args...); err != nil {
				return err
			}
		}
		l, err = layer(ctx, q, op, def.Table)
		return err
	})
	return l, err
}

func (c *conn) DeleteLayer(ctx context.Context, table string) error {
	const op = backend.OpLayerDelete
	return c.atomic(ctx, op, func(q querier) error {
		if _, err := layer(ctx, q, op, table); err != nil {
			return err
		}
		for _, query := range []string{
			`DROP TABLE ` + quote(table),
			`DELETE FROM gpkg_geometry_columns WHERE table_name = ?`,
			`DELETE FROM gpkg_contents WHERE table_name = ?`,
			`DELETE FROM vedit_registry WHERE table_name = ?`,
		} {
			var args []interface{}
			if strings.Contains(query, "?") {
				args = append(args, table)
			}
			if _, err := q.ExecContext(ctx, query, args...); err != nil {
				return err
			}
		}
		return nil
	})
}

// writeState returns the state a row of l is stored under.
func (c *conn) writeState(ctx context.Context, q querier, op string, l backend.LayerInfo, state backend.StateID) (backend.StateID, error) {
	if !l.MultiVersion || state == backend.DefaultStateID || state == backend.BaseStateID {
		return backend.BaseStateID, nil
	}
	st, err := stateInfo(ctx, q, op, state)
	if err != nil {
		return state, err
	}
	if !st.Open || st.Owner != c.id {
		return state, backend.Errorf(op, backend.CodeStateClosed, "state %d is not open for writing on this connection", state)
	}
	return state, nil
}

func (c *conn) InsertFeature(ctx context.Context, table string, state backend.StateID, f backend.Feature) (int64, error) {
	const op = backend.OpFeatureInsert
	var id int64
	err := c.atomic(ctx, op, func(q querier) error {
		l, err := layer(ctx, q, op, table)
		if err != nil {
			return err
		}
		ws, err := c.writeState(ctx, q, op, l, state)
		if err != nil {
			return err
		}
		want, _ := geometryTypeFromString(l.GeometryType)
		if f.Geometry != nil && want != gpkg.Geometry && gpkg.TypeForGeometry(f.Geometry) != want {
			return backend.Errorf(op, backend.CodeInvalid, "layer %q holds %s geometries", table, l.GeometryType)
		}

		known := make(map[string]bool, len(l.Columns))
		for _, col := range l.Columns {
			known[col.Name] = true
		}
		names := maps.Keys(f.Attributes)
		slices.Sort(names)
		var columns []string
		var values []interface{}
		for _, name := range names {
			if !known[name] {
				return backend.Errorf(op, backend.CodeInvalid, "layer %q has no column %q", table, name)
			}
			columns = append(columns, quote(name))
			values = append(values, f.Attributes[name])
		}
		if f.RowID != 0 {
			columns = append(columns, quote(l.RowIDColumn))
			values = append(values, f.RowID)
		}
		if f.Geometry != nil {
			sb, err := gpkg.NewBinary(l.SRSID, f.Geometry)
			if err != nil {
				return backend.Errorf(op, backend.CodeInvalid, "encoding geometry: %v", err)
			}
			columns = append(columns, quote(l.GeometryColumn))
			values = append(values, sb)
		}
		if l.MultiVersion {
			columns = append(columns, StateColumn)
			values = append(values, ws)
		}
		query := `INSERT INTO ` + quote(table) + ` DEFAULT VALUES`
		if len(columns) > 0 {
			query = `INSERT INTO ` + quote(table) + ` (` + strings.Join(columns, `, `) + `) VALUES (?` +
				strings.Repeat(`, ?`, len(columns)-1) + `)`
		}
		res, err := q.ExecContext(ctx, query, values...)
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		return updateExtent(ctx, q, table, f.Geometry)
	})
	return id, err
}

// updateExtent grows the extent recorded in gpkg_contents to cover g, as
// Handle.UpdateGeometryExtent does, on the session transaction.
func updateExtent(ctx context.Context, q querier, table string, g geom.Geometry) error {
	if g == nil {
		return nil
	}
	ext, err := geom.NewExtentFromGeometry(g)
	if err != nil {
		// empty geometries have no extent
		return nil
	}
	var minx, miny, maxx, maxy sql.NullFloat64
	err = q.QueryRowContext(ctx, `SELECT min_x, min_y, max_x, max_y FROM gpkg_contents WHERE table_name = ?`, table).
		Scan(&minx, &miny, &maxx, &maxy)
	if err != nil {
		return err
	}
	if minx.Valid && miny.Valid && maxx.Valid && maxy.Valid {
		prev := geom.NewExtent([2]float64{minx.Float64, miny.Float64}, [2]float64{maxx.Float64, maxy.Float64})
		if err := prev.AddGeometry(g); err != nil {
			return err
		}
		ext = prev
	}
	_, err = q.ExecContext(ctx, `UPDATE gpkg_contents SET min_x = ?, min_y = ?, max_x = ?, max_y = ?, last_change = ? WHERE table_name = ?`,
		ext.MinX(), ext.MinY(), ext.MaxX(), ext.MaxY(), time.Now().UTC().Format("2006-01-02T15:04:05.000Z"), table)
	return err
}

func (c *conn) Features(ctx context.Context, table string, state backend.StateID) ([]backend.Feature, error) {
	const op = backend.OpFeatureQuery
	if err := c.check(op); err != nil {
		return nil, err
	}
	features, err := c.features(ctx, table, state)
	return features, wrap(op, backend.CodeInternal, err)
}

// selectSQL builds the SELECT statement of the rows visible from one state
func selectSQL(l backend.LayerInfo) string {
	columns := []string{quote(l.RowIDColumn)}
	for _, col := range l.Columns {
		columns = append(columns, quote(col.Name))
	}
	columns = append(columns, quote(l.GeometryColumn))
	if !l.MultiVersion {
		return `SELECT ` + strings.Join(columns, `, `) + `, 0 FROM ` + quote(l.Table) + ` ORDER BY 1`
	}
	return `WITH RECURSIVE lineage(id) AS (
		SELECT ?
		UNION
		SELECT s.parent_id FROM vedit_states s JOIN lineage ON s.state_id = lineage.id WHERE s.state_id <> s.parent_id
	)
	SELECT ` + strings.Join(columns, `, `) + `, ` + StateColumn + ` FROM ` + quote(l.Table) + `
	WHERE ` + StateColumn + ` IN (SELECT id FROM lineage) ORDER BY 1`
}

func (c *conn) features(ctx context.Context, table string, state backend.StateID) ([]backend.Feature, error) {
	const op = backend.OpFeatureQuery
	l, err := layer(ctx, c.q(), op, table)
	if err != nil {
		return nil, err
	}
	var args []interface{}
	if l.MultiVersion {
		if state == backend.DefaultStateID {
			state = backend.BaseStateID
		}
		if _, err := stateInfo(ctx, c.q(), op, state); err != nil {
			return nil, err
		}
		args = append(args, state)
	}
	rows, err := c.q().QueryContext(ctx, selectSQL(l), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	n := len(l.Columns) + 3
	var features []backend.Feature
	for rows.Next() {
		vals := make([]interface{}, n)
		ptrs := make([]interface{}, n)
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		f := backend.Feature{Attributes: make(map[string]interface{}, len(l.Columns))}
		f.RowID, _ = vals[0].(int64)
		for i, col := range l.Columns {
			f.Attributes[col.Name] = attribute(vals[i+1])
		}
		if b, ok := vals[n-2].([]byte); ok && len(b) > 0 {
			sb, err := gpkg.DecodeGeometry(b)
			if err != nil {
				return nil, fmt.Errorf("decoding geometry of row %d: %w", f.RowID, err)
			}
			f.Geometry = sb.Geometry
		}
		if s, ok := vals[n-1].(int64); ok {
			f.State = backend.StateID(s)
		}
		features = append(features, f)
	}
	return features, rows.Err()
}

func attribute(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
