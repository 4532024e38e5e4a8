// Package layer opens, lists, creates and deletes the spatial tables reachable
// through an edit session. All reads and writes use the session's state and
// connection, so writes of an edit session become visible to others only when the
// session is closed.
package layer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/go-spatial/geom"

	"github.com/pdok/vedit/backend"
	"github.com/pdok/vedit/config"
	"github.com/pdok/vedit/crs"
	"github.com/pdok/vedit/edit"
)

var (
	ErrNotReady = errors.New("session is not open")
	ErrReadOnly = errors.New("session is not open for writing")
	ErrNoTables = errors.New("backend does not host tables")
)

// Definition describes a layer to create. Empty fields take their defaults.
type Definition struct {
	Name         string           `validate:"required"`
	Description  string
	GeometryType string           `default:"GEOMETRY" validate:"oneof=GEOMETRY POINT LINESTRING POLYGON MULTIPOINT MULTILINESTRING MULTIPOLYGON GEOMETRYCOLLECTION"`
	CRS          string           `default:"EPSG:28992" validate:"required"`
	Columns      []backend.Column `validate:"dive"`
	// MultiVersion overrides the configured default when set.
	MultiVersion *bool
	// Overwrite replaces an existing layer of the same name.
	Overwrite bool
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("columntype", func(fl validator.FieldLevel) bool {
		return backend.ValidColumnType(fl.Field().String())
	})
	return v
}

// Registry is the set of layers of one session.
type Registry struct {
	session *edit.Session
	tables  backend.Tables
	cfg     config.Config
}

// New binds a registry to a session that is READONLY or EDIT_OPEN.
func New(s *edit.Session, cfg config.Config) (*Registry, error) {
	if !s.Ready() {
		return nil, fmt.Errorf("%w: phase %s", ErrNotReady, s.Phase())
	}
	tables, ok := s.Connection().Backend().(backend.Tables)
	if !ok {
		return nil, ErrNoTables
	}
	return &Registry{session: s, tables: tables, cfg: cfg}, nil
}

func (r *Registry) ready() error {
	if !r.session.Ready() {
		return fmt.Errorf("%w: phase %s", ErrNotReady, r.session.Phase())
	}
	return nil
}

// fail aborts an edit session on a failed mutation. The returned error holds err
// and any failure of the abort.
func (r *Registry) fail(ctx context.Context, err error) error {
	if r.session.Phase() == edit.PhaseEditOpen {
		return r.session.Abort(ctx, err)
	}
	return err
}

// CanCreate reports whether Create is allowed.
func (r *Registry) CanCreate() bool {
	return r.session.Writable()
}

// CanDelete reports whether Delete is allowed.
func (r *Registry) CanDelete() bool {
	return r.session.Writable()
}

// Layers lists the visible layers.
func (r *Registry) Layers(ctx context.Context) ([]*Layer, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	infos, err := r.tables.Layers(ctx)
	if err != nil {
		return nil, err
	}
	var layers []*Layer
	for _, info := range infos {
		if info.Hidden {
			continue
		}
		layers = append(layers, &Layer{reg: r, info: info})
	}
	return layers, nil
}

// Open returns the named layer.
func (r *Registry) Open(ctx context.Context, name string) (*Layer, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	info, err := r.tables.Layer(ctx, name)
	if err != nil {
		return nil, err
	}
	return &Layer{reg: r, info: info}, nil
}

// Create registers a new layer. Row id and geometry column names come from the
// configuration.
func (r *Registry) Create(ctx context.Context, def Definition) (*Layer, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if !r.CanCreate() {
		return nil, ErrReadOnly
	}
	if err := defaults.Set(&def); err != nil {
		return nil, err
	}
	def.GeometryType = strings.ToUpper(def.GeometryType)
	if err := newValidator().Struct(def); err != nil {
		return nil, fmt.Errorf("invalid layer definition: %w", err)
	}
	ref, err := crs.Parse(def.CRS)
	if err != nil {
		return nil, err
	}
	multiVersion := r.cfg.MultiVersion
	if def.MultiVersion != nil {
		multiVersion = *def.MultiVersion
	}

	if def.Overwrite {
		err := r.tables.DeleteLayer(ctx, def.Name)
		if err != nil && !backend.IsCode(err, backend.CodeLayerNotFound) {
			return nil, r.fail(ctx, err)
		}
	}
	info, err := r.tables.CreateLayer(ctx, backend.LayerDefinition{
		Table:          def.Name,
		Description:    def.Description,
		RowIDColumn:    r.cfg.RowIDColumn,
		GeometryColumn: r.cfg.GeometryColumn,
		GeometryType:   def.GeometryType,
		SRS:            ref.SpatialReference(),
		Columns:        def.Columns,
		MultiVersion:   multiVersion,
	})
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	return &Layer{reg: r, info: info}, nil
}

// Delete removes a layer and its rows.
func (r *Registry) Delete(ctx context.Context, name string) error {
	if err := r.ready(); err != nil {
		return err
	}
	if !r.CanDelete() {
		return ErrReadOnly
	}
	if err := r.tables.DeleteLayer(ctx, name); err != nil {
		return r.fail(ctx, err)
	}
	return nil
}

// Layer is a table read and written through the session of its registry.
type Layer struct {
	reg  *Registry
	info backend.LayerInfo
}

func (l *Layer) Name() string {
	return l.info.Table
}

func (l *Layer) Info() backend.LayerInfo {
	return l.info
}

// Insert writes a feature in the session's write state and returns its row id.
func (l *Layer) Insert(ctx context.Context, attrs map[string]interface{}, g geom.Geometry) (int64, error) {
	if err := l.reg.ready(); err != nil {
		return 0, err
	}
	state, err := l.reg.session.WriteState()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrReadOnly, err)
	}
	id, err := l.reg.tables.InsertFeature(ctx, l.info.Table, state, backend.Feature{Attributes: attrs, Geometry: g})
	if err != nil {
		return 0, l.reg.fail(ctx, err)
	}
	return id, nil
}

// Features returns the rows visible from the session's read state.
func (l *Layer) Features(ctx context.Context) ([]backend.Feature, error) {
	if err := l.reg.ready(); err != nil {
		return nil, err
	}
	return l.reg.tables.Features(ctx, l.info.Table, l.reg.session.ReadState())
}
