package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-spatial/geom/encoding/wkt"
	"github.com/urfave/cli/v2"

	"github.com/pdok/vedit/backend"
	"github.com/pdok/vedit/config"
	"github.com/pdok/vedit/connstr"
	"github.com/pdok/vedit/edit"
	"github.com/pdok/vedit/gpkgstore"
	"github.com/pdok/vedit/layer"
)

// loadConfig reads the configuration file, if any, and applies the global flags on top.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := c.String(CONFIG); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, fmt.Errorf("error loading configuration %s: %w", path, err)
		}
	}
	if c.IsSet(VERSIONEDITS) {
		cfg.VersionEdits = c.Bool(VERSIONEDITS)
	}
	if c.IsSet(FID) {
		cfg.RowIDColumn = c.String(FID)
	}
	return cfg, cfg.Validate()
}

// sessionConfig builds the session options from the connection string in the first argument.
func sessionConfig(c *cli.Context, update bool) (edit.Config, connstr.Params, config.Config, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return edit.Config{}, connstr.Params{}, cfg, err
	}
	if c.NArg() < 1 {
		return edit.Config{}, connstr.Params{}, cfg, errors.New("missing connection string")
	}
	p, err := connstr.Parse(c.Args().First())
	if err != nil {
		return edit.Config{}, p, cfg, err
	}
	version := p.Version
	if version == "" {
		version = cfg.DefaultVersion
	}
	slog.Debug("connecting", "connection", p.String())
	return edit.Config{
		Params:       p.ConnectParams(),
		Version:      version,
		Update:       update,
		VersionEdits: cfg.VersionEdits,
		Concurrency:  cfg.Policy(),
		Logger:       slog.Default(),
	}, p, cfg, nil
}

// withSession runs f in a session on the connection string argument. The session is
// committed when f succeeds and aborted otherwise.
func withSession(c *cli.Context, update bool, f func(ctx context.Context, s *edit.Session, p connstr.Params, cfg config.Config) error) error {
	sc, p, cfg, err := sessionConfig(c, update)
	if err != nil {
		return err
	}
	s, err := edit.Open(c.Context, gpkgstore.New(), sc)
	if err != nil {
		return err
	}
	defer func() {
		for _, w := range s.Warnings() {
			slog.Warn(w.Error())
		}
	}()
	if update && !s.Writable() {
		cause := fmt.Errorf("version %q cannot be edited", s.Version())
		return s.Abort(c.Context, cause)
	}
	if err := f(c.Context, s, p, cfg); err != nil {
		return s.Abort(c.Context, err)
	}
	return s.Close(c.Context)
}

func withAdmin(c *cli.Context, f func(ctx context.Context, a backend.Admin) error) error {
	return withSession(c, false, func(ctx context.Context, s *edit.Session, _ connstr.Params, _ config.Config) error {
		a, ok := s.Connection().Backend().(backend.Admin)
		if !ok {
			return errors.New("store cannot manage versions")
		}
		return f(ctx, a)
	})
}

func withRegistry(c *cli.Context, update bool, f func(ctx context.Context, r *layer.Registry, p connstr.Params) error) error {
	return withSession(c, update, func(ctx context.Context, s *edit.Session, p connstr.Params, cfg config.Config) error {
		r, err := layer.New(s, cfg)
		if err != nil {
			return err
		}
		return f(ctx, r, p)
	})
}

func layerName(c *cli.Context, flag string, p connstr.Params) (string, error) {
	name := c.String(flag)
	if name == "" {
		name = p.Layer
	}
	if name == "" {
		return "", fmt.Errorf("no layer given: pass --%s or name it in the connection string", flag)
	}
	return name, nil
}

func initStore(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("expected a single file argument")
	}
	if err := gpkgstore.Init(c.Context, c.Args().First()); err != nil {
		return err
	}
	slog.Info("store created", "file", c.Args().First())
	return nil
}

func listVersions(c *cli.Context) error {
	return withAdmin(c, func(ctx context.Context, a backend.Admin) error {
		versions, err := a.Versions(ctx)
		if err != nil {
			return err
		}
		for _, v := range versions {
			fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\n", v.Name, v.State, v.Description)
		}
		return nil
	})
}

func createVersion(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("expected a connection string and a version name")
	}
	return withAdmin(c, func(ctx context.Context, a backend.Admin) error {
		v, err := a.CreateVersion(ctx, c.Args().Get(1), c.String(FROM), c.String(DESCRIPTION))
		if err != nil {
			return err
		}
		slog.Info("version created", "version", v.Name, "state", v.State)
		return nil
	})
}

func printStates(c *cli.Context) error {
	return withAdmin(c, func(ctx context.Context, a backend.Admin) error {
		states, err := a.States(ctx)
		if err != nil {
			return err
		}
		versions, err := a.Versions(ctx)
		if err != nil {
			return err
		}
		fmt.Fprint(c.App.Writer, renderTree(states, versions))
		return nil
	})
}

func listLayers(c *cli.Context) error {
	return withRegistry(c, false, func(ctx context.Context, r *layer.Registry, _ connstr.Params) error {
		layers, err := r.Layers(ctx)
		if err != nil {
			return err
		}
		for _, l := range layers {
			info := l.Info()
			versioned := "single"
			if info.MultiVersion {
				versioned = "multi"
			}
			fmt.Fprintf(c.App.Writer, "%s\t%s\tEPSG:%d\t%s\t%s\n",
				info.Table, info.GeometryType, info.SRSID, versioned, info.Description)
		}
		return nil
	})
}

func createLayer(c *cli.Context) error {
	columns, err := parseColumns(c.StringSlice(COLUMN))
	if err != nil {
		return err
	}
	return withRegistry(c, true, func(ctx context.Context, r *layer.Registry, p connstr.Params) error {
		name, err := layerName(c, NAME, p)
		if err != nil {
			return err
		}
		def := layer.Definition{
			Name:         name,
			Description:  c.String(DESCRIPTION),
			GeometryType: c.String(GEOMETRYTYPE),
			CRS:          c.String(CRS),
			Columns:      columns,
			Overwrite:    c.Bool(OVERWRITE),
		}
		if c.IsSet(SINGLEVERSION) {
			multi := !c.Bool(SINGLEVERSION)
			def.MultiVersion = &multi
		}
		l, err := r.Create(ctx, def)
		if err != nil {
			return err
		}
		slog.Info("layer created", "layer", l.Name())
		return nil
	})
}

func deleteLayer(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("expected a connection string and a layer name")
	}
	return withRegistry(c, true, func(ctx context.Context, r *layer.Registry, _ connstr.Params) error {
		return r.Delete(ctx, c.Args().Get(1))
	})
}

func insertFeature(c *cli.Context) error {
	attrs, err := parseAttributes(c.StringSlice(ATTRIBUTE))
	if err != nil {
		return err
	}
	return withRegistry(c, true, func(ctx context.Context, r *layer.Registry, p connstr.Params) error {
		name, err := layerName(c, LAYER, p)
		if err != nil {
			return err
		}
		l, err := r.Open(ctx, name)
		if err != nil {
			return err
		}
		f := backend.Feature{Attributes: attrs}
		if s := c.String(WKT); s != "" {
			if f.Geometry, err = wkt.DecodeString(s); err != nil {
				return fmt.Errorf("invalid geometry: %w", err)
			}
		}
		id, err := l.Insert(ctx, f.Attributes, f.Geometry)
		if err != nil {
			return err
		}
		slog.Info("feature inserted", "layer", name, "rowid", id)
		return nil
	})
}

func printFeatures(c *cli.Context) error {
	return withRegistry(c, false, func(ctx context.Context, r *layer.Registry, p connstr.Params) error {
		name, err := layerName(c, LAYER, p)
		if err != nil {
			return err
		}
		l, err := r.Open(ctx, name)
		if err != nil {
			return err
		}
		features, err := l.Features(ctx)
		if err != nil {
			return err
		}
		for _, f := range features {
			fmt.Fprintln(c.App.Writer, formatFeature(f))
		}
		return nil
	})
}

func parseColumns(specs []string) ([]backend.Column, error) {
	columns := make([]backend.Column, 0, len(specs))
	for _, s := range specs {
		name, typ, ok := strings.Cut(s, ":")
		if !ok || name == "" || typ == "" {
			return nil, fmt.Errorf("column %q is not of the form name:TYPE", s)
		}
		columns = append(columns, backend.Column{Name: name, Type: strings.ToUpper(typ)})
	}
	return columns, nil
}

func parseAttributes(specs []string) (map[string]interface{}, error) {
	attrs := make(map[string]interface{}, len(specs))
	for _, s := range specs {
		name, value, ok := strings.Cut(s, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("attribute %q is not of the form name=value", s)
		}
		attrs[name] = value
	}
	return attrs, nil
}
