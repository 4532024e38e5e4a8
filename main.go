package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/carlmjohnson/versioninfo"
	"github.com/iancoleman/strcase"
	"github.com/urfave/cli/v2"
)

const CONFIG string = `config`
const VERSIONEDITS string = `version-edits`
const FID string = `fid`
const VERBOSE string = `verbose`

const FROM string = `from`
const DESCRIPTION string = `description`
const NAME string = `name`
const GEOMETRYTYPE string = `geometry-type`
const CRS string = `crs`
const COLUMN string = `column`
const OVERWRITE string = `overwrite`
const SINGLEVERSION string = `single-version`
const LAYER string = `layer`
const WKT string = `wkt`
const ATTRIBUTE string = `attribute`

//nolint:funlen
func main() {
	app := cli.NewApp()
	app.Name = "vedit"
	app.Usage = "Versioned editing of a state tree GeoPackage store"
	app.Version = versioninfo.Short()

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:     CONFIG,
			Aliases:  []string{"c"},
			Usage:    "JSON configuration file. Defaults apply to every key it leaves out",
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(CONFIG)},
		},
		&cli.BoolFlag{
			Name:     VERSIONEDITS,
			Usage:    "Route writes through a child state of the version. Overrides the configuration file",
			Required: false,
			EnvVars:  []string{"SDE_VERSIONEDITS"},
		},
		&cli.StringFlag{
			Name:     FID,
			Usage:    "Row id column of new layers. Overrides the configuration file",
			Required: false,
			EnvVars:  []string{"SDE_FID"},
		},
		&cli.BoolFlag{
			Name:     VERBOSE,
			Aliases:  []string{"v"},
			Usage:    "Log every session phase and teardown step",
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(VERBOSE)},
		},
	}

	app.Before = func(c *cli.Context) error {
		level := slog.LevelInfo
		if c.Bool(VERBOSE) {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return nil
	}

	app.Commands = []*cli.Command{
		{
			Name:      "init",
			Usage:     "Create a new store",
			ArgsUsage: "<file>",
			Action:    initStore,
		},
		{
			Name:      "versions",
			Usage:     "List the versions and the state each points at",
			ArgsUsage: "<connection>",
			Action:    listVersions,
		},
		{
			Name:      "create-version",
			Usage:     "Create a version pointing at the current state of another",
			ArgsUsage: "<connection> <name>",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: FROM, Usage: "Version to branch from", Value: "SDE.DEFAULT"},
				&cli.StringFlag{Name: DESCRIPTION, Usage: "Description of the version"},
			},
			Action: createVersion,
		},
		{
			Name:      "states",
			Usage:     "Print the state tree",
			ArgsUsage: "<connection>",
			Action:    printStates,
		},
		{
			Name:      "layers",
			Usage:     "List the layers",
			ArgsUsage: "<connection>",
			Action:    listLayers,
		},
		{
			Name:      "create-layer",
			Usage:     "Create a layer in an edit session on the version of the connection",
			ArgsUsage: "<connection>",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: NAME, Usage: "Layer name. Defaults to the layer of the connection"},
				&cli.StringFlag{Name: DESCRIPTION, Usage: "Description of the layer"},
				&cli.StringFlag{Name: GEOMETRYTYPE, Usage: "E.g. POINT or MULTIPOLYGON", Value: "GEOMETRY"},
				&cli.StringFlag{Name: CRS, Usage: "E.g. EPSG:28992", Value: "EPSG:28992"},
				&cli.StringSliceFlag{Name: COLUMN, Usage: "Attribute column as name:TYPE. Repeatable"},
				&cli.BoolFlag{Name: OVERWRITE, Aliases: []string{"o"}, Usage: "Replace an existing layer"},
				&cli.BoolFlag{Name: SINGLEVERSION, Usage: "Register the layer as not versioned"},
			},
			Action: createLayer,
		},
		{
			Name:      "delete-layer",
			Usage:     "Delete a layer in an edit session on the version of the connection",
			ArgsUsage: "<connection> <name>",
			Action:    deleteLayer,
		},
		{
			Name:      "insert",
			Usage:     "Insert a feature in an edit session on the version of the connection",
			ArgsUsage: "<connection>",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: LAYER, Aliases: []string{"l"}, Usage: "Layer name. Defaults to the layer of the connection"},
				&cli.StringFlag{Name: WKT, Usage: "Geometry as WKT"},
				&cli.StringSliceFlag{Name: ATTRIBUTE, Aliases: []string{"a"}, Usage: "Attribute as name=value. Repeatable"},
			},
			Action: insertFeature,
		},
		{
			Name:      "features",
			Usage:     "Print the features of a layer as seen from the version of the connection",
			ArgsUsage: "<connection>",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: LAYER, Aliases: []string{"l"}, Usage: "Layer name. Defaults to the layer of the connection"},
			},
			Action: printFeatures,
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := app.RunContext(ctx, os.Args)
	if err != nil {
		stop()
		log.Fatal(err) //nolint:gocritic
	}
}
