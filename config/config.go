// Package config holds the options an edit session and its layers are built with.
package config

import (
	"fmt"
	"os"
	"slices"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/perimeterx/marshmallow"
	"golang.org/x/exp/maps"

	"github.com/pdok/vedit/backend"
)

type Config struct {
	// VersionEdits routes writes through a child state of the version.
	VersionEdits bool `json:"versionEdits" default:"true"`
	// RowIDColumn is the row identifier of new layers.
	RowIDColumn    string `json:"rowIdColumn" default:"OBJECTID" validate:"required"`
	GeometryColumn string `json:"geometryColumn" default:"SHAPE" validate:"required"`
	// DefaultVersion is edited when the connection string names none.
	DefaultVersion string `json:"defaultVersion" default:"SDE.DEFAULT" validate:"required"`
	// MultiVersion registers new layers as versioned.
	MultiVersion bool   `json:"multiVersion" default:"true"`
	Concurrency  string `json:"concurrency" default:"unprotected" validate:"oneof=unprotected protected"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(err)
	}
	return c
}

// Load reads a JSON configuration file. Missing keys keep their defaults, unknown
// keys are an error.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(data)
}

// Parse is Load for configuration already in memory.
func Parse(data []byte) (Config, error) {
	c := Default()
	unknown, err := marshmallow.Unmarshal(data, &c, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return c, err
	}
	if len(unknown) > 0 {
		keys := maps.Keys(unknown)
		slices.Sort(keys)
		return c, fmt.Errorf("unknown configuration keys %q", keys)
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	return validator.New(validator.WithRequiredStructEnabled()).Struct(c)
}

// Policy is the concurrency policy connections are opened with.
func (c Config) Policy() backend.ConcurrencyPolicy {
	p, err := backend.ParseConcurrencyPolicy(c.Concurrency)
	if err != nil {
		return backend.UnprotectedPolicy
	}
	return p
}
