// Package connstr parses data source names of the form
//
//	SDE:server,instance,database,username,password[,layer[,version]]
package connstr

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pdok/vedit/backend"
)

const Prefix = "SDE:"

// Params are the fields of a connection string. Layer and Version are empty when
// the string does not name them.
type Params struct {
	Server   string `validate:"required"`
	Instance string
	Database string `validate:"required"`
	User     string
	Password string
	Layer    string
	Version  string
}

// Parse splits s on commas. Tokens may be double quoted to hold commas, and inside
// quotes a backslash escapes the next character.
func Parse(s string) (Params, error) {
	if len(s) < len(Prefix) || !strings.EqualFold(s[:len(Prefix)], Prefix) {
		return Params{}, fmt.Errorf("connection string must start with %q", Prefix)
	}
	tokens, err := tokenize(s[len(Prefix):])
	if err != nil {
		return Params{}, err
	}
	if len(tokens) < 5 || len(tokens) > 7 {
		return Params{}, fmt.Errorf("connection string has %d fields, expected %sserver,instance,database,username,password[,layer[,version]]",
			len(tokens), Prefix)
	}
	tokens = append(tokens, "", "")
	p := Params{
		Server:   tokens[0],
		Instance: tokens[1],
		Database: tokens[2],
		User:     tokens[3],
		Password: tokens[4],
		Layer:    tokens[5],
		Version:  tokens[6],
	}
	if err := validator.New().Struct(p); err != nil {
		return Params{}, fmt.Errorf("invalid connection string: %w", err)
	}
	return p, nil
}

func tokenize(s string) ([]string, error) {
	var (
		tokens  []string
		b       strings.Builder
		quoted  bool
		escaped bool
	)
	for _, r := range s {
		switch {
		case escaped:
			b.WriteRune(r)
			escaped = false
		case quoted && r == '\\':
			escaped = true
		case r == '"':
			quoted = !quoted
		case !quoted && r == ',':
			tokens = append(tokens, b.String())
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	if quoted {
		return nil, fmt.Errorf("unterminated quote in connection string")
	}
	return append(tokens, b.String()), nil
}

// ConnectParams are the fields a backend connects with.
func (p Params) ConnectParams() backend.ConnectParams {
	return backend.ConnectParams{
		Server:   p.Server,
		Instance: p.Instance,
		Database: p.Database,
		User:     p.User,
		Password: p.Password,
	}
}

// String formats p as a connection string with the password masked.
func (p Params) String() string {
	password := ""
	if p.Password != "" {
		password = "***"
	}
	tokens := []string{p.Server, p.Instance, p.Database, p.User, password}
	switch {
	case p.Version != "":
		tokens = append(tokens, p.Layer, p.Version)
	case p.Layer != "":
		tokens = append(tokens, p.Layer)
	}
	for i, t := range tokens {
		if strings.ContainsAny(t, `,"\`) {
			tokens[i] = `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(t) + `"`
		}
	}
	return Prefix + strings.Join(tokens, ",")
}
