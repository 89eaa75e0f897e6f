// Package config loads the project file that drives a generation run.
//
// A project file is YAML (fwrpc.yaml) or CUE (fwrpc.cue). Either form is
// checked against the embedded #Config schema, which also supplies
// defaults.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource []byte

// Component is a named group of annotated source files.
type Component struct {
	Name  string   `yaml:"name" json:"name"`
	Root  string   `yaml:"root,omitempty" json:"root,omitempty"`
	Files []string `yaml:"files" json:"files"`
}

// Config is a validated project file.
type Config struct {
	// Domain is the schema package and DTO namespace of the generated API.
	Domain string `yaml:"domain" json:"domain"`

	OutputDir  string `yaml:"output_dir,omitempty" json:"output_dir,omitempty"`
	GoPackage  string `yaml:"go_package,omitempty" json:"go_package,omitempty"`
	GoImport   string `yaml:"go_import,omitempty" json:"go_import,omitempty"`
	WireImport string `yaml:"wire_import,omitempty" json:"wire_import,omitempty"`

	// LockDB is the layout lock database. Empty disables the lock.
	LockDB string `yaml:"lock_db,omitempty" json:"lock_db,omitempty"`

	// Reserved overrides the reserved endpoint list; CoreReserved is how
	// many of them form the core subset.
	Reserved     []string `yaml:"reserved,omitempty" json:"reserved,omitempty"`
	CoreReserved int      `yaml:"core_reserved,omitempty" json:"core_reserved,omitempty"`

	Components []Component `yaml:"components" json:"components"`

	// Dir is the directory relative paths are resolved against.
	Dir string `yaml:"-" json:"-"`
}

// Error is a configuration error, with a position when one is known.
type Error struct {
	File    string
	Line    int
	Column  int
	Message string
}

func (e *Error) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	}
	if e.File != "" {
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
	return e.Message
}

// Load reads and validates the project file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg *Config
	switch filepath.Ext(path) {
	case ".cue":
		cfg, err = ParseCUE(path, data)
	case ".yaml", ".yml":
		cfg, err = ParseYAML(path, data)
	default:
		return nil, &Error{File: path, Message: "unsupported config format, want .yaml or .cue"}
	}
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolve config dir: %w", err)
	}
	cfg.Dir = abs
	return cfg, nil
}

// ParseYAML decodes a YAML project file. Unknown keys are rejected.
func ParseYAML(filename string, data []byte) (*Config, error) {
	var raw Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, &Error{File: filename, Message: fmt.Sprintf("parse yaml: %v", err)}
	}

	ctx := cuecontext.New()
	v := ctx.Encode(raw)
	if err := v.Err(); err != nil {
		return nil, cueError(filename, err)
	}
	return validate(ctx, filename, v)
}

// ParseCUE evaluates a CUE project file.
func ParseCUE(filename string, data []byte) (*Config, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, cueError(filename, err)
	}
	return validate(ctx, filename, v)
}

func validate(ctx *cue.Context, filename string, v cue.Value) (*Config, error) {
	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, cueError(filename, err)
	}
	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return nil, cueError(filename, err)
	}
	if err := cfg.check(); err != nil {
		return nil, &Error{File: filename, Message: err.Error()}
	}
	return &cfg, nil
}

// check covers rules the schema cannot express.
func (c *Config) check() error {
	seen := make(map[string]bool, len(c.Components))
	for _, comp := range c.Components {
		if seen[comp.Name] {
			return fmt.Errorf("component %q listed twice", comp.Name)
		}
		seen[comp.Name] = true
	}
	if c.CoreReserved > len(c.Reserved) {
		return fmt.Errorf("core_reserved is %d but only %d reserved endpoints are listed", c.CoreReserved, len(c.Reserved))
	}
	return nil
}

// Files returns the component's file paths resolved against the config
// directory and the component root.
func (c *Config) Files(comp Component) []string {
	base := c.Dir
	if comp.Root != "" {
		base = c.resolve(comp.Root)
	}
	out := make([]string, len(comp.Files))
	for i, f := range comp.Files {
		if filepath.IsAbs(f) {
			out[i] = f
		} else {
			out[i] = filepath.Join(base, f)
		}
	}
	return out
}

// OutputPath resolves the output directory.
func (c *Config) OutputPath() string { return c.resolve(c.OutputDir) }

// LockPath resolves the layout lock database, or returns "" when unset.
func (c *Config) LockPath() string {
	if c.LockDB == "" {
		return ""
	}
	return c.resolve(c.LockDB)
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// cueError keeps the first error and its position.
func cueError(filename string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{File: filename, Message: err.Error()}
	}
	first := errs[0]
	out := &Error{File: filename, Message: first.Error()}
	if pos := cueerrors.Positions(first); len(pos) > 0 && pos[0].IsValid() {
		out.applyPos(pos[0])
	}
	return out
}

// applyPos records p unless it points into the embedded schema.
func (e *Error) applyPos(p token.Pos) {
	name := p.Filename()
	if name == "schema.cue" {
		return
	}
	if name != "" {
		e.File = name
	}
	e.Line = p.Line()
	e.Column = p.Column()
}
