package codegen

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/fwrpc/internal/api"
	"github.com/roach88/fwrpc/internal/params"
)

// File is one generated artifact.
type File struct {
	Path    string // relative to the output directory
	Content []byte
}

// Output is every artifact of one generation run.
type Output struct {
	Files []File

	// ManifestHash identifies the API manifest content.
	ManifestHash string
}

// Generate renders every artifact of reg. The Go client goes into a
// subdirectory named after its package.
func Generate(reg *api.Registry, opts Options) (*Output, error) {
	opts = opts.withDefaults()

	schema, err := Schema(reg, opts)
	if err != nil {
		return nil, err
	}
	if _, err := Descriptors(reg); err != nil {
		return nil, err
	}
	client, err := Client(reg, opts)
	if err != nil {
		return nil, err
	}
	manifest, err := Manifest(reg)
	if err != nil {
		return nil, fmt.Errorf("render manifest: %w", err)
	}

	return &Output{
		Files: []File{
			{Path: SchemaFile(reg.Domain), Content: schema},
			{Path: params.ProtoFile, Content: ParamsSchema(opts)},
			{Path: filepath.Join(opts.GoPackage, ClientFile), Content: client},
			{Path: ManifestFile, Content: manifest},
		},
		ManifestHash: ManifestHash(manifest),
	}, nil
}

// Write stores every file under dir.
func (o *Output) Write(dir string) error {
	for _, f := range o.Files {
		path := filepath.Join(dir, f.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, f.Content, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

// File returns the artifact at the given relative path.
func (o *Output) File(path string) ([]byte, bool) {
	for _, f := range o.Files {
		if f.Path == path {
			return f.Content, true
		}
	}
	return nil, false
}
