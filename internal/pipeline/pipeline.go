// Package pipeline drives generation in fixed phases: scan the annotated
// sources, finalize the symbol database, register the API and emit the
// artifacts. Each accessor is only available once the phase that produces
// its value has run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/fwrpc/internal/api"
	"github.com/roach88/fwrpc/internal/codegen"
	"github.com/roach88/fwrpc/internal/dto"
	"github.com/roach88/fwrpc/internal/symbols"
)

// Phase is a pipeline stage. Phases only move forward.
type Phase int

const (
	PhaseNew Phase = iota
	PhaseScanned
	PhaseFinalized
	PhaseRegistered
	PhaseEmitted
)

func (p Phase) String() string {
	switch p {
	case PhaseNew:
		return "new"
	case PhaseScanned:
		return "scanned"
	case PhaseFinalized:
		return "finalized"
	case PhaseRegistered:
		return "registered"
	case PhaseEmitted:
		return "emitted"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// PhaseError reports an operation called in the wrong phase.
type PhaseError struct {
	Op   string
	Have Phase
	Want Phase
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("pipeline: %s needs phase %s, pipeline is %s", e.Op, e.Want, e.Have)
}

// IsPhaseError reports whether err is a PhaseError.
// Uses errors.As to handle wrapped errors.
func IsPhaseError(err error) bool {
	var pe *PhaseError
	return errors.As(err, &pe)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger handed to every stage.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithParallelism bounds concurrent file parsing.
func WithParallelism(n int) Option {
	return func(p *Pipeline) {
		p.parallelism = n
	}
}

// WithAPIOptions passes options to api.Build.
func WithAPIOptions(opts ...api.Option) Option {
	return func(p *Pipeline) {
		p.apiOpts = append(p.apiOpts, opts...)
	}
}

// Pipeline owns one generation run for one domain.
type Pipeline struct {
	domain      string
	logger      *slog.Logger
	parallelism int
	apiOpts     []api.Option

	phase   Phase
	builder *symbols.Builder
	db      *symbols.Database
	dtos    *dto.Registry
	reg     *api.Registry
	output  *codegen.Output
}

// New creates a pipeline for domain.
func New(domain string, opts ...Option) *Pipeline {
	p := &Pipeline{domain: domain, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	bopts := []symbols.BuilderOption{symbols.WithLogger(p.logger)}
	if p.parallelism > 0 {
		bopts = append(bopts, symbols.WithParallelism(p.parallelism))
	}
	p.builder = symbols.NewBuilder(bopts...)
	return p
}

// Phase returns the current phase.
func (p *Pipeline) Phase() Phase { return p.phase }

// Domain returns the schema package the pipeline generates.
func (p *Pipeline) Domain() string { return p.domain }

func (p *Pipeline) require(op string, want Phase) error {
	if p.phase != want {
		return &PhaseError{Op: op, Have: p.phase, Want: want}
	}
	return nil
}

func (p *Pipeline) atLeast(op string, want Phase) error {
	if p.phase < want {
		return &PhaseError{Op: op, Have: p.phase, Want: want}
	}
	return nil
}

func (p *Pipeline) scanning(op string) error {
	if p.phase > PhaseScanned {
		return &PhaseError{Op: op, Have: p.phase, Want: PhaseScanned}
	}
	return nil
}

// Scan parses the files of one component. It may be called any number of
// times before Finalize.
func (p *Pipeline) Scan(ctx context.Context, component string, paths []string) error {
	if err := p.scanning("Scan"); err != nil {
		return err
	}
	if err := p.builder.AddFiles(ctx, component, paths); err != nil {
		return err
	}
	p.phase = PhaseScanned
	p.logger.Debug("component scanned", "component", component, "files", len(paths))
	return nil
}

// ScanSource ingests one in-memory file.
func (p *Pipeline) ScanSource(ctx context.Context, component, path string, src []byte) error {
	if err := p.scanning("ScanSource"); err != nil {
		return err
	}
	if err := p.builder.AddSource(ctx, component, path, src); err != nil {
		return err
	}
	p.phase = PhaseScanned
	return nil
}

// Failures returns the files skipped so far.
func (p *Pipeline) Failures() []*symbols.ParseError {
	if p.db != nil {
		return p.db.Failures()
	}
	return p.builder.Failures()
}

// Finalize resolves the scanned symbols.
func (p *Pipeline) Finalize() error {
	if err := p.require("Finalize", PhaseScanned); err != nil {
		return err
	}
	db, err := p.builder.Finalize()
	if err != nil {
		return err
	}
	p.db = db
	p.phase = PhaseFinalized
	return nil
}

// Register builds the DTO and API registries.
func (p *Pipeline) Register() error {
	if err := p.require("Register", PhaseFinalized); err != nil {
		return err
	}
	dtos, err := dto.NewRegistry(p.db, dto.WithLogger(p.logger))
	if err != nil {
		return err
	}
	opts := append([]api.Option{api.WithLogger(p.logger)}, p.apiOpts...)
	reg, err := api.Build(dtos, p.domain, opts...)
	if err != nil {
		return err
	}
	p.dtos = dtos
	p.reg = reg
	p.phase = PhaseRegistered
	p.logger.Info("api registered",
		"domain", p.domain,
		"endpoints", len(reg.Endpoints),
		"events", len(reg.Events),
		"api_hash", fmt.Sprintf("0x%08x", reg.Compat.API))
	return nil
}

// Emit renders every artifact.
func (p *Pipeline) Emit(opts codegen.Options) (*codegen.Output, error) {
	if err := p.require("Emit", PhaseRegistered); err != nil {
		return nil, err
	}
	out, err := codegen.Generate(p.reg, opts)
	if err != nil {
		return nil, err
	}
	p.output = out
	p.phase = PhaseEmitted
	return out, nil
}

// Database returns the finalized symbol database.
func (p *Pipeline) Database() (*symbols.Database, error) {
	if err := p.atLeast("Database", PhaseFinalized); err != nil {
		return nil, err
	}
	return p.db, nil
}

// DTOs returns the serializable registry.
func (p *Pipeline) DTOs() (*dto.Registry, error) {
	if err := p.atLeast("DTOs", PhaseRegistered); err != nil {
		return nil, err
	}
	return p.dtos, nil
}

// API returns the API registry.
func (p *Pipeline) API() (*api.Registry, error) {
	if err := p.atLeast("API", PhaseRegistered); err != nil {
		return nil, err
	}
	return p.reg, nil
}

// Output returns the emitted artifacts.
func (p *Pipeline) Output() (*codegen.Output, error) {
	if err := p.atLeast("Output", PhaseEmitted); err != nil {
		return nil, err
	}
	return p.output, nil
}
