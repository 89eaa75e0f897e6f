package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/fwrpc/internal/api"
	"github.com/roach88/fwrpc/internal/codegen"
	"github.com/roach88/fwrpc/internal/config"
	"github.com/roach88/fwrpc/internal/store"
	"github.com/roach88/fwrpc/internal/symbols"
)

// RunOptions controls Run.
type RunOptions struct {
	// DryRun renders and checks everything but writes nothing.
	DryRun bool

	// AcceptDrift records the new layout even when locked IDs moved.
	AcceptDrift bool
}

// Result describes one Run.
type Result struct {
	Pipeline *Pipeline
	Output   *codegen.Output
	Failures []*symbols.ParseError

	// Drift is set when the lock reported moved IDs, whether or not the
	// drift was accepted.
	Drift *store.LayoutDrift

	// Recorded is the lock entry written by this run, if any.
	Recorded *store.Run
}

// ForConfig creates a pipeline for cfg's domain and reserved block.
func ForConfig(cfg *config.Config, opts ...Option) *Pipeline {
	if cfg.Reserved != nil {
		opts = append(opts, WithAPIOptions(api.WithReserved(cfg.Reserved, cfg.CoreReserved)))
	}
	return New(cfg.Domain, opts...)
}

// Prepare scans every component of cfg and finalizes the database.
func Prepare(ctx context.Context, cfg *config.Config, opts ...Option) (*Pipeline, error) {
	p := ForConfig(cfg, opts...)
	for _, comp := range cfg.Components {
		if err := p.Scan(ctx, comp.Name, cfg.Files(comp)); err != nil {
			return p, fmt.Errorf("scan %s: %w", comp.Name, err)
		}
	}
	if err := p.Finalize(); err != nil {
		return p, err
	}
	return p, nil
}

// Run drives every phase for cfg. With a layout lock configured the new
// layout is checked before anything is written; unaccepted drift returns
// the *store.LayoutDrift and leaves the output directory untouched.
func Run(ctx context.Context, cfg *config.Config, ropts RunOptions, opts ...Option) (*Result, error) {
	p, err := Prepare(ctx, cfg, opts...)
	res := &Result{Pipeline: p}
	if err != nil {
		return res, err
	}
	res.Failures = p.Failures()
	if err := p.Register(); err != nil {
		return res, err
	}
	out, err := p.Emit(codegen.Options{
		GoPackage:  cfg.GoPackage,
		GoImport:   cfg.GoImport,
		WireImport: cfg.WireImport,
	})
	if err != nil {
		return res, err
	}
	res.Output = out

	var lock *store.Store
	if path := cfg.LockPath(); path != "" {
		lock, err = store.Open(path, store.WithLogger(p.logger))
		if err != nil {
			return res, fmt.Errorf("open layout lock: %w", err)
		}
		defer lock.Close()

		if err := lock.Check(ctx, p.reg); err != nil {
			if !errors.As(err, &res.Drift) {
				return res, err
			}
			if !ropts.AcceptDrift {
				return res, err
			}
			p.logger.Warn("layout drift accepted", "domain", cfg.Domain, "drifts", len(res.Drift.Drifts))
		}
	}

	if ropts.DryRun {
		return res, nil
	}
	if err := out.Write(cfg.OutputPath()); err != nil {
		return res, err
	}
	p.logger.Info("artifacts written", "dir", cfg.OutputPath(), "files", len(out.Files), "manifest", out.ManifestHash)

	if lock != nil {
		run, err := lock.Record(ctx, p.reg, out.ManifestHash)
		if err != nil {
			return res, fmt.Errorf("record layout: %w", err)
		}
		res.Recorded = &run
		p.logger.Info("layout recorded", "run", run.ID, "seq", run.Seq)
	}
	return res, nil
}
