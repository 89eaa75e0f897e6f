package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/fwrpc/internal/api"
	"github.com/roach88/fwrpc/internal/config"
	"github.com/roach88/fwrpc/internal/pipeline"
)

// Error codes shared by every command.
const (
	ErrCodeGeneric      = "E001"
	ErrCodeConfig       = "E002" // project file missing or invalid
	ErrCodeScan         = "E003" // source files could not be scanned
	ErrCodeRegistry     = "E004" // DTO or API registration failed
	ErrCodeNotFound     = "E005" // endpoint or event not in the registry
	ErrCodeEmit         = "E006" // artifact rendering failed
	ErrCodeWriteFailed  = "E007" // artifacts or layout lock not written
	ErrCodeDrift        = "E008" // locked endpoint IDs moved
	ErrCodeConnect      = "E009" // device unreachable
	ErrCodeRemote       = "E010" // device answered with an ERROR frame
	ErrCodeIncompatible = "E011" // device hashes are incompatible
	ErrCodePayload      = "E012" // payload could not be encoded or decoded
	ErrCodeScenario     = "E013" // a scenario failed
)

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// newLogger builds the command logger and installs it as the default.
// Verbose switches to debug level; logs never go to stdout.
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func loadConfig(f *OutputFormatter, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, f.Fail(ExitCommandError, ErrCodeNotFound, "config not found", err, nil)
		}
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "invalid config", err, nil)
	}
	f.VerboseLog("Loaded %s: domain %s, %d component(s)", path, cfg.Domain, len(cfg.Components))
	return cfg, nil
}

// loadRegistry scans and registers the project without emitting anything.
func loadRegistry(ctx context.Context, f *OutputFormatter, cfg *config.Config, logger *slog.Logger) (*pipeline.Pipeline, *api.Registry, error) {
	p, err := pipeline.Prepare(ctx, cfg, pipeline.WithLogger(logger))
	if err != nil {
		return nil, nil, f.Fail(ExitCommandError, ErrCodeScan, "scan failed", err, nil)
	}
	if err := p.Register(); err != nil {
		return nil, nil, registryFailure(f, err)
	}
	reg, err := p.API()
	if err != nil {
		return nil, nil, f.Fail(ExitCommandError, ErrCodeGeneric, "registry unavailable", err, nil)
	}
	return p, reg, nil
}

// registryFailure reports a registration error. Validation errors are
// listed one per entry and exit with ExitFailure.
func registryFailure(f *OutputFormatter, err error) error {
	var verrs api.ValidationErrors
	if errors.As(err, &verrs) {
		exit := f.Fail(ExitFailure, ErrCodeRegistry, "API validation failed", nil, []api.ValidationError(verrs))
		if f.Format != "json" {
			for _, v := range verrs {
				fmt.Fprintf(f.Writer, "  %s\n", v.Error())
			}
		}
		return exit
	}
	return f.Fail(ExitFailure, ErrCodeRegistry, "registration failed", err, nil)
}
