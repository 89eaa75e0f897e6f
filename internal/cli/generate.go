package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/fwrpc/internal/api"
	"github.com/roach88/fwrpc/internal/pipeline"
	"github.com/roach88/fwrpc/internal/store"
)

// GenerateOptions holds flags for the generate command.
type GenerateOptions struct {
	*RootOptions
	DryRun      bool
	AcceptDrift bool
}

// GenerateResult summarizes one generation run.
type GenerateResult struct {
	Domain       string     `json:"domain"`
	OutputDir    string     `json:"output_dir"`
	Files        []string   `json:"files"`
	ManifestHash string     `json:"manifest_hash"`
	Compat       api.Compat `json:"compat"`
	Endpoints    int        `json:"endpoints"`
	Events       int        `json:"events"`
	Skipped      []string   `json:"skipped,omitempty"`
	Drift        []string   `json:"drift,omitempty"`
	Run          string     `json:"run,omitempty"`
	DryRun       bool       `json:"dry_run,omitempty"`
}

// NewGenerateCommand creates the generate command.
func NewGenerateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GenerateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "generate <config>",
		Short: "Generate the schema, client and manifest for a project",
		Long: `Scan the annotated firmware sources named by the project file, build the
DTO and API registries and write the generated artifacts.

With lock_db configured, endpoint IDs are compared against the last
recorded layout first. Moved or removed IDs abort the run (exit 2) unless
--accept-drift is given.

Example:
  fwrpc generate ./fwrpc.yaml
  fwrpc generate --dry-run --format json ./fwrpc.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "render and check everything but write nothing")
	cmd.Flags().BoolVar(&opts.AcceptDrift, "accept-drift", false, "record the new layout even if locked IDs moved")

	return cmd
}

func runGenerate(opts *GenerateOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	cfg, err := loadConfig(formatter, path)
	if err != nil {
		return err
	}

	res, err := pipeline.Run(cmd.Context(), cfg, pipeline.RunOptions{
		DryRun:      opts.DryRun,
		AcceptDrift: opts.AcceptDrift,
	}, pipeline.WithLogger(logger))
	if err != nil {
		return generateFailure(formatter, res, err)
	}

	reg, err := res.Pipeline.API()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "registry unavailable", err, nil)
	}
	result := GenerateResult{
		Domain:       cfg.Domain,
		OutputDir:    cfg.OutputPath(),
		ManifestHash: res.Output.ManifestHash,
		Compat:       reg.Compat,
		Endpoints:    len(reg.Endpoints),
		Events:       len(reg.Events),
		DryRun:       opts.DryRun,
	}
	for _, f := range res.Output.Files {
		result.Files = append(result.Files, f.Path)
	}
	for _, fail := range res.Failures {
		result.Skipped = append(result.Skipped, fail.Error())
	}
	if res.Drift != nil {
		result.Drift = driftLines(res.Drift)
	}
	if res.Recorded != nil {
		result.Run = res.Recorded.ID
	}

	return formatter.Render(result, func(w io.Writer) {
		verb := "Wrote"
		if result.DryRun {
			verb = "Would write"
		}
		fmt.Fprintf(w, "%s %d file(s) to %s\n", verb, len(result.Files), result.OutputDir)
		for _, f := range result.Files {
			fmt.Fprintf(w, "  %s\n", f)
		}
		fmt.Fprintf(w, "endpoints: %d  events: %d\n", result.Endpoints, result.Events)
		writeCompat(w, result.Compat)
		fmt.Fprintf(w, "manifest: %s\n", result.ManifestHash)
		if len(result.Skipped) > 0 {
			fmt.Fprintf(w, "skipped %d file(s):\n", len(result.Skipped))
			for _, s := range result.Skipped {
				fmt.Fprintf(w, "  %s\n", s)
			}
		}
		if len(result.Drift) > 0 {
			fmt.Fprintf(w, "accepted layout drift:\n")
			for _, d := range result.Drift {
				fmt.Fprintf(w, "  %s\n", d)
			}
		}
		if result.Run != "" {
			fmt.Fprintf(w, "layout recorded as run %s\n", result.Run)
		}
	})
}

// generateFailure maps a pipeline error to a code using how far the run got.
func generateFailure(f *OutputFormatter, res *pipeline.Result, err error) error {
	var drift *store.LayoutDrift
	if errors.As(err, &drift) {
		lines := driftLines(drift)
		exit := f.Fail(ExitCommandError, ErrCodeDrift, fmt.Sprintf("layout drift in %s", drift.Domain), nil, lines)
		if f.Format != "json" {
			for _, l := range lines {
				fmt.Fprintf(f.Writer, "  %s\n", l)
			}
			fmt.Fprintln(f.Writer, "rerun with --accept-drift to record the new layout")
		}
		return exit
	}

	phase := pipeline.PhaseNew
	if res != nil && res.Pipeline != nil {
		phase = res.Pipeline.Phase()
	}
	switch phase {
	case pipeline.PhaseNew, pipeline.PhaseScanned:
		return f.Fail(ExitCommandError, ErrCodeScan, "scan failed", err, nil)
	case pipeline.PhaseFinalized:
		return registryFailure(f, err)
	case pipeline.PhaseRegistered:
		return f.Fail(ExitFailure, ErrCodeEmit, "generation failed", err, nil)
	default:
		return f.Fail(ExitCommandError, ErrCodeWriteFailed, "write failed", err, nil)
	}
}

func driftLines(d *store.LayoutDrift) []string {
	lines := make([]string, len(d.Drifts))
	for i, dr := range d.Drifts {
		lines[i] = dr.String()
	}
	return lines
}

func writeCompat(w io.Writer, c api.Compat) {
	fmt.Fprintf(w, "core_hash: 0x%08x  reserved_hash: 0x%08x  api_hash: 0x%08x\n", c.Core, c.Reserved, c.API)
}
