package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/fwrpc/internal/pipeline"
	"github.com/roach88/fwrpc/internal/symbols"
)

// SymbolsOptions holds flags for the symbols command.
type SymbolsOptions struct {
	*RootOptions
	Annotated bool
}

// ClassInfo is one class in the symbols report.
type ClassInfo struct {
	Name       string         `json:"name"`
	Location   string         `json:"location,omitempty"`
	Generated  bool           `json:"generated,omitempty"`
	Attributes []string       `json:"attributes,omitempty"`
	Properties []PropertyInfo `json:"properties"`
}

// PropertyInfo is one data member.
type PropertyInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// FunctionInfo is one free function or method.
type FunctionInfo struct {
	Name       string   `json:"name"`
	Location   string   `json:"location,omitempty"`
	Attributes []string `json:"attributes,omitempty"`
	Args       []string `json:"args"`
	Return     string   `json:"return"`
}

// SymbolsResult is the finalized symbol database of a project.
type SymbolsResult struct {
	Components []string       `json:"components"`
	Files      int            `json:"files"`
	Classes    []ClassInfo    `json:"classes"`
	Functions  []FunctionInfo `json:"functions"`
	Conflicts  []string       `json:"conflicts,omitempty"`
	Skipped    []string       `json:"skipped,omitempty"`
}

// NewSymbolsCommand creates the symbols command.
func NewSymbolsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SymbolsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "symbols <config>",
		Short: "Print the symbol database of a project",
		Long: `Scan the project's sources and print the finalized symbol database:
classes with their members, functions with their attributes, conflicting
declarations and files that could not be parsed.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSymbols(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Annotated, "annotated", false, "only list symbols carrying attributes")

	return cmd
}

func runSymbols(opts *SymbolsOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	cfg, err := loadConfig(formatter, path)
	if err != nil {
		return err
	}
	p, err := pipeline.Prepare(cmd.Context(), cfg, pipeline.WithLogger(logger))
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeScan, "scan failed", err, nil)
	}
	db, err := p.Database()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "database unavailable", err, nil)
	}

	result := describeDatabase(db, opts.Annotated)
	return formatter.Render(result, func(w io.Writer) {
		fmt.Fprintf(w, "%d file(s) in %s\n", result.Files, strings.Join(result.Components, ", "))
		for _, c := range result.Classes {
			fmt.Fprintf(w, "class %s%s%s\n", c.Name, attrSuffix(c.Attributes), locSuffix(c.Location))
			for _, prop := range c.Properties {
				fmt.Fprintf(w, "  %s %s\n", prop.Type, prop.Name)
			}
		}
		for _, fn := range result.Functions {
			fmt.Fprintf(w, "func %s(%s) %s%s%s\n", fn.Name, strings.Join(fn.Args, ", "), fn.Return,
				attrSuffix(fn.Attributes), locSuffix(fn.Location))
		}
		for _, c := range result.Conflicts {
			fmt.Fprintf(w, "conflict: %s\n", c)
		}
		for _, s := range result.Skipped {
			fmt.Fprintf(w, "skipped: %s\n", s)
		}
	})
}

func describeDatabase(db *symbols.Database, annotatedOnly bool) SymbolsResult {
	result := SymbolsResult{
		Files:     len(db.Files()),
		Classes:   []ClassInfo{},
		Functions: []FunctionInfo{},
	}
	for _, comp := range db.Components() {
		result.Components = append(result.Components, comp.Name)
	}

	location := func(file symbols.ID, line int) string {
		f, ok := db.File(file)
		if !ok {
			return ""
		}
		if line > 0 {
			return fmt.Sprintf("%s:%d", f.Path, line)
		}
		return f.Path
	}

	for _, cls := range db.Classes() {
		if annotatedOnly && len(cls.Attributes) == 0 {
			continue
		}
		info := ClassInfo{
			Name:       cls.FullName,
			Location:   location(cls.File, cls.Line),
			Generated:  cls.Generated,
			Attributes: attributeNames(cls.Attributes),
			Properties: []PropertyInfo{},
		}
		for _, prop := range db.Properties(cls) {
			info.Properties = append(info.Properties, PropertyInfo{Name: prop.Name, Type: db.TypeString(prop.Type)})
		}
		result.Classes = append(result.Classes, info)
	}

	for _, fn := range db.Functions() {
		if annotatedOnly && len(fn.Attributes) == 0 {
			continue
		}
		info := FunctionInfo{
			Name:       fn.FullName,
			Location:   location(fn.File, fn.Line),
			Attributes: attributeNames(fn.Attributes),
			Args:       []string{},
			Return:     "void",
		}
		if fn.Return != nil {
			info.Return = db.TypeString(fn.Return)
		}
		for _, arg := range db.Arguments(fn) {
			info.Args = append(info.Args, fmt.Sprintf("%s %s", db.TypeString(arg.Type), arg.Name))
		}
		result.Functions = append(result.Functions, info)
	}

	for _, c := range db.Conflicts() {
		result.Conflicts = append(result.Conflicts, c.String())
	}
	for _, fail := range db.Failures() {
		result.Skipped = append(result.Skipped, fail.Error())
	}
	return result
}

func attributeNames(attrs []symbols.Attribute) []string {
	if len(attrs) == 0 {
		return nil
	}
	names := make([]string, len(attrs))
	for i, a := range attrs {
		names[i] = a.Name()
	}
	return names
}

func attrSuffix(attrs []string) string {
	if len(attrs) == 0 {
		return ""
	}
	return " [[" + strings.Join(attrs, ", ") + "]]"
}

func locSuffix(loc string) string {
	if loc == "" {
		return ""
	}
	return "  (" + loc + ")"
}
