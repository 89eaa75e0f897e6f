package symbols

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Builder collects entities from source files. It is the only way to
// produce a Database; types are not resolved until Finalize.
type Builder struct {
	logger      *slog.Logger
	parallelism int

	mu         sync.Mutex
	finalized  bool
	db         *Database
	failures   []*ParseError
	provenance map[ID]string // entity ID -> "component/path" that declared it first
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets the logger used for duplicate and failure reports.
func WithLogger(l *slog.Logger) BuilderOption {
	return func(b *Builder) {
		b.logger = l
	}
}

// WithParallelism bounds how many files AddFiles parses at once.
func WithParallelism(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.parallelism = n
		}
	}
}

// NewBuilder creates an empty Builder.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		logger:      slog.Default(),
		parallelism: 4,
		db:          newDatabase(),
		provenance:  make(map[ID]string),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddFromFile reads and ingests one file. Parse failures are recorded and
// logged, never returned; only reuse after Finalize is an error.
func (b *Builder) AddFromFile(ctx context.Context, component, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.finalized {
			return ErrAlreadyFinalized
		}
		b.recordFailure(&ParseError{Component: component, File: path, Message: "read failed", Err: err})
		return nil
	}
	return b.AddSource(ctx, component, path, src)
}

// AddSource ingests one in-memory source unit.
func (b *Builder) AddSource(ctx context.Context, component, path string, src []byte) error {
	b.mu.Lock()
	done := b.finalized
	b.mu.Unlock()
	if done {
		return ErrAlreadyFinalized
	}

	parser := newCppParser()
	defer parser.Close()
	unit, err := parseSource(ctx, parser, component, path, src)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finalized {
		return ErrAlreadyFinalized
	}
	b.ensureFile(component, path)
	if err != nil {
		b.recordParseErr(component, path, err)
		return nil
	}
	b.merge(unit)
	return nil
}

// AddFiles parses paths concurrently and merges the results in input
// order, so duplicate reports are deterministic.
func (b *Builder) AddFiles(ctx context.Context, component string, paths []string) error {
	b.mu.Lock()
	done := b.finalized
	b.mu.Unlock()
	if done {
		return ErrAlreadyFinalized
	}

	type result struct {
		unit *parseUnit
		err  error
	}
	results := make([]result, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.parallelism)
	for i, path := range paths {
		g.Go(func() error {
			src, err := os.ReadFile(path)
			if err != nil {
				results[i].err = &ParseError{Component: component, File: path, Message: "read failed", Err: err}
				return nil
			}
			parser := newCppParser()
			defer parser.Close()
			results[i].unit, results[i].err = parseSource(gctx, parser, component, path, src)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("parsing %s: %w", component, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finalized {
		return ErrAlreadyFinalized
	}
	for i, r := range results {
		b.ensureFile(component, paths[i])
		if r.err != nil {
			b.recordParseErr(component, paths[i], r.err)
			continue
		}
		b.merge(r.unit)
	}
	return nil
}

// Failures returns the per-file failures recorded so far.
func (b *Builder) Failures() []*ParseError {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*ParseError(nil), b.failures...)
}

// Finalize resolves every deferred type reference and returns the
// database. It may be called once.
func (b *Builder) Finalize() (*Database, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finalized {
		return nil, ErrAlreadyFinalized
	}
	b.finalized = true

	db := b.db
	b.db = nil
	db.failures = b.failures
	db.indexClassNames()
	resolved, unresolved := db.resolve(b.logger)
	b.logger.Debug("symbol database finalized",
		"classes", len(db.classOrder),
		"functions", len(db.functionOrder),
		"resolved", resolved,
		"unresolved", unresolved,
		"failures", len(db.failures),
		"conflicts", len(db.conflicts))
	return db, nil
}

func (b *Builder) recordParseErr(component, path string, err error) {
	pe, ok := err.(*ParseError)
	if !ok {
		pe = &ParseError{Component: component, File: path, Message: "parse failed", Err: err}
	}
	b.recordFailure(pe)
}

func (b *Builder) recordFailure(pe *ParseError) {
	b.failures = append(b.failures, pe)
	b.logger.Warn("source file skipped",
		"component", pe.Component,
		"file", pe.File,
		"line", pe.Line,
		"error", pe.Error())
}

func (b *Builder) ensureFile(component, path string) {
	db := b.db
	cid := ComponentID(component)
	comp, ok := db.components[cid]
	if !ok {
		comp = &Component{ID: cid, Name: component}
		db.components[cid] = comp
		db.componentOrder = append(db.componentOrder, cid)
	}
	fid := FileID(component, path)
	if _, ok := db.files[fid]; ok {
		return
	}
	db.files[fid] = &File{ID: fid, Component: cid, Path: path}
	db.fileOrder = append(db.fileOrder, fid)
	comp.Files = append(comp.Files, fid)
}

// merge folds one parse unit into the arena. The first declaration at an
// ID wins; later ones are compared and reported.
func (b *Builder) merge(u *parseUnit) {
	db := b.db
	origin := u.component + "/" + u.path

	for _, ns := range u.namespaces {
		if _, ok := db.namespaces[ns.ID]; ok {
			continue
		}
		db.namespaces[ns.ID] = ns
		db.namespaceOrder = append(db.namespaceOrder, ns.ID)
	}

	props := make(map[ID]*Property, len(u.properties))
	for _, p := range u.properties {
		props[p.ID] = p
	}
	args := make(map[ID]*Argument, len(u.arguments))
	for _, a := range u.arguments {
		args[a.ID] = a
	}

	added := make(map[ID]bool)
	for _, cls := range u.classes {
		existing, ok := db.classes[cls.ID]
		if !ok {
			db.classes[cls.ID] = cls
			db.classOrder = append(db.classOrder, cls.ID)
			b.provenance[cls.ID] = origin
			added[cls.ID] = true
			continue
		}
		b.duplicate(KindClass, cls.ID, cls.FullName, origin,
			classSignature(existing, db.properties), classSignature(cls, props))
	}
	for _, p := range u.properties {
		if !added[p.Class] || !slices.Contains(db.classes[p.Class].Properties, p.ID) {
			continue
		}
		if _, ok := db.properties[p.ID]; !ok {
			db.properties[p.ID] = p
		}
	}

	for _, fn := range u.functions {
		existing, ok := db.functions[fn.ID]
		if !ok {
			db.functions[fn.ID] = fn
			db.functionOrder = append(db.functionOrder, fn.ID)
			b.provenance[fn.ID] = origin
			added[fn.ID] = true
			continue
		}
		b.duplicate(KindFunction, fn.ID, fn.FullName, origin,
			functionSignature(existing, db.arguments), functionSignature(fn, args))
	}
	for _, a := range u.arguments {
		if !added[a.Function] || !slices.Contains(db.functions[a.Function].Args, a.ID) {
			continue
		}
		if _, ok := db.arguments[a.ID]; !ok {
			db.arguments[a.ID] = a
		}
	}
}

func (b *Builder) duplicate(kind Kind, id ID, name, origin, first, second string) {
	firstFile := b.provenance[id]
	if first == second {
		b.logger.Warn("duplicate declaration",
			"kind", kind.String(),
			"name", name,
			"first", firstFile,
			"file", origin)
		return
	}
	c := Conflict{
		ID:        id,
		Kind:      kind,
		Name:      name,
		FirstFile: firstFile,
		File:      origin,
		Reason:    "declaration differs from first",
	}
	b.db.conflicts = append(b.db.conflicts, c)
	b.logger.Warn("inconsistent declaration",
		"kind", kind.String(),
		"name", name,
		"first", firstFile,
		"file", origin,
		"first_signature", first,
		"signature", second)
}

// classSignature renders everything a redeclaration must agree on.
func classSignature(c *Class, props map[ID]*Property) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s anon=%t attrs=[%s] bases=[", c.FullName, c.Anonymous, attributesString(c.Attributes))
	for i, base := range c.Bases {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(TypeText(base))
	}
	sb.WriteString("] props=[")
	for i, id := range c.Properties {
		if i > 0 {
			sb.WriteByte(',')
		}
		p := props[id]
		if p == nil {
			continue
		}
		fmt.Fprintf(&sb, "%s:%s:%t:%t:[%s]", p.Name, TypeText(p.Type), p.Public, p.Static, attributesString(p.Attributes))
	}
	sb.WriteString("]")
	return sb.String()
}

func functionSignature(f *Function, args map[ID]*Argument) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s attrs=[%s] ret=%s args=(", f.FullName, attributesString(f.Attributes), TypeText(f.Return))
	for i, id := range f.Args {
		if i > 0 {
			sb.WriteByte(',')
		}
		a := args[id]
		if a == nil {
			continue
		}
		fmt.Fprintf(&sb, "%s:%s:%s:%t", a.Name, a.Category, TypeText(a.Type), a.Pointer)
	}
	sb.WriteString(")")
	return sb.String()
}
