package symbols

import (
	"log/slog"
	"strings"
)

// resolve replaces Unresolved type and base references with ClassRefs
// where a class matches. It runs once, from Finalize.
func (db *Database) resolve(logger *slog.Logger) (resolved, unresolved int) {
	fix := func(t CppType, scope Ref, site string) CppType {
		u, ok := t.(Unresolved)
		if !ok {
			return t
		}
		if id, ok := db.lookupFrom(u.Text, scope); ok {
			resolved++
			return ClassRef{ID: id}
		}
		unresolved++
		logger.Debug("type left unresolved", "type", u.Text, "site", site)
		return t
	}

	for _, id := range db.classOrder {
		c := db.classes[id]
		for i, base := range c.Bases {
			c.Bases[i] = fix(base, c.Parent, c.FullName)
		}
		self := Ref{Kind: KindClass, ID: c.ID}
		for _, pid := range c.Properties {
			if p, ok := db.properties[pid]; ok {
				p.Type = fix(p.Type, self, joinScope(c.FullName, p.Name))
			}
		}
	}
	for _, id := range db.functionOrder {
		f := db.functions[id]
		f.Return = fix(f.Return, f.Parent, f.FullName)
		self := Ref{Kind: KindFunction, ID: f.ID}
		for _, aid := range f.Args {
			if a, ok := db.arguments[aid]; ok {
				a.Type = fix(a.Type, self, joinScope(f.FullName, a.Name))
			}
		}
	}
	return resolved, unresolved
}

// lookupFrom finds the class text names when used inside scope, trying
// scope's full name and then each enclosing scope outwards. A leading "::"
// restricts the lookup to the global scope.
func (db *Database) lookupFrom(text string, scope Ref) (ID, bool) {
	if strings.HasPrefix(text, "::") {
		id, ok := db.classByName[strings.TrimPrefix(text, "::")]
		return id, ok
	}
	for ref, guard := scope, 0; guard < 256; guard++ {
		if id, ok := db.classByName[joinScope(db.FullName(ref), text)]; ok {
			return id, true
		}
		if ref.IsZero() || ref.ID == RootNamespaceID && ref.Kind == KindNamespace {
			break
		}
		ref = db.Parent(ref)
	}
	id, ok := db.classByName[text]
	return id, ok
}
