package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/fwrpc/internal/api"
)

const (
	kindEndpoint = "endpoint"
	kindEvent    = "event"
)

// Run is one recorded generation run.
type Run struct {
	Seq          int64
	ID           string
	Domain       string
	Compat       api.Compat
	ManifestHash string
	Endpoints    int
	Events       int
}

// Drift is one locked name whose handler ID changed or that is gone.
type Drift struct {
	Kind    string // "endpoint" or "event"
	Name    string
	Was     uint16
	Now     uint16
	Removed bool
}

func (d Drift) String() string {
	if d.Removed {
		return fmt.Sprintf("%s %s (id %d) was removed", d.Kind, d.Name, d.Was)
	}
	return fmt.Sprintf("%s %s moved from id %d to %d", d.Kind, d.Name, d.Was, d.Now)
}

// LayoutDrift reports every locked name whose ID no longer matches.
type LayoutDrift struct {
	Domain string
	Drifts []Drift
}

func (e *LayoutDrift) Error() string {
	parts := make([]string, len(e.Drifts))
	for i, d := range e.Drifts {
		parts[i] = d.String()
	}
	return fmt.Sprintf("layout drift in %s: %s", e.Domain, strings.Join(parts, "; "))
}

type lockedID struct {
	kind, name string
	id         uint16
}

// layout flattens reg into the IDs the lock tracks.
func layout(reg *api.Registry) []lockedID {
	out := make([]lockedID, 0, len(reg.Endpoints)+len(reg.Events))
	for _, ep := range reg.Endpoints {
		out = append(out, lockedID{kindEndpoint, ep.Name, ep.ID})
	}
	for _, ev := range reg.Events {
		out = append(out, lockedID{kindEvent, ev.Name, ev.Index})
	}
	return out
}

// Check compares reg against the locked layout of its domain. It returns
// a *LayoutDrift when a locked endpoint or event moved or disappeared;
// names that were never locked are additions and pass.
func (s *Store) Check(ctx context.Context, reg *api.Registry) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, name, handler_id FROM endpoint_ids
		WHERE domain = ?
		ORDER BY kind ASC, handler_id ASC, name ASC COLLATE BINARY
	`, reg.Domain)
	if err != nil {
		return fmt.Errorf("check layout: %w", err)
	}
	defer rows.Close()

	current := make(map[[2]string]uint16)
	for _, l := range layout(reg) {
		current[[2]string{l.kind, l.name}] = l.id
	}

	drift := &LayoutDrift{Domain: reg.Domain}
	for rows.Next() {
		var (
			kind, name string
			was        int64
		)
		if err := rows.Scan(&kind, &name, &was); err != nil {
			return fmt.Errorf("check layout: scan: %w", err)
		}
		now, ok := current[[2]string{kind, name}]
		switch {
		case !ok:
			drift.Drifts = append(drift.Drifts, Drift{Kind: kind, Name: name, Was: uint16(was), Removed: true})
		case now != uint16(was):
			drift.Drifts = append(drift.Drifts, Drift{Kind: kind, Name: name, Was: uint16(was), Now: now})
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("check layout: %w", err)
	}
	if len(drift.Drifts) > 0 {
		return drift
	}
	return nil
}

// Record appends a generation run for reg and replaces the locked layout
// of its domain with reg's. Names that were already locked keep their
// first_run.
func (s *Store) Record(ctx context.Context, reg *api.Registry, manifestHash string) (Run, error) {
	run := Run{
		ID:           uuid.Must(uuid.NewV7()).String(),
		Domain:       reg.Domain,
		Compat:       reg.Compat,
		ManifestHash: manifestHash,
		Endpoints:    len(reg.Endpoints),
		Events:       len(reg.Events),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, fmt.Errorf("record run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO generation_runs
		(id, domain, core_hash, reserved_hash, api_hash, manifest_hash, endpoint_count, event_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Domain,
		int64(run.Compat.Core),
		int64(run.Compat.Reserved),
		int64(run.Compat.API),
		run.ManifestHash,
		run.Endpoints,
		run.Events,
	)
	if err != nil {
		return Run{}, fmt.Errorf("record run: insert: %w", err)
	}
	if run.Seq, err = result.LastInsertId(); err != nil {
		return Run{}, fmt.Errorf("record run: last insert id: %w", err)
	}

	firstRuns, err := firstRuns(ctx, tx, reg.Domain)
	if err != nil {
		return Run{}, err
	}

	// Rewriting the domain wholesale keeps the handler index satisfied
	// when two names swap IDs.
	if _, err := tx.ExecContext(ctx, `DELETE FROM endpoint_ids WHERE domain = ?`, reg.Domain); err != nil {
		return Run{}, fmt.Errorf("record run: clear layout: %w", err)
	}

	signatures := make(map[[2]string]string)
	for _, ep := range reg.Endpoints {
		signatures[[2]string{kindEndpoint, ep.Name}] = ep.Signature
	}
	for _, ev := range reg.Events {
		signatures[[2]string{kindEvent, ev.Name}] = ev.Signature
	}

	for _, l := range layout(reg) {
		key := [2]string{l.kind, l.name}
		first, ok := firstRuns[key]
		if !ok {
			first = run.ID
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO endpoint_ids
			(domain, kind, name, handler_id, signature, first_run, last_run)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, reg.Domain, l.kind, l.name, l.id, signatures[key], first, run.ID)
		if err != nil {
			return Run{}, fmt.Errorf("record run: lock %s %s: %w", l.kind, l.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Run{}, fmt.Errorf("record run: commit: %w", err)
	}
	return run, nil
}

func firstRuns(ctx context.Context, tx *sql.Tx, domain string) (map[[2]string]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT kind, name, first_run FROM endpoint_ids WHERE domain = ?
	`, domain)
	if err != nil {
		return nil, fmt.Errorf("record run: read layout: %w", err)
	}
	defer rows.Close()

	out := make(map[[2]string]string)
	for rows.Next() {
		var kind, name, first string
		if err := rows.Scan(&kind, &name, &first); err != nil {
			return nil, fmt.Errorf("record run: scan layout: %w", err)
		}
		out[[2]string{kind, name}] = first
	}
	return out, rows.Err()
}

// Runs returns the recorded runs of domain, oldest first.
func (s *Store) Runs(ctx context.Context, domain string) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, domain, core_hash, reserved_hash, api_hash, manifest_hash, endpoint_count, event_count
		FROM generation_runs
		WHERE domain = ?
		ORDER BY seq ASC, id ASC COLLATE BINARY
	`, domain)
	if err != nil {
		return nil, fmt.Errorf("read runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                   Run
			core, reserved, all int64
		)
		if err := rows.Scan(&r.Seq, &r.ID, &r.Domain, &core, &reserved, &all,
			&r.ManifestHash, &r.Endpoints, &r.Events); err != nil {
			return nil, fmt.Errorf("read runs: scan: %w", err)
		}
		r.Compat = api.Compat{Core: uint32(core), Reserved: uint32(reserved), API: uint32(all)}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read runs: %w", err)
	}
	return runs, nil
}

// LastRun returns the newest run of domain, or false when none is recorded.
func (s *Store) LastRun(ctx context.Context, domain string) (Run, bool, error) {
	runs, err := s.Runs(ctx, domain)
	if err != nil || len(runs) == 0 {
		return Run{}, false, err
	}
	return runs[len(runs)-1], true, nil
}

// Locked returns the locked handler IDs of domain's endpoints by name.
func (s *Store) Locked(ctx context.Context, domain string) (map[string]uint16, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, handler_id FROM endpoint_ids
		WHERE domain = ? AND kind = ?
		ORDER BY handler_id ASC
	`, domain, kindEndpoint)
	if err != nil {
		return nil, fmt.Errorf("read layout: %w", err)
	}
	defer rows.Close()

	out := make(map[string]uint16)
	for rows.Next() {
		var (
			name string
			id   int64
		)
		if err := rows.Scan(&name, &id); err != nil {
			return nil, fmt.Errorf("read layout: scan: %w", err)
		}
		out[name] = uint16(id)
	}
	return out, rows.Err()
}
