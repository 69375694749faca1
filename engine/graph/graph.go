package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/WessleyAI/diagtrace/engine/domain"
	"github.com/WessleyAI/diagtrace/engine/reftable"
	"github.com/WessleyAI/diagtrace/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

var schema = []string{
	`CREATE CONSTRAINT session_id IF NOT EXISTS FOR (s:Session) REQUIRE s.id IS UNIQUE`,
	`CREATE CONSTRAINT module_address IF NOT EXISTS FOR (m:Module) REQUIRE m.address IS UNIQUE`,
	`CREATE CONSTRAINT failure_id IF NOT EXISTS FOR (f:Failure) REQUIRE f.id IS UNIQUE`,
}

// Store writes reports to Neo4j and answers per-module history queries.
type Store struct {
	opener   repo.Opener
	tables   *reftable.Tables
	sessions *repo.Neo4jRepo[Session, string]
	now      func() time.Time
}

// New creates a Store on a live driver. tables names the modules; nil
// uses the built-in tables.
func New(driver neo4j.DriverWithContext, tables *reftable.Tables) *Store {
	return NewWithOpener(repo.DriverOpener{Driver: driver}, tables)
}

// NewWithOpener creates a Store over any session opener.
func NewWithOpener(opener repo.Opener, tables *reftable.Tables) *Store {
	if tables == nil {
		tables = reftable.Default()
	}
	return &Store{
		opener:   opener,
		tables:   tables,
		sessions: repo.NewNeo4jRepo[Session, string](opener, "Session", sessionToMap, sessionFromRecord),
		now:      time.Now,
	}
}

// EnsureSchema creates the uniqueness constraints. It is idempotent.
func (g *Store) EnsureSchema(ctx context.Context) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)
	for _, stmt := range schema {
		if _, err := sess.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("graph: schema: %w", err)
		}
	}
	return nil
}

// SaveReport writes the session, its modules and every classified error in
// one transaction. Re-saving the same session replaces its properties.
func (g *Store) SaveReport(ctx context.Context, source string, r *domain.RootCauseReport) error {
	if r == nil || r.SessionID == "" {
		return errors.New("graph: save: report has no session id")
	}
	s := Session{
		ID:           r.SessionID,
		Source:       source,
		Module:       r.PrimaryModule.Address,
		RootCategory: r.RootCategory(),
		Confidence:   r.Confidence,
		Events:       r.EventCount,
		AnalyzedAt:   g.now(),
	}

	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx repo.Runner) (any, error) {
		if _, err := tx.Run(ctx, `MERGE (s:Session {id: $id}) SET s += $props`, map[string]any{
			"id": s.ID, "props": sessionToMap(s),
		}); err != nil {
			return nil, err
		}

		if r.PrimaryModule.Address != "" {
			if err := g.mergeModule(ctx, tx, r.PrimaryModule.Address); err != nil {
				return nil, err
			}
			if _, err := tx.Run(ctx, `MATCH (s:Session {id: $sid}), (m:Module {address: $addr})
			                          MERGE (s)-[t:TARGETS]->(m)
			                          SET t.tier = $tier, t.fallback = $fallback`, map[string]any{
				"sid": s.ID, "addr": r.PrimaryModule.Address,
				"tier": int64(r.PrimaryModule.Tier), "fallback": r.PrimaryModule.IsFallback,
			}); err != nil {
				return nil, err
			}
		}
		for _, addr := range r.AffectedModules {
			if err := g.mergeModule(ctx, tx, addr); err != nil {
				return nil, err
			}
			if _, err := tx.Run(ctx, `MATCH (s:Session {id: $sid}), (m:Module {address: $addr})
			                          MERGE (s)-[:AFFECTED]->(m)`, map[string]any{
				"sid": s.ID, "addr": addr,
			}); err != nil {
				return nil, err
			}
		}

		for _, f := range failures(r) {
			if err := g.saveFailure(ctx, tx, r, f); err != nil {
				return nil, err
			}
		}

		if root := r.Chain.Root; root != nil {
			rootID := failureID(r.SessionID, root.Event)
			for _, sym := range r.Chain.Symptoms {
				if _, err := tx.Run(ctx, `MATCH (a:Failure {id: $from}), (b:Failure {id: $to})
				                          MERGE (a)-[:CAUSED]->(b)`, map[string]any{
					"from": rootID, "to": failureID(r.SessionID, sym.Event),
				}); err != nil {
					return nil, err
				}
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("graph: save %s: %w", r.SessionID, err)
	}
	return nil
}

func (g *Store) mergeModule(ctx context.Context, tx repo.Runner, addr string) error {
	ecu, _ := g.tables.ECU(addr)
	_, err := tx.Run(ctx, `MERGE (m:Module {address: $addr}) SET m.name = $name, m.critical = $critical`, map[string]any{
		"addr": addr, "name": g.tables.ECUName(addr), "critical": ecu.Critical,
	})
	return err
}

// saveFailure links the failure to every ECU named on its line, or to the
// session's primary module when the line names none.
func (g *Store) saveFailure(ctx context.Context, tx repo.Runner, r *domain.RootCauseReport, f failureRef) error {
	node := newFailure(r.SessionID, f.err, f.role)
	if _, err := tx.Run(ctx, `MERGE (f:Failure {id: $id}) SET f += $props
	                          WITH f
	                          MATCH (s:Session {id: $sid})
	                          MERGE (s)-[:OBSERVED]->(f)`, map[string]any{
		"id": node.ID, "props": failureToMap(node), "sid": r.SessionID,
	}); err != nil {
		return err
	}

	modules := f.err.Event.Entities.ECUAddresses
	if len(modules) == 0 && r.PrimaryModule.Address != "" && !r.PrimaryModule.IsFallback {
		modules = []string{r.PrimaryModule.Address}
	}
	for _, addr := range modules {
		if err := g.mergeModule(ctx, tx, addr); err != nil {
			return err
		}
		if _, err := tx.Run(ctx, `MATCH (f:Failure {id: $fid}), (m:Module {address: $addr})
		                          MERGE (f)-[:OBSERVED_ON]->(m)`, map[string]any{
			"fid": node.ID, "addr": addr,
		}); err != nil {
			return err
		}
	}
	return nil
}

type failureRef struct {
	err  domain.ClassifiedError
	role Role
}

func failures(r *domain.RootCauseReport) []failureRef {
	out := make([]failureRef, 0, r.Chain.Len())
	if r.Chain.Root != nil {
		out = append(out, failureRef{*r.Chain.Root, RoleRoot})
	}
	for _, e := range r.Chain.Symptoms {
		out = append(out, failureRef{e, RoleSymptom})
	}
	for _, e := range r.Chain.Unrelated {
		out = append(out, failureRef{e, RoleUnrelated})
	}
	return out
}

// Session returns an exported session node.
func (g *Store) Session(ctx context.Context, id string) (Session, error) {
	s, err := g.sessions.Get(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return Session{}, fmt.Errorf("graph: session %s: %w", id, domain.ErrNotFound)
	}
	return s, err
}

// Sessions lists exported sessions, most recent first.
func (g *Store) Sessions(ctx context.Context, limit int) ([]Session, error) {
	return g.sessions.List(ctx, repo.ListOpts{Limit: limit, OrderBy: "analyzed_at", Desc: true})
}

// DeleteSession removes a session and the failures it observed. Modules
// stay, since other sessions may reference them.
func (g *Store) DeleteSession(ctx context.Context, id string) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)
	if _, err := sess.Run(ctx, `MATCH (:Session {id: $id})-[:OBSERVED]->(f:Failure) DETACH DELETE f`, map[string]any{"id": id}); err != nil {
		return fmt.Errorf("graph: delete %s: %w", id, err)
	}
	return g.sessions.Delete(ctx, id)
}

// ModuleFailures returns how often each category failed on a module across
// all exported sessions, most frequent first.
func (g *Store) ModuleFailures(ctx context.Context, address string) ([]ModuleFailure, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, `MATCH (f:Failure)-[:OBSERVED_ON]->(m:Module {address: $addr})
	                           RETURN f.category AS category, count(DISTINCT f) AS n,
	                                  count(DISTINCT CASE WHEN f.role = 'root' THEN f END) AS roots
	                           ORDER BY n DESC, category ASC`, map[string]any{"addr": address})
	if err != nil {
		return nil, fmt.Errorf("graph: module failures %s: %w", address, err)
	}

	var out []ModuleFailure
	for res.Next(ctx) {
		rec := res.Record()
		cat, _, err := neo4j.GetRecordValue[string](rec, "category")
		if err != nil {
			return nil, fmt.Errorf("graph: module failures %s: %w", address, err)
		}
		n, _, err := neo4j.GetRecordValue[int64](rec, "n")
		if err != nil {
			return nil, fmt.Errorf("graph: module failures %s: %w", address, err)
		}
		roots, _, err := neo4j.GetRecordValue[int64](rec, "roots")
		if err != nil {
			return nil, fmt.Errorf("graph: module failures %s: %w", address, err)
		}
		out = append(out, ModuleFailure{Category: domain.Category(cat), Count: int(n), Roots: int(roots)})
	}
	return out, res.Err()
}
