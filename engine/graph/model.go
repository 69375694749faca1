// Package graph exports analyzed sessions to a Neo4j knowledge graph:
// sessions, the modules they target and the failures observed on them,
// with the causal edges the correlator found.
package graph

import (
	"strconv"
	"time"

	"github.com/WessleyAI/diagtrace/engine/domain"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// Role of a failure within its session's causal chain.
type Role string

const (
	RoleRoot      Role = "root"
	RoleSymptom   Role = "symptom"
	RoleUnrelated Role = "unrelated"
)

// Session is a (:Session) node.
type Session struct {
	ID           string          `json:"id"`
	Source       string          `json:"source"`
	Module       string          `json:"module"`
	RootCategory domain.Category `json:"root_category"`
	Confidence   float64         `json:"confidence"`
	Events       int             `json:"events"`
	AnalyzedAt   time.Time       `json:"analyzed_at"`
}

// Module is a (:Module) node keyed by ECU address.
type Module struct {
	Address  string `json:"address"`
	Name     string `json:"name"`
	Critical bool   `json:"critical"`
}

// Failure is a (:Failure) node, one per classified error.
type Failure struct {
	ID       string          `json:"id"`
	Session  string          `json:"session"`
	Category domain.Category `json:"category"`
	Role     Role            `json:"role"`
	Line     int             `json:"line"`
	Text     string          `json:"text"`
	NRCs     []string        `json:"nrcs,omitempty"`
}

// ModuleFailure counts failures of one category observed on a module.
type ModuleFailure struct {
	Category domain.Category `json:"category"`
	Count    int             `json:"count"`
	Roots    int             `json:"roots"`
}

func failureID(session string, ev domain.DiagnosticEvent) string {
	return session + ":" + strconv.Itoa(ev.Index)
}

func newFailure(session string, ce domain.ClassifiedError, role Role) Failure {
	return Failure{
		ID:       failureID(session, ce.Event),
		Session:  session,
		Category: ce.Category,
		Role:     role,
		Line:     ce.Event.LineNumber,
		Text:     ce.Event.RawText,
		NRCs:     ce.Event.Entities.NRCCodes,
	}
}

func sessionToMap(s Session) map[string]any {
	return map[string]any{
		"id":            s.ID,
		"source":        s.Source,
		"module":        s.Module,
		"root_category": string(s.RootCategory),
		"confidence":    s.Confidence,
		"events":        int64(s.Events),
		"analyzed_at":   s.AnalyzedAt.UnixMilli(),
	}
}

func sessionFromRecord(rec *neo4j.Record) (Session, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return Session{}, err
	}
	return sessionFromProps(node.Props), nil
}

func sessionFromProps(props map[string]any) Session {
	return Session{
		ID:           strProp(props, "id"),
		Source:       strProp(props, "source"),
		Module:       strProp(props, "module"),
		RootCategory: domain.Category(strProp(props, "root_category")),
		Confidence:   floatProp(props, "confidence"),
		Events:       int(intProp(props, "events")),
		AnalyzedAt:   time.UnixMilli(intProp(props, "analyzed_at")).UTC(),
	}
}

func failureToMap(f Failure) map[string]any {
	nrcs := f.NRCs
	if nrcs == nil {
		nrcs = []string{}
	}
	return map[string]any{
		"id":       f.ID,
		"session":  f.Session,
		"category": string(f.Category),
		"role":     string(f.Role),
		"line":     int64(f.Line),
		"text":     f.Text,
		"nrcs":     nrcs,
	}
}

func strProp(props map[string]any, key string) string {
	if s, ok := props[key].(string); ok {
		return s
	}
	return ""
}

func intProp(props map[string]any, key string) int64 {
	switch v := props[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func floatProp(props map[string]any, key string) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}
