// Package report assembles the final RootCauseReport and renders its
// proximate-cause prose from typed fields only.
package report

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/WessleyAI/diagtrace/engine/domain"
	"github.com/WessleyAI/diagtrace/engine/reftable"
)

// DefaultExcerptLimit bounds quoted log text, in runes.
const DefaultExcerptLimit = 200

const ellipsis = "..."

// Input is everything the assembler needs from earlier stages.
type Input struct {
	SessionID       string
	Events          []domain.DiagnosticEvent
	Errors          []domain.ClassifiedError
	Primary         domain.PrimaryModule
	Chain           domain.CausalChain
	Confidence      float64
	Recommendations []domain.Recommendation
}

// Assembler is safe for concurrent use.
type Assembler struct {
	tables       *reftable.Tables
	excerptLimit int
}

// New creates an Assembler. A non-positive limit uses DefaultExcerptLimit.
func New(tables *reftable.Tables, excerptLimit int) *Assembler {
	if tables == nil {
		tables = reftable.Default()
	}
	if excerptLimit <= 0 {
		excerptLimit = DefaultExcerptLimit
	}
	return &Assembler{tables: tables, excerptLimit: excerptLimit}
}

// Assemble builds and validates the report. It fails only when the rendered
// prose would carry a structured-value representation.
func (a *Assembler) Assemble(in Input) (*domain.RootCauseReport, error) {
	r := &domain.RootCauseReport{
		SessionID:       in.SessionID,
		PrimaryModule:   in.Primary,
		Chain:           in.Chain,
		Confidence:      in.Confidence,
		ProximateCause:  a.ProximateCause(in.Primary, in.Chain, len(in.Events)),
		Recommendations: in.Recommendations,
		AffectedModules: affectedModules(in.Primary, in.Errors),
		SeverityCounts:  map[domain.Severity]int{},
		CategoryCounts:  map[domain.Category]int{},
		EventCount:      len(in.Events),
	}
	for _, ev := range in.Events {
		r.SeverityCounts[ev.Severity]++
	}
	for _, e := range in.Errors {
		r.CategoryCounts[e.Category]++
	}
	r.NRCs = a.nrcMentions(in.Events)
	r.DIDs = a.didMentions(in.Events)
	r.DTCs = dtcs(in.Events)

	if err := domain.ValidateReport(r); err != nil {
		return nil, fmt.Errorf("report: assemble: %w", err)
	}
	return r, nil
}

// ProximateCause renders the human-readable explanation.
func (a *Assembler) ProximateCause(primary domain.PrimaryModule, chain domain.CausalChain, eventCount int) string {
	var b strings.Builder
	module := modulePhrase(primary)

	root := chain.Root
	if root == nil {
		b.WriteString("No failure was detected in ")
		b.WriteString(strconv.Itoa(eventCount))
		b.WriteString(" diagnostic events for ")
		b.WriteString(module)
		b.WriteString(".")
		return b.String()
	}

	b.WriteString("The ")
	b.WriteString(root.Category.Label())
	b.WriteString(" failure on ")
	b.WriteString(module)
	b.WriteString(" at line ")
	b.WriteString(strconv.Itoa(root.Event.LineNumber))
	b.WriteString(" is the most likely root cause: \"")
	b.WriteString(Excerpt(root.Event.RawText, a.excerptLimit))
	b.WriteString("\".")

	for _, code := range root.Event.Entities.NRCCodes {
		b.WriteString(" The module answered with NRC 0x")
		b.WriteString(code)
		if n, ok := a.tables.NRC(code); ok {
			b.WriteString(" (")
			b.WriteString(n.Text)
			b.WriteString(")")
		}
		b.WriteString(".")
	}
	if v, ok := root.Event.Entities.Reading(domain.ReadingVoltage); ok {
		b.WriteString(" Measured supply voltage was ")
		b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
		b.WriteString("V.")
	}
	if v, ok := root.Event.Entities.Reading(domain.ReadingSOC); ok {
		b.WriteString(" Battery state of charge was ")
		b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
		b.WriteString("%.")
	}

	switch {
	case len(chain.Symptoms) > 0:
		b.WriteString(" It explains ")
		b.WriteString(plural(len(chain.Symptoms), "later error", "later errors"))
		b.WriteString(" (")
		b.WriteString(symptomLabels(chain.Symptoms))
		b.WriteString(").")
	case !chain.Patterned:
		b.WriteString(" No propagation pattern was found, so this is the most severe error in the session.")
	}
	if n := len(chain.Unrelated); n > 0 {
		b.WriteString(" ")
		b.WriteString(plural(n, "other error appears", "other errors appear"))
		b.WriteString(" unrelated.")
	}
	return b.String()
}

// Excerpt truncates s to limit runes with an explicit ellipsis and rewrites
// braces so quoted payloads cannot read as structured values.
func Excerpt(s string, limit int) string {
	s = strings.TrimSpace(strings.Map(func(r rune) rune {
		switch r {
		case '{':
			return '('
		case '}':
			return ')'
		case '\n', '\r', '\t':
			return ' '
		}
		return r
	}, s))
	s = strings.ReplaceAll(s, "<nil>", "(nil)")
	s = strings.ReplaceAll(s, "%!", "% !")
	s = strings.ReplaceAll(s, "map[", "map (")
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + ellipsis
}

func modulePhrase(p domain.PrimaryModule) string {
	if p.Address == "" {
		return "an unidentified module"
	}
	return p.Name + " (" + p.Address + ")"
}

func symptomLabels(symptoms []domain.ClassifiedError) string {
	var labels []string
	seen := map[domain.Category]bool{}
	for _, s := range symptoms {
		if !seen[s.Category] {
			seen[s.Category] = true
			labels = append(labels, s.Category.Label())
		}
	}
	return strings.Join(labels, ", ")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return strconv.Itoa(n) + " " + many
}

func affectedModules(primary domain.PrimaryModule, errs []domain.ClassifiedError) []string {
	set := map[string]bool{}
	if primary.Address != "" {
		set[primary.Address] = true
	}
	for _, e := range errs {
		for _, a := range e.Event.Entities.ECUAddresses {
			set[a] = true
		}
	}
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func (a *Assembler) nrcMentions(events []domain.DiagnosticEvent) []domain.NRCMention {
	counts := map[string]int{}
	for _, ev := range events {
		for _, c := range ev.Entities.NRCCodes {
			counts[c]++
		}
	}
	out := make([]domain.NRCMention, 0, len(counts))
	for code, n := range counts {
		text := "Unknown NRC"
		if e, ok := a.tables.NRC(code); ok {
			text = e.Text
		}
		out = append(out, domain.NRCMention{Code: code, Text: text, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (a *Assembler) didMentions(events []domain.DiagnosticEvent) []domain.DIDMention {
	counts := map[string]int{}
	for _, ev := range events {
		for _, c := range ev.Entities.DIDs {
			counts[c]++
		}
	}
	out := make([]domain.DIDMention, 0, len(counts))
	for code, n := range counts {
		desc, _ := a.tables.DID(code)
		out = append(out, domain.DIDMention{Code: code, Description: desc, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func dtcs(events []domain.DiagnosticEvent) []string {
	set := map[string]bool{}
	for _, ev := range events {
		for _, c := range ev.Entities.DTCCodes {
			set[c] = true
		}
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
