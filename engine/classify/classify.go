// Package classify assigns ERROR events to failure categories using a single
// ordered rule table. Rules are evaluated top to bottom and the first match
// wins, since category vocabularies overlap.
package classify

import (
	"regexp"

	"github.com/WessleyAI/diagtrace/engine/domain"
	"github.com/WessleyAI/diagtrace/engine/reftable"
)

// Rule matches an event by keyword, NRC code or numeric reading.
// VoltageFault matches events the normalizer flagged as outside the supply
// band. In-band voltage readings never match.
type Rule struct {
	Category     domain.Category
	Keywords     *regexp.Regexp
	NRCs         []string
	Reading      domain.ReadingKind
	VoltageFault bool
}

func (r Rule) match(ev domain.DiagnosticEvent) bool {
	if r.Keywords != nil && r.Keywords.MatchString(ev.RawText) {
		return true
	}
	for _, code := range r.NRCs {
		if ev.Entities.HasNRC(code) {
			return true
		}
	}
	if r.VoltageFault && ev.VoltageFault {
		return true
	}
	if r.Reading != "" {
		if _, ok := ev.Entities.Reading(r.Reading); ok {
			return true
		}
	}
	return false
}

// DefaultRules is the canonical rule order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Category:     domain.CategoryPowerVoltage,
			Keywords:     regexp.MustCompile(`(?i)volt|power\s+supply|low\s+battery|battery\s+(?:low|weak|drain)`),
			NRCs:         []string{"93", "94"},
			VoltageFault: true,
		},
		{
			Category: domain.CategorySecurity,
			Keywords: regexp.MustCompile(`(?i)security|\bseed\b|\bkey\b|auth|unlock|access\s+denied|locked`),
			NRCs:     []string{"33", "35", "36", "37"},
		},
		{
			Category: domain.CategoryCANBus,
			Keywords: regexp.MustCompile(`(?i)\bcan[\s_-]?(?:bus|error|frame|fd|id|network|channel|timeout)\b|bus[\s_-]?off|iso[\s_-]?15765|\b(?:hs|ms)-?can\b`),
		},
		{
			Category: domain.CategoryProgramming,
			Keywords: regexp.MustCompile(`(?i)program|flash|download|transfer|erase`),
		},
		{
			Category: domain.CategoryStateOfCharge,
			Keywords: regexp.MustCompile(`(?i)\bsoc\b|state\s+of\s+charge`),
			Reading:  domain.ReadingSOC,
		},
		{
			Category: domain.CategoryCommunication,
			Keywords: regexp.MustCompile(`(?i)no\s+response|not\s+responding|time[\s-]?out|timed\s+out|communication|lost\s+comm|unreachable`),
		},
		{
			Category: domain.CategoryBusyPending,
			Keywords: regexp.MustCompile(`(?i)busy|pending`),
			NRCs:     []string{"78", "21"},
		},
		{
			Category: domain.CategoryDataIntegrity,
			Keywords: regexp.MustCompile(`(?i)checksum|\bcrc\b|hash|tamper|signature|mismatch`),
		},
		{
			Category: domain.CategoryPrecondition,
			Keywords: regexp.MustCompile(`(?i)conditions?\s+not\s+correct|precondition`),
			NRCs:     []string{"22", "31", "7F"},
		},
	}
}

// Classifier is safe for concurrent use.
type Classifier struct {
	rules  []Rule
	tables *reftable.Tables
}

// New creates a Classifier with DefaultRules. tables supplies NRC category
// hints for errors no rule claims; nil disables hints.
func New(tables *reftable.Tables) *Classifier {
	return &Classifier{rules: DefaultRules(), tables: tables}
}

// WithRules returns a copy using rules instead of the defaults.
func (c *Classifier) WithRules(rules []Rule) *Classifier {
	return &Classifier{rules: rules, tables: c.tables}
}

// Category returns the first matching rule's category.
func (c *Classifier) Category(ev domain.DiagnosticEvent) domain.Category {
	for _, r := range c.rules {
		if r.match(ev) {
			return r.Category
		}
	}
	if c.tables != nil {
		for _, code := range ev.Entities.NRCCodes {
			if n, ok := c.tables.NRC(code); ok && n.CategoryHint != "" {
				return n.CategoryHint
			}
		}
	}
	return domain.CategoryUnclassified
}

// Classify returns one ClassifiedError per ERROR event, in input order.
func (c *Classifier) Classify(events []domain.DiagnosticEvent) []domain.ClassifiedError {
	var out []domain.ClassifiedError
	for _, ev := range events {
		if ev.Severity != domain.SeverityError {
			continue
		}
		cat := c.Category(ev)
		out = append(out, domain.ClassifiedError{Event: ev, Category: cat, Weight: cat.Weight()})
	}
	return out
}
