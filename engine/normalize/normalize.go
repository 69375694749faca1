// Package normalize turns scanner output into an ordered sequence of
// DiagnosticEvents. Every input line produces exactly one event.
package normalize

import (
	"regexp"
	"strings"
	"time"

	"github.com/WessleyAI/diagtrace/engine/domain"
	"github.com/WessleyAI/diagtrace/engine/extract"
	dps "github.com/markusmobius/go-dateparser"
)

// Options tunes normalization.
type Options struct {
	// Readings outside [VoltageLow, VoltageHigh] force ERROR severity.
	// Both zero disables the check.
	VoltageLow  float64
	VoltageHigh float64
	// Reference anchors relative and partial timestamps so that repeated
	// runs parse identically. Zero means 2000-01-01 UTC.
	Reference time.Time
	Location  *time.Location
}

// DefaultOptions returns the standard 12.0-15.0 V supply band.
func DefaultOptions() Options {
	return Options{VoltageLow: 12.0, VoltageHigh: 15.0}
}

// Normalizer builds events. It is safe for concurrent use.
type Normalizer struct {
	x    *extract.Extractor
	opts Options
}

// New creates a Normalizer.
func New(x *extract.Extractor, opts Options) *Normalizer {
	if opts.Reference.IsZero() {
		opts.Reference = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Normalizer{x: x, opts: opts}
}

// Normalize converts lines in order. Index is the position in the output.
//
// Clock-only stamps carry no date, so a stamp that jumps back by more than
// half a day from the previous clock-only stamp is taken as a midnight
// crossing and moved to the following day.
func (n *Normalizer) Normalize(lines []domain.RawLine) []domain.DiagnosticEvent {
	events := make([]domain.DiagnosticEvent, len(lines))
	var (
		prevClock *time.Time
		days      int
	)
	for i, l := range lines {
		ev := n.Event(i, l)
		if ev.Timestamp != nil && clockOnly(l.Timestamp) {
			t := ev.Timestamp.AddDate(0, 0, days)
			if prevClock != nil && prevClock.Sub(t) > 12*time.Hour {
				days++
				t = t.AddDate(0, 0, 1)
			}
			ev.Timestamp = &t
			prevClock = &t
		}
		events[i] = ev
	}
	return events
}

// Event builds a single event.
func (n *Normalizer) Event(index int, line domain.RawLine) domain.DiagnosticEvent {
	ev := domain.DiagnosticEvent{
		Index:      index,
		LineNumber: line.LineNumber,
		RawText:    line.Text,
		Entities:   n.x.Extract(line.Text),
		Timestamp:  n.ParseTimestamp(line.Timestamp),
	}
	ev.VoltageFault = n.voltageOutOfBand(ev.Entities)
	ev.Severity = Severity(line.Text)
	if ev.VoltageFault {
		ev.Severity = domain.SeverityError
	}
	return ev
}

func (n *Normalizer) voltageOutOfBand(b domain.EntityBag) bool {
	if n.opts.VoltageLow == 0 && n.opts.VoltageHigh == 0 {
		return false
	}
	v, ok := b.Reading(domain.ReadingVoltage)
	if !ok {
		return false
	}
	return v < n.opts.VoltageLow || v > n.opts.VoltageHigh
}

var (
	errorRe   = regexp.MustCompile(`(?i)error|fail|exception|\bnrc\b|not\s+successful|unsuccessful|incomplete|denied|rejected|abort|time[\s-]?out|timed\s+out|negative\s+response`)
	warnRe    = regexp.MustCompile(`(?i)warn`)
	successRe = regexp.MustCompile(`(?i)success|\bpass(?:ed)?\b|complete|\bok\b`)
)

// Severity classifies text by keyword. ERROR keywords are checked first so
// that "not successful" can never read as SUCCESS.
func Severity(text string) domain.Severity {
	switch {
	case errorRe.MatchString(text):
		return domain.SeverityError
	case warnRe.MatchString(text):
		return domain.SeverityWarning
	case successRe.MatchString(text):
		return domain.SeveritySuccess
	default:
		return domain.SeverityInfo
	}
}

var (
	clockLayouts = []string{"15:04:05.000", "15:04:05"}
	layouts      = append([]string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05.000",
		"2006-01-02 15:04:05",
		"2006/01/02 15:04:05",
	}, clockLayouts...)
)

func trimStamp(s string) string {
	return strings.Trim(strings.TrimSpace(s), "[]")
}

// clockOnly reports whether s is a time of day without a date.
func clockOnly(s string) bool {
	s = trimStamp(s)
	for _, layout := range clockLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// ParseTimestamp parses s with the fixed log layouts first, then falls back
// to natural-language parsing. Unparseable input yields nil.
func (n *Normalizer) ParseTimestamp(s string) *time.Time {
	s = trimStamp(s)
	if s == "" {
		return nil
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, n.opts.Location); err == nil {
			return &t
		}
	}

	parser := dps.Parser{}
	cfg := &dps.Configuration{
		CurrentTime:         n.opts.Reference,
		DefaultTimezone:     n.opts.Location,
		PreferredDateSource: dps.CurrentPeriod,
	}
	d, err := parser.Parse(cfg, s)
	if err != nil || d.IsZero() {
		return nil
	}
	t := d.Time
	return &t
}
