// Package domain defines the typed data model shared by every stage of the
// diagnostic root-cause engine: raw input lines, normalized events, extracted
// entities, classified errors, causal chains and the final report.
package domain

import "time"

// RawLine is one candidate line produced by the keyword-filter log scanner.
type RawLine struct {
	LineNumber int    `json:"line_number"`
	Text       string `json:"text"`
	Timestamp  string `json:"timestamp,omitempty"`
}

// Severity is derived from keyword matching at normalization time.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeveritySuccess Severity = "SUCCESS"
	SeverityInfo    Severity = "INFO"
)

// ReadingKind names a unit-bearing numeric reading found in a line.
type ReadingKind string

const (
	ReadingVoltage     ReadingKind = "voltage"
	ReadingSOC         ReadingKind = "soc"
	ReadingTemperature ReadingKind = "temperature"
)

// EntityBag holds the structured data extracted from one line.
// Set-valued fields are sorted and free of duplicates.
type EntityBag struct {
	ECUAddresses  []string                `json:"ecu_addresses,omitempty"`
	NRCCodes      []string                `json:"nrc_codes,omitempty"`
	DTCCodes      []string                `json:"dtc_codes,omitempty"`
	DIDs          []string                `json:"dids,omitempty"`
	RequestedNode string                  `json:"requested_node,omitempty"`
	Readings      map[ReadingKind]float64 `json:"readings,omitempty"`
}

// IsEmpty reports whether nothing was extracted.
func (b EntityBag) IsEmpty() bool {
	return len(b.ECUAddresses) == 0 && len(b.NRCCodes) == 0 && len(b.DTCCodes) == 0 &&
		len(b.DIDs) == 0 && b.RequestedNode == "" && len(b.Readings) == 0
}

// HasNRC reports whether code was extracted.
func (b EntityBag) HasNRC(code string) bool {
	for _, c := range b.NRCCodes {
		if c == code {
			return true
		}
	}
	return false
}

// Reading returns the reading of the given kind, if present.
func (b EntityBag) Reading(kind ReadingKind) (float64, bool) {
	v, ok := b.Readings[kind]
	return v, ok
}

// DiagnosticEvent is one matched log line after normalization.
type DiagnosticEvent struct {
	Index      int        `json:"index"`
	LineNumber int        `json:"line_number"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
	RawText    string     `json:"raw_text"`
	Severity   Severity   `json:"severity"`
	Entities   EntityBag  `json:"entities"`
	// VoltageFault marks a voltage reading outside the supply band.
	VoltageFault bool `json:"voltage_fault,omitempty"`
}

// ClassifiedError is an ERROR event with its category and scoring weight.
type ClassifiedError struct {
	Event    DiagnosticEvent `json:"event"`
	Category Category        `json:"category"`
	Weight   float64         `json:"weight"`
}

// CausalChain partitions a session's classified errors.
// Root is nil only when the session contains no errors at all.
type CausalChain struct {
	Root      *ClassifiedError  `json:"root,omitempty"`
	Symptoms  []ClassifiedError `json:"symptoms"`
	Unrelated []ClassifiedError `json:"unrelated"`
	// Patterned is true when Root was chosen by a propagation edge rather
	// than the most-severe fallback.
	Patterned bool `json:"patterned"`
}

// Len returns the number of errors accounted for by the chain.
func (c CausalChain) Len() int {
	n := len(c.Symptoms) + len(c.Unrelated)
	if c.Root != nil {
		n++
	}
	return n
}

// PrimaryModule is the ECU judged to be the subject of the session.
type PrimaryModule struct {
	Address    string `json:"address"`
	Name       string `json:"name"`
	IsFallback bool   `json:"is_fallback"`
	Tier       int    `json:"tier"`
	Critical   bool   `json:"critical,omitempty"`
}

// Priority ranks a recommended action.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

// Recommendation is one step of an action plan.
type Recommendation struct {
	Step           string   `json:"step_text"`
	Priority       Priority `json:"priority"`
	EstSuccessRate float64  `json:"est_success_rate"`
}

// NRCMention summarises one negative response code seen in the session.
type NRCMention struct {
	Code  string `json:"code"`
	Text  string `json:"text"`
	Count int    `json:"count"`
}

// DIDMention summarises one allow-listed data identifier seen in the session.
type DIDMention struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Count       int    `json:"count"`
}

// RootCauseReport is the engine's final output. It carries no behavior and
// is safe to serialize.
type RootCauseReport struct {
	SessionID       string           `json:"session_id"`
	PrimaryModule   PrimaryModule    `json:"primary_module"`
	Chain           CausalChain      `json:"chain"`
	Confidence      float64          `json:"confidence"`
	ProximateCause  string           `json:"proximate_cause_text"`
	Recommendations []Recommendation `json:"recommendations"`
	AffectedModules []string         `json:"affected_modules"`
	SeverityCounts  map[Severity]int `json:"severity_counts"`
	CategoryCounts  map[Category]int `json:"category_counts"`
	NRCs            []NRCMention     `json:"nrcs,omitempty"`
	DIDs            []DIDMention     `json:"dids,omitempty"`
	DTCs            []string         `json:"dtcs,omitempty"`
	EventCount      int              `json:"event_count"`
}

// RootCategory returns the root's category, or empty when there is no root.
func (r *RootCauseReport) RootCategory() Category {
	if r == nil || r.Chain.Root == nil {
		return ""
	}
	return r.Chain.Root.Category
}
