// Package extract pulls structured diagnostic entities out of one log line
// using regex patterns and the injected reference tables. Extraction never
// fails: a pattern that does not match leaves its field empty.
package extract

import (
	"sort"
	"strconv"
	"strings"

	"github.com/WessleyAI/diagtrace/engine/domain"
	"github.com/WessleyAI/diagtrace/engine/reftable"
)

// Extractor is safe for concurrent use; it holds only read-only tables.
type Extractor struct {
	tables *reftable.Tables
}

// New creates an Extractor backed by t. A nil t uses the built-in tables.
func New(t *reftable.Tables) *Extractor {
	if t == nil {
		t = reftable.Default()
	}
	return &Extractor{tables: t}
}

// Tables returns the reference tables the extractor filters against.
func (x *Extractor) Tables() *reftable.Tables { return x.tables }

// Extract returns every entity found in text.
func (x *Extractor) Extract(text string) domain.EntityBag {
	var bag domain.EntityBag

	ecus := x.ecuAddresses(text)
	if node := RequestedNode(text); node != "" {
		bag.RequestedNode = node
		ecus = append(ecus, node)
	}
	bag.ECUAddresses = uniqSorted(ecus)
	bag.NRCCodes = uniqSorted(NRCCodes(text))
	bag.DTCCodes = uniqSorted(DTCCodes(text))
	bag.DIDs = uniqSorted(x.dids(text))
	bag.Readings = Readings(text)
	return bag
}

func (x *Extractor) ecuAddresses(text string) []string {
	var out []string
	for _, m := range ecuRe.FindAllStringSubmatch(text, -1) {
		addr := strings.ToUpper(m[1])
		if x.tables.IsECU(addr) {
			out = append(out, addr)
		}
	}
	return out
}

func (x *Extractor) dids(text string) []string {
	var out []string
	for _, m := range didRe.FindAllStringSubmatch(text, -1) {
		code := strings.ToUpper(m[1])
		if _, ok := x.tables.DID(code); ok {
			out = append(out, code)
		}
	}
	return out
}

// RequestedNode returns the address named by an explicit
// "Requested node(N) = XXX" marker, upper-cased, or "".
func RequestedNode(text string) string {
	m := requestedNodeRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.ToUpper(m[1])
}

// NRCCodes finds negative response codes from explicit "NRC=xx" mentions,
// literal 0x78 mentions and 7F SID NRC triplets inside hex byte lists.
func NRCCodes(text string) []string {
	var out []string
	for _, m := range nrcExplicitRe.FindAllStringSubmatch(text, -1) {
		out = append(out, strings.ToUpper(m[1]))
	}
	if pendingRe.MatchString(text) {
		out = append(out, "78")
	}
	for _, run := range byteListRe.FindAllString(text, -1) {
		out = append(out, triplets(splitBytes(run))...)
	}
	return out
}

// triplets scans a byte list for 7F SID NRC groups. The NRC is the third
// byte of the group; the scan resumes after it.
func triplets(bytes []string) []string {
	var out []string
	for i := 0; i+2 < len(bytes); i++ {
		if bytes[i] == "7F" {
			out = append(out, bytes[i+2])
			i += 2
		}
	}
	return out
}

func splitBytes(run string) []string {
	fields := byteSepRe.Split(strings.TrimSpace(run), -1)
	out := fields[:0]
	for _, f := range fields {
		f = strings.TrimPrefix(strings.TrimPrefix(f, "0x"), "0X")
		if f != "" {
			out = append(out, strings.ToUpper(f))
		}
	}
	return out
}

// DTCCodes finds diagnostic trouble codes.
func DTCCodes(text string) []string {
	return dtcRe.FindAllString(text, -1)
}

// Readings parses unit-bearing numbers. Values that fail to parse are
// skipped rather than reported.
func Readings(text string) map[domain.ReadingKind]float64 {
	var out map[domain.ReadingKind]float64
	set := func(kind domain.ReadingKind, s string) {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return
		}
		if out == nil {
			out = make(map[domain.ReadingKind]float64, 3)
		}
		out[kind] = v
	}

	if m := voltRe.FindStringSubmatch(text); m != nil {
		set(domain.ReadingVoltage, m[1])
	} else if m := voltLabelRe.FindStringSubmatch(text); m != nil {
		set(domain.ReadingVoltage, m[1])
	}
	if m := socRe.FindStringSubmatch(text); m != nil {
		set(domain.ReadingSOC, m[1])
	}
	if m := tempRe.FindStringSubmatch(text); m != nil {
		set(domain.ReadingTemperature, m[1])
	}
	return out
}

func uniqSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	sort.Strings(in)
	out := in[:1]
	for _, s := range in[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}
