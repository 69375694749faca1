// Package reftable holds the static ECU, NRC and DID lookup tables the
// engine reads. Tables are immutable once built and may be shared freely
// across concurrent analyses.
package reftable

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/WessleyAI/diagtrace/engine/domain"
	"gopkg.in/yaml.v3"
)

// ECU describes one module address.
type ECU struct {
	Name     string `yaml:"name" json:"name"`
	Critical bool   `yaml:"critical" json:"critical"`
}

// NRC describes one negative response code.
type NRC struct {
	Text         string          `yaml:"text" json:"text"`
	CategoryHint domain.Category `yaml:"category_hint,omitempty" json:"category_hint,omitempty"`
}

// Tables is the read-only set of reference lookups.
type Tables struct {
	ecus map[string]ECU
	nrcs map[string]NRC
	dids map[string]string
}

// File is the on-disk YAML shape of a reference table set.
type File struct {
	ECUs map[string]ECU    `yaml:"ecus"`
	NRCs map[string]NRC    `yaml:"nrcs"`
	DIDs map[string]string `yaml:"dids"`
}

var (
	addrRe = regexp.MustCompile(`^[0-9A-F]{3}$`)
	nrcRe  = regexp.MustCompile(`^[0-9A-F]{2}$`)
	didRe  = regexp.MustCompile(`^[0-9A-F]{4}$`)
)

// New copies the given maps into an immutable Tables, normalizing keys to
// upper-case hex. Keys with the wrong shape are rejected.
func New(ecus map[string]ECU, nrcs map[string]NRC, dids map[string]string) (*Tables, error) {
	t := &Tables{
		ecus: make(map[string]ECU, len(ecus)),
		nrcs: make(map[string]NRC, len(nrcs)),
		dids: make(map[string]string, len(dids)),
	}
	for k, v := range ecus {
		key := normKey(k)
		if !addrRe.MatchString(key) {
			return nil, domain.NewValidationError("ecus", k, domain.ErrInvalidTable)
		}
		if strings.TrimSpace(v.Name) == "" {
			return nil, domain.NewValidationError("ecus."+key+".name", v.Name, domain.ErrInvalidTable)
		}
		t.ecus[key] = v
	}
	for k, v := range nrcs {
		key := normKey(k)
		if !nrcRe.MatchString(key) {
			return nil, domain.NewValidationError("nrcs", k, domain.ErrInvalidTable)
		}
		if v.CategoryHint != "" && !v.CategoryHint.Valid() {
			return nil, domain.NewValidationError("nrcs."+key+".category_hint", string(v.CategoryHint), domain.ErrUnknownCategory)
		}
		t.nrcs[key] = v
	}
	for k, v := range dids {
		key := normKey(k)
		if !didRe.MatchString(key) {
			return nil, domain.NewValidationError("dids", k, domain.ErrInvalidTable)
		}
		t.dids[key] = v
	}
	return t, nil
}

// MustNew is New that panics on error. Intended for static tables.
func MustNew(ecus map[string]ECU, nrcs map[string]NRC, dids map[string]string) *Tables {
	t, err := New(ecus, nrcs, dids)
	if err != nil {
		panic(err)
	}
	return t
}

// Load reads a YAML table file. Sections missing from the file fall back to
// the built-in defaults.
func Load(path string) (*Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reftable: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML table data.
func Parse(data []byte) (*Tables, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("reftable: decode: %w", err)
	}
	if f.ECUs == nil {
		f.ECUs = defaultECUs
	}
	if f.NRCs == nil {
		f.NRCs = defaultNRCs
	}
	if f.DIDs == nil {
		f.DIDs = defaultDIDs
	}
	t, err := New(f.ECUs, f.NRCs, f.DIDs)
	if err != nil {
		return nil, fmt.Errorf("reftable: %w", err)
	}
	return t, nil
}

// Marshal encodes the tables back into YAML.
func (t *Tables) Marshal() ([]byte, error) {
	return yaml.Marshal(File{ECUs: t.ecus, NRCs: t.nrcs, DIDs: t.dids})
}

// ECU looks up a module by address.
func (t *Tables) ECU(addr string) (ECU, bool) {
	e, ok := t.ecus[normKey(addr)]
	return e, ok
}

// IsECU reports whether addr is a known module address.
func (t *Tables) IsECU(addr string) bool {
	_, ok := t.ecus[normKey(addr)]
	return ok
}

// ECUName returns the module name, or "Unknown module" for unlisted addresses.
func (t *Tables) ECUName(addr string) string {
	if e, ok := t.ecus[normKey(addr)]; ok {
		return e.Name
	}
	return "Unknown module"
}

// NRC looks up a negative response code.
func (t *Tables) NRC(code string) (NRC, bool) {
	n, ok := t.nrcs[normKey(code)]
	return n, ok
}

// DID returns the description of an allow-listed data identifier.
func (t *Tables) DID(code string) (string, bool) {
	d, ok := t.dids[normKey(code)]
	return d, ok
}

// Addresses returns all known ECU addresses, sorted.
func (t *Tables) Addresses() []string {
	return sortedKeys(t.ecus)
}

// DIDCodes returns the allow-listed DIDs, sorted.
func (t *Tables) DIDCodes() []string {
	return sortedKeys(t.dids)
}

// Len returns the number of ECU, NRC and DID entries.
func (t *Tables) Len() (ecus, nrcs, dids int) {
	return len(t.ecus), len(t.nrcs), len(t.dids)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func normKey(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	return strings.ToUpper(s)
}
