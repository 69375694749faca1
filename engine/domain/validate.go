package domain

import (
	"regexp"
	"strconv"
)

// leakPatterns match string forms that only appear when a map, struct,
// slice of structs or nil pointer was formatted instead of rendered.
var leakPatterns = []*regexp.Regexp{
	regexp.MustCompile(`map\[`),
	regexp.MustCompile(`&\{`),
	regexp.MustCompile(`%!`),
	regexp.MustCompile(`\{\s*"`),
	regexp.MustCompile(`\{\s*'`),
	regexp.MustCompile(`\[\s*\{`),
	regexp.MustCompile(`<nil>`),
}

// hexAddr is a 3-digit uppercase ECU address.
var hexAddr = regexp.MustCompile(`^[0-9A-F]{3}$`)

// ValidateProse rejects text that contains a structured-value representation.
func ValidateProse(field, text string) error {
	for _, re := range leakPatterns {
		if loc := re.FindStringIndex(text); loc != nil {
			return NewValidationError(field, excerptAround(text, loc[0]), ErrStructuredLeak)
		}
	}
	return nil
}

// ValidateReport checks the invariants a report must hold before it leaves
// the engine.
func ValidateReport(r *RootCauseReport) error {
	if err := ValidateProse("proximate_cause_text", r.ProximateCause); err != nil {
		return err
	}
	for _, rec := range r.Recommendations {
		if err := ValidateProse("recommendations.step_text", rec.Step); err != nil {
			return err
		}
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return NewValidationError("confidence", strconv.FormatFloat(r.Confidence, 'f', 3, 64), ErrInvalidReport)
	}
	return nil
}

// ValidAddress reports whether s is a normalized 3-digit ECU address.
func ValidAddress(s string) bool { return hexAddr.MatchString(s) }

func excerptAround(s string, at int) string {
	start := at - 20
	if start < 0 {
		start = 0
	}
	end := at + 20
	if end > len(s) {
		end = len(s)
	}
	return s[start:end]
}
