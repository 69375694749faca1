// Package scan is the thin keyword-filter scanner that feeds the engine:
// it reads a text log, keeps lines that look diagnostic and splits off a
// leading timestamp.
package scan

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/WessleyAI/diagtrace/engine/domain"
)

// MaxLineBytes bounds a single log line.
const MaxLineBytes = 1 << 20

var (
	keepRe = regexp.MustCompile(`(?i)error|fail|warn|success|pass|complete|\bok\b|exception|nrc|requested\s+node|volt|\bsoc\b|state\s+of\s+charge|pending|busy|timeout|timed\s+out|denied|security|program|flash|download|transfer|checksum|\bcrc\b|\bcan\b|bus[\s_-]?off|\b7F\b|\b[PBCU][0-9A-F]{4}\b|\bDID\b|°C|degrees`)

	stampRe = regexp.MustCompile(`^\s*\[?((?:\d{4}[-/]\d{2}[-/]\d{2}[ T])?\d{2}:\d{2}:\d{2}(?:[.,]\d{1,6})?(?:Z|[+-]\d{2}:?\d{2})?)\]?\s*`)
)

// Options controls filtering.
type Options struct {
	// All keeps every non-blank line instead of filtering by keyword.
	All bool
}

// Reader scans r. Line numbers are 1-based positions in the source.
func Reader(r io.Reader, opts Options) ([]domain.RawLine, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), MaxLineBytes)

	var out []domain.RawLine
	n := 0
	for sc.Scan() {
		n++
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		if !opts.All && !keepRe.MatchString(text) {
			continue
		}
		line := domain.RawLine{LineNumber: n, Text: text}
		if m := stampRe.FindStringSubmatchIndex(text); m != nil {
			line.Timestamp = strings.Replace(text[m[2]:m[3]], ",", ".", 1)
			line.Text = text[m[1]:]
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("scan: line %d: %w", n+1, err)
	}
	return out, nil
}

// File scans the log at path.
func File(path string, opts Options) ([]domain.RawLine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("scan: open %s: %w", path, err)
	}
	defer f.Close()
	return Reader(f, opts)
}

// Text scans an in-memory log.
func Text(s string, opts Options) []domain.RawLine {
	lines, _ := Reader(strings.NewReader(s), opts)
	return lines
}
