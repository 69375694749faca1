package target

import (
	"testing"

	"github.com/WessleyAI/diagtrace/engine/domain"
	"github.com/WessleyAI/diagtrace/engine/extract"
	"github.com/WessleyAI/diagtrace/engine/normalize"
)

func events(lines ...string) []domain.DiagnosticEvent {
	n := normalize.New(extract.New(nil), normalize.DefaultOptions())
	raw := make([]domain.RawLine, len(lines))
	for i, l := range lines {
		raw[i] = domain.RawLine{LineNumber: i + 1, Text: l}
	}
	return n.Normalize(raw)
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name         string
		lines        []string
		wantAddr     string
		wantFallback bool
		wantTier     int
	}{
		{
			name: "marker beats frequency",
			lines: []string{
				"727 audio status", "727 audio ok", "727 read DID",
				"Requested node(0) = 754",
				"727 NRC = 78", "727 timeout",
			},
			wantAddr: "754", wantFallback: false, wantTier: TierMarker,
		},
		{
			name: "earliest marker wins",
			lines: []string{
				"Requested node(1) = 7E0",
				"Requested node(2) = 754",
			},
			wantAddr: "7E0", wantFallback: false, wantTier: TierMarker,
		},
		{
			name: "programming context frequency",
			lines: []string{
				"727 ping", "727 ping", "727 ping",
				"flash block 1 to 726", "download to 726",
			},
			wantAddr: "726", wantFallback: true, wantTier: TierProgramming,
		},
		{
			name:     "global frequency",
			lines:    []string{"727 ping", "754 ping", "727 again"},
			wantAddr: "727", wantFallback: true, wantTier: TierGlobalCounts,
		},
		{
			name:     "tie takes first address",
			lines:    []string{"7E0 ping", "720 ping"},
			wantAddr: "720", wantFallback: true, wantTier: TierGlobalCounts,
		},
		{
			name:     "no addresses",
			lines:    []string{"hello", "world"},
			wantAddr: "", wantFallback: true, wantTier: TierNone,
		},
	}
	r := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Resolve(events(tt.lines...))
			if got.Address != tt.wantAddr || got.IsFallback != tt.wantFallback || got.Tier != tt.wantTier {
				t.Errorf("Resolve = %+v, want addr=%q fallback=%v tier=%d", got, tt.wantAddr, tt.wantFallback, tt.wantTier)
			}
			if got.Name == "" {
				t.Error("name should never be empty")
			}
		})
	}
}

func TestResolveNamesModule(t *testing.T) {
	got := New(nil).Resolve(events("Requested node(0) = 754"))
	if got.Name != "TCU (Telematics Control Unit)" {
		t.Errorf("Name = %q", got.Name)
	}
}
