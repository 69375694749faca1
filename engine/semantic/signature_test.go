package semantic

import (
	"testing"

	"github.com/WessleyAI/diagtrace/engine/domain"
)

func report(root domain.Category, symptoms ...domain.Category) *domain.RootCauseReport {
	r := &domain.RootCauseReport{
		SessionID:       "s",
		PrimaryModule:   domain.PrimaryModule{Address: "754"},
		AffectedModules: []string{"727", "754"},
	}
	r.Chain.Root = &domain.ClassifiedError{Category: root}
	for _, c := range symptoms {
		r.Chain.Symptoms = append(r.Chain.Symptoms, domain.ClassifiedError{Category: c})
	}
	return r
}

func slot(c domain.Category) int {
	for i, x := range domain.AllCategories {
		if x == c {
			return i
		}
	}
	return -1
}

func TestSignatureWeights(t *testing.T) {
	r := report(domain.CategoryPowerVoltage, domain.CategorySecurity, domain.CategorySecurity, domain.CategorySecurity)
	r.Chain.Unrelated = []domain.ClassifiedError{{Category: domain.CategoryBusyPending}}
	v := Signature(r)

	if len(v) != Dims || Dims != len(domain.AllCategories)+ModuleBuckets {
		t.Fatalf("len = %d, Dims = %d", len(v), Dims)
	}
	tests := []struct {
		cat  domain.Category
		want float32
	}{
		{domain.CategoryPowerVoltage, 1},
		{domain.CategorySecurity, 1}, // three symptoms capped
		{domain.CategoryBusyPending, 0.25},
		{domain.CategoryCANBus, 0},
	}
	for _, tt := range tests {
		if got := v[slot(tt.cat)]; got != tt.want {
			t.Errorf("%s = %v, want %v", tt.cat, got, tt.want)
		}
	}

	base := len(domain.AllCategories)
	if v[base+bucket("754")] != 1 {
		t.Error("primary module bucket not set to 1")
	}
	if bucket("727") != bucket("754") && v[base+bucket("727")] != 0.5 {
		t.Error("affected module bucket not set to 0.5")
	}
}

func TestSignatureEmpty(t *testing.T) {
	for _, v := range Signature(nil) {
		if v != 0 {
			t.Fatal("nil report should give zero vector")
		}
	}
	r := &domain.RootCauseReport{PrimaryModule: domain.PrimaryModule{Name: "Unknown", IsFallback: true}}
	for _, v := range Signature(r) {
		if v != 0 {
			t.Fatal("fallback module should not be hashed")
		}
	}
}

func TestCosineRanksSameFailureHigher(t *testing.T) {
	a := Signature(report(domain.CategoryPowerVoltage, domain.CategorySecurity))
	same := Signature(report(domain.CategoryPowerVoltage, domain.CategorySecurity))
	other := Signature(report(domain.CategoryCANBus, domain.CategoryCommunication))

	if got := Cosine(a, same); got < 0.999 {
		t.Errorf("identical signatures cosine = %v", got)
	}
	if Cosine(a, other) >= Cosine(a, same) {
		t.Errorf("different failure ranked as close: %v", Cosine(a, other))
	}
	if Cosine(a, make([]float32, Dims)) != 0 || Cosine(a, a[:3]) != 0 {
		t.Error("degenerate inputs should give 0")
	}
}
