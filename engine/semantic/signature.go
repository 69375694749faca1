package semantic

import (
	"math"

	"github.com/WessleyAI/diagtrace/engine/domain"
	"github.com/cespare/xxhash/v2"
)

// ModuleBuckets is the number of hashed module dimensions.
const ModuleBuckets = 16

// Dims is the width of a signature vector.
var Dims = len(domain.AllCategories) + ModuleBuckets

const (
	rootWeight      = 1.0
	symptomWeight   = 0.5
	unrelatedWeight = 0.25
)

// Signature turns a report into a fixed-width vector: one dimension per
// category (root 1.0, each symptom +0.5, each unrelated +0.25, capped at 1)
// followed by hashed buckets for the primary and affected modules.
func Signature(r *domain.RootCauseReport) []float32 {
	v := make([]float32, Dims)
	if r == nil {
		return v
	}
	slot := make(map[domain.Category]int, len(domain.AllCategories))
	for i, c := range domain.AllCategories {
		slot[c] = i
	}
	add := func(c domain.Category, w float32) {
		i, ok := slot[c]
		if !ok {
			return
		}
		v[i] = min(v[i]+w, 1)
	}

	if r.Chain.Root != nil {
		add(r.Chain.Root.Category, rootWeight)
	}
	for _, e := range r.Chain.Symptoms {
		add(e.Category, symptomWeight)
	}
	for _, e := range r.Chain.Unrelated {
		add(e.Category, unrelatedWeight)
	}

	base := len(domain.AllCategories)
	if addr := r.PrimaryModule.Address; addr != "" && !r.PrimaryModule.IsFallback {
		v[base+bucket(addr)] = 1
	}
	for _, addr := range r.AffectedModules {
		b := base + bucket(addr)
		v[b] = max(v[b], 0.5)
	}
	return v
}

func bucket(addr string) int {
	return int(xxhash.Sum64String(addr) % ModuleBuckets)
}

// Cosine returns the cosine similarity of two equal-length vectors, or 0
// when either is all zeros.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
