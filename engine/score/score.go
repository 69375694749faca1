// Package score computes a confidence value for a causal chain's root.
package score

import (
	"github.com/WessleyAI/diagtrace/engine/domain"
	"github.com/WessleyAI/diagtrace/engine/reftable"
)

// Signal contributions.
const (
	Base          = 0.5
	WithSymptoms  = 0.30
	CriticalNRC   = 0.20
	EarlyFailure  = 0.10
	HeavyCategory = 0.10

	// EarlyFraction is the leading share of the event list that counts as early.
	EarlyFraction = 0.2
)

// Signals records which adjustments applied.
type Signals struct {
	HasSymptoms bool `json:"has_symptoms"`
	CriticalNRC bool `json:"critical_nrc"`
	Early       bool `json:"early"`
	TopWeighted bool `json:"top_weighted"`
}

// Evaluate returns the signals for chain over a session of eventCount events.
func Evaluate(chain domain.CausalChain, eventCount int) Signals {
	root := chain.Root
	if root == nil {
		return Signals{}
	}
	var s Signals
	s.HasSymptoms = len(chain.Symptoms) > 0
	for _, code := range root.Event.Entities.NRCCodes {
		if reftable.CriticalNRCs[code] {
			s.CriticalNRC = true
			break
		}
	}
	s.Early = eventCount > 0 && float64(root.Event.Index) < EarlyFraction*float64(eventCount)
	s.TopWeighted = root.Category.TopWeighted()
	return s
}

// Value converts signals into a score in [0,1].
func (s Signals) Value() float64 {
	v := Base
	if s.HasSymptoms {
		v += WithSymptoms
	}
	if s.CriticalNRC {
		v += CriticalNRC
	}
	if s.Early {
		v += EarlyFailure
	}
	if s.TopWeighted {
		v += HeavyCategory
	}
	return clamp(v)
}

// Confidence scores chain. A chain without a root scores 0.
func Confidence(chain domain.CausalChain, eventCount int) float64 {
	if chain.Root == nil {
		return 0
	}
	return Evaluate(chain, eventCount).Value()
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
