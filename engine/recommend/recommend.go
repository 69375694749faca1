// Package recommend maps a root-cause category to an ordered action plan.
package recommend

import (
	"context"
	"fmt"
	"strings"

	"github.com/WessleyAI/diagtrace/engine/domain"
)

// MinOutcomes is the number of recorded outcomes a Baseline needs before its
// rate replaces the static estimate.
const MinOutcomes = 5

// Baseline supplies observed fix rates per category. Implementations return
// ok=false when they have too few outcomes to be meaningful, or when ctx is
// done before the rate is known.
type Baseline interface {
	SuccessRate(ctx context.Context, category domain.Category) (rate float64, ok bool)
}

type step struct {
	text     string
	priority domain.Priority
}

type plan struct {
	steps []step
	rate  float64
}

var plans = map[domain.Category]plan{
	domain.CategoryPowerVoltage: {rate: 0.85, steps: []step{
		{"Stop operations and verify battery voltage is within 12.5-14.5V", domain.PriorityCritical},
		{"Connect a battery charger or maintainer before retrying", domain.PriorityCritical},
		{"Check alternator output and battery terminals for corrosion", domain.PriorityHigh},
		{"Retry the session once voltage is stable", domain.PriorityHigh},
	}},
	domain.CategorySecurity: {rate: 0.70, steps: []step{
		{"Verify security access credentials and the seed/key algorithm for this module", domain.PriorityCritical},
		{"Wait for the security lockout delay to expire before retrying", domain.PriorityHigh},
		{"Confirm the tool session has the required authorization level", domain.PriorityHigh},
	}},
	domain.CategoryCANBus: {rate: 0.65, steps: []step{
		{"Inspect CAN wiring, connectors and termination resistance", domain.PriorityHigh},
		{"Check for modules holding the bus in bus-off state", domain.PriorityHigh},
		{"Reseat the diagnostic interface and retry", domain.PriorityMedium},
	}},
	domain.CategoryProgramming: {rate: 0.60, steps: []step{
		{"Verify the calibration file matches the module part number", domain.PriorityHigh},
		{"Keep a charger connected and retry programming", domain.PriorityHigh},
		{"Check that the module supports the requested software level", domain.PriorityMedium},
	}},
	domain.CategoryStateOfCharge: {rate: 0.75, steps: []step{
		{"Charge the battery to an adequate state of charge before continuing", domain.PriorityHigh},
		{"Check for parasitic drain if state of charge drops quickly", domain.PriorityMedium},
	}},
	domain.CategoryCommunication: {rate: 0.60, steps: []step{
		{"Confirm the module is powered and awake", domain.PriorityHigh},
		{"Check the diagnostic interface connection and cable", domain.PriorityMedium},
		{"Retry with an extended response timeout", domain.PriorityMedium},
	}},
	domain.CategoryBusyPending: {rate: 0.90, steps: []step{
		{"Response pending is usually not an error; the module is still working, so wait for it to finish", domain.PriorityLow},
		{"Only investigate further if pending responses never complete", domain.PriorityLow},
	}},
	domain.CategoryDataIntegrity: {rate: 0.55, steps: []step{
		{"Re-download the software file and verify its checksum", domain.PriorityHigh},
		{"Check for interrupted transfers earlier in the session", domain.PriorityMedium},
	}},
	domain.CategoryPrecondition: {rate: 0.70, steps: []step{
		{"Verify vehicle preconditions: ignition state, gear, engine off and speed zero", domain.PriorityMedium},
		{"Confirm the correct diagnostic session is active before the request", domain.PriorityMedium},
	}},
	domain.CategoryUnclassified: {rate: 0.40, steps: []step{
		{"Review the highlighted error line and the surrounding log context", domain.PriorityMedium},
		{"Retry the operation and capture a fresh log if the error repeats", domain.PriorityLow},
	}},
}

// Synthesizer builds recommendations. The zero value uses static rates.
type Synthesizer struct {
	baseline Baseline
}

// New creates a Synthesizer. baseline may be nil.
func New(baseline Baseline) *Synthesizer {
	return &Synthesizer{baseline: baseline}
}

// Recommend returns the plan for the chain's root, followed by a follow-up
// step naming symptom categories when the root has symptoms.
func (s *Synthesizer) Recommend(ctx context.Context, chain domain.CausalChain) []domain.Recommendation {
	if chain.Root == nil {
		return []domain.Recommendation{{
			Step:           "No failure was detected; no action is required",
			Priority:       domain.PriorityLow,
			EstSuccessRate: 1,
		}}
	}

	cat := chain.Root.Category
	p, ok := plans[cat]
	if !ok {
		p = plans[domain.CategoryUnclassified]
	}
	rate := p.rate
	if s != nil && s.baseline != nil {
		if r, ok := s.baseline.SuccessRate(ctx, cat); ok {
			rate = r
		}
	}

	out := make([]domain.Recommendation, 0, len(p.steps)+1)
	for _, st := range p.steps {
		out = append(out, domain.Recommendation{Step: st.text, Priority: st.priority, EstSuccessRate: rate})
	}
	if follow := followUp(chain); follow != "" {
		prio := domain.PriorityMedium
		if cat == domain.CategoryPowerVoltage || cat == domain.CategorySecurity {
			prio = domain.PriorityHigh
		}
		out = append(out, domain.Recommendation{Step: follow, Priority: prio, EstSuccessRate: rate})
	}
	return out
}

func followUp(chain domain.CausalChain) string {
	if len(chain.Symptoms) == 0 {
		return ""
	}
	var labels []string
	seen := map[domain.Category]bool{}
	for _, s := range chain.Symptoms {
		if seen[s.Category] {
			continue
		}
		seen[s.Category] = true
		labels = append(labels, s.Category.Label())
	}
	return fmt.Sprintf("After fixing the %s fault, re-run the session; the downstream %s errors should clear",
		chain.Root.Category.Label(), strings.Join(labels, " and "))
}
