package recommend

import (
	"context"
	"strings"
	"testing"

	"github.com/WessleyAI/diagtrace/engine/domain"
)

func chain(root domain.Category, symptoms ...domain.Category) domain.CausalChain {
	c := domain.CausalChain{Root: &domain.ClassifiedError{Category: root}}
	for _, s := range symptoms {
		c.Symptoms = append(c.Symptoms, domain.ClassifiedError{Category: s})
	}
	return c
}

func TestEveryCategoryHasPlan(t *testing.T) {
	for _, cat := range domain.AllCategories {
		if _, ok := plans[cat]; !ok {
			t.Errorf("no plan for %s", cat)
		}
	}
}

func TestPriorities(t *testing.T) {
	s := New(nil)

	power := s.Recommend(context.Background(), chain(domain.CategoryPowerVoltage))
	if power[0].Priority != domain.PriorityCritical || !strings.Contains(power[0].Step, "voltage") {
		t.Errorf("power first step = %+v", power[0])
	}

	for _, cat := range []domain.Category{domain.CategoryPowerVoltage, domain.CategorySecurity} {
		for _, r := range s.Recommend(context.Background(), chain(cat)) {
			if r.Priority != domain.PriorityCritical && r.Priority != domain.PriorityHigh {
				t.Errorf("%s step %q has priority %s", cat, r.Step, r.Priority)
			}
		}
		if got := s.Recommend(context.Background(), chain(cat))[0].Priority; got != domain.PriorityCritical {
			t.Errorf("%s leads with %s, want CRITICAL", cat, got)
		}
	}

	busy := s.Recommend(context.Background(), chain(domain.CategoryBusyPending))
	for _, r := range busy {
		if r.Priority != domain.PriorityLow {
			t.Errorf("busy step %q has priority %s", r.Step, r.Priority)
		}
	}
	if !strings.Contains(busy[0].Step, "not an error") {
		t.Errorf("busy first step should say it is usually not an error: %q", busy[0].Step)
	}
}

func TestFollowUp(t *testing.T) {
	recs := New(nil).Recommend(context.Background(), chain(domain.CategoryCANBus, domain.CategoryCommunication, domain.CategoryCommunication, domain.CategoryBusyPending))
	last := recs[len(recs)-1]
	if last.Priority != domain.PriorityMedium {
		t.Errorf("follow-up priority = %s", last.Priority)
	}
	if !strings.Contains(last.Step, "communication and busy/response pending") {
		t.Errorf("follow-up = %q", last.Step)
	}

	sec := New(nil).Recommend(context.Background(), chain(domain.CategorySecurity, domain.CategoryProgramming))
	if got := sec[len(sec)-1].Priority; got != domain.PriorityHigh {
		t.Errorf("security follow-up priority = %s, want HIGH", got)
	}
}

func TestNoRoot(t *testing.T) {
	recs := New(nil).Recommend(context.Background(), domain.CausalChain{})
	if len(recs) != 1 || recs[0].Priority != domain.PriorityLow {
		t.Errorf("recs = %+v", recs)
	}
}

type fixedBaseline map[domain.Category]float64

func (b fixedBaseline) SuccessRate(ctx context.Context, c domain.Category) (float64, bool) {
	if ctx.Err() != nil {
		return 0, false
	}
	r, ok := b[c]
	return r, ok
}

func TestBaselineOverridesStaticRate(t *testing.T) {
	s := New(fixedBaseline{domain.CategorySecurity: 0.25})
	for _, r := range s.Recommend(context.Background(), chain(domain.CategorySecurity)) {
		if r.EstSuccessRate != 0.25 {
			t.Errorf("rate = %v, want 0.25", r.EstSuccessRate)
		}
	}
	for _, r := range s.Recommend(context.Background(), chain(domain.CategoryCANBus)) {
		if r.EstSuccessRate != plans[domain.CategoryCANBus].rate {
			t.Errorf("rate = %v, want static", r.EstSuccessRate)
		}
	}
}

func TestBaselineSkippedWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New(fixedBaseline{domain.CategorySecurity: 0.25})
	for _, r := range s.Recommend(ctx, chain(domain.CategorySecurity)) {
		if r.EstSuccessRate != plans[domain.CategorySecurity].rate {
			t.Errorf("rate = %v, want static %v", r.EstSuccessRate, plans[domain.CategorySecurity].rate)
		}
	}
}
