// Package target resolves the ECU that a session was aimed at.
//
// Resolution has three tiers, tried in order:
//
//  1. an explicit "Requested node" marker (authoritative);
//  2. address frequency within programming-context events;
//  3. address frequency across all events.
//
// Ties are broken by the lexicographically smallest address.
package target

import (
	"regexp"
	"sort"

	"github.com/WessleyAI/diagtrace/engine/domain"
	"github.com/WessleyAI/diagtrace/engine/reftable"
)

const (
	TierNone         = 0
	TierMarker       = 1
	TierProgramming  = 2
	TierGlobalCounts = 3
)

var programmingRe = regexp.MustCompile(`(?i)program|flash|update|download|transfer`)

// Resolver is safe for concurrent use.
type Resolver struct {
	tables *reftable.Tables
}

// New creates a Resolver that names modules from tables.
func New(tables *reftable.Tables) *Resolver {
	if tables == nil {
		tables = reftable.Default()
	}
	return &Resolver{tables: tables}
}

// Resolve returns the primary module. IsFallback is false only for tier 1.
func (r *Resolver) Resolve(events []domain.DiagnosticEvent) domain.PrimaryModule {
	for _, ev := range events {
		if ev.Entities.RequestedNode != "" {
			return r.module(ev.Entities.RequestedNode, TierMarker)
		}
	}

	counts := map[string]int{}
	for _, ev := range events {
		if programmingRe.MatchString(ev.RawText) {
			for _, a := range ev.Entities.ECUAddresses {
				counts[a]++
			}
		}
	}
	if addr, ok := mostFrequent(counts); ok {
		return r.module(addr, TierProgramming)
	}

	clear(counts)
	for _, ev := range events {
		for _, a := range ev.Entities.ECUAddresses {
			counts[a]++
		}
	}
	if addr, ok := mostFrequent(counts); ok {
		return r.module(addr, TierGlobalCounts)
	}

	return domain.PrimaryModule{Name: "Unknown", IsFallback: true, Tier: TierNone}
}

func (r *Resolver) module(addr string, tier int) domain.PrimaryModule {
	e, _ := r.tables.ECU(addr)
	return domain.PrimaryModule{
		Address:    addr,
		Name:       r.tables.ECUName(addr),
		IsFallback: tier != TierMarker,
		Tier:       tier,
		Critical:   e.Critical,
	}
}

func mostFrequent(counts map[string]int) (string, bool) {
	if len(counts) == 0 {
		return "", false
	}
	addrs := make([]string, 0, len(counts))
	for a := range counts {
		addrs = append(addrs, a)
	}
	sort.Strings(addrs)
	best := addrs[0]
	for _, a := range addrs[1:] {
		if counts[a] > counts[best] {
			best = a
		}
	}
	return best, true
}
