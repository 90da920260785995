package main

import (
	"sort"
	"time"

	"voxelclaims.ai/internal/protocol"
)

type filter struct {
	kinds        map[string]bool
	claimID      int64
	since, until time.Time
}

func (f filter) match(ev protocol.Event) bool {
	if f.kinds != nil && !f.kinds[ev.Kind] {
		return false
	}
	if f.claimID != 0 && ev.ClaimID != f.claimID {
		return false
	}
	if !f.since.IsZero() && ev.Time.Before(f.since) {
		return false
	}
	if !f.until.IsZero() && ev.Time.After(f.until) {
		return false
	}
	return true
}

// state folds audit events into the set of claims and regions that should
// still exist.
type state struct {
	events  int
	byKind  map[string]int
	claims  map[int64]struct{}
	regions map[int64]struct{}
}

func newState() *state {
	return &state{
		byKind:  map[string]int{},
		claims:  map[int64]struct{}{},
		regions: map[int64]struct{}{},
	}
}

func (s *state) apply(ev protocol.Event) {
	s.events++
	s.byKind[ev.Kind]++
	switch ev.Kind {
	case protocol.EventClaimed:
		s.claims[ev.ClaimID] = struct{}{}
	case protocol.EventUnclaimed, protocol.EventDissolved:
		delete(s.claims, ev.ClaimID)
	case protocol.EventRegionCreated:
		s.regions[ev.RegionID] = struct{}{}
	case protocol.EventRegionDeleted:
		delete(s.regions, ev.RegionID)
	}
}

func (s *state) kindsSorted() []string {
	out := make([]string, 0, len(s.byKind))
	for k := range s.byKind {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// diff compares the replayed claims with ids read from the store.
func (s *state) diff(ids []int64) (missing, extra []int64) {
	inStore := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		inStore[id] = struct{}{}
		if _, ok := s.claims[id]; !ok {
			extra = append(extra, id)
		}
	}
	for id := range s.claims {
		if _, ok := inStore[id]; !ok {
			missing = append(missing, id)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return missing, extra
}
