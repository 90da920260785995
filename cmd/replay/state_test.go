package main

import (
	"reflect"
	"testing"
	"time"

	"voxelclaims.ai/internal/protocol"
)

func TestStateFoldsClaimLifecycle(t *testing.T) {
	s := newState()
	for _, ev := range []protocol.Event{
		{Kind: protocol.EventClaimed, ClaimID: 1},
		{Kind: protocol.EventClaimed, ClaimID: 2},
		{Kind: protocol.EventRegionCreated, RegionID: 7},
		{Kind: protocol.EventMerged, ClaimID: 2, RegionID: 7},
		{Kind: protocol.EventClaimed, ClaimID: 3},
		{Kind: protocol.EventUnclaimed, ClaimID: 1},
		{Kind: protocol.EventDissolved, ClaimID: 3, Reason: "exhausted"},
	} {
		s.apply(ev)
	}
	if s.events != 7 || s.byKind[protocol.EventClaimed] != 3 {
		t.Fatalf("events=%d byKind=%v", s.events, s.byKind)
	}
	if len(s.claims) != 1 || len(s.regions) != 1 {
		t.Fatalf("claims=%v regions=%v", s.claims, s.regions)
	}

	missing, extra := s.diff([]int64{2})
	if len(missing) != 0 || len(extra) != 0 {
		t.Fatalf("missing=%v extra=%v", missing, extra)
	}
	missing, extra = s.diff([]int64{4, 5})
	if !reflect.DeepEqual(missing, []int64{2}) || !reflect.DeepEqual(extra, []int64{4, 5}) {
		t.Fatalf("missing=%v extra=%v", missing, extra)
	}
}

func TestFilterMatch(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	ev := protocol.Event{Kind: protocol.EventDeposit, ClaimID: 4, Time: at}

	if !(filter{}).match(ev) {
		t.Fatalf("empty filter should match")
	}
	if (filter{kinds: map[string]bool{protocol.EventWithdraw: true}}).match(ev) {
		t.Fatalf("kind filter")
	}
	if (filter{claimID: 5}).match(ev) {
		t.Fatalf("claim filter")
	}
	if (filter{since: at.Add(time.Second)}).match(ev) {
		t.Fatalf("since filter")
	}
	if !(filter{since: at, until: at}).match(ev) {
		t.Fatalf("bounds are inclusive")
	}
}
