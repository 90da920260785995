package registry

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"voxelclaims.ai/internal/sim/model"
)

func cell(x, z int) model.CellKey { return model.CellKey{World: "w", X: x, Z: z} }

func TestPutClaimIndexes(t *testing.T) {
	r := New()
	owner := uuid.New()
	r.PutClaim(model.Claim{ID: 1, Owner: owner, Cell: cell(0, 0)})
	r.PutClaim(model.Claim{ID: 2, Owner: owner, Cell: cell(1, 0), RegionID: 9})

	if c := r.ClaimAt(cell(1, 0)); c == nil || c.ID != 2 {
		t.Fatalf("ClaimAt: %+v", c)
	}
	if got := r.ClaimsByOwner(owner); len(got) != 2 || got[0].ID != 1 {
		t.Fatalf("ClaimsByOwner: %v", got)
	}
	if got := r.ClaimsInRegion(9); len(got) != 1 || got[0].ID != 2 {
		t.Fatalf("ClaimsInRegion: %v", got)
	}

	// Moving claim 1 into the region re-indexes it.
	c1 := *r.Claim(1)
	c1.RegionID = 9
	r.PutClaim(c1)
	if got := r.ClaimsInRegion(9); len(got) != 2 {
		t.Fatalf("after join: %v", got)
	}
	if got := r.UnitClaims(model.UnitRef{Kind: model.UnitClaim, ID: 1}); len(got) != 2 {
		t.Fatalf("UnitClaims via claim in region: %v", got)
	}
}

func TestRemoveClaimCascades(t *testing.T) {
	r := New()
	owner, p := uuid.New(), uuid.New()
	r.PutClaim(model.Claim{ID: 1, Owner: owner, Cell: cell(0, 0)})
	r.PutMember(model.Membership{ClaimID: 1, PlayerID: p, Role: model.RoleMember})
	r.AddBan(model.Ban{ClaimID: 1, PlayerID: uuid.New()})
	r.PutAnchor(model.Anchor{ClaimID: 1, Pos: model.BlockPos{World: "w", X: 1, Y: 64, Z: 1}})

	r.RemoveClaim(1)
	if r.ClaimAt(cell(0, 0)) != nil {
		t.Fatalf("cell still indexed")
	}
	if len(r.ClaimsByMember(p)) != 0 {
		t.Fatalf("membership index not cleared")
	}
	if r.AnchorAt(model.BlockPos{World: "w", X: 1, Y: 64, Z: 1}) != nil {
		t.Fatalf("anchor position not cleared")
	}
	if s := r.Stats(); s.Claims != 0 || s.Members != 0 || s.Bans != 0 || s.Anchors != 0 {
		t.Fatalf("stats=%+v", s)
	}
}

func TestMembershipAndBansAreRegionWide(t *testing.T) {
	r := New()
	owner, p, q := uuid.New(), uuid.New(), uuid.New()
	r.PutClaim(model.Claim{ID: 1, Owner: owner, Cell: cell(0, 0), RegionID: 5})
	r.PutClaim(model.Claim{ID: 2, Owner: owner, Cell: cell(1, 0), RegionID: 5})
	r.PutClaim(model.Claim{ID: 3, Owner: owner, Cell: cell(9, 9)})

	r.PutMember(model.Membership{ClaimID: 1, PlayerID: p, Role: model.RoleMember, JoinedAt: time.Unix(1, 0)})
	r.PutMember(model.Membership{ClaimID: 2, PlayerID: p, Role: model.RoleTrusted, JoinedAt: time.Unix(2, 0)})
	r.AddBan(model.Ban{ClaimID: 1, PlayerID: q})

	role, ok := r.MemberRole(r.Claim(2), p)
	if !ok || role != model.RoleTrusted {
		t.Fatalf("role=%q ok=%v", role, ok)
	}
	if _, ok := r.MemberRole(r.Claim(3), p); ok {
		t.Fatalf("standalone claim should not inherit region members")
	}
	if !r.IsBanned(r.Claim(2), q) {
		t.Fatalf("ban on claim 1 should cover claim 2")
	}
	if r.IsBanned(r.Claim(3), q) {
		t.Fatalf("ban should not leak out of the region")
	}
	if got := r.UnitMembers(r.Claim(1)); len(got) != 1 || got[0].Role != model.RoleTrusted {
		t.Fatalf("UnitMembers=%v", got)
	}
}

func TestAnchorLookupFallsBackToRegion(t *testing.T) {
	r := New()
	owner := uuid.New()
	r.PutRegion(model.Region{ID: 5, Owner: owner, Name: "Ann's Claim"})
	r.PutClaim(model.Claim{ID: 1, Owner: owner, Cell: cell(0, 0), RegionID: 5})
	r.PutClaim(model.Claim{ID: 2, Owner: owner, Cell: cell(1, 0), RegionID: 5})
	pos := model.BlockPos{World: "w", X: 3, Y: 70, Z: 3}
	r.PutAnchor(model.Anchor{ClaimID: 1, RegionID: 5, Pos: pos})

	if a := r.AnchorFor(r.Claim(2)); a == nil || a.ClaimID != 1 {
		t.Fatalf("AnchorFor(2)=%+v", a)
	}
	r.RemoveRegion(5)
	if r.AnchorAt(pos) != nil {
		t.Fatalf("region removal should drop its anchor")
	}
}

func TestRegionNamesAreCaseInsensitive(t *testing.T) {
	r := New()
	r.PutRegion(model.Region{ID: 1, Name: "Ann's Claim"})
	if !r.RegionNameTaken("ann's claim") {
		t.Fatalf("expected case-insensitive match")
	}
	rg := *r.Region(1)
	rg.Name = "Home"
	r.PutRegion(rg)
	if r.RegionNameTaken("Ann's Claim") || r.RegionByName("home") == nil {
		t.Fatalf("rename not re-indexed")
	}
}
