// Package storetest is the shared contract suite every store.Store backend runs.
package storetest

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"voxelclaims.ai/internal/persistence/store"
	"voxelclaims.ai/internal/sim/model"
)

// Run executes the contract against fresh stores built by open.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Run("ClaimsCRUD", func(t *testing.T) { testClaimsCRUD(t, open(t)) })
	t.Run("CellIsUnique", func(t *testing.T) { testCellUnique(t, open(t)) })
	t.Run("RegionsNamesAndOwners", func(t *testing.T) { testRegions(t, open(t)) })
	t.Run("MembersAndBans", func(t *testing.T) { testMembersAndBans(t, open(t)) })
	t.Run("AnchorsFallBackToRegion", func(t *testing.T) { testAnchors(t, open(t)) })
	t.Run("DeleteClaimCascades", func(t *testing.T) { testDeleteCascade(t, open(t)) })
	t.Run("DrainThreeTiers", func(t *testing.T) { testDrain(t, open(t)) })
	t.Run("DrainScopes", func(t *testing.T) { testDrainScopes(t, open(t)) })
}

func cell(x, z int) model.CellKey { return model.CellKey{World: "world", X: x, Z: z} }

func newClaim(owner uuid.UUID, k model.CellKey) model.Claim {
	return model.Claim{
		Owner:        owner,
		Cell:         k,
		DisplayName:  model.DefaultClaimName(k),
		InitialGrace: 600,
		MemberPerms:  model.PermAll,
		Rules:        model.DefaultRules(),
		ClaimedAt:    time.UnixMilli(1_700_000_000_000).UTC(),
	}
}

func testClaimsCRUD(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := uuid.New()

	c, err := s.CreateClaim(ctx, newClaim(owner, cell(0, 0)))
	require.NoError(t, err)
	require.NotZero(t, c.ID)

	got, err := s.ClaimAt(ctx, cell(0, 0))
	require.NoError(t, err)
	require.Equal(t, c.ID, got.ID)
	require.Equal(t, owner, got.Owner)
	require.Equal(t, int64(600), got.InitialGrace)
	require.Equal(t, model.DefaultRules(), got.Rules)
	require.True(t, got.ClaimedAt.Equal(c.ClaimedAt))

	got.Home = &model.BlockPos{World: "world", X: 3, Y: 70, Z: -4}
	got.HomePublic = true
	got.Locked = true
	got.EconomyBalance = 12.5
	got.VisitorPerms = model.PermUseDoors
	got.Rules = got.Rules.Toggle(model.RulePVP)
	require.NoError(t, s.UpdateClaim(ctx, got))

	again, err := s.ClaimByID(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, again.Home)
	require.Equal(t, *got.Home, *again.Home)
	require.True(t, again.HomePublic)
	require.True(t, again.Locked)
	require.InDelta(t, 12.5, again.EconomyBalance, 1e-9)
	require.Equal(t, model.PermUseDoors, again.VisitorPerms)
	require.True(t, again.Rules.Get(model.RulePVP))

	byOwner, err := s.ClaimsByOwner(ctx, owner)
	require.NoError(t, err)
	require.Len(t, byOwner, 1)

	_, err = s.ClaimByID(ctx, 9999)
	require.ErrorIs(t, err, model.ErrNotFound)
	require.ErrorIs(t, s.UpdateClaim(ctx, model.Claim{ID: 9999, Cell: cell(5, 5)}), model.ErrNotFound)
}

func testCellUnique(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.CreateClaim(ctx, newClaim(uuid.New(), cell(1, 1)))
	require.NoError(t, err)
	_, err = s.CreateClaim(ctx, newClaim(uuid.New(), cell(1, 1)))
	require.ErrorIs(t, err, model.ErrAlreadyClaimed)

	all, err := s.AllClaims(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func testRegions(t *testing.T, s store.Store) {
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	r1, err := s.CreateRegion(ctx, a, "world", "Ann's Claim")
	require.NoError(t, err)
	r2, err := s.CreateRegion(ctx, a, "world", "Ann's Claim")
	require.NoError(t, err)
	require.Equal(t, "Ann's Claim", r1.Name)
	require.Equal(t, "Ann's Claim 2", r2.Name)

	got, err := s.RegionByName(ctx, "Ann's Claim 2")
	require.NoError(t, err)
	require.Equal(t, r2.ID, got.ID)

	require.ErrorIs(t, s.RenameRegion(ctx, r2.ID, "Ann's Claim"), model.ErrNameTaken)
	require.NoError(t, s.RenameRegion(ctx, r2.ID, "Farm"))
	require.NoError(t, s.SetRegionLocked(ctx, r2.ID, true))
	require.NoError(t, s.SetRegionOwner(ctx, r2.ID, b))

	got, err = s.RegionByID(ctx, r2.ID)
	require.NoError(t, err)
	require.Equal(t, "Farm", got.Name)
	require.True(t, got.Locked)
	require.Equal(t, b, got.Owner)

	owned, err := s.RegionsByOwner(ctx, a)
	require.NoError(t, err)
	require.Len(t, owned, 1)

	require.NoError(t, s.DeleteRegion(ctx, r1.ID))
	_, err = s.RegionByID(ctx, r1.ID)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func testMembersAndBans(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner, p, q := uuid.New(), uuid.New(), uuid.New()
	c, err := s.CreateClaim(ctx, newClaim(owner, cell(0, 0)))
	require.NoError(t, err)

	joined := time.UnixMilli(1_700_000_100_000).UTC()
	require.NoError(t, s.PutMember(ctx, model.Membership{ClaimID: c.ID, PlayerID: p, Role: model.RoleMember, JoinedAt: joined}))
	require.NoError(t, s.PutMember(ctx, model.Membership{ClaimID: c.ID, PlayerID: p, Role: model.RoleTrusted, JoinedAt: joined}))

	m, err := s.Member(ctx, c.ID, p)
	require.NoError(t, err)
	require.Equal(t, model.RoleTrusted, m.Role)
	require.True(t, m.JoinedAt.Equal(joined))

	list, err := s.MembersOf(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	mine, err := s.ClaimsByMember(ctx, p)
	require.NoError(t, err)
	require.Len(t, mine, 1)

	require.NoError(t, s.RemoveMember(ctx, c.ID, p))
	_, err = s.Member(ctx, c.ID, p)
	require.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, s.AddBan(ctx, model.Ban{ClaimID: c.ID, PlayerID: q, BannedAt: joined}))
	banned, err := s.IsBanned(ctx, c.ID, q)
	require.NoError(t, err)
	require.True(t, banned)
	bans, err := s.BansOf(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, bans, 1)
	require.NoError(t, s.RemoveBan(ctx, c.ID, q))
	banned, err = s.IsBanned(ctx, c.ID, q)
	require.NoError(t, err)
	require.False(t, banned)
}

func testAnchors(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := uuid.New()
	r, err := s.CreateRegion(ctx, owner, "world", "R")
	require.NoError(t, err)
	c1 := newClaim(owner, cell(0, 0))
	c1.RegionID = r.ID
	c1, err = s.CreateClaim(ctx, c1)
	require.NoError(t, err)
	c2 := newClaim(owner, cell(1, 0))
	c2.RegionID = r.ID
	c2, err = s.CreateClaim(ctx, c2)
	require.NoError(t, err)

	pos := model.BlockPos{World: "world", X: 4, Y: 64, Z: 5}
	require.NoError(t, s.UpsertAnchor(ctx, model.Anchor{ClaimID: c1.ID, RegionID: r.ID, Pos: pos, EnergyTime: 10, LastUpdate: time.UnixMilli(1000).UTC()}))
	require.NoError(t, s.UpsertAnchor(ctx, model.Anchor{ClaimID: c1.ID, RegionID: r.ID, Pos: pos, EnergyTime: 20, EconomyBalance: 3, LastUpdate: time.UnixMilli(2000).UTC()}))

	a, err := s.AnchorFor(ctx, c2.ID, r.ID)
	require.NoError(t, err)
	require.Equal(t, c1.ID, a.ClaimID)
	require.Equal(t, int64(20), a.EnergyTime)
	require.Equal(t, pos, a.Pos)

	_, err = s.AnchorFor(ctx, c2.ID, 0)
	require.ErrorIs(t, err, model.ErrNotFound)

	all, err := s.AllAnchors(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	del, err := s.DeleteAnchor(ctx, c2.ID, r.ID)
	require.NoError(t, err)
	require.InDelta(t, 3.0, del.EconomyBalance, 1e-9)
	_, err = s.DeleteAnchor(ctx, c2.ID, r.ID)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func testDeleteCascade(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner, p := uuid.New(), uuid.New()
	c, err := s.CreateClaim(ctx, newClaim(owner, cell(0, 0)))
	require.NoError(t, err)
	require.NoError(t, s.PutMember(ctx, model.Membership{ClaimID: c.ID, PlayerID: p, Role: model.RoleMember}))
	require.NoError(t, s.AddBan(ctx, model.Ban{ClaimID: c.ID, PlayerID: uuid.New()}))
	require.NoError(t, s.UpsertAnchor(ctx, model.Anchor{ClaimID: c.ID, Pos: model.BlockPos{World: "world"}}))

	require.NoError(t, s.DeleteClaim(ctx, c.ID))
	members, err := s.AllMembers(ctx)
	require.NoError(t, err)
	require.Empty(t, members)
	bans, err := s.AllBans(ctx)
	require.NoError(t, err)
	require.Empty(t, bans)
	anchors, err := s.AllAnchors(ctx)
	require.NoError(t, err)
	require.Empty(t, anchors)
	require.True(t, errors.Is(s.DeleteClaim(ctx, c.ID), model.ErrNotFound))
}

func testDrain(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := uuid.New()
	mk := func(x int, e int64, b float64, g int64) int64 {
		c := newClaim(owner, cell(x, 0))
		c.EnergyTime, c.EconomyBalance, c.InitialGrace = e, b, g
		c, err := s.CreateClaim(ctx, c)
		require.NoError(t, err)
		return c.ID
	}
	econ := mk(0, 0, 50, 0)
	energyFirst := mk(2, 10, 5, 100)
	partial := mk(6, 0, 0.5, 20)
	exhausted := mk(8, 0, 0, 0)

	_, err := s.Drain(ctx, 30, 1, store.DrainUnanchored)
	require.NoError(t, err)

	got := func(id int64) model.Claim {
		c, err := s.ClaimByID(ctx, id)
		require.NoError(t, err)
		return c
	}
	c := got(econ)
	require.Equal(t, int64(0), c.EnergyTime)
	require.InDelta(t, 20, c.EconomyBalance, 1e-9)

	c = got(energyFirst)
	require.Equal(t, int64(0), c.EnergyTime)
	require.InDelta(t, 0, c.EconomyBalance, 1e-9)
	require.Equal(t, int64(85), c.InitialGrace)

	// 0.5 at price 1 covers half a second; the 29.5s deficit takes 30 from grace.
	c = got(partial)
	require.InDelta(t, 0, c.EconomyBalance, 1e-9)
	require.Equal(t, int64(0), c.InitialGrace)

	c = got(exhausted)
	require.False(t, c.Funded())

	_, err = s.Drain(ctx, 1, 0, store.DrainFunded)
	require.Error(t, err)
}

func testDrainScopes(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := uuid.New()
	r, err := s.CreateRegion(ctx, owner, "world", "R")
	require.NoError(t, err)

	mk := func(x int, region int64) model.Claim {
		c := newClaim(owner, cell(x, 10))
		c.RegionID = region
		c.EnergyTime = 100
		c, err := s.CreateClaim(ctx, c)
		require.NoError(t, err)
		return c
	}
	anchoredOwn := mk(0, 0)
	inRegionA := mk(2, r.ID)
	inRegionB := mk(3, r.ID)
	bare := mk(5, 0)
	require.NoError(t, s.UpsertAnchor(ctx, model.Anchor{ClaimID: anchoredOwn.ID, Pos: model.BlockPos{World: "world", X: 1}}))
	require.NoError(t, s.UpsertAnchor(ctx, model.Anchor{ClaimID: inRegionA.ID, RegionID: r.ID, Pos: model.BlockPos{World: "world", X: 40}}))

	without, err := s.ClaimsWithoutAnchor(ctx)
	require.NoError(t, err)
	require.Len(t, without, 1)
	require.Equal(t, bare.ID, without[0].ID)

	n, err := s.Drain(ctx, 10, 1, store.DrainUnanchored)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	for _, id := range []int64{anchoredOwn.ID, inRegionA.ID, inRegionB.ID} {
		c, err := s.ClaimByID(ctx, id)
		require.NoError(t, err)
		require.Equal(t, int64(100), c.EnergyTime, "claim %d is anchored and must not drain", id)
	}
	c, err := s.ClaimByID(ctx, bare.ID)
	require.NoError(t, err)
	require.Equal(t, int64(90), c.EnergyTime)

	n, err = s.Drain(ctx, 10, 1, store.DrainFunded)
	require.NoError(t, err)
	require.Equal(t, int64(4), n)
	c, err = s.ClaimByID(ctx, inRegionB.ID)
	require.NoError(t, err)
	require.Equal(t, int64(90), c.EnergyTime)
	require.False(t, math.IsNaN(c.EconomyBalance))
}
