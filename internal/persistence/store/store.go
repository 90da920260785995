// Package store defines the persistence contract for claims, regions,
// memberships, bans and anchors. The engine reaches it only through Async.
package store

import (
	"context"

	"github.com/google/uuid"

	"voxelclaims.ai/internal/sim/model"
)

type DrainScope int

const (
	// DrainFunded drains every funded claim.
	DrainFunded DrainScope = iota + 1
	// DrainUnanchored drains only claims whose claim and region both lack an anchor.
	DrainUnanchored
)

type ClaimStore interface {
	// CreateClaim assigns the id. A taken cell fails with model.ErrAlreadyClaimed.
	CreateClaim(ctx context.Context, c model.Claim) (model.Claim, error)
	ClaimAt(ctx context.Context, k model.CellKey) (model.Claim, error)
	ClaimByID(ctx context.Context, id int64) (model.Claim, error)
	ClaimsByOwner(ctx context.Context, owner uuid.UUID) ([]model.Claim, error)
	ClaimsByMember(ctx context.Context, player uuid.UUID) ([]model.Claim, error)
	AllClaims(ctx context.Context) ([]model.Claim, error)
	// UpdateClaim replaces the full record.
	UpdateClaim(ctx context.Context, c model.Claim) error
	// DeleteClaim also removes the claim's memberships, bans and own anchor.
	DeleteClaim(ctx context.Context, id int64) error
}

type RegionStore interface {
	// CreateRegion de-duplicates suggested against existing names.
	CreateRegion(ctx context.Context, owner uuid.UUID, world, suggested string) (model.Region, error)
	RegionByID(ctx context.Context, id int64) (model.Region, error)
	RegionByName(ctx context.Context, name string) (model.Region, error)
	RegionsByOwner(ctx context.Context, owner uuid.UUID) ([]model.Region, error)
	AllRegions(ctx context.Context) ([]model.Region, error)
	RenameRegion(ctx context.Context, id int64, name string) error
	SetRegionLocked(ctx context.Context, id int64, locked bool) error
	DeleteRegion(ctx context.Context, id int64) error
	SetRegionOwner(ctx context.Context, id int64, owner uuid.UUID) error
}

type MemberStore interface {
	PutMember(ctx context.Context, m model.Membership) error
	RemoveMember(ctx context.Context, claimID int64, player uuid.UUID) error
	MembersOf(ctx context.Context, claimID int64) ([]model.Membership, error)
	Member(ctx context.Context, claimID int64, player uuid.UUID) (model.Membership, error)
	MembershipsOf(ctx context.Context, player uuid.UUID) ([]model.Membership, error)
	AllMembers(ctx context.Context) ([]model.Membership, error)
}

type BanStore interface {
	AddBan(ctx context.Context, b model.Ban) error
	RemoveBan(ctx context.Context, claimID int64, player uuid.UUID) error
	IsBanned(ctx context.Context, claimID int64, player uuid.UUID) (bool, error)
	BansOf(ctx context.Context, claimID int64) ([]model.Ban, error)
	AllBans(ctx context.Context) ([]model.Ban, error)
}

type AnchorStore interface {
	UpsertAnchor(ctx context.Context, a model.Anchor) error
	// AnchorFor looks up by claim id and falls back to the region id.
	AnchorFor(ctx context.Context, claimID, regionID int64) (model.Anchor, error)
	AllAnchors(ctx context.Context) ([]model.Anchor, error)
	// DeleteAnchor deletes by claim id, falling back to the region id, and returns the removed row.
	DeleteAnchor(ctx context.Context, claimID, regionID int64) (model.Anchor, error)
}

type EconomyStore interface {
	// Drain applies the three-tier drain to the claims in scope and returns how many rows changed.
	Drain(ctx context.Context, seconds int64, pricePerSecond float64, scope DrainScope) (int64, error)
	// ClaimsWithoutAnchor lists claims whose claim and region both lack an anchor.
	ClaimsWithoutAnchor(ctx context.Context) ([]model.Claim, error)
}

type Store interface {
	ClaimStore
	RegionStore
	MemberStore
	BanStore
	AnchorStore
	EconomyStore
	Close() error
}

// Load reads everything the registry is rebuilt from.
func Load(ctx context.Context, s Store) (claims []model.Claim, regions []model.Region, members []model.Membership, bans []model.Ban, anchors []model.Anchor, err error) {
	if regions, err = s.AllRegions(ctx); err != nil {
		return
	}
	if claims, err = s.AllClaims(ctx); err != nil {
		return
	}
	if members, err = s.AllMembers(ctx); err != nil {
		return
	}
	if bans, err = s.AllBans(ctx); err != nil {
		return
	}
	anchors, err = s.AllAnchors(ctx)
	return
}
