package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CellKey identifies one grid cell of a world. At most one claim exists per key.
type CellKey struct {
	World string
	X     int
	Z     int
}

func (k CellKey) String() string { return fmt.Sprintf("%s:%d:%d", k.World, k.X, k.Z) }

// Neighbors returns the four orthogonal neighbors in scan order: north, south, west, east.
func (k CellKey) Neighbors() [4]CellKey {
	return [4]CellKey{
		{World: k.World, X: k.X, Z: k.Z - 1},
		{World: k.World, X: k.X, Z: k.Z + 1},
		{World: k.World, X: k.X - 1, Z: k.Z},
		{World: k.World, X: k.X + 1, Z: k.Z},
	}
}

// Adjacent reports whether two cells share an edge.
func (k CellKey) Adjacent(o CellKey) bool {
	if k.World != o.World {
		return false
	}
	dx := abs(k.X - o.X)
	dz := abs(k.Z - o.Z)
	return (dx == 1 && dz == 0) || (dx == 0 && dz == 1)
}

// BlockPos is a block position inside a world.
type BlockPos struct {
	World string `json:"world"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Z     int    `json:"z"`
}

func (p BlockPos) String() string { return fmt.Sprintf("%s:%d:%d:%d", p.World, p.X, p.Y, p.Z) }

// Cell maps a block position to the cell that contains it.
func (p BlockPos) Cell(cellSize int) CellKey {
	if cellSize <= 0 {
		cellSize = 16
	}
	return CellKey{World: p.World, X: floorDiv(p.X, cellSize), Z: floorDiv(p.Z, cellSize)}
}

type Claim struct {
	ID       int64
	Owner    uuid.UUID
	Cell     CellKey
	RegionID int64 // 0 = standalone

	DisplayName string
	Home        *BlockPos
	HomePublic  bool
	Locked      bool

	EnergyTime     int64   // seconds
	EconomyBalance float64 // currency
	InitialGrace   int64   // seconds

	VisitorPerms Perm
	MemberPerms  Perm
	Rules        RuleSet

	ClaimedAt time.Time
}

// UnitID is the id of the owning unit: the region id when grouped, else the claim id.
func (c *Claim) UnitID() int64 {
	if c.RegionID > 0 {
		return c.RegionID
	}
	return c.ID
}

func (c *Claim) Unit() UnitRef {
	if c.RegionID > 0 {
		return UnitRef{Kind: UnitRegion, ID: c.RegionID}
	}
	return UnitRef{Kind: UnitClaim, ID: c.ID}
}

func (c *Claim) Funded() bool {
	return c.EnergyTime > 0 || c.EconomyBalance > 0 || c.InitialGrace > 0
}

// CopySettingsFrom copies everything a region keeps synchronized across its claims.
func (c *Claim) CopySettingsFrom(src *Claim) {
	c.EnergyTime = src.EnergyTime
	c.EconomyBalance = src.EconomyBalance
	c.Locked = src.Locked
	c.Rules = src.Rules
	c.VisitorPerms = src.VisitorPerms
	c.MemberPerms = src.MemberPerms
}

func DefaultClaimName(k CellKey) string { return fmt.Sprintf("Cell %d,%d", k.X, k.Z) }

type Region struct {
	ID        int64
	Owner     uuid.UUID
	World     string
	Name      string
	Locked    bool
	CreatedAt time.Time
}

// RegionBaseName is the name a freshly promoted region gets before de-duplication.
func RegionBaseName(ownerName string) string {
	if ownerName == "" {
		ownerName = "Player"
	}
	return ownerName + "'s Claim"
}

// UniqueRegionName appends an incrementing numeric suffix until taken reports false.
func UniqueRegionName(base string, taken func(string) bool) string {
	if !taken(base) {
		return base
	}
	for n := 2; ; n++ {
		name := fmt.Sprintf("%s %d", base, n)
		if !taken(name) {
			return name
		}
	}
}

type UnitKind string

const (
	UnitClaim  UnitKind = "claim"
	UnitRegion UnitKind = "region"
)

// UnitRef names an owning unit: a standalone claim or a region.
type UnitRef struct {
	Kind UnitKind `json:"kind"`
	ID   int64    `json:"id"`
}

func (u UnitRef) String() string { return fmt.Sprintf("%s:%d", u.Kind, u.ID) }

func (u UnitRef) IsZero() bool { return u.ID == 0 }

// ParseUnitRef parses "region:12" or "claim:7".
func ParseUnitRef(s string) (UnitRef, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return UnitRef{}, fmt.Errorf("%w: unit ref %q", ErrInvalid, s)
	}
	u := UnitRef{Kind: UnitKind(kind)}
	if u.Kind != UnitClaim && u.Kind != UnitRegion {
		return UnitRef{}, fmt.Errorf("%w: unit kind %q", ErrInvalid, kind)
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return UnitRef{}, fmt.Errorf("%w: unit id %q", ErrInvalid, id)
	}
	u.ID = n
	return u, nil
}

type Role string

const (
	RoleMember  Role = "MEMBER"
	RoleTrusted Role = "TRUSTED"
)

func (r Role) Valid() bool { return r == RoleMember || r == RoleTrusted }

type Membership struct {
	ClaimID  int64     `json:"claim_id"`
	PlayerID uuid.UUID `json:"player_id"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

type Ban struct {
	ClaimID  int64     `json:"claim_id"`
	PlayerID uuid.UUID `json:"player_id"`
	BannedAt time.Time `json:"banned_at"`
}

// Anchor is the power cell bound to a claim, or to a whole region through RegionID.
type Anchor struct {
	ClaimID        int64
	RegionID       int64
	Pos            BlockPos
	EnergyTime     int64
	EconomyBalance float64
	LastUpdate     time.Time
}

// ItemStack is a stack of one item type inside a container slot.
type ItemStack struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

func (s ItemStack) Empty() bool { return s.Item == "" || s.Count <= 0 }

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
