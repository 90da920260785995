// Package registry is the in-memory cache of claims, regions, memberships,
// bans and anchors. It is owned by the simulation loop and is not safe for
// concurrent use.
package registry

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"voxelclaims.ai/internal/sim/model"
)

type Registry struct {
	claims  map[int64]*model.Claim
	byCell  map[model.CellKey]int64
	byOwner map[uuid.UUID]map[int64]struct{}
	byUnit  map[int64]map[int64]struct{} // region id -> claim ids

	regions      map[int64]*model.Region
	regionByName map[string]int64

	members  map[int64]map[uuid.UUID]model.Membership
	memberOf map[uuid.UUID]map[int64]struct{}
	bans     map[int64]map[uuid.UUID]model.Ban

	anchors        map[int64]*model.Anchor // keyed by claim id
	anchorByRegion map[int64]int64
	anchorByPos    map[model.BlockPos]int64
}

func New() *Registry {
	r := &Registry{}
	r.reset()
	return r
}

func (r *Registry) reset() {
	r.claims = map[int64]*model.Claim{}
	r.byCell = map[model.CellKey]int64{}
	r.byOwner = map[uuid.UUID]map[int64]struct{}{}
	r.byUnit = map[int64]map[int64]struct{}{}
	r.regions = map[int64]*model.Region{}
	r.regionByName = map[string]int64{}
	r.members = map[int64]map[uuid.UUID]model.Membership{}
	r.memberOf = map[uuid.UUID]map[int64]struct{}{}
	r.bans = map[int64]map[uuid.UUID]model.Ban{}
	r.anchors = map[int64]*model.Anchor{}
	r.anchorByRegion = map[int64]int64{}
	r.anchorByPos = map[model.BlockPos]int64{}
}

// Snapshot is the full state the registry is rebuilt from.
type Snapshot struct {
	Claims  []model.Claim
	Regions []model.Region
	Members []model.Membership
	Bans    []model.Ban
	Anchors []model.Anchor
}

// Load replaces the whole cache. Rows that reference missing claims are dropped.
func (r *Registry) Load(s Snapshot) {
	r.reset()
	for _, rg := range s.Regions {
		r.PutRegion(rg)
	}
	for _, c := range s.Claims {
		r.PutClaim(c)
	}
	for _, m := range s.Members {
		if r.claims[m.ClaimID] != nil {
			r.PutMember(m)
		}
	}
	for _, b := range s.Bans {
		if r.claims[b.ClaimID] != nil {
			r.AddBan(b)
		}
	}
	for _, a := range s.Anchors {
		r.PutAnchor(a)
	}
}

// Claims

func (r *Registry) ClaimAt(k model.CellKey) *model.Claim {
	id, ok := r.byCell[k]
	if !ok {
		return nil
	}
	return r.claims[id]
}

func (r *Registry) Claim(id int64) *model.Claim { return r.claims[id] }

// PutClaim inserts or replaces a claim and re-indexes it.
func (r *Registry) PutClaim(c model.Claim) *model.Claim {
	if old := r.claims[c.ID]; old != nil {
		r.unindexClaim(old)
	}
	cp := c
	if c.Home != nil {
		h := *c.Home
		cp.Home = &h
	}
	r.claims[cp.ID] = &cp
	r.byCell[cp.Cell] = cp.ID
	addIdx(r.byOwner, cp.Owner, cp.ID)
	if cp.RegionID > 0 {
		addIdx(r.byUnit, cp.RegionID, cp.ID)
	}
	return &cp
}

// RemoveClaim drops a claim with its memberships, bans and own anchor.
func (r *Registry) RemoveClaim(id int64) {
	c := r.claims[id]
	if c == nil {
		return
	}
	r.unindexClaim(c)
	delete(r.claims, id)
	for p := range r.members[id] {
		delIdx(r.memberOf, p, id)
	}
	delete(r.members, id)
	delete(r.bans, id)
	if a := r.anchors[id]; a != nil {
		r.RemoveAnchor(a.ClaimID)
	}
}

func (r *Registry) unindexClaim(c *model.Claim) {
	if r.byCell[c.Cell] == c.ID {
		delete(r.byCell, c.Cell)
	}
	delIdx(r.byOwner, c.Owner, c.ID)
	if c.RegionID > 0 {
		delIdx(r.byUnit, c.RegionID, c.ID)
	}
}

func (r *Registry) ClaimsByOwner(owner uuid.UUID) []*model.Claim {
	return r.collect(r.byOwner[owner])
}

// ClaimsByMember lists claims where the player holds a membership row.
func (r *Registry) ClaimsByMember(player uuid.UUID) []*model.Claim {
	return r.collect(r.memberOf[player])
}

func (r *Registry) ClaimsInRegion(regionID int64) []*model.Claim {
	return r.collect(r.byUnit[regionID])
}

// UnitClaims lists every claim of an owning unit.
func (r *Registry) UnitClaims(u model.UnitRef) []*model.Claim {
	switch u.Kind {
	case model.UnitRegion:
		return r.ClaimsInRegion(u.ID)
	case model.UnitClaim:
		if c := r.claims[u.ID]; c != nil {
			if c.RegionID > 0 {
				return r.ClaimsInRegion(c.RegionID)
			}
			return []*model.Claim{c}
		}
	}
	return nil
}

func (r *Registry) AllClaims() []*model.Claim {
	out := make([]*model.Claim, 0, len(r.claims))
	for _, c := range r.claims {
		out = append(out, c)
	}
	sortClaims(out)
	return out
}

func (r *Registry) collect(ids map[int64]struct{}) []*model.Claim {
	out := make([]*model.Claim, 0, len(ids))
	for id := range ids {
		if c := r.claims[id]; c != nil {
			out = append(out, c)
		}
	}
	sortClaims(out)
	return out
}

func sortClaims(cs []*model.Claim) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].ID < cs[j].ID })
}

// Regions

func (r *Registry) Region(id int64) *model.Region { return r.regions[id] }

func (r *Registry) RegionByName(name string) *model.Region {
	id, ok := r.regionByName[nameKey(name)]
	if !ok {
		return nil
	}
	return r.regions[id]
}

func (r *Registry) RegionNameTaken(name string) bool {
	_, ok := r.regionByName[nameKey(name)]
	return ok
}

func (r *Registry) PutRegion(rg model.Region) *model.Region {
	if old := r.regions[rg.ID]; old != nil {
		delete(r.regionByName, nameKey(old.Name))
	}
	cp := rg
	r.regions[cp.ID] = &cp
	r.regionByName[nameKey(cp.Name)] = cp.ID
	return &cp
}

func (r *Registry) RemoveRegion(id int64) {
	rg := r.regions[id]
	if rg == nil {
		return
	}
	delete(r.regionByName, nameKey(rg.Name))
	delete(r.regions, id)
	if aid, ok := r.anchorByRegion[id]; ok {
		r.RemoveAnchor(aid)
	}
}

func (r *Registry) RegionsByOwner(owner uuid.UUID) []*model.Region {
	var out []*model.Region
	for _, rg := range r.regions {
		if rg.Owner == owner {
			out = append(out, rg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) AllRegions() []*model.Region {
	out := make([]*model.Region, 0, len(r.regions))
	for _, rg := range r.regions {
		out = append(out, rg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UnitName is the region name, or the claim display name for a standalone claim.
func (r *Registry) UnitName(u model.UnitRef) string {
	switch u.Kind {
	case model.UnitRegion:
		if rg := r.regions[u.ID]; rg != nil {
			return rg.Name
		}
	case model.UnitClaim:
		if c := r.claims[u.ID]; c != nil {
			return c.DisplayName
		}
	}
	return ""
}

func nameKey(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// Members

func (r *Registry) PutMember(m model.Membership) {
	byPlayer := r.members[m.ClaimID]
	if byPlayer == nil {
		byPlayer = map[uuid.UUID]model.Membership{}
		r.members[m.ClaimID] = byPlayer
	}
	byPlayer[m.PlayerID] = m
	addIdx(r.memberOf, m.PlayerID, m.ClaimID)
}

func (r *Registry) RemoveMember(claimID int64, player uuid.UUID) {
	if byPlayer := r.members[claimID]; byPlayer != nil {
		delete(byPlayer, player)
		if len(byPlayer) == 0 {
			delete(r.members, claimID)
		}
	}
	delIdx(r.memberOf, player, claimID)
}

// Member returns the direct membership row of one claim.
func (r *Registry) Member(claimID int64, player uuid.UUID) (model.Membership, bool) {
	m, ok := r.members[claimID][player]
	return m, ok
}

// MemberRole resolves membership across the claim's whole unit. TRUSTED wins over MEMBER.
func (r *Registry) MemberRole(c *model.Claim, player uuid.UUID) (model.Role, bool) {
	var role model.Role
	found := false
	for _, uc := range r.unitOf(c) {
		m, ok := r.members[uc.ID][player]
		if !ok {
			continue
		}
		if !found || m.Role == model.RoleTrusted {
			role = m.Role
		}
		found = true
	}
	return role, found
}

// MemberRows lists every membership row held across the claim's unit.
func (r *Registry) MemberRows(c *model.Claim, player uuid.UUID) []model.Membership {
	var out []model.Membership
	for _, uc := range r.unitOf(c) {
		if m, ok := r.members[uc.ID][player]; ok {
			out = append(out, m)
		}
	}
	return out
}

// UnitMembers lists distinct members of the claim's unit, sorted by join time.
func (r *Registry) UnitMembers(c *model.Claim) []model.Membership {
	seen := map[uuid.UUID]model.Membership{}
	for _, uc := range r.unitOf(c) {
		for p, m := range r.members[uc.ID] {
			if prev, ok := seen[p]; !ok || m.Role == model.RoleTrusted && prev.Role != model.RoleTrusted {
				seen[p] = m
			}
		}
	}
	out := make([]model.Membership, 0, len(seen))
	for _, m := range seen {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].PlayerID.String() < out[j].PlayerID.String()
	})
	return out
}

// Bans

func (r *Registry) AddBan(b model.Ban) {
	byPlayer := r.bans[b.ClaimID]
	if byPlayer == nil {
		byPlayer = map[uuid.UUID]model.Ban{}
		r.bans[b.ClaimID] = byPlayer
	}
	byPlayer[b.PlayerID] = b
}

func (r *Registry) RemoveBan(claimID int64, player uuid.UUID) {
	if byPlayer := r.bans[claimID]; byPlayer != nil {
		delete(byPlayer, player)
		if len(byPlayer) == 0 {
			delete(r.bans, claimID)
		}
	}
}

// IsBanned checks bans across the claim's whole unit.
func (r *Registry) IsBanned(c *model.Claim, player uuid.UUID) bool {
	return len(r.BanRows(c, player)) > 0
}

func (r *Registry) BanRows(c *model.Claim, player uuid.UUID) []model.Ban {
	var out []model.Ban
	for _, uc := range r.unitOf(c) {
		if b, ok := r.bans[uc.ID][player]; ok {
			out = append(out, b)
		}
	}
	return out
}

func (r *Registry) UnitBans(c *model.Claim) []model.Ban {
	var out []model.Ban
	seen := map[uuid.UUID]bool{}
	for _, uc := range r.unitOf(c) {
		for p, b := range r.bans[uc.ID] {
			if !seen[p] {
				seen[p] = true
				out = append(out, b)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID.String() < out[j].PlayerID.String() })
	return out
}

func (r *Registry) unitOf(c *model.Claim) []*model.Claim {
	if c == nil {
		return nil
	}
	if c.RegionID > 0 {
		return r.ClaimsInRegion(c.RegionID)
	}
	return []*model.Claim{c}
}

// Anchors

func (r *Registry) PutAnchor(a model.Anchor) {
	if old := r.anchors[a.ClaimID]; old != nil {
		r.RemoveAnchor(old.ClaimID)
	}
	cp := a
	r.anchors[cp.ClaimID] = &cp
	if cp.RegionID > 0 {
		r.anchorByRegion[cp.RegionID] = cp.ClaimID
	}
	r.anchorByPos[cp.Pos] = cp.ClaimID
}

func (r *Registry) RemoveAnchor(claimID int64) {
	a := r.anchors[claimID]
	if a == nil {
		return
	}
	delete(r.anchors, claimID)
	if a.RegionID > 0 && r.anchorByRegion[a.RegionID] == claimID {
		delete(r.anchorByRegion, a.RegionID)
	}
	if r.anchorByPos[a.Pos] == claimID {
		delete(r.anchorByPos, a.Pos)
	}
}

// AnchorFor looks up the claim's own anchor and falls back to its region's.
func (r *Registry) AnchorFor(c *model.Claim) *model.Anchor {
	if c == nil {
		return nil
	}
	if a := r.anchors[c.ID]; a != nil {
		return a
	}
	if c.RegionID > 0 {
		if id, ok := r.anchorByRegion[c.RegionID]; ok {
			return r.anchors[id]
		}
	}
	return nil
}

func (r *Registry) AnchorAt(pos model.BlockPos) *model.Anchor {
	id, ok := r.anchorByPos[pos]
	if !ok {
		return nil
	}
	return r.anchors[id]
}

func (r *Registry) AllAnchors() []*model.Anchor {
	out := make([]*model.Anchor, 0, len(r.anchors))
	for _, a := range r.anchors {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClaimID < out[j].ClaimID })
	return out
}

// Stats are gauge values for /metrics.
type Stats struct {
	Claims  int
	Regions int
	Members int
	Bans    int
	Anchors int
}

func (r *Registry) Stats() Stats {
	s := Stats{Claims: len(r.claims), Regions: len(r.regions), Anchors: len(r.anchors)}
	for _, m := range r.members {
		s.Members += len(m)
	}
	for _, b := range r.bans {
		s.Bans += len(b)
	}
	return s
}

func addIdx[K comparable](m map[K]map[int64]struct{}, k K, id int64) {
	set := m[k]
	if set == nil {
		set = map[int64]struct{}{}
		m[k] = set
	}
	set[id] = struct{}{}
}

func delIdx[K comparable](m map[K]map[int64]struct{}, k K, id int64) {
	set := m[k]
	if set == nil {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(m, k)
	}
}
