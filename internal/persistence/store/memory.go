package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"voxelclaims.ai/internal/sim/energy"
	"voxelclaims.ai/internal/sim/model"
)

type memberKey struct {
	claimID int64
	player  uuid.UUID
}

// Memory is a Store kept entirely in process. It backs tests and the
// "memory" store backend.
type Memory struct {
	mu sync.RWMutex

	nextClaim  int64
	nextRegion int64

	claims  map[int64]model.Claim
	regions map[int64]model.Region
	members map[memberKey]model.Membership
	bans    map[memberKey]model.Ban
	anchors map[int64]model.Anchor

	// failNext, when set, is returned by the next mutating call.
	failNext error
}

func NewMemory() *Memory {
	return &Memory{
		claims:  map[int64]model.Claim{},
		regions: map[int64]model.Region{},
		members: map[memberKey]model.Membership{},
		bans:    map[memberKey]model.Ban{},
		anchors: map[int64]model.Anchor{},
	}
}

// FailNext makes the next mutating call return err.
func (m *Memory) FailNext(err error) {
	m.mu.Lock()
	m.failNext = err
	m.mu.Unlock()
}

func (m *Memory) fail() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *Memory) Close() error { return nil }

// Claims

func (m *Memory) CreateClaim(_ context.Context, c model.Claim) (model.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return model.Claim{}, err
	}
	for _, o := range m.claims {
		if o.Cell == c.Cell {
			return model.Claim{}, fmt.Errorf("%w: %s", model.ErrAlreadyClaimed, c.Cell)
		}
	}
	if c.RegionID > 0 {
		if _, ok := m.regions[c.RegionID]; !ok {
			return model.Claim{}, fmt.Errorf("%w: region %d", model.ErrNotFound, c.RegionID)
		}
	}
	m.nextClaim++
	c.ID = m.nextClaim
	m.claims[c.ID] = cloneClaim(c)
	return cloneClaim(c), nil
}

func (m *Memory) ClaimAt(_ context.Context, k model.CellKey) (model.Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.claims {
		if c.Cell == k {
			return cloneClaim(c), nil
		}
	}
	return model.Claim{}, fmt.Errorf("%w: claim at %s", model.ErrNotFound, k)
}

func (m *Memory) ClaimByID(_ context.Context, id int64) (model.Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.claims[id]
	if !ok {
		return model.Claim{}, fmt.Errorf("%w: claim %d", model.ErrNotFound, id)
	}
	return cloneClaim(c), nil
}

func (m *Memory) ClaimsByOwner(_ context.Context, owner uuid.UUID) ([]model.Claim, error) {
	return m.filterClaims(func(c model.Claim) bool { return c.Owner == owner }), nil
}

func (m *Memory) ClaimsByMember(_ context.Context, player uuid.UUID) ([]model.Claim, error) {
	m.mu.RLock()
	ids := map[int64]bool{}
	for k := range m.members {
		if k.player == player {
			ids[k.claimID] = true
		}
	}
	m.mu.RUnlock()
	return m.filterClaims(func(c model.Claim) bool { return ids[c.ID] }), nil
}

func (m *Memory) AllClaims(_ context.Context) ([]model.Claim, error) {
	return m.filterClaims(func(model.Claim) bool { return true }), nil
}

func (m *Memory) filterClaims(keep func(model.Claim) bool) []model.Claim {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Claim
	for _, c := range m.claims {
		if keep(c) {
			out = append(out, cloneClaim(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) UpdateClaim(_ context.Context, c model.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	old, ok := m.claims[c.ID]
	if !ok {
		return fmt.Errorf("%w: claim %d", model.ErrNotFound, c.ID)
	}
	if old.Cell != c.Cell {
		return fmt.Errorf("%w: claim %d cell is immutable", model.ErrInvalid, c.ID)
	}
	if c.RegionID > 0 {
		if _, ok := m.regions[c.RegionID]; !ok {
			return fmt.Errorf("%w: region %d", model.ErrNotFound, c.RegionID)
		}
	}
	m.claims[c.ID] = cloneClaim(c)
	return nil
}

func (m *Memory) DeleteClaim(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	if _, ok := m.claims[id]; !ok {
		return fmt.Errorf("%w: claim %d", model.ErrNotFound, id)
	}
	delete(m.claims, id)
	delete(m.anchors, id)
	for k := range m.members {
		if k.claimID == id {
			delete(m.members, k)
		}
	}
	for k := range m.bans {
		if k.claimID == id {
			delete(m.bans, k)
		}
	}
	return nil
}

// Regions

func (m *Memory) CreateRegion(_ context.Context, owner uuid.UUID, world, suggested string) (model.Region, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return model.Region{}, err
	}
	name := model.UniqueRegionName(suggested, m.nameTaken)
	m.nextRegion++
	r := model.Region{ID: m.nextRegion, Owner: owner, World: world, Name: name, CreatedAt: time.Now().UTC()}
	m.regions[r.ID] = r
	return r, nil
}

func (m *Memory) nameTaken(name string) bool {
	for _, r := range m.regions {
		if strings.EqualFold(r.Name, name) {
			return true
		}
	}
	return false
}

func (m *Memory) RegionByID(_ context.Context, id int64) (model.Region, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.regions[id]
	if !ok {
		return model.Region{}, fmt.Errorf("%w: region %d", model.ErrNotFound, id)
	}
	return r, nil
}

func (m *Memory) RegionByName(_ context.Context, name string) (model.Region, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.regions {
		if strings.EqualFold(r.Name, name) {
			return r, nil
		}
	}
	return model.Region{}, fmt.Errorf("%w: region %q", model.ErrNotFound, name)
}

func (m *Memory) RegionsByOwner(_ context.Context, owner uuid.UUID) ([]model.Region, error) {
	return m.filterRegions(func(r model.Region) bool { return r.Owner == owner }), nil
}

func (m *Memory) AllRegions(_ context.Context) ([]model.Region, error) {
	return m.filterRegions(func(model.Region) bool { return true }), nil
}

func (m *Memory) filterRegions(keep func(model.Region) bool) []model.Region {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Region
	for _, r := range m.regions {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) RenameRegion(_ context.Context, id int64, name string) error {
	return m.updateRegion(id, func(r *model.Region) error {
		for _, o := range m.regions {
			if o.ID != id && strings.EqualFold(o.Name, name) {
				return fmt.Errorf("%w: %q", model.ErrNameTaken, name)
			}
		}
		r.Name = name
		return nil
	})
}

func (m *Memory) SetRegionLocked(_ context.Context, id int64, locked bool) error {
	return m.updateRegion(id, func(r *model.Region) error { r.Locked = locked; return nil })
}

func (m *Memory) SetRegionOwner(_ context.Context, id int64, owner uuid.UUID) error {
	return m.updateRegion(id, func(r *model.Region) error { r.Owner = owner; return nil })
}

func (m *Memory) updateRegion(id int64, fn func(*model.Region) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	r, ok := m.regions[id]
	if !ok {
		return fmt.Errorf("%w: region %d", model.ErrNotFound, id)
	}
	if err := fn(&r); err != nil {
		return err
	}
	m.regions[id] = r
	return nil
}

func (m *Memory) DeleteRegion(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	if _, ok := m.regions[id]; !ok {
		return fmt.Errorf("%w: region %d", model.ErrNotFound, id)
	}
	delete(m.regions, id)
	for k, a := range m.anchors {
		if a.RegionID == id {
			delete(m.anchors, k)
		}
	}
	return nil
}

// Members

func (m *Memory) PutMember(_ context.Context, mem model.Membership) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	if _, ok := m.claims[mem.ClaimID]; !ok {
		return fmt.Errorf("%w: claim %d", model.ErrNotFound, mem.ClaimID)
	}
	m.members[memberKey{mem.ClaimID, mem.PlayerID}] = mem
	return nil
}

func (m *Memory) RemoveMember(_ context.Context, claimID int64, player uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	delete(m.members, memberKey{claimID, player})
	return nil
}

func (m *Memory) MembersOf(_ context.Context, claimID int64) ([]model.Membership, error) {
	return m.filterMembers(func(k memberKey) bool { return k.claimID == claimID }), nil
}

func (m *Memory) Member(_ context.Context, claimID int64, player uuid.UUID) (model.Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mem, ok := m.members[memberKey{claimID, player}]
	if !ok {
		return model.Membership{}, fmt.Errorf("%w: member %s of claim %d", model.ErrNotFound, player, claimID)
	}
	return mem, nil
}

func (m *Memory) MembershipsOf(_ context.Context, player uuid.UUID) ([]model.Membership, error) {
	return m.filterMembers(func(k memberKey) bool { return k.player == player }), nil
}

func (m *Memory) AllMembers(_ context.Context) ([]model.Membership, error) {
	return m.filterMembers(func(memberKey) bool { return true }), nil
}

func (m *Memory) filterMembers(keep func(memberKey) bool) []model.Membership {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Membership
	for k, mem := range m.members {
		if keep(k) {
			out = append(out, mem)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ClaimID != out[j].ClaimID {
			return out[i].ClaimID < out[j].ClaimID
		}
		return out[i].PlayerID.String() < out[j].PlayerID.String()
	})
	return out
}

// Bans

func (m *Memory) AddBan(_ context.Context, b model.Ban) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	if _, ok := m.claims[b.ClaimID]; !ok {
		return fmt.Errorf("%w: claim %d", model.ErrNotFound, b.ClaimID)
	}
	m.bans[memberKey{b.ClaimID, b.PlayerID}] = b
	return nil
}

func (m *Memory) RemoveBan(_ context.Context, claimID int64, player uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	delete(m.bans, memberKey{claimID, player})
	return nil
}

func (m *Memory) IsBanned(_ context.Context, claimID int64, player uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.bans[memberKey{claimID, player}]
	return ok, nil
}

func (m *Memory) BansOf(_ context.Context, claimID int64) ([]model.Ban, error) {
	return m.filterBans(func(k memberKey) bool { return k.claimID == claimID }), nil
}

func (m *Memory) AllBans(_ context.Context) ([]model.Ban, error) {
	return m.filterBans(func(memberKey) bool { return true }), nil
}

func (m *Memory) filterBans(keep func(memberKey) bool) []model.Ban {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Ban
	for k, b := range m.bans {
		if keep(k) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ClaimID != out[j].ClaimID {
			return out[i].ClaimID < out[j].ClaimID
		}
		return out[i].PlayerID.String() < out[j].PlayerID.String()
	})
	return out
}

// Anchors

func (m *Memory) UpsertAnchor(_ context.Context, a model.Anchor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	if _, ok := m.claims[a.ClaimID]; !ok {
		return fmt.Errorf("%w: claim %d", model.ErrNotFound, a.ClaimID)
	}
	if a.EnergyTime < 0 || a.EconomyBalance < 0 {
		return fmt.Errorf("%w: negative anchor balance", model.ErrInvalid)
	}
	m.anchors[a.ClaimID] = a
	return nil
}

func (m *Memory) AnchorFor(_ context.Context, claimID, regionID int64) (model.Anchor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k, ok := m.anchorKey(claimID, regionID); ok {
		return m.anchors[k], nil
	}
	return model.Anchor{}, fmt.Errorf("%w: anchor for claim %d", model.ErrNotFound, claimID)
}

func (m *Memory) anchorKey(claimID, regionID int64) (int64, bool) {
	if _, ok := m.anchors[claimID]; ok {
		return claimID, true
	}
	if regionID <= 0 {
		return 0, false
	}
	for k, a := range m.anchors {
		if a.RegionID == regionID {
			return k, true
		}
	}
	return 0, false
}

func (m *Memory) AllAnchors(_ context.Context) ([]model.Anchor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Anchor, 0, len(m.anchors))
	for _, a := range m.anchors {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClaimID < out[j].ClaimID })
	return out, nil
}

func (m *Memory) DeleteAnchor(_ context.Context, claimID, regionID int64) (model.Anchor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return model.Anchor{}, err
	}
	k, ok := m.anchorKey(claimID, regionID)
	if !ok {
		return model.Anchor{}, fmt.Errorf("%w: anchor for claim %d", model.ErrNotFound, claimID)
	}
	a := m.anchors[k]
	delete(m.anchors, k)
	return a, nil
}

// Economy

func (m *Memory) Drain(_ context.Context, seconds int64, pricePerSecond float64, scope DrainScope) (int64, error) {
	if pricePerSecond <= 0 {
		return 0, fmt.Errorf("%w: price per second must be > 0", model.ErrInvalid)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return 0, err
	}
	var n int64
	for id, c := range m.claims {
		if !c.Funded() {
			continue
		}
		if scope == DrainUnanchored && m.anchored(c) {
			continue
		}
		b := energy.Drain(energy.Balance{
			EnergyTime:     c.EnergyTime,
			EconomyBalance: c.EconomyBalance,
			InitialGrace:   c.InitialGrace,
		}, seconds, pricePerSecond)
		c.EnergyTime, c.EconomyBalance, c.InitialGrace = b.EnergyTime, b.EconomyBalance, b.InitialGrace
		m.claims[id] = c
		n++
	}
	return n, nil
}

func (m *Memory) anchored(c model.Claim) bool {
	_, ok := m.anchorKey(c.ID, c.RegionID)
	return ok
}

func (m *Memory) ClaimsWithoutAnchor(_ context.Context) ([]model.Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Claim
	for _, c := range m.claims {
		if !m.anchored(c) {
			out = append(out, cloneClaim(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func cloneClaim(c model.Claim) model.Claim {
	if c.Home != nil {
		h := *c.Home
		c.Home = &h
	}
	return c
}
