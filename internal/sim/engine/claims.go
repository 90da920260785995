package engine

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"voxelclaims.ai/internal/persistence/store"
	"voxelclaims.ai/internal/protocol"
	"voxelclaims.ai/internal/sim/merge"
	"voxelclaims.ai/internal/sim/model"
)

const maxNameLen = 32

// Claim claims cell for the actor. A cell touching exactly one of the actor's
// units joins it; touching a standalone claim promotes both into a new region;
// touching several fails with *model.ConflictError.
func (e *Engine) Claim(ctx context.Context, actor Actor, cell model.CellKey) (model.Claim, error) {
	return call(ctx, e, func(reply func(model.Claim, error)) {
		e.serialize(actor.ID, func(release func()) {
			done := func(c model.Claim, err error) { release(); reply(c, err) }
			if err := e.checkFree(cell); err != nil {
				done(model.Claim{}, err)
				return
			}
			d, err := merge.Resolve(e.reg, actor.ID, cell)
			if err != nil {
				done(model.Claim{}, err)
				return
			}
			e.claimWith(actor, cell, d, done)
		})
	})
}

// ClaimIntoRegion claims cell into an explicitly named unit of the actor,
// skipping ambiguity detection.
func (e *Engine) ClaimIntoRegion(ctx context.Context, actor Actor, cell model.CellKey, target model.UnitRef) (model.Claim, error) {
	return call(ctx, e, func(reply func(model.Claim, error)) {
		e.serialize(actor.ID, func(release func()) {
			done := func(c model.Claim, err error) { release(); reply(c, err) }
			if err := e.checkFree(cell); err != nil {
				done(model.Claim{}, err)
				return
			}
			d, err := merge.ResolveInto(e.reg, actor.ID, cell, target)
			if err != nil {
				done(model.Claim{}, err)
				return
			}
			e.claimWith(actor, cell, d, done)
		})
	})
}

func (e *Engine) checkFree(cell model.CellKey) error {
	if cell.World == "" {
		return invalid("world is required")
	}
	if c := e.reg.ClaimAt(cell); c != nil {
		return fmt.Errorf("%w: %s belongs to claim %d", model.ErrAlreadyClaimed, cell, c.ID)
	}
	if _, ok := e.pendingCells[cell]; ok {
		return fmt.Errorf("%w: %s is being claimed", model.ErrAlreadyClaimed, cell)
	}
	return nil
}

func (e *Engine) newClaim(owner uuid.UUID, cell model.CellKey) model.Claim {
	return model.Claim{
		Owner:        owner,
		Cell:         cell,
		DisplayName:  model.DefaultClaimName(cell),
		InitialGrace: e.cfg.InitialGraceSeconds,
		VisitorPerms: e.cfg.VisitorPerms(),
		MemberPerms:  e.cfg.MemberPerms(),
		Rules:        e.cfg.Rules(),
		ClaimedAt:    e.now().UTC(),
	}
}

type promoted struct {
	region   model.Region
	existing model.Claim
	created  model.Claim
	anchor   *model.Anchor
}

func (e *Engine) claimWith(actor Actor, cell model.CellKey, d merge.Decision, reply func(model.Claim, error)) {
	c := e.newClaim(actor.ID, cell)
	e.pendingCells[cell] = struct{}{}
	finish := func() { delete(e.pendingCells, cell) }

	switch d.Outcome {
	case merge.Standalone, merge.JoinRegion:
		if d.Outcome == merge.JoinRegion {
			claims := e.reg.ClaimsInRegion(d.Target.ID)
			if len(claims) == 0 {
				finish()
				reply(model.Claim{}, notFound("region %d has no claims", d.Target.ID))
				return
			}
			c.RegionID = d.Target.ID
			c.CopySettingsFrom(claims[0])
		}
		submit(e, "create claim", func(ctx context.Context, s store.Store) (model.Claim, error) {
			return s.CreateClaim(ctx, c)
		}, func(created model.Claim, err error) {
			finish()
			if err != nil {
				reply(model.Claim{}, e.fail("create claim", err, false))
				return
			}
			cp := e.reg.PutClaim(created)
			e.emit(e.claimEvent(protocol.EventClaimed, actor.ID, cp))
			if cp.RegionID > 0 {
				ev := e.claimEvent(protocol.EventMerged, actor.ID, cp)
				ev.Name = e.reg.UnitName(cp.Unit())
				e.emit(ev)
			}
			e.log.Info("claimed", "claim", cp.ID, "cell", cell.String(), "owner", actor.ID, "region", cp.RegionID)
			reply(*cp, nil)
		})

	case merge.Promote:
		src := e.reg.Claim(d.Target.ID)
		if src == nil {
			finish()
			reply(model.Claim{}, notFound("claim %d", d.Target.ID))
			return
		}
		existing := *src
		var bound *model.Anchor
		if a := e.reg.AnchorFor(src); a != nil {
			cp := *a
			bound = &cp
		}
		base := model.RegionBaseName(actor.Name)
		submit(e, "promote claim", func(ctx context.Context, s store.Store) (promoted, error) {
			var p promoted
			rg, err := s.CreateRegion(ctx, actor.ID, cell.World, base)
			if err != nil {
				return p, err
			}
			p.region = rg
			fresh, err := s.ClaimByID(ctx, existing.ID)
			if err != nil {
				return p, err
			}
			fresh.RegionID = rg.ID
			if err := s.UpdateClaim(ctx, fresh); err != nil {
				return p, err
			}
			p.existing = fresh
			nc := c
			nc.RegionID = rg.ID
			nc.CopySettingsFrom(&fresh)
			created, err := s.CreateClaim(ctx, nc)
			if err != nil {
				return p, err
			}
			p.created = created
			if bound != nil {
				a := *bound
				a.RegionID = rg.ID
				if err := s.UpsertAnchor(ctx, a); err != nil {
					return p, err
				}
				p.anchor = &a
			}
			return p, nil
		}, func(p promoted, err error) {
			finish()
			if err != nil {
				reply(model.Claim{}, e.fail("promote claim", err, p.region.ID != 0))
				return
			}
			e.reg.PutRegion(p.region)
			ex := e.reg.PutClaim(p.existing)
			cp := e.reg.PutClaim(p.created)
			if p.anchor != nil {
				e.reg.PutAnchor(*p.anchor)
			}
			e.emit(protocol.Event{Kind: protocol.EventRegionCreated, Actor: actor.ID.String(), World: cell.World, RegionID: p.region.ID, Name: p.region.Name})
			merged := e.claimEvent(protocol.EventMerged, actor.ID, ex)
			merged.Name = p.region.Name
			e.emit(merged)
			e.emit(e.claimEvent(protocol.EventClaimed, actor.ID, cp))
			e.log.Info("region created", "region", p.region.ID, "name", p.region.Name, "claims", []int64{ex.ID, cp.ID})
			reply(*cp, nil)
		})

	default:
		finish()
		reply(model.Claim{}, &model.ConflictError{Cell: cell, Candidates: d.Candidates})
	}
}

// ownedAt resolves the claim at cell and checks the actor owns it.
func (e *Engine) ownedAt(actor Actor, cell model.CellKey) (*model.Claim, error) {
	c := e.reg.ClaimAt(cell)
	if c == nil {
		return nil, notFound("no claim at %s", cell)
	}
	if !actor.Admin && c.Owner != actor.ID {
		return nil, denied("you do not own this claim")
	}
	return c, nil
}

// unitCopies returns value copies of every claim in c's unit.
func (e *Engine) unitCopies(c *model.Claim) []model.Claim {
	claims := e.reg.UnitClaims(c.Unit())
	out := make([]model.Claim, 0, len(claims))
	for _, uc := range claims {
		out = append(out, *uc)
	}
	return out
}

func claimIDs(cs []model.Claim) []int64 {
	out := make([]int64, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

// updateUnit re-reads every listed claim, applies mutate and writes it back.
// The cache takes the written records only after the whole job succeeded.
func (e *Engine) updateUnit(op string, ids []int64, mutate func(*model.Claim), extra func(ctx context.Context, s store.Store) error, done func([]model.Claim, error)) {
	submit(e, op, func(ctx context.Context, s store.Store) ([]model.Claim, error) {
		out := make([]model.Claim, 0, len(ids))
		for _, id := range ids {
			c, err := s.ClaimByID(ctx, id)
			if err != nil {
				return out, err
			}
			mutate(&c)
			if err := s.UpdateClaim(ctx, c); err != nil {
				return out, err
			}
			out = append(out, c)
		}
		if extra != nil {
			if err := extra(ctx, s); err != nil {
				return out, err
			}
		}
		return out, nil
	}, func(out []model.Claim, err error) {
		if err != nil {
			done(nil, e.fail(op, err, len(out) > 0))
			return
		}
		for _, c := range out {
			e.reg.PutClaim(c)
		}
		done(out, nil)
	})
}

// Unclaim releases the claim at cell. The region goes with its last claim.
func (e *Engine) Unclaim(ctx context.Context, actor Actor, cell model.CellKey) error {
	return do(ctx, e, func(reply func(error)) {
		c, err := e.ownedAt(actor, cell)
		if err != nil {
			reply(err)
			return
		}
		e.serialize(c.Owner, func(release func()) {
			c := e.reg.ClaimAt(cell)
			if c == nil {
				release()
				reply(notFound("no claim at %s", cell))
				return
			}
			if a := e.reg.AnchorFor(c); a != nil && a.Pos.Cell(e.cfg.CellSize) == cell {
				release()
				reply(fmt.Errorf("%w (power cell at %d,%d,%d)", model.ErrAnchorInCell, a.Pos.X, a.Pos.Y, a.Pos.Z))
				return
			}
			e.teardown(actor.ID, []model.Claim{*c}, protocol.EventUnclaimed, "", func(_ int, err error) {
				release()
				reply(err)
			})
		})
	})
}

// AdminRemove deletes one claim regardless of owner.
func (e *Engine) AdminRemove(ctx context.Context, actor Actor, claimID int64) error {
	return do(ctx, e, func(reply func(error)) {
		if !actor.Admin {
			reply(denied("admin only"))
			return
		}
		c := e.reg.Claim(claimID)
		if c == nil {
			reply(notFound("claim %d", claimID))
			return
		}
		e.serialize(c.Owner, func(release func()) {
			c := e.reg.Claim(claimID)
			if c == nil {
				release()
				reply(notFound("claim %d", claimID))
				return
			}
			e.teardown(actor.ID, []model.Claim{*c}, protocol.EventUnclaimed, "admin", func(_ int, err error) {
				release()
				reply(err)
			})
		})
	})
}

type teardownResult struct {
	anchors []model.Anchor
	claims  []int64
	regions []int64
	refunds map[uuid.UUID]float64
}

// teardown deletes claims and every region they empty. Anchors whose unit loses
// its last claim, or whose cell is removed, are deleted too: their container
// spills into the world and the unit's economy balance is refunded.
func (e *Engine) teardown(actor uuid.UUID, claims []model.Claim, kind, reason string, done func(int, error)) {
	removing := map[int64]bool{}
	cells := map[model.CellKey]bool{}
	for _, c := range claims {
		removing[c.ID] = true
		cells[c.Cell] = true
		e.dissolving[c.ID] = struct{}{}
	}

	var regions []int64
	seenRegion := map[int64]bool{}
	for _, c := range claims {
		if c.RegionID == 0 || seenRegion[c.RegionID] {
			continue
		}
		seenRegion[c.RegionID] = true
		left := 0
		for _, rc := range e.reg.ClaimsInRegion(c.RegionID) {
			if !removing[rc.ID] {
				left++
			}
		}
		if left == 0 {
			regions = append(regions, c.RegionID)
		}
	}
	emptied := map[int64]bool{}
	for _, id := range regions {
		emptied[id] = true
	}

	var anchors []model.Anchor
	refunds := map[uuid.UUID]float64{}
	seenAnchor := map[int64]bool{}
	refunded := map[model.UnitRef]bool{}
	for _, c := range claims {
		unitGone := c.RegionID == 0 || emptied[c.RegionID]
		// Unit balances are synchronized, so one claim pays for the whole unit.
		if unitGone && !refunded[c.Unit()] {
			refunded[c.Unit()] = true
			if c.EconomyBalance > 0 && e.refundsEnabled() {
				refunds[c.Owner] += c.EconomyBalance
			}
		}
		a := e.reg.AnchorFor(e.reg.Claim(c.ID))
		if a == nil || seenAnchor[a.ClaimID] {
			continue
		}
		if !unitGone && !cells[a.Pos.Cell(e.cfg.CellSize)] && !removing[a.ClaimID] {
			continue
		}
		seenAnchor[a.ClaimID] = true
		anchors = append(anchors, *a)
	}

	ids := claimIDs(claims)
	submit(e, "teardown", func(ctx context.Context, s store.Store) (teardownResult, error) {
		var r teardownResult
		for _, a := range anchors {
			if _, err := s.DeleteAnchor(ctx, a.ClaimID, 0); err != nil && !isNotFound(err) {
				return r, err
			}
			r.anchors = append(r.anchors, a)
		}
		for owner, amount := range refunds {
			if err := e.accounts.Credit(ctx, owner, amount); err != nil {
				return r, err
			}
		}
		r.refunds = refunds
		for _, id := range ids {
			if err := s.DeleteClaim(ctx, id); err != nil && !isNotFound(err) {
				return r, err
			}
			r.claims = append(r.claims, id)
		}
		for _, id := range regions {
			if err := s.DeleteRegion(ctx, id); err != nil && !isNotFound(err) {
				return r, err
			}
			r.regions = append(r.regions, id)
		}
		return r, nil
	}, func(r teardownResult, err error) {
		for _, id := range ids {
			delete(e.dissolving, id)
		}
		if err != nil {
			done(0, e.fail("teardown", err, len(r.anchors)+len(r.claims) > 0))
			return
		}
		for _, a := range r.anchors {
			e.dropAnchorContainer(a.Pos)
			e.reg.RemoveAnchor(a.ClaimID)
		}
		for owner, amount := range r.refunds {
			e.metrics.Refunded += amount
			e.log.Info("refunded economy balance", "owner", owner, "amount", amount)
		}
		for _, c := range claims {
			cached := e.reg.Claim(c.ID)
			if cached == nil {
				continue
			}
			ev := e.claimEvent(kind, actor, cached)
			ev.Reason = reason
			e.reg.RemoveClaim(c.ID)
			e.book.Forget(c.ID)
			e.emit(ev)
		}
		for _, id := range r.regions {
			name := e.reg.UnitName(model.UnitRef{Kind: model.UnitRegion, ID: id})
			e.reg.RemoveRegion(id)
			e.emit(protocol.Event{Kind: protocol.EventRegionDeleted, RegionID: id, Name: name, Reason: reason})
		}
		if kind == protocol.EventDissolved {
			e.metrics.Dissolved += uint64(len(r.claims))
		}
		e.log.Info("claims removed", "kind", kind, "claims", r.claims, "regions", r.regions, "reason", reason)
		done(len(r.claims), nil)
	})
}

func (e *Engine) refundsEnabled() bool { return e.cfg.EconomyEnabled && e.accounts != nil }

// dropAnchorContainer destroys the container at pos, spilling it, and ends any
// session bound to it.
func (e *Engine) dropAnchorContainer(pos model.BlockPos) []model.ItemStack {
	for p, s := range e.sessions {
		if s.Pos == pos {
			delete(e.sessions, p)
		}
	}
	return e.world.RemoveContainer(pos)
}

// Transfer hands the actor's unit at cell to newOwner. Grace time is untouched.
func (e *Engine) Transfer(ctx context.Context, actor Actor, cell model.CellKey, newOwner uuid.UUID) error {
	return do(ctx, e, func(reply func(error)) {
		c, err := e.ownedAt(actor, cell)
		if err != nil {
			reply(err)
			return
		}
		if newOwner == uuid.Nil || newOwner == c.Owner {
			reply(invalid("new owner must be another player"))
			return
		}
		prevOwner := c.Owner
		e.serialize(prevOwner, func(release func()) {
			c := e.reg.ClaimAt(cell)
			if c == nil || c.Owner != prevOwner {
				release()
				reply(notFound("claim at %s changed, try again", cell))
				return
			}
			unit := e.unitCopies(c)
			members := e.reg.MemberRows(c, newOwner)
			bans := e.reg.BanRows(c, newOwner)
			regionID := c.RegionID
			e.updateUnit("transfer", claimIDs(unit), func(uc *model.Claim) { uc.Owner = newOwner },
				func(ctx context.Context, s store.Store) error {
					if regionID > 0 {
						if err := s.SetRegionOwner(ctx, regionID, newOwner); err != nil {
							return err
						}
					}
					for _, m := range members {
						if err := s.RemoveMember(ctx, m.ClaimID, m.PlayerID); err != nil && !isNotFound(err) {
							return err
						}
					}
					for _, b := range bans {
						if err := s.RemoveBan(ctx, b.ClaimID, b.PlayerID); err != nil && !isNotFound(err) {
							return err
						}
					}
					return nil
				},
				func(out []model.Claim, err error) {
					release()
					if err != nil {
						reply(err)
						return
					}
					if rg := e.reg.Region(regionID); rg != nil {
						cp := *rg
						cp.Owner = newOwner
						e.reg.PutRegion(cp)
					}
					for _, m := range members {
						e.reg.RemoveMember(m.ClaimID, m.PlayerID)
					}
					for _, b := range bans {
						e.reg.RemoveBan(b.ClaimID, b.PlayerID)
					}
					ev := e.claimEvent(protocol.EventTransferred, actor.ID, &out[0])
					ev.Target = newOwner.String()
					ev.Count = int64(len(out))
					e.emit(ev)
					reply(nil)
				})
		})
	})
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", invalid("name is empty")
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return "", invalid("name is longer than %d characters", maxNameLen)
	}
	return name, nil
}

// Rename renames the region holding cell, or the standalone claim itself.
func (e *Engine) Rename(ctx context.Context, actor Actor, cell model.CellKey, name string) error {
	return do(ctx, e, func(reply func(error)) {
		c, err := e.ownedAt(actor, cell)
		if err != nil {
			reply(err)
			return
		}
		name, err := cleanName(name)
		if err != nil {
			reply(err)
			return
		}
		if c.RegionID == 0 {
			e.updateUnit("rename claim", []int64{c.ID}, func(uc *model.Claim) { uc.DisplayName = name }, nil,
				func(out []model.Claim, err error) {
					if err == nil {
						ev := e.claimEvent(protocol.EventRenamed, actor.ID, &out[0])
						ev.Name = name
						e.emit(ev)
					}
					reply(err)
				})
			return
		}
		rg := e.reg.Region(c.RegionID)
		if rg == nil {
			reply(notFound("region %d", c.RegionID))
			return
		}
		if other := e.reg.RegionByName(name); other != nil && other.ID != rg.ID {
			reply(fmt.Errorf("%w: %q", model.ErrNameTaken, name))
			return
		}
		regionID := rg.ID
		submit(e, "rename region", func(ctx context.Context, s store.Store) (struct{}, error) {
			return struct{}{}, s.RenameRegion(ctx, regionID, name)
		}, func(_ struct{}, err error) {
			if err != nil {
				reply(e.fail("rename region", err, false))
				return
			}
			if cur := e.reg.Region(regionID); cur != nil {
				cp := *cur
				cp.Name = name
				e.reg.PutRegion(cp)
			}
			e.emit(protocol.Event{Kind: protocol.EventRenamed, Actor: actor.ID.String(), World: cell.World, RegionID: regionID, Name: name})
			reply(nil)
		})
	})
}

// ToggleLock flips the lock of the whole unit and returns the new state.
func (e *Engine) ToggleLock(ctx context.Context, actor Actor, cell model.CellKey) (bool, error) {
	return call(ctx, e, func(reply func(bool, error)) {
		c, err := e.ownedAt(actor, cell)
		if err != nil {
			reply(false, err)
			return
		}
		locked := !c.Locked
		regionID := c.RegionID
		var extra func(ctx context.Context, s store.Store) error
		if regionID > 0 {
			extra = func(ctx context.Context, s store.Store) error { return s.SetRegionLocked(ctx, regionID, locked) }
		}
		e.updateUnit("lock", claimIDs(e.unitCopies(c)), func(uc *model.Claim) { uc.Locked = locked }, extra,
			func(out []model.Claim, err error) {
				if err != nil {
					reply(false, err)
					return
				}
				if rg := e.reg.Region(regionID); rg != nil {
					cp := *rg
					cp.Locked = locked
					e.reg.PutRegion(cp)
				}
				e.settingsEvent(actor.ID, &out[0], fmt.Sprintf("locked=%t", locked))
				reply(locked, nil)
			})
	})
}

// ToggleRule flips one rule across the unit and returns the new value.
func (e *Engine) ToggleRule(ctx context.Context, actor Actor, cell model.CellKey, rule model.Rule) (bool, error) {
	return call(ctx, e, func(reply func(bool, error)) {
		if !rule.Valid() {
			reply(false, invalid("unknown rule"))
			return
		}
		c, err := e.ownedAt(actor, cell)
		if err != nil {
			reply(false, err)
			return
		}
		on := !c.Rules.Get(rule)
		e.updateUnit("toggle rule", claimIDs(e.unitCopies(c)), func(uc *model.Claim) { uc.Rules = uc.Rules.Set(rule, on) }, nil,
			func(out []model.Claim, err error) {
				if err != nil {
					reply(false, err)
					return
				}
				e.settingsEvent(actor.ID, &out[0], fmt.Sprintf("%s=%t", rule.Key(), on))
				reply(on, nil)
			})
	})
}

// SetPermission sets one permission bit for members or visitors across the unit.
func (e *Engine) SetPermission(ctx context.Context, actor Actor, cell model.CellKey, scope model.PermScope, action model.Action, value bool) error {
	return do(ctx, e, func(reply func(error)) {
		bit, ok := action.Bit()
		if !ok {
			reply(invalid("action %q has no permission bit", action))
			return
		}
		if scope != model.ScopeMember && scope != model.ScopeVisitor {
			reply(invalid("unknown scope %q", scope))
			return
		}
		c, err := e.ownedAt(actor, cell)
		if err != nil {
			reply(err)
			return
		}
		e.updateUnit("set permission", claimIDs(e.unitCopies(c)), func(uc *model.Claim) {
			if scope == model.ScopeMember {
				uc.MemberPerms = uc.MemberPerms.With(bit, value)
			} else {
				uc.VisitorPerms = uc.VisitorPerms.With(bit, value)
			}
		}, nil, func(out []model.Claim, err error) {
			if err == nil {
				e.settingsEvent(actor.ID, &out[0], fmt.Sprintf("%s.%s=%t", scope, action, value))
			}
			reply(err)
		})
	})
}

func (e *Engine) settingsEvent(actor uuid.UUID, c *model.Claim, what string) {
	ev := e.claimEvent(protocol.EventSettings, actor, c)
	ev.Reason = what
	e.emit(ev)
}

// SetHome stores pos as the home of the claim that contains it.
func (e *Engine) SetHome(ctx context.Context, actor Actor, pos model.BlockPos, public bool) error {
	return do(ctx, e, func(reply func(error)) {
		c, err := e.ownedAt(actor, pos.Cell(e.cfg.CellSize))
		if err != nil {
			reply(err)
			return
		}
		home := pos
		e.updateUnit("set home", []int64{c.ID}, func(uc *model.Claim) {
			uc.Home = &home
			uc.HomePublic = public
		}, nil, func(out []model.Claim, err error) {
			if err == nil {
				ev := e.claimEvent(protocol.EventHomeSet, actor.ID, &out[0])
				ev.Reason = fmt.Sprintf("public=%t", public)
				e.emit(ev)
			}
			reply(err)
		})
	})
}

// HomeTarget resolves where teleport-home sends the actor. An empty name picks
// the actor's first claim with a home; otherwise name matches a region name or a
// claim display name. Non-owners may use public homes and homes of units they
// belong to.
func (e *Engine) HomeTarget(ctx context.Context, actor Actor, name string) (model.BlockPos, error) {
	return call(ctx, e, func(reply func(model.BlockPos, error)) {
		reply(e.homeTarget(actor, strings.TrimSpace(name)))
	})
}

func (e *Engine) homeTarget(actor Actor, name string) (model.BlockPos, error) {
	var candidates []*model.Claim
	if name == "" {
		candidates = e.reg.ClaimsByOwner(actor.ID)
	} else if rg := e.reg.RegionByName(name); rg != nil {
		candidates = e.reg.ClaimsInRegion(rg.ID)
	} else {
		for _, c := range e.reg.AllClaims() {
			if strings.EqualFold(c.DisplayName, name) {
				candidates = append(candidates, c)
			}
		}
	}
	found := false
	for _, c := range candidates {
		if c.Home == nil {
			continue
		}
		found = true
		if e.homeAllowed(actor, c) {
			return *c.Home, nil
		}
	}
	if found {
		return model.BlockPos{}, denied("that home is private")
	}
	if name == "" {
		return model.BlockPos{}, notFound("you have no home set")
	}
	return model.BlockPos{}, notFound("no home named %q", name)
}

func (e *Engine) homeAllowed(actor Actor, c *model.Claim) bool {
	if actor.Admin || c.Owner == actor.ID {
		return true
	}
	if e.reg.IsBanned(c, actor.ID) {
		return false
	}
	if c.HomePublic {
		return true
	}
	_, member := e.reg.MemberRole(c, actor.ID)
	return member
}
