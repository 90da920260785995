package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"voxelclaims.ai/internal/persistence/store"
	"voxelclaims.ai/internal/protocol"
	"voxelclaims.ai/internal/sim/anchor"
	"voxelclaims.ai/internal/sim/energy"
	"voxelclaims.ai/internal/sim/model"
	"voxelclaims.ai/internal/sim/permissions"
)

// ContainerView is what an actor sees after opening a container.
type ContainerView struct {
	Pos     model.BlockPos    `json:"pos"`
	Slots   []model.ItemStack `json:"slots"`
	Anchor  bool              `json:"anchor"`
	ClaimID int64             `json:"claim_id,omitempty"`
	Value   int64             `json:"value"`
}

// CloseResult reports what closing a container did to the claim.
type CloseResult struct {
	Anchor     bool              `json:"anchor"`
	Created    bool              `json:"created,omitempty"`
	Relocated  bool              `json:"relocated,omitempty"`
	Delta      int64             `json:"delta,omitempty"`
	EnergyTime int64             `json:"energy_time,omitempty"`
	Overflow   []model.ItemStack `json:"overflow,omitempty"`
}

// BreakResult reports the outcome of destroying a container.
type BreakResult struct {
	Anchor  bool              `json:"anchor"`
	Refund  float64           `json:"refund,omitempty"`
	Grace   int64             `json:"grace,omitempty"`
	Spilled []model.ItemStack `json:"spilled,omitempty"`
}

func (e *Engine) claimAtPos(pos model.BlockPos) *model.Claim {
	return e.reg.ClaimAt(pos.Cell(e.cfg.CellSize))
}

func (e *Engine) can(actor Actor, c *model.Claim, action model.Action) bool {
	return permissions.Has(e.reg, actor.perm(), c, action)
}

// canManageAnchor reports whether the actor may handle the unit's power cell.
func (e *Engine) canManageAnchor(actor Actor, c *model.Claim) bool {
	switch permissions.TierOf(e.reg, actor.perm(), c) {
	case permissions.Owner, permissions.Trusted:
		return true
	}
	return false
}

// PlaceContainer places an empty chest at pos.
func (e *Engine) PlaceContainer(ctx context.Context, actor Actor, pos model.BlockPos) error {
	return do(ctx, e, func(reply func(error)) {
		if pos.World == "" {
			reply(invalid("world is required"))
			return
		}
		if !e.can(actor, e.claimAtPos(pos), model.ActionPlace) {
			reply(denied("you cannot build here"))
			return
		}
		if e.world.Container(pos) != nil {
			reply(invalid("a container is already at %s", pos))
			return
		}
		e.world.EnsureContainer(pos)
		reply(nil)
	})
}

// accessContainer runs the generic access checks shared by item moves.
func (e *Engine) accessContainer(actor Actor, pos model.BlockPos) error {
	if e.world.Container(pos) == nil {
		return notFound("no container at %s", pos)
	}
	c := e.claimAtPos(pos)
	if !e.can(actor, c, model.ActionInteract) {
		return denied("you cannot open containers here")
	}
	if _, busy := e.converting[pos]; busy {
		return invalid("the power cell is being charged, try again")
	}
	if e.reg.AnchorAt(pos) != nil && !e.canManageAnchor(actor, c) {
		return denied("only the owner and trusted members can use the power cell")
	}
	return nil
}

// StoreItems puts stacks into the container at pos and returns what did not fit.
func (e *Engine) StoreItems(ctx context.Context, actor Actor, pos model.BlockPos, stacks []model.ItemStack) ([]model.ItemStack, error) {
	return call(ctx, e, func(reply func([]model.ItemStack, error)) {
		if err := e.accessContainer(actor, pos); err != nil {
			reply(nil, err)
			return
		}
		ct := e.world.Container(pos)
		var left []model.ItemStack
		for _, s := range stacks {
			if s.Empty() {
				continue
			}
			if rest := ct.Add(s, anchor.MaxStack); !rest.Empty() {
				left = append(left, rest)
			}
		}
		reply(left, nil)
	})
}

// SetSlot replaces one slot of the container at pos and returns what it held.
func (e *Engine) SetSlot(ctx context.Context, actor Actor, pos model.BlockPos, slot int, stack model.ItemStack) (model.ItemStack, error) {
	return call(ctx, e, func(reply func(model.ItemStack, error)) {
		if err := e.accessContainer(actor, pos); err != nil {
			reply(model.ItemStack{}, err)
			return
		}
		ct := e.world.Container(pos)
		if slot < 0 || slot >= len(ct.Slots) {
			reply(model.ItemStack{}, invalid("slot %d out of range", slot))
			return
		}
		if stack.Count > anchor.MaxStack {
			reply(model.ItemStack{}, invalid("stack larger than %d", anchor.MaxStack))
			return
		}
		prev := ct.Slots[slot]
		if stack.Empty() {
			stack = model.ItemStack{}
		}
		ct.Slots[slot] = stack
		reply(prev, nil)
	})
}

// TakeItems removes up to n of item from the container at pos.
func (e *Engine) TakeItems(ctx context.Context, actor Actor, pos model.BlockPos, item string, n int) (int, error) {
	return call(ctx, e, func(reply func(int, error)) {
		if n <= 0 {
			reply(0, invalid("count must be positive"))
			return
		}
		if err := e.accessContainer(actor, pos); err != nil {
			reply(0, err)
			return
		}
		reply(e.world.Container(pos).Take(item, n), nil)
	})
}

// OpenContainer opens the container at pos. The anchor binding is re-read from
// the store rather than trusted from the cache; an anchor opening starts a
// reconciliation session that CloseContainer settles.
func (e *Engine) OpenContainer(ctx context.Context, actor Actor, pos model.BlockPos) (ContainerView, error) {
	return call(ctx, e, func(reply func(ContainerView, error)) {
		ct := e.world.Container(pos)
		if ct == nil {
			reply(ContainerView{}, notFound("no container at %s", pos))
			return
		}
		c := e.claimAtPos(pos)
		if !e.can(actor, c, model.ActionInteract) {
			reply(ContainerView{}, denied("you cannot open containers here"))
			return
		}
		if _, busy := e.converting[pos]; busy {
			reply(ContainerView{}, invalid("the power cell is being charged, try again"))
			return
		}
		plain := func() ContainerView {
			return ContainerView{Pos: pos, Slots: ct.Snapshot(), Value: e.conv.ContainerValue(ct.Slots)}
		}
		if c == nil {
			reply(plain(), nil)
			return
		}
		claimID, regionID := c.ID, c.RegionID
		submit(e, "verify anchor", func(ctx context.Context, s store.Store) (model.Anchor, error) {
			return s.AnchorFor(ctx, claimID, regionID)
		}, func(a model.Anchor, err error) {
			ct := e.world.Container(pos)
			if ct == nil {
				reply(ContainerView{}, notFound("container at %s is gone", pos))
				return
			}
			if err != nil && !isNotFound(err) {
				reply(ContainerView{}, e.fail("verify anchor", err, false))
				return
			}
			if err != nil || a.Pos != pos {
				if cached := e.reg.AnchorAt(pos); cached != nil {
					e.log.Warn("stale anchor binding", "pos", pos.String(), "claim", cached.ClaimID)
					e.reg.RemoveAnchor(cached.ClaimID)
				}
				reply(plain(), nil)
				return
			}
			e.reg.PutAnchor(a)
			cur := e.reg.Claim(a.ClaimID)
			if cur == nil || !e.canManageAnchor(actor, cur) {
				reply(ContainerView{}, denied("only the owner and trusted members can use the power cell"))
				return
			}
			value := e.conv.ContainerValue(ct.Slots)
			e.sessions[actor.ID] = &anchor.Session{
				Player:    actor.ID,
				Pos:       pos,
				ClaimID:   a.ClaimID,
				OpenValue: value,
				OpenedAt:  e.now(),
			}
			reply(ContainerView{Pos: pos, Slots: ct.Snapshot(), Anchor: true, ClaimID: a.ClaimID, Value: value}, nil)
		})
	})
}

// CloseContainer closes the container at pos. Closing an anchor applies the
// value delta since opening. Closing a plain chest holding the recipe turns it
// into the unit's power cell, relocating any previous one.
func (e *Engine) CloseContainer(ctx context.Context, actor Actor, pos model.BlockPos) (CloseResult, error) {
	return call(ctx, e, func(reply func(CloseResult, error)) {
		sess, hasSession := e.sessions[actor.ID]
		if hasSession && sess.Pos == pos {
			delete(e.sessions, actor.ID)
		} else {
			hasSession = false
		}
		ct := e.world.Container(pos)
		if ct == nil {
			reply(CloseResult{}, notFound("no container at %s", pos))
			return
		}
		if hasSession {
			e.reconcile(*sess, reply)
			return
		}
		if e.reg.AnchorAt(pos) != nil || !e.conv.Matches(ct.Slots) {
			reply(CloseResult{Anchor: e.reg.AnchorAt(pos) != nil}, nil)
			return
		}
		e.createAnchor(actor, pos, reply)
	})
}

type reconcileResult struct {
	claims []model.Claim
	anchor model.Anchor
	moved  bool
}

func (e *Engine) reconcile(sess anchor.Session, reply func(CloseResult, error)) {
	ct := e.world.Container(sess.Pos)
	closeValue := e.conv.ContainerValue(ct.Slots)
	delta := sess.Delta(closeValue)
	c := e.reg.Claim(sess.ClaimID)
	if c == nil {
		reply(CloseResult{}, nil)
		return
	}
	key := *c
	ids := claimIDs(e.unitCopies(c))
	now := e.now().UTC()
	submit(e, "reconcile anchor", func(ctx context.Context, s store.Store) (reconcileResult, error) {
		var r reconcileResult
		a, err := s.AnchorFor(ctx, key.ID, key.RegionID)
		if isNotFound(err) || err == nil && a.Pos != sess.Pos {
			r.moved = true
			return r, nil
		}
		if err != nil {
			return r, err
		}
		for _, id := range ids {
			fresh, err := s.ClaimByID(ctx, id)
			if err != nil {
				return r, err
			}
			fresh.EnergyTime = energy.ApplyDelta(fresh.EnergyTime, delta)
			if err := s.UpdateClaim(ctx, fresh); err != nil {
				return r, err
			}
			r.claims = append(r.claims, fresh)
		}
		a.EnergyTime = closeValue
		a.LastUpdate = now
		if err := s.UpsertAnchor(ctx, a); err != nil {
			return r, err
		}
		r.anchor = a
		return r, nil
	}, func(r reconcileResult, err error) {
		if err != nil {
			reply(CloseResult{}, e.fail("reconcile anchor", err, len(r.claims) > 0))
			return
		}
		if r.moved {
			// The binding changed while the UI was open; the container is a plain chest now.
			reply(CloseResult{}, nil)
			return
		}
		for _, fc := range r.claims {
			e.reg.PutClaim(fc)
		}
		e.reg.PutAnchor(r.anchor)
		res := CloseResult{Anchor: true, Delta: delta}
		if len(r.claims) > 0 {
			res.EnergyTime = r.claims[0].EnergyTime
			if delta != 0 {
				ev := e.claimEvent(protocol.EventReconciled, sess.Player, &r.claims[0])
				ev.Seconds = delta
				e.emit(ev)
			}
		}
		reply(res, nil)
	})
}

type createResult struct {
	claims  []model.Claim
	anchor  model.Anchor
	old     *model.Anchor
	touched bool
}

func (e *Engine) createAnchor(actor Actor, pos model.BlockPos, reply func(CloseResult, error)) {
	c := e.claimAtPos(pos)
	if c == nil {
		reply(CloseResult{}, invalid("a power cell must be built inside a claim"))
		return
	}
	if !actor.Admin && c.Owner != actor.ID {
		reply(CloseResult{}, denied("only the owner can build the power cell"))
		return
	}
	ct := e.world.Container(pos)
	conv, ok := e.conv.Convert(ct.Snapshot())
	if !ok {
		reply(CloseResult{}, nil)
		return
	}

	var old *model.Anchor
	var oldValue int64
	if a := e.reg.AnchorFor(c); a != nil {
		cp := *a
		old = &cp
		if oc := e.world.Container(a.Pos); oc != nil {
			oldValue = e.conv.ContainerValue(oc.Slots)
		}
	}
	delta := conv.Value - oldValue
	key := *c
	ids := claimIDs(e.unitCopies(c))
	record := model.Anchor{
		ClaimID:        c.ID,
		RegionID:       c.RegionID,
		Pos:            pos,
		EnergyTime:     0,
		EconomyBalance: c.EconomyBalance,
		LastUpdate:     e.now().UTC(),
	}
	e.converting[pos] = struct{}{}

	submit(e, "create anchor", func(ctx context.Context, s store.Store) (createResult, error) {
		var r createResult
		if old != nil {
			prev, err := s.DeleteAnchor(ctx, old.ClaimID, 0)
			if err != nil && !isNotFound(err) {
				return r, err
			}
			if err == nil {
				r.old = &prev
			}
			r.touched = true
		}
		a := record
		if fresh, err := s.ClaimByID(ctx, key.ID); err == nil {
			a.EconomyBalance = fresh.EconomyBalance
		} else {
			return r, err
		}
		if err := s.UpsertAnchor(ctx, a); err != nil {
			return r, err
		}
		r.touched = true
		r.anchor = a
		for _, id := range ids {
			fresh, err := s.ClaimByID(ctx, id)
			if err != nil {
				return r, err
			}
			fresh.EnergyTime = energy.ApplyDelta(fresh.EnergyTime, delta)
			if err := s.UpdateClaim(ctx, fresh); err != nil {
				return r, err
			}
			r.claims = append(r.claims, fresh)
		}
		return r, nil
	}, func(r createResult, err error) {
		delete(e.converting, pos)
		if err != nil {
			reply(CloseResult{}, e.fail("create anchor", err, r.touched))
			return
		}
		ct := e.world.Container(pos)
		if ct == nil {
			// Destroyed while converting: treat it as a break of the new cell.
			e.reg.PutAnchor(r.anchor)
			for _, fc := range r.claims {
				e.reg.PutClaim(fc)
			}
			e.destroyAnchor(uuid.Nil, r.anchor, func(BreakResult, error) {})
			reply(CloseResult{}, notFound("container at %s is gone", pos))
			return
		}
		ct.SetSlots(conv.Slots)
		e.world.Drop(pos, conv.Overflow...)
		if old != nil {
			if old.Pos != pos {
				e.dropAnchorContainer(old.Pos)
			}
			e.reg.RemoveAnchor(old.ClaimID)
		}
		e.reg.PutAnchor(r.anchor)
		for _, fc := range r.claims {
			e.reg.PutClaim(fc)
		}

		res := CloseResult{Anchor: true, Created: old == nil, Relocated: old != nil, Delta: delta, Overflow: conv.Overflow}
		kind := protocol.EventAnchorCreated
		if old != nil {
			kind = protocol.EventAnchorRelocate
		}
		if len(r.claims) > 0 {
			res.EnergyTime = r.claims[0].EnergyTime
			ev := e.claimEvent(kind, actor.ID, &r.claims[0])
			ev.Seconds = conv.Value
			ev.Name = pos.String()
			e.emit(ev)
		}
		e.log.Info("power cell built", "claim", key.ID, "region", key.RegionID, "pos", pos.String(), "value", conv.Value, "relocated", old != nil)
		reply(res, nil)
	})
}

// BreakContainer destroys the container at pos on behalf of actor.
func (e *Engine) BreakContainer(ctx context.Context, actor Actor, pos model.BlockPos) (BreakResult, error) {
	return call(ctx, e, func(reply func(BreakResult, error)) {
		if e.world.Container(pos) == nil {
			reply(BreakResult{}, notFound("no container at %s", pos))
			return
		}
		c := e.claimAtPos(pos)
		if !e.can(actor, c, model.ActionBreak) {
			reply(BreakResult{}, denied("you cannot break blocks here"))
			return
		}
		a := e.reg.AnchorAt(pos)
		if a == nil {
			reply(BreakResult{Spilled: e.dropAnchorContainer(pos)}, nil)
			return
		}
		if !e.canManageAnchor(actor, c) {
			reply(BreakResult{}, denied("only the owner and trusted members can break the power cell"))
			return
		}
		e.destroyAnchor(actor.ID, *a, reply)
	})
}

// DestroyContainer destroys the container at pos by world means (fire,
// explosions, pistons). No permission applies.
func (e *Engine) DestroyContainer(ctx context.Context, pos model.BlockPos) (BreakResult, error) {
	return call(ctx, e, func(reply func(BreakResult, error)) {
		if e.world.Container(pos) == nil {
			reply(BreakResult{}, nil)
			return
		}
		if a := e.reg.AnchorAt(pos); a != nil {
			e.destroyAnchor(uuid.Nil, *a, reply)
			return
		}
		reply(BreakResult{Spilled: e.dropAnchorContainer(pos)}, nil)
	})
}

type breakResult struct {
	noop    bool
	claims  []model.Claim
	refund  float64
	owner   uuid.UUID
	deleted model.Anchor
}

// destroyAnchor refunds the unit's economy balance, zeroes its energy and
// economy while keeping grace, deletes the record and schedules the check that
// dissolves the unit if no replacement is built within the grace window.
func (e *Engine) destroyAnchor(actor uuid.UUID, a model.Anchor, reply func(BreakResult, error)) {
	c := e.reg.Claim(a.ClaimID)
	var ids []int64
	if c != nil {
		ids = claimIDs(e.unitCopies(c))
	}
	refunding := e.refundsEnabled()
	acct := e.accounts
	submit(e, "break anchor", func(ctx context.Context, s store.Store) (breakResult, error) {
		var r breakResult
		deleted, err := s.DeleteAnchor(ctx, a.ClaimID, 0)
		if isNotFound(err) {
			r.noop = true
			return r, nil
		}
		if err != nil {
			return r, err
		}
		r.deleted = deleted
		fresh := make([]model.Claim, 0, len(ids))
		for _, id := range ids {
			fc, err := s.ClaimByID(ctx, id)
			if isNotFound(err) {
				continue
			}
			if err != nil {
				return r, restoreAnchor(ctx, s, deleted, err)
			}
			fresh = append(fresh, fc)
		}
		if len(fresh) > 0 {
			r.owner = fresh[0].Owner
			r.refund = fresh[0].EconomyBalance
		}
		if refunding && r.refund > 0 {
			if err := acct.Credit(ctx, r.owner, r.refund); err != nil {
				return breakResult{}, restoreAnchor(ctx, s, deleted, err)
			}
		} else {
			r.refund = 0
		}
		for _, fc := range fresh {
			fc.EnergyTime = 0
			fc.EconomyBalance = 0
			if err := s.UpdateClaim(ctx, fc); err != nil {
				return r, err
			}
			r.claims = append(r.claims, fc)
		}
		return r, nil
	}, func(r breakResult, err error) {
		if err != nil {
			reply(BreakResult{}, e.fail("break anchor", err, len(r.claims) > 0))
			return
		}
		spilled := e.dropAnchorContainer(a.Pos)
		e.reg.RemoveAnchor(a.ClaimID)
		if r.noop {
			reply(BreakResult{Spilled: spilled}, nil)
			return
		}
		for _, fc := range r.claims {
			e.reg.PutClaim(fc)
		}
		e.metrics.AnchorsBroken++
		e.metrics.Refunded += r.refund
		res := BreakResult{Anchor: true, Refund: r.refund, Spilled: spilled}
		if len(r.claims) > 0 {
			first := r.claims[0]
			// Grace is per claim; the check waits for the longest one in the unit.
			for _, fc := range r.claims {
				res.Grace = max(res.Grace, fc.InitialGrace)
			}
			e.deferred = append(e.deferred, deferredCheck{
				unit: first.Unit(),
				due:  e.now().Add(time.Duration(res.Grace) * time.Second),
			})
			ev := e.claimEvent(protocol.EventAnchorBroken, actor, &first)
			ev.Amount = r.refund
			ev.Seconds = res.Grace
			ev.Name = a.Pos.String()
			e.emit(ev)
		}
		e.log.Info("power cell broken", "claim", a.ClaimID, "region", a.RegionID, "pos", a.Pos.String(), "refund", r.refund, "grace", res.Grace)
		reply(res, nil)
	})
}

// restoreAnchor puts a deleted anchor record back after a later step failed.
func restoreAnchor(ctx context.Context, s store.Store, a model.Anchor, cause error) error {
	if err := s.UpsertAnchor(ctx, a); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// IsAnchorAt reports whether pos holds a bound power cell.
func (e *Engine) IsAnchorAt(ctx context.Context, pos model.BlockPos) (bool, error) {
	return call(ctx, e, func(reply func(bool, error)) {
		reply(e.reg.AnchorAt(pos) != nil, nil)
	})
}

// FilterExplosion removes power cells and blocks in claims with explosions off
// from a blast list.
func (e *Engine) FilterExplosion(ctx context.Context, positions []model.BlockPos) ([]model.BlockPos, error) {
	return call(ctx, e, func(reply func([]model.BlockPos, error)) {
		out := make([]model.BlockPos, 0, len(positions))
		for _, p := range positions {
			if e.reg.AnchorAt(p) != nil {
				continue
			}
			if !permissions.RuleAllows(e.claimAtPos(p), model.RuleExplosion) {
				continue
			}
			out = append(out, p)
		}
		reply(out, nil)
	})
}
