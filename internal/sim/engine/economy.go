package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"voxelclaims.ai/internal/persistence/store"
	"voxelclaims.ai/internal/protocol"
	"voxelclaims.ai/internal/sim/energy"
	"voxelclaims.ai/internal/sim/model"
	"voxelclaims.ai/internal/sim/tuning"
)

// clockTick converts wall time since the last tick into whole drain seconds.
func (e *Engine) clockTick() {
	now := e.now()
	elapsed := now.Sub(e.lastTick) + e.subSecond
	e.lastTick = now
	if elapsed < 0 {
		elapsed = 0
	}
	secs := int64(elapsed / time.Second)
	e.subSecond = elapsed - time.Duration(secs)*time.Second
	e.tick(secs, nil)
}

// Tick drains seconds of funding and runs the dissolution checks. It returns
// once the drain has been applied to the store and the cache.
func (e *Engine) Tick(ctx context.Context, seconds int64) error {
	return do(ctx, e, func(reply func(error)) { e.tick(seconds, reply) })
}

type drainResult struct {
	rows   int64
	claims []model.Claim
}

func (e *Engine) tick(seconds int64, done func(error)) {
	finish := func(err error) {
		if done != nil {
			done(err)
		}
	}
	if e.draining {
		// The in-flight drain has not been applied yet; fold these seconds into the next one.
		e.carry += seconds
		finish(nil)
		return
	}
	seconds += e.carry
	e.carry = 0
	e.metrics.Ticks++
	if seconds <= 0 {
		b := &barrier{n: 1, done: func() { finish(nil) }}
		e.runDeferred(b)
		b.release()
		return
	}

	scope := store.DrainUnanchored
	if e.cfg.DrainMode == tuning.DrainAll {
		scope = store.DrainFunded
	}
	price := e.cfg.PricePerSecond
	e.draining = true
	submit(e, "drain", func(ctx context.Context, s store.Store) (drainResult, error) {
		n, err := s.Drain(ctx, seconds, price, scope)
		if err != nil {
			return drainResult{}, err
		}
		var claims []model.Claim
		if scope == store.DrainFunded {
			claims, err = s.AllClaims(ctx)
		} else {
			claims, err = s.ClaimsWithoutAnchor(ctx)
		}
		return drainResult{rows: n, claims: claims}, err
	}, func(r drainResult, err error) {
		e.draining = false
		if err != nil {
			e.log.Warn("drain failed", "seconds", seconds, "err", err)
			// Nothing was confirmed, so the seconds are retried next tick.
			e.carry += seconds
			finish(err)
			return
		}
		for _, fresh := range r.claims {
			if c := e.reg.Claim(fresh.ID); c != nil {
				c.EnergyTime = fresh.EnergyTime
				c.EconomyBalance = fresh.EconomyBalance
				c.InitialGrace = fresh.InitialGrace
			}
		}
		e.metrics.DrainedRows += uint64(r.rows)
		e.log.Debug("drained", "seconds", seconds, "rows", r.rows)
		b := &barrier{n: 1, done: func() { finish(nil) }}
		e.dissolveExhausted(r.claims, b)
		e.runDeferred(b)
		b.release()
	})
}

// barrier fires done once every dissolution a tick started has completed.
// It is only touched on the loop goroutine.
type barrier struct {
	n    int
	done func()
}

func (b *barrier) add() func() {
	b.n++
	return b.release
}

func (b *barrier) release() {
	b.n--
	if b.n == 0 && b.done != nil {
		b.done()
	}
}

// dissolveExhausted deletes exhausted claims that have no anchor.
func (e *Engine) dissolveExhausted(candidates []model.Claim, b *barrier) {
	byOwner := map[model.UnitRef][]model.Claim{}
	var order []model.UnitRef
	for _, fresh := range candidates {
		c := e.reg.Claim(fresh.ID)
		if c == nil || c.Funded() || e.reg.AnchorFor(c) != nil {
			continue
		}
		if _, busy := e.dissolving[c.ID]; busy {
			continue
		}
		u := c.Unit()
		if _, ok := byOwner[u]; !ok {
			order = append(order, u)
		}
		byOwner[u] = append(byOwner[u], *c)
	}
	for _, u := range order {
		e.dissolve(byOwner[u], "exhausted", b.add())
	}
}

func (e *Engine) dissolve(claims []model.Claim, reason string, done func()) {
	if len(claims) == 0 {
		done()
		return
	}
	owner := claims[0].Owner
	for _, c := range claims {
		e.dissolving[c.ID] = struct{}{}
	}
	e.serialize(owner, func(release func()) {
		var live []model.Claim
		for _, c := range claims {
			if cur := e.reg.Claim(c.ID); cur != nil && !cur.Funded() && e.reg.AnchorFor(cur) == nil {
				live = append(live, *cur)
			} else {
				delete(e.dissolving, c.ID)
			}
		}
		if len(live) == 0 {
			release()
			done()
			return
		}
		e.teardown(uuid.Nil, live, protocol.EventDissolved, reason, func(_ int, err error) {
			release()
			done()
			if err != nil {
				e.log.Warn("dissolution failed", "claims", claimIDs(live), "err", err)
			}
		})
	})
}

// runDeferred fires the post-break checks whose grace window has elapsed.
func (e *Engine) runDeferred(b *barrier) {
	if len(e.deferred) == 0 {
		return
	}
	now := e.now()
	kept := e.deferred[:0]
	var due []deferredCheck
	for _, d := range e.deferred {
		if now.Before(d.due) {
			kept = append(kept, d)
		} else {
			due = append(due, d)
		}
	}
	e.deferred = kept
	for _, d := range due {
		claims := e.reg.UnitClaims(d.unit)
		if len(claims) == 0 || e.reg.AnchorFor(claims[0]) != nil {
			continue
		}
		var exhausted []model.Claim
		for _, c := range claims {
			if !c.Funded() {
				if _, busy := e.dissolving[c.ID]; !busy {
					exhausted = append(exhausted, *c)
				}
			}
		}
		e.dissolve(exhausted, "power cell not replaced", b.add())
	}
}

func (e *Engine) economyReady() error {
	if !e.refundsEnabled() {
		return invalid("the economy is disabled")
	}
	return nil
}

func checkAmount(amount float64) error {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return invalid("amount must be a positive number")
	}
	return nil
}

type balanceResult struct {
	claims []model.Claim
	anchor *model.Anchor
}

// Deposit moves amount from the actor's account into the unit's economy balance.
func (e *Engine) Deposit(ctx context.Context, actor Actor, cell model.CellKey, amount float64) (float64, error) {
	return call(ctx, e, func(reply func(float64, error)) {
		if err := e.economyReady(); err != nil {
			reply(0, err)
			return
		}
		if err := checkAmount(amount); err != nil {
			reply(0, err)
			return
		}
		c := e.reg.ClaimAt(cell)
		if c == nil {
			reply(0, notFound("no claim at %s", cell))
			return
		}
		if !actor.Admin && c.Owner != actor.ID {
			if _, member := e.reg.MemberRole(c, actor.ID); !member || e.reg.IsBanned(c, actor.ID) {
				reply(0, denied("only the owner and members can deposit"))
				return
			}
		}
		ids := claimIDs(e.unitCopies(c))
		key := *c
		acct := e.accounts
		submit(e, "deposit", func(ctx context.Context, s store.Store) (balanceResult, error) {
			if err := acct.Debit(ctx, actor.ID, amount); err != nil {
				return balanceResult{}, err
			}
			r, err := adjustBalance(ctx, s, ids, key, amount)
			if err != nil {
				if cerr := acct.Credit(ctx, actor.ID, amount); cerr != nil {
					e.log.Error("deposit rollback failed", "player", actor.ID, "amount", amount, "err", cerr)
				}
			}
			return r, err
		}, func(r balanceResult, err error) {
			if err != nil {
				reply(0, e.fail("deposit", err, len(r.claims) > 0))
				return
			}
			e.applyBalance(r)
			ev := e.claimEvent(protocol.EventDeposit, actor.ID, &r.claims[0])
			ev.Amount = amount
			e.emit(ev)
			reply(r.claims[0].EconomyBalance, nil)
		})
	})
}

// Withdraw moves amount from the unit's economy balance to the actor's account.
func (e *Engine) Withdraw(ctx context.Context, actor Actor, cell model.CellKey, amount float64) (float64, error) {
	return call(ctx, e, func(reply func(float64, error)) {
		if err := e.economyReady(); err != nil {
			reply(0, err)
			return
		}
		if err := checkAmount(amount); err != nil {
			reply(0, err)
			return
		}
		c, err := e.ownedAt(actor, cell)
		if err != nil {
			reply(0, err)
			return
		}
		if c.EconomyBalance < amount {
			reply(0, insufficient(c.EconomyBalance, amount))
			return
		}
		ids := claimIDs(e.unitCopies(c))
		key := *c
		acct := e.accounts
		submit(e, "withdraw", func(ctx context.Context, s store.Store) (balanceResult, error) {
			cur, err := s.ClaimByID(ctx, key.ID)
			if err != nil {
				return balanceResult{}, err
			}
			if cur.EconomyBalance < amount {
				return balanceResult{}, insufficient(cur.EconomyBalance, amount)
			}
			r, err := adjustBalance(ctx, s, ids, key, -amount)
			if err != nil {
				return r, err
			}
			if err := acct.Credit(ctx, actor.ID, amount); err != nil {
				if _, rerr := adjustBalance(ctx, s, ids, key, amount); rerr != nil {
					e.log.Error("withdraw rollback failed", "claims", ids, "amount", amount, "err", rerr)
				}
				return r, err
			}
			return r, nil
		}, func(r balanceResult, err error) {
			if err != nil {
				reply(0, e.fail("withdraw", err, len(r.claims) > 0))
				return
			}
			e.applyBalance(r)
			ev := e.claimEvent(protocol.EventWithdraw, actor.ID, &r.claims[0])
			ev.Amount = amount
			e.emit(ev)
			reply(r.claims[0].EconomyBalance, nil)
		})
	})
}

func insufficient(have, want float64) error {
	return fmt.Errorf("%w: balance %.2f, requested %.2f", model.ErrInsufficientFunds, have, want)
}

// adjustBalance adds delta to the economy balance of every claim in ids and
// mirrors it on the unit's anchor record.
func adjustBalance(ctx context.Context, s store.Store, ids []int64, key model.Claim, delta float64) (balanceResult, error) {
	var r balanceResult
	for _, id := range ids {
		c, err := s.ClaimByID(ctx, id)
		if err != nil {
			return r, err
		}
		c.EconomyBalance = math.Max(0, c.EconomyBalance+delta)
		if err := s.UpdateClaim(ctx, c); err != nil {
			return r, err
		}
		r.claims = append(r.claims, c)
	}
	a, err := s.AnchorFor(ctx, key.ID, key.RegionID)
	switch {
	case err == nil:
		a.EconomyBalance = math.Max(0, a.EconomyBalance+delta)
		if err := s.UpsertAnchor(ctx, a); err != nil {
			return r, err
		}
		r.anchor = &a
	case !isNotFound(err):
		return r, err
	}
	return r, nil
}

func (e *Engine) applyBalance(r balanceResult) {
	for _, c := range r.claims {
		e.reg.PutClaim(c)
	}
	if r.anchor != nil {
		e.reg.PutAnchor(*r.anchor)
	}
}

// funding summarizes a claim's balance for views.
func (e *Engine) funding(c *model.Claim) energy.Balance {
	return energy.Balance{EnergyTime: c.EnergyTime, EconomyBalance: c.EconomyBalance, InitialGrace: c.InitialGrace}
}
