package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"voxelclaims.ai/internal/persistence/store"
	"voxelclaims.ai/internal/protocol"
	"voxelclaims.ai/internal/sim/membership"
	"voxelclaims.ai/internal/sim/model"
)

func isNotFound(err error) bool { return errors.Is(err, model.ErrNotFound) }

// Invite records a pending invitation of target to the unit at cell.
func (e *Engine) Invite(ctx context.Context, actor Actor, cell model.CellKey, target uuid.UUID) (membership.Invite, error) {
	return call(ctx, e, func(reply func(membership.Invite, error)) {
		c, err := e.ownedAt(actor, cell)
		if err != nil {
			reply(membership.Invite{}, err)
			return
		}
		switch {
		case target == uuid.Nil || target == c.Owner:
			reply(membership.Invite{}, invalid("cannot invite the owner"))
			return
		case e.reg.IsBanned(c, target):
			reply(membership.Invite{}, invalid("player is banned here, unban first"))
			return
		}
		if _, ok := e.reg.MemberRole(c, target); ok {
			reply(membership.Invite{}, invalid("player is already a member"))
			return
		}
		inv := e.book.Invite(e.now(), actor.ID, target, c.ID, e.reg.UnitName(c.Unit()))
		ev := e.claimEvent(protocol.EventInvited, actor.ID, c)
		ev.Target = target.String()
		ev.Name = inv.UnitName
		e.emit(ev)
		reply(inv, nil)
	})
}

// PendingInvites lists the actor's live invitations, newest first.
func (e *Engine) PendingInvites(ctx context.Context, actor Actor) ([]membership.Invite, error) {
	return call(ctx, e, func(reply func([]membership.Invite, error)) {
		reply(e.book.Pending(e.now(), actor.ID), nil)
	})
}

// Accept joins the unit of the actor's most recent live invitation.
func (e *Engine) Accept(ctx context.Context, actor Actor) (model.Membership, error) {
	return call(ctx, e, func(reply func(model.Membership, error)) {
		inv, ok := e.book.Take(e.now(), actor.ID)
		if !ok {
			reply(model.Membership{}, notFound("no pending invitation"))
			return
		}
		c := e.reg.Claim(inv.ClaimID)
		if c == nil {
			reply(model.Membership{}, notFound("the claim you were invited to no longer exists"))
			return
		}
		if e.reg.IsBanned(c, actor.ID) {
			reply(model.Membership{}, denied("you are banned from %s", inv.UnitName))
			return
		}
		m := model.Membership{ClaimID: c.ID, PlayerID: actor.ID, Role: model.RoleMember, JoinedAt: e.now().UTC()}
		submit(e, "accept invite", func(ctx context.Context, s store.Store) (struct{}, error) {
			return struct{}{}, s.PutMember(ctx, m)
		}, func(_ struct{}, err error) {
			if err != nil {
				reply(model.Membership{}, e.fail("accept invite", err, false))
				return
			}
			e.reg.PutMember(m)
			if cur := e.reg.Claim(m.ClaimID); cur != nil {
				e.emit(e.claimEvent(protocol.EventMemberJoined, actor.ID, cur))
			}
			reply(m, nil)
		})
	})
}

// Kick removes target's membership from the unit at cell.
func (e *Engine) Kick(ctx context.Context, actor Actor, cell model.CellKey, target uuid.UUID) error {
	return do(ctx, e, func(reply func(error)) {
		c, err := e.ownedAt(actor, cell)
		if err != nil {
			reply(err)
			return
		}
		rows := e.reg.MemberRows(c, target)
		if len(rows) == 0 {
			reply(notFound("player is not a member"))
			return
		}
		e.removeMembers(actor.ID, c, target, rows, "kicked", reply)
	})
}

// Leave drops the actor's own membership of the unit at cell.
func (e *Engine) Leave(ctx context.Context, actor Actor, cell model.CellKey) error {
	return do(ctx, e, func(reply func(error)) {
		c := e.reg.ClaimAt(cell)
		if c == nil {
			reply(notFound("no claim at %s", cell))
			return
		}
		rows := e.reg.MemberRows(c, actor.ID)
		if len(rows) == 0 {
			reply(notFound("you are not a member here"))
			return
		}
		e.removeMembers(actor.ID, c, actor.ID, rows, "left", reply)
	})
}

func (e *Engine) removeMembers(actor uuid.UUID, c *model.Claim, target uuid.UUID, rows []model.Membership, reason string, reply func(error)) {
	claim := *c
	submit(e, "remove member", func(ctx context.Context, s store.Store) (int, error) {
		n := 0
		for _, m := range rows {
			if err := s.RemoveMember(ctx, m.ClaimID, m.PlayerID); err != nil && !isNotFound(err) {
				return n, err
			}
			n++
		}
		return n, nil
	}, func(n int, err error) {
		if err != nil {
			reply(e.fail("remove member", err, n > 0))
			return
		}
		for _, m := range rows {
			e.reg.RemoveMember(m.ClaimID, m.PlayerID)
		}
		ev := e.claimEvent(protocol.EventMemberLeft, actor, &claim)
		ev.Target = target.String()
		ev.Reason = reason
		e.emit(ev)
		reply(nil)
	})
}

// SetTrusted promotes a member to TRUSTED or demotes them back to MEMBER.
func (e *Engine) SetTrusted(ctx context.Context, actor Actor, cell model.CellKey, target uuid.UUID, trusted bool) error {
	return do(ctx, e, func(reply func(error)) {
		c, err := e.ownedAt(actor, cell)
		if err != nil {
			reply(err)
			return
		}
		rows := e.reg.MemberRows(c, target)
		if len(rows) == 0 {
			reply(notFound("player is not a member"))
			return
		}
		role := model.RoleMember
		if trusted {
			role = model.RoleTrusted
		}
		for i := range rows {
			rows[i].Role = role
		}
		claim := *c
		submit(e, "set role", func(ctx context.Context, s store.Store) (int, error) {
			for i, m := range rows {
				if err := s.PutMember(ctx, m); err != nil {
					return i, err
				}
			}
			return len(rows), nil
		}, func(n int, err error) {
			if err != nil {
				reply(e.fail("set role", err, n > 0))
				return
			}
			for _, m := range rows {
				e.reg.PutMember(m)
			}
			ev := e.claimEvent(protocol.EventSettings, actor.ID, &claim)
			ev.Target = target.String()
			ev.Reason = "role=" + string(role)
			e.emit(ev)
			reply(nil)
		})
	})
}

// Ban bans target from the unit at cell, dropping any membership first.
func (e *Engine) Ban(ctx context.Context, actor Actor, cell model.CellKey, target uuid.UUID) error {
	return do(ctx, e, func(reply func(error)) {
		c, err := e.ownedAt(actor, cell)
		if err != nil {
			reply(err)
			return
		}
		if target == uuid.Nil || target == c.Owner {
			reply(invalid("cannot ban the owner"))
			return
		}
		if e.reg.IsBanned(c, target) {
			reply(nil)
			return
		}
		rows := e.reg.MemberRows(c, target)
		b := model.Ban{ClaimID: c.ID, PlayerID: target, BannedAt: e.now().UTC()}
		claim := *c
		submit(e, "ban", func(ctx context.Context, s store.Store) (int, error) {
			n := 0
			for _, m := range rows {
				if err := s.RemoveMember(ctx, m.ClaimID, m.PlayerID); err != nil && !isNotFound(err) {
					return n, err
				}
				n++
			}
			return n, s.AddBan(ctx, b)
		}, func(n int, err error) {
			if err != nil {
				reply(e.fail("ban", err, n > 0))
				return
			}
			for _, m := range rows {
				e.reg.RemoveMember(m.ClaimID, m.PlayerID)
			}
			e.reg.AddBan(b)
			ev := e.claimEvent(protocol.EventBanned, actor.ID, &claim)
			ev.Target = target.String()
			e.emit(ev)
			reply(nil)
		})
	})
}

func (e *Engine) Unban(ctx context.Context, actor Actor, cell model.CellKey, target uuid.UUID) error {
	return do(ctx, e, func(reply func(error)) {
		c, err := e.ownedAt(actor, cell)
		if err != nil {
			reply(err)
			return
		}
		rows := e.reg.BanRows(c, target)
		if len(rows) == 0 {
			reply(notFound("player is not banned"))
			return
		}
		claim := *c
		submit(e, "unban", func(ctx context.Context, s store.Store) (int, error) {
			for i, b := range rows {
				if err := s.RemoveBan(ctx, b.ClaimID, b.PlayerID); err != nil && !isNotFound(err) {
					return i, err
				}
			}
			return len(rows), nil
		}, func(n int, err error) {
			if err != nil {
				reply(e.fail("unban", err, n > 0))
				return
			}
			for _, b := range rows {
				e.reg.RemoveBan(b.ClaimID, b.PlayerID)
			}
			ev := e.claimEvent(protocol.EventUnbanned, actor.ID, &claim)
			ev.Target = target.String()
			e.emit(ev)
			reply(nil)
		})
	})
}

// DissolveAll deletes every claim the actor owns. The first call only arms the
// confirmation; a second call inside the window performs it.
func (e *Engine) DissolveAll(ctx context.Context, actor Actor) (int, error) {
	return call(ctx, e, func(reply func(int, error)) {
		if len(e.reg.ClaimsByOwner(actor.ID)) == 0 {
			reply(0, notFound("you own no claims"))
			return
		}
		if !e.book.Confirm(e.now(), actor.ID) {
			reply(0, fmt.Errorf("%w: repeat within %s to delete all your claims", model.ErrNotConfirmed, e.book.ConfirmWindow()))
			return
		}
		e.serialize(actor.ID, func(release func()) {
			owned := e.reg.ClaimsByOwner(actor.ID)
			claims := make([]model.Claim, 0, len(owned))
			for _, c := range owned {
				claims = append(claims, *c)
			}
			e.teardown(actor.ID, claims, protocol.EventDissolved, "owner", func(n int, err error) {
				release()
				reply(n, err)
			})
		})
	})
}
