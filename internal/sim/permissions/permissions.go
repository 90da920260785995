package permissions

import (
	"github.com/google/uuid"

	"voxelclaims.ai/internal/sim/model"
)

// Tier is the actor's standing on a claim.
type Tier int

const (
	Visitor Tier = iota
	Member
	Trusted
	Owner
	Banned
)

func (t Tier) String() string {
	switch t {
	case Member:
		return "member"
	case Trusted:
		return "trusted"
	case Owner:
		return "owner"
	case Banned:
		return "banned"
	}
	return "visitor"
}

// Standing is the registry view the evaluator reads.
type Standing interface {
	IsBanned(c *model.Claim, player uuid.UUID) bool
	MemberRole(c *model.Claim, player uuid.UUID) (model.Role, bool)
}

type Actor struct {
	ID uuid.UUID
	// Admin bypasses every check like the owner does.
	Admin bool
}

func TierOf(s Standing, actor Actor, c *model.Claim) Tier {
	if c == nil {
		return Visitor
	}
	if actor.Admin || c.Owner == actor.ID {
		return Owner
	}
	if s.IsBanned(c, actor.ID) {
		return Banned
	}
	if role, ok := s.MemberRole(c, actor.ID); ok {
		if role == model.RoleTrusted {
			return Trusted
		}
		return Member
	}
	return Visitor
}

// Allowed returns the effective permission bits for a tier.
func Allowed(tier Tier, c *model.Claim) model.Perm {
	switch tier {
	case Owner, Trusted:
		return model.PermAll
	case Member:
		return c.MemberPerms
	case Visitor:
		return c.VisitorPerms
	}
	return model.PermNone
}

// Has evaluates an action on a claim. Unclaimed land allows everything.
func Has(s Standing, actor Actor, c *model.Claim, action model.Action) bool {
	if c == nil {
		return true
	}
	tier := TierOf(s, actor, c)
	switch tier {
	case Owner:
		return true
	case Banned:
		return false
	}
	if action == model.ActionEnter {
		return !(c.Locked && tier == Visitor)
	}
	bit, ok := action.Bit()
	if !ok {
		return false
	}
	return Allowed(tier, c).Has(bit)
}

// RuleAllows reports a world-event gate. Unclaimed land uses the default rules.
func RuleAllows(c *model.Claim, r model.Rule) bool {
	if c == nil {
		return model.DefaultRules().Get(r)
	}
	return c.Rules.Get(r)
}
