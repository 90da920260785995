package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"voxelclaims.ai/internal/persistence/store"
	"voxelclaims.ai/internal/sim/membership"
	"voxelclaims.ai/internal/sim/model"
	"voxelclaims.ai/internal/sim/permissions"
	"voxelclaims.ai/internal/sim/registry"
)

type ClaimView struct {
	ID          int64           `json:"id"`
	Owner       uuid.UUID       `json:"owner"`
	World       string          `json:"world"`
	CellX       int             `json:"cell_x"`
	CellZ       int             `json:"cell_z"`
	RegionID    int64           `json:"region_id,omitempty"`
	UnitName    string          `json:"unit_name"`
	DisplayName string          `json:"display_name"`
	Locked      bool            `json:"locked"`
	Home        *model.BlockPos `json:"home,omitempty"`
	HomePublic  bool            `json:"home_public,omitempty"`

	EnergyTime     int64   `json:"energy_time"`
	EconomyBalance float64 `json:"economy_balance"`
	InitialGrace   int64   `json:"initial_grace"`
	SecondsLeft    float64 `json:"seconds_left"`

	Anchor *model.BlockPos `json:"anchor,omitempty"`

	VisitorPerms model.Perm      `json:"visitor_perms"`
	MemberPerms  model.Perm      `json:"member_perms"`
	Rules        map[string]bool `json:"rules"`
	ClaimedAt    time.Time       `json:"claimed_at"`
}

// InfoView is a claim with its unit's members and bans.
type InfoView struct {
	ClaimView
	Members []model.Membership `json:"members"`
	Bans    []model.Ban        `json:"bans"`
	Tier    string             `json:"tier"`
}

type MineView struct {
	Owned   []ClaimView         `json:"owned"`
	Member  []ClaimView         `json:"member"`
	Invites []membership.Invite `json:"invites"`
}

func (e *Engine) view(c *model.Claim) ClaimView {
	v := ClaimView{
		ID:             c.ID,
		Owner:          c.Owner,
		World:          c.Cell.World,
		CellX:          c.Cell.X,
		CellZ:          c.Cell.Z,
		RegionID:       c.RegionID,
		UnitName:       e.reg.UnitName(c.Unit()),
		DisplayName:    c.DisplayName,
		Locked:         c.Locked,
		HomePublic:     c.HomePublic,
		EnergyTime:     c.EnergyTime,
		EconomyBalance: c.EconomyBalance,
		InitialGrace:   c.InitialGrace,
		SecondsLeft:    e.funding(c).Seconds(e.cfg.PricePerSecond),
		VisitorPerms:   c.VisitorPerms,
		MemberPerms:    c.MemberPerms,
		Rules:          c.Rules.Map(),
		ClaimedAt:      c.ClaimedAt,
	}
	if c.Home != nil {
		h := *c.Home
		v.Home = &h
	}
	if a := e.reg.AnchorFor(c); a != nil {
		p := a.Pos
		v.Anchor = &p
	}
	return v
}

func (e *Engine) views(cs []*model.Claim) []ClaimView {
	out := make([]ClaimView, 0, len(cs))
	for _, c := range cs {
		out = append(out, e.view(c))
	}
	return out
}

// Info describes the claim at cell as the actor sees it.
func (e *Engine) Info(ctx context.Context, actor Actor, cell model.CellKey) (InfoView, error) {
	return call(ctx, e, func(reply func(InfoView, error)) {
		c := e.reg.ClaimAt(cell)
		if c == nil {
			reply(InfoView{}, notFound("no claim at %s", cell))
			return
		}
		reply(InfoView{
			ClaimView: e.view(c),
			Members:   e.reg.UnitMembers(c),
			Bans:      e.reg.UnitBans(c),
			Tier:      permissions.TierOf(e.reg, actor.perm(), c).String(),
		}, nil)
	})
}

// ListMine lists the actor's own claims, the claims they are a member of and
// their pending invitations.
func (e *Engine) ListMine(ctx context.Context, actor Actor) (MineView, error) {
	return call(ctx, e, func(reply func(MineView, error)) {
		reply(MineView{
			Owned:   e.views(e.reg.ClaimsByOwner(actor.ID)),
			Member:  e.views(e.reg.ClaimsByMember(actor.ID)),
			Invites: e.book.Pending(e.now(), actor.ID),
		}, nil)
	})
}

// ListAll lists every claim. Admin only.
func (e *Engine) ListAll(ctx context.Context, actor Actor) ([]ClaimView, error) {
	return call(ctx, e, func(reply func([]ClaimView, error)) {
		if !actor.Admin {
			reply(nil, denied("admin only"))
			return
		}
		reply(e.views(e.reg.AllClaims()), nil)
	})
}

// HasPermission evaluates action for actor at pos.
func (e *Engine) HasPermission(ctx context.Context, actor Actor, pos model.BlockPos, action model.Action) (bool, error) {
	return call(ctx, e, func(reply func(bool, error)) {
		reply(e.can(actor, e.claimAtPos(pos), action), nil)
	})
}

// RuleAllows evaluates a world-event gate at pos.
func (e *Engine) RuleAllows(ctx context.Context, pos model.BlockPos, rule model.Rule) (bool, error) {
	return call(ctx, e, func(reply func(bool, error)) {
		reply(permissions.RuleAllows(e.claimAtPos(pos), rule), nil)
	})
}

// Container returns a copy of the container at pos without opening it.
func (e *Engine) Container(ctx context.Context, pos model.BlockPos) (ContainerView, error) {
	return call(ctx, e, func(reply func(ContainerView, error)) {
		ct := e.world.Container(pos)
		if ct == nil {
			reply(ContainerView{}, notFound("no container at %s", pos))
			return
		}
		v := ContainerView{Pos: pos, Slots: ct.Snapshot(), Value: e.conv.ContainerValue(ct.Slots)}
		if a := e.reg.AnchorAt(pos); a != nil {
			v.Anchor = true
			v.ClaimID = a.ClaimID
		}
		reply(v, nil)
	})
}

// DropsAt lists items lying on the ground at pos.
func (e *Engine) DropsAt(ctx context.Context, pos model.BlockPos) ([]model.ItemStack, error) {
	return call(ctx, e, func(reply func([]model.ItemStack, error)) {
		reply(e.world.DropsAt(pos), nil)
	})
}

type Stats struct {
	Registry registry.Stats   `json:"registry"`
	Store    store.AsyncStats `json:"store"`

	Loaded        bool    `json:"loaded"`
	Ticks         uint64  `json:"ticks"`
	DrainedRows   uint64  `json:"drained_rows"`
	Dissolved     uint64  `json:"dissolved"`
	AnchorsBroken uint64  `json:"anchors_broken"`
	Refunded      float64 `json:"refunded"`
	StoreFailures uint64  `json:"store_failures"`
	Reloads       uint64  `json:"reloads"`
	Events        uint64  `json:"events"`
	Sessions      int     `json:"sessions"`
	Containers    int     `json:"containers"`
	Pending       int     `json:"pending_checks"`
}

func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	return call(ctx, e, func(reply func(Stats, error)) {
		m := e.metrics
		reply(Stats{
			Registry:      e.reg.Stats(),
			Store:         e.store.Stats(),
			Loaded:        e.loaded,
			Ticks:         m.Ticks,
			DrainedRows:   m.DrainedRows,
			Dissolved:     m.Dissolved,
			AnchorsBroken: m.AnchorsBroken,
			Refunded:      m.Refunded,
			StoreFailures: m.StoreFailures,
			Reloads:       m.Reloads,
			Events:        m.Events,
			Sessions:      len(e.sessions),
			Containers:    len(e.world.Containers()),
			Pending:       len(e.deferred),
		}, nil)
	})
}
