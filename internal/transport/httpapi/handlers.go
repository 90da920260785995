package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"voxelclaims.ai/internal/sim/model"
)

// Cells

func (s *Server) info(c echo.Context) error {
	cell, err := cellParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	v, err := s.eng.Info(c.Request().Context(), actorOf(c), cell)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, v)
}

// POST /v1/cells/:world/:x/:z/claim
func (s *Server) claim(c echo.Context) error {
	a, err := player(c)
	if err != nil {
		return s.fail(c, err)
	}
	cell, err := cellParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	var body claimBody
	if c.Request().ContentLength > 0 {
		if err := bind(c, &body); err != nil {
			return s.fail(c, err)
		}
	}
	ctx := c.Request().Context()
	var claim model.Claim
	if body.Into != "" {
		target, perr := model.ParseUnitRef(body.Into)
		if perr != nil {
			return s.fail(c, perr)
		}
		claim, err = s.eng.ClaimIntoRegion(ctx, a, cell, target)
	} else {
		claim, err = s.eng.Claim(ctx, a, cell)
	}
	if err != nil {
		return s.fail(c, err)
	}
	v, err := s.eng.Info(ctx, a, claim.Cell)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (s *Server) unclaim(c echo.Context) error {
	a, err := player(c)
	if err != nil {
		return s.fail(c, err)
	}
	cell, err := cellParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	if err := s.eng.Unclaim(c.Request().Context(), a, cell); err != nil {
		return s.fail(c, err)
	}
	return ok(c, nil)
}

func (s *Server) rename(c echo.Context) error {
	a, err := player(c)
	if err != nil {
		return s.fail(c, err)
	}
	cell, err := cellParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	var body nameBody
	if err := bind(c, &body); err != nil {
		return s.fail(c, err)
	}
	if err := s.eng.Rename(c.Request().Context(), a, cell, body.Name); err != nil {
		return s.fail(c, err)
	}
	return ok(c, nil)
}

func (s *Server) toggleLock(c echo.Context) error {
	a, err := player(c)
	if err != nil {
		return s.fail(c, err)
	}
	cell, err := cellParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	locked, err := s.eng.ToggleLock(c.Request().Context(), a, cell)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, map[string]bool{"locked": locked})
}

func (s *Server) toggleRule(c echo.Context) error {
	a, err := player(c)
	if err != nil {
		return s.fail(c, err)
	}
	cell, err := cellParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	rule, err := model.ParseRule(c.Param("rule"))
	if err != nil {
		return s.fail(c, err)
	}
	on, err := s.eng.ToggleRule(c.Request().Context(), a, cell, rule)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, map[string]any{"rule": rule.Key(), "enabled": on})
}

func (s *Server) setPermission(c echo.Context) error {
	a, err := player(c)
	if err != nil {
		return s.fail(c, err)
	}
	cell, err := cellParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	scope, err := model.ParsePermScope(c.Param("scope"))
	if err != nil {
		return s.fail(c, err)
	}
	action, err := model.ParseAction(c.Param("action"))
	if err != nil {
		return s.fail(c, err)
	}
	var body valueBody
	if err := bind(c, &body); err != nil {
		return s.fail(c, err)
	}
	if err := s.eng.SetPermission(c.Request().Context(), a, cell, scope, action, body.Value); err != nil {
		return s.fail(c, err)
	}
	return ok(c, nil)
}

// targetOp runs an owner operation that names another player in the body.
func (s *Server) targetOp(c echo.Context, run func(a actorCell, target playerBody) (any, error)) error {
	a, err := player(c)
	if err != nil {
		return s.fail(c, err)
	}
	cell, err := cellParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	var body playerBody
	if err := bind(c, &body); err != nil {
		return s.fail(c, err)
	}
	if _, err := body.id(); err != nil {
		return s.fail(c, err)
	}
	v, err := run(actorCell{actor: a, cell: cell, c: c}, body)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, v)
}

func (s *Server) invite(c echo.Context) error {
	return s.targetOp(c, func(ac actorCell, b playerBody) (any, error) {
		id, _ := b.id()
		return s.eng.Invite(ac.ctx(), ac.actor, ac.cell, id)
	})
}

func (s *Server) kick(c echo.Context) error {
	return s.targetOp(c, func(ac actorCell, b playerBody) (any, error) {
		id, _ := b.id()
		return nil, s.eng.Kick(ac.ctx(), ac.actor, ac.cell, id)
	})
}

func (s *Server) ban(c echo.Context) error {
	return s.targetOp(c, func(ac actorCell, b playerBody) (any, error) {
		id, _ := b.id()
		return nil, s.eng.Ban(ac.ctx(), ac.actor, ac.cell, id)
	})
}

func (s *Server) transfer(c echo.Context) error {
	return s.targetOp(c, func(ac actorCell, b playerBody) (any, error) {
		id, _ := b.id()
		return nil, s.eng.Transfer(ac.ctx(), ac.actor, ac.cell, id)
	})
}

func (s *Server) unban(c echo.Context) error {
	a, err := player(c)
	if err != nil {
		return s.fail(c, err)
	}
	cell, err := cellParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	id, err := playerID(c.Param("player"))
	if err != nil {
		return s.fail(c, err)
	}
	if err := s.eng.Unban(c.Request().Context(), a, cell, id); err != nil {
		return s.fail(c, err)
	}
	return ok(c, nil)
}

func (s *Server) leave(c echo.Context) error {
	a, err := player(c)
	if err != nil {
		return s.fail(c, err)
	}
	cell, err := cellParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	if err := s.eng.Leave(c.Request().Context(), a, cell); err != nil {
		return s.fail(c, err)
	}
	return ok(c, nil)
}

func (s *Server) trust(c echo.Context) error {
	a, err := player(c)
	if err != nil {
		return s.fail(c, err)
	}
	cell, err := cellParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	var body trustBody
	if err := bind(c, &body); err != nil {
		return s.fail(c, err)
	}
	id, err := playerID(body.Player)
	if err != nil {
		return s.fail(c, err)
	}
	if err := s.eng.SetTrusted(c.Request().Context(), a, cell, id, body.Trusted); err != nil {
		return s.fail(c, err)
	}
	return ok(c, nil)
}

func (s *Server) deposit(c echo.Context) error  { return s.moveFunds(c, true) }
func (s *Server) withdraw(c echo.Context) error { return s.moveFunds(c, false) }

func (s *Server) moveFunds(c echo.Context, in bool) error {
	a, err := player(c)
	if err != nil {
		return s.fail(c, err)
	}
	cell, err := cellParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	var body amountBody
	if err := bind(c, &body); err != nil {
		return s.fail(c, err)
	}
	ctx := c.Request().Context()
	var bal float64
	if in {
		bal, err = s.eng.Deposit(ctx, a, cell, body.Amount)
	} else {
		bal, err = s.eng.Withdraw(ctx, a, cell, body.Amount)
	}
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, map[string]float64{"economy_balance": bal})
}

// Me

func (s *Server) listMine(c echo.Context) error {
	a, err := player(c)
	if err != nil {
		return s.fail(c, err)
	}
	v, err := s.eng.ListMine(c.Request().Context(), a)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, v)
}

func (s *Server) dissolveAll(c echo.Context) error {
	a, err := player(c)
	if err != nil {
		return s.fail(c, err)
	}
	n, err := s.eng.DissolveAll(c.Request().Context(), a)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, map[string]int{"dissolved": n})
}

func (s *Server) pendingInvites(c echo.Context) error {
	a, err := player(c)
	if err != nil {
		return s.fail(c, err)
	}
	v, err := s.eng.PendingInvites(c.Request().Context(), a)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, v)
}

func (s *Server) accept(c echo.Context) error {
	a, err := player(c)
	if err != nil {
		return s.fail(c, err)
	}
	m, err := s.eng.Accept(c.Request().Context(), a)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, m)
}

func (s *Server) setHome(c echo.Context) error {
	a, err := player(c)
	if err != nil {
		return s.fail(c, err)
	}
	var body homeBody
	if err := bind(c, &body); err != nil {
		return s.fail(c, err)
	}
	if err := s.eng.SetHome(c.Request().Context(), a, body.Pos, body.Public); err != nil {
		return s.fail(c, err)
	}
	return ok(c, nil)
}

// GET /v1/me/home?name=
func (s *Server) home(c echo.Context) error {
	a, err := player(c)
	if err != nil {
		return s.fail(c, err)
	}
	pos, err := s.eng.HomeTarget(c.Request().Context(), a, c.QueryParam("name"))
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, pos)
}

// Blocks

func (s *Server) hasPermission(c echo.Context) error {
	pos, err := posParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	action, err := model.ParseAction(c.Param("action"))
	if err != nil {
		return s.fail(c, err)
	}
	allowed, err := s.eng.HasPermission(c.Request().Context(), actorOf(c), pos, action)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, map[string]bool{"allowed": allowed})
}

func (s *Server) ruleAllows(c echo.Context) error {
	pos, err := posParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	rule, err := model.ParseRule(c.Param("rule"))
	if err != nil {
		return s.fail(c, err)
	}
	allowed, err := s.eng.RuleAllows(c.Request().Context(), pos, rule)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, map[string]bool{"allowed": allowed})
}

func (s *Server) container(c echo.Context) error {
	pos, err := posParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	v, err := s.eng.Container(c.Request().Context(), pos)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, v)
}

func (s *Server) placeContainer(c echo.Context) error {
	a, pos, err := playerAt(c)
	if err != nil {
		return s.fail(c, err)
	}
	if err := s.eng.PlaceContainer(c.Request().Context(), a, pos); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusCreated)
}

func (s *Server) breakContainer(c echo.Context) error {
	a, pos, err := playerAt(c)
	if err != nil {
		return s.fail(c, err)
	}
	res, err := s.eng.BreakContainer(c.Request().Context(), a, pos)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, res)
}

func (s *Server) openContainer(c echo.Context) error {
	a, pos, err := playerAt(c)
	if err != nil {
		return s.fail(c, err)
	}
	v, err := s.eng.OpenContainer(c.Request().Context(), a, pos)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, v)
}

func (s *Server) closeContainer(c echo.Context) error {
	a, pos, err := playerAt(c)
	if err != nil {
		return s.fail(c, err)
	}
	res, err := s.eng.CloseContainer(c.Request().Context(), a, pos)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, res)
}

func (s *Server) storeItems(c echo.Context) error {
	a, pos, err := playerAt(c)
	if err != nil {
		return s.fail(c, err)
	}
	var body itemsBody
	if err := bind(c, &body); err != nil {
		return s.fail(c, err)
	}
	left, err := s.eng.StoreItems(c.Request().Context(), a, pos, body.Items)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, map[string][]model.ItemStack{"leftover": left})
}

func (s *Server) takeItems(c echo.Context) error {
	a, pos, err := playerAt(c)
	if err != nil {
		return s.fail(c, err)
	}
	var body takeBody
	if err := bind(c, &body); err != nil {
		return s.fail(c, err)
	}
	n, err := s.eng.TakeItems(c.Request().Context(), a, pos, strings.ToUpper(strings.TrimSpace(body.Item)), body.Count)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, map[string]int{"taken": n})
}

func (s *Server) setSlot(c echo.Context) error {
	a, pos, err := playerAt(c)
	if err != nil {
		return s.fail(c, err)
	}
	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil {
		return s.fail(c, invalid("slot must be an integer"))
	}
	var stack model.ItemStack
	if err := bind(c, &stack); err != nil {
		return s.fail(c, err)
	}
	stack.Item = strings.ToUpper(strings.TrimSpace(stack.Item))
	prev, err := s.eng.SetSlot(c.Request().Context(), a, pos, slot, stack)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, map[string]model.ItemStack{"previous": prev})
}

func (s *Server) drops(c echo.Context) error {
	pos, err := posParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	items, err := s.eng.DropsAt(c.Request().Context(), pos)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, map[string][]model.ItemStack{"items": items})
}

// World events carry no actor.

func (s *Server) filterExplosion(c echo.Context) error {
	var body positionsBody
	if err := bind(c, &body); err != nil {
		return s.fail(c, err)
	}
	kept, err := s.eng.FilterExplosion(c.Request().Context(), body.Positions)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, positionsBody{Positions: kept})
}

func (s *Server) destroyContainer(c echo.Context) error {
	var body posBody
	if err := bind(c, &body); err != nil {
		return s.fail(c, err)
	}
	res, err := s.eng.DestroyContainer(c.Request().Context(), body.Pos)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, res)
}

// GET /v1/world/anchors?world=&x=&y=&z=
func (s *Server) isAnchorAt(c echo.Context) error {
	var p model.BlockPos
	p.World = c.QueryParam("world")
	for _, f := range []struct {
		name string
		dst  *int
	}{{"x", &p.X}, {"y", &p.Y}, {"z", &p.Z}} {
		v, err := strconv.Atoi(c.QueryParam(f.name))
		if err != nil {
			return s.fail(c, invalid("%s must be an integer", f.name))
		}
		*f.dst = v
	}
	yes, err := s.eng.IsAnchorAt(c.Request().Context(), p)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, map[string]bool{"anchor": yes})
}

// Admin

func (s *Server) listAll(c echo.Context) error {
	v, err := s.eng.ListAll(c.Request().Context(), actorOf(c))
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, v)
}

func (s *Server) adminRemove(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return s.fail(c, invalid("id must be an integer"))
	}
	if err := s.eng.AdminRemove(c.Request().Context(), actorOf(c), id); err != nil {
		return s.fail(c, err)
	}
	return ok(c, nil)
}

func (s *Server) reload(c echo.Context) error {
	if err := s.eng.Reload(c.Request().Context()); err != nil {
		return s.fail(c, err)
	}
	return ok(c, nil)
}

func (s *Server) stats(c echo.Context) error {
	st, err := s.eng.Stats(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, st)
}
