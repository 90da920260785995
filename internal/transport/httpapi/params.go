package httpapi

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"voxelclaims.ai/internal/sim/engine"
	"voxelclaims.ai/internal/sim/model"
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", model.ErrInvalid, fmt.Sprintf(format, args...))
}

func intParam(c echo.Context, name string) (int, error) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil {
		return 0, invalid("%s must be an integer", name)
	}
	return v, nil
}

func cellParam(c echo.Context) (model.CellKey, error) {
	x, err := intParam(c, "x")
	if err != nil {
		return model.CellKey{}, err
	}
	z, err := intParam(c, "z")
	if err != nil {
		return model.CellKey{}, err
	}
	return model.CellKey{World: c.Param("world"), X: x, Z: z}, nil
}

func posParam(c echo.Context) (model.BlockPos, error) {
	var p model.BlockPos
	var err error
	p.World = c.Param("world")
	if p.X, err = intParam(c, "x"); err != nil {
		return p, err
	}
	if p.Y, err = intParam(c, "y"); err != nil {
		return p, err
	}
	if p.Z, err = intParam(c, "z"); err != nil {
		return p, err
	}
	return p, nil
}

// playerAt resolves the acting player and the block position of the route.
func playerAt(c echo.Context) (engine.Actor, model.BlockPos, error) {
	a, err := player(c)
	if err != nil {
		return a, model.BlockPos{}, err
	}
	pos, err := posParam(c)
	return a, pos, err
}

type actorCell struct {
	actor engine.Actor
	cell  model.CellKey
	c     echo.Context
}

func (ac actorCell) ctx() context.Context { return ac.c.Request().Context() }

func playerID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, invalid("player must be a uuid")
	}
	return id, nil
}

func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return invalid("malformed body: %v", err)
	}
	return nil
}

type playerBody struct {
	Player string `json:"player"`
}

func (b playerBody) id() (uuid.UUID, error) { return playerID(b.Player) }

type amountBody struct {
	Amount float64 `json:"amount"`
}

type nameBody struct {
	Name string `json:"name"`
}

type claimBody struct {
	// Into names the unit to merge into ("region:12" or "claim:7").
	Into string `json:"into"`
}

type valueBody struct {
	Value bool `json:"value"`
}

type trustBody struct {
	Player  string `json:"player"`
	Trusted bool   `json:"trusted"`
}

type homeBody struct {
	Pos    model.BlockPos `json:"pos"`
	Public bool           `json:"public"`
}

type itemsBody struct {
	Items []model.ItemStack `json:"items"`
}

type takeBody struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

type positionsBody struct {
	Positions []model.BlockPos `json:"positions"`
}

type posBody struct {
	Pos model.BlockPos `json:"pos"`
}
