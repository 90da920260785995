package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"voxelclaims.ai/internal/sim/model"
)

const claimCols = `id, owner, world_id, cell_x, cell_z, region_id, display_name,
	has_home, home_world, home_x, home_y, home_z, home_public, locked,
	energy_time, economy_balance, initial_grace, visitor_perms, member_perms, rules, claimed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClaim(r rowScanner) (model.Claim, error) {
	var (
		c                           model.Claim
		owner                       string
		hasHome, homePublic, locked int
		homeWorld                   string
		homeX, homeY, homeZ         int
		visitor, member, rules      int64
		claimedAt                   int64
	)
	err := r.Scan(&c.ID, &owner, &c.Cell.World, &c.Cell.X, &c.Cell.Z, &c.RegionID, &c.DisplayName,
		&hasHome, &homeWorld, &homeX, &homeY, &homeZ, &homePublic, &locked,
		&c.EnergyTime, &c.EconomyBalance, &c.InitialGrace, &visitor, &member, &rules, &claimedAt)
	if err != nil {
		return c, err
	}
	if c.Owner, err = uuid.Parse(owner); err != nil {
		return c, fmt.Errorf("claim %d owner: %w", c.ID, err)
	}
	if hasHome != 0 {
		c.Home = &model.BlockPos{World: homeWorld, X: homeX, Y: homeY, Z: homeZ}
	}
	c.HomePublic = homePublic != 0
	c.Locked = locked != 0
	c.VisitorPerms = model.Perm(visitor)
	c.MemberPerms = model.Perm(member)
	c.Rules = model.RuleSet(rules)
	c.ClaimedAt = fromMillis(claimedAt)
	return c, nil
}

func homeArgs(c model.Claim) (int, string, int, int, int) {
	if c.Home == nil {
		return 0, "", 0, 0, 0
	}
	return 1, c.Home.World, c.Home.X, c.Home.Y, c.Home.Z
}

func (s *Store) CreateClaim(ctx context.Context, c model.Claim) (model.Claim, error) {
	has, hw, hx, hy, hz := homeArgs(c)
	err := s.queryRow(ctx, `INSERT INTO claims(owner, world_id, cell_x, cell_z, region_id, display_name,
		has_home, home_world, home_x, home_y, home_z, home_public, locked,
		energy_time, economy_balance, initial_grace, visitor_perms, member_perms, rules, claimed_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?) RETURNING id`,
		c.Owner.String(), c.Cell.World, c.Cell.X, c.Cell.Z, c.RegionID, c.DisplayName,
		has, hw, hx, hy, hz, boolInt(c.HomePublic), boolInt(c.Locked),
		c.EnergyTime, c.EconomyBalance, c.InitialGrace, int64(c.VisitorPerms), int64(c.MemberPerms), int64(c.Rules), toMillis(c.ClaimedAt),
	).Scan(&c.ID)
	if isUniqueViolation(err) {
		return model.Claim{}, fmt.Errorf("%w: %s", model.ErrAlreadyClaimed, c.Cell)
	}
	if err != nil {
		return model.Claim{}, err
	}
	return c, nil
}

func (s *Store) oneClaim(ctx context.Context, what string, q string, args ...any) (model.Claim, error) {
	c, err := scanClaim(s.queryRow(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Claim{}, fmt.Errorf("%w: %s", model.ErrNotFound, what)
	}
	return c, err
}

func (s *Store) manyClaims(ctx context.Context, q string, args ...any) ([]model.Claim, error) {
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ClaimAt(ctx context.Context, k model.CellKey) (model.Claim, error) {
	return s.oneClaim(ctx, "claim at "+k.String(),
		`SELECT `+claimCols+` FROM claims WHERE world_id = ? AND cell_x = ? AND cell_z = ?`, k.World, k.X, k.Z)
}

func (s *Store) ClaimByID(ctx context.Context, id int64) (model.Claim, error) {
	return s.oneClaim(ctx, fmt.Sprintf("claim %d", id), `SELECT `+claimCols+` FROM claims WHERE id = ?`, id)
}

func (s *Store) ClaimsByOwner(ctx context.Context, owner uuid.UUID) ([]model.Claim, error) {
	return s.manyClaims(ctx, `SELECT `+claimCols+` FROM claims WHERE owner = ? ORDER BY id`, owner.String())
}

func (s *Store) ClaimsByMember(ctx context.Context, player uuid.UUID) ([]model.Claim, error) {
	return s.manyClaims(ctx, `SELECT `+claimCols+` FROM claims
		WHERE id IN (SELECT claim_id FROM members WHERE player_id = ?) ORDER BY id`, player.String())
}

func (s *Store) AllClaims(ctx context.Context) ([]model.Claim, error) {
	return s.manyClaims(ctx, `SELECT `+claimCols+` FROM claims ORDER BY id`)
}

func (s *Store) UpdateClaim(ctx context.Context, c model.Claim) error {
	has, hw, hx, hy, hz := homeArgs(c)
	res, err := s.exec(ctx, `UPDATE claims SET owner = ?, region_id = ?, display_name = ?,
		has_home = ?, home_world = ?, home_x = ?, home_y = ?, home_z = ?, home_public = ?, locked = ?,
		energy_time = ?, economy_balance = ?, initial_grace = ?, visitor_perms = ?, member_perms = ?, rules = ?
		WHERE id = ? AND world_id = ? AND cell_x = ? AND cell_z = ?`,
		c.Owner.String(), c.RegionID, c.DisplayName,
		has, hw, hx, hy, hz, boolInt(c.HomePublic), boolInt(c.Locked),
		c.EnergyTime, c.EconomyBalance, c.InitialGrace, int64(c.VisitorPerms), int64(c.MemberPerms), int64(c.Rules),
		c.ID, c.Cell.World, c.Cell.X, c.Cell.Z)
	if err != nil {
		return err
	}
	return expectOne(res, fmt.Sprintf("claim %d", c.ID))
}

func (s *Store) DeleteClaim(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *txn) error {
		for _, q := range []string{
			`DELETE FROM members WHERE claim_id = ?`,
			`DELETE FROM bans WHERE claim_id = ?`,
			`DELETE FROM anchors WHERE claim_id = ?`,
		} {
			if _, err := tx.exec(ctx, q, id); err != nil {
				return err
			}
		}
		res, err := tx.exec(ctx, `DELETE FROM claims WHERE id = ?`, id)
		if err != nil {
			return err
		}
		return expectOne(res, fmt.Sprintf("claim %d", id))
	})
}

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", model.ErrNotFound, what)
	}
	return nil
}
