package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"voxelclaims.ai/internal/persistence/store"
	"voxelclaims.ai/internal/sim/model"
)

const anchorCols = `claim_id, region_id, world_id, x, y, z, energy_time, economy_balance, last_update`

func scanAnchor(r rowScanner) (model.Anchor, error) {
	var (
		a          model.Anchor
		lastUpdate int64
	)
	err := r.Scan(&a.ClaimID, &a.RegionID, &a.Pos.World, &a.Pos.X, &a.Pos.Y, &a.Pos.Z,
		&a.EnergyTime, &a.EconomyBalance, &lastUpdate)
	a.LastUpdate = fromMillis(lastUpdate)
	return a, err
}

func (s *Store) UpsertAnchor(ctx context.Context, a model.Anchor) error {
	if a.EnergyTime < 0 || a.EconomyBalance < 0 {
		return fmt.Errorf("%w: negative anchor balance", model.ErrInvalid)
	}
	if err := s.claimExists(ctx, a.ClaimID); err != nil {
		return err
	}
	_, err := s.exec(ctx, `INSERT INTO anchors(`+anchorCols+`) VALUES(?,?,?,?,?,?,?,?,?)
		ON CONFLICT(claim_id) DO UPDATE SET
			region_id = excluded.region_id,
			world_id = excluded.world_id,
			x = excluded.x, y = excluded.y, z = excluded.z,
			energy_time = excluded.energy_time,
			economy_balance = excluded.economy_balance,
			last_update = excluded.last_update`,
		a.ClaimID, a.RegionID, a.Pos.World, a.Pos.X, a.Pos.Y, a.Pos.Z, a.EnergyTime, a.EconomyBalance, toMillis(a.LastUpdate))
	return err
}

type anchorQuerier interface {
	queryRow(ctx context.Context, q string, args ...any) *sql.Row
}

func findAnchor(ctx context.Context, q anchorQuerier, claimID, regionID int64) (model.Anchor, error) {
	a, err := scanAnchor(q.queryRow(ctx, `SELECT `+anchorCols+` FROM anchors WHERE claim_id = ?`, claimID))
	if errors.Is(err, sql.ErrNoRows) && regionID > 0 {
		a, err = scanAnchor(q.queryRow(ctx, `SELECT `+anchorCols+` FROM anchors WHERE region_id = ? ORDER BY claim_id LIMIT 1`, regionID))
	}
	if errors.Is(err, sql.ErrNoRows) {
		return model.Anchor{}, fmt.Errorf("%w: anchor for claim %d", model.ErrNotFound, claimID)
	}
	return a, err
}

func (s *Store) AnchorFor(ctx context.Context, claimID, regionID int64) (model.Anchor, error) {
	return findAnchor(ctx, s, claimID, regionID)
}

func (s *Store) AllAnchors(ctx context.Context) ([]model.Anchor, error) {
	rows, err := s.query(ctx, `SELECT `+anchorCols+` FROM anchors ORDER BY claim_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Anchor
	for rows.Next() {
		a, err := scanAnchor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) DeleteAnchor(ctx context.Context, claimID, regionID int64) (model.Anchor, error) {
	var a model.Anchor
	err := s.inTx(ctx, func(tx *txn) error {
		var err error
		if a, err = findAnchor(ctx, tx, claimID, regionID); err != nil {
			return err
		}
		_, err = tx.exec(ctx, `DELETE FROM anchors WHERE claim_id = ?`, a.ClaimID)
		return err
	})
	if err != nil {
		return model.Anchor{}, err
	}
	return a, nil
}

// Economy

const anchoredCond = `EXISTS (SELECT 1 FROM anchors a WHERE a.claim_id = claims.id
	OR (claims.region_id > 0 AND a.region_id = claims.region_id))`

// drainSQL settles seconds of upkeep in one statement. SET expressions all
// read the pre-update row, so each CASE sees the original balances.
const drainSQL = `UPDATE claims SET
	energy_time = CASE WHEN energy_time > :S THEN energy_time - :S ELSE 0 END,
	economy_balance = CASE
		WHEN energy_time >= :S THEN economy_balance
		WHEN economy_balance >= (:S - energy_time) * :P THEN economy_balance - (:S - energy_time) * :P
		ELSE 0 END,
	initial_grace = CASE
		WHEN energy_time >= :S THEN initial_grace
		WHEN economy_balance >= (:S - energy_time) * :P THEN initial_grace
		WHEN initial_grace > :CEIL THEN initial_grace - :CEIL
		ELSE 0 END
	WHERE (energy_time > 0 OR economy_balance > 0 OR initial_grace > 0)`

// deficitExpr is the whole seconds of upkeep left after energy and economy,
// rounded up. sqlite builds without math functions lack CEIL.
func (s *Store) deficitExpr() string {
	x := `((:S - energy_time) - economy_balance / :P - 1e-9)`
	if s.dialect == Postgres {
		return `CAST(CEIL` + x + ` AS BIGINT)`
	}
	return `(CAST(` + x + ` AS INTEGER) + (` + x + ` > CAST(` + x + ` AS INTEGER)))`
}

func (s *Store) Drain(ctx context.Context, seconds int64, pricePerSecond float64, scope store.DrainScope) (int64, error) {
	if pricePerSecond <= 0 {
		return 0, fmt.Errorf("%w: price per second must be > 0", model.ErrInvalid)
	}
	if seconds <= 0 {
		return 0, nil
	}
	q := strings.ReplaceAll(drainSQL, ":CEIL", s.deficitExpr())
	q = strings.ReplaceAll(q, ":S", "CAST("+strconv.FormatInt(seconds, 10)+" AS BIGINT)")
	q = strings.ReplaceAll(q, ":P", "CAST("+strconv.FormatFloat(pricePerSecond, 'g', -1, 64)+" AS DOUBLE PRECISION)")
	if scope == store.DrainUnanchored {
		q += ` AND NOT ` + anchoredCond
	}
	res, err := s.exec(ctx, q)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) ClaimsWithoutAnchor(ctx context.Context) ([]model.Claim, error) {
	return s.manyClaims(ctx, `SELECT `+claimCols+` FROM claims WHERE NOT `+anchoredCond+` ORDER BY id`)
}
