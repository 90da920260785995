package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"voxelclaims.ai/internal/sim/model"
)

const regionCols = `id, owner, world_id, name, locked, created_at`

func scanRegion(r rowScanner) (model.Region, error) {
	var (
		reg       model.Region
		owner     string
		locked    int
		createdAt int64
	)
	if err := r.Scan(&reg.ID, &owner, &reg.World, &reg.Name, &locked, &createdAt); err != nil {
		return reg, err
	}
	id, err := uuid.Parse(owner)
	if err != nil {
		return reg, fmt.Errorf("region %d owner: %w", reg.ID, err)
	}
	reg.Owner = id
	reg.Locked = locked != 0
	reg.CreatedAt = fromMillis(createdAt)
	return reg, nil
}

func nameKey(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

func (s *Store) CreateRegion(ctx context.Context, owner uuid.UUID, world, suggested string) (model.Region, error) {
	reg := model.Region{Owner: owner, World: world, CreatedAt: time.Now().UTC().Truncate(time.Millisecond)}
	err := s.inTx(ctx, func(tx *txn) error {
		var lookupErr error
		reg.Name = model.UniqueRegionName(suggested, func(name string) bool {
			var n int
			if err := tx.queryRow(ctx, `SELECT COUNT(1) FROM regions WHERE name_key = ?`, nameKey(name)).Scan(&n); err != nil {
				lookupErr = err
				return false
			}
			return n > 0
		})
		if lookupErr != nil {
			return lookupErr
		}
		return tx.queryRow(ctx, `INSERT INTO regions(owner, world_id, name, name_key, locked, created_at)
			VALUES(?,?,?,?,?,?) RETURNING id`,
			owner.String(), world, reg.Name, nameKey(reg.Name), 0, toMillis(reg.CreatedAt)).Scan(&reg.ID)
	})
	if isUniqueViolation(err) {
		return model.Region{}, fmt.Errorf("%w: %q", model.ErrNameTaken, reg.Name)
	}
	if err != nil {
		return model.Region{}, err
	}
	return reg, nil
}

func (s *Store) oneRegion(ctx context.Context, what, q string, args ...any) (model.Region, error) {
	reg, err := scanRegion(s.queryRow(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Region{}, fmt.Errorf("%w: %s", model.ErrNotFound, what)
	}
	return reg, err
}

func (s *Store) manyRegions(ctx context.Context, q string, args ...any) ([]model.Region, error) {
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Region
	for rows.Next() {
		reg, err := scanRegion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, reg)
	}
	return out, rows.Err()
}

func (s *Store) RegionByID(ctx context.Context, id int64) (model.Region, error) {
	return s.oneRegion(ctx, fmt.Sprintf("region %d", id), `SELECT `+regionCols+` FROM regions WHERE id = ?`, id)
}

func (s *Store) RegionByName(ctx context.Context, name string) (model.Region, error) {
	return s.oneRegion(ctx, fmt.Sprintf("region %q", name), `SELECT `+regionCols+` FROM regions WHERE name_key = ?`, nameKey(name))
}

func (s *Store) RegionsByOwner(ctx context.Context, owner uuid.UUID) ([]model.Region, error) {
	return s.manyRegions(ctx, `SELECT `+regionCols+` FROM regions WHERE owner = ? ORDER BY id`, owner.String())
}

func (s *Store) AllRegions(ctx context.Context) ([]model.Region, error) {
	return s.manyRegions(ctx, `SELECT `+regionCols+` FROM regions ORDER BY id`)
}

func (s *Store) RenameRegion(ctx context.Context, id int64, name string) error {
	res, err := s.exec(ctx, `UPDATE regions SET name = ?, name_key = ? WHERE id = ?`, name, nameKey(name), id)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %q", model.ErrNameTaken, name)
	}
	if err != nil {
		return err
	}
	return expectOne(res, fmt.Sprintf("region %d", id))
}

func (s *Store) SetRegionLocked(ctx context.Context, id int64, locked bool) error {
	res, err := s.exec(ctx, `UPDATE regions SET locked = ? WHERE id = ?`, boolInt(locked), id)
	if err != nil {
		return err
	}
	return expectOne(res, fmt.Sprintf("region %d", id))
}

func (s *Store) SetRegionOwner(ctx context.Context, id int64, owner uuid.UUID) error {
	res, err := s.exec(ctx, `UPDATE regions SET owner = ? WHERE id = ?`, owner.String(), id)
	if err != nil {
		return err
	}
	return expectOne(res, fmt.Sprintf("region %d", id))
}

func (s *Store) DeleteRegion(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *txn) error {
		if _, err := tx.exec(ctx, `DELETE FROM anchors WHERE region_id = ?`, id); err != nil {
			return err
		}
		res, err := tx.exec(ctx, `DELETE FROM regions WHERE id = ?`, id)
		if err != nil {
			return err
		}
		return expectOne(res, fmt.Sprintf("region %d", id))
	})
}
