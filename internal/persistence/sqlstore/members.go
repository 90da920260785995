package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"voxelclaims.ai/internal/sim/model"
)

func (s *Store) claimExists(ctx context.Context, id int64) error {
	var n int
	if err := s.queryRow(ctx, `SELECT COUNT(1) FROM claims WHERE id = ?`, id).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: claim %d", model.ErrNotFound, id)
	}
	return nil
}

func (s *Store) PutMember(ctx context.Context, m model.Membership) error {
	if err := s.claimExists(ctx, m.ClaimID); err != nil {
		return err
	}
	_, err := s.exec(ctx, `INSERT INTO members(claim_id, player_id, role, joined_at) VALUES(?,?,?,?)
		ON CONFLICT(claim_id, player_id) DO UPDATE SET role = excluded.role`,
		m.ClaimID, m.PlayerID.String(), string(m.Role), toMillis(m.JoinedAt))
	return err
}

func (s *Store) RemoveMember(ctx context.Context, claimID int64, player uuid.UUID) error {
	_, err := s.exec(ctx, `DELETE FROM members WHERE claim_id = ? AND player_id = ?`, claimID, player.String())
	return err
}

func scanMember(r rowScanner) (model.Membership, error) {
	var (
		m        model.Membership
		player   string
		role     string
		joinedAt int64
	)
	if err := r.Scan(&m.ClaimID, &player, &role, &joinedAt); err != nil {
		return m, err
	}
	id, err := uuid.Parse(player)
	if err != nil {
		return m, fmt.Errorf("member of claim %d: %w", m.ClaimID, err)
	}
	m.PlayerID = id
	m.Role = model.Role(role)
	m.JoinedAt = fromMillis(joinedAt)
	return m, nil
}

func (s *Store) manyMembers(ctx context.Context, q string, args ...any) ([]model.Membership, error) {
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Membership
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const memberCols = `claim_id, player_id, role, joined_at`

func (s *Store) MembersOf(ctx context.Context, claimID int64) ([]model.Membership, error) {
	return s.manyMembers(ctx, `SELECT `+memberCols+` FROM members WHERE claim_id = ? ORDER BY player_id`, claimID)
}

func (s *Store) Member(ctx context.Context, claimID int64, player uuid.UUID) (model.Membership, error) {
	m, err := scanMember(s.queryRow(ctx, `SELECT `+memberCols+` FROM members WHERE claim_id = ? AND player_id = ?`,
		claimID, player.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Membership{}, fmt.Errorf("%w: member %s of claim %d", model.ErrNotFound, player, claimID)
	}
	return m, err
}

func (s *Store) MembershipsOf(ctx context.Context, player uuid.UUID) ([]model.Membership, error) {
	return s.manyMembers(ctx, `SELECT `+memberCols+` FROM members WHERE player_id = ? ORDER BY claim_id`, player.String())
}

func (s *Store) AllMembers(ctx context.Context) ([]model.Membership, error) {
	return s.manyMembers(ctx, `SELECT `+memberCols+` FROM members ORDER BY claim_id, player_id`)
}

// Bans

func (s *Store) AddBan(ctx context.Context, b model.Ban) error {
	if err := s.claimExists(ctx, b.ClaimID); err != nil {
		return err
	}
	_, err := s.exec(ctx, `INSERT INTO bans(claim_id, player_id, banned_at) VALUES(?,?,?)
		ON CONFLICT(claim_id, player_id) DO NOTHING`,
		b.ClaimID, b.PlayerID.String(), toMillis(b.BannedAt))
	return err
}

func (s *Store) RemoveBan(ctx context.Context, claimID int64, player uuid.UUID) error {
	_, err := s.exec(ctx, `DELETE FROM bans WHERE claim_id = ? AND player_id = ?`, claimID, player.String())
	return err
}

func (s *Store) IsBanned(ctx context.Context, claimID int64, player uuid.UUID) (bool, error) {
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(1) FROM bans WHERE claim_id = ? AND player_id = ?`, claimID, player.String()).Scan(&n)
	return n > 0, err
}

func (s *Store) manyBans(ctx context.Context, q string, args ...any) ([]model.Ban, error) {
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Ban
	for rows.Next() {
		var (
			b        model.Ban
			player   string
			bannedAt int64
		)
		if err := rows.Scan(&b.ClaimID, &player, &bannedAt); err != nil {
			return nil, err
		}
		if b.PlayerID, err = uuid.Parse(player); err != nil {
			return nil, fmt.Errorf("ban on claim %d: %w", b.ClaimID, err)
		}
		b.BannedAt = fromMillis(bannedAt)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) BansOf(ctx context.Context, claimID int64) ([]model.Ban, error) {
	return s.manyBans(ctx, `SELECT claim_id, player_id, banned_at FROM bans WHERE claim_id = ? ORDER BY player_id`, claimID)
}

func (s *Store) AllBans(ctx context.Context) ([]model.Ban, error) {
	return s.manyBans(ctx, `SELECT claim_id, player_id, banned_at FROM bans ORDER BY claim_id, player_id`)
}
