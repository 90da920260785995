// Package sqlstore implements store.Store over database/sql for sqlite
// (modernc.org/sqlite) and postgres (pgx stdlib).
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"voxelclaims.ai/internal/persistence/store"
)

type Dialect int

const (
	SQLite Dialect = iota + 1
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

type Store struct {
	db      *sql.DB
	dialect Dialect
}

var _ store.Store = (*Store)(nil)

func OpenSQLite(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{db: db, dialect: SQLite}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func OpenPostgres(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty postgres dsn")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{db: db, dialect: Postgres}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Dialect() Dialect { return s.dialect }

// DB exposes the handle for maintenance and tests.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) initSchema() error {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.dialect == Postgres {
		pk = "BIGSERIAL PRIMARY KEY"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS regions (
			id ` + pk + `,
			owner TEXT NOT NULL,
			world_id TEXT NOT NULL,
			name TEXT NOT NULL,
			name_key TEXT NOT NULL UNIQUE,
			locked INTEGER NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_regions_owner ON regions(owner);`,
		`CREATE TABLE IF NOT EXISTS claims (
			id ` + pk + `,
			owner TEXT NOT NULL,
			world_id TEXT NOT NULL,
			cell_x INTEGER NOT NULL,
			cell_z INTEGER NOT NULL,
			region_id BIGINT NOT NULL DEFAULT 0,
			display_name TEXT NOT NULL,
			has_home INTEGER NOT NULL DEFAULT 0,
			home_world TEXT NOT NULL DEFAULT '',
			home_x INTEGER NOT NULL DEFAULT 0,
			home_y INTEGER NOT NULL DEFAULT 0,
			home_z INTEGER NOT NULL DEFAULT 0,
			home_public INTEGER NOT NULL DEFAULT 0,
			locked INTEGER NOT NULL DEFAULT 0,
			energy_time BIGINT NOT NULL DEFAULT 0 CHECK (energy_time >= 0),
			economy_balance DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (economy_balance >= 0),
			initial_grace BIGINT NOT NULL DEFAULT 0 CHECK (initial_grace >= 0),
			visitor_perms INTEGER NOT NULL DEFAULT 0,
			member_perms INTEGER NOT NULL DEFAULT 0,
			rules INTEGER NOT NULL DEFAULT 0,
			claimed_at BIGINT NOT NULL,
			UNIQUE (world_id, cell_x, cell_z)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_claims_owner ON claims(owner);`,
		`CREATE INDEX IF NOT EXISTS idx_claims_region ON claims(region_id);`,
		`CREATE TABLE IF NOT EXISTS members (
			claim_id BIGINT NOT NULL,
			player_id TEXT NOT NULL,
			role TEXT NOT NULL,
			joined_at BIGINT NOT NULL,
			PRIMARY KEY (claim_id, player_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_members_player ON members(player_id);`,
		`CREATE TABLE IF NOT EXISTS bans (
			claim_id BIGINT NOT NULL,
			player_id TEXT NOT NULL,
			banned_at BIGINT NOT NULL,
			PRIMARY KEY (claim_id, player_id)
		);`,
		`CREATE TABLE IF NOT EXISTS anchors (
			claim_id BIGINT PRIMARY KEY,
			region_id BIGINT NOT NULL DEFAULT 0,
			world_id TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			energy_time BIGINT NOT NULL DEFAULT 0 CHECK (energy_time >= 0),
			economy_balance DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (economy_balance >= 0),
			last_update BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_anchors_region ON anchors(region_id);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// rebind turns ? placeholders into $n for postgres.
func (s *Store) rebind(q string) string {
	if s.dialect != Postgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(q), args...)
}

func (s *Store) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(q), args...)
}

func (s *Store) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(q), args...)
}

// inTx runs fn in a transaction; fn receives rebinding helpers bound to the tx.
func (s *Store) inTx(ctx context.Context, fn func(tx *txn) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	t := &txn{tx: sqlTx, s: s}
	if err := fn(t); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	return sqlTx.Commit()
}

type txn struct {
	tx *sql.Tx
	s  *Store
}

func (t *txn) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.s.rebind(q), args...)
}

func (t *txn) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.s.rebind(q), args...)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
