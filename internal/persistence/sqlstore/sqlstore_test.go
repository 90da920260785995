package sqlstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"voxelclaims.ai/internal/persistence/store"
	"voxelclaims.ai/internal/persistence/store/storetest"
	"voxelclaims.ai/internal/sim/model"
)

func openTestSQLite(t *testing.T) *Store {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "claims.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return openTestSQLite(t) })
}

func TestPostgresContract(t *testing.T) {
	dsn := os.Getenv("CLAIMS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CLAIMS_TEST_POSTGRES_DSN not set")
	}
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := OpenPostgres(context.Background(), dsn)
		require.NoError(t, err)
		_, err = s.DB().Exec(`TRUNCATE claims, regions, members, bans, anchors RESTART IDENTITY`)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestRebind(t *testing.T) {
	pg := &Store{dialect: Postgres}
	require.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))
	lite := &Store{dialect: SQLite}
	require.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestSQLiteReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "claims.sqlite")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	ctx := context.Background()
	owner := uuid.New()
	k := model.CellKey{World: "world", X: -3, Z: 7}
	c, err := s.CreateClaim(ctx, model.Claim{Owner: owner, Cell: k, DisplayName: "home", EconomyBalance: 0.1})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.ClaimAt(ctx, k)
	require.NoError(t, err)
	require.Equal(t, c.ID, got.ID)
	require.Nil(t, got.Home)
	require.True(t, got.ClaimedAt.IsZero())
}

// A fractional balance that is a near multiple of the price must not cost an extra grace second.
func TestSQLiteDrainRoundsDeficitUp(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	c, err := s.CreateClaim(ctx, model.Claim{Owner: uuid.New(), Cell: model.CellKey{World: "w"}, EconomyBalance: 0.3, InitialGrace: 20})
	require.NoError(t, err)

	n, err := s.Drain(ctx, 10, 0.1, store.DrainFunded)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	got, err := s.ClaimByID(ctx, c.ID)
	require.NoError(t, err)
	require.InDelta(t, 0, got.EconomyBalance, 1e-9)
	require.Equal(t, int64(13), got.InitialGrace)
}
