package accounts

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"voxelclaims.ai/internal/sim/model"
)

func runContract(t *testing.T, a Accounts) {
	ctx := context.Background()
	p := uuid.New()

	bal, err := a.Balance(ctx, p)
	require.NoError(t, err)
	require.Zero(t, bal)

	require.NoError(t, a.Credit(ctx, p, 200))
	require.NoError(t, a.Debit(ctx, p, 50.5))
	bal, err = a.Balance(ctx, p)
	require.NoError(t, err)
	require.InDelta(t, 149.5, bal, 1e-9)

	require.ErrorIs(t, a.Debit(ctx, p, 1000), model.ErrInsufficientFunds)
	bal, err = a.Balance(ctx, p)
	require.NoError(t, err)
	require.InDelta(t, 149.5, bal, 1e-9)

	require.ErrorIs(t, a.Credit(ctx, p, -1), model.ErrInvalid)
	require.ErrorIs(t, a.Debit(ctx, p, 0), model.ErrInvalid)
}

func TestMemoryAccounts(t *testing.T) {
	runContract(t, NewMemory())
}

func TestRedisAccounts(t *testing.T) {
	addr := os.Getenv("CLAIMS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CLAIMS_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	rdb, err := DialRedis(ctx, addr, "", 0)
	require.NoError(t, err)
	defer rdb.Close()

	key := "claims:test:" + uuid.NewString()
	t.Cleanup(func() { rdb.Del(context.Background(), key) })
	runContract(t, NewRedis(rdb, key, nil))
}
