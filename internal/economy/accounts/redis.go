package accounts

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"voxelclaims.ai/internal/sim/model"
)

//go:embed debit.lua
var debitScript string

const DefaultKey = "claims:accounts"

// Redis keeps balances in one hash, field per player id.
type Redis struct {
	rdb   *redis.Client
	key   string
	debit *redis.Script
	log   *slog.Logger
}

func NewRedis(rdb *redis.Client, key string, log *slog.Logger) *Redis {
	if key == "" {
		key = DefaultKey
	}
	if log == nil {
		log = slog.Default()
	}
	return &Redis{rdb: rdb, key: key, debit: redis.NewScript(debitScript), log: log.With("component", "accounts")}
}

// DialRedis connects and pings addr.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return rdb, nil
}

func (r *Redis) Balance(ctx context.Context, player uuid.UUID) (float64, error) {
	v, err := r.rdb.HGet(ctx, r.key, player.String()).Float64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("balance of %s: %w", player, err)
	}
	return v, nil
}

func (r *Redis) Credit(ctx context.Context, player uuid.UUID, amount float64) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if err := r.rdb.HIncrByFloat(ctx, r.key, player.String(), amount).Err(); err != nil {
		r.log.Error("credit failed", "player", player, "amount", amount, "err", err)
		return fmt.Errorf("credit %s: %w", player, err)
	}
	return nil
}

func (r *Redis) Debit(ctx context.Context, player uuid.UUID, amount float64) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	res, err := r.debit.Run(ctx, r.rdb, []string{r.key}, player.String(), strconv.FormatFloat(amount, 'f', -1, 64)).Slice()
	if err != nil {
		r.log.Error("debit failed", "player", player, "amount", amount, "err", err)
		return fmt.Errorf("debit %s: %w", player, err)
	}
	if len(res) != 2 {
		return fmt.Errorf("debit %s: unexpected script result %v", player, res)
	}
	if ok, _ := res[0].(int64); ok != 1 {
		have, _ := res[1].(string)
		return fmt.Errorf("%w: have %s, need %.2f", model.ErrInsufficientFunds, have, amount)
	}
	return nil
}
