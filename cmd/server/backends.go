package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"voxelclaims.ai/internal/economy/accounts"
	"voxelclaims.ai/internal/persistence/archive"
	"voxelclaims.ai/internal/persistence/sqlstore"
)

// openStore picks the persistent backend from CLAIMS_STORE_BACKEND.
func openStore(ctx context.Context, dataDir string, log *slog.Logger) (*sqlstore.Store, error) {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("CLAIMS_STORE_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}
	switch backend {
	case "sqlite":
		path := filepath.Join(dataDir, "claims.sqlite")
		log.Info("store backend", "backend", backend, "path", path)
		return sqlstore.OpenSQLite(path)
	case "postgres", "pg":
		dsn := strings.TrimSpace(os.Getenv("CLAIMS_POSTGRES_DSN"))
		if dsn == "" {
			return nil, fmt.Errorf("CLAIMS_STORE_BACKEND=%s but CLAIMS_POSTGRES_DSN is empty", backend)
		}
		log.Info("store backend", "backend", "postgres")
		return sqlstore.OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported CLAIMS_STORE_BACKEND: %s", backend)
	}
}

// openAccounts picks the currency ledger from CLAIMS_ACCOUNTS_BACKEND. A nil
// ledger turns off deposits, withdrawals and refunds.
func openAccounts(ctx context.Context, log *slog.Logger) (accounts.Accounts, io.Closer, error) {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("CLAIMS_ACCOUNTS_BACKEND")))
	if backend == "" {
		backend = "memory"
	}
	switch backend {
	case "none", "off", "disabled":
		log.Info("accounts disabled")
		return nil, nil, nil
	case "memory":
		return accounts.NewMemory(), nil, nil
	case "redis":
		addr := strings.TrimSpace(os.Getenv("CLAIMS_REDIS_ADDR"))
		if addr == "" {
			addr = "127.0.0.1:6379"
		}
		rdb, err := accounts.DialRedis(ctx, addr, os.Getenv("CLAIMS_REDIS_PASSWORD"), envInt("CLAIMS_REDIS_DB", 0))
		if err != nil {
			return nil, nil, err
		}
		log.Info("accounts backend", "backend", "redis", "addr", addr)
		return accounts.NewRedis(rdb, os.Getenv("CLAIMS_REDIS_KEY"), log), rdb, nil
	default:
		return nil, nil, fmt.Errorf("unsupported CLAIMS_ACCOUNTS_BACKEND: %s", backend)
	}
}

// openMirror builds the audit archive mirror when CLAIMS_ARCHIVE_ENDPOINT is set.
func openMirror(dataDir string, log *slog.Logger) (*archive.Mirror, error) {
	endpoint := strings.TrimSpace(os.Getenv("CLAIMS_ARCHIVE_ENDPOINT"))
	if endpoint == "" {
		return nil, nil
	}
	c, err := archive.NewClient(archive.Config{
		Endpoint:        endpoint,
		Bucket:          os.Getenv("CLAIMS_ARCHIVE_BUCKET"),
		Region:          os.Getenv("CLAIMS_ARCHIVE_REGION"),
		AccessKeyID:     os.Getenv("CLAIMS_ARCHIVE_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("CLAIMS_ARCHIVE_SECRET_ACCESS_KEY"),
		Prefix:          os.Getenv("CLAIMS_ARCHIVE_PREFIX"),
	})
	if err != nil {
		return nil, err
	}
	log.Info("audit archive mirror enabled", "endpoint", endpoint)
	return archive.NewMirror(c, dataDir, archive.MirrorOptions{
		Workers: envInt("CLAIMS_ARCHIVE_WORKERS", 1),
		Queue:   envInt("CLAIMS_ARCHIVE_QUEUE", 256),
		Log:     log,
	}), nil
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
