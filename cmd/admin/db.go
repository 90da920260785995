package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"voxelclaims.ai/internal/persistence/sqlstore"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite store path (default: <data>/claims.sqlite)")
	dsn := fs.String("dsn", "", "postgres dsn; overrides -db")
	limit := fs.Int("limit", 0, "result limit (0 = all)")
	_ = fs.Parse(args)

	table := "claims"
	if fs.NArg() > 0 {
		table = strings.TrimSpace(fs.Arg(0))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var s *sqlstore.Store
	var err error
	if d := strings.TrimSpace(*dsn); d != "" {
		s, err = sqlstore.OpenPostgres(ctx, d)
	} else {
		path := strings.TrimSpace(*dbPath)
		if path == "" {
			path = filepath.Join(*dataDir, "claims.sqlite")
		}
		s, err = sqlstore.OpenSQLite(path)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer s.Close()

	if err := dumpTable(ctx, s, table, *limit, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func dumpTable(ctx context.Context, s *sqlstore.Store, table string, limit int, w io.Writer) error {
	var rows []any
	switch table {
	case "claims":
		v, err := s.AllClaims(ctx)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		rows = toAny(v)
	case "regions":
		v, err := s.AllRegions(ctx)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		rows = toAny(v)
	case "anchors":
		v, err := s.AllAnchors(ctx)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		rows = toAny(v)
	case "members":
		v, err := s.AllMembers(ctx)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		rows = toAny(v)
	case "bans":
		v, err := s.AllBans(ctx)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		rows = toAny(v)
	default:
		return fmt.Errorf("unknown table %q (claims|regions|anchors|members|bans)", table)
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func toAny[T any](v []T) []any {
	out := make([]any, len(v))
	for i := range v {
		out[i] = v[i]
	}
	return out
}
