package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	persistlog "voxelclaims.ai/internal/persistence/log"
	"voxelclaims.ai/internal/persistence/sqlstore"
	"voxelclaims.ai/internal/protocol"
)

func main() {
	var (
		dataDir = flag.String("data", "./data", "runtime data directory")
		kinds   = flag.String("kind", "", "comma separated event kinds to print (optional)")
		claimID = flag.Int64("claim", 0, "only events for this claim id (optional)")
		since   = flag.String("since", "", "RFC3339 lower bound on event time (optional)")
		until   = flag.String("until", "", "RFC3339 upper bound on event time (optional)")
		quiet   = flag.Bool("quiet", false, "skip printing events; only summarize")
		verify  = flag.Bool("verify", false, "compare the replayed claim set with the sqlite store")
		dbPath  = flag.String("db", "", "sqlite store path for -verify (default: <data>/claims.sqlite)")
	)
	flag.Parse()

	f := filter{claimID: *claimID}
	if s := strings.TrimSpace(*kinds); s != "" {
		f.kinds = map[string]bool{}
		for _, k := range strings.Split(s, ",") {
			f.kinds[strings.ToUpper(strings.TrimSpace(k))] = true
		}
	}
	var err error
	if f.since, err = parseTime(*since); err != nil {
		fmt.Fprintln(os.Stderr, "bad -since:", err)
		os.Exit(2)
	}
	if f.until, err = parseTime(*until); err != nil {
		fmt.Fprintln(os.Stderr, "bad -until:", err)
		os.Exit(2)
	}

	st := newState()
	enc := json.NewEncoder(os.Stdout)
	err = persistlog.ReadAudit(*dataDir, func(ev protocol.Event) error {
		st.apply(ev)
		if *quiet || !f.match(ev) {
			return nil
		}
		return enc.Encode(ev)
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "read audit:", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "replay: events=%d live_claims=%d live_regions=%d\n", st.events, len(st.claims), len(st.regions))
	for _, k := range st.kindsSorted() {
		fmt.Fprintf(os.Stderr, "  %-20s %d\n", k, st.byKind[k])
	}

	if !*verify {
		return
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "claims.sqlite")
	}
	s, err := sqlstore.OpenSQLite(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open store:", err)
		os.Exit(1)
	}
	defer s.Close()
	claims, err := s.AllClaims(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "load claims:", err)
		os.Exit(1)
	}
	ids := make([]int64, 0, len(claims))
	for _, c := range claims {
		ids = append(ids, c.ID)
	}
	missing, extra := st.diff(ids)
	if len(missing) > 0 || len(extra) > 0 {
		fmt.Fprintf(os.Stderr, "verify FAILED: in audit but not in store=%v in store but not in audit=%v\n", missing, extra)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "verify ok: %d claims\n", len(ids))
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
