package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"voxelclaims.ai/internal/logging"
	"voxelclaims.ai/internal/persistence/archive"
	persistlog "voxelclaims.ai/internal/persistence/log"
	"voxelclaims.ai/internal/persistence/store"
	"voxelclaims.ai/internal/protocol"
	"voxelclaims.ai/internal/sim/catalogs"
	"voxelclaims.ai/internal/sim/engine"
	"voxelclaims.ai/internal/sim/tuning"
	"voxelclaims.ai/internal/transport/httpapi"
	"voxelclaims.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		history    = flag.Int("event_history", 4096, "events kept for EVENT_BATCH_REQ replay")
	)
	flag.Parse()

	logger := logging.FromEnv().With("component", "server")
	fatal := func(msg string, err error) {
		logger.Error(msg, "err", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		fatal("create data dir", err)
	}

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		fatal("load catalogs", err)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			fatal("load tuning", err)
		}
		logger.Warn("tuning not found; using defaults", "path", tp)
		tune = tuning.Defaults()
	}

	ctx, cancel := signalContext()
	defer cancel()

	backend, err := openStore(ctx, *dataDir, logger)
	if err != nil {
		fatal("open store", err)
	}
	defer backend.Close()

	ledger, ledgerCloser, err := openAccounts(ctx, logger)
	if err != nil {
		fatal("open accounts", err)
	}
	if ledgerCloser != nil {
		defer ledgerCloser.Close()
	}

	async := store.NewAsync(backend, tune.StoreQueueSize, logger)

	mirror, err := openMirror(*dataDir, logger)
	if err != nil {
		fatal("audit archive mirror", err)
	}
	defer mirror.Close()

	auditLog := persistlog.NewAuditLogger(*dataDir, mirror.Enqueue)
	defer auditLog.Close()

	feed := ws.NewServer(ws.Config{
		Params: protocol.ServerParams{
			CellSize:       tune.CellSize,
			TickIntervalMs: tune.TickIntervalMs,
			PricePerSecond: tune.PricePerSecond,
			GraceSeconds:   tune.InitialGraceSeconds,
			EconomyEnabled: tune.EconomyEnabled,
			DrainMode:      string(tune.DrainMode),
		},
		Catalogs: protocol.CatalogDigests{
			RecipeDigest: cats.Recipe.Digest,
			TuningDigest: fileDigest(tp),
		},
		History: *history,
	}, logger)

	eng := engine.New(engine.Config{
		Tuning:   tune,
		Recipe:   cats.Recipe,
		Store:    async,
		Accounts: ledger,
		Log:      logger,
		Sinks:    []engine.EventSink{feed, auditSink{l: auditLog, log: logger}},
	})

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("engine stopped", "err", err)
			cancel()
		}
	}()

	loadCtx, loadCancel := context.WithTimeout(ctx, 30*time.Second)
	err = eng.Reload(loadCtx)
	loadCancel()
	if err != nil {
		fatal("load claims", err)
	}
	if st, err := eng.Stats(ctx); err == nil {
		logger.Info("claims loaded", "claims", st.Registry.Claims, "regions", st.Registry.Regions, "anchors", st.Registry.Anchors)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", func(c echo.Context) error {
		st, err := eng.Stats(c.Request().Context())
		if err != nil {
			return c.String(http.StatusServiceUnavailable, err.Error())
		}
		c.Response().Header().Set(echo.HeaderContentType, "text/plain; version=0.0.4")
		writeMetrics(c.Response(), st, feed, auditLog, mirror)
		return nil
	})
	e.GET("/v1/events", echo.WrapHandler(feed.Handler()))

	enableAdminHTTP := envBool("CLAIMS_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	if !enableAdminHTTP {
		logger.Info("admin endpoints disabled (CLAIMS_ENABLE_ADMIN_HTTP=false)")
	}
	httpapi.New(eng, httpapi.Options{AdminEnabled: enableAdminHTTP, Log: logger}).Register(e)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           e,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Info("listening", "addr", *addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("listen", "err", err)
	}
	cancel()
	<-engineDone
	if err := async.Close(); err != nil {
		logger.Warn("close store queue", "err", err)
	}
}

// auditSink appends every engine event to the compressed audit log.
type auditSink struct {
	l   *persistlog.AuditLogger
	log *slog.Logger
}

func (a auditSink) Publish(ev protocol.Event) {
	if err := a.l.WriteEvent(ev); err != nil {
		a.log.Warn("audit write", "kind", ev.Kind, "err", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func fileDigest(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func writeMetrics(w io.Writer, st engine.Stats, feed *ws.Server, audit *persistlog.AuditLogger, mirror *archive.Mirror) {
	gauge := func(name, help string, v any) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s gauge\n", name)
		fmt.Fprintf(w, "%s %v\n", name, v)
	}
	counter := func(name, help string, v any) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s counter\n", name)
		fmt.Fprintf(w, "%s %v\n", name, v)
	}

	fmt.Fprintf(w, "# HELP voxelclaims_units Cached claim units by kind.\n")
	fmt.Fprintf(w, "# TYPE voxelclaims_units gauge\n")
	fmt.Fprintf(w, "voxelclaims_units{kind=%q} %d\n", "claim", st.Registry.Claims)
	fmt.Fprintf(w, "voxelclaims_units{kind=%q} %d\n", "region", st.Registry.Regions)
	fmt.Fprintf(w, "voxelclaims_units{kind=%q} %d\n", "member", st.Registry.Members)
	fmt.Fprintf(w, "voxelclaims_units{kind=%q} %d\n", "ban", st.Registry.Bans)
	fmt.Fprintf(w, "voxelclaims_units{kind=%q} %d\n", "anchor", st.Registry.Anchors)

	gauge("voxelclaims_store_queue_depth", "Pending store jobs.", st.Store.QueueDepth)
	gauge("voxelclaims_store_queue_capacity", "Store job queue capacity.", st.Store.QueueCapacity)
	counter("voxelclaims_store_jobs_total", "Store jobs submitted.", st.Store.Submitted)
	counter("voxelclaims_store_failures_total", "Store jobs that failed.", st.StoreFailures)

	counter("voxelclaims_ticks_total", "Energy drain ticks run.", st.Ticks)
	counter("voxelclaims_drained_rows_total", "Claim rows touched by drains.", st.DrainedRows)
	counter("voxelclaims_dissolved_total", "Claims dissolved by exhaustion or request.", st.Dissolved)
	counter("voxelclaims_anchors_broken_total", "Power cells broken.", st.AnchorsBroken)
	counter("voxelclaims_refunded_total", "Currency refunded for broken power cells.", st.Refunded)
	counter("voxelclaims_reloads_total", "Cache rebuilds from the store.", st.Reloads)
	counter("voxelclaims_events_total", "Claim events published.", st.Events)

	gauge("voxelclaims_container_sessions", "Open power cell container sessions.", st.Sessions)
	gauge("voxelclaims_containers", "Tracked world containers.", st.Containers)
	gauge("voxelclaims_pending_checks", "Deferred power cell checks.", st.Pending)

	gauge("voxelclaims_ws_subscribers", "Connected event feed clients.", feed.Subscribers())
	gauge("voxelclaims_ws_cursor", "Last published event cursor.", feed.Cursor())
	counter("voxelclaims_ws_dropped_total", "Events dropped for slow feed clients.", feed.Dropped())
	counter("voxelclaims_audit_lines_total", "Audit log lines written.", audit.Lines())

	if mirror == nil {
		return
	}
	ms := mirror.Stats()
	gauge("voxelclaims_archive_queue_depth", "Audit files waiting for upload.", ms.QueueDepth)
	counter("voxelclaims_archive_uploaded_total", "Audit files mirrored.", ms.Uploaded)
	counter("voxelclaims_archive_failed_total", "Audit files that failed to mirror.", ms.Failed)
	counter("voxelclaims_archive_dropped_total", "Audit files dropped on a full queue.", ms.Dropped)
	if !ms.LastSuccess.IsZero() {
		gauge("voxelclaims_archive_last_success_unix", "Time of the last successful upload.", ms.LastSuccess.Unix())
	}
}
