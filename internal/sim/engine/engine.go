// Package engine runs the claim simulation loop. One goroutine owns the
// registry, the world containers, invitations and anchor sessions; every
// actor-facing operation is posted to it and every store completion is marshaled
// back onto it before the cache is patched.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"voxelclaims.ai/internal/economy/accounts"
	"voxelclaims.ai/internal/persistence/store"
	"voxelclaims.ai/internal/protocol"
	"voxelclaims.ai/internal/sim/anchor"
	"voxelclaims.ai/internal/sim/catalogs"
	"voxelclaims.ai/internal/sim/membership"
	"voxelclaims.ai/internal/sim/model"
	"voxelclaims.ai/internal/sim/permissions"
	"voxelclaims.ai/internal/sim/registry"
	"voxelclaims.ai/internal/sim/tuning"
	"voxelclaims.ai/internal/sim/world"
)

// EventSink receives every claim event. Publish is called on the loop goroutine
// and must not block.
type EventSink interface {
	Publish(ev protocol.Event)
}

type Config struct {
	Tuning   tuning.Tuning
	Recipe   catalogs.RecipeCatalog
	Store    *store.Async
	Accounts accounts.Accounts // nil disables deposits, withdrawals and refunds
	Now      func() time.Time
	Log      *slog.Logger
	Sinks    []EventSink

	// ManualTicks disables the drain ticker; the owner calls Tick instead.
	ManualTicks bool
}

// Actor is the player (or operator) invoking an operation.
type Actor struct {
	ID    uuid.UUID
	Name  string
	Admin bool
}

func (a Actor) perm() permissions.Actor { return permissions.Actor{ID: a.ID, Admin: a.Admin} }

type deferredCheck struct {
	unit model.UnitRef
	due  time.Time
}

type Engine struct {
	cfg      tuning.Tuning
	store    *store.Async
	accounts accounts.Accounts
	now      func() time.Time
	log      *slog.Logger
	sinks    []EventSink

	reqs  chan func()
	inbox mailbox

	manualTicks bool

	// Loop-owned state below.
	reg      *registry.Registry
	world    *world.World
	book     *membership.Book
	conv     *anchor.Converter
	sessions map[uuid.UUID]*anchor.Session

	pendingCells map[model.CellKey]struct{}
	converting   map[model.BlockPos]struct{}
	dissolving   map[int64]struct{}
	deferred     []deferredCheck
	ownerBusy    map[uuid.UUID][]func(release func())

	draining  bool
	carry     int64
	lastTick  time.Time
	subSecond time.Duration
	loaded    bool
	metrics   counters
}

type counters struct {
	Ticks         uint64
	DrainedRows   uint64
	Dissolved     uint64
	AnchorsBroken uint64
	Refunded      float64
	StoreFailures uint64
	Reloads       uint64
	Events        uint64
}

func New(cfg Config) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	e := &Engine{
		cfg:         cfg.Tuning,
		store:       cfg.Store,
		accounts:    cfg.Accounts,
		now:         cfg.Now,
		log:         cfg.Log.With("component", "engine"),
		sinks:       cfg.Sinks,
		reqs:        make(chan func(), 64),
		inbox:       mailbox{notify: make(chan struct{}, 1)},
		manualTicks: cfg.ManualTicks,

		reg:          registry.New(),
		world:        world.New(cfg.Now),
		book:         membership.NewBook(cfg.Tuning.InviteTTL(), cfg.Tuning.DissolveConfirmWindow()),
		conv:         anchor.NewConverter(cfg.Recipe),
		sessions:     map[uuid.UUID]*anchor.Session{},
		pendingCells: map[model.CellKey]struct{}{},
		converting:   map[model.BlockPos]struct{}{},
		dissolving:   map[int64]struct{}{},
		ownerBusy:    map[uuid.UUID][]func(func()){},
	}
	return e
}

// AddSink registers an event sink. It must be called before Run.
func (e *Engine) AddSink(s EventSink) { e.sinks = append(e.sinks, s) }

func (e *Engine) Tuning() tuning.Tuning { return e.cfg }

// Run is the simulation loop. It returns when ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if !e.manualTicks {
		ticker := time.NewTicker(e.cfg.TickInterval())
		defer ticker.Stop()
		tick = ticker.C
	}
	e.lastTick = e.now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-e.reqs:
			fn()
		case <-e.inbox.notify:
			for _, fn := range e.inbox.take() {
				fn()
			}
		case <-tick:
			e.clockTick()
		}
	}
}

// mailbox carries store completions back to the loop. Posting never blocks, so
// the store worker cannot stall on a loop that is itself waiting to submit.
type mailbox struct {
	mu     sync.Mutex
	q      []func()
	notify chan struct{}
}

func (m *mailbox) post(fn func()) {
	m.mu.Lock()
	m.q = append(m.q, fn)
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) take() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.q
	m.q = nil
	return q
}

// call posts fn to the loop and waits for its reply. fn must call reply exactly
// once, either inline or from a later completion.
func call[T any](ctx context.Context, e *Engine, fn func(reply func(T, error))) (T, error) {
	var zero T
	type result struct {
		v   T
		err error
	}
	resp := make(chan result, 1)
	req := func() {
		fn(func(v T, err error) { resp <- result{v, err} })
	}
	select {
	case e.reqs <- req:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case r := <-resp:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// do is call for operations without a result value.
func do(ctx context.Context, e *Engine, fn func(reply func(error))) error {
	_, err := call(ctx, e, func(reply func(struct{}, error)) {
		fn(func(err error) { reply(struct{}{}, err) })
	})
	return err
}

// submit queues a store job; done runs on the loop.
func submit[T any](e *Engine, name string, job func(ctx context.Context, s store.Store) (T, error), done func(T, error)) {
	err := e.store.Submit(name, func(ctx context.Context, s store.Store) (any, error) {
		return job(ctx, s)
	}, func(v any, err error) {
		e.inbox.post(func() {
			t, _ := v.(T)
			if err != nil {
				e.metrics.StoreFailures++
			}
			done(t, err)
		})
	})
	if err != nil {
		var zero T
		e.metrics.StoreFailures++
		done(zero, model.StoreErr(name, err))
	}
}

// serialize runs fn once no other unit-shaping operation of owner is in flight.
// fn must call release when its store work has completed.
func (e *Engine) serialize(owner uuid.UUID, fn func(release func())) {
	if q, busy := e.ownerBusy[owner]; busy {
		e.ownerBusy[owner] = append(q, fn)
		return
	}
	e.ownerBusy[owner] = nil
	e.runSerialized(owner, fn)
}

func (e *Engine) runSerialized(owner uuid.UUID, fn func(release func())) {
	released := false
	fn(func() {
		if released {
			return
		}
		released = true
		q := e.ownerBusy[owner]
		if len(q) == 0 {
			delete(e.ownerBusy, owner)
			return
		}
		next := q[0]
		e.ownerBusy[owner] = q[1:]
		e.runSerialized(owner, next)
	})
}

func (e *Engine) emit(ev protocol.Event) {
	if ev.Time.IsZero() {
		ev.Time = e.now().UTC()
	}
	e.metrics.Events++
	for _, s := range e.sinks {
		s.Publish(ev)
	}
}

func cellOf(k model.CellKey) *protocol.Cell { return &protocol.Cell{X: k.X, Z: k.Z} }

func (e *Engine) claimEvent(kind string, actor uuid.UUID, c *model.Claim) protocol.Event {
	ev := protocol.Event{
		Kind:     kind,
		World:    c.Cell.World,
		ClaimID:  c.ID,
		RegionID: c.RegionID,
		Cell:     cellOf(c.Cell),
	}
	if actor != uuid.Nil {
		ev.Actor = actor.String()
	}
	return ev
}

// Reload rebuilds the cache from the store.
func (e *Engine) Reload(ctx context.Context) error {
	return do(ctx, e, func(reply func(error)) { e.reload(reply) })
}

func (e *Engine) reload(done func(error)) {
	submit(e, "reload", func(ctx context.Context, s store.Store) (registry.Snapshot, error) {
		claims, regions, members, bans, anchors, err := store.Load(ctx, s)
		return registry.Snapshot{Claims: claims, Regions: regions, Members: members, Bans: bans, Anchors: anchors}, err
	}, func(snap registry.Snapshot, err error) {
		if err != nil {
			e.log.Warn("reload failed", "err", err)
			if done != nil {
				done(err)
			}
			return
		}
		e.reg.Load(snap)
		for _, a := range e.reg.AllAnchors() {
			e.world.EnsureContainer(a.Pos)
		}
		e.loaded = true
		e.metrics.Reloads++
		clear(e.dissolving)
		st := e.reg.Stats()
		e.log.Info("cache loaded", "claims", st.Claims, "regions", st.Regions, "anchors", st.Anchors)
		e.emit(protocol.Event{Kind: protocol.EventReloaded, Count: int64(st.Claims)})
		if done != nil {
			done(nil)
		}
	})
}

// fail reports a multi-record job failure: the cache is re-read so it
// converges on whatever the store kept.
func (e *Engine) fail(op string, err error, multi bool) error {
	e.log.Warn("store job failed", "op", op, "err", err)
	if multi {
		e.reload(nil)
	}
	return err
}

func notFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", model.ErrNotFound, fmt.Sprintf(format, args...))
}

func denied(format string, args ...any) error {
	return fmt.Errorf("%w: %s", model.ErrPermissionDenied, fmt.Sprintf(format, args...))
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", model.ErrInvalid, fmt.Sprintf(format, args...))
}
