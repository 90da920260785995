package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"voxelclaims.ai/internal/economy/accounts"
	"voxelclaims.ai/internal/persistence/store"
	"voxelclaims.ai/internal/protocol"
	"voxelclaims.ai/internal/sim/catalogs"
	"voxelclaims.ai/internal/sim/model"
	"voxelclaims.ai/internal/sim/tuning"
)

const testRecipeJSON = `{
	"slots": {"3":"REDSTONE_BLOCK","4":"DIAMOND","5":"REDSTONE_BLOCK",
	          "12":"DIAMOND","13":"NETHER_STAR","14":"DIAMOND",
	          "21":"REDSTONE_BLOCK","22":"DIAMOND","23":"REDSTONE_BLOCK"},
	"items": [
		{"item":"NETHER_STAR","value":86400},
		{"item":"DIAMOND","value":7200},
		{"item":"REDSTONE_BLOCK","value":900},
		{"item":"COAL","value":60}
	]
}`

// recipeValue is the energy the test recipe converts into.
const recipeValue = 86400 + 4*7200 + 4*900

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type eventLog struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (l *eventLog) Publish(ev protocol.Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) count(kind string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

type harness struct {
	t      *testing.T
	e      *Engine
	mem    *store.Memory
	acct   *accounts.Memory
	clock  *testClock
	events *eventLog
}

func newHarness(t *testing.T, mutate ...func(*tuning.Tuning)) *harness {
	t.Helper()
	tun := tuning.Defaults()
	for _, m := range mutate {
		m(&tun)
	}
	var recipe catalogs.RecipeCatalog
	if err := catalogs.ParseRecipe([]byte(testRecipeJSON), &recipe); err != nil {
		t.Fatalf("ParseRecipe: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := store.NewMemory()
	async := store.NewAsync(mem, 64, log)
	h := &harness{
		t:      t,
		mem:    mem,
		acct:   accounts.NewMemory(),
		clock:  &testClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)},
		events: &eventLog{},
	}
	h.e = New(Config{
		Tuning:      tun,
		Recipe:      recipe,
		Store:       async,
		Accounts:    h.acct,
		Now:         h.clock.Now,
		Log:         log,
		Sinks:       []EventSink{h.events},
		ManualTicks: true,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.e.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = async.Close()
	})
	if err := h.e.Reload(h.ctx()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	return h
}

func (h *harness) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	h.t.Cleanup(cancel)
	return ctx
}

func (h *harness) claim(a Actor, x, z int) model.Claim {
	h.t.Helper()
	c, err := h.e.Claim(h.ctx(), a, cell(x, z))
	if err != nil {
		h.t.Fatalf("Claim(%d,%d): %v", x, z, err)
	}
	return c
}

func (h *harness) info(a Actor, x, z int) InfoView {
	h.t.Helper()
	v, err := h.e.Info(h.ctx(), a, cell(x, z))
	if err != nil {
		h.t.Fatalf("Info(%d,%d): %v", x, z, err)
	}
	return v
}

func (h *harness) tick(seconds int64) {
	h.t.Helper()
	h.clock.Advance(time.Duration(seconds) * time.Second)
	if err := h.e.Tick(h.ctx(), seconds); err != nil {
		h.t.Fatalf("Tick(%d): %v", seconds, err)
	}
}

// buildAnchor places a chest at pos, fills the recipe and closes it.
func (h *harness) buildAnchor(a Actor, pos model.BlockPos) CloseResult {
	h.t.Helper()
	ctx := h.ctx()
	if err := h.e.PlaceContainer(ctx, a, pos); err != nil {
		h.t.Fatalf("PlaceContainer: %v", err)
	}
	for _, s := range []int{3, 5, 21, 23} {
		h.setSlot(a, pos, s, "REDSTONE_BLOCK")
	}
	for _, s := range []int{4, 12, 14, 22} {
		h.setSlot(a, pos, s, "DIAMOND")
	}
	h.setSlot(a, pos, 13, "NETHER_STAR")
	res, err := h.e.CloseContainer(ctx, a, pos)
	if err != nil {
		h.t.Fatalf("CloseContainer: %v", err)
	}
	return res
}

func (h *harness) setSlot(a Actor, pos model.BlockPos, slot int, item string) {
	h.t.Helper()
	if _, err := h.e.SetSlot(h.ctx(), a, pos, slot, model.ItemStack{Item: item, Count: 1}); err != nil {
		h.t.Fatalf("SetSlot(%d): %v", slot, err)
	}
}

func cell(x, z int) model.CellKey { return model.CellKey{World: "overworld", X: x, Z: z} }

func pos(x, y, z int) model.BlockPos { return model.BlockPos{World: "overworld", X: x, Y: y, Z: z} }

func player(name string) Actor { return Actor{ID: uuid.New(), Name: name} }

func TestClaimPromotesNeighborIntoRegion(t *testing.T) {
	h := newHarness(t)
	alice := player("Alice")

	first := h.claim(alice, 0, 0)
	if first.RegionID != 0 {
		t.Fatalf("first claim region=%d want standalone", first.RegionID)
	}
	second := h.claim(alice, 1, 0)
	if second.RegionID == 0 {
		t.Fatalf("second claim should be promoted into a region")
	}
	v := h.info(alice, 0, 0)
	if v.RegionID != second.RegionID {
		t.Fatalf("first claim region=%d want %d", v.RegionID, second.RegionID)
	}
	if v.UnitName != "Alice's Claim" {
		t.Fatalf("region name=%q", v.UnitName)
	}

	third := h.claim(alice, 2, 0)
	if third.RegionID != second.RegionID {
		t.Fatalf("third claim region=%d want %d", third.RegionID, second.RegionID)
	}
	if h.events.count(protocol.EventRegionCreated) != 1 {
		t.Fatalf("region created events=%d want 1", h.events.count(protocol.EventRegionCreated))
	}

	// A second promotion by the same player gets a de-duplicated name.
	h.claim(alice, 10, 10)
	h.claim(alice, 10, 11)
	if got := h.info(alice, 10, 10).UnitName; got != "Alice's Claim 2" {
		t.Fatalf("second region name=%q", got)
	}
}

func TestRegionClaimsStartWithFullGrace(t *testing.T) {
	h := newHarness(t)
	alice := player("Alice")
	h.claim(alice, 0, 0)
	h.tick(300)

	promoted := h.claim(alice, 1, 0)
	if promoted.RegionID == 0 || promoted.InitialGrace != 600 {
		t.Fatalf("promoted claim region=%d grace=%d want 600", promoted.RegionID, promoted.InitialGrace)
	}
	h.tick(100)

	joined := h.claim(alice, 2, 0)
	if joined.RegionID != promoted.RegionID || joined.InitialGrace != 600 {
		t.Fatalf("joined claim region=%d grace=%d want 600", joined.RegionID, joined.InitialGrace)
	}
	for _, tc := range []struct {
		x     int
		grace int64
	}{{0, 200}, {1, 500}, {2, 600}} {
		if got := h.info(alice, tc.x, 0).InitialGrace; got != tc.grace {
			t.Fatalf("cell (%d,0) grace=%d want %d", tc.x, got, tc.grace)
		}
	}
}

func TestClaimConflictThenExplicitTarget(t *testing.T) {
	h := newHarness(t)
	alice := player("Alice")
	west := h.claim(alice, 0, 0)
	h.claim(alice, 2, 0)

	_, err := h.e.Claim(h.ctx(), alice, cell(1, 0))
	var ce *model.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("err=%v want ConflictError", err)
	}
	if len(ce.Candidates) != 2 {
		t.Fatalf("candidates=%+v", ce.Candidates)
	}
	if v, err := h.e.Info(h.ctx(), alice, cell(1, 0)); err == nil {
		t.Fatalf("conflict must not create a claim, got %+v", v)
	}

	c, err := h.e.ClaimIntoRegion(h.ctx(), alice, cell(1, 0), model.UnitRef{Kind: model.UnitClaim, ID: west.ID})
	if err != nil {
		t.Fatalf("ClaimIntoRegion: %v", err)
	}
	if c.RegionID == 0 || h.info(alice, 0, 0).RegionID != c.RegionID {
		t.Fatalf("west claim and new claim should share a region")
	}
	if h.info(alice, 2, 0).RegionID != 0 {
		t.Fatalf("east claim should stay standalone")
	}
}

func TestClaimTakenCellFails(t *testing.T) {
	h := newHarness(t)
	h.claim(player("Alice"), 0, 0)
	_, err := h.e.Claim(h.ctx(), player("Bob"), cell(0, 0))
	if !errors.Is(err, model.ErrAlreadyClaimed) {
		t.Fatalf("err=%v want ErrAlreadyClaimed", err)
	}
}

func TestStoreFailureLeavesCacheUntouched(t *testing.T) {
	h := newHarness(t)
	alice := player("Alice")
	h.mem.FailNext(errors.New("disk full"))

	_, err := h.e.Claim(h.ctx(), alice, cell(0, 0))
	if !errors.Is(err, model.ErrStore) {
		t.Fatalf("err=%v want ErrStore", err)
	}
	if _, err := h.e.Info(h.ctx(), alice, cell(0, 0)); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("cache was mutated: %v", err)
	}
	// The cell is free again for a retry.
	h.claim(alice, 0, 0)
}

func TestEconomyDrainsAfterEnergyAndBeforeGrace(t *testing.T) {
	h := newHarness(t)
	alice := player("Alice")
	h.claim(alice, 0, 0)
	if err := h.acct.Credit(context.Background(), alice.ID, 10); err != nil {
		t.Fatal(err)
	}
	bal, err := h.e.Deposit(h.ctx(), alice, cell(0, 0), 5)
	if err != nil || bal != 5 {
		t.Fatalf("Deposit: bal=%v err=%v", bal, err)
	}

	h.tick(30)
	v := h.info(alice, 0, 0)
	if v.EconomyBalance < 1.999 || v.EconomyBalance > 2.001 {
		t.Fatalf("economy=%v want 2", v.EconomyBalance)
	}
	if v.InitialGrace != 600 {
		t.Fatalf("grace=%d want untouched 600", v.InitialGrace)
	}

	h.tick(20 + 600)
	if _, err := h.e.Info(h.ctx(), alice, cell(0, 0)); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("exhausted claim should be dissolved, err=%v", err)
	}
	if h.events.count(protocol.EventDissolved) != 1 {
		t.Fatalf("dissolved events=%d", h.events.count(protocol.EventDissolved))
	}
}

func TestWithdrawChecksBalance(t *testing.T) {
	h := newHarness(t)
	alice := player("Alice")
	h.claim(alice, 0, 0)
	if err := h.acct.Credit(context.Background(), alice.ID, 50); err != nil {
		t.Fatal(err)
	}
	if _, err := h.e.Deposit(h.ctx(), alice, cell(0, 0), 30); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if _, err := h.e.Withdraw(h.ctx(), alice, cell(0, 0), 31); !errors.Is(err, model.ErrInsufficientFunds) {
		t.Fatalf("err=%v want ErrInsufficientFunds", err)
	}
	left, err := h.e.Withdraw(h.ctx(), alice, cell(0, 0), 10)
	if err != nil || left != 20 {
		t.Fatalf("Withdraw: left=%v err=%v", left, err)
	}
	acct, _ := h.acct.Balance(context.Background(), alice.ID)
	if acct != 30 {
		t.Fatalf("account=%v want 30", acct)
	}
	if _, err := h.e.Deposit(h.ctx(), alice, cell(0, 0), 1000); !errors.Is(err, model.ErrInsufficientFunds) {
		t.Fatalf("deposit beyond account: err=%v", err)
	}
	if _, err := h.e.Withdraw(h.ctx(), player("Mallory"), cell(0, 0), 1); !errors.Is(err, model.ErrPermissionDenied) {
		t.Fatalf("stranger withdraw: err=%v", err)
	}
}

func TestAnchorBreakRefundsAndDissolvesAfterGrace(t *testing.T) {
	h := newHarness(t)
	alice := player("Alice")
	h.claim(alice, 0, 0)
	h.claim(alice, 1, 0)
	cellPos := pos(3, 64, 3)

	res := h.buildAnchor(alice, cellPos)
	if !res.Created || res.EnergyTime != recipeValue {
		t.Fatalf("build: %+v want energy %d", res, recipeValue)
	}
	if ok, _ := h.e.IsAnchorAt(h.ctx(), cellPos); !ok {
		t.Fatalf("IsAnchorAt false after build")
	}
	// Both claims of the region share the balance.
	if got := h.info(alice, 1, 0).EnergyTime; got != recipeValue {
		t.Fatalf("region sibling energy=%d", got)
	}

	// An anchored unit does not drain.
	h.tick(100)
	if got := h.info(alice, 0, 0).EnergyTime; got != recipeValue {
		t.Fatalf("anchored energy drained to %d", got)
	}

	if err := h.acct.Credit(context.Background(), alice.ID, 200); err != nil {
		t.Fatal(err)
	}
	if _, err := h.e.Deposit(h.ctx(), alice, cell(0, 0), 200); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	br, err := h.e.DestroyContainer(h.ctx(), cellPos)
	if err != nil {
		t.Fatalf("DestroyContainer: %v", err)
	}
	if !br.Anchor || br.Refund != 200 || br.Grace != 600 || len(br.Spilled) == 0 {
		t.Fatalf("break: %+v", br)
	}
	acct, _ := h.acct.Balance(context.Background(), alice.ID)
	if acct != 200 {
		t.Fatalf("account=%v want refund 200", acct)
	}
	v := h.info(alice, 1, 0)
	if v.EnergyTime != 0 || v.EconomyBalance != 0 || v.InitialGrace != 600 {
		t.Fatalf("after break: energy=%d econ=%v grace=%d", v.EnergyTime, v.EconomyBalance, v.InitialGrace)
	}

	// Breaking again is a no-op.
	br, err = h.e.DestroyContainer(h.ctx(), cellPos)
	if err != nil || br.Anchor || br.Refund != 0 {
		t.Fatalf("second break: %+v err=%v", br, err)
	}

	h.tick(599)
	if _, err := h.e.Info(h.ctx(), alice, cell(0, 0)); err != nil {
		t.Fatalf("claim dissolved before grace ran out: %v", err)
	}
	h.tick(1)
	for _, c := range []model.CellKey{cell(0, 0), cell(1, 0)} {
		if _, err := h.e.Info(h.ctx(), alice, c); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("claim %s still present: %v", c, err)
		}
	}
	if h.events.count(protocol.EventRegionDeleted) != 1 {
		t.Fatalf("region deleted events=%d", h.events.count(protocol.EventRegionDeleted))
	}
	if acct, _ := h.acct.Balance(context.Background(), alice.ID); acct != 200 {
		t.Fatalf("refund must happen once, account=%v", acct)
	}
}

func TestReconcileAppliesDeltaOverConcurrentDrain(t *testing.T) {
	h := newHarness(t, func(tu *tuning.Tuning) { tu.DrainMode = tuning.DrainAll })
	alice := player("Alice")
	h.claim(alice, 0, 0)
	p := pos(2, 70, 2)
	h.buildAnchor(alice, p)

	view, err := h.e.OpenContainer(h.ctx(), alice, p)
	if err != nil || !view.Anchor || view.Value != recipeValue {
		t.Fatalf("open: %+v err=%v", view, err)
	}
	h.tick(100)
	if got := h.info(alice, 0, 0).EnergyTime; got != recipeValue-100 {
		t.Fatalf("drain while open: energy=%d", got)
	}
	if left, err := h.e.StoreItems(h.ctx(), alice, p, []model.ItemStack{{Item: "DIAMOND", Count: 1}}); err != nil || len(left) != 0 {
		t.Fatalf("StoreItems: left=%v err=%v", left, err)
	}
	res, err := h.e.CloseContainer(h.ctx(), alice, p)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if res.Delta != 7200 || res.EnergyTime != recipeValue-100+7200 {
		t.Fatalf("close: %+v", res)
	}
	if got := h.info(alice, 0, 0).EnergyTime; got != recipeValue-100+7200 {
		t.Fatalf("persisted energy=%d", got)
	}
	c, err := h.mem.ClaimAt(context.Background(), cell(0, 0))
	if err != nil || c.EnergyTime != recipeValue-100+7200 {
		t.Fatalf("store energy=%d err=%v", c.EnergyTime, err)
	}
}

func TestAnchorRelocationMovesBalance(t *testing.T) {
	h := newHarness(t)
	alice := player("Alice")
	h.claim(alice, 0, 0)
	h.claim(alice, 1, 0)
	oldPos, newPos := pos(1, 64, 1), pos(20, 64, 1)
	h.buildAnchor(alice, oldPos)

	res := h.buildAnchor(alice, newPos)
	if !res.Relocated || res.EnergyTime != recipeValue {
		t.Fatalf("relocate: %+v", res)
	}
	if ok, _ := h.e.IsAnchorAt(h.ctx(), oldPos); ok {
		t.Fatalf("old position still bound")
	}
	drops, _ := h.e.DropsAt(h.ctx(), oldPos)
	if len(drops) == 0 {
		t.Fatalf("old container contents should spill")
	}
}

func TestUnclaimRefusedWhileAnchorInCell(t *testing.T) {
	h := newHarness(t)
	alice := player("Alice")
	h.claim(alice, 0, 0)
	h.claim(alice, 1, 0)
	h.buildAnchor(alice, pos(1, 64, 1))

	if err := h.e.Unclaim(h.ctx(), alice, cell(0, 0)); !errors.Is(err, model.ErrAnchorInCell) {
		t.Fatalf("err=%v want ErrAnchorInCell", err)
	}
	if err := h.e.Unclaim(h.ctx(), alice, cell(1, 0)); err != nil {
		t.Fatalf("Unclaim sibling: %v", err)
	}
	if v := h.info(alice, 0, 0); v.RegionID == 0 || v.Anchor == nil {
		t.Fatalf("remaining claim lost its region or anchor: %+v", v)
	}
	if err := h.e.Unclaim(h.ctx(), player("Bob"), cell(0, 0)); !errors.Is(err, model.ErrPermissionDenied) {
		t.Fatalf("stranger unclaim: %v", err)
	}
}

func TestUnclaimLastCellDeletesRegion(t *testing.T) {
	h := newHarness(t)
	alice := player("Alice")
	h.claim(alice, 0, 0)
	h.claim(alice, 0, 1)
	if err := h.e.Unclaim(h.ctx(), alice, cell(0, 0)); err != nil {
		t.Fatal(err)
	}
	if h.events.count(protocol.EventRegionDeleted) != 0 {
		t.Fatalf("region deleted with a claim left")
	}
	if err := h.e.Unclaim(h.ctx(), alice, cell(0, 1)); err != nil {
		t.Fatal(err)
	}
	if h.events.count(protocol.EventRegionDeleted) != 1 {
		t.Fatalf("region should go with its last claim")
	}
	regions, _ := h.mem.AllRegions(context.Background())
	if len(regions) != 0 {
		t.Fatalf("store regions=%+v", regions)
	}
}

func TestMembershipFlow(t *testing.T) {
	h := newHarness(t)
	alice, bob := player("Alice"), player("Bob")
	h.claim(alice, 0, 0)
	h.claim(alice, 1, 0)
	inside := pos(20, 64, 3)

	if ok, _ := h.e.HasPermission(h.ctx(), bob, inside, model.ActionBreak); ok {
		t.Fatalf("visitor can break by default")
	}
	if _, err := h.e.Accept(h.ctx(), bob); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("accept without invite: %v", err)
	}
	if _, err := h.e.Invite(h.ctx(), bob, cell(0, 0), alice.ID); !errors.Is(err, model.ErrPermissionDenied) {
		t.Fatalf("non-owner invite: %v", err)
	}
	if _, err := h.e.Invite(h.ctx(), alice, cell(0, 0), bob.ID); err != nil {
		t.Fatalf("Invite: %v", err)
	}
	m, err := h.e.Accept(h.ctx(), bob)
	if err != nil || m.Role != model.RoleMember {
		t.Fatalf("Accept: %+v err=%v", m, err)
	}
	// Membership covers the whole region.
	if ok, _ := h.e.HasPermission(h.ctx(), bob, inside, model.ActionBreak); !ok {
		t.Fatalf("member cannot break in the region")
	}
	mine, _ := h.e.ListMine(h.ctx(), bob)
	if len(mine.Member) != 1 {
		t.Fatalf("member list=%+v", mine.Member)
	}

	if err := h.e.Ban(h.ctx(), alice, cell(1, 0), bob.ID); err != nil {
		t.Fatalf("Ban: %v", err)
	}
	if ok, _ := h.e.HasPermission(h.ctx(), bob, inside, model.ActionEnter); ok {
		t.Fatalf("banned player may enter")
	}
	if len(h.info(alice, 0, 0).Members) != 0 {
		t.Fatalf("ban should drop the membership")
	}
	if _, err := h.e.Invite(h.ctx(), alice, cell(0, 0), bob.ID); !errors.Is(err, model.ErrInvalid) {
		t.Fatalf("invite banned: %v", err)
	}
	if err := h.e.Unban(h.ctx(), alice, cell(0, 0), bob.ID); err != nil {
		t.Fatalf("Unban: %v", err)
	}
	if err := h.e.Unban(h.ctx(), alice, cell(0, 0), bob.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("second unban: %v", err)
	}
}

func TestInviteExpires(t *testing.T) {
	h := newHarness(t)
	alice, bob := player("Alice"), player("Bob")
	h.claim(alice, 0, 0)
	if _, err := h.e.Invite(h.ctx(), alice, cell(0, 0), bob.ID); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(5*time.Minute + time.Second)
	if _, err := h.e.Accept(h.ctx(), bob); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expired invite accepted: %v", err)
	}
}

func TestDissolveAllNeedsConfirmation(t *testing.T) {
	h := newHarness(t)
	alice := player("Alice")
	h.claim(alice, 0, 0)
	h.claim(alice, 5, 5)

	if _, err := h.e.DissolveAll(h.ctx(), alice); !errors.Is(err, model.ErrNotConfirmed) {
		t.Fatalf("first call: %v", err)
	}
	h.clock.Advance(11 * time.Second)
	if _, err := h.e.DissolveAll(h.ctx(), alice); !errors.Is(err, model.ErrNotConfirmed) {
		t.Fatalf("late confirmation must re-arm: %v", err)
	}
	h.clock.Advance(2 * time.Second)
	n, err := h.e.DissolveAll(h.ctx(), alice)
	if err != nil || n != 2 {
		t.Fatalf("confirmed: n=%d err=%v", n, err)
	}
	mine, _ := h.e.ListMine(h.ctx(), alice)
	if len(mine.Owned) != 0 {
		t.Fatalf("claims left: %+v", mine.Owned)
	}
}

func TestDissolveAllRefundsUnanchoredBalance(t *testing.T) {
	h := newHarness(t)
	alice := player("Alice")
	h.claim(alice, 0, 0)
	if err := h.acct.Credit(context.Background(), alice.ID, 100); err != nil {
		t.Fatal(err)
	}
	if _, err := h.e.Deposit(h.ctx(), alice, cell(0, 0), 100); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	if _, err := h.e.DissolveAll(h.ctx(), alice); !errors.Is(err, model.ErrNotConfirmed) {
		t.Fatalf("first call: %v", err)
	}
	n, err := h.e.DissolveAll(h.ctx(), alice)
	if err != nil || n != 1 {
		t.Fatalf("confirmed: n=%d err=%v", n, err)
	}
	if got, _ := h.acct.Balance(context.Background(), alice.ID); got != 100 {
		t.Fatalf("account=%v want 100", got)
	}
}

func TestUnclaimRefundsOnceWhenUnitEmpties(t *testing.T) {
	h := newHarness(t)
	alice := player("Alice")
	h.claim(alice, 0, 0)
	h.claim(alice, 1, 0)
	if err := h.acct.Credit(context.Background(), alice.ID, 40); err != nil {
		t.Fatal(err)
	}
	if _, err := h.e.Deposit(h.ctx(), alice, cell(0, 0), 40); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	if err := h.e.Unclaim(h.ctx(), alice, cell(1, 0)); err != nil {
		t.Fatalf("Unclaim(1,0): %v", err)
	}
	if got, _ := h.acct.Balance(context.Background(), alice.ID); got != 0 {
		t.Fatalf("account=%v want 0 while the region survives", got)
	}
	if got := h.info(alice, 0, 0).EconomyBalance; got != 40 {
		t.Fatalf("region balance=%v want 40", got)
	}

	if err := h.e.Unclaim(h.ctx(), alice, cell(0, 0)); err != nil {
		t.Fatalf("Unclaim(0,0): %v", err)
	}
	if got, _ := h.acct.Balance(context.Background(), alice.ID); got != 40 {
		t.Fatalf("account=%v want 40", got)
	}
}

func TestTransferKeepsGraceAndSettingsAreRegionWide(t *testing.T) {
	h := newHarness(t)
	alice, bob := player("Alice"), player("Bob")
	h.claim(alice, 0, 0)
	h.claim(alice, 1, 0)
	h.tick(60)

	on, err := h.e.ToggleRule(h.ctx(), alice, cell(0, 0), model.RuleExplosion)
	if err != nil {
		t.Fatalf("ToggleRule: %v", err)
	}
	if got := h.info(alice, 1, 0).Rules[model.RuleExplosion.Key()]; got != on {
		t.Fatalf("rule not synchronised: %v want %v", got, on)
	}
	locked, err := h.e.ToggleLock(h.ctx(), alice, cell(1, 0))
	if err != nil || !locked {
		t.Fatalf("ToggleLock: %v %v", locked, err)
	}
	if ok, _ := h.e.HasPermission(h.ctx(), bob, pos(1, 64, 1), model.ActionEnter); ok {
		t.Fatalf("visitor may enter a locked claim")
	}
	if err := h.e.SetPermission(h.ctx(), alice, cell(0, 0), model.ScopeVisitor, model.ActionInteract, true); err != nil {
		t.Fatalf("SetPermission: %v", err)
	}
	if ok, _ := h.e.HasPermission(h.ctx(), bob, pos(20, 64, 1), model.ActionInteract); !ok {
		t.Fatalf("visitor interact bit not applied region-wide")
	}

	if err := h.e.Transfer(h.ctx(), alice, cell(0, 0), bob.ID); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	v := h.info(bob, 1, 0)
	if v.Owner != bob.ID || v.InitialGrace != 540 {
		t.Fatalf("after transfer: owner=%v grace=%d", v.Owner, v.InitialGrace)
	}
	if err := h.e.Rename(h.ctx(), alice, cell(0, 0), "Nope"); !errors.Is(err, model.ErrPermissionDenied) {
		t.Fatalf("old owner rename: %v", err)
	}
}

func TestRenameRejectsTakenRegionName(t *testing.T) {
	h := newHarness(t)
	alice, bob := player("Alice"), player("Bob")
	h.claim(alice, 0, 0)
	h.claim(alice, 1, 0)
	h.claim(bob, 10, 0)
	h.claim(bob, 11, 0)

	if err := h.e.Rename(h.ctx(), bob, cell(10, 0), "alice's claim"); !errors.Is(err, model.ErrNameTaken) {
		t.Fatalf("err=%v want ErrNameTaken", err)
	}
	if err := h.e.Rename(h.ctx(), bob, cell(10, 0), "Harbor"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if got := h.info(bob, 11, 0).UnitName; got != "Harbor" {
		t.Fatalf("unit name=%q", got)
	}
}

func TestHomes(t *testing.T) {
	h := newHarness(t)
	alice, bob := player("Alice"), player("Bob")
	h.claim(alice, 0, 0)
	home := pos(4, 70, 4)

	if _, err := h.e.HomeTarget(h.ctx(), alice, ""); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("no home yet: %v", err)
	}
	if err := h.e.SetHome(h.ctx(), alice, home, false); err != nil {
		t.Fatalf("SetHome: %v", err)
	}
	if got, err := h.e.HomeTarget(h.ctx(), alice, ""); err != nil || got != home {
		t.Fatalf("home=%v err=%v", got, err)
	}
	if _, err := h.e.HomeTarget(h.ctx(), bob, "Cell 0,0"); !errors.Is(err, model.ErrPermissionDenied) {
		t.Fatalf("private home: %v", err)
	}
	if err := h.e.SetHome(h.ctx(), alice, home, true); err != nil {
		t.Fatal(err)
	}
	if got, err := h.e.HomeTarget(h.ctx(), bob, "cell 0,0"); err != nil || got != home {
		t.Fatalf("public home=%v err=%v", got, err)
	}
}

func TestFilterExplosionProtectsAnchorsAndRules(t *testing.T) {
	h := newHarness(t)
	alice := player("Alice")
	h.claim(alice, 0, 0)
	h.claim(alice, 4, 4)
	anchorPos := pos(2, 64, 2)
	h.buildAnchor(alice, anchorPos)
	if _, err := h.e.ToggleRule(h.ctx(), alice, cell(4, 4), model.RuleExplosion); err != nil {
		t.Fatal(err)
	}

	blast := []model.BlockPos{anchorPos, pos(3, 64, 3), pos(70, 64, 70), pos(-50, 64, -50)}
	kept, err := h.e.FilterExplosion(h.ctx(), blast)
	if err != nil {
		t.Fatal(err)
	}
	explosionOn := model.DefaultRules().Get(model.RuleExplosion)
	for _, p := range kept {
		if p == anchorPos {
			t.Fatalf("anchor survived the filter")
		}
		if p == pos(70, 64, 70) && explosionOn {
			t.Fatalf("toggled claim still allows explosions")
		}
	}
}

func TestAnchorAccessNeedsTrust(t *testing.T) {
	h := newHarness(t)
	alice, bob := player("Alice"), player("Bob")
	h.claim(alice, 0, 0)
	p := pos(5, 64, 5)
	h.buildAnchor(alice, p)

	if _, err := h.e.Invite(h.ctx(), alice, cell(0, 0), bob.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := h.e.Accept(h.ctx(), bob); err != nil {
		t.Fatal(err)
	}
	if _, err := h.e.OpenContainer(h.ctx(), bob, p); !errors.Is(err, model.ErrPermissionDenied) {
		t.Fatalf("plain member opened the power cell: %v", err)
	}
	if err := h.e.SetTrusted(h.ctx(), alice, cell(0, 0), bob.ID, true); err != nil {
		t.Fatalf("SetTrusted: %v", err)
	}
	if v, err := h.e.OpenContainer(h.ctx(), bob, p); err != nil || !v.Anchor {
		t.Fatalf("trusted open: %+v err=%v", v, err)
	}
	if res, err := h.e.CloseContainer(h.ctx(), bob, p); err != nil || res.Delta != 0 {
		t.Fatalf("close without change: %+v err=%v", res, err)
	}
}

func TestReloadRebuildsCache(t *testing.T) {
	h := newHarness(t)
	alice := player("Alice")
	h.claim(alice, 0, 0)
	h.claim(alice, 1, 0)
	h.buildAnchor(alice, pos(1, 64, 1))

	if err := h.e.Reload(h.ctx()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	st, err := h.e.Stats(h.ctx())
	if err != nil {
		t.Fatal(err)
	}
	if st.Registry.Claims != 2 || st.Registry.Regions != 1 || st.Registry.Anchors != 1 || !st.Loaded {
		t.Fatalf("stats=%+v", st)
	}
	if ok, _ := h.e.IsAnchorAt(h.ctx(), pos(1, 64, 1)); !ok {
		t.Fatalf("anchor index lost on reload")
	}
}

func TestAdminOperations(t *testing.T) {
	h := newHarness(t)
	alice := player("Alice")
	admin := Actor{ID: uuid.New(), Name: "Op", Admin: true}
	c := h.claim(alice, 0, 0)

	if _, err := h.e.ListAll(h.ctx(), alice); !errors.Is(err, model.ErrPermissionDenied) {
		t.Fatalf("ListAll by player: %v", err)
	}
	all, err := h.e.ListAll(h.ctx(), admin)
	if err != nil || len(all) != 1 {
		t.Fatalf("ListAll: %+v err=%v", all, err)
	}
	if err := h.e.AdminRemove(h.ctx(), alice, c.ID); !errors.Is(err, model.ErrPermissionDenied) {
		t.Fatalf("AdminRemove by player: %v", err)
	}
	if err := h.e.AdminRemove(h.ctx(), admin, c.ID); err != nil {
		t.Fatalf("AdminRemove: %v", err)
	}
	if err := h.e.AdminRemove(h.ctx(), admin, c.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("second AdminRemove: %v", err)
	}
}
