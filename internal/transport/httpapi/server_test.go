package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"voxelclaims.ai/internal/economy/accounts"
	"voxelclaims.ai/internal/persistence/store"
	"voxelclaims.ai/internal/protocol"
	"voxelclaims.ai/internal/sim/catalogs"
	"voxelclaims.ai/internal/sim/engine"
	"voxelclaims.ai/internal/sim/model"
	"voxelclaims.ai/internal/sim/tuning"
)

const recipeJSON = `{"slots":{"13":"NETHER_STAR"},"items":[{"item":"NETHER_STAR","value":86400},{"item":"COAL","value":60}]}`

type fixture struct {
	e    *echo.Echo
	acct *accounts.Memory
}

func newFixture(t *testing.T, adminEnabled bool) *fixture {
	t.Helper()
	var recipe catalogs.RecipeCatalog
	require.NoError(t, catalogs.ParseRecipe([]byte(recipeJSON), &recipe))
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	async := store.NewAsync(store.NewMemory(), 64, log)
	acct := accounts.NewMemory()
	eng := engine.New(engine.Config{
		Tuning:      tuning.Defaults(),
		Recipe:      recipe,
		Store:       async,
		Accounts:    acct,
		Log:         log,
		ManualTicks: true,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = eng.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = async.Close()
	})
	rctx, rcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer rcancel()
	require.NoError(t, eng.Reload(rctx))

	e := echo.New()
	New(eng, Options{AdminEnabled: adminEnabled, Log: log}).Register(e)
	return &fixture{e: e, acct: acct}
}

type call struct {
	method, path string
	player       uuid.UUID
	body         any
	remote       string
	admin        bool
}

func (f *fixture) do(t *testing.T, c call) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if c.body != nil {
		b, err := json.Marshal(c.body)
		require.NoError(t, err)
		rd = strings.NewReader(string(b))
	}
	req := httptest.NewRequest(c.method, c.path, rd)
	if rd != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if c.player != uuid.Nil {
		req.Header.Set(HeaderPlayerID, c.player.String())
		req.Header.Set(HeaderPlayerName, "Tester")
	}
	if c.admin {
		req.Header.Set(HeaderAdmin, "true")
	}
	if c.remote != "" {
		req.RemoteAddr = c.remote
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func TestClaimLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t, false)
	alice, bob := uuid.New(), uuid.New()

	code, body := f.do(t, call{method: http.MethodPost, path: "/v1/cells/overworld/0/0/claim", player: alice})
	require.Equal(t, http.StatusCreated, code, body)
	require.Equal(t, "Cell 0,0", body["display_name"])

	code, body = f.do(t, call{method: http.MethodPost, path: "/v1/cells/overworld/0/0/claim", player: bob})
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, protocol.ErrAlreadyClaimed, body["code"])

	code, body = f.do(t, call{method: http.MethodGet, path: "/v1/cells/overworld/0/0", player: bob})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "visitor", body["tier"])

	code, _ = f.do(t, call{method: http.MethodDelete, path: "/v1/cells/overworld/0/0", player: bob})
	require.Equal(t, http.StatusForbidden, code)

	code, _ = f.do(t, call{method: http.MethodDelete, path: "/v1/cells/overworld/0/0", player: alice})
	require.Equal(t, http.StatusNoContent, code)

	code, body = f.do(t, call{method: http.MethodGet, path: "/v1/cells/overworld/0/0", player: alice})
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, protocol.ErrNotFound, body["code"])
}

func TestAnonymousAndMalformedRequests(t *testing.T) {
	f := newFixture(t, false)
	code, body := f.do(t, call{method: http.MethodPost, path: "/v1/cells/overworld/0/0/claim"})
	require.Equal(t, http.StatusBadRequest, code)
	require.Contains(t, body["error"], HeaderPlayerID)

	code, _ = f.do(t, call{method: http.MethodPost, path: "/v1/cells/overworld/zero/0/claim", player: uuid.New()})
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, call{method: http.MethodPost, path: "/v1/cells/overworld/0/0/rules/no-such-rule", player: uuid.New()})
	require.Equal(t, http.StatusBadRequest, code)
}

func TestConflictListsCandidates(t *testing.T) {
	f := newFixture(t, false)
	alice := uuid.New()
	for _, x := range []int{0, 2} {
		code, _ := f.do(t, call{method: http.MethodPost, path: fmt.Sprintf("/v1/cells/w/%d/0/claim", x), player: alice})
		require.Equal(t, http.StatusCreated, code)
	}
	code, body := f.do(t, call{method: http.MethodPost, path: "/v1/cells/w/1/0/claim", player: alice})
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, protocol.ErrConflict, body["code"])
	cands, _ := body["candidates"].([]any)
	require.Len(t, cands, 2)

	unit := cands[0].(map[string]any)["unit"].(map[string]any)
	into := fmt.Sprintf("%s:%v", unit["kind"], unit["id"])
	code, body = f.do(t, call{method: http.MethodPost, path: "/v1/cells/w/1/0/claim", player: alice, body: claimBody{Into: into}})
	require.Equal(t, http.StatusCreated, code, body)
	require.NotZero(t, body["region_id"])
}

func TestEconomyStatuses(t *testing.T) {
	f := newFixture(t, false)
	alice := uuid.New()
	code, _ := f.do(t, call{method: http.MethodPost, path: "/v1/cells/w/0/0/claim", player: alice})
	require.Equal(t, http.StatusCreated, code)
	require.NoError(t, f.acct.Credit(context.Background(), alice, 10))

	code, body := f.do(t, call{method: http.MethodPost, path: "/v1/cells/w/0/0/deposit", player: alice, body: amountBody{Amount: 4}})
	require.Equal(t, http.StatusOK, code, body)
	require.Equal(t, 4.0, body["economy_balance"])

	code, body = f.do(t, call{method: http.MethodPost, path: "/v1/cells/w/0/0/withdraw", player: alice, body: amountBody{Amount: 5}})
	require.Equal(t, http.StatusPaymentRequired, code)
	require.Equal(t, protocol.ErrInsufficientFunds, body["code"])

	code, _ = f.do(t, call{method: http.MethodPost, path: "/v1/cells/w/0/0/deposit", player: alice, body: amountBody{Amount: -1}})
	require.Equal(t, http.StatusBadRequest, code)
}

func TestDissolveNeedsSecondCall(t *testing.T) {
	f := newFixture(t, false)
	alice := uuid.New()
	code, _ := f.do(t, call{method: http.MethodPost, path: "/v1/cells/w/0/0/claim", player: alice})
	require.Equal(t, http.StatusCreated, code)

	code, body := f.do(t, call{method: http.MethodPost, path: "/v1/me/dissolve", player: alice})
	require.Equal(t, http.StatusPreconditionRequired, code)
	require.Equal(t, protocol.ErrNotConfirmed, body["code"])

	code, body = f.do(t, call{method: http.MethodPost, path: "/v1/me/dissolve", player: alice})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 1.0, body["dissolved"])
}

func TestInviteFlow(t *testing.T) {
	f := newFixture(t, false)
	alice, bob := uuid.New(), uuid.New()
	code, _ := f.do(t, call{method: http.MethodPost, path: "/v1/cells/w/0/0/claim", player: alice})
	require.Equal(t, http.StatusCreated, code)

	code, _ = f.do(t, call{method: http.MethodPost, path: "/v1/cells/w/0/0/invites", player: alice, body: playerBody{Player: "nobody"}})
	require.Equal(t, http.StatusBadRequest, code)

	code, body := f.do(t, call{method: http.MethodPost, path: "/v1/cells/w/0/0/invites", player: alice, body: playerBody{Player: bob.String()}})
	require.Equal(t, http.StatusOK, code, body)
	require.Equal(t, bob.String(), body["target"])

	code, body = f.do(t, call{method: http.MethodPost, path: "/v1/me/invites/accept", player: bob})
	require.Equal(t, http.StatusOK, code, body)
	require.Equal(t, string(model.RoleMember), body["role"])

	code, body = f.do(t, call{method: http.MethodGet, path: "/v1/blocks/w/3/64/3/can/break", player: bob})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["allowed"])
}

func TestAdminRoutesNeedLoopbackAndFlag(t *testing.T) {
	admin := uuid.New()
	off := newFixture(t, false)
	code, _ := off.do(t, call{method: http.MethodGet, path: "/v1/admin/claims", player: admin, admin: true, remote: "127.0.0.1:4000"})
	require.Equal(t, http.StatusForbidden, code)

	on := newFixture(t, true)
	code, _ = on.do(t, call{method: http.MethodGet, path: "/v1/admin/claims", player: admin, admin: true, remote: "192.0.2.10:4000"})
	require.Equal(t, http.StatusForbidden, code)

	code, _ = on.do(t, call{method: http.MethodGet, path: "/v1/admin/stats", player: admin, admin: true, remote: "127.0.0.1:4000"})
	require.Equal(t, http.StatusOK, code)
	code, _ = on.do(t, call{method: http.MethodPost, path: "/v1/admin/reload", player: admin, admin: true, remote: "[::1]:4000"})
	require.Equal(t, http.StatusNoContent, code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{model.ErrAlreadyClaimed, http.StatusConflict},
		{&model.ConflictError{}, http.StatusConflict},
		{model.ErrNameTaken, http.StatusConflict},
		{model.ErrAnchorInCell, http.StatusConflict},
		{model.ErrNotFound, http.StatusNotFound},
		{model.ErrPermissionDenied, http.StatusForbidden},
		{model.ErrInsufficientFunds, http.StatusPaymentRequired},
		{model.StoreErr("create claim", io.ErrClosedPipe), http.StatusServiceUnavailable},
		{model.ErrNotConfirmed, http.StatusPreconditionRequired},
		{fmt.Errorf("x: %w", model.ErrInvalid), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, StatusFor(tc.err), "%v", tc.err)
	}
}
