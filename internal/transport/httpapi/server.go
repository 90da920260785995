// Package httpapi exposes the actor-facing claim operations over HTTP.
package httpapi

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"voxelclaims.ai/internal/protocol"
	"voxelclaims.ai/internal/sim/engine"
	"voxelclaims.ai/internal/sim/model"
)

const (
	HeaderPlayerID   = "X-Player-ID"
	HeaderPlayerName = "X-Player-Name"
	HeaderAdmin      = "X-Player-Admin"

	actorKey = "actor"
)

type Options struct {
	// AdminEnabled lets loopback callers act as admins through X-Player-Admin.
	AdminEnabled bool
	Log          *slog.Logger
}

type Server struct {
	eng  *engine.Engine
	opts Options
	log  *slog.Logger
}

func New(eng *engine.Engine, opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{eng: eng, opts: opts, log: log.With("component", "httpapi")}
}

// Register mounts every route under /v1.
func (s *Server) Register(e *echo.Echo) {
	v1 := e.Group("/v1", s.identify)

	cells := v1.Group("/cells/:world/:x/:z")
	{
		cells.GET("", s.info)
		cells.POST("/claim", s.claim)
		cells.DELETE("", s.unclaim)
		cells.POST("/rename", s.rename)
		cells.POST("/lock", s.toggleLock)
		cells.POST("/rules/:rule", s.toggleRule)
		cells.PUT("/permissions/:scope/:action", s.setPermission)
		cells.POST("/invites", s.invite)
		cells.POST("/kick", s.kick)
		cells.POST("/leave", s.leave)
		cells.POST("/trust", s.trust)
		cells.POST("/bans", s.ban)
		cells.DELETE("/bans/:player", s.unban)
		cells.POST("/transfer", s.transfer)
		cells.POST("/deposit", s.deposit)
		cells.POST("/withdraw", s.withdraw)
	}

	me := v1.Group("/me")
	{
		me.GET("/claims", s.listMine)
		me.POST("/dissolve", s.dissolveAll)
		me.GET("/invites", s.pendingInvites)
		me.POST("/invites/accept", s.accept)
		me.PUT("/home", s.setHome)
		me.GET("/home", s.home)
	}

	blocks := v1.Group("/blocks/:world/:x/:y/:z")
	{
		blocks.GET("/can/:action", s.hasPermission)
		blocks.GET("/rules/:rule", s.ruleAllows)
		blocks.GET("/container", s.container)
		blocks.PUT("/container", s.placeContainer)
		blocks.DELETE("/container", s.breakContainer)
		blocks.POST("/container/open", s.openContainer)
		blocks.POST("/container/close", s.closeContainer)
		blocks.POST("/container/items", s.storeItems)
		blocks.POST("/container/take", s.takeItems)
		blocks.PUT("/container/slots/:slot", s.setSlot)
		blocks.GET("/drops", s.drops)
	}

	worldEvents := v1.Group("/world")
	{
		worldEvents.POST("/explosion", s.filterExplosion)
		worldEvents.POST("/destroy", s.destroyContainer)
		worldEvents.GET("/anchors", s.isAnchorAt)
	}

	admin := v1.Group("/admin", s.adminOnly)
	{
		admin.GET("/claims", s.listAll)
		admin.DELETE("/claims/:id", s.adminRemove)
		admin.POST("/reload", s.reload)
		admin.GET("/stats", s.stats)
	}
}

// identify resolves the acting player from the request headers.
func (s *Server) identify(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		var a engine.Actor
		if raw := strings.TrimSpace(req.Header.Get(HeaderPlayerID)); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				return s.fail(c, invalid("bad %s header", HeaderPlayerID))
			}
			a.ID = id
		}
		a.Name = strings.TrimSpace(req.Header.Get(HeaderPlayerName))
		if s.opts.AdminEnabled && isLoopbackRemote(req.RemoteAddr) {
			a.Admin, _ = strconv.ParseBool(req.Header.Get(HeaderAdmin))
		}
		c.Set(actorKey, a)
		return next(c)
	}
}

func (s *Server) adminOnly(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !actorOf(c).Admin {
			return s.fail(c, model.ErrPermissionDenied)
		}
		return next(c)
	}
}

func actorOf(c echo.Context) engine.Actor {
	a, _ := c.Get(actorKey).(engine.Actor)
	return a
}

// player returns the actor and fails when the request is anonymous.
func player(c echo.Context) (engine.Actor, error) {
	a := actorOf(c)
	if a.ID == uuid.Nil {
		return a, invalid("%s header is required", HeaderPlayerID)
	}
	return a, nil
}

func isLoopbackRemote(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(remoteAddr))
	if err != nil {
		host = strings.TrimSpace(remoteAddr)
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

type errorBody struct {
	Code       string            `json:"code"`
	Error      string            `json:"error"`
	Candidates []model.Candidate `json:"candidates,omitempty"`
}

// StatusFor maps an operation error onto its HTTP status.
func StatusFor(err error) int {
	var ce *model.ConflictError
	switch {
	case errors.As(err, &ce),
		errors.Is(err, model.ErrAlreadyClaimed),
		errors.Is(err, model.ErrNameTaken),
		errors.Is(err, model.ErrAnchorInCell):
		return http.StatusConflict
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, model.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, model.ErrNotConfirmed):
		return http.StatusPreconditionRequired
	case errors.Is(err, model.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrStore):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c echo.Context, err error) error {
	status := StatusFor(err)
	body := errorBody{Code: protocol.CodeFor(err), Error: err.Error()}
	var ce *model.ConflictError
	if errors.As(err, &ce) {
		body.Candidates = ce.Candidates
	}
	if status >= http.StatusInternalServerError {
		s.log.Warn("request failed", "method", c.Request().Method, "path", c.Path(), "status", status, "err", err)
	}
	return c.JSON(status, body)
}

func ok(c echo.Context, v any) error {
	if v == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, v)
}
