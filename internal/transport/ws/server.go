package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voxelclaims.ai/internal/protocol"
)

const (
	defaultHistory = 4096
	defaultQueue   = 64
	maxQueue       = 1024
	defaultBatch   = 200
)

type Config struct {
	Params   protocol.ServerParams
	Catalogs protocol.CatalogDigests
	// History is how many past events EVENT_BATCH_REQ can replay.
	History int
}

// Server is the claim event feed. It implements the engine's event sink: every
// published event gets a cursor, lands in a bounded history ring and is fanned
// out to connected clients without blocking the publisher.
type Server struct {
	cfg Config
	log *slog.Logger

	upgrader websocket.Upgrader

	mu     sync.Mutex
	ring   []protocol.EventBatchItem
	cursor uint64
	subs   map[*subscriber]struct{}

	dropped atomic.Uint64
}

type subscriber struct {
	id    string
	world string
	out   chan []byte
}

func NewServer(cfg Config, logger *slog.Logger) *Server {
	if cfg.History <= 0 {
		cfg.History = defaultHistory
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:  cfg,
		log:  logger.With("component", "ws"),
		subs: map[*subscriber]struct{}{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Publish records ev and queues it for every matching subscriber. Slow
// subscribers lose events; they can catch up with EVENT_BATCH_REQ.
func (s *Server) Publish(ev protocol.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor++
	item := protocol.EventBatchItem{Cursor: s.cursor, Event: ev}
	if len(s.ring) >= s.cfg.History {
		copy(s.ring, s.ring[1:])
		s.ring[len(s.ring)-1] = item
	} else {
		s.ring = append(s.ring, item)
	}
	if len(s.subs) == 0 {
		return
	}
	b, err := json.Marshal(protocol.EventMsg{
		Type:            protocol.TypeEvent,
		ProtocolVersion: protocol.Version,
		Cursor:          item.Cursor,
		Event:           ev,
	})
	if err != nil {
		s.log.Error("marshal event", "kind", ev.Kind, "err", err)
		return
	}
	for sub := range s.subs {
		if sub.world != "" && ev.World != "" && sub.world != ev.World {
			continue
		}
		select {
		case sub.out <- b:
		default:
			s.dropped.Add(1)
		}
	}
}

// Cursor is the cursor of the last published event.
func (s *Server) Cursor() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Server) Dropped() uint64 { return s.dropped.Load() }

// Since returns up to limit events after cursor that pass match, the cursor
// to resume from, and whether older events were already evicted.
func (s *Server) Since(cursor uint64, limit int, match func(protocol.Event) bool) ([]protocol.EventBatchItem, uint64, bool) {
	if limit <= 0 || limit > 1000 {
		limit = defaultBatch
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []protocol.EventBatchItem{}
	next := cursor
	gap := len(s.ring) > 0 && s.ring[0].Cursor > cursor+1
	for _, it := range s.ring {
		if it.Cursor <= cursor {
			continue
		}
		if len(out) >= limit {
			break
		}
		next = it.Cursor
		if match != nil && !match(it.Event) {
			continue
		}
		out = append(out, it)
	}
	if len(out) < limit && s.cursor > next {
		next = s.cursor
	}
	return out, next, gap
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sub := s.handshake(conn)
		if sub == nil {
			return
		}
		defer s.remove(sub)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-sub.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				s.reply(ctx, sub, errorMsg(protocol.ErrProtoBadRequest, "malformed json"))
				continue
			}
			switch base.Type {
			case protocol.TypeEventBatchReq:
				s.reply(ctx, sub, s.batch(msg, sub.world))
			default:
				s.reply(ctx, sub, errorMsg(protocol.ErrProtoBadRequest, "unsupported message type "+base.Type))
			}
		}
	}
}

func (s *Server) batch(raw []byte, world string) any {
	if err := protocol.ValidateEventBatchReq(raw); err != nil {
		return errorMsg(protocol.ErrProtoBadRequest, err.Error())
	}
	var req protocol.EventBatchReqMsg
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorMsg(protocol.ErrProtoBadRequest, err.Error())
	}
	if req.ProtocolVersion != protocol.Version {
		return errorMsg(protocol.ErrProtoBadRequest, "bad protocol_version")
	}
	session := protocol.EventBatchReqMsg{World: world}
	events, next, gap := s.Since(req.SinceCursor, req.Limit, func(ev protocol.Event) bool {
		return session.Match(ev) && req.Match(ev)
	})
	return protocol.EventBatchMsg{
		Type:            protocol.TypeEventBatch,
		ProtocolVersion: protocol.Version,
		ReqID:           req.ReqID,
		Events:          events,
		NextCursor:      next,
		Gap:             gap,
	}
}

// reply queues a direct response. Unlike fanout it waits for room.
func (s *Server) reply(ctx context.Context, sub *subscriber, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Error("marshal reply", "err", err)
		return
	}
	select {
	case sub.out <- b:
	case <-ctx.Done():
	}
}

func errorMsg(code, message string) protocol.ErrorMsg {
	return protocol.ErrorMsg{Type: protocol.TypeError, ProtocolVersion: protocol.Version, Code: code, Message: message}
}

func (s *Server) handshake(conn *websocket.Conn) *subscriber {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}
	if err := protocol.ValidateHello(msg); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil
	}
	if hello.ClientName == "" {
		hello.ClientName = "client"
	}

	maxQ := hello.MaxQueue
	if maxQ <= 0 {
		maxQ = defaultQueue
	}
	if maxQ > maxQueue {
		maxQ = maxQueue
	}
	sub := &subscriber{id: uuid.NewString(), world: hello.World, out: make(chan []byte, maxQ)}

	// Register before reading the cursor so nothing published after WELCOME is missed.
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	cursor := s.cursor
	s.mu.Unlock()

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sub.id,
		Cursor:          cursor,
		Params:          s.cfg.Params,
		Catalogs:        s.cfg.Catalogs,
	}
	if err := writeJSON(conn, welcome); err != nil {
		s.remove(sub)
		return nil
	}
	s.log.Info("feed client connected", "session", sub.id, "client", hello.ClientName, "world", hello.World)
	return sub
}

func (s *Server) remove(sub *subscriber) {
	s.mu.Lock()
	_, ok := s.subs[sub]
	delete(s.subs, sub)
	s.mu.Unlock()
	if ok {
		s.log.Info("feed client disconnected", "session", sub.id)
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
