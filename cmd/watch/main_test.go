package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voxelclaims.ai/internal/protocol"
	"voxelclaims.ai/internal/transport/ws"
)

func TestCatchUpThenFollow(t *testing.T) {
	feed := ws.NewServer(ws.Config{}, nil)
	for i := int64(1); i <= 3; i++ {
		feed.Publish(protocol.Event{Kind: protocol.EventClaimed, ClaimID: i})
	}
	srv := httptest.NewServer(feed.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ClientName: "t"}); err != nil {
		t.Fatalf("hello: %v", err)
	}

	var buf bytes.Buffer
	out := json.NewEncoder(&buf)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	next := func() []byte {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		return msg
	}

	// WELCOME triggers a replay request for cursors after 1.
	if err := handle(conn, out, logger, next(), 1); err != nil {
		t.Fatalf("welcome: %v", err)
	}
	if err := handle(conn, out, logger, next(), 1); err != nil {
		t.Fatalf("batch: %v", err)
	}
	got := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(got) != 2 {
		t.Fatalf("replayed lines=%v", got)
	}
	var first line
	if err := json.Unmarshal([]byte(got[0]), &first); err != nil {
		t.Fatalf("line: %v", err)
	}
	if first.Cursor != 2 || first.Event.ClaimID != 2 {
		t.Fatalf("first=%+v", first)
	}
}

func TestHandleLiveEventAndError(t *testing.T) {
	var buf bytes.Buffer
	out := json.NewEncoder(&buf)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	msg, _ := json.Marshal(protocol.EventMsg{Type: protocol.TypeEvent, ProtocolVersion: protocol.Version, Cursor: 9, Event: protocol.Event{Kind: protocol.EventDissolved, ClaimID: 5}})
	if err := handle(nil, out, logger, msg, 0); err != nil {
		t.Fatalf("event: %v", err)
	}
	if !strings.Contains(buf.String(), `"cursor":9`) || !strings.Contains(buf.String(), protocol.EventDissolved) {
		t.Fatalf("out=%s", buf.String())
	}

	msg, _ = json.Marshal(protocol.ErrorMsg{Type: protocol.TypeError, Code: protocol.ErrProtoBadRequest, Message: "nope"})
	if err := handle(nil, out, logger, msg, 0); err != nil {
		t.Fatalf("error msg: %v", err)
	}
	if err := handle(nil, out, logger, []byte("not json"), 0); err == nil {
		t.Fatalf("expected decode error")
	}
}
