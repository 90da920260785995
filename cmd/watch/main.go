package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"

	"voxelclaims.ai/internal/logging"
	"voxelclaims.ai/internal/protocol"
)

func main() {
	var (
		url   = flag.String("url", "ws://localhost:8080/v1/events", "event feed url")
		name  = flag.String("name", "watch", "client name")
		world = flag.String("world", "", "only events of this world (optional)")
		since = flag.Uint64("since", 0, "replay buffered events after this cursor before following")
	)
	flag.Parse()

	logger := logging.FromEnv().With("component", "watch")
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Error("dial", "url", *url, "err", err)
		os.Exit(1)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
		World:           *world,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Error("send HELLO", "err", err)
		os.Exit(1)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}()

	out := json.NewEncoder(os.Stdout)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.Info("feed closed", "err", err)
			}
			return
		}
		if err := handle(conn, out, logger, msg, *since); err != nil {
			logger.Warn("bad message", "err", err)
		}
	}
}

func handle(conn *websocket.Conn, out *json.Encoder, logger *slog.Logger, msg []byte, since uint64) error {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return err
	}
	switch base.Type {
	case protocol.TypeWelcome:
		var w protocol.WelcomeMsg
		if err := json.Unmarshal(msg, &w); err != nil {
			return err
		}
		logger.Info("WELCOME", "session", w.SessionID, "cursor", w.Cursor, "cell_size", w.Params.CellSize, "drain_mode", w.Params.DrainMode)
		if since > 0 && since < w.Cursor {
			return conn.WriteJSON(protocol.EventBatchReqMsg{
				Type:            protocol.TypeEventBatchReq,
				ProtocolVersion: protocol.Version,
				ReqID:           fmt.Sprintf("since-%d", since),
				SinceCursor:     since,
			})
		}
	case protocol.TypeEventBatch:
		var b protocol.EventBatchMsg
		if err := json.Unmarshal(msg, &b); err != nil {
			return err
		}
		if b.Gap {
			logger.Warn("history gap; some events before the first replayed cursor are gone", "since", since)
		}
		for _, it := range b.Events {
			if err := printEvent(out, it.Cursor, it.Event); err != nil {
				return err
			}
		}
	case protocol.TypeEvent:
		var ev protocol.EventMsg
		if err := json.Unmarshal(msg, &ev); err != nil {
			return err
		}
		return printEvent(out, ev.Cursor, ev.Event)
	case protocol.TypeError:
		var e protocol.ErrorMsg
		if err := json.Unmarshal(msg, &e); err != nil {
			return err
		}
		logger.Warn("server error", "code", e.Code, "message", e.Message)
	}
	return nil
}

type line struct {
	Cursor uint64         `json:"cursor"`
	Event  protocol.Event `json:"event"`
}

func printEvent(out *json.Encoder, cursor uint64, ev protocol.Event) error {
	return out.Encode(line{Cursor: cursor, Event: ev})
}
