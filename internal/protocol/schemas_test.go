package protocol_test

import (
	"encoding/json"
	"testing"
	"time"

	"voxelclaims.ai/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	hello, _ := json.Marshal(protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      "map-overlay",
		MaxQueue:        16,
	})
	if err := protocol.ValidateHello(hello); err != nil {
		t.Fatalf("hello: %v", err)
	}

	req, _ := json.Marshal(protocol.EventBatchReqMsg{
		Type:            protocol.TypeEventBatchReq,
		ProtocolVersion: protocol.Version,
		ReqID:           "r1",
		SinceCursor:     42,
		Limit:           100,
	})
	if err := protocol.ValidateEventBatchReq(req); err != nil {
		t.Fatalf("batch req: %v", err)
	}
}

func TestSchemas_RejectBadMessages(t *testing.T) {
	bad := []string{
		`{"type":"WELCOME","protocol_version":"1.0"}`,
		`{"type":"HELLO"}`,
		`{"type":"HELLO","protocol_version":"1.0","max_queue":-1}`,
		`not json`,
	}
	for _, raw := range bad {
		if err := protocol.ValidateHello([]byte(raw)); err == nil {
			t.Fatalf("expected %s rejected", raw)
		}
	}
	if err := protocol.ValidateEventBatchReq([]byte(`{"type":"EVENT_BATCH_REQ","protocol_version":"1.0","since_cursor":1,"limit":5000}`)); err == nil {
		t.Fatalf("expected oversized limit rejected")
	}
	if err := protocol.ValidateEventBatchReq([]byte(`{"type":"EVENT_BATCH_REQ","protocol_version":"1.0","since_cursor":1,"kinds":"CLAIMED"}`)); err == nil {
		t.Fatalf("expected scalar kinds rejected")
	}
}

func TestEventBatchReqMatch(t *testing.T) {
	ev := protocol.Event{Kind: protocol.EventClaimed, World: "nether", ClaimID: 4}
	cases := []struct {
		name string
		req  protocol.EventBatchReqMsg
		want bool
	}{
		{"no filters", protocol.EventBatchReqMsg{}, true},
		{"same world", protocol.EventBatchReqMsg{World: "nether"}, true},
		{"other world", protocol.EventBatchReqMsg{World: "overworld"}, false},
		{"kind listed", protocol.EventBatchReqMsg{Kinds: []string{protocol.EventUnclaimed, protocol.EventClaimed}}, true},
		{"kind missing", protocol.EventBatchReqMsg{Kinds: []string{protocol.EventUnclaimed}}, false},
		{"claim match", protocol.EventBatchReqMsg{ClaimID: 4}, true},
		{"claim mismatch", protocol.EventBatchReqMsg{ClaimID: 5}, false},
	}
	for _, tc := range cases {
		if got := tc.req.Match(ev); got != tc.want {
			t.Fatalf("%s: Match=%v want %v", tc.name, got, tc.want)
		}
	}
	if !(protocol.EventBatchReqMsg{World: "overworld"}).Match(protocol.Event{Kind: protocol.EventReloaded}) {
		t.Fatalf("world-less events should pass a world filter")
	}
}

func TestEventJSONOmitsEmptyFields(t *testing.T) {
	b, err := json.Marshal(protocol.Event{Kind: protocol.EventClaimed, Time: time.Unix(0, 0).UTC(), ClaimID: 7})
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatal(err)
	}
	if _, ok := m["region_id"]; ok {
		t.Fatalf("region_id should be omitted: %s", b)
	}
	if m["kind"] != protocol.EventClaimed || m["claim_id"].(float64) != 7 {
		t.Fatalf("unexpected event json: %s", b)
	}
}
