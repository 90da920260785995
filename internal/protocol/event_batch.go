package protocol

// EventBatchReqMsg asks the feed for history after SinceCursor. World, Kinds
// and ClaimID narrow the replay on top of the session's HELLO world.
type EventBatchReqMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	ReqID           string   `json:"req_id"`
	SinceCursor     uint64   `json:"since_cursor"`
	Limit           int      `json:"limit"`
	World           string   `json:"world,omitempty"`
	Kinds           []string `json:"kinds,omitempty"`
	ClaimID         int64    `json:"claim_id,omitempty"`
}

// Match reports whether ev passes the request filters. Events without a
// world pass any world filter.
func (r EventBatchReqMsg) Match(ev Event) bool {
	if r.World != "" && ev.World != "" && ev.World != r.World {
		return false
	}
	if r.ClaimID != 0 && ev.ClaimID != r.ClaimID {
		return false
	}
	if len(r.Kinds) == 0 {
		return true
	}
	for _, k := range r.Kinds {
		if k == ev.Kind {
			return true
		}
	}
	return false
}

type EventBatchItem struct {
	Cursor uint64 `json:"cursor"`
	Event  Event  `json:"event"`
}

// EventBatchMsg answers EVENT_BATCH_REQ. Gap is set when events after the
// requested cursor have already left the history ring.
type EventBatchMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	ReqID           string           `json:"req_id"`
	Events          []EventBatchItem `json:"events"`
	NextCursor      uint64           `json:"next_cursor"`
	Gap             bool             `json:"gap,omitempty"`
}
