package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
	// World restricts the feed to one world; empty means all.
	World    string `json:"world,omitempty"`
	MaxQueue int    `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	SessionID       string         `json:"session_id"`
	Cursor          uint64         `json:"cursor"`
	Params          ServerParams   `json:"params"`
	Catalogs        CatalogDigests `json:"catalogs"`
}

type ServerParams struct {
	CellSize       int     `json:"cell_size"`
	TickIntervalMs int     `json:"tick_interval_ms"`
	PricePerSecond float64 `json:"price_per_second"`
	GraceSeconds   int64   `json:"grace_seconds"`
	EconomyEnabled bool    `json:"economy_enabled"`
	DrainMode      string  `json:"drain_mode"`
}

type CatalogDigests struct {
	RecipeDigest string `json:"recipe_digest"`
	TuningDigest string `json:"tuning_digest,omitempty"`
}

// EVENT (server -> client)
type EventMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Cursor          uint64 `json:"cursor"`
	Event           Event  `json:"event"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
