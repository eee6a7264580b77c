package ws

// Wire format: every websocket frame is one JSON-encoded event.Event
// ({"name": ..., "payload": ...}). Events are written in emission order per
// producer; no ordering is guaranteed across producers.

// GenerateRequest is the body of POST /api/generate.
type GenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// GenerateResponse reports the outcome of a completed relay session. Tokens
// themselves travel over the websocket, not in this response.
type GenerateResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// SignalResponse is the body of GET /api/signal.
type SignalResponse struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Change float64 `json:"change"`
}
