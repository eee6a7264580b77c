package event

// Event is a single named notification bound for the UI layer.
type Event struct {
	Name    string `json:"name"`
	Payload any    `json:"payload,omitempty"`
}

// Sink is the outbound boundary to the UI host. Emit is fire-and-forget:
// implementations must be safe for concurrent use and must never block the
// caller indefinitely or report failure back to it. A sink that cannot
// deliver an event drops it.
type Sink interface {
	Emit(name string, payload any)
}

// Func adapts a plain function to the Sink interface.
type Func func(name string, payload any)

func (f Func) Emit(name string, payload any) { f(name, payload) }

// Discard is a Sink that drops every event.
var Discard Sink = Func(func(string, any) {})
