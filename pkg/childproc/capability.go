package childproc

import (
	"context"
	"encoding/json"
)

// Capability is the enumerated, hand-written RPC surface a wrapped object
// exposes across the process boundary: one named method per RPC instead of
// dynamic attribute interception. Invoke is the single entry point, and
// implementations are expected to hand-write their own method-name switch
// rather than relying on reflection.
type Capability interface {
	// Invoke dispatches one named method with JSON-encoded params and
	// returns the JSON-encoded result.
	Invoke(ctx context.Context, method string, params json.RawMessage) (result json.RawMessage, err error)
	// State returns a JSON snapshot of every field that should mirror back
	// to the parent after a successful Invoke. Fields that cannot cross
	// the boundary -- mutexes, open sockets, file handles, callback
	// closures -- must already be stripped by the implementation.
	State() (json.RawMessage, error)
	// Restore replaces the object's state from a previously captured
	// snapshot. Serve calls it once, before the first request, when its
	// restoreState argument is non-nil; the parent's mirrored state is not
	// sent to the child.
	Restore(state json.RawMessage) error
}

// ParentMethods is the capability surface the child may call back into,
// a child-invoked callback hook such as a progress report. The parent
// process implements this and hands it to Serve.
type ParentMethods interface {
	Invoke(ctx context.Context, method string, params json.RawMessage) (result json.RawMessage, err error)
}

// LogSink receives a LOG record forwarded from the child, so the parent
// can inject it into its own logging pipeline under the original logger
// name and level.
type LogSink interface {
	Log(loggerName string, level LogLevel, message string)
}

// LogLevel mirrors the small set of severities grinder's own logger.Logger
// interface supports.
type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// invokeParams/invokeResult are the wire shape of a parent->child method
// call. A request carries no object state (the child's state comes only
// from Serve's restoreState); the reply carries the child's state after
// the call. Parent methods are reached through the ParentMethods
// capability instead of being named on every call.
type invokeParams struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type invokeResult struct {
	Result json.RawMessage `json:"result,omitempty"`
	State  json.RawMessage `json:"state,omitempty"`
}

// logParams is the payload of a child->parent LOG push notification.
type logParams struct {
	Logger  string   `json:"logger"`
	Level   LogLevel `json:"level"`
	Message string   `json:"message"`
}

// pmethodParams is the payload of a child->parent PMETHOD callback.
type pmethodParams struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}
