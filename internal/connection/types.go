package connection

import (
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/hubconn/internal/model"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")

	ErrInvalidURL           = errors.New("invalid websocket url")
	ErrUnsupportedTransport = errors.New("no websocket transport available")

	// User-facing: these reach the UI unchanged.
	ErrNotReady       = errors.New("we're getting things ready, please try again in a moment")
	ErrRequestTimeout = errors.New("the connection is slow or unavailable, please try again")

	ErrConnectFailed = errors.New("connection failed")
	ErrClosed        = errors.New("connection manager closed")
)

// ConfigurationError is a programmer error detected by Initialize.
type ConfigurationError struct {
	URL string
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error (%q): %v", e.URL, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// WebSocket close codes with defined meaning.
const (
	CloseNormal       = 1000
	CloseAbnormal     = 1006
	CloseSessionEnded = 4001
)

// isCleanClose reports whether code ends the connection without reconnecting.
func isCleanClose(code int) bool {
	return code == CloseNormal || code == CloseSessionEnded
}

// State is the connection lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	default:
		return "Unknown"
	}
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// EventKey identifies an event stream. Namespace is empty for events that
// carry no subject.
type EventKey struct {
	Namespace string
	Type      string
}

func (k EventKey) String() string {
	if k.Namespace == "" {
		return k.Type
	}
	return k.Namespace + " " + k.Type
}

// Key builds an EventKey.
func Key(namespace, eventType string) EventKey {
	return EventKey{Namespace: namespace, Type: eventType}
}

// Connection-level events.
var (
	EventConnected    = EventKey{Type: "connected"}
	EventClosed       = EventKey{Type: "closed"}
	EventUnauthorized = EventKey{Type: "unauthorized"}
	EventMessage      = EventKey{Type: "message"} // opaque text and list frames
)

// Common platform event types.
const (
	TypeAdded       = "base:Added"
	TypeDeleted     = "base:Deleted"
	TypeValueChange = "base:ValueChange"
)

// AttrAddress is injected into the attributes of subject events.
const AttrAddress = "base:address"

// Event is delivered to subscribers.
type Event struct {
	Key        EventKey
	Attributes model.Attributes
	Subject    Subject // zero when the frame had no resolvable source
	Frame      model.Frame
	ReceivedAt time.Time
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL          string // WebSocket URL (e.g., wss://platform.example.com/websocket)
	Header       map[string]string
	PingTimeout  time.Duration // Max time without ping/pong before considering connection stale
	PingInterval time.Duration // How often we ping the server
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingTimeout:  60 * time.Second,
		PingInterval: 30 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   1000,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	Client         ClientConfig  // Template for every socket; URL comes from Initialize
	RequestTimeout time.Duration // Per-request response timeout
	BackoffInitial time.Duration // First reconnection delay
	BackoffMax     time.Duration // Reconnection delay cap
	MaxListeners   int           // Per-key listener count that triggers a leak warning; negative disables
	Trace          bool          // Log every frame in and out (non-production only)
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Client:         DefaultClientConfig(),
		RequestTimeout: 50 * time.Second,
		BackoffInitial: 100 * time.Millisecond,
		BackoffMax:     30 * time.Second,
		MaxListeners:   100,
	}
}
