package model

import "strings"

// -----------------------------------------------------------------------------
// Envelope
// -----------------------------------------------------------------------------

// TypeError is the envelope type of error responses.
const TypeError = "Error"

// CodeUnauthorized is the error code that invalidates the session.
const CodeUnauthorized = "error.unauthorized"

// Envelope is the JSON object exchanged in both directions.
type Envelope struct {
	Type    string  `json:"type"`
	Headers Headers `json:"headers"`
	Payload Payload `json:"payload"`
}

// Headers carry routing and correlation data.
type Headers struct {
	IsRequest     bool   `json:"isRequest"`
	Destination   string `json:"destination,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"` // request/response pairs only
	Source        string `json:"source,omitempty"`        // inbound frames only
}

// Payload holds the message type and its attributes.
type Payload struct {
	MessageType string     `json:"messageType"`
	Attributes  Attributes `json:"attributes"`
}

// -----------------------------------------------------------------------------
// Attributes
// -----------------------------------------------------------------------------

// Attributes is a decoded attribute map. Values are whatever encoding/json
// produces for an untyped document.
type Attributes map[string]any

// Clone returns a shallow copy. A nil map clones to an empty one.
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a)+1)
	for k, v := range a {
		out[k] = v
	}
	return out
}

// String returns the value at key if it is a string.
func (a Attributes) String(key string) string {
	s, _ := a[key].(string)
	return s
}

// SplitType splits "<namespace>:<Verb>" into its parts. A type without a
// colon has an empty namespace.
func SplitType(messageType string) (namespace, verb string) {
	ns, v, ok := strings.Cut(messageType, ":")
	if !ok {
		return "", messageType
	}
	return ns, v
}
