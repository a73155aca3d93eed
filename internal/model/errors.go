package model

import "fmt"

// ProtocolError is an error response returned by the platform. Attributes
// holds the error payload verbatim.
type ProtocolError struct {
	Type       string
	Code       string
	Message    string
	Attributes Attributes
}

// NewProtocolError builds a ProtocolError from an error payload.
func NewProtocolError(attrs Attributes) *ProtocolError {
	return &ProtocolError{
		Type:       attrs.String("type"),
		Code:       attrs.String("code"),
		Message:    attrs.String("message"),
		Attributes: attrs,
	}
}

func (e *ProtocolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("platform error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("platform error: %s", e.Message)
}

// Unauthorized reports whether the error invalidates the session.
func (e *ProtocolError) Unauthorized() bool {
	return e.Code == CodeUnauthorized
}
