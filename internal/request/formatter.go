package request

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rickgao/hubconn/internal/connection"
	"github.com/rickgao/hubconn/internal/model"
)

// ErrNoFallback is returned for fallback requests when no fallback
// transport is configured.
var ErrNoFallback = errors.New("no fallback transport configured")

// Transport sends an envelope over the persistent connection and waits for
// the correlated response.
type Transport interface {
	Send(ctx context.Context, env model.Envelope) (model.Attributes, error)
}

// FallbackTransport sends an envelope as a one-shot request.
type FallbackTransport interface {
	Post(ctx context.Context, env model.Envelope) (model.Attributes, error)
}

// Formatter builds request envelopes and routes them to a transport.
type Formatter struct {
	conn          Transport
	fallback      FallbackTransport
	fallbackTypes map[string]bool
	logger        *slog.Logger
}

// Option configures a Formatter.
type Option func(*Formatter)

// WithFallback sets the fallback transport and the message types Send
// routes to it.
func WithFallback(t FallbackTransport, messageTypes ...string) Option {
	return func(f *Formatter) {
		f.fallback = t
		for _, mt := range messageTypes {
			f.fallbackTypes[mt] = true
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Formatter) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewFormatter creates a Formatter sending over conn.
func NewFormatter(conn Transport, opts ...Option) *Formatter {
	f := &Formatter{
		conn:          conn,
		fallbackTypes: make(map[string]bool),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// BuildEnvelope returns the canonical request envelope.
func BuildEnvelope(messageType, destination string, attrs model.Attributes) model.Envelope {
	if attrs == nil {
		attrs = model.Attributes{}
	}
	return model.Envelope{
		Type: messageType,
		Headers: model.Headers{
			IsRequest:   true,
			Destination: destination,
		},
		Payload: model.Payload{
			MessageType: messageType,
			Attributes:  attrs,
		},
	}
}

// Send routes messageType to the fallback transport if it was registered
// with WithFallback, and to the persistent connection otherwise.
func (f *Formatter) Send(ctx context.Context, messageType, destination string, attrs model.Attributes) (model.Attributes, error) {
	if f.fallbackTypes[messageType] {
		return f.RequestFallback(ctx, messageType, destination, attrs)
	}
	return f.Request(ctx, messageType, destination, attrs)
}

// Request sends over the persistent connection.
func (f *Formatter) Request(ctx context.Context, messageType, destination string, attrs model.Attributes) (model.Attributes, error) {
	env := BuildEnvelope(messageType, destination, Unalias(messageType, attrs))

	resp, err := f.conn.Send(ctx, env)
	if err != nil {
		return nil, err
	}
	return Alias(messageType, resp), nil
}

// RequestFallback sends over the fallback transport. Failures that are not
// platform errors are reported as connection.ErrNotReady, like a request
// made while the connection is down.
func (f *Formatter) RequestFallback(ctx context.Context, messageType, destination string, attrs model.Attributes) (model.Attributes, error) {
	if f.fallback == nil {
		return nil, ErrNoFallback
	}

	env := BuildEnvelope(messageType, destination, Unalias(messageType, attrs))

	resp, err := f.fallback.Post(ctx, env)
	if err != nil {
		var perr *model.ProtocolError
		if errors.As(err, &perr) {
			return nil, perr
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.logger.Debug("fallback request failed", "type", messageType, "error", err)
		return nil, fmt.Errorf("%w: %w", connection.ErrNotReady, err)
	}
	return Alias(messageType, resp), nil
}
