package model

import (
	"encoding/json"
	"fmt"
)

// FrameKind says how an inbound frame was decoded.
type FrameKind int

const (
	FrameEnvelope FrameKind = iota // JSON object
	FrameList                      // JSON array
	FrameText                      // anything else, passed through as-is
)

// Frame is a decoded inbound message.
type Frame struct {
	Kind     FrameKind
	Envelope Envelope // FrameEnvelope only
	List     []any    // FrameList only
	Text     string   // FrameText only
}

// ParseFrame decodes raw socket data. Data whose first byte is not '{' or
// '[' is returned as an opaque text frame.
func ParseFrame(data []byte) (Frame, error) {
	if len(data) == 0 {
		return Frame{Kind: FrameText}, nil
	}

	switch data[0] {
	case '{':
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return Frame{}, fmt.Errorf("decode envelope: %w", err)
		}
		return Frame{Kind: FrameEnvelope, Envelope: env}, nil

	case '[':
		var list []any
		if err := json.Unmarshal(data, &list); err != nil {
			return Frame{}, fmt.Errorf("decode list: %w", err)
		}
		return Frame{Kind: FrameList, List: list}, nil
	}

	return Frame{Kind: FrameText, Text: string(data)}, nil
}
