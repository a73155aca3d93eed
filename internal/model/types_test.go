package model

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseFrame(t *testing.T) {
	t.Run("envelope", func(t *testing.T) {
		data := []byte(`{
			"type": "base:ValueChange",
			"headers": {"isRequest": false, "source": "DRIV:dev:abc", "correlationId": "c-1"},
			"payload": {"messageType": "base:ValueChange", "attributes": {"swit:state": "ON"}}
		}`)

		frame, err := ParseFrame(data)
		if err != nil {
			t.Fatalf("ParseFrame failed: %v", err)
		}
		if frame.Kind != FrameEnvelope {
			t.Fatalf("Kind = %v, want FrameEnvelope", frame.Kind)
		}
		env := frame.Envelope
		if env.Type != "base:ValueChange" {
			t.Errorf("Type = %q, want %q", env.Type, "base:ValueChange")
		}
		if env.Headers.Source != "DRIV:dev:abc" {
			t.Errorf("Source = %q, want %q", env.Headers.Source, "DRIV:dev:abc")
		}
		if env.Headers.CorrelationID != "c-1" {
			t.Errorf("CorrelationID = %q, want %q", env.Headers.CorrelationID, "c-1")
		}
		if got := env.Payload.Attributes.String("swit:state"); got != "ON" {
			t.Errorf("swit:state = %q, want %q", got, "ON")
		}
	})

	t.Run("list", func(t *testing.T) {
		frame, err := ParseFrame([]byte(`[1, "two"]`))
		if err != nil {
			t.Fatalf("ParseFrame failed: %v", err)
		}
		if frame.Kind != FrameList {
			t.Fatalf("Kind = %v, want FrameList", frame.Kind)
		}
		if len(frame.List) != 2 {
			t.Errorf("len(List) = %d, want 2", len(frame.List))
		}
	})

	t.Run("opaque text", func(t *testing.T) {
		frame, err := ParseFrame([]byte(`pong {"not":"json"}`))
		if err != nil {
			t.Fatalf("ParseFrame failed: %v", err)
		}
		if frame.Kind != FrameText {
			t.Fatalf("Kind = %v, want FrameText", frame.Kind)
		}
		if frame.Text != `pong {"not":"json"}` {
			t.Errorf("Text = %q", frame.Text)
		}
	})

	t.Run("malformed object", func(t *testing.T) {
		if _, err := ParseFrame([]byte(`{"type":`)); err == nil {
			t.Error("expected error for truncated JSON")
		}
	})

	t.Run("empty", func(t *testing.T) {
		frame, err := ParseFrame(nil)
		if err != nil {
			t.Fatalf("ParseFrame failed: %v", err)
		}
		if frame.Kind != FrameText {
			t.Errorf("Kind = %v, want FrameText", frame.Kind)
		}
	})
}

func TestEnvelopeJSON(t *testing.T) {
	env := Envelope{
		Type: "rule:ListRules",
		Headers: Headers{
			IsRequest:   true,
			Destination: "SERV:rule:",
		},
		Payload: Payload{
			MessageType: "rule:ListRules",
			Attributes:  Attributes{"placeId": "p-1"},
		},
	}

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	headers := raw["headers"].(map[string]any)
	if headers["isRequest"] != true {
		t.Errorf("isRequest = %v, want true", headers["isRequest"])
	}
	if _, ok := headers["correlationId"]; ok {
		t.Error("correlationId should be omitted when empty")
	}
	if _, ok := headers["source"]; ok {
		t.Error("source should be omitted when empty")
	}
}

func TestAttributesClone(t *testing.T) {
	orig := Attributes{"a": 1}
	clone := orig.Clone()
	clone["b"] = 2

	if _, ok := orig["b"]; ok {
		t.Error("Clone shares storage with original")
	}

	var nilAttrs Attributes
	if nilAttrs.Clone() == nil {
		t.Error("Clone of nil should be an empty map")
	}
}

func TestSplitType(t *testing.T) {
	tests := []struct {
		in     string
		wantNS string
		wantV  string
	}{
		{"rule:ListRules", "rule", "ListRules"},
		{"base:Added", "base", "Added"},
		{"Error", "", "Error"},
	}

	for _, tt := range tests {
		ns, v := SplitType(tt.in)
		if ns != tt.wantNS || v != tt.wantV {
			t.Errorf("SplitType(%q) = (%q, %q), want (%q, %q)", tt.in, ns, v, tt.wantNS, tt.wantV)
		}
	}
}

func TestProtocolError(t *testing.T) {
	attrs := Attributes{"type": "Error", "code": CodeUnauthorized, "message": "session expired"}
	err := NewProtocolError(attrs)

	if !err.Unauthorized() {
		t.Error("expected Unauthorized() to be true")
	}
	if err.Error() != "platform error error.unauthorized: session expired" {
		t.Errorf("Error() = %q", err.Error())
	}

	var wrapped error = err
	var pe *ProtocolError
	if !errors.As(wrapped, &pe) {
		t.Fatal("errors.As failed")
	}

	plain := NewProtocolError(Attributes{"message": "bad"})
	if plain.Unauthorized() {
		t.Error("expected Unauthorized() to be false")
	}
	if plain.Error() != "platform error: bad" {
		t.Errorf("Error() = %q", plain.Error())
	}
}
