package payload

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/brainstorm/pkg/protocol"
)

func TestCheckSize(t *testing.T) {
	if err := CheckSize("content", 100, 100); err != nil {
		t.Errorf("at-limit size rejected: %v", err)
	}
	err := CheckSize("content", 101, 100)
	if protocol.CodeOf(err) != protocol.ErrPayloadTooLarge {
		t.Errorf("code = %s, want PAYLOAD_TOO_LARGE", protocol.CodeOf(err))
	}
}

// nested builds a JSON array nested n levels deep.
func nested(n int) json.RawMessage {
	return json.RawMessage(strings.Repeat("[", n) + strings.Repeat("]", n))
}

func TestCheckJSONDepth(t *testing.T) {
	tests := []struct {
		name string
		raw  json.RawMessage
		max  int
		ok   bool
	}{
		{"flat string", json.RawMessage(`"hello"`), 100, true},
		{"flat object", json.RawMessage(`{"a":1}`), 100, true},
		{"at limit", nested(100), 100, true},
		{"one past limit", nested(101), 100, false},
		{"mixed nesting", json.RawMessage(`{"a":[{"b":[{"c":1}]}]}`), 4, false},
		{"empty", json.RawMessage(``), 100, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckJSONDepth(tt.raw, tt.max)
			if tt.ok && err != nil {
				t.Errorf("CheckJSONDepth = %v, want nil", err)
			}
			if !tt.ok && protocol.CodeOf(err) != protocol.ErrPayloadTooDeep {
				t.Errorf("code = %s, want PAYLOAD_TOO_DEEP", protocol.CodeOf(err))
			}
		})
	}
}
