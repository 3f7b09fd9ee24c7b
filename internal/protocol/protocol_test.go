package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewStampsIdentity(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	env, err := NewAt(TypeStatusSnapshot, StatusSnapshot{Scene: "main"}, now)
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	if env.Version != Version {
		t.Fatalf("version mismatch: %d", env.Version)
	}
	if _, err := uuid.Parse(env.ID); err != nil {
		t.Fatalf("id is not a uuid: %q", env.ID)
	}
	if env.TSUnixMS != 1700000000000 {
		t.Fatalf("timestamp mismatch: %d", env.TSUnixMS)
	}
	if env.Priority != PriorityNormal {
		t.Fatalf("status_snapshot should be normal priority, got %q", env.Priority)
	}
}

func TestEnvelopeIDsNeverReused(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		env, err := New(TypePing, Ping{Seq: uint64(i)})
		if err != nil {
			t.Fatalf("new envelope: %v", err)
		}
		if seen[env.ID] {
			t.Fatalf("duplicate envelope id %q", env.ID)
		}
		seen[env.ID] = true
	}
}

func TestUnmarshalRejectsBadShape(t *testing.T) {
	cases := []struct {
		name string
		env  Envelope
	}{
		{"missing version", Envelope{ID: uuid.NewString(), Type: TypePing, Priority: PriorityHigh}},
		{"missing id", Envelope{Version: 1, Type: TypePing, Priority: PriorityHigh}},
		{"id not uuid", Envelope{Version: 1, ID: "not-a-uuid", Type: TypePing, Priority: PriorityHigh}},
		{"missing type", Envelope{Version: 1, ID: uuid.NewString(), Priority: PriorityHigh}},
		{"bad priority", Envelope{Version: 1, ID: uuid.NewString(), Type: TypePing, Priority: "urgent"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := encMode.Marshal(tc.env)
			if err != nil {
				t.Fatalf("marshal fixture: %v", err)
			}
			if _, err := Unmarshal(data); !errors.Is(err, ErrSchemaMismatch) && !errors.Is(err, ErrInvalidPriority) {
				t.Fatalf("expected schema error, got %v", err)
			}
		})
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	if _, err := Unmarshal([]byte{0xff, 0x00, 0x13, 0x37}); !errors.Is(err, ErrUnsupportedEncoding) {
		t.Fatalf("expected ErrUnsupportedEncoding, got %v", err)
	}
}

func TestDecodePayloadIgnoresUnknownFields(t *testing.T) {
	// A payload written by a newer minor version carries fields this
	// build does not know about; typed decode must not choke on them.
	raw, err := encMode.Marshal(map[string]any{
		"seq":          uint64(7),
		"next_feature": "enabled",
	})
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	env := Envelope{
		Version:  Version,
		ID:       uuid.NewString(),
		TSUnixMS: 1,
		Type:     TypePing,
		Priority: PriorityHigh,
		Payload:  raw,
	}
	var ping Ping
	if err := DecodePayload(env, &ping); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if ping.Seq != 7 {
		t.Fatalf("seq mismatch: %d", ping.Seq)
	}
}

func TestPriorityForUnknownTypeDefaultsNormal(t *testing.T) {
	if got := PriorityFor("future_type"); got != PriorityNormal {
		t.Fatalf("unknown type priority: %q", got)
	}
	if Known("future_type") {
		t.Fatalf("future_type should not be in the catalog")
	}
}

func TestPayloadValidation(t *testing.T) {
	cases := []struct {
		name    string
		payload interface{ Validate() error }
		wantErr bool
	}{
		{"hello ok", Hello{Major: 1, Minor: 2, ClientName: "shim"}, false},
		{"hello missing name", Hello{Major: 1}, true},
		{"ack rejection needs reason", HelloAck{Major: 1, Accepted: false}, true},
		{"switch request ok", SceneSwitchRequest{RequestID: "r1", Scene: "backup", Rule: "local_hard_failure"}, false},
		{"switch request missing scene", SceneSwitchRequest{RequestID: "r1", Rule: "manual"}, true},
		{"switch failure needs reason", SceneSwitchResult{RequestID: "r1", Success: false}, true},
		{"notice bad severity", UserNotice{Severity: "fatal", Message: "x"}, true},
		{"protocol_error bad code", ProtocolError{Code: "bogus", Message: "x"}, true},
		{"protocol_error ok", ProtocolError{Code: ErrCodeDecodeFailed, Message: "bad frame"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.payload.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}
