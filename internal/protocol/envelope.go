package protocol

import (
	"fmt"
	"strings"
	"time"

	cbor "github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// Version is the envelope major protocol version. Minor revisions are
// negotiated inside the hello payload and never change the wire shape.
const Version = 1

// MinorVersion advertises the capability revision inside hello and
// hello_ack. Peers with a smaller minor simply ignore newer fields.
const MinorVersion = 2

// Priority is the outbound lane class of an envelope.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// Rank orders priorities for lane draining: lower rank drains first.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	default:
		return false
	}
}

// Envelope is the unit of exchange on the core<->shim channel. Payload
// is kept as raw CBOR so unknowns round-trip losslessly and typed
// decoding can ignore fields it does not recognize.
type Envelope struct {
	Version  int             `cbor:"v"`
	ID       string          `cbor:"id"`
	TSUnixMS uint64          `cbor:"ts_unix_ms"`
	Type     string          `cbor:"type"`
	Priority Priority        `cbor:"priority"`
	Payload  cbor.RawMessage `cbor:"payload,omitempty"`
}

func (e Envelope) Validate() error {
	if e.Version <= 0 {
		return fmt.Errorf("%w: missing version", ErrSchemaMismatch)
	}
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrSchemaMismatch)
	}
	if _, err := uuid.Parse(e.ID); err != nil {
		return fmt.Errorf("%w: id is not a uuid", ErrSchemaMismatch)
	}
	if strings.TrimSpace(e.Type) == "" {
		return fmt.Errorf("%w: missing type", ErrSchemaMismatch)
	}
	if !e.Priority.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPriority, e.Priority)
	}
	return nil
}

// encMode is canonical so identical envelopes encode to identical bytes.
var encMode cbor.EncMode

// decMode caps container sizes so a hostile body cannot force large
// allocations before the frame bound is even checked.
var decMode cbor.DecMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dm, err := cbor.DecOptions{
		MaxArrayElements: 16384,
		MaxMapPairs:      16384,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	encMode = em
	decMode = dm
}

// Marshal serializes one envelope body (without frame prefix).
func Marshal(e Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return encMode.Marshal(e)
}

// Unmarshal parses one envelope body. Malformed CBOR yields
// ErrUnsupportedEncoding; well-formed CBOR with a bad envelope shape
// yields ErrSchemaMismatch. Unknown top-level fields are ignored.
func Unmarshal(data []byte) (Envelope, error) {
	var e Envelope
	if err := decMode.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrUnsupportedEncoding, err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// New builds an envelope of the given type with a fresh UUIDv4 id, the
// current unix-ms timestamp, and the catalog priority for the type.
func New(msgType string, payload any) (Envelope, error) {
	return NewAt(msgType, payload, time.Now())
}

// NewAt is New with an explicit clock, for deterministic tests.
func NewAt(msgType string, payload any, now time.Time) (Envelope, error) {
	e := Envelope{
		Version:  Version,
		ID:       uuid.NewString(),
		TSUnixMS: uint64(now.UnixMilli()),
		Type:     msgType,
		Priority: PriorityFor(msgType),
	}
	if payload != nil {
		raw, err := encMode.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		e.Payload = raw
	}
	return e, nil
}

// DecodePayload parses the envelope body into out, ignoring unknown
// payload fields for forward compatibility.
func DecodePayload(e Envelope, out any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: empty payload for %q", ErrInvalidPayload, e.Type)
	}
	if err := decMode.Unmarshal(e.Payload, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, e.Type, err)
	}
	return nil
}
