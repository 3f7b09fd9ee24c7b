package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/scenefall/scenectl/internal/protocol"
)

func testEnvelope(t *testing.T, payload any) protocol.Envelope {
	t.Helper()
	env, err := protocol.New(protocol.TypeStatusSnapshot, payload)
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	return env
}

func TestRoundTrip(t *testing.T) {
	in := testEnvelope(t, protocol.StatusSnapshot{
		Scene:              "main",
		Mode:               "remote_active",
		RemoteActive:       true,
		TelemetryConnected: true,
		IngestActive:       true,
		Health:             "healthy",
		GraceRemainingSec:  42,
	})
	buf, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("round-trip mismatch (-in +out):\n%s", diff)
	}
}

func TestReadWriteStream(t *testing.T) {
	var buf bytes.Buffer
	first := testEnvelope(t, protocol.StatusSnapshot{Scene: "a"})
	second := testEnvelope(t, protocol.StatusSnapshot{Scene: "b"})
	if err := Write(&buf, first); err != nil {
		t.Fatalf("write first: %v", err)
	}
	if err := Write(&buf, second); err != nil {
		t.Fatalf("write second: %v", err)
	}
	got1, err := Read(&buf)
	if err != nil {
		t.Fatalf("read first: %v", err)
	}
	got2, err := Read(&buf)
	if err != nil {
		t.Fatalf("read second: %v", err)
	}
	if got1.ID != first.ID || got2.ID != second.ID {
		t.Fatalf("stream order mismatch: %q %q", got1.ID, got2.ID)
	}
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	env := testEnvelope(t, map[string]string{"blob": strings.Repeat("x", MaxFrameSize)})
	if _, err := Encode(env); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	buf, err := Encode(testEnvelope(t, protocol.StatusSnapshot{Scene: "main"}))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for _, n := range []int{0, 1, PrefixLen - 1, PrefixLen, len(buf) / 2, len(buf) - 1} {
		if _, err := Decode(buf[:n]); err == nil {
			t.Fatalf("decode of %d-byte truncation succeeded", n)
		}
	}
}

func TestDecodeRejectsOversizedLengthPrefix(t *testing.T) {
	var prefix [PrefixLen]byte
	binary.LittleEndian.PutUint32(prefix[:], MaxFrameSize+1)
	_, err := Decode(append(prefix[:], make([]byte, 16)...))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestDecodeRejectsTrailingGarbage(t *testing.T) {
	buf, err := Encode(testEnvelope(t, protocol.StatusSnapshot{Scene: "main"}))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := Decode(append(buf, 0xde, 0xad)); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
}

func TestDecodeZeroLength(t *testing.T) {
	if _, err := Decode([]byte{0, 0, 0, 0}); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
}

// Random byte soup must yield typed errors, never a panic.
func TestDecodeRandomBytesNeverPanics(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		buf := make([]byte, rng.Intn(256))
		rng.Read(buf)
		if len(buf) >= PrefixLen {
			// Bias the prefix toward the plausible range so body parsing
			// gets exercised, not just the length check.
			binary.LittleEndian.PutUint32(buf[:PrefixLen], uint32(len(buf)-PrefixLen))
		}
		if _, err := Decode(buf); err == nil {
			// A random body that happens to be a valid envelope is
			// astronomically unlikely; treat success as a bug.
			t.Fatalf("random input decoded successfully: %v", buf)
		}
	}
}

func TestReadDrainsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	var prefix [PrefixLen]byte
	binary.LittleEndian.PutUint32(prefix[:], MaxFrameSize+8)
	buf.Write(prefix[:])
	buf.Write(make([]byte, MaxFrameSize+8))
	follow := testEnvelope(t, protocol.StatusSnapshot{Scene: "after"})
	if err := Write(&buf, follow); err != nil {
		t.Fatalf("write follow-up: %v", err)
	}

	if _, err := Read(&buf); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	got, err := Read(&buf)
	if err != nil {
		t.Fatalf("stream did not stay aligned after oversized frame: %v", err)
	}
	if got.ID != follow.ID {
		t.Fatalf("wrong envelope after discard: %q", got.ID)
	}
}
