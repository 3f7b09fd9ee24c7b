// Package frame implements the wire framing for envelopes: a 4-byte
// little-endian length prefix followed by exactly that many bytes of
// CBOR-serialized envelope. Every read is bounds-checked before it
// happens; malformed input yields a typed error, never a panic.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/scenefall/scenectl/internal/protocol"
)

const (
	// PrefixLen is the length-prefix size. The prefix excludes itself.
	PrefixLen = 4

	// MaxFrameSize bounds the serialized envelope. A frame over this
	// limit is rejected whole, never partially processed.
	MaxFrameSize = 64 * 1024
)

var (
	ErrTruncated     = errors.New("frame: truncated data")
	ErrInvalidLength = errors.New("frame: invalid length")
	ErrFrameTooLarge = errors.New("frame: frame too large")
)

// Encode serializes one envelope with its length prefix. The only
// failure modes are an invalid envelope or a body over MaxFrameSize.
func Encode(e protocol.Envelope) ([]byte, error) {
	body, err := protocol.Marshal(e)
	if err != nil {
		return nil, err
	}
	if len(body) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}
	out := make([]byte, PrefixLen+len(body))
	binary.LittleEndian.PutUint32(out[:PrefixLen], uint32(len(body)))
	copy(out[PrefixLen:], body)
	return out, nil
}

// Decode parses one complete frame from buf. It consumes exactly the
// prefixed length and rejects trailing garbage, so a desynced stream
// surfaces as an error instead of silently re-aligning.
func Decode(buf []byte) (protocol.Envelope, error) {
	if len(buf) < PrefixLen {
		return protocol.Envelope{}, ErrTruncated
	}
	n := binary.LittleEndian.Uint32(buf[:PrefixLen])
	if n == 0 {
		return protocol.Envelope{}, fmt.Errorf("%w: zero-length frame", ErrInvalidLength)
	}
	if n > MaxFrameSize {
		return protocol.Envelope{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	if uint32(len(buf)-PrefixLen) < n {
		return protocol.Envelope{}, ErrTruncated
	}
	if uint32(len(buf)-PrefixLen) > n {
		return protocol.Envelope{}, fmt.Errorf("%w: %d trailing bytes", ErrInvalidLength, uint32(len(buf)-PrefixLen)-n)
	}
	return protocol.Unmarshal(buf[PrefixLen : PrefixLen+n])
}

// Read reads one frame from r. The length prefix is validated before
// any body allocation so a hostile peer cannot force a large read.
func Read(r io.Reader) (protocol.Envelope, error) {
	var prefix [PrefixLen]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return protocol.Envelope{}, fmt.Errorf("%w: short prefix", ErrTruncated)
		}
		return protocol.Envelope{}, err
	}
	n := binary.LittleEndian.Uint32(prefix[:])
	if n == 0 {
		return protocol.Envelope{}, fmt.Errorf("%w: zero-length frame", ErrInvalidLength)
	}
	if n > MaxFrameSize {
		// Drain the oversized body so the stream stays frame-aligned and
		// the session can discard exactly one frame.
		_, _ = io.CopyN(io.Discard, r, int64(n))
		return protocol.Envelope{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return protocol.Envelope{}, fmt.Errorf("%w: short body", ErrTruncated)
		}
		return protocol.Envelope{}, err
	}
	return protocol.Unmarshal(body)
}

// Write encodes e and writes the complete frame to w.
func Write(w io.Writer, e protocol.Envelope) error {
	buf, err := Encode(e)
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return err
	}
	return nil
}
