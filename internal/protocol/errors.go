package protocol

import "errors"

var (
	ErrUnsupportedEncoding = errors.New("protocol: unsupported encoding")
	ErrSchemaMismatch      = errors.New("protocol: schema mismatch")
	ErrInvalidPriority     = errors.New("protocol: invalid priority")
	ErrInvalidPayload      = errors.New("protocol: invalid payload")
	ErrUnknownMessageType  = errors.New("protocol: unknown message type")
)
