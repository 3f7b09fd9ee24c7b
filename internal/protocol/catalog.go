package protocol

// Message types, shim -> core. request_status also travels core -> shim:
// either role sends it on a fresh active session to force a full resync.
const (
	TypeHello             = "hello"
	TypePing              = "ping"
	TypeRequestStatus     = "request_status"
	TypeSceneSwitchResult = "scene_switch_result"
	TypeShutdownNotice    = "shutdown_notice"
)

// Message types, core -> shim.
const (
	TypeHelloAck           = "hello_ack"
	TypePong               = "pong"
	TypeStatusSnapshot     = "status_snapshot"
	TypeSceneSwitchRequest = "scene_switch_request"
	TypeUserNotice         = "user_notice"
	TypeShutdownRequest    = "shutdown_request"
	TypeProtocolError      = "protocol_error"
)

// Protocol error codes carried by TypeProtocolError.
const (
	ErrCodeFrameTooLarge = "frame_too_large"
	ErrCodeDecodeFailed  = "decode_failed"
	ErrCodeUnknownType   = "unknown_type"
	ErrCodeTimeout       = "timeout"
)

// priorities maps each catalog type to its lane class.
var priorities = map[string]Priority{
	TypeHello:              PriorityCritical,
	TypeHelloAck:           PriorityCritical,
	TypePing:               PriorityHigh,
	TypePong:               PriorityHigh,
	TypeRequestStatus:      PriorityHigh,
	TypeStatusSnapshot:     PriorityNormal,
	TypeSceneSwitchRequest: PriorityCritical,
	TypeSceneSwitchResult:  PriorityHigh,
	TypeUserNotice:         PriorityLow,
	TypeShutdownRequest:    PriorityCritical,
	TypeShutdownNotice:     PriorityCritical,
	TypeProtocolError:      PriorityHigh,
}

// PriorityFor returns the lane class for a catalog type. Unknown types
// default to normal so they still travel, just without preference.
func PriorityFor(msgType string) Priority {
	if p, ok := priorities[msgType]; ok {
		return p
	}
	return PriorityNormal
}

// Known reports whether msgType belongs to the closed catalog. Unknown
// types are not fatal on receipt; they route to an unhandled path.
func Known(msgType string) bool {
	_, ok := priorities[msgType]
	return ok
}

// CoalesceKey returns the semantic stream key for status-style types on
// the normal lane, or "" when the type must never be coalesced. Only the
// latest queued value for a key is ever transmitted.
func CoalesceKey(e Envelope) string {
	if e.Priority != PriorityNormal {
		return ""
	}
	switch e.Type {
	case TypeStatusSnapshot:
		return TypeStatusSnapshot
	default:
		return ""
	}
}
