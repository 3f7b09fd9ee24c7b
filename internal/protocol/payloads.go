package protocol

import (
	"fmt"
	"strings"
)

// Hello is the handshake opener sent by the connection initiator.
type Hello struct {
	Major        int      `cbor:"major"`
	Minor        int      `cbor:"minor"`
	ClientName   string   `cbor:"client_name"`
	Capabilities []string `cbor:"capabilities,omitempty"`
}

func (h Hello) Validate() error {
	if h.Major <= 0 {
		return fmt.Errorf("%w: hello missing major version", ErrInvalidPayload)
	}
	if h.Minor < 0 {
		return fmt.Errorf("%w: hello negative minor version", ErrInvalidPayload)
	}
	if strings.TrimSpace(h.ClientName) == "" {
		return fmt.Errorf("%w: hello missing client_name", ErrInvalidPayload)
	}
	return nil
}

// HelloAck completes the handshake. A rejected ack carries the reason;
// the session closes after delivering it.
type HelloAck struct {
	Major        int      `cbor:"major"`
	Minor        int      `cbor:"minor"`
	Accepted     bool     `cbor:"accepted"`
	Reason       string   `cbor:"reason,omitempty"`
	Capabilities []string `cbor:"capabilities,omitempty"`
}

func (a HelloAck) Validate() error {
	if a.Major <= 0 {
		return fmt.Errorf("%w: hello_ack missing major version", ErrInvalidPayload)
	}
	if !a.Accepted && strings.TrimSpace(a.Reason) == "" {
		return fmt.Errorf("%w: hello_ack rejection missing reason", ErrInvalidPayload)
	}
	return nil
}

// Ping is the liveness probe; Seq ties each pong back to its probe.
type Ping struct {
	Seq uint64 `cbor:"seq"`
}

type Pong struct {
	Seq uint64 `cbor:"seq"`
}

// StatusSnapshot is the coalescible normal-lane state report. It doubles
// as the remote/cloud signal carrier: session status, grace countdown,
// and health classification all arrive through it.
type StatusSnapshot struct {
	Scene              string `cbor:"scene"`
	Mode               string `cbor:"mode"`
	RemoteActive       bool   `cbor:"remote_active"`
	TelemetryConnected bool   `cbor:"telemetry_connected"`
	IngestActive       bool   `cbor:"ingest_active"`
	Health             string `cbor:"health,omitempty"`
	GraceRemainingSec  int64  `cbor:"grace_remaining_sec,omitempty"`
}

// SceneSwitchRequest commands the host to switch its program output.
// Critical priority, never coalesced; every request must resolve to a
// SceneSwitchResult or a timeout failure.
type SceneSwitchRequest struct {
	RequestID string `cbor:"request_id"`
	Scene     string `cbor:"scene"`
	Rule      string `cbor:"rule"`
	Reason    string `cbor:"reason,omitempty"`
}

func (r SceneSwitchRequest) Validate() error {
	if strings.TrimSpace(r.RequestID) == "" {
		return fmt.Errorf("%w: switch request missing request_id", ErrInvalidPayload)
	}
	if strings.TrimSpace(r.Scene) == "" {
		return fmt.Errorf("%w: switch request missing scene", ErrInvalidPayload)
	}
	if strings.TrimSpace(r.Rule) == "" {
		return fmt.Errorf("%w: switch request missing rule", ErrInvalidPayload)
	}
	return nil
}

// SceneSwitchResult reports whether the host actually performed a
// requested switch. Acceptance is not success; the host verifies and
// reports the observed outcome.
type SceneSwitchResult struct {
	RequestID string `cbor:"request_id"`
	Success   bool   `cbor:"success"`
	Scene     string `cbor:"scene,omitempty"`
	Reason    string `cbor:"reason,omitempty"`
}

func (r SceneSwitchResult) Validate() error {
	if strings.TrimSpace(r.RequestID) == "" {
		return fmt.Errorf("%w: switch result missing request_id", ErrInvalidPayload)
	}
	if !r.Success && strings.TrimSpace(r.Reason) == "" {
		return fmt.Errorf("%w: switch result failure missing reason", ErrInvalidPayload)
	}
	return nil
}

// Notice severities for UserNotice.
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)

// UserNotice is a classified, display-ready message for the host UI.
type UserNotice struct {
	Severity string `cbor:"severity"`
	Message  string `cbor:"message"`
}

func (n UserNotice) Validate() error {
	switch n.Severity {
	case SeverityInfo, SeverityWarn, SeverityError:
	default:
		return fmt.Errorf("%w: notice invalid severity %q", ErrInvalidPayload, n.Severity)
	}
	if strings.TrimSpace(n.Message) == "" {
		return fmt.Errorf("%w: notice missing message", ErrInvalidPayload)
	}
	return nil
}

// ProtocolError reports a codec or semantic failure back to the peer.
type ProtocolError struct {
	Code             string `cbor:"code"`
	Message          string `cbor:"message"`
	RelatedMessageID string `cbor:"related_message_id,omitempty"`
}

func (p ProtocolError) Validate() error {
	switch p.Code {
	case ErrCodeFrameTooLarge, ErrCodeDecodeFailed, ErrCodeUnknownType, ErrCodeTimeout:
	default:
		return fmt.Errorf("%w: protocol_error invalid code %q", ErrInvalidPayload, p.Code)
	}
	if strings.TrimSpace(p.Message) == "" {
		return fmt.Errorf("%w: protocol_error missing message", ErrInvalidPayload)
	}
	return nil
}

// ShutdownNotice announces graceful teardown by the sender.
type ShutdownNotice struct {
	Reason string `cbor:"reason,omitempty"`
}

// ShutdownRequest asks the peer to shut down gracefully.
type ShutdownRequest struct {
	Reason string `cbor:"reason,omitempty"`
}

// RequestStatus forces a full state resync from the peer.
type RequestStatus struct {
	Reason string `cbor:"reason,omitempty"`
}
