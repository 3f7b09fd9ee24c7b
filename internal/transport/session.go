package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/scenefall/scenectl/internal/observability"
	"github.com/scenefall/scenectl/internal/protocol"
	"github.com/scenefall/scenectl/internal/protocol/frame"
	"github.com/scenefall/scenectl/internal/protocol/lanes"
)

var (
	ErrDialerRequired     = errors.New("transport: dialer required")
	ErrLanesRequired      = errors.New("transport: lanes required")
	ErrClientNameRequired = errors.New("transport: client name required")
	ErrVersionMismatch    = errors.New("transport: protocol major version mismatch")
	ErrHandshakeRejected  = errors.New("transport: handshake rejected")
	ErrSessionStopped     = errors.New("transport: session stopped")
)

// State is the session connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateHandshaking  State = "handshaking"
	StateActive       State = "active"
	StateDegraded     State = "degraded"
)

// Role distinguishes which side opens the handshake.
type Role int

const (
	// RoleInitiator dials and sends hello.
	RoleInitiator Role = iota
	// RoleResponder accepts, awaits hello, and replies hello_ack.
	RoleResponder
)

func (r Role) String() string {
	if r == RoleResponder {
		return "responder"
	}
	return "initiator"
}

// EventKind tags entries on the inbound event channel.
type EventKind int

const (
	// EventStateChange reports a session state transition.
	EventStateChange EventKind = iota
	// EventEnvelope delivers a non-internal inbound envelope.
	EventEnvelope
)

// Event is one entry on the bounded inbound channel. All cross-context
// data is copied at this boundary; consumers never share session state.
type Event struct {
	Kind  EventKind
	State State
	Env   protocol.Envelope
}

// Handler consumes one inbound envelope of a registered type. Handlers
// run on the session's reader goroutine and must not block.
type Handler func(protocol.Envelope)

// Options configures a Session.
type Options struct {
	Role         Role
	Dialer       Dialer
	Config       Config
	Lanes        *lanes.Lanes
	Logger       zerolog.Logger
	ClientName   string
	Capabilities []string
}

// Session drives one connection lifecycle at a time:
// disconnected -> connecting -> handshaking -> active -> (degraded).
// A fresh connection always re-handshakes and requests a full resync;
// nothing in flight survives a reconnect boundary.
type Session struct {
	cfg  Config
	role Role
	dial Dialer
	out  *lanes.Lanes
	log  zerolog.Logger

	clientName   string
	capabilities []string

	handlersMu sync.RWMutex
	handlers   map[string]Handler
	unhandled  Handler

	events  chan Event
	restart chan struct{}

	mu    sync.Mutex
	state State

	errWindow *errorWindow
	rng       *rand.Rand

	pingSeq     atomic.Uint64
	pongSeq     atomic.Uint64
	lastProbeAt atomic.Int64
}

func NewSession(opts Options) (*Session, error) {
	if opts.Dialer == nil {
		return nil, ErrDialerRequired
	}
	if opts.Lanes == nil {
		return nil, ErrLanesRequired
	}
	if opts.ClientName == "" {
		return nil, ErrClientNameRequired
	}
	cfg := opts.Config.WithDefaults()
	return &Session{
		cfg:          cfg,
		role:         opts.Role,
		dial:         opts.Dialer,
		out:          opts.Lanes,
		log:          opts.Logger.With().Str("component", "transport").Str("role", opts.Role.String()).Logger(),
		clientName:   opts.ClientName,
		capabilities: opts.Capabilities,
		handlers:     make(map[string]Handler),
		events:       make(chan Event, 128),
		restart:      make(chan struct{}, 1),
		state:        StateDisconnected,
		errWindow:    newErrorWindow(cfg.ErrorBurstWindow, cfg.ErrorBurstLimit),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Handle registers a handler for one catalog type. Must be called
// before Run.
func (s *Session) Handle(msgType string, h Handler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[msgType] = h
}

// HandleUnknown registers the generic path for types outside the
// catalog. Must be called before Run.
func (s *Session) HandleUnknown(h Handler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.unhandled = h
}

// Events returns the bounded inbound event channel. On overflow the
// oldest entry is dropped; state changes and fresh envelopes are more
// useful than stale ones.
func (s *Session) Events() <-chan Event {
	return s.events
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Restart wakes a session that gave up after a failed degraded-mode
// recovery. External restart is the only way out of that parked state.
func (s *Session) Restart() {
	select {
	case s.restart <- struct{}{}:
	default:
	}
}

// Send enqueues one outbound envelope on its priority lane.
func (s *Session) Send(env protocol.Envelope) {
	s.out.Enqueue(env)
}

type endReason int

const (
	endIOFailure endReason = iota
	endHeartbeatLost
	endBurstReset
	endPeerShutdown
	endCtxDone
)

// Run executes connection lifecycles until ctx is canceled or the
// handshake fails fatally. It never runs on a host-owned thread.
func (s *Session) Run(ctx context.Context) error {
	defer s.setState(StateDisconnected)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := s.connect(ctx, 0)
		if err != nil {
			return err
		}
		if err := s.handshake(ctx, conn); err != nil {
			_ = conn.Close()
			if errors.Is(err, ErrVersionMismatch) || errors.Is(err, ErrHandshakeRejected) {
				s.log.Error().Err(err).Msg("handshake fatal, session closed")
				return err
			}
			s.log.Warn().Err(err).Msg("handshake failed, reconnecting")
			observability.RecordReconnect("handshake_failed")
			continue
		}

		reason := s.runActive(ctx, conn)
		_ = conn.Close()
		s.out.Reset()

		switch reason {
		case endCtxDone:
			return ctx.Err()
		case endBurstReset:
			s.log.Warn().Msg("protocol error burst, full session reset")
			observability.RecordSessionReset()
			s.errWindow.Reset()
			continue
		case endPeerShutdown:
			s.log.Info().Msg("peer announced shutdown, reconnecting")
			continue
		case endHeartbeatLost:
			if err := s.recoverDegraded(ctx); err != nil {
				return err
			}
			continue
		default:
			s.log.Warn().Msg("session i/o failure, reconnecting")
			continue
		}
	}
}

// connect dials with jittered backoff. maxAttempts of 0 retries until
// ctx is done.
func (s *Session) connect(ctx context.Context, maxAttempts int) (net.Conn, error) {
	s.setState(StateConnecting)
	var attempt int
	for {
		attempt++
		dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		conn, err := s.dial.Dial(dialCtx)
		cancel()
		if err == nil {
			observability.RecordReconnect("connected")
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.log.Warn().Err(err).Int("attempt", attempt).Msg("connect failed")
		observability.RecordReconnect("dial_failed")
		if maxAttempts > 0 && attempt >= maxAttempts {
			return nil, err
		}
		delay := NextBackoffDelay(s.cfg.Backoff, attempt, s.rng)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// recoverDegraded makes exactly one recovery attempt out of degraded
// mode. If it fails the session parks until Restart or ctx cancel.
func (s *Session) recoverDegraded(ctx context.Context) error {
	s.setState(StateDegraded)
	s.log.Warn().Msg("heartbeat lost, attempting one recovery")

	conn, err := s.connect(ctx, 1)
	if err == nil {
		if hsErr := s.handshake(ctx, conn); hsErr == nil {
			_ = conn.Close()
			// Probe succeeded; the outer loop re-establishes the real
			// session through the normal path.
			return nil
		}
		_ = conn.Close()
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.setState(StateDegraded)
	s.log.Error().Msg("recovery failed, waiting for external restart")
	observability.RecordReconnect("recovery_failed")
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.restart:
		s.log.Info().Msg("external restart requested")
		return nil
	}
}

func (s *Session) handshake(ctx context.Context, conn net.Conn) error {
	s.setState(StateHandshaking)
	_ = conn.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	defer func() { _ = conn.SetDeadline(time.Time{}) }()

	if s.role == RoleInitiator {
		return s.handshakeInitiator(conn)
	}
	return s.handshakeResponder(conn)
}

func (s *Session) handshakeInitiator(conn net.Conn) error {
	hello, err := protocol.New(protocol.TypeHello, protocol.Hello{
		Major:        protocol.Version,
		Minor:        protocol.MinorVersion,
		ClientName:   s.clientName,
		Capabilities: s.capabilities,
	})
	if err != nil {
		return err
	}
	if err := frame.Write(conn, hello); err != nil {
		return fmt.Errorf("transport: send hello: %w", err)
	}

	env, err := frame.Read(conn)
	if err != nil {
		return fmt.Errorf("transport: await hello_ack: %w", err)
	}
	if env.Type != protocol.TypeHelloAck {
		return fmt.Errorf("%w: got %q before hello_ack", ErrHandshakeRejected, env.Type)
	}
	var ack protocol.HelloAck
	if err := protocol.DecodePayload(env, &ack); err != nil {
		return err
	}
	if ack.Major != protocol.Version {
		return fmt.Errorf("%w: local=%d peer=%d", ErrVersionMismatch, protocol.Version, ack.Major)
	}
	if !ack.Accepted {
		return fmt.Errorf("%w: %s", ErrHandshakeRejected, ack.Reason)
	}
	// A minor mismatch is tolerated: each side simply ignores payload
	// fields it does not recognize.
	return nil
}

func (s *Session) handshakeResponder(conn net.Conn) error {
	env, err := frame.Read(conn)
	if err != nil {
		return fmt.Errorf("transport: await hello: %w", err)
	}
	if env.Type != protocol.TypeHello {
		return fmt.Errorf("%w: got %q before hello", ErrHandshakeRejected, env.Type)
	}
	var hello protocol.Hello
	if err := protocol.DecodePayload(env, &hello); err != nil {
		return err
	}
	if err := hello.Validate(); err != nil {
		return err
	}

	ackPayload := protocol.HelloAck{
		Major:        protocol.Version,
		Minor:        protocol.MinorVersion,
		Accepted:     true,
		Capabilities: s.capabilities,
	}
	if hello.Major != protocol.Version {
		ackPayload.Accepted = false
		ackPayload.Reason = fmt.Sprintf("major version mismatch: local=%d peer=%d", protocol.Version, hello.Major)
	}

	ack, err := protocol.New(protocol.TypeHelloAck, ackPayload)
	if err != nil {
		return err
	}
	if err := frame.Write(conn, ack); err != nil {
		return fmt.Errorf("transport: send hello_ack: %w", err)
	}
	if !ackPayload.Accepted {
		return fmt.Errorf("%w: local=%d peer=%d", ErrVersionMismatch, protocol.Version, hello.Major)
	}
	s.log.Info().Str("client", hello.ClientName).Int("minor", hello.Minor).Msg("handshake complete")
	return nil
}

// runActive owns the connection while in the active state. It returns
// the reason the active phase ended.
func (s *Session) runActive(ctx context.Context, conn net.Conn) endReason {
	s.setState(StateActive)
	s.pingSeq.Store(0)
	s.pongSeq.Store(0)
	s.lastProbeAt.Store(time.Now().UnixNano())

	// Reconnect-first: never assume peer state survived the boundary.
	if resync, err := protocol.New(protocol.TypeRequestStatus, protocol.RequestStatus{Reason: "session_established"}); err == nil {
		s.out.Enqueue(resync)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ends := make(chan endReason, 4)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.writeLoop(runCtx, conn, ends)
	}()
	go func() {
		defer wg.Done()
		s.readLoop(runCtx, conn, ends)
	}()

	reason := s.heartbeatLoop(ctx, conn, ends)

	if reason == endCtxDone {
		s.flushShutdown(conn)
	}
	cancel()
	_ = conn.SetDeadline(time.Now())
	wg.Wait()
	return reason
}

// heartbeatLoop runs on the session goroutine until the active phase
// ends. The initiator probes; the responder watches for probes.
func (s *Session) heartbeatLoop(ctx context.Context, conn net.Conn, ends chan endReason) endReason {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-ctx.Done():
			return endCtxDone
		case reason := <-ends:
			return reason
		case <-ticker.C:
		}

		if s.role == RoleInitiator {
			if s.pongSeq.Load() < s.pingSeq.Load() {
				missed++
			} else {
				missed = 0
			}
			if missed >= s.cfg.HeartbeatMissLimit {
				return endHeartbeatLost
			}
			ping, err := protocol.New(protocol.TypePing, protocol.Ping{Seq: s.pingSeq.Add(1)})
			if err == nil {
				s.out.Enqueue(ping)
			}
			continue
		}

		// Responder: a healthy initiator probes every interval.
		idle := time.Since(time.Unix(0, s.lastProbeAt.Load()))
		if idle > s.cfg.HeartbeatInterval {
			missed++
		} else {
			missed = 0
		}
		if missed >= s.cfg.HeartbeatMissLimit {
			return endHeartbeatLost
		}
	}
}

func (s *Session) writeLoop(ctx context.Context, conn net.Conn, ends chan endReason) {
	for {
		env, err := s.out.Dequeue(ctx)
		if err != nil {
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if err := frame.Write(conn, env); err != nil {
			if ctx.Err() == nil {
				s.log.Warn().Err(err).Str("type", env.Type).Msg("write failed")
				s.reportEnd(ends, endIOFailure)
			}
			return
		}
	}
}

func (s *Session) readLoop(ctx context.Context, conn net.Conn, ends chan endReason) {
	for {
		if ctx.Err() != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		env, err := frame.Read(conn)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				// Read timeouts are the poll cadence, not a failure.
				continue
			}
			if ctx.Err() != nil {
				return
			}
			switch {
			case errors.Is(err, frame.ErrFrameTooLarge):
				if s.recordProtocolError(protocol.ErrCodeFrameTooLarge, err) {
					s.reportEnd(ends, endBurstReset)
					return
				}
				continue
			case errors.Is(err, frame.ErrTruncated),
				errors.Is(err, frame.ErrInvalidLength),
				errors.Is(err, protocol.ErrUnsupportedEncoding),
				errors.Is(err, protocol.ErrSchemaMismatch),
				errors.Is(err, protocol.ErrInvalidPriority):
				if s.recordProtocolError(protocol.ErrCodeDecodeFailed, err) {
					s.reportEnd(ends, endBurstReset)
					return
				}
				continue
			default:
				s.reportEnd(ends, endIOFailure)
				return
			}
		}
		if s.dispatch(env) {
			s.reportEnd(ends, endPeerShutdown)
			return
		}
	}
}

// dispatch routes one inbound envelope. It returns true when the peer
// announced shutdown and the active phase should end.
func (s *Session) dispatch(env protocol.Envelope) bool {
	switch env.Type {
	case protocol.TypePing:
		s.lastProbeAt.Store(time.Now().UnixNano())
		var ping protocol.Ping
		if err := protocol.DecodePayload(env, &ping); err != nil {
			s.recordProtocolError(protocol.ErrCodeDecodeFailed, err)
			return false
		}
		if pong, err := protocol.New(protocol.TypePong, protocol.Pong{Seq: ping.Seq}); err == nil {
			s.out.Enqueue(pong)
		}
		return false
	case protocol.TypePong:
		var pong protocol.Pong
		if err := protocol.DecodePayload(env, &pong); err != nil {
			s.recordProtocolError(protocol.ErrCodeDecodeFailed, err)
			return false
		}
		if pong.Seq > s.pongSeq.Load() {
			s.pongSeq.Store(pong.Seq)
		}
		return false
	case protocol.TypeShutdownNotice:
		s.emit(Event{Kind: EventEnvelope, Env: env})
		return true
	}

	s.handlersMu.RLock()
	handler, ok := s.handlers[env.Type]
	unhandled := s.unhandled
	s.handlersMu.RUnlock()

	switch {
	case ok:
		handler(env)
	case !protocol.Known(env.Type):
		// Unknown types are never fatal; they take the generic path.
		if unhandled != nil {
			unhandled(env)
		} else {
			s.log.Debug().Str("type", env.Type).Msg("unhandled message type")
			s.sendProtocolError(protocol.ErrCodeUnknownType, fmt.Sprintf("unknown message type %q", env.Type), env.ID)
		}
	}
	s.emit(Event{Kind: EventEnvelope, Env: env})
	return false
}

// recordProtocolError counts one codec failure, reports it to the peer,
// and returns true when the rolling-window burst limit is exceeded.
func (s *Session) recordProtocolError(code string, cause error) bool {
	s.log.Warn().Err(cause).Str("code", code).Msg("protocol error")
	observability.RecordProtocolError(code)
	s.sendProtocolError(code, cause.Error(), "")
	return s.errWindow.Record(time.Now())
}

func (s *Session) sendProtocolError(code, message, relatedID string) {
	env, err := protocol.New(protocol.TypeProtocolError, protocol.ProtocolError{
		Code:             code,
		Message:          message,
		RelatedMessageID: relatedID,
	})
	if err != nil {
		return
	}
	s.out.Enqueue(env)
}

// flushShutdown performs cooperative teardown: a critical-priority
// shutdown notice with a short grace period to drain before close.
func (s *Session) flushShutdown(conn net.Conn) {
	if env, err := protocol.New(protocol.TypeShutdownNotice, protocol.ShutdownNotice{Reason: "shutdown"}); err == nil {
		s.out.Enqueue(env)
	}
	deadline := time.Now().Add(s.cfg.FlushGrace)
	for time.Now().Before(deadline) {
		depths := s.out.Len()
		if depths[0]+depths[1]+depths[2]+depths[3] == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
}

func (s *Session) reportEnd(ends chan endReason, reason endReason) {
	select {
	case ends <- reason:
	default:
	}
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	if prev == next {
		return
	}
	s.log.Info().Str("from", string(prev)).Str("to", string(next)).Msg("session state")
	s.emit(Event{Kind: EventStateChange, State: next})
}

// emit delivers to the bounded event channel, dropping the oldest entry
// on overflow so consumers always see the freshest events.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
		return
	default:
	}
	select {
	case <-s.events:
	default:
	}
	select {
	case s.events <- ev:
	default:
	}
}
