// Package lifecycle owns the single WhatsApp connection handle and
// mediates every state transition. It is the only component that
// touches the credential store, holds the session handle, or schedules
// reconnect timers; the HTTP layer only ever reads snapshots.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultDelay = 5 * time.Second

// Config wires a Manager. Factory and Credentials are required.
type Config struct {
	Factory     Factory
	Credentials CredentialStore
	Publisher   Publisher
	Logger      *zap.Logger

	// ReconnectDelay is the fixed delay before reconnecting after an
	// unexpected close or a credentials-kept disconnect.
	ReconnectDelay time.Duration
	// RetryDelay is the fixed delay before retrying after session
	// construction fails.
	RetryDelay time.Duration
}

// Manager is the connection lifecycle manager. All mutation of the
// connection state goes through it; transitions are serialized by an
// internal mutex.
type Manager struct {
	factory        Factory
	creds          CredentialStore
	pub            Publisher
	logger         *zap.Logger
	reconnectDelay time.Duration
	retryDelay     time.Duration

	mu       sync.Mutex
	phase    Phase
	qr       string
	session  Session
	identity *Identity
	attempt  int
	// gen increments on every session construction and teardown so
	// events raised by a stale handle are dropped.
	gen uint64
}

// NewManager creates a Manager in the Idle phase.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Factory == nil {
		return nil, fmt.Errorf("session factory is required")
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultDelay
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultDelay
	}

	return &Manager{
		factory:        cfg.Factory,
		creds:          cfg.Credentials,
		pub:            cfg.Publisher,
		logger:         cfg.Logger,
		reconnectDelay: cfg.ReconnectDelay,
		retryDelay:     cfg.RetryDelay,
		phase:          PhaseIdle,
	}, nil
}

// sink forwards wire-client events into the manager, tagged with the
// generation of the session that raised them.
type sink struct {
	m   *Manager
	gen uint64
}

func (s *sink) QRReceived(code string)    { s.m.onQR(s.gen, code) }
func (s *sink) Opened(id Identity)        { s.m.onOpen(s.gen, id) }
func (s *sink) Closed(reason CloseReason) { s.m.onClose(s.gen, reason) }

// transition moves to a new phase and enforces the two state
// invariants: the QR payload exists only in AwaitingScan and the
// identity exists only in Ready. Callers must hold m.mu.
func (m *Manager) transition(to Phase, reason string) {
	from := m.phase
	if from == to {
		return
	}
	m.phase = to
	if to != PhaseAwaitingScan {
		m.qr = ""
	}
	if to != PhaseReady {
		m.identity = nil
	}

	m.logger.Info("phase transition",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.String("reason", reason))
	if m.pub != nil {
		m.pub.PublishTransition(Transition{From: from, To: to, Reason: reason, At: time.Now()})
	}
}

// RequestConnect builds a new session handle and starts connecting. A
// no-op when the session is already ready. Any stale handle is closed
// first; construction failure returns the manager to Idle and schedules
// a single fixed-delay retry.
func (m *Manager) RequestConnect(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	if m.phase == PhaseReady {
		snap := m.snapshotLocked()
		m.mu.Unlock()
		return snap, nil
	}
	if m.phase == PhaseClosing {
		// An explicit teardown is in flight; let it finish.
		snap := m.snapshotLocked()
		m.mu.Unlock()
		return snap, nil
	}
	if stale := m.session; stale != nil {
		m.session = nil
		// Best effort; a handle that refuses to close must not block a
		// fresh connect.
		stale.Close()
	}
	m.gen++
	gen := m.gen
	m.transition(PhaseConnecting, "connect requested")
	m.mu.Unlock()

	sess, err := m.factory.NewSession(ctx, &sink{m: m, gen: gen})
	if err != nil {
		m.failConnect(gen, nil, "session construction failed")
		return m.Snapshot(), fmt.Errorf("construct session: %w", err)
	}

	m.mu.Lock()
	if m.gen != gen || m.phase != PhaseConnecting {
		// A disconnect or another connect won the race while the handle
		// was under construction; discard ours.
		m.mu.Unlock()
		sess.Close()
		return m.Snapshot(), nil
	}
	m.session = sess
	m.mu.Unlock()

	if err := sess.Connect(ctx); err != nil {
		m.failConnect(gen, sess, "connect failed")
		return m.Snapshot(), fmt.Errorf("connect session: %w", err)
	}
	return m.Snapshot(), nil
}

// failConnect returns to Idle after a failed construction or dial and
// schedules a retry, unless a newer session generation took over.
func (m *Manager) failConnect(gen uint64, sess Session, reason string) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		if sess != nil {
			sess.Close()
		}
		return
	}
	if m.session == sess {
		m.session = nil
	}
	m.transition(PhaseIdle, reason)
	m.mu.Unlock()

	if sess != nil {
		sess.Close()
	}
	m.logger.Warn("connect attempt failed, retry scheduled",
		zap.String("reason", reason),
		zap.Duration("delay", m.retryDelay))
	m.schedule(m.retryDelay)
}

// schedule arms a one-shot reconnect timer. The timer is never
// cancelled; when it fires it re-checks the phase and becomes a no-op
// if the connection became ready or an explicit teardown started in
// the meantime.
func (m *Manager) schedule(delay time.Duration) {
	time.AfterFunc(delay, func() {
		m.mu.Lock()
		phase := m.phase
		m.mu.Unlock()
		if phase == PhaseReady || phase == PhaseClosing {
			return
		}
		if _, err := m.RequestConnect(context.Background()); err != nil {
			m.logger.Warn("scheduled reconnect failed", zap.Error(err))
		}
	})
}

// onQR records a pairing code. Codes are emitted repeatedly while the
// operator has not scanned; each refresh supersedes the previous token.
func (m *Manager) onQR(gen uint64, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	if m.phase != PhaseConnecting && m.phase != PhaseAwaitingScan {
		return
	}
	m.transition(PhaseAwaitingScan, "qr code received")
	m.qr = code
}

func (m *Manager) onOpen(gen uint64, id Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	m.transition(PhaseReady, "connection opened")
	m.identity = &id
	m.attempt = 0
}

func (m *Manager) onClose(gen uint64, reason CloseReason) {
	m.mu.Lock()
	if gen != m.gen || m.phase == PhaseClosing || m.phase == PhaseIdle {
		m.mu.Unlock()
		return
	}

	if reason.LoggedOut {
		// Terminal: the remote side invalidated the session. Stay down
		// until the operator re-pairs.
		sess := m.session
		m.session = nil
		m.gen++
		m.transition(PhaseIdle, "logged out: "+reason.Description)
		m.mu.Unlock()
		if sess != nil {
			sess.Close()
		}
		m.logger.Warn("session invalidated by remote, not reconnecting",
			zap.String("reason", reason.Description))
		return
	}

	m.attempt++
	attempt := m.attempt
	m.transition(PhaseConnecting, "connection closed: "+reason.Description)
	m.mu.Unlock()

	m.logger.Warn("connection closed, reconnect scheduled",
		zap.String("reason", reason.Description),
		zap.Int("attempt", attempt),
		zap.Duration("delay", m.reconnectDelay))
	m.schedule(m.reconnectDelay)
}

// DisconnectOptions control an explicit teardown. Reconnect is a
// caller-supplied decision, never inferred from WipeCredentials.
type DisconnectOptions struct {
	WipeCredentials bool
	Reconnect       bool
}

// DisconnectResult reports what a disconnect actually did.
type DisconnectResult struct {
	DeletedAuth bool `json:"deletedAuth"`
}

// RequestDisconnect tears the session down: graceful logout, then
// close, then (optionally) credential wipe, always in that order, so
// the wire client cannot race a credential write against the deletion.
// Idempotent: with no live handle and no wipe requested it returns
// success immediately.
func (m *Manager) RequestDisconnect(ctx context.Context, opts DisconnectOptions) (DisconnectResult, error) {
	m.mu.Lock()
	if m.phase == PhaseClosing {
		// Another teardown is already in flight.
		m.mu.Unlock()
		return DisconnectResult{}, nil
	}
	sess := m.session
	if sess == nil {
		m.transition(PhaseIdle, "disconnect requested")
		m.mu.Unlock()
		if !opts.WipeCredentials {
			return DisconnectResult{}, nil
		}
		// No handle to race against; the wipe still runs so a later
		// connect is forced through fresh pairing.
		return DisconnectResult{DeletedAuth: m.wipeCredentials()}, nil
	}
	m.session = nil
	m.gen++
	m.transition(PhaseClosing, "disconnect requested")
	m.mu.Unlock()

	if err := sess.Logout(ctx); err != nil {
		m.logger.Warn("graceful logout failed, closing anyway", zap.Error(err))
	}
	sess.Close()

	deleted := false
	if opts.WipeCredentials {
		deleted = m.wipeCredentials()
	}

	m.mu.Lock()
	m.transition(PhaseIdle, "disconnect complete")
	m.mu.Unlock()

	if !opts.WipeCredentials && opts.Reconnect {
		m.schedule(m.reconnectDelay)
	}
	return DisconnectResult{DeletedAuth: deleted}, nil
}

// wipeCredentials deletes persisted credentials. Failures are logged,
// not raised: partial cleanup is preferable to blocking reconnection.
func (m *Manager) wipeCredentials() bool {
	if err := m.creds.Wipe(); err != nil {
		m.logger.Error("credential wipe failed", zap.Error(err))
		return false
	}
	m.logger.Info("credentials wiped")
	return true
}

// ClearAuth disconnects, wipes credentials, and immediately reconnects.
// With no credentials left the fresh connect necessarily re-enters QR
// pairing.
func (m *Manager) ClearAuth(ctx context.Context) (Snapshot, error) {
	if _, err := m.RequestDisconnect(ctx, DisconnectOptions{WipeCredentials: true}); err != nil {
		return m.Snapshot(), err
	}
	return m.RequestConnect(ctx)
}

// SendMessage delivers text, media, or both to a target. The target is
// normalized into a routing address first. Failures from the wire
// client are surfaced, never retried.
func (m *Manager) SendMessage(ctx context.Context, target, text string, media *Media) (string, error) {
	m.mu.Lock()
	sess := m.session
	ready := m.phase == PhaseReady
	m.mu.Unlock()
	if !ready || sess == nil {
		return "", ErrNotReady
	}
	if strings.TrimSpace(target) == "" {
		return "", fmt.Errorf("%w: target is required", ErrInvalidArgument)
	}
	if text == "" && media == nil {
		return "", fmt.Errorf("%w: either text or media is required", ErrInvalidArgument)
	}

	address, err := NormalizeAddress(target)
	if err != nil {
		return "", err
	}

	var id string
	if media != nil {
		id, err = sess.SendMedia(ctx, address, text, *media)
	} else {
		id, err = sess.SendText(ctx, address, text)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	m.logger.Info("message sent",
		zap.String("address", address),
		zap.String("message_id", id),
		zap.Bool("media", media != nil))
	return id, nil
}

// ListGroups enumerates joined group chats.
func (m *Manager) ListGroups(ctx context.Context) ([]Group, error) {
	m.mu.Lock()
	sess := m.session
	ready := m.phase == PhaseReady
	m.mu.Unlock()
	if !ready || sess == nil {
		return nil, ErrNotReady
	}

	groups, err := sess.Groups(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return groups, nil
}

// Snapshot is a pure read of the connection state. It never blocks on
// network I/O and never mutates.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	snap := Snapshot{
		Phase:       m.phase,
		HasQR:       m.qr != "",
		HasSession:  m.session != nil,
		HasIdentity: m.identity != nil,
	}
	if m.identity != nil {
		id := *m.identity
		snap.Identity = &id
	}
	return snap
}

// QR returns the current pairing code, if one is pending scan.
func (m *Manager) QR() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.qr, m.qr != ""
}
