package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu         sync.Mutex
	connectErr error
	logoutErr  error
	sendErr    error
	groupsErr  error
	groups     []Group

	connected bool
	loggedOut bool
	closed    bool

	sentAddresses []string
	sentTexts     []string
	sentMedia     []Media
}

func (f *fakeSession) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeSession) Logout(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = true
	return f.logoutErr
}

func (f *fakeSession) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSession) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSession) SendText(ctx context.Context, address, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sentAddresses = append(f.sentAddresses, address)
	f.sentTexts = append(f.sentTexts, text)
	return fmt.Sprintf("msg-%d", len(f.sentAddresses)), nil
}

func (f *fakeSession) SendMedia(ctx context.Context, address, caption string, media Media) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sentAddresses = append(f.sentAddresses, address)
	f.sentMedia = append(f.sentMedia, media)
	return fmt.Sprintf("msg-%d", len(f.sentAddresses)), nil
}

func (f *fakeSession) Groups(ctx context.Context) ([]Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.groups, f.groupsErr
}

type fakeFactory struct {
	mu       sync.Mutex
	err      error
	sessions []*fakeSession
	sinks    []Events
}

func (f *fakeFactory) NewSession(ctx context.Context, sink Events) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	sess := &fakeSession{}
	f.sessions = append(f.sessions, sess)
	f.sinks = append(f.sinks, sink)
	return sess, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeFactory) last() (*fakeSession, Events) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return nil, nil
	}
	return f.sessions[len(f.sessions)-1], f.sinks[len(f.sinks)-1]
}

func (f *fakeFactory) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fakeCreds struct {
	mu    sync.Mutex
	err   error
	wipes int
	// watch, when set, records whether that session was already closed
	// at wipe time.
	watch        *fakeSession
	closedAtWipe bool
	wipeObserved bool
}

func (f *fakeCreds) Wipe() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.wipes++
	if f.watch != nil {
		f.closedAtWipe = f.watch.isClosed()
		f.wipeObserved = true
	}
	return nil
}

func (f *fakeCreds) wipeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wipes
}

func newTestManager(t *testing.T) (*Manager, *fakeFactory, *fakeCreds) {
	t.Helper()
	factory := &fakeFactory{}
	creds := &fakeCreds{}
	m, err := NewManager(Config{
		Factory:        factory,
		Credentials:    creds,
		ReconnectDelay: 20 * time.Millisecond,
		RetryDelay:     20 * time.Millisecond,
	})
	require.NoError(t, err)
	return m, factory, creds
}

// checkInvariants asserts the state invariants that must hold after
// every transition: a QR payload only in awaiting_scan, an identity
// only in ready.
func checkInvariants(t *testing.T, m *Manager) {
	t.Helper()
	snap := m.Snapshot()
	_, hasQR := m.QR()
	if hasQR {
		assert.Equal(t, PhaseAwaitingScan, snap.Phase, "qr payload outside awaiting_scan")
	}
	if snap.Phase == PhaseReady {
		assert.True(t, snap.HasIdentity, "ready without identity")
	} else {
		assert.False(t, snap.HasIdentity, "identity outside ready")
	}
}

func connectReady(t *testing.T, m *Manager, factory *fakeFactory) *fakeSession {
	t.Helper()
	_, err := m.RequestConnect(context.Background())
	require.NoError(t, err)
	sess, sink := factory.last()
	require.NotNil(t, sess)
	sink.Opened(Identity{ID: "628111@s.whatsapp.net", DisplayName: "Ops"})
	require.Equal(t, PhaseReady, m.Snapshot().Phase)
	return sess
}

func TestConnectFollowsQRFlow(t *testing.T) {
	m, factory, _ := newTestManager(t)

	snap, err := m.RequestConnect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PhaseConnecting, snap.Phase)
	checkInvariants(t, m)

	_, sink := factory.last()
	sink.QRReceived("token-1")
	checkInvariants(t, m)

	snap = m.Snapshot()
	assert.Equal(t, PhaseAwaitingScan, snap.Phase)
	qr, ok := m.QR()
	require.True(t, ok)
	assert.Equal(t, "token-1", qr)

	// Each refresh supersedes the previous token.
	sink.QRReceived("token-2")
	qr, _ = m.QR()
	assert.Equal(t, "token-2", qr)

	sink.Opened(Identity{ID: "628111@s.whatsapp.net", DisplayName: "Ops"})
	checkInvariants(t, m)

	snap = m.Snapshot()
	assert.Equal(t, PhaseReady, snap.Phase)
	assert.False(t, snap.HasQR)
	require.NotNil(t, snap.Identity)
	assert.Equal(t, "Ops", snap.Identity.DisplayName)
}

func TestConnectWhileReadyIsNoOp(t *testing.T) {
	m, factory, _ := newTestManager(t)
	connectReady(t, m, factory)

	snap, err := m.RequestConnect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PhaseReady, snap.Phase)
	assert.Equal(t, 1, factory.count(), "ready connect must not build a new session")
}

func TestConnectClosesStaleHandleFirst(t *testing.T) {
	m, factory, _ := newTestManager(t)

	_, err := m.RequestConnect(context.Background())
	require.NoError(t, err)
	stale, _ := factory.last()

	_, err = m.RequestConnect(context.Background())
	require.NoError(t, err)

	assert.True(t, stale.isClosed(), "previous handle must be torn down")
	assert.Equal(t, 2, factory.count())
}

func TestConstructionFailureGoesIdleAndRetries(t *testing.T) {
	m, factory, _ := newTestManager(t)
	factory.setErr(errors.New("credential store unavailable"))

	_, err := m.RequestConnect(context.Background())
	require.Error(t, err)
	assert.Equal(t, PhaseIdle, m.Snapshot().Phase)
	checkInvariants(t, m)

	factory.setErr(nil)
	require.Eventually(t, func() bool {
		return factory.count() == 1 && m.Snapshot().Phase == PhaseConnecting
	}, time.Second, 5*time.Millisecond, "retry timer should rebuild the session")
}

func TestStaleSessionEventsAreDropped(t *testing.T) {
	m, factory, _ := newTestManager(t)

	_, err := m.RequestConnect(context.Background())
	require.NoError(t, err)
	_, oldSink := factory.last()

	_, err = m.RequestConnect(context.Background())
	require.NoError(t, err)

	oldSink.QRReceived("stale-token")
	_, ok := m.QR()
	assert.False(t, ok, "stale handle must not deliver a QR")

	oldSink.Opened(Identity{ID: "old"})
	assert.NotEqual(t, PhaseReady, m.Snapshot().Phase, "stale handle must not open the session")
}

func TestCloseSchedulesExactlyOneReconnect(t *testing.T) {
	m, factory, _ := newTestManager(t)
	connectReady(t, m, factory)
	_, sink := factory.last()

	sink.Closed(CloseReason{Description: "socket disconnected"})
	checkInvariants(t, m)
	assert.Equal(t, PhaseConnecting, m.Snapshot().Phase)

	require.Eventually(t, func() bool {
		return factory.count() == 2
	}, time.Second, 5*time.Millisecond, "reconnect timer should fire once")

	// No second reconnect from the same close.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 2, factory.count())
}

func TestLoggedOutCloseStaysIdle(t *testing.T) {
	m, factory, _ := newTestManager(t)
	sess := connectReady(t, m, factory)
	_, sink := factory.last()

	sink.Closed(CloseReason{Description: "logged out by remote", LoggedOut: true})
	checkInvariants(t, m)
	assert.Equal(t, PhaseIdle, m.Snapshot().Phase)
	assert.True(t, sess.isClosed())

	// Well past the reconnect delay: no timer may have been armed.
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, factory.count(), "auth-invalidated close must not reconnect")
	assert.Equal(t, PhaseIdle, m.Snapshot().Phase)
}

func TestReconnectTimerNoOpsWhenReady(t *testing.T) {
	m, factory, _ := newTestManager(t)
	connectReady(t, m, factory)
	_, sink := factory.last()

	sink.Closed(CloseReason{Description: "blip"})

	// The connection recovers through the scheduled reconnect; once
	// ready, any further pending timers must not tear it down.
	require.Eventually(t, func() bool { return factory.count() == 2 }, time.Second, 5*time.Millisecond)
	_, sink = factory.last()
	sink.Opened(Identity{ID: "628111@s.whatsapp.net"})

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, PhaseReady, m.Snapshot().Phase)
	assert.Equal(t, 2, factory.count())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	m, factory, _ := newTestManager(t)
	sess := connectReady(t, m, factory)

	res, err := m.RequestDisconnect(context.Background(), DisconnectOptions{})
	require.NoError(t, err)
	assert.False(t, res.DeletedAuth)
	assert.Equal(t, PhaseIdle, m.Snapshot().Phase)
	assert.True(t, sess.loggedOut)
	assert.True(t, sess.isClosed())

	res, err = m.RequestDisconnect(context.Background(), DisconnectOptions{})
	require.NoError(t, err)
	assert.False(t, res.DeletedAuth)
	assert.Equal(t, PhaseIdle, m.Snapshot().Phase)
}

func TestDisconnectLogoutFailureStillCloses(t *testing.T) {
	m, factory, _ := newTestManager(t)
	sess := connectReady(t, m, factory)
	sess.mu.Lock()
	sess.logoutErr = errors.New("stream already dead")
	sess.mu.Unlock()

	_, err := m.RequestDisconnect(context.Background(), DisconnectOptions{})
	require.NoError(t, err, "teardown errors are logged, not raised")
	assert.True(t, sess.isClosed())
	assert.Equal(t, PhaseIdle, m.Snapshot().Phase)
}

func TestDisconnectWipesCredentialsAfterClose(t *testing.T) {
	m, factory, creds := newTestManager(t)
	sess := connectReady(t, m, factory)
	creds.watch = sess

	res, err := m.RequestDisconnect(context.Background(), DisconnectOptions{WipeCredentials: true})
	require.NoError(t, err)
	assert.True(t, res.DeletedAuth)
	require.True(t, creds.wipeObserved)
	assert.True(t, creds.closedAtWipe, "session must be closed before credentials are deleted")

	// Wipe means stay down: no reconnect timer.
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, factory.count())
}

func TestDisconnectKeepCredentialsReconnects(t *testing.T) {
	m, factory, creds := newTestManager(t)
	connectReady(t, m, factory)

	res, err := m.RequestDisconnect(context.Background(), DisconnectOptions{Reconnect: true})
	require.NoError(t, err)
	assert.False(t, res.DeletedAuth)
	assert.Equal(t, 0, creds.wipeCount())

	require.Eventually(t, func() bool {
		return factory.count() == 2
	}, time.Second, 5*time.Millisecond, "credentials-kept disconnect should reconnect")
}

func TestDisconnectWipeErrorReportsNotDeleted(t *testing.T) {
	m, factory, creds := newTestManager(t)
	connectReady(t, m, factory)
	creds.err = errors.New("permission denied")

	res, err := m.RequestDisconnect(context.Background(), DisconnectOptions{WipeCredentials: true})
	require.NoError(t, err, "wipe errors are logged, not raised")
	assert.False(t, res.DeletedAuth)
	assert.Equal(t, PhaseIdle, m.Snapshot().Phase)
}

func TestColdWipeStillDeletesCredentials(t *testing.T) {
	m, _, creds := newTestManager(t)

	res, err := m.RequestDisconnect(context.Background(), DisconnectOptions{WipeCredentials: true})
	require.NoError(t, err)
	assert.True(t, res.DeletedAuth)
	assert.Equal(t, 1, creds.wipeCount())
}

func TestClearAuthForcesFreshPairing(t *testing.T) {
	m, factory, creds := newTestManager(t)
	connectReady(t, m, factory)

	snap, err := m.ClearAuth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, creds.wipeCount())
	assert.Equal(t, PhaseConnecting, snap.Phase, "clear-auth must end connecting, never closing")
	assert.Equal(t, 2, factory.count())

	// The fresh, credential-less session goes through QR pairing.
	_, sink := factory.last()
	sink.QRReceived("fresh-token")
	assert.Equal(t, PhaseAwaitingScan, m.Snapshot().Phase)
	checkInvariants(t, m)
}

func TestSendMessageRequiresReady(t *testing.T) {
	m, factory, _ := newTestManager(t)

	_, err := m.SendMessage(context.Background(), "628999812190", "hi", nil)
	assert.ErrorIs(t, err, ErrNotReady)

	_, err = m.RequestConnect(context.Background())
	require.NoError(t, err)
	_, err = m.SendMessage(context.Background(), "628999812190", "hi", nil)
	assert.ErrorIs(t, err, ErrNotReady, "connecting is not ready")

	connectReady(t, m, factory)
	_, err = m.SendMessage(context.Background(), "628999812190", "hi", nil)
	assert.NoError(t, err)
}

func TestSendMessageValidation(t *testing.T) {
	m, factory, _ := newTestManager(t)
	connectReady(t, m, factory)

	_, err := m.SendMessage(context.Background(), "", "hi", nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = m.SendMessage(context.Background(), "628999812190", "", nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSendMessageNormalizesTarget(t *testing.T) {
	m, factory, _ := newTestManager(t)
	sess := connectReady(t, m, factory)

	_, err := m.SendMessage(context.Background(), "+62 899-981-2190", "hello", nil)
	require.NoError(t, err)

	_, err = m.SendMessage(context.Background(), "120363040@g.us", "hello group", nil)
	require.NoError(t, err)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	require.Len(t, sess.sentAddresses, 2)
	assert.Equal(t, "628999812190"+DirectSuffix, sess.sentAddresses[0])
	assert.Equal(t, "120363040@g.us", sess.sentAddresses[1], "suffixed target passes through verbatim")
}

func TestSendMessageSurfacesDeliveryFailure(t *testing.T) {
	m, factory, _ := newTestManager(t)
	sess := connectReady(t, m, factory)
	sess.mu.Lock()
	sess.sendErr = errors.New("server rejected the media key")
	sess.mu.Unlock()

	_, err := m.SendMessage(context.Background(), "628999812190", "hello", nil)
	assert.ErrorIs(t, err, ErrDeliveryFailed)
	assert.Contains(t, err.Error(), "server rejected the media key")
}

func TestSendMediaRoutesThroughMediaPath(t *testing.T) {
	m, factory, _ := newTestManager(t)
	sess := connectReady(t, m, factory)

	media := &Media{Data: []byte{0x89, 0x50}, MimeType: "image/png", FileName: "chart.png"}
	id, err := m.SendMessage(context.Background(), "628999812190", "caption", media)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	require.Len(t, sess.sentMedia, 1)
	assert.Equal(t, "image/png", sess.sentMedia[0].MimeType)
}

func TestListGroups(t *testing.T) {
	m, factory, _ := newTestManager(t)

	_, err := m.ListGroups(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)

	sess := connectReady(t, m, factory)
	sess.mu.Lock()
	sess.groups = []Group{{JID: "120363040@g.us", Name: "Ops", Participants: 12}}
	sess.mu.Unlock()

	groups, err := m.ListGroups(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "Ops", groups[0].Name)

	sess.mu.Lock()
	sess.groupsErr = errors.New("iq timeout")
	sess.mu.Unlock()
	_, err = m.ListGroups(context.Background())
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Contains(t, err.Error(), "iq timeout")
}

func TestSnapshotNeverExposesHandle(t *testing.T) {
	m, factory, _ := newTestManager(t)
	connectReady(t, m, factory)

	snap := m.Snapshot()
	require.NotNil(t, snap.Identity)
	snap.Identity.DisplayName = "mutated"

	again := m.Snapshot()
	assert.Equal(t, "Ops", again.Identity.DisplayName, "snapshot must return a copy")
}
