package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultRefreshLead is how far ahead of the expiry hint a scheduled
	// refresh fires.
	DefaultRefreshLead = time.Minute

	// minRefreshDelay floors the timer so a stale or very short hint cannot
	// spin the scheduler.
	minRefreshDelay = time.Second
)

// ErrNoSession reports that an operation requiring an active session ran
// without one, or that the session ended while the operation was in flight.
var ErrNoSession = errors.New("no active session")

// Gateway is the identity-provider surface the manager drives. Implementations
// hold no session state of their own and must bound their call durations
// internally: the manager invokes Refresh from background timers with a
// context that never expires.
type Gateway interface {
	Login(ctx context.Context, email, password string) (*Session, error)
	Register(ctx context.Context, name, email, password string) (*Session, error)
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
	Logout(ctx context.Context, accessToken string) error
}

// Cause says why a transition happened. The distinction consumers need is
// CauseLogout versus CauseExpired: both land in StateUnauthenticated, but
// only the latter should push the user to a sign-in surface.
type Cause string

const (
	CauseSignIn  Cause = "sign_in"
	CauseRefresh Cause = "refresh"
	CauseLogout  Cause = "logout"
	CauseExpired Cause = "expired"
	CauseStorage Cause = "storage"
)

// Event is delivered to subscribers on every state transition. Session is a
// consistent snapshot taken at transition time, nil when no session exists.
type Event struct {
	State   State
	Cause   Cause
	Session *Session
}

type notification struct {
	event Event
	fns   []func(Event)
}

// Manager owns the authoritative session state machine. It is the only
// writer to the Store, deduplicates concurrent refresh attempts into a
// single network call, and schedules a proactive refresh ahead of the
// expiry hint when one is known.
//
// The generation counter guards against stale results: every sign-in and
// every teardown bumps it, and a refresh that resolves under an older
// generation is discarded rather than applied.
type Manager struct {
	gateway Gateway
	store   Store
	log     zerolog.Logger
	nowFunc func() time.Time

	refreshLead time.Duration
	autoRefresh bool

	mu           sync.Mutex
	state        State
	session      *Session
	generation   uint64
	refreshTimer *time.Timer
	subscribers  map[int]func(Event)
	nextSubID    int

	refreshGroup singleflight.Group

	queueMu   sync.Mutex
	queueCond *sync.Cond
	queue     []notification
	closed    bool
}

// ManagerOption defines a function type to modify the Manager instance.
type ManagerOption func(*Manager)

// WithLogger sets the logger; the default discards everything.
func WithLogger(log zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = log
	}
}

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

// WithRefreshLead sets how far before the expiry hint the scheduled refresh
// fires.
func WithRefreshLead(lead time.Duration) ManagerOption {
	return func(m *Manager) {
		m.refreshLead = lead
	}
}

// WithoutAutoRefresh disables the expiry timer; refreshing becomes purely
// caller-driven.
func WithoutAutoRefresh() ManagerOption {
	return func(m *Manager) {
		m.autoRefresh = false
	}
}

// NewManager initializes a Manager with its required collaborators.
// Optional configuration can be provided via options (e.g. WithNowFunc for
// testing).
func NewManager(gw Gateway, store Store, options ...ManagerOption) (*Manager, error) {
	if gw == nil {
		return nil, errors.New("[NewManager] gateway is required")
	}
	if store == nil {
		return nil, errors.New("[NewManager] store is required")
	}

	m := &Manager{
		gateway:     gw,
		store:       store,
		log:         zerolog.Nop(),
		nowFunc:     time.Now,
		refreshLead: DefaultRefreshLead,
		autoRefresh: true,
		state:       StateUnauthenticated,
		subscribers: make(map[int]func(Event)),
	}

	for _, opt := range options {
		opt(m)
	}

	m.queueCond = sync.NewCond(&m.queueMu)
	go m.deliverLoop()
	return m, nil
}

// Close stops the refresh timer and the event delivery goroutine. The
// manager must not be used afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
	m.mu.Unlock()

	m.queueMu.Lock()
	m.closed = true
	m.queueCond.Broadcast()
	m.queueMu.Unlock()
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Current returns a snapshot of the active session.
func (m *Manager) Current() (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, false
	}
	return m.session.Clone(), true
}

// CurrentUser returns the profile snapshot of the active session. A user
// whose access token is expired by hint is never exposed.
func (m *Manager) CurrentUser() (User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || m.session.ExpiredBy(m.nowFunc()) {
		return User{}, false
	}
	return m.session.Clone().User, true
}

// IsAuthenticated reports whether an active session exists. A session mid
// refresh or in the degraded state still counts.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return false
	}
	switch m.state {
	case StateAuthenticated, StateRefreshing, StateDegraded:
		return true
	}
	return false
}

// Subscribe registers a callback invoked on every state transition, in
// transition order, outside the manager's locks. The returned function
// cancels the subscription.
func (m *Manager) Subscribe(fn func(Event)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
}

// Login exchanges credentials for a session and installs it, replacing any
// session already active. A failure is returned to the caller and leaves
// existing session state untouched.
func (m *Manager) Login(ctx context.Context, email, password string) (*Session, error) {
	m.mu.Lock()
	prev := m.state
	if prev == StateUnauthenticated {
		m.setStateLocked(StateAuthenticating, CauseSignIn)
	}
	m.mu.Unlock()

	sess, err := m.gateway.Login(ctx, email, password)
	if err != nil {
		m.rollbackSignIn(prev)
		return nil, err
	}
	return m.installNew(sess), nil
}

// Register creates an account, then installs the returned session exactly as
// Login does.
func (m *Manager) Register(ctx context.Context, name, email, password string) (*Session, error) {
	m.mu.Lock()
	prev := m.state
	if prev == StateUnauthenticated {
		m.setStateLocked(StateAuthenticating, CauseSignIn)
	}
	m.mu.Unlock()

	sess, err := m.gateway.Register(ctx, name, email, password)
	if err != nil {
		m.rollbackSignIn(prev)
		return nil, err
	}
	return m.installNew(sess), nil
}

// AdoptSession installs a session minted outside the manager, such as the
// result of an OAuth code exchange. The session must be fully populated.
func (m *Manager) AdoptSession(sess *Session) (*Session, error) {
	if !sess.Valid() {
		return nil, errors.New("[AdoptSession] session is not fully populated")
	}
	return m.installNew(sess.Clone()), nil
}

// Refresh rotates the token pair through a deduplicated network call: all
// callers concurrent with an in-flight refresh of the same session share one
// request and one outcome. A refresh failure of any kind ends the session;
// the manager clears the store and notifies subscribers before returning.
//
// Cancelling ctx abandons the wait, not the shared attempt, which continues
// in the background and still applies its outcome.
func (m *Manager) Refresh(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return nil, ErrNoSession
	}
	gen := m.generation
	refreshToken := m.session.RefreshToken
	if m.state == StateAuthenticated || m.state == StateDegraded {
		m.setStateLocked(StateRefreshing, CauseRefresh)
	}
	m.mu.Unlock()

	ch := m.refreshGroup.DoChan(strconv.FormatUint(gen, 10), func() (any, error) {
		return m.doRefresh(gen, refreshToken)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Session), nil
	}
}

// Logout tears down local state first and then calls the server. The remote
// invalidation is best-effort: a failure is logged and otherwise ignored, so
// a refresh token the server never saw revoked stays valid there until it
// expires on its own.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	if m.session == nil && m.state == StateUnauthenticated {
		m.mu.Unlock()
		return nil
	}
	var accessToken string
	if m.session != nil {
		accessToken = m.session.AccessToken
	}
	m.teardownLocked(CauseLogout)
	m.mu.Unlock()

	if accessToken == "" {
		return nil
	}
	if err := m.gateway.Logout(ctx, accessToken); err != nil {
		m.log.Warn().Err(err).Msg("server-side logout failed")
	}
	return nil
}

// Invalidate forces the session down in response to an invalid-token signal
// from any authenticated call, regardless of current state.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return
	}
	m.log.Warn().Msg("session invalidated by rejected credentials")
	m.teardownLocked(CauseExpired)
}

// Restore loads the persisted session and validates it with one refresh.
// Absent, corrupt, or unreadable stored state leaves the manager
// unauthenticated with a nil error; only a failed validation returns its
// cause, and by then the session has already been torn down. Call once at
// startup.
func (m *Manager) Restore(ctx context.Context) error {
	sess, err := m.store.Load()
	if err != nil {
		m.log.Warn().Err(err).Msg("session store read failed")
		return nil
	}
	if !sess.Valid() {
		return nil
	}

	m.mu.Lock()
	if m.session != nil {
		m.mu.Unlock()
		return nil
	}
	m.generation++
	m.session = sess.Clone()
	m.setStateLocked(StateRefreshing, CauseRefresh)
	m.mu.Unlock()

	if _, err := m.Refresh(ctx); err != nil {
		return err
	}
	return nil
}

// doRefresh is the single-flight body: at most one execution per in-flight
// generation. The network call is detached from caller contexts so one
// caller's cancellation cannot fail an attempt others are waiting on.
func (m *Manager) doRefresh(gen uint64, refreshToken string) (*Session, error) {
	fresh, err := m.gateway.Refresh(context.Background(), refreshToken)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.generation != gen {
		// Logout or a newer sign-in won while the call was in flight.
		return nil, ErrNoSession
	}

	if err != nil {
		m.log.Warn().Err(err).Msg("token refresh failed, ending session")
		m.teardownLocked(CauseExpired)
		return nil, err
	}

	// Fields absent from a refresh response carry over from the current
	// session; the hint always tracks the new access token.
	merged := m.session.Clone()
	merged.AccessToken = fresh.AccessToken
	merged.ExpiresAt = fresh.ExpiresAt
	merged.LastError = ""
	if fresh.RefreshToken != "" {
		merged.RefreshToken = fresh.RefreshToken
	}
	if fresh.User.ID != "" {
		merged.User = fresh.User
	}
	if fresh.CSRFToken != "" {
		merged.CSRFToken = fresh.CSRFToken
	}

	m.installLocked(merged, CauseRefresh, false)
	return merged.Clone(), nil
}

func (m *Manager) installNew(sess *Session) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.installLocked(sess, CauseSignIn, true)
	return m.session.Clone()
}

// installLocked makes sess the active session and persists it. A failed
// store write leaves the session live in memory and moves the state machine
// to StateDegraded instead of StateAuthenticated.
func (m *Manager) installLocked(sess *Session, cause Cause, newGeneration bool) {
	if newGeneration {
		m.generation++
	}
	m.session = sess

	if err := m.store.Save(sess); err != nil {
		m.log.Error().Err(err).Msg("session save failed")
		sess.LastError = LastErrorStorage
		m.state = StateDegraded
		m.emitLocked(CauseStorage)
	} else {
		sess.LastError = ""
		m.state = StateAuthenticated
		m.emitLocked(cause)
	}

	m.scheduleRefreshLocked()
}

func (m *Manager) teardownLocked(cause Cause) {
	m.generation++
	m.session = nil
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
	if err := m.store.Clear(); err != nil {
		m.log.Error().Err(err).Msg("session clear failed")
	}
	m.state = StateUnauthenticated
	m.emitLocked(cause)
}

// rollbackSignIn undoes the Authenticating transition after a failed
// sign-in attempt, unless a concurrent operation already moved the state.
func (m *Manager) rollbackSignIn(prev State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateAuthenticating {
		m.setStateLocked(prev, CauseSignIn)
	}
}

func (m *Manager) setStateLocked(next State, cause Cause) {
	if m.state == next {
		return
	}
	m.state = next
	m.emitLocked(cause)
}

// scheduleRefreshLocked arms the proactive timer for the active session.
// Without an expiry hint refreshing stays purely reactive.
func (m *Manager) scheduleRefreshLocked() {
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
	if !m.autoRefresh || m.session == nil || m.session.ExpiresAt.IsZero() {
		return
	}

	delay := m.session.ExpiresAt.Sub(m.nowFunc()) - m.refreshLead
	if delay < minRefreshDelay {
		delay = minRefreshDelay
	}
	m.refreshTimer = time.AfterFunc(delay, m.timerRefresh)
}

func (m *Manager) timerRefresh() {
	if _, err := m.Refresh(context.Background()); err != nil && !errors.Is(err, ErrNoSession) {
		m.log.Debug().Err(err).Msg("scheduled refresh did not complete")
	}
}

// emitLocked queues the current state for delivery to the subscribers
// registered at transition time. Delivery happens on a dedicated goroutine,
// in transition order, so callbacks may call back into the manager.
func (m *Manager) emitLocked(cause Cause) {
	if len(m.subscribers) == 0 {
		return
	}
	fns := make([]func(Event), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		fns = append(fns, fn)
	}
	ev := Event{State: m.state, Cause: cause, Session: m.session.Clone()}

	m.queueMu.Lock()
	if !m.closed {
		m.queue = append(m.queue, notification{event: ev, fns: fns})
		m.queueCond.Signal()
	}
	m.queueMu.Unlock()
}

func (m *Manager) deliverLoop() {
	m.queueMu.Lock()
	for {
		for len(m.queue) == 0 && !m.closed {
			m.queueCond.Wait()
		}
		if len(m.queue) == 0 {
			m.queueMu.Unlock()
			return
		}
		n := m.queue[0]
		m.queue = m.queue[1:]
		m.queueMu.Unlock()

		for _, fn := range n.fns {
			fn(n.event)
		}

		m.queueMu.Lock()
	}
}
