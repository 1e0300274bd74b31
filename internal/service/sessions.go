package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/aditya/ridelink/internal/errors"
	"github.com/aditya/ridelink/internal/identity"
	"github.com/aditya/ridelink/internal/metrics"
	"github.com/aditya/ridelink/internal/models"
)

type sessionKey struct {
	uid  string
	role models.Role
}

// session is registered before its controller opens; ready is closed once
// ctrl or err is set.
type session struct {
	ready       chan struct{}
	ctrl        *RideController
	err         error
	stopTracker context.CancelFunc
}

// SessionManager keeps one open controller per signed-in user and role.
// When a Locator is configured, driver sessions also run a LocationTracker.
type SessionManager struct {
	deps          Deps
	cfg           Config
	trackInterval time.Duration
	logger        zerolog.Logger

	mu       sync.Mutex
	sessions map[sessionKey]*session
}

func NewSessionManager(deps Deps, cfg Config, trackInterval time.Duration) *SessionManager {
	return &SessionManager{
		deps:          deps,
		cfg:           cfg,
		trackInterval: trackInterval,
		logger:        deps.Logger,
		sessions:      make(map[sessionKey]*session),
	}
}

// Get returns the user's open controller for role, opening it on first use.
// Opening talks to the ride store, so it runs outside m.mu; concurrent calls
// for the same user and role wait for the first one.
func (m *SessionManager) Get(ctx context.Context, user identity.User, role models.Role) (*RideController, error) {
	key := sessionKey{uid: user.ID, role: role}

	m.mu.Lock()
	if s, ok := m.sessions[key]; ok {
		m.mu.Unlock()
		select {
		case <-s.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if s.err != nil {
			return nil, s.err
		}
		return s.ctrl, nil
	}
	s := &session{ready: make(chan struct{})}
	m.sessions[key] = s
	m.mu.Unlock()

	ctrl, err := m.open(ctx, user, role)

	m.mu.Lock()
	var orphan *RideController
	if err == nil && m.sessions[key] != s {
		// closed while opening
		orphan = ctrl
		err = apperrors.ErrSessionClosed
	}
	if err != nil {
		if m.sessions[key] == s {
			delete(m.sessions, key)
		}
		s.err = err
		close(s.ready)
		m.mu.Unlock()
		if orphan != nil {
			orphan.Close()
		}
		return nil, err
	}

	s.ctrl = ctrl
	if role == models.RoleDriver && m.deps.Locator != nil {
		trackCtx, cancel := context.WithCancel(context.Background())
		s.stopTracker = cancel
		tracker := NewLocationTracker(ctrl, m.trackInterval, m.deps.Clock, ctrl.logger)
		go tracker.Run(trackCtx)
	}
	metrics.ActiveSessions.WithLabelValues(string(role)).Inc()
	close(s.ready)
	m.mu.Unlock()
	return ctrl, nil
}

func (m *SessionManager) open(ctx context.Context, user identity.User, role models.Role) (*RideController, error) {
	ctrl, err := NewRideController(user, role, m.deps, m.cfg)
	if err != nil {
		return nil, err
	}
	if err := ctrl.Open(ctx); err != nil {
		ctrl.Close()
		return nil, err
	}
	return ctrl, nil
}

// Close ends the session, as on sign-out.
func (m *SessionManager) Close(uid string, role models.Role) {
	key := sessionKey{uid: uid, role: role}

	m.mu.Lock()
	s, ok := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()

	if ok {
		m.closeSession(key, s)
	}
}

func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[sessionKey]*session)
	m.mu.Unlock()

	for key, s := range sessions {
		m.closeSession(key, s)
	}
}

func (m *SessionManager) closeSession(key sessionKey, s *session) {
	select {
	case <-s.ready:
	default:
		// still opening; Get closes it once it sees the entry is gone
		return
	}
	if s.ctrl == nil {
		return
	}
	if s.stopTracker != nil {
		s.stopTracker()
	}
	s.ctrl.Close()
	metrics.ActiveSessions.WithLabelValues(string(key.role)).Dec()
}

func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
