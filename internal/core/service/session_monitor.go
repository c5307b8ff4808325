package service

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/samtwin/companion/internal/core/domain"
	"github.com/samtwin/companion/internal/core/ports"
	"github.com/samtwin/companion/internal/metrics"
)

// ErrMonitorRunning is returned by Start while a previous subscription is still active.
var ErrMonitorRunning = errors.New("session monitor already started")

// SessionMonitor tracks the identity provider's authentication state. It is
// the only writer of the process session state.
type SessionMonitor struct {
	provider ports.IdentityProvider
	log      zerolog.Logger

	mu      sync.Mutex
	state   domain.SessionState
	running bool
	gen     uint64

	// notifyMu serializes onChange invocations.
	notifyMu sync.Mutex
}

var _ ports.SessionSource = (*SessionMonitor)(nil)

func NewSessionMonitor(provider ports.IdentityProvider, log zerolog.Logger) *SessionMonitor {
	return &SessionMonitor{
		provider: provider,
		log:      log,
		state:    domain.InitialSessionState(),
	}
}

// Start subscribes to identity notifications and calls onChange with the new
// state after each one. Only one subscription may be active at a time. The
// returned stop function is idempotent; notifications arriving after it has
// been called are ignored.
func (m *SessionMonitor) Start(onChange func(domain.SessionState)) (func(), error) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil, ErrMonitorRunning
	}
	m.running = true
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	unsubscribe := m.provider.OnAuthStateChanged(func(identity *domain.Identity) {
		m.handle(gen, identity, onChange)
	})

	var once sync.Once
	stop := func() {
		once.Do(func() {
			m.mu.Lock()
			if m.gen == gen {
				m.running = false
				m.gen++
			}
			m.mu.Unlock()
			unsubscribe()
			m.log.Debug().Msg("session monitor stopped")
		})
	}
	return stop, nil
}

// State returns the latest session state.
func (m *SessionMonitor) State() domain.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *SessionMonitor) handle(gen uint64, identity *domain.Identity, onChange func(domain.SessionState)) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	next := domain.SessionState{Status: domain.StatusUnauthenticated}
	if identity != nil && identity.UID != "" {
		next = domain.SessionState{Status: domain.StatusAuthenticated, UserID: identity.UID}
	}
	if m.state.Initializing {
		m.log.Info().Msg("initial session state resolved")
	}
	m.state = next
	m.mu.Unlock()

	metrics.SessionTransitionsTotal.WithLabelValues(string(next.Status)).Inc()
	m.log.Debug().
		Str("status", string(next.Status)).
		Str("user_id", next.UserID).
		Msg("session state changed")

	if onChange != nil {
		onChange(next)
	}
}
