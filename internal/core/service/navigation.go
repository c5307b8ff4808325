package service

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/samtwin/companion/internal/core/domain"
	"github.com/samtwin/companion/internal/core/ports"
	"github.com/samtwin/companion/internal/metrics"
)

// NavigationSynchronizer keeps the navigation root consistent with the latest
// session state and forwards password-reset deep links to their screen.
//
// All transitions run on one goroutine after the navigator reports ready.
// Session changes only raise a signal; the reset reads the session state at
// the moment it is applied, so a burst of changes collapses into resets that
// always end on the latest state. Deep links are applied after any pending
// reset and only once the session has been resolved, so the initial reset
// cannot wipe the reset-password screen.
type NavigationSynchronizer struct {
	nav      ports.Navigator
	session  ports.SessionSource
	resolver *DeepLinkResolver
	log      zerolog.Logger

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	closeOnce sync.Once

	mu           sync.Mutex
	resetPending bool
	forceLogin   bool
	pendingLink  *domain.DeepLinkAction
	applied      string // session key of the last reset
}

func NewNavigationSynchronizer(nav ports.Navigator, session ports.SessionSource, resolver *DeepLinkResolver, log zerolog.Logger) *NavigationSynchronizer {
	ctx, cancel := context.WithCancel(context.Background())
	return &NavigationSynchronizer{
		nav:      nav,
		session:  session,
		resolver: resolver,
		log:      log,
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the transition loop and processes the cold-start URL, if
// any. The synchronizer closes itself when ctx is cancelled.
func (s *NavigationSynchronizer) Start(ctx context.Context, initialURL string) {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.run()
		go func() {
			select {
			case <-ctx.Done():
				s.Close()
			case <-s.ctx.Done():
			}
		}()

		if st := s.session.State(); !st.Initializing {
			s.HandleSessionChange(st)
		}
		if initialURL != "" {
			s.HandleDeepLink(initialURL)
		}
	})
}

// HandleSessionChange schedules a root reset. Notifications received while the
// session is still initializing are ignored.
func (s *NavigationSynchronizer) HandleSessionChange(state domain.SessionState) {
	if state.Initializing {
		return
	}
	s.mu.Lock()
	s.resetPending = true
	s.mu.Unlock()
	s.signal()
}

// HandleDeepLink resolves rawURL and, for a password reset, schedules
// navigation to the reset-password screen. Only the latest pending link is
// kept. The resolved action is returned.
func (s *NavigationSynchronizer) HandleDeepLink(rawURL string) domain.DeepLinkAction {
	action := s.resolver.Resolve(rawURL)
	if !action.IsPasswordReset() {
		return action
	}

	s.log.Info().Str("mode", action.Mode).Msg("password reset link received")
	s.mu.Lock()
	s.pendingLink = &action
	s.mu.Unlock()
	s.signal()
	return action
}

// ForceLogin resets to the login root even if the session still reports an
// identity. It is the side effect of an authentication loss.
func (s *NavigationSynchronizer) ForceLogin() {
	s.mu.Lock()
	s.forceLogin = true
	s.mu.Unlock()
	s.signal()
}

// Close stops the loop. Pending deep-link navigations are discarded.
func (s *NavigationSynchronizer) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
}

func (s *NavigationSynchronizer) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *NavigationSynchronizer) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}

		select {
		case <-s.ctx.Done():
			return
		case <-s.nav.Ready():
		}

		s.flush()
	}
}

func (s *NavigationSynchronizer) flush() {
	st := s.session.State()

	s.mu.Lock()
	force := s.forceLogin
	s.forceLogin = false
	reset := s.resetPending && !st.Initializing
	if reset {
		s.resetPending = false
	}
	var link *domain.DeepLinkAction
	if !st.Initializing && s.pendingLink != nil {
		link = s.pendingLink
		s.pendingLink = nil
	}
	s.mu.Unlock()

	if s.ctx.Err() != nil {
		return
	}

	if force {
		s.apply(domain.RouteLogin, sessionKey(domain.SessionState{Status: domain.StatusUnauthenticated}), true)
	}
	if reset {
		s.apply(st.RootRoute(), sessionKey(st), false)
	}
	if link != nil {
		s.nav.Navigate(domain.RouteResetPassword, link.Params())
		s.log.Info().Msg("navigated to password reset")
	}
}

func (s *NavigationSynchronizer) apply(root domain.Route, key string, force bool) {
	s.mu.Lock()
	if !force && key == s.applied {
		s.mu.Unlock()
		s.log.Debug().Str("route", string(root)).Msg("navigation reset skipped, session unchanged")
		return
	}
	s.applied = key
	s.mu.Unlock()

	s.nav.Reset(root)
	metrics.NavigationResetsTotal.WithLabelValues(string(root)).Inc()
	s.log.Info().Str("route", string(root)).Bool("forced", force).Msg("navigation reset")
}

func sessionKey(st domain.SessionState) string {
	if st.Authenticated() {
		return "uid:" + st.UserID
	}
	return "anonymous"
}
