// Package app composes the session monitor, navigation synchronizer and record
// sync engine around a single event loop. Session notifications, deep links
// and auth-loss reactions are handled one at a time, in arrival order.
package app

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/samtwin/companion/internal/core/domain"
	"github.com/samtwin/companion/internal/core/ports"
	"github.com/samtwin/companion/internal/core/service"
)

const eventBuffer = 64

var _ ports.SessionSource = (*App)(nil)

var (
	// ErrStopped is returned for requests submitted after the loop has stopped.
	ErrStopped = errors.New("app: event loop stopped")
	// ErrRouteUnavailable is returned when a screen is not part of the
	// current session's stack.
	ErrRouteUnavailable = errors.New("app: route not reachable in current session")
)

// ProjectionPublisher receives every projection the record engine produces.
// CloseUser marks the end of a user's session; OpenUser the start of one.
type ProjectionPublisher interface {
	Publish(p domain.Projection)
	OpenUser(userID string)
	CloseUser(userID string)
}

// Deps are the collaborators the app is built from.
type Deps struct {
	Provider   ports.IdentityProvider
	Store      ports.DocumentStore
	Navigator  ports.Navigator
	Resolver   *service.DeepLinkResolver
	Publisher  ProjectionPublisher
	Collection string
	Log        zerolog.Logger
}

type event func(ctx context.Context)

type App struct {
	monitor *service.SessionMonitor
	navSync *service.NavigationSynchronizer
	engine  *service.RecordSyncEngine
	nav     ports.Navigator
	pub     ProjectionPublisher
	log     zerolog.Logger

	events chan event
	done   chan struct{}
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
	stopMon   func()
	cancel    context.CancelFunc

	// lastUser is only touched by the loop goroutine.
	lastUser string
}

func New(d Deps) *App {
	a := &App{
		nav:    d.Navigator,
		pub:    d.Publisher,
		log:    d.Log,
		events: make(chan event, eventBuffer),
		done:   make(chan struct{}),
	}
	a.monitor = service.NewSessionMonitor(d.Provider, d.Log.With().Str("component", "session").Logger())
	a.navSync = service.NewNavigationSynchronizer(d.Navigator, a.monitor, d.Resolver, d.Log.With().Str("component", "navigation").Logger())
	a.engine = service.NewRecordSyncEngine(d.Store, a.monitor, d.Collection, d.Log.With().Str("component", "records").Logger(),
		service.WithProjectionListener(a.publish),
		service.WithErrorHandler(a.HandleRecordError),
	)
	return a
}

// Start runs the event loop, processes initialURL as the cold-start deep link
// and subscribes to session notifications.
func (a *App) Start(ctx context.Context, initialURL string) error {
	var err error
	a.startOnce.Do(func() {
		loopCtx, cancel := context.WithCancel(ctx)
		a.cancel = cancel

		a.wg.Add(1)
		go a.loop(loopCtx)

		a.navSync.Start(loopCtx, initialURL)

		var stop func()
		stop, err = a.monitor.Start(func(st domain.SessionState) {
			a.enqueue(func(ctx context.Context) { a.sessionChanged(ctx, st) })
		})
		if err != nil {
			cancel()
			return
		}
		a.stopMon = stop
		a.log.Info().Msg("app started")
	})
	return err
}

// Stop unsubscribes from the identity provider, closes the record
// subscription and the navigation synchronizer, and waits for the loop.
func (a *App) Stop() {
	a.stopOnce.Do(func() {
		if a.stopMon != nil {
			a.stopMon()
		}
		close(a.done)
		if a.cancel != nil {
			a.cancel()
		}
		a.wg.Wait()
		a.engine.Close()
		a.navSync.Close()
		a.log.Info().Msg("app stopped")
	})
}

// State returns the current session state.
func (a *App) State() domain.SessionState {
	return a.monitor.State()
}

// Records returns the record sync engine bound to the current session.
func (a *App) Records() *service.RecordSyncEngine {
	return a.engine
}

// OpenURL dispatches a deep link through the event loop and returns the
// resolved action.
func (a *App) OpenURL(ctx context.Context, rawURL string) (domain.DeepLinkAction, error) {
	var action domain.DeepLinkAction
	err := a.do(ctx, func(context.Context) {
		action = a.navSync.HandleDeepLink(rawURL)
	})
	return action, err
}

// Navigate pushes a screen reachable in the current session.
func (a *App) Navigate(ctx context.Context, route domain.Route, params map[string]string) error {
	var navErr error
	err := a.do(ctx, func(context.Context) {
		if route.RequiresSession() != a.monitor.State().Authenticated() {
			navErr = ErrRouteUnavailable
			return
		}
		a.nav.Navigate(route, params)
	})
	if err != nil {
		return err
	}
	return navErr
}

// HandleRecordError applies the side effects of a record engine failure. An
// authentication loss forces the login root.
func (a *App) HandleRecordError(err error) {
	if !domain.IsAuthLoss(err) {
		return
	}
	a.enqueue(func(context.Context) { a.forceLogin(err) })
}

func (a *App) forceLogin(cause error) {
	a.log.Warn().Err(cause).Msg("authentication lost, returning to login")
	a.navSync.ForceLogin()
}

func (a *App) sessionChanged(ctx context.Context, st domain.SessionState) {
	a.navSync.HandleSessionChange(st)

	previous := a.lastUser
	changed := !st.IsUser(previous)
	a.lastUser = st.UserID
	if a.pub != nil && changed && st.Authenticated() {
		a.pub.OpenUser(st.UserID)
	}

	// The old subscription is cancelled before its user is closed, so no
	// snapshot of that user is published afterwards.
	err := a.engine.SyncSession(ctx)
	if a.pub != nil && changed && previous != "" {
		a.pub.CloseUser(previous)
	}
	if err != nil {
		a.log.Error().Err(err).Str("user_id", st.UserID).Msg("failed to sync journal subscription")
		if domain.IsAuthLoss(err) {
			a.forceLogin(err)
		}
	}
}

func (a *App) publish(p domain.Projection) {
	if a.pub != nil {
		a.pub.Publish(p)
	}
}

func (a *App) loop(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.events:
			ev(ctx)
		}
	}
}

// enqueue submits ev without waiting for it. Events submitted after Stop are
// dropped.
func (a *App) enqueue(ev event) {
	select {
	case <-a.done:
	case a.events <- ev:
	}
}

// do submits ev and waits until the loop has run it.
func (a *App) do(ctx context.Context, ev event) error {
	finished := make(chan struct{})
	wrapped := func(ctx context.Context) {
		defer close(finished)
		ev(ctx)
	}
	select {
	case <-a.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	case a.events <- wrapped:
	}
	select {
	case <-finished:
		return nil
	case <-a.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
