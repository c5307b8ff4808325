package service

import (
	"context"
	"sync"
	"time"

	"github.com/samtwin/companion/internal/core/domain"
	"github.com/samtwin/companion/internal/core/ports"
)

// ---------------------------------------------------------------------------
// stubProvider: identity provider that only emits auth state notifications.
// ---------------------------------------------------------------------------

type stubProvider struct {
	mu        sync.Mutex
	listeners map[int]ports.AuthStateListener
	next      int
	current   *domain.Identity
	subs      int
}

func newStubProvider(current *domain.Identity) *stubProvider {
	return &stubProvider{listeners: make(map[int]ports.AuthStateListener), current: current}
}

func (p *stubProvider) OnAuthStateChanged(fn ports.AuthStateListener) func() {
	p.mu.Lock()
	id := p.next
	p.next++
	p.listeners[id] = fn
	p.subs++
	current := p.current
	p.mu.Unlock()

	fn(current)
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// emit sets the current identity and notifies every listener.
func (p *stubProvider) emit(identity *domain.Identity) {
	p.mu.Lock()
	p.current = identity
	fns := make([]ports.AuthStateListener, 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(identity)
	}
}

func (p *stubProvider) CurrentUser() *domain.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *stubProvider) SignIn(context.Context, string, string) (*ports.Credentials, error) {
	return nil, nil
}

func (p *stubProvider) SignUp(context.Context, ports.SignUpInput) (*domain.Identity, error) {
	return nil, nil
}

func (p *stubProvider) SignOut(context.Context) error { return nil }

func (p *stubProvider) SendPasswordResetEmail(context.Context, string) error { return nil }

func (p *stubProvider) ConfirmPasswordReset(context.Context, string, string) error { return nil }

func (p *stubProvider) VerifyIDToken(string) (*domain.Identity, error) { return nil, nil }

// ---------------------------------------------------------------------------
// stubSession: settable session source.
// ---------------------------------------------------------------------------

type stubSession struct {
	mu    sync.Mutex
	state domain.SessionState
}

func newStubSession(state domain.SessionState) *stubSession {
	return &stubSession{state: state}
}

func signedIn(uid string) domain.SessionState {
	return domain.SessionState{Status: domain.StatusAuthenticated, UserID: uid}
}

func signedOut() domain.SessionState {
	return domain.SessionState{Status: domain.StatusUnauthenticated}
}

func (s *stubSession) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *stubSession) set(state domain.SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// ---------------------------------------------------------------------------
// stubNavigator: records transitions; becomes ready when markReady is called.
// ---------------------------------------------------------------------------

type navOp struct {
	reset  bool
	route  domain.Route
	params map[string]string
}

type stubNavigator struct {
	ready     chan struct{}
	readyOnce sync.Once

	mu   sync.Mutex
	ops  []navOp
	seen chan struct{}
}

func newStubNavigator() *stubNavigator {
	return &stubNavigator{ready: make(chan struct{}), seen: make(chan struct{}, 64)}
}

func (n *stubNavigator) Ready() <-chan struct{} { return n.ready }

func (n *stubNavigator) markReady() { n.readyOnce.Do(func() { close(n.ready) }) }

func (n *stubNavigator) Reset(root domain.Route) {
	n.record(navOp{reset: true, route: root})
}

func (n *stubNavigator) Navigate(route domain.Route, params map[string]string) {
	n.record(navOp{route: route, params: params})
}

func (n *stubNavigator) record(op navOp) {
	n.mu.Lock()
	n.ops = append(n.ops, op)
	n.mu.Unlock()
	n.seen <- struct{}{}
}

func (n *stubNavigator) history() []navOp {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]navOp(nil), n.ops...)
}

// waitOps blocks until at least count transitions were recorded.
func (n *stubNavigator) waitOps(count int, timeout time.Duration) []navOp {
	deadline := time.After(timeout)
	for {
		if ops := n.history(); len(ops) >= count {
			return ops
		}
		select {
		case <-n.seen:
		case <-deadline:
			return n.history()
		}
	}
}
