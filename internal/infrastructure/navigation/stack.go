// Package navigation provides the in-memory navigation stack driven by the
// navigation synchronizer.
package navigation

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/samtwin/companion/internal/core/domain"
	"github.com/samtwin/companion/internal/core/ports"
)

// Stack mirrors a native stack navigator: a root screen with screens pushed
// on top. It rejects transitions until MarkReady is called.
type Stack struct {
	log zerolog.Logger

	ready     chan struct{}
	readyOnce sync.Once

	mu      sync.RWMutex
	entries []domain.RouteEntry
	resets  int
}

var _ ports.Navigator = (*Stack)(nil)

func NewStack(log zerolog.Logger) *Stack {
	return &Stack{log: log, ready: make(chan struct{})}
}

func (s *Stack) Ready() <-chan struct{} {
	return s.ready
}

// MarkReady signals that the stack is mounted. Safe to call more than once.
func (s *Stack) MarkReady() {
	s.readyOnce.Do(func() {
		close(s.ready)
		s.log.Debug().Msg("navigator ready")
	})
}

func (s *Stack) isReady() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

// Reset replaces the whole stack with root.
func (s *Stack) Reset(root domain.Route) {
	if !s.isReady() {
		s.log.Warn().Str("route", string(root)).Msg("reset before navigator ready, ignored")
		return
	}
	s.mu.Lock()
	s.entries = []domain.RouteEntry{{Name: root}}
	s.resets++
	s.mu.Unlock()
}

// Navigate pushes route, or pops back to it when it is already on the stack.
// In both cases the entry takes the new params.
func (s *Stack) Navigate(route domain.Route, params map[string]string) {
	if !s.isReady() {
		s.log.Warn().Str("route", string(route)).Msg("navigate before navigator ready, ignored")
		return
	}
	entry := domain.RouteEntry{Name: route, Params: copyParams(params)}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].Name == route {
			s.entries = append(s.entries[:i], entry)
			return
		}
	}
	s.entries = append(s.entries, entry)
}

// Routes returns a copy of the stack, root first.
func (s *Stack) Routes() []domain.RouteEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.RouteEntry, len(s.entries))
	for i, e := range s.entries {
		out[i] = domain.RouteEntry{Name: e.Name, Params: copyParams(e.Params)}
	}
	return out
}

// Current returns the top of the stack.
func (s *Stack) Current() (domain.RouteEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return domain.RouteEntry{}, false
	}
	top := s.entries[len(s.entries)-1]
	return domain.RouteEntry{Name: top.Name, Params: copyParams(top.Params)}, true
}

// Resets returns how many root resets have been applied.
func (s *Stack) Resets() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resets
}

func copyParams(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
