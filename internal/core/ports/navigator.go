package ports

import "github.com/samtwin/companion/internal/core/domain"

// Navigator is the navigation subsystem holding the screen stack.
type Navigator interface {
	// Ready is closed once the navigator is mounted and accepts transitions.
	Ready() <-chan struct{}
	// Reset replaces the whole stack with a single root screen.
	Reset(root domain.Route)
	// Navigate pushes a screen, or returns to it if already on the stack.
	Navigate(route domain.Route, params map[string]string)
}
