package service

import (
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/samtwin/companion/internal/core/domain"
	"github.com/samtwin/companion/internal/metrics"
)

const defaultScheme = "myapp"

// resetMarkers identify URLs that may carry a password-reset action code.
var resetMarkers = []string{"__/auth/action", "reset-password", "oobCode="}

// DeepLinkResolver turns activation URLs into typed actions. It accepts the
// application's custom scheme as well as https links.
type DeepLinkResolver struct {
	prefix string // "<scheme>://"
	log    zerolog.Logger
}

// NewDeepLinkResolver returns a resolver for the given custom scheme (without
// "://"). An empty scheme defaults to "myapp".
func NewDeepLinkResolver(scheme string, log zerolog.Logger) *DeepLinkResolver {
	scheme = strings.TrimSuffix(strings.TrimSpace(scheme), "://")
	if scheme == "" {
		scheme = defaultScheme
	}
	return &DeepLinkResolver{prefix: scheme + "://", log: log}
}

// Resolve parses rawURL. It never fails: anything that is not an actionable
// password-reset link resolves to domain.NoOp.
func (r *DeepLinkResolver) Resolve(rawURL string) domain.DeepLinkAction {
	action := r.resolve(rawURL)
	metrics.DeepLinksTotal.WithLabelValues(string(action.Kind)).Inc()
	return action
}

func (r *DeepLinkResolver) resolve(rawURL string) domain.DeepLinkAction {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return domain.NoOp
	}

	custom := strings.HasPrefix(rawURL, r.prefix)
	if !custom && !hasResetMarker(rawURL) {
		return domain.NoOp
	}

	toParse := rawURL
	if custom {
		toParse = "https://" + strings.TrimPrefix(rawURL, r.prefix)
	}

	u, err := url.Parse(toParse)
	if err != nil {
		r.log.Warn().Err(err).Str("url", rawURL).Msg("failed to parse deep link")
		return domain.NoOp
	}

	q := u.Query()
	code := q.Get("oobCode")
	mode := q.Get("mode")
	if mode == "" && code != "" {
		mode = domain.ModeResetPassword
	}

	if mode != domain.ModeResetPassword || code == "" {
		return domain.NoOp
	}
	return domain.PasswordReset(code, mode)
}

// BuildResetLink renders the custom-scheme activation URL carrying code.
func (r *DeepLinkResolver) BuildResetLink(code string) string {
	q := url.Values{}
	q.Set("mode", domain.ModeResetPassword)
	q.Set("oobCode", code)
	return r.prefix + "reset-password?" + q.Encode()
}

func hasResetMarker(rawURL string) bool {
	for _, m := range resetMarkers {
		if strings.Contains(rawURL, m) {
			return true
		}
	}
	return false
}
