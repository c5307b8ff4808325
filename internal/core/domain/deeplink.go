package domain

// DeepLinkKind discriminates resolved deep-link actions.
type DeepLinkKind string

const (
	DeepLinkNoOp          DeepLinkKind = "noop"
	DeepLinkPasswordReset DeepLinkKind = "password_reset"
)

// ModeResetPassword is the action mode carried by password-reset links.
const ModeResetPassword = "resetPassword"

// DeepLinkAction is the typed result of resolving an activation URL.
type DeepLinkAction struct {
	Kind DeepLinkKind `json:"kind"`
	Code string       `json:"code,omitempty"`
	Mode string       `json:"mode,omitempty"`
}

// NoOp is the action for URLs that carry nothing actionable.
var NoOp = DeepLinkAction{Kind: DeepLinkNoOp}

// PasswordReset builds a password-reset action.
func PasswordReset(code, mode string) DeepLinkAction {
	return DeepLinkAction{Kind: DeepLinkPasswordReset, Code: code, Mode: mode}
}

// IsPasswordReset reports whether the action is an actionable password reset.
func (a DeepLinkAction) IsPasswordReset() bool {
	return a.Kind == DeepLinkPasswordReset && a.Code != ""
}

// Params renders the navigation params forwarded to the reset-password screen.
func (a DeepLinkAction) Params() map[string]string {
	return map[string]string{"oobCode": a.Code, "mode": a.Mode}
}
