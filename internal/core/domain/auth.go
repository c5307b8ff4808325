package domain

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// AuthCode is an identity-provider failure code.
type AuthCode string

const (
	AuthUserNotFound      AuthCode = "auth/user-not-found"
	AuthWrongPassword     AuthCode = "auth/wrong-password"
	AuthInvalidEmail      AuthCode = "auth/invalid-email"
	AuthInvalidCredential AuthCode = "auth/invalid-credential"
	AuthTooManyRequests   AuthCode = "auth/too-many-requests"
	AuthEmailInUse        AuthCode = "auth/email-already-in-use"
	AuthWeakPassword      AuthCode = "auth/weak-password"
	AuthInvalidActionCode AuthCode = "auth/invalid-action-code"
	AuthNetworkFailed     AuthCode = "auth/network-request-failed"
	AuthInvalidArgument   AuthCode = "auth/argument-error"
	AuthInvalidIDToken    AuthCode = "auth/invalid-id-token"
	AuthInternal          AuthCode = "auth/internal-error"
)

// AuthError is returned by identity provider operations.
type AuthError struct {
	Code AuthCode
	// Fields carries per-field messages for AuthInvalidArgument.
	Fields map[string]string
	cause  error
}

func NewAuthError(code AuthCode, cause error) *AuthError {
	return &AuthError{Code: code, cause: cause}
}

func (e *AuthError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.cause)
	}
	return string(e.Code)
}

func (e *AuthError) Unwrap() error {
	return e.cause
}

// AuthErrorCode extracts the provider code of err, or AuthInternal.
func AuthErrorCode(err error) AuthCode {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return AuthInternal
}

var authMessages = map[AuthCode]string{
	AuthUserNotFound:      "No account found with this email!",
	AuthWrongPassword:     "Incorrect password!",
	AuthInvalidEmail:      "Invalid email address!",
	AuthInvalidCredential: "Invalid email or password!",
	AuthTooManyRequests:   "Too many failed attempts. Please try again later.",
	AuthEmailInUse:        "This email is already registered!",
	AuthWeakPassword:      "Password is too weak!",
	AuthInvalidActionCode: "This reset link is invalid or has expired.",
	AuthNetworkFailed:     "Network error. Please check your connection.",
	AuthInvalidArgument:   "Please fix the errors below",
	AuthInvalidIDToken:    "Your session has expired. Please log in again.",
}

// AuthMessage returns the user-facing message for an identity provider error.
func AuthMessage(err error) string {
	if msg, ok := authMessages[AuthErrorCode(err)]; ok {
		return msg
	}
	return "An error occurred. Please try again."
}

// NewActionCode returns a random out-of-band action code.
func NewActionCode() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate action code: %w", err)
	}
	return hex.EncodeToString(b), nil
}
