package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/samtwin/companion/internal/core/domain"
	"github.com/samtwin/companion/internal/core/ports"
	"github.com/samtwin/companion/internal/infrastructure/db/memory"
)

type stubMailer struct {
	sent map[string]string // email -> link
}

func (m *stubMailer) SendPasswordReset(_ context.Context, email, link string) error {
	m.sent[email] = link
	return nil
}

type identityFixture struct {
	provider *LocalIdentityProvider
	users    *memory.UserRepository
	mailer   *stubMailer
	links    *DeepLinkResolver
}

func newIdentityFixture(t *testing.T) identityFixture {
	t.Helper()
	users := memory.NewUserRepository()
	mailer := &stubMailer{sent: make(map[string]string)}
	links := NewDeepLinkResolver("myapp", zerolog.Nop())
	p := NewLocalIdentityProvider(
		users,
		memory.NewResetCodeStore(nil),
		memory.NewAttemptLimiter(3, time.Minute, nil),
		mailer,
		links,
		IdentityConfig{TokenSecret: "secret", TokenTTL: time.Hour, ResetCodeTTL: time.Hour},
		zerolog.Nop(),
	)
	return identityFixture{provider: p, users: users, mailer: mailer, links: links}
}

func validSignUp(email string) ports.SignUpInput {
	return ports.SignUpInput{
		FirstName:       "Ada",
		LastName:        "Lovelace",
		Email:           email,
		Password:        "pass123",
		ConfirmPassword: "pass123",
		Interest:        "Reading",
		Gender:          "Female",
		Education:       "Graduate",
	}
}

func TestLocalIdentityProvider_SignUp_Success(t *testing.T) {
	f := newIdentityFixture(t)

	identity, err := f.provider.SignUp(context.Background(), validSignUp("ada@example.com"))
	if err != nil {
		t.Fatalf("SignUp returned error: %v", err)
	}
	if identity.DisplayName != "Ada Lovelace" {
		t.Fatalf("unexpected display name: %q", identity.DisplayName)
	}
	if f.provider.CurrentUser() != nil {
		t.Fatalf("expected sign-up not to sign in")
	}

	user, err := f.users.FindByEmail(context.Background(), "ada@example.com")
	if err != nil {
		t.Fatalf("user not stored: %v", err)
	}
	if user.PasswordHash == "pass123" {
		t.Fatalf("expected password to be hashed")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("pass123")); err != nil {
		t.Fatalf("stored hash does not match password: %v", err)
	}
}

func TestLocalIdentityProvider_SignUp_Validation(t *testing.T) {
	f := newIdentityFixture(t)

	in := validSignUp("not-an-email")
	in.ConfirmPassword = "different"
	_, err := f.provider.SignUp(context.Background(), in)
	if domain.AuthErrorCode(err) != domain.AuthInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	ae := err.(*domain.AuthError)
	if ae.Fields["email"] != "Invalid email address" || ae.Fields["confirmPassword"] != "Passwords do not match" {
		t.Fatalf("unexpected field messages: %+v", ae.Fields)
	}

	weak := validSignUp("ada@example.com")
	weak.Password, weak.ConfirmPassword = "123", "123"
	if _, err := f.provider.SignUp(context.Background(), weak); domain.AuthErrorCode(err) != domain.AuthWeakPassword {
		t.Fatalf("expected weak password, got %v", err)
	}
}

func TestLocalIdentityProvider_SignUp_Duplicate(t *testing.T) {
	f := newIdentityFixture(t)

	_, _ = f.provider.SignUp(context.Background(), validSignUp("bob@example.com"))
	if _, err := f.provider.SignUp(context.Background(), validSignUp("BOB@example.com")); domain.AuthErrorCode(err) != domain.AuthEmailInUse {
		t.Fatalf("expected email in use, got %v", err)
	}
}

func TestLocalIdentityProvider_SignIn_Success(t *testing.T) {
	f := newIdentityFixture(t)
	if _, err := f.provider.SignUp(context.Background(), validSignUp("carol@example.com")); err != nil {
		t.Fatalf("sign-up failed: %v", err)
	}

	var seen []*domain.Identity
	unsubscribe := f.provider.OnAuthStateChanged(func(id *domain.Identity) { seen = append(seen, id) })
	defer unsubscribe()

	creds, err := f.provider.SignIn(context.Background(), "carol@example.com", "pass123")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if creds.IDToken == "" {
		t.Fatalf("expected token, got empty")
	}
	if len(seen) != 2 || seen[0] != nil || seen[1] == nil || seen[1].UID != creds.Identity.UID {
		t.Fatalf("expected nil then the signed-in identity, got %+v", seen)
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(creds.IDToken, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("secret"), nil
	})
	if err != nil || !parsed.Valid {
		t.Fatalf("token invalid: %v", err)
	}
	if claims["sub"] != creds.Identity.UID {
		t.Fatalf("expected sub %s, got %v", creds.Identity.UID, claims["sub"])
	}

	verified, err := f.provider.VerifyIDToken(creds.IDToken)
	if err != nil {
		t.Fatalf("VerifyIDToken failed: %v", err)
	}
	if verified.UID != creds.Identity.UID || verified.Email != "carol@example.com" {
		t.Fatalf("unexpected verified identity: %+v", verified)
	}
}

func TestLocalIdentityProvider_SignIn_Failures(t *testing.T) {
	f := newIdentityFixture(t)
	_, _ = f.provider.SignUp(context.Background(), validSignUp("dave@example.com"))
	ctx := context.Background()

	if _, err := f.provider.SignIn(ctx, "", ""); domain.AuthErrorCode(err) != domain.AuthInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if _, err := f.provider.SignIn(ctx, "dave", "x"); domain.AuthErrorCode(err) != domain.AuthInvalidEmail {
		t.Fatalf("expected invalid email, got %v", err)
	}
	if _, err := f.provider.SignIn(ctx, "nobody@example.com", "x"); domain.AuthErrorCode(err) != domain.AuthUserNotFound {
		t.Fatalf("expected user not found, got %v", err)
	}
	if _, err := f.provider.SignIn(ctx, "dave@example.com", "badpass"); domain.AuthErrorCode(err) != domain.AuthWrongPassword {
		t.Fatalf("expected wrong password, got %v", err)
	}
	if f.provider.CurrentUser() != nil {
		t.Fatalf("failed sign-in must not change the identity")
	}
}

func TestLocalIdentityProvider_SignIn_TooManyRequests(t *testing.T) {
	f := newIdentityFixture(t)
	_, _ = f.provider.SignUp(context.Background(), validSignUp("erin@example.com"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = f.provider.SignIn(ctx, "erin@example.com", "wrong")
	}
	_, err := f.provider.SignIn(ctx, "erin@example.com", "pass123")
	if domain.AuthErrorCode(err) != domain.AuthTooManyRequests {
		t.Fatalf("expected too many requests, got %v", err)
	}
	if domain.AuthMessage(err) != "Too many failed attempts. Please try again later." {
		t.Fatalf("unexpected message: %q", domain.AuthMessage(err))
	}
}

func TestLocalIdentityProvider_SignOut(t *testing.T) {
	f := newIdentityFixture(t)
	_, _ = f.provider.SignUp(context.Background(), validSignUp("fay@example.com"))
	if _, err := f.provider.SignIn(context.Background(), "fay@example.com", "pass123"); err != nil {
		t.Fatalf("sign-in failed: %v", err)
	}

	var last *domain.Identity
	calls := 0
	unsubscribe := f.provider.OnAuthStateChanged(func(id *domain.Identity) {
		calls++
		last = id
	})
	if last == nil {
		t.Fatalf("expected current identity on subscribe")
	}

	if err := f.provider.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut returned error: %v", err)
	}
	if last != nil || calls != 2 {
		t.Fatalf("expected sign-out notification, got %d calls, last=%+v", calls, last)
	}

	unsubscribe()
	unsubscribe()
	_, _ = f.provider.SignIn(context.Background(), "fay@example.com", "pass123")
	if calls != 2 {
		t.Fatalf("listener called after unsubscribe")
	}
}

func TestLocalIdentityProvider_PasswordResetFlow(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()
	_, _ = f.provider.SignUp(ctx, validSignUp("gus@example.com"))

	if err := f.provider.SendPasswordResetEmail(ctx, "missing@example.com"); domain.AuthErrorCode(err) != domain.AuthUserNotFound {
		t.Fatalf("expected user not found, got %v", err)
	}
	if err := f.provider.SendPasswordResetEmail(ctx, "gus@example.com"); err != nil {
		t.Fatalf("SendPasswordResetEmail failed: %v", err)
	}

	link := f.mailer.sent["gus@example.com"]
	if !strings.HasPrefix(link, "myapp://reset-password?") {
		t.Fatalf("unexpected link: %q", link)
	}
	action := f.links.Resolve(link)
	if !action.IsPasswordReset() {
		t.Fatalf("mailed link does not resolve to a password reset: %+v", action)
	}

	if err := f.provider.ConfirmPasswordReset(ctx, action.Code, "123"); domain.AuthErrorCode(err) != domain.AuthWeakPassword {
		t.Fatalf("expected weak password, got %v", err)
	}
	if err := f.provider.ConfirmPasswordReset(ctx, action.Code, "newpass1"); err != nil {
		t.Fatalf("ConfirmPasswordReset failed: %v", err)
	}
	if err := f.provider.ConfirmPasswordReset(ctx, action.Code, "newpass2"); domain.AuthErrorCode(err) != domain.AuthInvalidActionCode {
		t.Fatalf("expected the code to be single use, got %v", err)
	}

	if _, err := f.provider.SignIn(ctx, "gus@example.com", "newpass1"); err != nil {
		t.Fatalf("sign-in with new password failed: %v", err)
	}
}

func TestLocalIdentityProvider_VerifyIDToken_Rejects(t *testing.T) {
	f := newIdentityFixture(t)

	if _, err := f.provider.VerifyIDToken("garbage"); domain.AuthErrorCode(err) != domain.AuthInvalidIDToken {
		t.Fatalf("expected invalid id token, got %v", err)
	}

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	signed, _ := expired.SignedString([]byte("secret"))
	if _, err := f.provider.VerifyIDToken(signed); domain.AuthErrorCode(err) != domain.AuthInvalidIDToken {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}

	other := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1"})
	signed, _ = other.SignedString([]byte("another-secret"))
	if _, err := f.provider.VerifyIDToken(signed); domain.AuthErrorCode(err) != domain.AuthInvalidIDToken {
		t.Fatalf("expected foreign signature to be rejected, got %v", err)
	}
}
