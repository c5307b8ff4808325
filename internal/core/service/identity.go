package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/samtwin/companion/internal/core/domain"
	"github.com/samtwin/companion/internal/core/ports"
)

const minPasswordLength = 6

// IdentityConfig holds token and code lifetimes of the local identity provider.
type IdentityConfig struct {
	TokenSecret  string
	TokenTTL     time.Duration
	ResetCodeTTL time.Duration
}

// LocalIdentityProvider implements ports.IdentityProvider on top of the user
// repository. It tracks a single signed-in identity for the process and
// notifies listeners whenever it changes.
type LocalIdentityProvider struct {
	users    ports.UserRepository
	codes    ports.ResetCodeStore
	limiter  ports.AttemptLimiter
	mailer   ports.Mailer
	links    *DeepLinkResolver
	cfg      IdentityConfig
	validate *validator.Validate
	log      zerolog.Logger
	now      func() time.Time

	// emitMu orders notifications; listeners must not call back into the
	// provider synchronously.
	emitMu    sync.Mutex
	mu        sync.Mutex
	current   *domain.Identity
	listeners map[uint64]ports.AuthStateListener
	nextID    uint64
}

var _ ports.IdentityProvider = (*LocalIdentityProvider)(nil)

func NewLocalIdentityProvider(users ports.UserRepository, codes ports.ResetCodeStore, limiter ports.AttemptLimiter, mailer ports.Mailer, links *DeepLinkResolver, cfg IdentityConfig, log zerolog.Logger) *LocalIdentityProvider {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if cfg.ResetCodeTTL <= 0 {
		cfg.ResetCodeTTL = time.Hour
	}
	return &LocalIdentityProvider{
		users:     users,
		codes:     codes,
		limiter:   limiter,
		mailer:    mailer,
		links:     links,
		cfg:       cfg,
		validate:  validator.New(),
		log:       log,
		now:       time.Now,
		listeners: make(map[uint64]ports.AuthStateListener),
	}
}

func (p *LocalIdentityProvider) OnAuthStateChanged(fn ports.AuthStateListener) func() {
	p.emitMu.Lock()
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	current := cloneIdentity(p.current)
	p.mu.Unlock()
	fn(current)
	p.emitMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

func (p *LocalIdentityProvider) CurrentUser() *domain.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return cloneIdentity(p.current)
}

func (p *LocalIdentityProvider) SignIn(ctx context.Context, email, password string) (*ports.Credentials, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, &domain.AuthError{Code: domain.AuthInvalidArgument, Fields: requiredFields(email, password)}
	}
	if err := p.validate.Var(email, "email"); err != nil {
		return nil, domain.NewAuthError(domain.AuthInvalidEmail, err)
	}

	key := strings.ToLower(email)
	allowed, err := p.limiter.Allow(ctx, key)
	if err != nil {
		p.log.Warn().Err(err).Msg("sign-in limiter unavailable")
	} else if !allowed {
		return nil, domain.NewAuthError(domain.AuthTooManyRequests, nil)
	}

	user, err := p.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			p.recordFailure(ctx, key)
			return nil, domain.NewAuthError(domain.AuthUserNotFound, err)
		}
		return nil, p.internal("find user", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		p.recordFailure(ctx, key)
		return nil, domain.NewAuthError(domain.AuthWrongPassword, nil)
	}
	if err := p.limiter.Reset(ctx, key); err != nil {
		p.log.Warn().Err(err).Msg("failed to reset sign-in attempts")
	}

	token, err := p.generateToken(user)
	if err != nil {
		return nil, p.internal("sign id token", err)
	}

	identity := user.Identity()
	p.emit(identity)
	p.log.Info().Str("user_id", identity.UID).Msg("user signed in")
	return &ports.Credentials{Identity: cloneIdentity(identity), IDToken: token}, nil
}

// SignUp creates the account without signing it in.
func (p *LocalIdentityProvider) SignUp(ctx context.Context, in ports.SignUpInput) (*domain.Identity, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	if err := p.validateSignUp(in); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, p.internal("hash password", err)
	}

	now := p.now().UTC()
	created, err := p.users.Create(ctx, &domain.User{
		Email:        in.Email,
		DisplayName:  in.FirstName + " " + in.LastName,
		PasswordHash: string(hash),
		Profile: domain.Profile{
			FirstName: in.FirstName,
			LastName:  in.LastName,
			Interest:  in.Interest,
			Gender:    in.Gender,
			Education: in.Education,
		},
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		if errors.Is(err, domain.ErrUserExists) {
			return nil, domain.NewAuthError(domain.AuthEmailInUse, err)
		}
		return nil, p.internal("create user", err)
	}

	p.log.Info().Str("user_id", created.ID).Msg("account created")
	return created.Identity(), nil
}

func (p *LocalIdentityProvider) SignOut(_ context.Context) error {
	p.mu.Lock()
	signedIn := p.current != nil
	p.mu.Unlock()
	if signedIn {
		p.emit(nil)
		p.log.Info().Msg("user signed out")
	}
	return nil
}

// SendPasswordResetEmail issues a single-use code and mails the activation link.
func (p *LocalIdentityProvider) SendPasswordResetEmail(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if err := p.validate.Var(email, "required,email"); err != nil {
		return domain.NewAuthError(domain.AuthInvalidEmail, err)
	}

	user, err := p.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.NewAuthError(domain.AuthUserNotFound, err)
		}
		return p.internal("find user", err)
	}

	code, err := p.codes.Issue(ctx, user.ID, p.cfg.ResetCodeTTL)
	if err != nil {
		return p.internal("issue reset code", err)
	}
	if err := p.mailer.SendPasswordReset(ctx, user.Email, p.links.BuildResetLink(code)); err != nil {
		return domain.NewAuthError(domain.AuthNetworkFailed, fmt.Errorf("send reset email: %w", err))
	}
	p.log.Info().Str("user_id", user.ID).Msg("password reset email sent")
	return nil
}

// ConfirmPasswordReset consumes code and replaces the account password.
func (p *LocalIdentityProvider) ConfirmPasswordReset(ctx context.Context, code, newPassword string) error {
	if code == "" {
		return domain.NewAuthError(domain.AuthInvalidActionCode, nil)
	}
	if len(newPassword) < minPasswordLength {
		return domain.NewAuthError(domain.AuthWeakPassword, nil)
	}

	uid, err := p.codes.Consume(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrCodeNotFound) {
			return domain.NewAuthError(domain.AuthInvalidActionCode, err)
		}
		return p.internal("consume reset code", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return p.internal("hash password", err)
	}
	if err := p.users.UpdatePassword(ctx, uid, string(hash)); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.NewAuthError(domain.AuthUserNotFound, err)
		}
		return p.internal("update password", err)
	}
	p.log.Info().Str("user_id", uid).Msg("password reset confirmed")
	return nil
}

// VerifyIDToken validates an ID token issued by SignIn.
func (p *LocalIdentityProvider) VerifyIDToken(token string) (*domain.Identity, error) {
	claims := jwt.MapClaims{}
	tkn, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return []byte(p.cfg.TokenSecret), nil
	}, jwt.WithTimeFunc(p.now))
	if err != nil || !tkn.Valid {
		return nil, domain.NewAuthError(domain.AuthInvalidIDToken, err)
	}

	uid, _ := claims["sub"].(string)
	if uid == "" {
		return nil, domain.NewAuthError(domain.AuthInvalidIDToken, errors.New("missing subject"))
	}
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	return &domain.Identity{UID: uid, Email: email, DisplayName: name}, nil
}

func (p *LocalIdentityProvider) generateToken(user *domain.User) (string, error) {
	now := p.now()
	claims := jwt.MapClaims{
		"sub":   user.ID,
		"email": user.Email,
		"name":  user.DisplayName,
		"iat":   now.Unix(),
		"exp":   now.Add(p.cfg.TokenTTL).Unix(),
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(p.cfg.TokenSecret))
}

func (p *LocalIdentityProvider) emit(identity *domain.Identity) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	p.current = cloneIdentity(identity)
	fns := make([]ports.AuthStateListener, 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(cloneIdentity(identity))
	}
}

func (p *LocalIdentityProvider) recordFailure(ctx context.Context, key string) {
	if err := p.limiter.Fail(ctx, key); err != nil {
		p.log.Warn().Err(err).Msg("failed to record sign-in attempt")
	}
}

func (p *LocalIdentityProvider) internal(op string, err error) error {
	p.log.Error().Err(err).Str("op", op).Msg("identity provider failure")
	return domain.NewAuthError(domain.AuthInternal, fmt.Errorf("%s: %w", op, err))
}

var signUpMessages = map[string]string{
	"FirstName.required":       "First name is required",
	"LastName.required":        "Last name is required",
	"Email.required":           "Email is required",
	"Email.email":              "Invalid email address",
	"Password.required":        "Password is required",
	"Password.min":             "Password must be at least 6 characters",
	"ConfirmPassword.required": "Please confirm your password",
	"ConfirmPassword.eqfield":  "Passwords do not match",
	"Interest.required":        "Please select an interest",
	"Gender.required":          "Please select a gender",
	"Education.required":       "Please select an education level",
}

func (p *LocalIdentityProvider) validateSignUp(in ports.SignUpInput) error {
	err := p.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return p.internal("validate sign-up", err)
	}

	fields := make(map[string]string, len(verrs))
	weak := false
	for _, fe := range verrs {
		key := fe.Field() + "." + fe.Tag()
		fields[lowerFirst(fe.Field())] = signUpMessages[key]
		if key == "Password.min" {
			weak = true
		}
	}
	if weak && len(verrs) == 1 {
		return &domain.AuthError{Code: domain.AuthWeakPassword, Fields: fields}
	}
	return &domain.AuthError{Code: domain.AuthInvalidArgument, Fields: fields}
}

func requiredFields(email, password string) map[string]string {
	fields := make(map[string]string, 2)
	if email == "" {
		fields["email"] = "Email is required"
	}
	if password == "" {
		fields["password"] = "Password is required"
	}
	return fields
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func cloneIdentity(id *domain.Identity) *domain.Identity {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}
