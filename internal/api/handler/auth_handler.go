package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/samtwin/companion/internal/core/domain"
	"github.com/samtwin/companion/internal/core/ports"
)

type AuthHandler struct {
	provider ports.IdentityProvider
}

func NewAuthHandler(provider ports.IdentityProvider) *AuthHandler {
	return &AuthHandler{provider: provider}
}

type signUpRequest struct {
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	Interest        string `json:"interest"`
	Gender          string `json:"gender"`
	Education       string `json:"education"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type resetRequest struct {
	Email string `json:"email"`
}

type confirmResetRequest struct {
	Code        string `json:"oob_code"`
	NewPassword string `json:"new_password"`
}

type authResponse struct {
	Token string           `json:"token,omitempty"`
	User  *domain.Identity `json:"user,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// SignUp creates an account. The caller is not signed in afterwards and must
// log in with the new credentials.
//
// @Summary      Create an account
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      signUpRequest  true  "Sign-up form"
// @Success      201   {object}  authResponse
// @Failure      400   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Router       /auth/signup [post]
func (h *AuthHandler) SignUp(c echo.Context) error {
	var req signUpRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}

	identity, err := h.provider.SignUp(c.Request().Context(), ports.SignUpInput{
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		Interest:        req.Interest,
		Gender:          req.Gender,
		Education:       req.Education,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, authResponse{User: identity})
}

// Login signs in and returns an ID token for the journal routes.
//
// @Summary      Login
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      loginRequest  true  "Login credentials"
// @Success      200   {object}  authResponse
// @Failure      401   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Failure      429   {object}  map[string]string
// @Router       /auth/login [post]
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}

	creds, err := h.provider.SignIn(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, authResponse{Token: creds.IDToken, User: creds.Identity})
}

// @Summary      Logout
// @Tags         auth
// @Success      204
// @Router       /auth/logout [post]
func (h *AuthHandler) Logout(c echo.Context) error {
	if err := h.provider.SignOut(c.Request().Context()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// RequestPasswordReset mails a reset link to the account's address.
//
// @Summary      Send a password reset email
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      resetRequest  true  "Account email"
// @Success      202   {object}  messageResponse
// @Failure      404   {object}  map[string]string
// @Router       /auth/password-reset [post]
func (h *AuthHandler) RequestPasswordReset(c echo.Context) error {
	var req resetRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}

	if err := h.provider.SendPasswordResetEmail(c.Request().Context(), req.Email); err != nil {
		return err
	}

	return c.JSON(http.StatusAccepted, messageResponse{Message: "Password reset email sent! Check your inbox."})
}

// @Summary      Set a new password with a reset code
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      confirmResetRequest  true  "Reset code and new password"
// @Success      200   {object}  messageResponse
// @Failure      400   {object}  map[string]string
// @Router       /auth/password-reset/confirm [post]
func (h *AuthHandler) ConfirmPasswordReset(c echo.Context) error {
	var req confirmResetRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}

	if err := h.provider.ConfirmPasswordReset(c.Request().Context(), req.Code, req.NewPassword); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, messageResponse{Message: "Password has been reset. You can now log in."})
}
