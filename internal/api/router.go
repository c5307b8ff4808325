package api

import (
	"sync"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	echoSwagger "github.com/swaggo/echo-swagger"

	_ "github.com/samtwin/companion/docs"

	"github.com/samtwin/companion/internal/api/handler"
	"github.com/samtwin/companion/internal/api/middleware"
	"github.com/samtwin/companion/internal/core/ports"
	"github.com/samtwin/companion/internal/infrastructure/sse"
)

// httpMetrics registers the request collectors once per process; routers
// built afterwards share them.
var httpMetrics = sync.OnceValue(func() echo.MiddlewareFunc {
	return echoprometheus.NewMiddleware("companion")
})

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Shell    handler.Shell
	Journals handler.JournalService
	Routes   handler.RouteLister
	Provider ports.IdentityProvider
	Session  ports.SessionSource
	Hub      *sse.Hub
	Checks   map[string]handler.Check
	Log      zerolog.Logger
}

// NewRouter builds and returns the Echo instance with all routes registered.
func NewRouter(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(d.Log)

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(requestLogger(d.Log))
	e.Use(httpMetrics())

	// --- Dependencies ---
	authHandler := handler.NewAuthHandler(d.Provider)
	shellHandler := handler.NewShellHandler(d.Shell, d.Routes, d.Provider)
	journalHandler := handler.NewJournalHandler(d.Journals, d.Hub, d.Log.With().Str("component", "stream").Logger())
	authMiddleware := middleware.Auth(d.Provider, d.Session)

	// --- Auth routes ---
	auth := e.Group("/auth")
	auth.POST("/signup", authHandler.SignUp)
	auth.POST("/login", authHandler.Login)
	auth.POST("/logout", authHandler.Logout)
	auth.POST("/password-reset", authHandler.RequestPasswordReset)
	auth.POST("/password-reset/confirm", authHandler.ConfirmPasswordReset)

	// --- Shell routes ---
	e.POST("/links", shellHandler.OpenLink)
	e.GET("/nav", shellHandler.Stack)
	e.POST("/nav", shellHandler.Navigate)
	e.GET("/session", shellHandler.Session)

	// --- Journal routes (ID token of the signed-in user required) ---
	journals := e.Group("/v1/journals", authMiddleware)
	journals.GET("", journalHandler.List)
	journals.GET("/stream", journalHandler.Stream)
	journals.GET("/:id", journalHandler.Get)
	journals.POST("", journalHandler.Create)
	journals.PUT("/:id", journalHandler.Update)
	journals.DELETE("/:id", journalHandler.Delete)

	// --- Health probes and metrics (no auth required) ---
	healthHandler := handler.NewHealthHandler()
	readinessHandler := handler.NewReadinessHandler(d.Checks)

	e.GET("/health", healthHandler.Liveness)           // liveness  – is the process alive?
	e.GET("/health/ready", readinessHandler.Readiness) // readiness – are dependencies up?
	e.GET("/metrics", echoprometheus.NewHandler())
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	return e
}

// requestLogger logs one structured line per request.
func requestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			ev := log.Info()
			if v.Error != nil {
				ev = log.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	})
}
