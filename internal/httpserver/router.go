package httpserver

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	ecM "github.com/labstack/echo/v4/middleware"

	"github.com/Skotchmaster/member_auth/internal/middleware/authn"
	"github.com/Skotchmaster/member_auth/internal/models"
)

const (
	MemberPrefix = "/api/v1/member"
	ReissuePath  = MemberPrefix + "/token-reissue"
)

// SkipPrefixes never go through authentication.
var SkipPrefixes = []string{"/swagger-ui", "/v3/api-docs", "/api-doc", "/health", "/metrics"}

type Deps struct {
	MemberHandler *MemberHTTP
	OAuthHandler  *OAuthHTTP
	Auth          *authn.Authenticator
	Metrics       http.Handler
	Ready         func(ctx context.Context) error
}

func Common() []echo.MiddlewareFunc {
	return []echo.MiddlewareFunc{
		ecM.Recover(),
		ecM.RequestID(),
		ecM.Secure(),
	}
}

func Register(e *echo.Echo, d *Deps) {
	e.HTTPErrorHandler = ErrorHandler
	e.Use(d.Auth.Middleware())

	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error {
		if d.Ready != nil {
			if err := d.Ready(c.Request().Context()); err != nil {
				return c.NoContent(http.StatusServiceUnavailable)
			}
		}
		return c.NoContent(http.StatusOK)
	})
	if d.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(d.Metrics))
	}

	member := e.Group(MemberPrefix)
	member.POST("/signup", d.MemberHandler.Signup)
	member.POST("/login", d.MemberHandler.Login)
	member.POST("/token-reissue", d.MemberHandler.Reissue)

	private := member.Group("", authn.RequireAuth)
	private.DELETE("/withdraw", d.MemberHandler.Withdraw)
	private.POST("/logout", d.MemberHandler.Logout)
	private.GET("/me", d.MemberHandler.Me)

	admin := private.Group("/admin", authn.RequireRole(models.RoleAdmin))
	admin.GET("/members/:id", d.MemberHandler.MemberByID)

	if d.OAuthHandler != nil {
		e.GET("/api/oauth2/authorization/:provider", d.OAuthHandler.Authorize)
		e.GET(callbackRoot+"/:provider", d.OAuthHandler.Callback)
		e.POST(callbackRoot+"/:provider", d.OAuthHandler.Callback)
	}
}
