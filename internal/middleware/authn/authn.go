package authn

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/member_auth/internal/logging"
	"github.com/Skotchmaster/member_auth/internal/metrics"
	"github.com/Skotchmaster/member_auth/internal/models"
	"github.com/Skotchmaster/member_auth/internal/repo"
	"github.com/Skotchmaster/member_auth/internal/service"
	"github.com/Skotchmaster/member_auth/internal/tokens"
)

type Outcome int

const (
	Anonymous Outcome = iota
	Authenticated
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Authenticated:
		return "authenticated"
	case Rejected:
		return "rejected"
	default:
		return "anonymous"
	}
}

type Result struct {
	Outcome   Outcome
	Principal *Principal
	// set only when the reissue branch minted a new pair
	Reissued *tokens.Pair
	Reason   error
}

type MemberFinder interface {
	FindLiveMemberByEmail(ctx context.Context, email string) (*models.Member, error)
}

type Reissuer interface {
	Reissue(ctx context.Context, refresh string) (*models.Member, tokens.Pair, error)
}

type Authenticator struct {
	Codec    *tokens.Codec
	Members  MemberFinder
	Reissuer Reissuer

	AccessHeader  string
	RefreshHeader string
	ReissuePath   string
	SkipPrefixes  []string

	Metrics *metrics.Collector
}

// Authenticate decides who the request is. Anonymous is not an error: the
// route decides whether it needs a principal.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) Result {
	if r.Method == http.MethodPost && r.URL.Path == a.ReissuePath {
		return a.reissue(ctx, r)
	}

	raw := bearer(r.Header.Get(a.AccessHeader))
	if raw == "" {
		return Result{Outcome: Anonymous}
	}

	claims, ok := a.Codec.Parse(ctx, raw)
	if !ok || claims.Type != tokens.KindAccess || claims.Email == "" {
		return Result{Outcome: Anonymous}
	}

	m, err := a.Members.FindLiveMemberByEmail(ctx, claims.Email)
	if err != nil {
		if errors.Is(err, repo.ErrMemberNotFound) {
			return Result{Outcome: Anonymous}
		}
		return Result{Outcome: Rejected, Reason: err}
	}

	// a withdrawn member's email may since belong to someone else
	if id, err := claims.MemberID(); err != nil || id != m.ID {
		return Result{Outcome: Anonymous}
	}

	return Result{Outcome: Authenticated, Principal: principalOf(m)}
}

func (a *Authenticator) reissue(ctx context.Context, r *http.Request) Result {
	raw := bearer(r.Header.Get(a.RefreshHeader))
	if raw == "" {
		return Result{Outcome: Rejected, Reason: service.ErrInvalidRefreshToken}
	}

	m, pair, err := a.Reissuer.Reissue(ctx, raw)
	if err != nil {
		return Result{Outcome: Rejected, Reason: err}
	}
	return Result{Outcome: Authenticated, Principal: principalOf(m), Reissued: &pair}
}

func principalOf(m *models.Member) *Principal {
	return &Principal{MemberID: m.ID, Email: m.Email, Role: m.Role}
}

func bearer(h string) string {
	h = strings.TrimSpace(h)
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		h = strings.TrimSpace(h[7:])
	}
	return h
}

func (a *Authenticator) skipped(path string) bool {
	for _, p := range a.SkipPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Middleware runs Authenticate once per request. It only answers the request
// itself when the outcome is Rejected.
func (a *Authenticator) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if a.skipped(req.URL.Path) {
				return next(c)
			}

			ctx := req.Context()
			res := a.Authenticate(ctx, req)
			a.Metrics.RecordAuthOutcome(res.Outcome.String())

			switch res.Outcome {
			case Rejected:
				code, msg := rejection(res.Reason)
				l := logging.FromContext(ctx)
				if code >= 500 {
					l.Error("authentication_failed", "status", code, "error", res.Reason)
				} else {
					l.Warn("authentication_rejected", "status", code, "reason", res.Reason.Error())
				}
				return echo.NewHTTPError(code, msg).SetInternal(res.Reason)

			case Authenticated:
				ctx = WithPrincipal(ctx, *res.Principal)
				ctx = logging.IntoContext(ctx, logging.FromContext(ctx).With("member_id", res.Principal.MemberID))
				if res.Reissued != nil {
					ctx = WithReissued(ctx, *res.Reissued)
					c.Response().Header().Set(a.AccessHeader, "Bearer "+res.Reissued.Access.Raw)
					c.Response().Header().Set(a.RefreshHeader, "Bearer "+res.Reissued.Refresh.Raw)
				}
				c.SetRequest(req.WithContext(ctx))
			}
			return next(c)
		}
	}
}

// rejection maps a pipeline failure to a status. Anything that is not an
// authentication problem is a server fault.
func rejection(err error) (int, string) {
	if service.IsAuthFailure(err) {
		return http.StatusUnauthorized, err.Error()
	}
	return http.StatusInternalServerError, "internal server error"
}

func RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, ok := PrincipalFrom(c.Request().Context()); !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "authentication required").SetInternal(service.ErrUnauthenticated)
		}
		return next(c)
	}
}

func RequireRole(roles ...models.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := PrincipalFrom(c.Request().Context())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required").SetInternal(service.ErrUnauthenticated)
			}
			if slices.Contains(roles, p.Role) {
				return next(c)
			}
			logging.FromContext(c.Request().Context()).Warn("access_denied", "status", 403, "role", p.Role)
			return echo.NewHTTPError(http.StatusForbidden, "forbidden")
		}
	}
}
