package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/member_auth/internal/logging"
	"github.com/Skotchmaster/member_auth/internal/middleware/authn"
	"github.com/Skotchmaster/member_auth/internal/models"
	"github.com/Skotchmaster/member_auth/internal/service"
	"github.com/Skotchmaster/member_auth/internal/tokens"
)

type MemberHTTP struct {
	Svc           *service.MemberService
	AccessHeader  string
	RefreshHeader string
}

type memberView struct {
	ID        uint        `json:"id"`
	Email     string      `json:"email"`
	Name      string      `json:"name"`
	Role      models.Role `json:"role"`
	Social    bool        `json:"social"`
	CreatedAt time.Time   `json:"created_at"`
}

func viewOf(m *models.Member) memberView {
	return memberView{
		ID:        m.ID,
		Email:     m.Email,
		Name:      m.Name,
		Role:      m.Role,
		Social:    m.OAuthID != nil,
		CreatedAt: m.CreatedAt,
	}
}

type tokenView struct {
	MemberID         uint      `json:"member_id"`
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func tokensOf(memberID uint, p tokens.Pair) tokenView {
	return tokenView{
		MemberID:         memberID,
		AccessToken:      p.Access.Raw,
		RefreshToken:     p.Refresh.Raw,
		AccessExpiresAt:  p.Access.ExpiresAt,
		RefreshExpiresAt: p.Refresh.ExpiresAt,
	}
}

func (h *MemberHTTP) setTokenHeaders(c echo.Context, p tokens.Pair) {
	c.Response().Header().Set(h.AccessHeader, "Bearer "+p.Access.Raw)
	c.Response().Header().Set(h.RefreshHeader, "Bearer "+p.Refresh.Raw)
}

func (h *MemberHTTP) Signup(c echo.Context) error {
	ctx := c.Request().Context()
	var req service.SignupInput
	if err := c.Bind(&req); err != nil {
		logging.FromContext(ctx).Warn("signup_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	m, err := h.Svc.Signup(ctx, req)
	if err != nil {
		return err
	}
	return ok(c, http.StatusCreated, "signup successful", viewOf(m))
}

func (h *MemberHTTP) Login(c echo.Context) error {
	ctx := c.Request().Context()
	var req service.LoginInput
	if err := c.Bind(&req); err != nil {
		logging.FromContext(ctx).Warn("login_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	m, pair, err := h.Svc.Login(ctx, req)
	if err != nil {
		return err
	}
	h.setTokenHeaders(c, pair)
	return ok(c, http.StatusOK, "login successful", tokensOf(m.ID, pair))
}

// Reissue answers with the pair the authentication middleware already
// minted for this request.
func (h *MemberHTTP) Reissue(c echo.Context) error {
	ctx := c.Request().Context()
	pair, found := authn.ReissuedFrom(ctx)
	p, authed := authn.PrincipalFrom(ctx)
	if !found || !authed {
		return service.ErrInvalidRefreshToken
	}
	return ok(c, http.StatusOK, "token reissued", tokensOf(p.MemberID, pair))
}

func (h *MemberHTTP) Withdraw(c echo.Context) error {
	ctx := c.Request().Context()
	p, _ := authn.PrincipalFrom(ctx)
	if err := h.Svc.Withdraw(ctx, p.MemberID); err != nil {
		return err
	}
	return ok(c, http.StatusOK, "withdrawal complete", nil)
}

func (h *MemberHTTP) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	p, _ := authn.PrincipalFrom(ctx)
	if err := h.Svc.Logout(ctx, p.MemberID); err != nil {
		return err
	}
	return ok(c, http.StatusOK, "logged out", nil)
}

func (h *MemberHTTP) Me(c echo.Context) error {
	ctx := c.Request().Context()
	p, _ := authn.PrincipalFrom(ctx)
	m, err := h.Svc.Me(ctx, p.MemberID)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, "ok", viewOf(m))
}

// MemberByID is the admin lookup of any live member.
func (h *MemberHTTP) MemberByID(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid member id")
	}
	m, err := h.Svc.Me(c.Request().Context(), uint(id))
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, "ok", viewOf(m))
}
