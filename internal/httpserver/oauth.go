package httpserver

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/member_auth/internal/logging"
	"github.com/Skotchmaster/member_auth/internal/oauth"
	"github.com/Skotchmaster/member_auth/internal/service"
)

const (
	stateCookie  = "oauth2_state"
	stateMaxAge  = 300
	callbackRoot = "/login/oauth2/code"
)

type OAuthHTTP struct {
	Registry    *oauth.Registry
	Svc         *service.MemberService
	RedirectURI string
	FailureURI  string
	// true when the callback is served over https
	SecureCookies bool
}

func (h *OAuthHTTP) stateCookie(value string, maxAge int) *http.Cookie {
	ck := &http.Cookie{
		Name:     stateCookie,
		Value:    value,
		Path:     callbackRoot,
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	// apple answers with a cross-site form post
	if h.SecureCookies {
		ck.Secure = true
		ck.SameSite = http.SameSiteNoneMode
	}
	return ck
}

// Authorize starts the provider login and remembers the state in a cookie.
func (h *OAuthHTTP) Authorize(c echo.Context) error {
	provider := c.Param("provider")
	state := uuid.NewString()

	target, err := h.Registry.AuthCodeURL(provider, state)
	if err != nil {
		return err
	}
	c.SetCookie(h.stateCookie(state, stateMaxAge))
	return c.Redirect(http.StatusFound, target)
}

// Callback finishes the provider login and hands the tokens to the front end
// as query parameters.
func (h *OAuthHTTP) Callback(c echo.Context) error {
	ctx := c.Request().Context()
	provider := c.Param("provider")
	l := logging.FromContext(ctx).With("handler", "oauth_callback", "provider", provider)

	form, err := c.FormParams()
	if err != nil {
		l.Warn("oauth_callback_failed", "reason", "bad_form", "error", err)
		return h.fail(c, "invalid_request")
	}

	if e := form.Get("error"); e != "" {
		l.Warn("oauth_callback_failed", "reason", "provider_error", "provider_error", e)
		return h.fail(c, e)
	}

	ck, err := c.Cookie(stateCookie)
	c.SetCookie(h.stateCookie("", -1))
	if err != nil || ck.Value == "" || ck.Value != form.Get("state") {
		l.Warn("oauth_callback_failed", "reason", "state_mismatch")
		return h.fail(c, "invalid_state")
	}

	code := form.Get("code")
	if code == "" {
		l.Warn("oauth_callback_failed", "reason", "missing_code")
		return h.fail(c, "invalid_request")
	}

	attrs, err := h.Registry.Attributes(ctx, provider, code, form)
	if err != nil {
		if errors.Is(err, oauth.ErrUnknownProvider) {
			return err
		}
		l.Warn("oauth_callback_failed", "reason", "exchange_failed", "error", err)
		return h.fail(c, "exchange_failed")
	}

	_, pair, err := h.Svc.SocialLogin(ctx, provider, attrs)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrDuplicateEmail):
			return h.fail(c, "email_conflict")
		case errors.Is(err, service.ErrUnauthenticated):
			return h.fail(c, "identity_incomplete")
		}
		l.Error("oauth_callback_failed", "reason", "social_login", "error", err)
		return h.fail(c, "login_failed")
	}

	target, err := withQuery(h.RedirectURI, url.Values{
		"token":   {pair.Access.Raw},
		"refresh": {pair.Refresh.Raw},
	})
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, target)
}

func (h *OAuthHTTP) fail(c echo.Context, reason string) error {
	target, err := withQuery(h.FailureURI, url.Values{"error": {reason}})
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, target)
}

func withQuery(base string, params url.Values) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
