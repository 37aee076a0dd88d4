package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/Skotchmaster/member_auth/internal/config"
	"github.com/Skotchmaster/member_auth/internal/db/dbtest"
	"github.com/Skotchmaster/member_auth/internal/metrics"
	"github.com/Skotchmaster/member_auth/internal/middleware/authn"
	"github.com/Skotchmaster/member_auth/internal/models"
	"github.com/Skotchmaster/member_auth/internal/oauth"
	"github.com/Skotchmaster/member_auth/internal/repo"
	"github.com/Skotchmaster/member_auth/internal/service"
	"github.com/Skotchmaster/member_auth/internal/tokens"
)

type testEnv struct {
	T     *testing.T
	E     *echo.Echo
	Codec *tokens.Codec
	Repo  *repo.GormRepo
}

func newTestEnv(t *testing.T, registry *oauth.Registry) *testEnv {
	t.Helper()
	r := repo.New(dbtest.New(t))

	key, err := tokens.NewKey([]byte("http-test-secret-http-test-secret-http"))
	require.NoError(t, err)
	codec, err := tokens.New(key, r, tokens.Options{AccessTTL: 30 * time.Minute, RefreshTTL: 24 * time.Hour})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.NewCollector(reg)
	svc := &service.MemberService{Repo: r, Codec: codec, Social: oauth.NewNormalizer(r), Metrics: m, BcryptCost: bcrypt.MinCost}

	if registry == nil {
		registry, err = oauth.NewRegistry(config.OAuthConfig{}, nil)
		require.NoError(t, err)
	}

	e := echo.New()
	e.Use(Common()...)
	Register(e, &Deps{
		MemberHandler: &MemberHTTP{Svc: svc, AccessHeader: "Authorization", RefreshHeader: "X-Refresh-Token"},
		OAuthHandler: &OAuthHTTP{
			Registry:    registry,
			Svc:         svc,
			RedirectURI: "http://localhost:3000/oauth2/redirect",
			FailureURI:  "/login",
		},
		Auth: &authn.Authenticator{
			Codec:         codec,
			Members:       r,
			Reissuer:      svc,
			AccessHeader:  "Authorization",
			RefreshHeader: "X-Refresh-Token",
			ReissuePath:   ReissuePath,
			SkipPrefixes:  SkipPrefixes,
			Metrics:       m,
		},
		Metrics: metrics.Handler(reg),
	})
	return &testEnv{T: t, E: e, Codec: codec, Repo: r}
}

func (env *testEnv) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	env.T.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(env.T, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.E.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Status  int             `json:"status"`
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func (env *testEnv) signupAndLogin(email string) tokenView {
	t := env.T
	t.Helper()
	rec := env.do(http.MethodPost, MemberPrefix+"/signup", map[string]string{"email": email, "password": "p12345678", "name": "A"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(http.MethodPost, MemberPrefix+"/login", map[string]string{"email": email, "password": "p12345678"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var tv tokenView
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &tv))
	assert.Equal(t, "Bearer "+tv.AccessToken, rec.Header().Get("Authorization"))
	assert.Equal(t, "Bearer "+tv.RefreshToken, rec.Header().Get("X-Refresh-Token"))
	return tv
}

func bearer(tok string) string { return "Bearer " + tok }

func TestSignupLoginMe(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, MemberPrefix+"/signup", map[string]string{"email": "a@x.com", "password": "p12345678", "name": "A"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeEnvelope(t, rec)
	assert.True(t, body.Success)
	assert.Equal(t, http.StatusCreated, body.Status)
	assert.NotContains(t, string(body.Data), "password")

	rec = env.do(http.MethodPost, MemberPrefix+"/login", map[string]string{"email": "a@x.com", "password": "p12345678"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tv tokenView
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &tv))

	ctx := context.Background()
	assert.True(t, env.Codec.Validate(ctx, tv.AccessToken))
	email, ok := env.Codec.ExtractEmail(ctx, tv.AccessToken)
	require.True(t, ok)
	assert.Equal(t, "a@x.com", email)

	rec = env.do(http.MethodGet, MemberPrefix+"/me", nil, map[string]string{"Authorization": bearer(tv.AccessToken)})
	require.Equal(t, http.StatusOK, rec.Code)
	var me memberView
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &me))
	assert.Equal(t, "a@x.com", me.Email)
	assert.Equal(t, tv.MemberID, me.ID)

	rec = env.do(http.MethodGet, MemberPrefix+"/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, decodeEnvelope(t, rec).Success)
}

func TestSignupAndLoginErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	env.signupAndLogin("a@x.com")

	tests := []struct {
		name    string
		path    string
		body    any
		code    int
		message string
	}{
		{name: "duplicate email", path: "/signup", body: map[string]string{"email": "a@x.com", "password": "p12345678", "name": "B"}, code: http.StatusConflict, message: "email already in use"},
		{name: "invalid signup", path: "/signup", body: map[string]string{"email": "nope", "password": "p12345678", "name": "B"}, code: http.StatusBadRequest},
		{name: "wrong password", path: "/login", body: map[string]string{"email": "a@x.com", "password": "wrong-password"}, code: http.StatusUnauthorized, message: "invalid email or password"},
		{name: "unknown member", path: "/login", body: map[string]string{"email": "b@x.com", "password": "p12345678"}, code: http.StatusUnauthorized, message: "invalid email or password"},
		{name: "malformed body", path: "/login", body: "not an object", code: http.StatusBadRequest, message: "invalid body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, MemberPrefix+tt.path, tt.body, nil)
			assert.Equal(t, tt.code, rec.Code)
			body := decodeEnvelope(t, rec)
			assert.False(t, body.Success)
			assert.Equal(t, tt.code, body.Status)
			if tt.message != "" {
				assert.Equal(t, tt.message, body.Message)
			}
		})
	}
}

func TestTokenReissue(t *testing.T) {
	env := newTestEnv(t, nil)
	tv := env.signupAndLogin("a@x.com")

	rec := env.do(http.MethodPost, ReissuePath, nil, map[string]string{"X-Refresh-Token": bearer(tv.RefreshToken)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var next tokenView
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &next))
	assert.Equal(t, bearer(next.RefreshToken), rec.Header().Get("X-Refresh-Token"))
	assert.Equal(t, bearer(next.AccessToken), rec.Header().Get("Authorization"))
	assert.NotEqual(t, tv.RefreshToken, next.RefreshToken)

	// the pair in the body is the live one: rotation happened exactly once
	rec = env.do(http.MethodPost, ReissuePath, nil, map[string]string{"X-Refresh-Token": bearer(next.RefreshToken)})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodPost, ReissuePath, nil, map[string]string{"X-Refresh-Token": bearer(tv.RefreshToken)})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "refresh session mismatch", decodeEnvelope(t, rec).Message)

	rec = env.do(http.MethodPost, ReissuePath, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWithdraw(t *testing.T) {
	env := newTestEnv(t, nil)
	tv := env.signupAndLogin("a@x.com")
	auth := map[string]string{"Authorization": bearer(tv.AccessToken)}

	rec := env.do(http.MethodDelete, MemberPrefix+"/withdraw", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, MemberPrefix+"/me", nil, auth)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, ReissuePath, nil, map[string]string{"X-Refresh-Token": bearer(tv.RefreshToken)})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	again := env.signupAndLogin("a@x.com")
	assert.NotEqual(t, tv.MemberID, again.MemberID)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t, nil)
	tv := env.signupAndLogin("a@x.com")

	rec := env.do(http.MethodPost, MemberPrefix+"/logout", nil, map[string]string{"Authorization": bearer(tv.AccessToken)})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodPost, ReissuePath, nil, map[string]string{"X-Refresh-Token": bearer(tv.RefreshToken)})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil)
	env.signupAndLogin("a@x.com")

	rec := env.do(http.MethodGet, "/health/live", nil, map[string]string{"Authorization": "Bearer junk"})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `member_auth_login_total{result="success"} 1`)
}

func TestStatusOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: email", service.ErrValidation), http.StatusBadRequest},
		{service.ErrBadCredentials, http.StatusUnauthorized},
		{repo.ErrSessionMismatch, http.StatusUnauthorized},
		{service.ErrSessionExpired, http.StatusUnauthorized},
		{repo.ErrMemberNotFound, http.StatusNotFound},
		{service.ErrDuplicateEmail, http.StatusConflict},
		{echo.NewHTTPError(http.StatusForbidden, "forbidden"), http.StatusForbidden},
		{errors.New("pq: connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		code, msg := statusOf(tt.err)
		assert.Equal(t, tt.code, code, tt.err.Error())
		assert.NotContains(t, msg, "pq:")
	}
}

func kakaoProvider(t *testing.T) *oauth.Registry {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"provider-at","token_type":"bearer"}`)
	})
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":999,"kakao_account":{"email":"k@kakao.com","profile":{"nickname":"Choi"}}}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	registry, err := oauth.NewRegistry(config.OAuthConfig{}, srv.Client())
	require.NoError(t, err)
	registry.Register(&oauth.Client{
		Provider: oauth.Kakao,
		Config: &oauth2.Config{
			ClientID: "kakao-id",
			Endpoint: oauth2.Endpoint{
				AuthURL:   srv.URL + "/authorize",
				TokenURL:  srv.URL + "/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
			RedirectURL: "http://localhost:8080/login/oauth2/code/kakao",
		},
		UserInfoURL: srv.URL + "/me",
	})
	return registry
}

func TestOAuthFlow(t *testing.T) {
	env := newTestEnv(t, kakaoProvider(t))

	rec := env.do(http.MethodGet, "/api/oauth2/authorization/kakao", nil, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, state, cookies[0].Value)

	callback := func(state string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/login/oauth2/code/kakao?code=abc&state="+state, nil)
		req.AddCookie(cookies[0])
		rec := httptest.NewRecorder()
		env.E.ServeHTTP(rec, req)
		return rec
	}

	rec = callback(state)
	require.Equal(t, http.StatusFound, rec.Code)
	target, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/oauth2/redirect", target.Path)
	access := target.Query().Get("token")
	assert.True(t, env.Codec.Validate(context.Background(), access))
	assert.NotEmpty(t, target.Query().Get("refresh"))

	first, ok := env.Codec.ExtractEmail(context.Background(), access)
	require.True(t, ok)
	assert.Equal(t, "k@kakao.com", first)

	rec = callback(state)
	require.Equal(t, http.StatusFound, rec.Code)
	second, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	claims, ok := env.Codec.Parse(context.Background(), second.Query().Get("token"))
	require.True(t, ok)
	firstClaims, ok := env.Codec.Parse(context.Background(), access)
	require.True(t, ok)
	assert.Equal(t, firstClaims.Subject, claims.Subject, "same member on repeated login")

	rec = callback("forged")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "/login?error=invalid_state"))
}

func TestOAuthEmailOfPasswordMemberConflicts(t *testing.T) {
	env := newTestEnv(t, kakaoProvider(t))

	rec := env.do(http.MethodPost, MemberPrefix+"/signup", map[string]string{"email": "k@kakao.com", "password": "p12345678", "name": "K"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(http.MethodGet, "/api/oauth2/authorization/kakao", nil, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)

	req := httptest.NewRequest(http.MethodGet, "/login/oauth2/code/kakao?code=abc&state="+cookies[0].Value, nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	env.E.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	loc := rec.Header().Get("Location")
	assert.True(t, strings.HasPrefix(loc, "/login?error=email_conflict"), loc)
	assert.NotContains(t, loc, "token=")
}

func TestOAuthUnknownProvider(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/api/oauth2/authorization/github", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, decodeEnvelope(t, rec).Success)
}

func TestAdminMemberLookup(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.signupAndLogin("u@x.com")
	admin := env.signupAndLogin("admin@x.com")
	require.NoError(t, env.Repo.DB.Model(&models.Member{}).
		Where("id = ?", admin.MemberID).Update("role", models.RoleAdmin).Error)

	path := fmt.Sprintf("%s/admin/members/%d", MemberPrefix, user.MemberID)

	rec := env.do(http.MethodGet, path, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodGet, path, nil, map[string]string{"Authorization": bearer(user.AccessToken)})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, decodeEnvelope(t, rec).Success)

	rec = env.do(http.MethodGet, path, nil, map[string]string{"Authorization": bearer(admin.AccessToken)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var mv memberView
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &mv))
	assert.Equal(t, "u@x.com", mv.Email)

	rec = env.do(http.MethodGet, MemberPrefix+"/admin/members/999", nil, map[string]string{"Authorization": bearer(admin.AccessToken)})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodGet, MemberPrefix+"/admin/members/abc", nil, map[string]string{"Authorization": bearer(admin.AccessToken)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTokenReissue_OnlyOnPost(t *testing.T) {
	env := newTestEnv(t, nil)
	tv := env.signupAndLogin("a@x.com")

	rec := env.do(http.MethodGet, ReissuePath, nil, map[string]string{"X-Refresh-Token": bearer(tv.RefreshToken)})
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Refresh-Token"))

	rec = env.do(http.MethodPost, ReissuePath, nil, map[string]string{"X-Refresh-Token": bearer(tv.RefreshToken)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEqual(t, bearer(tv.RefreshToken), rec.Header().Get("X-Refresh-Token"))
}
