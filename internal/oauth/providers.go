package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/Skotchmaster/member_auth/internal/config"
)

const callbackPath = "/login/oauth2/code/"

var (
	googleEndpoint = oauth2.Endpoint{
		AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL: "https://oauth2.googleapis.com/token",
	}
	naverEndpoint = oauth2.Endpoint{
		AuthURL:   "https://nid.naver.com/oauth2.0/authorize",
		TokenURL:  "https://nid.naver.com/oauth2.0/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
	kakaoEndpoint = oauth2.Endpoint{
		AuthURL:   "https://kauth.kakao.com/oauth/authorize",
		TokenURL:  "https://kauth.kakao.com/oauth/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
	appleEndpoint = oauth2.Endpoint{
		AuthURL:   "https://appleid.apple.com/auth/authorize",
		TokenURL:  "https://appleid.apple.com/auth/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
)

const (
	googleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
	naverUserInfoURL  = "https://openapi.naver.com/v1/nid/me"
	kakaoUserInfoURL  = "https://kapi.kakao.com/v2/user/me"
)

var (
	ErrUnknownProvider = errors.New("unknown or unconfigured provider")
	ErrNoIDToken       = errors.New("token response has no id_token")
)

// Client runs the authorization code flow of one provider.
type Client struct {
	Provider    Provider
	Config      *oauth2.Config
	UserInfoURL string
	// Apple only: mints the per-exchange client secret.
	Secret *AppleSecret

	authParams []oauth2.AuthCodeOption
}

type Registry struct {
	clients map[Provider]*Client
	http    *http.Client
}

// NewRegistry registers every provider that has a client id configured.
func NewRegistry(cfg config.OAuthConfig, hc *http.Client) (*Registry, error) {
	r := &Registry{clients: map[Provider]*Client{}, http: hc}
	base := strings.TrimRight(cfg.CallbackBaseURL, "/")
	redirect := func(p Provider) string { return base + callbackPath + string(p) }

	if cfg.GoogleClientID != "" {
		r.Register(&Client{
			Provider: Google,
			Config: &oauth2.Config{
				ClientID:     cfg.GoogleClientID,
				ClientSecret: cfg.GoogleClientSecret,
				Endpoint:     googleEndpoint,
				RedirectURL:  redirect(Google),
				Scopes:       []string{"openid", "email", "profile"},
			},
			UserInfoURL: googleUserInfoURL,
		})
	}
	if cfg.NaverClientID != "" {
		r.Register(&Client{
			Provider: Naver,
			Config: &oauth2.Config{
				ClientID:     cfg.NaverClientID,
				ClientSecret: cfg.NaverClientSecret,
				Endpoint:     naverEndpoint,
				RedirectURL:  redirect(Naver),
			},
			UserInfoURL: naverUserInfoURL,
		})
	}
	if cfg.KakaoClientID != "" {
		r.Register(&Client{
			Provider: Kakao,
			Config: &oauth2.Config{
				ClientID:     cfg.KakaoClientID,
				ClientSecret: cfg.KakaoClientSecret,
				Endpoint:     kakaoEndpoint,
				RedirectURL:  redirect(Kakao),
				Scopes:       []string{"profile_nickname", "profile_image", "account_email"},
			},
			UserInfoURL: kakaoUserInfoURL,
		})
	}
	if cfg.AppleClientID != "" {
		secret, err := NewAppleSecret(cfg.AppleClientID, cfg.AppleTeamID, cfg.AppleKeyID, cfg.ApplePrivateKey)
		if err != nil {
			return nil, fmt.Errorf("apple: %w", err)
		}
		r.Register(&Client{
			Provider: Apple,
			Config: &oauth2.Config{
				ClientID:    cfg.AppleClientID,
				Endpoint:    appleEndpoint,
				RedirectURL: redirect(Apple),
				Scopes:      []string{"name", "email"},
			},
			Secret:     secret,
			authParams: []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("response_mode", "form_post")},
		})
	}
	return r, nil
}

func (r *Registry) Register(c *Client) {
	r.clients[c.Provider] = c
}

func (r *Registry) Providers() []Provider {
	out := make([]Provider, 0, len(r.clients))
	for p := range r.clients {
		out = append(out, p)
	}
	return out
}

func (r *Registry) client(tag string) (*Client, error) {
	c, ok := r.clients[Provider(strings.ToLower(tag))]
	if !ok {
		return nil, fmt.Errorf("%q: %w", tag, ErrUnknownProvider)
	}
	return c, nil
}

// AuthCodeURL is where the browser is sent to start a login.
func (r *Registry) AuthCodeURL(tag, state string) (string, error) {
	c, err := r.client(tag)
	if err != nil {
		return "", err
	}
	return c.Config.AuthCodeURL(state, c.authParams...), nil
}

// Attributes exchanges code and returns the provider's raw user attributes,
// ready for Normalize. form is the callback form; apple posts the user's
// name there on first consent.
func (r *Registry) Attributes(ctx context.Context, tag, code string, form url.Values) (map[string]any, error) {
	c, err := r.client(tag)
	if err != nil {
		return nil, err
	}
	if r.http != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.http)
	}

	cfg := c.Config
	if c.Secret != nil {
		secret, err := c.Secret.Generate()
		if err != nil {
			return nil, err
		}
		copied := *c.Config
		copied.ClientSecret = secret
		cfg = &copied
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%s: exchange code: %w", c.Provider, err)
	}

	if c.Provider == Apple {
		return appleAttributes(tok, form.Get("user"))
	}
	return fetchUserInfo(ctx, cfg.Client(ctx, tok), c.UserInfoURL)
}

func fetchUserInfo(ctx context.Context, hc *http.Client, endpoint string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch user info: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, 1<<20))
	dec.UseNumber()
	var attrs map[string]any
	if err := dec.Decode(&attrs); err != nil {
		return nil, fmt.Errorf("decode user info: %w", err)
	}
	return attrs, nil
}
