package tokens

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Skotchmaster/member_auth/internal/logging"
)

// SessionRotator persists the refresh token that was just minted.
type SessionRotator interface {
	Rotate(ctx context.Context, memberID uint, token string, expiresAt time.Time, deviceInfo *string) error
	RotateFrom(ctx context.Context, memberID uint, previous, token string, expiresAt time.Time, deviceInfo *string) error
}

type Options struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Now        func() time.Time
}

// Codec signs and verifies access and refresh tokens. Verification never
// touches storage; minting a refresh token always replaces the member's
// session.
type Codec struct {
	key        Key
	accessTTL  time.Duration
	refreshTTL time.Duration
	sessions   SessionRotator
	now        func() time.Time
	parser     *jwt.Parser
}

func New(key Key, sessions SessionRotator, opts Options) (*Codec, error) {
	if len(key.bytes()) == 0 {
		return nil, errors.New("tokens: empty signing key")
	}
	if sessions == nil {
		return nil, errors.New("tokens: session rotator is required")
	}
	if opts.AccessTTL <= 0 || opts.RefreshTTL <= 0 {
		return nil, errors.New("tokens: token lifetimes must be positive")
	}

	c := &Codec{
		key:        key,
		accessTTL:  opts.AccessTTL,
		refreshTTL: opts.RefreshTTL,
		sessions:   sessions,
		now:        opts.Now,
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)
	return c, nil
}

func (c *Codec) AccessTTL() time.Duration  { return c.accessTTL }
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

func (c *Codec) sign(claims Claims, ttl time.Duration) (Token, error) {
	now := c.now()
	exp := now.Add(ttl)
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(exp)
	claims.ID = uuid.NewString()

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key.bytes())
	if err != nil {
		return Token{}, fmt.Errorf("sign %s token: %w", claims.Type, err)
	}
	return Token{Raw: raw, Kind: claims.Type, ExpiresAt: claims.ExpiresAt.Time}, nil
}

func (c *Codec) IssueAccess(ctx context.Context, memberID uint, email, role string) (Token, error) {
	return c.sign(Claims{
		Email: email,
		Role:  role,
		Type:  KindAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: strconv.FormatUint(uint64(memberID), 10),
		},
	}, c.accessTTL)
}

func (c *Codec) signRefresh(memberID uint) (Token, error) {
	return c.sign(Claims{
		Type: KindRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: strconv.FormatUint(uint64(memberID), 10),
		},
	}, c.refreshTTL)
}

// IssueRefresh mints a refresh token and makes it the member's only session.
func (c *Codec) IssueRefresh(ctx context.Context, memberID uint) (Token, error) {
	t, err := c.signRefresh(memberID)
	if err != nil {
		return Token{}, err
	}
	if err := c.sessions.Rotate(ctx, memberID, t.Raw, t.ExpiresAt, nil); err != nil {
		return Token{}, fmt.Errorf("rotate session: %w", err)
	}
	return t, nil
}

func (c *Codec) IssuePair(ctx context.Context, memberID uint, email, role string) (Pair, error) {
	access, err := c.IssueAccess(ctx, memberID, email, role)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := c.IssueRefresh(ctx, memberID)
	if err != nil {
		return Pair{}, err
	}
	logging.FromContext(ctx).Debug("token_pair_issued", "member_id", memberID)
	return Pair{Access: access, Refresh: refresh}, nil
}

// RotatePair is IssuePair for the reissue path: the new session only replaces
// the old one if previous is still the live refresh token.
func (c *Codec) RotatePair(ctx context.Context, memberID uint, email, role, previous string) (Pair, error) {
	access, err := c.IssueAccess(ctx, memberID, email, role)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := c.signRefresh(memberID)
	if err != nil {
		return Pair{}, err
	}
	if err := c.sessions.RotateFrom(ctx, memberID, previous, refresh.Raw, refresh.ExpiresAt, nil); err != nil {
		return Pair{}, fmt.Errorf("rotate session: %w", err)
	}
	logging.FromContext(ctx).Debug("token_pair_rotated", "member_id", memberID)
	return Pair{Access: access, Refresh: refresh}, nil
}

func (c *Codec) parse(raw string) (*Claims, error) {
	if raw == "" {
		return nil, jwt.ErrTokenMalformed
	}
	var claims Claims
	tkn, err := c.parser.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return c.key.bytes(), nil
	})
	if err != nil {
		return nil, err
	}
	if !tkn.Valid {
		return nil, jwt.ErrTokenUnverifiable
	}
	return &claims, nil
}

// Parse returns the verified claims, or false when the token does not verify.
func (c *Codec) Parse(ctx context.Context, raw string) (*Claims, bool) {
	claims, err := c.parse(raw)
	if err != nil {
		logging.FromContext(ctx).Warn("token_invalid", "reason", failureReason(err), "token", Redact(raw), "error", err)
		return nil, false
	}
	return claims, true
}

func (c *Codec) Validate(ctx context.Context, raw string) bool {
	_, ok := c.Parse(ctx, raw)
	return ok
}

func (c *Codec) ExtractEmail(ctx context.Context, raw string) (string, bool) {
	claims, err := c.parse(raw)
	if err != nil {
		logging.FromContext(ctx).Error("extract_email_failed", "reason", failureReason(err))
		return "", false
	}
	return claims.Email, claims.Email != ""
}

func (c *Codec) ExtractRole(ctx context.Context, raw string) (string, bool) {
	claims, err := c.parse(raw)
	if err != nil {
		logging.FromContext(ctx).Error("extract_role_failed", "reason", failureReason(err))
		return "", false
	}
	return claims.Role, claims.Role != ""
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "signature_or_algorithm"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "unsupported"
	default:
		return "invalid"
	}
}
