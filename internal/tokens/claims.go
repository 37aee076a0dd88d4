package tokens

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Kind string

const (
	KindAccess  Kind = "ACCESS"
	KindRefresh Kind = "REFRESH"
)

// Claims is the claim set of both token kinds. Refresh tokens leave Email and
// Role empty.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	Type  Kind   `json:"type"`
	jwt.RegisteredClaims
}

func (c *Claims) MemberID() (uint, error) {
	if c.Subject == "" {
		return 0, errors.New("token has no subject")
	}
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}

type Token struct {
	Raw       string
	Kind      Kind
	ExpiresAt time.Time
}

type Pair struct {
	Access  Token
	Refresh Token
}

// Redact shortens a token for log lines.
func Redact(raw string) string {
	if len(raw) <= 8 {
		return "***"
	}
	return raw[:8] + "..."
}
