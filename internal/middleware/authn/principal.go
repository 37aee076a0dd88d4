package authn

import (
	"context"

	"github.com/Skotchmaster/member_auth/internal/models"
	"github.com/Skotchmaster/member_auth/internal/tokens"
)

// Principal is the member a request was authenticated as.
type Principal struct {
	MemberID uint
	Email    string
	Role     models.Role
}

type principalKey struct{}
type reissuedKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func WithReissued(ctx context.Context, pair tokens.Pair) context.Context {
	return context.WithValue(ctx, reissuedKey{}, pair)
}

// ReissuedFrom returns the pair minted by the reissue branch for this request.
func ReissuedFrom(ctx context.Context) (tokens.Pair, bool) {
	p, ok := ctx.Value(reissuedKey{}).(tokens.Pair)
	return p, ok
}
