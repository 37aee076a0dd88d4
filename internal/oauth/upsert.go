package oauth

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/Skotchmaster/member_auth/internal/logging"
	"github.com/Skotchmaster/member_auth/internal/models"
	"github.com/Skotchmaster/member_auth/internal/repo"
)

// ErrEmailTaken is returned when the identity's email already belongs to a
// live member under a different key. External identities are never attached
// to an existing account by email.
var ErrEmailTaken = errors.New("email belongs to another member")

type Normalizer struct {
	Repo *repo.GormRepo
}

func NewNormalizer(r *repo.GormRepo) *Normalizer {
	return &Normalizer{Repo: r}
}

// Upsert resolves the live member for id, creating it on first login.
// Repeated calls with the same identity converge on the same member.
func (n *Normalizer) Upsert(ctx context.Context, id ExternalIdentity) (*models.Member, error) {
	if id.SubjectID == "" {
		return nil, ErrMissingSubject
	}
	if id.Email == "" {
		return nil, ErrMissingEmail
	}

	m, err := n.upsert(ctx, id)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// lost a create race with a concurrent first login
		logging.FromContext(ctx).Info("social_upsert_retry", "oauth_id", id.Key())
		m, err = n.upsert(ctx, id)
	}
	return m, err
}

func (n *Normalizer) upsert(ctx context.Context, id ExternalIdentity) (*models.Member, error) {
	key := id.Key()
	var out *models.Member

	err := n.Repo.Transaction(ctx, func(tx *repo.GormRepo) error {
		m, err := tx.FindLiveMemberByOAuthID(ctx, key)
		if err == nil {
			m.Name = id.Name
			if err := tx.SaveMember(ctx, m); err != nil {
				return err
			}
			out = m
			return nil
		}
		if !errors.Is(err, repo.ErrMemberNotFound) {
			return err
		}

		taken, err := tx.LiveEmailExists(ctx, id.Email)
		if err != nil {
			return err
		}
		if taken {
			return ErrEmailTaken
		}

		sentinel := models.SocialPasswordSentinel
		m = &models.Member{
			Email:    id.Email,
			Password: &sentinel,
			OAuthID:  &key,
			Name:     id.Name,
			Role:     models.RoleUser,
		}
		if err := tx.CreateMember(ctx, m); err != nil {
			return err
		}
		logging.FromContext(ctx).Info("social_member_created", "member_id", m.ID, "provider", id.Provider)
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
