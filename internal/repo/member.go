package repo

import (
	"context"
	"fmt"

	"github.com/Skotchmaster/member_auth/internal/models"
)

func (r *GormRepo) FindMemberByID(ctx context.Context, id uint) (*models.Member, error) {
	var m models.Member
	if err := r.DB.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, notFound(err, ErrMemberNotFound)
	}
	return &m, nil
}

func (r *GormRepo) FindLiveMemberByID(ctx context.Context, id uint) (*models.Member, error) {
	var m models.Member
	if err := r.DB.WithContext(ctx).Where("id = ? AND deleted = ?", id, false).First(&m).Error; err != nil {
		return nil, notFound(err, ErrMemberNotFound)
	}
	return &m, nil
}

func (r *GormRepo) FindLiveMemberByEmail(ctx context.Context, email string) (*models.Member, error) {
	var m models.Member
	if err := r.DB.WithContext(ctx).Where("email = ? AND deleted = ?", email, false).First(&m).Error; err != nil {
		return nil, notFound(err, ErrMemberNotFound)
	}
	return &m, nil
}

func (r *GormRepo) FindLiveMemberByOAuthID(ctx context.Context, oauthID string) (*models.Member, error) {
	var m models.Member
	if err := r.DB.WithContext(ctx).Where("oauth_id = ? AND deleted = ?", oauthID, false).First(&m).Error; err != nil {
		return nil, notFound(err, ErrMemberNotFound)
	}
	return &m, nil
}

func (r *GormRepo) LiveEmailExists(ctx context.Context, email string) (bool, error) {
	var count int64
	if err := r.DB.WithContext(ctx).Model(&models.Member{}).
		Where("email = ? AND deleted = ?", email, false).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *GormRepo) CreateMember(ctx context.Context, m *models.Member) error {
	if err := r.DB.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("create member: %w", err)
	}
	return nil
}

func (r *GormRepo) SaveMember(ctx context.Context, m *models.Member) error {
	if err := r.DB.WithContext(ctx).Save(m).Error; err != nil {
		return fmt.Errorf("save member: %w", err)
	}
	return nil
}

// WithdrawMember clears the member's sessions and soft deletes it. A member
// that is already deleted is left untouched.
func (r *GormRepo) WithdrawMember(ctx context.Context, id uint) error {
	return r.Transaction(ctx, func(tx *GormRepo) error {
		m, err := tx.FindMemberByID(ctx, id)
		if err != nil {
			return err
		}
		if m.Deleted {
			return nil
		}
		if err := tx.DeleteSessions(ctx, id); err != nil {
			return err
		}
		m.MarkDeleted(tx.now())
		return tx.SaveMember(ctx, m)
	})
}
