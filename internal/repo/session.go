package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Skotchmaster/member_auth/internal/models"
)

// Rotate replaces every session of the member with a single new one.
func (r *GormRepo) Rotate(ctx context.Context, memberID uint, token string, expiresAt time.Time, deviceInfo *string) error {
	return r.rotate(ctx, memberID, "", token, expiresAt, deviceInfo)
}

// RotateFrom is Rotate guarded by the previous refresh token: when that token
// is no longer the live session the call fails with ErrSessionMismatch and
// nothing is written.
func (r *GormRepo) RotateFrom(ctx context.Context, memberID uint, previous, token string, expiresAt time.Time, deviceInfo *string) error {
	if previous == "" {
		return ErrSessionMismatch
	}
	return r.rotate(ctx, memberID, previous, token, expiresAt, deviceInfo)
}

func (r *GormRepo) rotate(ctx context.Context, memberID uint, previous, token string, expiresAt time.Time, deviceInfo *string) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockMember(tx, memberID); err != nil {
			return err
		}

		if previous != "" {
			res := tx.Where("member_id = ? AND token = ?", memberID, HashToken(previous)).
				Delete(&models.RefreshToken{})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrSessionMismatch
			}
		}

		if err := tx.Where("member_id = ?", memberID).Delete(&models.RefreshToken{}).Error; err != nil {
			return err
		}

		return tx.Create(&models.RefreshToken{
			Token:      HashToken(token),
			MemberID:   memberID,
			ExpiresAt:  expiresAt.UTC(),
			DeviceInfo: deviceInfo,
		}).Error
	})
}

// lockMember serializes rotations of one member. sqlite has no row locks but
// only ever runs one writer.
func lockMember(tx *gorm.DB, memberID uint) error {
	q := tx.Model(&models.Member{}).Select("id")
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var m models.Member
	if err := q.Where("id = ?", memberID).First(&m).Error; err != nil {
		return notFound(err, ErrMemberNotFound)
	}
	return nil
}

func (r *GormRepo) FindSessionByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	var s models.RefreshToken
	if err := r.DB.WithContext(ctx).Where("token = ?", HashToken(token)).First(&s).Error; err != nil {
		return nil, notFound(err, ErrSessionNotFound)
	}
	return &s, nil
}

func (r *GormRepo) DeleteSessions(ctx context.Context, memberID uint) error {
	return r.DB.WithContext(ctx).Where("member_id = ?", memberID).Delete(&models.RefreshToken{}).Error
}

func (r *GormRepo) IsExpired(s *models.RefreshToken) bool {
	return s.ExpiresAt.Before(r.now())
}

func (r *GormRepo) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	res := r.DB.WithContext(ctx).Where("expires_at < ?", before.UTC()).Delete(&models.RefreshToken{})
	return res.RowsAffected, res.Error
}
