package models

import (
	"time"
)

type Role string

const (
	RoleUser  Role = "ROLE_USER"
	RoleAdmin Role = "ROLE_ADMIN"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// SocialPasswordSentinel marks members that can only log in through an external provider.
const SocialPasswordSentinel = "OAUTH_USER"

type Member struct {
	ID        uint       `gorm:"primaryKey;autoIncrement"                                         json:"id"`
	Email     string     `gorm:"size:100;not null;uniqueIndex:idx_members_email_live,where:deleted = false" json:"email"`
	Password  *string    `gorm:"size:255"                                                         json:"-"`
	OAuthID   *string    `gorm:"column:oauth_id;size:100;uniqueIndex:idx_members_oauth_live,where:deleted = false" json:"oauth_id,omitempty"`
	Name      string     `gorm:"size:50;not null"                                                 json:"name"`
	Role      Role       `gorm:"size:20;not null"                                                  json:"role"`
	Deleted   bool       `gorm:"not null;default:false;index"                                     json:"-"`
	DeletedAt *time.Time `json:"-"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"-"`
}

func (m *Member) SocialOnly() bool {
	return m.Password == nil || *m.Password == SocialPasswordSentinel
}

func (m *Member) MarkDeleted(now time.Time) {
	m.Deleted = true
	m.DeletedAt = &now
}

// RefreshToken is the single live refresh session of a member. Token holds
// the sha256 hex of the signed refresh token, never the token itself.
type RefreshToken struct {
	ID         uint      `gorm:"primaryKey"             json:"id"`
	Token      string    `gorm:"size:64;unique;not null" json:"-"`
	MemberID   uint      `gorm:"index;not null"         json:"member_id"`
	ExpiresAt  time.Time `gorm:"not null;index"         json:"expires_at"`
	DeviceInfo *string   `gorm:"size:255"               json:"device_info,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
