package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"gorm.io/gorm"

	"github.com/Skotchmaster/member_auth/internal/events"
	"github.com/Skotchmaster/member_auth/internal/hash"
	"github.com/Skotchmaster/member_auth/internal/logging"
	"github.com/Skotchmaster/member_auth/internal/metrics"
	"github.com/Skotchmaster/member_auth/internal/models"
	"github.com/Skotchmaster/member_auth/internal/oauth"
	"github.com/Skotchmaster/member_auth/internal/repo"
	"github.com/Skotchmaster/member_auth/internal/tokens"
)

type MemberService struct {
	Repo    *repo.GormRepo
	Codec   *tokens.Codec
	Social  *oauth.Normalizer
	Events  events.Publisher
	Metrics *metrics.Collector

	// zero means bcrypt.DefaultCost
	BcryptCost int
}

type SignupInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (in SignupInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required, validation.Length(3, 100), is.Email),
		validation.Field(&in.Password, validation.Required, validation.Length(8, 64)),
		validation.Field(&in.Name, validation.Required, validation.RuneLength(1, 50)),
	)
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (in LoginInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required),
		validation.Field(&in.Password, validation.Required),
	)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *MemberService) Signup(ctx context.Context, in SignupInput) (*models.Member, error) {
	l := logging.FromContext(ctx).With("svc", "member.signup")

	in.Email = normalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if err := in.Validate(); err != nil {
		l.Warn("signup_failed", "status", 400, "reason", "validation", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	exists, err := s.Repo.LiveEmailExists(ctx, in.Email)
	if err != nil {
		l.Error("signup_failed", "status", 500, "reason", "db_error", "error", err)
		return nil, err
	}
	if exists {
		l.Warn("signup_failed", "status", 409, "reason", "email_exists")
		return nil, ErrDuplicateEmail
	}

	pwHash, err := s.hashPassword(in.Password)
	if err != nil {
		l.Error("signup_failed", "status", 500, "reason", "cannot hash the password", "error", err)
		return nil, err
	}

	m := &models.Member{
		Email:    in.Email,
		Password: &pwHash,
		Name:     in.Name,
		Role:     models.RoleUser,
	}
	if err := s.Repo.CreateMember(ctx, m); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			l.Warn("signup_failed", "status", 409, "reason", "email_exists")
			return nil, ErrDuplicateEmail
		}
		l.Error("signup_failed", "status", 500, "reason", "db_error", "error", err)
		return nil, err
	}

	l.Info("signup_successful", "member_id", m.ID)
	s.publish(ctx, events.Event{Type: events.MemberSignedUp, MemberID: m.ID, Email: m.Email})
	return m, nil
}

func (s *MemberService) hashPassword(pw string) (string, error) {
	if s.BcryptCost > 0 {
		return hash.HashPasswordCost(pw, s.BcryptCost)
	}
	return hash.HashPassword(pw)
}

// Login never says which of email or password was wrong.
func (s *MemberService) Login(ctx context.Context, in LoginInput) (*models.Member, tokens.Pair, error) {
	in.Email = normalizeEmail(in.Email)
	l := logging.FromContext(ctx).With("svc", "member.login")

	if err := in.Validate(); err != nil {
		l.Warn("login_failed", "status", 400, "reason", "validation", "error", err)
		return nil, tokens.Pair{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	m, err := s.Repo.FindLiveMemberByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, repo.ErrMemberNotFound) {
			s.Metrics.RecordLogin(false)
			l.Warn("login_failed", "status", 401, "reason", "unknown_email")
			return nil, tokens.Pair{}, ErrBadCredentials
		}
		l.Error("login_failed", "status", 500, "reason", "db_error", "error", err)
		return nil, tokens.Pair{}, err
	}

	if m.SocialOnly() || !hash.CheckPassword(*m.Password, in.Password) {
		s.Metrics.RecordLogin(false)
		l.Warn("login_failed", "status", 401, "reason", "password_mismatch", "member_id", m.ID)
		return nil, tokens.Pair{}, ErrBadCredentials
	}

	pair, err := s.Codec.IssuePair(ctx, m.ID, m.Email, string(m.Role))
	if err != nil {
		l.Error("login_failed", "status", 500, "reason", "token_issue", "error", err)
		return nil, tokens.Pair{}, err
	}

	s.Metrics.RecordLogin(true)
	l.Info("login_successful", "member_id", m.ID)
	s.publish(ctx, events.Event{Type: events.MemberLoggedIn, MemberID: m.ID, Email: m.Email})
	return m, pair, nil
}

// Reissue trades a live refresh token for a new pair. The presented token
// must verify, be a refresh token, and still be the member's live session.
func (s *MemberService) Reissue(ctx context.Context, refresh string) (*models.Member, tokens.Pair, error) {
	l := logging.FromContext(ctx).With("svc", "member.reissue")

	m, pair, err := s.reissue(ctx, refresh)
	if err != nil {
		s.Metrics.RecordReissue(false)
		if IsAuthFailure(err) {
			l.Warn("reissue_failed", "status", 401, "reason", err.Error(), "token", tokens.Redact(refresh))
		} else {
			l.Error("reissue_failed", "status", 500, "reason", "db_error", "error", err, "token", tokens.Redact(refresh))
		}
		return nil, tokens.Pair{}, err
	}
	s.Metrics.RecordReissue(true)
	l.Info("reissue_successful", "member_id", m.ID)
	return m, pair, nil
}

func (s *MemberService) reissue(ctx context.Context, refresh string) (*models.Member, tokens.Pair, error) {
	claims, ok := s.Codec.Parse(ctx, refresh)
	if !ok || claims.Type != tokens.KindRefresh {
		return nil, tokens.Pair{}, ErrInvalidRefreshToken
	}
	memberID, err := claims.MemberID()
	if err != nil {
		return nil, tokens.Pair{}, ErrInvalidRefreshToken
	}

	sess, err := s.Repo.FindSessionByToken(ctx, refresh)
	if err != nil {
		if errors.Is(err, repo.ErrSessionNotFound) {
			return nil, tokens.Pair{}, repo.ErrSessionMismatch
		}
		return nil, tokens.Pair{}, err
	}
	if sess.MemberID != memberID {
		return nil, tokens.Pair{}, repo.ErrSessionMismatch
	}
	if s.Repo.IsExpired(sess) {
		return nil, tokens.Pair{}, ErrSessionExpired
	}

	m, err := s.Repo.FindLiveMemberByID(ctx, memberID)
	if err != nil {
		return nil, tokens.Pair{}, err
	}

	pair, err := s.Codec.RotatePair(ctx, m.ID, m.Email, string(m.Role), refresh)
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrSessionMismatch):
			return nil, tokens.Pair{}, repo.ErrSessionMismatch
		case errors.Is(err, repo.ErrMemberNotFound):
			return nil, tokens.Pair{}, repo.ErrMemberNotFound
		}
		return nil, tokens.Pair{}, err
	}
	return m, pair, nil
}

func (s *MemberService) Me(ctx context.Context, memberID uint) (*models.Member, error) {
	return s.Repo.FindLiveMemberByID(ctx, memberID)
}

// Withdraw soft deletes the member and drops its session. Withdrawing twice
// is not an error.
func (s *MemberService) Withdraw(ctx context.Context, memberID uint) error {
	l := logging.FromContext(ctx).With("svc", "member.withdraw", "member_id", memberID)

	if err := s.Repo.WithdrawMember(ctx, memberID); err != nil {
		if errors.Is(err, repo.ErrMemberNotFound) {
			l.Warn("withdraw_failed", "status", 404, "reason", "member_not_found")
		} else {
			l.Error("withdraw_failed", "status", 500, "reason", "db_error", "error", err)
		}
		return err
	}

	l.Info("withdraw_successful")
	s.publish(ctx, events.Event{Type: events.MemberWithdrawn, MemberID: memberID})
	return nil
}

func (s *MemberService) Logout(ctx context.Context, memberID uint) error {
	if err := s.Repo.DeleteSessions(ctx, memberID); err != nil {
		logging.FromContext(ctx).Error("logout_failed", "status", 500, "member_id", memberID, "error", err)
		return err
	}
	logging.FromContext(ctx).Info("successful_logout", "member_id", memberID)
	return nil
}

// SocialLogin signs in through an external provider, creating the member on
// first use.
func (s *MemberService) SocialLogin(ctx context.Context, tag string, attrs map[string]any) (*models.Member, tokens.Pair, error) {
	l := logging.FromContext(ctx).With("svc", "member.social_login", "provider", tag)

	id, err := oauth.Normalize(tag, attrs)
	if err != nil {
		s.Metrics.RecordSocialLogin(tag, false)
		l.Warn("social_login_failed", "status", 401, "reason", err.Error())
		return nil, tokens.Pair{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	m, err := s.Social.Upsert(ctx, id)
	if err != nil {
		s.Metrics.RecordSocialLogin(tag, false)
		switch {
		case errors.Is(err, oauth.ErrEmailTaken):
			l.Warn("social_login_failed", "status", 409, "reason", "email_taken")
			return nil, tokens.Pair{}, fmt.Errorf("%w: %v", ErrDuplicateEmail, err)
		case errors.Is(err, oauth.ErrMissingEmail), errors.Is(err, oauth.ErrMissingSubject):
			l.Warn("social_login_failed", "status", 401, "reason", err.Error())
			return nil, tokens.Pair{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
		}
		l.Error("social_login_failed", "status", 500, "reason", "db_error", "error", err)
		return nil, tokens.Pair{}, err
	}

	pair, err := s.Codec.IssuePair(ctx, m.ID, m.Email, string(m.Role))
	if err != nil {
		s.Metrics.RecordSocialLogin(tag, false)
		l.Error("social_login_failed", "status", 500, "reason", "token_issue", "error", err)
		return nil, tokens.Pair{}, err
	}

	s.Metrics.RecordSocialLogin(string(id.Provider), true)
	l.Info("social_login_successful", "member_id", m.ID)
	s.publish(ctx, events.Event{Type: events.MemberSocialLogin, MemberID: m.ID, Email: m.Email, Provider: string(id.Provider)})
	return m, pair, nil
}

func (s *MemberService) publish(ctx context.Context, ev events.Event) {
	if s.Events == nil {
		return
	}
	ev.At = time.Now().UTC()
	if err := s.Events.Publish(ctx, ev); err != nil {
		logging.FromContext(ctx).Error("event_publish_failed", "type", ev.Type, "member_id", ev.MemberID, "error", err)
	}
}
