package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/shivam349/codex1/internal/apperr"
	"github.com/shivam349/codex1/internal/notify"
	"github.com/shivam349/codex1/internal/users"
)

// Settings are the account flow parameters taken from configuration.
type Settings struct {
	TokenTTL        time.Duration
	VerificationTTL time.Duration
	FrontendURL     string
}

// Session is an account together with a freshly issued bearer token.
type Session struct {
	User  users.User
	Token string
}

// Service runs the account flows on top of the users store and a Gate.
type Service struct {
	users    *users.Store
	gate     Gate
	notifier notify.Notifier
	log      logrus.FieldLogger
	settings Settings
	nowFunc  func() time.Time
	newID    func() string
	newToken func() string
}

func NewService(store *users.Store, gate Gate, notifier notify.Notifier, settings Settings, log logrus.FieldLogger) *Service {
	return &Service{
		users:    store,
		gate:     gate,
		notifier: notifier,
		log:      log,
		settings: settings,
		nowFunc:  time.Now,
		newID:    uuid.NewString,
		newToken: randomToken,
	}
}

// randomToken returns 32 random bytes, hex encoded.
func randomToken() string {
	var b [32]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

var (
	errInvalidCredentials = apperr.Unauthenticated("Invalid email or password")
	errInvalidToken       = apperr.Validation("Invalid or expired verification token")
)

// dummyHash is compared against when the email is unknown, so both login
// failures take the same time.
var (
	dummyOnce sync.Once
	dummyHash string
)

func burnPasswordCheck(password string) {
	dummyOnce.Do(func() {
		dummyHash, _ = HashPassword("makhana-placeholder-password")
	})
	MatchPassword(password, dummyHash)
}

func localPart(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}

func validEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\r\n")
}

func (s *Service) verifyURL(token string) string {
	base := strings.TrimRight(s.settings.FrontendURL, "/")
	return base + "/verify-email?token=" + url.QueryEscape(token)
}

func (s *Service) session(u *users.User) (*Session, error) {
	tok, err := s.gate.IssueToken(u.ID, s.settings.TokenTTL)
	if err != nil {
		return nil, err
	}
	return &Session{User: *u, Token: tok}, nil
}

func (s *Service) sendVerification(ctx context.Context, u users.User, token string) error {
	return s.notifier.SendVerification(ctx, notify.VerificationMessage{
		Email:     u.Email,
		Name:      u.Name,
		Token:     token,
		VerifyURL: s.verifyURL(token),
	})
}

// Register creates an unverified customer account and sends a verification
// e-mail. A failed send is logged; the account is still created.
func (s *Service) Register(ctx context.Context, email, password, name string) (*users.User, error) {
	email = users.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperr.Validation("Please provide email and password")
	}
	if !validEmail(email) {
		return nil, apperr.Validation("Please provide a valid email")
	}
	if len(password) < MinPasswordLength {
		return nil, apperr.Newf(apperr.KindValidation, "Password must be at least %d characters", MinPasswordLength)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = localPart(email)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	now := s.nowFunc().UTC()
	token := s.newToken()
	u := users.User{
		ID:                s.newID(),
		Email:             email,
		PasswordHash:      hash,
		Name:              name,
		IsUser:            true,
		VerificationToken: token,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	v := users.NewVerification(token, u.ID, now, s.settings.VerificationTTL)
	if err := s.users.Create(ctx, u, &v); err != nil {
		return nil, err
	}

	if err := s.sendVerification(ctx, u, token); err != nil {
		s.log.WithError(err).WithField("user_id", u.ID).Warn("verification e-mail not sent; user can request a resend")
	}
	return &u, nil
}

// VerifyEmail consumes a verification token and signs the user in.
func (s *Service) VerifyEmail(ctx context.Context, token string) (*Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperr.Validation("Verification token is required")
	}
	v, err := s.users.GetVerification(ctx, token)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, errInvalidToken
		}
		return nil, err
	}
	now := s.nowFunc().UTC()
	if v.Expired(now) {
		if err := s.users.DeleteVerification(ctx, token); err != nil {
			s.log.WithError(err).Warn("failed to delete expired verification token")
		}
		return nil, errInvalidToken
	}

	u, err := s.users.Get(ctx, v.UserID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, errInvalidToken
		}
		return nil, err
	}
	u.EmailVerified = true
	u.EmailVerifiedAt = &now
	u.VerificationToken = ""
	u.UpdatedAt = now
	if err := s.users.ConsumeVerification(ctx, token, *u); err != nil {
		return nil, err
	}
	return s.session(u)
}

// ResendVerification issues a new token for an unverified account and revokes the old one.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if u.EmailVerified {
		return apperr.Validation("Email already verified")
	}

	now := s.nowFunc().UTC()
	old := u.VerificationToken
	token := s.newToken()
	u.VerificationToken = token
	u.UpdatedAt = now
	if err := s.users.ReplaceVerification(ctx, *u, old, users.NewVerification(token, u.ID, now, s.settings.VerificationTTL)); err != nil {
		return err
	}
	if err := s.sendVerification(ctx, *u, token); err != nil {
		return fmt.Errorf("send verification: %w", err)
	}
	return nil
}

// OAuthProfile is what an external identity provider vouches for.
type OAuthProfile struct {
	ProviderID string
	Email      string
	Name       string
	Avatar     string
}

// UpsertOAuthIdentity finds the account by provider id, then by email, and
// creates it when neither exists. Provider e-mails count as verified. Name and
// avatar are only filled in when the account has none.
func (s *Service) UpsertOAuthIdentity(ctx context.Context, p OAuthProfile) (*Session, error) {
	p.ProviderID = strings.TrimSpace(p.ProviderID)
	p.Email = users.NormalizeEmail(p.Email)
	if p.ProviderID == "" || p.Email == "" {
		return nil, apperr.Validation("Provider id and email are required")
	}
	now := s.nowFunc().UTC()

	u, err := s.users.GetByProvider(ctx, p.ProviderID)
	switch {
	case err == nil:
		if backfill(u, p, now) {
			if err := s.users.Save(ctx, *u); err != nil {
				return nil, err
			}
		}
		return s.session(u)
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, err
	}

	u, err = s.users.GetByEmail(ctx, p.Email)
	switch {
	case err == nil:
		u.ProviderID = p.ProviderID
		backfill(u, p, now)
		u.UpdatedAt = now
		if err := s.users.LinkProvider(ctx, *u); err != nil {
			return nil, err
		}
		return s.session(u)
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, err
	}

	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = localPart(p.Email)
	}
	created := users.User{
		ID:              s.newID(),
		Email:           p.Email,
		Name:            name,
		Avatar:          p.Avatar,
		ProviderID:      p.ProviderID,
		IsUser:          true,
		EmailVerified:   true,
		EmailVerifiedAt: &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.users.Create(ctx, created, nil); err != nil {
		return nil, err
	}
	return s.session(&created)
}

// backfill marks the e-mail verified and fills empty profile fields. It
// reports whether anything changed.
func backfill(u *users.User, p OAuthProfile, now time.Time) bool {
	changed := false
	if !u.EmailVerified {
		u.EmailVerified = true
		u.EmailVerifiedAt = &now
		changed = true
	}
	if u.Name == "" && strings.TrimSpace(p.Name) != "" {
		u.Name = strings.TrimSpace(p.Name)
		changed = true
	}
	if u.Avatar == "" && p.Avatar != "" {
		u.Avatar = p.Avatar
		changed = true
	}
	if changed {
		u.UpdatedAt = now
	}
	return changed
}

func (s *Service) authenticate(ctx context.Context, email, password string) (*users.User, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, apperr.Validation("Please provide email and password")
	}
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			burnPasswordCheck(password)
			return nil, errInvalidCredentials
		}
		return nil, err
	}
	if !MatchPassword(password, u.PasswordHash) {
		return nil, errInvalidCredentials
	}
	return u, nil
}

// Login signs in an administrator. A valid non-admin account gets Forbidden.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if !u.IsAdmin {
		return nil, apperr.Forbidden("Not authorized as admin")
	}
	return s.session(u)
}

// UserLogin signs in any account with a password.
func (s *Service) UserLogin(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return s.session(u)
}

// Me returns the account behind a verified principal.
func (s *Service) Me(ctx context.Context, p Principal) (*users.User, error) {
	return s.users.Get(ctx, p.UserID)
}

// CreateAdmin creates an administrator, or promotes an existing account. An
// existing password is only replaced when resetPassword is set. It reports
// whether a new account was created.
func (s *Service) CreateAdmin(ctx context.Context, email, password string, resetPassword bool) (bool, error) {
	email = users.NormalizeEmail(email)
	if !validEmail(email) {
		return false, apperr.Validation("Please provide a valid email")
	}
	if len(password) < MinPasswordLength {
		return false, apperr.Newf(apperr.KindValidation, "Password must be at least %d characters", MinPasswordLength)
	}
	now := s.nowFunc().UTC()

	existing, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		changed := false
		if !existing.IsAdmin {
			existing.IsAdmin = true
			changed = true
		}
		if resetPassword || existing.PasswordHash == "" {
			hash, err := HashPassword(password)
			if err != nil {
				return false, err
			}
			existing.PasswordHash = hash
			changed = true
		}
		if !existing.EmailVerified {
			existing.EmailVerified = true
			existing.EmailVerifiedAt = &now
			changed = true
		}
		if !changed {
			return false, nil
		}
		existing.UpdatedAt = now
		return false, s.users.Save(ctx, *existing)
	case !errors.Is(err, apperr.ErrNotFound):
		return false, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return false, err
	}
	admin := users.User{
		ID:              s.newID(),
		Email:           email,
		PasswordHash:    hash,
		Name:            "Admin",
		IsAdmin:         true,
		EmailVerified:   true,
		EmailVerifiedAt: &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.users.Create(ctx, admin, nil); err != nil {
		return false, err
	}
	s.log.WithField("email", email).Info("admin account created")
	return true, nil
}
