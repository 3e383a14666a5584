package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/shivam349/codex1/internal/apperr"
	"github.com/shivam349/codex1/internal/dynamotest"
	"github.com/shivam349/codex1/internal/notify"
	"github.com/shivam349/codex1/internal/users"
)

type captureNotifier struct {
	mu   sync.Mutex
	sent []notify.VerificationMessage
	err  error
}

func (c *captureNotifier) SendVerification(ctx context.Context, msg notify.VerificationMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *captureNotifier) last(t *testing.T) notify.VerificationMessage {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		t.Fatalf("no verification message sent")
	}
	return c.sent[len(c.sent)-1]
}

type fixture struct {
	svc      *Service
	gate     *JWTGate
	store    *users.Store
	notifier *captureNotifier
	hook     *test.Hook
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := users.NewStore(dynamotest.New().CreateTable("users", "pk"), "users")
	gate := NewJWTGate(testSecret, store)
	n := &captureNotifier{}
	log, hook := test.NewNullLogger()
	f := &fixture{gate: gate, store: store, notifier: n, hook: hook, now: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}

	f.svc = NewService(store, gate, n, Settings{
		TokenTTL:        720 * time.Hour,
		VerificationTTL: 24 * time.Hour,
		FrontendURL:     "https://shop.example/",
	}, log)
	f.svc.nowFunc = func() time.Time { return f.now }
	var seq int
	f.svc.newToken = func() string {
		seq++
		return fmt.Sprintf("token-%d", seq)
	}
	return f
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.Register(ctx, " Priya@Example.com ", "secret1", "")
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if u.Email != "priya@example.com" || u.Name != "priya" || !u.IsUser || u.IsAdmin || u.EmailVerified {
		t.Fatalf("unexpected user %+v", u)
	}
	if u.PasswordHash == "" || u.PasswordHash == "secret1" {
		t.Fatalf("password not hashed")
	}

	msg := f.notifier.last(t)
	if msg.Email != "priya@example.com" || msg.Token != "token-1" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.VerifyURL != "https://shop.example/verify-email?token=token-1" {
		t.Fatalf("unexpected verify url %q", msg.VerifyURL)
	}

	if _, err := f.svc.Register(ctx, "PRIYA@example.com", "another1", "P"); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict on duplicate email, got %v", err)
	}
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := map[string][2]string{
		"missing email":  {"", "secret1"},
		"missing pass":   {"a@example.com", ""},
		"short password": {"a@example.com", "12345"},
		"bad email":      {"not-an-email", "secret1"},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := f.svc.Register(ctx, c[0], c[1], ""); !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestRegister_NotifierFailureIsLogged(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("queue down")

	u, err := f.svc.Register(context.Background(), "a@example.com", "secret1", "A")
	if err != nil {
		t.Fatalf("registration must succeed when the e-mail fails: %v", err)
	}
	if _, err := f.store.Get(context.Background(), u.ID); err != nil {
		t.Fatalf("user not stored: %v", err)
	}
	entry := f.hook.LastEntry()
	if entry == nil || entry.Level != logrus.WarnLevel {
		t.Fatalf("expected a warning, got %+v", entry)
	}
}

func TestVerifyEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, _ := f.svc.Register(ctx, "a@example.com", "secret1", "A")

	sess, err := f.svc.VerifyEmail(ctx, "token-1")
	if err != nil {
		t.Fatalf("VerifyEmail error: %v", err)
	}
	if !sess.User.EmailVerified || sess.User.EmailVerifiedAt == nil || sess.User.VerificationToken != "" {
		t.Fatalf("user not verified: %+v", sess.User)
	}
	p, err := f.gate.Verify(ctx, sess.Token)
	if err != nil || p.UserID != u.ID {
		t.Fatalf("session token invalid: %v %+v", err, p)
	}

	if _, err := f.svc.VerifyEmail(ctx, "token-1"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("token must be single use, got %v", err)
	}
	if _, err := f.svc.VerifyEmail(ctx, "never-issued"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestVerifyEmail_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.svc.Register(ctx, "a@example.com", "secret1", "A")

	f.now = f.now.Add(25 * time.Hour)
	_, err := f.svc.VerifyEmail(ctx, "token-1")
	if !errors.Is(err, apperr.ErrValidation) || apperr.MessageOf(err) != "Invalid or expired verification token" {
		t.Fatalf("expected expired token error, got %v", err)
	}
	stored, _ := f.store.GetByEmail(ctx, "a@example.com")
	if stored.EmailVerified {
		t.Fatalf("expired token must not verify")
	}
}

func TestResendVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.svc.Register(ctx, "a@example.com", "secret1", "A")

	if err := f.svc.ResendVerification(ctx, "A@example.com"); err != nil {
		t.Fatalf("ResendVerification error: %v", err)
	}
	if msg := f.notifier.last(t); msg.Token != "token-2" {
		t.Fatalf("expected a fresh token, got %q", msg.Token)
	}
	if _, err := f.svc.VerifyEmail(ctx, "token-1"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("old token should be revoked, got %v", err)
	}
	if _, err := f.svc.VerifyEmail(ctx, "token-2"); err != nil {
		t.Fatalf("new token should verify: %v", err)
	}

	if err := f.svc.ResendVerification(ctx, "a@example.com"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for verified account, got %v", err)
	}
	if err := f.svc.ResendVerification(ctx, "ghost@example.com"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpsertOAuthIdentity_CreatesAndReuses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	profile := OAuthProfile{ProviderID: "google-42", Email: "G@Example.com", Name: "Gita", Avatar: "http://img/g.png"}

	first, err := f.svc.UpsertOAuthIdentity(ctx, profile)
	if err != nil {
		t.Fatalf("UpsertOAuthIdentity error: %v", err)
	}
	if !first.User.EmailVerified || first.User.Email != "g@example.com" || first.User.PasswordHash != "" {
		t.Fatalf("unexpected oauth user %+v", first.User)
	}

	profile.Name = "Someone Else"
	second, err := f.svc.UpsertOAuthIdentity(ctx, profile)
	if err != nil {
		t.Fatalf("second upsert error: %v", err)
	}
	if second.User.ID != first.User.ID || second.User.Name != "Gita" {
		t.Fatalf("expected same account with original name, got %+v", second.User)
	}

	if _, err := f.svc.UserLogin(ctx, "g@example.com", ""); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for empty password, got %v", err)
	}
	if _, err := f.svc.UserLogin(ctx, "g@example.com", "anything"); !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Fatalf("oauth-only account must not password-login, got %v", err)
	}
}

func TestUpsertOAuthIdentity_LinksExistingEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg, _ := f.svc.Register(ctx, "a@example.com", "secret1", "Asha")

	sess, err := f.svc.UpsertOAuthIdentity(ctx, OAuthProfile{ProviderID: "google-7", Email: "a@example.com", Name: "Provider Name", Avatar: "http://img/a.png"})
	if err != nil {
		t.Fatalf("UpsertOAuthIdentity error: %v", err)
	}
	if sess.User.ID != reg.ID {
		t.Fatalf("expected existing account to be linked")
	}
	if sess.User.Name != "Asha" {
		t.Fatalf("user-supplied name overwritten: %q", sess.User.Name)
	}
	if sess.User.Avatar != "http://img/a.png" || !sess.User.EmailVerified {
		t.Fatalf("expected avatar backfill and verification: %+v", sess.User)
	}
	byProvider, err := f.store.GetByProvider(ctx, "google-7")
	if err != nil || byProvider.ID != reg.ID {
		t.Fatalf("provider link missing: %v", err)
	}
	if _, err := f.svc.UserLogin(ctx, "a@example.com", "secret1"); err != nil {
		t.Fatalf("password login should still work: %v", err)
	}
}

func TestUpsertOAuthIdentity_Validation(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.UpsertOAuthIdentity(context.Background(), OAuthProfile{Email: "a@example.com"}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLogin_AdminAndCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.CreateAdmin(ctx, "admin@example.com", "adminpass", false); err != nil {
		t.Fatalf("CreateAdmin error: %v", err)
	}
	_, _ = f.svc.Register(ctx, "c@example.com", "secret1", "C")

	sess, err := f.svc.Login(ctx, "ADMIN@example.com", "adminpass")
	if err != nil {
		t.Fatalf("admin Login error: %v", err)
	}
	if p, err := f.gate.RequireAdmin(ctx, sess.Token); err != nil || !p.IsAdmin {
		t.Fatalf("admin token rejected: %v", err)
	}

	if _, err := f.svc.Login(ctx, "c@example.com", "secret1"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden for customer on admin login, got %v", err)
	}
	if _, err := f.svc.UserLogin(ctx, "c@example.com", "secret1"); err != nil {
		t.Fatalf("customer UserLogin error: %v", err)
	}
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.svc.Register(ctx, "c@example.com", "secret1", "C")

	_, wrongPass := f.svc.UserLogin(ctx, "c@example.com", "nope-nope")
	_, noUser := f.svc.UserLogin(ctx, "ghost@example.com", "nope-nope")
	if wrongPass == nil || noUser == nil {
		t.Fatalf("expected both logins to fail")
	}
	if wrongPass.Error() != noUser.Error() || apperr.KindOf(wrongPass) != apperr.KindUnauthenticated {
		t.Fatalf("login failures differ: %q vs %q", wrongPass, noUser)
	}

	_, adminWrong := f.svc.Login(ctx, "c@example.com", "nope-nope")
	_, adminNoUser := f.svc.Login(ctx, "ghost@example.com", "nope-nope")
	if adminWrong.Error() != adminNoUser.Error() {
		t.Fatalf("admin login failures differ: %q vs %q", adminWrong, adminNoUser)
	}
}

func TestMe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, _ := f.svc.Register(ctx, "a@example.com", "secret1", "A")
	got, err := f.svc.Me(ctx, Principal{UserID: u.ID})
	if err != nil || got.Email != "a@example.com" {
		t.Fatalf("Me: %v %+v", err, got)
	}
}

func TestCreateAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.CreateAdmin(ctx, "admin@example.com", "first-pass", false)
	if err != nil || !created {
		t.Fatalf("CreateAdmin: created=%v err=%v", created, err)
	}
	created, err = f.svc.CreateAdmin(ctx, "admin@example.com", "second-pass", false)
	if err != nil || created {
		t.Fatalf("second CreateAdmin: created=%v err=%v", created, err)
	}
	if _, err := f.svc.Login(ctx, "admin@example.com", "first-pass"); err != nil {
		t.Fatalf("password must be kept without reset: %v", err)
	}

	if _, err := f.svc.CreateAdmin(ctx, "admin@example.com", "second-pass", true); err != nil {
		t.Fatalf("reset CreateAdmin error: %v", err)
	}
	if _, err := f.svc.Login(ctx, "admin@example.com", "second-pass"); err != nil {
		t.Fatalf("password not reset: %v", err)
	}

	_, _ = f.svc.Register(ctx, "promote@example.com", "secret1", "P")
	if _, err := f.svc.CreateAdmin(ctx, "promote@example.com", "ignored1", false); err != nil {
		t.Fatalf("promote error: %v", err)
	}
	if _, err := f.svc.Login(ctx, "promote@example.com", "secret1"); err != nil {
		t.Fatalf("promoted account should log in as admin: %v", err)
	}

	if _, err := f.svc.CreateAdmin(ctx, "bad", "secret1", false); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = f.svc.CreateAdmin(ctx, "x@example.com", "123", false)
	if !strings.Contains(apperr.MessageOf(err), "at least") {
		t.Fatalf("expected password length message, got %v", err)
	}
}
