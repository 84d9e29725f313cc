// Package lifecycle sequences registration, email verification, account
// provisioning and OTP login.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/brokerdesk/internal/apperr"
	"github.com/dukerupert/brokerdesk/internal/model"
	"github.com/dukerupert/brokerdesk/internal/platform"
	"github.com/dukerupert/brokerdesk/internal/store"
	"github.com/dukerupert/brokerdesk/internal/token"
)

// Provisioner creates trading accounts on the platform.
type Provisioner interface {
	CreateAccount(ctx context.Context, kind platform.Kind, email, password string) (string, error)
	SeedDemoBalance(ctx context.Context, login string, amount decimal.Decimal) error
}

// Mailer delivers the lifecycle notification emails.
type Mailer interface {
	SendVerification(ctx context.Context, toEmail, link string) error
	SendOTP(ctx context.Context, toEmail, code string) error
	SendAccounts(ctx context.Context, toEmail, demoLogin, realLogin string) error
}

type Config struct {
	// BaseURL is used for verification links when the request has no Origin.
	BaseURL            string
	DemoInitialBalance decimal.Decimal
	BcryptCost         int
}

type Service struct {
	signups     *store.SignupStore
	provisioner Provisioner
	mailer      Mailer
	cfg         Config
	logger      *slog.Logger
	now         func() time.Time
}

func NewService(signups *store.SignupStore, provisioner Provisioner, mailer Mailer, cfg Config, logger *slog.Logger) *Service {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 10
	}
	if cfg.DemoInitialBalance.IsZero() {
		cfg.DemoInitialBalance = decimal.NewFromInt(10000)
	}
	return &Service{
		signups:     signups,
		provisioner: provisioner,
		mailer:      mailer,
		cfg:         cfg,
		logger:      logger.With("component", "lifecycle"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the service clock. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Register creates or restarts a pending signup and emails the verification
// link. Verified emails cannot register again; failed ones wait for Requeue.
func (s *Service) Register(ctx context.Context, in RegisterInput) error {
	in.Email = strings.TrimSpace(in.Email)
	if err := in.Validate(); err != nil {
		return apperr.FromValidation(err, "email", "password")
	}

	existing, err := s.signups.GetByEmail(ctx, in.Email)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	if existing != nil {
		switch existing.Status {
		case model.StatusVerified, model.StatusAccountsCreated:
			return apperr.New(apperr.ErrConflict, "Email is already registered.")
		case model.StatusFailed:
			return apperr.New(apperr.ErrConflict, "Account setup failed. Please contact support.")
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	v, err := token.IssueVerificationToken(s.now())
	if err != nil {
		return err
	}

	if _, err := s.signups.UpsertPending(ctx, in.Email, string(hash), v.Token, v.ExpiresAt); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return apperr.New(apperr.ErrConflict, "Email is already registered.")
		}
		return fmt.Errorf("register: %w", err)
	}

	link := s.verificationLink(in.Origin, in.Locale, v.Token, token.EncodePassword(in.Password))
	if err := s.mailer.SendVerification(ctx, in.Email, link); err != nil {
		return fmt.Errorf("send verification email: %w", err)
	}

	s.logger.Info("signup pending", "email", in.Email)
	return nil
}

func (s *Service) verificationLink(origin, locale, tok, pwd string) string {
	if origin == "" {
		origin = s.cfg.BaseURL
	}
	if locale == "" {
		locale = "en"
	}
	link := fmt.Sprintf("%s/%s/verify-email?token=%s", strings.TrimRight(origin, "/"), url.PathEscape(locale), url.QueryEscape(tok))
	if pwd != "" {
		link += "&pwd=" + url.QueryEscape(pwd)
	}
	return link
}

// VerifyResult reports the outcome of a verification link visit.
type VerifyResult struct {
	DemoLogin       string
	AlreadyVerified bool
}

// Verify consumes a verification token, provisions the demo account and
// links it. Visiting an already verified link succeeds without side effects.
func (s *Service) Verify(ctx context.Context, tok, passwordEncoded string) (VerifyResult, error) {
	if tok == "" {
		return VerifyResult{}, apperr.New(apperr.ErrValidation, "Verification token is required.")
	}

	rec, err := s.signups.GetByToken(ctx, tok)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("verify: %w", err)
	}
	switch err := token.ValidateVerification(rec, s.now()); {
	case errors.Is(err, apperr.ErrNotFound):
		return VerifyResult{}, apperr.New(apperr.ErrNotFound, "Invalid verification token.")
	case errors.Is(err, apperr.ErrAlreadyConsumed):
		if rec.Status == model.StatusFailed {
			return VerifyResult{}, apperr.New(apperr.ErrForbidden, "Account setup failed. Please contact support.")
		}
		res := VerifyResult{AlreadyVerified: true}
		if rec.DemoLogin != nil {
			res.DemoLogin = *rec.DemoLogin
		}
		return res, nil
	case err != nil:
		return VerifyResult{}, err
	}

	if passwordEncoded == "" {
		return VerifyResult{}, apperr.New(apperr.ErrValidation, "Password is required for provisioning.")
	}
	password, err := token.DecodePassword(passwordEncoded)
	if err != nil {
		return VerifyResult{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)) != nil {
		return VerifyResult{}, apperr.New(apperr.ErrUnauthorized, "Password does not match registration.")
	}

	demoLogin, err := s.provisioner.CreateAccount(ctx, platform.Demo, rec.Email, password)
	if err != nil {
		s.logger.Error("demo provisioning failed", "email", rec.Email, "error", err)
		if markErr := s.signups.MarkFailed(ctx, rec.ID); markErr != nil {
			s.logger.Error("mark signup failed", "id", rec.ID, "error", markErr)
		}
		return VerifyResult{}, apperr.New(apperr.ErrProvisioning, "Failed to create demo account.")
	}

	if err := s.provisioner.SeedDemoBalance(ctx, demoLogin, s.cfg.DemoInitialBalance); err != nil {
		s.logger.Warn("demo initial deposit failed", "login", demoLogin, "error", err)
	}

	if err := s.signups.MarkVerifiedAndProvisioned(ctx, rec.ID, demoLogin); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			// a concurrent visit of the same link finished first
			s.logger.Warn("verification raced; demo account left unlinked", "email", rec.Email, "login", demoLogin)
			return VerifyResult{}, apperr.New(apperr.ErrConflict, "Email already verified.")
		}
		return VerifyResult{}, fmt.Errorf("verify: %w", err)
	}

	if err := s.mailer.SendAccounts(ctx, rec.Email, demoLogin, ""); err != nil {
		s.logger.Warn("accounts email failed", "email", rec.Email, "error", err)
	}

	s.logger.Info("signup verified", "email", rec.Email, "demo_login", demoLogin)
	return VerifyResult{DemoLogin: demoLogin}, nil
}

// Login checks the password and emails a one-time code. The returned
// challenge carries the code for delivery only; callers persist its hash.
func (s *Service) Login(ctx context.Context, email, password string) (token.Challenge, error) {
	in := loginInput{Email: strings.TrimSpace(email), Password: password}
	if err := in.Validate(); err != nil {
		return token.Challenge{}, apperr.FromValidation(err, "email", "password")
	}

	rec, err := s.signups.GetByEmail(ctx, in.Email)
	if err != nil {
		return token.Challenge{}, fmt.Errorf("login: %w", err)
	}
	if rec == nil {
		return token.Challenge{}, apperr.New(apperr.ErrNotFound, "Account not found.")
	}

	// records linked before verification timestamps existed count as verified
	verified := rec.EmailVerifiedAt != nil || rec.HasAccount()
	if !verified || rec.Status != model.StatusAccountsCreated {
		return token.Challenge{}, apperr.New(apperr.ErrForbidden, "Please verify your email before logging in.")
	}

	if bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(in.Password)) != nil {
		return token.Challenge{}, apperr.New(apperr.ErrUnauthorized, "Invalid email or password.")
	}

	login := rec.PrimaryLogin()
	if login == "" {
		return token.Challenge{}, apperr.New(apperr.ErrValidation, "No MT5 account linked to this email yet.")
	}

	ch, err := token.IssueOTP(s.now())
	if err != nil {
		return token.Challenge{}, err
	}
	ch.Email = rec.Email
	ch.Login = login

	if err := s.mailer.SendOTP(ctx, rec.Email, ch.Code); err != nil {
		return token.Challenge{}, fmt.Errorf("send otp email: %w", err)
	}
	return ch, nil
}

// VerifyOTP checks a submitted code against the outstanding challenge and
// returns the login the session should be bound to.
func (s *Service) VerifyOTP(code string, ch token.Challenge) (string, error) {
	in := otpInput{Code: strings.TrimSpace(code)}
	if err := in.Validate(); err != nil {
		return "", apperr.FromValidation(err, "code")
	}
	if err := token.ValidateOTP(in.Code, ch.Hash, ch.ExpiresAt, s.now()); err != nil {
		return "", err
	}
	return ch.Login, nil
}

// CreateLiveAccount provisions a real account for the record owning
// sessionLogin and links it. The password becomes the trading password and
// must match the portal password.
func (s *Service) CreateLiveAccount(ctx context.Context, sessionLogin, password string) (*model.Signup, error) {
	if password == "" {
		return nil, apperr.New(apperr.ErrValidation, "Password is required.")
	}

	rec, err := s.recordFor(ctx, sessionLogin)
	if err != nil {
		return nil, err
	}
	if rec.RealLogin != nil && *rec.RealLogin != "" {
		return nil, apperr.New(apperr.ErrConflict, "Live account already exists.")
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)) != nil {
		return nil, apperr.New(apperr.ErrUnauthorized, "Password is incorrect.")
	}

	realLogin, err := s.provisioner.CreateAccount(ctx, platform.Real, rec.Email, password)
	if err != nil {
		s.logger.Error("live provisioning failed", "email", rec.Email, "error", err)
		return nil, apperr.New(apperr.ErrProvisioning, "Failed to create live account.")
	}

	if err := s.signups.AttachRealLogin(ctx, rec.ID, realLogin); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			s.logger.Warn("live account raced; account left unlinked", "email", rec.Email, "login", realLogin)
			return nil, apperr.New(apperr.ErrConflict, "Live account already exists.")
		}
		return nil, fmt.Errorf("create live account: %w", err)
	}

	demo := ""
	if rec.DemoLogin != nil {
		demo = *rec.DemoLogin
	}
	if err := s.mailer.SendAccounts(ctx, rec.Email, demo, realLogin); err != nil {
		s.logger.Warn("accounts email failed", "email", rec.Email, "error", err)
	}

	s.logger.Info("live account linked", "email", rec.Email, "real_login", realLogin)
	return s.signups.GetByID(ctx, rec.ID)
}

// ChangePassword replaces the portal password. Trading account passwords are
// flagged out of sync and changed separately on the platform.
func (s *Service) ChangePassword(ctx context.Context, sessionLogin, current, next string) error {
	in := changePasswordInput{Current: current, Next: next}
	if err := in.Validate(); err != nil {
		return apperr.FromValidation(err, "currentPassword", "newPassword")
	}

	rec, err := s.recordFor(ctx, sessionLogin)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(current)) != nil {
		return apperr.New(apperr.ErrUnauthorized, "Current password is incorrect.")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), s.cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.signups.UpdatePasswordHash(ctx, rec.ID, string(hash)); err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	return nil
}

// SwitchAccount checks that target belongs to the same record as the
// session login.
func (s *Service) SwitchAccount(ctx context.Context, sessionLogin, target string) error {
	if target == "" {
		return apperr.New(apperr.ErrValidation, "Login is required.")
	}
	rec, err := s.signups.GetByLogin(ctx, sessionLogin)
	if err != nil {
		return fmt.Errorf("switch account: %w", err)
	}
	if rec == nil || !rec.Owns(target) {
		return apperr.New(apperr.ErrForbidden, "Account not linked to this user.")
	}
	return nil
}

// Accounts lists the logins linked to the session's record.
type Accounts struct {
	Email        string  `json:"email"`
	RealLogin    *string `json:"real_login"`
	DemoLogin    *string `json:"demo_login"`
	Status       string  `json:"status"`
	CurrentLogin string  `json:"current_login"`
	CurrentType  *string `json:"current_type"`
}

func (s *Service) ListAccounts(ctx context.Context, sessionLogin string) (*Accounts, error) {
	rec, err := s.signups.GetByLogin(ctx, sessionLogin)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	if rec == nil {
		return nil, apperr.New(apperr.ErrNotFound, "No linked accounts found.")
	}
	out := &Accounts{
		Email:        rec.Email,
		RealLogin:    rec.RealLogin,
		DemoLogin:    rec.DemoLogin,
		Status:       rec.Status,
		CurrentLogin: sessionLogin,
	}
	if t := rec.AccountType(sessionLogin); t != "" {
		out.CurrentType = &t
	}
	return out, nil
}

// Requeue moves a failed signup back to pending and emails a fresh link.
// The plaintext password is gone, so the link asks the user to re-enter it.
func (s *Service) Requeue(ctx context.Context, email string) (*model.Signup, error) {
	rec, err := s.signups.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, fmt.Errorf("requeue: %w", err)
	}
	if rec == nil {
		return nil, apperr.New(apperr.ErrNotFound, "Account not found.")
	}
	if rec.Status != model.StatusFailed {
		return nil, apperr.New(apperr.ErrConflict, fmt.Sprintf("Signup is %s, not failed.", rec.Status))
	}

	v, err := token.IssueVerificationToken(s.now())
	if err != nil {
		return nil, err
	}
	if err := s.signups.Requeue(ctx, rec.ID, v.Token, v.ExpiresAt); err != nil {
		return nil, fmt.Errorf("requeue: %w", err)
	}

	if err := s.mailer.SendVerification(ctx, rec.Email, s.verificationLink("", "", v.Token, "")); err != nil {
		return nil, fmt.Errorf("send verification email: %w", err)
	}
	s.logger.Info("signup requeued", "email", rec.Email)
	return s.signups.GetByID(ctx, rec.ID)
}

// recordFor resolves the signup owning a session login.
func (s *Service) recordFor(ctx context.Context, sessionLogin string) (*model.Signup, error) {
	rec, err := s.signups.GetByLogin(ctx, sessionLogin)
	if err != nil {
		return nil, fmt.Errorf("lookup signup: %w", err)
	}
	if rec == nil {
		return nil, apperr.New(apperr.ErrNotFound, "Account not found.")
	}
	return rec, nil
}
