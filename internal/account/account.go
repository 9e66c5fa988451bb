// Package account implements sign-up, registration, login and logout.
//
// Sign-up parks the requested username and email in the pending store under a
// random token and mails a six digit code. Registration exchanges token, code
// and password for a user row and a first session.
package account

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	netmail "net/mail"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/jbweber/homelab/loft/internal/apperr"
	"github.com/jbweber/homelab/loft/internal/domain"
	"github.com/jbweber/homelab/loft/internal/kv"
	"github.com/jbweber/homelab/loft/internal/mail"
	"github.com/jbweber/homelab/loft/internal/repository"
	"github.com/jbweber/homelab/loft/internal/token"
)

const (
	pendingPrefix     = "create_user:"
	attemptsPrefix    = "create_user_attempts:"
	maxCodeAttempts   = 5
	pendingTokenBytes = 32
	codeDigits        = 6
	minPasswordLength = 8
	// bcrypt ignores input past 72 bytes
	maxPasswordLength = 72
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,32}$`)

// UserStore persists accounts
type UserStore interface {
	Save(ctx context.Context, user domain.User) (domain.User, error)
	FindByUsername(ctx context.Context, username string) (domain.User, error)
}

// SessionStore persists session nonces
type SessionStore interface {
	Create(ctx context.Context, session domain.Session) error
	Delete(ctx context.Context, nonce string, userID int32) error
	DeleteAllForUser(ctx context.Context, userID int32) (int64, error)
}

type pendingRegistration struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Code     string `json:"code"`
}

// Service runs the account use cases
type Service struct {
	users      UserStore
	sessions   SessionStore
	pending    kv.Store
	mailer     mail.Mailer
	ttl        time.Duration
	bcryptCost int

	dummyOnce sync.Once
	dummyHash []byte
}

// Option configures a Service
type Option func(*Service)

// WithBcryptCost overrides the bcrypt work factor.
func WithBcryptCost(cost int) Option {
	return func(s *Service) {
		s.bcryptCost = cost
	}
}

// NewService creates an account service. Pending registrations expire after ttl.
func NewService(users UserStore, sessions SessionStore, pending kv.Store, mailer mail.Mailer, ttl time.Duration, opts ...Option) *Service {
	s := &Service{
		users:      users,
		sessions:   sessions,
		pending:    pending,
		mailer:     mailer,
		ttl:        ttl,
		bcryptCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Signup starts a registration and returns the pending token. The code is
// only delivered through the mailer.
func (s *Service) Signup(ctx context.Context, username, email string) (string, error) {
	if !usernamePattern.MatchString(username) {
		return "", apperr.BadRequest("Username must be 3 to 32 letters, digits, '.', '_' or '-'")
	}
	if addr, err := netmail.ParseAddress(email); err != nil || addr.Address != email {
		return "", apperr.BadRequest("Invalid email address")
	}

	code, err := newCode()
	if err != nil {
		return "", apperr.Internal(err)
	}
	pendingToken, err := newPendingToken()
	if err != nil {
		return "", apperr.Internal(err)
	}

	value, err := json.Marshal(pendingRegistration{Username: username, Email: email, Code: code})
	if err != nil {
		return "", apperr.Internal(err)
	}
	if err := s.pending.Set(ctx, pendingPrefix+pendingToken, value, s.ttl); err != nil {
		return "", apperr.Internal(err)
	}

	if err := s.mailer.SendPasscode(ctx, email, code); err != nil {
		return "", apperr.Internal(fmt.Errorf("failed to send passcode: %w", err))
	}

	zerolog.Ctx(ctx).Info().Str("username", username).Msg("registration started")
	return pendingToken, nil
}

// Register completes a registration and returns a bearer token for the new user.
func (s *Service) Register(ctx context.Context, pendingToken, code, password string) (string, error) {
	if err := checkPassword(password); err != nil {
		return "", err
	}

	key := pendingPrefix + pendingToken
	raw, err := s.pending.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return "", apperr.NotFound("User data not found")
	}
	if err != nil {
		return "", apperr.Internal(err)
	}

	var pending pendingRegistration
	if err := json.Unmarshal(raw, &pending); err != nil {
		return "", apperr.Internal(fmt.Errorf("corrupt pending registration: %w", err))
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(pending.Code)) != 1 {
		return "", s.rejectCode(ctx, pendingToken)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", apperr.Internal(fmt.Errorf("failed to hash password: %w", err))
	}

	user, err := s.users.Save(ctx, domain.User{
		Username:     pending.Username,
		Email:        pending.Email,
		PasswordHash: string(hash),
	})
	if err != nil {
		var dup *repository.DuplicateError
		if errors.As(err, &dup) {
			switch dup.Field {
			case "username":
				return "", apperr.Conflict("Username already taken", err)
			case "email":
				return "", apperr.Conflict("Email already registered", err)
			}
			return "", apperr.Conflict("User already exists", err)
		}
		return "", apperr.Internal(err)
	}

	s.dropPending(ctx, pendingToken)

	zerolog.Ctx(ctx).Info().Int64("user_id", user.ID).Str("username", user.Username).Msg("user registered")
	return s.openSession(ctx, user.ID)
}

// rejectCode counts a wrong code against the pending registration and drops
// the registration once maxCodeAttempts wrong codes were given.
func (s *Service) rejectCode(ctx context.Context, pendingToken string) error {
	n, err := s.pending.Incr(ctx, attemptsPrefix+pendingToken, s.ttl)
	if err != nil {
		return apperr.Internal(fmt.Errorf("failed to count code attempts: %w", err))
	}
	if n >= maxCodeAttempts {
		zerolog.Ctx(ctx).Warn().Int64("attempts", n).Msg("too many wrong codes, pending registration dropped")
		s.dropPending(ctx, pendingToken)
		return apperr.BadRequest("Too many invalid codes, sign up again")
	}
	return apperr.BadRequest("Invalid code")
}

func (s *Service) dropPending(ctx context.Context, pendingToken string) {
	for _, key := range []string{pendingPrefix + pendingToken, attemptsPrefix + pendingToken} {
		if err := s.pending.Delete(ctx, key); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("failed to remove pending registration")
		}
	}
}

// Login verifies credentials and returns a new bearer token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return "", apperr.Internal(err)
	}

	if err != nil {
		// spend the same time as a real comparison
		_ = bcrypt.CompareHashAndPassword(s.dummy(), []byte(password))
		return "", apperr.Unauthorized("Invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", apperr.Unauthorized("Invalid credentials")
	}

	return s.openSession(ctx, user.ID)
}

// Logout revokes the session behind an encoded bearer token.
func (s *Service) Logout(ctx context.Context, encoded string) error {
	t, err := token.Decode(encoded)
	if err != nil {
		return apperr.Unauthorized("Invalid token")
	}
	err = s.sessions.Delete(ctx, t.EncodedNonce(), t.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.Unauthorized("Invalid token")
	}
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// LogoutAll revokes every session of a user and returns how many were revoked.
func (s *Service) LogoutAll(ctx context.Context, userID int32) (int64, error) {
	n, err := s.sessions.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, apperr.Internal(err)
	}
	return n, nil
}

func (s *Service) openSession(ctx context.Context, id int64) (string, error) {
	if id <= 0 || id > math.MaxInt32 {
		return "", apperr.Internal(fmt.Errorf("user id %d does not fit a session token", id))
	}
	userID := int32(id)

	t, err := token.Issue(userID)
	if err != nil {
		return "", apperr.Internal(err)
	}
	if err := s.sessions.Create(ctx, domain.Session{Nonce: t.EncodedNonce(), UserID: userID}); err != nil {
		return "", apperr.Internal(err)
	}
	return t.Encode(), nil
}

func (s *Service) dummy() []byte {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), s.bcryptCost)
	})
	return s.dummyHash
}

func checkPassword(password string) error {
	if len(password) < minPasswordLength {
		return apperr.BadRequest(fmt.Sprintf("Password must be at least %d characters", minPasswordLength))
	}
	if len(password) > maxPasswordLength {
		return apperr.BadRequest(fmt.Sprintf("Password must be at most %d bytes", maxPasswordLength))
	}
	return nil
}

func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(math.Pow10(codeDigits))))
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

func newPendingToken() (string, error) {
	buf := make([]byte, pendingTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
