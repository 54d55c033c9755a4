package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/mia/mia/internal/platform/apperr"
	"github.com/mia/mia/internal/platform/auth"
	"github.com/mia/mia/internal/store"
)

// MinPasswordLength is enforced on registration.
const MinPasswordLength = 8

// HashPassword hashes a password with bcrypt at the default cost.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// RegisterInput is the payload of a new account.
type RegisterInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
	Name     string `json:"name"`
	Email    string `json:"email"`
}

// Session is the result of a successful login: the account and a bearer
// token.
type Session struct {
	User      *store.User `json:"user"`
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

type Service struct {
	users       store.UserRepository
	issuer      *auth.TokenIssuer
	allowSwitch bool
	logger      zerolog.Logger
}

// NewService builds the account service. allowSwitch enables the demo
// account switch, which is meant for development only.
func NewService(users store.UserRepository, issuer *auth.TokenIssuer, allowSwitch bool, logger zerolog.Logger) *Service {
	return &Service{users: users, issuer: issuer, allowSwitch: allowSwitch, logger: logger}
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.Name = strings.TrimSpace(in.Name)

	var errs []apperr.FieldError
	if in.Username == "" {
		errs = append(errs, apperr.FieldError{Field: "username", Message: "username is required"})
	}
	if len(in.Password) < MinPasswordLength {
		errs = append(errs, apperr.FieldError{Field: "password", Message: fmt.Sprintf("password must be at least %d characters", MinPasswordLength)})
	}
	if !store.Role(in.Role).Valid() {
		errs = append(errs, apperr.FieldError{Field: "role", Message: "role must be one of parent, clinic, insurance"})
	}
	if in.Name == "" {
		errs = append(errs, apperr.FieldError{Field: "name", Message: "name is required"})
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		errs = append(errs, apperr.FieldError{Field: "email", Message: "email is invalid"})
	}
	if len(errs) > 0 {
		return nil, apperr.Validation("Invalid registration data", errs...)
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	u := &store.User{
		Username:     in.Username,
		PasswordHash: hash,
		Role:         store.Role(in.Role),
		Name:         in.Name,
		Email:        in.Email,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if apperr.IsConflict(err) {
			s.logger.Info().Str("field", apperr.ConflictField(err)).Msg("registration rejected: duplicate")
			return nil, duplicateError(apperr.ConflictField(err))
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.logger.Info().Str("user_id", u.ID).Str("role", string(u.Role)).Msg("user registered")
	return s.session(u)
}

func duplicateError(field string) error {
	e := apperr.Conflict(field, "")
	switch field {
	case "username":
		e.Message = "Username already exists"
	case "email":
		e.Message = "Email already exists"
	}
	return e
}

// Login checks credentials. Unknown users and wrong passwords produce the
// same error.
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	if username == "" || password == "" {
		return nil, apperr.Validation("Invalid request data",
			apperr.FieldError{Field: "username", Message: "username and password are required"})
	}
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if apperr.IsNotFound(err) {
			s.logger.Info().Str("username", username).Msg("login failed: unknown user")
			return nil, apperr.Unauthorized("Invalid credentials")
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			s.logger.Warn().Err(err).Str("user_id", u.ID).Msg("stored password hash unusable")
		}
		s.logger.Info().Str("user_id", u.ID).Msg("login failed: wrong password")
		return nil, apperr.Unauthorized("Invalid credentials")
	}
	s.logger.Info().Str("user_id", u.ID).Msg("user logged in")
	return s.session(u)
}

// SwitchRole issues a token for the demo account of role. Stored roles never
// change; switching means acting as a different account.
func (s *Service) SwitchRole(ctx context.Context, role string) (*Session, error) {
	if !s.allowSwitch {
		return nil, apperr.Forbidden("role switching is disabled")
	}
	username, ok := store.DemoAccounts[store.Role(role)]
	if !ok {
		return nil, apperr.Validation("", apperr.FieldError{Field: "role", Message: "role must be one of parent, clinic, insurance"})
	}
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return s.session(u)
}

func (s *Service) GetUser(ctx context.Context, id string) (*store.User, error) {
	return s.users.Get(ctx, id)
}

func (s *Service) session(u *store.User) (*Session, error) {
	token, exp, err := s.issuer.Issue(auth.Identity{UserID: u.ID, Role: string(u.Role), Name: u.Name})
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &Session{User: u, Token: token, ExpiresAt: exp}, nil
}
