// Package services – AuthService
//
// This file implements AuthService: sign-up, credential validation, and
// access token issuance. Emails are normalized before every lookup so that
// "A@B.com " and "a@b.com" are the same account.
package services

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/bookworm-backend/internal/auth"
	"github.com/tbourn/bookworm-backend/internal/domain"
	"github.com/tbourn/bookworm-backend/internal/repo"
)

// UserRepo defines the user store required by AuthService.
type UserRepo interface {
	// CreateUser inserts an account; a taken email yields repo.ErrDuplicate.
	CreateUser(ctx context.Context, db *gorm.DB, email, passwordHash string) (*domain.User, error)
	// FindUserByEmail returns the account or repo.ErrNotFound.
	FindUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error)
}

// PasswordHasher hashes and checks passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) bool
}

// TokenIssuer signs access tokens for an identity.
type TokenIssuer interface {
	Issue(id uint, email string) (string, error)
}

// AuthService registers accounts and exchanges credentials for tokens.
type AuthService struct {
	DB     *gorm.DB
	Users  UserRepo
	Hasher PasswordHasher
	Tokens TokenIssuer
}

// NewAuthService wires an AuthService.
func NewAuthService(db *gorm.DB, users UserRepo, hasher PasswordHasher, tokens TokenIssuer) *AuthService {
	return &AuthService{DB: db, Users: users, Hasher: hasher, Tokens: tokens}
}

// SignUp creates an account and returns an access token for it.
// It returns ErrEmailTaken when the email is already registered.
func (s *AuthService) SignUp(ctx context.Context, email, password string) (string, error) {
	ctx, span := otel.Tracer("services/AuthService").Start(ctx, "SignUp")
	defer span.End()

	email = NormalizeEmail(email)
	if _, err := s.Users.FindUserByEmail(ctx, s.DB, email); err == nil {
		return "", ErrEmailTaken
	} else if !errors.Is(err, repo.ErrNotFound) {
		return "", err
	}

	hash, err := s.Hasher.Hash(password)
	if err != nil {
		return "", err
	}
	u, err := s.Users.CreateUser(ctx, s.DB, email, hash)
	if errors.Is(err, repo.ErrDuplicate) {
		// Lost a race with a concurrent sign-up.
		return "", ErrEmailTaken
	}
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.Int64("user.id", int64(u.ID)))
	loggerFrom(ctx).Info().Uint("user_id", u.ID).Msg("account created")

	return s.Login(auth.Principal{ID: u.ID, Email: u.Email})
}

// ValidateUser checks credentials. It returns (nil, nil) when the email is
// unknown or the password does not match.
func (s *AuthService) ValidateUser(ctx context.Context, email, password string) (*auth.Principal, error) {
	u, err := s.Users.FindUserByEmail(ctx, s.DB, NormalizeEmail(email))
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !s.Hasher.Compare(u.Password, password) {
		return nil, nil
	}
	return &auth.Principal{ID: u.ID, Email: u.Email}, nil
}

// Login issues an access token for an already validated identity.
func (s *AuthService) Login(p auth.Principal) (string, error) {
	return s.Tokens.Issue(p.ID, p.Email)
}

// Authenticate validates credentials and logs the user in.
// Any mismatch is reported as ErrInvalidCredentials.
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (string, error) {
	ctx, span := otel.Tracer("services/AuthService").Start(ctx, "Authenticate")
	defer span.End()

	p, err := s.ValidateUser(ctx, email, password)
	if err != nil {
		return "", err
	}
	if p == nil {
		span.AddEvent("credentials rejected", trace.WithAttributes(attribute.Bool("auth.ok", false)))
		return "", ErrInvalidCredentials
	}
	return s.Login(*p)
}

// NormalizeEmail trims surrounding space and lower-cases the address.
// A Caser is stateful, so one is built per call.
func NormalizeEmail(email string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(email))
}
