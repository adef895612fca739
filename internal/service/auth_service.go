package service

import (
	"context"
	"fmt"
	"time"

	"newsletter-reader/internal/domain"
	"newsletter-reader/internal/logging"
	"newsletter-reader/internal/repository"
	"newsletter-reader/pkg/ratelimit"
)

const (
	signInAttempts = 10
	signInWindow   = 15 * time.Minute
)

// AuthService resolves the identity behind a sign-in. Credential checks
// belong to the upstream identity provider; this service only maps an
// email to a user row.
type AuthService struct {
	userRepo repository.UserRepository
	limiter  *ratelimit.Limiter
}

func NewAuthService(userRepo repository.UserRepository, limiter *ratelimit.Limiter) *AuthService {
	return &AuthService{
		userRepo: userRepo,
		limiter:  limiter,
	}
}

func (s *AuthService) SignIn(ctx context.Context, email string) (*domain.User, error) {
	email = domain.NormalizeEmail(email)
	candidate := &domain.User{Email: email}
	if err := candidate.Validate(); err != nil {
		return nil, err
	}

	if s.limiter != nil && !s.limiter.Allow("signin:"+email, signInAttempts, signInWindow) {
		return nil, domain.ErrTooManyAttempts
	}

	user, err := s.userRepo.GetOrCreate(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to sign in: %w", err)
	}

	logging.Info("user signed in", "user_id", user.ID)
	return user, nil
}

func (s *AuthService) GetUserByID(ctx context.Context, userID int) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}
