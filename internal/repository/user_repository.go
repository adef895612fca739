package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"newsletter-reader/internal/database"
	"newsletter-reader/internal/domain"
)

type UserRepository interface {
	Create(ctx context.Context, email string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id int) (*domain.User, error)
	GetOrCreate(ctx context.Context, email string) (*domain.User, error)
}

type userRepository struct {
	db      *sql.DB
	dialect database.Dialect
}

func NewUserRepository(db *sql.DB, dialect database.Dialect) UserRepository {
	return &userRepository{db: db, dialect: dialect}
}

func (r *userRepository) Create(ctx context.Context, email string) (*domain.User, error) {
	user := &domain.User{Email: email}

	err := r.db.QueryRowContext(ctx, r.dialect.Rebind(
		"INSERT INTO users (email) VALUES (?) RETURNING id, created_at",
	), email).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrDuplicateEntry
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	user := &domain.User{}

	err := r.db.QueryRowContext(ctx, r.dialect.Rebind(
		"SELECT id, email, created_at FROM users WHERE email = ?",
	), email).Scan(&user.ID, &user.Email, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return user, nil
}

func (r *userRepository) GetByID(ctx context.Context, id int) (*domain.User, error) {
	user := &domain.User{}

	err := r.db.QueryRowContext(ctx, r.dialect.Rebind(
		"SELECT id, email, created_at FROM users WHERE id = ?",
	), id).Scan(&user.ID, &user.Email, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}

	return user, nil
}

// GetOrCreate returns the user for email, creating it on first sign-in.
func (r *userRepository) GetOrCreate(ctx context.Context, email string) (*domain.User, error) {
	user, err := r.GetByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}

	user, err = r.Create(ctx, email)
	if errors.Is(err, domain.ErrDuplicateEntry) {
		// Lost a race with a concurrent sign-in.
		return r.GetByEmail(ctx, email)
	}
	return user, err
}
