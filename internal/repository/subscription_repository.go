package repository

import (
	"context"
	"database/sql"
	"fmt"

	"newsletter-reader/internal/database"
	"newsletter-reader/internal/domain"
)

type SubscriptionRepository interface {
	ListByUser(ctx context.Context, userID int) ([]domain.Subscription, error)
	Create(ctx context.Context, userID int, url string) (*domain.Subscription, error)
	Delete(ctx context.Context, id, userID int) error
}

type subscriptionRepository struct {
	db      *sql.DB
	dialect database.Dialect
}

func NewSubscriptionRepository(db *sql.DB, dialect database.Dialect) SubscriptionRepository {
	return &subscriptionRepository{db: db, dialect: dialect}
}

func (r *subscriptionRepository) ListByUser(ctx context.Context, userID int) ([]domain.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(
		"SELECT id, user_id, url, created_at FROM newsletter_urls WHERE user_id = ? ORDER BY created_at ASC, id ASC",
	), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	subs := []domain.Subscription{}
	for rows.Next() {
		var s domain.Subscription
		if err := rows.Scan(&s.ID, &s.UserID, &s.URL, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, s)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscriptions: %w", err)
	}

	return subs, nil
}

// Create inserts a row and returns it with its assigned id and timestamp.
// A second insert of the same url for the same user yields
// domain.ErrAlreadySubscribed.
func (r *subscriptionRepository) Create(ctx context.Context, userID int, url string) (*domain.Subscription, error) {
	sub := &domain.Subscription{URL: url, UserID: userID}
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	err := r.db.QueryRowContext(ctx, r.dialect.Rebind(
		"INSERT INTO newsletter_urls (user_id, url) VALUES (?, ?) RETURNING id, created_at",
	), userID, url).Scan(&sub.ID, &sub.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadySubscribed
		}
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	return sub, nil
}

func (r *subscriptionRepository) Delete(ctx context.Context, id, userID int) error {
	result, err := r.db.ExecContext(ctx, r.dialect.Rebind(
		"DELETE FROM newsletter_urls WHERE id = ? AND user_id = ?",
	), id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return domain.ErrSubscriptionNotFound
	}

	return nil
}
