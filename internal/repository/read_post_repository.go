package repository

import (
	"context"
	"database/sql"
	"fmt"

	"newsletter-reader/internal/database"
	"newsletter-reader/internal/domain"
)

type ReadPostRepository interface {
	ListByUser(ctx context.Context, userID int) ([]domain.PostID, error)
	Insert(ctx context.Context, userID int, postID domain.PostID) error
}

type readPostRepository struct {
	db      *sql.DB
	dialect database.Dialect
}

func NewReadPostRepository(db *sql.DB, dialect database.Dialect) ReadPostRepository {
	return &readPostRepository{db: db, dialect: dialect}
}

func (r *readPostRepository) ListByUser(ctx context.Context, userID int) ([]domain.PostID, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(
		"SELECT post_id FROM read_posts WHERE user_id = ?",
	), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list read posts: %w", err)
	}
	defer rows.Close()

	var ids []domain.PostID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan read post: %w", err)
		}
		ids = append(ids, domain.PostID(id))
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating read posts: %w", err)
	}

	return ids, nil
}

// Insert records a read marker. Re-inserting an existing marker succeeds.
func (r *readPostRepository) Insert(ctx context.Context, userID int, postID domain.PostID) error {
	if postID == "" {
		return domain.ErrInvalidPostID
	}

	_, err := r.db.ExecContext(ctx, r.dialect.Rebind(
		"INSERT INTO read_posts (user_id, post_id) VALUES (?, ?) ON CONFLICT (user_id, post_id) DO NOTHING",
	), userID, string(postID))
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("failed to mark post as read: %w", err)
	}

	return nil
}
