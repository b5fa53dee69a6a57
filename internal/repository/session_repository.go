package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"farmmarket/internal/models"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SessionRepository persists a user's SessionRegistry as ordered rows in
// user_refresh_tokens. It is always driven by UserRepository so the rows
// change in the same transaction as the owning user's version.
type SessionRepository struct{}

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{}
}

func (r *SessionRepository) ListByUser(ctx context.Context, db dbtx, userID string) ([]models.RefreshToken, error) {
	const query = `
		SELECT token_hash, created_at
		FROM user_refresh_tokens
		WHERE user_id = $1
		ORDER BY position ASC
	`

	rows, err := db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []models.RefreshToken
	for rows.Next() {
		var token models.RefreshToken
		if err := rows.Scan(&token.Hash, &token.CreatedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

// Replace overwrites the stored list with entries, preserving their order.
func (r *SessionRepository) Replace(ctx context.Context, db dbtx, userID string, entries []models.RefreshToken) error {
	const deleteQuery = `DELETE FROM user_refresh_tokens WHERE user_id = $1`
	if _, err := db.Exec(ctx, deleteQuery, userID); err != nil {
		return err
	}

	const insertQuery = `
		INSERT INTO user_refresh_tokens (user_id, position, token_hash, created_at)
		VALUES ($1, $2, $3, $4)
	`
	for i, entry := range entries {
		if _, err := db.Exec(ctx, insertQuery, userID, i, entry.Hash, entry.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

// DeleteCreatedBefore is the storage-level expiry of refresh tokens.
func (r *SessionRepository) DeleteCreatedBefore(ctx context.Context, db dbtx, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM user_refresh_tokens WHERE created_at <= $1`
	cmd, err := db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
