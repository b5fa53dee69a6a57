package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"farmmarket/internal/models"
)

const uniqueViolation = "23505"

const userColumns = `
	id, name, email, phone, password_hash, role, county, location_lng, location_lat, avatar,
	email_verified, is_active, is_banned, last_login_at,
	email_verification_token_hash, email_verification_expires,
	password_reset_token_hash, password_reset_expires,
	version, created_at, updated_at
`

type UserRepository struct {
	pool        *pgxpool.Pool
	sessions    *SessionRepository
	maxSessions int
}

func NewUserRepository(pool *pgxpool.Pool, maxSessions int) *UserRepository {
	return &UserRepository{
		pool:        pool,
		sessions:    NewSessionRepository(),
		maxSessions: maxSessions,
	}
}

func (r *UserRepository) Create(ctx context.Context, user models.User) error {
	const query = `
		INSERT INTO users (
			id, name, email, phone, password_hash, role, county, location_lng, location_lat, avatar,
			email_verified, is_active, is_banned,
			email_verification_token_hash, email_verification_expires,
			version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 1, $16, $16
		)
	`

	lng, lat := splitLocation(user.Location)
	_, err := r.pool.Exec(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		user.Phone,
		user.PasswordHash,
		user.Role,
		user.County,
		lng,
		lat,
		user.Avatar,
		user.EmailVerified,
		user.IsActive,
		user.IsBanned,
		user.EmailVerificationTokenHash,
		user.EmailVerificationExpires,
		user.CreatedAt,
	)
	return translateError(err)
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (models.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (models.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (r *UserRepository) FindByVerificationToken(ctx context.Context, hash string, now time.Time) (models.User, error) {
	return r.findOne(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE email_verification_token_hash = $1 AND email_verification_expires > $2
	`, hash, now)
}

func (r *UserRepository) FindByResetToken(ctx context.Context, hash string, now time.Time) (models.User, error) {
	return r.findOne(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE password_reset_token_hash = $1 AND password_reset_expires > $2
	`, hash, now)
}

func (r *UserRepository) findOne(ctx context.Context, query string, args ...any) (models.User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, err
	}

	tokens, err := r.sessions.ListByUser(ctx, r.pool, user.ID)
	if err != nil {
		return models.User{}, fmt.Errorf("load sessions: %w", err)
	}
	user.Sessions = models.NewSessionRegistry(r.maxSessions, tokens...)
	return user, nil
}

// Update writes every mutable field and the session list in one transaction,
// provided nobody else has written the user since it was read. On success
// user.Version and user.UpdatedAt reflect the stored row.
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const query = `
		UPDATE users SET
			name = $3, email = $4, phone = $5, password_hash = $6, role = $7, county = $8,
			location_lng = $9, location_lat = $10, avatar = $11,
			email_verified = $12, is_active = $13, is_banned = $14, last_login_at = $15,
			email_verification_token_hash = $16, email_verification_expires = $17,
			password_reset_token_hash = $18, password_reset_expires = $19,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at
	`

	lng, lat := splitLocation(user.Location)
	var (
		version   int64
		updatedAt time.Time
	)
	err = tx.QueryRow(ctx, query,
		user.ID,
		user.Version,
		user.Name,
		user.Email,
		user.Phone,
		user.PasswordHash,
		user.Role,
		user.County,
		lng,
		lat,
		user.Avatar,
		user.EmailVerified,
		user.IsActive,
		user.IsBanned,
		user.LastLoginAt,
		user.EmailVerificationTokenHash,
		user.EmailVerificationExpires,
		user.PasswordResetTokenHash,
		user.PasswordResetExpires,
	).Scan(&version, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.missOrConflict(ctx, tx, user.ID)
		}
		return translateError(err)
	}

	if err := r.sessions.Replace(ctx, tx, user.ID, user.Sessions.Entries()); err != nil {
		return fmt.Errorf("replace sessions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	user.Version = version
	user.UpdatedAt = updatedAt
	return nil
}

func (r *UserRepository) missOrConflict(ctx context.Context, db dbtx, id string) error {
	var exists bool
	if err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrUserNotFound
	}
	return ErrVersionConflict
}

// PurgeExpired deletes refresh tokens past their lifetime and clears expired
// verification and reset tokens.
func (r *UserRepository) PurgeExpired(ctx context.Context, now time.Time) (PurgeResult, error) {
	var result PurgeResult

	removed, err := r.sessions.DeleteCreatedBefore(ctx, r.pool, now.Add(-models.RefreshTokenLifetime))
	if err != nil {
		return result, fmt.Errorf("purge refresh tokens: %w", err)
	}
	result.RefreshTokens = removed

	cmd, err := r.pool.Exec(ctx, `
		UPDATE users
		SET email_verification_token_hash = NULL, email_verification_expires = NULL
		WHERE email_verification_expires <= $1
	`, now)
	if err != nil {
		return result, fmt.Errorf("purge verification tokens: %w", err)
	}
	result.VerificationTokens = cmd.RowsAffected()

	cmd, err = r.pool.Exec(ctx, `
		UPDATE users
		SET password_reset_token_hash = NULL, password_reset_expires = NULL
		WHERE password_reset_expires <= $1
	`, now)
	if err != nil {
		return result, fmt.Errorf("purge reset tokens: %w", err)
	}
	result.ResetTokens = cmd.RowsAffected()

	return result, nil
}

func scanUser(row pgx.Row) (models.User, error) {
	var (
		user     models.User
		lng, lat *float64
	)
	if err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Phone,
		&user.PasswordHash,
		&user.Role,
		&user.County,
		&lng,
		&lat,
		&user.Avatar,
		&user.EmailVerified,
		&user.IsActive,
		&user.IsBanned,
		&user.LastLoginAt,
		&user.EmailVerificationTokenHash,
		&user.EmailVerificationExpires,
		&user.PasswordResetTokenHash,
		&user.PasswordResetExpires,
		&user.Version,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return models.User{}, err
	}
	if lng != nil && lat != nil {
		user.Location = &models.GeoPoint{Type: "Point", Coordinates: [2]float64{*lng, *lat}}
	}
	return user, nil
}

func splitLocation(p *models.GeoPoint) (*float64, *float64) {
	if p == nil {
		return nil, nil
	}
	lng, lat := p.Coordinates[0], p.Coordinates[1]
	return &lng, &lat
}

func translateError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateUser
	}
	return err
}
