package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/homebank/internal/model"
)

// ResetTokenTTL bounds how long a password reset link works.
const ResetTokenTTL = time.Hour

type ResetTokenStore struct {
	db *sql.DB
}

func NewResetTokenStore(db *sql.DB) *ResetTokenStore {
	return &ResetTokenStore{db: db}
}

func scanResetToken(scanner rowScanner) (*model.ResetToken, error) {
	var rt model.ResetToken
	var usedAt sql.NullTime

	err := scanner.Scan(&rt.ID, &rt.Token, &rt.UserID, &rt.Email, &rt.ExpiresAt, &usedAt, &rt.CreatedAt)
	if err != nil {
		return nil, err
	}

	rt.ExpiresAt = rt.ExpiresAt.UTC()
	rt.CreatedAt = rt.CreatedAt.UTC()
	rt.UsedAt = timePtr(usedAt)
	return &rt, nil
}

const resetTokenCols = `id, token, user_id, email, expires_at, used_at, created_at`

// Create issues a reset token for the user. Earlier unused tokens for the
// same user are invalidated first.
func (s *ResetTokenStore) Create(userID int64, email string, now time.Time) (*model.ResetToken, error) {
	_, err := s.db.Exec(
		`UPDATE reset_tokens SET used_at = ? WHERE user_id = ? AND used_at IS NULL`,
		now.UTC(), userID,
	)
	if err != nil {
		return nil, fmt.Errorf("invalidate previous tokens: %w", err)
	}

	result, err := s.db.Exec(
		`INSERT INTO reset_tokens (token, user_id, email, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), userID, email, now.UTC().Add(ResetTokenTTL), now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert reset token: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+resetTokenCols+` FROM reset_tokens WHERE id = ?`, id)
	return scanResetToken(row)
}

// GetValid returns the token if it exists, is unused, and has not expired.
func (s *ResetTokenStore) GetValid(token string, now time.Time) (*model.ResetToken, error) {
	row := s.db.QueryRow(
		`SELECT `+resetTokenCols+` FROM reset_tokens WHERE token = ? AND used_at IS NULL AND expires_at > ?`,
		token, now.UTC(),
	)
	rt, err := scanResetToken(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reset token: %w", err)
	}
	return rt, nil
}

// MarkUsed consumes the token. It reports false if it was already used.
func (s *ResetTokenStore) MarkUsed(id int64, now time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE reset_tokens SET used_at = ? WHERE id = ? AND used_at IS NULL`,
		now.UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("mark reset token used: %w", err)
	}
	return applied(result)
}

// DeleteExpired removes tokens that expired or were used before now.
func (s *ResetTokenStore) DeleteExpired(now time.Time) (int64, error) {
	result, err := s.db.Exec(
		`DELETE FROM reset_tokens WHERE expires_at <= ? OR used_at IS NOT NULL`,
		now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired reset tokens: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
