package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dukerupert/homebank/internal/model"
)

// SessionTTL is how long a login stays valid.
const SessionTTL = 30 * 24 * time.Hour

type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

func scanSession(scanner rowScanner) (*model.Session, error) {
	var s model.Session
	err := scanner.Scan(&s.ID, &s.Token, &s.UserID, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	s.ExpiresAt = s.ExpiresAt.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	return &s, nil
}

const sessionCols = `id, token, user_id, expires_at, created_at`

// Create generates a session with a crypto-random token that expires
// SessionTTL after now.
func (s *SessionStore) Create(userID int64, now time.Time) (*model.Session, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	token := hex.EncodeToString(tokenBytes)

	result, err := s.db.Exec(
		`INSERT INTO sessions (token, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		token, userID, now.UTC().Add(SessionTTL), now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+sessionCols+` FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// GetByToken returns the session for token, or nil if expired or not found.
func (s *SessionStore) GetByToken(token string, now time.Time) (*model.Session, error) {
	row := s.db.QueryRow(
		`SELECT `+sessionCols+` FROM sessions WHERE token = ? AND expires_at > ?`,
		token, now.UTC(),
	)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session by token: %w", err)
	}
	return sess, nil
}

func (s *SessionStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteByUser ends every session for userID, e.g. after a password change.
func (s *SessionStore) DeleteByUser(userID int64) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete sessions by user: %w", err)
	}
	return nil
}

func (s *SessionStore) DeleteExpired(now time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM sessions WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
