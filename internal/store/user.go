package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/dukerupert/homebank/internal/model"
)

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func scanUser(scanner rowScanner) (*model.User, error) {
	var u model.User
	var parentID sql.NullInt64
	var role string

	err := scanner.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &role, &parentID, &u.Points, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}

	u.Role = model.Role(role)
	u.ParentID = int64Ptr(parentID)
	return &u, nil
}

const userCols = `id, email, name, password_hash, role, parent_id, points, created_at, updated_at`

// Create stores a new user. Emails are matched case-insensitively, so they
// are lowercased on the way in.
func (s *UserStore) Create(email, name, passwordHash string, role model.Role, parentID *int64) (*model.User, error) {
	result, err := s.db.Exec(
		`INSERT INTO users (email, name, password_hash, role, parent_id) VALUES (?, ?, ?, ?, ?)`,
		normalizeEmail(email), name, passwordHash, string(role), nullInt64(parentID),
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *UserStore) GetByID(id int64) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByEmail(email string) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE email = ?`, normalizeEmail(email))
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (s *UserStore) List() ([]model.User, error) {
	return s.query(`SELECT ` + userCols + ` FROM users ORDER BY role ASC, name ASC`)
}

// ListByRole returns all users holding role, ordered by name.
func (s *UserStore) ListByRole(role model.Role) ([]model.User, error) {
	return s.query(`SELECT `+userCols+` FROM users WHERE role = ? ORDER BY name ASC`, string(role))
}

// ListChildren returns the children linked to parentID.
func (s *UserStore) ListChildren(parentID int64) ([]model.User, error) {
	return s.query(`SELECT `+userCols+` FROM users WHERE role = ? AND parent_id = ? ORDER BY name ASC`,
		string(model.RoleChild), parentID)
}

func (s *UserStore) query(q string, args ...any) ([]model.User, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *UserStore) CountByRole(role model.Role) (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM users WHERE role = ?`, string(role)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func (s *UserStore) Update(id int64, name string, role model.Role, parentID *int64) (*model.User, error) {
	_, err := s.db.Exec(
		`UPDATE users SET name = ?, role = ?, parent_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		name, string(role), nullInt64(parentID), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return s.GetByID(id)
}

func (s *UserStore) UpdatePassword(id int64, passwordHash string) error {
	_, err := s.db.Exec(
		`UPDATE users SET password_hash = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		passwordHash, id,
	)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *UserStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
