package store

import (
	"database/sql"
	"testing"
	"time"

	"github.com/dukerupert/homebank/internal/database"
	"github.com/dukerupert/homebank/internal/model"
)

var testNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestUser(t *testing.T, us *UserStore, email string, role model.Role) *model.User {
	t.Helper()
	u, err := us.Create(email, email, "hash", role, nil)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func setPoints(t *testing.T, db *sql.DB, userID int64, points int) {
	t.Helper()
	if _, err := db.Exec(`UPDATE users SET points = ? WHERE id = ?`, points, userID); err != nil {
		t.Fatalf("set points: %v", err)
	}
}
