package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/homebank/internal/model"
)

type TransactionStore struct {
	db *sql.DB
}

func NewTransactionStore(db *sql.DB) *TransactionStore {
	return &TransactionStore{db: db}
}

func scanTransaction(scanner rowScanner) (*model.PointTransaction, error) {
	var t model.PointTransaction
	var relatedID sql.NullInt64
	var typ string

	err := scanner.Scan(&t.ID, &t.UserID, &t.Amount, &typ, &t.Description, &relatedID, &t.CreatedAt)
	if err != nil {
		return nil, err
	}

	t.Type = model.TransactionType(typ)
	t.RelatedID = int64Ptr(relatedID)
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

const transactionCols = `id, user_id, amount, type, description, related_id, created_at`

// ListByUser returns the user's ledger, newest first.
func (s *TransactionStore) ListByUser(userID int64) ([]model.PointTransaction, error) {
	rows, err := s.db.Query(
		`SELECT `+transactionCols+` FROM point_transactions WHERE user_id = ? ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []model.PointTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txns = append(txns, *t)
	}
	return txns, rows.Err()
}

// ListByRelated returns the entries written for a job or reward.
func (s *TransactionStore) ListByRelated(relatedID int64) ([]model.PointTransaction, error) {
	rows, err := s.db.Query(
		`SELECT `+transactionCols+` FROM point_transactions WHERE related_id = ? ORDER BY id ASC`,
		relatedID,
	)
	if err != nil {
		return nil, fmt.Errorf("list transactions by related: %w", err)
	}
	defer rows.Close()

	var txns []model.PointTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txns = append(txns, *t)
	}
	return txns, rows.Err()
}

// adjustPoints applies delta to the user's balance, flooring at zero, and
// returns the new balance.
func adjustPoints(tx *sql.Tx, userID int64, delta int, at time.Time) (int, error) {
	result, err := tx.Exec(
		`UPDATE users SET points = MAX(0, points + ?), updated_at = ? WHERE id = ?`,
		delta, at.UTC(), userID,
	)
	if err != nil {
		return 0, fmt.Errorf("update points: %w", err)
	}
	ok, err := applied(result)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("update points: user %d not found", userID)
	}

	var balance int
	if err := tx.QueryRow(`SELECT points FROM users WHERE id = ?`, userID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}

func insertTransaction(tx *sql.Tx, t model.PointTransaction) (*model.PointTransaction, error) {
	result, err := tx.Exec(
		`INSERT INTO point_transactions (user_id, amount, type, description, related_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		t.UserID, t.Amount, string(t.Type), t.Description, nullInt64(t.RelatedID), t.CreatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	t.ID = id
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}
