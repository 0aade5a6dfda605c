package model

import "time"

type TransactionType string

const (
	TransactionEarn  TransactionType = "earn"
	TransactionSpend TransactionType = "spend"
)

// PointTransaction is an immutable ledger entry. Amount is signed: penalties
// are recorded as negative earn entries, redemptions as negative spends.
type PointTransaction struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	Amount      int             `json:"amount"`
	Type        TransactionType `json:"type"`
	Description string          `json:"description"`
	RelatedID   *int64          `json:"related_id"`
	CreatedAt   time.Time       `json:"created_at"`
}

type PointBalance struct {
	UserID       int64              `json:"user_id"`
	Name         string             `json:"name"`
	Balance      int                `json:"balance"`
	Transactions []PointTransaction `json:"transactions"`
}
