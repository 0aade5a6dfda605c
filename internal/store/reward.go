package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/homebank/internal/model"
)

var (
	ErrOutOfStock         = errors.New("reward out of stock")
	ErrInsufficientPoints = errors.New("insufficient points")
)

type RewardStore struct {
	db *sql.DB
}

func NewRewardStore(db *sql.DB) *RewardStore {
	return &RewardStore{db: db}
}

func scanReward(scanner rowScanner) (*model.Reward, error) {
	var r model.Reward
	err := scanner.Scan(&r.ID, &r.Title, &r.Description, &r.PointCost, &r.Stock, &r.CreatedBy, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

const rewardCols = `id, title, description, point_cost, stock, created_by, created_at`

func (s *RewardStore) Create(title, description string, pointCost, stock int, createdBy int64) (*model.Reward, error) {
	result, err := s.db.Exec(
		`INSERT INTO rewards (title, description, point_cost, stock, created_by) VALUES (?, ?, ?, ?, ?)`,
		title, description, pointCost, stock, createdBy,
	)
	if err != nil {
		return nil, fmt.Errorf("insert reward: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *RewardStore) GetByID(id int64) (*model.Reward, error) {
	row := s.db.QueryRow(`SELECT `+rewardCols+` FROM rewards WHERE id = ?`, id)
	r, err := scanReward(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reward: %w", err)
	}
	return r, nil
}

// List returns all rewards, in-stock first, then by cost.
func (s *RewardStore) List() ([]model.Reward, error) {
	rows, err := s.db.Query(`SELECT ` + rewardCols + ` FROM rewards ORDER BY stock = 0, point_cost ASC, title ASC`)
	if err != nil {
		return nil, fmt.Errorf("list rewards: %w", err)
	}
	defer rows.Close()

	var rewards []model.Reward
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reward: %w", err)
		}
		rewards = append(rewards, *r)
	}
	return rewards, rows.Err()
}

func (s *RewardStore) Update(id int64, title, description string, pointCost, stock int) (*model.Reward, error) {
	_, err := s.db.Exec(
		`UPDATE rewards SET title = ?, description = ?, point_cost = ?, stock = ? WHERE id = ?`,
		title, description, pointCost, stock, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update reward: %w", err)
	}
	return s.GetByID(id)
}

func (s *RewardStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM rewards WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete reward: %w", err)
	}
	return nil
}

// Redeem spends the reward's cost from userID and takes one unit of stock,
// all in one transaction. It returns nil, nil if the reward does not exist,
// ErrOutOfStock or ErrInsufficientPoints when the purchase cannot happen.
func (s *RewardStore) Redeem(rewardID, userID int64, at time.Time) (*model.RewardRedemption, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin redeem: %w", err)
	}
	defer tx.Rollback()

	r, err := scanReward(tx.QueryRow(`SELECT `+rewardCols+` FROM rewards WHERE id = ?`, rewardID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reward: %w", err)
	}
	if r.Stock <= 0 {
		return nil, ErrOutOfStock
	}

	var balance int
	if err := tx.QueryRow(`SELECT points FROM users WHERE id = ?`, userID).Scan(&balance); err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	if balance < r.PointCost {
		return nil, ErrInsufficientPoints
	}

	if _, err := tx.Exec(`UPDATE rewards SET stock = stock - 1 WHERE id = ?`, rewardID); err != nil {
		return nil, fmt.Errorf("decrement stock: %w", err)
	}
	newBalance, err := adjustPoints(tx, userID, -r.PointCost, at)
	if err != nil {
		return nil, err
	}
	rid := r.ID
	txn, err := insertTransaction(tx, model.PointTransaction{
		UserID:      userID,
		Amount:      -r.PointCost,
		Type:        model.TransactionSpend,
		Description: "Redeemed reward: " + r.Title,
		RelatedID:   &rid,
		CreatedAt:   at,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit redeem: %w", err)
	}
	return &model.RewardRedemption{
		RewardID:    r.ID,
		UserID:      userID,
		PointsSpent: r.PointCost,
		NewBalance:  newBalance,
		Transaction: *txn,
	}, nil
}
