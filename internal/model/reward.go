package model

import "time"

type Reward struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	PointCost   int       `json:"point_cost"`
	Stock       int       `json:"stock"`
	CreatedBy   int64     `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

type RewardRedemption struct {
	RewardID    int64            `json:"reward_id"`
	UserID      int64            `json:"user_id"`
	PointsSpent int              `json:"points_spent"`
	NewBalance  int              `json:"new_balance"`
	Transaction PointTransaction `json:"transaction"`
}
