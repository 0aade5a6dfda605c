package store

import (
	"database/sql"
	"fmt"

	"github.com/dukerupert/homebank/internal/model"
)

type PushStore struct {
	db *sql.DB
}

func NewPushStore(db *sql.DB) *PushStore {
	return &PushStore{db: db}
}

const pushCols = `id, user_id, endpoint, p256dh_key, auth_key, device_name, created_at`

func scanSubscription(scanner rowScanner) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	err := scanner.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey, &sub.DeviceName, &sub.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Upsert saves a subscription. A browser re-subscribing with the same
// endpoint replaces the keys and moves it to the current user.
func (s *PushStore) Upsert(userID int64, endpoint, p256dh, auth, deviceName string) (*model.PushSubscription, error) {
	_, err := s.db.Exec(
		`INSERT INTO push_subscriptions (user_id, endpoint, p256dh_key, auth_key, device_name)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(endpoint) DO UPDATE SET
		   user_id = excluded.user_id,
		   p256dh_key = excluded.p256dh_key,
		   auth_key = excluded.auth_key,
		   device_name = excluded.device_name`,
		userID, endpoint, p256dh, auth, deviceName,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert push subscription: %w", err)
	}
	return s.GetByEndpoint(endpoint)
}

func (s *PushStore) GetByEndpoint(endpoint string) (*model.PushSubscription, error) {
	row := s.db.QueryRow(`SELECT `+pushCols+` FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get push subscription: %w", err)
	}
	return sub, nil
}

func (s *PushStore) ListByUser(userID int64) ([]model.PushSubscription, error) {
	rows, err := s.db.Query(
		`SELECT `+pushCols+` FROM push_subscriptions WHERE user_id = ? ORDER BY id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []model.PushSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan push subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// DeleteForUser removes one of the user's subscriptions and reports
// whether anything was deleted.
func (s *PushStore) DeleteForUser(userID int64, endpoint string) (bool, error) {
	result, err := s.db.Exec(`DELETE FROM push_subscriptions WHERE user_id = ? AND endpoint = ?`, userID, endpoint)
	if err != nil {
		return false, fmt.Errorf("delete push subscription: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *PushStore) DeleteByEndpoint(endpoint string) error {
	_, err := s.db.Exec(`DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	if err != nil {
		return fmt.Errorf("delete push subscription by endpoint: %w", err)
	}
	return nil
}
