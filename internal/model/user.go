package model

import "time"

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleParent Role = "parent"
	RoleChild  Role = "child"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleParent, RoleChild:
		return true
	}
	return false
}

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	ParentID     *int64    `json:"parent_id"`
	Points       int       `json:"points"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
