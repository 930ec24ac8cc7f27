package models

import (
	"strings"
	"time"
)

// Role is the single role a user holds in the editorial system.
type Role string

const (
	RoleAuthor   Role = "author"
	RoleReviewer Role = "reviewer"
	RoleEditor   Role = "editor"
	RoleAdmin    Role = "admin"
)

// ParseRole normalises a role name. The boolean is false for unknown roles.
func ParseRole(raw string) (Role, bool) {
	switch role := Role(strings.ToLower(strings.TrimSpace(raw))); role {
	case RoleAuthor, RoleReviewer, RoleEditor, RoleAdmin:
		return role, true
	default:
		return "", false
	}
}

type User struct {
	ID          string     `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	Email       string     `gorm:"column:email;type:varchar(191);uniqueIndex" json:"email"`
	Name        string     `gorm:"column:name" json:"name"`
	Role        Role       `gorm:"column:role;type:varchar(16);index" json:"role"`
	Affiliation *string    `gorm:"column:affiliation" json:"affiliation,omitempty"`
	CreatedAt   time.Time  `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt   time.Time  `gorm:"column:updated_at" json:"updatedAt"`
	DeletedAt   *time.Time `gorm:"column:deleted_at" json:"deletedAt,omitempty"`
}

// TableName overrides
func (User) TableName() string {
	return "users"
}

// Active reports whether the user has not been soft-deleted.
func (u *User) Active() bool {
	return u != nil && u.DeletedAt == nil
}
