package domain

import (
	"time"
)

type User struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	Group        string    `json:"group"`
}

// WildcardPermission grants every permission when present in a group's list.
const WildcardPermission = "*"

type Group struct {
	Name        string   `json:"name"`
	Color       string   `json:"color"`
	Permissions []string `json:"permissions"`
}
