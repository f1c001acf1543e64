package models

import "time"

type User struct {
	ID             int64     `json:"id" yaml:"id"`
	Name           string    `json:"name" yaml:"name"`
	TelegramChatID int64     `json:"telegram_chat_id,omitempty" yaml:"telegram_chat_id"`
	CreatedAt      time.Time `json:"created_at" yaml:"-"`
	UpdatedAt      time.Time `json:"updated_at" yaml:"-"`
}

// Actor is whoever performs an operation: the member, an admin or a job.
type Actor struct {
	UserID int64
	Role   string
}

func Member(userID int64) Actor { return Actor{UserID: userID, Role: RoleMember} }

func Admin(userID int64) Actor { return Actor{UserID: userID, Role: RoleAdmin} }

func System() Actor { return Actor{Role: RoleSystem} }

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin || a.Role == RoleSystem
}

// CanActFor reports whether the actor may operate on a resource owned by userID.
func (a Actor) CanActFor(userID int64) bool {
	return a.IsAdmin() || a.UserID == userID
}

func (a Actor) Label() string {
	if a.Role == "" {
		return RoleMember
	}
	return a.Role
}
