package db

import "time"

// UserSettings holds a user's default chat settings, consulted when the
// dataset has none of its own.
type UserSettings struct {
	UserID       string        `json:"user_id" gorm:"primaryKey;size:36"`
	ChatSettings *ChatSettings `json:"chat_settings,omitempty" gorm:"type:text"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

func (UserSettings) TableName() string {
	return "user_settings"
}
