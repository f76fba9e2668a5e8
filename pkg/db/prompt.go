package db

import "time"

// Prompt is a reusable prompt template. SystemPrompt replaces the
// built-in system prompt; UserPromptTemplate, when set, shapes the
// trailing user message. Both support {context} and {query}/{question}
// placeholders in single or double braces.
type Prompt struct {
	ID                 string    `json:"id" gorm:"primaryKey;size:36"`
	UserID             string    `json:"user_id" gorm:"index;size:36;not null"`
	Name               string    `json:"name" gorm:"size:200;not null"`
	SystemPrompt       string    `json:"system_prompt" gorm:"type:text;not null"`
	UserPromptTemplate string    `json:"user_prompt_template,omitempty" gorm:"type:text"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (Prompt) TableName() string {
	return "prompts"
}
