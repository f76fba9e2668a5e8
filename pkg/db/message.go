// Database models for chat messages
package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message statuses. Failed assistant messages record the error text in
// Content and are excluded from conversation history.
const (
	MessageStatusCompleted = "completed"
	MessageStatusFailed    = "failed"
)

// MessageMetadata captures how an assistant message was produced.
type MessageMetadata struct {
	TokensUsed int    `json:"tokens_used,omitempty"`
	Model      string `json:"model,omitempty"`
	Provider   string `json:"provider,omitempty"`
}

func (m *MessageMetadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *MessageMetadata) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("cannot scan %T into MessageMetadata", v)
	}
}

// Message is one turn of a conversation. Assistant messages carry the
// segment and document ids their answer was grounded on.
type Message struct {
	ID                string           `json:"id" gorm:"primaryKey;size:36"`
	ConversationID    string           `json:"conversation_id" gorm:"index;size:36;not null"`
	Role              string           `json:"role" gorm:"size:20;not null"`
	Status            string           `json:"status" gorm:"size:20;default:'completed'"`
	Content           string           `json:"content" gorm:"type:text"`
	SourceSegmentIDs  StringArray      `json:"source_segment_ids,omitempty" gorm:"type:text"`
	SourceDocumentIDs StringArray      `json:"source_document_ids,omitempty" gorm:"type:text"`
	Metadata          *MessageMetadata `json:"metadata,omitempty" gorm:"type:text"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

func (*Message) TableName() string {
	return "messages"
}
