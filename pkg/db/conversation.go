// Database models for chat conversations
package db

import "time"

// Conversation represents a chat thread scoped to one dataset and user.
// The selected document/segment ids are a snapshot of the filters the
// conversation was started with.
type Conversation struct {
	ID                  string      `json:"id" gorm:"primaryKey;size:36"`
	DatasetID           string      `json:"dataset_id" gorm:"index;size:36;not null"`
	UserID              string      `json:"user_id" gorm:"index;size:36;not null"`
	Title               string      `json:"title" gorm:"size:200;default:'New Chat'"`
	SelectedDocumentIDs StringArray `json:"selected_document_ids,omitempty" gorm:"type:text"`
	SelectedSegmentIDs  StringArray `json:"selected_segment_ids,omitempty" gorm:"type:text"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}
