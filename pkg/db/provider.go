// Database models for AI provider configurations
package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ModelPricing is informational catalog data, prices per million tokens.
type ModelPricing struct {
	Prompt     string `json:"prompt,omitempty"`
	Completion string `json:"completion,omitempty"`
}

// ModelInfo describes one model a provider can serve.
type ModelInfo struct {
	ID            string        `json:"id"`
	Name          string        `json:"name,omitempty"`
	ContextLength int           `json:"context_length,omitempty"`
	Pricing       *ModelPricing `json:"pricing,omitempty"`
}

// ModelList stores the provider's model catalog as JSON.
type ModelList []ModelInfo

func (l ModelList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *ModelList) Scan(value interface{}) error {
	if value == nil {
		*l = ModelList{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("cannot scan %T into ModelList", v)
	}
}

// Provider is a configured AI backend. Type selects the client family
// (openai, anthropic, openrouter, dashscope, perplexity, ollama, custom,
// builtin); the model catalog gates which model ids may be requested.
type Provider struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	UserID    string    `json:"user_id" gorm:"index;size:36;not null"`
	Name      string    `json:"name" gorm:"size:200;not null"`
	Type      string    `json:"type" gorm:"size:50;not null"`
	APIKey    string    `json:"api_key,omitempty" gorm:"size:500"`
	BaseURL   string    `json:"base_url,omitempty" gorm:"size:500"`
	Models    ModelList `json:"models" gorm:"type:text"`
	Enabled   bool      `json:"enabled" gorm:"default:true"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Provider) TableName() string {
	return "providers"
}

// HasModel reports whether the catalog contains the model id.
func (p *Provider) HasModel(id string) bool {
	for _, m := range p.Models {
		if m.ID == id {
			return true
		}
	}
	return false
}

// ModelIDs returns the catalog ids in catalog order.
func (p *Provider) ModelIDs() []string {
	ids := make([]string, 0, len(p.Models))
	for _, m := range p.Models {
		ids = append(ids, m.ID)
	}
	return ids
}
