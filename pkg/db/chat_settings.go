package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// ChatSettings is the generation configuration blob stored on datasets
// and user settings. Pointer fields distinguish "unset" from zero values.
type ChatSettings struct {
	Provider       string   `json:"provider,omitempty"`
	Model          string   `json:"model,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	MaxChunks      *int     `json:"max_chunks,omitempty"`
	PromptID       string   `json:"prompt_id,omitempty"`
	IncludeHistory *bool    `json:"include_history,omitempty"`
	HistoryLimit   *int     `json:"history_limit,omitempty"`
}

// Empty reports whether the blob carries no generation opinion. Prompt
// and history preferences alone do not make a settings layer win.
func (s *ChatSettings) Empty() bool {
	if s == nil {
		return true
	}
	return s.Provider == "" && s.Model == "" && s.Temperature == nil && s.MaxChunks == nil
}

func (s *ChatSettings) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *ChatSettings) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("cannot scan %T into ChatSettings", v)
	}
}
