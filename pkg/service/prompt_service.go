// Prompt assembly and prompt template management.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/quarryhq/quarry/pkg/db"
	"github.com/quarryhq/quarry/pkg/models"
	"github.com/quarryhq/quarry/pkg/utils"
)

var ErrPromptNotFound = errors.New("prompt not found")

const defaultSystemPrompt = `You are a helpful assistant that answers questions about a document collection.

Use the numbered context passages below as your primary source. If the context does not cover the question, you may answer from general knowledge, but say clearly that the answer is not based on the provided documents. Prefer giving a useful, correct answer over refusing.

Context:
{context}

Question: {query}`

type PromptService struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewPromptService(gdb *gorm.DB) *PromptService {
	return &PromptService{
		db:     gdb,
		logger: utils.GetLogger(),
	}
}

// Build assembles the provider-ready message list: system prompt first,
// then up to historyLimit prior messages, then the user question. A
// prompt id that cannot be loaded falls back to the default prompt.
func (s *PromptService) Build(userID, query string, segments []models.RetrievedSegment, history []*schema.Message, promptID string, includeHistory bool, historyLimit int) []*schema.Message {
	contextBlock := BuildContextBlock(segments)

	systemPrompt := defaultSystemPrompt
	userMessage := query

	if promptID != "" {
		prompt, err := s.findPrompt(userID, promptID)
		if err != nil {
			s.logger.Warn("prompt lookup failed, using the default prompt", "promptID", promptID, "error", err)
		} else {
			systemPrompt = prompt.SystemPrompt
			if prompt.UserPromptTemplate != "" {
				userMessage = substitutePlaceholders(prompt.UserPromptTemplate, contextBlock, query)
			}
		}
	}

	messages := make([]*schema.Message, 0, historyLimit+2)
	messages = append(messages, &schema.Message{
		Role:    schema.System,
		Content: substitutePlaceholders(systemPrompt, contextBlock, query),
	})

	if includeHistory && len(history) > 0 {
		if historyLimit <= 0 {
			historyLimit = models.DefaultHistoryLimit
		}
		if len(history) > historyLimit {
			history = history[len(history)-historyLimit:]
		}
		messages = append(messages, history...)
	}

	messages = append(messages, &schema.Message{Role: schema.User, Content: userMessage})
	return messages
}

// BuildContextBlock renders segments as 1-indexed numbered passages
// separated by blank lines.
func BuildContextBlock(segments []models.RetrievedSegment) string {
	if len(segments) == 0 {
		return ""
	}
	parts := make([]string, len(segments))
	for i, seg := range segments {
		parts[i] = fmt.Sprintf("[%d] %s", i+1, seg.Content)
	}
	return strings.Join(parts, "\n\n")
}

// substitutePlaceholders fills {context} and {query}/{question} in both
// single and double brace styles. Double braces are listed first so
// they are not half-replaced.
func substitutePlaceholders(template, contextBlock, query string) string {
	return strings.NewReplacer(
		"{{context}}", contextBlock,
		"{context}", contextBlock,
		"{{question}}", query,
		"{question}", query,
		"{{query}}", query,
		"{query}", query,
	).Replace(template)
}

func (s *PromptService) findPrompt(userID, promptID string) (*db.Prompt, error) {
	var prompt db.Prompt
	err := s.db.First(&prompt, "id = ? AND user_id = ?", promptID, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPromptNotFound
		}
		return nil, fmt.Errorf("load prompt %s: %w", promptID, err)
	}
	return &prompt, nil
}

// ========== Prompt CRUD ==========

func (s *PromptService) CreatePrompt(userID string, req *models.CreatePromptRequest) (*db.Prompt, error) {
	prompt := &db.Prompt{
		ID:                 uuid.New().String(),
		UserID:             userID,
		Name:               req.Name,
		SystemPrompt:       req.SystemPrompt,
		UserPromptTemplate: req.UserPromptTemplate,
	}
	if err := s.db.Create(prompt).Error; err != nil {
		return nil, fmt.Errorf("failed to create prompt: %w", err)
	}
	return prompt, nil
}

func (s *PromptService) GetPrompt(userID, promptID string) (*db.Prompt, error) {
	return s.findPrompt(userID, promptID)
}

func (s *PromptService) ListPrompts(userID string) ([]db.Prompt, error) {
	var prompts []db.Prompt
	if err := s.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&prompts).Error; err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	return prompts, nil
}

func (s *PromptService) DeletePrompt(userID, promptID string) error {
	result := s.db.Where("id = ? AND user_id = ?", promptID, userID).Delete(&db.Prompt{})
	if result.Error != nil {
		return fmt.Errorf("delete prompt: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrPromptNotFound
	}
	return nil
}
