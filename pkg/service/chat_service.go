// Chat Service - orchestrates retrieval-augmented conversations over datasets
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/quarryhq/quarry/pkg/db"
	"github.com/quarryhq/quarry/pkg/models"
	"github.com/quarryhq/quarry/pkg/utils"
)

var ErrConversationNotFound = errors.New("conversation not found")

// settingsResolver folds stored and request-level settings into the
// effective configuration for one request.
type settingsResolver interface {
	Resolve(ctx context.Context, userID string, dataset *db.Dataset, req *models.ChatRequest) (*models.EffectiveSettings, error)
}

// segmentRetriever finds the dataset segments most relevant to a query.
type segmentRetriever interface {
	Retrieve(ctx context.Context, dataset *db.Dataset, query string, documentIDs, segmentIDs []string, maxChunks int) ([]models.RetrievedSegment, error)
}

// responseGenerator produces the assistant reply from the retrieved context.
type responseGenerator interface {
	Generate(ctx context.Context, userID, query string, settings *models.EffectiveSettings, segments []models.RetrievedSegment, history []*schema.Message) (*models.Completion, error)
	GenerateStream(ctx context.Context, userID, query string, settings *models.EffectiveSettings, segments []models.RetrievedSegment, history []*schema.Message) (<-chan models.StreamChunk, error)
}

// ChatService runs the chat pipeline: resolve the conversation, persist
// the user message, then settings, retrieval and generation in order.
type ChatService struct {
	db        *gorm.DB
	settings  settingsResolver
	retriever segmentRetriever
	generator responseGenerator
	logger    *slog.Logger
}

// NewChatService creates a new chat service
func NewChatService(gdb *gorm.DB, settings settingsResolver, retriever segmentRetriever, generator responseGenerator) *ChatService {
	return &ChatService{
		db:        gdb,
		settings:  settings,
		retriever: retriever,
		generator: generator,
		logger:    utils.GetLogger(),
	}
}

// SendMessage runs one full chat turn and returns the assistant reply.
//
// Once the conversation exists, any pipeline failure is recorded on the
// conversation as a failed assistant message before the error is returned.
func (s *ChatService) SendMessage(ctx context.Context, userID string, req *models.ChatRequest) (*models.ChatResponse, error) {
	started := time.Now()

	dataset, err := s.getDataset(userID, req.DatasetID)
	if err != nil {
		return nil, err
	}

	conv, history, err := s.resolveConversation(userID, req)
	if err != nil {
		return nil, err
	}

	if err := s.saveUserMessage(conv.ID, req.Message); err != nil {
		return nil, err
	}

	settings, err := s.settings.Resolve(ctx, userID, dataset, req)
	if err != nil {
		s.recordFailure(conv.ID, err)
		return nil, err
	}

	segments, err := s.retriever.Retrieve(ctx, dataset, req.Message, req.DocumentIDs, req.SegmentIDs, settings.MaxChunks)
	if err != nil {
		s.recordFailure(conv.ID, err)
		return nil, err
	}

	completion, err := s.generator.Generate(ctx, userID, req.Message, settings, segments, history)
	if err != nil {
		s.recordFailure(conv.ID, err)
		return nil, err
	}

	assistantMsg, err := s.saveAssistantMessage(conv.ID, completion, segments)
	if err != nil {
		s.recordFailure(conv.ID, err)
		return nil, err
	}
	s.touchConversation(conv.ID)

	return s.buildResponse(conv.ID, assistantMsg, completion, segments, started), nil
}

// StreamMessage runs one chat turn, emitting deltas as they arrive. The
// returned channel carries delta events followed by a terminal done event
// with the full response envelope, or an error event; it is closed when
// the turn ends. Failures are recorded the same way SendMessage records
// them.
func (s *ChatService) StreamMessage(ctx context.Context, userID string, req *models.ChatRequest) (<-chan models.ChatStreamEvent, error) {
	started := time.Now()

	dataset, err := s.getDataset(userID, req.DatasetID)
	if err != nil {
		return nil, err
	}

	conv, history, err := s.resolveConversation(userID, req)
	if err != nil {
		return nil, err
	}

	if err := s.saveUserMessage(conv.ID, req.Message); err != nil {
		return nil, err
	}

	settings, err := s.settings.Resolve(ctx, userID, dataset, req)
	if err != nil {
		s.recordFailure(conv.ID, err)
		return nil, err
	}

	segments, err := s.retriever.Retrieve(ctx, dataset, req.Message, req.DocumentIDs, req.SegmentIDs, settings.MaxChunks)
	if err != nil {
		s.recordFailure(conv.ID, err)
		return nil, err
	}

	chunks, err := s.generator.GenerateStream(ctx, userID, req.Message, settings, segments, history)
	if err != nil {
		s.recordFailure(conv.ID, err)
		return nil, err
	}

	events := make(chan models.ChatStreamEvent, 8)
	go s.pumpEvents(ctx, conv.ID, chunks, segments, started, events)
	return events, nil
}

// pumpEvents consumes generation chunks and translates them into chat
// stream events, persisting the assistant message on completion.
func (s *ChatService) pumpEvents(ctx context.Context, conversationID string, chunks <-chan models.StreamChunk, segments []models.RetrievedSegment, started time.Time, events chan<- models.ChatStreamEvent) {
	defer close(events)

	for chunk := range chunks {
		switch chunk.Type {
		case models.StreamEventDelta:
			s.emitEvent(ctx, events, models.ChatStreamEvent{
				Type:    models.StreamEventDelta,
				Content: chunk.Content,
			})

		case models.StreamEventError:
			cause := errors.New(chunk.Err)
			s.recordFailure(conversationID, cause)
			s.emitEvent(ctx, events, models.ChatStreamEvent{
				Type:  models.StreamEventError,
				Error: formatRequestError(cause),
			})
			return

		case models.StreamEventDone:
			assistantMsg, err := s.saveAssistantMessage(conversationID, chunk.Completion, segments)
			if err != nil {
				s.logger.Error("Failed to save assistant message", "conversationID", conversationID, "error", err)
				s.emitEvent(ctx, events, models.ChatStreamEvent{
					Type:  models.StreamEventError,
					Error: formatRequestError(err),
				})
				return
			}
			s.touchConversation(conversationID)
			s.emitEvent(ctx, events, models.ChatStreamEvent{
				Type:     models.StreamEventDone,
				Response: s.buildResponse(conversationID, assistantMsg, chunk.Completion, segments, started),
			})
			return
		}
	}

	// The generator closed without a terminal chunk, which only happens
	// when the request context is gone.
	s.recordFailure(conversationID, context.Canceled)
}

func (s *ChatService) emitEvent(ctx context.Context, events chan<- models.ChatStreamEvent, ev models.ChatStreamEvent) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

// ========== Conversation Management ==========

// CreateConversation starts a conversation over a dataset, snapshotting
// any document or segment selection from the first request.
func (s *ChatService) CreateConversation(userID, datasetID, title string, documentIDs, segmentIDs []string) (*db.Conversation, error) {
	if _, err := s.getDataset(userID, datasetID); err != nil {
		return nil, err
	}

	if title == "" {
		title = "New Chat"
	}

	conv := &db.Conversation{
		ID:                  uuid.New().String(),
		DatasetID:           datasetID,
		UserID:              userID,
		Title:               title,
		SelectedDocumentIDs: db.StringArray(documentIDs),
		SelectedSegmentIDs:  db.StringArray(segmentIDs),
	}
	if err := s.db.Create(conv).Error; err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// GetConversations lists the user's conversations, optionally scoped to
// one dataset, most recently active first.
func (s *ChatService) GetConversations(userID, datasetID string) ([]db.Conversation, error) {
	q := s.db.Where("user_id = ?", userID)
	if datasetID != "" {
		q = q.Where("dataset_id = ?", datasetID)
	}

	var conversations []db.Conversation
	if err := q.Order("updated_at DESC").Find(&conversations).Error; err != nil {
		return nil, err
	}
	return conversations, nil
}

// GetConversation retrieves a conversation owned by the user
func (s *ChatService) GetConversation(userID, id string) (*db.Conversation, error) {
	var conv db.Conversation
	err := s.db.Where("id = ? AND user_id = ?", id, userID).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// GetMessages retrieves all messages for a conversation
func (s *ChatService) GetMessages(conversationID string) ([]db.Message, error) {
	var messages []db.Message
	if err := s.db.Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

// DeleteConversation removes a conversation and its messages.
func (s *ChatService) DeleteConversation(userID, id string) error {
	if _, err := s.GetConversation(userID, id); err != nil {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		// Delete messages first
		if err := tx.Where("conversation_id = ?", id).Delete(&db.Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(&db.Conversation{}, "id = ?", id).Error
	})
}

// ========== Pipeline Helpers ==========

func (s *ChatService) getDataset(userID, datasetID string) (*db.Dataset, error) {
	var dataset db.Dataset
	err := s.db.Preload("Documents").
		Where("id = ? AND user_id = ?", datasetID, userID).
		First(&dataset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDatasetNotFound
	}
	if err != nil {
		return nil, err
	}
	return &dataset, nil
}

// resolveConversation reuses the requested conversation when it belongs
// to this user and dataset, and starts a fresh one otherwise. History is
// only loaded for reused conversations.
func (s *ChatService) resolveConversation(userID string, req *models.ChatRequest) (*db.Conversation, []*schema.Message, error) {
	if req.ConversationID != "" {
		var conv db.Conversation
		err := s.db.Where("id = ? AND user_id = ? AND dataset_id = ?",
			req.ConversationID, userID, req.DatasetID).First(&conv).Error
		if err == nil {
			history, err := s.conversationHistory(conv.ID)
			if err != nil {
				return nil, nil, err
			}
			return &conv, history, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, err
		}
		// Unknown or foreign conversation ids fall through to a new one.
	}

	conv, err := s.CreateConversation(userID, req.DatasetID, req.ConversationTitle, req.DocumentIDs, req.SegmentIDs)
	if err != nil {
		return nil, nil, err
	}
	return conv, nil, nil
}

// conversationHistory replays completed messages in order for the prompt.
func (s *ChatService) conversationHistory(conversationID string) ([]*schema.Message, error) {
	messages, err := s.GetMessages(conversationID)
	if err != nil {
		return nil, err
	}

	history := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Status != db.MessageStatusCompleted || msg.Content == "" {
			continue
		}
		history = append(history, &schema.Message{
			Role:    schema.RoleType(msg.Role),
			Content: msg.Content,
		})
	}
	return history, nil
}

func (s *ChatService) saveUserMessage(conversationID, content string) error {
	msg := &db.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           db.RoleUser,
		Status:         db.MessageStatusCompleted,
		Content:        content,
	}
	if err := s.db.Create(msg).Error; err != nil {
		return fmt.Errorf("save user message: %w", err)
	}
	return nil
}

// saveAssistantMessage persists the reply with its retrieval provenance.
func (s *ChatService) saveAssistantMessage(conversationID string, completion *models.Completion, segments []models.RetrievedSegment) (*db.Message, error) {
	segmentIDs := make(db.StringArray, 0, len(segments))
	documentIDs := make(db.StringArray, 0, len(segments))
	seen := make(map[string]bool)
	for _, seg := range segments {
		segmentIDs = append(segmentIDs, seg.ID)
		if seg.DocumentID != "" && !seen[seg.DocumentID] {
			seen[seg.DocumentID] = true
			documentIDs = append(documentIDs, seg.DocumentID)
		}
	}

	msg := &db.Message{
		ID:                uuid.New().String(),
		ConversationID:    conversationID,
		Role:              db.RoleAssistant,
		Status:            db.MessageStatusCompleted,
		Content:           completion.Content,
		SourceSegmentIDs:  segmentIDs,
		SourceDocumentIDs: documentIDs,
		Metadata: &db.MessageMetadata{
			TokensUsed: completion.TokensUsed,
			Model:      completion.Model,
			Provider:   completion.Provider,
		},
	}
	if err := s.db.Create(msg).Error; err != nil {
		return nil, fmt.Errorf("save assistant message: %w", err)
	}
	return msg, nil
}

// recordFailure leaves a failed assistant message on the conversation so
// the client sees what went wrong on reload. Best effort: persistence
// errors are logged, never returned.
func (s *ChatService) recordFailure(conversationID string, cause error) {
	msg := &db.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           db.RoleAssistant,
		Status:         db.MessageStatusFailed,
		Content:        formatRequestError(cause),
	}
	if err := s.db.Create(msg).Error; err != nil {
		s.logger.Error("Failed to record failed assistant message",
			"conversationID", conversationID, "error", err)
	}
}

func (s *ChatService) buildResponse(conversationID string, msg *db.Message, completion *models.Completion, segments []models.RetrievedSegment, started time.Time) *models.ChatResponse {
	chunks := make([]models.SourceChunk, 0, len(segments))
	for _, seg := range segments {
		chunks = append(chunks, models.SourceChunk{
			ID:           seg.ID,
			Content:      seg.Content,
			DocumentID:   seg.DocumentID,
			DocumentName: "Document " + seg.DocumentID,
			Similarity:   seg.Similarity,
		})
	}

	return &models.ChatResponse{
		Message:        msg,
		ConversationID: conversationID,
		SourceChunks:   chunks,
		Metadata: models.ResponseMetadata{
			TokensUsed:     completion.TokensUsed,
			ProcessingTime: time.Since(started).Milliseconds(),
			Model:          completion.Model,
			Provider:       completion.Provider,
		},
	}
}

func (s *ChatService) touchConversation(conversationID string) {
	if err := s.db.Model(&db.Conversation{}).Where("id = ?", conversationID).
		Update("updated_at", time.Now()).Error; err != nil {
		s.logger.Warn("Failed to touch conversation", "conversationID", conversationID, "error", err)
	}
}

// formatRequestError maps raw pipeline errors to a message suitable for
// storing on the failed assistant message.
func formatRequestError(err error) string {
	errStr := err.Error()

	switch {
	case strings.Contains(errStr, "context canceled"):
		return "The request was cancelled."

	case strings.Contains(errStr, "context deadline exceeded"):
		return "The request timed out. Please try again."

	case strings.Contains(errStr, "rate limit"):
		return "Rate limit exceeded. Please wait a moment and try again."

	case strings.Contains(errStr, "insufficient_quota"):
		return "API quota exceeded. Please check your API key balance."

	case strings.Contains(errStr, "invalid_api_key"):
		return "Invalid API key. Please check your provider configuration."

	case strings.Contains(errStr, "connection refused"), strings.Contains(errStr, "no such host"):
		return "Failed to connect to the AI provider. Please check the base URL and your network."
	}

	if len(errStr) > 200 {
		errStr = errStr[:200] + "..."
	}
	return "An error occurred: " + errStr
}
