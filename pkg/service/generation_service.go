// Response generation: prompt assembly, the provider call and the
// streaming surface with its word-chunk fallback.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/quarryhq/quarry/pkg/db"
	"github.com/quarryhq/quarry/pkg/models"
	"github.com/quarryhq/quarry/pkg/utils"
)

// streamWordDelay paces synthetic word chunks so fallback streams read
// like real ones.
const streamWordDelay = 15 * time.Millisecond

// clientResolver is the gateway surface the generator depends on.
type clientResolver interface {
	ResolveClient(ctx context.Context, userID string, settings *models.EffectiveSettings) (ChatClient, *db.Provider, error)
}

type GenerationService struct {
	prompts   *PromptService
	providers clientResolver
	logger    *slog.Logger
	wordDelay time.Duration
}

func NewGenerationService(prompts *PromptService, providers clientResolver) *GenerationService {
	return &GenerationService{
		prompts:   prompts,
		providers: providers,
		logger:    utils.GetLogger(),
		wordDelay: streamWordDelay,
	}
}

// Generate produces the complete grounded answer for one request.
func (s *GenerationService) Generate(ctx context.Context, userID, query string, settings *models.EffectiveSettings, segments []models.RetrievedSegment, history []*schema.Message) (*models.Completion, error) {
	client, provider, err := s.providers.ResolveClient(ctx, userID, settings)
	if err != nil {
		return nil, err
	}

	messages := s.prompts.Build(userID, query, segments, history, settings.PromptID, settings.IncludeHistory, settings.HistoryLimit)

	completion, err := client.ChatCompletion(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	fillCompletionDefaults(completion, settings, provider)
	return completion, nil
}

// GenerateStream emits deltas followed by a done chunk carrying the
// aggregated completion. Clients without streaming, and streams that
// fail mid-flight, degrade to the non-streaming call re-emitted as
// synthetic word chunks.
func (s *GenerationService) GenerateStream(ctx context.Context, userID, query string, settings *models.EffectiveSettings, segments []models.RetrievedSegment, history []*schema.Message) (<-chan models.StreamChunk, error) {
	client, provider, err := s.providers.ResolveClient(ctx, userID, settings)
	if err != nil {
		return nil, err
	}

	messages := s.prompts.Build(userID, query, segments, history, settings.PromptID, settings.IncludeHistory, settings.HistoryLimit)

	out := make(chan models.StreamChunk, 32)
	go func() {
		defer close(out)

		if streamer, ok := client.(StreamingChatClient); ok {
			completion, streamErr := s.pumpStream(ctx, streamer, messages, settings, provider, out)
			if streamErr == nil {
				emitChunk(ctx, out, models.StreamChunk{Type: models.StreamEventDone, Completion: completion})
				return
			}
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("streaming failed, falling back to the non-streaming call",
				"provider", provider.Name, "error", streamErr)
		}

		completion, err := client.ChatCompletion(ctx, messages)
		if err != nil {
			emitChunk(ctx, out, models.StreamChunk{Type: models.StreamEventError, Err: err.Error()})
			return
		}
		fillCompletionDefaults(completion, settings, provider)

		s.emitWordChunks(ctx, completion.Content, out)
		emitChunk(ctx, out, models.StreamChunk{Type: models.StreamEventDone, Completion: completion})
	}()
	return out, nil
}

// pumpStream forwards provider deltas and returns the aggregated
// completion, or the first error encountered.
func (s *GenerationService) pumpStream(ctx context.Context, streamer StreamingChatClient, messages []*schema.Message, settings *models.EffectiveSettings, provider *db.Provider, out chan<- models.StreamChunk) (*models.Completion, error) {
	deltas, err := streamer.ChatCompletionStream(ctx, messages)
	if err != nil {
		return nil, err
	}

	var content strings.Builder
	for delta := range deltas {
		if delta.Err != nil {
			return nil, delta.Err
		}
		if delta.Content == "" {
			continue
		}
		content.WriteString(delta.Content)
		if !emitChunk(ctx, out, models.StreamChunk{Type: models.StreamEventDelta, Content: delta.Content}) {
			return nil, ctx.Err()
		}
	}

	completion := &models.Completion{Content: content.String()}
	fillCompletionDefaults(completion, settings, provider)
	return completion, nil
}

// emitWordChunks re-emits content as word-sized deltas whose
// concatenation reproduces the content exactly.
func (s *GenerationService) emitWordChunks(ctx context.Context, content string, out chan<- models.StreamChunk) {
	if content == "" {
		return
	}
	for _, piece := range strings.SplitAfter(content, " ") {
		if piece == "" {
			continue
		}
		if !emitChunk(ctx, out, models.StreamChunk{Type: models.StreamEventDelta, Content: piece}) {
			return
		}
		if s.wordDelay > 0 {
			select {
			case <-time.After(s.wordDelay):
			case <-ctx.Done():
				return
			}
		}
	}
}

func emitChunk(ctx context.Context, out chan<- models.StreamChunk, chunk models.StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func fillCompletionDefaults(completion *models.Completion, settings *models.EffectiveSettings, provider *db.Provider) {
	if completion.Model == "" {
		completion.Model = settings.Model
	}
	if completion.Provider == "" && provider != nil {
		completion.Provider = provider.Name
	}
}
