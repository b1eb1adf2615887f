// Package gemini implements the generation client on top of the Google Gen AI SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cuongbtq/content-pipeline/internal/domain"
	"github.com/cuongbtq/content-pipeline/internal/generation"
	"google.golang.org/genai"
)

// DefaultModel is used when no model is configured
const DefaultModel = "gemini-2.5-flash-lite"

// Config holds the Gemini client settings
type Config struct {
	APIKey string
	Model  string
}

// textModel is the single remote call the generator depends on
type textModel interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// Generator implements generation.Generator with Gemini
type Generator struct {
	model  textModel
	logger *slog.Logger
}

// New creates a Generator. A missing API key yields generation.ErrConfiguration.
func New(ctx context.Context, config Config, logger *slog.Logger) (*Generator, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY is not configured", generation.ErrConfiguration)
	}

	modelName := config.Model
	if modelName == "" {
		modelName = DefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrConfiguration, err)
	}

	logger.Info("Gemini generator initialized", slog.String("model", modelName))

	return newGenerator(&sdkModel{client: client, name: modelName}, logger), nil
}

func newGenerator(model textModel, logger *slog.Logger) *Generator {
	return &Generator{model: model, logger: logger}
}

// Generate produces a title and body for prompt
func (g *Generator) Generate(ctx context.Context, prompt string, kind domain.Kind) (generation.Generated, error) {
	text, err := g.model.GenerateText(ctx, generation.ContentPrompt(prompt, kind))
	if err != nil {
		return generation.Generated{}, generation.NewUpstreamError("generate content", err)
	}

	g.logger.Debug("Content generated",
		slog.String("content_type", string(kind)),
		slog.Int("length", len(text)),
	)

	return generation.ParseGenerated(text, prompt, kind), nil
}

// ClassifySentiment classifies text as positive, neutral or negative
func (g *Generator) ClassifySentiment(ctx context.Context, text string) (domain.Sentiment, error) {
	answer, err := g.model.GenerateText(ctx, generation.SentimentPrompt(text))
	if err != nil {
		return "", generation.NewUpstreamError("classify sentiment", err)
	}
	return generation.ParseSentiment(answer), nil
}

type sdkModel struct {
	client *genai.Client
	name   string
}

var errBlocked = errors.New("response blocked by safety filters")

func (m *sdkModel) GenerateText(ctx context.Context, prompt string) (string, error) {
	resp, err := m.client.Models.GenerateContent(ctx, m.name, genai.Text(prompt), nil)
	if err != nil {
		return "", err
	}
	return responseText(resp)
}

// responseText concatenates the text parts of the first candidate. Blank parts yield "".
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("empty response")
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", errBlocked
	}
	if candidate.Content == nil {
		return "", errors.New("response has no content")
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}

	return sb.String(), nil
}
