package generation

import (
	"errors"
	"testing"

	"github.com/cuongbtq/content-pipeline/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestContentPrompt(t *testing.T) {
	got := ContentPrompt("outline for a blog about cats", domain.KindBlogOutline)

	assert.Contains(t, got, "Generate a Blog Post Outline.")
	assert.Contains(t, got, "User prompt: outline for a blog about cats")
	assert.Contains(t, got, "title on the first line")
}

func TestParseGenerated(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantTitle string
		wantBody  string
	}{
		{
			name:      "title and body",
			text:      "Why Cats Rule\n\nCats are great.\nThey nap a lot.",
			wantTitle: "Why Cats Rule",
			wantBody:  "Cats are great.\nThey nap a lot.",
		},
		{
			name:      "markdown heading is stripped",
			text:      "## Why Cats Rule\n\nCats are great.",
			wantTitle: "Why Cats Rule",
			wantBody:  "Cats are great.",
		},
		{
			name:      "single line keeps the whole text as body",
			text:      "Just one line",
			wantTitle: "Just one line",
			wantBody:  "Just one line",
		},
		{
			name:      "empty output uses the placeholder",
			text:      "   ",
			wantTitle: NoContentText,
			wantBody:  NoContentText,
		},
		{
			name:      "heading-only first line falls back to prompt",
			text:      "##\nCats are great.",
			wantTitle: "cats - Blog Post Outline",
			wantBody:  "Cats are great.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseGenerated(tt.text, "cats", domain.KindBlogOutline)
			assert.Equal(t, tt.wantTitle, got.Title)
			assert.Equal(t, tt.wantBody, got.Body)
		})
	}
}

func TestParseSentiment(t *testing.T) {
	tests := []struct {
		answer string
		want   domain.Sentiment
	}{
		{answer: "positive", want: domain.SentimentPositive},
		{answer: "Positive.", want: domain.SentimentPositive},
		{answer: "NEGATIVE", want: domain.SentimentNegative},
		{answer: "neutral", want: domain.SentimentNeutral},
		{answer: "mixed feelings", want: domain.SentimentNeutral},
		{answer: "", want: domain.SentimentNeutral},
	}

	for _, tt := range tests {
		t.Run(tt.answer, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseSentiment(tt.answer))
		})
	}
}

func TestUpstreamError(t *testing.T) {
	cause := errors.New("503 service unavailable")
	err := NewUpstreamError("generate content", cause)

	var upstream *UpstreamError
	assert.True(t, errors.As(err, &upstream))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "generate content failed: 503 service unavailable", err.Error())
}
