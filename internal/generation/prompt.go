package generation

import (
	"fmt"
	"strings"

	"github.com/cuongbtq/content-pipeline/internal/domain"
)

// ContentPrompt builds the instruction sent to the model for a generation request
func ContentPrompt(prompt string, kind domain.Kind) string {
	return fmt.Sprintf(
		"Generate a %s.\n\nUser prompt: %s\n\nRespond with a clear title on the first line and the full content after a blank line.",
		kind.Label(), prompt,
	)
}

// SentimentPrompt builds the instruction used to classify text
func SentimentPrompt(text string) string {
	return "Classify the sentiment of the following text as exactly one word: positive, neutral, or negative.\n\nText:\n" + text
}

// NoContentText replaces a blank generation reply
const NoContentText = "No content generated."

// ParseGenerated splits model output into a title (first line) and body (the rest).
// An empty title falls back to "<prompt> - <label>" and an empty body to the full text.
func ParseGenerated(text, prompt string, kind domain.Kind) Generated {
	text = strings.TrimSpace(text)
	if text == "" {
		text = NoContentText
	}

	title, rest, _ := strings.Cut(text, "\n")
	title = strings.TrimSpace(strings.Trim(strings.TrimSpace(title), "#*"))
	body := strings.TrimSpace(rest)

	if title == "" {
		title = fmt.Sprintf("%s - %s", prompt, kind.Label())
	}
	if body == "" {
		body = text
	}

	return Generated{Title: title, Body: body}
}

// ParseSentiment maps a free-form model answer onto the closed sentiment set
func ParseSentiment(answer string) domain.Sentiment {
	a := strings.ToLower(answer)
	switch {
	case strings.Contains(a, "positive"):
		return domain.SentimentPositive
	case strings.Contains(a, "negative"):
		return domain.SentimentNegative
	default:
		return domain.SentimentNeutral
	}
}
