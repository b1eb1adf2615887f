package testutil

import (
	"context"
	"sync"

	"github.com/cuongbtq/content-pipeline/internal/domain"
	"github.com/cuongbtq/content-pipeline/internal/generation"
)

// FakeGenerator returns canned content. GenerateErr and ClassifyErr force failures;
// Block makes Generate wait for the context.
type FakeGenerator struct {
	mu          sync.Mutex
	Title       string
	Body        string
	Sentiment   domain.Sentiment
	GenerateErr error
	ClassifyErr error
	Block       bool
	calls       int
}

// NewFakeGenerator returns a generator that always succeeds
func NewFakeGenerator() *FakeGenerator {
	return &FakeGenerator{
		Title:     "Why Cats Rule",
		Body:      "I. Introduction\nII. Independence\nIII. Conclusion",
		Sentiment: domain.SentimentPositive,
	}
}

func (g *FakeGenerator) Generate(ctx context.Context, _ string, _ domain.Kind) (generation.Generated, error) {
	g.mu.Lock()
	g.calls++
	block, err := g.Block, g.GenerateErr
	out := generation.Generated{Title: g.Title, Body: g.Body}
	g.mu.Unlock()

	if block {
		<-ctx.Done()
		return generation.Generated{}, ctx.Err()
	}
	if err != nil {
		return generation.Generated{}, err
	}
	return out, nil
}

func (g *FakeGenerator) ClassifySentiment(context.Context, string) (domain.Sentiment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ClassifyErr != nil {
		return "", g.ClassifyErr
	}
	return g.Sentiment, nil
}

// Calls returns how many times Generate was invoked
func (g *FakeGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}
