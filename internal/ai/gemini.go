package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements Model on top of the Google Generative AI SDK.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini constructs a client for the named model.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("init gemini client: %w", err)
	}
	return &Gemini{client: client, model: strings.TrimPrefix(strings.TrimSpace(model), "models/")}, nil
}

// Close releases the underlying connection.
func (g *Gemini) Close() error { return g.client.Close() }

// Chat opens a chat session seeded with req.History and sends req.Message.
func (g *Gemini) Chat(ctx context.Context, req Request) (string, error) {
	m := g.client.GenerativeModel(g.model)
	if req.MaxOutputTokens > 0 {
		m.SetMaxOutputTokens(req.MaxOutputTokens)
	}
	cs := m.StartChat()
	cs.History = toGenaiHistory(req.History)

	resp, err := cs.SendMessage(ctx, genai.Text(req.Message))
	if err != nil {
		return "", fmt.Errorf("gemini send: %w", err)
	}
	return responseText(resp)
}

func toGenaiHistory(history []Content) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, h := range history {
		parts := make([]genai.Part, 0, len(h.Parts))
		for _, p := range h.Parts {
			parts = append(parts, genai.Text(p))
		}
		out = append(out, &genai.Content{Role: h.Role, Parts: parts})
	}
	return out
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyResponse
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	if b.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return b.String(), nil
}
