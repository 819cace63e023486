// internal/gpt/client.go
package gpt

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Verdict is the moderation outcome for one text.
type Verdict struct {
	Flagged    bool
	Categories []string
}

// Client screens review text before it is posted. A zero Client (no API
// key) lets everything through.
type Client struct {
	client *openai.Client
	model  string
}

func NewClient(apiKey string) *Client {
	if apiKey == "" {
		return &Client{}
	}
	return &Client{
		client: openai.NewClient(apiKey),
		model:  openai.ModerationTextLatest,
	}
}

// WithBaseURL points the client at another OpenAI-compatible endpoint.
func (c *Client) WithBaseURL(apiKey, baseURL string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	c.client = openai.NewClientWithConfig(cfg)
	if c.model == "" {
		c.model = openai.ModerationTextLatest
	}
	return c
}

func (c *Client) WithModel(model string) *Client {
	if model != "" {
		c.model = model
	}
	return c
}

// Enabled reports whether moderation calls are made at all.
func (c *Client) Enabled() bool {
	return c != nil && c.client != nil
}

// Moderate asks the moderation endpoint about text.
func (c *Client) Moderate(ctx context.Context, text string) (Verdict, error) {
	if !c.Enabled() || strings.TrimSpace(text) == "" {
		return Verdict{}, nil
	}

	resp, err := c.client.Moderations(ctx, openai.ModerationRequest{
		Input: text,
		Model: c.model,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("moderation request failed: %w", err)
	}
	if len(resp.Results) == 0 {
		return Verdict{}, fmt.Errorf("no result from moderation API")
	}

	r := resp.Results[0]
	v := Verdict{Flagged: r.Flagged}
	cat := r.Categories
	for name, hit := range map[string]bool{
		"hate":       cat.Hate,
		"harassment": cat.Harassment,
		"self-harm":  cat.SelfHarm,
		"sexual":     cat.Sexual,
		"violence":   cat.Violence,
	} {
		if hit {
			v.Categories = append(v.Categories, name)
		}
	}
	slices.Sort(v.Categories)
	return v, nil
}
