// Package gemini adapts Google's Gemini API to the model.Provider contract.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"google.golang.org/genai"

	ctxpkg "github.com/stupiduntilnot/agentdbg/internal/context"
	"github.com/stupiduntilnot/agentdbg/internal/model"
)

const providerName = "gemini"

type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// Client queries Gemini models through google.golang.org/genai.
type Client struct {
	models generator
}

// NewClient creates a Gemini client for the given API key.
func NewClient(ctx context.Context, apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Client{models: client.Models}, nil
}

// Query sends the transcript to Gemini. System messages become the system
// instruction; assistant turns are sent with the model role.
func (c *Client) Query(ctx context.Context, req model.Request) (model.Response, error) {
	system, contents := toContents(req.Messages)
	if len(contents) == 0 {
		return model.Response{}, fmt.Errorf("gemini request requires at least one user message")
	}
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	if req.Stream != nil {
		return c.stream(ctx, req.Model, contents, cfg, req.Stream)
	}

	resp, err := c.models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return model.Response{}, transportError(err)
	}
	result := usageOf(resp)
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return result, &model.ProtocolError{Provider: providerName, Reason: "empty model response"}
	}
	result.Content = text
	return result, nil
}

func (c *Client) stream(ctx context.Context, modelID string, contents []*genai.Content, cfg *genai.GenerateContentConfig, sink io.Writer) (model.Response, error) {
	var (
		full   strings.Builder
		result model.Response
	)
	for chunk, err := range c.models.GenerateContentStream(ctx, modelID, contents, cfg) {
		if err != nil {
			return model.Response{}, transportError(err)
		}
		if u := usageOf(chunk); u.InputTokens > 0 || u.OutputTokens > 0 {
			result = u
		}
		piece := chunk.Text()
		if piece == "" {
			continue
		}
		full.WriteString(piece)
		_, _ = io.WriteString(sink, piece)
	}
	text := strings.TrimSpace(full.String())
	if text == "" {
		return result, &model.ProtocolError{Provider: providerName, Reason: "empty model response"}
	}
	result.Content = text
	return result, nil
}

func toContents(messages []ctxpkg.Message) (string, []*genai.Content) {
	var (
		system   []string
		contents []*genai.Content
	)
	for _, m := range messages {
		switch m.Role {
		case ctxpkg.RoleSystem:
			system = append(system, m.Content)
		case ctxpkg.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return strings.Join(system, "\n\n"), contents
}

func usageOf(resp *genai.GenerateContentResponse) model.Response {
	if resp == nil || resp.UsageMetadata == nil {
		return model.Response{}
	}
	return model.Response{
		InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
		OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
	}
}

func transportError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &model.TransportError{Provider: providerName, Status: apiErr.Code, Err: err}
	}
	return &model.TransportError{Provider: providerName, Err: err}
}
