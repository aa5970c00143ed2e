package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	ctxpkg "github.com/stupiduntilnot/agentdbg/internal/context"
	"github.com/stupiduntilnot/agentdbg/internal/model"
)

const providerName = "openai"

// Client is a minimal client for OpenAI-compatible chat completion servers
// (OpenAI, LM Studio, llama.cpp server, vLLM).
type Client struct {
	apiKey     string
	url        string
	httpClient *http.Client
}

// NewClient creates a client. baseURL may be either an API root such as
// http://localhost:1234/v1 or the full chat completions endpoint.
func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	return &Client{
		apiKey: apiKey,
		url:    completionsURL(baseURL),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func completionsURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if strings.HasSuffix(base, "/chat/completions") {
		return base
	}
	return base + "/chat/completions"
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float32   `json:"temperature"`
	Stream      bool      `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *usage `json:"usage"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *usage `json:"usage"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Query sends the transcript and returns the complete response text.
func (c *Client) Query(ctx context.Context, req model.Request) (model.Response, error) {
	if strings.TrimSpace(req.Model) == "" {
		return model.Response{}, fmt.Errorf("openai request requires a model id")
	}
	reqBody := chatRequest{
		Model:       req.Model,
		Messages:    toWire(req.Messages),
		Temperature: req.Temperature,
		Stream:      req.Stream != nil,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return model.Response{}, fmt.Errorf("failed to marshal openai request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return model.Response{}, fmt.Errorf("failed to create openai request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return model.Response{}, &model.TransportError{Provider: providerName, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return model.Response{}, &model.TransportError{
			Provider: providerName,
			Status:   resp.StatusCode,
			Err:      errors.New(truncate(string(body), 400)),
		}
	}

	if req.Stream != nil {
		return readStream(resp.Body, req.Stream)
	}
	return readWhole(resp.Body)
}

func readWhole(body io.Reader) (model.Response, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return model.Response{}, &model.TransportError{Provider: providerName, Err: fmt.Errorf("failed reading openai response: %w", err)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return model.Response{}, &model.ProtocolError{
			Provider: providerName,
			Reason:   "unparsable response: " + truncate(string(raw), 400),
		}
	}

	result := model.Response{}
	if parsed.Usage != nil {
		result.InputTokens = parsed.Usage.PromptTokens
		result.OutputTokens = parsed.Usage.CompletionTokens
	}
	if len(parsed.Choices) == 0 {
		return result, &model.ProtocolError{Provider: providerName, Reason: "response has no choices"}
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return result, &model.ProtocolError{Provider: providerName, Reason: "empty model response"}
	}
	result.Content = content
	return result, nil
}

// readStream consumes a server-sent event stream of chat completion chunks.
func readStream(body io.Reader, sink io.Writer) (model.Response, error) {
	var (
		full   strings.Builder
		result model.Response
	)
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return model.Response{}, &model.ProtocolError{
				Provider: providerName,
				Reason:   "unparsable stream chunk: " + truncate(data, 200),
			}
		}
		if chunk.Usage != nil {
			result.InputTokens = chunk.Usage.PromptTokens
			result.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		piece := chunk.Choices[0].Delta.Content
		if piece == "" {
			continue
		}
		full.WriteString(piece)
		_, _ = io.WriteString(sink, piece)
	}
	if err := scanner.Err(); err != nil {
		return model.Response{}, &model.TransportError{Provider: providerName, Err: fmt.Errorf("stream interrupted: %w", err)}
	}

	content := strings.TrimSpace(full.String())
	if content == "" {
		return result, &model.ProtocolError{Provider: providerName, Reason: "empty model response"}
	}
	result.Content = content
	return result, nil
}

func toWire(messages []ctxpkg.Message) []message {
	out := make([]message, 0, len(messages))
	for _, m := range messages {
		out = append(out, message{Role: m.Role, Content: m.Content})
	}
	return out
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
