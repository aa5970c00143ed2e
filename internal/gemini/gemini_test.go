package gemini

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	ctxpkg "github.com/stupiduntilnot/agentdbg/internal/context"
	"github.com/stupiduntilnot/agentdbg/internal/model"
)

type fakeModels struct {
	texts    []string
	err      error
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(text, genai.RoleModel)}},
	}
}

func (f *fakeModels) GenerateContent(ctx context.Context, m string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.contents, f.config = contents, config
	if f.err != nil {
		return nil, f.err
	}
	return textResponse(strings.Join(f.texts, "")), nil
}

func (f *fakeModels) GenerateContentStream(ctx context.Context, m string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	f.contents, f.config = contents, config
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, t := range f.texts {
			if !yield(textResponse(t), nil) {
				return
			}
		}
		if f.err != nil {
			yield(nil, f.err)
		}
	}
}

var transcript = []ctxpkg.Message{
	{Role: ctxpkg.RoleSystem, Content: "translate to gdb"},
	{Role: ctxpkg.RoleUser, Content: "break at main"},
	{Role: ctxpkg.RoleAssistant, Content: "```gdb\nhelp break\n```"},
	{Role: ctxpkg.RoleUser, Content: "help output..."},
}

func TestQuery_MapsRolesAndTemperature(t *testing.T) {
	fake := &fakeModels{texts: []string{"```gdb\nbreak main\n```"}}
	c := &Client{models: fake}

	resp, err := c.Query(context.Background(), model.Request{Model: "gemini-2.5-flash", Messages: transcript})
	require.NoError(t, err)
	assert.Equal(t, "```gdb\nbreak main\n```", resp.Content)

	require.Len(t, fake.contents, 3)
	assert.Equal(t, genai.RoleUser, fake.contents[0].Role)
	assert.Equal(t, genai.RoleModel, fake.contents[1].Role)
	require.NotNil(t, fake.config.SystemInstruction)
	assert.Equal(t, "translate to gdb", fake.config.SystemInstruction.Parts[0].Text)
	require.NotNil(t, fake.config.Temperature)
	assert.Equal(t, float32(0), *fake.config.Temperature)
}

func TestQuery_Streaming(t *testing.T) {
	fake := &fakeModels{texts: []string{"```gdb\n", "bt\n", "```"}}
	c := &Client{models: fake}

	var sink strings.Builder
	resp, err := c.Query(context.Background(), model.Request{Model: "m", Messages: transcript, Stream: &sink})
	require.NoError(t, err)
	assert.Equal(t, "```gdb\nbt\n```", resp.Content)
	assert.Equal(t, "```gdb\nbt\n```", sink.String())
}

func TestQuery_EmptyIsProtocolError(t *testing.T) {
	c := &Client{models: &fakeModels{texts: []string{"   "}}}
	_, err := c.Query(context.Background(), model.Request{Model: "m", Messages: transcript})
	var pe *model.ProtocolError
	assert.True(t, errors.As(err, &pe), "got %v", err)
}

func TestQuery_APIErrorIsTransportError(t *testing.T) {
	c := &Client{models: &fakeModels{err: genai.APIError{Code: 503, Message: "overloaded"}}}
	_, err := c.Query(context.Background(), model.Request{Model: "m", Messages: transcript})
	var te *model.TransportError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.Equal(t, 503, te.Status)
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(context.Background(), "")
	assert.Error(t, err)
}
