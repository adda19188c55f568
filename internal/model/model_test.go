package model

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/vadf/assistant/internal/log"
	"github.com/vadf/assistant/internal/toolserver"
)

// ============================================================================
// Fixtures
// ============================================================================

// scripted builds a generateFunc that replays a fixed sequence of
// responses and errors, once per call.
func scripted(runs ...[]any) generateFunc {
	call := 0
	return func(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
		run := runs[min(call, len(runs)-1)]
		call++
		return func(yield func(*genai.GenerateContentResponse, error) bool) {
			for _, item := range run {
				switch v := item.(type) {
				case *genai.GenerateContentResponse:
					if !yield(v, nil) {
						return
					}
				case error:
					if !yield(nil, v) {
						return
					}
				}
			}
		}
	}
}

func textResp(text string, finish genai.FinishReason) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content:      &genai.Content{Parts: []*genai.Part{{Text: text}}},
		FinishReason: finish,
	}}}
}

func toolResp(id, name string, args map[string]any) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{{
			FunctionCall: &genai.FunctionCall{ID: id, Name: name, Args: args},
		}}},
		FinishReason: genai.FinishReasonStop,
	}}}
}

func testClient(gen generateFunc) *Client {
	return &Client{
		generate: gen,
		model:    "gemini-2.5-flash",
		retry: RetryConfig{
			MaxRetries:      2,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
		},
		limiter: rate.NewLimiter(rate.Inf, 0),
		logger:  log.NewNop(),
	}
}

// ============================================================================
// Tests
// ============================================================================

func TestStream_TextTurn(t *testing.T) {
	c := testClient(scripted([]any{
		textResp("Bonjour ", ""),
		textResp("Claire !", genai.FinishReasonStop),
	}))

	var chunks []string
	turn, err := c.Stream(context.Background(), "system", nil, nil, func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"Bonjour ", "Claire !"}, chunks)
	assert.Equal(t, "Bonjour Claire !", turn.Text)
	assert.Equal(t, StopEndTurn, turn.Stop)
	assert.Empty(t, turn.ToolCalls)
	require.Len(t, turn.Parts, 1)
	assert.Equal(t, "Bonjour Claire !", turn.Parts[0].Text)
}

func TestStream_ToolUseTurn(t *testing.T) {
	c := testClient(scripted([]any{
		textResp("Je cherche...", ""),
		toolResp("call-1", "search_shop_catalog", map[string]any{"query": "pull"}),
	}))

	turn, err := c.Stream(context.Background(), "", nil, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, StopToolUse, turn.Stop)
	require.Len(t, turn.ToolCalls, 1)
	assert.Equal(t, "call-1", turn.ToolCalls[0].ID)
	assert.Equal(t, "search_shop_catalog", turn.ToolCalls[0].Name)
	assert.Equal(t, map[string]any{"query": "pull"}, turn.ToolCalls[0].Args)

	// Text part first, then the function call.
	require.Len(t, turn.Parts, 2)
	assert.Equal(t, "Je cherche...", turn.Parts[0].Text)
	require.NotNil(t, turn.Parts[1].FunctionCall)
	assert.Equal(t, "search_shop_catalog", turn.Parts[1].FunctionCall.Name)
}

func TestStream_TruncatedTurnIsStopOther(t *testing.T) {
	c := testClient(scripted([]any{
		textResp("tronqué", genai.FinishReasonMaxTokens),
	}))

	turn, err := c.Stream(context.Background(), "", nil, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, StopOther, turn.Stop)
}

func TestStream_RetriesTransientError(t *testing.T) {
	c := testClient(scripted(
		[]any{errors.New("503 service unavailable")},
		[]any{textResp("ça marche", genai.FinishReasonStop)},
	))

	turn, err := c.Stream(context.Background(), "", nil, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, "ça marche", turn.Text)
}

func TestStream_NonRetryableErrorFailsFast(t *testing.T) {
	calls := 0
	gen := func(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
		calls++
		return func(yield func(*genai.GenerateContentResponse, error) bool) {
			yield(nil, errors.New("400 invalid argument"))
		}
	}
	c := testClient(gen)

	_, err := c.Stream(context.Background(), "", nil, nil, nil)

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

// Once a chunk reached the client the call must not be replayed, even if
// the stream then fails with a retryable error.
func TestStream_NoRetryAfterFirstChunk(t *testing.T) {
	calls := 0
	gen := func(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
		calls++
		return func(yield func(*genai.GenerateContentResponse, error) bool) {
			if !yield(textResp("début", ""), nil) {
				return
			}
			yield(nil, errors.New("503 service unavailable"))
		}
	}
	c := testClient(gen)

	_, err := c.Stream(context.Background(), "", nil, nil, func(string) error { return nil })

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestStream_ChunkCallbackErrorAborts(t *testing.T) {
	c := testClient(scripted([]any{
		textResp("a", ""),
		textResp("b", genai.FinishReasonStop),
	}))

	_, err := c.Stream(context.Background(), "", nil, nil, func(string) error {
		return errors.New("client gone")
	})

	assert.ErrorContains(t, err, "client gone")
}

func TestStream_ExhaustedRetries(t *testing.T) {
	c := testClient(scripted([]any{errors.New("429 rate limited")}))

	_, err := c.Stream(context.Background(), "", nil, nil, nil)

	assert.ErrorContains(t, err, "after 2 retries")
}

// A call that never produces a chunk must be cut off by the configured
// timeout rather than hang the turn.
func TestStream_TimeoutBoundsCall(t *testing.T) {
	gen := func(ctx context.Context, _ string, _ []*genai.Content, _ *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
		return func(yield func(*genai.GenerateContentResponse, error) bool) {
			<-ctx.Done()
			yield(nil, ctx.Err())
		}
	}
	c := testClient(gen)
	c.timeout = 20 * time.Millisecond

	_, err := c.Stream(context.Background(), "", nil, nil, nil)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGenerateConfig_ToolDeclarations(t *testing.T) {
	c := testClient(nil)
	schema := &jsonschema.Schema{Type: "object"}

	genCfg := c.generateConfig("réponds en français", []toolserver.Descriptor{
		{Name: "search_shop_catalog", Description: "recherche produits", InputSchema: schema},
	})

	require.NotNil(t, genCfg.SystemInstruction)
	require.Len(t, genCfg.Tools, 1)
	require.Len(t, genCfg.Tools[0].FunctionDeclarations, 1)
	decl := genCfg.Tools[0].FunctionDeclarations[0]
	assert.Equal(t, "search_shop_catalog", decl.Name)
	assert.Equal(t, schema, decl.ParametersJsonSchema)
}

func TestGenerateConfig_NoTools(t *testing.T) {
	c := testClient(nil)

	genCfg := c.generateConfig("", nil)

	assert.Nil(t, genCfg.SystemInstruction)
	assert.Nil(t, genCfg.Tools)
}

func TestRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit", errors.New("429 Too Many Requests"), true},
		{"quota", errors.New("quota exceeded for model"), true},
		{"server error", errors.New("503 Service Unavailable"), true},
		{"timeout", errors.New("context deadline exceeded: timeout"), true},
		{"bad request", errors.New("400 invalid argument"), false},
		{"auth", errors.New("API key not valid"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retryableError(tt.err))
		})
	}
}
