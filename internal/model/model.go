// Package model wraps the Gemini API for the orchestrator: one streaming
// call per loop iteration, with the tool catalog exposed as function
// declarations and the stop reason surfaced so the orchestrator owns the
// tool loop.
package model

import (
	"context"
	"fmt"
	"iter"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/vadf/assistant/internal/config"
	"github.com/vadf/assistant/internal/log"
	"github.com/vadf/assistant/internal/toolserver"
)

// StopReason classifies how a model call ended.
type StopReason int

const (
	// StopEndTurn means the model finished its answer.
	StopEndTurn StopReason = iota
	// StopToolUse means the model requested one or more tool calls.
	StopToolUse
	// StopOther covers truncation and every other finish reason; the
	// orchestrator issues another call.
	StopOther
)

// ToolCall is one function call requested by the model.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Turn is the accumulated result of one streaming model call. Parts is the
// assistant content in persistable form (coalesced text plus function
// calls).
type Turn struct {
	Parts     []*genai.Part
	Text      string
	ToolCalls []ToolCall
	Stop      StopReason
}

// generateFunc matches Models.GenerateContentStream; swapped in tests.
type generateFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]

// Client calls the Gemini API with retry and proactive rate limiting.
type Client struct {
	generate    generateFunc
	model       string
	temperature float32
	timeout     time.Duration
	retry       RetryConfig
	limiter     *rate.Limiter
	logger      log.Logger
}

// New creates a Client. The API key comes from the GEMINI_API_KEY
// environment variable, validated at configuration load.
func New(ctx context.Context, cfg *config.Config, logger log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.NewNop()
	}

	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}

	return &Client{
		generate:    genaiClient.Models.GenerateContentStream,
		model:       cfg.ModelName,
		temperature: cfg.Temperature,
		timeout:     cfg.ModelTimeout,
		retry:       DefaultRetryConfig(),
		limiter:     rate.NewLimiter(10, 30),
		logger:      logger,
	}, nil
}

// Stream issues one model call, forwarding text deltas to onChunk as they
// arrive and accumulating the full turn.
//
// Transient failures are retried with exponential backoff, but only while
// nothing has been streamed yet: once a chunk reached the client the call
// cannot be replayed without duplicating output, so the error propagates.
// An onChunk error (dead client) is never retried.
func (c *Client) Stream(ctx context.Context, system string, history []*genai.Content, tools []toolserver.Descriptor, onChunk func(string) error) (Turn, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	genCfg := c.generateConfig(system, tools)

	var lastErr error
	delay := c.retry.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return Turn{}, fmt.Errorf("rate limit wait: %w", err)
		}

		turn, started, err := c.streamOnce(ctx, history, genCfg, onChunk)
		if err == nil {
			c.logger.Debug("model call completed",
				"attempts", attempt+1,
				"elapsed", time.Since(start),
				"tool_calls", len(turn.ToolCalls),
			)
			return turn, nil
		}

		lastErr = err
		if started || !retryableError(err) {
			return Turn{}, fmt.Errorf("model call: %w", err)
		}
		if attempt == c.retry.MaxRetries {
			break
		}

		c.logger.Debug("retrying model call", "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return Turn{}, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, c.retry.MaxInterval)
		}
	}

	return Turn{}, fmt.Errorf("model call after %d retries (elapsed: %v): %w",
		c.retry.MaxRetries, time.Since(start), lastErr)
}

// streamOnce runs a single streaming attempt. started reports whether any
// chunk was handed to onChunk.
func (c *Client) streamOnce(ctx context.Context, history []*genai.Content, genCfg *genai.GenerateContentConfig, onChunk func(string) error) (Turn, bool, error) {
	var (
		turn    Turn
		started bool
		finish  genai.FinishReason
	)

	for resp, err := range c.generate(ctx, c.model, history, genCfg) {
		if err != nil {
			return Turn{}, started, err
		}
		if len(resp.Candidates) == 0 {
			continue
		}

		cand := resp.Candidates[0]
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if part.Text != "" {
					turn.Text += part.Text
					if onChunk != nil {
						if err := onChunk(part.Text); err != nil {
							return Turn{}, true, fmt.Errorf("forwarding chunk: %w", err)
						}
					}
					started = true
				}
				if part.FunctionCall != nil {
					turn.ToolCalls = append(turn.ToolCalls, ToolCall{
						ID:   part.FunctionCall.ID,
						Name: part.FunctionCall.Name,
						Args: part.FunctionCall.Args,
					})
				}
			}
		}
		if cand.FinishReason != "" {
			finish = cand.FinishReason
		}
	}

	turn.Stop = stopReason(finish, len(turn.ToolCalls) > 0)
	turn.Parts = coalesceParts(turn)
	return turn, started, nil
}

func stopReason(finish genai.FinishReason, hasToolCalls bool) StopReason {
	if hasToolCalls {
		return StopToolUse
	}
	if finish == genai.FinishReasonStop {
		return StopEndTurn
	}
	return StopOther
}

// coalesceParts renders the turn as persistable content blocks: one text
// part for the full streamed text, then one part per function call.
func coalesceParts(turn Turn) []*genai.Part {
	var parts []*genai.Part
	if turn.Text != "" {
		parts = append(parts, genai.NewPartFromText(turn.Text))
	}
	for _, call := range turn.ToolCalls {
		parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
			ID:   call.ID,
			Name: call.Name,
			Args: call.Args,
		}})
	}
	return parts
}

func (c *Client) generateConfig(system string, tools []toolserver.Descriptor) *genai.GenerateContentConfig {
	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(c.temperature),
	}
	if system != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if len(tools) > 0 {
		declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
		for _, tool := range tools {
			declarations = append(declarations, &genai.FunctionDeclaration{
				Name:                 tool.Name,
				Description:          tool.Description,
				ParametersJsonSchema: tool.InputSchema,
			})
		}
		genCfg.Tools = []*genai.Tool{{FunctionDeclarations: declarations}}
	}
	return genCfg
}
