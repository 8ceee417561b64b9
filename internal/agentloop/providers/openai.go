// Package providers implements agentloop.LLMProvider backends: OpenAI,
// Anthropic, and Google Gemini, each adapted from the teacher's
// internal/agent/providers/*.go to the narrower CompletionRequest/
// CompletionChunk shapes in internal/agentloop.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/contextloom/loom/internal/agentloop"
	"github.com/contextloom/loom/internal/backoff"
	"github.com/contextloom/loom/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements agentloop.LLMProvider for OpenAI's chat
// completions API, grounded in the teacher's OpenAIProvider: same
// retry-with-backoff dial-up before streaming (now backoff.BackoffPolicy
// rather than a hand-rolled linear sleep), same index-keyed tool-call
// delta accumulation (narrowed here to forward raw deltas —
// agentloop.slotTable owns reassembly, not the provider).
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	maxAttempts int
	policy      backoff.BackoffPolicy
}

// NewOpenAIProvider builds a provider bound to a default model (e.g.
// "gpt-4o"); CompletionRequest carries no per-call model override in
// this port, so the default is what every call uses.
func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	return &OpenAIProvider{
		client:      openai.NewClient(apiKey),
		model:       model,
		maxAttempts: 3,
		policy:      backoff.DefaultPolicy(),
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Complete(ctx context.Context, req *agentloop.CompletionRequest, stream bool) (<-chan agentloop.CompletionChunk, error) {
	messages := convertMessages(req.Messages, req.System)
	chatReq := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: messages,
		Stream:   stream,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertTools(req.Tools)
	}

	if !stream {
		return p.completeOnce(ctx, chatReq)
	}
	return p.completeStream(ctx, chatReq)
}

func (p *OpenAIProvider) completeOnce(ctx context.Context, chatReq openai.ChatCompletionRequest) (<-chan agentloop.CompletionChunk, error) {
	var resp openai.ChatCompletionResponse
	var err error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if attempt > 1 {
			if serr := backoff.SleepWithBackoff(ctx, p.policy, attempt-1); serr != nil {
				return nil, serr
			}
		}
		resp, err = p.client.CreateChatCompletion(ctx, chatReq)
		if err == nil || !isRetryable(err) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("openai: completion failed: %w", err)
	}

	out := make(chan agentloop.CompletionChunk, 1+len(resp.Choices[0].Message.ToolCalls))
	go func() {
		defer close(out)
		if len(resp.Choices) == 0 {
			out <- agentloop.CompletionChunk{Done: true}
			return
		}
		choice := resp.Choices[0]
		if choice.Message.Content != "" {
			out <- agentloop.CompletionChunk{Text: choice.Message.Content}
		}
		for i, tc := range choice.Message.ToolCalls {
			out <- agentloop.CompletionChunk{ToolCallDelta: &agentloop.ToolCallDelta{
				Index:          i,
				ID:             tc.ID,
				Type:           "function",
				Name:           tc.Function.Name,
				ArgumentsDelta: tc.Function.Arguments,
			}}
		}
		out <- agentloop.CompletionChunk{
			Done:         true,
			FinishReason: string(choice.FinishReason),
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}()
	return out, nil
}

func (p *OpenAIProvider) completeStream(ctx context.Context, chatReq openai.ChatCompletionRequest) (<-chan agentloop.CompletionChunk, error) {
	var stream *openai.ChatCompletionStream
	var err error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if attempt > 1 {
			if serr := backoff.SleepWithBackoff(ctx, p.policy, attempt-1); serr != nil {
				return nil, serr
			}
		}
		stream, err = p.client.CreateChatCompletionStream(ctx, chatReq)
		if err == nil || !isRetryable(err) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("openai: stream start failed: %w", err)
	}

	out := make(chan agentloop.CompletionChunk)
	go func() {
		defer close(out)
		defer stream.Close()
		for {
			select {
			case <-ctx.Done():
				out <- agentloop.CompletionChunk{Error: ctx.Err()}
				return
			default:
			}

			resp, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					out <- agentloop.CompletionChunk{Done: true}
					return
				}
				out <- agentloop.CompletionChunk{Error: err}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]
			if choice.Delta.Content != "" {
				out <- agentloop.CompletionChunk{Text: choice.Delta.Content}
			}
			for _, tc := range choice.Delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				out <- agentloop.CompletionChunk{ToolCallDelta: &agentloop.ToolCallDelta{
					Index:          idx,
					ID:             tc.ID,
					Type:           "function",
					Name:           tc.Function.Name,
					ArgumentsDelta: tc.Function.Arguments,
				}}
			}
			if choice.FinishReason != "" {
				out <- agentloop.CompletionChunk{Done: true, FinishReason: string(choice.FinishReason)}
				return
			}
		}
	}()
	return out, nil
}

func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	return false
}

func convertMessages(messages []models.Message, system string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range messages {
		switch m.Role {
		case models.RoleSystem:
			// The system prompt is carried once via the system param
			// above; a RoleSystem message in the log (memlog always
			// keeps one at index 0) would otherwise be duplicated.
			continue
		case models.RoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.ContentOrEmpty()})
		case models.RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.ContentOrEmpty()}
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
			out = append(out, msg)
		case models.RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.ContentOrEmpty(),
				ToolCallID: m.ToolCallID,
			})
		}
	}
	return out
}

func convertTools(tools []models.ToolSpec) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var params map[string]any
		_ = json.Unmarshal(t.Parameters, &params)
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		}
	}
	return out
}
