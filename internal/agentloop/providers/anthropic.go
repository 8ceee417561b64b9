package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/contextloom/loom/internal/agentloop"
	"github.com/contextloom/loom/pkg/models"
)

// AnthropicProvider implements agentloop.LLMProvider for Claude,
// grounded in the teacher's AnthropicProvider.processStream event
// switch (message_start/content_block_start/content_block_delta/
// content_block_stop/message_delta/message_stop), narrowed to the
// non-beta path — computer-use tools are out of scope here.
type AnthropicProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int
}

// NewAnthropicProvider builds a provider bound to a default model and
// max-token ceiling (used when CompletionRequest.MaxTokens is zero).
func NewAnthropicProvider(apiKey, model string, maxTokens int) *AnthropicProvider {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicProvider{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Complete(ctx context.Context, req *agentloop.CompletionRequest, stream bool) (<-chan agentloop.CompletionChunk, error) {
	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	maxTokens := p.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}

	if !stream {
		msg, err := p.client.Messages.New(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("anthropic: completion failed: %w", err)
		}
		out := make(chan agentloop.CompletionChunk, len(msg.Content)+1)
		go func() {
			defer close(out)
			idx := 0
			for _, block := range msg.Content {
				switch variant := block.AsAny().(type) {
				case anthropic.TextBlock:
					out <- agentloop.CompletionChunk{Text: variant.Text}
				case anthropic.ToolUseBlock:
					args, _ := json.Marshal(variant.Input)
					out <- agentloop.CompletionChunk{ToolCallDelta: &agentloop.ToolCallDelta{
						Index:          idx,
						ID:             variant.ID,
						Type:           "function",
						Name:           variant.Name,
						ArgumentsDelta: string(args),
					}}
					idx++
				}
			}
			out <- agentloop.CompletionChunk{
				Done:         true,
				FinishReason: string(msg.StopReason),
				InputTokens:  int(msg.Usage.InputTokens),
				OutputTokens: int(msg.Usage.OutputTokens),
			}
		}()
		return out, nil
	}

	sse := p.client.Messages.NewStreaming(ctx, params)
	out := make(chan agentloop.CompletionChunk)
	go func() {
		defer close(out)
		var toolIdx int
		var toolInput strings.Builder
		var toolActive bool
		var inputTokens, outputTokens int

		for sse.Next() {
			event := sse.Current()
			switch event.Type {
			case "message_start":
				ms := event.AsMessageStart()
				if ms.Message.Usage.InputTokens > 0 {
					inputTokens = int(ms.Message.Usage.InputTokens)
				}
			case "content_block_start":
				cbs := event.AsContentBlockStart()
				if tu, ok := cbs.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
					out <- agentloop.CompletionChunk{ToolCallDelta: &agentloop.ToolCallDelta{
						Index: toolIdx, ID: tu.ID, Type: "function", Name: tu.Name,
					}}
					toolInput.Reset()
					toolActive = true
				}
			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				switch delta.Type {
				case "text_delta":
					if delta.Text != "" {
						out <- agentloop.CompletionChunk{Text: delta.Text}
					}
				case "input_json_delta":
					if delta.PartialJSON != "" {
						toolInput.WriteString(delta.PartialJSON)
						out <- agentloop.CompletionChunk{ToolCallDelta: &agentloop.ToolCallDelta{
							Index: toolIdx, ArgumentsDelta: delta.PartialJSON,
						}}
					}
				}
			case "content_block_stop":
				if toolActive {
					toolIdx++
					toolActive = false
				}
			case "message_delta":
				if u := event.AsMessageDelta().Usage; u.OutputTokens > 0 {
					outputTokens = int(u.OutputTokens)
				}
			case "message_stop":
				out <- agentloop.CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
				return
			case "error":
				out <- agentloop.CompletionChunk{Error: errors.New("anthropic: stream error event")}
				return
			}
		}
		if err := sse.Err(); err != nil {
			out <- agentloop.CompletionChunk{Error: fmt.Errorf("anthropic: stream: %w", err)}
		}
	}()
	return out, nil
}

func convertAnthropicMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case models.RoleSystem:
			continue // system is carried separately in params.System
		case models.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.ContentOrEmpty())))
		case models.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.ContentOrEmpty() != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.ContentOrEmpty()))
			}
			for _, tc := range m.ToolCalls {
				var input map[string]any
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case models.RoleTool:
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.ContentOrEmpty(), false),
			))
		}
	}
	return out, nil
}

func convertAnthropicTools(tools []models.ToolSpec) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("tool %q: %w", t.Name, err)
		}
		out[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: schema,
			},
		}
	}
	return out, nil
}
