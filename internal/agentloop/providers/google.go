package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/contextloom/loom/internal/agentloop"
	"github.com/contextloom/loom/pkg/models"
	"google.golang.org/genai"
)

// GoogleProvider implements agentloop.LLMProvider for Gemini, grounded
// in the teacher's GoogleProvider.Complete/processStreamResponse: the
// iter.Seq2 streaming iterator drained into chunks, function calls
// surfaced as one complete delta per candidate part (Gemini does not
// fragment function-call arguments the way OpenAI/Anthropic do, so
// each part already satisfies the slot table's readiness gate).
type GoogleProvider struct {
	client *genai.Client
	model  string
}

// NewGoogleProvider builds a provider bound to a default model (e.g.
// "gemini-2.0-flash").
func NewGoogleProvider(ctx context.Context, apiKey, model string) (*GoogleProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: client init: %w", err)
	}
	return &GoogleProvider{client: client, model: model}, nil
}

func (p *GoogleProvider) Name() string { return "google" }

func (p *GoogleProvider) Complete(ctx context.Context, req *agentloop.CompletionRequest, stream bool) (<-chan agentloop.CompletionChunk, error) {
	contents, err := convertGoogleMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("google: convert messages: %w", err)
	}
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		config.Tools = convertGoogleTools(req.Tools)
	}

	out := make(chan agentloop.CompletionChunk)

	if !stream {
		go func() {
			defer close(out)
			resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
			if err != nil {
				out <- agentloop.CompletionChunk{Error: fmt.Errorf("google: generate: %w", err)}
				return
			}
			emitGoogleCandidates(resp, out)
			out <- agentloop.CompletionChunk{Done: true}
		}()
		return out, nil
	}

	go func() {
		defer close(out)
		idx := 0
		for resp, err := range p.client.Models.GenerateContentStream(ctx, p.model, contents, config) {
			select {
			case <-ctx.Done():
				out <- agentloop.CompletionChunk{Error: ctx.Err()}
				return
			default:
			}
			if err != nil {
				out <- agentloop.CompletionChunk{Error: fmt.Errorf("google: stream: %w", err)}
				return
			}
			if resp == nil {
				continue
			}
			idx = emitGoogleCandidatesIndexed(resp, out, idx)
		}
		out <- agentloop.CompletionChunk{Done: true}
	}()
	return out, nil
}

func emitGoogleCandidates(resp *genai.GenerateContentResponse, out chan<- agentloop.CompletionChunk) {
	emitGoogleCandidatesIndexed(resp, out, 0)
}

func emitGoogleCandidatesIndexed(resp *genai.GenerateContentResponse, out chan<- agentloop.CompletionChunk, idx int) int {
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				out <- agentloop.CompletionChunk{Text: part.Text}
			}
			if part.FunctionCall != nil {
				args, _ := json.Marshal(part.FunctionCall.Args)
				out <- agentloop.CompletionChunk{ToolCallDelta: &agentloop.ToolCallDelta{
					Index:          idx,
					ID:             fmt.Sprintf("call_%d", idx),
					Type:           "function",
					Name:           part.FunctionCall.Name,
					ArgumentsDelta: string(args),
				}}
				idx++
			}
		}
	}
	return idx
}

func convertGoogleMessages(messages []models.Message) ([]*genai.Content, error) {
	var out []*genai.Content
	for _, m := range messages {
		content := &genai.Content{}
		switch m.Role {
		case models.RoleSystem:
			continue
		case models.RoleUser:
			content.Role = genai.RoleUser
			content.Parts = append(content.Parts, &genai.Part{Text: m.ContentOrEmpty()})
		case models.RoleAssistant:
			content.Role = genai.RoleModel
			if m.ContentOrEmpty() != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: m.ContentOrEmpty()})
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
					args = map[string]any{}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: tc.Function.Name, Args: args},
				})
			}
		case models.RoleTool:
			content.Role = genai.RoleUser
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     m.ToolCallID,
					Response: map[string]any{"result": m.ContentOrEmpty()},
				},
			})
		}
		out = append(out, content)
	}
	return out, nil
}

func convertGoogleTools(tools []models.ToolSpec) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, len(tools))
	for i, t := range tools {
		var schema genai.Schema
		_ = json.Unmarshal(t.Parameters, &schema)
		decls[i] = &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  &schema,
		}
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}
