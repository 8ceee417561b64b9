package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/contextloom/loom/internal/agentloop"
	"github.com/contextloom/loom/pkg/models"
)

// BedrockProvider implements agentloop.LLMProvider for models served
// over AWS Bedrock's Converse API, grounded in the teacher's
// BedrockProvider.processStream event switch
// (ContentBlockStart/Delta/Stop, MessageStop).
type BedrockProvider struct {
	client *bedrockruntime.Client
	model  string
}

// NewBedrockProvider builds a provider bound to a default Bedrock
// model id (e.g. "anthropic.claude-3-5-sonnet-20241022-v2:0"), using
// the ambient AWS config (environment, shared config file, or EC2/ECS
// role) for credentials.
func NewBedrockProvider(ctx context.Context, region, model string) (*BedrockProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("bedrock: load AWS config: %w", err)
	}
	return &BedrockProvider{client: bedrockruntime.NewFromConfig(cfg), model: model}, nil
}

func (p *BedrockProvider) Name() string { return "bedrock" }

func (p *BedrockProvider) Complete(ctx context.Context, req *agentloop.CompletionRequest, stream bool) (<-chan agentloop.CompletionChunk, error) {
	messages, err := convertBedrockMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("bedrock: convert messages: %w", err)
	}

	converseReq := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(p.model),
		Messages: messages,
	}
	if req.System != "" {
		converseReq.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.System},
		}
	}
	if req.MaxTokens > 0 {
		converseReq.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(req.MaxTokens))}
	}
	if len(req.Tools) > 0 {
		converseReq.ToolConfig = convertBedrockTools(req.Tools)
	}

	sse, err := p.client.ConverseStream(ctx, converseReq)
	if err != nil {
		return nil, fmt.Errorf("bedrock: converse stream: %w", err)
	}

	out := make(chan agentloop.CompletionChunk)
	go p.drain(ctx, sse, out)
	return out, nil
}

func (p *BedrockProvider) drain(ctx context.Context, stream *bedrockruntime.ConverseStreamOutput, out chan<- agentloop.CompletionChunk) {
	defer close(out)
	eventStream := stream.GetStream()
	defer eventStream.Close()

	toolIdx := 0
	var toolID, toolName string
	var toolInput strings.Builder
	toolOpen := false

	events := eventStream.Events()
	for {
		select {
		case <-ctx.Done():
			out <- agentloop.CompletionChunk{Error: ctx.Err()}
			return
		case event, ok := <-events:
			if !ok {
				if err := eventStream.Err(); err != nil {
					out <- agentloop.CompletionChunk{Error: fmt.Errorf("bedrock: stream: %w", err)}
				} else {
					out <- agentloop.CompletionChunk{Done: true}
				}
				return
			}
			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if tu, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					toolID = aws.ToString(tu.Value.ToolUseId)
					toolName = aws.ToString(tu.Value.Name)
					toolInput.Reset()
					toolOpen = true
					out <- agentloop.CompletionChunk{ToolCallDelta: &agentloop.ToolCallDelta{
						Index: toolIdx, ID: toolID, Type: "function", Name: toolName,
					}}
				}
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						out <- agentloop.CompletionChunk{Text: delta.Value}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						toolInput.WriteString(*delta.Value.Input)
						out <- agentloop.CompletionChunk{ToolCallDelta: &agentloop.ToolCallDelta{
							Index: toolIdx, ArgumentsDelta: *delta.Value.Input,
						}}
					}
				}
			case *types.ConverseStreamOutputMemberContentBlockStop:
				if toolOpen {
					toolIdx++
					toolOpen = false
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				out <- agentloop.CompletionChunk{Done: true}
				return
			}
		}
	}
}

func convertBedrockMessages(messages []models.Message) ([]types.Message, error) {
	out := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case models.RoleSystem:
			continue
		case models.RoleUser:
			out = append(out, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.ContentOrEmpty()}},
			})
		case models.RoleAssistant:
			var blocks []types.ContentBlock
			if m.ContentOrEmpty() != "" {
				blocks = append(blocks, &types.ContentBlockMemberText{Value: m.ContentOrEmpty()})
			}
			for _, tc := range m.ToolCalls {
				var input map[string]any
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
					input = map[string]any{}
				}
				blocks = append(blocks, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(tc.ID),
						Name:      aws.String(tc.Function.Name),
						Input:     document.NewLazyDocument(input),
					},
				})
			}
			out = append(out, types.Message{Role: types.ConversationRoleAssistant, Content: blocks})
		case models.RoleTool:
			out = append(out, types.Message{
				Role: types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberToolResult{
					Value: types.ToolResultBlock{
						ToolUseId: aws.String(m.ToolCallID),
						Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: m.ContentOrEmpty()}},
					},
				}},
			})
		}
	}
	return out, nil
}

func convertBedrockTools(tools []models.ToolSpec) *types.ToolConfiguration {
	specs := make([]types.Tool, len(tools))
	for i, t := range tools {
		var schema map[string]any
		_ = json.Unmarshal(t.Parameters, &schema)
		specs[i] = &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		}
	}
	return &types.ToolConfiguration{Tools: specs}
}
