package provider

import (
	"context"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/cloudops-io/workflow-core/engine/errors"
	"github.com/cloudops-io/workflow-core/engine/stream"
)

// anthropicModel implements LanguageModel against Anthropic's Claude
// API, adapted from a single-shot chat call into the provider
// registry's uniform shape. The SDK has no native incremental
// streaming support wired here, so StreamChat synthesizes one.
type anthropicModel struct {
	apiKey    string
	modelName string
}

func newAnthropicModel(cfg Config) *anthropicModel {
	modelName := cfg.ModelName
	if modelName == "" {
		modelName = "claude-sonnet-4-5-20250929"
	}
	return &anthropicModel{apiKey: cfg.APIKey, modelName: modelName}
}

func (m *anthropicModel) Kind() Kind        { return KindAnthropic }
func (m *anthropicModel) ModelName() string { return m.modelName }

func (m *anthropicModel) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return ChatOut{}, err
	}
	if m.apiKey == "" {
		return ChatOut{}, errors.New(errors.Validation, "anthropic API key is required")
	}

	systemPrompt, conversation := extractSystemPrompt(messages)
	client := anthropicsdk.NewClient(option.WithAPIKey(m.apiKey))

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(m.modelName),
		Messages:  convertMessagesAnthropic(conversation),
		MaxTokens: 4096,
	}
	if systemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: systemPrompt}}
	}
	if len(tools) > 0 {
		params.Tools = convertToolsAnthropic(tools)
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return ChatOut{}, errors.Wrap(errors.LanguageModel, "anthropic request failed", err)
	}
	return convertAnthropicResponse(resp), nil
}

func (m *anthropicModel) StreamChat(ctx context.Context, messages []stream.ChatMessage, tools []stream.ChatToolSpec) (<-chan stream.ChatEvent, error) {
	out, err := m.Chat(ctx, toProviderMessages(messages), toProviderTools(tools))
	return synthesizeStream(out, err)
}

func extractSystemPrompt(messages []Message) (string, []Message) {
	var systemPrompt string
	var conversation []Message
	for _, msg := range messages {
		if msg.Role == "system" {
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += msg.Content
		} else {
			conversation = append(conversation, msg)
		}
	}
	return systemPrompt, conversation
}

func convertMessagesAnthropic(messages []Message) []anthropicsdk.MessageParam {
	result := make([]anthropicsdk.MessageParam, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case "assistant":
			result[i] = anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(msg.Content))
		default:
			result[i] = anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(msg.Content))
		}
	}
	return result
}

func convertToolsAnthropic(tools []ToolSpec) []anthropicsdk.ToolUnionParam {
	result := make([]anthropicsdk.ToolUnionParam, len(tools))
	for i, tool := range tools {
		var properties any
		var required []string
		if tool.Schema != nil {
			if props, ok := tool.Schema["properties"]; ok {
				properties = props
			}
			if req, ok := tool.Schema["required"].([]string); ok {
				required = req
			} else if req, ok := tool.Schema["required"].([]interface{}); ok {
				required = make([]string, len(req))
				for j, v := range req {
					if s, ok := v.(string); ok {
						required[j] = s
					}
				}
			}
		}
		result[i] = anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        tool.Name,
				Description: anthropicsdk.String(tool.Description),
				InputSchema: anthropicsdk.ToolInputSchemaParam{Properties: properties, Required: required},
			},
		}
	}
	return result
}

func convertAnthropicResponse(resp *anthropicsdk.Message) ChatOut {
	out := ChatOut{}
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropicsdk.TextBlock:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += b.Text
		case anthropicsdk.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				Name:  b.Name,
				Input: convertToolInputAnthropic(b.Input),
			})
		}
	}
	return out
}

func convertToolInputAnthropic(input interface{}) map[string]interface{} {
	if input == nil {
		return nil
	}
	if m, ok := input.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{"_raw": fmt.Sprintf("%v", input)}
}
