package provider

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/cloudops-io/workflow-core/engine/errors"
	"github.com/cloudops-io/workflow-core/engine/stream"
)

// openAIModel implements LanguageModel against OpenAI's chat
// completions API, with bounded retry on transient transport errors
// (not the tool-level idempotent retry of spec §7 — this is purely
// about the HTTP round trip to the vendor).
type openAIModel struct {
	apiKey     string
	modelName  string
	maxRetries int
	retryDelay time.Duration
}

func newOpenAIModel(cfg Config) *openAIModel {
	modelName := cfg.ModelName
	if modelName == "" {
		modelName = "gpt-4o"
	}
	return &openAIModel{apiKey: cfg.APIKey, modelName: modelName, maxRetries: 3, retryDelay: time.Second}
}

func (m *openAIModel) Kind() Kind        { return KindOpenAI }
func (m *openAIModel) ModelName() string { return m.modelName }

func (m *openAIModel) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return ChatOut{}, err
	}

	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		out, err := m.call(ctx, messages, tools)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !isTransientOpenAIError(err) || attempt >= m.maxRetries {
			break
		}
		delay := m.retryDelay * time.Duration(attempt+1)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ChatOut{}, ctx.Err()
		}
	}
	return ChatOut{}, errors.Wrap(errors.LanguageModel, "openai request failed after retries", lastErr)
}

func (m *openAIModel) StreamChat(ctx context.Context, messages []stream.ChatMessage, tools []stream.ChatToolSpec) (<-chan stream.ChatEvent, error) {
	out, err := m.Chat(ctx, toProviderMessages(messages), toProviderTools(tools))
	return synthesizeStream(out, err)
}

func (m *openAIModel) call(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	if m.apiKey == "" {
		return ChatOut{}, errors.New(errors.Validation, "openai API key is required")
	}

	client := openaisdk.NewClient(option.WithAPIKey(m.apiKey))
	params := openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(m.modelName),
		Messages: convertMessagesOpenAI(messages),
	}
	if len(tools) > 0 {
		params.Tools = convertToolsOpenAI(tools)
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return ChatOut{}, err
	}
	return convertOpenAIResponse(resp), nil
}

func isTransientOpenAIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "network", "connection", "temporary", "rate limit", "503", "502", "500"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func convertMessagesOpenAI(messages []Message) []openaisdk.ChatCompletionMessageParamUnion {
	result := make([]openaisdk.ChatCompletionMessageParamUnion, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case "system":
			result[i] = openaisdk.SystemMessage(msg.Content)
		case "assistant":
			result[i] = openaisdk.AssistantMessage(msg.Content)
		default:
			result[i] = openaisdk.UserMessage(msg.Content)
		}
	}
	return result
}

func convertToolsOpenAI(tools []ToolSpec) []openaisdk.ChatCompletionToolParam {
	result := make([]openaisdk.ChatCompletionToolParam, len(tools))
	for i, tool := range tools {
		result[i] = openaisdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openaisdk.String(tool.Description),
				Parameters:  shared.FunctionParameters(tool.Schema),
			},
		}
	}
	return result
}

func convertOpenAIResponse(resp *openaisdk.ChatCompletion) ChatOut {
	out := ChatOut{}
	if len(resp.Choices) == 0 {
		return out
	}
	msg := resp.Choices[0].Message
	out.Text = msg.Content
	if len(msg.ToolCalls) > 0 {
		out.ToolCalls = make([]ToolCall, len(msg.ToolCalls))
		for i, tc := range msg.ToolCalls {
			out.ToolCalls[i] = ToolCall{Name: tc.Function.Name, Input: parseToolInputOpenAI(tc.Function.Arguments)}
		}
	}
	return out
}

func parseToolInputOpenAI(jsonStr string) map[string]interface{} {
	if jsonStr == "" {
		return nil
	}
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return map[string]interface{}{"_raw": jsonStr}
	}
	return result
}
