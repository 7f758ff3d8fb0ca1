package provider

import (
	"context"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/cloudops-io/workflow-core/engine/errors"
	"github.com/cloudops-io/workflow-core/engine/stream"
)

// googleModel implements LanguageModel against Google's Gemini API.
type googleModel struct {
	apiKey    string
	modelName string
}

func newGoogleModel(cfg Config) *googleModel {
	modelName := cfg.ModelName
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}
	return &googleModel{apiKey: cfg.APIKey, modelName: modelName}
}

func (m *googleModel) Kind() Kind        { return KindGoogle }
func (m *googleModel) ModelName() string { return m.modelName }

// SafetyBlockedError indicates Gemini's safety filters blocked the
// response; callers may surface Category to the end user without
// leaking the underlying prompt.
type SafetyBlockedError struct {
	Category string
}

func (e *SafetyBlockedError) Error() string {
	return "content blocked by safety filter: " + e.Category
}

func (m *googleModel) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return ChatOut{}, err
	}
	if m.apiKey == "" {
		return ChatOut{}, errors.New(errors.Validation, "google API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(m.apiKey))
	if err != nil {
		return ChatOut{}, errors.Wrap(errors.LanguageModel, "creating google client", err)
	}
	defer client.Close()

	genModel := client.GenerativeModel(m.modelName)
	if len(tools) > 0 {
		genModel.Tools = convertToolsGoogle(tools)
	}

	resp, err := genModel.GenerateContent(ctx, convertMessagesGoogle(messages)...)
	if err != nil {
		return ChatOut{}, errors.Wrap(errors.LanguageModel, "google request failed", err)
	}
	return convertGoogleResponse(resp), nil
}

func (m *googleModel) StreamChat(ctx context.Context, messages []stream.ChatMessage, tools []stream.ChatToolSpec) (<-chan stream.ChatEvent, error) {
	out, err := m.Chat(ctx, toProviderMessages(messages), toProviderTools(tools))
	return synthesizeStream(out, err)
}

func convertMessagesGoogle(messages []Message) []genai.Part {
	var parts []genai.Part
	for _, msg := range messages {
		if msg.Content != "" {
			parts = append(parts, genai.Text(msg.Content))
		}
	}
	return parts
}

func convertToolsGoogle(tools []ToolSpec) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, len(tools))
	for i, tool := range tools {
		declarations[i] = &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  convertSchemaGoogle(tool.Schema),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

func convertSchemaGoogle(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}
	result := &genai.Schema{Type: genai.TypeObject}

	if props, ok := schema["properties"].(map[string]interface{}); ok {
		properties := make(map[string]*genai.Schema, len(props))
		for key, val := range props {
			propMap, ok := val.(map[string]interface{})
			if !ok {
				continue
			}
			propSchema := &genai.Schema{}
			if typeStr, ok := propMap["type"].(string); ok {
				propSchema.Type = convertTypeStringGoogle(typeStr)
			}
			if desc, ok := propMap["description"].(string); ok {
				propSchema.Description = desc
			}
			properties[key] = propSchema
		}
		result.Properties = properties
	}

	if required, ok := schema["required"].([]string); ok {
		result.Required = required
	} else if required, ok := schema["required"].([]interface{}); ok {
		result.Required = make([]string, 0, len(required))
		for _, v := range required {
			if s, ok := v.(string); ok {
				result.Required = append(result.Required, s)
			}
		}
	}
	return result
}

func convertTypeStringGoogle(typeStr string) genai.Type {
	switch typeStr {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

func convertGoogleResponse(resp *genai.GenerateContentResponse) ChatOut {
	out := ChatOut{}
	if len(resp.Candidates) == 0 {
		return out
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return out
	}
	for _, part := range candidate.Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += string(p)
		case genai.FunctionCall:
			out.ToolCalls = append(out.ToolCalls, ToolCall{Name: p.Name, Input: p.Args})
		}
	}
	return out
}
