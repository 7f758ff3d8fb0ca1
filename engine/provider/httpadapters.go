package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cloudops-io/workflow-core/engine/errors"
	"github.com/cloudops-io/workflow-core/engine/stream"
)

// No example repo in the reference corpus carries an OCI Generative
// AI or Azure OpenAI SDK, so these two adapters speak each vendor's
// OpenAI-compatible chat completions REST surface directly over
// net/http rather than importing a fabricated client library. Every
// other provider kind above uses the vendor's official SDK; these are
// the sole standard-library-only exception, and are scoped narrowly
// to request construction and response decoding.

type httpChatModel struct {
	kind       Kind
	httpClient *http.Client
	endpoint   string
	apiKey     string
	modelName  string
	authHeader string
}

func newOCIModel(cfg Config) *httpChatModel {
	base := cfg.BaseURL
	if base == "" {
		base = "https://inference.generativeai." + orDefault(cfg.Region, "us-chicago-1") + ".oci.oraclecloud.com"
	}
	return &httpChatModel{
		kind:       KindOCI,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		endpoint:   base + "/20231130/actions/chat",
		apiKey:     cfg.APIKey,
		modelName:  orDefault(cfg.ModelName, "cohere.command-r-plus"),
		authHeader: "Authorization",
	}
}

func newAzureOpenAIModel(cfg Config) *httpChatModel {
	base := cfg.BaseURL
	deployment := orDefault(cfg.Deployment, cfg.ModelName)
	endpoint := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=2024-06-01", base, deployment)
	return &httpChatModel{
		kind:       KindAzureOpenAI,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		endpoint:   endpoint,
		apiKey:     cfg.APIKey,
		modelName:  deployment,
		authHeader: "api-key",
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (m *httpChatModel) Kind() Kind        { return m.kind }
func (m *httpChatModel) ModelName() string { return m.modelName }

type httpChatRequest struct {
	Model    string             `json:"model,omitempty"`
	Messages []httpChatMessage  `json:"messages"`
	Tools    []httpChatToolSpec `json:"tools,omitempty"`
}

type httpChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type httpChatToolSpec struct {
	Type     string             `json:"type"`
	Function httpChatToolFnSpec `json:"function"`
}

type httpChatToolFnSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type httpChatResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

func (m *httpChatModel) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return ChatOut{}, err
	}
	if m.apiKey == "" {
		return ChatOut{}, errors.New(errors.Validation, fmt.Sprintf("%s API key is required", m.kind))
	}

	req := httpChatRequest{Model: m.modelName}
	for _, msg := range messages {
		req.Messages = append(req.Messages, httpChatMessage{Role: msg.Role, Content: msg.Content})
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, httpChatToolSpec{
			Type:     "function",
			Function: httpChatToolFnSpec{Name: t.Name, Description: t.Description, Parameters: t.Schema},
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return ChatOut{}, errors.Wrap(errors.Internal, "encoding chat request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return ChatOut{}, errors.Wrap(errors.Internal, "building chat request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if m.authHeader == "Authorization" {
		httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	} else {
		httpReq.Header.Set(m.authHeader, m.apiKey)
	}

	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return ChatOut{}, errors.Wrap(errors.ExternalCloud, fmt.Sprintf("%s request failed", m.kind), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ChatOut{}, errors.Wrap(errors.ExternalCloud, "reading response body", err)
	}
	if resp.StatusCode >= 400 {
		return ChatOut{}, errors.New(errors.ExternalCloud, fmt.Sprintf("%s returned status %d", m.kind, resp.StatusCode)).
			WithContext("body", string(respBody))
	}

	var parsed httpChatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return ChatOut{}, errors.Wrap(errors.ExternalCloud, "decoding response", err)
	}

	out := ChatOut{}
	if len(parsed.Choices) > 0 {
		choice := parsed.Choices[0]
		out.Text = choice.Message.Content
		for _, tc := range choice.Message.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				args = map[string]any{"_raw": tc.Function.Arguments}
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{Name: tc.Function.Name, Input: args})
		}
	}
	return out, nil
}

func (m *httpChatModel) StreamChat(ctx context.Context, messages []stream.ChatMessage, tools []stream.ChatToolSpec) (<-chan stream.ChatEvent, error) {
	out, err := m.Chat(ctx, toProviderMessages(messages), toProviderTools(tools))
	return synthesizeStream(out, err)
}
