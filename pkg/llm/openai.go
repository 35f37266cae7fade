package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"finchat-go/internal/config"
)

// openaiClient 通过 Chat Completions API 调用 OpenAI 风格的后端。
// 请求与响应都会在这里与通用形态互相转换，调用方感知不到两种后端的差异。
type openaiClient struct {
	cfg    config.ProviderConfig
	client *http.Client
}

func newOpenAIClient(cfg config.ProviderConfig) *openaiClient {
	return &openaiClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

type openaiFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Arguments   string          `json:"arguments,omitempty"`
}

type openaiToolCall struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Function openaiFunction `json:"function"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiTool struct {
	Type     string         `json:"type"`
	Function openaiFunction `json:"function"`
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Tools       []openaiTool    `json:"tools,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
}

type openaiResponse struct {
	Choices []struct {
		Message      openaiMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Chat 调用 /chat/completions 并把响应归一化为通用形态。
func (c *openaiClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	body := openaiRequest{
		Model:       c.cfg.Model,
		Messages:    c.toOpenAIMessages(req),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, openaiTool{
			Type: "function",
			Function: openaiFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	reqBytes, err := json.Marshal(body)
	if err != nil {
		return nil, &ProviderError{Type: ErrTypeAPI, Message: fmt.Sprintf("failed to marshal request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, &ProviderError{Type: ErrTypeAPI, Message: fmt.Sprintf("failed to create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Type: ErrTypeNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()

	if perr := classifyHTTPStatus(resp.StatusCode, resp.Body); perr != nil {
		return nil, perr
	}

	var apiResp openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, &ProviderError{Type: ErrTypeAPI, Message: fmt.Sprintf("failed to decode response: %v", err)}
	}
	if len(apiResp.Choices) == 0 {
		return nil, &ProviderError{Type: ErrTypeAPI, Message: "response contained no choices"}
	}

	choice := apiResp.Choices[0]
	out := &ChatResponse{
		Usage: Usage{
			InputTokens:  apiResp.Usage.PromptTokens,
			OutputTokens: apiResp.Usage.CompletionTokens,
		},
	}
	if choice.Message.Content != "" {
		out.Content = append(out.Content, ContentBlock{Type: BlockText, Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		out.Content = append(out.Content, ContentBlock{
			Type:  BlockToolUse,
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	if choice.FinishReason == "tool_calls" {
		out.StopReason = StopToolUse
	} else {
		out.StopReason = StopEndTurn
	}
	return out, nil
}

// toOpenAIMessages 把通用消息转为 OpenAI 的消息结构。
// system 在这里成为第一条消息；tool_use 块变成 assistant 的 tool_calls；
// tool_result 块展开为若干条 role=tool 的消息。
func (c *openaiClient) toOpenAIMessages(req *ChatRequest) []openaiMessage {
	out := make([]openaiMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, openaiMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		if len(m.Blocks) == 0 {
			out = append(out, openaiMessage{Role: m.Role, Content: m.Content})
			continue
		}
		var msg openaiMessage
		msg.Role = m.Role
		var toolResults []openaiMessage
		for _, b := range m.Blocks {
			switch b.Type {
			case BlockText:
				msg.Content += b.Text
			case BlockToolUse:
				msg.ToolCalls = append(msg.ToolCalls, openaiToolCall{
					ID:   b.ID,
					Type: "function",
					Function: openaiFunction{
						Name:      b.Name,
						Arguments: string(b.Input),
					},
				})
			case BlockToolResult:
				toolResults = append(toolResults, openaiMessage{
					Role:       "tool",
					Content:    b.Content,
					ToolCallID: b.ToolUseID,
				})
			}
		}
		if msg.Content != "" || len(msg.ToolCalls) > 0 {
			out = append(out, msg)
		}
		out = append(out, toolResults...)
	}
	return out
}
