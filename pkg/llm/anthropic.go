package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"finchat-go/internal/config"
)

// anthropicClient 通过 Messages API 调用 Anthropic 风格的后端。
type anthropicClient struct {
	cfg    config.ProviderConfig
	client *http.Client
}

func newAnthropicClient(cfg config.ProviderConfig) *anthropicClient {
	return &anthropicClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

type anthropicContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	StopReason string `json:"stop_reason"`
}

// Chat 调用 /v1/messages 并把响应归一化为通用形态。
func (c *anthropicClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	body := anthropicRequest{
		Model:       c.cfg.Model,
		MaxTokens:   req.MaxTokens,
		System:      req.System,
		Messages:    toAnthropicMessages(req.Messages),
		Temperature: req.Temperature,
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}

	reqBytes, err := json.Marshal(body)
	if err != nil {
		return nil, &ProviderError{Type: ErrTypeAPI, Message: fmt.Sprintf("failed to marshal request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/v1/messages", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, &ProviderError{Type: ErrTypeAPI, Message: fmt.Sprintf("failed to create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Type: ErrTypeNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()

	if perr := classifyHTTPStatus(resp.StatusCode, resp.Body); perr != nil {
		return nil, perr
	}

	var apiResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, &ProviderError{Type: ErrTypeAPI, Message: fmt.Sprintf("failed to decode response: %v", err)}
	}

	out := &ChatResponse{
		Usage:      Usage{InputTokens: apiResp.Usage.InputTokens, OutputTokens: apiResp.Usage.OutputTokens},
		StopReason: apiResp.StopReason,
	}
	for _, blk := range apiResp.Content {
		out.Content = append(out.Content, ContentBlock{
			Type:  blk.Type,
			Text:  blk.Text,
			ID:    blk.ID,
			Name:  blk.Name,
			Input: blk.Input,
		})
	}
	return out, nil
}

// toAnthropicMessages 把通用消息转为 Anthropic 的消息结构：
// 纯文本消息 content 为字符串，工具回合消息 content 为块数组。
func toAnthropicMessages(msgs []ChatMessage) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(msgs))
	for _, m := range msgs {
		if len(m.Blocks) == 0 {
			out = append(out, anthropicMessage{Role: m.Role, Content: m.Content})
			continue
		}
		blocks := make([]anthropicContent, 0, len(m.Blocks))
		for _, b := range m.Blocks {
			blocks = append(blocks, anthropicContent{
				Type:      b.Type,
				Text:      b.Text,
				ID:        b.ID,
				Name:      b.Name,
				Input:     b.Input,
				ToolUseID: b.ToolUseID,
				Content:   b.Content,
			})
		}
		out = append(out, anthropicMessage{Role: m.Role, Content: blocks})
	}
	return out
}

// classifyHTTPStatus 把非 2xx 状态码映射到统一错误分类。
func classifyHTTPStatus(status int, body io.Reader) *ProviderError {
	if status >= 200 && status < 300 {
		return nil
	}
	bodyBytes, _ := io.ReadAll(io.LimitReader(body, 2048))
	msg := fmt.Sprintf("status %d: %s", status, string(bodyBytes))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &ProviderError{Type: ErrTypeInvalidKey, Message: msg}
	case status == http.StatusTooManyRequests:
		return &ProviderError{Type: ErrTypeRateLimit, Message: msg}
	default:
		return &ProviderError{Type: ErrTypeAPI, Message: msg}
	}
}
