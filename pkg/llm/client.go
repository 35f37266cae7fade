// Package llm provides a unified client for two interchangeable remote
// chat-completion backends, plus the caching, rate-limiting and cost-control
// guardrails around them.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// 内容块类型。两种后端的响应都被归一化成这一种块结构。
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// 停止原因（归一化后）。
const (
	StopEndTurn = "end_turn"
	StopToolUse = "tool_use"
)

// 错误分类。所有后端错误在返回前都会被转换成其中之一。
const (
	ErrTypeRateLimit  = "rate_limit"
	ErrTypeInvalidKey = "invalid_key"
	ErrTypeAPI        = "api_error"
	ErrTypeNetwork    = "network_error"
)

// ProviderError 是所有远端调用失败的统一形态，Type 取上面四种分类之一。
type ProviderError struct {
	Type    string
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ChatMessage 是发往后端的一条消息。普通消息只带 Content；
// 工具回合中 Blocks 携带 tool_use / tool_result 块，此时 Content 为空。
type ChatMessage struct {
	Role    string         `json:"role"`
	Content string         `json:"content,omitempty"`
	Blocks  []ContentBlock `json:"blocks,omitempty"`
}

// ContentBlock 是归一化后的内容块。
// text 块使用 Text；tool_use 块使用 ID/Name/Input；
// tool_result 块使用 ToolUseID/Content。
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

// Tool 声明一个可供模型调用的函数及其 JSON Schema。
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ChatRequest 是对两种后端统一的请求形态。
// Fresh 为 true 时绕过响应缓存强制发起真实调用。
type ChatRequest struct {
	System      string
	Messages    []ChatMessage
	Tools       []Tool
	MaxTokens   int
	Temperature *float64
	Fresh       bool
}

// Usage 记录一次调用的 token 消耗。
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ChatResponse 是归一化后的响应。
type ChatResponse struct {
	Content    []ContentBlock `json:"content"`
	Usage      Usage          `json:"usage"`
	StopReason string         `json:"stop_reason"`
}

// Client 定义了单个后端的调用接口，每种后端各有一个实现。
type Client interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// TextContent 拼接响应中全部 text 块。
func (r *ChatResponse) TextContent() string {
	var out string
	for _, b := range r.Content {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolUses 返回响应中全部 tool_use 块。
func (r *ChatResponse) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, b := range r.Content {
		if b.Type == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}
