// Package model 包含了应用的数据模型定义。
package model

import "time"

// ChatMessage 代表提交给模型服务商的单条角色消息（仅 role 与 content）。
type ChatMessage struct {
	Role    string `json:"role"` // "user" 或 "assistant"
	Content string `json:"content"`
}

// Message 代表会话中一条完整的对话消息。
// 消息一经追加不再修改，滑出窗口后即被丢弃。
type Message struct {
	ID        string                 `json:"id"`
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Confirmation 表示一次需要外部确认的操作载荷（例如记账确认）。
// 真正的写入由外部协作方完成，核心只产出待确认数据。
type Confirmation struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// TurnResult 是一轮对话的最终输出。
type TurnResult struct {
	Message              Message       `json:"message"`
	RequiresConfirmation *Confirmation `json:"requiresConfirmation,omitempty"`
}
