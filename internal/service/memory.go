package service

import (
	"time"

	"finchat-go/internal/model"

	"github.com/google/uuid"
)

// ConversationMemory 维护一个进程内的滑动窗口会话。
// 会话在空闲超过 TTL 后于下一次访问时被静默替换成新会话，从不报错。
// 按设计不做并发保护，单进程调用方需要自行串行化访问。
type ConversationMemory struct {
	maxTurns int
	ttl      time.Duration
	session  *conversationSession
	now      func() time.Time
}

type conversationSession struct {
	messages  []model.Message
	createdAt time.Time
	updatedAt time.Time
}

// NewConversationMemory 创建一个新的 ConversationMemory 实例。
func NewConversationMemory(maxTurns, ttlHours int) *ConversationMemory {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	if ttlHours <= 0 {
		ttlHours = 24
	}
	return &ConversationMemory{
		maxTurns: maxTurns,
		ttl:      time.Duration(ttlHours) * time.Hour,
		now:      time.Now,
	}
}

// AddUserMessage 追加一条用户消息并返回它。
func (m *ConversationMemory) AddUserMessage(content string, metadata map[string]interface{}) model.Message {
	return m.append("user", content, metadata)
}

// AddAssistantMessage 追加一条助手消息并返回它。
func (m *ConversationMemory) AddAssistantMessage(content string, metadata map[string]interface{}) model.Message {
	return m.append("assistant", content, metadata)
}

// ContextMessages 返回窗口内的消息，按原顺序、只含 role 与 content，
// 供提交给模型服务商使用。
func (m *ConversationMemory) ContextMessages() []model.ChatMessage {
	s := m.activeSession()
	out := make([]model.ChatMessage, 0, len(s.messages))
	for _, msg := range s.messages {
		out = append(out, model.ChatMessage{Role: msg.Role, Content: msg.Content})
	}
	return out
}

// History 返回窗口内的完整消息（含 id、时间戳与元数据）。
func (m *ConversationMemory) History() []model.Message {
	s := m.activeSession()
	out := make([]model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (m *ConversationMemory) append(role, content string, metadata map[string]interface{}) model.Message {
	s := m.activeSession()

	ts := m.now()
	// 时间戳保持单调递增，同一纳秒内的连续追加也能保序。
	if n := len(s.messages); n > 0 && !ts.After(s.messages[n-1].Timestamp) {
		ts = s.messages[n-1].Timestamp.Add(time.Nanosecond)
	}

	msg := model.Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: ts,
		Metadata:  metadata,
	}
	s.messages = append(s.messages, msg)

	// 每次追加后裁剪到最近 maxTurns*2 条，最旧的先丢。
	if limit := m.maxTurns * 2; len(s.messages) > limit {
		s.messages = s.messages[len(s.messages)-limit:]
	}
	s.updatedAt = m.now()
	return msg
}

// activeSession 返回当前会话；不存在或已过期时透明地新建一个。
func (m *ConversationMemory) activeSession() *conversationSession {
	t := m.now()
	if m.session == nil || t.Sub(m.session.updatedAt) > m.ttl {
		m.session = &conversationSession{createdAt: t, updatedAt: t}
	}
	return m.session
}
