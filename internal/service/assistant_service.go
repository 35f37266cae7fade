package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"finchat-go/internal/config"
	"finchat-go/internal/model"
	"finchat-go/pkg/llm"
	"finchat-go/pkg/log"
)

// AssistantService 是每轮对话的编排器，也是唯一会调用其它核心组件的地方。
// 状态机：START → CLASSIFY → {TRANSACTION_EXTRACT | DIRECT_RESPONSE | MODEL_CALL}
// → [TOOL_LOOP]? → RESPOND → END。
type AssistantService interface {
	ProcessTurn(ctx context.Context, text string) (*model.TurnResult, error)
	History() []model.Message
}

type assistantService struct {
	router        *IntentRouter
	memory        *ConversationMemory
	caller        llm.Caller
	tools         *ToolGateway
	maxTokens     int
	temperature   *float64
	maxToolRounds int
}

const systemPrompt = "You are a personal finance assistant. You answer questions about the user's " +
	"spending, budget, portfolio, net worth and stocks using only the tool results you are given. " +
	"Tool results are aggregated summaries; never invent transaction details that are not in them. " +
	"Keep answers short and concrete."

const extractionSystemPrompt = "Extract the transaction described by the user. Reply with ONLY a JSON object, " +
	"no prose, of the form {\"amount\": number, \"merchant\": string, \"category\": string}. " +
	"Categories: Food, Groceries, Transport, Rent, Entertainment, Utilities, Shopping, Travel, Health, Other. " +
	"Capitalize the merchant name. amount is required."

// NewAssistantService 创建一个新的 AssistantService 实例。
func NewAssistantService(router *IntentRouter, memory *ConversationMemory, caller llm.Caller, tools *ToolGateway, cfg config.Config) AssistantService {
	maxTokens := cfg.Provider.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	var temperature *float64
	if cfg.Provider.Temperature != 0 {
		t := cfg.Provider.Temperature
		temperature = &t
	}
	maxToolRounds := cfg.Assistant.MaxToolRounds
	if maxToolRounds <= 0 {
		maxToolRounds = 3
	}
	return &assistantService{
		router:        router,
		memory:        memory,
		caller:        caller,
		tools:         tools,
		maxTokens:     maxTokens,
		temperature:   temperature,
		maxToolRounds: maxToolRounds,
	}
}

// History 返回当前窗口内的对话消息。
func (s *assistantService) History() []model.Message {
	return s.memory.History()
}

// ProcessTurn 处理一轮用户输入。
// 远端与解析失败都在这里被吸收：失败只终结当轮，会话对下一轮仍然有效。
func (s *assistantService) ProcessTurn(ctx context.Context, text string) (*model.TurnResult, error) {
	intent := s.router.Classify(text)
	log.Infow("turn classified", "intent", string(intent.Type), "confidence", intent.Confidence)

	// 记账叙述：一次受约束的抽取调用，以待确认载荷结束当轮。
	if intent.Type == IntentTransactionEntry {
		return s.extractTransaction(ctx, text, intent), nil
	}

	// 有固定应答且无需模型的意图：零网络调用。
	if intent.DirectResponse != "" {
		s.memory.AddUserMessage(text, nil)
		reply := s.memory.AddAssistantMessage(intent.DirectResponse, map[string]interface{}{
			"intent": string(intent.Type),
			"direct": true,
		})
		return &model.TurnResult{Message: reply}, nil
	}

	return s.modelTurn(ctx, text, intent), nil
}

// modelTurn 执行 MODEL_CALL 与有界的工具循环。
func (s *assistantService) modelTurn(ctx context.Context, text string, intent Intent) *model.TurnResult {
	s.memory.AddUserMessage(text, nil)

	msgs := toLLMMessages(s.memory.ContextMessages())
	req := &llm.ChatRequest{
		System:      systemPrompt,
		Messages:    msgs,
		Tools:       s.tools.Definitions(),
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
	}

	resp, err := s.caller.Call(ctx, req)
	if err != nil {
		return s.failTurn(intent, err)
	}

	var toolsUsed []string
	mutationResults := map[string]string{}

	// 工具循环有硬上界：超过 maxToolRounds 后即便模型仍请求工具，
	// 也只取文本内容作为最终回答。
	for round := 0; round < s.maxToolRounds; round++ {
		uses := resp.ToolUses()
		if len(uses) == 0 {
			break
		}

		resultBlocks := make([]llm.ContentBlock, 0, len(uses))
		for _, use := range uses {
			toolsUsed = append(toolsUsed, use.Name)

			// 同一轮内重复的变更工具按 (name, input) 去重，复用首个结果。
			dedupeKey := ""
			if s.tools.IsMutating(use.Name) {
				dedupeKey = use.Name + ":" + canonicalJSON(use.Input)
				if prev, seen := mutationResults[dedupeKey]; seen {
					resultBlocks = append(resultBlocks, llm.ContentBlock{
						Type:      llm.BlockToolResult,
						ToolUseID: use.ID,
						Content:   prev,
					})
					continue
				}
			}

			result := s.tools.Execute(ctx, use.Name, use.Input, use.ID)
			if dedupeKey != "" {
				mutationResults[dedupeKey] = result.Content
			}
			resultBlocks = append(resultBlocks, llm.ContentBlock{
				Type:      llm.BlockToolResult,
				ToolUseID: result.ID,
				Content:   result.Content,
			})
		}

		msgs = append(msgs,
			llm.ChatMessage{Role: "assistant", Blocks: resp.Content},
			llm.ChatMessage{Role: "user", Blocks: resultBlocks},
		)
		req = &llm.ChatRequest{
			System:      systemPrompt,
			Messages:    msgs,
			Tools:       s.tools.Definitions(),
			MaxTokens:   s.maxTokens,
			Temperature: s.temperature,
			Fresh:       true, // 工具后续调用永不走缓存
		}
		resp, err = s.caller.Call(ctx, req)
		if err != nil {
			return s.failTurn(intent, err)
		}
	}

	answer := resp.TextContent()
	if answer == "" {
		answer = "Sorry, I couldn't put together an answer for that. Please try again."
	}

	meta := map[string]interface{}{
		"intent": string(intent.Type),
		"usage": map[string]int{
			"inputTokens":  resp.Usage.InputTokens,
			"outputTokens": resp.Usage.OutputTokens,
		},
	}
	if len(toolsUsed) > 0 {
		meta["toolsUsed"] = toolsUsed
	}
	reply := s.memory.AddAssistantMessage(answer, meta)
	return &model.TurnResult{Message: reply}
}

// extractTransaction 发起一次无工具的抽取调用并解析严格 JSON。
// 任何失败都降级为默认桩对象，这一轮从不失败。
func (s *assistantService) extractTransaction(ctx context.Context, text string, intent Intent) *model.TurnResult {
	s.memory.AddUserMessage(text, nil)

	data := map[string]interface{}{
		"amount":   0.0,
		"merchant": "Unknown",
		"category": "Other",
		"date":     time.Now().Format("2006-01-02"),
	}
	if raw, ok := intent.Params["amount"]; ok {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			data["amount"] = v
		}
	}

	req := &llm.ChatRequest{
		System:    extractionSystemPrompt,
		Messages:  []llm.ChatMessage{{Role: "user", Content: text}},
		MaxTokens: 256,
	}
	resp, err := s.caller.Call(ctx, req)
	if err != nil {
		// 抽取路径上的远端失败同样降级，不终结当轮。
		log.Errorf("抽取调用失败，使用默认桩对象: %v", err)
	} else if parsed, ok := parseExtraction(resp.TextContent()); ok {
		data["amount"] = parsed.Amount
		if parsed.Merchant != "" {
			data["merchant"] = parsed.Merchant
		}
		if parsed.Category != "" {
			data["category"] = parsed.Category
		}
	} else {
		log.Warnf("抽取结果解析失败，使用默认桩对象: %q", resp.TextContent())
	}

	confirmText := fmt.Sprintf("I've drafted a transaction: %.2f at %s (%s). Please confirm to save it.",
		data["amount"], data["merchant"], data["category"])
	reply := s.memory.AddAssistantMessage(confirmText, map[string]interface{}{
		"intent": string(intent.Type),
	})

	return &model.TurnResult{
		Message:              reply,
		RequiresConfirmation: &model.Confirmation{Type: "transaction", Data: data},
	}
}

// failTurn 把一个服务商错误映射为该类型的固定用户文案并结束当轮。
func (s *assistantService) failTurn(intent Intent, err error) *model.TurnResult {
	log.Error("provider call failed", err)

	msg := "Something went wrong while answering. Please try again."
	var perr *llm.ProviderError
	if errors.As(err, &perr) {
		switch perr.Type {
		case llm.ErrTypeRateLimit:
			msg = fmt.Sprintf("I've reached the usage limit (%s). Please try again later.", perr.Message)
		case llm.ErrTypeInvalidKey:
			msg = "The assistant is not configured correctly (invalid API key). Please check the configuration."
		case llm.ErrTypeAPI:
			msg = "The assistant service returned an error. Please try again in a moment."
		case llm.ErrTypeNetwork:
			msg = "I couldn't reach the assistant service. Please check your connection and try again."
		}
	}

	reply := s.memory.AddAssistantMessage(msg, map[string]interface{}{
		"intent": string(intent.Type),
		"error":  true,
	})
	return &model.TurnResult{Message: reply}
}

type extractedTransaction struct {
	Amount   float64
	Merchant string
	Category string
}

// parseExtraction 从模型回复里解析严格 JSON，容忍包裹的 markdown 代码栅栏。
// amount 缺失或非数值视为解析失败。
func parseExtraction(text string) (extractedTransaction, bool) {
	trimmed := strings.TrimSpace(text)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return extractedTransaction{}, false
	}

	var raw struct {
		Amount   *float64 `json:"amount"`
		Merchant string   `json:"merchant"`
		Category string   `json:"category"`
	}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &raw); err != nil {
		return extractedTransaction{}, false
	}
	if raw.Amount == nil {
		return extractedTransaction{}, false
	}
	return extractedTransaction{
		Amount:   *raw.Amount,
		Merchant: raw.Merchant,
		Category: raw.Category,
	}, true
}

// canonicalJSON 生成输入的规范化序列化结果，用作去重键。
func canonicalJSON(raw json.RawMessage) string {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(b)
}

func toLLMMessages(msgs []model.ChatMessage) []llm.ChatMessage {
	out := make([]llm.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llm.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}
