package service

import (
	"context"
	"encoding/json"
	"testing"

	"finchat-go/internal/config"
	"finchat-go/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCaller 按脚本依次返回应答，并记录每次请求。
type fakeCaller struct {
	responses []*llm.ChatResponse
	errs      []error
	requests  []*llm.ChatRequest
}

func (f *fakeCaller) Call(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	idx := len(f.requests)
	f.requests = append(f.requests, req)
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	if idx >= len(f.responses) {
		panic("fakeCaller: 脚本响应已耗尽")
	}
	return f.responses[idx], nil
}

func textResponse(text string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Content:    []llm.ContentBlock{{Type: llm.BlockText, Text: text}},
		StopReason: llm.StopEndTurn,
		Usage:      llm.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

func toolUseResponse(name, id string, input string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Content: []llm.ContentBlock{
			{Type: llm.BlockToolUse, ID: id, Name: name, Input: json.RawMessage(input)},
		},
		StopReason: llm.StopToolUse,
	}
}

func newTestAssistant(caller llm.Caller, store *fakeFinanceStore, quotes *fakeQuoteSource) AssistantService {
	cfg := config.Config{
		Provider:  config.ProviderConfig{MaxTokens: 512},
		Assistant: config.AssistantConfig{MaxToolRounds: 3},
	}
	tools := NewToolGateway(newTestAggregator(store, quotes), store, &fakePublisher{})
	return NewAssistantService(NewIntentRouter(), NewConversationMemory(10, 24), caller, tools, cfg)
}

func TestDirectResponseMakesNoProviderCalls(t *testing.T) {
	caller := &fakeCaller{}
	svc := newTestAssistant(caller, &fakeFinanceStore{}, &fakeQuoteSource{})

	res, err := svc.ProcessTurn(context.Background(), "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Message.Content)
	assert.Nil(t, res.RequiresConfirmation)
	assert.Empty(t, caller.requests)
	// 用户消息与固定应答都进入历史
	assert.Len(t, svc.History(), 2)
}

func TestTransactionExtraction(t *testing.T) {
	caller := &fakeCaller{responses: []*llm.ChatResponse{
		textResponse("```json\n{\"amount\": 5.7, \"merchant\": \"Pizza Palace\", \"category\": \"Food\"}\n```"),
	}}
	svc := newTestAssistant(caller, &fakeFinanceStore{}, &fakeQuoteSource{})

	res, err := svc.ProcessTurn(context.Background(), "I spent 5.7 for pizza just now")
	require.NoError(t, err)
	require.NotNil(t, res.RequiresConfirmation)
	assert.Equal(t, "transaction", res.RequiresConfirmation.Type)
	assert.Equal(t, 5.7, res.RequiresConfirmation.Data["amount"])
	assert.Equal(t, "Pizza Palace", res.RequiresConfirmation.Data["merchant"])
	assert.Equal(t, "Food", res.RequiresConfirmation.Data["category"])

	// 抽取调用不得携带工具定义
	require.Len(t, caller.requests, 1)
	assert.Empty(t, caller.requests[0].Tools)
}

func TestTransactionExtractionDegradesOnBadJSON(t *testing.T) {
	caller := &fakeCaller{responses: []*llm.ChatResponse{
		textResponse("Sure! I logged your pizza."),
	}}
	svc := newTestAssistant(caller, &fakeFinanceStore{}, &fakeQuoteSource{})

	res, err := svc.ProcessTurn(context.Background(), "I spent 5.7 for pizza just now")
	require.NoError(t, err)
	require.NotNil(t, res.RequiresConfirmation)
	// 金额来自意图参数，其余字段回退为默认桩
	assert.Equal(t, 5.7, res.RequiresConfirmation.Data["amount"])
	assert.Equal(t, "Unknown", res.RequiresConfirmation.Data["merchant"])
	assert.Equal(t, "Other", res.RequiresConfirmation.Data["category"])
}

func TestTransactionExtractionDegradesOnProviderError(t *testing.T) {
	caller := &fakeCaller{errs: []error{
		&llm.ProviderError{Type: llm.ErrTypeNetwork, Message: "dial timeout"},
	}}
	svc := newTestAssistant(caller, &fakeFinanceStore{}, &fakeQuoteSource{})

	res, err := svc.ProcessTurn(context.Background(), "paid 20 for groceries")
	require.NoError(t, err)
	require.NotNil(t, res.RequiresConfirmation)
	assert.Equal(t, 20.0, res.RequiresConfirmation.Data["amount"])
}

func TestModelTurnWithToolLoop(t *testing.T) {
	store := &fakeFinanceStore{}
	caller := &fakeCaller{responses: []*llm.ChatResponse{
		toolUseResponse("get_net_worth", "tu1", `{}`),
		textResponse("Your net worth is $0."),
	}}
	svc := newTestAssistant(caller, store, &fakeQuoteSource{})

	res, err := svc.ProcessTurn(context.Background(), "what's my net worth?")
	require.NoError(t, err)
	assert.Equal(t, "Your net worth is $0.", res.Message.Content)
	assert.Equal(t, []string{"get_net_worth"}, res.Message.Metadata["toolsUsed"])

	require.Len(t, caller.requests, 2)
	first, second := caller.requests[0], caller.requests[1]
	assert.False(t, first.Fresh)
	assert.True(t, second.Fresh, "工具后续调用必须绕过缓存")

	// 第二次请求必须带上 assistant 的 tool_use 与 user 的 tool_result
	last := second.Messages[len(second.Messages)-1]
	require.Len(t, last.Blocks, 1)
	assert.Equal(t, llm.BlockToolResult, last.Blocks[0].Type)
	assert.Equal(t, "tu1", last.Blocks[0].ToolUseID)
}

func TestModelTurnBoundedToolRounds(t *testing.T) {
	// 模型每次都要求工具：循环必须在 maxToolRounds 后停止并取文本兜底。
	loop := &llm.ChatResponse{
		Content: []llm.ContentBlock{
			{Type: llm.BlockText, Text: "still working"},
			{Type: llm.BlockToolUse, ID: "x", Name: "get_net_worth", Input: json.RawMessage(`{}`)},
		},
		StopReason: llm.StopToolUse,
	}
	caller := &fakeCaller{responses: []*llm.ChatResponse{loop, loop, loop, loop}}
	svc := newTestAssistant(caller, &fakeFinanceStore{}, &fakeQuoteSource{})

	res, err := svc.ProcessTurn(context.Background(), "what's my net worth?")
	require.NoError(t, err)
	// 1 次首调 + 3 轮工具后续 = 4 次调用，不能更多
	assert.Len(t, caller.requests, 4)
	assert.Equal(t, "still working", res.Message.Content)
}

func TestMutatingToolDeduplicatedWithinTurn(t *testing.T) {
	store := &fakeFinanceStore{}
	dup := &llm.ChatResponse{
		Content: []llm.ContentBlock{
			{Type: llm.BlockToolUse, ID: "a1", Name: "add_to_watchlist", Input: json.RawMessage(`{"symbol":"NVDA"}`)},
			{Type: llm.BlockToolUse, ID: "a2", Name: "add_to_watchlist", Input: json.RawMessage(`{"symbol": "NVDA"}`)},
		},
		StopReason: llm.StopToolUse,
	}
	caller := &fakeCaller{responses: []*llm.ChatResponse{dup, textResponse("Added NVDA to your watchlist.")}}
	svc := newTestAssistant(caller, store, &fakeQuoteSource{})

	_, err := svc.ProcessTurn(context.Background(), "add NVDA to my watchlist please")
	require.NoError(t, err)
	// 两个语义相同的变更调用只真正执行一次
	assert.Equal(t, []string{"NVDA"}, store.watchlist)

	// 但两个 tool_use 各自都拿到了结果块
	second := caller.requests[1]
	last := second.Messages[len(second.Messages)-1]
	require.Len(t, last.Blocks, 2)
	assert.Equal(t, last.Blocks[0].Content, last.Blocks[1].Content)
}

func TestProviderErrorsMapToFixedMessages(t *testing.T) {
	cases := []struct {
		errType string
		want    string
	}{
		{llm.ErrTypeRateLimit, "usage limit"},
		{llm.ErrTypeInvalidKey, "invalid API key"},
		{llm.ErrTypeAPI, "returned an error"},
		{llm.ErrTypeNetwork, "couldn't reach"},
	}
	for _, tc := range cases {
		caller := &fakeCaller{errs: []error{&llm.ProviderError{Type: tc.errType, Message: "boom"}}}
		svc := newTestAssistant(caller, &fakeFinanceStore{}, &fakeQuoteSource{})

		res, err := svc.ProcessTurn(context.Background(), "what's my net worth?")
		require.NoError(t, err, "error type %s must not fail the turn", tc.errType)
		assert.Contains(t, res.Message.Content, tc.want, "error type %s", tc.errType)
		assert.Equal(t, true, res.Message.Metadata["error"])
	}
}

func TestFailedTurnKeepsSessionUsable(t *testing.T) {
	caller := &fakeCaller{
		errs:      []error{&llm.ProviderError{Type: llm.ErrTypeAPI, Message: "500"}, nil},
		responses: []*llm.ChatResponse{nil, textResponse("You spent nothing this month.")},
	}
	svc := newTestAssistant(caller, &fakeFinanceStore{}, &fakeQuoteSource{})
	ctx := context.Background()

	_, err := svc.ProcessTurn(ctx, "how much did I spend this month")
	require.NoError(t, err)

	res, err := svc.ProcessTurn(ctx, "how much did I spend this month")
	require.NoError(t, err)
	assert.Equal(t, "You spent nothing this month.", res.Message.Content)
}
