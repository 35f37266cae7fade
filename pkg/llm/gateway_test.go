package llm

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"finchat-go/internal/config"
	"finchat-go/pkg/log"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Init("error", "console", "")
	os.Exit(m.Run())
}

// fakeBackend 计数远端调用次数。
type fakeBackend struct {
	calls int
	resp  *ChatResponse
	err   error
}

func (f *fakeBackend) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func newTestGateway(backend Client, hourly, daily int) *Gateway {
	return &Gateway{
		client: backend,
		cache:  newResponseCache(time.Hour, 100),
		hourly: newRateCounter(hourly, time.Hour),
		daily:  newRateCounter(daily, 24*time.Hour),
	}
}

func textOnly(text string) *ChatResponse {
	return &ChatResponse{
		Content:    []ContentBlock{{Type: BlockText, Text: text}},
		StopReason: StopEndTurn,
	}
}

func TestNewGatewayRejectsDisallowedModel(t *testing.T) {
	_, err := NewGateway(config.ProviderConfig{
		Backend:       "anthropic",
		Model:         "claude-nonexistent",
		AllowedModels: []string{"claude-3-5-haiku-20241022"},
	}, config.AssistantConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in the allowed model list")
}

func TestNewGatewayRejectsUnknownBackend(t *testing.T) {
	_, err := NewGateway(config.ProviderConfig{
		Backend:       "bard",
		Model:         "m1",
		AllowedModels: []string{"m1"},
	}, config.AssistantConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider backend")
}

func TestNewGatewayAcceptsBothBackends(t *testing.T) {
	for _, backend := range []string{"anthropic", "openai"} {
		g, err := NewGateway(config.ProviderConfig{
			Backend:       backend,
			Model:         "m1",
			AllowedModels: []string{"m1"},
		}, config.AssistantConfig{MessagesPerHour: 10, MessagesPerDay: 100})
		require.NoError(t, err, "backend %s", backend)
		require.NotNil(t, g)
	}
}

func TestNewGatewayDefaultsUnsetRateLimits(t *testing.T) {
	// 配置里省略限流键时必须落到默认额度，而不是把 0 当作「一律拒绝」。
	g, err := NewGateway(config.ProviderConfig{
		Backend:       "anthropic",
		Model:         "m1",
		AllowedModels: []string{"m1"},
	}, config.AssistantConfig{})
	require.NoError(t, err)

	backend := &fakeBackend{resp: textOnly("ok")}
	g.client = backend

	resp, err := g.Call(context.Background(), &ChatRequest{Messages: []ChatMessage{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 1, backend.calls)
	assert.Equal(t, 30, g.hourly.limit)
	assert.Equal(t, 200, g.daily.limit)
}

func TestCallCachesIdenticalToollessRequests(t *testing.T) {
	backend := &fakeBackend{resp: textOnly("hello")}
	g := newTestGateway(backend, 10, 100)
	ctx := context.Background()

	req := func() *ChatRequest {
		return &ChatRequest{
			System:   "sys",
			Messages: []ChatMessage{{Role: "user", Content: "hi"}},
		}
	}

	first, err := g.Call(ctx, req())
	require.NoError(t, err)
	second, err := g.Call(ctx, req())
	require.NoError(t, err)

	assert.Equal(t, 1, backend.calls)
	assert.Same(t, first, second)
}

func TestCallNeverCachesToolRequests(t *testing.T) {
	backend := &fakeBackend{resp: textOnly("hello")}
	g := newTestGateway(backend, 10, 100)
	ctx := context.Background()

	req := func() *ChatRequest {
		return &ChatRequest{
			System:   "sys",
			Messages: []ChatMessage{{Role: "user", Content: "hi"}},
			Tools:    []Tool{{Name: "t", InputSchema: []byte(`{}`)}},
		}
	}

	_, err := g.Call(ctx, req())
	require.NoError(t, err)
	_, err = g.Call(ctx, req())
	require.NoError(t, err)
	assert.Equal(t, 2, backend.calls)
}

func TestCallFreshBypassesCache(t *testing.T) {
	backend := &fakeBackend{resp: textOnly("hello")}
	g := newTestGateway(backend, 10, 100)
	ctx := context.Background()

	base := &ChatRequest{System: "sys", Messages: []ChatMessage{{Role: "user", Content: "hi"}}}
	_, err := g.Call(ctx, base)
	require.NoError(t, err)

	fresh := &ChatRequest{System: "sys", Messages: []ChatMessage{{Role: "user", Content: "hi"}}, Fresh: true}
	_, err = g.Call(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, 2, backend.calls)
}

func TestCallRateLimitShortCircuitsBeforeDispatch(t *testing.T) {
	backend := &fakeBackend{resp: textOnly("ok")}
	g := newTestGateway(backend, 2, 100)
	ctx := context.Background()

	// 用不同内容避开缓存
	for i, content := range []string{"a", "b"} {
		_, err := g.Call(ctx, &ChatRequest{Messages: []ChatMessage{{Role: "user", Content: content}}})
		require.NoError(t, err, "call %d", i)
	}

	_, err := g.Call(ctx, &ChatRequest{Messages: []ChatMessage{{Role: "user", Content: "c"}}})
	require.Error(t, err)
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrTypeRateLimit, perr.Type)
	assert.Contains(t, perr.Message, "hourly message limit")
	// 第三次没有打到远端
	assert.Equal(t, 2, backend.calls)
}

func TestCallFailedCallsDoNotConsumeQuota(t *testing.T) {
	backend := &fakeBackend{err: &ProviderError{Type: ErrTypeAPI, Message: "500"}}
	g := newTestGateway(backend, 1, 100)
	ctx := context.Background()

	_, err := g.Call(ctx, &ChatRequest{Messages: []ChatMessage{{Role: "user", Content: "a"}}})
	require.Error(t, err)

	// 失败不计入配额：换成会成功的后端，仍应允许一次调用。
	backend.err = nil
	backend.resp = textOnly("ok")
	_, err = g.Call(ctx, &ChatRequest{Messages: []ChatMessage{{Role: "user", Content: "b"}}})
	assert.NoError(t, err)
}

func TestCallWrapsUnknownErrors(t *testing.T) {
	backend := &fakeBackend{err: errors.New("plain failure")}
	g := newTestGateway(backend, 10, 100)

	_, err := g.Call(context.Background(), &ChatRequest{Messages: []ChatMessage{{Role: "user", Content: "a"}}})
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrTypeAPI, perr.Type)
}

func TestRateCounterLazyReset(t *testing.T) {
	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	r := newRateCounter(1, time.Hour)
	r.now = func() time.Time { return current }

	ok, _ := r.allow()
	require.True(t, ok)
	r.record()

	ok, resetAt := r.allow()
	require.False(t, ok)
	assert.Equal(t, current.Add(time.Hour), resetAt)

	// 窗口结束后惰性清零
	current = current.Add(time.Hour)
	ok, _ = r.allow()
	assert.True(t, ok)
}

func TestResponseCacheExpiry(t *testing.T) {
	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c := newResponseCache(10*time.Minute, 10)
	c.now = func() time.Time { return current }

	key := cacheKey(&ChatRequest{System: "s", Messages: []ChatMessage{{Role: "user", Content: "hi"}}})
	require.NotEmpty(t, key)

	c.put(key, textOnly("x"))
	require.NotNil(t, c.get(key))

	current = current.Add(11 * time.Minute)
	assert.Nil(t, c.get(key))
}

func TestResponseCacheEvictsOldest(t *testing.T) {
	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c := newResponseCache(time.Hour, 2)
	c.now = func() time.Time { return current }

	c.put("k1", textOnly("1"))
	current = current.Add(time.Minute)
	c.put("k2", textOnly("2"))
	current = current.Add(time.Minute)
	c.put("k3", textOnly("3"))

	assert.Nil(t, c.get("k1"))
	assert.NotNil(t, c.get("k2"))
	assert.NotNil(t, c.get("k3"))
}
