package llm

import (
	"context"
	"fmt"
	"time"

	"finchat-go/internal/config"
	"finchat-go/pkg/log"
)

// Caller 是编排层看到的调用入口，Gateway 是它唯一的生产实现。
type Caller interface {
	Call(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// Gateway 在单个后端客户端之外套上三层防护：
// 模型白名单（构造期硬失败）、响应缓存、小时/天双限流。
type Gateway struct {
	client Client
	cache  *responseCache
	hourly *rateCounter
	daily  *rateCounter
}

// NewGateway 根据配置选择后端并构造 Gateway。
// 配置的模型不在白名单内属于配置错误，直接返回 error 终止启动，
// 与运行期可恢复的调用错误刻意区分开。
func NewGateway(cfg config.ProviderConfig, acfg config.AssistantConfig) (*Gateway, error) {
	if !modelAllowed(cfg.Model, cfg.AllowedModels) {
		return nil, fmt.Errorf("model %q is not in the allowed model list %v", cfg.Model, cfg.AllowedModels)
	}

	var client Client
	switch cfg.Backend {
	case "anthropic":
		client = newAnthropicClient(cfg)
	case "openai":
		client = newOpenAIClient(cfg)
	default:
		return nil, fmt.Errorf("unknown provider backend %q", cfg.Backend)
	}

	cacheTTL := time.Duration(acfg.CacheTTLMinutes) * time.Minute
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	cacheMax := acfg.CacheMaxEntries
	if cacheMax <= 0 {
		cacheMax = 100
	}
	// 限流配置缺省时按默认额度处理，0 不是「禁止一切调用」。
	perHour := acfg.MessagesPerHour
	if perHour <= 0 {
		perHour = 30
	}
	perDay := acfg.MessagesPerDay
	if perDay <= 0 {
		perDay = 200
	}

	return &Gateway{
		client: client,
		cache:  newResponseCache(cacheTTL, cacheMax),
		hourly: newRateCounter(perHour, time.Hour),
		daily:  newRateCounter(perDay, 24*time.Hour),
	}, nil
}

func modelAllowed(model string, allowed []string) bool {
	for _, m := range allowed {
		if m == model {
			return true
		}
	}
	return false
}

// Call 执行一次模型调用。
// 限流在任何网络动作之前短路；带工具或 Fresh 的请求不读写缓存。
func (g *Gateway) Call(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if ok, resetAt := g.hourly.allow(); !ok {
		return nil, &ProviderError{
			Type:    ErrTypeRateLimit,
			Message: fmt.Sprintf("hourly message limit reached, resets at %s", resetAt.Format("15:04")),
		}
	}
	if ok, resetAt := g.daily.allow(); !ok {
		return nil, &ProviderError{
			Type:    ErrTypeRateLimit,
			Message: fmt.Sprintf("daily message limit reached, resets at %s", resetAt.Format("2006-01-02 15:04")),
		}
	}

	key := cacheKey(req)
	if !req.Fresh {
		if cached := g.cache.get(key); cached != nil {
			log.Infof("provider cache hit, skipping remote call")
			return cached, nil
		}
	}

	resp, err := g.client.Chat(ctx, req)
	if err != nil {
		// 后端实现保证返回 *ProviderError；其余情况兜底成 api_error。
		if _, ok := err.(*ProviderError); ok {
			return nil, err
		}
		return nil, &ProviderError{Type: ErrTypeAPI, Message: err.Error()}
	}

	g.hourly.record()
	g.daily.record()
	g.cache.put(key, resp)

	log.Infow("provider call completed",
		"inputTokens", resp.Usage.InputTokens,
		"outputTokens", resp.Usage.OutputTokens,
		"stopReason", resp.StopReason,
	)
	return resp, nil
}
