// Package pipeline 包含后台任务的处理逻辑。
package pipeline

import (
	"context"
	"fmt"
	"time"

	"finchat-go/internal/config"
	"finchat-go/internal/repository"
	"finchat-go/pkg/log"
	"finchat-go/pkg/quotes"
	"finchat-go/pkg/tasks"
)

// QuoteRefresher 消费行情刷新任务：从数据源拉取最新报价与基本面并写入缓存。
// 自选股工具返回乐观确认后，真正的刷新就由它在后台完成。
type QuoteRefresher struct {
	quotesClient quotes.Client
	quoteRepo    repository.QuoteRepository
	cacheTTL     time.Duration
}

// NewQuoteRefresher 创建一个新的 QuoteRefresher 实例。
func NewQuoteRefresher(quotesClient quotes.Client, quoteRepo repository.QuoteRepository, cfg config.QuotesConfig) *QuoteRefresher {
	ttl := time.Duration(cfg.CacheTTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &QuoteRefresher{
		quotesClient: quotesClient,
		quoteRepo:    quoteRepo,
		cacheTTL:     ttl,
	}
}

// Process 实现 kafka.TaskProcessor。
func (p *QuoteRefresher) Process(ctx context.Context, task tasks.QuoteRefreshTask) error {
	quote, err := p.quotesClient.LatestQuote(ctx, task.Symbol)
	if err != nil {
		return fmt.Errorf("failed to fetch quote for %s: %w", task.Symbol, err)
	}
	if err := p.quoteRepo.SetQuote(ctx, quote, p.cacheTTL); err != nil {
		return fmt.Errorf("failed to cache quote for %s: %w", task.Symbol, err)
	}

	// 基本面拉取失败不影响任务成功，报价可用即可。
	if f, ferr := p.quotesClient.Fundamentals(ctx, task.Symbol); ferr == nil {
		if cerr := p.quoteRepo.SetFundamentals(ctx, f, p.cacheTTL); cerr != nil {
			log.Warnf("缓存基本面数据失败: symbol=%s, err=%v", task.Symbol, cerr)
		}
	} else {
		log.Warnf("拉取基本面数据失败: symbol=%s, err=%v", task.Symbol, ferr)
	}

	log.Infof("行情已刷新: symbol=%s, last=%.2f", quote.Symbol, quote.Last)
	return nil
}
