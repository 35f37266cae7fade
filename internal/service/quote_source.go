package service

import (
	"context"
	"time"

	"finchat-go/internal/model"
	"finchat-go/internal/repository"
	"finchat-go/pkg/log"
	"finchat-go/pkg/quotes"
)

// cachedQuoteSource 在行情客户端外套一层 Redis 读穿缓存。
// 后台刷新管道写入同一缓存，聚合层读到的就是最新快照。
type cachedQuoteSource struct {
	repo   repository.QuoteRepository
	client quotes.Client
	ttl    time.Duration
}

// NewCachedQuoteSource 创建一个带缓存的行情数据源。
func NewCachedQuoteSource(repo repository.QuoteRepository, client quotes.Client, ttlMinutes int) quotes.Client {
	ttl := time.Duration(ttlMinutes) * time.Minute
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &cachedQuoteSource{repo: repo, client: client, ttl: ttl}
}

// LatestQuote 优先读缓存，未命中时拉取数据源并回填。
func (s *cachedQuoteSource) LatestQuote(ctx context.Context, symbol string) (*model.Quote, error) {
	if cached, err := s.repo.GetQuote(ctx, symbol); err == nil && cached != nil {
		return cached, nil
	} else if err != nil {
		log.Warnf("读取报价缓存失败: symbol=%s, err=%v", symbol, err)
	}

	quote, err := s.client.LatestQuote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetQuote(ctx, quote, s.ttl); err != nil {
		log.Warnf("回填报价缓存失败: symbol=%s, err=%v", symbol, err)
	}
	return quote, nil
}

// Fundamentals 优先读缓存，未命中时拉取数据源并回填。
func (s *cachedQuoteSource) Fundamentals(ctx context.Context, symbol string) (*model.Fundamentals, error) {
	if cached, err := s.repo.GetFundamentals(ctx, symbol); err == nil && cached != nil {
		return cached, nil
	} else if err != nil {
		log.Warnf("读取基本面缓存失败: symbol=%s, err=%v", symbol, err)
	}

	f, err := s.client.Fundamentals(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetFundamentals(ctx, f, s.ttl); err != nil {
		log.Warnf("回填基本面缓存失败: symbol=%s, err=%v", symbol, err)
	}
	return f, nil
}
