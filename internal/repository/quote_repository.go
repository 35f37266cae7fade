package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"finchat-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// QuoteRepository 缓存从行情数据源拉取的最新报价，避免每轮对话都打外部接口。
type QuoteRepository interface {
	GetQuote(ctx context.Context, symbol string) (*model.Quote, error)
	SetQuote(ctx context.Context, quote *model.Quote, ttl time.Duration) error
	GetFundamentals(ctx context.Context, symbol string) (*model.Fundamentals, error)
	SetFundamentals(ctx context.Context, f *model.Fundamentals, ttl time.Duration) error
}

type redisQuoteRepository struct {
	redisClient *redis.Client
}

// NewQuoteRepository 创建一个新的 QuoteRepository 实例。
func NewQuoteRepository(redisClient *redis.Client) QuoteRepository {
	return &redisQuoteRepository{redisClient: redisClient}
}

// GetQuote 从 Redis 获取缓存的报价，缓存未命中时返回 (nil, nil)。
func (r *redisQuoteRepository) GetQuote(ctx context.Context, symbol string) (*model.Quote, error) {
	key := fmt.Sprintf("quote:%s", strings.ToUpper(symbol))
	jsonData, err := r.redisClient.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached quote: %w", err)
	}
	var quote model.Quote
	if err := json.Unmarshal([]byte(jsonData), &quote); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached quote: %w", err)
	}
	return &quote, nil
}

// SetQuote 将报价写入 Redis 缓存。
func (r *redisQuoteRepository) SetQuote(ctx context.Context, quote *model.Quote, ttl time.Duration) error {
	key := fmt.Sprintf("quote:%s", strings.ToUpper(quote.Symbol))
	jsonData, err := json.Marshal(quote)
	if err != nil {
		return fmt.Errorf("failed to marshal quote: %w", err)
	}
	if err := r.redisClient.Set(ctx, key, jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cached quote: %w", err)
	}
	return nil
}

// GetFundamentals 从 Redis 获取缓存的基本面数据，未命中时返回 (nil, nil)。
func (r *redisQuoteRepository) GetFundamentals(ctx context.Context, symbol string) (*model.Fundamentals, error) {
	key := fmt.Sprintf("fundamentals:%s", strings.ToUpper(symbol))
	jsonData, err := r.redisClient.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached fundamentals: %w", err)
	}
	var f model.Fundamentals
	if err := json.Unmarshal([]byte(jsonData), &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached fundamentals: %w", err)
	}
	return &f, nil
}

// SetFundamentals 将基本面数据写入 Redis 缓存。
func (r *redisQuoteRepository) SetFundamentals(ctx context.Context, f *model.Fundamentals, ttl time.Duration) error {
	key := fmt.Sprintf("fundamentals:%s", strings.ToUpper(f.Symbol))
	jsonData, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal fundamentals: %w", err)
	}
	if err := r.redisClient.Set(ctx, key, jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cached fundamentals: %w", err)
	}
	return nil
}
