package llm

import (
	"encoding/json"
	"sync"
	"time"
)

// responseCache 按「系统提示 + 完整消息数组」的序列化结果做键，缓存无工具请求的响应。
// 超过容量时淘汰最旧的条目；过期条目在读取时丢弃。
type responseCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]cacheEntry
	now        func() time.Time
}

type cacheEntry struct {
	response *ChatResponse
	storedAt time.Time
}

func newResponseCache(ttl time.Duration, maxEntries int) *responseCache {
	return &responseCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]cacheEntry),
		now:        time.Now,
	}
}

// cacheKey 生成请求的缓存键。带工具的请求不参与缓存，返回空串。
func cacheKey(req *ChatRequest) string {
	if len(req.Tools) > 0 {
		return ""
	}
	key, err := json.Marshal(struct {
		System   string        `json:"system"`
		Messages []ChatMessage `json:"messages"`
	}{System: req.System, Messages: req.Messages})
	if err != nil {
		return ""
	}
	return string(key)
}

func (c *responseCache) get(key string) *ChatResponse {
	if key == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	if c.now().Sub(entry.storedAt) > c.ttl {
		delete(c.entries, key)
		return nil
	}
	return entry.response
}

func (c *responseCache) put(key string, resp *ChatResponse) {
	if key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = cacheEntry{response: resp, storedAt: c.now()}
}

func (c *responseCache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.storedAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.storedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
