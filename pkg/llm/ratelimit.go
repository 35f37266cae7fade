package llm

import (
	"sync"
	"time"
)

// rateCounter 是一个按固定窗口计数的限流器。
// 窗口没有后台定时器：resetAt 过期后在下一次检查时惰性清零。
type rateCounter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	count   int
	resetAt time.Time
	now     func() time.Time
}

func newRateCounter(limit int, window time.Duration) *rateCounter {
	return &rateCounter{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// allow 检查当前窗口是否还有配额。配额耗尽时返回 false 和窗口重置时间。
func (r *rateCounter) allow() (bool, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maybeResetLocked()
	if r.count >= r.limit {
		return false, r.resetAt
	}
	return true, r.resetAt
}

// record 记录一次成功的调用。
func (r *rateCounter) record() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maybeResetLocked()
	r.count++
}

func (r *rateCounter) maybeResetLocked() {
	t := r.now()
	if r.resetAt.IsZero() || !t.Before(r.resetAt) {
		r.count = 0
		r.resetAt = t.Add(r.window)
	}
}
