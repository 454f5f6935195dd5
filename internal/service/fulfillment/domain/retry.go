// internal/service/fulfillment/domain/retry.go
package domain

import "time"

// RetryPolicy 把重试调度策略表达为纯数据：当前尝试序号由队列传入，
// 退避表和上限在这里查询，策略本身不携带任何可变状态。
type RetryPolicy struct {
	MaxAttempts   int
	Backoff       []time.Duration
	DispatchDelay time.Duration
}

// DefaultRetryPolicy 返回缺省策略：最多 3 次尝试，退避 5s/10s/15s，派发前延迟 2s
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		Backoff:       []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second},
		DispatchDelay: 2 * time.Second,
	}
}

// BackoffFor 返回第 attempt 次（从 1 开始）尝试失败后的退避时长，越界时取表尾
func (p RetryPolicy) BackoffFor(attempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return 5 * time.Second
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.Backoff) {
		idx = len(p.Backoff) - 1
	}
	return p.Backoff[idx]
}

// Exhausted 判断第 attempt 次尝试之后是否还有重试额度
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}

// MaxTotalBackoff 返回全部重试耗尽时累计的退避时长，用于识别疑似卡死的订单
func (p RetryPolicy) MaxTotalBackoff() time.Duration {
	var total time.Duration
	for _, d := range p.Backoff {
		total += d
	}
	return total + p.DispatchDelay
}
