package services

import (
	"sync"
	"time"

	"league-sync-service/logger"
)

// StatsSnapshot 各计数器的当前值
type StatsSnapshot struct {
	Created            int64 `json:"created"`
	Updated            int64 `json:"updated"`
	Skipped            int64 `json:"skipped"`
	Conflicts          int64 `json:"conflicts"`
	ValidationFailures int64 `json:"validation_failures"`
	Retries            int64 `json:"retries"`
	DeadLetters        int64 `json:"dead_letters"`
}

// StatsTracker 流水线计数器，定期输出统计报告
type StatsTracker struct {
	mu       sync.Mutex
	snapshot StatsSnapshot
	interval time.Duration
	done     chan struct{}
}

// NewStatsTracker 创建统计追踪器
func NewStatsTracker(interval time.Duration) *StatsTracker {
	return &StatsTracker{
		interval: interval,
		done:     make(chan struct{}),
	}
}

// RecordDecision 记录一次调和决定
func (t *StatsTracker) RecordDecision(decision Decision) {
	metricDecisions.WithLabelValues(string(decision)).Inc()

	t.mu.Lock()
	defer t.mu.Unlock()
	switch decision {
	case DecisionCreate:
		t.snapshot.Created++
	case DecisionUpdate:
		t.snapshot.Updated++
	case DecisionSkip:
		t.snapshot.Skipped++
	case DecisionConflict:
		t.snapshot.Conflicts++
	}
}

// RecordValidationFailure 记录一次校验失败
func (t *StatsTracker) RecordValidationFailure() {
	metricValidationFailures.Inc()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.snapshot.ValidationFailures++
}

// RecordRetry 记录一次重试
func (t *StatsTracker) RecordRetry() {
	metricRetries.Inc()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.snapshot.Retries++
}

// RecordDeadLetter 记录一次死信
func (t *StatsTracker) RecordDeadLetter() {
	metricDeadLetters.Inc()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.snapshot.DeadLetters++
}

// Snapshot 获取当前计数
func (t *StatsTracker) Snapshot() StatsSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot
}

// StartPeriodicReport 启动周期性统计报告
func (t *StatsTracker) StartPeriodicReport() {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s := t.Snapshot()
			logger.Printf("[Stats] created=%d updated=%d skipped=%d conflicts=%d validation_failures=%d retries=%d dead_letters=%d",
				s.Created, s.Updated, s.Skipped, s.Conflicts, s.ValidationFailures, s.Retries, s.DeadLetters)
		case <-t.done:
			return
		}
	}
}

// Stop 停止周期性报告
func (t *StatsTracker) Stop() {
	close(t.done)
}
