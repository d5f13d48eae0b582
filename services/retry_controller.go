package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"league-sync-service/logger"
)

// 死信类别
const (
	DeadLetterValidation = "validation"
	DeadLetterExhausted  = "exhausted-retries"
)

// MatchPersister 持久化适配器的能力集合，由 MatchStore 实现
type MatchPersister interface {
	MatchFinder
	Create(ctx context.Context, rec *Reconciliation) error
	Update(ctx context.Context, rec *Reconciliation) error
	RecordConflict(ctx context.Context, rec *Reconciliation) error
	SaveDeadLetter(ctx context.Context, messageID, payload, category string, attempts int, lastErr string) error
}

// DeadLetterPublisher 将死信发布到死信队列（数据库记录之外的副本）
type DeadLetterPublisher interface {
	PublishDeadLetter(payload []byte, category string) error
}

// Outcome 单条消息的终态。所有终态都应被调用方 ack：
// 重试在控制器内部完成，冲突与死信都是成功的处理结果。
type Outcome struct {
	Decision   Decision
	DeadLetter string // 空，或 validation / exhausted-retries
	Attempts   int
	Err        error // 终态错误（仅用于日志）
}

// RetryOptions 重试参数
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// RetryController 将 校验 → 解析 → 调和 → 持久化 包装为一条消息的
// 工作单元。暂时性故障按指数退避重试，重试耗尽或永久性故障进入
// 死信通道；校验失败不重试，直接死信。
type RetryController struct {
	validator  *SchemaValidator
	resolver   *IdentityResolver
	reconciler *Reconciler
	store      MatchPersister
	publisher  DeadLetterPublisher
	notifier   *WebhookNotifier
	stats      *StatsTracker

	maxAttempts int
	newBackoff  func() backoff.BackOff
}

// NewRetryController 创建控制器
func NewRetryController(store MatchPersister, publisher DeadLetterPublisher,
	notifier *WebhookNotifier, stats *StatsTracker, opts RetryOptions) *RetryController {

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	return &RetryController{
		validator:   NewSchemaValidator(),
		resolver:    NewIdentityResolver(store),
		reconciler:  NewReconciler(),
		store:       store,
		publisher:   publisher,
		notifier:    notifier,
		stats:       stats,
		maxAttempts: maxAttempts,
		newBackoff: func() backoff.BackOff {
			expo := backoff.NewExponentialBackOff()
			if opts.InitialDelay > 0 {
				expo.InitialInterval = opts.InitialDelay
			}
			if opts.MaxDelay > 0 {
				expo.MaxInterval = opts.MaxDelay
			}
			expo.MaxElapsedTime = 0 // 次数封顶由 WithMaxRetries 控制
			return expo
		},
	}
}

// SetDeadLetterPublisher 注入死信发布器。AMQP 模式下连接器既依赖
// 控制器又承担发布，只能在构造之后回填。
func (c *RetryController) SetDeadLetterPublisher(p DeadLetterPublisher) {
	c.publisher = p
}

// Process 处理一条原始消息直到终态
func (c *RetryController) Process(ctx context.Context, payload []byte) Outcome {
	// 1. 校验。失败直接死信，绝不重试。
	msg, err := c.validator.Validate(payload)
	if err != nil {
		logger.Warnf("[Pipeline] Validation failed: %v", err)
		c.deadLetter(ctx, messageIDFromPayload(payload), payload, DeadLetterValidation, 0, err)
		c.stats.RecordValidationFailure()
		return Outcome{DeadLetter: DeadLetterValidation, Err: err}
	}

	// 2. 解析 → 调和 → 持久化，作为一个工作单元整体重试
	var rec *Reconciliation
	attempts := 0

	operation := func() error {
		attempts++
		r, err := c.runOnce(ctx, msg)
		if err != nil {
			if errors.Is(err, ErrTransient) {
				c.stats.RecordRetry()
				logger.Warnf("[Pipeline] Transient failure for message %s (attempt %d/%d): %v",
					msg.MessageID, attempts, c.maxAttempts, err)
				return err
			}
			return backoff.Permanent(err)
		}
		rec = r
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(c.newBackoff(), uint64(c.maxAttempts-1)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		logger.Errorf("[Pipeline] Message %s failed after %d attempt(s): %v", msg.MessageID, attempts, err)
		c.deadLetter(ctx, msg.MessageID, payload, DeadLetterExhausted, attempts, err)
		c.stats.RecordDeadLetter()
		return Outcome{DeadLetter: DeadLetterExhausted, Attempts: attempts, Err: err}
	}

	c.stats.RecordDecision(rec.Decision)
	if rec.Decision == DecisionConflict && c.notifier != nil {
		go c.notifier.NotifyConflict(rec.Existing.ID, rec.Reason, len(rec.Conflicts))
	}

	logger.Printf("[Pipeline] Message %s → %s", msg.MessageID, rec)
	return Outcome{Decision: rec.Decision, Attempts: attempts}
}

// runOnce 执行一次完整的工作单元。每次重试都重新解析身份，
// 输掉插入竞争或撞上并发加锁的消息在重放时收敛到正确决定。
func (c *RetryController) runOnce(ctx context.Context, msg *MatchMessage) (*Reconciliation, error) {
	existing, err := c.resolver.Resolve(ctx, msg)
	if err != nil {
		return nil, err
	}

	rec := c.reconciler.Reconcile(existing, msg)

	switch rec.Decision {
	case DecisionCreate:
		if err := c.store.Create(ctx, rec); err != nil {
			return nil, err
		}
	case DecisionUpdate:
		if err := c.store.Update(ctx, rec); err != nil {
			return nil, err
		}
	case DecisionConflict:
		if err := c.store.RecordConflict(ctx, rec); err != nil {
			return nil, err
		}
	case DecisionSkip:
		// 幂等空操作：不触碰行，updated_at 不变
	}

	return rec, nil
}

// deadLetter 落库 + 发布到死信队列 + 告警
func (c *RetryController) deadLetter(ctx context.Context, messageID string, payload []byte, category string, attempts int, cause error) {
	lastErr := ""
	if cause != nil {
		lastErr = cause.Error()
	}

	if err := c.store.SaveDeadLetter(ctx, messageID, string(payload), category, attempts, lastErr); err != nil {
		// 死信落库失败只能记日志，消息本身仍会发布到死信队列
		logger.Errorf("[Pipeline] Failed to save dead letter %s: %v", messageID, err)
	}

	if c.publisher != nil {
		if err := c.publisher.PublishDeadLetter(payload, category); err != nil {
			logger.Errorf("[Pipeline] Failed to publish dead letter %s: %v", messageID, err)
		}
	}

	if c.notifier != nil {
		go c.notifier.NotifyDeadLetter(messageID, category, attempts, lastErr)
	}
}

// messageIDFromPayload 校验失败时尽力从载荷中取出 message_id
func messageIDFromPayload(payload []byte) string {
	var probe struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(payload, &probe); err == nil && probe.MessageID != "" {
		return probe.MessageID
	}
	return "unknown"
}
