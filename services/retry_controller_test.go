package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"league-sync-service/database"
)

// memStore 是 MatchPersister 的内存实现，模拟唯一约束与条件更新
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	matches map[int64]*database.Match

	conflicts   []recordedConflict
	deadLetters []recordedDeadLetter

	// 注入的故障队列：每次写操作弹出一个
	failures []error

	// 模拟竞争窗口：接下来 N 次自然键查找返回未找到
	naturalKeyMisses int
}

type recordedConflict struct {
	matchID int64
	field   string
	stored  string
	income  string
}

type recordedDeadLetter struct {
	messageID string
	category  string
	attempts  int
	lastErr   string
}

func newMemStore() *memStore {
	return &memStore{matches: make(map[int64]*database.Match)}
}

func (s *memStore) failNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

func (s *memStore) popFailure() error {
	if len(s.failures) == 0 {
		return nil
	}
	err := s.failures[0]
	s.failures = s.failures[1:]
	return err
}

func (s *memStore) FindByExternalID(ctx context.Context, externalID string) (*database.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.matches {
		if m.ExternalID != nil && *m.ExternalID == externalID {
			copied := *m
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) FindByNaturalKey(ctx context.Context, msg *MatchMessage) (*database.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.naturalKeyMisses > 0 {
		s.naturalKeyMisses--
		return nil, ErrNotFound
	}
	for _, m := range s.matches {
		if m.MatchDate.Equal(msg.Date) && m.HomeTeam == msg.HomeTeam && m.AwayTeam == msg.AwayTeam &&
			m.Season == msg.Season && m.AgeGroup == msg.AgeGroup && m.MatchType == msg.MatchType {
			copied := *m
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) Create(ctx context.Context, rec *Reconciliation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.popFailure(); err != nil {
		return err
	}

	msg := rec.Message
	if msg.ExternalID != nil {
		for _, m := range s.matches {
			if m.ExternalID != nil && *m.ExternalID == *msg.ExternalID {
				return Transient(errors.New("unique constraint uq_matches_external_id"))
			}
		}
	} else {
		// 自然键唯一索引只覆盖无外部 ID 的行
		for _, m := range s.matches {
			if m.ExternalID == nil && m.MatchDate.Equal(msg.Date) && m.HomeTeam == msg.HomeTeam &&
				m.AwayTeam == msg.AwayTeam && m.Season == msg.Season && m.AgeGroup == msg.AgeGroup &&
				m.MatchType == msg.MatchType {
				return Transient(errors.New("unique constraint uq_matches_natural_key"))
			}
		}
	}

	s.nextID++
	actor := msg.Actor()
	m := &database.Match{
		ID:         s.nextID,
		ExternalID: msg.ExternalID,
		HomeTeam:   msg.HomeTeam,
		AwayTeam:   msg.AwayTeam,
		MatchDate:  msg.Date,
		Season:     msg.Season,
		AgeGroup:   msg.AgeGroup,
		MatchType:  msg.MatchType,
		Division:   msg.Division,
		Status:     rec.NewStatus,
		Source:     msg.Source,
		Locked:     rec.Lock,
		CreatedBy:  &actor,
		UpdatedBy:  &actor,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if msg.HomeScore != nil {
		m.HomeScore = *msg.HomeScore
	}
	if msg.AwayScore != nil {
		m.AwayScore = *msg.AwayScore
	}
	s.matches[m.ID] = m
	return nil
}

func (s *memStore) Update(ctx context.Context, rec *Reconciliation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.popFailure(); err != nil {
		return err
	}

	m, ok := s.matches[rec.Existing.ID]
	if !ok {
		return Transient(errors.New("row vanished"))
	}

	msg := rec.Message
	manual := msg.Source == SourceManual
	if !manual && m.Locked {
		return Transient(fmt.Errorf("match %d was locked concurrently", m.ID))
	}

	if msg.HomeScore != nil {
		m.HomeScore = *msg.HomeScore
	}
	if msg.AwayScore != nil {
		m.AwayScore = *msg.AwayScore
	}
	m.Status = rec.NewStatus
	m.Source = msg.Source
	m.Locked = m.Locked || rec.Lock
	actor := msg.Actor()
	m.UpdatedBy = &actor
	m.UpdatedAt = time.Now()
	return nil
}

func (s *memStore) RecordConflict(ctx context.Context, rec *Reconciliation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.popFailure(); err != nil {
		return err
	}

	for _, fc := range rec.Conflicts {
		s.conflicts = append(s.conflicts, recordedConflict{
			matchID: rec.Existing.ID,
			field:   fc.Field,
			stored:  fc.Stored,
			income:  fc.Incoming,
		})
	}
	return nil
}

func (s *memStore) SaveDeadLetter(ctx context.Context, messageID, payload, category string, attempts int, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadLetters = append(s.deadLetters, recordedDeadLetter{
		messageID: messageID,
		category:  category,
		attempts:  attempts,
		lastErr:   lastErr,
	})
	return nil
}

func (s *memStore) matchByExternalID(externalID string) *database.Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.matches {
		if m.ExternalID != nil && *m.ExternalID == externalID {
			return m
		}
	}
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.matches)
}

func newTestController(store *memStore) *RetryController {
	return NewRetryController(store, nil, nil, NewStatsTracker(time.Hour), RetryOptions{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
	})
}

func payloadJSON(t *testing.T, m map[string]interface{}) []byte {
	t.Helper()
	payload, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	return payload
}

// 覆盖完整生命周期：创建 → 更新 → 幂等跳过 → 人工覆盖加锁 → 冲突
func TestPipelineLifecycle(t *testing.T) {
	store := newMemStore()
	c := newTestController(store)
	ctx := context.Background()

	base := func(mutate func(m map[string]interface{})) []byte {
		m := map[string]interface{}{
			"home_team":         "team-a",
			"away_team":         "team-b",
			"date":              "2025-09-01",
			"season":            "2025-2026",
			"age_group":         "u15",
			"match_type":        "league",
			"status":            "scheduled",
			"external_match_id": "42",
			"source":            "automated",
		}
		if mutate != nil {
			mutate(m)
		}
		return payloadJSON(t, m)
	}

	// 1. 首次自动消息 → CREATE
	outcome := c.Process(ctx, base(nil))
	if outcome.Decision != DecisionCreate {
		t.Fatalf("expected create, got %+v", outcome)
	}
	m := store.matchByExternalID("42")
	if m == nil || m.Status != StatusScheduled || m.Locked {
		t.Fatalf("unexpected row after create: %+v", m)
	}

	// 2. tbd 到达 → UPDATE；再次 tbd → SKIP 且不刷新时间戳
	outcome = c.Process(ctx, base(func(m map[string]interface{}) { m["status"] = "tbd" }))
	if outcome.Decision != DecisionUpdate {
		t.Fatalf("expected update to tbd, got %+v", outcome)
	}
	updatedAt := store.matchByExternalID("42").UpdatedAt

	outcome = c.Process(ctx, base(func(m map[string]interface{}) { m["status"] = "tbd" }))
	if outcome.Decision != DecisionSkip {
		t.Fatalf("expected skip for repeated tbd, got %+v", outcome)
	}
	if !store.matchByExternalID("42").UpdatedAt.Equal(updatedAt) {
		t.Error("skip must not touch updated_at")
	}

	// 3. 完赛比分到达 → UPDATE
	outcome = c.Process(ctx, base(func(m map[string]interface{}) {
		m["status"] = "completed"
		m["home_score"] = 2
		m["away_score"] = 1
	}))
	if outcome.Decision != DecisionUpdate {
		t.Fatalf("expected update to completed, got %+v", outcome)
	}

	// 4. 人工修正 2-0（无外部 ID，按自然键匹配）→ UPDATE + 锁定
	outcome = c.Process(ctx, payloadJSON(t, map[string]interface{}{
		"home_team":    "team-a",
		"away_team":    "team-b",
		"date":         "2025-09-01",
		"season":       "2025-2026",
		"age_group":    "u15",
		"match_type":   "league",
		"home_score":   2,
		"away_score":   0,
		"source":       "manual",
		"submitted_by": "admin@league",
	}))
	if outcome.Decision != DecisionUpdate {
		t.Fatalf("expected manual update, got %+v", outcome)
	}
	m = store.matchByExternalID("42")
	if !m.Locked || m.AwayScore != 0 {
		t.Fatalf("manual correction not applied: %+v", m)
	}

	// 5. 自动源重发原值 2-1 → CONFLICT，存量保持 2-0
	outcome = c.Process(ctx, base(func(m map[string]interface{}) {
		m["status"] = "completed"
		m["home_score"] = 2
		m["away_score"] = 1
	}))
	if outcome.Decision != DecisionConflict {
		t.Fatalf("expected conflict, got %+v", outcome)
	}
	m = store.matchByExternalID("42")
	if m.AwayScore != 0 {
		t.Errorf("locked score was overwritten: %+v", m)
	}
	if len(store.conflicts) == 0 {
		t.Error("expected a conflict surface entry")
	}
	if store.count() != 1 {
		t.Errorf("expected exactly one match row, got %d", store.count())
	}
}

// 幂等性：同一条自动消息提交 N 次，终态与提交一次相同
func TestPipelineIdempotence(t *testing.T) {
	store := newMemStore()
	c := newTestController(store)
	ctx := context.Background()

	payload := payloadJSON(t, map[string]interface{}{
		"home_team":         "team-a",
		"away_team":         "team-b",
		"date":              "2025-09-01",
		"season":            "2025-2026",
		"age_group":         "u15",
		"match_type":        "league",
		"status":            "completed",
		"home_score":        3,
		"away_score":        3,
		"external_match_id": "99",
		"source":            "automated",
	})

	for i := 0; i < 5; i++ {
		outcome := c.Process(ctx, payload)
		if outcome.DeadLetter != "" {
			t.Fatalf("unexpected dead letter on attempt %d: %+v", i, outcome)
		}
	}

	if store.count() != 1 {
		t.Fatalf("expected one row after repeated delivery, got %d", store.count())
	}
	m := store.matchByExternalID("99")
	if m.Status != StatusCompleted || m.HomeScore != 3 || m.AwayScore != 3 {
		t.Errorf("unexpected final state: %+v", m)
	}
}

func TestPipelineValidationFailureGoesToDeadLetter(t *testing.T) {
	store := newMemStore()
	c := newTestController(store)

	outcome := c.Process(context.Background(), payloadJSON(t, map[string]interface{}{
		"home_team":  "team-a",
		"away_team":  "team-b",
		"date":       "2025-09-01",
		"season":     "2025-2026",
		"age_group":  "u15",
		"match_type": "league",
		"status":     "unknown-value",
		"source":     "automated",
	}))

	if outcome.DeadLetter != DeadLetterValidation {
		t.Fatalf("expected validation dead letter, got %+v", outcome)
	}
	if store.count() != 0 {
		t.Error("validation failures must never reach the store")
	}
	if len(store.deadLetters) != 1 || store.deadLetters[0].category != DeadLetterValidation {
		t.Fatalf("unexpected dead letters: %+v", store.deadLetters)
	}
	if store.deadLetters[0].attempts != 0 {
		t.Error("validation failures are never retried")
	}
}

func TestPipelineRetriesTransientFailures(t *testing.T) {
	store := newMemStore()
	c := newTestController(store)

	// 前两次写入失败，第三次成功
	store.failNext(
		Transient(errors.New("connection refused")),
		Transient(errors.New("connection refused")),
	)

	outcome := c.Process(context.Background(), payloadJSON(t, map[string]interface{}{
		"home_team":         "team-a",
		"away_team":         "team-b",
		"date":              "2025-09-01",
		"season":            "2025-2026",
		"age_group":         "u15",
		"match_type":        "league",
		"status":            "scheduled",
		"external_match_id": "7",
		"source":            "automated",
	}))

	if outcome.Decision != DecisionCreate {
		t.Fatalf("expected eventual create, got %+v", outcome)
	}
	if outcome.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", outcome.Attempts)
	}
	if store.count() != 1 {
		t.Errorf("expected one row, got %d", store.count())
	}
}

func TestPipelineExhaustedRetriesGoToDeadLetter(t *testing.T) {
	store := newMemStore()
	c := newTestController(store)

	// 故障多于最大尝试次数
	store.failNext(
		Transient(errors.New("storage down")),
		Transient(errors.New("storage down")),
		Transient(errors.New("storage down")),
		Transient(errors.New("storage down")),
	)

	outcome := c.Process(context.Background(), payloadJSON(t, map[string]interface{}{
		"home_team":         "team-a",
		"away_team":         "team-b",
		"date":              "2025-09-01",
		"season":            "2025-2026",
		"age_group":         "u15",
		"match_type":        "league",
		"status":            "scheduled",
		"external_match_id": "7",
		"message_id":        "msg-retry",
		"source":            "automated",
	}))

	if outcome.DeadLetter != DeadLetterExhausted {
		t.Fatalf("expected exhausted-retries dead letter, got %+v", outcome)
	}
	if outcome.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", outcome.Attempts)
	}
	if len(store.deadLetters) != 1 {
		t.Fatalf("expected one dead letter, got %d", len(store.deadLetters))
	}
	dl := store.deadLetters[0]
	if dl.messageID != "msg-retry" || dl.category != DeadLetterExhausted || dl.attempts != 3 || dl.lastErr == "" {
		t.Errorf("unexpected dead letter: %+v", dl)
	}
}

func TestPipelinePermanentFailureSkipsRetry(t *testing.T) {
	store := newMemStore()
	c := newTestController(store)

	store.failNext(Permanent(errors.New("not-null constraint")))

	outcome := c.Process(context.Background(), payloadJSON(t, map[string]interface{}{
		"home_team":         "team-a",
		"away_team":         "team-b",
		"date":              "2025-09-01",
		"season":            "2025-2026",
		"age_group":         "u15",
		"match_type":        "league",
		"status":            "scheduled",
		"external_match_id": "7",
		"source":            "automated",
	}))

	if outcome.DeadLetter != DeadLetterExhausted {
		t.Fatalf("expected dead letter, got %+v", outcome)
	}
	if outcome.Attempts != 1 {
		t.Errorf("permanent failures must not be retried, got %d attempts", outcome.Attempts)
	}
}

// 输掉插入竞争的消息在重放时收敛为更新候选
func TestPipelineLosingCreateRaceConverges(t *testing.T) {
	store := newMemStore()
	c := newTestController(store)
	ctx := context.Background()

	payload := payloadJSON(t, map[string]interface{}{
		"home_team":         "team-a",
		"away_team":         "team-b",
		"date":              "2025-09-01",
		"season":            "2025-2026",
		"age_group":         "u15",
		"match_type":        "league",
		"status":            "scheduled",
		"external_match_id": "42",
		"source":            "automated",
	})

	// 第一条消息正常创建
	if outcome := c.Process(ctx, payload); outcome.Decision != DecisionCreate {
		t.Fatalf("expected create, got %+v", outcome)
	}

	// 第二条相同消息：memStore 的唯一约束使重复插入返回暂时性错误，
	// 但这里解析先行，直接得到 SKIP；竞争窗口由 Create 的约束兜底
	if outcome := c.Process(ctx, payload); outcome.Decision != DecisionSkip {
		t.Fatalf("expected skip, got %+v", outcome)
	}
	if store.count() != 1 {
		t.Errorf("expected one row, got %d", store.count())
	}
}

// 输掉自然键插入竞争的人工消息在重放时收敛为更新
func TestPipelineLosingNaturalKeyRaceConverges(t *testing.T) {
	store := newMemStore()
	c := newTestController(store)
	ctx := context.Background()

	payload := payloadJSON(t, map[string]interface{}{
		"home_team":    "team-a",
		"away_team":    "team-b",
		"date":         "2025-09-01",
		"season":       "2025-2026",
		"age_group":    "u15",
		"match_type":   "league",
		"home_score":   2,
		"away_score":   0,
		"source":       "manual",
		"submitted_by": "admin@league",
	})

	if outcome := c.Process(ctx, payload); outcome.Decision != DecisionCreate {
		t.Fatalf("expected create, got %+v", outcome)
	}

	// 模拟另一个 worker：查找发生在第一条插入落盘之前，
	// 插入撞上自然键唯一索引，重放后解析为更新候选
	store.naturalKeyMisses = 1
	outcome := c.Process(ctx, payload)
	if outcome.Decision != DecisionUpdate {
		t.Fatalf("expected update after replay, got %+v", outcome)
	}
	if outcome.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", outcome.Attempts)
	}
	if store.count() != 1 {
		t.Errorf("expected one row, got %d", store.count())
	}
}
