package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"league-sync-service/database"
)

// MatchStore 比赛持久化适配器。所有并发协调都表达为存储层的
// 唯一约束与条件更新，应用层不持有跨 worker 的锁。
type MatchStore struct {
	db *sql.DB
}

// NewMatchStore 创建 MatchStore
func NewMatchStore(db *sql.DB) *MatchStore {
	return &MatchStore{db: db}
}

const matchColumns = `id, external_id, home_team, away_team, match_date, season, age_group,
	match_type, division, home_score, away_score, status, source, locked,
	created_by, updated_by, created_at, updated_at`

// FindByExternalID 按外部 ID 查找比赛
func (s *MatchStore) FindByExternalID(ctx context.Context, externalID string) (*database.Match, error) {
	query := fmt.Sprintf(`SELECT %s FROM matches WHERE external_id = $1`, matchColumns)
	return s.queryOne(ctx, query, externalID)
}

// FindByNaturalKey 按自然键（日期+队伍+赛季+年龄组+类型+分区）查找比赛。
// 不限定 external_id 为空：人工消息必须能匹配到自动创建的行。
func (s *MatchStore) FindByNaturalKey(ctx context.Context, msg *MatchMessage) (*database.Match, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM matches
		WHERE match_date = $1 AND home_team = $2 AND away_team = $3
		  AND season = $4 AND age_group = $5 AND match_type = $6
		  AND COALESCE(division, '') = $7
		ORDER BY id
		LIMIT 1`, matchColumns)

	division := ""
	if msg.Division != nil {
		division = *msg.Division
	}

	return s.queryOne(ctx, query, msg.Date, msg.HomeTeam, msg.AwayTeam,
		msg.Season, msg.AgeGroup, msg.MatchType, division)
}

// GetMatch 按内部 ID 查找比赛
func (s *MatchStore) GetMatch(ctx context.Context, id int64) (*database.Match, error) {
	query := fmt.Sprintf(`SELECT %s FROM matches WHERE id = $1`, matchColumns)
	return s.queryOne(ctx, query, id)
}

func (s *MatchStore) queryOne(ctx context.Context, query string, args ...interface{}) (*database.Match, error) {
	var m database.Match
	row := s.db.QueryRowContext(ctx, query, args...)
	err := row.Scan(&m.ID, &m.ExternalID, &m.HomeTeam, &m.AwayTeam, &m.MatchDate,
		&m.Season, &m.AgeGroup, &m.MatchType, &m.Division, &m.HomeScore, &m.AwayScore,
		&m.Status, &m.Source, &m.Locked, &m.CreatedBy, &m.UpdatedBy, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classifyDBError(err)
	}
	return &m, nil
}

// Create 插入新比赛。唯一索引拦截并发的重复插入：
// 撞约束的一方按暂时性故障重试，重放时会解析为更新候选。
func (s *MatchStore) Create(ctx context.Context, rec *Reconciliation) error {
	msg := rec.Message
	actor := msg.Actor()

	homeScore, awayScore := 0, 0
	if msg.HomeScore != nil {
		homeScore = *msg.HomeScore
	}
	if msg.AwayScore != nil {
		awayScore = *msg.AwayScore
	}

	query := `
		INSERT INTO matches (external_id, home_team, away_team, match_date, season,
			age_group, match_type, division, home_score, away_score, status, source,
			locked, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
	`

	_, err := s.db.ExecContext(ctx, query, msg.ExternalID, msg.HomeTeam, msg.AwayTeam,
		msg.Date, msg.Season, msg.AgeGroup, msg.MatchType, msg.Division,
		homeScore, awayScore, rec.NewStatus, msg.Source, rec.Lock, actor)
	if err != nil {
		return classifyDBError(err)
	}
	return nil
}

// Update 条件更新。自动来源的写在 WHERE 中复查 locked = FALSE，
// 读取与写入之间落盘的人工修正不会被覆盖；0 行生效时按暂时性
// 故障重放，让该消息重新走一遍解析与调和。
func (s *MatchStore) Update(ctx context.Context, rec *Reconciliation) error {
	msg := rec.Message
	manual := msg.Source == SourceManual

	query := `
		UPDATE matches
		SET home_score = COALESCE($1, home_score),
		    away_score = COALESCE($2, away_score),
		    status = $3,
		    source = $4,
		    locked = locked OR $5,
		    updated_by = $6
		WHERE id = $7 AND ($8 OR locked = FALSE)
	`

	result, err := s.db.ExecContext(ctx, query,
		msg.HomeScore, msg.AwayScore, rec.NewStatus, msg.Source,
		rec.Lock, msg.Actor(), rec.Existing.ID, manual)
	if err != nil {
		return classifyDBError(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return classifyDBError(err)
	}
	if affected == 0 {
		return Transient(fmt.Errorf("match %d was locked concurrently", rec.Existing.ID))
	}
	return nil
}

// RecordConflict 将冲突写入冲突表，供管理后台人工处理。比赛行不动。
func (s *MatchStore) RecordConflict(ctx context.Context, rec *Reconciliation) error {
	query := `
		INSERT INTO match_conflicts (match_id, field, stored_value, incoming_value, message)
		VALUES ($1, $2, $3, $4, $5)
	`

	for _, fc := range rec.Conflicts {
		if _, err := s.db.ExecContext(ctx, query, rec.Existing.ID,
			fc.Field, fc.Stored, fc.Incoming, rec.Message.Raw); err != nil {
			return classifyDBError(err)
		}
	}
	return nil
}

// Unlock 显式解锁。解锁后下一条自动消息可以正常更新。
func (s *MatchStore) Unlock(ctx context.Context, matchID int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE matches SET locked = FALSE WHERE id = $1`, matchID)
	if err != nil {
		return classifyDBError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return classifyDBError(err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListMatches 获取比赛列表
func (s *MatchStore) ListMatches(ctx context.Context, limit, offset int, status string) ([]database.Match, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM matches
		WHERE ($1 = '' OR status = $1)
		ORDER BY match_date DESC, id DESC
		LIMIT $2 OFFSET $3`, matchColumns)

	rows, err := s.db.QueryContext(ctx, query, status, limit, offset)
	if err != nil {
		return nil, classifyDBError(err)
	}
	defer rows.Close()

	var matches []database.Match
	for rows.Next() {
		var m database.Match
		if err := rows.Scan(&m.ID, &m.ExternalID, &m.HomeTeam, &m.AwayTeam, &m.MatchDate,
			&m.Season, &m.AgeGroup, &m.MatchType, &m.Division, &m.HomeScore, &m.AwayScore,
			&m.Status, &m.Source, &m.Locked, &m.CreatedBy, &m.UpdatedBy, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, classifyDBError(err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// ListConflicts 获取冲突列表
func (s *MatchStore) ListConflicts(ctx context.Context, includeResolved bool) ([]database.MatchConflict, error) {
	query := `
		SELECT id, match_id, field, stored_value, incoming_value, resolved, detected_at
		FROM match_conflicts
		WHERE $1 OR resolved = FALSE
		ORDER BY detected_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, includeResolved)
	if err != nil {
		return nil, classifyDBError(err)
	}
	defer rows.Close()

	var conflicts []database.MatchConflict
	for rows.Next() {
		var c database.MatchConflict
		if err := rows.Scan(&c.ID, &c.MatchID, &c.Field, &c.StoredValue,
			&c.IncomingValue, &c.Resolved, &c.DetectedAt); err != nil {
			return nil, classifyDBError(err)
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

// ResolveConflict 标记冲突已处理
func (s *MatchStore) ResolveConflict(ctx context.Context, conflictID int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE match_conflicts SET resolved = TRUE WHERE id = $1`, conflictID)
	if err != nil {
		return classifyDBError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return classifyDBError(err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveDeadLetter 保存死信记录
func (s *MatchStore) SaveDeadLetter(ctx context.Context, messageID, payload, category string, attempts int, lastErr string) error {
	var lastErrPtr *string
	if lastErr != "" {
		lastErrPtr = &lastErr
	}

	query := `
		INSERT INTO dead_letters (message_id, payload, category, attempts, last_error)
		VALUES ($1, $2, $3, $4, $5)
	`

	if _, err := s.db.ExecContext(ctx, query, messageID, payload, category, attempts, lastErrPtr); err != nil {
		return classifyDBError(err)
	}
	return nil
}

// ListDeadLetters 获取死信列表
func (s *MatchStore) ListDeadLetters(ctx context.Context, limit, offset int) ([]database.DeadLetter, error) {
	query := `
		SELECT id, message_id, payload, category, attempts, last_error, created_at
		FROM dead_letters
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, classifyDBError(err)
	}
	defer rows.Close()

	var entries []database.DeadLetter
	for rows.Next() {
		var d database.DeadLetter
		if err := rows.Scan(&d.ID, &d.MessageID, &d.Payload, &d.Category,
			&d.Attempts, &d.LastError, &d.CreatedAt); err != nil {
			return nil, classifyDBError(err)
		}
		entries = append(entries, d)
	}
	return entries, rows.Err()
}

// classifyDBError 将数据库错误归入暂时/永久两类。
// 唯一约束冲突视为暂时性：输掉竞争的 worker 重放时会把同一条消息
// 解析成更新候选并收敛到相同终态。
func classifyDBError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505": // unique_violation
			return Transient(fmt.Errorf("unique constraint %s: %v", pqErr.Constraint, err))
		case strings.HasPrefix(string(pqErr.Code), "08"): // connection_exception
			return Transient(err)
		case strings.HasPrefix(string(pqErr.Code), "53"): // insufficient_resources
			return Transient(err)
		case strings.HasPrefix(string(pqErr.Code), "57"): // operator_intervention
			return Transient(err)
		default:
			return Permanent(err)
		}
	}

	// 驱动层/网络层错误（连接中断等）按暂时性处理
	return Transient(err)
}
