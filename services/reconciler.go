package services

import (
	"fmt"
	"strconv"

	"league-sync-service/database"
)

// Decision 调和结果
type Decision string

const (
	DecisionCreate   Decision = "create"
	DecisionUpdate   Decision = "update"
	DecisionSkip     Decision = "skip"
	DecisionConflict Decision = "conflict"
)

// 冲突原因
const (
	ReasonLockedDivergence  = "locked-divergence"
	ReasonInvalidTransition = "invalid-transition"
)

// FieldConflict 单个字段的存量值与入站值分歧
type FieldConflict struct {
	Field    string
	Stored   string
	Incoming string
}

// Reconciliation 调和决定，交给持久化适配器执行
type Reconciliation struct {
	Decision  Decision
	Existing  *database.Match // update/skip/conflict 时非空
	Message   *MatchMessage
	NewStatus string // create/update 生效的状态
	Lock      bool   // update/create 时是否置锁（人工来源）
	Reason    string // conflict 时的原因
	Conflicts []FieldConflict
}

// Reconciler 核心决策引擎：给定已有记录（可为 nil）与入站消息，
// 决定 CREATE / UPDATE / SKIP / CONFLICT
type Reconciler struct{}

// NewReconciler 创建调和引擎
func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// Reconcile 做出调和决定。只做决策，不触碰存储。
func (r *Reconciler) Reconcile(existing *database.Match, msg *MatchMessage) *Reconciliation {
	if existing == nil {
		return r.reconcileCreate(msg)
	}
	return r.reconcileUpdate(existing, msg)
}

// reconcileCreate 创建候选直接进入持久化
func (r *Reconciler) reconcileCreate(msg *MatchMessage) *Reconciliation {
	status := msg.Status
	if status == "" {
		// 人工录入可省略状态：带比分视为已完赛，否则视为已排期
		if msg.HasScores() {
			status = StatusCompleted
		} else {
			status = StatusScheduled
		}
	}

	return &Reconciliation{
		Decision:  DecisionCreate,
		Message:   msg,
		NewStatus: status,
		Lock:      msg.Source == SourceManual,
	}
}

func (r *Reconciler) reconcileUpdate(existing *database.Match, msg *MatchMessage) *Reconciliation {
	// 省略状态的消息保持存量状态
	newStatus := msg.Status
	if newStatus == "" {
		newStatus = existing.Status
	}

	statusChanged := newStatus != existing.Status
	diffs := fieldDiffs(existing, msg, newStatus)

	// 锁定记录对自动来源不可写：有分歧记冲突，无分歧幂等跳过
	if existing.Locked && msg.Source == SourceAutomated {
		if len(diffs) > 0 {
			return &Reconciliation{
				Decision:  DecisionConflict,
				Existing:  existing,
				Message:   msg,
				Reason:    ReasonLockedDivergence,
				Conflicts: diffs,
			}
		}
		return &Reconciliation{Decision: DecisionSkip, Existing: existing, Message: msg}
	}

	// 状态变更必须落在允许的边集内，completed/cancelled 对任何来源都是终态
	if statusChanged && !CanTransition(existing.Status, newStatus) {
		return &Reconciliation{
			Decision: DecisionConflict,
			Existing: existing,
			Message:  msg,
			Reason:   ReasonInvalidTransition,
			Conflicts: []FieldConflict{{
				Field:    "status",
				Stored:   existing.Status,
				Incoming: newStatus,
			}},
		}
	}

	if msg.Source == SourceManual {
		// 人工修正总是落盘并置锁，覆盖既有自动数据
		return &Reconciliation{
			Decision:  DecisionUpdate,
			Existing:  existing,
			Message:   msg,
			NewStatus: newStatus,
			Lock:      true,
		}
	}

	// 自动来源：没有任何实际变化时跳过，避免无意义的时间戳刷新
	// （tbd → tbd 即落在这里）
	if len(diffs) == 0 {
		return &Reconciliation{Decision: DecisionSkip, Existing: existing, Message: msg}
	}

	return &Reconciliation{
		Decision:  DecisionUpdate,
		Existing:  existing,
		Message:   msg,
		NewStatus: newStatus,
	}
}

// fieldDiffs 比较比分与状态，返回实际分歧的字段
func fieldDiffs(existing *database.Match, msg *MatchMessage, newStatus string) []FieldConflict {
	var diffs []FieldConflict

	if newStatus != existing.Status {
		diffs = append(diffs, FieldConflict{
			Field:    "status",
			Stored:   existing.Status,
			Incoming: newStatus,
		})
	}
	if msg.HomeScore != nil && *msg.HomeScore != existing.HomeScore {
		diffs = append(diffs, FieldConflict{
			Field:    "home_score",
			Stored:   strconv.Itoa(existing.HomeScore),
			Incoming: strconv.Itoa(*msg.HomeScore),
		})
	}
	if msg.AwayScore != nil && *msg.AwayScore != existing.AwayScore {
		diffs = append(diffs, FieldConflict{
			Field:    "away_score",
			Stored:   strconv.Itoa(existing.AwayScore),
			Incoming: strconv.Itoa(*msg.AwayScore),
		})
	}

	return diffs
}

// String 用于日志输出
func (rec *Reconciliation) String() string {
	if rec.Existing != nil {
		return fmt.Sprintf("%s(match=%d)", rec.Decision, rec.Existing.ID)
	}
	return string(rec.Decision)
}
