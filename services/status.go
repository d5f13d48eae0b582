package services

// 比赛状态枚举
const (
	StatusScheduled = "scheduled"
	StatusTBD       = "tbd" // 已开赛但尚未从来源获知比分
	StatusLive      = "live"
	StatusCompleted = "completed"
	StatusPostponed = "postponed"
	StatusCancelled = "cancelled"
)

// 来源枚举
const (
	SourceManual    = "manual"
	SourceAutomated = "automated"
)

// 比赛类型枚举
const (
	MatchTypeLeague     = "league"
	MatchTypeTournament = "tournament"
	MatchTypeFriendly   = "friendly"
	MatchTypePlayoff    = "playoff"
)

// allowedTransitions 状态机允许的边集。completed 与 cancelled 为终态。
var allowedTransitions = map[string]map[string]bool{
	StatusScheduled: {
		StatusTBD:       true,
		StatusCompleted: true,
		StatusPostponed: true,
		StatusCancelled: true,
	},
	StatusTBD: {
		StatusCompleted: true,
		StatusCancelled: true,
	},
	StatusLive: {
		StatusCompleted: true,
		StatusCancelled: true,
	},
	StatusCompleted: {},
	StatusPostponed: {
		StatusScheduled: true,
	},
	StatusCancelled: {},
}

var validStatuses = map[string]bool{
	StatusScheduled: true,
	StatusTBD:       true,
	StatusLive:      true,
	StatusCompleted: true,
	StatusPostponed: true,
	StatusCancelled: true,
}

var validMatchTypes = map[string]bool{
	MatchTypeLeague:     true,
	MatchTypeTournament: true,
	MatchTypeFriendly:   true,
	MatchTypePlayoff:    true,
}

// IsValidStatus 判断状态值是否合法
func IsValidStatus(status string) bool {
	return validStatuses[status]
}

// IsValidMatchType 判断比赛类型是否合法
func IsValidMatchType(matchType string) bool {
	return validMatchTypes[matchType]
}

// CanTransition 判断状态变更是否在允许的边集内。
// from == to 不算状态变更，由调用方按 SKIP 处理。
func CanTransition(from, to string) bool {
	if from == to {
		return false
	}
	targets, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}
