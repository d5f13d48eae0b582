package services

import (
	"time"
)

// InboundMessage 爬虫/管理端投递到队列的原始 JSON 消息
type InboundMessage struct {
	MessageID       string  `json:"message_id,omitempty"`
	HomeTeam        string  `json:"home_team"`
	AwayTeam        string  `json:"away_team"`
	Date            string  `json:"date"` // YYYY-MM-DD
	Season          string  `json:"season"`
	AgeGroup        string  `json:"age_group"`
	MatchType       string  `json:"match_type"`
	Division        *string `json:"division,omitempty"`
	Status          string  `json:"status,omitempty"`
	HomeScore       *int    `json:"home_score,omitempty"`
	AwayScore       *int    `json:"away_score,omitempty"`
	ExternalMatchID *string `json:"external_match_id,omitempty"`
	Source          string  `json:"source"`
	SubmittedBy     string  `json:"submitted_by,omitempty"`
}

// MatchMessage 通过校验后的规范化消息
type MatchMessage struct {
	MessageID   string
	HomeTeam    string
	AwayTeam    string
	Date        time.Time
	Season      string
	AgeGroup    string
	MatchType   string
	Division    *string
	Status      string // 人工消息可为空（仅修正比分时保持原状态）
	HomeScore   *int
	AwayScore   *int
	ExternalID  *string
	Source      string
	SubmittedBy string
	Raw         []byte // 原始载荷，冲突/死信记录时附带
}

// Actor 返回审计字段使用的操作者标识
func (m *MatchMessage) Actor() string {
	if m.Source == SourceManual && m.SubmittedBy != "" {
		return m.SubmittedBy
	}
	return m.Source
}

// HasScores 消息是否携带完整比分
func (m *MatchMessage) HasScores() bool {
	return m.HomeScore != nil && m.AwayScore != nil
}
