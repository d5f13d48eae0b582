package services

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const dateLayout = "2006-01-02"

// SchemaValidator 入站消息校验器。校验失败的消息直接进入死信，
// 不重试——没有生产端修正，重放也不会成功。
type SchemaValidator struct{}

// NewSchemaValidator 创建校验器
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{}
}

// Validate 校验原始 JSON 载荷并返回规范化消息
func (v *SchemaValidator) Validate(payload []byte) (*MatchMessage, error) {
	var in InboundMessage
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, NewValidationError("payload")
	}

	var bad []string

	if in.HomeTeam == "" {
		bad = append(bad, "home_team")
	}
	if in.AwayTeam == "" {
		bad = append(bad, "away_team")
	}
	if in.HomeTeam != "" && in.HomeTeam == in.AwayTeam {
		bad = append(bad, "away_team")
	}
	if in.Season == "" {
		bad = append(bad, "season")
	}
	if in.AgeGroup == "" {
		bad = append(bad, "age_group")
	}
	if in.MatchType == "" || !IsValidMatchType(in.MatchType) {
		bad = append(bad, "match_type")
	}

	var date time.Time
	if in.Date == "" {
		bad = append(bad, "date")
	} else {
		parsed, err := time.Parse(dateLayout, in.Date)
		if err != nil {
			bad = append(bad, "date")
		} else {
			date = parsed
		}
	}

	switch in.Source {
	case SourceAutomated:
		// 自动消息必须声明状态
		if !IsValidStatus(in.Status) {
			bad = append(bad, "status")
		}
	case SourceManual:
		// 人工消息允许省略状态（仅修正比分），给出则必须合法
		if in.Status != "" && !IsValidStatus(in.Status) {
			bad = append(bad, "status")
		}
	default:
		bad = append(bad, "source")
	}

	// completed 必须带完整比分
	if in.Status == StatusCompleted && (in.HomeScore == nil || in.AwayScore == nil) {
		bad = append(bad, "home_score", "away_score")
	}
	if in.HomeScore != nil && *in.HomeScore < 0 {
		bad = append(bad, "home_score")
	}
	if in.AwayScore != nil && *in.AwayScore < 0 {
		bad = append(bad, "away_score")
	}

	if len(bad) > 0 {
		return nil, NewValidationError(bad...)
	}

	messageID := in.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}

	return &MatchMessage{
		MessageID:   messageID,
		HomeTeam:    in.HomeTeam,
		AwayTeam:    in.AwayTeam,
		Date:        date,
		Season:      in.Season,
		AgeGroup:    in.AgeGroup,
		MatchType:   in.MatchType,
		Division:    in.Division,
		Status:      in.Status,
		HomeScore:   in.HomeScore,
		AwayScore:   in.AwayScore,
		ExternalID:  in.ExternalMatchID,
		Source:      in.Source,
		SubmittedBy: in.SubmittedBy,
		Raw:         payload,
	}, nil
}
