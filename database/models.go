package database

import (
	"time"
)

// Match 比赛记录
type Match struct {
	ID         int64     `db:"id" json:"id"`
	ExternalID *string   `db:"external_id" json:"external_id,omitempty"`
	HomeTeam   string    `db:"home_team" json:"home_team"`
	AwayTeam   string    `db:"away_team" json:"away_team"`
	MatchDate  time.Time `db:"match_date" json:"match_date"`
	Season     string    `db:"season" json:"season"`
	AgeGroup   string    `db:"age_group" json:"age_group"`
	MatchType  string    `db:"match_type" json:"match_type"`
	Division   *string   `db:"division" json:"division,omitempty"`
	HomeScore  int       `db:"home_score" json:"home_score"`
	AwayScore  int       `db:"away_score" json:"away_score"`
	Status     string    `db:"status" json:"status"`
	Source     string    `db:"source" json:"source"`
	Locked     bool      `db:"locked" json:"locked"`
	CreatedBy  *string   `db:"created_by" json:"created_by,omitempty"`
	UpdatedBy  *string   `db:"updated_by" json:"updated_by,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// MatchConflict 自动数据与人工锁定数据的冲突记录
type MatchConflict struct {
	ID            int64     `db:"id" json:"id"`
	MatchID       int64     `db:"match_id" json:"match_id"`
	Field         string    `db:"field" json:"field"`
	StoredValue   string    `db:"stored_value" json:"stored_value"`
	IncomingValue string    `db:"incoming_value" json:"incoming_value"`
	Message       []byte    `db:"message" json:"-"`
	Resolved      bool      `db:"resolved" json:"resolved"`
	DetectedAt    time.Time `db:"detected_at" json:"detected_at"`
}

// DeadLetter 死信记录
type DeadLetter struct {
	ID        int64     `db:"id" json:"id"`
	MessageID string    `db:"message_id" json:"message_id"`
	Payload   string    `db:"payload" json:"payload"`
	Category  string    `db:"category" json:"category"` // validation, exhausted-retries
	Attempts  int       `db:"attempts" json:"attempts"`
	LastError *string   `db:"last_error" json:"last_error,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
