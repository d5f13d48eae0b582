package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Connect 连接到数据库
func Connect(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 测试连接
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// 设置连接池
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return db, nil
}

// Migrate 运行数据库迁移
func Migrate(db *sql.DB) error {
	migrations := []string{
		// 比赛表
		`CREATE TABLE IF NOT EXISTS matches (
			id BIGSERIAL PRIMARY KEY,
			external_id VARCHAR(100),
			home_team VARCHAR(100) NOT NULL,
			away_team VARCHAR(100) NOT NULL,
			match_date DATE NOT NULL,
			season VARCHAR(50) NOT NULL,
			age_group VARCHAR(50) NOT NULL,
			match_type VARCHAR(20) NOT NULL,
			division VARCHAR(50),
			home_score INTEGER NOT NULL DEFAULT 0,
			away_score INTEGER NOT NULL DEFAULT 0,
			status VARCHAR(20) NOT NULL DEFAULT 'scheduled',
			source VARCHAR(20) NOT NULL,
			locked BOOLEAN NOT NULL DEFAULT FALSE,
			created_by VARCHAR(100),
			updated_by VARCHAR(100),
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		// 外部 ID 唯一（仅对带外部 ID 的行生效）
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_matches_external_id
			ON matches(external_id) WHERE external_id IS NOT NULL`,
		// 自然键唯一（仅对无外部 ID 的人工录入行生效）
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_matches_natural_key
			ON matches(match_date, home_team, away_team, season, age_group, match_type, COALESCE(division, ''))
			WHERE external_id IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_matches_status ON matches(status)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_match_date ON matches(match_date)`,

		// updated_at 由触发器统一刷新，任何写路径都无法绕过
		`CREATE OR REPLACE FUNCTION refresh_updated_at() RETURNS TRIGGER AS $$
		BEGIN
			NEW.updated_at = CURRENT_TIMESTAMP;
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS trg_matches_updated_at ON matches`,
		`CREATE TRIGGER trg_matches_updated_at
			BEFORE UPDATE ON matches
			FOR EACH ROW EXECUTE FUNCTION refresh_updated_at()`,

		// 冲突表（供管理后台人工处理）
		`CREATE TABLE IF NOT EXISTS match_conflicts (
			id BIGSERIAL PRIMARY KEY,
			match_id BIGINT NOT NULL REFERENCES matches(id),
			field VARCHAR(50) NOT NULL,
			stored_value VARCHAR(100) NOT NULL,
			incoming_value VARCHAR(100) NOT NULL,
			message JSONB,
			resolved BOOLEAN NOT NULL DEFAULT FALSE,
			detected_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_match_conflicts_match_id ON match_conflicts(match_id)`,
		`CREATE INDEX IF NOT EXISTS idx_match_conflicts_resolved ON match_conflicts(resolved)`,

		// 死信表
		`CREATE TABLE IF NOT EXISTS dead_letters (
			id BIGSERIAL PRIMARY KEY,
			message_id VARCHAR(100) NOT NULL,
			payload TEXT NOT NULL,
			category VARCHAR(20) NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dead_letters_category ON dead_letters(category)`,
		`CREATE INDEX IF NOT EXISTS idx_dead_letters_message_id ON dead_letters(message_id)`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
