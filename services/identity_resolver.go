package services

import (
	"context"
	"errors"
	"fmt"

	"league-sync-service/database"
)

// MatchFinder 身份解析所需的查询能力，由 MatchStore 实现
type MatchFinder interface {
	FindByExternalID(ctx context.Context, externalID string) (*database.Match, error)
	FindByNaturalKey(ctx context.Context, msg *MatchMessage) (*database.Match, error)
}

// IdentityResolver 将入站消息映射到至多一条已有比赛记录。
// 自动来源稳定携带外部 ID；人工录入没有外部 ID，只能按语义相等去重，
// 因此采用两级查找：先外部 ID，再自然键。
type IdentityResolver struct {
	finder MatchFinder
}

// NewIdentityResolver 创建身份解析器
func NewIdentityResolver(finder MatchFinder) *IdentityResolver {
	return &IdentityResolver{finder: finder}
}

// Resolve 返回已有比赛记录（更新候选），未找到时返回 nil（创建候选）
func (r *IdentityResolver) Resolve(ctx context.Context, msg *MatchMessage) (*database.Match, error) {
	if msg.ExternalID != nil && *msg.ExternalID != "" {
		match, err := r.finder.FindByExternalID(ctx, *msg.ExternalID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, nil
			}
			return nil, fmt.Errorf("external id lookup: %w", err)
		}
		return match, nil
	}

	match, err := r.finder.FindByNaturalKey(ctx, msg)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("natural key lookup: %w", err)
	}
	return match, nil
}
