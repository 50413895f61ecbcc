package service

import (
	"context"
	"fin_quiz_backend/internal/model"
	"fin_quiz_backend/pkg/logger"

	"go.uber.org/zap"
)

type LeaderboardSource interface {
	TopByPoints(ctx context.Context, limit int) ([]model.LeaderboardEntry, error)
}

type LeaderboardCache interface {
	LeaderboardSource
	ScoreBoard
}

type UserNames interface {
	FindNames(ctx context.Context, ids []uint) (map[uint]string, error)
}

// LeaderboardService 优先读 Redis 排行榜，失败时回源数据库
type LeaderboardService struct {
	Cache    LeaderboardCache
	DB       LeaderboardSource
	Users    UserNames
	MaxLimit int
}

func NewLeaderboardService(cache LeaderboardCache, db LeaderboardSource, users UserNames, maxLimit int) *LeaderboardService {
	if maxLimit <= 0 {
		maxLimit = 10
	}
	return &LeaderboardService{Cache: cache, DB: db, Users: users, MaxLimit: maxLimit}
}

func (s *LeaderboardService) GetLeaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	if limit <= 0 || limit > s.MaxLimit {
		limit = s.MaxLimit
	}

	entries, err := s.Cache.TopByPoints(ctx, limit)
	if err != nil || len(entries) == 0 {
		if err != nil {
			logger.Log.Warn("leaderboard cache unavailable, using database", zap.Error(err))
		}
		return s.DB.TopByPoints(ctx, limit)
	}

	if s.Users != nil {
		ids := make([]uint, len(entries))
		for i, e := range entries {
			ids[i] = e.UserID
		}
		names, err := s.Users.FindNames(ctx, ids)
		if err != nil {
			logger.Log.Warn("load leaderboard names failed", zap.Error(err))
			return entries, nil
		}
		for i := range entries {
			entries[i].Name = names[entries[i].UserID]
		}
	}
	return entries, nil
}

// Warm 用数据库中的前 n 名重建 Redis 排行榜，Redis 被清空后避免只剩新提交的用户
func (s *LeaderboardService) Warm(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	entries, err := s.DB.TopByPoints(ctx, n)
	if err != nil {
		return 0, err
	}
	for i, e := range entries {
		if err := s.Cache.UpdateScore(ctx, e.UserID, e.Points); err != nil {
			return i, err
		}
	}
	logger.Log.Info("leaderboard warmed", zap.Int("entries", len(entries)))
	return len(entries), nil
}
