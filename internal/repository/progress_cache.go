package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fin_quiz_backend/internal/model"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	progressSnapshotKey = "quiz:progress:snapshot:%d"
	pendingAttemptsKey  = "quiz:pending"
	deadLetterKey       = "quiz:pending:dead"
	leaderboardKey      = "quiz:leaderboard:points"
)

// ErrSnapshotMiss 缓存中没有该用户的快照
var ErrSnapshotMiss = errors.New("progress snapshot not found")

// ProgressCache 进度快照、待重放队列和积分排行榜
type ProgressCache struct {
	Redis *redis.Client
	TTL   time.Duration
}

func NewProgressCache(rdb *redis.Client, ttl time.Duration) *ProgressCache {
	return &ProgressCache{Redis: rdb, TTL: ttl}
}

func (c *ProgressCache) SaveSnapshot(ctx context.Context, p *model.UserProgress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.Redis.Set(ctx, fmt.Sprintf(progressSnapshotKey, p.UserID), data, c.TTL).Err()
}

func (c *ProgressCache) LoadSnapshot(ctx context.Context, userID uint) (*model.UserProgress, error) {
	data, err := c.Redis.Get(ctx, fmt.Sprintf(progressSnapshotKey, userID)).Bytes()
	if err == redis.Nil {
		return nil, ErrSnapshotMiss
	}
	if err != nil {
		return nil, err
	}

	var p model.UserProgress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	// json 标签忽略了版本号，快照只用于降级计算
	p.UserID = userID
	return &p, nil
}

func (c *ProgressCache) PushPending(ctx context.Context, item model.PendingAttempt) error {
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return c.Redis.RPush(ctx, pendingAttemptsKey, data).Err()
}

// PopPending 从队首取出一条，队列为空时返回 nil
func (c *ProgressCache) PopPending(ctx context.Context) (*model.PendingAttempt, error) {
	data, err := c.Redis.LPop(ctx, pendingAttemptsKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var item model.PendingAttempt
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// PushDeadLetter 保存超过重放次数上限的提交，供人工排查
func (c *ProgressCache) PushDeadLetter(ctx context.Context, item model.PendingAttempt) error {
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return c.Redis.RPush(ctx, deadLetterKey, data).Err()
}

func (c *ProgressCache) DeadLetterCount(ctx context.Context) (int64, error) {
	return c.Redis.LLen(ctx, deadLetterKey).Result()
}

func (c *ProgressCache) PendingCount(ctx context.Context) (int64, error) {
	return c.Redis.LLen(ctx, pendingAttemptsKey).Result()
}

func (c *ProgressCache) UpdateScore(ctx context.Context, userID uint, points int) error {
	return c.Redis.ZAdd(ctx, leaderboardKey, &redis.Z{
		Score:  float64(points),
		Member: strconv.FormatUint(uint64(userID), 10),
	}).Err()
}

func (c *ProgressCache) TopByPoints(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	if limit <= 0 {
		return []model.LeaderboardEntry{}, nil
	}
	zs, err := c.Redis.ZRevRangeWithScores(ctx, leaderboardKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]model.LeaderboardEntry, 0, len(zs))
	for i, z := range zs {
		member, _ := z.Member.(string)
		id, err := strconv.ParseUint(member, 10, 64)
		if err != nil {
			continue
		}
		points := int(z.Score)
		entries = append(entries, model.LeaderboardEntry{
			Rank:   i + 1,
			UserID: uint(id),
			Points: points,
			Level:  model.LevelForPoints(points),
		})
	}
	return entries, nil
}

func (c *ProgressCache) Ping(ctx context.Context) error {
	return c.Redis.Ping(ctx).Err()
}
