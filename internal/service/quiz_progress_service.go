package service

import (
	"context"
	"errors"
	"fin_quiz_backend/internal/model"
	"fin_quiz_backend/internal/util"
	"fin_quiz_backend/pkg/logger"
	"fin_quiz_backend/pkg/monitoring"
	"fin_quiz_backend/pkg/tracing"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ProgressStore interface {
	FindByUserID(ctx context.Context, userID uint) (*model.UserProgress, error)
	Create(ctx context.Context, p *model.UserProgress) (bool, error)
	UpdateWithVersion(ctx context.Context, p *model.UserProgress) error
}

// ProgressCache 快照与待重放队列，通常由 Redis 实现
type ProgressCache interface {
	SaveSnapshot(ctx context.Context, p *model.UserProgress) error
	LoadSnapshot(ctx context.Context, userID uint) (*model.UserProgress, error)
	PushPending(ctx context.Context, item model.PendingAttempt) error
	PopPending(ctx context.Context) (*model.PendingAttempt, error)
	PushDeadLetter(ctx context.Context, item model.PendingAttempt) error
}

type ScoreBoard interface {
	UpdateScore(ctx context.Context, userID uint, points int) error
}

// QuizResult 客户端提交的测验结果
// swagger:model QuizResult
type QuizResult struct {
	Category   string           `json:"category"`
	Difficulty model.Difficulty `json:"difficulty"`
	Score      int              `json:"score"`
	Total      int              `json:"total"`
}

func (r QuizResult) Validate() error {
	if r.Total < 1 {
		return fmt.Errorf("%w: total must be at least 1", util.ErrInvalidQuizResult)
	}
	if r.Score < 0 {
		return fmt.Errorf("%w: score must not be negative", util.ErrInvalidQuizResult)
	}
	if r.Score > r.Total {
		return fmt.Errorf("%w: score must not exceed total", util.ErrInvalidQuizResult)
	}
	if !r.Difficulty.Valid() {
		return fmt.Errorf("%w: unknown difficulty %q", util.ErrInvalidQuizResult, r.Difficulty)
	}
	return nil
}

// SubmitResult Degraded 为 true 表示存储不可用，结果为本地近似值，稍后由服务端重放
type SubmitResult struct {
	UserProgress   *model.UserProgress `json:"userProgress"`
	UnlockedBadges []model.Badge       `json:"unlockedBadges"`
	Degraded       bool                `json:"degraded,omitempty"`
}

const defaultMaxReplayRetries = 5

// QuizProgressService MaxReplayRetries 次重放失败后提交移入死信队列
type QuizProgressService struct {
	Store            ProgressStore
	Cache            ProgressCache
	Board            ScoreBoard
	MaxRetries       int
	MaxReplayRetries int
	Location         *time.Location
	Now              func() time.Time
}

func NewQuizProgressService(store ProgressStore, cache ProgressCache, board ScoreBoard, maxRetries int, loc *time.Location) *QuizProgressService {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if loc == nil {
		loc = time.Local
	}
	return &QuizProgressService{
		Store:            store,
		Cache:            cache,
		Board:            board,
		MaxRetries:       maxRetries,
		MaxReplayRetries: defaultMaxReplayRetries,
		Location:         loc,
		Now:              time.Now,
	}
}

func (s *QuizProgressService) now() time.Time {
	return s.Now().In(s.Location)
}

func newAttempt(result QuizResult, now time.Time) model.QuizAttempt {
	return model.QuizAttempt{
		QuizID:     "quiz_" + strconv.FormatInt(now.UnixNano(), 36),
		Category:   result.Category,
		Difficulty: result.Difficulty,
		Score:      result.Score,
		Total:      result.Total,
		Date:       now,
	}
}

// GetOrCreateProgress 读取进度，不存在时写入一条默认记录
func (s *QuizProgressService) GetOrCreateProgress(ctx context.Context, userID uint) (*model.UserProgress, error) {
	p, err := s.Store.FindByUserID(ctx, userID)
	if err == nil {
		EnsureCatalog(p)
		return p, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	p = NewDefaultProgress(userID)
	created, err := s.Store.Create(ctx, p)
	if err != nil {
		return nil, err
	}
	if !created {
		// 并发请求已经创建
		p, err = s.Store.FindByUserID(ctx, userID)
		if err != nil {
			return nil, err
		}
		EnsureCatalog(p)
	}
	logger.Log.Debug("progress record ready", zap.Uint("userId", userID), zap.Bool("created", created))
	return p, nil
}

func (s *QuizProgressService) SubmitQuizAttempt(ctx context.Context, userID uint, result QuizResult) (*SubmitResult, error) {
	if err := result.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracing.Tracer.Start(ctx, "QuizProgressService.SubmitQuizAttempt")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("user.id", int64(userID)),
		attribute.String("quiz.category", result.Category),
		attribute.String("quiz.difficulty", string(result.Difficulty)),
	)

	now := s.now()
	attempt := newAttempt(result, now)

	progress, unlocked, err := s.persistAttempt(ctx, userID, attempt, now)
	if err != nil {
		span.RecordError(err)
		logger.Log.Warn("persist quiz attempt failed, falling back to snapshot",
			zap.Uint("userId", userID), zap.String("quizId", attempt.QuizID), zap.Error(err))
		monitoring.QuizSubmissions.WithLabelValues("degraded").Inc()
		return s.fallback(ctx, userID, attempt, now), nil
	}

	monitoring.QuizSubmissions.WithLabelValues("ok").Inc()
	for _, b := range unlocked {
		monitoring.BadgesUnlocked.WithLabelValues(b.ID).Inc()
	}
	logger.Log.Info("quiz attempt recorded",
		zap.Uint("userId", userID),
		zap.Int("points", progress.Points),
		zap.Int("level", progress.Level),
		zap.Int("unlocked", len(unlocked)),
	)

	return &SubmitResult{UserProgress: progress, UnlockedBadges: unlocked}, nil
}

// persistAttempt 读取-计算-条件写入，版本冲突时重新读取再算
func (s *QuizProgressService) persistAttempt(ctx context.Context, userID uint, attempt model.QuizAttempt, now time.Time) (*model.UserProgress, []model.Badge, error) {
	var lastErr error
	for i := 0; i < s.MaxRetries; i++ {
		current, err := s.GetOrCreateProgress(ctx, userID)
		if err != nil {
			return nil, nil, err
		}
		if current.HasAttempt(attempt.QuizID) {
			return current, []model.Badge{}, nil
		}

		next, unlocked := ApplyQuizAttempt(current, attempt, now)
		err = s.Store.UpdateWithVersion(ctx, next)
		if err == nil {
			s.afterPersist(ctx, next)
			return next, unlocked, nil
		}
		if !errors.Is(err, util.ErrProgressConflict) {
			return nil, nil, err
		}
		lastErr = err
		logger.Log.Debug("progress version conflict, retrying",
			zap.Uint("userId", userID), zap.Int("attempt", i+1))
	}
	return nil, nil, lastErr
}

func (s *QuizProgressService) afterPersist(ctx context.Context, p *model.UserProgress) {
	if s.Cache != nil {
		if err := s.Cache.SaveSnapshot(ctx, p); err != nil {
			logger.Log.Warn("save progress snapshot failed", zap.Uint("userId", p.UserID), zap.Error(err))
		}
	}
	if s.Board != nil {
		if err := s.Board.UpdateScore(ctx, p.UserID, p.Points); err != nil {
			logger.Log.Warn("update leaderboard failed", zap.Uint("userId", p.UserID), zap.Error(err))
		}
	}
}

// fallback 基于最近快照在本地计算，提交进入待重放队列
func (s *QuizProgressService) fallback(ctx context.Context, userID uint, attempt model.QuizAttempt, now time.Time) *SubmitResult {
	var base *model.UserProgress
	if s.Cache != nil {
		snapshot, err := s.Cache.LoadSnapshot(ctx, userID)
		if err == nil {
			base = snapshot
		}
	}
	if base == nil {
		base = NewDefaultProgress(userID)
	}

	next, unlocked := ApplyQuizAttempt(base, attempt, now)

	if s.Cache != nil {
		item := model.PendingAttempt{
			ID:       uuid.New().String(),
			UserID:   userID,
			Attempt:  attempt,
			QueuedAt: now,
		}
		if err := s.Cache.PushPending(ctx, item); err != nil {
			logger.Log.Error("queue pending attempt failed, attempt lost",
				zap.Uint("userId", userID), zap.String("quizId", attempt.QuizID), zap.Error(err))
		}
		if err := s.Cache.SaveSnapshot(ctx, next); err != nil {
			logger.Log.Warn("save degraded snapshot failed", zap.Uint("userId", userID), zap.Error(err))
		}
	}

	return &SubmitResult{UserProgress: next, UnlockedBadges: unlocked, Degraded: true}
}

// ReplayPending 将排队的提交按原始时间重放到存储，返回成功重放的条数
func (s *QuizProgressService) ReplayPending(ctx context.Context, limit int) (int, error) {
	if s.Cache == nil {
		return 0, nil
	}

	ctx, span := tracing.Tracer.Start(ctx, "QuizProgressService.ReplayPending")
	defer span.End()

	replayed := 0
	for i := 0; i < limit; i++ {
		item, err := s.Cache.PopPending(ctx)
		if err != nil {
			return replayed, err
		}
		if item == nil {
			break
		}

		at := item.Attempt.Date.In(s.Location)
		_, unlocked, err := s.persistAttempt(ctx, item.UserID, item.Attempt, at)
		if err != nil {
			item.Retries++
			s.requeue(ctx, item, err)
			// 存储仍不可用，等待下一轮
			return replayed, err
		}

		monitoring.PendingReplays.WithLabelValues("ok").Inc()
		for _, b := range unlocked {
			monitoring.BadgesUnlocked.WithLabelValues(b.ID).Inc()
		}
		replayed++
	}

	span.SetAttributes(attribute.Int("replayed", replayed))
	if replayed > 0 {
		logger.Log.Info("pending quiz attempts replayed", zap.Int("count", replayed))
	}
	return replayed, nil
}

// requeue 未超过重试上限时放回队尾，否则移入死信队列
func (s *QuizProgressService) requeue(ctx context.Context, item *model.PendingAttempt, cause error) {
	if item.Retries >= s.MaxReplayRetries {
		monitoring.PendingReplays.WithLabelValues("dead").Inc()
		logger.Log.Error("pending attempt exhausted retries, moved to dead letter",
			zap.String("id", item.ID),
			zap.Uint("userId", item.UserID),
			zap.String("quizId", item.Attempt.QuizID),
			zap.Int("retries", item.Retries),
			zap.Error(cause))
		if err := s.Cache.PushDeadLetter(ctx, *item); err != nil {
			logger.Log.Error("push dead letter failed", zap.String("id", item.ID), zap.Error(err))
		}
		return
	}

	monitoring.PendingReplays.WithLabelValues("failed").Inc()
	if err := s.Cache.PushPending(ctx, *item); err != nil {
		logger.Log.Error("requeue pending attempt failed",
			zap.String("id", item.ID), zap.Error(err))
	}
}
