package repository

import (
	"context"
	"errors"
	"fin_quiz_backend/internal/model"
	"fin_quiz_backend/internal/util"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProgressRepository struct {
	DB *gorm.DB
}

func NewProgressRepository(db *gorm.DB) *ProgressRepository {
	return &ProgressRepository{DB: db}
}

func (r *ProgressRepository) FindByUserID(ctx context.Context, userID uint) (*model.UserProgress, error) {
	var p model.UserProgress
	err := r.DB.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create 插入新记录；并发创建时唯一索引冲突不报错，返回 created=false 由调用方重新读取
func (r *ProgressRepository) Create(ctx context.Context, p *model.UserProgress) (bool, error) {
	res := r.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(p)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpdateWithVersion 乐观锁更新，版本号不匹配时返回 util.ErrProgressConflict
func (r *ProgressRepository) UpdateWithVersion(ctx context.Context, p *model.UserProgress) error {
	res := r.DB.WithContext(ctx).
		Model(&model.UserProgress{}).
		Where("id = ? AND version = ?", p.ID, p.Version).
		Select("level", "points", "quizzes_taken", "correct_answers", "streak_days",
			"last_quiz_date", "badges", "quiz_history", "version").
		Updates(&model.UserProgress{
			Level:          p.Level,
			Points:         p.Points,
			QuizzesTaken:   p.QuizzesTaken,
			CorrectAnswers: p.CorrectAnswers,
			StreakDays:     p.StreakDays,
			LastQuizDate:   p.LastQuizDate,
			Badges:         p.Badges,
			QuizHistory:    p.QuizHistory,
			Version:        p.Version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return util.ErrProgressConflict
	}
	p.Version++
	return nil
}

// TopByPoints Redis 排行榜不可用时的回源查询
func (r *ProgressRepository) TopByPoints(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	var rows []struct {
		UserID uint
		Name   string
		Points int
		Level  int
	}
	err := r.DB.WithContext(ctx).
		Table("user_progress").
		Select("user_progress.user_id, users.name, user_progress.points, user_progress.level").
		Joins("LEFT JOIN users ON users.id = user_progress.user_id").
		Where("user_progress.deleted_at IS NULL").
		Order("user_progress.points DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	entries := make([]model.LeaderboardEntry, len(rows))
	for i, row := range rows {
		entries[i] = model.LeaderboardEntry{
			Rank:   i + 1,
			UserID: row.UserID,
			Name:   row.Name,
			Points: row.Points,
			Level:  row.Level,
		}
	}
	return entries, nil
}
