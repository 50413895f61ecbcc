package model

import "time"

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

func (d Difficulty) Valid() bool {
	switch d {
	case "", DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// PointsPerLevel 每升一级需要的积分
const PointsPerLevel = 100

// LevelForPoints 等级 = 积分/100 + 1
func LevelForPoints(points int) int {
	return points/PointsPerLevel + 1
}

type BadgeCategory string

const (
	BadgeAchievement BadgeCategory = "achievement"
	BadgeKnowledge   BadgeCategory = "knowledge"
)

// Badge 成就徽章，目录数据创建后固定，只有解锁状态会变化
// swagger:model Badge
type Badge struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Icon        string        `json:"icon"`
	Category    BadgeCategory `json:"category"`
	Requirement string        `json:"requirement"`
	Unlocked    bool          `json:"unlocked"`
	UnlockedAt  *time.Time    `json:"unlockedAt,omitempty"`
}

// QuizAttempt 一次测验提交，追加后不再修改
// swagger:model QuizAttempt
type QuizAttempt struct {
	QuizID     string     `json:"quizId"`
	Category   string     `json:"category,omitempty"`
	Difficulty Difficulty `json:"difficulty,omitempty"`
	Score      int        `json:"score"`
	Total      int        `json:"total"`
	Date       time.Time  `json:"date"`
}

// UserProgress 每个用户一条，首次提交测验时创建
// swagger:model UserProgress
type UserProgress struct {
	BaseModel
	UserID         uint          `gorm:"uniqueIndex;type:bigint unsigned;not null" json:"userId"`
	Level          int           `gorm:"default:1;not null" json:"level"`
	Points         int           `gorm:"default:0;not null;index" json:"points"`
	QuizzesTaken   int           `gorm:"default:0;not null" json:"quizzesTaken"`
	CorrectAnswers int           `gorm:"default:0;not null" json:"correctAnswers"`
	StreakDays     int           `gorm:"default:0;not null" json:"streakDays"`
	LastQuizDate   *time.Time    `json:"lastQuizDate,omitempty"`
	Badges         []Badge       `gorm:"type:json;serializer:json" json:"badges"`
	QuizHistory    []QuizAttempt `gorm:"type:json;serializer:json" json:"quizHistory"`
	Version        int           `gorm:"default:0;not null" json:"-"`
}

func (UserProgress) TableName() string {
	return "user_progress"
}

// Clone 深拷贝，规则计算不修改原记录
func (p *UserProgress) Clone() *UserProgress {
	c := *p
	if p.LastQuizDate != nil {
		d := *p.LastQuizDate
		c.LastQuizDate = &d
	}
	c.Badges = make([]Badge, len(p.Badges))
	for i, b := range p.Badges {
		if b.UnlockedAt != nil {
			t := *b.UnlockedAt
			b.UnlockedAt = &t
		}
		c.Badges[i] = b
	}
	c.QuizHistory = append([]QuizAttempt(nil), p.QuizHistory...)
	return &c
}

func (p *UserProgress) Badge(id string) *Badge {
	for i := range p.Badges {
		if p.Badges[i].ID == id {
			return &p.Badges[i]
		}
	}
	return nil
}

func (p *UserProgress) HasAttempt(quizID string) bool {
	for _, a := range p.QuizHistory {
		if a.QuizID == quizID {
			return true
		}
	}
	return false
}
