package service

import (
	"fin_quiz_backend/internal/model"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	streakMasterDays     = 3
	expertPercentage     = 80
	expertAttempts       = 3
	quizMasterQuizzes    = 10
	quizMasterPercentage = 80
	guruLevel            = 10
)

const (
	BadgeFirstQuiz       = "first-quiz"
	BadgeStreakMaster    = "streak-master"
	BadgePerfectScore    = "perfect-score"
	BadgeSavingExpert    = "saving-expert"
	BadgeBudgetingExpert = "budgeting-expert"
	BadgeInvestingExpert = "investing-expert"
	BadgeDebtExpert      = "debt-expert"
	BadgeQuizMaster      = "quiz-master"
	BadgeFinancialGuru   = "financial-guru"
)

var hundred = decimal.NewFromInt(100)

// 分类 -> 专家徽章
var categoryBadges = map[string]string{
	"saving":    BadgeSavingExpert,
	"budgeting": BadgeBudgetingExpert,
	"investing": BadgeInvestingExpert,
	"debt":      BadgeDebtExpert,
}

var badgeCatalog = []model.Badge{
	{ID: BadgeFirstQuiz, Name: "First Steps", Description: "Completed your first financial quiz", Icon: "🎯", Category: model.BadgeAchievement, Requirement: "Complete 1 quiz"},
	{ID: BadgeStreakMaster, Name: "Streak Master", Description: "Took quizzes on 3 consecutive days", Icon: "🔥", Category: model.BadgeAchievement, Requirement: "Maintain a 3-day streak"},
	{ID: BadgePerfectScore, Name: "Perfect Score", Description: "Answered every question of a quiz correctly", Icon: "⭐", Category: model.BadgeAchievement, Requirement: "Score 100% on any quiz"},
	{ID: BadgeSavingExpert, Name: "Saving Expert", Description: "Mastered saving fundamentals", Icon: "💰", Category: model.BadgeKnowledge, Requirement: "Score 80%+ on 3 saving quizzes"},
	{ID: BadgeBudgetingExpert, Name: "Budgeting Expert", Description: "Mastered budgeting fundamentals", Icon: "📊", Category: model.BadgeKnowledge, Requirement: "Score 80%+ on 3 budgeting quizzes"},
	{ID: BadgeInvestingExpert, Name: "Investing Expert", Description: "Mastered investing fundamentals", Icon: "📈", Category: model.BadgeKnowledge, Requirement: "Score 80%+ on 3 investing quizzes"},
	{ID: BadgeDebtExpert, Name: "Debt Expert", Description: "Mastered debt management", Icon: "💳", Category: model.BadgeKnowledge, Requirement: "Score 80%+ on 3 debt quizzes"},
	{ID: BadgeQuizMaster, Name: "Quiz Master", Description: "Completed 10 quizzes with a high average", Icon: "🏆", Category: model.BadgeAchievement, Requirement: "Complete 10 quizzes with an 80%+ average"},
	{ID: BadgeFinancialGuru, Name: "Financial Guru", Description: "Reached the top tier of financial literacy", Icon: "👑", Category: model.BadgeAchievement, Requirement: "Reach level 10"},
}

// DefaultBadges 返回全部锁定的徽章目录副本
func DefaultBadges() []model.Badge {
	badges := make([]model.Badge, len(badgeCatalog))
	copy(badges, badgeCatalog)
	return badges
}

func NewDefaultProgress(userID uint) *model.UserProgress {
	return &model.UserProgress{
		UserID:      userID,
		Level:       1,
		Badges:      DefaultBadges(),
		QuizHistory: []model.QuizAttempt{},
	}
}

// EnsureCatalog 为旧记录补齐目录中新增的徽章，返回是否有改动
func EnsureCatalog(p *model.UserProgress) bool {
	changed := false
	for _, b := range badgeCatalog {
		if p.Badge(b.ID) == nil {
			p.Badges = append(p.Badges, b)
			changed = true
		}
	}
	if p.QuizHistory == nil {
		p.QuizHistory = []model.QuizAttempt{}
	}
	return changed
}

func CalculateAward(score int, difficulty model.Difficulty) int {
	award := score
	switch difficulty {
	case model.DifficultyMedium:
		award *= 2
	case model.DifficultyHard:
		award *= 3
	}
	return award
}

func CalculateLevel(points int) int {
	return model.LevelForPoints(points)
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// dayDifference 按日历日计算，不受夏令时影响
func dayDifference(from, to time.Time) int {
	a := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

func updateStreak(p *model.UserProgress, now time.Time) {
	today := truncateDay(now)
	if p.LastQuizDate == nil {
		p.StreakDays = 1
		p.LastQuizDate = &today
		return
	}

	last := p.LastQuizDate.In(now.Location())
	diff := dayDifference(last, today)
	switch {
	case diff == 1:
		p.StreakDays++
	case diff > 1:
		p.StreakDays = 1
	}

	// 重放的旧提交不能让日期倒退
	if diff >= 0 {
		p.LastQuizDate = &today
	}
	if p.StreakDays < 1 {
		p.StreakDays = 1
	}
}

func percentage(score, total int) decimal.Decimal {
	if total <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(score)).Mul(hundred).Div(decimal.NewFromInt(int64(total)))
}

func normalizeCategory(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}

// ApplyQuizAttempt 在副本上累计一次测验并评估徽章，不修改传入的记录
func ApplyQuizAttempt(p *model.UserProgress, attempt model.QuizAttempt, now time.Time) (*model.UserProgress, []model.Badge) {
	next := p.Clone()
	EnsureCatalog(next)

	next.QuizHistory = append(next.QuizHistory, attempt)
	next.QuizzesTaken++
	next.CorrectAnswers += attempt.Score

	next.Points += CalculateAward(attempt.Score, attempt.Difficulty)
	next.Level = CalculateLevel(next.Points)

	updateStreak(next, now)

	return next, evaluateBadges(next, attempt, now)
}

func evaluateBadges(p *model.UserProgress, attempt model.QuizAttempt, now time.Time) []model.Badge {
	unlocked := []model.Badge{}
	unlock := func(id string, ok bool) {
		if !ok {
			return
		}
		b := p.Badge(id)
		if b == nil || b.Unlocked {
			return
		}
		at := now
		b.Unlocked = true
		b.UnlockedAt = &at
		unlocked = append(unlocked, *b)
	}

	pct := percentage(attempt.Score, attempt.Total)
	expert := decimal.NewFromInt(expertPercentage)

	unlock(BadgeFirstQuiz, p.QuizzesTaken >= 1)
	unlock(BadgeStreakMaster, p.StreakDays >= streakMasterDays)
	unlock(BadgePerfectScore, pct.Equal(hundred))

	category := normalizeCategory(attempt.Category)
	if id, ok := categoryBadges[category]; ok && pct.GreaterThanOrEqual(expert) {
		qualifying := 0
		for _, a := range p.QuizHistory {
			if normalizeCategory(a.Category) == category && percentage(a.Score, a.Total).GreaterThanOrEqual(expert) {
				qualifying++
			}
		}
		unlock(id, qualifying >= expertAttempts)
	}

	if p.QuizzesTaken >= quizMasterQuizzes {
		var score, total int
		for _, a := range p.QuizHistory {
			score += a.Score
			total += a.Total
		}
		unlock(BadgeQuizMaster, percentage(score, total).GreaterThanOrEqual(decimal.NewFromInt(quizMasterPercentage)))
	}

	unlock(BadgeFinancialGuru, p.Level >= guruLevel)

	return unlocked
}
