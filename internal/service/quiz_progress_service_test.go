package service

import (
	"context"
	"errors"
	"fin_quiz_backend/internal/model"
	"fin_quiz_backend/internal/util"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var errStoreDown = errors.New("connection refused")

type fakeStore struct {
	mu          sync.Mutex
	records     map[uint]*model.UserProgress
	nextID      uint
	down        bool
	conflicts   int
	raceCreate  bool
	createCalls int
	updateCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[uint]*model.UserProgress{}}
}

func (s *fakeStore) FindByUserID(ctx context.Context, userID uint) (*model.UserProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return nil, errStoreDown
	}
	p, ok := s.records[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return p.Clone(), nil
}

func (s *fakeStore) Create(ctx context.Context, p *model.UserProgress) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	if s.down {
		return false, errStoreDown
	}
	s.nextID++
	if s.raceCreate {
		// 模拟另一个请求抢先创建
		other := NewDefaultProgress(p.UserID)
		other.ID = s.nextID
		other.Points = 42
		s.records[p.UserID] = other
		return false, nil
	}
	if _, ok := s.records[p.UserID]; ok {
		return false, nil
	}
	p.ID = s.nextID
	s.records[p.UserID] = p.Clone()
	return true, nil
}

func (s *fakeStore) UpdateWithVersion(ctx context.Context, p *model.UserProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls++
	if s.down {
		return errStoreDown
	}
	if s.conflicts > 0 {
		s.conflicts--
		return util.ErrProgressConflict
	}
	current, ok := s.records[p.UserID]
	if !ok || current.Version != p.Version {
		return util.ErrProgressConflict
	}
	p.Version++
	s.records[p.UserID] = p.Clone()
	return nil
}

type fakeCache struct {
	mu        sync.Mutex
	snapshots map[uint]*model.UserProgress
	pending   []model.PendingAttempt
	dead      []model.PendingAttempt
	down      bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{snapshots: map[uint]*model.UserProgress{}}
}

func (c *fakeCache) SaveSnapshot(ctx context.Context, p *model.UserProgress) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return errStoreDown
	}
	c.snapshots[p.UserID] = p.Clone()
	return nil
}

func (c *fakeCache) LoadSnapshot(ctx context.Context, userID uint) (*model.UserProgress, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return nil, errStoreDown
	}
	p, ok := c.snapshots[userID]
	if !ok {
		return nil, errors.New("miss")
	}
	return p.Clone(), nil
}

func (c *fakeCache) PushPending(ctx context.Context, item model.PendingAttempt) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return errStoreDown
	}
	c.pending = append(c.pending, item)
	return nil
}

func (c *fakeCache) PopPending(ctx context.Context) (*model.PendingAttempt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return nil, errStoreDown
	}
	if len(c.pending) == 0 {
		return nil, nil
	}
	item := c.pending[0]
	c.pending = c.pending[1:]
	return &item, nil
}

func (c *fakeCache) PushDeadLetter(ctx context.Context, item model.PendingAttempt) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dead = append(c.dead, item)
	return nil
}

type fakeBoard struct {
	scores map[uint]int
}

func (b *fakeBoard) UpdateScore(ctx context.Context, userID uint, points int) error {
	b.scores[userID] = points
	return nil
}

type fixture struct {
	store *fakeStore
	cache *fakeCache
	board *fakeBoard
	svc   *QuizProgressService
	clock time.Time
}

func newFixture() *fixture {
	f := &fixture{
		store: newFakeStore(),
		cache: newFakeCache(),
		board: &fakeBoard{scores: map[uint]int{}},
		clock: day(1),
	}
	f.svc = NewQuizProgressService(f.store, f.cache, f.board, 3, time.UTC)
	f.svc.Now = func() time.Time { return f.clock }
	return f
}

func TestSubmitQuizAttempt_FirstSubmissionCreatesRecord(t *testing.T) {
	f := newFixture()

	res, err := f.svc.SubmitQuizAttempt(context.Background(), 1, QuizResult{Category: "saving", Difficulty: model.DifficultyMedium, Score: 4, Total: 5})
	require.NoError(t, err)

	assert.False(t, res.Degraded)
	assert.Equal(t, 8, res.UserProgress.Points)
	assert.Equal(t, 1, res.UserProgress.QuizzesTaken)
	assert.Equal(t, 1, res.UserProgress.StreakDays)
	assert.Equal(t, []string{BadgeFirstQuiz}, badgeIDs(res.UnlockedBadges))

	stored, err := f.store.FindByUserID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 8, stored.Points)
	assert.Equal(t, 1, stored.Version)
	assert.Len(t, stored.QuizHistory, 1)

	assert.Equal(t, 8, f.board.scores[1])
	assert.Equal(t, 8, f.cache.snapshots[1].Points)
	assert.Equal(t, 1, f.store.createCalls)
}

func TestSubmitQuizAttempt_AccumulatesAcrossCalls(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.SubmitQuizAttempt(ctx, 1, QuizResult{Score: 5, Total: 5})
	require.NoError(t, err)
	f.clock = day(2)
	res, err := f.svc.SubmitQuizAttempt(ctx, 1, QuizResult{Difficulty: model.DifficultyHard, Score: 3, Total: 5})
	require.NoError(t, err)

	assert.Equal(t, 14, res.UserProgress.Points)
	assert.Equal(t, 2, res.UserProgress.QuizzesTaken)
	assert.Equal(t, 8, res.UserProgress.CorrectAnswers)
	assert.Equal(t, 2, res.UserProgress.StreakDays)
	assert.Empty(t, res.UnlockedBadges)
	assert.Equal(t, 1, f.store.createCalls)
}

func TestSubmitQuizAttempt_RejectsInvalidResult(t *testing.T) {
	f := newFixture()

	cases := []QuizResult{
		{Score: 10, Total: 5},
		{Score: 1, Total: 0},
		{Score: -1, Total: 5},
		{Score: 1, Total: 5, Difficulty: "expert"},
	}
	for _, r := range cases {
		_, err := f.svc.SubmitQuizAttempt(context.Background(), 1, r)
		assert.ErrorIs(t, err, util.ErrInvalidQuizResult)
	}
	assert.Zero(t, f.store.createCalls)
	assert.Empty(t, f.cache.pending)
}

func TestSubmitQuizAttempt_RetriesOnVersionConflict(t *testing.T) {
	f := newFixture()
	f.store.conflicts = 2

	res, err := f.svc.SubmitQuizAttempt(context.Background(), 1, QuizResult{Score: 2, Total: 5})
	require.NoError(t, err)

	assert.False(t, res.Degraded)
	assert.Equal(t, 3, f.store.updateCalls)
	stored, _ := f.store.FindByUserID(context.Background(), 1)
	assert.Equal(t, 1, stored.QuizzesTaken)
}

func TestSubmitQuizAttempt_ConflictsExhaustedFallsBack(t *testing.T) {
	f := newFixture()
	f.store.conflicts = 10

	res, err := f.svc.SubmitQuizAttempt(context.Background(), 1, QuizResult{Score: 2, Total: 5})
	require.NoError(t, err)

	assert.True(t, res.Degraded)
	assert.Equal(t, 3, f.store.updateCalls)
	assert.Len(t, f.cache.pending, 1)
}

func TestGetOrCreateProgress_ConcurrentCreateRereads(t *testing.T) {
	f := newFixture()
	f.store.raceCreate = true

	p, err := f.svc.GetOrCreateProgress(context.Background(), 3)
	require.NoError(t, err)

	assert.Equal(t, 42, p.Points)
	assert.Len(t, p.Badges, 9)
}

func TestGetOrCreateProgress_CreatesOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.svc.GetOrCreateProgress(ctx, 5)
	require.NoError(t, err)
	second, err := f.svc.GetOrCreateProgress(ctx, 5)
	require.NoError(t, err)

	assert.Equal(t, 1, f.store.createCalls)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, second.Level)
	assert.Len(t, second.Badges, 9)
}

func TestGetOrCreateProgress_StoreError(t *testing.T) {
	f := newFixture()
	f.store.down = true

	_, err := f.svc.GetOrCreateProgress(context.Background(), 5)
	assert.ErrorIs(t, err, errStoreDown)
}

func TestSubmitQuizAttempt_DegradesFromSnapshot(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.SubmitQuizAttempt(ctx, 1, QuizResult{Score: 5, Total: 5})
	require.NoError(t, err)

	f.store.down = true
	f.clock = day(2)
	res, err := f.svc.SubmitQuizAttempt(ctx, 1, QuizResult{Difficulty: model.DifficultyMedium, Score: 4, Total: 5})
	require.NoError(t, err)

	assert.True(t, res.Degraded)
	assert.Equal(t, 13, res.UserProgress.Points)
	assert.Equal(t, 2, res.UserProgress.QuizzesTaken)
	assert.Equal(t, 2, res.UserProgress.StreakDays)
	assert.Empty(t, res.UnlockedBadges)

	require.Len(t, f.cache.pending, 1)
	assert.Equal(t, uint(1), f.cache.pending[0].UserID)
	assert.NotEmpty(t, f.cache.pending[0].ID)
	assert.Equal(t, 13, f.cache.snapshots[1].Points)
}

func TestSubmitQuizAttempt_DegradesFromDefaultWithoutSnapshot(t *testing.T) {
	f := newFixture()
	f.store.down = true
	f.cache.down = true

	res, err := f.svc.SubmitQuizAttempt(context.Background(), 9, QuizResult{Score: 3, Total: 5})
	require.NoError(t, err)

	assert.True(t, res.Degraded)
	assert.Equal(t, uint(9), res.UserProgress.UserID)
	assert.Equal(t, 3, res.UserProgress.Points)
	assert.Equal(t, []string{BadgeFirstQuiz}, badgeIDs(res.UnlockedBadges))
}

func TestReplayPending_PersistsQueuedAttempts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.store.down = true
	_, err := f.svc.SubmitQuizAttempt(ctx, 1, QuizResult{Score: 5, Total: 5})
	require.NoError(t, err)
	f.clock = day(2)
	_, err = f.svc.SubmitQuizAttempt(ctx, 1, QuizResult{Score: 2, Total: 5})
	require.NoError(t, err)
	require.Len(t, f.cache.pending, 2)

	f.store.down = false
	f.clock = day(4)
	n, err := f.svc.ReplayPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, f.cache.pending)

	stored, err := f.store.FindByUserID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.QuizzesTaken)
	assert.Equal(t, 7, stored.Points)
	// 按原始提交时间计算连续天数
	assert.Equal(t, 2, stored.StreakDays)
	assert.True(t, stored.Badge(BadgePerfectScore).Unlocked)
	assert.Equal(t, day(1), *stored.Badge(BadgePerfectScore).UnlockedAt)
}

func TestReplayPending_SkipsAlreadyRecordedAttempt(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.store.down = true
	_, err := f.svc.SubmitQuizAttempt(ctx, 1, QuizResult{Score: 3, Total: 5})
	require.NoError(t, err)
	require.Len(t, f.cache.pending, 1)
	f.cache.pending = append(f.cache.pending, f.cache.pending[0])

	f.store.down = false
	_, err = f.svc.ReplayPending(ctx, 10)
	require.NoError(t, err)

	stored, err := f.store.FindByUserID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.QuizzesTaken)
	assert.Len(t, stored.QuizHistory, 1)
}

func TestReplayPending_RequeuesWhileStoreDown(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.store.down = true
	_, err := f.svc.SubmitQuizAttempt(ctx, 1, QuizResult{Score: 3, Total: 5})
	require.NoError(t, err)

	n, err := f.svc.ReplayPending(ctx, 10)
	assert.Error(t, err)
	assert.Zero(t, n)
	require.Len(t, f.cache.pending, 1)
	assert.Equal(t, 1, f.cache.pending[0].Retries)
}

func TestReplayPending_EmptyQueue(t *testing.T) {
	f := newFixture()

	n, err := f.svc.ReplayPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReplayPending_MovesExhaustedAttemptToDeadLetter(t *testing.T) {
	f := newFixture()
	f.svc.MaxReplayRetries = 3
	ctx := context.Background()

	f.store.down = true
	_, err := f.svc.SubmitQuizAttempt(ctx, 1, QuizResult{Score: 3, Total: 5})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := f.svc.ReplayPending(ctx, 10)
		assert.Error(t, err)
		require.Len(t, f.cache.pending, 1)
		assert.Equal(t, i+1, f.cache.pending[0].Retries)
	}

	_, err = f.svc.ReplayPending(ctx, 10)
	assert.Error(t, err)
	assert.Empty(t, f.cache.pending)
	require.Len(t, f.cache.dead, 1)
	assert.Equal(t, 3, f.cache.dead[0].Retries)

	// 死信不再参与后续重放
	n, err := f.svc.ReplayPending(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReplayPending_ExhaustedItemNoLongerBlocksQueue(t *testing.T) {
	f := newFixture()
	f.svc.MaxReplayRetries = 1
	ctx := context.Background()

	f.store.down = true
	_, err := f.svc.SubmitQuizAttempt(ctx, 1, QuizResult{Score: 3, Total: 5})
	require.NoError(t, err)
	_, err = f.svc.ReplayPending(ctx, 10)
	assert.Error(t, err)
	require.Len(t, f.cache.dead, 1)

	f.clock = day(2)
	_, err = f.svc.SubmitQuizAttempt(ctx, 2, QuizResult{Score: 4, Total: 5})
	require.NoError(t, err)

	f.store.down = false
	n, err := f.svc.ReplayPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := f.store.FindByUserID(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, stored.Points)
}
