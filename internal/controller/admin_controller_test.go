package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReplayer struct {
	limits []int
	n      int
	err    error
}

func (f *fakeReplayer) ReplayPending(ctx context.Context, limit int) (int, error) {
	f.limits = append(f.limits, limit)
	return f.n, f.err
}

type fakeQueue struct {
	pending, dead int64
}

func (f fakeQueue) PendingCount(ctx context.Context) (int64, error) { return f.pending, nil }
func (f fakeQueue) DeadLetterCount(ctx context.Context) (int64, error) { return f.dead, nil }

func adminRouter(c *AdminController) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/admin/quiz/replay", c.ReplayPending)
	return r
}

func TestAdminReplayPending(t *testing.T) {
	replayer := &fakeReplayer{n: 4}
	r := adminRouter(NewAdminController(replayer, fakeQueue{pending: 2, dead: 1}, 50))

	w, env := doRequest(r, http.MethodPost, "/api/admin/quiz/replay", "")
	require.Equal(t, http.StatusOK, w.Code)

	var data struct {
		Replayed   int    `json:"replayed"`
		Pending    int64  `json:"pending"`
		DeadLetter int64  `json:"deadLetter"`
		Error      string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, 4, data.Replayed)
	assert.Equal(t, int64(2), data.Pending)
	assert.Equal(t, int64(1), data.DeadLetter)
	assert.Empty(t, data.Error)

	doRequest(r, http.MethodPost, "/api/admin/quiz/replay?limit=7", "")
	assert.Equal(t, []int{50, 7}, replayer.limits)
}

func TestAdminReplayPending_ReportsStoreError(t *testing.T) {
	replayer := &fakeReplayer{err: errors.New("connection refused")}
	r := adminRouter(NewAdminController(replayer, fakeQueue{pending: 3}, 0))

	w, env := doRequest(r, http.MethodPost, "/api/admin/quiz/replay", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), "connection refused")
	assert.Equal(t, []int{100}, replayer.limits)
}
