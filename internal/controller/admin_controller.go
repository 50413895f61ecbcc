package controller

import (
	"context"
	"fin_quiz_backend/internal/util"
	"strconv"

	"github.com/gin-gonic/gin"
)

type PendingReplayer interface {
	ReplayPending(ctx context.Context, limit int) (int, error)
}

type PendingQueue interface {
	PendingCount(ctx context.Context) (int64, error)
	DeadLetterCount(ctx context.Context) (int64, error)
}

// AdminController 运维接口，仅管理员可用
type AdminController struct {
	Replayer     PendingReplayer
	Queue        PendingQueue
	DefaultBatch int
}

func NewAdminController(replayer PendingReplayer, queue PendingQueue, defaultBatch int) *AdminController {
	if defaultBatch <= 0 {
		defaultBatch = 100
	}
	return &AdminController{Replayer: replayer, Queue: queue, DefaultBatch: defaultBatch}
}

// @Summary 立即重放待处理提交
// @Description 不等待后台定时任务，立即把排队的测验提交写入存储
// @Tags 运维
// @Produce json
// @Security ApiKeyAuth
// @Param limit query int false "本次最多重放条数"
// @Success 200 {object} util.Response
// @Failure 403 {object} util.Response
// @Router /admin/quiz/replay [post]
func (c *AdminController) ReplayPending(ctx *gin.Context) {
	limit := c.DefaultBatch
	if l, err := strconv.Atoi(ctx.Query("limit")); err == nil && l > 0 {
		limit = l
	}

	replayed, replayErr := c.Replayer.ReplayPending(ctx.Request.Context(), limit)

	pending, err := c.Queue.PendingCount(ctx.Request.Context())
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	dead, err := c.Queue.DeadLetterCount(ctx.Request.Context())
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	data := gin.H{
		"replayed":   replayed,
		"pending":    pending,
		"deadLetter": dead,
	}
	if replayErr != nil {
		data["error"] = replayErr.Error()
	}
	util.Success(ctx, data)
}
