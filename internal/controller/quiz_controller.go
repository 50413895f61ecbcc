package controller

import (
	"context"
	"errors"
	"fin_quiz_backend/internal/model"
	"fin_quiz_backend/internal/service"
	"fin_quiz_backend/internal/util"
	"strconv"

	"github.com/gin-gonic/gin"
)

type QuizProgressProvider interface {
	SubmitQuizAttempt(ctx context.Context, userID uint, result service.QuizResult) (*service.SubmitResult, error)
	GetOrCreateProgress(ctx context.Context, userID uint) (*model.UserProgress, error)
}

type IdentityResolver interface {
	Resolve(ctx context.Context, claims *util.Claims) (uint, error)
}

type LeaderboardProvider interface {
	GetLeaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error)
}

type ProgressExporter interface {
	ExportProgress(ctx context.Context, userID uint) (*service.ExportResult, error)
	DeleteExport(ctx context.Context, userID uint, name string) error
}

type QuizController struct {
	Progress    QuizProgressProvider
	Identity    IdentityResolver
	Leaderboard LeaderboardProvider
	Exporter    ProgressExporter
}

func NewQuizController(progress QuizProgressProvider, identity IdentityResolver, leaderboard LeaderboardProvider, exporter ProgressExporter) *QuizController {
	return &QuizController{
		Progress:    progress,
		Identity:    identity,
		Leaderboard: leaderboard,
		Exporter:    exporter,
	}
}

// SubmitQuizRequest score/total 用指针区分缺失和 0
// swagger:model SubmitQuizRequest
type SubmitQuizRequest struct {
	Category   string `json:"category"`
	Difficulty string `json:"difficulty" binding:"omitempty,oneof=easy medium hard"`
	Score      *int   `json:"score" binding:"required"`
	Total      *int   `json:"total" binding:"required"`
}

// resolveUser 解析失败时已写出响应
func (c *QuizController) resolveUser(ctx *gin.Context) (uint, bool) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return 0, false
	}

	userID, err := c.Identity.Resolve(ctx.Request.Context(), claims)
	switch {
	case err == nil:
		return userID, true
	case errors.Is(err, util.ErrUserNotFound):
		util.Unauthorized(ctx)
	case errors.Is(err, util.ErrPermissionDenied):
		util.Forbidden(ctx)
	default:
		util.LogInternalError(ctx, err)
	}
	return 0, false
}

// @Summary 提交测验结果
// @Description 累计积分、等级和连续天数并评估徽章；存储不可用时返回降级结果
// @Tags 测验进度
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param body body SubmitQuizRequest true "测验结果"
// @Success 200 {object} util.Response{data=service.SubmitResult}
// @Failure 400 {object} util.Response
// @Failure 401 {object} util.Response
// @Failure 500 {object} util.Response
// @Router /quiz/progress [post]
func (c *QuizController) SubmitQuiz(ctx *gin.Context) {
	userID, ok := c.resolveUser(ctx)
	if !ok {
		return
	}

	var req SubmitQuizRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		if req.Score == nil || req.Total == nil {
			util.BadRequest(ctx, "score and total are required")
			return
		}
		util.BadRequest(ctx, err.Error())
		return
	}

	result, err := c.Progress.SubmitQuizAttempt(ctx.Request.Context(), userID, service.QuizResult{
		Category:   req.Category,
		Difficulty: model.Difficulty(req.Difficulty),
		Score:      *req.Score,
		Total:      *req.Total,
	})
	if err != nil {
		if errors.Is(err, util.ErrInvalidQuizResult) {
			util.BadRequest(ctx, err.Error())
			return
		}
		util.LogInternalError(ctx, err)
		return
	}

	util.Success(ctx, result)
}

// @Summary 获取测验进度
// @Description 返回当前用户的进度，不存在时创建默认记录
// @Tags 测验进度
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=model.UserProgress}
// @Failure 401 {object} util.Response
// @Router /quiz/progress [get]
func (c *QuizController) GetProgress(ctx *gin.Context) {
	userID, ok := c.resolveUser(ctx)
	if !ok {
		return
	}

	progress, err := c.Progress.GetOrCreateProgress(ctx.Request.Context(), userID)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	util.Success(ctx, gin.H{"userProgress": progress})
}

// @Summary 徽章目录
// @Tags 测验进度
// @Produce json
// @Success 200 {object} util.Response{data=[]model.Badge}
// @Router /quiz/badges [get]
func (c *QuizController) GetBadgeCatalog(ctx *gin.Context) {
	util.Success(ctx, service.DefaultBadges())
}

// @Summary 积分排行榜
// @Tags 测验进度
// @Produce json
// @Security ApiKeyAuth
// @Param limit query int false "返回数量" default(10)
// @Success 200 {object} util.Response{data=[]model.LeaderboardEntry}
// @Router /quiz/leaderboard [get]
func (c *QuizController) GetLeaderboard(ctx *gin.Context) {
	limit := 0
	if limitStr := ctx.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			limit = l
		}
	}

	entries, err := c.Leaderboard.GetLeaderboard(ctx.Request.Context(), limit)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	util.Success(ctx, entries)
}

// @Summary 导出测验进度
// @Description 生成 JSON 文件并上传到存储，返回下载地址
// @Tags 测验进度
// @Produce json
// @Security ApiKeyAuth
// @Success 201 {object} util.Response{data=service.ExportResult}
// @Router /quiz/progress/export [post]
func (c *QuizController) ExportProgress(ctx *gin.Context) {
	userID, ok := c.resolveUser(ctx)
	if !ok {
		return
	}

	result, err := c.Exporter.ExportProgress(ctx.Request.Context(), userID)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	util.Created(ctx, result)
}

// @Summary 删除导出文件
// @Tags 测验进度
// @Produce json
// @Security ApiKeyAuth
// @Param name path string true "导出文件名，如 20240301-081500.json"
// @Success 200 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /quiz/progress/export/{name} [delete]
func (c *QuizController) DeleteExport(ctx *gin.Context) {
	userID, ok := c.resolveUser(ctx)
	if !ok {
		return
	}

	name := ctx.Param("name")
	if err := c.Exporter.DeleteExport(ctx.Request.Context(), userID, name); err != nil {
		if errors.Is(err, util.ErrExportNotFound) {
			util.NotFound(ctx)
			return
		}
		util.LogInternalError(ctx, err)
		return
	}

	util.Success(ctx, gin.H{"deleted": name})
}
