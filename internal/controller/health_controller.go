package controller

import (
	"context"
	"fin_quiz_backend/internal/util"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger 数据库、Redis 等依赖的存活检查
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc 将普通函数适配为 Pinger
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type HealthController struct {
	Components map[string]Pinger
}

func NewHealthController(components map[string]Pinger) *HealthController {
	return &HealthController{Components: components}
}

// @Summary 健康检查
// @Description 检查数据库和缓存状态
// @Tags 系统
// @Produce json
// @Success 200 {object} util.Response
// @Failure 503 {object} util.Response
// @Router /health [get]
func (c *HealthController) HealthCheck(ctx *gin.Context) {
	pingCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	status := gin.H{}
	healthy := true
	for name, p := range c.Components {
		if err := p.Ping(pingCtx); err != nil {
			status[name] = "down"
			healthy = false
			continue
		}
		status[name] = "up"
	}

	if !healthy {
		ctx.JSON(http.StatusServiceUnavailable, util.Response{
			Code:    http.StatusServiceUnavailable,
			Message: "degraded",
			Data:    gin.H{"status": "degraded", "components": status},
		})
		return
	}

	util.Success(ctx, gin.H{
		"status":     "ok",
		"components": status,
	})
}
