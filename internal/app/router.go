package app

import (
	"fin_quiz_backend/docs"
	"fin_quiz_backend/internal/config"
	"fin_quiz_backend/internal/middleware"
	"fin_quiz_backend/internal/model"
	"fin_quiz_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, repos *repositories, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.GET("/quiz/badges", c.quiz.GetBadgeCatalog)
	}

	// 2. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg.JWT.Secret), middleware.ActivityMiddleware(repos.user))
	{
		a.registerQuizRoutes(authGroup, c)
	}

	// 3. 管理员路由
	adminGroup := router.Group("/api/admin")
	adminGroup.Use(middleware.AuthMiddleware(cfg.JWT.Secret), middleware.RoleMiddleware(model.Admin))
	{
		adminGroup.POST("/quiz/replay", c.admin.ReplayPending)
	}
}

func (a *App) registerQuizRoutes(rg *gin.RouterGroup, c *controllers) {
	quiz := rg.Group("/quiz")
	{
		quiz.GET("/progress", c.quiz.GetProgress)
		quiz.POST("/progress", c.quiz.SubmitQuiz)
		quiz.POST("/progress/export", c.quiz.ExportProgress)
		quiz.DELETE("/progress/export/:name", c.quiz.DeleteExport)
		quiz.GET("/leaderboard", c.quiz.GetLeaderboard)
	}
}
