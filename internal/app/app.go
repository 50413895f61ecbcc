package app

import (
	"context"
	"fin_quiz_backend/internal/config"
	"fin_quiz_backend/internal/controller"
	"fin_quiz_backend/internal/middleware"
	"fin_quiz_backend/internal/repository"
	"fin_quiz_backend/internal/service"
	"fin_quiz_backend/internal/util"
	"fin_quiz_backend/pkg/configwatcher"
	"fin_quiz_backend/pkg/database"
	"fin_quiz_backend/pkg/logger"
	"fin_quiz_backend/pkg/monitoring"
	"fin_quiz_backend/pkg/security"
	"fin_quiz_backend/pkg/tracing"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gorm.io/gorm"
)

type App struct {
	Config          *config.Config
	ConfigDir       string
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	services        *services
	tracer          *sdktrace.TracerProvider
	cancel          context.CancelFunc
	mu              sync.Mutex
	configCallbacks []func(*config.Config)
}

type repositories struct {
	user     *repository.UserRepository
	progress *repository.ProgressRepository
	cache    *repository.ProgressCache
}

type services struct {
	identity     *service.IdentityService
	quizProgress *service.QuizProgressService
	leaderboard  *service.LeaderboardService
	storage      *service.StorageService
	export       *service.ExportService
}

type controllers struct {
	quiz   *controller.QuizController
	admin  *controller.AdminController
	health *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) applyConfig(cfg *config.Config) {
	a.mu.Lock()
	a.Config = cfg
	callbacks := append([]func(*config.Config){}, a.configCallbacks...)
	a.mu.Unlock()

	for _, cb := range callbacks {
		cb(cfg)
	}
}

func (a *App) initRepositories(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *repositories {
	return &repositories{
		user:     repository.NewUserRepository(db),
		progress: repository.NewProgressRepository(db),
		cache:    repository.NewProgressCache(rdb, cfg.Quiz.SnapshotTTL),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config) *services {
	s := &services{}

	s.identity = service.NewIdentityService(repos.user)
	s.quizProgress = service.NewQuizProgressService(
		repos.progress,
		repos.cache,
		repos.cache,
		cfg.Quiz.MaxUpdateRetries,
		cfg.Quiz.Location(),
	)
	s.quizProgress.MaxReplayRetries = cfg.Quiz.MaxReplayRetries
	s.leaderboard = service.NewLeaderboardService(repos.cache, repos.progress, repos.user, cfg.Quiz.LeaderboardSize)
	s.storage = service.NewStorageService(cfg)
	s.export = service.NewExportService(s.quizProgress, s.storage)

	return s
}

func (a *App) initControllers(s *services, repos *repositories) *controllers {
	components := map[string]controller.Pinger{
		"database": controller.PingFunc(func(ctx context.Context) error {
			sqlDB, err := a.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}),
		"redis": repos.cache,
	}

	return &controllers{
		quiz:   controller.NewQuizController(s.quizProgress, s.identity, s.leaderboard, s.export),
		admin:  controller.NewAdminController(s.quizProgress, repos.cache, a.Config.Quiz.ReconcileBatch),
		health: controller.NewHealthController(components),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(middleware.RequestID())
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(security.RateLimiter(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// startBackgroundTasks 定时重放存储故障期间排队的测验提交
func (a *App) startBackgroundTasks(ctx context.Context, s *services, repos *repositories, cfg *config.Config) {
	interval := cfg.Quiz.ReconcileInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	batch := cfg.Quiz.ReconcileBatch

	go func() {
		warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if _, err := s.leaderboard.Warm(warmCtx, cfg.Quiz.LeaderboardWarm); err != nil {
			logger.Log.Warn("warm leaderboard failed", zap.Error(err))
		}
	}()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.quizProgress.ReplayPending(ctx, batch); err != nil {
					logger.Log.Warn("replay pending quiz attempts failed", zap.Error(err))
				}
				if n, err := repos.cache.PendingCount(ctx); err == nil {
					monitoring.PendingQueueLength.Set(float64(n))
				}
			}
		}
	}()
}

func NewApp(cfg *config.Config, configDir string) *App {
	logger.InitLogger(cfg)

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database, cfg.Server.Mode)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}
	logger.Log.Info("Database connection established")

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
	}
	logger.Log.Info("Redis connection established")

	app := &App{
		Config:    cfg,
		ConfigDir: configDir,
		DB:        db,
		Redis:     rdb,
	}

	repos := app.initRepositories(db, rdb, cfg)
	services := app.initServices(repos, cfg)
	app.services = services
	controllers := app.initControllers(services, repos)

	// 监控初始化
	monitoring.Init()

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	app.Router = router

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("fin-quiz-backend", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, controllers, repos, cfg)

	if cfg.Storage.Type == util.StorageLocal {
		router.Static("/exports", cfg.Storage.LocalPath)
	}

	app.RegisterConfigCallback(func(newCfg *config.Config) {
		logger.SetLevel(newCfg)
	})

	ctx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel
	app.startBackgroundTasks(ctx, services, repos, cfg)

	if configDir != "" {
		if err := configwatcher.WatchConfig(ctx, configDir, app.applyConfig); err != nil {
			logger.Log.Warn("Config hot reload disabled", zap.Error(err))
		}
	}

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:              ":" + a.Config.Server.Port,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 启动服务器
	go func() {
		logger.Log.Info("Server running", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("listen failed", zap.Error(err))
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")

	if a.cancel != nil {
		a.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}

	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if err := a.Redis.Close(); err != nil {
		logger.Log.Warn("close redis failed", zap.Error(err))
	}

	logger.Log.Info("Server exiting")
}
