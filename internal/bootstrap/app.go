package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	httpHandler "github.com/ayzthp/ColabCode/internal/handler/http"
	wsHandler "github.com/ayzthp/ColabCode/internal/handler/websocket"
	"github.com/ayzthp/ColabCode/internal/hub"
	gormpersistence "github.com/ayzthp/ColabCode/internal/infra/persistence/gorm"
	"github.com/ayzthp/ColabCode/internal/infra/judge0"
	"github.com/ayzthp/ColabCode/internal/infra/setup"
	memorystate "github.com/ayzthp/ColabCode/internal/infra/state/memory"
	redisstate "github.com/ayzthp/ColabCode/internal/infra/state/redis"
	"github.com/ayzthp/ColabCode/internal/middleware"
	"github.com/ayzthp/ColabCode/internal/repository"
	"github.com/ayzthp/ColabCode/internal/service"
	"github.com/ayzthp/ColabCode/internal/tasks"
	"github.com/ayzthp/ColabCode/internal/worker"
)

// App 结构体包含应用的所有组件和配置
type App struct {
	Config      *Config
	Log         *logrus.Logger
	DB          *gorm.DB
	RedisClient *redis.Client
	AsynqClient *asynq.Client
	AsynqServer *worker.WorkerServer
	Hub         *hub.Hub
	HttpServer  *http.Server

	redisClientOpt  asynq.RedisClientOpt
	scheduler       *asynq.Scheduler
	snapshotHandler *worker.SnapshotCheckHandler
	bgCtx           context.Context
	bgCancel        context.CancelFunc
}

// NewLogger 按运行环境配置 logrus
func NewLogger(cfg *Config) *logrus.Logger {
	log := logrus.New()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	logLevel, _ := logrus.ParseLevel(cfg.LogLevel) // cfg.LogLevel 已被 LoadConfig 验证
	log.SetLevel(logLevel)
	log.SetOutput(os.Stdout)

	// 各层通过 logrus 包级函数记录日志，与 App 使用同一配置
	logrus.SetFormatter(log.Formatter)
	logrus.SetLevel(logLevel)
	logrus.SetOutput(os.Stdout)
	return log
}

// NewApp 创建并初始化应用的所有组件
func NewApp() (*App, error) {
	// 1. 加载配置
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	// 2. 初始化 Logger
	log := NewLogger(cfg)
	log.Infof("Logger initialized (Level: %s, Format: %T)", log.GetLevel().String(), log.Formatter)
	log.WithField("state_backend", cfg.StateBackend).Info("Configuration loaded successfully")

	app := &App{Config: cfg, Log: log}
	app.bgCtx, app.bgCancel = context.WithCancel(context.Background())

	// 3. 初始化基础设施
	log.Info("Initializing infrastructure...")
	db, err := setup.InitDB(cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return nil, fmt.Errorf("failed to init DB: %w", err)
	}
	app.DB = db
	if err := setup.MigrateDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate DB: %w", err)
	}
	log.Info("Database initialized and migrated")

	var store repository.RoomStore
	if cfg.UsesRedis() {
		redisClient, err := setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("failed to init Redis: %w", err)
		}
		app.RedisClient = redisClient
		app.redisClientOpt = asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}
		app.AsynqClient = asynq.NewClient(app.redisClientOpt)
		store = redisstate.NewRedisRoomStore(redisClient, cfg.KeyPrefix)
		log.Info("Redis room store and asynq client initialized")
	} else {
		store = memorystate.NewMemoryRoomStore()
		log.Warn("Using in-memory room store: state is not shared between instances")
	}

	// 4. 初始化 Repositories
	roomRepo := gormpersistence.NewGormRoomRepository(db)
	snapshotRepo := gormpersistence.NewGormSnapshotRepository(db)
	lineRepo := gormpersistence.NewGormDrawingLineRepository(db)
	lineHandler := worker.NewLinePersistenceHandler(lineRepo)

	var enqueuer service.TaskEnqueuer
	if app.AsynqClient != nil {
		enqueuer = app.AsynqClient
	} else {
		enqueuer = worker.NewInlineEnqueuer(app.bgCtx, worker.NewServeMux(lineHandler, nil))
	}

	// 5. 初始化 Services
	log.Info("Initializing services...")
	roomService := service.NewRoomService(roomRepo, snapshotRepo, lineRepo, store)
	executor := judge0.NewClient(judge0.Config{
		BaseURL: cfg.Judge0URL,
		APIKey:  cfg.RapidAPIKey,
		APIHost: cfg.RapidAPIHost,
		Timeout: cfg.ExecutionTimeout,
	})
	execService := service.NewExecutionService(store, roomService, executor, service.ExecutionOptions{
		Timeout:   cfg.ExecutionTimeout,
		RateLimit: cfg.ExecutionRateLimit,
	})
	drawingService := service.NewDrawingService(store, roomService, lineRepo, enqueuer)
	snapshotService := service.NewSnapshotService(snapshotRepo, roomRepo, store)

	// 6. 初始化 Hub
	app.Hub = hub.NewHub(store, roomService, execService, drawingService, hub.Options{CodeDebounce: cfg.CodeDebounce})
	app.snapshotHandler = worker.NewSnapshotCheckHandler(app.Hub, snapshotService)

	// 7. 初始化 Worker Server
	if cfg.UsesRedis() {
		app.AsynqServer = worker.NewWorkerServer(app.redisClientOpt, lineHandler, app.snapshotHandler, log)
	}

	// 8. 初始化 Gin Engine 和路由
	log.Info("Setting up Gin router...")
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))
	router.Use(cors.New(corsConfig(cfg.AllowedOrigins)))
	router.Use(middleware.RateLimit(store, cfg.RateLimitMax, cfg.RateLimitWindow))

	authMW := middleware.Auth(cfg.JWTSecret)
	httpHandler.RegisterRoutes(router, httpHandler.Handlers{
		Auth:      httpHandler.NewAuthHandler(),
		Room:      httpHandler.NewRoomHandler(roomService),
		Execution: httpHandler.NewExecutionHandler(execService),
		Drawing:   httpHandler.NewDrawingHandler(drawingService),
	}, authMW)
	ws := wsHandler.NewWebSocketHandler(app.Hub, roomService, cfg.AllowedOrigins)
	router.GET("/ws/room/:roomId", authMW, ws.HandleConnection)
	log.Info("Router setup complete")

	// 9. 初始化 HTTP Server
	app.HttpServer = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("Application assembled successfully")
	return app, nil
}

// corsConfig 根据允许的来源构造 CORS 配置，"*" 表示允许任意来源
func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			// 允许任意来源时不能同时返回 Allow-Credentials: *，改为回显来源
			cfg.AllowOriginFunc = func(string) bool { return true }
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	return cfg
}

// Start 启动应用的所有后台 Goroutine 和 HTTP 服务器
func (a *App) Start() {
	a.Log.Info("Starting application background routines...")
	go a.Hub.Run()
	a.Log.Info("Hub routine started")

	if a.AsynqServer != nil {
		go a.AsynqServer.Start()
		a.Log.Info("Asynq worker server routine started")
	}
	a.registerPeriodicTasks()

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

// registerPeriodicTasks 注册周期性快照检查。
// Redis 模式下由 asynq Scheduler 投递任务，内存模式下直接用定时器驱动同一个处理器。
func (a *App) registerPeriodicTasks() {
	schedule := a.Config.SnapshotSchedule
	if !a.Config.UsesRedis() {
		go a.runSnapshotTicker(schedule)
		a.Log.Infof("In-process snapshot check scheduled every %s", schedule)
		return
	}

	a.scheduler = asynq.NewScheduler(a.redisClientOpt, &asynq.SchedulerOpts{})
	cronExpr := "@every " + schedule.String()
	entryID, err := a.scheduler.Register(cronExpr, tasks.NewSnapshotPeriodicCheckTask(), asynq.Queue("default"))
	if err != nil {
		a.Log.Errorf("Could not register periodic snapshot check task: %v", err)
		return
	}
	a.Log.Infof("Periodic snapshot check task registered with schedule '%s' (EntryID: %s)", cronExpr, entryID)

	go func() {
		a.Log.Info("Asynq scheduler starting...")
		if err := a.scheduler.Run(); err != nil {
			a.Log.Errorf("Asynq scheduler Run() failed: %v", err)
			return
		}
		a.Log.Info("Asynq scheduler stopped.")
	}()
}

func (a *App) runSnapshotTicker(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-a.bgCtx.Done():
			return
		case <-ticker.C:
			a.snapshotHandler.CheckActiveRooms(a.bgCtx)
		}
	}
}

// Shutdown 优雅地关闭应用
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	// 1. 先停止接收新请求
	a.Log.Info("Shutting down HTTP server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	} else {
		a.Log.Info("HTTP server shut down gracefully.")
	}

	// 2. 关闭所有连接和房间订阅；关闭前再检查一次快照
	if a.Hub != nil {
		if a.snapshotHandler != nil {
			a.snapshotHandler.CheckActiveRooms(ctx)
		}
		a.Hub.Shutdown()
	}
	a.bgCancel()

	// 3. 停止调度器和 Worker
	if a.scheduler != nil {
		a.scheduler.Shutdown()
	}
	if a.AsynqServer != nil {
		a.AsynqServer.Shutdown()
	}

	// 4. 关闭 Asynq Client 和 Redis 连接
	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		}
	}
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		} else {
			a.Log.Info("Redis connection closed.")
		}
	}

	// 5. 关闭数据库连接池
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				a.Log.Errorf("Error closing database connection: %v", err)
			}
		}
	}

	a.Log.Info("Application shutdown complete.")
}

// LoggerMiddleware 创建一个 Gin 中间件用于记录请求日志
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			// token 可能出现在查询参数中 (WebSocket)，不写入日志
			path = path + "?" + redactQuery(c.Request.URL.Query())
		}
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        path,
		})
		if userID, ok := c.Get(middleware.ContextUserIDKey); ok {
			entry = entry.WithField("user_id", userID)
		}

		switch {
		case errorMessage != "":
			entry.Error(errorMessage)
		case statusCode >= 500:
			entry.Error("Server error")
		case statusCode >= 400:
			entry.Warn("Client error")
		default:
			entry.Info("Request handled")
		}
	}
}

func redactQuery(q url.Values) string {
	if q.Has("token") {
		q.Set("token", "REDACTED")
	}
	return q.Encode()
}
