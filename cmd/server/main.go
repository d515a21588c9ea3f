package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/graderoom/graderoom/config"
	"github.com/graderoom/graderoom/internal/api/handler"
	"github.com/graderoom/graderoom/internal/api/middleware"
	"github.com/graderoom/graderoom/internal/api/router"
	"github.com/graderoom/graderoom/internal/migration"
	"github.com/graderoom/graderoom/internal/notify"
	"github.com/graderoom/graderoom/internal/repository"
	"github.com/graderoom/graderoom/internal/scraper"
	"github.com/graderoom/graderoom/internal/service"
	"github.com/graderoom/graderoom/internal/worker"
	"github.com/graderoom/graderoom/pkg/database"
	"github.com/graderoom/graderoom/pkg/jwt"
	applogger "github.com/graderoom/graderoom/pkg/logger"
	"github.com/graderoom/graderoom/pkg/redis"
)

func main() {
	configPath := flag.String("config", os.Getenv("GRADEROOM_CONFIG"), "配置文件路径")
	flag.Parse()

	// 1. 加载配置（文件变更时热更新日志级别）
	reloads := make(chan *config.Config, 1)
	cfg, err := config.Watch(*configPath, func(next *config.Config) {
		select {
		case reloads <- next:
		default:
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	logger, level, err := applogger.NewLogger(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	go func() {
		for next := range reloads {
			if err := applogger.ApplyLevel(level, next.Log.Level); err != nil {
				logger.Warn("忽略无效的日志级别", zap.Error(err))
				continue
			}
			logger.Info("日志级别已更新", zap.String("log_level", next.Log.Level))
		}
	}()

	logger.Info("应用启动中...",
		zap.Int("port", cfg.Server.Port),
		zap.String("log_level", cfg.Log.Level),
	)

	// 3. 连接数据库
	db, err := database.NewDB(&cfg.Database, logger)
	if err != nil {
		logger.Fatal("数据库连接失败", zap.Error(err))
	}
	logger.Info("数据库连接成功")

	// 3.1 执行表结构迁移
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("获取底层 sql.DB 失败", zap.Error(err))
	}
	if err := database.RunMigrations(sqlDB, logger); err != nil {
		logger.Fatal("数据库迁移失败", zap.Error(err))
	}

	// 3.2 文档迁移：启动时全量扫描，完成后才对外服务
	repo := repository.NewRepository(db)
	migrator := migration.NewMigrator(repo, nil, logger)
	if cfg.Migration.SweepOnStart {
		if _, _, err := migrator.Sweep(context.Background()); err != nil {
			logger.Fatal("文档迁移失败", zap.Error(err))
		}
	}

	// 4. 连接 Redis（可选：连接失败时降级为单实例锁与本地推送）
	var (
		locker  service.Locker
		bus     notify.Bus
		limiter middleware.RateCounter
	)
	rdb, err := redis.NewClient(&cfg.Redis, logger)
	if err != nil {
		logger.Warn("Redis 连接失败，同步锁与事件推送仅在本实例生效", zap.Error(err))
		locker = service.NewLocalLocker()
	} else {
		locker = service.NewRedisLocker(rdb, cfg.Sync.LockTTL)
		bus = rdb
		limiter = rdb
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 5. 事件推送与后台任务
	hub := notify.NewHub(bus, originPatterns(cfg.Server.CORS.AllowOrigins), logger)
	go func() {
		if err := hub.Run(ctx); err != nil {
			logger.Error("事件总线订阅退出", zap.Error(err))
		}
	}()

	pool := worker.NewPool(cfg.Sync.HistoryWorkers, cfg.Sync.HistoryQueueSize, logger)
	pool.Start(ctx)

	// 6. 依赖注入: Repository → Service → Handler
	svc := service.NewService(cfg, repo, service.Dependencies{
		Migrator: migrator,
		Scraper:  scraper.NewExecScraper(cfg.Sync.ScraperCommand, cfg.Sync.ScraperArgs, logger),
		Emitter:  hub,
		Locker:   locker,
		Jobs:     pool,
	}, logger)
	h := handler.NewHandler(svc, migrator, hub, logger)

	// 7. 初始化路由
	jwtMgr := jwt.NewManager(&cfg.Auth)
	engine, err := router.Setup(cfg, h, jwtMgr, limiter, logger)
	if err != nil {
		logger.Fatal("初始化路由失败", zap.Error(err))
	}

	// 8. 启动 HTTP 服务器（WebSocket 长连接不设读写超时）
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("HTTP 服务器已启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP 服务器异常", zap.Error(err))
		}
	}()

	// 9. 监听系统信号，优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("收到关闭信号，开始优雅关闭...", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("服务器关闭异常", zap.Error(err))
	}

	// 等待进行中的同步写完结果，再停止历史回填
	svc.Sync.Wait()
	pool.Stop()
	stop()

	if sqlDB != nil {
		sqlDB.Close()
	}
	if rdb != nil {
		rdb.Close()
	}

	logger.Info("服务器已关闭")
}

// originPatterns CORS 来源转换为 WebSocket 的 host 匹配模式
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimPrefix(strings.TrimPrefix(o, "https://"), "http://")
		patterns = append(patterns, strings.TrimRight(o, "/"))
	}
	return patterns
}
