package main

// @title MailBin API
// @version 1.0.0
// @description 一次性邮箱后端 API 文档
// @BasePath /
// @schemes http https

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailbin/backend/internal/config"
	"mailbin/backend/internal/domain"
	"mailbin/backend/internal/health"
	"mailbin/backend/internal/logger"
	"mailbin/backend/internal/monitoring"
	"mailbin/backend/internal/pool"
	"mailbin/backend/internal/service"
	"mailbin/backend/internal/smtp"
	"mailbin/backend/internal/storage"
	"mailbin/backend/internal/storage/hybrid"
	"mailbin/backend/internal/storage/memory"
	"mailbin/backend/internal/storage/postgres"
	"mailbin/backend/internal/storage/redis"
	httptransport "mailbin/backend/internal/transport/http"
	"mailbin/backend/internal/websocket"
)

// main 启动同时包含 HTTP API 与 SMTP 收信的综合服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	gin.SetMode(cfg.Server.Mode)

	// 初始化日志系统
	log, err := logger.NewLogger(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("starting mailbin server",
		zap.String("version", "1.0.0"),
		zap.String("log_level", cfg.Log.Level),
		zap.String("storage", cfg.Database.Type),
	)

	// 初始化存储层
	store, cache, err := openStore(cfg, log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize storage: %v", err))
	}
	defer store.Close()

	// 初始化监控与健康检查
	metrics := monitoring.NewMetrics()
	healthChecker := health.NewHealthChecker(store, log)
	if cache != nil {
		healthChecker.AddReadinessCheck("redis", health.RedisPingCheck(cache))
	}

	// 告警：周期评估规则，命中写入日志
	alerts := monitoring.NewAlertManager(log)
	alerts.AddReceiver(monitoring.NewLogAlertReceiver(log))
	alerts.AddRule(monitoring.HighMemoryUsageRule(512))
	alerts.AddRule(monitoring.StorageHealthRule(store))

	// 初始化服务层
	mailboxService := service.NewMailboxService(store, cfg, log)
	mailboxService.SetMetrics(metrics)
	messageService := service.NewMessageService(store, store)
	messageService.SetMetrics(metrics)
	sweeper := service.NewSweeper(store, cfg.Sweep.MessageRetention, log)
	sweeper.SetMetrics(metrics)

	// 创建 WebSocket Hub，来源校验复用 CORS 配置
	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, mailboxService, log)
	wsHub.SetMetrics(metrics)

	// SMTP 落库协程池。用独立的后台 context 启动，
	// 关停时通过 Stop() 排空队列里尚未落库的邮件。
	workers := pool.NewWorkerPool(8, 256, log)
	workers.Start(context.Background())

	// 新邮件通知：单实例直连本地 hub；启用 Redis 后改走发布订阅，
	// 任一实例收到的邮件都能推到所有实例的客户端
	var notifier smtp.Notifier = wsHub
	if cache != nil {
		notifier = &redisNotifier{cache: cache, logger: log}
	}

	// 创建 SMTP 服务器
	limiter := smtp.NewConnectionLimiter(cfg.SMTP.MaxConnections, cfg.SMTP.ConnRate, cfg.SMTP.ConnBurst)
	smtpBackend := smtp.NewBackend(mailboxService, messageService, &cfg.SMTP, workers, notifier, limiter, log)
	smtpBackend.SetMetrics(metrics)
	smtpServer := smtp.NewServer(smtpBackend, &cfg.SMTP)

	// 创建 HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:         cfg,
		MailboxService: mailboxService,
		MessageService: messageService,
		WebSocketHub:   wsHub,
		Metrics:        metrics,
		Health:         healthChecker,
		Logger:         log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// SMTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting SMTP server",
			zap.String("address", cfg.SMTP.BindAddr),
			zap.Strings("domains", cfg.SMTP.Domains),
		)
		if err := smtpServer.ListenAndServe(); err != nil {
			log.Error("SMTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// WebSocket Hub goroutine
	group.Go(func() error {
		log.Info("starting websocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// SMTP 限流器的闲置桶清理 goroutine
	group.Go(func() error {
		limiter.CleanupLoop(groupCtx)
		return nil
	})

	// 告警巡检 goroutine
	group.Go(func() error {
		alerts.StartMonitoring(groupCtx, time.Minute)
		return nil
	})

	// 定时回收清扫 goroutine
	group.Go(func() error {
		ticker := time.NewTicker(cfg.Sweep.Interval)
		defer ticker.Stop()

		log.Info("starting reclamation sweep task",
			zap.Duration("interval", cfg.Sweep.Interval),
			zap.Duration("message_retention", cfg.Sweep.MessageRetention),
		)

		for {
			select {
			case <-groupCtx.Done():
				log.Info("sweep task stopped")
				return nil
			case <-ticker.C:
				sweeper.Run(time.Now().UTC())
			}
		}
	})

	// 统计指标刷新 goroutine：活跃邮箱数与数据库连接池水位
	group.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		statser, hasPool := store.(poolStatser)
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				count, err := store.CountMailboxes()
				if err != nil {
					log.Warn("refreshing mailbox gauge failed", zap.Error(err))
				} else {
					metrics.UpdateMailboxesActive(int(count))
				}
				if hasPool {
					if stat, ok := statser.PoolStats(); ok {
						metrics.UpdateDatabaseConnections(int(stat.TotalConns()))
					}
				}
			}
		}
	})

	// Redis 新邮件订阅桥 goroutine：把其他实例发布的事件转发给本地 hub
	if cache != nil {
		group.Go(func() error {
			sub := cache.SubscribeAllMail()
			defer sub.Close()

			log.Info("starting redis new-mail bridge")
			ch := sub.Channel()
			for {
				select {
				case <-groupCtx.Done():
					log.Info("redis new-mail bridge stopped")
					return nil
				case msg, ok := <-ch:
					if !ok {
						return nil
					}
					address := strings.TrimPrefix(msg.Channel, "new_mail:")
					var m domain.Message
					if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
						log.Warn("discarding malformed new-mail event",
							zap.String("channel", msg.Channel),
							zap.Error(err))
						continue
					}
					wsHub.NotifyNewMail(address, &m)
				}
			}
		})
	}

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// 先停 SMTP，不再有新邮件进入队列
		if err := smtpServer.Close(); err != nil {
			log.Warn("SMTP server close warning", zap.Error(err))
		}

		// 排空已入队的落库任务
		drained := make(chan struct{})
		go func() {
			workers.Stop()
			close(drained)
		}()
		select {
		case <-drained:
		case <-shutdownCtx.Done():
			log.Warn("worker pool drain timed out")
		}

		// 关闭 HTTP 服务器
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	// 等待所有 goroutine 完成
	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// openStore 依据配置选择存储后端。
// 返回的 cache 仅在启用 Redis 时非空，关闭责任归混合存储。
func openStore(cfg *config.Config, log *zap.Logger) (storage.Store, *redis.Cache, error) {
	switch cfg.Database.Type {
	case "memory":
		log.Info("using memory storage")
		return memory.NewStore(), nil, nil
	case "postgres", "mysql":
	default:
		return nil, nil, fmt.Errorf("unsupported storage type %q", cfg.Database.Type)
	}

	var db *postgres.Store
	var err error
	if cfg.Database.Type == "postgres" {
		db, err = postgres.NewStore(&cfg.Database)
	} else {
		db, err = postgres.NewMySQLStore(&cfg.Database)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", cfg.Database.Type, err)
	}

	if !cfg.Redis.Enabled {
		log.Info("using sql storage", zap.String("type", cfg.Database.Type))
		return db, nil, nil
	}

	cache, err := redis.NewCache(&cfg.Redis)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}

	log.Info("using hybrid storage",
		zap.String("type", cfg.Database.Type),
		zap.String("redis", cfg.Redis.Address),
	)
	return hybrid.NewStore(db, cache), cache, nil
}

// poolStatser 由暴露 pgx 连接池统计的存储实现。
type poolStatser interface {
	PoolStats() (*pgxpool.Stat, bool)
}

// redisNotifier 把新邮件事件发布到 Redis 频道。
// 混合存储部署下 SMTP 侧不直连本地 hub，事件经订阅桥
// 回流到每个实例自己的 WebSocket 客户端。
type redisNotifier struct {
	cache  *redis.Cache
	logger *zap.Logger
}

func (n *redisNotifier) NotifyNewMail(address string, message *domain.Message) {
	if err := n.cache.PublishNewMail(address, message); err != nil {
		n.logger.Error("failed to publish new mail event",
			zap.String("address", address),
			zap.Error(err))
	}
}
