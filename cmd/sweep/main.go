package main

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"mailbin/backend/internal/config"
	"mailbin/backend/internal/logger"
	"mailbin/backend/internal/service"
	"mailbin/backend/internal/storage/postgres"
)

// main 执行一轮回收清扫后退出，供外部 cron 调度。
// 一轮之内单遍失败只记日志，进程仍以 0 退出；
// 非零退出只发生在配置或存储打开失败时。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := logger.NewLogger(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	// 外部清扫只对共享数据库有意义，内存存储随进程消亡
	var db *postgres.Store
	switch cfg.Database.Type {
	case "postgres":
		db, err = postgres.NewStore(&cfg.Database)
	case "mysql":
		db, err = postgres.NewMySQLStore(&cfg.Database)
	default:
		log.Fatal("sweep requires a sql storage backend",
			zap.String("type", cfg.Database.Type))
	}
	if err != nil {
		log.Fatal("failed to open storage", zap.Error(err))
	}
	defer db.Close()

	sweeper := service.NewSweeper(db, cfg.Sweep.MessageRetention, log)
	sweeper.Run(time.Now().UTC())
}
