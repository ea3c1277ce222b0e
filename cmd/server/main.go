package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"renaissance/internal/config"
	"renaissance/internal/handler"
	"renaissance/internal/infrastructure/cache"
	"renaissance/internal/infrastructure/database"
	"renaissance/internal/infrastructure/lock"
	"renaissance/internal/infrastructure/mq"
	"renaissance/internal/job"
	"renaissance/internal/notify"
	"renaissance/internal/service"
	"renaissance/internal/wallet"
	"renaissance/pkg/idgen"

	"github.com/sirupsen/logrus"
)

const transactionHistoryLimit = 50

func setupLogger(cfg *config.LogConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if cfg.JSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

func main() {
	// 加载配置
	cfg := config.LoadConfig("config/config.yaml")
	setupLogger(&cfg.Log)

	// 初始化 ID 生成器
	if err := idgen.Init(1); err != nil {
		logrus.Fatalf("初始化 ID 生成器失败: %v", err)
	}

	db := database.InitDB(&cfg.Database, cfg.Log.SQLLevel)

	// Redis 不可用时退化为只依赖数据库行锁
	var locker service.Locker
	redisClient, err := cache.InitRedis(&cfg.Redis)
	if err != nil {
		logrus.WithError(err).Warn("Redis 不可用，跳过分布式锁")
	} else {
		defer redisClient.Close()
		locker = lock.NewUserLocker(redisClient, time.Duration(cfg.Business.LockTTLSeconds)*time.Second)
	}

	ledger := service.NewLedgerService(db, locker)
	stats := service.NewStatsService(db, &cfg.Business)
	fees := service.NewFeeService(stats)

	notifier := notify.Fanout{notify.NewLogNotifier(logrus.StandardLogger())}

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Kafka.Enabled {
		producer, err := mq.InitKafka(&cfg.Kafka)
		if err != nil {
			logrus.Fatalf("初始化 Kafka 失败: %v", err)
		}
		defer producer.Close()

		notifier = append(notifier, notify.NewOutboxNotifier(db, cfg.Kafka.Topic.WalletNotification))
		outboxSender := job.NewOutboxSender(db, producer, cfg.Business.MaxRetryCount)
		go outboxSender.Start(ctx)
	}

	reconcileJob := job.NewLedgerReconcileJob(db, ledger, time.Duration(cfg.Business.ReconcileIntervalSec)*time.Second)
	go reconcileJob.Start(ctx)

	sessions := handler.NewSessionRegistry(func(ctx context.Context, userID string) (*wallet.Wallet, error) {
		return wallet.Open(ctx, userID, ledger, stats, notifier, wallet.Options{
			StrictCategory: cfg.Business.StrictFeeCategory,
			HistoryLimit:   transactionHistoryLimit,
		})
	})

	// 设置路由
	router := handler.SetupRouter(handler.NewHandler(ledger, stats, fees, sessions), cfg.Auth)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logrus.Infof("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("服务关闭异常: %v", err)
	}

	logrus.Info("服务已关闭")
}
