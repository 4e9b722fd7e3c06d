package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Daneel-Li/feedback-back/internal/config"
	"github.com/Daneel-Li/feedback-back/internal/dao"
	"github.com/Daneel-Li/feedback-back/internal/handlers"
	"github.com/Daneel-Li/feedback-back/internal/services"
	"github.com/Daneel-Li/feedback-back/pkg/db"
	"github.com/Daneel-Li/feedback-back/pkg/utils"

	mux "github.com/gorilla/mux"
	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

type options struct {
	Config   string `long:"config" env:"FEEDBACK_CONFIG" default:"./config.json" description:"path of the json config file"`
	LogLevel string `long:"log-level" env:"FEEDBACK_LOG_LEVEL" description:"overrides log_level in config (debug|info|warn|error)"`
	Migrate  bool   `long:"migrate" description:"apply pending schema migrations on startup"`
}

func parseOptions() *options {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		log.Fatalf("Failed to parse options: %v", err)
	}
	return &opts
}

func setupLogging(logLevel string) {
	switch strings.ToLower(logLevel) {
	case "debug":
		slog.SetLogLoggerLevel(slog.LevelDebug)
	case "info":
		slog.SetLogLoggerLevel(slog.LevelInfo)
	case "warn":
		slog.SetLogLoggerLevel(slog.LevelWarn)
	case "error":
		slog.SetLogLoggerLevel(slog.LevelError)
	}
}

// initDatabase 初始化数据库连接，按需执行迁移
func initDatabase(cfg *config.Config, migrate bool) *gorm.DB {
	gdb, err := db.OpenMysql(db.MysqlConfig(cfg.Mysql))
	if err != nil {
		log.Fatal("Could not connect to the database: ", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		log.Fatal("Get underlying sql.DB failed: ", err)
	}

	if migrate {
		version, dirty, err := db.RunMigrations(sqlDB)
		if err != nil {
			log.Fatal("Database migration failed: ", err)
		}
		slog.Info("database migrated", "version", version, "dirty", dirty)
	}

	// 连接健康检查
	go func() {
		for {
			time.Sleep(1 * time.Minute)
			if err := sqlDB.Ping(); err != nil {
				slog.Error("Database connection health check failed", "error", err)
			}
		}
	}()
	return gdb
}

// initRatingHistory 未配置 taos 时返回 nil
func initRatingHistory(cfg *config.Config) dao.RatingHistoryRepository {
	if cfg.Taos.Address == "" {
		return nil
	}
	taos, err := db.NewTaos(db.TaosConfig(cfg.Taos))
	if err != nil {
		slog.Error("rating history disabled", "error", err)
		return nil
	}
	history := dao.NewTaosRatingHistory(taos)
	if err := history.EnsureSchema(); err != nil {
		slog.Error("rating history disabled", "error", err)
		return nil
	}
	return history
}

// initNotifier mqtt 和 ws 同时推送，统一走协程池，各自重试
func initNotifier(cfg *config.Config, wsManager *services.WSManager) *services.AsyncNotifier {
	targets := []services.NotificationDispatcher{wsManager}
	if cfg.Mqtt.Broker != "" {
		mq := services.NewMqttNotifier(services.MqttConfig(cfg.Mqtt))
		if err := mq.Start(); err != nil {
			slog.Error("mqtt notifier disabled", "error", err)
		} else {
			targets = append(targets, mq)
		}
	}
	return services.NewAsyncNotifier(cfg.Notify.PoolSize, cfg.Notify.MaxRetries, targets...)
}

// startServer 配置了证书用 HTTPS
func startServer(router *mux.Router, cfg *config.Config) {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%v", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var err error
	if cfg.Tls.CertPath != "" && cfg.Tls.KeyPath != "" {
		slog.Info("Starting HTTPS server: " + server.Addr + "...")
		err = server.ListenAndServeTLS(cfg.Tls.CertPath, cfg.Tls.KeyPath)
	} else {
		slog.Info("Starting HTTP server: " + server.Addr + "...")
		err = server.ListenAndServe()
	}
	if err != nil {
		slog.Error("Failed to start server: " + err.Error())
	}
}

func main() {
	opts := parseOptions()
	if err := config.LoadConfig(opts.Config); err != nil {
		log.Fatal(err)
	}
	cfg := config.GetConfig()

	// 设置日志级别
	if opts.LogLevel != "" {
		cfg.Loglevel = opts.LogLevel
	}
	setupLogging(cfg.Loglevel)
	if len(cfg.JwtKey) == 0 {
		slog.Warn("jwt key not loaded, admin endpoints will reject every token")
	}

	ctx := context.Background()
	gdb := initDatabase(cfg, opts.Migrate)
	repo := dao.NewMysqlRepository(gdb)

	jwt := services.NewJWTService(cfg.JwtKey, cfg.JwtIssuer)
	wsManager := services.NewWsManager(jwt, 10*time.Minute)
	wsManager.Start(ctx)

	aggregator := services.NewRatingAggregator(repo, repo, initRatingHistory(cfg))
	svc := services.NewFeedbackService(repo, services.NewModerationWorkflow(), aggregator, initNotifier(cfg, wsManager))

	limiter := services.NewIPRateLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst)
	limiter.Start(ctx, 5*time.Minute)

	proxies, err := utils.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatal("Invalid trusted_proxies: ", err)
	}
	adminKey := cfg.AdminKey
	if adminKey != "" && adminKey == cfg.APIKey {
		slog.Error("admin_key must differ from api_key, token endpoint disabled")
		adminKey = ""
	}

	router := mux.NewRouter()
	handlers.NewFeedbackHandler(svc, wsManager, jwt, handlers.HandlerConfig{
		APIKey:         cfg.APIKey,
		AdminKey:       adminKey,
		CpBaseURL:      cfg.CpBaseURL,
		TrustedProxies: proxies,
	}).RegisterRoutes(router, limiter)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	startServer(router, cfg)
}
