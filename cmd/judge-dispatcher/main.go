package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"judgehub/internal/common/cache"
	"judgehub/internal/common/db"
	commonmw "judgehub/internal/common/http/middleware"
	"judgehub/internal/common/metrics"
	"judgehub/internal/common/mq"
	"judgehub/internal/common/storage"
	"judgehub/internal/judge/controller"
	"judgehub/internal/judge/repository"
	"judgehub/internal/judge/service"
	"judgehub/pkg/utils/logger"
	"judgehub/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/judge_dispatcher.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	var store repository.RecordStore
	switch appCfg.RecordStore.Driver {
	case recordStoreMySQL:
		mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
		if err != nil {
			logger.Error(context.Background(), "init database failed", zap.Error(err))
			return
		}
		defer func() {
			_ = mysqlDB.Close()
		}()
		mysqlStore := repository.NewMySQLRecordStore(mysqlDB, redisCache)
		if err := mysqlStore.EnsureSchema(context.Background()); err != nil {
			logger.Error(context.Background(), "ensure record schema failed", zap.Error(err))
			return
		}
		store = mysqlStore
	default:
		store = repository.NewRedisRecordStore(redisCache)
	}

	var objStorage storage.ObjectStorage
	if appCfg.MinIO.Endpoint != "" {
		minioStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			logger.Error(context.Background(), "init minio failed", zap.Error(err))
			return
		}
		objStorage = minioStorage
	}

	buses := repository.FanoutEventBus{repository.NewLocalEventBus()}
	var mqClient *mq.KafkaQueue
	if appCfg.Kafka.enabled() {
		mqClient, err = mq.NewKafkaQueue(appCfg.Kafka.toMQConfig())
		if err != nil {
			logger.Error(context.Background(), "init kafka failed", zap.Error(err))
			return
		}
		defer func() {
			_ = mqClient.Close()
		}()
		buses = append(buses, repository.NewMQEventBus(mqClient, appCfg.Kafka.EventTopic))
	}

	aggregates := repository.NewRedisAggregateStore(redisCache)
	propagator := service.NewPostJudgePropagator(aggregates, aggregates, aggregates.Contests(), appCfg.Propagation.toRetryPolicy())
	backlog := repository.NewRedisPropagationBacklog(redisCache)
	merge, err := service.NewMergeEngine(service.MergeConfig{
		Store:      store,
		Bus:        buses,
		Propagator: propagator,
		Backlog:    backlog,
	})
	if err != nil {
		logger.Error(context.Background(), "init merge engine failed", zap.Error(err))
		return
	}
	sweeper, err := service.NewPropagationSweeper(service.SweeperConfig{
		Store:      store,
		Backlog:    backlog,
		Propagator: propagator,
		Interval:   appCfg.Propagation.SweepInterval,
		Batch:      appCfg.Propagation.SweepBatch,
	})
	if err != nil {
		logger.Error(context.Background(), "init propagation sweeper failed", zap.Error(err))
		return
	}
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go sweeper.Run(sweepCtx)

	queue := repository.NewRedisTaskQueue(redisCache)
	dispatcher, err := service.NewDispatcher(service.DispatcherConfig{
		Queue:          queue,
		Store:          store,
		Merge:          merge,
		TaskType:       appCfg.Dispatch.TaskType,
		ClaimInterval:  appCfg.Dispatch.ClaimInterval,
		CleanupTimeout: appCfg.Dispatch.CleanupTimeout,
	})
	if err != nil {
		logger.Error(context.Background(), "init dispatcher failed", zap.Error(err))
		return
	}
	intake := service.NewTaskIntake(queue, store)
	revocations := repository.NewTokenRevocations(redisCache, appCfg.Auth.RevocationTimeout)
	auth := service.NewAuthService(appCfg.Auth.Secret, appCfg.Auth.Issuer, revocations)

	if mqClient != nil {
		if err := intake.Subscribe(context.Background(), mqClient, appCfg.Kafka.TaskTopic, appCfg.Kafka.ConsumerGroup); err != nil {
			logger.Error(context.Background(), "subscribe task topic failed", zap.Error(err))
			return
		}
		defer func() {
			_ = mqClient.Stop()
		}()
	}

	httpServer := buildHTTPServer(appCfg, routeDeps{
		auth:       auth,
		dispatcher: dispatcher,
		intake:     intake,
		store:      store,
		standings:  aggregates.Contests(),
		storage:    objStorage,
		limiter:    repository.NewRedisRateLimiter(redisCache, appCfg.RateLimit.Timeout),
	})
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "judge dispatcher started",
			zap.String("addr", appCfg.Server.Addr),
			zap.String("record_store", appCfg.RecordStore.Driver),
			zap.Bool("kafka", mqClient != nil),
		)
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
}

type routeDeps struct {
	auth       *service.AuthService
	dispatcher *service.Dispatcher
	intake     *service.TaskIntake
	store      repository.RecordStore
	standings  *repository.ContestStandingStore
	storage    storage.ObjectStorage
	limiter    commonmw.Limiter
}

func buildHTTPServer(cfg *AppConfig, deps routeDeps) *http.Server {
	return &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      buildRouter(cfg, deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func buildRouter(cfg *AppConfig, deps routeDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.CORSMiddleware(cfg.Server.CORS))
	router.Use(commonmw.RequestLogger())
	router.Use(metrics.GinMiddleware())

	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		response.Success(c, gin.H{"sessions": len(deps.dispatcher.Sessions())})
	})

	judge := router.Group("/judge", controller.JudgeAuthMiddleware(deps.auth, service.RoleJudge))
	conn := controller.NewConnController(deps.dispatcher, cfg.Dispatch.toConnConfig())
	judge.GET("/conn", commonmw.RateLimitMiddleware(deps.limiter, "conn", cfg.RateLimit.Conn), conn.Serve)
	if deps.storage != nil {
		files := controller.NewFilesController(deps.storage, cfg.filesConfig())
		judge.POST("/files", files.Download)
	}

	ops := router.Group("/judge", controller.JudgeAuthMiddleware(deps.auth, service.RoleJudge, service.RoleAdmin))
	records := controller.NewRecordController(deps.store, deps.intake, deps.standings)
	tasks := controller.NewTaskController(deps.intake, deps.dispatcher)
	ops.GET("/records/:domain/:rid", records.Get)
	ops.POST("/records/:domain/:rid/rejudge", commonmw.RateLimitMiddleware(deps.limiter, "rejudge", cfg.RateLimit.Tasks), records.Rejudge)
	ops.GET("/contests/:domain/:tid/standing", records.Standing)
	ops.POST("/tasks", commonmw.RateLimitMiddleware(deps.limiter, "tasks", cfg.RateLimit.Tasks), tasks.Enqueue)
	ops.GET("/queue", tasks.Queue)
	ops.GET("/sessions", tasks.Sessions)

	return router
}
