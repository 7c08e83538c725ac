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
	"sync/atomic"
	"syscall"
	"time"

	"judgehub/internal/common/cache"
	"judgehub/internal/common/db"
	commonmw "judgehub/internal/common/http/middleware"
	"judgehub/internal/common/mq"
	"judgehub/internal/common/storage"
	"judgehub/internal/judge/auth"
	"judgehub/internal/judge/broker"
	"judgehub/internal/judge/bus"
	"judgehub/internal/judge/controller"
	"judgehub/internal/judge/model"
	"judgehub/internal/judge/queue"
	"judgehub/internal/judge/repository"
	"judgehub/internal/judge/service"
	"judgehub/internal/judge/session"
	problemrepo "judgehub/internal/problem/repository"
	"judgehub/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/judge_broker.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(cfg, *configPath); err != nil {
		logger.Error(context.Background(), "judge broker stopped", zap.Error(err))
	}
}

// languageTable is the language configuration pushed to daemons.
type languageTable struct {
	v atomic.Pointer[map[string]model.Language]
}

func (t *languageTable) Get() map[string]model.Language {
	return *t.v.Load()
}

func (t *languageTable) Set(langs map[string]model.Language) {
	t.v.Store(&langs)
}

func run(cfg *Config, configPath string) error {
	ctx := context.Background()

	conn, err := db.NewMySQL(cfg.MySQL)
	if err != nil {
		return fmt.Errorf("init database failed: %w", err)
	}

	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		return fmt.Errorf("init redis failed: %w", err)
	}
	defer func() {
		_ = redisCache.Close()
	}()

	objStorage, err := storage.NewMinIOStorage(cfg.MinIO)
	if err != nil {
		return fmt.Errorf("init minio failed: %w", err)
	}

	eventBus, err := bus.New(cfg.Bus.PoolSize)
	if err != nil {
		return fmt.Errorf("init event bus failed: %w", err)
	}
	defer func() {
		if err := eventBus.Close(cfg.Bus.CloseTimeout); err != nil {
			logger.Warn(ctx, "event bus close timed out", zap.Error(err))
		}
	}()

	records := repository.NewMySQLRecordStore(conn, cfg.Store.RecordTimeout)
	files := problemrepo.NewFileStore(objStorage, cfg.MinIO.Bucket, cfg.Problem.FileLimit)
	problems := problemrepo.NewProblemRepositoryWithTTL(conn, redisCache, files, cfg.Problem.CacheTTL, cfg.Problem.EmptyTTL)
	taskQueue, err := queue.NewRedisQueue(redisCache, cfg.Queue)
	if err != nil {
		return fmt.Errorf("init task queue failed: %w", err)
	}
	daemons := repository.NewDaemonRepository(redisCache, cfg.Store.DaemonTTL)

	judgeSvc, err := service.NewService(service.Config{
		Records:  records,
		Queue:    taskQueue,
		Priority: queue.NewPriorityPolicy(redisCache, taskQueue, cfg.Store.RecentWindow),
		Problems: problems,
		Contests: problemrepo.NewContestRepository(conn),
		Domains:  problemrepo.NewDomainRepository(conn),
		Files:    files,
		Bus:      eventBus,
	})
	if err != nil {
		return fmt.Errorf("init judge service failed: %w", err)
	}
	dispatch := broker.New(taskQueue, records, eventBus)

	if cfg.Kafka != nil {
		mqClient, err := mq.NewKafkaQueue(cfg.Kafka.Client)
		if err != nil {
			return fmt.Errorf("init kafka failed: %w", err)
		}
		defer func() {
			_ = mqClient.Close()
		}()
		detach := bus.NewKafkaBridge(mqClient, cfg.Topics).Attach(eventBus)
		defer detach()

		err = mqClient.Subscribe(ctx, cfg.Topics.Rejudge, bus.RejudgeHandler(judgeSvc), &mq.SubscribeOptions{
			ConsumerGroup:   cfg.Kafka.ConsumerGroup,
			Concurrency:     cfg.Kafka.Concurrency,
			MaxRetries:      cfg.Kafka.MaxRetries,
			RetryDelay:      cfg.Kafka.RetryDelay,
			DeadLetterTopic: cfg.Kafka.DeadLetterTopic,
		})
		if err != nil {
			return fmt.Errorf("subscribe rejudge topic failed: %w", err)
		}
		if err := mqClient.Start(); err != nil {
			return fmt.Errorf("start kafka consumer failed: %w", err)
		}
	}

	langs := &languageTable{}
	langs.Set(cfg.Languages)

	sessionCtx, stopSessions := context.WithCancel(ctx)
	defer stopSessions()
	factory := func(id string, judger int64, tr session.Transport) *session.Session {
		return session.New(id, judger, session.Deps{
			Transport:  tr,
			Dispatcher: dispatch,
			Results:    judgeSvc,
			Daemons:    daemons,
			Events:     eventBus,
			Languages:  langs.Get,
		}, cfg.Session)
	}
	connCtl := controller.NewConnController(sessionCtx, dispatch, factory, cfg.WebSocket)
	apiCtl := controller.NewJudgeController(controller.JudgeControllerConfig{
		Records:   records,
		Submitter: judgeSvc,
		Rejudger:  judgeSvc,
		Queue:     taskQueue,
		Daemons:   daemons,
		Sessions:  dispatch,
		Files:     files,
	})
	authenticator := auth.NewAuthenticator(cfg.Auth, redisCache)

	limiter := commonmw.NewRateLimiter(redisCache, 0)

	httpServer := buildHTTPServer(cfg.Server, cfg.HTTP, authenticator, limiter, apiCtl, connCtl)
	listener, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "judge broker started", zap.String("addr", cfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	defer signal.Stop(reload)
	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for running := true; running; {
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error(ctx, "http server stopped", zap.Error(err))
			}
			running = false
		case <-reload:
			reloadLanguages(ctx, configPath, langs, eventBus)
		case <-shutdownCtx.Done():
			logger.Info(ctx, "shutdown signal received")
			running = false
		}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	// Sessions live on hijacked connections that Shutdown does not close.
	stopSessions()
	done := make(chan struct{})
	go func() {
		connCtl.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-timeoutCtx.Done():
		logger.Warn(ctx, "judge sessions did not release their tasks in time")
	}
	return nil
}

// reloadLanguages re-reads the language table and pushes it to every session.
func reloadLanguages(ctx context.Context, path string, langs *languageTable, events *bus.Bus) {
	fresh, err := loadConfig(path)
	if err != nil {
		logger.Error(ctx, "reload config failed", zap.Error(err))
		return
	}
	langs.Set(fresh.Languages)
	events.Broadcast(ctx, bus.Event{Name: bus.EventSystemSetting, Languages: fresh.Languages})
	logger.Info(ctx, "language table reloaded", zap.Int("languages", len(fresh.Languages)))
}

func buildHTTPServer(cfg ServerConfig, httpCfg HTTPConfig, authenticator *auth.Authenticator, limiter *commonmw.RateLimiter, api *controller.JudgeController, conn *controller.ConnController) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContext())
	router.Use(requestLogger())
	router.Use(commonmw.CORS(httpCfg.CORS))

	judge := router.Group("/judge", auth.Require(authenticator, auth.PrivJudge))
	judge.GET("/conn", conn.Connect)
	judge.GET("/code", api.SubmissionFile)

	v1 := router.Group("/api/v1/judge")
	v1.GET("/records/:domain/:id", auth.Require(authenticator, auth.PrivUser), api.GetRecord)
	v1.POST("/records/:domain",
		auth.Require(authenticator, auth.PrivUser),
		commonmw.RateLimit(limiter, "submit", httpCfg.SubmitLimit),
		api.Submit)
	admin := v1.Group("", auth.Require(authenticator, auth.PrivJudge))
	admin.POST("/rejudge/:domain", api.Rejudge)
	admin.GET("/queue", api.QueueLength)
	admin.DELETE("/queue/:domain/:id", api.CancelTask)
	admin.GET("/daemons", api.ListDaemons)
	admin.GET("/sessions", api.ListSessions)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
