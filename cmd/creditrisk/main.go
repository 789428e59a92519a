package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/wyfcoding/creditrisk/internal/creditrisk/application"
	"github.com/wyfcoding/creditrisk/internal/creditrisk/domain"
	"github.com/wyfcoding/creditrisk/internal/creditrisk/infrastructure/messaging"
	"github.com/wyfcoding/creditrisk/internal/creditrisk/infrastructure/persistence/mysql"
	"github.com/wyfcoding/creditrisk/internal/creditrisk/infrastructure/persistence/redis"
	grpc_server "github.com/wyfcoding/creditrisk/internal/creditrisk/interfaces/grpc"
	http_server "github.com/wyfcoding/creditrisk/internal/creditrisk/interfaces/http"
	"github.com/wyfcoding/creditrisk/pkg/cache"
	"github.com/wyfcoding/creditrisk/pkg/config"
	"github.com/wyfcoding/creditrisk/pkg/db"
	"github.com/wyfcoding/creditrisk/pkg/logger"
	"github.com/wyfcoding/creditrisk/pkg/metrics"
	"github.com/wyfcoding/creditrisk/pkg/middleware"
	"github.com/wyfcoding/creditrisk/pkg/mq"
	"github.com/wyfcoding/creditrisk/pkg/ratelimit"
	"github.com/wyfcoding/creditrisk/pkg/utils"
)

const (
	outboxInterval  = 2 * time.Second
	outboxBatchSize = 100
	outboxRetention = 24 * time.Hour
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "configs/creditrisk/config.toml", "path to config file")
	flag.Parse()

	// 1. Config
	cfg, err := config.Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("load config failed: %v", err))
	}

	// 2. Logger
	log, err := logger.Init(logger.Config{
		Service:    cfg.ServiceName,
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	})
	if err != nil {
		panic(fmt.Sprintf("init logger failed: %v", err))
	}

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(cfg.ServiceName)

	// 3. Database (optional)
	var (
		database   *db.DB
		repo       domain.MarketDataRepository
		outbox     *messaging.OutboxEventPublisher
		readyProbe []func(context.Context) error
	)
	if cfg.Database.Driver != "" {
		err := utils.RetryWithBackoff(rootCtx, 5, time.Second, 10*time.Second, func() error {
			var err error
			database, err = db.Init(rootCtx, db.Config{
				Driver:             cfg.Database.Driver,
				DSN:                cfg.Database.DSN,
				MaxOpenConns:       cfg.Database.MaxOpenConns,
				MaxIdleConns:       cfg.Database.MaxIdleConns,
				ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
				LogEnabled:         cfg.Database.LogEnabled,
				SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
			}, log)
			return err
		})
		if err != nil {
			return fmt.Errorf("connect db failed: %w", err)
		}
		defer database.Close()

		if cfg.Database.AutoMigrate {
			if err := mysql.AutoMigrate(database.DB); err != nil {
				return fmt.Errorf("migrate db failed: %w", err)
			}
		}
		repo = mysql.NewMarketDataRepository(database.DB)
		readyProbe = append(readyProbe, database.Ping)
	} else {
		log.Warn("no database configured, default market parameters will be used")
	}

	// 4. Redis: market data cache and distributed rate limiting
	var limiter ratelimit.RateLimiter = ratelimit.NewLocalRateLimiter(10 * time.Minute)
	if cfg.Redis.Enabled {
		rc, err := cache.New(rootCtx, cache.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			MaxPoolSize:  cfg.Redis.MaxPoolSize,
			ConnTimeout:  cfg.Redis.ConnTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		}, log)
		if err != nil {
			return err
		}
		defer rc.Close()

		if repo != nil {
			repo = redis.NewCachedMarketDataRepository(repo, rc, time.Duration(cfg.Redis.MarketDataTTL)*time.Second, m, log)
		}
		limiter = ratelimit.NewRedisRateLimiter(rc.Client())
		readyProbe = append(readyProbe, rc.Ping)
	}

	// 5. Events: outbox when a database is available, otherwise direct to Kafka
	var (
		publisher domain.EventPublisher
		producer  *mq.KafkaProducer
	)
	if cfg.Kafka.Enabled {
		p, err := mq.NewProducer(mq.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			WriteTimeout: cfg.Kafka.WriteTimeout,
		}, log)
		if err != nil {
			return err
		}
		defer p.Close()
		producer = p

		if database != nil {
			outbox = messaging.NewOutboxEventPublisher(database.DB, log)
			if err := outbox.AutoMigrate(); err != nil {
				return fmt.Errorf("migrate outbox failed: %w", err)
			}
			publisher = outbox
		} else {
			publisher = messaging.NewKafkaEventPublisher(producer, cfg.Kafka.Topic, m)
		}
	}

	// 6. Application
	appService := application.NewCreditRiskService(repo, publisher, m, cfg.Simulation, log)

	// 7. Interfaces
	// gRPC
	grpcSrv := grpc.NewServer(
		grpc.MaxConcurrentStreams(uint32(cfg.GRPC.MaxConcurrentStreams)),
		grpc.ChainUnaryInterceptor(
			middleware.GRPCRecoveryInterceptor(),
			middleware.GRPCLoggingInterceptor(),
		),
	)
	grpc_server.NewServer(grpcSrv, appService)
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	healthSrv.SetServingStatus(grpc_server.ServiceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcSrv)

	// HTTP
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(
		middleware.GinRecovery(),
		middleware.GinRequestID(),
		middleware.GinLogging(),
		middleware.GinMetrics(m),
	)

	sys := r.Group("/sys")
	{
		sys.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "UP"}) })
		sys.GET("/ready", func(c *gin.Context) {
			for _, probe := range readyProbe {
				if err := probe(c.Request.Context()); err != nil {
					c.JSON(http.StatusServiceUnavailable, gin.H{"status": "NOT_READY", "error": err.Error()})
					return
				}
			}
			c.JSON(http.StatusOK, gin.H{"status": "READY"})
		})
	}
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(m.Handler()))
	}
	pp := r.Group("/debug/pprof")
	{
		pp.GET("/", gin.WrapF(pprof.Index))
		pp.GET("/cmdline", gin.WrapF(pprof.Cmdline))
		pp.GET("/profile", gin.WrapF(pprof.Profile))
		pp.GET("/symbol", gin.WrapF(pprof.Symbol))
		pp.GET("/trace", gin.WrapF(pprof.Trace))
	}
	http_server.NewCreditRiskHandler(appService).RegisterRoutes(r.Group(""), middleware.RateLimit(limiter, cfg.RateLimit))

	// 8. Start
	g, ctx := errgroup.WithContext(rootCtx)

	grpcAddr := fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)
	g.Go(func() error {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			return err
		}
		log.Info("Starting gRPC server", "addr", grpcAddr)
		return grpcSrv.Serve(lis)
	})

	httpAddr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	server := &http.Server{
		Addr:         httpAddr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}
	g.Go(func() error {
		log.Info("HTTP server starting", "addr", httpAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if outbox != nil && producer != nil {
		g.Go(func() error {
			return outbox.Run(ctx, producer, cfg.Kafka.Topic, outboxInterval, outboxBatchSize)
		})
		g.Go(func() error {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if err := outbox.CleanupProcessedMessages(ctx, time.Now().Add(-outboxRetention)); err != nil {
						log.Warn("outbox cleanup failed", "error", err)
					}
				}
			}
		})
	}

	// 9. Graceful Shutdown
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down servers...")
		healthSrv.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("http server shutdown failed", "error", err)
		}
		grpcSrv.GracefulStop()
		return nil
	})

	return g.Wait()
}
