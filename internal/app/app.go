package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/MrSnakeDoc/directory/internal/cache"
	"github.com/MrSnakeDoc/directory/internal/config"
	"github.com/MrSnakeDoc/directory/internal/connect"
	"github.com/MrSnakeDoc/directory/internal/domain"
	"github.com/MrSnakeDoc/directory/internal/httpserver"
	"github.com/MrSnakeDoc/directory/internal/httpserver/deps"
	"github.com/MrSnakeDoc/directory/internal/logger"
	"github.com/MrSnakeDoc/directory/internal/probe"
	"github.com/MrSnakeDoc/directory/internal/redis"
	"github.com/MrSnakeDoc/directory/internal/registry"
	"github.com/MrSnakeDoc/directory/internal/scheduler"
	"github.com/MrSnakeDoc/directory/internal/store/memory"
	"github.com/MrSnakeDoc/directory/internal/store/postgres"
	redisstore "github.com/MrSnakeDoc/directory/internal/store/redis"
	"github.com/MrSnakeDoc/directory/internal/validator"
	"github.com/MrSnakeDoc/directory/internal/version"
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      *httpserver.Server
	repo        domain.Repository
	closeRepo   func()
	redisClient *goredis.Client
	geo         *validator.GeoIPDatabase
	checkUp     *scheduler.Runner
	checkFull   *scheduler.Runner
	seeder      *scheduler.Seeder
	gc          *scheduler.GarbageCollector // nil when the negative cache lives in Redis
}

func New() *App {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)
	ctx := context.Background()
	retry := func(name, target string, timeout time.Duration) connect.Options {
		return connect.Options{
			Name:          name,
			Target:        target,
			Timeout:       timeout,
			RetryInterval: cfg.ConnectRetryInterval,
			MaxWait:       cfg.ConnectMaxWait,
			PingTimeout:   cfg.ConnectPingTimeout,
			WarnThreshold: cfg.ConnectWarnThreshold,
		}
	}

	a := &App{cfg: cfg, logger: loggerClient, closeRepo: func() {}}

	// Storage - fail fast if unavailable
	switch cfg.Store {
	case config.StorePostgres:
		repo, err := postgres.Open(ctx, postgres.Options{
			URL:      cfg.DatabaseURL,
			MaxConns: int32(cfg.DBMaxConns),
			Retry:    retry("postgres", "", cfg.DBConnectTimeout),
		}, loggerClient)
		if err != nil {
			loggerClient.Errorf("Failed to open database: %v", err)
			os.Exit(1)
		}
		a.repo, a.closeRepo = repo, repo.Close
	default:
		loggerClient.Warn("using the in-memory repository, nothing survives a restart")
		a.repo = memory.NewRepository()
	}

	// Negative lookups, shared through Redis when configured
	var negative cache.NegativeLookups
	if cfg.RedisAddr != "" {
		redisClient, err := redis.New(ctx, redis.ConnectOptions{
			Addr:         cfg.RedisAddr,
			User:         cfg.RedisUser,
			Password:     cfg.RedisPassword,
			RedisDB:      cfg.RedisDB,
			DialTimeout:  cfg.RedisDT,
			ReadTimeout:  cfg.RedisRT,
			WriteTimeout: cfg.RedisWT,
			PoolSize:     cfg.RedisPoolSize,
			Retry:        retry("redis", cfg.RedisAddr, cfg.RedisConnectTimeout),
		}, loggerClient)
		if err != nil {
			loggerClient.Errorf("Failed to connect to Redis: %v", err)
			a.closeRepo()
			os.Exit(1)
		}
		a.redisClient = redisClient
		negative = redisstore.NewNegativeLookups(redisClient, cfg.NegativeTTL, loggerClient)
	} else {
		mem := cache.NewMemoryNegativeLookups(cfg.NegativeTTL)
		a.gc = scheduler.NewGarbageCollector(mem, loggerClient, scheduler.DefaultGCInterval)
		negative = mem
	}

	// Probing
	client := probe.NewClient(probe.Options{Timeout: cfg.RequestTimeout})
	ratingLimit := rate.Inf
	if cfg.ObservatoryRPS > 0 {
		ratingLimit = rate.Limit(cfg.ObservatoryRPS)
	}
	opts := validator.Options{
		Client:   client,
		Resolver: net.DefaultResolver,
		Logger:   loggerClient,
		Rater: validator.NewRater(validator.RaterOptions{
			Endpoint: cfg.ObservatoryURL,
			Client:   client,
			Limiter:  rate.NewLimiter(ratingLimit, 1),
			Logger:   loggerClient,
		}),
	}
	if cfg.GeoIPDatabase != "" {
		geo, err := validator.OpenGeoIP(cfg.GeoIPDatabase)
		if err != nil {
			loggerClient.Warn("geoip database unavailable, every instance is reported as "+domain.UnknownCountry,
				logger.String("path", cfg.GeoIPDatabase),
				logger.Error(err))
		} else {
			a.geo = geo
			opts.Geo = geo
		}
	}
	v := validator.New(opts)

	directory := cache.NewDirectoryCache(a.repo, loggerClient)
	reg := registry.New(registry.Options{
		Repository: a.repo,
		Validator:  v,
		Directory:  directory,
		Negative:   negative,
		Logger:     loggerClient,
	})

	sweeper := scheduler.NewSweeper(scheduler.SweeperOptions{
		Repository:    a.repo,
		Prober:        client,
		Validator:     v,
		Cache:         directory,
		Logger:        loggerClient,
		Workers:       cfg.SweepWorkers,
		Interval:      cfg.CheckUpInterval,
		ChecksToStore: cfg.ChecksToStore,
		MaxFailures:   cfg.MaxFailures,
		RatingGrace:   cfg.RatingGrace,
	})
	a.checkUp = scheduler.NewRunner(scheduler.SweepCheckUp, sweeper.CheckUp, cfg.CheckUpInterval, loggerClient)
	a.checkFull = scheduler.NewRunner(scheduler.SweepCheckFull, sweeper.CheckFull, cfg.CheckFullPeriod, loggerClient)

	if cfg.SeedFile != "" {
		a.seeder = scheduler.NewSeeder(cfg.SeedFile, a.repo, reg, loggerClient, cfg.SweepWorkers)
	}

	// Dependencies passed to routes (extend as needed).
	d := deps.Deps{
		Logger:       loggerClient,
		StartTime:    time.Now(),
		Version:      version.Version,
		Commit:       version.Commit,
		BuildDate:    version.BuildDate,
		GoVersion:    version.GoVersion,
		AllowedHosts: cfg.AllowedHosts,
		AllowedCIDRS: cfg.AllowedCIDRS,
		TrustProxy:   cfg.TrustProxy,
		Registry:     reg,
		Directory:    directory,
		Sweeps: map[string]*scheduler.Runner{
			scheduler.SweepCheckUp:   a.checkUp,
			scheduler.SweepCheckFull: a.checkFull,
		},
		RedisClient:     a.redisClient,
		SubmitBurst:     cfg.SubmitBurst,
		SubmitPerMinute: cfg.SubmitPerMinute,
	}

	a.server = httpserver.New(cfg, loggerClient, d)
	return a
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting directory v%s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Infof("directory %s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.checkUp.Start(ctx)
	a.checkFull.Start(ctx)
	a.logger.Info("sweeps scheduled",
		logger.Duration("check_up_interval", a.cfg.CheckUpInterval),
		logger.Duration("check_full_interval", a.cfg.CheckFullPeriod))

	if a.gc != nil {
		a.gc.Start(ctx)
		a.logger.Info("negative lookup garbage collector started",
			logger.Duration("interval", scheduler.DefaultGCInterval))
	}

	if a.seeder != nil {
		// Validating a long seed list takes minutes, serve meanwhile.
		go func() {
			added, err := a.seeder.Seed(ctx)
			if err != nil {
				a.logger.Error("seeding failed", logger.String("file", a.cfg.SeedFile), logger.Error(err))
				return
			}
			a.logger.Info("seeding done", logger.Int("added", added))
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case runErr = <-errCh:
	}

	a.checkUp.Stop()
	a.checkFull.Stop()
	if a.gc != nil {
		a.gc.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("failed to stop server: %w", err))
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warnf("failed to close redis: %v", err)
		} else {
			a.logger.Info("✅ Redis closed cleanly")
		}
	}
	if a.geo != nil {
		if err := a.geo.Close(); err != nil {
			a.logger.Warnf("failed to close geoip database: %v", err)
		}
	}
	a.closeRepo()

	if runErr == nil {
		a.logger.Info("✅ directory stopped cleanly")
	}
	return runErr
}
