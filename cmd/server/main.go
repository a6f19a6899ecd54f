// Command server starts the clipfetch HTTP API service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"clipfetch/internal/api"
	"clipfetch/internal/artifact"
	"clipfetch/internal/infocache"
	"clipfetch/internal/media"
	"clipfetch/internal/observability/logging"
	"clipfetch/internal/observability/metrics"
	"clipfetch/internal/server"
	"clipfetch/internal/serverutil"
	"clipfetch/internal/storage"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	dataPath := flag.String("data", "", "path to the JSON download-history datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	cacheDriver := flag.String("cache-driver", "", "info cache driver (memory or redis)")
	cacheTTL := flag.Duration("cache-ttl", 0, "retention window for cached metadata")
	cacheRedisAddr := flag.String("cache-redis-addr", "", "Redis address for the shared info cache")
	cacheRedisUsername := flag.String("cache-redis-username", "", "Redis username for the info cache")
	cacheRedisPassword := flag.String("cache-redis-password", "", "Redis password for the info cache")
	cacheRedisDB := flag.Int("cache-redis-db", 0, "Redis database index for the info cache")
	cacheRedisTimeout := flag.Duration("cache-redis-timeout", 0, "timeout for Redis cache operations")
	outputDir := flag.String("output-dir", "", "directory for completed download artifacts")
	toolPath := flag.String("ytdlp-path", "", "path to the yt-dlp executable")
	formatsFile := flag.String("formats-file", "", "path to a JSON quality/format-selector table")
	probeTimeout := flag.Duration("probe-timeout", 0, "timeout for metadata probes")
	downloadTimeout := flag.Duration("download-timeout", 0, "timeout for single downloads")
	playlistTimeout := flag.Duration("playlist-timeout", 0, "timeout for playlist downloads")
	maxConcurrent := flag.Int("max-concurrent", 0, "maximum concurrent downloads")
	maxOutputBytes := flag.Int64("max-output-bytes", 0, "cap on captured tool output in bytes")
	sweepInterval := flag.Duration("sweep-interval", 0, "interval between orphan sweeps of the output directory")
	sweepMinAge := flag.Duration("sweep-min-age", 0, "minimum age before an orphaned temp file is removed")
	historyRetention := flag.Duration("history-retention", 0, "retention window for download history records (0 keeps forever)")
	apiToken := flag.String("api-token", "", "bearer token required on the API (empty disables auth)")
	corsOrigins := flag.String("cors-origins", "", "comma separated origins allowed to call the API")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log output format (json or text)")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("CLIPFETCH_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("CLIPFETCH_LOG_FORMAT")),
	})
	auditLogger := logging.WithComponent(logger, "audit")
	recorder := metrics.Default()

	serverMode := modeValue(*mode, os.Getenv("CLIPFETCH_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("CLIPFETCH_ADDR"))

	artifactDir := firstNonEmpty(*outputDir, os.Getenv("CLIPFETCH_OUTPUT_DIR"), "downloads")
	if err := os.MkdirAll(artifactDir, 0o755); err != nil {
		logger.Error("failed to create output directory", "dir", artifactDir, "error", err)
		os.Exit(1)
	}

	formats, err := resolveFormatTable(firstNonEmpty(*formatsFile, os.Getenv("CLIPFETCH_FORMATS_FILE")))
	if err != nil {
		logger.Error("failed to load format table", "error", err)
		os.Exit(1)
	}

	resolvedDSN := resolvePostgresDSN(*postgresDSN)
	driver := resolveStorageDriver(*storageDriver, os.Getenv("CLIPFETCH_STORAGE_DRIVER"), resolvedDSN)

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer bootCancel()

	var store storage.Repository
	switch driver {
	case "json":
		dataFile := resolveDataPath(*dataPath, os.Getenv("CLIPFETCH_DATA"))
		store, err = storage.NewJSONRepository(dataFile)
	case "postgres":
		if resolvedDSN == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		store, err = storage.NewPostgresRepository(bootCtx, storage.PostgresConfig{
			DSN:                 resolvedDSN,
			MaxConnections:      int32(resolveInt(*postgresMaxConns, "CLIPFETCH_POSTGRES_MAX_CONNS")),
			MinConnections:      int32(resolveInt(*postgresMinConns, "CLIPFETCH_POSTGRES_MIN_CONNS")),
			MaxConnLifetime:     resolveDuration(*postgresMaxConnLifetime, "CLIPFETCH_POSTGRES_MAX_CONN_LIFETIME", 0),
			MaxConnIdleTime:     resolveDuration(*postgresMaxConnIdle, "CLIPFETCH_POSTGRES_MAX_CONN_IDLE", 0),
			HealthCheckInterval: resolveDuration(*postgresHealthInterval, "CLIPFETCH_POSTGRES_HEALTH_INTERVAL", 0),
			AcquireTimeout:      resolveDuration(*postgresAcquireTimeout, "CLIPFETCH_POSTGRES_ACQUIRE_TIMEOUT", 0),
			ApplicationName:     firstNonEmpty(*postgresAppName, os.Getenv("CLIPFETCH_POSTGRES_APP_NAME")),
		})
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	retention := resolveDuration(*cacheTTL, "CLIPFETCH_CACHE_TTL", infocache.DefaultRetention)
	cacheStore, memStore, err := configureCacheStore(cacheStoreConfig{
		Driver:    firstNonEmpty(*cacheDriver, os.Getenv("CLIPFETCH_CACHE_DRIVER")),
		Retention: retention,
		RedisAddr: firstNonEmpty(*cacheRedisAddr, os.Getenv("CLIPFETCH_CACHE_REDIS_ADDR")),
		RedisUser: firstNonEmpty(*cacheRedisUsername, os.Getenv("CLIPFETCH_CACHE_REDIS_USERNAME")),
		RedisPass: firstNonEmpty(*cacheRedisPassword, os.Getenv("CLIPFETCH_CACHE_REDIS_PASSWORD")),
		RedisDB:   resolveInt(*cacheRedisDB, "CLIPFETCH_CACHE_REDIS_DB"),
		Timeout:   resolveDuration(*cacheRedisTimeout, "CLIPFETCH_CACHE_REDIS_TIMEOUT", 2*time.Second),
	})
	if err != nil {
		logger.Error("failed to configure info cache", "error", err)
		os.Exit(1)
	}
	cache := infocache.New(cacheStore, recorder)

	sweeper := artifact.NewSweeper(logging.WithComponent(logger, "sweeper"), recorder)

	orchestrator := media.NewOrchestrator(media.Config{
		ToolPath:        firstNonEmpty(*toolPath, os.Getenv("CLIPFETCH_YTDLP_PATH")),
		OutputDir:       artifactDir,
		ProbeTimeout:    resolveDuration(*probeTimeout, "CLIPFETCH_PROBE_TIMEOUT", 0),
		DownloadTimeout: resolveDuration(*downloadTimeout, "CLIPFETCH_DOWNLOAD_TIMEOUT", 0),
		PlaylistTimeout: resolveDuration(*playlistTimeout, "CLIPFETCH_PLAYLIST_TIMEOUT", 0),
		MaxOutputBytes:  resolveInt64(*maxOutputBytes, "CLIPFETCH_MAX_OUTPUT_BYTES"),
		MaxConcurrent:   int64(resolveInt(*maxConcurrent, "CLIPFETCH_MAX_CONCURRENT")),
		Formats:         formats,
	}, cache, sweeper, store, recorder, logging.WithComponent(logger, "orchestrator"))

	handler := api.NewHandler(orchestrator, store, cache, artifactDir)

	guard, err := api.NewTokenGuard(firstNonEmpty(*apiToken, os.Getenv("CLIPFETCH_API_TOKEN")))
	if err != nil {
		logger.Error("failed to configure api token", "error", err)
		os.Exit(1)
	}

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("CLIPFETCH_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("CLIPFETCH_TLS_KEY")),
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:   resolveFloat(*globalRPS, "CLIPFETCH_RATE_GLOBAL_RPS"),
			GlobalBurst: resolveInt(*globalBurst, "CLIPFETCH_RATE_GLOBAL_BURST"),
		},
		CORS: server.CORSConfig{
			AllowedOrigins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("CLIPFETCH_CORS_ORIGINS"))),
		},
		Guard:       guard,
		FilesDir:    artifactDir,
		Logger:      logger,
		AuditLogger: auditLogger,
		Metrics:     recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workerCfg := sweepWorkerConfig{
		Dir:       artifactDir,
		MinAge:    resolveDuration(*sweepMinAge, "CLIPFETCH_SWEEP_MIN_AGE", time.Hour),
		Retention: resolveDuration(*historyRetention, "CLIPFETCH_HISTORY_RETENTION", 0),
		Sweeper:   sweeper,
	}
	if memStore != nil {
		workerCfg.Cache = memStore
	}
	if pruner, ok := store.(historyPruner); ok {
		workerCfg.History = pruner
	}
	sweepStop := startSweepWorker(ctx, logging.WithComponent(logger, "sweep-worker"), workerCfg,
		resolveDuration(*sweepInterval, "CLIPFETCH_SWEEP_INTERVAL", 15*time.Minute))
	defer sweepStop()

	logger.Info("clipfetch API listening", "addr", listenAddr, "mode", serverMode)
	logger.Info("metrics endpoint available", "path", "/metrics")
	if guard.Enabled() {
		logger.Info("api token auth enabled")
	}

	runErr := serverutil.Run(ctx, srv, serverutil.Config{ShutdownTimeout: 10 * time.Second})

	sweepStop()
	sweeper.Close()

	if err := store.Close(); err != nil {
		logger.Warn("failed to close datastore", "error", err)
	}
	if closer, ok := cacheStore.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("failed to close cache store", "error", err)
		}
	}

	if runErr != nil {
		logger.Error("server error", "error", runErr)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

type cacheStoreConfig struct {
	Driver    string
	Retention time.Duration
	RedisAddr string
	RedisUser string
	RedisPass string
	RedisDB   int
	Timeout   time.Duration
}

// configureCacheStore returns the cache backend plus the memory store when
// one is in use; the sweep worker purges the memory store periodically while
// Redis expires entries on its own.
func configureCacheStore(cfg cacheStoreConfig) (infocache.Store, *infocache.MemoryStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, nil, fmt.Errorf("redis addr is required for the info cache")
		}
		store, err := infocache.NewRedisStore(infocache.RedisConfig{
			Addr:         cfg.RedisAddr,
			Username:     cfg.RedisUser,
			Password:     cfg.RedisPass,
			DB:           cfg.RedisDB,
			DialTimeout:  cfg.Timeout,
			ReadTimeout:  cfg.Timeout,
			WriteTimeout: cfg.Timeout,
			Retention:    cfg.Retention,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case "", "memory":
		store := infocache.NewMemoryStore(cfg.Retention)
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("unsupported cache driver %q", cfg.Driver)
	}
}

func resolveFormatTable(path string) (media.FormatTable, error) {
	if strings.TrimSpace(path) == "" {
		return media.DefaultFormatTable(), nil
	}
	return media.LoadFormatTable(path)
}

func resolveStorageDriver(flagValue, envValue, postgresDSN string) string {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres"
	}
	return "json"
}

func resolvePostgresDSN(flagValue string) string {
	return strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv("CLIPFETCH_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
}

func resolveDataPath(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(envValue); env != "" {
		return env
	}
	return "data/downloads.json"
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		listenAddr = defaultListenForMode(mode)
	}
	return listenAddr
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func defaultListenForMode(mode string) string {
	if mode == "production" {
		return ":80"
	}
	return ":8080"
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt64(flagValue int64, envKey string) int64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseInt(strings.TrimSpace(env), 10, 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}
