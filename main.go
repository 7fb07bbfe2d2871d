// Command threat-enricher runs the IP enrichment engine: the cascade over
// the offline GeoIP databases, the bulk origin-lookup service and the
// reputation API, with its tiered cache, rate limiter, persistent inventory
// and HTTP surface.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"threat-enricher/internal/cache"
	"threat-enricher/internal/common/logging"
	"threat-enricher/internal/config"
	"threat-enricher/internal/enricher"
	"threat-enricher/internal/locks"
	"threat-enricher/internal/ratelimit"
	redisclient "threat-enricher/internal/redis"
	"threat-enricher/internal/secrets"
	"threat-enricher/internal/server"
	"threat-enricher/internal/sources"
	"threat-enricher/internal/storage"

	_ "threat-enricher/internal/storage/postgres"
	_ "threat-enricher/internal/storage/sqlite"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logging.Error("invalid configuration", err)
		os.Exit(1)
	}

	if err := logging.Init(); err != nil {
		logging.Error("failed to initialize logger", err)
		os.Exit(1)
	}
	defer logging.Sync()
	logger := logging.Global()

	store, err := storage.NewStorage(cfg)
	if err != nil {
		logger.Error("failed to initialize storage", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("storage ready", logging.Field{Key: "type", Value: cfg.DatabaseType})

	redisClient := setupRedis(cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	limiter := setupLimiter(cfg, redisClient, logger)
	tiered := setupCache(cfg, redisClient, store, logger)

	offline, origin, reputation, err := setupSources(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize sources", err)
		os.Exit(1)
	}

	eng := enricher.NewEnricher(store, offline, origin, reputation, limiter, tiered, enricher.Config{
		Policy: enricher.Policy{
			MandatorySource: cfg.MandatorySource,
			MaxDatabaseAge:  cfg.GeoIPMaxAge,
			TTLs: map[string]time.Duration{
				sources.SourceOrigin:     cfg.OriginTTL,
				sources.SourceReputation: cfg.ReputationTTL,
			},
		},
		CommitSize: cfg.CommitSize,
	}, logger)

	scheduler := setupScheduler(cfg, store, eng, redisClient, logger)
	if scheduler != nil {
		scheduler.Start()
		defer scheduler.Stop()
	}

	handlers := server.NewHandlers(eng, store, tiered, limiter, logger)
	srv := server.New(cfg.Port, handlers)
	srv.Start()
	logger.Info("server started", logging.Field{Key: "port", Value: cfg.Port})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", err)
	}
}

// setupRedis connects the shared Redis client. Redis is optional; without it
// the fast cache tier is skipped and quotas fall back to process-local.
func setupRedis(cfg *config.Config, logger logging.Logger) *redisclient.Client {
	if cfg.RedisAddress == "" {
		return nil
	}

	client, err := redisclient.NewClient(&redisclient.Config{
		Address:  cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: cfg.RedisPoolSize,
	})
	if err != nil {
		logger.Warn("redis unavailable, continuing without shared tier", logging.Err(err))
		return nil
	}

	logger.Info("redis connected", logging.Field{Key: "address", Value: cfg.RedisAddress})
	return client
}

func setupLimiter(cfg *config.Config, redisClient *redisclient.Client, logger logging.Logger) *ratelimit.Limiter {
	var quota ratelimit.QuotaStore
	if redisClient != nil {
		quota = ratelimit.NewRedisQuota(redisClient)
	} else {
		quota = ratelimit.NewLocalQuota()
		// A process-local quota only limits correctly when this is the sole
		// caller of the upstream source.
		logger.Warn("daily quotas are process-local without redis")
	}

	limiter := ratelimit.NewLimiter(quota, logger)
	if redisClient != nil {
		limiter.UseSharedWindow(ratelimit.NewRedisWindow(redisClient))
	}
	limiter.Register(sources.SourceReputation, ratelimit.SourceConfig{
		RequestsPerSecond: cfg.ReputationRPS,
		DailyQuota:        cfg.ReputationDailyQuota,
		Enabled:           true,
	})
	return limiter
}

func setupCache(cfg *config.Config, redisClient *redisclient.Client, store storage.Storage, logger logging.Logger) *cache.TieredCache {
	tiers := []cache.Tier{
		cache.NewMemoryTier(cache.MemoryConfig{
			MaxSize: cfg.CacheMemorySize,
			MaxTTL:  cfg.CacheMemoryMaxTTL,
		}),
	}
	if redisClient != nil {
		tiers = append(tiers, cache.NewRedisTier(redisClient, logger))
	}
	tiers = append(tiers, cache.NewStoreTier(store, logger))

	return cache.NewTieredCache(cache.Config{
		TTLs: map[string]time.Duration{
			sources.SourceOrigin:     cfg.OriginTTL,
			sources.SourceReputation: cfg.ReputationTTL,
		},
		DefaultTTL: time.Hour,
	}, tiers...)
}

// setupSources builds the three cascade sources. A source whose
// configuration is absent becomes the unavailable stand-in; the cascade
// degrades per source instead of special-casing unconfigured ones.
func setupSources(cfg *config.Config, logger logging.Logger) (offline, origin, reputation sources.Source, err error) {
	offline = sources.NewUnavailable(sources.SourceGeoIP)
	if cfg.GeoIPASNDB != "" {
		geoip, err := sources.NewGeoIPSource(sources.GeoIPConfig{
			CityDBPath: cfg.GeoIPCityDB,
			ASNDBPath:  cfg.GeoIPASNDB,
		}, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		offline = geoip
	} else {
		logger.Warn("geoip databases not configured, offline source disabled")
	}

	origin = sources.NewUnavailable(sources.SourceOrigin)
	if cfg.OriginEndpoint != "" {
		bulk, err := sources.NewOriginSource(sources.OriginConfig{
			Endpoint:  cfg.OriginEndpoint,
			BatchSize: cfg.OriginBatchSize,
			Timeout:   cfg.OriginTimeout,
		}, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		origin = bulk
	}

	reputation, err = sources.NewReputationSource(sources.ReputationConfig{
		Endpoint: cfg.ReputationEndpoint,
		KeyURI:   cfg.ReputationKeyURI,
		Timeout:  cfg.ReputationTimeout,
	}, secrets.NewResolver(), logger)
	if err != nil {
		return nil, nil, nil, err
	}

	return offline, origin, reputation, nil
}

// setupScheduler wires the cron jobs: the durable-cache sweep and, when
// configured, the periodic re-enrichment run. With Redis available the jobs
// are guarded by distributed locks so only one worker runs each cycle.
func setupScheduler(cfg *config.Config, store storage.Storage, eng *enricher.Enricher, redisClient *redisclient.Client, logger logging.Logger) *cron.Cron {
	var lockManager *locks.Manager
	if redisClient != nil {
		lockManager = locks.NewManager(redisClient, logger)
	}

	runExclusive := func(name string, hold time.Duration, job func(context.Context)) func() {
		return func() {
			ctx := context.Background()
			if lockManager == nil {
				job(ctx)
				return
			}
			if err := lockManager.WithLock(ctx, name, hold, job); err != nil {
				logger.Warn("scheduled job lock failed",
					logging.Field{Key: "job", Value: name}, logging.Err(err))
			}
		}
	}

	scheduler := cron.New()

	if cfg.SweepSchedule != "" {
		_, err := scheduler.AddFunc(cfg.SweepSchedule, runExclusive("cache-sweep", time.Minute, func(ctx context.Context) {
			removed, err := store.CacheSweep(time.Now())
			if err != nil {
				logger.Error("cache sweep failed", err)
				return
			}
			logger.Info("cache sweep complete", logging.Field{Key: "removed", Value: removed})
		}))
		if err != nil {
			logger.Error("invalid sweep schedule", err, logging.Field{Key: "schedule", Value: cfg.SweepSchedule})
		}
	}

	if cfg.BatchSchedule != "" {
		_, err := scheduler.AddFunc(cfg.BatchSchedule, runExclusive("batch-enrich", 10*time.Minute, func(ctx context.Context) {
			ips, err := store.ListIPs(cfg.BatchScanSize)
			if err != nil {
				logger.Error("failed to list candidate ips", err)
				return
			}
			if _, err := eng.EnrichBatch(ctx, ips, 0); err != nil {
				logger.Error("scheduled batch run failed", err)
			}
		}))
		if err != nil {
			logger.Error("invalid batch schedule", err, logging.Field{Key: "schedule", Value: cfg.BatchSchedule})
		}
	}

	return scheduler
}
