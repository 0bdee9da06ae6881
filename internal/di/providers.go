package di

import (
	"context"
	"fmt"
	"time"

	"TickPilot/internal/domain/repository"
	"TickPilot/internal/handler/api"
	internalrepo "TickPilot/internal/repository"
	"TickPilot/internal/service/ratelimit"
	"TickPilot/internal/service/venue"
	"TickPilot/internal/services/analytics"
	"TickPilot/internal/services/features"
	"TickPilot/internal/usecase"
	"TickPilot/pkg/cache"
	pkgch "TickPilot/pkg/clickhouse"
	"TickPilot/pkg/config"
	xhttp "TickPilot/pkg/http"
	httpmw "TickPilot/pkg/http/middleware"
	pkgkafka "TickPilot/pkg/kafka"
	"TickPilot/pkg/logger"
	"TickPilot/pkg/metrics"
	"TickPilot/pkg/queue"
	"TickPilot/pkg/server"
)

// ProvideLogger builds the application logger from the log section.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(logger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideCache connects to Redis, or falls back to an in-process store when
// Redis is disabled. The in-process store does not survive restarts.
func ProvideCache(cfg *config.Config, l *logger.Logger) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		l.Warn("redis disabled, account state is kept in memory")
		return cache.NewMemoryCache(), nil
	}
	c, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	l.Info("redis connected", logger.String("host", cfg.Redis.Host), logger.Int("port", cfg.Redis.Port))
	return c, nil
}

func ProvideAccountStore(c cache.Service) repository.AccountStore {
	return internalrepo.NewRedisAccountStore(c, 0)
}

func ProvideOrderStore(c cache.Service) repository.OrderStore {
	return internalrepo.NewRedisOrderStore(c)
}

// ProvideTokenRegistry reads enabled accounts from the cache with the
// configured tokens as fallback.
func ProvideTokenRegistry(cfg *config.Config, c cache.Service, l *logger.Logger) repository.TokenRegistry {
	return internalrepo.NewTokenRegistry(c, cfg.Accounts.RegistryPrefix, cfg.Accounts.Tokens, l)
}

// ProvideEventPublisher creates the Kafka trade event publisher, or a no-op
// one when no brokers are configured.
func ProvideEventPublisher(cfg *config.Config, l *logger.Logger) (repository.EventPublisher, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		l.Info("kafka not configured, trade events are dropped")
		return internalrepo.NoopPublisher{}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithTopic(cfg.Kafka.Topic),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithAsyncErrorHandler(func(n int, err error) {
			l.Warn("trade events dropped", logger.Int("count", n), logger.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	l.Info("kafka producer ready", logger.Strings("brokers", cfg.Kafka.Brokers), logger.String("topic", cfg.Kafka.Topic))
	return internalrepo.NewKafkaEventPublisher(producer), nil
}

// ProvideJournal connects to ClickHouse and ensures the settlements table,
// or returns a no-op journal when no host is configured. Writes go through
// the settlement queue.
func ProvideJournal(cfg *config.Config, c cache.Service, l *logger.Logger) (repository.Journal, error) {
	if cfg.ClickHouse.Host == "" {
		l.Info("clickhouse not configured, settlement journal disabled")
		return internalrepo.NoopJournal{}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.SettlementSchema(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	l.Info("clickhouse ready", logger.String("database", cfg.ClickHouse.Database))

	j, err := internalrepo.NewQueuedJournal(provideQueue(cfg, c, l), internalrepo.NewClickHouseJournal(client))
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return j, nil
}

// provideQueue uses Redis when the cache is Redis-backed so queued
// settlements survive restarts.
func provideQueue(cfg *config.Config, c cache.Service, l *logger.Logger) queue.Queue {
	qc := queue.QueueConfig{
		Workers:    cfg.Queue.Workers,
		QueueSize:  cfg.Queue.Size,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
	}
	ql := l.With(logger.String("component", "queue"))
	if rc, ok := c.(*cache.RedisCache); ok {
		return queue.NewRedisQueue(ql, qc, rc.Client(), queue.WithKeyPrefix(cfg.Queue.Prefix))
	}
	return queue.NewMemoryQueue(ql, qc)
}

// ProvideVenueDialer creates the websocket dialer for the venue endpoint.
func ProvideVenueDialer(cfg *config.Config, l *logger.Logger) (repository.VenueDialer, error) {
	d, err := venue.NewDialer(cfg.Venue.URL, cfg.Venue.AppID,
		venue.WithDialTimeout(cfg.Venue.DialTimeout),
		venue.WithWriteTimeout(cfg.Venue.WriteTimeout),
		venue.WithLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("venue dialer: %w", err)
	}
	return d, nil
}

// ProvideSessionFactory builds sessions that each own a strategy and an
// executor.
func ProvideSessionFactory(
	cfg *config.Config,
	accounts repository.AccountStore,
	orders repository.OrderStore,
	events repository.EventPublisher,
	journal repository.Journal,
	m repository.Metrics,
	l *logger.Logger,
) usecase.SessionFactory {
	warn := ratelimit.New(5, 0.2)
	return func(token string) (*usecase.Session, error) {
		strategy, err := analytics.NewStrategy(cfg.Profile, features.Talib{})
		if err != nil {
			return nil, err
		}
		sl := l.With(logger.String("token", usecase.MaskToken(token)))
		exec := usecase.NewExecutor(cfg.Trading, cfg.Profile.Name, accounts, orders,
			usecase.WithEvents(events),
			usecase.WithJournal(journal),
			usecase.WithMetrics(m),
			usecase.WithLogger(sl),
		)
		return usecase.NewSession(usecase.SessionConfig{
			Token:         token,
			Symbol:        cfg.Trading.Symbol,
			CycleInterval: cfg.Trading.CycleInterval,
			PingInterval:  cfg.Venue.PingInterval,
			Retention:     cfg.Profile.Retention,
			MaxTicks:      cfg.Profile.MaxTicks,
		}, strategy, exec,
			usecase.WithSessionEvents(events),
			usecase.WithSessionMetrics(m),
			usecase.WithSessionLogger(l),
			usecase.WithWarnLimiter(warn),
		), nil
	}
}

func ProvideSupervisor(
	cfg *config.Config,
	dialer repository.VenueDialer,
	registry repository.TokenRegistry,
	factory usecase.SessionFactory,
	m repository.Metrics,
	l *logger.Logger,
) *usecase.Supervisor {
	return usecase.NewSupervisor(dialer, registry, factory,
		usecase.WithReconnectDelay(cfg.Venue.ReconnectDelay),
		usecase.WithSupervisorMetrics(m),
		usecase.WithSupervisorLogger(l),
	)
}

func ProvideStatusHandler(cfg *config.Config, sup *usecase.Supervisor, accounts repository.AccountStore, c cache.Service, l *logger.Logger) *api.StatusHandler {
	h := api.NewStatusHandler(l, sup, accounts, cfg.Location())
	h.AddCheck("cache", c.Ping)
	if cfg.Server.AuthSecret != "" {
		h.RequireAuth(httpmw.BearerJWT([]byte(cfg.Server.AuthSecret)))
	}
	return h
}

func ProvideHTTPServer(cfg *config.Config, h *api.StatusHandler, l *logger.Logger) *xhttp.Server {
	path := ""
	if cfg.Metrics.Enabled {
		path = cfg.Metrics.Path
	}
	return xhttp.NewServer(h,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(path),
		xhttp.WithLogger(l),
	)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	sup *usecase.Supervisor,
	srv *xhttp.Server,
	c cache.Service,
	events repository.EventPublisher,
	journal repository.Journal,
	l *logger.Logger,
) *server.App {
	return server.New(cfg, sup, srv, l, c, events, journal)
}
