package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	alarmapp "frostguard/internal/alarms/application"
	"frostguard/internal/alarms/catalog"
	alarms "frostguard/internal/alarms/domain"
	"frostguard/internal/alarms/evaluator"
	alarmmemory "frostguard/internal/alarms/infrastructure/memory"
	alarmrepo "frostguard/internal/alarms/infrastructure/postgres"
	"frostguard/internal/alarms/infrastructure/rediscache"
	alarmhttp "frostguard/internal/alarms/interfaces/http"
	alarmmqtt "frostguard/internal/alarms/interfaces/mqtt"
	alarmnotify "frostguard/internal/alarms/notify"
	"frostguard/internal/audit"
	"frostguard/internal/auth"
	"frostguard/internal/eventing"
	masterdata "frostguard/internal/masterdata/domain"
	masterdatamemory "frostguard/internal/masterdata/infrastructure/memory"
	masterdatarepo "frostguard/internal/masterdata/infrastructure/postgres"
	"frostguard/internal/observability/logging"
	"frostguard/internal/observability/metrics"
	telemetry "frostguard/internal/telemetry/domain"
	telemetrymemory "frostguard/internal/telemetry/infrastructure/memory"
	telemetrypostgres "frostguard/internal/telemetry/infrastructure/postgres"

	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg := loadConfig()
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, "frostguard-alarm-engine")
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	engineCfg, err := alarmapp.LoadConfig()
	if err != nil {
		logger.Fatal("engine config error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var st stores
	if cfg.DevMode {
		logger.Warn("DEV_MODE enabled: using in-memory stores")
		st = memoryStores()
		metrics.Init(nil, logger)
	} else {
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("db open error", zap.Error(err))
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("db ping error", zap.Error(err))
		}
		st = postgresStores(db, engineCfg)
		metrics.Init(db, logger)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, override cache disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	var overrides catalog.OverrideSource = st.overrides
	if redisClient != nil {
		cache, err := rediscache.NewOverrideCache(redisClient, st.overrides, rediscache.WithTTL(engineCfg.CacheTTL), rediscache.WithLogger(logger))
		if err != nil {
			logger.Fatal("override cache error", zap.Error(err))
		}
		overrides = cache
	}

	cat, err := catalog.New(st.definitions, overrides, st.units, catalog.WithCacheTTL(engineCfg.CacheTTL), catalog.WithLogger(logger))
	if err != nil {
		logger.Fatal("catalog error", zap.Error(err))
	}
	seed, err := catalog.LoadSeed(engineCfg.CatalogFile)
	if err != nil {
		logger.Fatal("catalog seed load error", zap.String("file", engineCfg.CatalogFile), zap.Error(err))
	}
	if err := cat.Seed(ctx, seed); err != nil {
		logger.Error("catalog seed error", zap.Error(err))
	}
	logger.Info("alarm catalog seeded", zap.Int("definitions", len(seed)))

	var mqttClient *alarmmqtt.Client
	if cfg.MQTTBroker != "" {
		mqttClient, err = alarmmqtt.NewClient(alarmmqtt.Config{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
		}, logger)
		if err != nil {
			logger.Fatal("mqtt connect error", zap.Error(err))
		}
		defer mqttClient.Disconnect()
	}

	broker := alarmhttp.NewSSEBroker(cfg.StreamBuffer)
	notifiers := []alarmapp.AlarmNotifier{alarmnotify.NewLogNotifier(logger), broker}
	if mqttClient != nil {
		mqttNotifier, err := alarmnotify.NewMQTTNotifier(mqttClient,
			alarmnotify.WithTopicPrefix(cfg.MQTTAlarmTopicPrefix),
			alarmnotify.WithMQTTLogger(logger))
		if err != nil {
			logger.Fatal("mqtt notifier error", zap.Error(err))
		}
		notifiers = append(notifiers, mqttNotifier)
	}

	lifecycle, err := alarmapp.NewLifecycle(st.events, st.alerts,
		alarmapp.WithNotifier(alarmnotify.NewMultiNotifier(logger, notifiers...)),
		alarmapp.WithLifecycleLogger(logger))
	if err != nil {
		logger.Fatal("lifecycle error", zap.Error(err))
	}

	engineOpts := []alarmapp.EngineOption{
		alarmapp.WithWorkers(engineCfg.Workers),
		alarmapp.WithEvaluationTimeout(engineCfg.EvaluationTimeout),
		alarmapp.WithEngineLogger(logger),
	}
	if engineCfg.RecordReadings {
		engineOpts = append(engineOpts, alarmapp.WithRecorder(st.history))
	}
	engine, err := alarmapp.NewEngine(cat, evaluator.NewDefaultRegistry(engineCfg.Tuning), st.history, st.events, lifecycle, st.logs, engineOpts...)
	if err != nil {
		logger.Fatal("engine error", zap.Error(err))
	}

	if mqttClient != nil {
		var processed eventing.ProcessedStore = eventing.NewMemoryProcessedStore(cfg.DedupTTL)
		if redisClient != nil {
			if store, err := rediscache.NewProcessedStore(redisClient, cfg.DedupTTL); err == nil {
				processed = store
			}
		}
		consumer, err := alarmmqtt.NewConsumer(engine,
			alarmmqtt.WithTopic(cfg.MQTTReadingsTopic),
			alarmmqtt.WithProcessedStore(processed),
			alarmmqtt.WithConsumerLogger(logger))
		if err != nil {
			logger.Fatal("mqtt consumer error", zap.Error(err))
		}
		if err := consumer.Start(mqttClient); err != nil {
			logger.Fatal("mqtt subscribe error", zap.Error(err))
		}
		logger.Info("mqtt consumer started", zap.String("topic", cfg.MQTTReadingsTopic))
	}

	handlerOpts := []alarmhttp.Option{
		alarmhttp.WithLogger(logger),
		alarmhttp.WithUnitChecker(auth.NewUnitChecker(st.units)),
	}
	if st.audit != nil {
		handlerOpts = append(handlerOpts, alarmhttp.WithAuditLogger(st.audit))
	}
	alarmHandler, err := alarmhttp.NewHandler(engine, cat, lifecycle, handlerOpts...)
	if err != nil {
		logger.Fatal("alarm handler error", zap.Error(err))
	}

	mux := http.NewServeMux()
	alarmHandler.Register(mux)
	mux.Handle("/api/v1/alarms/stream", alarmhttp.NewStreamHandler(broker))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	var root http.Handler = mux
	if cfg.JWTSecret != "" {
		authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret),
			auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil),
			auth.WithMiddlewareLogger(logger))
		root = authMiddleware.Wrap(mux)
	} else {
		logger.Warn("AUTH_JWT_SECRET not set: API is unauthenticated")
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(root, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

type stores struct {
	definitions alarms.DefinitionRepository
	overrides   alarms.OverrideRepository
	events      alarms.EventRepository
	alerts      alarms.AlertRepository
	logs        alarms.EvaluationLogWriter
	units       masterdata.UnitRepository
	history     historyStore
	audit       audit.Logger
}

type historyStore interface {
	telemetry.History
	alarmapp.ReadingRecorder
}

func postgresStores(db *sql.DB, engineCfg alarmapp.Config) stores {
	auditRepo := audit.NewRepository(db)
	return stores{
		definitions: alarmrepo.NewDefinitionRepository(db),
		overrides:   alarmrepo.NewOverrideRepository(db, alarmrepo.WithOverrideAudit(auditRepo)),
		events:      alarmrepo.NewEventRepository(db),
		alerts:      alarmrepo.NewAlertRepository(db),
		logs:        audit.NewEvaluationLogRepository(db, audit.WithBatchSize(engineCfg.LogBatchSize)),
		units:       masterdatarepo.NewUnitRepository(db),
		history:     telemetrypostgres.NewHistory(db),
		audit:       auditRepo,
	}
}

func memoryStores() stores {
	return stores{
		definitions: alarmmemory.NewDefinitionStore(),
		overrides:   alarmmemory.NewOverrideStore(),
		events:      alarmmemory.NewEventStore(),
		alerts:      alarmmemory.NewAlertStore(),
		logs:        alarmmemory.NewEvaluationLogStore(),
		units: masterdatamemory.NewUnitRepository(masterdata.Unit{
			ID:          "unit-demo",
			OrgID:       "org-demo",
			SiteID:      "site-demo",
			Name:        "Demo walk-in cooler",
			UnitType:    "walk_in_cooler",
			SensorTypes: []string{"temperature", "door", "humidity"},
		}),
		history: telemetrymemory.NewHistory(),
		audit:   audit.NewMemoryLogger(),
	}
}

type config struct {
	DevMode              bool
	DatabaseURL          string
	HTTPAddr             string
	LogLevel             string
	LogFormat            string
	JWTSecret            string
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	MQTTBroker           string
	MQTTClientID         string
	MQTTUsername         string
	MQTTPassword         string
	MQTTReadingsTopic    string
	MQTTAlarmTopicPrefix string
	DedupTTL             time.Duration
	StreamBuffer         int
}

func loadConfig() config {
	cfg := config{
		DevMode:              getenvBool("DEV_MODE", false),
		DatabaseURL:          getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:             getenvDefault("HTTP_ADDR", ":8080"),
		LogLevel:             getenvDefault("LOG_LEVEL", "info"),
		LogFormat:            getenvDefault("LOG_FORMAT", "json"),
		JWTSecret:            getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		RedisAddr:            getenvDefault("REDIS_ADDR", ""),
		RedisPassword:        getenvDefault("REDIS_PASSWORD", ""),
		RedisDB:              getenvIntDefault("REDIS_DB", 0),
		MQTTBroker:           getenvDefault("MQTT_BROKER", ""),
		MQTTClientID:         getenvDefault("MQTT_CLIENT_ID", "frostguard-alarm-engine"),
		MQTTUsername:         getenvDefault("MQTT_USERNAME", ""),
		MQTTPassword:         getenvDefault("MQTT_PASSWORD", ""),
		MQTTReadingsTopic:    getenvDefault("MQTT_READINGS_TOPIC", alarmmqtt.DefaultReadingsTopic),
		MQTTAlarmTopicPrefix: getenvDefault("MQTT_ALARM_TOPIC_PREFIX", alarmnotify.DefaultTopicPrefix),
		DedupTTL:             getenvDuration("READING_DEDUP_TTL", 24*time.Hour),
		StreamBuffer:         getenvIntDefault("ALARM_STREAM_BUFFER", 32),
	}
	if !cfg.DevMode && cfg.DatabaseURL == "" {
		panic("DATABASE_URL or PG_DSN is required unless DEV_MODE=true")
	}
	if !cfg.DevMode && cfg.JWTSecret == "" {
		panic("AUTH_JWT_SECRET is required unless DEV_MODE=true")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", resp.status),
			zap.Duration("duration", time.Since(start)))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
