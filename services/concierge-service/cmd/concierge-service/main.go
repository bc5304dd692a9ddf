package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptconcierge/libs/config"
	"github.com/md-rashed-zaman/apptconcierge/libs/db"
	"github.com/md-rashed-zaman/apptconcierge/libs/httpx"
	"github.com/md-rashed-zaman/apptconcierge/libs/kafkax"
	otelx "github.com/md-rashed-zaman/apptconcierge/libs/otel"
	"github.com/md-rashed-zaman/apptconcierge/libs/runtime"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/consumer"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/conversation"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/directory"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/dispatch"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/handlers"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/inbox"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/lifecycle"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/metrics"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/notify"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/reminders"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/settings"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = config.LoadDotEnv()

	service := config.String("SERVICE_NAME", "concierge-service")
	port, err := config.Port("PORT", "8090")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service, config.String("LOG_LEVEL", "info"))

	ctx, stop := runtime.SignalContext(context.Background())
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	business, err := settings.FromEnv()
	if err != nil {
		logger.Error("invalid business settings", "err", err)
		os.Exit(1)
	}

	var readyChecks []runtime.ReadyCheck

	st, pool, err := openStore(ctx, logger)
	if err != nil {
		logger.Error("store setup failed", "err", err)
		os.Exit(1)
	}
	if pool != nil {
		defer pool.Close()
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
	}

	var rdb *redis.Client
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	brokers := config.String("KAFKA_BROKERS", "")
	var kafkaWriter *kafka.Writer
	if list := kafkax.SplitBrokers(brokers); len(list) > 0 {
		kafkaWriter = directory.NewKafkaWriter(list)
		defer func() { _ = kafkaWriter.Close() }()
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	httpMetrics := httpx.NewHTTPMetrics(reg)

	resolver, closeResolver, err := newResolver(logger)
	if err != nil {
		logger.Error("intent resolver setup failed", "err", err)
		os.Exit(1)
	}
	defer closeResolver()

	syncer, err := newSyncer(logger, kafkaWriter)
	if err != nil {
		logger.Error("directory sync setup failed", "err", err)
		os.Exit(1)
	}
	notifiers := notify.Build(newEmailSender(logger), newSMSSender(logger), syncer)
	dispatcher := dispatch.New(notifiers, dispatch.Options{
		Timeout:      config.Duration("NOTIFIER_TIMEOUT", dispatch.DefaultTimeout),
		BusinessName: business.Name,
		Logger:       logger,
		Metrics:      m,
	})
	background := dispatch.NewBackground(dispatcher, logger, m)

	lc := lifecycle.NewManager(st, st, business, logger)
	conversations := conversation.NewService(st, resolver, lc, background, business, logger)

	var locker reminders.Locker
	if rdb != nil {
		locker = reminders.NewRedisLocker(rdb, config.String("REMINDER_LOCK_KEY", ""))
	}
	scheduler := reminders.NewScheduler(st, dispatcher, locker, logger, m, reminders.Config{
		Interval:    config.Duration("REMINDER_INTERVAL", time.Hour),
		Cooldown:    config.Duration("REMINDER_COOLDOWN", 12*time.Hour),
		LeadDays:    config.Int("REMINDER_LEAD_DAYS", 1),
		Concurrency: config.Int("REMINDER_CONCURRENCY", 4),
		LockTTL:     config.Duration("REMINDER_LOCK_TTL", 10*time.Minute),
		Location:    business.Loc(),
	})
	if config.Bool("REMINDERS_ENABLED", true) {
		scheduler.Start(ctx)
	}

	consumerDone := make(chan struct{})
	if topic := config.String("KAFKA_TRANSCRIPT_TOPIC", ""); topic != "" && kafkaWriter != nil {
		var rec inbox.Recorder = inbox.NewMemory()
		if pool != nil {
			rec = inbox.NewRepository(pool)
		}
		reader := consumer.NewReader(consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", service),
			Topic:   topic,
		})
		transcripts := consumer.New(logger, reader, kafkaWriter, config.String("KAFKA_REPLY_TOPIC", ""), rec, conversations)
		go func() {
			defer close(consumerDone)
			transcripts.Run(ctx)
		}()
		logger.Info("transcript consumer started", "topic", topic)
	} else {
		close(consumerDone)
	}

	mux := runtime.NewBaseMux(readyChecks...)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	handlers.Routes{
		Chat:         handlers.NewChatHandler(conversations, business.Name, logger),
		Appointments: handlers.NewAppointmentHandler(st, lc, background, logger),
		Reminders:    handlers.NewReminderHandler(scheduler, logger),
		Operator:     httpx.RequireBearer(config.String("OPERATOR_JWT_SECRET", ""), "operator", "admin"),
		Webhook:      newWebhookLimiter(logger, rdb),
	}.Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   config.List("CORS_ALLOWED_ORIGINS"),
			AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
			AllowCredentials: config.Bool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           config.Duration("CORS_MAX_AGE", 10*time.Minute),
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpMetrics.Middleware(),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(int64(config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20))),
	)
	handler = otelhttp.NewHandler(handler, "concierge")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Duration("SHUTDOWN_TIMEOUT", 30*time.Second))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Error("reminder scheduler stop error", "err", err)
	}
	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
		logger.Warn("transcript consumer did not stop in time")
	}
	if err := background.Drain(shutdownCtx); err != nil {
		logger.Error("notification drain error", "err", err)
	}
	logger.Info("http server stopped")
}
