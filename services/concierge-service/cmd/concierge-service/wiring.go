package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptconcierge/libs/config"
	"github.com/md-rashed-zaman/apptconcierge/libs/db"
	"github.com/md-rashed-zaman/apptconcierge/libs/grpcx"
	"github.com/md-rashed-zaman/apptconcierge/libs/httpx"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/directory"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/email"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/intent"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/model"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/sms"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

// store is everything the lifecycle, the scheduler and the conversation service read and write.
type store interface {
	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	ListAppointments(ctx context.Context) ([]model.Appointment, error)
	CreateAppointment(ctx context.Context, in model.NewAppointment) (model.Appointment, error)
	UpdateAppointment(ctx context.Context, id string, patch model.AppointmentPatch) (model.Appointment, error)
	GetConversation(ctx context.Context, id string) (model.Conversation, error)
	FindActiveByPhone(ctx context.Context, channel model.Channel, phone string) (model.Conversation, error)
	CreateConversation(ctx context.Context, conv model.Conversation) (model.Conversation, error)
	UpdateConversation(ctx context.Context, id string, patch model.ConversationPatch) (model.Conversation, error)
	AppendMessage(ctx context.Context, msg model.Message) error
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
}

var (
	_ store = (*storage.MemoryStore)(nil)
	_ store = (*storage.PostgresStore)(nil)
)

// openStore picks the driver: STORE_DRIVER wins, otherwise postgres when DATABASE_URL is set.
func openStore(ctx context.Context, logger *slog.Logger) (store, *db.Pool, error) {
	dbURL := strings.TrimSpace(config.String("DATABASE_URL", ""))
	driver := strings.ToLower(strings.TrimSpace(config.String("STORE_DRIVER", "")))
	if driver == "" {
		driver = "memory"
		if dbURL != "" {
			driver = "postgres"
		}
	}

	switch driver {
	case "memory":
		logger.Warn("using in-memory store; data is lost on restart")
		return storage.NewMemoryStore(), nil, nil
	case "postgres":
		if dbURL == "" {
			return nil, nil, fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
		pool, err := db.Open(ctx, dbURL, db.Options{MaxConns: int32(config.Int("DB_MAX_CONNS", 10))})
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		if config.Bool("DB_MIGRATE", true) {
			if err := storage.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
		}
		return storage.NewPostgresStore(pool), pool, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", driver)
	}
}

// newResolver dials the intent service. Without an address every turn degrades to the fallback reply.
func newResolver(logger *slog.Logger) (intent.Resolver, func(), error) {
	addr := strings.TrimSpace(config.String("INTENT_GRPC_ADDR", ""))
	if addr == "" {
		logger.Warn("INTENT_GRPC_ADDR not set; conversations get the fallback reply")
		return intent.Unavailable{}, func() {}, nil
	}
	r, err := intent.NewGRPCResolver(addr, grpcx.DialOptions{
		CallTimeout: config.Duration("INTENT_TIMEOUT", 15*time.Second),
		Logger:      logger,
		SlowCall:    config.Duration("INTENT_SLOW_CALL", 5*time.Second),
	})
	if err != nil {
		return nil, nil, err
	}
	return r, func() { _ = r.Close() }, nil
}

func newEmailSender(logger *slog.Logger) email.Sender {
	host := strings.TrimSpace(config.String("SMTP_HOST", ""))
	if host == "" {
		logger.Info("email notifications disabled (SMTP_HOST not set)")
		return nil
	}
	return email.NewSMTPSender(email.SMTPConfig{
		Host:     host,
		Port:     config.String("SMTP_PORT", "1025"),
		From:     config.String("SMTP_FROM", ""),
		Username: config.String("SMTP_USERNAME", ""),
		Password: config.String("SMTP_PASSWORD", ""),
	})
}

func newSMSSender(logger *slog.Logger) sms.Sender {
	if url := strings.TrimSpace(config.String("SMS_WEBHOOK_URL", "")); url != "" {
		return sms.NewWebhookSender(url, config.String("SMS_WEBHOOK_TOKEN", ""))
	}
	if config.Bool("SMS_NOOP", false) {
		logger.Info("sms notifications use the noop sender")
		return sms.NewNoopSender()
	}
	logger.Info("sms notifications disabled (SMS_WEBHOOK_URL not set)")
	return nil
}

// newSyncer selects the directory sync backend. DIRECTORY_SYNC is kafka, http or none.
func newSyncer(logger *slog.Logger, writer *kafka.Writer) (directory.Syncer, error) {
	mode := strings.ToLower(strings.TrimSpace(config.String("DIRECTORY_SYNC", "none")))
	switch mode {
	case "", "none":
		return nil, nil
	case "kafka":
		if writer == nil {
			return nil, fmt.Errorf("DIRECTORY_SYNC=kafka needs KAFKA_BROKERS")
		}
		logger.Info("directory sync via kafka")
		return directory.NewKafkaSyncer(writer, config.String("DIRECTORY_TOPIC", "")), nil
	case "http":
		s, err := directory.NewHTTPSyncer(
			config.String("DIRECTORY_API_URL", ""),
			config.String("DIRECTORY_API_KEY", ""),
			config.String("DIRECTORY_LIST_ID", ""),
			config.Duration("DIRECTORY_TIMEOUT", 5*time.Second),
		)
		if err != nil {
			return nil, err
		}
		logger.Info("directory sync via http")
		return s, nil
	default:
		return nil, fmt.Errorf("unknown DIRECTORY_SYNC %q", mode)
	}
}

// newWebhookLimiter limits the inbound channel routes, shared across replicas when Redis is configured.
func newWebhookLimiter(logger *slog.Logger, rdb *redis.Client) httpx.Middleware {
	limit := config.Int("RATE_LIMIT_PER_MINUTE", 60)
	failOpen := config.Bool("RATE_LIMIT_FAIL_OPEN", true)
	var limiter httpx.Limiter
	if rdb != nil {
		limiter = httpx.NewRedisLimiter(rdb, limit, time.Minute, config.String("RATE_LIMIT_PREFIX", "concierge:rl"))
		logger.Info("rate limiting enabled (redis)", "per_minute", limit)
	} else {
		limiter = httpx.NewMemoryLimiter(limit, time.Minute)
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limit)
	}
	return httpx.RateLimit(limiter, httpx.ClientIP, logger, failOpen)
}
