package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/turnbook/turnq/libs/config"
	"github.com/turnbook/turnq/libs/db"
	"github.com/turnbook/turnq/libs/httpx"
	"github.com/turnbook/turnq/libs/kafkax"
	otelx "github.com/turnbook/turnq/libs/otel"
	"github.com/turnbook/turnq/libs/runtime"
	"github.com/turnbook/turnq/services/queue-service/internal/booking"
	"github.com/turnbook/turnq/services/queue-service/internal/catalog"
	"github.com/turnbook/turnq/services/queue-service/internal/consumer"
	"github.com/turnbook/turnq/services/queue-service/internal/handlers"
	"github.com/turnbook/turnq/services/queue-service/internal/inbox"
	"github.com/turnbook/turnq/services/queue-service/internal/model"
	"github.com/turnbook/turnq/services/queue-service/internal/outbox"
	"github.com/turnbook/turnq/services/queue-service/internal/queue"
	"github.com/turnbook/turnq/services/queue-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func catalogProvider(logger *slog.Logger) catalog.Provider {
	provider, err := catalog.NewGRPCProvider(config.String("CATALOG_GRPC_ADDR", ""))
	if err != nil {
		logger.Error("catalog grpc init failed; using static catalog", "err", err)
	} else if provider != nil {
		return provider
	}

	var services []catalog.Service
	var shops []catalog.Shop
	if raw := config.String("CATALOG_SERVICES_JSON", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &services); err != nil {
			logger.Error("invalid CATALOG_SERVICES_JSON", "err", err)
		}
	}
	if raw := config.String("CATALOG_SHOPS_JSON", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &shops); err != nil {
			logger.Error("invalid CATALOG_SHOPS_JSON", "err", err)
		}
	}
	return catalog.NewStaticProvider(services, shops)
}

func main() {
	service := config.String("SERVICE_NAME", "queue-service")
	port, err := config.Port("PORT", "8084")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
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

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	var cache *redis.Client
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		cache = redis.NewClient(&redis.Options{Addr: addr})
		defer cache.Close()
	}

	outboxRepo := outbox.NewRepository(pool)
	store := storage.NewAppointmentStore(pool, outboxRepo)
	cat := catalogProvider(logger)
	bookingSvc := booking.New(store, cat, logger, nil)
	queueTTL := config.Seconds("QUEUE_CACHE_TTL_SECONDS", 15*time.Second)
	readModel := queue.NewReadModel(store, cat, cache, queueTTL, logger, nil)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	// Payment captures confirm pending appointments. Already-confirmed and
	// unknown ids are dropped after logging so the partition keeps moving.
	if topic := config.String("KAFKA_PAYMENT_TOPIC", "payments.payment.captured.v1"); topic != "" && config.String("KAFKA_BROKERS", "") != "" {
		inboxRepo := inbox.NewRepository(pool)
		paymentConsumer := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: config.String("KAFKA_BROKERS", ""),
			GroupID: config.String("KAFKA_GROUP_ID", "queue-service"),
			Topic:   topic,
		}, func(ctx context.Context, msg kafka.Message) error {
			var payload struct {
				AppointmentID string `json:"appointment_id"`
			}
			if err := json.Unmarshal(msg.Value, &payload); err != nil || payload.AppointmentID == "" {
				logger.Error("invalid payment event payload", "topic", msg.Topic)
				return nil
			}
			appt, err := bookingSvc.UpdateStatus(ctx, payload.AppointmentID, model.StatusConfirmed)
			if err != nil {
				if errors.Is(err, booking.ErrNotFound) || errors.Is(err, booking.ErrInvalidTransition) {
					logger.Warn("payment event not applicable", "appointment_id", payload.AppointmentID, "err", err)
					return nil
				}
				return err
			}
			readModel.Invalidate(ctx, appt.ShopID, appt.BookingDate)
			return nil
		})
		go paymentConsumer.Run(ctx)
	}

	mux := runtime.NewBaseMux(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	handlers.NewAppointmentHandler(bookingSvc, readModel, logger, nil).Register(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "queue")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
