package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

// Config holds configuration for the asynq worker server.
type Config struct {
	RedisAddr     string
	RedisPassword string
	Concurrency   int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RedisAddr:   "localhost:6379",
		Concurrency: 20,
	}
}

// Delivery is the subset of engine.Deliverer the worker needs, kept as an
// interface here so this package never imports engine directly.
type Delivery interface {
	Deliver(ctx context.Context, guid string) bool
}

// DeliveryHandler processes mail:deliver tasks by invoking the same
// Delivery Engine the synchronous ingress path calls directly.
type DeliveryHandler struct {
	deliverer Delivery
	logger    *slog.Logger
}

// NewDeliveryHandler builds a DeliveryHandler around deliverer.
func NewDeliveryHandler(deliverer Delivery, logger *slog.Logger) *DeliveryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeliveryHandler{deliverer: deliverer, logger: logger}
}

// ProcessTask implements asynq.Handler for TaskMailDeliver.
func (h *DeliveryHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p MailDeliverPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("unmarshalling mail:deliver payload: %w", err)
	}

	sent := h.deliverer.Deliver(ctx, p.Guid)
	h.logger.Info("background delivery finished", "guid", p.Guid, "sent", sent)
	return nil
}

// NewServer creates and configures a new asynq Server.
func NewServer(cfg Config, logger *slog.Logger) *asynq.Server {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConfig().Concurrency
	}

	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueDefault: 1},
		Logger:      newAsynqLogger(logger),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("task processing failed", "task_type", task.Type(), "error", err)
		}),
	})
}

// NewMux creates an asynq ServeMux with the mail:deliver handler registered.
func NewMux(h *DeliveryHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskMailDeliver, h.ProcessTask)
	return mux
}

// asynqLogger adapts slog.Logger to asynq's Logger interface.
type asynqLogger struct {
	logger *slog.Logger
}

func newAsynqLogger(logger *slog.Logger) *asynqLogger {
	return &asynqLogger{logger: logger}
}

func (l *asynqLogger) Debug(args ...interface{}) { l.logger.Debug("asynq", "msg", args) }
func (l *asynqLogger) Info(args ...interface{})  { l.logger.Info("asynq", "msg", args) }
func (l *asynqLogger) Warn(args ...interface{})  { l.logger.Warn("asynq", "msg", args) }
func (l *asynqLogger) Error(args ...interface{}) { l.logger.Error("asynq", "msg", args) }
func (l *asynqLogger) Fatal(args ...interface{}) { l.logger.Error("asynq fatal", "msg", args) }
