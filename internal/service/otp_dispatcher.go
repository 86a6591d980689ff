package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/pet-licence-api/internal/models"
	"github.com/noah-isme/pet-licence-api/pkg/jobs"
)

const otpDeliveryJob = "otp.delivery"

// OTPNotifier delivers a generated code to its owner out of band.
type OTPNotifier interface {
	Deliver(ctx context.Context, delivery models.OTPDelivery) error
}

// OTPNotifierFunc adapts a plain function.
type OTPNotifierFunc func(ctx context.Context, delivery models.OTPDelivery) error

// Deliver implements OTPNotifier.
func (f OTPNotifierFunc) Deliver(ctx context.Context, delivery models.OTPDelivery) error {
	return f(ctx, delivery)
}

// LogNotifier writes deliveries to the log. The code itself is only logged when revealCodes is set.
type LogNotifier struct {
	logger      *zap.Logger
	revealCodes bool
}

// NewLogNotifier constructs a log-backed notifier.
func NewLogNotifier(logger *zap.Logger, revealCodes bool) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger, revealCodes: revealCodes}
}

// Deliver implements OTPNotifier.
func (n *LogNotifier) Deliver(_ context.Context, delivery models.OTPDelivery) error {
	fields := []zap.Field{
		zap.String("identity", delivery.Identity),
		zap.Time("expires_at", delivery.ExpiresAt),
	}
	if n.revealCodes {
		fields = append(fields, zap.String("code", delivery.Code))
	}
	n.logger.Info("one-time code issued", fields...)
	return nil
}

// QueueDispatcher hands deliveries to a notifier on a background worker pool with retries.
type QueueDispatcher struct {
	queue    *jobs.Queue
	notifier OTPNotifier
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewQueueDispatcher wires a notifier behind a job queue. Call Start before dispatching.
func NewQueueDispatcher(notifier OTPNotifier, metrics *MetricsService, cfg jobs.QueueConfig) *QueueDispatcher {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	d := &QueueDispatcher{notifier: notifier, metrics: metrics, logger: cfg.Logger}
	d.queue = jobs.NewQueue("otp-dispatch", d.handle, cfg)
	return d
}

// Start launches the workers.
func (d *QueueDispatcher) Start(ctx context.Context) {
	d.queue.Start(ctx)
}

// Stop drains workers.
func (d *QueueDispatcher) Stop() {
	d.queue.Stop()
}

// Stats exposes queue counters.
func (d *QueueDispatcher) Stats() jobs.Stats {
	return d.queue.Stats()
}

// Dispatch enqueues a delivery.
func (d *QueueDispatcher) Dispatch(ctx context.Context, delivery models.OTPDelivery) error {
	return d.queue.Enqueue(ctx, jobs.Job{Type: otpDeliveryJob, Payload: delivery})
}

func (d *QueueDispatcher) handle(ctx context.Context, job jobs.Job) error {
	delivery, ok := job.Payload.(models.OTPDelivery)
	if !ok {
		d.logger.Error("unexpected otp job payload", zap.String("job_id", job.ID), zap.String("type", fmt.Sprintf("%T", job.Payload)))
		return nil
	}
	if delivery.Identity == "" {
		return errors.New("otp delivery without identity")
	}
	err := d.notifier.Deliver(ctx, delivery)
	d.metrics.RecordOTPDispatch(err)
	return err
}
