package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"

	"github.com/dmarcwatch/dmarcwatch/dto"
	cerrors "github.com/dmarcwatch/dmarcwatch/internal/errors"
	"github.com/dmarcwatch/dmarcwatch/internal/logger"
	"github.com/dmarcwatch/dmarcwatch/internal/tracing"
)

// Handler processes one job; returning an error triggers the queue's retry
// policy.
type Handler func(ctx context.Context, job dto.JobDetails) error

// RetryPolicy is fixed per queue. A nil Backoff retries immediately;
// MaxAttempts 1 means no retry at all.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     *backoff.Backoff
}

// QueueSpec binds one queue to its handler, concurrency, and retry shape.
type QueueSpec struct {
	Queue       string
	Concurrency int
	Retry       RetryPolicy
	Handler     Handler
}

// Worker consumes the named queues. Each queue gets its own channel with
// prefetch equal to its concurrency and a fixed pool of goroutines; there is
// no shared mutable state between different job types.
type Worker struct {
	url             string
	logger          logger.Logger
	publisher       *RabbitMQPublisher
	registry        *Registry
	specs           []QueueSpec
	connection      *amqp091.Connection
	connectionMutex sync.Mutex
}

func NewWorker(rabbitmqURL string, log logger.Logger, publisher *RabbitMQPublisher, registry *Registry, specs []QueueSpec) *Worker {
	return &Worker{
		url:       rabbitmqURL,
		logger:    log,
		publisher: publisher,
		registry:  registry,
		specs:     specs,
	}
}

// Start connects and begins consuming every configured queue. Consumers run
// until ctx is done; each queue reconnects independently on channel loss.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.connect(); err != nil {
		return err
	}

	for _, spec := range w.specs {
		if spec.Concurrency < 1 {
			spec.Concurrency = 1
		}
		go w.consumeQueue(ctx, spec)
	}

	return nil
}

func (w *Worker) connect() error {
	w.connectionMutex.Lock()
	defer w.connectionMutex.Unlock()

	var err error
	w.connection, err = amqp091.Dial(w.url)
	if err != nil {
		return errors.Wrap(err, "connect to RabbitMQ")
	}
	return nil
}

func (w *Worker) consumeQueue(ctx context.Context, spec QueueSpec) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		channel, err := w.connection.Channel()
		if err != nil {
			w.logger.Errorf("Failed to open channel for queue %s: %v. Retrying...", spec.Queue, err)
			time.Sleep(5 * time.Second)
			w.reconnect()
			continue
		}

		if err := channel.Qos(spec.Concurrency, 0, false); err != nil {
			w.logger.Errorf("Failed to set prefetch on queue %s: %v", spec.Queue, err)
			channel.Close()
			time.Sleep(5 * time.Second)
			continue
		}

		msgs, err := channel.Consume(
			spec.Queue, // queue
			"",         // consumer tag
			false,      // auto-ack
			false,      // exclusive
			false,      // no-local
			false,      // no-wait
			nil,        // args
		)
		if err != nil {
			w.logger.Errorf("Failed to register consumer on queue %s: %v. Retrying...", spec.Queue, err)
			channel.Close()
			time.Sleep(5 * time.Second)
			continue
		}

		w.logger.Infof("Consuming queue %s with concurrency %d", spec.Queue, spec.Concurrency)

		var wg sync.WaitGroup
		for i := 0; i < spec.Concurrency; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for d := range msgs {
					w.handleDelivery(ctx, spec, d)
				}
			}()
		}
		wg.Wait()
		channel.Close()

		select {
		case <-ctx.Done():
			return
		default:
		}
		w.logger.Warnf("Connection lost for queue %s. Reconnecting...", spec.Queue)
		time.Sleep(5 * time.Second)
		w.reconnect()
	}
}

func (w *Worker) reconnect() {
	w.connectionMutex.Lock()
	closed := w.connection == nil || w.connection.IsClosed()
	w.connectionMutex.Unlock()
	if closed {
		if err := w.connect(); err != nil {
			w.logger.Errorf("Failed to reconnect worker: %v", err)
		}
	}
}

func (w *Worker) handleDelivery(ctx context.Context, spec QueueSpec, d amqp091.Delivery) {
	defer tracing.RecoverAndLog(w.logger)

	var envelope dto.JobEnvelope
	if err := json.Unmarshal(d.Body, &envelope); err != nil {
		w.logger.Errorf("Undecodable message on queue %s: %v", spec.Queue, err)
		w.retryAckNack(d, false) // straight to DLQ
		return
	}

	jobCtx, span := tracing.StartQueueMessageTracerSpanWithHeader(ctx, "Worker.HandleJob", envelope.Metadata.UberTraceID)
	defer span.Finish()
	span.SetTag("queue", spec.Queue)
	span.SetTag("job.id", envelope.Job.ID)
	span.SetTag("job.attempt", envelope.Job.Attempt)

	if w.registry != nil {
		w.registry.MarkActive(spec.Queue, envelope.Job.IdempotencyKey, envelope.Job.ID)
	}

	err := spec.Handler(jobCtx, envelope.Job)
	if err == nil {
		if w.registry != nil {
			w.registry.MarkCompleted(spec.Queue, envelope.Job.IdempotencyKey, envelope.Job.ID)
		}
		w.retryAckNack(d, true)
		return
	}

	tracing.TraceErr(span, err)

	if !isRetryable(err) {
		w.logger.Errorf("Job %s on %s failed permanently: %v", envelope.Job.ID, spec.Queue, err)
		w.finishFailed(spec, envelope, d)
		return
	}

	if envelope.Job.Attempt >= spec.Retry.MaxAttempts {
		w.logger.Errorf("Job %s on %s exhausted %d attempts: %v", envelope.Job.ID, spec.Queue, envelope.Job.Attempt, err)
		w.finishFailed(spec, envelope, d)
		return
	}

	delay := time.Duration(0)
	if spec.Retry.Backoff != nil {
		delay = spec.Retry.Backoff.ForAttempt(float64(envelope.Job.Attempt))
	}
	w.logger.Warnf("Job %s on %s failed (attempt %d/%d), retrying in %v: %v",
		envelope.Job.ID, spec.Queue, envelope.Job.Attempt, spec.Retry.MaxAttempts, delay, err)

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			// requeue so the job survives shutdown
			w.requeueDelivery(d)
			return
		}
	}

	envelope.Job.Attempt++
	if republishErr := w.publisher.PublishEnvelope(jobCtx, envelope); republishErr != nil {
		tracing.TraceErr(span, republishErr)
		w.logger.Errorf("Failed to republish job %s: %v", envelope.Job.ID, republishErr)
		w.finishFailed(spec, envelope, d)
		return
	}
	if w.registry != nil {
		w.registry.MarkWaiting(spec.Queue, envelope.Job.IdempotencyKey, envelope.Job.ID)
	}
	w.retryAckNack(d, true)
}

// finishFailed records the terminal failure and dead-letters the delivery.
func (w *Worker) finishFailed(spec QueueSpec, envelope dto.JobEnvelope, d amqp091.Delivery) {
	if w.registry != nil {
		w.registry.MarkFailed(spec.Queue, envelope.Job.IdempotencyKey, envelope.Job.ID)
	}
	w.retryAckNack(d, false)
}

// isRetryable classifies handler failures. Parse errors and domain
// mismatches are deterministic; retrying them only duplicates noise.
func isRetryable(err error) bool {
	if cerrors.IsParseError(err) {
		return false
	}
	if errors.Is(err, cerrors.ErrDomainMismatch) {
		return false
	}
	if errors.Is(err, cerrors.ErrSyncAlreadyRunning) {
		return false
	}
	return true
}

func (w *Worker) retryAckNack(d amqp091.Delivery, ack bool) {
	maxRetries := 5
	retryDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		var err error
		if ack {
			err = d.Ack(false)
		} else {
			err = d.Nack(false, false)
		}

		if err == nil {
			return
		}

		time.Sleep(retryDelay)
	}

	w.logger.Errorf("Failed to %s message after %d attempts",
		map[bool]string{true: "acknowledge", false: "negative acknowledge"}[ack],
		maxRetries)
}

// requeueDelivery hands the message back to the broker for redelivery. Used
// when shutdown interrupts a retry that still has attempts left; nacking
// without requeue here would dead-letter a job that never exhausted its
// policy.
func (w *Worker) requeueDelivery(d amqp091.Delivery) {
	maxRetries := 5
	retryDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		if err := d.Nack(false, true); err == nil {
			return
		}
		time.Sleep(retryDelay)
	}

	w.logger.Errorf("Failed to requeue message after %d attempts", maxRetries)
}

func (w *Worker) Close() error {
	w.connectionMutex.Lock()
	defer w.connectionMutex.Unlock()

	if w.connection != nil && !w.connection.IsClosed() {
		return w.connection.Close()
	}
	return nil
}
