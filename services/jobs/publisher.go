package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"

	"github.com/dmarcwatch/dmarcwatch/dto"
	"github.com/dmarcwatch/dmarcwatch/interfaces"
	"github.com/dmarcwatch/dmarcwatch/internal/logger"
	"github.com/dmarcwatch/dmarcwatch/internal/tracing"
	"github.com/dmarcwatch/dmarcwatch/internal/utils"
)

const (
	ExchangeJobs       = "dmarcwatch-jobs"
	ExchangeDeadLetter = "dead-letter"

	RoutingKeyDeadLetter = "dead-letter"

	// after TTL an unconsumed message moves to its DLQ
	DefaultMessageTTL          = 240 * time.Hour
	DefaultMaxPublishRetries   = 3
	DefaultPublishTimeout      = 5 * time.Second
	DefaultReconnectBackoff    = time.Second
	DefaultMaxReconnectBackoff = 30 * time.Second
)

// AllQueues is the fixed queue topology; each gets a DLQ bound to the
// dead-letter exchange.
var AllQueues = []string{
	interfaces.QueueMailboxSync,
	interfaces.QueueGeoEnrichment,
	interfaces.QueueWebhookDelivery,
	interfaces.QueueAlertEvaluation,
	interfaces.QueueCleanup,
}

func DLQName(queue string) string {
	return queue + "-dlq"
}

type PublisherConfig struct {
	MessageTTL          time.Duration
	MaxRetries          int
	PublishTimeout      time.Duration
	ReconnectBackoff    time.Duration
	MaxReconnectBackoff time.Duration
}

// RabbitMQPublisher is the durable job enqueuer. One publish channel with
// confirms, serialized by a mutex; reconnection runs in the background with
// exponential backoff.
type RabbitMQPublisher struct {
	connection      *amqp091.Connection
	connectionMutex sync.Mutex
	publishChannel  *amqp091.Channel
	publishMutex    sync.Mutex
	url             string
	logger          logger.Logger
	confirms        chan amqp091.Confirmation
	config          PublisherConfig
	registry        *Registry
}

func NewRabbitMQPublisher(rabbitmqURL string, log logger.Logger, registry *Registry, config *PublisherConfig) (*RabbitMQPublisher, error) {
	if config == nil {
		config = &PublisherConfig{
			MessageTTL:          DefaultMessageTTL,
			MaxRetries:          DefaultMaxPublishRetries,
			PublishTimeout:      DefaultPublishTimeout,
			ReconnectBackoff:    DefaultReconnectBackoff,
			MaxReconnectBackoff: DefaultMaxReconnectBackoff,
		}
	}

	publisher := &RabbitMQPublisher{
		url:      rabbitmqURL,
		logger:   log,
		config:   *config,
		registry: registry,
	}

	if err := publisher.connect(); err != nil {
		return nil, err
	}

	return publisher, nil
}

// Enqueue publishes one job to the named queue and records it waiting in the
// registry under its idempotency key.
func (r *RabbitMQPublisher) Enqueue(ctx context.Context, queue string, idempotencyKey string, payload interface{}) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RabbitMQPublisher.Enqueue")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("queue", queue)
	span.SetTag("job.key", idempotencyKey)

	body, err := json.Marshal(payload)
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "marshal job payload")
	}

	tracingData := tracing.ExtractTextMapCarrier(span.Context())
	envelope := dto.JobEnvelope{
		Job: dto.JobDetails{
			ID:             utils.GenerateNanoIDWithPrefix("job", 21),
			Queue:          queue,
			IdempotencyKey: idempotencyKey,
			Attempt:        1,
			Payload:        body,
		},
		Metadata: dto.JobMetadata{
			UberTraceID: tracingData["uber-trace-id"],
			EnqueuedAt:  utils.Now().Format(time.RFC3339),
		},
	}

	if err := r.PublishEnvelope(ctx, envelope); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if r.registry != nil {
		r.registry.MarkWaiting(queue, idempotencyKey, envelope.Job.ID)
	}
	return nil
}

// PublishEnvelope publishes a prepared envelope, used both for first
// enqueues and for retry republishing with an incremented attempt.
func (r *RabbitMQPublisher) PublishEnvelope(ctx context.Context, envelope dto.JobEnvelope) error {
	for attempt := 0; attempt < r.config.MaxRetries; attempt++ {
		err := r.publishWithConfirm(ctx, envelope)
		if err == nil {
			return nil
		}

		r.logger.Warnf("Publish attempt %d failed: %v", attempt+1, err)
		if attempt < r.config.MaxRetries-1 {
			time.Sleep(time.Millisecond * 100 * time.Duration(attempt+1))
		}
	}

	return errors.Errorf("failed to publish job to %s after %d retries", envelope.Job.Queue, r.config.MaxRetries)
}

func (r *RabbitMQPublisher) publishWithConfirm(ctx context.Context, envelope dto.JobEnvelope) error {
	r.publishMutex.Lock()
	defer r.publishMutex.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := r.ensureConnectionAndChannel(); err != nil {
		return err
	}

	jsonBody, err := json.Marshal(envelope)
	if err != nil {
		return errors.Wrap(err, "marshal job envelope")
	}

	err = r.publishChannel.Publish(
		ExchangeJobs,
		envelope.Job.Queue, // routing key is the queue name
		true,               // mandatory
		false,              // immediate
		amqp091.Publishing{
			DeliveryMode: amqp091.Persistent,
			ContentType:  "application/json",
			Body:         jsonBody,
			Timestamp:    time.Now(),
		})
	if err != nil {
		return errors.Wrap(err, "publish job")
	}

	select {
	case confirm := <-r.confirms:
		if !confirm.Ack {
			return errors.New("job was not confirmed by server")
		}
	case <-time.After(r.config.PublishTimeout):
		return errors.New("publish confirmation timeout")
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (r *RabbitMQPublisher) connect() error {
	r.connectionMutex.Lock()
	defer r.connectionMutex.Unlock()

	var err error
	r.connection, err = amqp091.Dial(r.url)
	if err != nil {
		return errors.Wrap(err, "connect to RabbitMQ")
	}

	if err := r.setupTopology(); err != nil {
		return errors.Wrap(err, "set up exchanges and queues")
	}

	if err := r.setupPublishChannel(); err != nil {
		return errors.Wrap(err, "set up publish channel")
	}

	go r.handleReconnection()

	return nil
}

func (r *RabbitMQPublisher) ensureConnectionAndChannel() error {
	if r.connection == nil || r.connection.IsClosed() {
		if err := r.connect(); err != nil {
			return errors.Wrap(err, "establish connection")
		}
	}

	if r.publishChannel == nil || r.publishChannel.IsClosed() {
		if err := r.setupPublishChannel(); err != nil {
			return errors.Wrap(err, "establish channel")
		}
	}

	return nil
}

func (r *RabbitMQPublisher) setupPublishChannel() error {
	channel, err := r.connection.Channel()
	if err != nil {
		return errors.Wrap(err, "open publish channel")
	}

	if err := channel.Confirm(false); err != nil {
		channel.Close()
		return errors.Wrap(err, "enable publisher confirms")
	}

	r.confirms = channel.NotifyPublish(make(chan amqp091.Confirmation, 1))
	r.publishChannel = channel
	return nil
}

func (r *RabbitMQPublisher) handleReconnection() {
	backoff := r.config.ReconnectBackoff

	for {
		notifyClose := r.connection.NotifyClose(make(chan *amqp091.Error))
		err := <-notifyClose
		r.logger.Warnf("RabbitMQ connection closed: %v, attempting to reconnect", err)

		for {
			err := r.connect()
			if err == nil {
				r.logger.Info("Successfully reconnected to RabbitMQ")
				break
			}

			r.logger.Errorf("Failed to reconnect: %v, retrying in %v", err, backoff)
			time.Sleep(backoff)

			backoff *= 2
			if backoff > r.config.MaxReconnectBackoff {
				backoff = r.config.MaxReconnectBackoff
			}
		}

		backoff = r.config.ReconnectBackoff
	}
}

func (r *RabbitMQPublisher) setupTopology() error {
	channel, err := r.connection.Channel()
	if err != nil {
		return errors.Wrap(err, "open channel for topology setup")
	}
	defer channel.Close()

	err = channel.ExchangeDeclare(
		ExchangeDeadLetter,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return errors.Wrap(err, "declare dead letter exchange")
	}

	err = channel.ExchangeDeclare(
		ExchangeJobs,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return errors.Wrap(err, "declare jobs exchange")
	}

	for _, queue := range AllQueues {
		if err := r.declareQueueWithDLQ(channel, queue); err != nil {
			return err
		}
		err = channel.QueueBind(
			queue,
			queue,
			ExchangeJobs,
			false,
			nil,
		)
		if err != nil {
			return errors.Wrapf(err, "bind queue %s to exchange %s", queue, ExchangeJobs)
		}
	}

	return nil
}

func (r *RabbitMQPublisher) declareQueueWithDLQ(channel *amqp091.Channel, queueName string) error {
	dlqName := DLQName(queueName)

	_, err := channel.QueueDeclare(
		dlqName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return errors.Wrapf(err, "declare DLQ %s", dlqName)
	}

	err = channel.QueueBind(
		dlqName,
		queueName,
		ExchangeDeadLetter,
		false,
		nil,
	)
	if err != nil {
		return errors.Wrapf(err, "bind DLQ %s to exchange", dlqName)
	}

	args := make(map[string]interface{})
	args["x-dead-letter-exchange"] = ExchangeDeadLetter
	args["x-dead-letter-routing-key"] = queueName
	args["x-message-ttl"] = int64(r.config.MessageTTL.Milliseconds())

	_, err = channel.QueueDeclare(
		queueName,
		true,
		false,
		false,
		false,
		args,
	)
	if err != nil {
		return errors.Wrapf(err, "declare queue %s", queueName)
	}

	return nil
}

// Close gracefully shuts down the publisher
func (r *RabbitMQPublisher) Close() error {
	r.connectionMutex.Lock()
	defer r.connectionMutex.Unlock()

	var err error
	if r.publishChannel != nil {
		err = r.publishChannel.Close()
		if err != nil {
			r.logger.Errorf("Error closing publish channel: %v", err)
		}
	}

	if r.connection != nil {
		if closeErr := r.connection.Close(); closeErr != nil {
			r.logger.Errorf("Error closing connection: %v", closeErr)
			if err == nil {
				err = closeErr
			}
		}
	}

	return err
}
