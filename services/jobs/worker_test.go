package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmarcwatch/dmarcwatch/dto"
	cerrors "github.com/dmarcwatch/dmarcwatch/internal/errors"
	"github.com/dmarcwatch/dmarcwatch/internal/logger"
)

type fakeAcknowledger struct {
	acks     int
	requeues []bool // requeue flag of each nack
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.acks++
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	f.requeues = append(f.requeues, requeue)
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	f.requeues = append(f.requeues, requeue)
	return nil
}

func testWorker() *Worker {
	log := logger.NewAppLogger(&logger.Config{DevMode: true})
	log.InitLogger()
	return &Worker{logger: log, registry: NewRegistry()}
}

func delivery(t *testing.T, ack *fakeAcknowledger, job dto.JobDetails) amqp091.Delivery {
	t.Helper()
	body, err := json.Marshal(dto.JobEnvelope{Job: job})
	require.NoError(t, err)
	return amqp091.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: body}
}

func TestHandleDelivery_ShutdownRequeuesRetryableJob(t *testing.T) {
	w := testWorker()
	ack := &fakeAcknowledger{}
	spec := QueueSpec{
		Queue: "geo-enrichment",
		Retry: RetryPolicy{
			MaxAttempts: 5,
			Backoff:     &backoff.Backoff{Min: time.Hour, Max: time.Hour},
		},
		Handler: func(ctx context.Context, job dto.JobDetails) error {
			return errors.New("dial tcp: connection refused")
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // shutdown hits during the backoff wait

	w.handleDelivery(ctx, spec, delivery(t, ack, dto.JobDetails{ID: "job_1", IdempotencyKey: "geo-enrichment-src_1", Attempt: 1}))

	// handed back to the broker, not dead-lettered
	assert.Equal(t, 0, ack.acks)
	assert.Equal(t, []bool{true}, ack.requeues)
}

func TestHandleDelivery_PermanentFailureDeadLetters(t *testing.T) {
	w := testWorker()
	ack := &fakeAcknowledger{}
	spec := QueueSpec{
		Queue: "mailbox-sync",
		Retry: RetryPolicy{MaxAttempts: 3},
		Handler: func(ctx context.Context, job dto.JobDetails) error {
			return cerrors.ErrDomainMismatch
		},
	}

	w.handleDelivery(context.Background(), spec, delivery(t, ack, dto.JobDetails{ID: "job_1", IdempotencyKey: "mailbox-sync-acc_1", Attempt: 1}))

	assert.Equal(t, 0, ack.acks)
	assert.Equal(t, []bool{false}, ack.requeues)

	state, ok := w.registry.State("mailbox-sync-acc_1")
	require.True(t, ok)
	assert.Equal(t, JobStateFailed, state)
}

func TestHandleDelivery_SuccessAcks(t *testing.T) {
	w := testWorker()
	ack := &fakeAcknowledger{}
	spec := QueueSpec{
		Queue: "cleanup",
		Retry: RetryPolicy{MaxAttempts: 1},
		Handler: func(ctx context.Context, job dto.JobDetails) error {
			return nil
		},
	}

	w.handleDelivery(context.Background(), spec, delivery(t, ack, dto.JobDetails{ID: "job_1", IdempotencyKey: "cleanup-org_1", Attempt: 1}))

	assert.Equal(t, 1, ack.acks)
	assert.Empty(t, ack.requeues)

	state, ok := w.registry.State("cleanup-org_1")
	require.True(t, ok)
	assert.Equal(t, JobStateCompleted, state)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{
			name:      "network failure",
			err:       errors.New("dial tcp: connection refused"),
			retryable: true,
		},
		{
			name:      "wrapped transient error",
			err:       errors.Wrap(errors.New("i/o timeout"), "fetch attachment"),
			retryable: true,
		},
		{
			name:      "parse error is deterministic",
			err:       cerrors.NewParseError(cerrors.ParseMalformedXML, "unexpected EOF"),
			retryable: false,
		},
		{
			name:      "wrapped parse error",
			err:       errors.Wrap(cerrors.NewParseError(cerrors.ParseMissingPolicy, "policy_published with domain is required"), "import"),
			retryable: false,
		},
		{
			name:      "domain mismatch",
			err:       cerrors.ErrDomainMismatch,
			retryable: false,
		},
		{
			name:      "wrapped domain mismatch",
			err:       errors.Wrap(cerrors.ErrDomainMismatch, "import report"),
			retryable: false,
		},
		{
			name:      "sync already running",
			err:       cerrors.ErrSyncAlreadyRunning,
			retryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, isRetryable(tt.err))
		})
	}
}
