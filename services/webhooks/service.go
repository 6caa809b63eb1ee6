package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/dmarcwatch/dmarcwatch/interfaces"
	"github.com/dmarcwatch/dmarcwatch/internal/logger"
	"github.com/dmarcwatch/dmarcwatch/internal/repository"
	"github.com/dmarcwatch/dmarcwatch/internal/tracing"
)

const (
	// SignatureHeader carries the hex HMAC-SHA256 of the request body.
	SignatureHeader = "X-Dmarcwatch-Signature"
	EventHeader     = "X-Dmarcwatch-Event"

	defaultDeliveryTimeout  = 15 * time.Second
	defaultDisableThreshold = 10
)

type deliveryService struct {
	postgres         *repository.Repositories
	client           *http.Client
	log              logger.Logger
	disableThreshold int
}

func NewDeliveryService(postgres *repository.Repositories, log logger.Logger, disableThreshold int) interfaces.WebhookDeliveryService {
	if disableThreshold <= 0 {
		disableThreshold = defaultDisableThreshold
	}
	return &deliveryService{
		postgres:         postgres,
		client:           &http.Client{Timeout: defaultDeliveryTimeout},
		log:              log,
		disableThreshold: disableThreshold,
	}
}

// Deliver POSTs one signed event to one endpoint. An inactive webhook is a
// successful no-op so stale queued jobs stop generating retry noise after a
// user disables the endpoint. Failures are returned to the job layer for its
// retry policy; the failure counter advances on every attempt and flips the
// endpoint inactive past the threshold.
func (s *deliveryService) Deliver(ctx context.Context, webhookID, event string, payload []byte) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "WebhookDeliveryService.Deliver")
	defer span.Finish()
	tracing.SetDefaultWorkerSpanTags(ctx, span)
	span.SetTag("webhook.id", webhookID)
	span.SetTag("event", event)

	webhook, err := s.postgres.WebhookRepository.GetByID(ctx, webhookID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if webhook == nil {
		// deleted since enqueue; nothing to retry
		span.SetTag("skipped", "webhook gone")
		return nil
	}
	if !webhook.IsActive {
		span.SetTag("skipped", "inactive")
		return nil
	}

	deliveryErr := s.post(ctx, webhook.URL, webhook.Secret, event, payload)
	if deliveryErr == nil {
		if err := s.postgres.WebhookRepository.ResetFailures(ctx, webhookID); err != nil {
			s.log.Errorf("failed to reset failure count for webhook %s: %v", webhookID, err)
		}
		return nil
	}
	tracing.TraceErr(span, deliveryErr)

	disabled, err := s.postgres.WebhookRepository.RecordFailure(ctx, webhookID, deliveryErr.Error(), s.disableThreshold)
	if err != nil {
		s.log.Errorf("failed to record delivery failure for webhook %s: %v", webhookID, err)
	}
	if disabled {
		span.SetTag("auto_disabled", true)
		s.log.Warnf("webhook %s auto-disabled after %d consecutive failures", webhookID, s.disableThreshold)
	}

	return deliveryErr
}

func (s *deliveryService) post(ctx context.Context, url, secret, event string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, event)
	req.Header.Set(SignatureHeader, Sign(secret, payload))

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "post webhook")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 of the payload under the endpoint's
// shared secret. Receivers recompute it to authenticate the sender.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
