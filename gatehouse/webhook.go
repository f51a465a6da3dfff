package gatehouse

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gatehouse-security/gatehouse-go/internal/config"
	"github.com/gatehouse-security/gatehouse-go/internal/webhook"
)

// SignWebhook computes the signature headers for an outbound webhook
// delivery: the signature, the timestamp it covers, and the event type.
func SignWebhook(secret, eventType string, payload []byte) (http.Header, error) {
	now := time.Now()
	signature, err := webhook.Sign(secret, payload, eventType, now)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set(webhook.SignatureHeader, signature)
	headers.Set(webhook.TimestampHeader, strconv.FormatInt(now.Unix(), 10))
	headers.Set(webhook.EventHeader, eventType)
	return headers, nil
}

// VerifyWebhook checks an inbound webhook against the shared secret. The
// header values come from the delivery request; the max age is the configured
// webhook tolerance.
func VerifyWebhook(secret string, payload []byte, r *http.Request) error {
	return webhook.Verify(webhook.VerifyOptions{
		Secret:    secret,
		Payload:   payload,
		EventType: r.Header.Get(webhook.EventHeader),
		Signature: r.Header.Get(webhook.SignatureHeader),
		Timestamp: r.Header.Get(webhook.TimestampHeader),
		MaxAge:    config.GetWebhookMaxAge(),
	})
}

// DeliverWebhook signs and delivers a webhook, retrying transient failures
// and pacing deliveries through the shared dispatcher.
func DeliverWebhook(ctx context.Context, url, secret, eventType string, payload []byte) error {
	inst := getInstance()
	if inst == nil {
		return ErrNotInitialized
	}
	return inst.dispatcher.Deliver(ctx, url, secret, eventType, payload)
}
