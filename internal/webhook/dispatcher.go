package webhook

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/gatehouse-security/gatehouse-go/internal/log"
)

// Dispatcher delivers signed webhooks. Deliveries are paced by a token-bucket
// rate limiter so a burst of events does not hammer a receiver, and failed
// deliveries are retried with a fixed backoff.
type Dispatcher struct {
	client   *http.Client
	limiter  *rate.Limiter
	retries  int
	backoff  time.Duration
	deadline time.Duration
}

type DispatcherOption func(*Dispatcher)

func WithHTTPClient(client *http.Client) DispatcherOption {
	return func(d *Dispatcher) { d.client = client }
}

// WithDeliveryRate caps outbound deliveries per second with the given burst.
func WithDeliveryRate(perSecond float64, burst int) DispatcherOption {
	return func(d *Dispatcher) { d.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

func WithRetries(retries int, backoff time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.retries = retries
		d.backoff = backoff
	}
}

func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		client:   &http.Client{Timeout: 10 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(10), 20),
		retries:  3,
		backoff:  2 * time.Second,
		deadline: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deliver signs and posts one event to url. It blocks for pacing, retries on
// network errors and 5xx responses, and treats any 2xx as delivered.
func (d *Dispatcher) Deliver(ctx context.Context, url, secret, eventType string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, d.deadline)
	defer cancel()

	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("delivery pacing: %w", err)
	}

	now := time.Now()
	signature, err := Sign(secret, payload, eventType, now)
	if err != nil {
		return err
	}
	deliveryID := uuid.NewString()

	var lastErr error
	for attempt := 0; attempt <= d.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(SignatureHeader, signature)
		req.Header.Set(TimestampHeader, fmt.Sprintf("%d", now.Unix()))
		req.Header.Set(EventHeader, eventType)
		req.Header.Set("X-Webhook-Delivery", deliveryID)

		resp, err := d.client.Do(req)
		if err != nil {
			lastErr = err
			log.Warn("webhook delivery attempt failed",
				slog.String("delivery", deliveryID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("receiver returned %d", resp.StatusCode)
		if resp.StatusCode < 500 {
			// 4xx will not get better with retries.
			break
		}
	}
	return fmt.Errorf("webhook delivery %s: %w", deliveryID, lastErr)
}
