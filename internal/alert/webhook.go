package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/aikewa/govledger/internal/federation"
)

// SignatureHeader carries the notification HMAC alongside the body field.
const SignatureHeader = "X-Govledger-Signature"

// retryDelays precede attempts two and three.
var retryDelays = []time.Duration{time.Second, 5 * time.Second}

// Dispatcher posts signed notifications to peer notify endpoints. The body
// is the same Notification a peer's /federation/notify accepts, signed
// with the secret the peer holds for this instance.
type Dispatcher struct {
	sourceID string
	secret   string
	urls     []string
	http     *http.Client
	delays   []time.Duration
	logger   *zap.Logger
}

// NewDispatcher creates a Dispatcher identifying itself as sourceID.
func NewDispatcher(sourceID, secret string, urls []string, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		sourceID: sourceID,
		secret:   secret,
		urls:     urls,
		http:     &http.Client{Timeout: 10 * time.Second},
		delays:   retryDelays,
		logger:   logger,
	}
}

// Dispatch signs one event and delivers it to every URL, retrying each
// failed delivery. It blocks until all deliveries finish or ctx ends and
// returns the number that succeeded.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType string, payload any, at time.Time) (int, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}
	n := federation.Notification{
		PartnerID: d.sourceID,
		EventType: eventType,
		Timestamp: at.UTC().Format(time.RFC3339),
		Payload:   raw,
	}
	if n.Signature, err = federation.SignNotification(d.secret, n); err != nil {
		return 0, err
	}
	body, err := json.Marshal(n)
	if err != nil {
		return 0, fmt.Errorf("encode notification: %w", err)
	}

	done := make(chan bool, len(d.urls))
	for _, url := range d.urls {
		go func(url string) { done <- d.deliver(ctx, url, body, n.Signature) }(url)
	}
	delivered := 0
	for range d.urls {
		if <-done {
			delivered++
		}
	}
	return delivered, nil
}

func (d *Dispatcher) deliver(ctx context.Context, url string, body []byte, sig string) bool {
	for attempt := 0; attempt <= len(d.delays); attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(d.delays[attempt-1]):
			case <-ctx.Done():
				return false
			}
		}
		err := d.post(ctx, url, body, sig)
		if err == nil {
			deliveriesTotal.WithLabelValues("webhook", "delivered").Inc()
			return true
		}
		d.logger.Warn("alert: webhook delivery failed",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	deliveriesTotal.WithLabelValues("webhook", "failed").Inc()
	return false
}

func (d *Dispatcher) post(ctx context.Context, url string, body []byte, sig string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, "sha256="+sig)

	resp, err := d.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}
