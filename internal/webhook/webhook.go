// Package webhook posts extraction job results to configured endpoints.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/subextract/internal/config"
	"github.com/therealutkarshpriyadarshi/subextract/internal/logging"
	"github.com/therealutkarshpriyadarshi/subextract/pkg/models"
)

// Event names
const (
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
)

// Event is the JSON body of every delivery.
type Event struct {
	Event     string                `json:"event"`
	Timestamp time.Time             `json:"timestamp"`
	Job       *models.ExtractionJob `json:"job"`
}

// retryDelays is the backoff between delivery attempts.
var retryDelays = []time.Duration{
	5 * time.Second,
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
}

// Notifier delivers job events. It is a registry observer.
type Notifier struct {
	client *http.Client
	urls   []string
	secret string
	delays []time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *logging.Logger
}

// NewNotifier creates a notifier for cfg.URLs.
func NewNotifier(cfg config.WebhooksConfig, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	if retries > len(retryDelays) {
		retries = len(retryDelays)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Notifier{
		client: &http.Client{Timeout: timeout},
		urls:   cfg.URLs,
		secret: cfg.Secret,
		delays: retryDelays[:retries],
		ctx:    ctx,
		cancel: cancel,
		logger: logger.WithComponent("webhook"),
	}
}

// EventName maps a job status to its event, or "" when nothing is sent.
func EventName(status models.JobStatus) string {
	switch status {
	case models.JobStatusDone:
		return EventJobCompleted
	case models.JobStatusError:
		return EventJobFailed
	}
	return ""
}

// JobChanged queues a delivery to every endpoint when job reached a
// terminal state. Deliveries run in the background.
func (n *Notifier) JobChanged(_ context.Context, job *models.ExtractionJob) error {
	event := EventName(job.Status)
	if event == "" || len(n.urls) == 0 {
		return nil
	}

	payload, err := json.Marshal(Event{Event: event, Timestamp: time.Now().UTC(), Job: job})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	for _, url := range n.urls {
		n.wg.Add(1)
		go func(url string) {
			defer n.wg.Done()
			n.deliver(url, event, uuid.New().String(), payload)
		}(url)
	}
	return nil
}

// Close abandons pending retries and waits for in-flight deliveries.
func (n *Notifier) Close() error {
	n.cancel()
	n.wg.Wait()
	return nil
}

func (n *Notifier) deliver(url, event, deliveryID string, payload []byte) {
	logger := n.logger.WithField("delivery_id", deliveryID).WithField("url", url)

	for attempt := 0; ; attempt++ {
		err := n.send(url, event, deliveryID, payload)
		if err == nil {
			logger.Debugf("delivered %s", event)
			return
		}
		if attempt >= len(n.delays) {
			logger.WithError(err).Warnf("giving up on %s after %d attempts", event, attempt+1)
			return
		}
		logger.WithError(err).Debugf("delivery failed, retrying in %s", n.delays[attempt])

		select {
		case <-n.ctx.Done():
			return
		case <-time.After(n.delays[attempt]):
		}
	}
}

func (n *Notifier) send(url, event, deliveryID string, payload []byte) error {
	req, err := http.NewRequestWithContext(n.ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "subextract-webhook/1.0")
	req.Header.Set("X-Webhook-Event", event)
	req.Header.Set("X-Webhook-Delivery", deliveryID)
	if n.secret != "" {
		req.Header.Set("X-Webhook-Signature", Sign(payload, n.secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Sign returns the HMAC-SHA256 signature header value for payload.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
