package deliver

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/fanoutsh/fanout/internal/domain"
	"github.com/fanoutsh/fanout/internal/security"
)

// WebhookDeliverer POSTs events to HTTP endpoints. Payloads are signed
// with HMAC-SHA256 when a signing secret is configured, and the HTTP
// client re-validates destination IPs on every connection so redirects
// and DNS rebinding cannot reach blocked networks.
type WebhookDeliverer struct {
	client       *http.Client
	signingKey   string
	allowPrivate bool
}

// NewWebhookDeliverer creates a webhook deliverer. timeout bounds each
// delivery call; zero uses 5s.
func NewWebhookDeliverer(timeout time.Duration, signingKey string, allowPrivate bool) *WebhookDeliverer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookDeliverer{
		client:       newSafeHTTPClient(timeout, allowPrivate),
		signingKey:   signingKey,
		allowPrivate: allowPrivate,
	}
}

// SupportsBatch is true: batched deliveries go out as one envelope.
func (d *WebhookDeliverer) SupportsBatch() bool { return true }

// webhookEnvelope is the body for batched webhook calls. Single-event
// deliveries send the event object bare for subscriber convenience.
type webhookEnvelope struct {
	Events []*domain.Event `json:"events"`
	Count  int             `json:"count"`
}

// Deliver sends the events to the subscription endpoint. Non-2xx
// responses, timeouts and connection errors are all DeliveryErrors.
func (d *WebhookDeliverer) Deliver(ctx context.Context, sub *domain.Subscription, events []*domain.Event) error {
	return d.post(ctx, sub.Endpoint, events)
}

// DeliverTo pushes to an explicit URL. Used for fallback webhooks on
// realtime subscriptions.
func (d *WebhookDeliverer) DeliverTo(ctx context.Context, url string, events []*domain.Event) error {
	return d.post(ctx, url, events)
}

func (d *WebhookDeliverer) post(ctx context.Context, url string, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	var body []byte
	var err error
	if len(events) == 1 {
		body, err = json.Marshal(events[0])
	} else {
		body, err = json.Marshal(webhookEnvelope{Events: events, Count: len(events)})
	}
	if err != nil {
		return fmt.Errorf("marshal delivery payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.Deliveryf("create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Fanout-Event-ID", events[0].ID)
	req.Header.Set("X-Fanout-Topic", events[0].Topic)
	if len(events) > 1 {
		req.Header.Set("X-Fanout-Batch-Size", fmt.Sprintf("%d", len(events)))
	}
	if events[0].Metadata.ReplayID != "" {
		req.Header.Set("X-Fanout-Replay-ID", events[0].Metadata.ReplayID)
	}
	if d.signingKey != "" {
		req.Header.Set("X-Fanout-Signature", sign(body, d.signingKey))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.Deliveryf("request timed out")
		}
		return domain.Deliveryf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return domain.Deliveryf("HTTP %d: %s", resp.StatusCode, string(respBody))
}

// sign creates an HMAC-SHA256 signature over the payload.
func sign(payload []byte, key string) string {
	h := hmac.New(sha256.New, []byte(key))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// newSafeHTTPClient validates destination IPs on every dial, including
// after redirects.
func newSafeHTTPClient(timeout time.Duration, allowPrivate bool) *http.Client {
	dialer := &net.Dialer{Timeout: timeout}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, _, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := net.LookupIP(host)
			if err != nil {
				return nil, fmt.Errorf("cannot resolve %s: %w", host, err)
			}
			for _, ip := range ips {
				if err := security.ValidateIP(ip, allowPrivate); err != nil {
					return nil, fmt.Errorf("blocked destination %s (%s): %w", host, ip, err)
				}
			}
			return dialer.DialContext(ctx, network, addr)
		},
		MaxIdleConnsPerHost: 8,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return errors.New("too many redirects")
			}
			return nil
		},
	}
}
