package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"taskhive-backend/core/marketplace"
	hive "taskhive-backend/middleware/marketplace"
	"taskhive-backend/metrics"
	hivestore "taskhive-backend/storage/marketplace"
)

const (
	DefaultWebhookCap     = 5
	DefaultWebhookTimeout = 5 * time.Second

	// responseLogLimit bounds what a delivery log row keeps of the body.
	responseLogLimit = 512
)

// Signature and metadata headers sent with every delivery.
const (
	HeaderSignature = "X-TaskHive-Signature"
	HeaderEvent     = "X-TaskHive-Event"
	HeaderTimestamp = "X-TaskHive-Timestamp"
)

// WebhookService signs and delivers event payloads to agent-registered
// webhooks. Dispatch is fire-and-forget: it is called only after the
// triggering transition commits, each matching webhook is delivered on its
// own goroutine under its own timeout, and no outcome ever reaches the
// triggering caller. There is no retry; a failed attempt is terminal.
type WebhookService struct {
	store   hive.Store
	client  *http.Client
	timeout time.Duration
	cap     int

	// wg tracks in-flight fan-outs so tests and shutdown can drain them.
	wg sync.WaitGroup
}

// NewWebhookService builds a dispatcher; zero timeout/cap use the defaults.
func NewWebhookService(store hive.Store, timeout time.Duration, cap int) *WebhookService {
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	if cap <= 0 {
		cap = DefaultWebhookCap
	}
	return &WebhookService{
		store:   store,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		cap:     cap,
	}
}

// Register creates a subscription and returns it with the plaintext
// signing secret, which is not recoverable afterwards.
func (s *WebhookService) Register(ctx context.Context, agentID int64, rawURL string, events []string) (marketplace.Webhook, string, error) {
	if !strings.HasPrefix(strings.ToLower(rawURL), "https://") {
		return marketplace.Webhook{}, "", fmt.Errorf("%w: webhook url must be https", ErrInvalidInput)
	}
	if len(events) == 0 {
		return marketplace.Webhook{}, "", fmt.Errorf("%w: at least one event required", ErrInvalidInput)
	}
	for _, e := range events {
		if !marketplace.KnownEvent(e) {
			return marketplace.Webhook{}, "", fmt.Errorf("%w: unknown event %q", ErrInvalidInput, e)
		}
	}

	n, err := s.store.CountWebhooks(ctx, agentID)
	if err != nil {
		return marketplace.Webhook{}, "", err
	}
	if n >= s.cap {
		return marketplace.Webhook{}, "", hivestore.ErrWebhookLimit
	}

	secret, err := generateSecret()
	if err != nil {
		return marketplace.Webhook{}, "", err
	}
	w, err := s.store.InsertWebhook(ctx, marketplace.Webhook{
		AgentID: agentID,
		URL:     rawURL,
		Secret:  secret,
		Events:  events,
	})
	if err != nil {
		return marketplace.Webhook{}, "", err
	}
	return w, secret, nil
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(b), nil
}

// Dispatch schedules delivery of event to every active subscription the
// agent holds for it. It returns immediately; deliveries run concurrently
// and are joined only to log their outcomes.
func (s *WebhookService) Dispatch(agentID int64, event string, data interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	hooks, err := s.store.ActiveWebhooksForEvent(ctx, agentID, event)
	cancel()
	if err != nil {
		log.Printf("webhook lookup failed for agent %d event %s: %v", agentID, event, err)
		return
	}
	if len(hooks) == 0 {
		return
	}

	payload, err := json.Marshal(marketplace.EventPayload{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
	if err != nil {
		log.Printf("webhook payload marshal failed for event %s: %v", event, err)
		return
	}

	s.wg.Add(1)
	go s.fanOut(hooks, event, payload)
}

// DispatchNewTaskMatch notifies every active agent whose declared
// categories include the task's category.
func (s *WebhookService) DispatchNewTaskMatch(task marketplace.Task, data interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	agents, err := s.store.ListAgentsByCategory(ctx, task.Category)
	cancel()
	if err != nil {
		log.Printf("new-task match lookup failed for category %q: %v", task.Category, err)
		return
	}
	for _, a := range agents {
		s.Dispatch(a.ID, marketplace.EventNewTaskMatch, data)
	}
}

// Wait blocks until all scheduled deliveries have been logged. Used by
// shutdown and tests; request handlers never call it.
func (s *WebhookService) Wait() {
	s.wg.Wait()
}

// fanOut delivers one payload to each webhook independently, waits for all
// of them, and records each outcome. One slow or failing endpoint cannot
// delay any other.
func (s *WebhookService) fanOut(hooks []marketplace.Webhook, event string, payload []byte) {
	defer s.wg.Done()

	var wg sync.WaitGroup
	results := make([]marketplace.WebhookDelivery, len(hooks))
	for i, hook := range hooks {
		wg.Add(1)
		go func(i int, hook marketplace.Webhook) {
			defer wg.Done()
			results[i] = s.deliver(hook, event, payload)
		}(i, hook)
	}
	wg.Wait()

	for _, d := range results {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		if err := s.store.InsertWebhookDelivery(ctx, d); err != nil {
			log.Printf("webhook delivery log failed for webhook %d: %v", d.WebhookID, err)
		}
		cancel()
		outcome := "failure"
		if d.Success {
			outcome = "success"
		}
		metrics.WebhookDeliveries.WithLabelValues(event, outcome).Inc()
	}
}

func (s *WebhookService) deliver(hook marketplace.Webhook, event string, payload []byte) marketplace.WebhookDelivery {
	start := time.Now()
	d := marketplace.WebhookDelivery{WebhookID: hook.ID, Event: event}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(payload))
	if err != nil {
		d.Response = err.Error()
		d.DurationMS = time.Since(start).Milliseconds()
		return d
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, "sha256="+marketplace.SignPayload(hook.Secret, payload))
	req.Header.Set(HeaderEvent, event)
	req.Header.Set(HeaderTimestamp, start.UTC().Format(time.RFC3339))

	resp, err := s.client.Do(req)
	if err != nil {
		d.Response = truncate(err.Error(), responseLogLimit)
		d.DurationMS = time.Since(start).Milliseconds()
		metrics.WebhookDuration.Observe(time.Since(start).Seconds())
		return d
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, responseLogLimit))
	d.StatusCode = resp.StatusCode
	d.Response = string(body)
	d.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	d.DurationMS = time.Since(start).Milliseconds()
	metrics.WebhookDuration.Observe(time.Since(start).Seconds())
	return d
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
