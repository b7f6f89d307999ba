// Package webhook delivers domain events to registered endpoints (spec.md
// §4.5), generalizing the teacher's WebhookNotifier.sendWithRetry fixed
// 1s/5s/30s schedule into the spec's exponential-backoff-with-jitter state
// machine, one worker goroutine per active endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"opencat/internal/cryptor"
	"opencat/internal/storage"
	"opencat/pkg/logging"
)

const (
	baseDelay  = 1 * time.Second
	maxDelay   = 30 * time.Second
	maxAttempts = 10
	jitterFrac = 0.25
	batchSize  = 100
)

// Body is the JSON shape POSTed to endpoints (spec §4.5 step 2).
type Body struct {
	Event        string      `json:"event"`
	AppID        string      `json:"app_id"`
	SubscriberID *string     `json:"subscriber,omitempty"`
	EventID      string      `json:"event_id"`
	Sequence     int64       `json:"sequence"`
	Payload      interface{} `json:"transaction,omitempty"`
}

// Dispatcher supervises one worker per active WebhookEndpoint (spec §4.5:
// "one logical worker per active WebhookEndpoint"). Workers are started
// lazily on Register/Start and stopped on Deactivate/Remove.
type Dispatcher struct {
	webhooks   *storage.WebhookRepo
	events     *storage.EventRepo
	httpClient *http.Client
	redis      *redis.Client
	pollEvery  time.Duration

	mu      sync.Mutex
	workers map[string]*worker
}

func NewDispatcher(webhooks *storage.WebhookRepo, eventsRepo *storage.EventRepo, postTimeout time.Duration, redisClient *redis.Client) *Dispatcher {
	return &Dispatcher{
		webhooks:   webhooks,
		events:     eventsRepo,
		httpClient: &http.Client{Timeout: postTimeout},
		redis:      redisClient,
		pollEvery:  30 * time.Second,
		workers:    make(map[string]*worker),
	}
}

// Start launches a worker for every currently-active endpoint. Call once
// at process startup, after the storage layer is ready.
func (d *Dispatcher) Start(ctx context.Context) error {
	endpoints, err := d.webhooks.ListActive()
	if err != nil {
		return fmt.Errorf("failed to list active webhook endpoints: %w", err)
	}
	for i := range endpoints {
		d.ensureWorker(ctx, &endpoints[i])
	}
	return nil
}

// Notify wakes the worker for appID's endpoints, used by the Receipt
// Pipeline's best-effort publish step (spec §4.4 step 6) when it is
// delivered locally rather than via Redis pub/sub (single-process mode).
func (d *Dispatcher) Notify(appID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, w := range d.workers {
		if w.endpoint.AppID == appID {
			w.wake()
		}
	}
}

// RegisterEndpoint starts a worker for a newly-created endpoint.
func (d *Dispatcher) RegisterEndpoint(ctx context.Context, ep *storage.WebhookEndpoint) {
	d.ensureWorker(ctx, ep)
}

func (d *Dispatcher) ensureWorker(ctx context.Context, ep *storage.WebhookEndpoint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.workers[ep.ID]; ok {
		return
	}
	w := newWorker(ep, d.webhooks, d.events, d.httpClient, d.pollEvery)
	d.workers[ep.ID] = w
	go w.run(ctx)

	if d.redis != nil {
		go d.subscribeWake(ctx, ep, w)
	}
}

func (d *Dispatcher) subscribeWake(ctx context.Context, ep *storage.WebhookEndpoint, w *worker) {
	sub := d.redis.Subscribe(ctx, storage.EventChannel(ep.AppID))
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			w.wake()
		}
	}
}

// Shutdown signals every worker to finish its in-flight attempt and stop,
// waiting up to the drain period (spec §5 graceful shutdown).
func (d *Dispatcher) Shutdown(drain time.Duration) {
	d.mu.Lock()
	workers := make([]*worker, 0, len(d.workers))
	for _, w := range d.workers {
		workers = append(workers, w)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, w := range workers {
			wg.Add(1)
			go func(w *worker) {
				defer wg.Done()
				w.stop()
			}(w)
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drain):
		logging.Warnf("webhook dispatcher shutdown drain period exceeded, aborting")
	}
}

// worker delivers events for exactly one endpoint, strictly in sequence
// (spec §4.5 step 7-8: "at-most-one concurrent delivery per endpoint").
type worker struct {
	endpoint   *storage.WebhookEndpoint
	webhooks   *storage.WebhookRepo
	events     *storage.EventRepo
	httpClient *http.Client
	pollEvery  time.Duration

	wakeCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
}

func newWorker(ep *storage.WebhookEndpoint, webhooks *storage.WebhookRepo, eventsRepo *storage.EventRepo, client *http.Client, pollEvery time.Duration) *worker {
	return &worker{
		endpoint:   ep,
		webhooks:   webhooks,
		events:     eventsRepo,
		httpClient: client,
		pollEvery:  pollEvery,
		wakeCh:     make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

func (w *worker) wake() {
	select {
	case w.wakeCh <- struct{}{}:
	default:
	}
}

func (w *worker) stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *worker) run(ctx context.Context) {
	defer close(w.doneCh)
	ticker := time.NewTicker(w.pollEvery)
	defer ticker.Stop()

	for {
		w.deliverPending(ctx)

		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-w.wakeCh:
		case <-ticker.C:
		}
	}
}

// deliverPending implements the Idle -> Delivering -> (Backoff -> Delivering)* -> Idle
// state machine (spec §4.5) for every pending event, in strict sequence
// order, never advancing the cursor past a still-pending event.
func (w *worker) deliverPending(ctx context.Context) {
	for {
		pending, err := w.events.ListByApp(w.endpoint.AppID, w.endpoint.DeliveryCursor, batchSize)
		if err != nil {
			logging.Errorf("webhook worker for endpoint %s: failed to read pending events: %v", w.endpoint.ID, err)
			return
		}
		if len(pending) == 0 {
			return
		}

		for _, e := range pending {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			default:
			}

			if !w.deliverOne(ctx, e) {
				return
			}
		}
	}
}

// deliverOne drives retries for a single event to completion (success,
// non-retriable failure, or exhaustion) and returns false if the caller
// should stop processing further events this round (context cancelled).
func (w *worker) deliverOne(ctx context.Context, e storage.Event) bool {
	body, err := buildBody(w.endpoint.AppID, e)
	if err != nil {
		logging.Errorf("webhook worker for endpoint %s: failed to build body for event %d: %v", w.endpoint.ID, e.Sequence, err)
		w.advance(e.Sequence)
		return true
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, deliverErr := w.post(ctx, body, e, attempt)

		if deliverErr == nil && status >= 200 && status < 300 {
			w.advance(e.Sequence)
			return true
		}

		retriable := isRetriable(status, deliverErr)
		if !retriable {
			logging.Warnf("webhook worker for endpoint %s: event %d non-retriable failure (status %d): %v", w.endpoint.ID, e.Sequence, status, deliverErr)
			w.advance(e.Sequence)
			return true
		}

		if attempt == maxAttempts {
			w.deadLetter(e, attempt, deliverErr, status)
			w.advance(e.Sequence)
			return true
		}

		delay := backoff(attempt)
		select {
		case <-ctx.Done():
			return false
		case <-w.stopCh:
			return false
		case <-time.After(delay):
		}
	}
	return true
}

func (w *worker) post(ctx context.Context, body []byte, e storage.Event, attempt int) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-OpenCat-Signature", "sha256="+cryptor.Sign(body, w.endpoint.Secret))
	req.Header.Set("X-OpenCat-Event-Id", e.ID)
	req.Header.Set("X-OpenCat-Event-Type", string(e.EventType))
	req.Header.Set("X-OpenCat-Delivery-Attempt", fmt.Sprintf("%d", attempt))

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func (w *worker) advance(sequence int64) {
	if err := w.webhooks.AdvanceCursor(w.endpoint.ID, sequence); err != nil {
		logging.Errorf("webhook worker for endpoint %s: failed to advance cursor: %v", w.endpoint.ID, err)
		return
	}
	w.endpoint.DeliveryCursor = sequence
}

func (w *worker) deadLetter(e storage.Event, attempts int, err error, status int) {
	lastErr := fmt.Sprintf("status=%d", status)
	if err != nil {
		lastErr = err.Error()
	}
	dl := &storage.WebhookDeadLetter{
		EndpointID: w.endpoint.ID,
		EventID:    e.ID,
		Sequence:   e.Sequence,
		LastError:  lastErr,
		Attempts:   attempts,
	}
	if err := w.webhooks.RecordDeadLetter(dl); err != nil {
		logging.Errorf("webhook worker for endpoint %s: failed to record dead letter for event %d: %v", w.endpoint.ID, e.Sequence, err)
	}
}

func buildBody(appID string, e storage.Event) ([]byte, error) {
	var payload interface{}
	if e.Payload != "" {
		if err := json.Unmarshal([]byte(e.Payload), &payload); err != nil {
			payload = e.Payload
		}
	}
	body := Body{
		Event:        string(e.EventType),
		AppID:        appID,
		SubscriberID: e.SubscriberID,
		EventID:      e.ID,
		Sequence:     e.Sequence,
		Payload:      payload,
	}
	return json.Marshal(body)
}

// isRetriable classifies a delivery outcome per spec §4.5 step 5:
// 408/425/429/5xx and network errors are retriable; other 4xx are not.
func isRetriable(status int, err error) bool {
	if err != nil {
		return true
	}
	switch status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return status >= 500
}

// backoff computes the exponential-backoff-with-jitter delay for a given
// attempt number (spec §4.5 step 5: base 1s, multiplier 2, cap 30s, jitter
// up to 25%).
func backoff(attempt int) time.Duration {
	delay := baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
			break
		}
	}
	jitter := time.Duration(rand.Float64() * jitterFrac * float64(delay))
	if rand.Intn(2) == 0 {
		return delay + jitter
	}
	return delay - jitter
}
