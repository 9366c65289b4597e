package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/emberfall/cinder/internal/metrics"
)

// WebhookRetry configures webhook delivery: per-attempt timeout plus an
// exponential backoff budget with jitter.
type WebhookRetry struct {
	Attempts    int
	BaseMs      int64
	Factor      float64
	JitterRatio float64
	TimeoutMs   int64
}

// DefaultWebhookRetry is the delivery policy when unconfigured.
var DefaultWebhookRetry = WebhookRetry{
	Attempts:    3,
	BaseMs:      200,
	Factor:      2,
	JitterRatio: 0.25,
	TimeoutMs:   10_000,
}

func (r WebhookRetry) withDefaults() WebhookRetry {
	d := DefaultWebhookRetry
	if r.Attempts > 0 {
		d.Attempts = r.Attempts
	}
	if r.BaseMs > 0 {
		d.BaseMs = r.BaseMs
	}
	if r.Factor > 0 {
		d.Factor = r.Factor
	}
	if r.JitterRatio > 0 {
		d.JitterRatio = r.JitterRatio
	}
	if r.TimeoutMs > 0 {
		d.TimeoutMs = r.TimeoutMs
	}
	return d
}

// webhookJob is one expanded callWebhook action, queued to the pool so
// the dispatch loop never blocks on HTTP.
type webhookJob struct {
	ruleID  string
	url     string
	method  string
	headers map[string]string
	body    any
}

const (
	webhookWorkers = 4
	webhookBacklog = 256
)

// webhookPool delivers webhook calls on worker goroutines with retries.
// The originating rule firing completes before delivery resolves.
type webhookPool struct {
	client  *http.Client
	retry   WebhookRetry
	log     *slog.Logger
	metrics *metrics.Metrics

	jobs   chan webhookJob
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newWebhookPool(retry WebhookRetry, log *slog.Logger, m *metrics.Metrics) *webhookPool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &webhookPool{
		client:  &http.Client{},
		retry:   retry.withDefaults(),
		log:     log,
		metrics: m,
		jobs:    make(chan webhookJob, webhookBacklog),
		cancel:  cancel,
	}
	p.wg.Add(webhookWorkers)
	for i := 0; i < webhookWorkers; i++ {
		go p.worker(ctx)
	}
	return p
}

// Submit queues a delivery. A full backlog drops the call rather than
// stalling dispatch.
func (p *webhookPool) Submit(job webhookJob) bool {
	select {
	case p.jobs <- job:
		return true
	default:
		p.log.Warn("webhook backlog full, dropping call", "rule", job.ruleID, "url", job.url)
		p.metrics.ActionFailed("callWebhook")
		return false
	}
}

// Stop cancels in-flight requests and waits for the workers to exit.
func (p *webhookPool) Stop() {
	p.cancel()
	close(p.jobs)
	p.wg.Wait()
}

func (p *webhookPool) worker(ctx context.Context) {
	defer p.wg.Done()
	for job := range p.jobs {
		if ctx.Err() != nil {
			return
		}
		p.deliver(ctx, job)
	}
}

func (p *webhookPool) deliver(ctx context.Context, job webhookJob) {
	var lastErr error
	for attempt := 1; attempt <= p.retry.Attempts; attempt++ {
		status, err := p.attempt(ctx, job)
		if err == nil && status < 300 {
			p.metrics.ActionExecuted("callWebhook")
			p.log.Debug("webhook delivered", "rule", job.ruleID, "url", job.url, "status", status, "attempt", attempt)
			return
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = &httpStatusError{status: status}
			// Client errors other than throttling will not improve on retry.
			if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
				break
			}
		}
		if attempt < p.retry.Attempts {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.backoff(attempt)):
			}
		}
	}
	p.metrics.ActionFailed("callWebhook")
	p.log.Error("webhook delivery failed", "rule", job.ruleID, "url", job.url,
		"attempts", p.retry.Attempts, "error", lastErr)
}

func (p *webhookPool) attempt(ctx context.Context, job webhookJob) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(p.retry.TimeoutMs)*time.Millisecond)
	defer cancel()

	var body io.Reader
	if job.body != nil {
		encoded, err := json.Marshal(job.body)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(encoded)
	}
	method := job.method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(reqCtx, method, job.url, body)
	if err != nil {
		return 0, err
	}
	if job.body != nil && job.headers["Content-Type"] == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range job.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	resp.Body.Close()
	return resp.StatusCode, nil
}

// backoff computes the pause before the next attempt: exponential with
// symmetric jitter.
func (p *webhookPool) backoff(attempt int) time.Duration {
	d := float64(p.retry.BaseMs)
	for i := 1; i < attempt; i++ {
		d *= p.retry.Factor
	}
	jitter := 1 + p.retry.JitterRatio*(2*rand.Float64()-1)
	return time.Duration(d*jitter) * time.Millisecond
}

type httpStatusError struct{ status int }

func (e *httpStatusError) Error() string {
	return "unexpected status " + strconv.Itoa(e.status)
}
