package engine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberfall/cinder/internal/metrics"
	"github.com/emberfall/cinder/internal/rule"
	"github.com/emberfall/cinder/internal/testutil"
)

func newTestPool(t *testing.T, retry WebhookRetry) *webhookPool {
	t.Helper()
	m := metrics.New(metrics.Options{Registerer: prometheus.NewRegistry()})
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := newWebhookPool(retry, log, m)
	t.Cleanup(p.Stop)
	return p
}

func TestWebhookRetry_WithDefaults(t *testing.T) {
	d := WebhookRetry{}.withDefaults()
	assert.Equal(t, DefaultWebhookRetry, d)

	custom := WebhookRetry{Attempts: 5, BaseMs: 50}.withDefaults()
	assert.Equal(t, 5, custom.Attempts)
	assert.Equal(t, int64(50), custom.BaseMs)
	assert.Equal(t, DefaultWebhookRetry.Factor, custom.Factor)
	assert.Equal(t, DefaultWebhookRetry.TimeoutMs, custom.TimeoutMs)
}

func TestWebhookPool_DeliversJSONBody(t *testing.T) {
	type received struct {
		method, contentType, token string
		body                       map[string]any
	}
	got := make(chan received, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got <- received{
			method:      r.Method,
			contentType: r.Header.Get("Content-Type"),
			token:       r.Header.Get("X-Token"),
			body:        body,
		}
	}))
	defer srv.Close()

	p := newTestPool(t, WebhookRetry{Attempts: 1})
	require.True(t, p.Submit(webhookJob{
		ruleID:  "r-1",
		url:     srv.URL,
		headers: map[string]string{"X-Token": "secret"},
		body:    map[string]any{"orderId": "order-77"},
	}))

	select {
	case r := <-got:
		assert.Equal(t, http.MethodPost, r.method, "POST is the default method")
		assert.Equal(t, "application/json", r.contentType)
		assert.Equal(t, "secret", r.token)
		assert.Equal(t, map[string]any{"orderId": "order-77"}, r.body)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was never delivered")
	}
}

func TestWebhookPool_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		close(done)
	}))
	defer srv.Close()

	p := newTestPool(t, WebhookRetry{Attempts: 3, BaseMs: 1, Factor: 1})
	require.True(t, p.Submit(webhookJob{ruleID: "r-1", url: srv.URL}))

	select {
	case <-done:
		assert.Equal(t, int64(3), calls.Load())
	case <-time.After(5 * time.Second):
		t.Fatal("expected the third attempt to succeed")
	}
}

func TestWebhookPool_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int64
	first := make(chan struct{}, 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		first <- struct{}{}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := newTestPool(t, WebhookRetry{Attempts: 3, BaseMs: 1, Factor: 1})
	require.True(t, p.Submit(webhookJob{ruleID: "r-1", url: srv.URL}))

	select {
	case <-first:
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was never attempted")
	}
	// A retry would land within a millisecond or two; give it room.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(1), calls.Load(), "4xx responses do not retry")
}

func TestWebhookPool_Backoff(t *testing.T) {
	p := newTestPool(t, WebhookRetry{BaseMs: 100, Factor: 2, JitterRatio: 0.25})

	for i := 0; i < 20; i++ {
		first := p.backoff(1)
		assert.GreaterOrEqual(t, first, 75*time.Millisecond)
		assert.LessOrEqual(t, first, 125*time.Millisecond)

		third := p.backoff(3)
		assert.GreaterOrEqual(t, third, 300*time.Millisecond)
		assert.LessOrEqual(t, third, 500*time.Millisecond)
	}
}

func TestEngine_CallWebhookAction(t *testing.T) {
	got := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got <- body
	}))
	defer srv.Close()

	eng := New(
		WithName("test"),
		WithClock(testutil.NewManualClock()),
		WithIDGenerator(testutil.NewSequentialIDs("evt")),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(metrics.Options{Registerer: prometheus.NewRegistry()}),
		WithWebhookRetry(WebhookRetry{Attempts: 1}),
	)
	t.Cleanup(eng.webhooks.Stop)

	ctx := context.Background()
	_, err := eng.Rules().Register(ctx, &rule.Rule{
		ID: "notify", Name: "Notify", Enabled: true,
		Trigger: rule.Trigger{Type: rule.TriggerEvent, Topic: "order.created"},
		Actions: []rule.Action{{
			Type: rule.ActionCallWebhook,
			URL:  srv.URL,
			Body: map[string]any{"orderId": "{{event.orderId}}", "amount": "{{event.amount}}"},
		}},
	})
	require.NoError(t, err)

	eng.Emit("order.created", map[string]any{"orderId": "order-77", "amount": 12.5})
	eng.Drain(ctx)

	select {
	case body := <-got:
		assert.Equal(t, "order-77", body["orderId"])
		assert.Equal(t, 12.5, body["amount"], "whole-reference templates keep the value's type")
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was never delivered")
	}
}
