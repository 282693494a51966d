package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"hookahplus/internal/config"
	"hookahplus/internal/domain"
	"hookahplus/internal/engine"
	"hookahplus/internal/events"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// WebhookDispatcher polls the event log and posts new events to each
// configured hook. Every hook keeps its own cursor and starts at the end of
// the log, so events recorded before startup are not replayed.
type WebhookDispatcher struct {
	engine   *engine.Engine
	lounge   string
	webhooks []config.WebhookConfig
	client   *http.Client
	logger   *log.Logger
	interval time.Duration
	mu       sync.Mutex
	cursors  map[int]int64
}

func NewWebhookDispatcher(e *engine.Engine, logger *log.Logger) *WebhookDispatcher {
	if logger == nil {
		logger = log.Default()
	}
	d := &WebhookDispatcher{
		engine:   e,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		logger:   logger,
		interval: defaultWebhookInterval,
		cursors:  make(map[int]int64),
	}
	if e.Config != nil {
		d.lounge = e.Config.Lounge.ID
		d.webhooks = e.Config.Webhooks
	}
	return d
}

// Enabled reports whether any hook would receive deliveries.
func (d *WebhookDispatcher) Enabled() bool {
	for _, hook := range d.webhooks {
		if hookActive(hook) {
			return true
		}
	}
	return false
}

// Run dispatches until ctx is done.
func (d *WebhookDispatcher) Run(ctx context.Context) {
	if !d.Enabled() {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce delivers every pending event once per hook.
func (d *WebhookDispatcher) DispatchOnce(ctx context.Context) {
	for i, hook := range d.webhooks {
		if !hookActive(hook) {
			continue
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

func hookActive(hook config.WebhookConfig) bool {
	if hook.Enabled != nil && !*hook.Enabled {
		return false
	}
	return strings.TrimSpace(hook.URL) != ""
}

func (d *WebhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	cursor := d.cursorFor(ctx, idx)
	pending, err := d.engine.EventsAfter(ctx, cursor, defaultWebhookBatch)
	if err != nil {
		d.logger.Printf("webhook: fetch events failed: %v", err)
		return
	}
	filter := events.NewFilter(hook.Events)
	for _, evt := range pending {
		if !filter.Match(evt.ButtonPressed) {
			d.setCursor(idx, evt.Seq)
			continue
		}
		if err := d.postEvent(ctx, hook, evt); err != nil {
			d.logger.Printf("webhook: deliver to %s failed: %v", hook.URL, err)
			return
		}
		d.setCursor(idx, evt.Seq)
	}
}

func (d *WebhookDispatcher) cursorFor(ctx context.Context, idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.engine.LatestEventSeq(ctx)
	if err != nil {
		d.logger.Printf("webhook: init cursor failed: %v", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *WebhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

// WebhookEvent is the body posted to webhook receivers.
type WebhookEvent struct {
	Seq       int64                `json:"seq"`
	ID        string               `json:"id"`
	Type      domain.Button        `json:"type"`
	LoungeID  string               `json:"lounge_id"`
	SessionID string               `json:"session_id"`
	TableID   string               `json:"table_id"`
	Status    domain.Status        `json:"status"`
	StaffRole domain.Role          `json:"staff_role"`
	StaffID   string               `json:"staff_id,omitempty"`
	TS        string               `json:"ts"`
	Event     domain.WorkflowEvent `json:"event"`
}

func (d *WebhookDispatcher) postEvent(ctx context.Context, hook config.WebhookConfig, evt domain.WorkflowEvent) error {
	body := WebhookEvent{
		Seq:       evt.Seq,
		ID:        evt.ID,
		Type:      evt.ButtonPressed,
		LoungeID:  d.lounge,
		SessionID: evt.SessionID,
		TableID:   evt.NewState.TableID,
		Status:    evt.StatusTag,
		StaffRole: evt.StaffRole,
		StaffID:   evt.StaffID,
		TS:        evt.Timestamp.UTC().Format(time.RFC3339Nano),
		Event:     evt,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := d.client
	if timeout != d.client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hookahplus-Event", string(evt.ButtonPressed))
	req.Header.Set("X-Hookahplus-Delivery", fmt.Sprintf("%d", evt.Seq))
	req.Header.Set("X-Hookahplus-Lounge", d.lounge)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Hookahplus-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}
