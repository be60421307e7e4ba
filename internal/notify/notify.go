// Package notify delivers settlement events to an external webhook.
// Delivery is best effort: a failed notification is logged and dropped,
// never allowed to affect the settlement it describes.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// PlaySettledEvent is emitted after a play log is committed.
type PlaySettledEvent struct {
	PlayLogID    string    `json:"play_log_id"`
	TrackID      string    `json:"track_id"`
	StationID    string    `json:"station_id"`
	Royalty      string    `json:"royalty"`
	DurationSecs int64     `json:"duration_secs"`
	Timestamp    time.Time `json:"timestamp"`
}

// SettlementFailedEvent is emitted when a claimed group could not be
// settled into a play log, so the station operator learns about the
// held-up royalty without polling failed_play_logs.
type SettlementFailedEvent struct {
	TrackID    string    `json:"track_id"`
	TrackTitle string    `json:"track_title"`
	StationID  string    `json:"station_id"`
	Reason     string    `json:"reason"`
	WillRetry  bool      `json:"will_retry"`
	Timestamp  time.Time `json:"timestamp"`
}

// Notifier receives settlement events.
type Notifier interface {
	PlaySettled(ctx context.Context, ev PlaySettledEvent)
	SettlementFailed(ctx context.Context, ev SettlementFailedEvent)
}

// Noop discards all events.
type Noop struct{}

func (Noop) PlaySettled(context.Context, PlaySettledEvent) {}

func (Noop) SettlementFailed(context.Context, SettlementFailedEvent) {}

// Webhook posts events as JSON to a configured URL.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a webhook notifier. An empty URL yields a notifier
// that drops everything.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// PlaySettled posts the event. Errors are logged, not returned.
func (w *Webhook) PlaySettled(ctx context.Context, ev PlaySettledEvent) {
	if w.url == "" {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	if err := w.post(ctx, ev); err != nil {
		zap.L().Error("notify: webhook delivery failed",
			zap.String("play_log_id", ev.PlayLogID),
			zap.Error(err),
		)
		return
	}
	zap.L().Debug("notify: settlement event delivered",
		zap.String("play_log_id", ev.PlayLogID),
	)
}

// SettlementFailed posts the event. Errors are logged, not returned.
func (w *Webhook) SettlementFailed(ctx context.Context, ev SettlementFailedEvent) {
	if w.url == "" {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	if err := w.post(ctx, ev); err != nil {
		zap.L().Error("notify: webhook delivery failed",
			zap.String("track_id", ev.TrackID),
			zap.String("station_id", ev.StationID),
			zap.Error(err),
		)
		return
	}
	zap.L().Debug("notify: settlement failure event delivered",
		zap.String("track_id", ev.TrackID),
		zap.String("station_id", ev.StationID),
	)
}

func (w *Webhook) post(ctx context.Context, ev any) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "notify: marshal event")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
