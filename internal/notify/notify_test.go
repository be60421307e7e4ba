package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhook_PlaySettled_PostsJSON(t *testing.T) {
	var got PlaySettledEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL)
	w.PlaySettled(context.Background(), PlaySettledEvent{
		PlayLogID:    "pl-1",
		TrackID:      "track-a",
		StationID:    "station-1",
		Royalty:      "0.18",
		DurationSecs: 35,
	})

	assert.Equal(t, "pl-1", got.PlayLogID)
	assert.Equal(t, "0.18", got.Royalty)
	assert.False(t, got.Timestamp.IsZero(), "timestamp is stamped when absent")
}

func TestWebhook_SettlementFailed_PostsJSON(t *testing.T) {
	var got SettlementFailedEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL)
	w.SettlementFailed(context.Background(), SettlementFailedEvent{
		TrackID:    "track-a",
		TrackTitle: "Night Drive",
		StationID:  "station-1",
		Reason:     "ledger: insufficient funds",
		WillRetry:  true,
	})

	assert.Equal(t, "Night Drive", got.TrackTitle)
	assert.Equal(t, "station-1", got.StationID)
	assert.Equal(t, "ledger: insufficient funds", got.Reason)
	assert.True(t, got.WillRetry)
	assert.False(t, got.Timestamp.IsZero(), "timestamp is stamped when absent")
}

func TestWebhook_PlaySettled_ServerErrorIsSwallowed(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL)
	w.PlaySettled(context.Background(), PlaySettledEvent{PlayLogID: "pl-1", Timestamp: time.Now()})
	assert.Equal(t, int32(1), calls.Load())
}

func TestWebhook_EmptyURLDropsEvents(t *testing.T) {
	w := NewWebhook("")
	w.PlaySettled(context.Background(), PlaySettledEvent{PlayLogID: "pl-1"})
}
