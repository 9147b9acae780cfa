package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/toposync/internal/logger"
)

func sampleEvent() Event {
	return Event{
		Topic:               DefaultTopic,
		SweepID:             "sweep-1",
		At:                  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Inserted:            3,
		AvailabilityChanges: 1,
		Endpoints:           []string{"a", "b"},
	}
}

func TestWebhook_Delivers(t *testing.T) {
	var got Event
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("X-Toposync-Event")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	wh, err := NewWebhook(srv.URL, nil)
	require.NoError(t, err)
	require.NoError(t, wh.Notify(context.Background(), sampleEvent()))

	assert.Equal(t, DefaultTopic, header)
	assert.Equal(t, sampleEvent(), got)
}

func TestWebhook_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh, err := NewWebhook(srv.URL, nil)
	require.NoError(t, err)
	assert.Error(t, wh.Notify(context.Background(), sampleEvent()))

	_, err = NewWebhook("", nil)
	assert.Error(t, err)
}

func TestEventWireFormat(t *testing.T) {
	data, err := encode(sampleEvent())
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"event": "destination.update",
		"sweep_id": "sweep-1",
		"at": "2026-01-02T03:04:05Z",
		"inserted": 3,
		"availability_changes": 1,
		"endpoints": ["a", "b"]
	}`, string(data))
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"redis", "webhook", "log"} {
		m, err := ParseMode(s)
		require.NoError(t, err)
		assert.Equal(t, Mode(s), m)
	}
	_, err := ParseMode("rabbitmq")
	assert.Error(t, err)
}

func TestLogNotifier(t *testing.T) {
	assert.NoError(t, NewLog(logger.Nop()).Notify(context.Background(), sampleEvent()))
}
