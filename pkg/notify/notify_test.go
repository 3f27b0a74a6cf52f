package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookDeliversJSON(t *testing.T) {
	var got Event
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n, err := NewWebhook(srv.URL, 0)
	require.NoError(t, err)

	event := Event{
		RunID:   "run-1",
		Status:  "failure",
		Message: "stage unit failed",
		Link:    "https://ci.example.com/runs/run-1",
	}
	require.NoError(t, n.Notify(context.Background(), event))
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, event, got)
}

func TestWebhookNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	n, err := NewWebhook(srv.URL, 0)
	require.NoError(t, err)

	err = n.Notify(context.Background(), Event{RunID: "run-1", Status: "failure"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhookEmptyURL(t *testing.T) {
	_, err := NewWebhook("", 0)
	assert.Error(t, err)
}

func TestWebhookUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	n, err := NewWebhook(srv.URL, 0)
	require.NoError(t, err)
	assert.Error(t, n.Notify(context.Background(), Event{RunID: "run-1"}))
}

func TestBestEffortSwallowsFailures(t *testing.T) {
	calls := 0
	failing := NotifierFunc(func(context.Context, Event) error {
		calls++
		return errors.New("connection refused")
	})

	b := NewBestEffort(failing, nil)
	assert.NoError(t, b.Notify(context.Background(), Event{RunID: "run-1", Status: "failure"}))
	assert.Equal(t, 1, calls)
}

func TestBestEffortNilInner(t *testing.T) {
	b := NewBestEffort(nil, nil)
	assert.NoError(t, b.Notify(context.Background(), Event{RunID: "run-1"}))
}
