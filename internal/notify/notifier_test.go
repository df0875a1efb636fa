package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu     sync.Mutex
	titles []string
	err    error
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.titles = append(r.titles, title)
	return nil
}

func (r *recordingSender) Name() string { return "recording" }

func TestNotifierEventFilter(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifier([]Sender{sender}, []string{"breaker_tripped"}, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, "breaker_tripped", "tripped", "WETH"))
	require.NoError(t, n.Notify(ctx, "offer_created", "ignored", "x"))
	assert.Equal(t, []string{"tripped"}, sender.titles)

	// NotifyAll bypasses the filter.
	require.NoError(t, n.NotifyAll(ctx, "everything", "x"))
	assert.Equal(t, []string{"tripped", "everything"}, sender.titles)
}

func TestNotifierCollectsSenderErrors(t *testing.T) {
	good := &recordingSender{}
	bad := &recordingSender{err: errors.New("unreachable")}
	n := NewNotifier([]Sender{bad, good}, nil, slog.New(slog.DiscardHandler))

	err := n.Notify(context.Background(), "paused", "title", "msg")
	require.Error(t, err)
	// The failing sender does not block delivery to the healthy one.
	assert.Equal(t, []string{"title"}, good.titles)
}

func TestWebhookSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := NewWebhookSender(srv.URL)
	require.NoError(t, sender.Send(context.Background(), "Circuit breaker tripped", "token=WETH"))
	assert.Equal(t, "Circuit breaker tripped", got["title"])
	assert.Equal(t, "token=WETH", got["message"])
	assert.NotEmpty(t, got["timestamp"])
}

func TestWebhookSenderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	sender := NewWebhookSender(srv.URL)
	err := sender.Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
