package callback

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type staticLister struct{ urls []CallbackURL }

func (s staticLister) ListCallbackURLs(_ context.Context, _ string) ([]CallbackURL, error) {
	return s.urls, nil
}

func TestDispatcherDeliversToRegisteredURL(t *testing.T) {
	var mu sync.Mutex
	var received map[string]any
	gotCh := make(chan struct{}, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		_ = json.Unmarshal(body, &received)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		select {
		case gotCh <- struct{}{}:
		default:
		}
	}))
	defer srv.Close()

	lister := staticLister{urls: []CallbackURL{{Name: "primary", URL: srv.URL}}}
	d, err := New(lister, Config{Workers: 1, QueueSize: 4}, slog.Default())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	d.Notify(context.Background(), Event{ApplicationID: "app-1", ActivationID: "act-1", Attributes: map[string]any{"status": "ACTIVE"}})

	select {
	case <-gotCh:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not delivered in time")
	}
	cancel()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "ACTIVE", received["status"])
}

func TestDispatcherDropsWhenNoCallbacksRegistered(t *testing.T) {
	lister := staticLister{urls: nil}
	d, err := New(lister, Config{Workers: 1, QueueSize: 4}, slog.Default())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Notify(context.Background(), Event{ApplicationID: "app-1"})
	require.Len(t, d.queue, 0)
}
