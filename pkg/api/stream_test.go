package api

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sseHandler(t *testing.T, events []string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/messages/11/stream", r.URL.Path)
		require.Equal(t, "test-token", r.URL.Query().Get("access_token"))
		require.Empty(t, r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		for _, e := range events {
			_, _ = fmt.Fprintf(w, "data: %s\n\n", e)
			flusher.Flush()
		}
	}
}

func TestStreamAccumulatesTokens(t *testing.T) {
	client := newTestClient(t, sseHandler(t, []string{
		`{"token": "Hello"}`,
		`{"token": ", world"}`,
		`{"done": true}`,
	}))

	receiver := client.NewStreamReceiver(11)
	require.Equal(t, StreamConnecting, receiver.State())

	var deltas []string
	var final string
	receiver.Run(context.Background(), StreamCallbacks{
		OnDelta:     func(text string) { deltas = append(deltas, text) },
		OnCompleted: func(text string) { final = text },
		OnFailed:    func(err error) { t.Errorf("unexpected failure: %v", err) },
	})

	require.Equal(t, []string{"Hello", "Hello, world"}, deltas)
	require.Equal(t, "Hello, world", final)
	require.Equal(t, StreamCompleted, receiver.State())
	require.Equal(t, "Hello, world", receiver.Text())
}

func TestStreamServerErrorPayloadFails(t *testing.T) {
	client := newTestClient(t, sseHandler(t, []string{
		`{"token": "part"}`,
		`{"error": "model exploded"}`,
	}))

	receiver := client.NewStreamReceiver(11)
	var failed error
	receiver.Run(context.Background(), StreamCallbacks{
		OnFailed:    func(err error) { failed = err },
		OnCompleted: func(string) { t.Error("must not complete") },
	})

	require.Error(t, failed)
	require.Contains(t, failed.Error(), "model exploded")
	require.Equal(t, StreamFailed, receiver.State())
	require.Equal(t, "part", receiver.Text())
}

func TestStreamClosedBeforeSentinelFails(t *testing.T) {
	// tokens arrive, then the connection dies without {"done": true}
	client := newTestClient(t, sseHandler(t, []string{
		`{"token": "truncated"}`,
	}))

	receiver := client.NewStreamReceiver(11)
	var failed error
	receiver.Run(context.Background(), StreamCallbacks{
		OnFailed:    func(err error) { failed = err },
		OnCompleted: func(string) { t.Error("must not complete") },
		OnCancelled: func(string) { t.Error("must not report cancelled") },
	})

	require.Error(t, failed)
	require.Equal(t, StreamFailed, receiver.State())
}

func TestStreamNon2xxFails(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail": "Invalid token"}`))
	})

	receiver := client.NewStreamReceiver(11)
	var failed error
	receiver.Run(context.Background(), StreamCallbacks{
		OnFailed: func(err error) { failed = err },
	})

	require.Error(t, failed)
	re, ok := AsRemote(failed)
	require.True(t, ok)
	require.Equal(t, http.StatusUnauthorized, re.StatusCode)
}

func TestStreamCancelMidStreamReportsPartial(t *testing.T) {
	firstTokenSent := make(chan struct{})
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		_, _ = fmt.Fprintf(w, "data: %s\n\n", `{"token": "partial text"}`)
		flusher.Flush()
		close(firstTokenSent)
		<-release
	})
	defer close(release)

	receiver := client.NewStreamReceiver(11)

	cancelled := make(chan string, 1)
	go receiver.Run(context.Background(), StreamCallbacks{
		OnDelta: func(string) {},
		OnCancelled: func(partial string) {
			cancelled <- partial
		},
		OnFailed:    func(err error) { t.Errorf("must not fail: %v", err) },
		OnCompleted: func(string) { t.Error("must not complete") },
	})

	<-firstTokenSent
	require.Eventually(t, func() bool {
		return receiver.Text() == "partial text"
	}, time.Second, 5*time.Millisecond)

	receiver.Cancel()

	select {
	case partial := <-cancelled:
		require.Equal(t, "partial text", partial)
	case <-time.After(5 * time.Second):
		t.Fatal("OnCancelled never fired")
	}
	require.Equal(t, StreamCancelled, receiver.State())
}

func TestStreamCancelledBeforeRun(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not reach the server")
	})

	receiver := client.NewStreamReceiver(11)
	receiver.Cancel()

	var cancelled bool
	receiver.Run(context.Background(), StreamCallbacks{
		OnCancelled: func(string) { cancelled = true },
		OnFailed:    func(err error) { t.Errorf("must not fail: %v", err) },
	})
	require.True(t, cancelled)
}

func TestStreamCancelOnTerminalStateIsNoop(t *testing.T) {
	client := newTestClient(t, sseHandler(t, []string{`{"done": true}`}))

	receiver := client.NewStreamReceiver(11)
	receiver.Run(context.Background(), StreamCallbacks{})
	require.Equal(t, StreamCompleted, receiver.State())

	receiver.Cancel()
	require.Equal(t, StreamCompleted, receiver.State())
}
