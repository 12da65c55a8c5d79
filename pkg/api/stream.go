package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// StreamState tracks one reply stream through its lifecycle.
type StreamState string

const (
	StreamConnecting StreamState = "connecting"
	StreamStreaming  StreamState = "streaming"
	StreamCompleted  StreamState = "completed"
	StreamFailed     StreamState = "failed"
	StreamCancelled  StreamState = "cancelled"
)

// StreamCallbacks receive stream progress. OnDelta gets the full accumulated
// text after each token, not just the delta, so consumers can overwrite the
// message content atomically. Exactly one of the terminal callbacks fires.
type StreamCallbacks struct {
	OnDelta     func(text string)
	OnCompleted func(text string)
	OnFailed    func(err error)
	OnCancelled func(partial string)
}

// streamPayload is one event on the wire: a token delta, the terminal
// sentinel, or a server-side error.
type streamPayload struct {
	Token string `json:"token,omitempty"`
	Done  bool   `json:"done,omitempty"`
	Error string `json:"error,omitempty"`
}

// StreamReceiver consumes the incremental token stream for one pending
// assistant message. It never retries on its own: a transport failure is
// reported once through OnFailed and the caller decides what to do next
// (in practice, fall back to polling).
type StreamReceiver struct {
	client    *Client
	messageID int64

	mu     sync.Mutex
	state  StreamState
	cancel context.CancelFunc
	buf    strings.Builder
}

// NewStreamReceiver prepares a receiver for the given assistant message.
func (c *Client) NewStreamReceiver(messageID int64) *StreamReceiver {
	return &StreamReceiver{
		client:    c,
		messageID: messageID,
		state:     StreamConnecting,
	}
}

// State returns the current lifecycle state.
func (r *StreamReceiver) State() StreamState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Text returns the text accumulated so far.
func (r *StreamReceiver) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.String()
}

// Cancel closes the stream. A receiver cancelled before or during Run ends in
// StreamCancelled and fires OnCancelled with whatever text arrived.
func (r *StreamReceiver) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StreamCompleted || r.state == StreamFailed || r.state == StreamCancelled {
		return
	}
	r.state = StreamCancelled
	if r.cancel != nil {
		r.cancel()
	}
}

// Run opens the stream and blocks until a terminal state. Callers usually run
// it on its own goroutine.
//
// The token travels as a query parameter: the push transport does not allow
// custom headers, mirroring the EventSource constraint of the web client.
func (r *StreamReceiver) Run(ctx context.Context, cb StreamCallbacks) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	if r.state == StreamCancelled {
		r.mu.Unlock()
		if cb.OnCancelled != nil {
			cb.OnCancelled("")
		}
		return
	}
	r.cancel = cancel
	r.mu.Unlock()

	token, err := r.client.creds.Token(ctx)
	if err != nil {
		r.fail(cb, errors.Wrap(err, "failed to acquire credential for stream"))
		return
	}

	query := url.Values{}
	query.Set("access_token", token)
	u := fmt.Sprintf("%s/api/messages/%d/stream?%s", r.client.baseURL, r.messageID, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		r.fail(cb, errors.Wrap(err, "failed to build stream request"))
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := r.client.httpClient.Do(req)
	if err != nil {
		r.finishTransportError(cb, err)
		return
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.fail(cb, decodeRemoteError(resp))
		return
	}

	r.mu.Lock()
	if r.state == StreamConnecting {
		r.state = StreamStreaming
	}
	r.mu.Unlock()

	log.Debug().Int64("message_id", r.messageID).Msg("reply stream connected")

	decoder := newSSEDecoder(resp.Body)
	for {
		event, err := decoder.Next()
		if err != nil {
			if err == io.EOF {
				// stream ended without the sentinel
				err = errors.New("reply stream closed before completion")
			}
			r.finishTransportError(cb, err)
			return
		}

		var payload streamPayload
		if err := json.Unmarshal([]byte(event.Data), &payload); err != nil {
			r.fail(cb, errors.Wrap(err, "failed to decode stream event"))
			return
		}

		switch {
		case payload.Error != "":
			r.fail(cb, errors.Errorf("stream error: %s", payload.Error))
			return
		case payload.Done:
			r.mu.Lock()
			r.state = StreamCompleted
			text := r.buf.String()
			r.mu.Unlock()
			log.Debug().Int64("message_id", r.messageID).Int("length", len(text)).Msg("reply stream completed")
			if cb.OnCompleted != nil {
				cb.OnCompleted(text)
			}
			return
		case payload.Token != "":
			r.mu.Lock()
			r.buf.WriteString(payload.Token)
			text := r.buf.String()
			r.mu.Unlock()
			if cb.OnDelta != nil {
				cb.OnDelta(text)
			}
		}
	}
}

// finishTransportError routes a transport-level failure to either the
// cancelled or the failed terminal state. Cancellation can surface as a read
// error on the aborted connection, so the receiver's own state wins.
func (r *StreamReceiver) finishTransportError(cb StreamCallbacks, err error) {
	r.mu.Lock()
	cancelled := r.state == StreamCancelled
	partial := r.buf.String()
	if !cancelled {
		r.state = StreamFailed
	}
	r.mu.Unlock()

	if cancelled || IsCancelled(classify(err)) {
		r.mu.Lock()
		r.state = StreamCancelled
		r.mu.Unlock()
		log.Debug().Int64("message_id", r.messageID).Msg("reply stream cancelled")
		if cb.OnCancelled != nil {
			cb.OnCancelled(partial)
		}
		return
	}

	log.Debug().Int64("message_id", r.messageID).Err(err).Msg("reply stream failed")
	if cb.OnFailed != nil {
		cb.OnFailed(classify(err))
	}
}

func (r *StreamReceiver) fail(cb StreamCallbacks, err error) {
	r.mu.Lock()
	cancelled := r.state == StreamCancelled
	partial := r.buf.String()
	if !cancelled {
		r.state = StreamFailed
	}
	r.mu.Unlock()

	if cancelled {
		if cb.OnCancelled != nil {
			cb.OnCancelled(partial)
		}
		return
	}
	log.Debug().Int64("message_id", r.messageID).Err(err).Msg("reply stream failed")
	if cb.OnFailed != nil {
		cb.OnFailed(err)
	}
}
