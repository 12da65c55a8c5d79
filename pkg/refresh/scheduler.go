package refresh

// Package refresh implements the polling fallback for replies that are still
// generating. A one-shot timer per conversation reloads the message history;
// while a reply stays pending the timer re-arms at the same interval, bounded
// by a wall-clock cap so a dead reply cannot keep the client polling forever.

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultInterval = 1500 * time.Millisecond
	DefaultMaxWait  = 2 * time.Minute
)

// ReloadFunc reloads a conversation's history and reports whether an
// assistant reply is still pending afterwards.
type ReloadFunc func(ctx context.Context, conversationID int64) (stillPending bool, err error)

type entry struct {
	timer    *time.Timer
	deadline time.Time
}

type Scheduler struct {
	reload   ReloadFunc
	interval time.Duration
	maxWait  time.Duration
	onGiveUp func(conversationID int64)

	mu      sync.Mutex
	entries map[int64]*entry
	closed  bool
}

type Option func(*Scheduler)

func WithInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		s.interval = interval
	}
}

func WithMaxWait(maxWait time.Duration) Option {
	return func(s *Scheduler) {
		s.maxWait = maxWait
	}
}

// WithOnGiveUp installs a callback fired when a reply is still pending after
// the wall-clock cap. The scheduler stops polling that conversation.
func WithOnGiveUp(onGiveUp func(conversationID int64)) Option {
	return func(s *Scheduler) {
		s.onGiveUp = onGiveUp
	}
}

func New(reload ReloadFunc, options ...Option) *Scheduler {
	ret := &Scheduler{
		reload:   reload,
		interval: DefaultInterval,
		maxWait:  DefaultMaxWait,
		entries:  make(map[int64]*entry),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Schedule arms a one-shot refresh for the conversation. An already-armed
// conversation keeps its original give-up deadline; the timer is just reset.
func (s *Scheduler) Schedule(conversationID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if existing, ok := s.entries[conversationID]; ok {
		existing.timer.Reset(s.interval)
		return
	}

	e := &entry{deadline: time.Now().Add(s.maxWait)}
	e.timer = time.AfterFunc(s.interval, func() {
		s.fire(conversationID)
	})
	s.entries[conversationID] = e
	log.Trace().Int64("conversation_id", conversationID).Dur("interval", s.interval).Msg("refresh scheduled")
}

func (s *Scheduler) fire(conversationID int64) {
	s.mu.Lock()
	e, ok := s.entries[conversationID]
	if !ok || s.closed {
		s.mu.Unlock()
		return
	}
	deadline := e.deadline
	s.mu.Unlock()

	stillPending, err := s.reload(context.Background(), conversationID)
	if err != nil {
		// polling is the silent fallback path; keep trying until the cap
		log.Debug().Err(err).Int64("conversation_id", conversationID).Msg("refresh reload failed")
		stillPending = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok = s.entries[conversationID]
	if !ok || s.closed {
		return
	}

	if !stillPending {
		delete(s.entries, conversationID)
		log.Trace().Int64("conversation_id", conversationID).Msg("refresh finished")
		return
	}

	if time.Now().After(deadline) {
		delete(s.entries, conversationID)
		log.Warn().Int64("conversation_id", conversationID).Dur("max_wait", s.maxWait).Msg("giving up on pending reply")
		if s.onGiveUp != nil {
			go s.onGiveUp(conversationID)
		}
		return
	}

	e.timer.Reset(s.interval)
}

// Cancel clears any armed refresh for the conversation. Must be called on
// conversation deletion, on stream completion and on explicit stop.
func (s *Scheduler) Cancel(conversationID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[conversationID]; ok {
		e.timer.Stop()
		delete(s.entries, conversationID)
	}
}

// Armed reports whether a refresh is currently scheduled for the
// conversation.
func (s *Scheduler) Armed(conversationID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[conversationID]
	return ok
}

// Close stops all timers. The scheduler cannot be reused afterwards.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, id)
	}
}
