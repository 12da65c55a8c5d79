package store

// Package store owns the per-conversation message buckets. A bucket is an
// ordered slice of messages; order is insertion order and is only ever
// changed by a wholesale Replace. All mutations are serialized by the store's
// mutex and announced through the publisher so observers can re-render.

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/stoday/simplechat/pkg/chat"
	"github.com/stoday/simplechat/pkg/events"
)

type Store struct {
	mu        sync.Mutex
	buckets   map[int64][]chat.Message
	publisher *events.PublisherManager
}

type Option func(*Store)

func WithPublisher(publisher *events.PublisherManager) Option {
	return func(s *Store) {
		s.publisher = publisher
	}
}

func New(options ...Option) *Store {
	ret := &Store{
		buckets: make(map[int64][]chat.Message),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

func (s *Store) publish(event interface{}) {
	if s.publisher != nil {
		s.publisher.PublishBlind(event)
	}
}

// EnsureBucket lazily creates an empty bucket. Idempotent.
func (s *Store) EnsureBucket(conversationID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buckets[conversationID]; !ok {
		s.buckets[conversationID] = []chat.Message{}
	}
}

// Replace installs the server's authoritative message history, discarding any
// optimistic entries.
func (s *Store) Replace(conversationID int64, messages []chat.Message) {
	s.mu.Lock()
	bucket := make([]chat.Message, len(messages))
	copy(bucket, messages)
	s.buckets[conversationID] = bucket
	s.mu.Unlock()

	log.Trace().Int64("conversation_id", conversationID).Int("count", len(messages)).Msg("bucket replaced")
	s.publish(events.NewMessagesReplacedEvent(conversationID, bucket))
}

// Append adds messages to the end of a bucket, creating it if needed. Used
// for optimistic insertion right after a successful send.
func (s *Store) Append(conversationID int64, messages ...chat.Message) {
	s.mu.Lock()
	s.buckets[conversationID] = append(s.buckets[conversationID], messages...)
	s.mu.Unlock()

	for _, msg := range messages {
		s.publish(events.NewMessageAppendedEvent(conversationID, msg))
	}
}

// UpdateContent overwrites a single message's text in place, leaving the rest
// of the bucket untouched. Returns false when the message is not present.
func (s *Store) UpdateContent(conversationID, messageID int64, content string) bool {
	s.mu.Lock()
	bucket := s.buckets[conversationID]
	updated := false
	var status chat.Status
	for i := range bucket {
		if bucket[i].ID == messageID {
			bucket[i].Content = content
			status = bucket[i].Status
			updated = true
			break
		}
	}
	s.mu.Unlock()

	if updated {
		s.publish(events.NewMessageUpdatedEvent(conversationID, messageID, content, status))
	}
	return updated
}

// MarkCompleted transitions a message to completed with its final text.
func (s *Store) MarkCompleted(conversationID, messageID int64, content string) bool {
	return s.transition(conversationID, messageID, content, chat.StatusCompleted, nil)
}

// MarkCancelled performs the optimistic local stop transition: the partial
// text is preserved and the stop timestamp recorded before the server has
// acknowledged anything.
func (s *Store) MarkCancelled(conversationID, messageID int64, partial, stoppedAt string) bool {
	return s.transition(conversationID, messageID, partial, chat.StatusCancelled, &stoppedAt)
}

func (s *Store) transition(conversationID, messageID int64, content string, status chat.Status, stoppedAt *string) bool {
	s.mu.Lock()
	bucket := s.buckets[conversationID]
	updated := false
	for i := range bucket {
		if bucket[i].ID == messageID {
			bucket[i].Content = content
			bucket[i].Status = status
			if stoppedAt != nil {
				bucket[i].StoppedAt = stoppedAt
			}
			updated = true
			break
		}
	}
	s.mu.Unlock()

	if updated {
		log.Debug().
			Int64("conversation_id", conversationID).
			Int64("message_id", messageID).
			Str("status", string(status)).
			Msg("message transitioned")
		s.publish(events.NewMessageUpdatedEvent(conversationID, messageID, content, status))
	}
	return updated
}

// Remove evicts a conversation's bucket entirely.
func (s *Store) Remove(conversationID int64) {
	s.mu.Lock()
	delete(s.buckets, conversationID)
	s.mu.Unlock()
}

// Messages returns a copy of the bucket, in turn order.
func (s *Store) Messages(conversationID int64) []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.buckets[conversationID]
	ret := make([]chat.Message, len(bucket))
	copy(ret, bucket)
	return ret
}

// HasBucket reports whether a bucket exists for the conversation.
func (s *Store) HasBucket(conversationID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.buckets[conversationID]
	return ok
}

// PendingAssistant returns the pending assistant message of a conversation,
// if any. The session guarantees there is at most one.
func (s *Store) PendingAssistant(conversationID int64) (chat.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.buckets[conversationID] {
		if msg.Pending() {
			return msg, true
		}
	}
	return chat.Message{}, false
}
