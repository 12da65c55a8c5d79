package registry

// Package registry owns the ordered conversation list and the single-active
// invariant. Listing degrades gracefully: remote first, then whatever is
// already in memory, then the local snapshot, and finally a synthetic
// offline placeholder that can never be sent to.

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/stoday/simplechat/pkg/chat"
	"github.com/stoday/simplechat/pkg/events"
)

// OfflineConversationID marks the synthetic placeholder returned when the
// server is unreachable and nothing is cached. It never exists server-side.
const OfflineConversationID int64 = -1

// DefaultTitle matches the server's default for fresh conversations.
const DefaultTitle = "New Chat"

// RemoteAPI is the slice of the backend client the registry needs.
type RemoteAPI interface {
	ListConversations(ctx context.Context) ([]chat.Conversation, error)
	CreateConversation(ctx context.Context, title string) (chat.Conversation, error)
	UpdateConversation(ctx context.Context, id int64, title string) (chat.Conversation, error)
	DeleteConversation(ctx context.Context, id int64) error
}

// Snapshotter persists conversation summaries for the offline fallback.
type Snapshotter interface {
	Save(conversations []chat.Conversation) error
	Load() ([]chat.Conversation, error)
}

type Registry struct {
	api       RemoteAPI
	cache     Snapshotter
	publisher *events.PublisherManager

	mu            sync.Mutex
	conversations []chat.Conversation
}

type Option func(*Registry)

func WithCache(cache Snapshotter) Option {
	return func(r *Registry) {
		r.cache = cache
	}
}

func WithPublisher(publisher *events.PublisherManager) Option {
	return func(r *Registry) {
		r.publisher = publisher
	}
}

func New(api RemoteAPI, options ...Option) *Registry {
	ret := &Registry{api: api}
	for _, option := range options {
		option(ret)
	}
	return ret
}

func (r *Registry) publishUpdated() {
	if r.publisher != nil {
		r.publisher.PublishBlind(events.NewConversationsUpdatedEvent(r.snapshotLocked()))
	}
}

func (r *Registry) snapshotLocked() []chat.Conversation {
	ret := make([]chat.Conversation, len(r.conversations))
	copy(ret, r.conversations)
	return ret
}

// List refreshes the conversation list from the server. On success the
// in-memory order is replaced (active flag preserved by id) and written
// through to the cache. On failure the call degrades instead of erroring:
// the in-memory list if non-empty, else the cached snapshot, else a single
// offline placeholder.
func (r *Registry) List(ctx context.Context) ([]chat.Conversation, error) {
	remote, err := r.api.ListConversations(ctx)
	if err != nil {
		return r.listFallback(err), nil
	}

	r.mu.Lock()
	activeID, hasActive := r.activeIDLocked()
	r.conversations = remote
	if hasActive {
		for i := range r.conversations {
			r.conversations[i].Active = r.conversations[i].ID == activeID
		}
	}
	ret := r.snapshotLocked()
	r.mu.Unlock()

	if r.cache != nil {
		if err := r.cache.Save(ret); err != nil {
			log.Warn().Err(err).Msg("failed to write conversation snapshot")
		}
	}

	r.mu.Lock()
	r.publishUpdated()
	r.mu.Unlock()
	return ret, nil
}

func (r *Registry) listFallback(cause error) []chat.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.conversations) > 0 {
		log.Warn().Err(cause).Msg("conversation listing failed, serving in-memory list")
		return r.snapshotLocked()
	}

	if r.cache != nil {
		cached, err := r.cache.Load()
		if err != nil {
			log.Warn().Err(err).Msg("failed to load conversation snapshot")
		} else if len(cached) > 0 {
			log.Warn().Err(cause).Msg("conversation listing failed, serving cached snapshot")
			r.conversations = cached
			for i := range r.conversations {
				r.conversations[i].Active = false
			}
			return r.snapshotLocked()
		}
	}

	log.Warn().Err(cause).Msg("conversation listing failed with no fallback, entering offline mode")
	r.conversations = []chat.Conversation{{
		ID:      OfflineConversationID,
		Title:   "Offline",
		Offline: true,
		Active:  true,
	}}
	r.publishUpdated()
	return r.snapshotLocked()
}

func (r *Registry) activeIDLocked() (int64, bool) {
	for _, c := range r.conversations {
		if c.Active {
			return c.ID, true
		}
	}
	return 0, false
}

// Create makes a conversation server-side, inserts it at the front and marks
// it active. Nothing is mutated locally when the server rejects the request.
func (r *Registry) Create(ctx context.Context, title string) (chat.Conversation, error) {
	created, err := r.api.CreateConversation(ctx, title)
	if err != nil {
		return chat.Conversation{}, errors.Wrap(err, "failed to create conversation")
	}

	created.Active = true
	r.mu.Lock()
	for i := range r.conversations {
		r.conversations[i].Active = false
	}
	r.conversations = append([]chat.Conversation{created}, r.conversations...)
	r.publishUpdated()
	r.mu.Unlock()

	log.Debug().Int64("conversation_id", created.ID).Str("title", created.Title).Msg("conversation created")
	return created, nil
}

// Rename patches the title server-side and updates the entry in place,
// preserving the active flag and the ordering.
func (r *Registry) Rename(ctx context.Context, id int64, title string) (chat.Conversation, error) {
	updated, err := r.api.UpdateConversation(ctx, id, title)
	if err != nil {
		return chat.Conversation{}, errors.Wrap(err, "failed to rename conversation")
	}

	r.mu.Lock()
	for i := range r.conversations {
		if r.conversations[i].ID == id {
			updated.Active = r.conversations[i].Active
			updated.Offline = r.conversations[i].Offline
			r.conversations[i] = updated
			break
		}
	}
	r.publishUpdated()
	r.mu.Unlock()
	return updated, nil
}

// SetTitle updates a title locally without reordering. Used to propagate the
// server-side auto-generated title picked up from a message-history reload.
func (r *Registry) SetTitle(id int64, title string) {
	r.mu.Lock()
	changed := false
	for i := range r.conversations {
		if r.conversations[i].ID == id && r.conversations[i].Title != title {
			r.conversations[i].Title = title
			changed = true
			break
		}
	}
	if changed {
		r.publishUpdated()
	}
	r.mu.Unlock()
}

// Delete removes the conversation server-side and locally. When the deleted
// conversation was active, the first remaining conversation takes over; when
// none remain, a fresh one is bootstrapped and made active.
func (r *Registry) Delete(ctx context.Context, id int64) error {
	if err := r.api.DeleteConversation(ctx, id); err != nil {
		return errors.Wrap(err, "failed to delete conversation")
	}

	r.mu.Lock()
	wasActive := false
	remaining := r.conversations[:0]
	for _, c := range r.conversations {
		if c.ID == id {
			wasActive = c.Active
			continue
		}
		remaining = append(remaining, c)
	}
	r.conversations = remaining

	if wasActive && len(r.conversations) > 0 {
		for i := range r.conversations {
			r.conversations[i].Active = i == 0
		}
	}
	needsBootstrap := wasActive && len(r.conversations) == 0
	r.publishUpdated()
	r.mu.Unlock()

	log.Debug().Int64("conversation_id", id).Bool("was_active", wasActive).Msg("conversation deleted")

	if needsBootstrap {
		if _, err := r.Create(ctx, DefaultTitle); err != nil {
			return errors.Wrap(err, "failed to bootstrap conversation after delete")
		}
	}
	return nil
}

// SetActive is a pure local transition: the given conversation becomes the
// only active one.
func (r *Registry) SetActive(id int64) error {
	r.mu.Lock()
	found := false
	for i := range r.conversations {
		if r.conversations[i].ID == id {
			found = true
		}
	}
	if !found {
		r.mu.Unlock()
		return errors.Errorf("unknown conversation %d", id)
	}
	for i := range r.conversations {
		r.conversations[i].Active = r.conversations[i].ID == id
	}
	r.publishUpdated()
	r.mu.Unlock()

	if r.publisher != nil {
		r.publisher.PublishBlind(events.NewConversationSelectedEvent(id))
	}
	return nil
}

// Bump moves a conversation to the front and applies a shallow update. The
// most recently used conversation surfaces first.
func (r *Registry) Bump(id int64, update func(*chat.Conversation)) {
	r.mu.Lock()
	idx := -1
	for i := range r.conversations {
		if r.conversations[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return
	}
	bumped := r.conversations[idx]
	if update != nil {
		update(&bumped)
	}
	r.conversations = append(r.conversations[:idx], r.conversations[idx+1:]...)
	r.conversations = append([]chat.Conversation{bumped}, r.conversations...)
	r.publishUpdated()
	r.mu.Unlock()
}

// Active returns the active conversation, if any.
func (r *Registry) Active() (chat.Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conversations {
		if c.Active {
			return c, true
		}
	}
	return chat.Conversation{}, false
}

// Conversations returns a copy of the current list in display order.
func (r *Registry) Conversations() []chat.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}
