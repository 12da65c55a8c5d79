package session

// Package session wires the registry, the message store, the upload channel,
// the stream receiver and the refresh scheduler into the six operations the
// presentation layer calls. One Orchestrator exists per signed-in session;
// it is constructed at session start and torn down with Close at logout.

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/stoday/simplechat/pkg/api"
	"github.com/stoday/simplechat/pkg/chat"
	"github.com/stoday/simplechat/pkg/events"
	"github.com/stoday/simplechat/pkg/refresh"
	"github.com/stoday/simplechat/pkg/registry"
	"github.com/stoday/simplechat/pkg/store"
)

type Orchestrator struct {
	client    *api.Client
	registry  *registry.Registry
	store     *store.Store
	scheduler *refresh.Scheduler
	publisher *events.PublisherManager
	logger    zerolog.Logger

	ctx       context.Context
	ctxCancel context.CancelFunc

	mu      sync.Mutex
	upload  *api.Upload
	streams map[int64]*api.StreamReceiver
	pending map[int64]int64 // conversation id -> pending assistant message id
}

type Option func(*options)

type options struct {
	cache         registry.Snapshotter
	publisher     *events.PublisherManager
	logger        zerolog.Logger
	schedulerOpts []refresh.Option
}

func WithCache(cache registry.Snapshotter) Option {
	return func(o *options) {
		o.cache = cache
	}
}

func WithPublisher(publisher *events.PublisherManager) Option {
	return func(o *options) {
		o.publisher = publisher
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRefreshOptions forwards tuning options to the pending-refresh
// scheduler, mostly useful in tests.
func WithRefreshOptions(opts ...refresh.Option) Option {
	return func(o *options) {
		o.schedulerOpts = append(o.schedulerOpts, opts...)
	}
}

func New(client *api.Client, opts ...Option) *Orchestrator {
	cfg := &options{logger: log.Logger}
	for _, opt := range opts {
		opt(cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ret := &Orchestrator{
		client:    client,
		publisher: cfg.publisher,
		logger:    cfg.logger,
		ctx:       ctx,
		ctxCancel: cancel,
		streams:   make(map[int64]*api.StreamReceiver),
		pending:   make(map[int64]int64),
	}

	registryOpts := []registry.Option{}
	storeOpts := []store.Option{}
	if cfg.cache != nil {
		registryOpts = append(registryOpts, registry.WithCache(cfg.cache))
	}
	if cfg.publisher != nil {
		registryOpts = append(registryOpts, registry.WithPublisher(cfg.publisher))
		storeOpts = append(storeOpts, store.WithPublisher(cfg.publisher))
	}
	ret.registry = registry.New(client, registryOpts...)
	ret.store = store.New(storeOpts...)

	schedulerOpts := append([]refresh.Option{
		refresh.WithOnGiveUp(func(conversationID int64) {
			ret.logger.Warn().Int64("conversation_id", conversationID).Msg("reply still generating past the polling cap")
			ret.publish(events.NewStillGeneratingEvent(conversationID))
		}),
	}, cfg.schedulerOpts...)
	ret.scheduler = refresh.New(ret.reloadMessages, schedulerOpts...)

	return ret
}

func (o *Orchestrator) publish(event interface{}) {
	if o.publisher != nil {
		o.publisher.PublishBlind(event)
	}
}

// Registry exposes the conversation list for the presentation layer.
func (o *Orchestrator) Registry() *registry.Registry {
	return o.registry
}

// Store exposes the message buckets for the presentation layer.
func (o *Orchestrator) Store() *store.Store {
	return o.store
}

// Initialize loads the conversation list and the active conversation's
// history. Every session starts in a compose state: when the most recently
// used conversation already holds messages, a fresh one is created and made
// active instead.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	conversations, err := o.registry.List(ctx)
	if err != nil {
		return err
	}
	if len(conversations) == 0 {
		created, err := o.registry.Create(ctx, registry.DefaultTitle)
		if err != nil {
			return errors.Wrap(err, "failed to bootstrap first conversation")
		}
		conversations = []chat.Conversation{created}
	}

	if _, ok := o.registry.Active(); !ok {
		if err := o.registry.SetActive(conversations[0].ID); err != nil {
			return err
		}
	}

	active, _ := o.registry.Active()
	if !active.Offline && active.MessageCount > 0 {
		created, err := o.registry.Create(ctx, registry.DefaultTitle)
		if err != nil {
			// degraded start: keep the existing conversation
			o.logger.Warn().Err(err).Msg("failed to open a fresh conversation, resuming the last one")
		} else {
			active = created
		}
	}

	o.store.EnsureBucket(active.ID)
	if active.Offline {
		return nil
	}

	stillPending, err := o.reloadMessages(ctx, active.ID)
	if err != nil {
		o.logger.Warn().Err(err).Int64("conversation_id", active.ID).Msg("failed to load message history")
		return nil
	}
	if stillPending {
		o.scheduler.Schedule(active.ID)
	}
	return nil
}

// Resync is the single resynchronization point after a connectivity gap: it
// re-runs the conversation listing and reloads the active conversation's
// history.
func (o *Orchestrator) Resync(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := o.registry.List(ctx)
		return err
	})
	if active, ok := o.registry.Active(); ok && !active.Offline {
		g.Go(func() error {
			stillPending, err := o.reloadMessages(ctx, active.ID)
			if err != nil {
				return err
			}
			if stillPending {
				o.scheduler.Schedule(active.ID)
			}
			return nil
		})
	}
	return g.Wait()
}

// reloadMessages fetches the authoritative history for a conversation,
// replaces the bucket and propagates the server-side auto-title. It reports
// whether an assistant reply is still pending.
func (o *Orchestrator) reloadMessages(ctx context.Context, conversationID int64) (bool, error) {
	list, err := o.client.ListMessages(ctx, conversationID)
	if err != nil {
		return false, err
	}
	o.store.Replace(conversationID, list.Messages)
	if list.ConversationTitle != "" {
		o.registry.SetTitle(conversationID, list.ConversationTitle)
	}

	var pendingID int64
	for i := range list.Messages {
		if list.Messages[i].Pending() {
			pendingID = list.Messages[i].ID
			break
		}
	}

	o.mu.Lock()
	if pendingID != 0 {
		o.pending[conversationID] = pendingID
	} else {
		delete(o.pending, conversationID)
	}
	o.mu.Unlock()

	return pendingID != 0, nil
}

// SendMessage posts text plus attachments as one request, optimistically
// appends the returned messages and starts streaming the reply. Empty sends
// are a no-op; a send into a conversation with a reply still generating is
// refused. A user-cancelled upload is deliberate abandonment and returns
// (nil, nil) rather than an error.
func (o *Orchestrator) SendMessage(ctx context.Context, text string, files []api.FileUpload) (*chat.SendResult, error) {
	if strings.TrimSpace(text) == "" && len(files) == 0 {
		return nil, nil
	}

	active, ok := o.registry.Active()
	if !ok {
		return nil, &api.ValidationError{Reason: "no active conversation selected"}
	}
	if active.Offline {
		return nil, &api.ValidationError{Reason: "cannot send while offline"}
	}

	o.mu.Lock()
	if _, busy := o.pending[active.ID]; busy {
		o.mu.Unlock()
		return nil, &api.ValidationError{Reason: "a reply is still being generated"}
	}
	// a new send supersedes and cancels any previous uncompleted upload
	if o.upload != nil {
		o.upload.Cancel()
	}
	upload := o.client.NewUpload(active.ID, text, files, func(percent int) {
		o.publish(events.NewUploadProgressEvent(active.ID, percent))
	})
	o.upload = upload
	o.mu.Unlock()

	result, err := upload.Do(ctx)

	o.mu.Lock()
	if o.upload == upload {
		o.upload = nil
	}
	o.mu.Unlock()

	if err != nil {
		if api.IsCancelled(err) {
			o.logger.Debug().Int64("conversation_id", active.ID).Msg("send abandoned by user")
			return nil, nil
		}
		return nil, err
	}

	o.store.EnsureBucket(active.ID)
	o.store.Append(active.ID, result.Message)
	messageCount := active.MessageCount + 1
	if result.Reply != nil {
		o.store.Append(active.ID, *result.Reply)
		messageCount++
	}
	o.registry.Bump(active.ID, func(c *chat.Conversation) {
		c.MessageCount = messageCount
		c.UpdatedAt = result.Message.CreatedAt
	})

	if result.Reply != nil && result.Reply.Pending() {
		o.mu.Lock()
		o.pending[active.ID] = result.Reply.ID
		o.mu.Unlock()
		o.startStream(active.ID, result.Reply.ID)
	}

	return result, nil
}

// startStream begins consuming the reply token stream. Stream failures never
// surface: the receiver reports once and the scheduler takes over polling.
func (o *Orchestrator) startStream(conversationID, messageID int64) {
	receiver := o.client.NewStreamReceiver(messageID)

	o.mu.Lock()
	o.streams[conversationID] = receiver
	o.mu.Unlock()

	metadata := events.EventMetadata{ConversationID: conversationID, MessageID: messageID}
	o.publish(events.NewStartEvent(metadata))

	previous := 0
	callbacks := api.StreamCallbacks{
		OnDelta: func(text string) {
			delta := ""
			if len(text) > previous {
				delta = text[previous:]
			}
			previous = len(text)
			o.store.UpdateContent(conversationID, messageID, text)
			o.publish(events.NewPartialEvent(metadata, delta, text))
		},
		OnCompleted: func(text string) {
			o.store.MarkCompleted(conversationID, messageID, text)
			o.clearStream(conversationID)
			o.scheduler.Cancel(conversationID)
			o.mu.Lock()
			delete(o.pending, conversationID)
			o.mu.Unlock()
			o.publish(events.NewFinalEvent(metadata, text))

			// one reconcile pass picks up the final server state and the
			// auto-generated title
			reconcileCtx, cancel := context.WithTimeout(o.ctx, 10*time.Second)
			defer cancel()
			if _, err := o.reloadMessages(reconcileCtx, conversationID); err != nil {
				o.logger.Debug().Err(err).Int64("conversation_id", conversationID).Msg("post-stream reconcile failed")
			}
		},
		OnFailed: func(err error) {
			o.logger.Debug().Err(err).Int64("message_id", messageID).Msg("stream failed, falling back to polling")
			o.clearStream(conversationID)
			o.scheduler.Schedule(conversationID)
		},
		OnCancelled: func(partial string) {
			o.clearStream(conversationID)
		},
	}

	go receiver.Run(o.ctx, callbacks)
}

func (o *Orchestrator) clearStream(conversationID int64) {
	o.mu.Lock()
	delete(o.streams, conversationID)
	o.mu.Unlock()
}

// StopGenerating cancels the active conversation's pending reply. The local
// transition to cancelled happens immediately, before any network round
// trip; the remote stop call and a final reconcile reload follow, the reload
// running regardless of whether the stop call succeeded.
func (o *Orchestrator) StopGenerating(ctx context.Context) error {
	active, ok := o.registry.Active()
	if !ok {
		return nil
	}

	o.mu.Lock()
	messageID, pending := o.pending[active.ID]
	o.mu.Unlock()
	if !pending {
		if msg, found := o.store.PendingAssistant(active.ID); found {
			messageID = msg.ID
		} else {
			return nil
		}
	}

	partial := ""
	for _, msg := range o.store.Messages(active.ID) {
		if msg.ID == messageID {
			partial = msg.Content
			break
		}
	}

	stoppedAt := time.Now().UTC().Format(time.RFC3339)
	o.store.MarkCancelled(active.ID, messageID, partial, stoppedAt)
	o.publish(events.NewInterruptEvent(events.EventMetadata{ConversationID: active.ID, MessageID: messageID}, partial))

	o.mu.Lock()
	if receiver, ok := o.streams[active.ID]; ok {
		receiver.Cancel()
		delete(o.streams, active.ID)
	}
	delete(o.pending, active.ID)
	o.mu.Unlock()
	o.scheduler.Cancel(active.ID)

	_, stopErr := o.client.StopMessage(ctx, messageID)

	if _, err := o.reloadMessages(ctx, active.ID); err != nil {
		o.logger.Warn().Err(err).Int64("conversation_id", active.ID).Msg("post-stop reconcile failed")
	}

	if stopErr != nil && !api.IsCancelled(stopErr) {
		return stopErr
	}
	return nil
}

// SelectConversation makes a conversation active and loads its history.
func (o *Orchestrator) SelectConversation(ctx context.Context, id int64) error {
	if err := o.registry.SetActive(id); err != nil {
		return &api.ValidationError{Reason: err.Error()}
	}
	o.store.EnsureBucket(id)
	if id == registry.OfflineConversationID {
		return nil
	}

	stillPending, err := o.reloadMessages(ctx, id)
	if err != nil {
		return err
	}
	if stillPending {
		o.scheduler.Schedule(id)
	}
	return nil
}

// NewChat creates a fresh conversation and makes it active.
func (o *Orchestrator) NewChat(ctx context.Context) (chat.Conversation, error) {
	created, err := o.registry.Create(ctx, registry.DefaultTitle)
	if err != nil {
		return chat.Conversation{}, err
	}
	o.store.EnsureBucket(created.ID)
	return created, nil
}

// DeleteConversation removes a conversation together with its bucket, any
// armed refresh and any live stream. When the active conversation was
// deleted, the registry selects a successor (bootstrapping a fresh one if
// none remain) and its history is loaded.
func (o *Orchestrator) DeleteConversation(ctx context.Context, id int64) error {
	activeBefore, _ := o.registry.Active()

	if err := o.registry.Delete(ctx, id); err != nil {
		return err
	}

	o.store.Remove(id)
	o.scheduler.Cancel(id)
	o.mu.Lock()
	delete(o.pending, id)
	if receiver, ok := o.streams[id]; ok {
		receiver.Cancel()
		delete(o.streams, id)
	}
	o.mu.Unlock()

	if activeBefore.ID != id {
		return nil
	}
	newActive, ok := o.registry.Active()
	if !ok || newActive.Offline {
		return nil
	}
	o.store.EnsureBucket(newActive.ID)
	stillPending, err := o.reloadMessages(ctx, newActive.ID)
	if err != nil {
		o.logger.Warn().Err(err).Int64("conversation_id", newActive.ID).Msg("failed to load successor conversation")
		return nil
	}
	if stillPending {
		o.scheduler.Schedule(newActive.ID)
	}
	return nil
}

// RenameConversation is a thin pass-through; remote errors propagate
// unmodified.
func (o *Orchestrator) RenameConversation(ctx context.Context, id int64, title string) (chat.Conversation, error) {
	return o.registry.Rename(ctx, id, title)
}

// Close tears the session down: live streams are cancelled, timers stopped
// and any in-flight upload aborted.
func (o *Orchestrator) Close() {
	o.ctxCancel()
	o.scheduler.Close()

	o.mu.Lock()
	defer o.mu.Unlock()
	for id, receiver := range o.streams {
		receiver.Cancel()
		delete(o.streams, id)
	}
	if o.upload != nil {
		o.upload.Cancel()
		o.upload = nil
	}
}
