package events

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/stoday/simplechat/pkg/chat"
)

type EventType string

const (
	// Reply-stream lifecycle for one pending assistant message.
	EventTypeStart     EventType = "start"
	EventTypePartial   EventType = "partial"
	EventTypeFinal     EventType = "final"
	EventTypeError     EventType = "error"
	EventTypeInterrupt EventType = "interrupt"

	// State-change notifications for the presentation layer.
	EventTypeConversationsUpdated EventType = "conversations-updated"
	EventTypeConversationSelected EventType = "conversation-selected"
	EventTypeMessagesReplaced     EventType = "messages-replaced"
	EventTypeMessageAppended      EventType = "message-appended"
	EventTypeMessageUpdated       EventType = "message-updated"
	EventTypeUploadProgress       EventType = "upload-progress"
	EventTypeStillGenerating      EventType = "still-generating"
)

// EventMetadata locates an event within the session.
type EventMetadata struct {
	ConversationID int64 `json:"conversation_id,omitempty"`
	MessageID      int64 `json:"message_id,omitempty"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	if em.ConversationID != 0 {
		e.Int64("conversation_id", em.ConversationID)
	}
	if em.MessageID != 0 {
		e.Int64("message_id", em.MessageID)
	}
}

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta,omitempty"`

	// raw JSON this event was decoded from, set by NewEventFromJson
	payload []byte
}

func (e *EventImpl) Type() EventType         { return e.Type_ }
func (e *EventImpl) Metadata() EventMetadata { return e.Metadata_ }
func (e *EventImpl) Payload() []byte         { return e.payload }

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

var _ Event = &EventImpl{}

// EventPartial carries one token delta plus the accumulated text so far.
type EventPartial struct {
	EventImpl
	Delta      string `json:"delta"`
	Completion string `json:"completion"`
}

func NewStartEvent(metadata EventMetadata) *EventImpl {
	return &EventImpl{Type_: EventTypeStart, Metadata_: metadata}
}

func NewPartialEvent(metadata EventMetadata, delta, completion string) *EventPartial {
	return &EventPartial{
		EventImpl:  EventImpl{Type_: EventTypePartial, Metadata_: metadata},
		Delta:      delta,
		Completion: completion,
	}
}

// EventFinal carries the full reply text at stream completion.
type EventFinal struct {
	EventImpl
	Text string `json:"text"`
}

func NewFinalEvent(metadata EventMetadata, text string) *EventFinal {
	return &EventFinal{
		EventImpl: EventImpl{Type_: EventTypeFinal, Metadata_: metadata},
		Text:      text,
	}
}

// EventError reports a failure observed for a conversation or message.
type EventError struct {
	EventImpl
	ErrorString string `json:"error"`
}

func NewErrorEvent(metadata EventMetadata, err error) *EventError {
	return &EventError{
		EventImpl:   EventImpl{Type_: EventTypeError, Metadata_: metadata},
		ErrorString: err.Error(),
	}
}

// EventInterrupt reports a user-initiated stop, with the partial text kept.
type EventInterrupt struct {
	EventImpl
	Text string `json:"text"`
}

func NewInterruptEvent(metadata EventMetadata, text string) *EventInterrupt {
	return &EventInterrupt{
		EventImpl: EventImpl{Type_: EventTypeInterrupt, Metadata_: metadata},
		Text:      text,
	}
}

// EventConversationsUpdated announces a new conversation ordering.
type EventConversationsUpdated struct {
	EventImpl
	Conversations []chat.Conversation `json:"conversations"`
}

func NewConversationsUpdatedEvent(conversations []chat.Conversation) *EventConversationsUpdated {
	return &EventConversationsUpdated{
		EventImpl:     EventImpl{Type_: EventTypeConversationsUpdated},
		Conversations: conversations,
	}
}

// EventConversationSelected announces the new active conversation.
type EventConversationSelected struct {
	EventImpl
}

func NewConversationSelectedEvent(conversationID int64) *EventConversationSelected {
	return &EventConversationSelected{
		EventImpl: EventImpl{
			Type_:     EventTypeConversationSelected,
			Metadata_: EventMetadata{ConversationID: conversationID},
		},
	}
}

// EventMessagesReplaced announces a wholesale bucket reload.
type EventMessagesReplaced struct {
	EventImpl
	Messages []chat.Message `json:"messages"`
}

func NewMessagesReplacedEvent(conversationID int64, messages []chat.Message) *EventMessagesReplaced {
	return &EventMessagesReplaced{
		EventImpl: EventImpl{
			Type_:     EventTypeMessagesReplaced,
			Metadata_: EventMetadata{ConversationID: conversationID},
		},
		Messages: messages,
	}
}

// EventMessageAppended announces an optimistic append.
type EventMessageAppended struct {
	EventImpl
	Message chat.Message `json:"message"`
}

func NewMessageAppendedEvent(conversationID int64, message chat.Message) *EventMessageAppended {
	return &EventMessageAppended{
		EventImpl: EventImpl{
			Type_:     EventTypeMessageAppended,
			Metadata_: EventMetadata{ConversationID: conversationID, MessageID: message.ID},
		},
		Message: message,
	}
}

// EventMessageUpdated announces a targeted content or status mutation.
type EventMessageUpdated struct {
	EventImpl
	Content string      `json:"content"`
	Status  chat.Status `json:"status,omitempty"`
}

func NewMessageUpdatedEvent(conversationID, messageID int64, content string, status chat.Status) *EventMessageUpdated {
	return &EventMessageUpdated{
		EventImpl: EventImpl{
			Type_:     EventTypeMessageUpdated,
			Metadata_: EventMetadata{ConversationID: conversationID, MessageID: messageID},
		},
		Content: content,
		Status:  status,
	}
}

// EventUploadProgress reports aggregate upload progress for the current send.
type EventUploadProgress struct {
	EventImpl
	Percent int `json:"percent"`
}

func NewUploadProgressEvent(conversationID int64, percent int) *EventUploadProgress {
	return &EventUploadProgress{
		EventImpl: EventImpl{
			Type_:     EventTypeUploadProgress,
			Metadata_: EventMetadata{ConversationID: conversationID},
		},
		Percent: percent,
	}
}

// EventStillGenerating fires when polling gives up waiting on a reply.
type EventStillGenerating struct {
	EventImpl
}

func NewStillGeneratingEvent(conversationID int64) *EventStillGenerating {
	return &EventStillGenerating{
		EventImpl: EventImpl{
			Type_:     EventTypeStillGenerating,
			Metadata_: EventMetadata{ConversationID: conversationID},
		},
	}
}

// NewEventFromJson decodes a published event back into its concrete type.
func NewEventFromJson(b []byte) (Event, error) {
	var envelope EventImpl
	if err := json.Unmarshal(b, &envelope); err != nil {
		return nil, errors.Wrap(err, "failed to decode event envelope")
	}
	envelope.payload = b

	var ret Event
	var target interface{}

	switch envelope.Type_ {
	case EventTypePartial:
		e := &EventPartial{}
		ret, target = e, e
	case EventTypeFinal:
		e := &EventFinal{}
		ret, target = e, e
	case EventTypeError:
		e := &EventError{}
		ret, target = e, e
	case EventTypeInterrupt:
		e := &EventInterrupt{}
		ret, target = e, e
	case EventTypeConversationsUpdated:
		e := &EventConversationsUpdated{}
		ret, target = e, e
	case EventTypeMessagesReplaced:
		e := &EventMessagesReplaced{}
		ret, target = e, e
	case EventTypeMessageAppended:
		e := &EventMessageAppended{}
		ret, target = e, e
	case EventTypeMessageUpdated:
		e := &EventMessageUpdated{}
		ret, target = e, e
	case EventTypeUploadProgress:
		e := &EventUploadProgress{}
		ret, target = e, e
	case EventTypeStart, EventTypeConversationSelected, EventTypeStillGenerating:
		return &envelope, nil
	default:
		return nil, errors.Errorf("unknown event type %q", envelope.Type_)
	}

	if err := json.Unmarshal(b, target); err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s event", envelope.Type_)
	}
	setPayload(ret, b)
	return ret, nil
}

func setPayload(e Event, b []byte) {
	switch v := e.(type) {
	case *EventPartial:
		v.payload = b
	case *EventFinal:
		v.payload = b
	case *EventError:
		v.payload = b
	case *EventInterrupt:
		v.payload = b
	case *EventConversationsUpdated:
		v.payload = b
	case *EventMessagesReplaced:
		v.payload = b
	case *EventMessageAppended:
		v.payload = b
	case *EventMessageUpdated:
		v.payload = b
	case *EventUploadProgress:
		v.payload = b
	case *EventImpl:
		v.payload = b
	}
}
