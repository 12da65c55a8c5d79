package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stoday/simplechat/pkg/chat"
)

func roundTrip(t *testing.T, e Event) Event {
	t.Helper()
	b, err := json.Marshal(e)
	require.NoError(t, err)
	decoded, err := NewEventFromJson(b)
	require.NoError(t, err)
	require.Equal(t, e.Type(), decoded.Type())
	require.Equal(t, b, decoded.Payload())
	return decoded
}

func TestPartialEventRoundTrip(t *testing.T) {
	e := NewPartialEvent(EventMetadata{ConversationID: 1, MessageID: 2}, " world", "hello world")
	decoded := roundTrip(t, e)

	partial, ok := decoded.(*EventPartial)
	require.True(t, ok)
	require.Equal(t, " world", partial.Delta)
	require.Equal(t, "hello world", partial.Completion)
	require.Equal(t, int64(1), partial.Metadata().ConversationID)
	require.Equal(t, int64(2), partial.Metadata().MessageID)
}

func TestFinalEventRoundTrip(t *testing.T) {
	decoded := roundTrip(t, NewFinalEvent(EventMetadata{MessageID: 9}, "done"))
	final, ok := decoded.(*EventFinal)
	require.True(t, ok)
	require.Equal(t, "done", final.Text)
}

func TestInterruptEventRoundTrip(t *testing.T) {
	decoded := roundTrip(t, NewInterruptEvent(EventMetadata{ConversationID: 4}, "partial text"))
	interrupt, ok := decoded.(*EventInterrupt)
	require.True(t, ok)
	require.Equal(t, "partial text", interrupt.Text)
}

func TestConversationsUpdatedRoundTrip(t *testing.T) {
	e := NewConversationsUpdatedEvent([]chat.Conversation{
		{ID: 2, Title: "Second"},
		{ID: 1, Title: "First"},
	})
	decoded := roundTrip(t, e)

	updated, ok := decoded.(*EventConversationsUpdated)
	require.True(t, ok)
	require.Len(t, updated.Conversations, 2)
	require.Equal(t, "Second", updated.Conversations[0].Title)
}

func TestMessageUpdatedRoundTrip(t *testing.T) {
	decoded := roundTrip(t, NewMessageUpdatedEvent(1, 2, "new text", chat.StatusCancelled))
	updated, ok := decoded.(*EventMessageUpdated)
	require.True(t, ok)
	require.Equal(t, "new text", updated.Content)
	require.Equal(t, chat.StatusCancelled, updated.Status)
}

func TestStartEventDecodesToEnvelope(t *testing.T) {
	decoded := roundTrip(t, NewStartEvent(EventMetadata{ConversationID: 3, MessageID: 4}))
	require.Equal(t, EventTypeStart, decoded.Type())
	require.Equal(t, int64(3), decoded.Metadata().ConversationID)
}

func TestUploadProgressRoundTrip(t *testing.T) {
	decoded := roundTrip(t, NewUploadProgressEvent(7, 42))
	progress, ok := decoded.(*EventUploadProgress)
	require.True(t, ok)
	require.Equal(t, 42, progress.Percent)
}

func TestUnknownEventTypeErrors(t *testing.T) {
	_, err := NewEventFromJson([]byte(`{"type": "never-heard-of-it"}`))
	require.Error(t, err)
}

func TestMalformedPayloadErrors(t *testing.T) {
	_, err := NewEventFromJson([]byte(`not json`))
	require.Error(t, err)
}
