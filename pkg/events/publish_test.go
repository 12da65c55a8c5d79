package events

import (
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"
)

type collectingPublisher struct {
	mu       sync.Mutex
	messages []*message.Message
}

func (p *collectingPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, messages...)
	return nil
}

func (p *collectingPublisher) Close() error { return nil }

func (p *collectingPublisher) collected() []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*message.Message(nil), p.messages...)
}

func TestPublishReachesAllSubscribedPublishers(t *testing.T) {
	manager := NewPublisherManager()
	first := &collectingPublisher{}
	second := &collectingPublisher{}
	manager.SubscribePublisher("ui", first)
	manager.SubscribePublisher("ui", second)

	err := manager.Publish(NewStartEvent(EventMetadata{ConversationID: 1}))
	require.NoError(t, err)
	require.Len(t, first.collected(), 1)
	require.Len(t, second.collected(), 1)
}

func TestPublishStampsSequenceNumbers(t *testing.T) {
	manager := NewPublisherManager()
	pub := &collectingPublisher{}
	manager.SubscribePublisher("ui", pub)

	require.NoError(t, manager.Publish(NewStartEvent(EventMetadata{})))
	require.NoError(t, manager.Publish(NewFinalEvent(EventMetadata{}, "done")))

	messages := pub.collected()
	require.Len(t, messages, 2)
	require.Equal(t, "0", messages[0].Metadata.Get("sequence_number"))
	require.Equal(t, "1", messages[1].Metadata.Get("sequence_number"))
}

func TestPublishedPayloadDecodes(t *testing.T) {
	manager := NewPublisherManager()
	pub := &collectingPublisher{}
	manager.SubscribePublisher("ui", pub)

	require.NoError(t, manager.Publish(NewFinalEvent(EventMetadata{MessageID: 5}, "hello")))

	messages := pub.collected()
	require.Len(t, messages, 1)
	decoded, err := NewEventFromJson(messages[0].Payload)
	require.NoError(t, err)

	final, ok := decoded.(*EventFinal)
	require.True(t, ok)
	require.Equal(t, "hello", final.Text)
	require.Equal(t, int64(5), final.Metadata().MessageID)
}

func TestPublishBlindSwallowsEncodingTrouble(t *testing.T) {
	manager := NewPublisherManager()
	// no publishers subscribed, must not panic
	manager.PublishBlind(NewStartEvent(EventMetadata{}))
}
