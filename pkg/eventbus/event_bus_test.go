package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/nocodile/docflow/pkg/channels/gochannel"
	"github.com/nocodile/docflow/pkg/eventbus"
	"github.com/nocodile/docflow/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatermillEventBus_PublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)

	received := make(chan *events.DocumentTransitioned, 1)

	err = bus.Handle(events.DocumentTransitionedEvent, func(_ context.Context, event any) error {
		transitioned, ok := event.(*events.DocumentTransitioned)
		require.True(t, ok)

		received <- transitioned

		return nil
	})
	require.NoError(t, err)

	err = bus.Subscribe(ctx)
	require.NoError(t, err)

	published := events.DocumentTransitioned{
		BaseEvent:   events.NewBaseEvent(events.DocumentTransitionedEvent, "wf-1", "doc-1"),
		FromStateID: "draft",
		ToStateID:   "pending",
		ActionKey:   "submit",
		ByUserID:    "user-1",
	}

	err = bus.Publish(ctx, "doc-1", published)
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.Equal(t, "doc-1", got.DocumentID)
		assert.Equal(t, "draft", got.FromStateID)
		assert.Equal(t, "pending", got.ToStateID)
		assert.Equal(t, "submit", got.ActionKey)
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func TestWatermillEventBus_UnhandledTypeIsAcked(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)

	err = bus.Subscribe(ctx)
	require.NoError(t, err)

	event := events.TimerScheduled{
		BaseEvent:    events.NewBaseEvent(events.TimerScheduledEvent, "wf-1", "doc-1"),
		ResumptionID: "res-1",
		NodeID:       "timer-1",
		ResumeAt:     time.Now().Add(time.Hour),
	}

	// No handler registered: publish must still complete.
	err = bus.Publish(ctx, "doc-1", event)
	assert.NoError(t, err)
}
