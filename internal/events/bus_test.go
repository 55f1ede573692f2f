package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusDelivery(t *testing.T) {
	bus := NewEventBus()

	var mu sync.Mutex
	var typed, all []Event

	bus.Subscribe(EventKeysIssued, func(e Event) {
		mu.Lock()
		typed = append(typed, e)
		mu.Unlock()
	})
	bus.SubscribeAll(func(e Event) {
		mu.Lock()
		all = append(all, e)
		mu.Unlock()
	})

	bus.Publish(KeysIssued(7, "STANDOFF2", []string{"STDF-AAAAAA-BBBBBB-CCCCCC"}, 4))
	bus.Publish(Event{Type: EventKeyRevoked, Data: map[string]interface{}{"key_id": int64(1)}})
	bus.Wait()

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, typed, 1)
	assert.Equal(t, int64(7), typed[0].Data["reseller_id"])
	assert.Equal(t, 1, typed[0].Data["count"])
	assert.False(t, typed[0].Timestamp.IsZero())
	assert.Len(t, all, 2)
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	bus.Publish(UpdatePublished(1, "maintenance tonight", time.Now()))
	bus.Wait()
}
