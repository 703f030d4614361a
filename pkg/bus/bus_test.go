package bus

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nemored/pipo/pkg/message"
)

func TestFanOutIncludesSender(t *testing.T) {
	r := NewRegistry([]string{"main"}, zerolog.Nop())
	b := r.Lookup("main")
	require.NotNil(t, b)

	sender := b.Subscribe()
	other := b.Subscribe()

	m := message.Message{Kind: message.KindText, Sender: 1, Bus: "main", Body: "hello"}
	require.NoError(t, b.Send(m))

	got := <-sender
	assert.Equal(t, "hello", got.Body)
	got = <-other
	assert.Equal(t, "hello", got.Body)
}

func TestSendPreservesOrder(t *testing.T) {
	r := NewRegistry([]string{"main"}, zerolog.Nop())
	b := r.Lookup("main")
	sub := b.Subscribe()

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Send(message.Message{PipoID: int64(i)}))
	}
	for i := 0; i < 10; i++ {
		assert.Equal(t, int64(i), (<-sub).PipoID)
	}
}

func TestFullSubscriberDropsWithoutBlocking(t *testing.T) {
	r := NewRegistry([]string{"main"}, zerolog.Nop())
	b := r.Lookup("main")
	slow := b.Subscribe()
	live := b.Subscribe()

	for i := 0; i < subscriberBuffer+5; i++ {
		require.NoError(t, b.Send(message.Message{PipoID: int64(i)}))
	}

	// The live subscriber drained nothing either, so it also dropped;
	// both still received the first subscriberBuffer messages in order.
	assert.Equal(t, int64(0), (<-slow).PipoID)
	assert.Equal(t, int64(0), (<-live).PipoID)
}

func TestCloseStopsDelivery(t *testing.T) {
	r := NewRegistry([]string{"main"}, zerolog.Nop())
	b := r.Lookup("main")
	sub := b.Subscribe()

	r.Close()
	assert.ErrorIs(t, b.Send(message.Message{}), ErrClosed)

	_, open := <-sub
	assert.False(t, open)
}

func TestLookupUnknownBus(t *testing.T) {
	r := NewRegistry([]string{"a", "b"}, zerolog.Nop())
	assert.Nil(t, r.Lookup("c"))
	assert.Len(t, r.Buses(), 2)
}
