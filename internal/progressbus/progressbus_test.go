package progressbus

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	events []Event
	fail   bool
}

func (f *fakeSink) Send(ev Event) error {
	if f.fail {
		return errors.New("sink closed")
	}
	f.events = append(f.events, ev)
	return nil
}

func TestPublishDeliversToAllSubscribersOfClient(t *testing.T) {
	b := New(zerolog.Nop())
	a := &fakeSink{}
	c := &fakeSink{}
	b.Subscribe("client-1", a)
	b.Subscribe("client-1", c)

	b.Publish("client-1", Event{Type: EventProgress, Percent: 50})

	require.Len(t, a.events, 1)
	require.Len(t, c.events, 1)
}

func TestPublishRemovesDeadSinkOnFailure(t *testing.T) {
	b := New(zerolog.Nop())
	dead := &fakeSink{fail: true}
	alive := &fakeSink{}
	b.Subscribe("client-1", dead)
	b.Subscribe("client-1", alive)

	b.Publish("client-1", Event{Type: EventProgress})
	require.True(t, b.IsConnected("client-1"))

	b.Unsubscribe("client-1", alive)
	require.False(t, b.IsConnected("client-1"))
}

func TestPublishToUnknownClientIsNoop(t *testing.T) {
	b := New(zerolog.Nop())
	require.NotPanics(t, func() {
		b.Publish("nobody-subscribed", Event{Type: EventPing})
	})
}

func TestBroadcastReachesEveryClient(t *testing.T) {
	b := New(zerolog.Nop())
	s1, s2 := &fakeSink{}, &fakeSink{}
	b.Subscribe("c1", s1)
	b.Subscribe("c2", s2)

	b.Broadcast(Event{Type: EventComplete, Message: "done"})

	require.Len(t, s1.events, 1)
	require.Len(t, s2.events, 1)
}
