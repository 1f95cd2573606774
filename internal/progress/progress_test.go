package progress

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestChannelBridge_SubscribeReceivesEvents(t *testing.T) {
	b := NewChannelBridge(zerolog.Nop())
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.StageStarted("clean")
	b.StageCompleted("clean", 10)

	ev := <-ch
	require.Equal(t, EventStageStarted, ev.Kind)
	require.Equal(t, "clean", ev.Name)

	ev = <-ch
	require.Equal(t, EventStageCompleted, ev.Kind)
	require.Equal(t, 10, ev.RowCount)
}

func TestChannelBridge_UnsubscribeClosesChannel(t *testing.T) {
	b := NewChannelBridge(zerolog.Nop())
	ch := b.Subscribe()
	b.Unsubscribe(ch)

	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel was not closed")
	}
}

func TestNull_NoPanics(t *testing.T) {
	var n Null
	n.RunStarted("x")
	n.StageStarted("x")
	n.StageCompleted("x", 1)
	n.RunCompleted()
}

func TestMulti_FansOutToEverySubTracker(t *testing.T) {
	b1 := NewChannelBridge(zerolog.Nop())
	b2 := NewChannelBridge(zerolog.Nop())
	ch1 := b1.Subscribe()
	ch2 := b2.Subscribe()
	defer b1.Unsubscribe(ch1)
	defer b2.Unsubscribe(ch2)

	m := Multi(b1, b2)
	m.StageStarted("fanout")

	ev1 := <-ch1
	ev2 := <-ch2
	require.Equal(t, EventStageStarted, ev1.Kind)
	require.Equal(t, EventStageStarted, ev2.Kind)
}

func TestMulti_EmptyIsHarmless(t *testing.T) {
	m := Multi()
	m.RunStarted("x")
	m.RunCompleted()
}
