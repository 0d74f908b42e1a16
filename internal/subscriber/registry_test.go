package subscriber

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBroadcastDeliversToAllSubscribers(t *testing.T) {
	r := New(nil)
	a := r.Register()
	b := r.Register()
	require.Equal(t, 2, r.Count())

	snap := Snapshot{{Name: "web", State: "running"}}
	r.Broadcast(snap)

	require.Equal(t, snap, <-a.Recv())
	require.Equal(t, snap, <-b.Recv())
}

func TestBroadcastDropsSlowSubscriber(t *testing.T) {
	r := New(nil)
	slow := r.Register()

	for i := 0; i < outboundQueueDepth+1; i++ {
		r.Broadcast(Snapshot{{Name: "web", State: "running"}})
	}

	require.Equal(t, 0, r.Count())
	_ = slow
}

func TestUnregisterRemovesSubscriber(t *testing.T) {
	r := New(nil)
	s := r.Register()
	require.Equal(t, 1, r.Count())
	r.Unregister(s)
	require.Equal(t, 0, r.Count())
}
