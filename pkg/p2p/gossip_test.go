package p2p

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xendbit/AssetManager/pkg/events"
)

func TestGossipDeliversToPeer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	a, err := NewGossip(ctx, Config{ListenAddr: "/ip4/127.0.0.1/tcp/0", Topic: "test-events"})
	require.NoError(t, err)
	defer a.Close()

	b, err := NewGossip(ctx, Config{ListenAddr: "/ip4/127.0.0.1/tcp/0", Topic: "test-events", Bootstrap: a.Addrs()})
	require.NoError(t, err)
	defer b.Close()

	var got atomic.Uint64
	var origin atomic.Value
	a.OnEvent(func(e events.Event) {
		if e.Kind == events.KindTrade && e.AssetID == 42 {
			origin.Store(e.Origin)
			got.Store(e.Seq)
		}
	})

	// the mesh forms asynchronously, so keep publishing until it lands.
	// A forged origin on the wire is replaced by the real sender.
	require.Eventually(t, func() bool {
		_ = b.Publish(ctx, events.Event{Seq: 9, Kind: events.KindTrade, AssetID: 42, Origin: "forged"})
		return got.Load() == 9
	}, 15*time.Second, 200*time.Millisecond)

	from := b.h.ID().String()
	require.Equal(t, from, origin.Load())
	require.Equal(t, "peer:"+from+":trades:42", events.Event{Kind: events.KindTrade, AssetID: 42, Origin: from}.Channel())
}

func TestGossipName(t *testing.T) {
	g, err := NewGossip(context.Background(), Config{ListenAddr: "/ip4/127.0.0.1/tcp/0"})
	require.NoError(t, err)
	defer g.Close()

	require.Equal(t, "gossip:"+DefaultTopic, g.Name())
	require.NotEmpty(t, g.Addrs())
}

func TestGossipRejectsBadListenAddr(t *testing.T) {
	_, err := NewGossip(context.Background(), Config{ListenAddr: "not-a-multiaddr"})
	require.Error(t, err)
}
