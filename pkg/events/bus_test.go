package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	name   string
	events []Event
	fail   bool
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	if r.fail {
		return errors.New("sink down")
	}
	return nil
}

func (r *recordingSink) seen() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestBusFansOutInOrder(t *testing.T) {
	bus := NewBus(16, nil)
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b", fail: true}
	bus.Register(a)
	bus.Register(b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)

	for i := 0; i < 3; i++ {
		require.True(t, bus.Emit(Event{Kind: KindTrade, AssetID: 1}))
	}

	require.Eventually(t, func() bool { return len(a.seen()) == 3 && len(b.seen()) == 3 }, time.Second, 5*time.Millisecond)
	got := a.seen()
	for i, e := range got {
		assert.Equal(t, uint64(i+1), e.Seq)
	}
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := NewBus(2, nil)
	assert.True(t, bus.Emit(Event{Kind: KindOrder}))
	assert.True(t, bus.Emit(Event{Kind: KindOrder}))
	assert.False(t, bus.Emit(Event{Kind: KindOrder}))
	assert.Equal(t, uint64(1), bus.Dropped())
}

func TestBusRunStopsOnCancel(t *testing.T) {
	bus := NewBus(1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		bus.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestEventChannels(t *testing.T) {
	tests := []struct {
		e    Event
		want string
	}{
		{Event{Kind: KindTrade, AssetID: 3}, "trades:3"},
		{Event{Kind: KindBook, AssetID: 3}, "orderbook:3"},
		{Event{Kind: KindOrder, Account: "0xabc"}, "orders:0xabc"},
		{Event{Kind: KindWallet, Account: "0xabc"}, "accounts:0xabc"},
		{Event{Kind: KindAsset, AssetID: 3}, "assets"},
		{Event{Kind: KindBook, AssetID: 3, Origin: "12D3KooWPeer"}, "peer:12D3KooWPeer:orderbook:3"},
		{Event{Kind: KindWallet, Account: "0xabc", Origin: "12D3KooWPeer"}, "peer:12D3KooWPeer:accounts:0xabc"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.e.Channel())
	}
}

func TestKafkaMessage(t *testing.T) {
	e := Event{Seq: 9, Kind: KindTrade, AssetID: 12, Time: 1_700_000_000_000, Data: map[string]int{"qty": 5}}
	msg, err := kafkaMessage(e)
	require.NoError(t, err)

	assert.Equal(t, []byte("12"), msg.Key)
	assert.Equal(t, "trade", string(msg.Headers[0].Value))
	assert.Equal(t, int64(1_700_000_000_000), msg.Time.UnixMilli())

	decoded, err := Decode(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), decoded.Seq)
	assert.Equal(t, KindTrade, decoded.Kind)
}

func TestKafkaSinkName(t *testing.T) {
	s := NewKafkaSink([]string{"localhost:9092"}, "exchange-events")
	assert.Equal(t, "kafka:exchange-events", s.Name())
	assert.NoError(t, s.Close())
}
