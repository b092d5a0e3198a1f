// Package p2p relays committed exchange events between nodes over libp2p
// gossipsub.
package p2p

import (
	"context"
	"fmt"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/xendbit/AssetManager/pkg/events"
	"github.com/xendbit/AssetManager/pkg/util"
)

const DefaultTopic = "exchange-events"

type Config struct {
	ListenAddr string
	Bootstrap  []string
	Topic      string
	Logger     *zap.SugaredLogger
}

// Gossip publishes events to a gossipsub topic and hands events published
// by other nodes to the registered handler.
type Gossip struct {
	h     host.Host
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	log   *zap.SugaredLogger

	mu      sync.RWMutex
	handler func(events.Event)

	cancel context.CancelFunc
	done   chan struct{}
}

func NewGossip(ctx context.Context, cfg Config) (*Gossip, error) {
	log := util.OrNop(cfg.Logger)
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}

	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, fmt.Errorf("invalid listen address %q: %w", cfg.ListenAddr, err)
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		cancel()
		h.Close()
		return nil, fmt.Errorf("failed to start gossipsub: %w", err)
	}

	g := &Gossip{h: h, ps: ps, log: log, cancel: cancel, done: make(chan struct{})}
	if g.topic, err = ps.Join(cfg.Topic); err != nil {
		cancel()
		h.Close()
		return nil, fmt.Errorf("failed to join topic %s: %w", cfg.Topic, err)
	}
	if g.sub, err = g.topic.Subscribe(); err != nil {
		cancel()
		h.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", cfg.Topic, err)
	}

	for _, bs := range cfg.Bootstrap {
		if err := g.Connect(ctx, bs); err != nil {
			log.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	go g.receive(ctx)

	log.Infow("gossip_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr, "topic", cfg.Topic)
	return g, nil
}

// Connect dials a peer given its full /p2p multiaddr.
func (g *Gossip) Connect(ctx context.Context, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return g.h.Connect(ctx, *info)
}

func (g *Gossip) Host() host.Host { return g.h }

// Addrs returns the dialable /p2p addresses of this node.
func (g *Gossip) Addrs() []string {
	out := make([]string, 0, len(g.h.Addrs()))
	for _, a := range g.h.Addrs() {
		out = append(out, a.String()+"/p2p/"+g.h.ID().String())
	}
	return out
}

// OnEvent sets the handler for events received from other nodes.
func (g *Gossip) OnEvent(fn func(events.Event)) {
	g.mu.Lock()
	g.handler = fn
	g.mu.Unlock()
}

func (g *Gossip) Name() string { return "gossip:" + g.topic.String() }

func (g *Gossip) Publish(ctx context.Context, e events.Event) error {
	data, err := e.Encode()
	if err != nil {
		return err
	}
	if err := g.topic.Publish(ctx, data); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", e.Kind, err)
	}
	return nil
}

func (g *Gossip) receive(ctx context.Context) {
	defer close(g.done)
	self := g.h.ID()
	for {
		msg, err := g.sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == self {
			continue
		}
		e, err := events.Decode(msg.Data)
		if err != nil {
			g.log.Debugw("gossip_decode_failed", "from", msg.ReceivedFrom.String(), "err", err)
			continue
		}
		e.Origin = msg.GetFrom().String()

		g.mu.RLock()
		fn := g.handler
		g.mu.RUnlock()
		if fn != nil {
			fn(e)
		}
	}
}

func (g *Gossip) Close() error {
	g.sub.Cancel()
	g.cancel()
	<-g.done
	if err := g.topic.Close(); err != nil {
		g.log.Debugw("gossip_topic_close_failed", "err", err)
	}
	return g.h.Close()
}
