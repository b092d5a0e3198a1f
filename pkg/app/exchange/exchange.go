// Package exchange is the public face of the asset exchange. It owns the
// exchange state and applies every mutating operation as one serialized,
// all-or-nothing command.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/xendbit/AssetManager/pkg/app/core/asset"
	"github.com/xendbit/AssetManager/pkg/app/core/errs"
	"github.com/xendbit/AssetManager/pkg/app/core/journal"
	"github.com/xendbit/AssetManager/pkg/app/core/ledger"
	"github.com/xendbit/AssetManager/pkg/app/core/orderbook"
	"github.com/xendbit/AssetManager/pkg/events"
	"github.com/xendbit/AssetManager/pkg/storage"
	"github.com/xendbit/AssetManager/pkg/util"
)

// ErrStopped is returned for commands submitted after the writer exits.
var ErrStopped = errors.New("exchange stopped")

type Config struct {
	Contractor       common.Address // minting authority
	FundingAuthority common.Address
	Policy           orderbook.Policy
	VerifyInvariants bool
	CommandBuffer    int
	TradeHistory     int
}

// Journal persists the records one command changed.
type Journal interface {
	Commit(cs *storage.ChangeSet) error
}

type Emitter interface {
	Emit(e events.Event) bool
}

// Auth is the authenticated caller of a command. Nonce 0 marks an
// in-process call and skips replay protection.
type Auth struct {
	Caller common.Address
	Nonce  uint64
}

type command struct {
	op   string
	auth Auth
	run  func(c *opCtx) (any, error)
	done chan reply
}

type reply struct {
	val any
	err error
}

// opCtx is what an operation sees while it runs.
type opCtx struct {
	tx     *journal.Tx
	now    int64
	caller common.Address
	trades []orderbook.Trade
}

type Exchange struct {
	cfg Config

	mu sync.RWMutex
	st *state

	journal Journal
	emitter Emitter
	clock   util.Clock
	log     *zap.SugaredLogger

	cmds    chan *command
	stopped chan struct{}
	lastNow int64
}

// New builds an empty exchange. journal and emitter may be nil.
func New(cfg Config, j Journal, emitter Emitter, clock util.Clock, log *zap.SugaredLogger) *Exchange {
	log = util.OrNop(log)
	if clock == nil {
		clock = util.RealClock{}
	}
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = 1024
	}
	if cfg.FundingAuthority == (common.Address{}) {
		cfg.FundingAuthority = cfg.Contractor
	}

	st := &state{
		assets:  asset.NewRegistry(cfg.Contractor),
		ledger:  ledger.New(cfg.FundingAuthority),
		orders:  make(map[common.Hash]*orderbook.Order),
		trades:  make(map[uint64][]orderbook.Trade),
		history: cfg.TradeHistory,
	}
	st.engine = orderbook.NewEngine(st, st.ledger, cfg.Policy, log.Named("engine"))

	return &Exchange{
		cfg:     cfg,
		st:      st,
		journal: j,
		emitter: emitter,
		clock:   clock,
		log:     log,
		cmds:    make(chan *command, cfg.CommandBuffer),
		stopped: make(chan struct{}),
	}
}

func (x *Exchange) Config() Config { return x.cfg }

// Restore loads persisted state. It must be called before Run.
func (x *Exchange) Restore(snap *storage.Snapshot) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.st.restore(snap); err != nil {
		return err
	}
	x.log.Infow("exchange_restored",
		"assets", len(snap.Assets),
		"orders", len(snap.Orders),
		"wallets", len(snap.Wallets),
		"order_seq", snap.Meta.OrderSeq,
	)
	return nil
}

// Run is the single writer. It applies queued commands in arrival order
// until ctx is cancelled. Commands still queued at that point are not
// applied and their callers get ErrStopped.
func (x *Exchange) Run(ctx context.Context) error {
	defer close(x.stopped)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-x.cmds:
			val, err := x.execute(cmd)
			cmd.done <- reply{val: val, err: err}
		}
	}
}

// call queues a command and waits for its outcome. ctx only bounds the
// wait for a queue slot: once queued the command may commit, so call
// reports its real outcome instead of ctx.Err(). A writer that stops
// before reaching the command yields ErrStopped.
func call[T any](ctx context.Context, x *Exchange, op string, auth Auth, run func(c *opCtx) (T, error)) (T, error) {
	var zero T
	cmd := &command{
		op:   op,
		auth: auth,
		run:  func(c *opCtx) (any, error) { return run(c) },
		done: make(chan reply, 1),
	}

	select {
	case x.cmds <- cmd:
	case <-x.stopped:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	var r reply
	select {
	case r = <-cmd.done:
	case <-x.stopped:
		// the reply is sent before the writer exits
		select {
		case r = <-cmd.done:
		default:
			return zero, ErrStopped
		}
	}
	if r.err != nil {
		return zero, r.err
	}
	v, _ := r.val.(T)
	return v, nil
}

// now returns the command timestamp in unix millis. It never goes
// backwards so submission order and timestamps agree.
func (x *Exchange) now() int64 {
	n := x.clock.Now().UnixMilli()
	if n < x.lastNow {
		n = x.lastNow
	}
	x.lastNow = n
	return n
}

func (x *Exchange) execute(cmd *command) (any, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	caller := cmd.auth.Caller
	now := x.now()

	// the nonce is spent even if the operation fails
	nonceTx := journal.New()
	if err := x.st.ledger.ConsumeNonce(nonceTx, caller, cmd.auth.Nonce); err != nil {
		nonceTx.Rollback()
		x.reject(cmd, err)
		return nil, err
	}

	c := &opCtx{tx: journal.New(), now: now, caller: caller}
	val, err := cmd.run(c)
	if err == nil && x.cfg.VerifyInvariants {
		err = x.st.checkConservation()
	}

	var cs *storage.ChangeSet
	if err == nil {
		if cmd.auth.Nonce != 0 {
			c.tx.TouchWallet(caller)
		}
		cs = x.st.changeSet(c.tx, c.trades)
		if cerr := x.commit(cs); cerr != nil {
			err = cerr
		}
	}

	if err != nil {
		c.tx.Rollback()
		if cmd.auth.Nonce != 0 {
			if cerr := x.commit(x.st.changeSet(nonceTx, nil)); cerr != nil {
				x.log.Errorw("nonce_persist_failed", "caller", caller.Hex(), "err", cerr)
			}
		}
		x.reject(cmd, err)
		return nil, err
	}

	x.log.Infow("command_committed",
		"op", cmd.op,
		"caller", caller.Hex(),
		"orders", len(cs.Orders),
		"trades", len(cs.Trades),
	)
	x.publish(cs, now)
	return val, nil
}

func (x *Exchange) commit(cs *storage.ChangeSet) error {
	if x.journal == nil || cs.Empty() {
		return nil
	}
	if err := x.journal.Commit(cs); err != nil {
		return fmt.Errorf("failed to persist command: %w", err)
	}
	return nil
}

func (x *Exchange) reject(cmd *command, err error) {
	x.log.Warnw("command_rejected",
		"op", cmd.op,
		"caller", cmd.auth.Caller.Hex(),
		"kind", errs.Kind(err),
		"err", err,
	)
}

// publish derives events from a committed change set. It never blocks.
func (x *Exchange) publish(cs *storage.ChangeSet, now int64) {
	if x.emitter == nil {
		return
	}
	books := make(map[uint64]struct{})

	for _, a := range cs.Assets {
		x.emit(events.Event{Kind: events.KindAsset, Action: "updated", AssetID: a.ID, Time: now, Data: a})
	}
	for _, o := range cs.Orders {
		x.emit(events.Event{
			Kind:    events.KindOrder,
			Action:  orderAction(&o),
			AssetID: o.AssetID,
			Account: o.Owner.Hex(),
			Time:    now,
			Data:    o,
		})
		books[o.AssetID] = struct{}{}
	}
	for _, t := range cs.Trades {
		x.emit(events.Event{Kind: events.KindTrade, Action: "executed", AssetID: t.AssetID, Time: now, Data: t})
		books[t.AssetID] = struct{}{}
	}
	for _, w := range cs.Wallets {
		x.emit(events.Event{Kind: events.KindWallet, Action: "balance", Account: w.Address.Hex(), Time: now, Data: w})
	}
	for id := range books {
		x.emit(events.Event{Kind: events.KindBook, Action: "depth", AssetID: id, Time: now, Data: x.depthLocked(id, now)})
	}
}

func (x *Exchange) emit(e events.Event) {
	x.emitter.Emit(e)
}

func orderAction(o *orderbook.Order) string {
	switch o.Status {
	case orderbook.Pending:
		if o.Filled() == 0 && o.UpdatedAt == o.SubmittedAt {
			return "posted"
		}
		return "updated"
	case orderbook.Matched:
		return "matched"
	case orderbook.Cancelled:
		return "cancelled"
	default:
		return "expired"
	}
}
