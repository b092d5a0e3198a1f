package asset

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xendbit/AssetManager/pkg/app/core/errs"
	"github.com/xendbit/AssetManager/pkg/app/core/journal"
)

type symbolKey struct {
	symbol string
	issuer common.Address
}

// Registry issues assets and tracks issuer and owner identity.
// Holding balances are kept by the settlement ledger.
type Registry struct {
	mu        sync.RWMutex
	authority common.Address // minting authority (contractor)
	assets    map[uint64]*Asset
	bySymbol  map[symbolKey][]uint64
	maxID     uint64
}

func NewRegistry(authority common.Address) *Registry {
	return &Registry{
		authority: authority,
		assets:    make(map[uint64]*Asset),
		bySymbol:  make(map[symbolKey][]uint64),
	}
}

// Authority returns the address allowed to mint.
func (r *Registry) Authority() common.Address { return r.authority }

// Create registers an asset issued and owned by issuer. The id is assigned
// by the registry. The (name, issuer) pair must be unused.
func (r *Registry) Create(tx *journal.Tx, issuer common.Address, spec CreateSpec, now int64) (Asset, error) {
	if err := spec.Validate(); err != nil {
		return Asset{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ids := r.bySymbol[symbolKey{spec.Name, issuer}]; len(ids) > 0 {
		return Asset{}, fmt.Errorf("%w: asset %s already issued by %s", errs.ErrDuplicateID, spec.Name, issuer.Hex())
	}

	a := &Asset{
		ID:          r.maxID + 1,
		Symbol:      spec.Name,
		Name:        spec.Name,
		Description: spec.Description,
		Issuer:      issuer,
		Owner:       issuer,
		TotalSupply: spec.TotalSupply,
		Decimals:    spec.Decimals,
		CreatedAt:   now,
	}
	r.insertLocked(tx, a)
	return *a, nil
}

// Mint registers a token under spec.TokenID. Only the minting authority may
// mint, and the minted token is owned by it until ownership is transferred.
func (r *Registry) Mint(tx *journal.Tx, caller common.Address, spec MintSpec, now int64) (Asset, error) {
	if caller != r.authority {
		return Asset{}, fmt.Errorf("%w: %s is not the minting authority", errs.ErrUnauthorized, caller.Hex())
	}
	if err := spec.Validate(); err != nil {
		return Asset{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.assets[spec.TokenID]; exists {
		return Asset{}, fmt.Errorf("%w: token %d already minted", errs.ErrDuplicateID, spec.TokenID)
	}

	name := spec.Name
	if name == "" {
		name = spec.Symbol
	}
	a := &Asset{
		ID:           spec.TokenID,
		Symbol:       spec.Symbol,
		Name:         name,
		Description:  spec.Description,
		Issuer:       spec.Issuer,
		Owner:        caller,
		TotalSupply:  spec.TotalSupply,
		IssuingPrice: spec.IssuingPrice,
		CreatedAt:    now,
	}
	r.insertLocked(tx, a)
	return *a, nil
}

func (r *Registry) insertLocked(tx *journal.Tx, a *Asset) {
	key := symbolKey{a.Symbol, a.Issuer}
	prevMax := r.maxID

	r.assets[a.ID] = a
	r.bySymbol[key] = append(r.bySymbol[key], a.ID)
	if a.ID > r.maxID {
		r.maxID = a.ID
	}

	tx.TouchAsset(a.ID)
	tx.OnRollback(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.assets, a.ID)
		ids := r.bySymbol[key]
		r.bySymbol[key] = ids[:len(ids)-1]
		if len(r.bySymbol[key]) == 0 {
			delete(r.bySymbol, key)
		}
		r.maxID = prevMax
	})
}

// TransferOwnership reassigns the owner field. Holdings are untouched.
func (r *Registry) TransferOwnership(tx *journal.Tx, caller common.Address, id uint64, newOwner common.Address) error {
	if newOwner == (common.Address{}) {
		return fmt.Errorf("%w: new owner is the zero address", errs.ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.assets[id]
	if !ok {
		return fmt.Errorf("%w: asset %d", errs.ErrNotFound, id)
	}
	if a.Owner != caller {
		return fmt.Errorf("%w: %s does not own asset %d", errs.ErrUnauthorized, caller.Hex(), id)
	}

	prev := a.Owner
	a.Owner = newOwner
	tx.TouchAsset(id)
	tx.OnRollback(func() {
		r.mu.Lock()
		a.Owner = prev
		r.mu.Unlock()
	})
	return nil
}

func (r *Registry) Get(id uint64) (Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.assets[id]
	if !ok {
		return Asset{}, fmt.Errorf("%w: asset %d", errs.ErrNotFound, id)
	}
	return *a, nil
}

// Resolve looks an asset up by id, or by (symbol, issuer) when the id is 0.
func (r *Registry) Resolve(ref Ref) (Asset, error) {
	if ref.ID != 0 {
		return r.Get(ref.ID)
	}
	if ref.Symbol == "" {
		return Asset{}, fmt.Errorf("%w: asset reference is empty", errs.ErrInvalidArgument)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.bySymbol[symbolKey{ref.Symbol, ref.Issuer}]
	switch len(ids) {
	case 0:
		return Asset{}, fmt.Errorf("%w: asset %s", errs.ErrNotFound, ref)
	case 1:
		return *r.assets[ids[0]], nil
	default:
		return Asset{}, fmt.Errorf("%w: asset %s is ambiguous, use its id", errs.ErrInvalidArgument, ref)
	}
}

func (r *Registry) Exists(id uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.assets[id]
	return ok
}

// List returns all assets ordered by id.
func (r *Registry) List() []Asset {
	return r.filter(func(*Asset) bool { return true })
}

// ListIssuedBy returns the assets whose issuer is addr, ordered by id.
func (r *Registry) ListIssuedBy(addr common.Address) []Asset {
	return r.filter(func(a *Asset) bool { return a.Issuer == addr })
}

func (r *Registry) filter(keep func(*Asset) bool) []Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Asset, 0, len(r.assets))
	for _, a := range r.assets {
		if keep(a) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.assets)
}

// Restore loads a persisted asset without authorization checks.
func (r *Registry) Restore(a Asset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := a
	r.assets[a.ID] = &cp
	key := symbolKey{a.Symbol, a.Issuer}
	r.bySymbol[key] = append(r.bySymbol[key], a.ID)
	if a.ID > r.maxID {
		r.maxID = a.ID
	}
}
