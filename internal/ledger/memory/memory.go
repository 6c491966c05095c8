// Package memory implements an in-memory token ledger.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"multisend/internal/ledger"
)

var errReadOnly = errors.New("read-only view")

type balanceKey struct {
	token   common.Address
	account common.Address
}

type allowanceKey struct {
	token   common.Address
	owner   common.Address
	spender common.Address
}

// Ledger keeps all token state in maps guarded by a single lock.
// Updates write into an overlay that is merged only when the callback succeeds.
type Ledger struct {
	mu         sync.RWMutex
	closed     bool
	block      uint64
	tokens     map[common.Address]*ledger.TokenInfo
	balances   map[balanceKey]*uint256.Int
	allowances map[allowanceKey]*uint256.Int
}

// New creates an empty in-memory ledger
func New() *Ledger {
	return &Ledger{
		tokens:     make(map[common.Address]*ledger.TokenInfo),
		balances:   make(map[balanceKey]*uint256.Int),
		allowances: make(map[allowanceKey]*uint256.Int),
	}
}

// View runs fn against the committed state
func (l *Ledger) View(ctx context.Context, fn func(ledger.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return ledger.ErrClosed
	}
	return fn(ledger.NewStateTx(&overlay{base: l}))
}

// Update runs fn against a private overlay and merges it on success
func (l *Ledger) Update(ctx context.Context, fn func(ledger.Tx) error) (*ledger.Commit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ledger.ErrClosed
	}

	ov := newOverlay(l)
	tx := ledger.NewStateTx(ov)
	if err := fn(tx); err != nil {
		return nil, err
	}

	l.merge(ov)
	l.block++
	return ledger.Seal(l.block, tx.Events()), nil
}

// Close marks the ledger closed; later calls fail with ledger.ErrClosed
func (l *Ledger) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

// merge applies the overlay writes; caller must hold the write lock
func (l *Ledger) merge(ov *overlay) {
	for addr, info := range ov.tokens {
		l.tokens[addr] = info
	}
	for key, amount := range ov.balances {
		if amount.IsZero() {
			delete(l.balances, key)
			continue
		}
		l.balances[key] = amount
	}
	for key, amount := range ov.allowances {
		if amount.IsZero() {
			delete(l.allowances, key)
			continue
		}
		l.allowances[key] = amount
	}
}

// overlay is a copy-on-write view over the committed maps.
// A nil write map means the overlay is read-only.
type overlay struct {
	base       *Ledger
	tokens     map[common.Address]*ledger.TokenInfo
	balances   map[balanceKey]*uint256.Int
	allowances map[allowanceKey]*uint256.Int
}

func newOverlay(base *Ledger) *overlay {
	return &overlay{
		base:       base,
		tokens:     make(map[common.Address]*ledger.TokenInfo),
		balances:   make(map[balanceKey]*uint256.Int),
		allowances: make(map[allowanceKey]*uint256.Int),
	}
}

func (o *overlay) BlockNumber() uint64 {
	return o.base.block
}

func (o *overlay) LoadToken(token common.Address) (*ledger.TokenInfo, bool, error) {
	if info, ok := o.tokens[token]; ok {
		return info.Clone(), true, nil
	}
	if info, ok := o.base.tokens[token]; ok {
		return info.Clone(), true, nil
	}
	return nil, false, nil
}

func (o *overlay) StoreToken(info *ledger.TokenInfo) error {
	if o.tokens == nil {
		return errReadOnly
	}
	o.tokens[info.Address] = info.Clone()
	return nil
}

func (o *overlay) LoadBalance(token, account common.Address) (*uint256.Int, error) {
	key := balanceKey{token: token, account: account}
	if amount, ok := o.balances[key]; ok {
		return amount.Clone(), nil
	}
	if amount, ok := o.base.balances[key]; ok {
		return amount.Clone(), nil
	}
	return new(uint256.Int), nil
}

func (o *overlay) StoreBalance(token, account common.Address, amount *uint256.Int) error {
	if o.balances == nil {
		return errReadOnly
	}
	o.balances[balanceKey{token: token, account: account}] = amount.Clone()
	return nil
}

func (o *overlay) LoadAllowance(token, owner, spender common.Address) (*uint256.Int, error) {
	key := allowanceKey{token: token, owner: owner, spender: spender}
	if amount, ok := o.allowances[key]; ok {
		return amount.Clone(), nil
	}
	if amount, ok := o.base.allowances[key]; ok {
		return amount.Clone(), nil
	}
	return new(uint256.Int), nil
}

func (o *overlay) StoreAllowance(token, owner, spender common.Address, amount *uint256.Int) error {
	if o.allowances == nil {
		return errReadOnly
	}
	o.allowances[allowanceKey{token: token, owner: owner, spender: spender}] = amount.Clone()
	return nil
}
