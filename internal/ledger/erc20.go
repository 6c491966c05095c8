package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Store is the raw storage a backend exposes to the token rules.
// Missing balances and allowances load as zero.
type Store interface {
	BlockNumber() uint64
	LoadToken(token common.Address) (*TokenInfo, bool, error)
	StoreToken(info *TokenInfo) error
	LoadBalance(token, account common.Address) (*uint256.Int, error)
	StoreBalance(token, account common.Address, amount *uint256.Int) error
	LoadAllowance(token, owner, spender common.Address) (*uint256.Int, error)
	StoreAllowance(token, owner, spender common.Address, amount *uint256.Int) error
}

// maxAllowance is treated as an infinite approval and never decremented
var maxAllowance = new(uint256.Int).SetAllOne()

// StateTx applies ERC20 rules on top of a Store and records the emitted events
type StateTx struct {
	store  Store
	events []Event
}

// NewStateTx creates a StateTx over store
func NewStateTx(store Store) *StateTx {
	return &StateTx{store: store}
}

// Events returns the events recorded so far
func (t *StateTx) Events() []Event {
	return t.events
}

// BlockNumber returns the last committed block number
func (t *StateTx) BlockNumber() uint64 {
	return t.store.BlockNumber()
}

// Token returns token metadata
func (t *StateTx) Token(token common.Address) (*TokenInfo, error) {
	info, ok, err := t.store.LoadToken(token)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	return info.Clone(), nil
}

// BalanceOf returns the balance of account
func (t *StateTx) BalanceOf(token, account common.Address) (*uint256.Int, error) {
	if _, err := t.Token(token); err != nil {
		return nil, err
	}
	return t.store.LoadBalance(token, account)
}

// Allowance returns the amount spender may still move on behalf of owner
func (t *StateTx) Allowance(token, owner, spender common.Address) (*uint256.Int, error) {
	if _, err := t.Token(token); err != nil {
		return nil, err
	}
	return t.store.LoadAllowance(token, owner, spender)
}

// Deploy registers a token and mints its total supply to holder
func (t *StateTx) Deploy(info TokenInfo, holder common.Address) error {
	if _, ok, err := t.store.LoadToken(info.Address); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: %s", ErrTokenExists, info.Address.Hex())
	}
	if holder == (common.Address{}) {
		return ErrInvalidReceiver
	}

	stored := info.Clone()
	if err := t.store.StoreToken(stored); err != nil {
		return err
	}
	if err := t.store.StoreBalance(info.Address, holder, stored.TotalSupply); err != nil {
		return err
	}

	t.emit(EventTransfer, info.Address, common.Address{}, holder, stored.TotalSupply)
	return nil
}

// Transfer moves amount from one account to another
func (t *StateTx) Transfer(token, from, to common.Address, amount *uint256.Int) error {
	if amount == nil {
		return ErrNilAmount
	}
	if _, err := t.Token(token); err != nil {
		return err
	}
	if from == (common.Address{}) {
		return ErrInvalidSender
	}
	if to == (common.Address{}) {
		return ErrInvalidReceiver
	}

	fromBal, err := t.store.LoadBalance(token, from)
	if err != nil {
		return err
	}
	if fromBal.Lt(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromBal.Dec(), amount.Dec())
	}
	if err := t.store.StoreBalance(token, from, new(uint256.Int).Sub(fromBal, amount)); err != nil {
		return err
	}

	// Reload after the debit so self-transfers stay balanced
	toBal, err := t.store.LoadBalance(token, to)
	if err != nil {
		return err
	}
	// Cannot overflow: the sum of balances equals the total supply
	if err := t.store.StoreBalance(token, to, new(uint256.Int).Add(toBal, amount)); err != nil {
		return err
	}

	t.emit(EventTransfer, token, from, to, amount)
	return nil
}

// Approve sets the allowance of spender over owner's tokens
func (t *StateTx) Approve(token, owner, spender common.Address, amount *uint256.Int) error {
	if amount == nil {
		return ErrNilAmount
	}
	if _, err := t.Token(token); err != nil {
		return err
	}
	if owner == (common.Address{}) {
		return ErrInvalidApprover
	}
	if spender == (common.Address{}) {
		return ErrInvalidSpender
	}

	if err := t.store.StoreAllowance(token, owner, spender, amount.Clone()); err != nil {
		return err
	}

	t.emit(EventApproval, token, owner, spender, amount)
	return nil
}

// TransferFrom spends spender's allowance over owner and transfers to recipient
func (t *StateTx) TransferFrom(token, spender, owner, recipient common.Address, amount *uint256.Int) error {
	if amount == nil {
		return ErrNilAmount
	}
	if _, err := t.Token(token); err != nil {
		return err
	}

	allowance, err := t.store.LoadAllowance(token, owner, spender)
	if err != nil {
		return err
	}
	infinite := allowance.Eq(maxAllowance)
	if !infinite && allowance.Lt(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientAllowance, allowance.Dec(), amount.Dec())
	}

	if err := t.Transfer(token, owner, recipient, amount); err != nil {
		return err
	}
	if infinite {
		return nil
	}
	return t.store.StoreAllowance(token, owner, spender, new(uint256.Int).Sub(allowance, amount))
}

func (t *StateTx) emit(kind EventKind, token, from, to common.Address, amount *uint256.Int) {
	t.events = append(t.events, Event{
		Kind:   kind,
		Token:  token,
		From:   from,
		To:     to,
		Amount: amount.Clone(),
	})
}
