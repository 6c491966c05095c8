// Package ledgertest holds a behaviour suite every ledger backend must pass.
package ledgertest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multisend/internal/ledger"
)

// Factory opens a fresh, empty ledger for one test
type Factory func(t *testing.T) ledger.Ledger

var (
	Token   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	Holder  = common.HexToAddress("0x0000000000000000000000000000000000000001")
	Spender = common.HexToAddress("0x0000000000000000000000000000000000000002")
	Alice   = common.HexToAddress("0x0000000000000000000000000000000000000003")
	Bob     = common.HexToAddress("0x0000000000000000000000000000000000000004")
)

// Deploy registers Token with supply minted to Holder
func Deploy(t *testing.T, l ledger.Ledger, supply uint64) {
	t.Helper()
	_, err := l.Update(context.Background(), func(tx ledger.Tx) error {
		return tx.Deploy(ledger.TokenInfo{
			Address:     Token,
			Name:        "Test",
			Symbol:      "TST",
			Decimals:    18,
			TotalSupply: uint256.NewInt(supply),
		}, Holder)
	})
	require.NoError(t, err)
}

// Balance reads the Token balance of account
func Balance(t *testing.T, l ledger.Ledger, account common.Address) uint64 {
	t.Helper()
	var out uint64
	err := l.View(context.Background(), func(r ledger.Reader) error {
		bal, err := r.BalanceOf(Token, account)
		if err != nil {
			return err
		}
		out = bal.Uint64()
		return nil
	})
	require.NoError(t, err)
	return out
}

// Allowance reads the Token allowance of owner to spender
func Allowance(t *testing.T, l ledger.Ledger, owner, spender common.Address) uint64 {
	t.Helper()
	var out uint64
	err := l.View(context.Background(), func(r ledger.Reader) error {
		a, err := r.Allowance(Token, owner, spender)
		if err != nil {
			return err
		}
		out = a.Uint64()
		return nil
	})
	require.NoError(t, err)
	return out
}

// Run executes the suite against backends produced by newLedger
func Run(t *testing.T, newLedger Factory) {
	ctx := context.Background()

	t.Run("DeployMintsToHolder", func(t *testing.T) {
		l := newLedger(t)
		Deploy(t, l, 1000)

		assert.Equal(t, uint64(1000), Balance(t, l, Holder))
		err := l.View(ctx, func(r ledger.Reader) error {
			info, err := r.Token(Token)
			require.NoError(t, err)
			assert.Equal(t, "TST", info.Symbol)
			assert.Equal(t, uint8(18), info.Decimals)
			assert.Equal(t, uint64(1000), info.TotalSupply.Uint64())
			assert.Equal(t, uint64(1), r.BlockNumber())
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("RedeployFails", func(t *testing.T) {
		l := newLedger(t)
		Deploy(t, l, 1000)

		_, err := l.Update(ctx, func(tx ledger.Tx) error {
			return tx.Deploy(ledger.TokenInfo{Address: Token, TotalSupply: uint256.NewInt(1)}, Alice)
		})
		assert.ErrorIs(t, err, ledger.ErrTokenExists)
	})

	t.Run("UnknownToken", func(t *testing.T) {
		l := newLedger(t)

		err := l.View(ctx, func(r ledger.Reader) error {
			_, err := r.BalanceOf(Token, Alice)
			return err
		})
		assert.ErrorIs(t, err, ledger.ErrUnknownToken)

		_, err = l.Update(ctx, func(tx ledger.Tx) error {
			return tx.Transfer(Token, Holder, Alice, uint256.NewInt(1))
		})
		assert.ErrorIs(t, err, ledger.ErrUnknownToken)
	})

	t.Run("TransferEmitsEvent", func(t *testing.T) {
		l := newLedger(t)
		Deploy(t, l, 1000)

		commit, err := l.Update(ctx, func(tx ledger.Tx) error {
			return tx.Transfer(Token, Holder, Alice, uint256.NewInt(250))
		})
		require.NoError(t, err)

		assert.Equal(t, uint64(750), Balance(t, l, Holder))
		assert.Equal(t, uint64(250), Balance(t, l, Alice))
		require.Len(t, commit.Events, 1)
		ev := commit.Events[0]
		assert.Equal(t, ledger.EventTransfer, ev.Kind)
		assert.Equal(t, Holder, ev.From)
		assert.Equal(t, Alice, ev.To)
		assert.Equal(t, uint64(250), ev.Amount.Uint64())
		assert.Equal(t, uint64(2), commit.BlockNumber)
		assert.Equal(t, commit.TxHash, ev.TxHash)
	})

	t.Run("TransferRules", func(t *testing.T) {
		l := newLedger(t)
		Deploy(t, l, 1000)

		_, err := l.Update(ctx, func(tx ledger.Tx) error {
			return tx.Transfer(Token, Holder, common.Address{}, uint256.NewInt(1))
		})
		assert.ErrorIs(t, err, ledger.ErrInvalidReceiver)

		_, err = l.Update(ctx, func(tx ledger.Tx) error {
			return tx.Transfer(Token, Alice, Bob, uint256.NewInt(1))
		})
		assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

		_, err = l.Update(ctx, func(tx ledger.Tx) error {
			return tx.Transfer(Token, Holder, Holder, uint256.NewInt(400))
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(1000), Balance(t, l, Holder))
	})

	t.Run("ApproveSetsAllowance", func(t *testing.T) {
		l := newLedger(t)
		Deploy(t, l, 1000)

		for _, amount := range []uint64{300, 100} {
			commit, err := l.Update(ctx, func(tx ledger.Tx) error {
				return tx.Approve(Token, Holder, Spender, uint256.NewInt(amount))
			})
			require.NoError(t, err)
			require.Len(t, commit.Events, 1)
			assert.Equal(t, ledger.EventApproval, commit.Events[0].Kind)
			assert.Equal(t, amount, Allowance(t, l, Holder, Spender))
		}

		_, err := l.Update(ctx, func(tx ledger.Tx) error {
			return tx.Approve(Token, Holder, common.Address{}, uint256.NewInt(1))
		})
		assert.ErrorIs(t, err, ledger.ErrInvalidSpender)
	})

	t.Run("TransferFromConsumesAllowance", func(t *testing.T) {
		l := newLedger(t)
		Deploy(t, l, 1000)
		_, err := l.Update(ctx, func(tx ledger.Tx) error {
			return tx.Approve(Token, Holder, Spender, uint256.NewInt(300))
		})
		require.NoError(t, err)

		_, err = l.Update(ctx, func(tx ledger.Tx) error {
			return tx.TransferFrom(Token, Spender, Holder, Alice, uint256.NewInt(200))
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(100), Allowance(t, l, Holder, Spender))
		assert.Equal(t, uint64(200), Balance(t, l, Alice))

		_, err = l.Update(ctx, func(tx ledger.Tx) error {
			return tx.TransferFrom(Token, Spender, Holder, Alice, uint256.NewInt(101))
		})
		assert.ErrorIs(t, err, ledger.ErrInsufficientAllowance)
		assert.Equal(t, uint64(100), Allowance(t, l, Holder, Spender))
	})

	t.Run("InfiniteAllowanceNotDecremented", func(t *testing.T) {
		l := newLedger(t)
		Deploy(t, l, 1000)
		max := new(uint256.Int).SetAllOne()
		_, err := l.Update(ctx, func(tx ledger.Tx) error {
			return tx.Approve(Token, Holder, Spender, max)
		})
		require.NoError(t, err)

		_, err = l.Update(ctx, func(tx ledger.Tx) error {
			return tx.TransferFrom(Token, Spender, Holder, Alice, uint256.NewInt(10))
		})
		require.NoError(t, err)

		err = l.View(ctx, func(r ledger.Reader) error {
			a, err := r.Allowance(Token, Holder, Spender)
			require.NoError(t, err)
			assert.True(t, a.Eq(max))
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("FailedUpdateLeavesNoTrace", func(t *testing.T) {
		l := newLedger(t)
		Deploy(t, l, 1000)
		_, err := l.Update(ctx, func(tx ledger.Tx) error {
			return tx.Approve(Token, Holder, Spender, uint256.NewInt(500))
		})
		require.NoError(t, err)

		boom := errors.New("boom")
		commit, err := l.Update(ctx, func(tx ledger.Tx) error {
			if err := tx.TransferFrom(Token, Spender, Holder, Alice, uint256.NewInt(100)); err != nil {
				return err
			}
			if err := tx.TransferFrom(Token, Spender, Holder, Bob, uint256.NewInt(100)); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Nil(t, commit)

		assert.Equal(t, uint64(1000), Balance(t, l, Holder))
		assert.Equal(t, uint64(0), Balance(t, l, Alice))
		assert.Equal(t, uint64(0), Balance(t, l, Bob))
		assert.Equal(t, uint64(500), Allowance(t, l, Holder, Spender))
		err = l.View(ctx, func(r ledger.Reader) error {
			assert.Equal(t, uint64(2), r.BlockNumber())
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("ConcurrentSpendersSerialize", func(t *testing.T) {
		l := newLedger(t)
		Deploy(t, l, 1000)
		_, err := l.Update(ctx, func(tx ledger.Tx) error {
			return tx.Approve(Token, Holder, Spender, uint256.NewInt(50))
		})
		require.NoError(t, err)

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
		)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := l.Update(ctx, func(tx ledger.Tx) error {
					return tx.TransferFrom(Token, Spender, Holder, Alice, uint256.NewInt(10))
				})
				if err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 5, succeeded)
		assert.Equal(t, uint64(0), Allowance(t, l, Holder, Spender))
		assert.Equal(t, uint64(50), Balance(t, l, Alice))
	})

	t.Run("ClosedLedger", func(t *testing.T) {
		l := newLedger(t)
		require.NoError(t, l.Close())

		_, err := l.Update(ctx, func(tx ledger.Tx) error { return nil })
		assert.Error(t, err)
	})
}
