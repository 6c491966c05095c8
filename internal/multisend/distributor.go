// Package multisend implements batch distribution of one token amount to many
// recipients out of a single pre-approved allowance.
package multisend

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"multisend/internal/ledger"
)

// MaxCount is the largest number of recipients accepted in one distribution
const MaxCount = 64

// Request describes one distribution
type Request struct {
	Token              common.Address
	AmountPerRecipient *uint256.Int
	Recipients         []common.Address
}

// Validate applies the request checks in order and returns the first failure
func (r *Request) Validate() error {
	if r.Token == (common.Address{}) {
		return ErrInvalidTokenAddress
	}
	if r.AmountPerRecipient == nil || r.AmountPerRecipient.IsZero() {
		return ErrZeroAmount
	}
	if n := len(r.Recipients); n <= 1 || n > MaxCount {
		return fmt.Errorf("%w: got %d, want 2..%d", ErrInvalidRecipientCount, n, MaxCount)
	}
	return nil
}

// Receipt describes a completed distribution
type Receipt struct {
	TxHash             common.Hash
	BlockNumber        uint64
	Token              common.Address
	Sender             common.Address
	AmountPerRecipient *uint256.Int
	Total              *uint256.Int
	Recipients         []common.Address
	Transfers          []ledger.Event
}

// Distributor pulls funds from a caller's allowance and pushes them to every
// recipient. It never holds funds: each transfer goes directly from the caller
// to the recipient, with the distributor acting only as spender.
type Distributor struct {
	ledger  ledger.Ledger
	address common.Address
	logger  zerolog.Logger
}

// New creates a Distributor acting as spender address on l
func New(l ledger.Ledger, address common.Address, logger zerolog.Logger) *Distributor {
	return &Distributor{
		ledger:  l,
		address: address,
		logger:  logger.With().Str("component", "multisend").Logger(),
	}
}

// Address returns the spender address callers must approve
func (d *Distributor) Address() common.Address {
	return d.address
}

// MaxCount returns the recipient limit
func (d *Distributor) MaxCount() int {
	return MaxCount
}

// PushDistribute moves req.AmountPerRecipient of req.Token from caller to each
// recipient in list order. The whole batch is one ledger update: if any
// transfer fails nothing is applied and the ledger error is returned as is.
func (d *Distributor) PushDistribute(ctx context.Context, caller common.Address, req Request) (*Receipt, error) {
	if err := req.Validate(); err != nil {
		d.logger.Debug().
			Err(err).
			Str("token", req.Token.Hex()).
			Str("sender", caller.Hex()).
			Int("recipients", len(req.Recipients)).
			Msg("distribution rejected")
		return nil, err
	}

	amount := req.AmountPerRecipient.Clone()
	recipients := make([]common.Address, len(req.Recipients))
	copy(recipients, req.Recipients)

	commit, err := d.ledger.Update(ctx, func(tx ledger.Tx) error {
		for _, recipient := range recipients {
			if err := tx.TransferFrom(req.Token, d.address, caller, recipient, amount); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		d.logger.Debug().
			Err(err).
			Str("token", req.Token.Hex()).
			Str("sender", caller.Hex()).
			Int("recipients", len(recipients)).
			Msg("distribution reverted")
		return nil, err
	}

	total, overflow := new(uint256.Int).MulOverflow(amount, uint256.NewInt(uint64(len(recipients))))
	if overflow {
		// Unreachable after the transfers succeeded: the total is bounded by the caller's balance
		return nil, fmt.Errorf("total overflows uint256")
	}

	receipt := &Receipt{
		TxHash:             commit.TxHash,
		BlockNumber:        commit.BlockNumber,
		Token:              req.Token,
		Sender:             caller,
		AmountPerRecipient: amount,
		Total:              total,
		Recipients:         recipients,
		Transfers:          commit.Transfers(),
	}

	d.logger.Info().
		Str("token", req.Token.Hex()).
		Str("sender", caller.Hex()).
		Int("recipients", len(recipients)).
		Str("total", total.Dec()).
		Uint64("block", commit.BlockNumber).
		Str("tx", commit.TxHash.Hex()).
		Msg("distribution executed")

	return receipt, nil
}
