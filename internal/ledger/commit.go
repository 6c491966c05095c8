package ledger

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
)

// Seal numbers the events of one update and derives its transaction hash:
// keccak256(blockNumber || kind || token || from || to || amount ...)
func Seal(blockNumber uint64, events []Event) *Commit {
	var num [8]byte
	binary.BigEndian.PutUint64(num[:], blockNumber)

	data := make([][]byte, 0, 1+len(events)*5)
	data = append(data, num[:])
	for _, e := range events {
		amount := e.Amount.Bytes32()
		data = append(data, []byte(e.Kind), e.Token.Bytes(), e.From.Bytes(), e.To.Bytes(), amount[:])
	}
	txHash := crypto.Keccak256Hash(data...)

	sealed := make([]Event, len(events))
	for i, e := range events {
		e.BlockNumber = blockNumber
		e.TxHash = txHash
		e.LogIndex = uint(i)
		sealed[i] = e
	}

	return &Commit{
		BlockNumber: blockNumber,
		TxHash:      txHash,
		Events:      sealed,
	}
}

// CommitFunc receives every successful commit
type CommitFunc func(*Commit)

type observed struct {
	Ledger
	onCommit CommitFunc
	mu       sync.Mutex
}

// Observe wraps l so that fn is called after each successful Update.
// Commits reach fn one at a time in block order; fn must not update l.
func Observe(l Ledger, fn CommitFunc) Ledger {
	return &observed{Ledger: l, onCommit: fn}
}

func (o *observed) Update(ctx context.Context, fn func(Tx) error) (*Commit, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	commit, err := o.Ledger.Update(ctx, fn)
	if err != nil {
		return nil, err
	}
	o.onCommit(commit)
	return commit, nil
}
