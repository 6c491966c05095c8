package ledger

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeal_NumbersEventsAndHashes(t *testing.T) {
	events := []Event{
		{Kind: EventTransfer, Token: common.Address{1}, From: common.Address{2}, To: common.Address{3}, Amount: uint256.NewInt(5)},
		{Kind: EventTransfer, Token: common.Address{1}, From: common.Address{2}, To: common.Address{4}, Amount: uint256.NewInt(5)},
	}

	c := Seal(7, events)
	require.Len(t, c.Events, 2)
	assert.Equal(t, uint64(7), c.BlockNumber)
	for i, e := range c.Events {
		assert.Equal(t, uint(i), e.LogIndex)
		assert.Equal(t, c.TxHash, e.TxHash)
		assert.Equal(t, uint64(7), e.BlockNumber)
	}
	assert.Equal(t, common.Hash{}, events[0].TxHash, "input must not be mutated")

	assert.Equal(t, c.TxHash, Seal(7, events).TxHash)
	assert.NotEqual(t, c.TxHash, Seal(8, events).TxHash)
}

func TestCommit_Transfers(t *testing.T) {
	c := &Commit{Events: []Event{
		{Kind: EventApproval},
		{Kind: EventTransfer, LogIndex: 1},
	}}
	transfers := c.Transfers()
	require.Len(t, transfers, 1)
	assert.Equal(t, uint(1), transfers[0].LogIndex)
}

type stubLedger struct {
	Ledger
	commit *Commit
	err    error
}

func (s *stubLedger) Update(ctx context.Context, fn func(Tx) error) (*Commit, error) {
	return s.commit, s.err
}

func TestObserve(t *testing.T) {
	var seen []*Commit
	commit := &Commit{BlockNumber: 3}

	l := Observe(&stubLedger{commit: commit}, func(c *Commit) { seen = append(seen, c) })
	_, err := l.Update(context.Background(), nil)
	require.NoError(t, err)

	failing := Observe(&stubLedger{err: errors.New("boom")}, func(c *Commit) { seen = append(seen, c) })
	_, err = failing.Update(context.Background(), nil)
	require.Error(t, err)

	require.Len(t, seen, 1)
	assert.Same(t, commit, seen[0])
}

// blockCounter mines under its own lock and yields before returning,
// like a backend that releases its lock before the caller sees the commit
type blockCounter struct {
	Ledger
	mu    sync.Mutex
	block uint64
}

func (b *blockCounter) Update(ctx context.Context, fn func(Tx) error) (*Commit, error) {
	b.mu.Lock()
	b.block++
	block := b.block
	b.mu.Unlock()
	runtime.Gosched()
	return &Commit{BlockNumber: block}, nil
}

func TestObserve_DeliversInBlockOrder(t *testing.T) {
	var seen []uint64
	l := Observe(&blockCounter{}, func(c *Commit) { seen = append(seen, c.BlockNumber) })

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Update(context.Background(), nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, seen, 50)
	for i, block := range seen {
		assert.Equal(t, uint64(i+1), block)
	}
}

func TestIsRuleViolation(t *testing.T) {
	assert.True(t, IsRuleViolation(ErrInsufficientAllowance))
	assert.True(t, IsRuleViolation(fmt.Errorf("batch: %w", ErrInvalidReceiver)))
	assert.False(t, IsRuleViolation(ErrClosed))
	assert.False(t, IsRuleViolation(context.Canceled))
	assert.False(t, IsRuleViolation(nil))
}
