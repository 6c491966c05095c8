package events

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"multisend/internal/jsonrpc"
	"multisend/internal/ledger"
)

var (
	tokenA = common.HexToAddress("0xaa")
	tokenB = common.HexToAddress("0xbb")
	alice  = common.HexToAddress("0x01")
	bob    = common.HexToAddress("0x02")
)

func transferCommit(block uint64, token common.Address, pairs ...common.Address) *ledger.Commit {
	var evs []ledger.Event
	for i := 0; i+1 < len(pairs); i += 2 {
		evs = append(evs, ledger.Event{
			Kind:   ledger.EventTransfer,
			Token:  token,
			From:   pairs[i],
			To:     pairs[i+1],
			Amount: uint256.NewInt(100),
		})
	}
	return ledger.Seal(block, evs)
}

func TestRegistry_SubscribeUnsubscribe(t *testing.T) {
	r := NewRegistry(100, zerolog.Nop())
	defer r.Close()

	sub := &mockSubscriber{id: "sub1"}
	if err := r.Subscribe(SubTypeTransfers, Filter{}, sub); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if got := r.SubscriptionCount(); got != 1 {
		t.Fatalf("SubscriptionCount = %d, want 1", got)
	}

	r.Unsubscribe(SubTypeTransfers, Filter{}, "sub1")
	if got := r.SubscriptionCount(); got != 0 {
		t.Fatalf("SubscriptionCount = %d, want 0", got)
	}
}

func TestRegistry_SharedEntry(t *testing.T) {
	r := NewRegistry(100, zerolog.Nop())
	defer r.Close()

	a := &mockSubscriber{id: "a"}
	b := &mockSubscriber{id: "b"}
	_ = r.Subscribe(SubTypeTransfers, Filter{Token: &tokenA}, a)
	_ = r.Subscribe(SubTypeTransfers, Filter{Token: &tokenA}, b)
	if got := r.SubscriptionCount(); got != 1 {
		t.Fatalf("SubscriptionCount = %d, want 1", got)
	}

	r.Unsubscribe(SubTypeTransfers, Filter{Token: &tokenA}, "a")
	r.Publish(transferCommit(1, tokenA, alice, bob))

	if a.count() != 0 {
		t.Errorf("removed subscriber got %d events", a.count())
	}
	if b.count() != 1 {
		t.Errorf("remaining subscriber got %d events, want 1", b.count())
	}
}

func TestRegistry_Publish_DeliversInLogOrder(t *testing.T) {
	r := NewRegistry(100, zerolog.Nop())
	defer r.Close()

	sub := &mockSubscriber{id: "sub1"}
	if err := r.Subscribe(SubTypeTransfers, Filter{}, sub); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	commit := transferCommit(7, tokenA, alice, bob, alice, alice, bob, alice)
	r.Publish(commit)

	events := sub.received()
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for i, e := range events {
		var log jsonrpc.Log
		if err := json.Unmarshal(e.Result, &log); err != nil {
			t.Fatalf("unmarshal log: %v", err)
		}
		if uint(log.LogIndex) != uint(i) {
			t.Errorf("event %d has logIndex %d", i, log.LogIndex)
		}
		if log.TransactionHash != commit.TxHash {
			t.Errorf("event %d has tx %s, want %s", i, log.TransactionHash, commit.TxHash)
		}
		if uint64(log.BlockNumber) != 7 {
			t.Errorf("event %d has block %d, want 7", i, log.BlockNumber)
		}
		if e.Log.Event != "Transfer" {
			t.Errorf("event %d kind = %s", i, e.Log.Event)
		}
	}
}

func TestRegistry_Publish_Filters(t *testing.T) {
	r := NewRegistry(100, zerolog.Nop())
	defer r.Close()

	byToken := &mockSubscriber{id: "token"}
	byFrom := &mockSubscriber{id: "from"}
	byTo := &mockSubscriber{id: "to"}
	approvals := &mockSubscriber{id: "approvals"}
	_ = r.Subscribe(SubTypeTransfers, Filter{Token: &tokenB}, byToken)
	_ = r.Subscribe(SubTypeTransfers, Filter{From: &bob}, byFrom)
	_ = r.Subscribe(SubTypeTransfers, Filter{To: &bob}, byTo)
	_ = r.Subscribe(SubTypeApprovals, Filter{}, approvals)

	r.Publish(transferCommit(1, tokenA, alice, bob, alice, alice))
	r.Publish(transferCommit(2, tokenB, bob, alice))
	r.Publish(ledger.Seal(3, []ledger.Event{{
		Kind: ledger.EventApproval, Token: tokenA, From: alice, To: bob, Amount: uint256.NewInt(1),
	}}))

	if got := byToken.count(); got != 1 {
		t.Errorf("token filter got %d, want 1", got)
	}
	if got := byFrom.count(); got != 1 {
		t.Errorf("from filter got %d, want 1", got)
	}
	if got := byTo.count(); got != 1 {
		t.Errorf("to filter got %d, want 1", got)
	}
	if got := approvals.count(); got != 1 {
		t.Errorf("approvals got %d, want 1", got)
	}
}

func TestRegistry_Publish_Dedup(t *testing.T) {
	r := NewRegistry(100, zerolog.Nop())
	defer r.Close()

	sub := &mockSubscriber{id: "sub1"}
	_ = r.Subscribe(SubTypeTransfers, Filter{}, sub)

	commit := transferCommit(1, tokenA, alice, bob)
	r.Publish(commit)
	r.Publish(commit)

	if got := sub.count(); got != 1 {
		t.Errorf("got %d events, want 1", got)
	}
}

func TestRegistry_ClosedIgnoresPublish(t *testing.T) {
	r := NewRegistry(100, zerolog.Nop())
	sub := &mockSubscriber{id: "sub1"}
	_ = r.Subscribe(SubTypeTransfers, Filter{}, sub)
	r.Close()

	r.Publish(transferCommit(1, tokenA, alice, bob))
	r.Publish(nil)
	if got := sub.count(); got != 0 {
		t.Errorf("got %d events after close", got)
	}
}

func TestRegistry_InvalidDedupSize(t *testing.T) {
	r := NewRegistry(0, zerolog.Nop())
	defer r.Close()

	if err := r.Subscribe(SubTypeTransfers, Filter{}, &mockSubscriber{id: "x"}); err == nil {
		t.Fatal("expected error for zero dedup size")
	}
}

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter(nil)
	if err != nil || f.Token != nil || f.From != nil || f.To != nil {
		t.Fatalf("empty filter = %+v, %v", f, err)
	}

	f, err = ParseFilter(json.RawMessage(`{"token":"0x00000000000000000000000000000000000000aa"}`))
	if err != nil {
		t.Fatalf("ParseFilter: %v", err)
	}
	if f.Token == nil || *f.Token != tokenA {
		t.Errorf("token = %v, want %s", f.Token, tokenA)
	}

	if _, err := ParseFilter(json.RawMessage(`{"token":5}`)); err == nil {
		t.Error("expected error for malformed filter")
	}
}

func TestParseSubscriptionType(t *testing.T) {
	for _, s := range []string{"transfers", "approvals"} {
		if _, err := ParseSubscriptionType(s); err != nil {
			t.Errorf("ParseSubscriptionType(%q): %v", s, err)
		}
	}
	if _, err := ParseSubscriptionType("newHeads"); err == nil {
		t.Error("expected error for newHeads")
	}
}

type mockSubscriber struct {
	id     string
	mu     sync.Mutex
	events []Event
}

func (m *mockSubscriber) OnEvent(e Event) {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
}

func (m *mockSubscriber) ID() string { return m.id }

func (m *mockSubscriber) received() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

func (m *mockSubscriber) count() int {
	return len(m.received())
}
