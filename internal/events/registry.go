package events

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"multisend/internal/jsonrpc"
	"multisend/internal/ledger"
)

// subEntry holds subscribers and dedup for one (type, filter) pair
type subEntry struct {
	subType SubscriptionType
	filter  Filter
	subs    map[string]Subscriber
	dedup   *Deduplicator
}

// Registry is the single source of truth for subscriptions. Subscribers
// sharing a type and filter share one entry and one dedup cache; Publish
// delivers each committed event to every entry it matches.
type Registry struct {
	mu     sync.RWMutex
	active map[string]*subEntry
	closed bool

	dedupSize int
	logger    zerolog.Logger
}

// NewRegistry creates a new subscription registry.
func NewRegistry(dedupSize int, logger zerolog.Logger) *Registry {
	return &Registry{
		active:    make(map[string]*subEntry),
		dedupSize: dedupSize,
		logger:    logger.With().Str("component", "event-registry").Logger(),
	}
}

// Close drops every subscription. Later Publish calls are ignored.
func (r *Registry) Close() {
	r.mu.Lock()
	r.active = make(map[string]*subEntry)
	r.closed = true
	r.mu.Unlock()
	r.logger.Info().Msg("event registry closed")
}

func generateKey(subType SubscriptionType, filter Filter) string {
	return string(subType) + ":" + filter.key()
}

// Subscribe adds a subscriber, creating the entry for (subType, filter) if new
func (r *Registry) Subscribe(subType SubscriptionType, filter Filter, subscriber Subscriber) error {
	key := generateKey(subType, filter)

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, exists := r.active[key]; exists {
		entry.subs[subscriber.ID()] = subscriber
		r.logger.Debug().Str("key", key).Str("subscriberID", subscriber.ID()).Msg("subscriber added to existing subscription")
		return nil
	}

	dedup, err := NewDeduplicator(r.dedupSize)
	if err != nil {
		return err
	}
	r.active[key] = &subEntry{
		subType: subType,
		filter:  filter,
		subs:    map[string]Subscriber{subscriber.ID(): subscriber},
		dedup:   dedup,
	}

	r.logger.Info().Str("key", key).Str("type", string(subType)).Str("subscriberID", subscriber.ID()).Msg("created new subscription")
	return nil
}

// Unsubscribe removes a subscriber. The entry goes away with its last subscriber.
func (r *Registry) Unsubscribe(subType SubscriptionType, filter Filter, subscriberID string) {
	key := generateKey(subType, filter)

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.active[key]
	if !exists {
		return
	}
	delete(entry.subs, subscriberID)
	if len(entry.subs) > 0 {
		r.logger.Debug().Str("key", key).Str("subscriberID", subscriberID).Int("remaining", len(entry.subs)).Msg("subscriber removed")
		return
	}
	delete(r.active, key)
	r.logger.Info().Str("key", key).Msg("closed subscription (no more subscribers)")
}

// SubscriptionCount returns the number of distinct (type, filter) entries
func (r *Registry) SubscriptionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}

// Publish delivers every event of commit, in log order, to the matching subscribers.
// It has the shape of a ledger.CommitFunc.
func (r *Registry) Publish(commit *ledger.Commit) {
	if commit == nil {
		return
	}
	for _, ev := range commit.Events {
		r.deliver(ev)
	}
}

func (r *Registry) deliver(ev ledger.Event) {
	subType := subTypeOf(ev.Kind)

	type target struct {
		dedup *Deduplicator
		subs  []Subscriber
	}

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return
	}
	var targets []target
	for _, entry := range r.active {
		if entry.subType != subType || !entry.filter.Matches(ev) {
			continue
		}
		subs := make([]Subscriber, 0, len(entry.subs))
		for _, s := range entry.subs {
			subs = append(subs, s)
		}
		targets = append(targets, target{dedup: entry.dedup, subs: subs})
	}
	r.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	log := jsonrpc.NewLog(ev)
	result, err := json.Marshal(log)
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to marshal log")
		return
	}
	event := Event{SubType: subType, Log: log, Result: result}

	for _, t := range targets {
		if t.dedup.IsDuplicate(ev.TxHash, ev.LogIndex) {
			continue
		}
		sort.Slice(t.subs, func(i, j int) bool { return t.subs[i].ID() < t.subs[j].ID() })
		for _, sub := range t.subs {
			start := time.Now()
			sub.OnEvent(event)
			if d := time.Since(start); d > time.Second {
				r.logger.Warn().Str("subscriber", sub.ID()).Dur("duration", d).Msg("subscriber delivery slow")
			}
		}
	}
}
