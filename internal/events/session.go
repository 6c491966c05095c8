package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"multisend/internal/jsonrpc"
)

// sendBufferSize bounds the notifications queued per subscription
const sendBufferSize = 100

var (
	ErrSessionClosed        = errors.New("session is closed")
	ErrTooManySubscriptions = errors.New("maximum subscriptions reached")
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// ClientSession manages subscriptions for a single WebSocket client
type ClientSession struct {
	sendFunc      SendFunc
	subscriptions map[string]*clientSubscriber
	mu            sync.RWMutex
	maxSubs       int
	registry      *Registry
	logger        zerolog.Logger
	closed        bool
	closeChan     chan struct{}
}

// NewClientSession creates a new ClientSession
func NewClientSession(sendFunc SendFunc, registry *Registry, maxSubs int, logger zerolog.Logger) *ClientSession {
	return &ClientSession{
		sendFunc:      sendFunc,
		subscriptions: make(map[string]*clientSubscriber),
		maxSubs:       maxSubs,
		registry:      registry,
		logger:        logger,
		closeChan:     make(chan struct{}),
	}
}

// Subscribe creates a new subscription and returns its ID
func (cs *ClientSession) Subscribe(subType SubscriptionType, filter Filter) (string, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.closed {
		return "", ErrSessionClosed
	}
	if len(cs.subscriptions) >= cs.maxSubs {
		return "", fmt.Errorf("%w (%d)", ErrTooManySubscriptions, cs.maxSubs)
	}

	subscriber := &clientSubscriber{
		id:        generateSubID(),
		subType:   subType,
		filter:    filter,
		session:   cs,
		sendChan:  make(chan []byte, sendBufferSize),
		closeChan: make(chan struct{}),
	}

	if err := cs.registry.Subscribe(subType, filter, subscriber); err != nil {
		return "", fmt.Errorf("failed to subscribe: %w", err)
	}
	cs.subscriptions[subscriber.id] = subscriber

	go cs.sendToClient(subscriber)

	cs.logger.Debug().
		Str("subID", subscriber.id).
		Str("type", string(subType)).
		Msg("subscription created")

	return subscriber.id, nil
}

// Unsubscribe removes a subscription
func (cs *ClientSession) Unsubscribe(subID string) error {
	cs.mu.Lock()
	sub, ok := cs.subscriptions[subID]
	if !ok {
		cs.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, subID)
	}
	delete(cs.subscriptions, subID)
	cs.mu.Unlock()

	cs.registry.Unsubscribe(sub.subType, sub.filter, subID)
	sub.Close()

	cs.logger.Debug().Str("subID", subID).Msg("subscription removed")
	return nil
}

// Close closes the session and all subscriptions
func (cs *ClientSession) Close() {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return
	}
	cs.closed = true
	close(cs.closeChan)

	subs := make([]*clientSubscriber, 0, len(cs.subscriptions))
	for _, sub := range cs.subscriptions {
		subs = append(subs, sub)
	}
	cs.subscriptions = make(map[string]*clientSubscriber)
	cs.mu.Unlock()

	for _, sub := range subs {
		cs.registry.Unsubscribe(sub.subType, sub.filter, sub.id)
		sub.Close()
	}

	cs.logger.Debug().Msg("client session closed")
}

// GetSubscriptionCount returns the number of active subscriptions
func (cs *ClientSession) GetSubscriptionCount() int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return len(cs.subscriptions)
}

// sendToClient forwards queued notifications of one subscription to the client
func (cs *ClientSession) sendToClient(subscriber *clientSubscriber) {
	for {
		select {
		case data := <-subscriber.sendChan:
			cs.sendFunc(data)
		case <-subscriber.closeChan:
			return
		case <-cs.closeChan:
			return
		}
	}
}

// clientSubscriber implements Subscriber for a client subscription
type clientSubscriber struct {
	id        string
	subType   SubscriptionType
	filter    Filter
	session   *ClientSession
	sendChan  chan []byte
	closeChan chan struct{}
	closed    bool
	mu        sync.Mutex
}

// ID implements Subscriber interface
func (s *clientSubscriber) ID() string {
	return s.id
}

// OnEvent implements Subscriber interface
func (s *clientSubscriber) OnEvent(event Event) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	notification := jsonrpc.NewSubscriptionNotification(s.id, event.Result)
	data, err := json.Marshal(notification)
	if err != nil {
		s.session.logger.Warn().Err(err).Msg("failed to marshal notification")
		return
	}

	select {
	case s.sendChan <- data:
	case <-s.closeChan:
	case <-s.session.closeChan:
	default:
		s.session.logger.Warn().Str("subID", s.id).Msg("send channel full, dropping event")
	}
}

// Close closes the subscriber
func (s *clientSubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.closeChan)
}

// generateSubID returns a 128-bit hex subscription ID
func generateSubID() string {
	id := uuid.New()
	return "0x" + strings.ReplaceAll(id.String(), "-", "")
}
