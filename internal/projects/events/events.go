// Package events announces confirmed project mutations over redis pub/sub.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/permitchain/permit-backend/internal/ledger"
)

const channelPrefix = "project:events:" // project:events:{contract}

type Event struct {
	Project   common.Address `json:"project"`
	Operation string         `json:"operation"`
	At        time.Time      `json:"at"`
}

// Bus publishes and subscribes to project events.
type Bus struct {
	client *redis.Client
	now    func() time.Time
}

func NewBus(client *redis.Client) *Bus {
	return &Bus{client: client, now: time.Now}
}

func Channel(contract common.Address) string {
	return channelPrefix + ledger.Key(contract)
}

// Publish sends an event for contract. Delivery is best effort.
func (b *Bus) Publish(ctx context.Context, contract common.Address, operation string) error {
	data, err := json.Marshal(Event{Project: contract, Operation: operation, At: b.now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, Channel(contract), data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscription delivers events for one project until closed.
type Subscription struct {
	ps     *redis.PubSub
	events chan Event
}

// Subscribe listens for events on contract. The subscription is active when
// Subscribe returns.
func (b *Bus) Subscribe(ctx context.Context, contract common.Address) (*Subscription, error) {
	ps := b.client.Subscribe(ctx, Channel(contract))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	s := &Subscription{ps: ps, events: make(chan Event)}
	go s.forward(ctx)
	return s, nil
}

func (s *Subscription) forward(ctx context.Context) {
	defer close(s.events)
	for msg := range s.ps.Channel() {
		var e Event
		if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
			continue
		}
		select {
		case s.events <- e:
		case <-ctx.Done():
			return
		}
	}
}

// Events is closed when the subscription ends.
func (s *Subscription) Events() <-chan Event { return s.events }

func (s *Subscription) Close() error { return s.ps.Close() }
