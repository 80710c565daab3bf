// Package realtime broadcasts audience-scoped change events to connected
// dashboards over a Redis pub/sub channel.
package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event types published by the settlement core.
const (
	EventOrdersChanged    = "orders.changed"
	EventDealsChanged     = "deals.changed"
	EventCampaignsChanged = "campaigns.changed"
	EventUserChanged      = "user.changed"
	EventWalletChanged    = "wallet.changed"
)

// Audience limits who should react to an event. Empty lists mean "nobody by
// that criterion"; subscribers match if any list contains them.
type Audience struct {
	Roles         []string `json:"roles,omitempty"`
	UserIDs       []string `json:"user_ids,omitempty"`
	MediatorCodes []string `json:"mediator_codes,omitempty"`
	AgencyCodes   []string `json:"agency_codes,omitempty"`
}

type Event struct {
	Type     string                 `json:"type"`
	Audience Audience               `json:"audience"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
	At       time.Time              `json:"at"`
}

// Publisher delivers events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}

// Discard drops every event. Used when no Redis is configured.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
