package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nolongerevil/state-server-go/internal/model"
	redisclient "github.com/nolongerevil/state-server-go/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second
	clientBufferSize  = 100
)

const EventTypeState = "state_updated"

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Client struct {
	Serial string
	Events chan Event
	Done   chan struct{}
}

// Broker fans device state events out to local SSE clients. Events travel
// through Redis pub/sub so every instance sees writes committed by any other.
type Broker struct {
	redis   *redisclient.Client
	clients map[string]map[*Client]bool // serial -> set of clients
	subs    map[string]context.CancelFunc
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:   redisClient,
		clients: make(map[string]map[*Client]bool),
		subs:    make(map[string]context.CancelFunc),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *Broker) Subscribe(serial string) *Client {
	client := &Client{
		Serial: serial,
		Events: make(chan Event, clientBufferSize),
		Done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.clients[serial] == nil {
		b.clients[serial] = make(map[*Client]bool)
		subCtx, subCancel := context.WithCancel(b.ctx)
		b.subs[serial] = subCancel
		go b.subscribeToRedis(subCtx, serial)
	}
	b.clients[serial][client] = true
	clientCount := len(b.clients[serial])
	b.mu.Unlock()

	log.Info().
		Str("serial", serial).
		Int("clientCount", clientCount).
		Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	clients, ok := b.clients[client.Serial]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.Done)

	if len(clients) == 0 {
		delete(b.clients, client.Serial)
		if cancel, ok := b.subs[client.Serial]; ok {
			cancel()
			delete(b.subs, client.Serial)
		}
	}

	log.Info().
		Str("serial", client.Serial).
		Int("clientCount", len(clients)).
		Msg("sse client unsubscribed")
}

func (b *Broker) Publish(ctx context.Context, serial string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	channel := redisclient.StateChannel(serial)
	return b.redis.Publish(ctx, channel, data).Err()
}

// PublishState announces a committed write to every subscriber of the device.
func (b *Broker) PublishState(ctx context.Context, event model.StateEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.Publish(ctx, event.Serial, Event{Type: EventTypeState, Data: data})
}

func (b *Broker) subscribeToRedis(ctx context.Context, serial string) {
	channel := redisclient.StateChannel(serial)
	pubsub := b.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("serial", serial).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(serial, event)
		}
	}
}

func (b *Broker) broadcast(serial string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for client := range b.clients[serial] {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("serial", serial).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, clients := range b.clients {
		for client := range clients {
			close(client.Done)
		}
	}
	b.clients = make(map[string]map[*Client]bool)
	b.subs = make(map[string]context.CancelFunc)
}

func (b *Broker) ClientCount(serial string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[serial])
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, clients := range b.clients {
		total += len(clients)
	}
	return total
}
