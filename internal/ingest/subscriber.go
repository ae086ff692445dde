package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/nolongerevil/state-server-go/internal/config"
	"github.com/nolongerevil/state-server-go/internal/model"
	"github.com/nolongerevil/state-server-go/internal/value"
)

const (
	connectTimeout    = 10 * time.Second
	disconnectQuiesce = 1000 // milliseconds
	keepAlive         = 60 * time.Second
	maxReconnectDelay = 2 * time.Minute
	upsertTimeout     = 5 * time.Second
)

var ErrConnectionFailed = errors.New("mqtt connection failed")

// Upserter is satisfied by service.StateService.
type Upserter interface {
	Upsert(ctx context.Context, params model.UpsertStateParams) (*model.StateRecord, error)
}

type statePayload struct {
	Revision  int64       `json:"revision"`
	Timestamp int64       `json:"timestamp"`
	Value     value.Value `json:"value"`
}

// Subscriber feeds device state published over MQTT into the state store.
// The subscription is re-established on every reconnect.
type Subscriber struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	state  Upserter

	connected bool
	connMu    sync.RWMutex
}

func NewSubscriber(cfg config.MQTTConfig, state Upserter) *Subscriber {
	return &Subscriber{cfg: cfg, state: state}
}

func (s *Subscriber) clientOptions() *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(s.cfg.BrokerURL)
	opts.SetClientID(s.cfg.ClientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(maxReconnectDelay)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)

	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		s.setConnected(true)
		s.subscribe(c)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		s.setConnected(false)
		log.Warn().Err(err).Msg("mqtt connection lost")
	})
	return opts
}

// Start connects to the broker. Subscribing happens in the connect handler.
func (s *Subscriber) Start() error {
	s.client = pahomqtt.NewClient(s.clientOptions())
	token := s.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	log.Info().
		Str("broker", s.cfg.BrokerURL).
		Str("topic", StateTopicFilter(s.cfg.TopicPrefix)).
		Msg("mqtt ingest started")
	return nil
}

func (s *Subscriber) subscribe(c pahomqtt.Client) {
	filter := StateTopicFilter(s.cfg.TopicPrefix)
	token := c.Subscribe(filter, s.cfg.QoS, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		if err := s.handleMessage(msg.Topic(), msg.Payload()); err != nil {
			log.Warn().Err(err).Str("topic", msg.Topic()).Msg("dropping mqtt state message")
		}
	})
	if !token.WaitTimeout(connectTimeout) || token.Error() != nil {
		log.Error().Err(token.Error()).Str("topic", filter).Msg("mqtt subscribe failed")
	}
}

func (s *Subscriber) handleMessage(topic string, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	serial, objectKey, ok := ParseStateTopic(s.cfg.TopicPrefix, topic)
	if !ok {
		return fmt.Errorf("unexpected topic %q", topic)
	}

	var msg statePayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), upsertTimeout)
	defer cancel()

	_, err = s.state.Upsert(ctx, model.UpsertStateParams{
		Serial:    serial,
		ObjectKey: objectKey,
		Revision:  msg.Revision,
		Timestamp: msg.Timestamp,
		Value:     msg.Value,
	})
	return err
}

func (s *Subscriber) setConnected(v bool) {
	s.connMu.Lock()
	s.connected = v
	s.connMu.Unlock()
}

func (s *Subscriber) IsConnected() bool {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.connected
}

func (s *Subscriber) Close() {
	if s.client == nil {
		return
	}
	s.client.Unsubscribe(StateTopicFilter(s.cfg.TopicPrefix)).WaitTimeout(connectTimeout)
	s.client.Disconnect(disconnectQuiesce)
	s.setConnected(false)
	log.Info().Msg("mqtt ingest stopped")
}
