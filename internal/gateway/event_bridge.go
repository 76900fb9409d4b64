package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// BridgeConfig holds configuration for the NATS event bridge
type BridgeConfig struct {
	URL           string
	StreamName    string
	SubjectPrefix string
	MaxDeliver    int
	AckWait       time.Duration
	MaxAckPending int
	MaxReconnects int
	ReconnectWait time.Duration
	MaxAge        time.Duration
}

// DefaultBridgeConfig returns default NATS bridge configuration
func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		URL:           nats.DefaultURL,
		StreamName:    "ROOM_EVENTS",
		SubjectPrefix: "rooms.events",
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
		MaxAckPending: 100,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
		MaxAge:        time.Hour,
	}
}

// eventEnvelope wraps a room event for transit between instances. Origin is
// the publishing instance's id so consumers can drop their own echoes.
type eventEnvelope struct {
	EventID   string          `json:"eventId"`
	RoomCode  string          `json:"roomCode"`
	Origin    string          `json:"origin"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// EventBridge replicates room broadcasts across gateway instances through a
// JetStream stream: every local broadcast is published, every remote one is
// rebroadcast to the local connection pool.
type EventBridge struct {
	manager    *ConnectionManager
	nc         *nats.Conn
	js         jetstream.JetStream
	consumer   jetstream.Consumer
	config     BridgeConfig
	instanceID string
}

// NewEventBridge connects to NATS and ensures the room-events stream and
// this instance's consumer exist.
func NewEventBridge(config BridgeConfig) (*EventBridge, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	b := &EventBridge{
		nc:         nc,
		js:         js,
		config:     config,
		instanceID: uuid.New().String()[:8],
	}

	if err := b.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	if err := b.ensureConsumer(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}

	return b, nil
}

// SetManager wires the local fanout the consumer rebroadcasts into.
func (b *EventBridge) SetManager(cm *ConnectionManager) {
	b.manager = cm
}

func (b *EventBridge) ensureStream(ctx context.Context) error {
	_, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        b.config.StreamName,
		Description: "Room gateway broadcast replication",
		Subjects:    []string{b.config.SubjectPrefix + ".>"},
		MaxAge:      b.config.MaxAge,
		Storage:     jetstream.MemoryStorage,
	})
	if err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	return nil
}

func (b *EventBridge) ensureConsumer(ctx context.Context) error {
	stream, err := b.js.Stream(ctx, b.config.StreamName)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}

	// Per-instance consumer: each gateway instance sees every event and
	// filters its own echoes by origin.
	name := "room-gateway-" + b.instanceID
	consumer, err := stream.CreateConsumer(ctx, jetstream.ConsumerConfig{
		Name:              name,
		Description:       "Room gateway WebSocket rebroadcast",
		FilterSubject:     b.config.SubjectPrefix + ".>",
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		AckPolicy:         jetstream.AckExplicitPolicy,
		MaxDeliver:        b.config.MaxDeliver,
		AckWait:           b.config.AckWait,
		MaxAckPending:     b.config.MaxAckPending,
		InactiveThreshold: 5 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	b.consumer = consumer
	log.Info().
		Str("consumer", name).
		Str("stream", b.config.StreamName).
		Msg("created JetStream consumer")
	return nil
}

// Publish replicates one room event to the stream. Best-effort: a publish
// failure is logged and local delivery proceeds regardless.
func (b *EventBridge) Publish(roomCode string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for bridge")
		return
	}

	envelope := eventEnvelope{
		EventID:   uuid.New().String(),
		RoomCode:  roomCode,
		Origin:    b.instanceID,
		Timestamp: time.Now(),
		Payload:   payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal bridge envelope")
		return
	}

	subject := fmt.Sprintf("%s.%s", b.config.SubjectPrefix, roomCode)
	if _, err := b.js.PublishAsync(subject, data); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("failed to publish room event")
	}
}

// Start begins consuming replicated events and blocks until ctx is
// cancelled.
func (b *EventBridge) Start(ctx context.Context) error {
	log.Info().
		Str("stream", b.config.StreamName).
		Str("instance", b.instanceID).
		Msg("starting event bridge consumer")

	consumeCtx, err := b.consumer.Consume(func(msg jetstream.Msg) {
		if err := b.processMessage(msg); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to process bridge message")
			if nakErr := msg.Nak(); nakErr != nil {
				log.Error().Err(nakErr).Msg("failed to NAK message")
			}
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error().Err(ackErr).Msg("failed to ACK message")
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	<-ctx.Done()
	log.Info().Msg("event bridge shutting down")
	return nil
}

// processMessage rebroadcasts one replicated event to local connections,
// dropping this instance's own echoes.
func (b *EventBridge) processMessage(msg jetstream.Msg) error {
	var envelope eventEnvelope
	if err := json.Unmarshal(msg.Data(), &envelope); err != nil {
		return fmt.Errorf("unmarshal event envelope: %w", err)
	}

	if envelope.Origin == b.instanceID {
		return nil
	}
	if b.manager == nil {
		return nil
	}

	b.manager.Broadcast(envelope.RoomCode, envelope.Payload)

	log.Debug().
		Str("event_id", envelope.EventID).
		Str("room_code", envelope.RoomCode).
		Str("origin", envelope.Origin).
		Msg("rebroadcast replicated event")
	return nil
}

// Stop closes the NATS connection.
func (b *EventBridge) Stop() {
	log.Info().Msg("stopping event bridge")
	if b.nc != nil {
		b.nc.Close()
	}
}
