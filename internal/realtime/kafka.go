package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/IBM/sarama"
)

// KafkaTopicFor maps a subscription topic onto the broker topic the backend
// publishes change events to.
func KafkaTopicFor(t Topic) string {
	id := strings.ReplaceAll(t.ID, ":", "_")
	return "chat.events." + string(t.Kind) + "." + id
}

// KafkaTransport implements Transport over Kafka change-event topics. Meant
// for headless sync agents that follow conversations server-side; offsets are
// managed by the consumer group, so reconnect/backoff is sarama's problem.
type KafkaTransport struct {
	brokers []string
	groupID string
	logger  *slog.Logger

	group    sarama.ConsumerGroup
	producer sarama.SyncProducer

	mu      sync.Mutex
	topics  map[Topic]struct{}
	sink    Sink
	rebuild context.CancelFunc
	wake    chan struct{}
}

// NewKafkaTransport builds a transport consuming as groupID.
func NewKafkaTransport(brokers []string, groupID string, logger *slog.Logger) *KafkaTransport {
	return &KafkaTransport{
		brokers: brokers,
		groupID: groupID,
		logger:  logger,
		topics:  make(map[Topic]struct{}),
		wake:    make(chan struct{}, 1),
	}
}

// Start creates the consumer group and producer and begins the consume loop.
func (t *KafkaTransport) Start(ctx context.Context, sink Sink) error {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true

	group, err := sarama.NewConsumerGroup(t.brokers, t.groupID, cfg)
	if err != nil {
		return err
	}
	producer, err := sarama.NewSyncProducer(t.brokers, cfg)
	if err != nil {
		group.Close()
		return err
	}

	t.mu.Lock()
	t.group = group
	t.producer = producer
	t.sink = sink
	t.mu.Unlock()

	go t.run(ctx)
	return nil
}

// Subscribe adds the topic to the consumed set and rebalances.
func (t *KafkaTransport) Subscribe(ctx context.Context, topic Topic) error {
	t.mu.Lock()
	t.topics[topic] = struct{}{}
	t.mu.Unlock()
	t.kick()
	t.mu.Lock()
	sink := t.sink
	t.mu.Unlock()
	if sink != nil {
		sink.Status(topic, StatusSubscribed)
	}
	return nil
}

// Unsubscribe removes the topic from the consumed set and rebalances.
func (t *KafkaTransport) Unsubscribe(ctx context.Context, topic Topic) error {
	t.mu.Lock()
	delete(t.topics, topic)
	t.mu.Unlock()
	t.kick()
	return nil
}

// Publish produces the envelope onto its broker topic.
func (t *KafkaTransport) Publish(ctx context.Context, env Envelope) error {
	topic, err := ParseTopic(env.Topic)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	t.mu.Lock()
	producer := t.producer
	t.mu.Unlock()
	_, _, err = producer.SendMessage(&sarama.ProducerMessage{
		Topic: KafkaTopicFor(topic),
		Key:   sarama.StringEncoder(topic.ID),
		Value: sarama.ByteEncoder(payload),
	})
	return err
}

// Close shuts down the consumer group and producer.
func (t *KafkaTransport) Close() error {
	t.mu.Lock()
	group, producer := t.group, t.producer
	t.group, t.producer = nil, nil
	t.mu.Unlock()
	var err error
	if group != nil {
		err = group.Close()
	}
	if producer != nil {
		if closeErr := producer.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}

// kick cancels the current Consume call so the loop picks up a changed
// topic set.
func (t *KafkaTransport) kick() {
	t.mu.Lock()
	if t.rebuild != nil {
		t.rebuild()
	}
	t.mu.Unlock()
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *KafkaTransport) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		t.mu.Lock()
		group := t.group
		names := make([]string, 0, len(t.topics))
		for topic := range t.topics {
			names = append(names, KafkaTopicFor(topic))
		}
		t.mu.Unlock()
		if group == nil {
			return
		}
		if len(names) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-t.wake:
				continue
			}
		}

		consumeCtx, cancel := context.WithCancel(ctx)
		t.mu.Lock()
		t.rebuild = cancel
		t.mu.Unlock()

		if err := group.Consume(consumeCtx, names, &kafkaSink{transport: t}); err != nil && ctx.Err() == nil {
			if t.logger != nil {
				t.logger.Warn("kafka consume error", "error", err)
			}
		}
		cancel()
	}
}

type kafkaSink struct {
	transport *KafkaTransport
}

func (h *kafkaSink) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *kafkaSink) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *kafkaSink) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		var env Envelope
		if err := json.Unmarshal(message.Value, &env); err != nil || env.Topic == "" {
			if h.transport.logger != nil {
				h.transport.logger.Warn("dropping malformed kafka event", "topic", message.Topic)
			}
			sess.MarkMessage(message, "")
			continue
		}
		h.transport.mu.Lock()
		sink := h.transport.sink
		h.transport.mu.Unlock()
		if sink != nil {
			sink.Deliver(env)
		}
		sess.MarkMessage(message, "")
	}
	return nil
}

// Producer is a thin publish-only wrapper used by the reference backend to
// mirror change events onto Kafka.
type Producer struct {
	sync sarama.SyncProducer
}

// NewProducer connects a sync producer to the given brokers.
func NewProducer(brokers []string) (*Producer, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Return.Successes = true
	sync, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return &Producer{sync: sync}, nil
}

// Publish produces the envelope onto the broker topic for env.Topic.
func (p *Producer) Publish(env Envelope) error {
	topic, err := ParseTopic(env.Topic)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, _, err = p.sync.SendMessage(&sarama.ProducerMessage{
		Topic: KafkaTopicFor(topic),
		Key:   sarama.StringEncoder(topic.ID),
		Value: sarama.ByteEncoder(payload),
	})
	return err
}

// Close releases the producer.
func (p *Producer) Close() error {
	if p == nil || p.sync == nil {
		return nil
	}
	return p.sync.Close()
}
