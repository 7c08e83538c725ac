package mq

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MessageQueue is a topic based producer and consumer.
type MessageQueue interface {
	Producer
	Consumer

	// Close stops consumers and flushes the producer.
	Close() error
}

// Producer publishes messages to topics.
type Producer interface {
	Publish(ctx context.Context, topic string, message *Message) error
}

// Consumer delivers topic messages to handlers once started.
type Consumer interface {
	// Subscribe registers handler for topic. A handler error triggers a
	// retry until MaxRetries is exhausted.
	Subscribe(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error

	Start() error
	Stop() error
}

// Message is one queued payload plus delivery metadata.
type Message struct {
	ID         string            `json:"id"`
	Key        string            `json:"key"`
	Body       []byte            `json:"body"`
	Headers    map[string]string `json:"headers"`
	Timestamp  time.Time         `json:"timestamp"`
	RetryCount int               `json:"retry_count"`
	MaxRetries int               `json:"max_retries"`
}

// HandlerFunc processes one delivered message.
type HandlerFunc func(ctx context.Context, message *Message) error

// SubscribeOptions tunes one subscription.
type SubscribeOptions struct {
	ConsumerGroup   string
	Concurrency     int
	MaxRetries      int
	RetryDelay      time.Duration
	DeadLetterTopic string
}

// SetDefaults sets default values for subscribe options
func (o *SubscribeOptions) SetDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
}

// NewMessage creates a message with a fresh id. key selects the partition so
// messages sharing a key stay ordered.
func NewMessage(key string, body []byte) *Message {
	return &Message{
		ID:         uuid.NewString(),
		Key:        key,
		Body:       body,
		Headers:    make(map[string]string),
		Timestamp:  time.Now(),
		MaxRetries: 3,
	}
}

// SetHeader sets a header value
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

// GetHeader retrieves a header value
func (m *Message) GetHeader(key string) (string, bool) {
	val, ok := m.Headers[key]
	return val, ok
}
