package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const (
	BackendNone      = "none"
	BackendGoChannel = "gochannel"
	BackendAMQP      = "amqp"

	// MetadataEventType carries the topic on every message so consumers
	// bound to a shared queue can tell events apart.
	MetadataEventType = "event_type"
)

type Config struct {
	Backend string
	AMQPURL string
}

// PubSub bundles a backend's publisher and subscriber. Either may be nil
// for the none backend.
type PubSub struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	closers    []io.Closer
}

func (p *PubSub) Close() error {
	var firstErr error
	for _, c := range p.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Open connects the configured backend.
func Open(cfg Config, logger watermill.LoggerAdapter) (*PubSub, error) {
	switch cfg.Backend {
	case BackendNone, "":
		return &PubSub{}, nil
	case BackendGoChannel:
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger)
		return &PubSub{Publisher: ch, Subscriber: ch, closers: []io.Closer{ch}}, nil
	case BackendAMQP:
		publisher, err := amqp.NewPublisher(amqp.NewDurableQueueConfig(cfg.AMQPURL), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create amqp publisher: %v", err)
		}

		subscriberConfig := amqp.NewDurableQueueConfig(cfg.AMQPURL)
		subscriberConfig.Consume.NoRequeueOnNack = true
		subscriber, err := amqp.NewSubscriber(subscriberConfig, logger)
		if err != nil {
			_ = publisher.Close()
			return nil, fmt.Errorf("failed to create amqp subscriber: %v", err)
		}
		return &PubSub{Publisher: publisher, Subscriber: subscriber, closers: []io.Closer{publisher, subscriber}}, nil
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
	}
}

// Publisher emits domain events as JSON messages.
type Publisher struct {
	publisher message.Publisher
}

func NewPublisher(publisher message.Publisher) *Publisher {
	return &Publisher{publisher: publisher}
}

func (p *Publisher) Publish(ctx context.Context, topic string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", topic, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetadataEventType, topic)
	middleware.SetCorrelationID(watermill.NewUUID(), msg)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", topic, err)
	}
	return nil
}

// HandlerFunc receives one decoded event.
type HandlerFunc func(topic string, payload json.RawMessage) error

// NewRouter returns a router that feeds every topic into handle, with
// panic recovery and retries.
func NewRouter(subscriber message.Subscriber, topics []string, handle HandlerFunc, logger watermill.LoggerAdapter) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return nil, err
	}

	router.AddMiddleware(
		middleware.Recoverer,
		middleware.CorrelationID,
		middleware.Retry{
			MaxRetries:      3,
			InitialInterval: time.Second,
			Logger:          logger,
		}.Middleware,
	)

	for _, topic := range topics {
		router.AddNoPublisherHandler(topic+"_consumer", topic, subscriber, func(msg *message.Message) error {
			eventType := msg.Metadata.Get(MetadataEventType)
			if eventType == "" {
				eventType = topic
			}
			return handle(eventType, json.RawMessage(msg.Payload))
		})
	}
	return router, nil
}
