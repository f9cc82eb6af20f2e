// Package pubsub publishes resolution summaries to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
)

// Attributer lets a payload contribute message attributes, e.g. for
// subscription filters.
type Attributer interface {
	Attributes() map[string]string
}

// Publisher wraps a Pub/Sub topic publisher.
type Publisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
}

// New wraps an existing topic publisher. Close will stop it but will not
// close its client.
func New(publisher *pubsub.Publisher) *Publisher {
	return &Publisher{publisher: publisher}
}

// Dial creates a client for projectID and a publisher for topic.
func Dial(ctx context.Context, projectID, topic string) (*Publisher, error) {
	if projectID == "" || topic == "" {
		return nil, errors.New("pubsub project and topic are required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Publisher{client: client, publisher: client.Publisher(topic)}, nil
}

// Publish marshals payload to JSON and waits for the server ack. The topic
// argument is ignored; the publisher is bound to one topic.
func (p *Publisher) Publish(ctx context.Context, _ string, payload any) (string, error) {
	if p == nil || p.publisher == nil {
		return "", errors.New("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: messageAttributes(ctx, payload)}
	id, err := p.publisher.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and releases the client.
func (p *Publisher) Close() error {
	if p == nil || p.publisher == nil {
		return nil
	}
	p.publisher.Stop()
	if p.client != nil {
		if err := p.client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}

func messageAttributes(ctx context.Context, payload any) map[string]string {
	attrs := make(map[string]string)
	if a, ok := payload.(Attributer); ok {
		for k, v := range a.Attributes() {
			attrs[k] = v
		}
	}
	otel.GetTextMapPropagator().Inject(ctx, carrier(attrs))
	return attrs
}

// carrier adapts message attributes to propagation.TextMapCarrier.
type carrier map[string]string

func (c carrier) Get(key string) string { return c[key] }

func (c carrier) Set(key, value string) { c[key] = value }

func (c carrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
