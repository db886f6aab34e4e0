package stream

import (
	"context"
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Forwarder relays journaled facts to a durable RabbitMQ queue so external
// consumers (notification rows, analytics) survive process restarts. Forwarding
// is best-effort: the journal remains the source of truth and a broker outage
// never blocks the bid path.
type Forwarder struct {
	url   string
	queue string
}

// NewForwarder configures fact forwarding to the named durable queue.
func NewForwarder(url, queue string) *Forwarder {
	return &Forwarder{url: url, queue: queue}
}

// Run subscribes to the stream and publishes every fact until ctx ends.
// It reconnects with capped exponential backoff on broker failures.
func (f *Forwarder) Run(ctx context.Context, s *Stream) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := amqp.Dial(f.url)
		if err != nil {
			log.Printf("fact-forwarder: dial broker: %v; retrying in %s", err, backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		if err := f.forward(ctx, conn, s); err != nil {
			log.Printf("fact-forwarder: %v; reconnecting", err)
		}
		_ = conn.Close()
	}
}

func (f *Forwarder) forward(ctx context.Context, conn *amqp.Connection, s *Stream) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(f.queue, true, false, false, false, nil); err != nil {
		return err
	}

	facts := s.Subscribe(ctx)
	for fact := range facts {
		body, err := json.Marshal(fact)
		if err != nil {
			log.Printf("fact-forwarder: marshal fact %d: %v", fact.Seq, err)
			continue
		}
		err = ch.PublishWithContext(ctx, "", f.queue, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    fact.At,
			Body:         body,
		})
		if err != nil {
			return err
		}
	}
	return ctx.Err()
}
