package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"

	"hookahplus/internal/domain"
)

const routingPrefix = "fire_session."

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher forwards workflow events to a topic exchange so floor tablets and
// other lounges can bind queues by button, e.g. "fire_session.refill_requested".
type Publisher struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
	loungeID string
	logger   *log.Logger
}

// Dial connects to url and declares a durable topic exchange.
func Dial(url, exchange, loungeID string, logger *log.Logger) (*Publisher, error) {
	if exchange == "" {
		return nil, fmt.Errorf("exchange required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	p := newPublisher(ch, exchange, loungeID, logger)
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, exchange, loungeID string, logger *log.Logger) *Publisher {
	if logger == nil {
		logger = log.Default()
	}
	return &Publisher{ch: ch, exchange: exchange, loungeID: loungeID, logger: logger}
}

// RoutingKey is the topic an event is published under.
func RoutingKey(evt domain.WorkflowEvent) string {
	return routingPrefix + string(evt.ButtonPressed)
}

// Message encodes evt as a persistent JSON publishing.
func Message(evt domain.WorkflowEvent, loungeID string) (amqp.Publishing, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode event %s: %w", evt.ID, err)
	}
	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    evt.ID,
		Timestamp:    evt.Timestamp.UTC(),
		Type:         string(evt.ButtonPressed),
		AppId:        "hookahplus",
		Headers: amqp.Table{
			"lounge_id":  loungeID,
			"session_id": evt.SessionID,
			"status":     string(evt.StatusTag),
			"seq":        evt.Seq,
		},
		Body: body,
	}, nil
}

// Publish sends one event to the exchange.
func (p *Publisher) Publish(ctx context.Context, evt domain.WorkflowEvent) error {
	msg, err := Message(evt, p.loungeID)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(evt), false, false, msg)
}

// Run publishes events from in until ctx is done or in is closed. Failed
// publishes are logged and skipped.
func (p *Publisher) Run(ctx context.Context, in <-chan domain.WorkflowEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-in:
			if !ok {
				return
			}
			if err := p.Publish(ctx, evt); err != nil {
				p.logger.Printf("broker: publish %s seq=%d failed: %v", evt.ButtonPressed, evt.Seq, err)
			}
		}
	}
}

func (p *Publisher) Close() error {
	var err error
	if p.ch != nil {
		err = p.ch.Close()
	}
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
