// Package rabbitmq publishes ledger events to a RabbitMQ topic exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"exchange-ledger/config"
	"exchange-ledger/internal/core/domain"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Channel is the subset of *amqp.Channel the publisher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher implements ports.EventPublisher. Publishes go through a circuit
// breaker so a broker outage fails fast instead of stalling every transfer.
type Publisher struct {
	ch       Channel
	conn     *amqp.Connection
	exchange string
	timeout  time.Duration
	breaker  *gobreaker.CircuitBreaker
	log      zerolog.Logger
}

// Dial connects to the broker and declares the events exchange.
func Dial(cfg config.RabbitMQConfig, breaker config.BreakerConfig, log zerolog.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dialing rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening rabbitmq channel: %w", err)
	}

	p, err := NewPublisher(ch, cfg, breaker, log)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn

	log.Info().Str("exchange", cfg.Exchange).Msg("RabbitMQ publisher ready")
	return p, nil
}

// NewPublisher wraps an open channel and declares the durable topic exchange.
func NewPublisher(ch Channel, cfg config.RabbitMQConfig, breaker config.BreakerConfig, log zerolog.Logger) (*Publisher, error) {
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declaring exchange %s: %w", cfg.Exchange, err)
	}

	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	p := &Publisher{
		ch:       ch,
		exchange: cfg.Exchange,
		timeout:  timeout,
		log:      log,
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "rabbitmq-publisher",
		MaxRequests: breaker.MaxRequests,
		Interval:    breaker.Interval,
		Timeout:     breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breaker.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
	return p, nil
}

// RoutingKey returns the routing key for a transfer event, e.g. transfer.committed.
func RoutingKey(ev domain.TransferEvent) string {
	return "transfer." + strings.ToLower(string(ev.Status))
}

// PublishTransfer sends one persistent JSON message for ev.
func (p *Publisher) PublishTransfer(ctx context.Context, ev domain.TransferEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding transfer event: %w", err)
	}

	key := RoutingKey(ev)
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.EventID.String(),
		Timestamp:    ev.OccurredAt,
		Type:         key,
		Body:         body,
	}

	_, err = p.breaker.Execute(func() (any, error) {
		pubCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		return nil, p.ch.PublishWithContext(pubCtx, p.exchange, key, false, false, msg)
	})
	if err != nil {
		return fmt.Errorf("publishing %s for transfer %s: %w", key, ev.TransferID, err)
	}
	return nil
}

// State reports the breaker state, for health output.
func (p *Publisher) State() gobreaker.State {
	return p.breaker.State()
}

// Close closes the channel and, when owned, the connection.
func (p *Publisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
