package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"exchange-ledger/config"
	"exchange-ledger/internal/core/domain"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	mu         sync.Mutex
	declared   []string
	declareErr error
	publishErr error
	messages   []published
	closed     bool
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	f.declared = append(f.declared, name+"/"+kind)
	if !durable {
		return errors.New("exchange must be durable")
	}
	return f.declareErr
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.messages = append(f.messages, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func testConfig() (config.RabbitMQConfig, config.BreakerConfig) {
	return config.RabbitMQConfig{Exchange: "ledger.events", PublishTimeout: time.Second},
		config.BreakerConfig{MaxRequests: 1, Timeout: time.Minute, ConsecutiveFailures: 2}
}

func committedEvent() domain.TransferEvent {
	rec := domain.NewTransferRecord("alice", "bob", "USD", decimal.NewFromInt(30), "", time.Now().UTC())
	rec.Finalize(domain.TransferStatusCommitted, "", time.Now().UTC())
	return domain.NewTransferEvent(rec)
}

func TestNewPublisher_DeclaresTopicExchange(t *testing.T) {
	ch := &fakeChannel{}
	rmq, br := testConfig()

	_, err := NewPublisher(ch, rmq, br, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"ledger.events/topic"}, ch.declared)
}

func TestNewPublisher_DeclareFails(t *testing.T) {
	ch := &fakeChannel{declareErr: errors.New("access refused")}
	rmq, br := testConfig()

	_, err := NewPublisher(ch, rmq, br, zerolog.Nop())
	assert.ErrorContains(t, err, "declaring exchange ledger.events")
}

func TestPublishTransfer(t *testing.T) {
	ch := &fakeChannel{}
	rmq, br := testConfig()
	p, err := NewPublisher(ch, rmq, br, zerolog.Nop())
	require.NoError(t, err)

	ev := committedEvent()
	require.NoError(t, p.PublishTransfer(context.Background(), ev))

	require.Len(t, ch.messages, 1)
	got := ch.messages[0]
	assert.Equal(t, "ledger.events", got.exchange)
	assert.Equal(t, "transfer.committed", got.key)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	assert.Equal(t, "application/json", got.msg.ContentType)
	assert.Equal(t, ev.EventID.String(), got.msg.MessageId)

	var decoded domain.TransferEvent
	require.NoError(t, json.Unmarshal(got.msg.Body, &decoded))
	assert.Equal(t, ev.TransferID, decoded.TransferID)
	assert.True(t, ev.Amount.Equal(decoded.Amount))
}

func TestRoutingKey(t *testing.T) {
	ev := domain.TransferEvent{Status: domain.TransferStatusFailed}
	assert.Equal(t, "transfer.failed", RoutingKey(ev))
}

func TestPublishTransfer_BreakerOpensAfterFailures(t *testing.T) {
	ch := &fakeChannel{publishErr: amqp.ErrClosed}
	rmq, br := testConfig()
	p, err := NewPublisher(ch, rmq, br, zerolog.Nop())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		err := p.PublishTransfer(context.Background(), committedEvent())
		assert.ErrorIs(t, err, amqp.ErrClosed)
	}
	assert.Equal(t, gobreaker.StateOpen, p.State())

	err = p.PublishTransfer(context.Background(), committedEvent())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestClose(t *testing.T) {
	ch := &fakeChannel{}
	rmq, br := testConfig()
	p, err := NewPublisher(ch, rmq, br, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}
