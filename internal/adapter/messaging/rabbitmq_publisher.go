package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

const (
	ExchangeName = "stock_ledger"
	ExchangeType = "topic"

	dialAttempts = 5
	dialBackoff  = 2 * time.Second
)

// SetupConn dials the broker, retrying while it starts up, and declares the
// ledger exchange.
func SetupConn(url string, logger *zap.Logger) (*amqp.Connection, *amqp.Channel, error) {
	var conn *amqp.Connection
	var err error

	for i := 0; i < dialAttempts; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		logger.Warn("failed to connect to RabbitMQ", zap.Int("attempt", i+1), zap.Error(err))
		time.Sleep(dialBackoff)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("could not open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		ExchangeName, // name
		ExchangeType, // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("could not declare exchange: %w", err)
	}

	return conn, ch, nil
}

// LedgerEvent is the wire form of a committed audit record.
type LedgerEvent struct {
	Seq            int64     `json:"seq"`
	TransactionID  string    `json:"transaction_id"`
	Kind           string    `json:"kind"`
	SellerID       int64     `json:"seller_id"`
	ProductID      int64     `json:"product_id"`
	Direction      string    `json:"direction"`
	Quantity       int       `json:"quantity"`
	UnitPrice      *string   `json:"unit_price,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	SaleID         string    `json:"sale_id,omitempty"`
	Actor          string    `json:"actor"`
	Timestamp      time.Time `json:"timestamp"`
	QuantityBefore int       `json:"quantity_before"`
	QuantityAfter  int       `json:"quantity_after"`
}

func NewLedgerEvent(r domain.AuditRecord) LedgerEvent {
	event := LedgerEvent{
		Seq:            r.Seq,
		TransactionID:  r.TransactionID,
		Kind:           string(r.Kind),
		SellerID:       r.Key.SellerID,
		ProductID:      r.Key.ProductID,
		Direction:      string(r.Direction),
		Quantity:       r.Quantity,
		Reason:         r.Reason,
		Notes:          r.Notes,
		SaleID:         r.SaleID,
		Actor:          r.Actor,
		Timestamp:      r.Timestamp,
		QuantityBefore: r.QuantityBefore,
		QuantityAfter:  r.QuantityAfter,
	}
	if r.UnitPrice.Valid {
		price := r.UnitPrice.Decimal.StringFixed(2)
		event.UnitPrice = &price
	}
	return event
}

// RoutingKey is ledger.<kind>.<seller_id>, e.g. ledger.sale.42.
func RoutingKey(r domain.AuditRecord) string {
	return fmt.Sprintf("ledger.%s.%d", r.Kind, r.Key.SellerID)
}

// RabbitMQPublisher publishes committed audit records to the ledger exchange.
type RabbitMQPublisher struct {
	mu sync.Mutex
	ch *amqp.Channel
}

func NewRabbitMQPublisher(ch *amqp.Channel) *RabbitMQPublisher {
	return &RabbitMQPublisher{ch: ch}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, record domain.AuditRecord) error {
	body, err := json.Marshal(NewLedgerEvent(record))
	if err != nil {
		return fmt.Errorf("could not marshal ledger event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.ch.PublishWithContext(ctx,
		ExchangeName,       // exchange
		RoutingKey(record), // routing key
		false,              // mandatory
		false,              // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    record.TransactionID,
			Timestamp:    record.Timestamp,
			Body:         body,
		},
	)
}
