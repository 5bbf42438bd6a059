// Package events publishes payment lifecycle events for downstream
// consumers such as notifications and accounting.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	skafka "github.com/segmentio/kafka-go"
)

const (
	TypeBillPaid          = "bill.paid"
	TypeTransactionFailed = "transaction.failed"
)

// Event is the JSON envelope written to the topic.
type Event struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	OccurredAt    time.Time `json:"occurred_at"`
	BillID        int64     `json:"bill_id"`
	TransactionID int64     `json:"transaction_id,omitempty"`
	OrderCode     int64     `json:"order_code,omitempty"`
	PaymentMethod string    `json:"payment_method,omitempty"`
	Amount        string    `json:"amount,omitempty"`
	Actor         string    `json:"actor,omitempty"`
}

// New stamps an event with a fresh id and the current time.
func New(eventType string, billID int64) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		BillID:     billID,
	}
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// Writer is the subset of *kafka.Writer the producer needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

// KafkaProducer writes events keyed by bill id so every event of one bill
// lands on the same partition.
type KafkaProducer struct {
	writer Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := &skafka.Writer{
		Addr:                   skafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &skafka.Hash{},
		RequiredAcks:           skafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &KafkaProducer{writer: w}
}

func NewKafkaProducerWithWriter(w Writer) *KafkaProducer {
	return &KafkaProducer{writer: w}
}

func (p *KafkaProducer) Publish(ctx context.Context, evt Event) error {
	b, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", evt.Type, err)
	}
	msg := skafka.Message{
		Key:   []byte(strconv.FormatInt(evt.BillID, 10)),
		Value: b,
		Headers: []skafka.Header{
			{Key: "event_type", Value: []byte(evt.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write event %s: %w", evt.Type, err)
	}
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// Noop drops every event. Used when no brokers are configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

// FromConfig returns a Kafka producer for a comma separated broker list, or
// Noop when the list is empty.
func FromConfig(brokers, topic string) Publisher {
	var list []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			list = append(list, b)
		}
	}
	if len(list) == 0 {
		return Noop{}
	}
	return NewKafkaProducer(list, topic)
}
