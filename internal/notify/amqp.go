package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Shivanand-hulikatti/ticket-codes/internal/model"
)

// TicketsIssuedQueue is the durable queue downstream consumers read.
const TicketsIssuedQueue = "tickets.issued"

// TicketsIssuedEvent is published once a batch is stored.
type TicketsIssuedEvent struct {
	BatchID       string   `json:"batch_id"`
	BuyerName     string   `json:"buyer_name"`
	BuyerEmail    string   `json:"buyer_email"`
	BuyerPhone    string   `json:"buyer_phone"`
	TotalAmount   string   `json:"total_amount"`
	PaymentMethod string   `json:"payment_method"`
	PurchaseCodes []string `json:"purchase_codes"`
	OCRSender     string   `json:"ocr_sender,omitempty"`
	OCRAmount     string   `json:"ocr_amount,omitempty"`
	IssuedAt      string   `json:"issued_at"`
}

// NewTicketsIssuedEvent builds the event payload for s.
func NewTicketsIssuedEvent(s model.BatchSummary, at time.Time) TicketsIssuedEvent {
	return TicketsIssuedEvent{
		BatchID:       s.BatchID,
		BuyerName:     s.Buyer.Name,
		BuyerEmail:    s.Buyer.Email,
		BuyerPhone:    s.Buyer.Phone,
		TotalAmount:   s.TotalAmount,
		PaymentMethod: s.PaymentMethod,
		PurchaseCodes: s.PurchaseCodes,
		OCRSender:     s.OCR.Sender,
		OCRAmount:     s.OCR.Amount,
		IssuedAt:      at.UTC().Format(time.RFC3339),
	}
}

// AMQPPublisher publishes TicketsIssuedEvent messages to RabbitMQ. It dials
// per publish; registrations are infrequent enough that a long-lived channel
// is not worth the reconnect handling.
type AMQPPublisher struct {
	url string
}

// NewAMQPPublisher returns a publisher for the broker at url.
func NewAMQPPublisher(url string) *AMQPPublisher {
	return &AMQPPublisher{url: url}
}

// Notify publishes a persistent message for s.
func (p *AMQPPublisher) Notify(ctx context.Context, s model.BatchSummary) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(TicketsIssuedQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	now := time.Now().UTC()
	body, err := json.Marshal(NewTicketsIssuedEvent(s, now))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = ch.PublishWithContext(ctx, "", TicketsIssuedQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    s.BatchID,
		Timestamp:    now,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
