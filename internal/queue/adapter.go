package queue

import (
	"context"

	"github.com/texitpay/paygate/internal/models"
)

// Publisher wraps the SQS client with a known queue URL
type Publisher struct {
	client   *Client
	queueURL string
}

// NewPublisher creates a new event publisher
func NewPublisher(client *Client, queueURL string) *Publisher {
	return &Publisher{
		client:   client,
		queueURL: queueURL,
	}
}

// PublishPaymentEvent sends event to the configured queue
func (p *Publisher) PublishPaymentEvent(ctx context.Context, event *models.PaymentEvent) error {
	return p.client.SendPaymentEvent(ctx, p.queueURL, event)
}
