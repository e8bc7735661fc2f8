package queue

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"

	"github.com/texitpay/paygate/internal/errors"
	"github.com/texitpay/paygate/internal/logger"
	"github.com/texitpay/paygate/internal/models"
)

// Client represents an SQS client
type Client struct {
	svc sqsiface.SQSAPI
}

// NewClient creates a new SQS client
func NewClient(region, endpoint string) (*Client, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, err
	}

	cfg := aws.NewConfig()
	// Override endpoint for local testing
	if endpoint != "" {
		cfg = cfg.WithEndpoint(endpoint)
	}
	return NewClientWithAPI(sqs.New(sess, cfg)), nil
}

// NewClientWithAPI wraps an existing SQS client
func NewClientWithAPI(svc sqsiface.SQSAPI) *Client {
	return &Client{svc: svc}
}

// SendPaymentEvent sends a payment status transition to the queue
func (c *Client) SendPaymentEvent(ctx context.Context, queueURL string, event *models.PaymentEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		logger.Error("Failed to marshal payment event", logger.Fields{"error": err.Error()})
		return errors.ErrQueueOperation("marshal", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]*sqs.MessageAttributeValue{
			"PaymentID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.PaymentID),
			},
			"MerchantID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.MerchantID),
			},
			"EventType": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.EventType),
			},
		},
	}

	result, err := c.svc.SendMessageWithContext(ctx, input)
	if err != nil {
		logger.Error("Failed to send payment event", logger.Fields{
			"error":      err.Error(),
			"payment_id": event.PaymentID,
			"event_type": event.EventType,
		})
		return errors.ErrQueueOperation("send", err)
	}

	logger.Info("Payment event sent to queue", logger.Fields{
		"payment_id": event.PaymentID,
		"event_type": event.EventType,
		"message_id": aws.StringValue(result.MessageId),
	})
	return nil
}
