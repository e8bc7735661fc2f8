package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/texitpay/paygate/internal/app"
	"github.com/texitpay/paygate/internal/logger"
)

// Retrier redelivers due webhook notifications
type Retrier interface {
	RetryPending(ctx context.Context) (int, error)
}

// SweepResult is returned to the scheduler
type SweepResult struct {
	Attempted int `json:"attempted"`
}

// Handler manages the Webhook Lambda dependencies
type Handler struct {
	webhooks Retrier
}

// NewHandler creates a new webhook handler
func NewHandler(webhooks Retrier) *Handler {
	return &Handler{webhooks: webhooks}
}

// HandleRequest runs one retry sweep per scheduled invocation
func (h *Handler) HandleRequest(ctx context.Context, event events.CloudWatchEvent) (SweepResult, error) {
	logger.Info("Scheduled webhook retry sweep", logger.Fields{"event_id": event.ID})

	n, err := h.webhooks.RetryPending(ctx)
	if err != nil {
		logger.Error("Webhook retry sweep failed", logger.Fields{
			"error":     err.Error(),
			"attempted": n,
		})
		return SweepResult{Attempted: n}, err
	}

	logger.Info("Webhook retry sweep finished", logger.Fields{"attempted": n})
	return SweepResult{Attempted: n}, nil
}

func main() {
	cfg, err := app.LoadConfig(context.Background())
	if err != nil {
		logger.Error("Failed to load configuration", logger.Fields{"error": err.Error()})
		panic(err)
	}

	a, err := app.New(cfg)
	if err != nil {
		logger.Error("Failed to create handler", logger.Fields{"error": err.Error()})
		panic(err)
	}

	handler := NewHandler(a.Webhooks)
	lambda.Start(handler.HandleRequest)
}
