package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/texitpay/paygate/internal/app"
	"github.com/texitpay/paygate/internal/logger"
	"github.com/texitpay/paygate/internal/payment"
)

// Cycler runs one reconciliation cycle
type Cycler interface {
	RunCycle(ctx context.Context) payment.CycleResult
}

// Handler runs the payment monitor on a schedule
type Handler struct {
	monitor Cycler
}

// NewHandler creates a new monitor handler
func NewHandler(monitor Cycler) *Handler {
	return &Handler{monitor: monitor}
}

// HandleRequest runs one cycle per scheduled invocation
func (h *Handler) HandleRequest(ctx context.Context, event events.CloudWatchEvent) (payment.CycleResult, error) {
	logger.Info("Scheduled reconciliation", logger.Fields{
		"event_id": event.ID,
		"time":     event.Time,
	})

	res := h.monitor.RunCycle(ctx)
	if res.Skipped {
		logger.Warn("Cycle skipped, previous invocation still running")
	}
	return res, nil
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

	handler := NewHandler(a.Monitor)
	lambda.Start(handler.HandleRequest)
}
