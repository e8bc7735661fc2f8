package database

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/shopspring/decimal"

	"github.com/texitpay/paygate/internal/errors"
	"github.com/texitpay/paygate/internal/logger"
	"github.com/texitpay/paygate/internal/prices"
)

// RateClient keeps the last good exchange rate per currency in DynamoDB so
// price lookups survive a cold start while the price API is down.
type RateClient struct {
	svc       dynamodbiface.DynamoDBAPI
	tableName string
}

type rateItem struct {
	Currency  string    `dynamodbav:"currency"`
	USD       string    `dynamodbav:"usd"`
	Source    string    `dynamodbav:"source"`
	FetchedAt time.Time `dynamodbav:"fetched_at"`
}

// NewRateClient creates a DynamoDB rate store
func NewRateClient(region, tableName, endpoint string) (*RateClient, error) {
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
	return NewRateClientWithAPI(dynamodb.New(sess, cfg), tableName), nil
}

// NewRateClientWithAPI wraps an existing DynamoDB client
func NewRateClientWithAPI(svc dynamodbiface.DynamoDBAPI, tableName string) *RateClient {
	return &RateClient{svc: svc, tableName: tableName}
}

// PutRate stores quote as the latest rate for its currency
func (c *RateClient) PutRate(ctx context.Context, quote *prices.Quote) error {
	av, err := dynamodbattribute.MarshalMap(rateItem{
		Currency:  strings.ToUpper(quote.Currency),
		USD:       quote.USD.String(),
		Source:    string(quote.Source),
		FetchedAt: quote.FetchedAt.UTC(),
	})
	if err != nil {
		logger.Error("Failed to marshal rate", logger.Fields{"error": err.Error()})
		return errors.ErrDatabaseOperation("marshal", err)
	}

	_, err = c.svc.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      av,
	})
	if err != nil {
		logger.Error("Failed to store rate", logger.Fields{"error": err.Error(), "currency": quote.Currency})
		return errors.ErrDatabaseOperation("put_rate", err)
	}
	return nil
}

// GetRate returns the stored rate for code, or nil when none was ever stored
func (c *RateClient) GetRate(ctx context.Context, code string) (*prices.Quote, error) {
	result, err := c.svc.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]*dynamodb.AttributeValue{
			"currency": {
				S: aws.String(strings.ToUpper(code)),
			},
		},
	})
	if err != nil {
		logger.Error("Failed to get rate", logger.Fields{"error": err.Error(), "currency": code})
		return nil, errors.ErrDatabaseOperation("get_rate", err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var item rateItem
	if err := dynamodbattribute.UnmarshalMap(result.Item, &item); err != nil {
		logger.Error("Failed to unmarshal rate", logger.Fields{"error": err.Error()})
		return nil, errors.ErrDatabaseOperation("unmarshal", err)
	}
	usd, err := decimal.NewFromString(item.USD)
	if err != nil {
		return nil, errors.ErrDatabaseOperation("parse_rate", err)
	}
	return &prices.Quote{
		Currency:  item.Currency,
		USD:       usd,
		Source:    prices.Source(item.Source),
		FetchedAt: item.FetchedAt,
	}, nil
}
