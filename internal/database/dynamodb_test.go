package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/texitpay/paygate/internal/database"
	"github.com/texitpay/paygate/internal/prices"
)

type fakeDynamo struct {
	dynamodbiface.DynamoDBAPI
	items map[string]map[string]*dynamodb.AttributeValue
}

func (f *fakeDynamo) PutItemWithContext(_ aws.Context, in *dynamodb.PutItemInput, _ ...request.Option) (*dynamodb.PutItemOutput, error) {
	f.items[aws.StringValue(in.Item["currency"].S)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItemWithContext(_ aws.Context, in *dynamodb.GetItemInput, _ ...request.Option) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.items[aws.StringValue(in.Key["currency"].S)]}, nil
}

func TestRateClientRoundTrip(t *testing.T) {
	fake := &fakeDynamo{items: map[string]map[string]*dynamodb.AttributeValue{}}
	client := database.NewRateClientWithAPI(fake, "rates")
	ctx := context.Background()

	missing, err := client.GetRate(ctx, "TXC")
	require.NoError(t, err)
	assert.Nil(t, missing)

	fetched := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, client.PutRate(ctx, &prices.Quote{
		Currency:  "txc",
		USD:       decimal.RequireFromString("1.88123456"),
		Source:    prices.SourceLive,
		FetchedAt: fetched,
	}))

	got, err := client.GetRate(ctx, "txc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "TXC", got.Currency)
	assert.True(t, decimal.RequireFromString("1.88123456").Equal(got.USD))
	assert.Equal(t, prices.SourceLive, got.Source)
	assert.True(t, fetched.Equal(got.FetchedAt))
}
