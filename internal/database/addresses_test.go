package database_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/texitpay/paygate/internal/database"
	"github.com/texitpay/paygate/internal/errors"
	"github.com/texitpay/paygate/internal/testutil"
)

func TestAddressPool(t *testing.T) {
	db := testutil.NewDB(t)
	pool := database.NewAddressPool(db)
	ctx := context.Background()

	added, err := pool.Add(ctx, "txc", []string{"txc1aaa", "txc1bbb", " ", "txc1aaa"})
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	added, err = pool.Add(ctx, "TXC", []string{"txc1aaa"})
	require.NoError(t, err)
	assert.Zero(t, added)

	first, err := pool.Acquire(ctx, "TXC", "payment-1", testutil.Epoch)
	require.NoError(t, err)
	second, err := pool.Acquire(ctx, "TXC", "payment-2", testutil.Epoch)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	n, err := pool.Available(ctx, "TXC")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = pool.Acquire(ctx, "TXC", "payment-3", testutil.Epoch)
	assert.True(t, errors.IsCode(err, errors.CodeNoAddressAvailable))

	_, err = pool.Acquire(ctx, "BTC", "payment-4", testutil.Epoch)
	assert.True(t, errors.IsCode(err, errors.CodeNoAddressAvailable))
}
