package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/texitpay/paygate/internal/database"
	"github.com/texitpay/paygate/internal/errors"
	"github.com/texitpay/paygate/internal/models"
	"github.com/texitpay/paygate/internal/testutil"
)

type received struct {
	body      []byte
	signature string
	timestamp string
}

type receiver struct {
	mu     sync.Mutex
	status int
	calls  []received
	srv    *httptest.Server
}

func newReceiver(t *testing.T, status int) *receiver {
	t.Helper()
	r := &receiver{status: status}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.calls = append(r.calls, received{
			body:      body,
			signature: req.Header.Get(SignatureHeader),
			timestamp: req.Header.Get(TimestampHeader),
		})
		status := r.status
		r.mu.Unlock()
		if status == http.StatusFound {
			http.Redirect(w, req, "/elsewhere", http.StatusFound)
			return
		}
		w.WriteHeader(status)
		w.Write([]byte(`{"ok":` + strconv.FormatBool(status < 300) + `}`))
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *receiver) setStatus(status int) {
	r.mu.Lock()
	r.status = status
	r.mu.Unlock()
}

func (r *receiver) last() received {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

func (r *receiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func setup(t *testing.T, url string) (*Dispatcher, *gorm.DB, *models.Merchant, *clock.Mock) {
	t.Helper()
	db := testutil.NewDB(t)
	var m *models.Merchant
	if url == "" {
		m = testutil.SeedMerchant(t, db)
	} else {
		m = testutil.SeedMerchant(t, db, testutil.WithWebhook(url, "whsec_test"))
	}
	clk := testutil.NewClock()
	d := NewDispatcher(database.NewMerchantStore(db), database.NewWebhookLogStore(db), 2*time.Second, clk)
	return d, db, m, clk
}

func reload(t *testing.T, db *gorm.DB, id string) *models.WebhookLog {
	t.Helper()
	log, err := database.NewWebhookLogStore(db).Get(context.Background(), id)
	require.NoError(t, err)
	return log
}

func data() models.PaymentWebhookData {
	ext := "order-7"
	return models.PaymentWebhookData{
		PaymentID:       "pay-1",
		ExternalID:      &ext,
		Status:          models.StatusDetected,
		AmountRequested: "100000000",
		AmountPaid:      "100000000",
		Currency:        "TXC",
		Network:         "TXC",
		PaymentAddress:  "txc1pay",
	}
}

func TestSendWithoutEndpointIsNoop(t *testing.T) {
	d, _, m, _ := setup(t, "")
	log, err := d.Send(context.Background(), m.ID, nil, "payment.detected", data())
	require.NoError(t, err)
	assert.Nil(t, log)
}

func TestSendDeliversSignedPayload(t *testing.T) {
	r := newReceiver(t, http.StatusOK)
	d, db, m, clk := setup(t, r.srv.URL)
	paymentID := "pay-1"

	log, err := d.Send(context.Background(), m.ID, &paymentID, "payment.detected", data())
	require.NoError(t, err)
	require.NotNil(t, log)

	got := r.last()
	assert.Equal(t, []byte(log.Payload), got.body)
	assert.True(t, Verify("whsec_test", got.body, got.signature))
	assert.Equal(t, strconv.FormatInt(clk.Now().UnixMilli(), 10), got.timestamp)

	want := `{"event":"payment.detected","data":{"paymentId":"pay-1","externalId":"order-7","status":"DETECTED",` +
		`"amountRequested":"100000000","amountPaid":"100000000","currency":"TXC","network":"TXC","paymentAddress":"txc1pay"},` +
		`"timestamp":` + got.timestamp + `}`
	assert.Equal(t, want, string(got.body))

	stored := reload(t, db, log.ID)
	assert.True(t, stored.IsDelivered)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.HTTPStatus)
	assert.Equal(t, 200, *stored.HTTPStatus)
	assert.Nil(t, stored.NextRetryAt)
	require.NotNil(t, stored.DeliveredAt)
	require.NotNil(t, stored.Response)
	assert.Equal(t, `{"ok":true}`, *stored.Response)
}

func TestSendFailureSchedulesFirstRetry(t *testing.T) {
	r := newReceiver(t, http.StatusInternalServerError)
	d, db, m, clk := setup(t, r.srv.URL)

	log, err := d.Send(context.Background(), m.ID, nil, "payment.completed", data())
	require.NoError(t, err)

	stored := reload(t, db, log.ID)
	assert.False(t, stored.IsDelivered)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.HTTPStatus)
	assert.Equal(t, 500, *stored.HTTPStatus)
	require.NotNil(t, stored.NextRetryAt)
	assert.WithinDuration(t, clk.Now().Add(60*time.Second), *stored.NextRetryAt, time.Second)
	require.NotNil(t, stored.Error)
}

func TestRetryLadderExhausts(t *testing.T) {
	r := newReceiver(t, http.StatusServiceUnavailable)
	d, db, m, clk := setup(t, r.srv.URL)
	ctx := context.Background()

	log, err := d.Send(ctx, m.ID, nil, "payment.detected", data())
	require.NoError(t, err)

	// not due yet
	n, err := d.RetryPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	for attempt := 2; attempt <= models.MaxWebhookAttempts; attempt++ {
		clk.Add(RetryDelays[attempt-2])
		n, err := d.RetryPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "attempt %d", attempt)

		stored := reload(t, db, log.ID)
		assert.Equal(t, attempt, stored.Attempts)
		if attempt < models.MaxWebhookAttempts {
			require.NotNil(t, stored.NextRetryAt)
			assert.WithinDuration(t, clk.Now().Add(RetryDelays[attempt-1]), *stored.NextRetryAt, time.Second)
		} else {
			assert.Nil(t, stored.NextRetryAt)
		}
	}

	clk.Add(24 * time.Hour)
	n, err = d.RetryPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, models.MaxWebhookAttempts, r.count())
	assert.False(t, reload(t, db, log.ID).IsDelivered)
}

func TestRetryResignsWithCurrentSecret(t *testing.T) {
	r := newReceiver(t, http.StatusInternalServerError)
	d, db, m, clk := setup(t, r.srv.URL)
	ctx := context.Background()

	log, err := d.Send(ctx, m.ID, nil, "payment.detected", data())
	require.NoError(t, err)
	original := r.last()

	require.NoError(t, db.Model(&models.Merchant{}).Where("id = ?", m.ID).Update("webhook_secret", "whsec_rotated").Error)
	r.setStatus(http.StatusOK)
	clk.Add(time.Minute)

	n, err := d.RetryPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	retry := r.last()
	assert.Equal(t, original.body, retry.body)
	assert.Equal(t, original.timestamp, retry.timestamp)
	assert.True(t, Verify("whsec_rotated", retry.body, retry.signature))
	assert.False(t, Verify("whsec_test", retry.body, retry.signature))

	stored := reload(t, db, log.ID)
	assert.True(t, stored.IsDelivered)
	assert.Equal(t, 2, stored.Attempts)
}

func TestRetryDeliversToCurrentURLAndKeepsSnapshot(t *testing.T) {
	old := newReceiver(t, http.StatusInternalServerError)
	current := newReceiver(t, http.StatusOK)
	d, db, m, clk := setup(t, old.srv.URL)
	ctx := context.Background()

	log, err := d.Send(ctx, m.ID, nil, "payment.detected", data())
	require.NoError(t, err)
	sent := reload(t, db, log.ID)

	require.NoError(t, db.Model(&models.Merchant{}).Where("id = ?", m.ID).Update("webhook_url", current.srv.URL).Error)
	clk.Add(time.Minute)

	n, err := d.RetryPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, old.count())
	assert.Equal(t, 1, current.count())

	stored := reload(t, db, log.ID)
	assert.True(t, stored.IsDelivered)
	assert.Equal(t, old.srv.URL, stored.URL)
	assert.Equal(t, string(sent.Payload), string(stored.Payload))
}

func seedUndelivered(t *testing.T, db *gorm.DB, merchantID string, next time.Time) *models.WebhookLog {
	t.Helper()
	log := &models.WebhookLog{
		ID:          uuid.NewString(),
		MerchantID:  merchantID,
		Event:       "payment.detected",
		Payload:     models.SignedPayload(`{"event":"payment.detected","data":{},"timestamp":1740830400000}`),
		URL:         "https://gone.example/hook",
		Attempts:    1,
		NextRetryAt: &next,
	}
	require.NoError(t, database.NewWebhookLogStore(db).Create(context.Background(), log))
	return log
}

func TestRetrySweepParksMerchantsWithoutEndpoint(t *testing.T) {
	r := newReceiver(t, http.StatusInternalServerError)
	d, db, healthy, clk := setup(t, r.srv.URL)
	ctx := context.Background()

	orphan := testutil.SeedMerchant(t, db)
	var orphaned []*models.WebhookLog
	for i := 0; i < database.RetryBatchSize; i++ {
		orphaned = append(orphaned, seedUndelivered(t, db, orphan.ID, testutil.Epoch.Add(-time.Hour)))
	}

	log, err := d.Send(ctx, healthy.ID, nil, "payment.detected", data())
	require.NoError(t, err)
	r.setStatus(http.StatusOK)
	clk.Add(time.Minute)

	// the orphaned rows fill the first batch and are parked
	n, err := d.RetryPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = d.RetryPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored := reload(t, db, log.ID)
	assert.True(t, stored.IsDelivered)
	assert.Equal(t, 2, stored.Attempts)

	parked := reload(t, db, orphaned[0].ID)
	assert.Nil(t, parked.NextRetryAt)
	assert.Equal(t, 1, parked.Attempts)
	assert.False(t, parked.IsDelivered)
	require.NotNil(t, parked.Error)
	assert.Equal(t, "merchant has no webhook endpoint", *parked.Error)
}

type unavailableMerchants struct{}

func (unavailableMerchants) Get(context.Context, string) (*models.Merchant, error) {
	return nil, errors.ErrDatabaseOperation("get_merchant", assert.AnError)
}

func TestRetrySweepDefersWhenMerchantLookupFails(t *testing.T) {
	db := testutil.NewDB(t)
	m := testutil.SeedMerchant(t, db)
	clk := testutil.NewClock()
	d := NewDispatcher(unavailableMerchants{}, database.NewWebhookLogStore(db), time.Second, clk)

	log := seedUndelivered(t, db, m.ID, testutil.Epoch.Add(-time.Minute))

	n, err := d.RetryPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	stored := reload(t, db, log.ID)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.NextRetryAt)
	assert.WithinDuration(t, testutil.Epoch.Add(RetryDelays[0]), *stored.NextRetryAt, time.Second)
}

func TestNetworkErrorRecordsZeroStatus(t *testing.T) {
	r := newReceiver(t, http.StatusOK)
	url := r.srv.URL
	r.srv.Close()

	d, db, m, _ := setup(t, url)
	log, err := d.Send(context.Background(), m.ID, nil, "payment.detected", data())
	require.NoError(t, err)

	stored := reload(t, db, log.ID)
	require.NotNil(t, stored.HTTPStatus)
	assert.Zero(t, *stored.HTTPStatus)
	assert.Equal(t, 1, stored.Attempts)
	assert.NotNil(t, stored.NextRetryAt)
}

func TestRedirectCountsAsDelivered(t *testing.T) {
	r := newReceiver(t, http.StatusFound)
	d, db, m, _ := setup(t, r.srv.URL)

	log, err := d.Send(context.Background(), m.ID, nil, "payment.detected", data())
	require.NoError(t, err)

	stored := reload(t, db, log.ID)
	assert.True(t, stored.IsDelivered)
	assert.Equal(t, http.StatusFound, *stored.HTTPStatus)
	assert.Equal(t, 1, r.count())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
	assert.Equal(t, "日本", truncate("日本語", 2))
}

func TestSignAndVerify(t *testing.T) {
	sig := Sign("secret", []byte(`{"event":"x"}`))
	assert.Len(t, sig, 64)
	assert.True(t, Verify("secret", []byte(`{"event":"x"}`), sig))
	assert.False(t, Verify("secret", []byte(`{"event":"y"}`), sig))
	assert.False(t, Verify("secret", []byte(`{"event":"x"}`), "not-hex"))
}
