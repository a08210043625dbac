package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/evansmunsha/testforpay-sub001/internal/config"
)

const testSecret = "whsec_test"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStripe(t *testing.T, baseURL string) *Stripe {
	t.Helper()
	return NewStripe(config.StripeConfig{
		SecretKey:         "sk_test_123",
		WebhookSecret:     testSecret,
		WebhookTolerance:  5 * time.Minute,
		OnboardReturnURL:  "http://localhost/return",
		OnboardRefreshURL: "http://localhost/refresh",
		APIBaseURL:        baseURL,
	}, http.DefaultClient, quietLogger())
}

func sign(payload []byte) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return signed.Header
}

func eventJSON(typ string, object map[string]any) []byte {
	b, _ := json.Marshal(map[string]any{
		"id":     "evt_" + typ,
		"object": "event",
		"type":   typ,
		"data":   map[string]any{"object": object},
	})
	return b
}

func TestVerifyEvent_FundingSucceeded(t *testing.T) {
	s := newTestStripe(t, "")
	jobID := uuid.New()
	payload := eventJSON(TypePaymentIntentSucceeded, map[string]any{
		"id": "pi_1", "object": "payment_intent", "status": "succeeded",
		"metadata": map[string]string{MetaJobID: jobID.String()},
	})

	ev, err := s.VerifyEvent(payload, sign(payload))
	require.NoError(t, err)
	fs, ok := ev.(FundingSucceeded)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "pi_1", fs.IntentID)
	require.NotNil(t, fs.JobID)
	assert.Equal(t, jobID, *fs.JobID)
	assert.Equal(t, TypePaymentIntentSucceeded, fs.EventType())
}

func TestVerifyEvent_FundingFailedCarriesReason(t *testing.T) {
	s := newTestStripe(t, "")
	payload := eventJSON(TypePaymentIntentFailed, map[string]any{
		"id": "pi_2", "object": "payment_intent",
		"last_payment_error": map[string]any{"message": "card declined"},
	})

	ev, err := s.VerifyEvent(payload, sign(payload))
	require.NoError(t, err)
	ff, ok := ev.(FundingFailed)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "card declined", ff.Reason)
	assert.Nil(t, ff.JobID)
}

func TestVerifyEvent_TransferCreatedAndPaid(t *testing.T) {
	s := newTestStripe(t, "")
	appID := uuid.New()
	for _, typ := range []string{TypeTransferCreated, TypeTransferPaid} {
		payload := eventJSON(typ, map[string]any{
			"id": "tr_1", "object": "transfer", "destination": "acct_9",
			"metadata": map[string]string{MetaApplicationID: appID.String()},
		})
		ev, err := s.VerifyEvent(payload, sign(payload))
		require.NoError(t, err, typ)
		tc, ok := ev.(TransferConfirmed)
		require.True(t, ok, "got %T", ev)
		assert.Equal(t, "tr_1", tc.TransferID)
		assert.Equal(t, "acct_9", tc.DestinationID)
		require.NotNil(t, tc.ApplicationID)
		assert.Equal(t, appID, *tc.ApplicationID)
	}
}

func TestVerifyEvent_AccountUpdatedWithoutMetadata(t *testing.T) {
	s := newTestStripe(t, "")
	payload := eventJSON(TypeAccountUpdated, map[string]any{
		"id": "acct_1", "object": "account", "payouts_enabled": true,
	})
	ev, err := s.VerifyEvent(payload, sign(payload))
	require.NoError(t, err)
	au, ok := ev.(AccountUpdated)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "acct_1", au.AccountID)
	assert.True(t, au.PayoutsEnabled)
	assert.Nil(t, au.UserID)
}

func TestVerifyEvent_UnknownTypeIsUnrecognized(t *testing.T) {
	s := newTestStripe(t, "")
	payload := eventJSON("charge.dispute.created", map[string]any{"id": "dp_1", "object": "dispute"})
	ev, err := s.VerifyEvent(payload, sign(payload))
	require.NoError(t, err)
	_, ok := ev.(Unrecognized)
	assert.True(t, ok, "got %T", ev)
}

func TestVerifyEvent_RejectsBadSignature(t *testing.T) {
	s := newTestStripe(t, "")
	payload := eventJSON(TypeTransferPaid, map[string]any{"id": "tr_1", "object": "transfer"})
	header := sign(payload)

	_, err := s.VerifyEvent(payload, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	tampered := append([]byte{}, payload...)
	tampered[len(tampered)-2] = ' '
	_, err = s.VerifyEvent(tampered, header)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = s.VerifyEvent(payload, "")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestInitiateTransfer_SendsCorrelationKey(t *testing.T) {
	appID, jobID := uuid.New(), uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transfers", r.URL.Path)
		assert.Equal(t, "settle-"+appID.String(), r.Header.Get("Idempotency-Key"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "1000", r.PostForm.Get("amount"))
		assert.Equal(t, "eur", r.PostForm.Get("currency"))
		assert.Equal(t, "acct_1", r.PostForm.Get("destination"))
		assert.Equal(t, appID.String(), r.PostForm.Get("metadata["+MetaApplicationID+"]"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"tr_42","object":"transfer"}`))
	}))
	defer srv.Close()

	id, err := newTestStripe(t, srv.URL).InitiateTransfer(context.Background(), TransferRequest{
		DestinationID:  "acct_1",
		AmountCents:    1000,
		Currency:       "eur",
		CorrelationKey: appID,
		JobID:          jobID,
	})
	require.NoError(t, err)
	assert.Equal(t, "tr_42", id)
}

func TestInitiateTransfer_ClassifiesErrors(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusBadRequest, `{"error":{"type":"invalid_request_error","message":"Cannot transfer EUR: destination has no eur currency account","param":"currency"}}`, ErrUnsupportedCurrency},
		{http.StatusInternalServerError, `{"error":{"type":"api_error","message":"boom"}}`, ErrUnavailable},
		{http.StatusNotFound, `{"error":{"type":"invalid_request_error","message":"No such destination: acct_x"}}`, ErrNoDestination},
		{http.StatusBadRequest, `{"error":{"type":"invalid_request_error","message":"Insufficient funds in platform balance"}}`, ErrRejected},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := newTestStripe(t, srv.URL).InitiateTransfer(context.Background(), TransferRequest{
				DestinationID: "acct_1", AmountCents: 1000, Currency: "eur", CorrelationKey: uuid.New(), JobID: uuid.New(),
			})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestRetrieveDestination_MapsCurrencies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts/acct_7", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id":"acct_7","object":"account","country":"US","default_currency":"usd","payouts_enabled":true,
			"external_accounts":{"object":"list","data":[{"id":"ba_1","object":"bank_account","currency":"eur"}]}
		}`))
	}))
	defer srv.Close()

	d, err := newTestStripe(t, srv.URL).RetrieveDestination(context.Background(), "acct_7")
	require.NoError(t, err)
	assert.Equal(t, "US", d.Country)
	assert.Equal(t, "usd", d.DefaultCurrency)
	assert.Equal(t, []string{"eur"}, d.ExternalCurrencies)
	assert.True(t, d.CanReceive("EUR"))
	assert.False(t, d.CanReceive("gbp"))
}

func TestDestinationCanReceive_Nil(t *testing.T) {
	var d *Destination
	assert.False(t, d.CanReceive("eur"))
}
