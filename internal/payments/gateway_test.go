package payments

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMercadoPago_GetPayment(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 1234567890, "status": "approved", "external_reference": "ord-1"}`))
	}))
	defer srv.Close()

	mp := NewMercadoPago(srv.URL+"/", "secret-token", srv.Client())
	p, err := mp.GetPayment(context.Background(), "1234567890")
	require.NoError(t, err)

	assert.Equal(t, "/v1/payments/1234567890", gotPath)
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, &Payment{ID: "1234567890", ExternalReference: "ord-1", Status: "approved"}, p)
}

func TestMercadoPago_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewMercadoPago(srv.URL, "t", nil).GetPayment(context.Background(), "1")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestMercadoPago_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewMercadoPago(srv.URL, "t", nil).GetPayment(context.Background(), "1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPaymentNotFound)
	assert.Contains(t, err.Error(), "status 502")
}

func TestParseNotification(t *testing.T) {
	cases := map[string]struct {
		body string
		typ  string
		id   string
	}{
		"numeric id": {`{"type":"payment","data":{"id":987}}`, "payment", "987"},
		"string id":  {`{"type":"payment","action":"payment.updated","data":{"id":"987"}}`, "payment", "987"},
		"null id":    {`{"type":"payment","data":{"id":null}}`, "payment", ""},
		"no data":    {`{"type":"merchant_order"}`, "merchant_order", ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			n, err := ParseNotification([]byte(tc.body))
			require.NoError(t, err)
			assert.Equal(t, tc.typ, n.Type)
			assert.Equal(t, tc.id, n.PaymentID())
		})
	}

	_, err := ParseNotification([]byte(`{"type":"payment","data":{"id":{}}}`))
	assert.Error(t, err)
	_, err = ParseNotification([]byte(`not json`))
	assert.Error(t, err)
}
