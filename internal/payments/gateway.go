// Package payments turns payment gateway notifications into order transitions.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrPaymentNotFound is returned by a Gateway when the payment id is unknown.
var ErrPaymentNotFound = errors.New("payment not found")

// Payment is the gateway's view of a payment. ExternalReference carries the order id.
type Payment struct {
	ID                string
	ExternalReference string
	Status            string
}

// Gateway fetches payments from the payment provider.
type Gateway interface {
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
}

const defaultTimeout = 10 * time.Second

// MercadoPago is a Gateway backed by the MercadoPago payments API.
type MercadoPago struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewMercadoPago returns a client for baseURL authenticated with an access token.
// A nil httpClient gets a client with a 10s timeout.
func NewMercadoPago(baseURL, token string, httpClient *http.Client) *MercadoPago {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &MercadoPago{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  httpClient,
	}
}

type mpPayment struct {
	ID                json.Number `json:"id"`
	ExternalReference string      `json:"external_reference"`
	Status            string      `json:"status"`
}

// GetPayment calls GET /v1/payments/{id}.
func (m *MercadoPago) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	endpoint := fmt.Sprintf("%s/v1/payments/%s", m.baseURL, url.PathEscape(paymentID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build payment request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.token)
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get payment %s: %w", paymentID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("get payment %s: %w", paymentID, ErrPaymentNotFound)
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("get payment %s: status %d: %s", paymentID, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var p mpPayment
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode payment %s: %w", paymentID, err)
	}
	id := p.ID.String()
	if id == "" {
		id = paymentID
	}
	return &Payment{ID: id, ExternalReference: p.ExternalReference, Status: p.Status}, nil
}
