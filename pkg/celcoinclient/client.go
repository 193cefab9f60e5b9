/**
 * @description
 * This package provides a client for interacting with the Celcoin BaaS API.
 * It encapsulates the logic for making authenticated HTTP requests to
 * Celcoin's PIX endpoints, handling request body construction, and parsing
 * responses. The four operations mirror the payment pipeline: EMV decode,
 * DICT recipient lookup, payment submission, and status retrieval.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package celcoinclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Client is a client for the Celcoin PIX API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new Celcoin API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// DecodeRequest is the payload for the EMV decode endpoint.
type DecodeRequest struct {
	EMV string `json:"emv"`
}

// DecodeResponse is the result of decoding a raw EMV string. Amount is the
// provider-native decimal string (e.g. "25.00") and is empty when the
// payload does not fix one.
type DecodeResponse struct {
	Key                       string `json:"key"`
	Amount                    string `json:"amount,omitempty"`
	QRKind                    string `json:"type"` // "DYNAMIC" or "STATIC"
	TransactionIdentification string `json:"transactionIdentification,omitempty"`
	Description               string `json:"description,omitempty"`
}

// DictLookupRequest is the payload for a DICT directory lookup.
type DictLookupRequest struct {
	Key           string `json:"key"`
	PayerID       string `json:"payerId"`
	SourceAccount string `json:"account"`
}

// DictLookupResponse is the resolved receiving party for a PIX key.
type DictLookupResponse struct {
	Name           string `json:"name"`
	DocumentNumber string `json:"documentNumber"`
	Participant    string `json:"participant"` // receiving institution ISPB
	Branch         string `json:"branch"`
	AccountNumber  string `json:"accountNumber"`
}

// PaymentParty identifies one side of the payment.
type PaymentParty struct {
	Name           string `json:"name,omitempty"`
	DocumentNumber string `json:"documentNumber,omitempty"`
	Participant    string `json:"participant,omitempty"`
	Branch         string `json:"branch,omitempty"`
	AccountNumber  string `json:"accountNumber,omitempty"`
	Key            string `json:"key,omitempty"`
}

// PaymentRequest is the payload for payment submission. ClientRequestID is
// the caller-generated idempotency token; it must be unique per attempt.
type PaymentRequest struct {
	ClientRequestID           string       `json:"clientRequestId"`
	Amount                    string       `json:"amount"` // decimal string, e.g. "25.00"
	DebitParty                PaymentParty `json:"debitParty"`
	CreditParty               PaymentParty `json:"creditParty"`
	TransactionIdentification string       `json:"transactionIdentification,omitempty"`
	RemittanceInformation     string       `json:"remittanceInformation,omitempty"`
}

// PaymentResponse is the synchronous acceptance from the payment endpoint.
type PaymentResponse struct {
	TransactionID string `json:"id"`
	Status        string `json:"status"`
}

// StatusResponse is the result of a status poll for an accepted payment.
type StatusResponse struct {
	TransactionID string `json:"id"`
	Status        string `json:"status"` // CONFIRMED | FAILED | REJECTED | PENDING | PROCESSING
	Reason        string `json:"reason,omitempty"`
}

// ErrorResponse represents an error from the Celcoin API.
type ErrorResponse struct {
	StatusCode int `json:"-"`
	Err        struct {
		Code    string `json:"errorCode"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *ErrorResponse) Error() string {
	if e.Err.Code != "" || e.Err.Message != "" {
		return fmt.Sprintf("celcoin api error: %s - %s", e.Err.Code, e.Err.Message)
	}
	return "unknown celcoin api error"
}

// IsExplicitRejection reports whether the provider definitively rejected the
// request (4xx), as opposed to an ambiguous failure where the request may
// still have been accepted server-side.
func (e *ErrorResponse) IsExplicitRejection() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// DecodeEMV decodes a scanned or pasted EMV string through the provider.
func (c *Client) DecodeEMV(ctx context.Context, rawCode string) (*DecodeResponse, error) {
	var out DecodeResponse
	if err := c.doJSON(ctx, http.MethodPost, "/pix/v1/emv/decode", DecodeRequest{EMV: rawCode}, &out, "decode_emv"); err != nil {
		return nil, err
	}
	return &out, nil
}

// LookupRecipient resolves a PIX key against the DICT directory.
func (c *Client) LookupRecipient(ctx context.Context, key, payerID, sourceAccount string) (*DictLookupResponse, error) {
	var out DictLookupResponse
	req := DictLookupRequest{Key: key, PayerID: payerID, SourceAccount: sourceAccount}
	if err := c.doJSON(ctx, http.MethodPost, "/pix/v1/dict/lookup", req, &out, "dict_lookup"); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitPayment issues the payment. On acceptance the provider returns a
// transaction identifier that gates status polling.
func (c *Client) SubmitPayment(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	var out PaymentResponse
	if err := c.doJSON(ctx, http.MethodPost, "/pix/v1/payment", req, &out, "submit_payment"); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPaymentStatus fetches the settlement status for an accepted payment.
func (c *Client) GetPaymentStatus(ctx context.Context, transactionID string) (*StatusResponse, error) {
	var out StatusResponse
	path := "/pix/v1/payment/" + transactionID + "/status"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out, "payment_status"); err != nil {
		return nil, err
	}
	return &out, nil
}

// doJSON is a generic helper to execute authenticated JSON requests.
func (c *Client) doJSON(ctx context.Context, method, path string, payload, out interface{}, op string) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := &ErrorResponse{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, errResp); err != nil {
			log.Printf("level=warn component=celcoin_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, resp.StatusCode)
			return fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=celcoin_client op=%s status=%d code=%q detail=%q", op, resp.StatusCode, errResp.Err.Code, errResp.Err.Message)
		return errResp
	}

	if out != nil {
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", op, err)
		}
	}
	return nil
}
