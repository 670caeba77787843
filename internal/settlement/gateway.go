package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"statfiler/internal/secrets"
)

// Charge statuses reported by the gateway.
const (
	ChargeAuthorized = "authorized"
	ChargeCaptured   = "captured"
	ChargeFailed     = "failed"
)

// AuthorizeRequest describes the state fee charge.
type AuthorizeRequest struct {
	IdempotencyKey string            `json:"-"`
	AmountMinor    int64             `json:"amount"`
	Currency       string            `json:"currency"`
	Recipient      string            `json:"recipient"`
	Method         string            `json:"method"`
	Description    string            `json:"description"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Authorization is the gateway's answer to Authorize. ConfirmToken is
// scoped to this one charge, so confirmation does not need the account
// credential.
type Authorization struct {
	ChargeID     string `json:"id"`
	Status       string `json:"status"`
	ConfirmToken string `json:"confirm_token"`
}

// Confirmation is the independently fetched charge state.
type Confirmation struct {
	ChargeID string `json:"id"`
	Status   string `json:"status"`
}

// Captured reports whether the money moved.
func (c Confirmation) Captured() bool { return c.Status == ChargeCaptured }

// Gateway authorizes and confirms payments.
type Gateway interface {
	Authorize(ctx context.Context, cred *secrets.Credential, req AuthorizeRequest) (Authorization, error)
	Confirm(ctx context.Context, auth Authorization) (Confirmation, error)
}

// HTTPGateway talks JSON to the payment gateway.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGateway returns a client for baseURL. A zero timeout means 30s.
func NewHTTPGateway(baseURL string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGateway) Authorize(ctx context.Context, cred *secrets.Credential, req AuthorizeRequest) (Authorization, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Authorization{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/charges", bytes.NewReader(body))
	if err != nil {
		return Authorization{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+cred.Secret())
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	var auth Authorization
	if err := g.do(httpReq, &auth); err != nil {
		return Authorization{}, err
	}
	if auth.ChargeID == "" {
		return Authorization{}, fmt.Errorf("gateway returned no charge id")
	}
	if auth.Status == ChargeFailed {
		return auth, fmt.Errorf("charge %s declined", auth.ChargeID)
	}
	return auth, nil
}

func (g *HTTPGateway) Confirm(ctx context.Context, auth Authorization) (Confirmation, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/v1/charges/"+url.PathEscape(auth.ChargeID), nil)
	if err != nil {
		return Confirmation{}, err
	}
	httpReq.Header.Set("X-Confirm-Token", auth.ConfirmToken)

	var conf Confirmation
	if err := g.do(httpReq, &conf); err != nil {
		return Confirmation{}, err
	}
	if conf.ChargeID != auth.ChargeID {
		return Confirmation{}, fmt.Errorf("confirmation for charge %q does not match %q", conf.ChargeID, auth.ChargeID)
	}
	return conf, nil
}

func (g *HTTPGateway) do(req *http.Request, out any) error {
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read gateway response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := strings.TrimSpace(string(data))
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return fmt.Errorf("%s %s: gateway returned %d: %s", req.Method, req.URL.Path, resp.StatusCode, snippet)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}
