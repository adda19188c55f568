// Package accounts looks up customer account status from the merchant
// account API. The deterministic path uses it to condition its responses
// (active account, pending activation, suspended...).
package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vadf/assistant/internal/log"
)

// ErrUnknownAccount indicates the account API knows no account for the
// given email.
var ErrUnknownAccount = errors.New("unknown account")

// Status is the account API's answer for one customer.
type Status struct {
	Email  string `json:"email"`
	Status string `json:"status"` // actif, inactif, suspendu, resilie
	Active bool   `json:"active"`
}

// ContextValues flattens the status into the string map consumed by the
// response templates.
func (s Status) ContextValues() map[string]string {
	return map[string]string{
		"email":        s.Email,
		"statut":       s.Status,
		"compte_actif": strconv.FormatBool(s.Active),
	}
}

// Client queries the merchant account API over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	logger  log.Logger
}

// NewClient creates a Client. timeout bounds every lookup; the
// deterministic path must answer even when the account API is slow.
func NewClient(baseURL string, timeout time.Duration, logger log.Logger) *Client {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Lookup fetches the account status for an email address.
func (c *Client) Lookup(ctx context.Context, email string) (Status, error) {
	u := fmt.Sprintf("%s/accounts/status?%s", c.baseURL,
		url.Values{"email": {email}}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Status{}, fmt.Errorf("building account status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Status{}, fmt.Errorf("querying account status: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Status{}, fmt.Errorf("account %s: %w", email, ErrUnknownAccount)
	case resp.StatusCode != http.StatusOK:
		return Status{}, fmt.Errorf("account status returned %d", resp.StatusCode)
	}

	var s Status
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return Status{}, fmt.Errorf("decoding account status: %w", err)
	}
	return s, nil
}
