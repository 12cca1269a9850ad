package billingapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrymomot/gigkeys/pkg/requestid"
	"github.com/dmitrymomot/gigkeys/pkg/subscription"
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its transport should
// still forward request ids; wrap it in requestid.Transport if needed.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// Client is a subscription.BillingCollaborator talking to a billing REST API.
// Transport failures and 5xx answers are returned as errors; 4xx rejections
// of mutating calls become subscription.Failure.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ subscription.BillingCollaborator = (*Client)(nil)

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Transport: &requestid.Transport{},
			Timeout:   time.Minute,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) GetSubscriptionStatus(ctx context.Context, userID string) (*subscription.Subscription, error) {
	var out statusResponse
	if err := c.read(ctx, http.MethodGet, pathStatus, userID, &out); err != nil {
		return nil, err
	}
	return out.Subscription, nil
}

func (c *Client) CreateSetupIntent(ctx context.Context, userID string) (*subscription.SetupIntent, error) {
	var out setupIntentResponse
	if err := c.read(ctx, http.MethodPost, pathSetupIntent, userID, &out); err != nil {
		return nil, err
	}
	if out.ClientSecret == "" {
		return nil, errors.Join(ErrInvalidResponse, errors.New("empty client secret"))
	}
	return &subscription.SetupIntent{ClientSecret: out.ClientSecret}, nil
}

func (c *Client) CreateSubscription(ctx context.Context, userID, priceID, paymentMethodID string) (subscription.Result, error) {
	var out changeResponse
	failure, err := c.mutate(ctx, pathCreate, userID, changeRequest{PriceID: priceID, PaymentMethodID: paymentMethodID}, &out)
	if err != nil || failure != nil {
		return failure, err
	}
	if out.ClientSecret != "" {
		return subscription.NeedsConfirmation{ClientSecret: out.ClientSecret}, nil
	}
	return subscription.Success{Status: out.Status}, nil
}

func (c *Client) UpdateSubscription(ctx context.Context, userID, priceID, paymentMethodID string) (subscription.Result, error) {
	var out changeResponse
	failure, err := c.mutate(ctx, pathUpdate, userID, changeRequest{PriceID: priceID, PaymentMethodID: paymentMethodID}, &out)
	if err != nil || failure != nil {
		return failure, err
	}
	if out.ClientSecret != "" {
		return subscription.NeedsConfirmation{ClientSecret: out.ClientSecret}, nil
	}
	return subscription.Success{Acknowledged: out.Message == msgUpdated}, nil
}

func (c *Client) SetCancellation(ctx context.Context, userID string, cancel bool) (subscription.Result, error) {
	var out cancelResponse
	failure, err := c.mutate(ctx, pathCancel, userID, cancelRequest{Status: &cancel}, &out)
	if err != nil || failure != nil {
		return failure, err
	}
	return subscription.Success{Acknowledged: out.Success}, nil
}

func (c *Client) ListPaymentMethods(ctx context.Context, userID string) (*subscription.PaymentMethods, error) {
	var out subscription.PaymentMethods
	if err := c.read(ctx, http.MethodGet, pathMethods, userID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// View fetches the server-rendered subscription view.
func (c *Client) View(ctx context.Context, userID string) (*subscription.View, error) {
	var out subscription.View
	if err := c.read(ctx, http.MethodGet, pathView, userID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// read treats every non-2xx answer as an error.
func (c *Client) read(ctx context.Context, method, path, userID string, out any) error {
	status, body, err := c.do(ctx, method, path, userID, nil)
	if err != nil {
		return err
	}
	if status/100 != 2 {
		return statusError(status, body)
	}
	return decodeBody(body, out)
}

// mutate returns a Failure for 4xx answers carrying an error message.
func (c *Client) mutate(ctx context.Context, path, userID string, in, out any) (subscription.Result, error) {
	status, body, err := c.do(ctx, http.MethodPost, path, userID, in)
	if err != nil {
		return nil, err
	}
	if status >= 400 && status < 500 {
		var e errorResponse
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return subscription.Failure{Reason: e.Error}, nil
		}
	}
	if status/100 != 2 {
		return nil, statusError(status, body)
	}
	return nil, decodeBody(body, out)
}

func (c *Client) do(ctx context.Context, method, path, userID string, in any) (int, []byte, error) {
	var reqBody io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(UserHeader, userID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func decodeBody(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Join(ErrInvalidResponse, err)
	}
	return nil
}

func statusError(status int, body []byte) error {
	var e errorResponse
	msg := http.StatusText(status)
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		msg = e.Error
	}
	return errors.Join(ErrUnexpectedStatus, fmt.Errorf("status %d: %s", status, msg))
}
