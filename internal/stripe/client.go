// Package stripe предоставляет клиент платёжной системы Stripe:
// создание чекаут-сессий, поиск клиентов и проверку подписи вебхуков.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const defaultBaseURL = "https://api.stripe.com"

// ErrNotConfigured возвращается при попытке обратиться к Stripe без секретного ключа.
var ErrNotConfigured = errors.New("stripe client not configured")

// Client инкапсулирует HTTP-взаимодействие с API Stripe.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

// NewClient создаёт клиент Stripe с указанным секретным ключом.
func NewClient(secretKey string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = 15 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    defaultBaseURL,
		secretKey:  secretKey,
		httpClient: rc.StandardClient(),
	}
}

// WithBaseURL переопределяет адрес API. Используется в тестах.
func (c *Client) WithBaseURL(base string) *Client {
	c.baseURL = strings.TrimRight(base, "/")
	return c
}

// CheckoutSession описывает созданную чекаут-сессию.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Customer описывает клиента в Stripe.
type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type customerList struct {
	Data []Customer `json:"data"`
}

// LineItem описывает одну позицию чекаут-сессии.
type LineItem struct {
	Description string `json:"description"`
	Price       struct {
		ID      string `json:"id"`
		Product string `json:"product"`
	} `json:"price"`
}

type lineItemList struct {
	Data []LineItem `json:"data"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateCheckoutSessionParams задаёт параметры чекаут-сессии.
// Ровно одна позиция с количеством 1.
type CreateCheckoutSessionParams struct {
	PriceID       string
	CustomerID    string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
}

// CreateCheckoutSession создаёт hosted-чекаут в Stripe и возвращает сессию с redirect URL.
func (c *Client) CreateCheckoutSession(ctx context.Context, p CreateCheckoutSessionParams) (*CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("line_items[0][price]", p.PriceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", p.SuccessURL)
	form.Set("cancel_url", p.CancelURL)
	form.Set("payment_method_types[0]", "card")
	form.Set("payment_method_types[1]", "affirm")
	form.Set("payment_method_types[2]", "afterpay_clearpay")

	// Stripe не принимает customer и customer_email одновременно.
	if p.CustomerID != "" {
		form.Set("customer", p.CustomerID)
	} else if p.CustomerEmail != "" {
		form.Set("customer_email", p.CustomerEmail)
	}

	var session CheckoutSession
	if err := c.do(ctx, http.MethodPost, "/v1/checkout/sessions", form, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// FindCustomerByEmail возвращает первого клиента Stripe с указанным email
// или nil, если такого клиента нет.
func (c *Client) FindCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	path := "/v1/customers?" + url.Values{
		"email": {email},
		"limit": {"1"},
	}.Encode()

	var list customerList
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	if len(list.Data) == 0 {
		return nil, nil
	}
	return &list.Data[0], nil
}

// ListLineItems возвращает первую позицию чекаут-сессии.
func (c *Client) ListLineItems(ctx context.Context, sessionID string) ([]LineItem, error) {
	path := fmt.Sprintf("/v1/checkout/sessions/%s/line_items?limit=1", url.PathEscape(sessionID))

	var list lineItemList
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list.Data, nil
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, out any) error {
	if c == nil || c.secretKey == "" {
		return ErrNotConfigured
	}

	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("stripe api %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return fmt.Errorf("stripe api unexpected status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
