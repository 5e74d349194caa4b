package http

import (
	"log/slog"
	"net/http"

	paygate "github.com/paygate-labs/paygate-go"
)

// Client is an HTTP client that automatically handles the payment flow.
// It wraps a standard http.Client and adds credential attachment, 402
// handling, and budget bookkeeping via a custom RoundTripper.
type Client struct {
	*http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client) error

// NewClient creates a new payment-aware HTTP client.
func NewClient(opts ...ClientOption) (*Client, error) {
	client := &Client{
		Client: &http.Client{},
	}
	if client.Transport == nil {
		client.Transport = http.DefaultTransport
	}

	for _, opt := range opts {
		if err := opt(client); err != nil {
			return nil, err
		}
	}
	return client, nil
}

// WithHTTPClient sets a custom underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) error {
		c.Client = httpClient
		if c.Transport == nil {
			c.Transport = http.DefaultTransport
		}
		return nil
	}
}

// WithCredential attaches a credential to every outgoing request.
func WithCredential(cred paygate.Credential) ClientOption {
	return func(c *Client) error {
		getOrCreateTransport(c).Credential = &cred
		return nil
	}
}

// WithBudget gates paid retries on the budget and records confirmed spends
// against it.
func WithBudget(b *paygate.Budget) ClientOption {
	return func(c *Client) error {
		getOrCreateTransport(c).Budget = b
		return nil
	}
}

// WithSelector sets the credential selector consulted on 402 responses.
func WithSelector(selector CredentialSelector) ClientOption {
	return func(c *Client) error {
		getOrCreateTransport(c).Selector = selector
		return nil
	}
}

// WithLogger sets the transport's logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		getOrCreateTransport(c).Logger = logger
		return nil
	}
}

// getOrCreateTransport gets the payment Transport, wrapping the existing
// transport if needed.
func getOrCreateTransport(c *Client) *Transport {
	transport, ok := c.Transport.(*Transport)
	if !ok {
		transport = &Transport{Base: c.Transport}
		c.Transport = transport
	}
	return transport
}
