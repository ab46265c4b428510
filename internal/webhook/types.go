package webhook

import (
	"context"
	"encoding/json"
	"time"
)

// Delivery is a webhook request whose signature has been verified.
type Delivery struct {
	ID         string
	Endpoint   string
	RequestID  string
	ReceivedAt time.Time
	Payload    json.RawMessage
}

// Handler receives verified deliveries.
type Handler interface {
	HandleDelivery(ctx context.Context, d Delivery) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, d Delivery) error

func (f HandlerFunc) HandleDelivery(ctx context.Context, d Delivery) error {
	return f(ctx, d)
}

// Config holds webhook server configuration.
type Config struct {
	Listen    string           `yaml:"listen"`
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

// EndpointConfig defines a single webhook endpoint.
type EndpointConfig struct {
	// Path is the URL path for this webhook (e.g., "/webhooks/automa")
	Path string `yaml:"path"`

	// Secret is the shared HMAC secret provisioned in the Automa dashboard
	Secret string `yaml:"secret,omitempty"`

	// SignatureHeader is the HTTP header containing the hex HMAC signature
	SignatureHeader string `yaml:"signature_header"`

	// MaxBodySize is the maximum allowed request body size in bytes (default: 1MB)
	MaxBodySize int64 `yaml:"max_body_size,omitempty"`
}

// AcceptedResponse is the JSON response for accepted deliveries.
type AcceptedResponse struct {
	DeliveryID string `json:"delivery_id"`
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Default values
const (
	DefaultMaxBodySize     = 1048576 // 1 MB
	DefaultSignatureHeader = "X-Automa-Signature"
)
