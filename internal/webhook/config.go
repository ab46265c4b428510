package webhook

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/automa-app/automa-go/internal/config"
)

// FromGlobalConfig builds the receiver configuration from the file
// configuration. Secrets must already be resolved by the config loader.
func FromGlobalConfig(wc *config.WebhooksConfig) (Config, error) {
	if wc == nil {
		return Config{}, fmt.Errorf("webhooks config is nil")
	}

	out := Config{Listen: wc.Listen}
	for _, ep := range wc.Endpoints {
		if ep.Secret == "" {
			return Config{}, fmt.Errorf("webhook endpoint %q: no secret or secret_env configured", ep.Path)
		}
		limit, err := parseBodyLimit(ep.MaxBodySize)
		if err != nil {
			return Config{}, fmt.Errorf("webhook endpoint %q: max_body_size %q: %w", ep.Path, ep.MaxBodySize, err)
		}
		out.Endpoints = append(out.Endpoints, EndpointConfig{
			Path:            ep.Path,
			Secret:          ep.Secret,
			SignatureHeader: ep.SignatureHeader,
			MaxBodySize:     limit,
		})
	}
	return out.withDefaults(), nil
}

// parseBodyLimit accepts humanized sizes ("512KiB", "2MB", "4096").
// Empty means DefaultMaxBodySize.
func parseBodyLimit(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultMaxBodySize, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("size must be positive")
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("size too large")
	}
	return int64(n), nil
}

// withDefaults fills per-endpoint defaults.
func (c Config) withDefaults() Config {
	eps := make([]EndpointConfig, len(c.Endpoints))
	for i, ep := range c.Endpoints {
		if ep.MaxBodySize <= 0 {
			ep.MaxBodySize = DefaultMaxBodySize
		}
		if ep.SignatureHeader == "" {
			ep.SignatureHeader = DefaultSignatureHeader
		}
		eps[i] = ep
	}
	c.Endpoints = eps
	return c
}
