package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const redacted = "<redacted>"

// GetPath retrieves a value from the configuration using a dot-notation path,
// e.g. "client.base_url". An empty path returns the whole document. Secrets
// are redacted.
func (c *Config) GetPath(path string) (any, error) {
	m, err := c.toMap()
	if err != nil {
		return nil, err
	}
	return getValue(m, path)
}

// Redacted returns the configuration as YAML with secrets masked.
func (c *Config) Redacted() ([]byte, error) {
	m, err := c.toMap()
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(m)
}

func (c *Config) toMap() (map[string]any, error) {
	clone := *c
	if clone.Client.APIKey != "" {
		clone.Client.APIKey = redacted
	}
	if len(c.Client.DefaultHeaders) > 0 {
		clone.Client.DefaultHeaders = make(map[string]string, len(c.Client.DefaultHeaders))
		for k, v := range c.Client.DefaultHeaders {
			if strings.EqualFold(k, "Authorization") && v != "" {
				v = redacted
			}
			clone.Client.DefaultHeaders[k] = v
		}
	}
	if c.Webhooks != nil {
		wh := *c.Webhooks
		wh.Endpoints = make([]WebhookEndpoint, len(c.Webhooks.Endpoints))
		for i, ep := range c.Webhooks.Endpoints {
			if ep.Secret != "" {
				ep.Secret = redacted
			}
			wh.Endpoints[i] = ep
		}
		clone.Webhooks = &wh
	}

	data, err := yaml.Marshal(&clone)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

func getValue(m map[string]any, path string) (any, error) {
	parts := strings.Split(path, ".")
	var current any = m

	for _, part := range parts {
		if part == "" {
			continue
		}

		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path %q breaks at %q (not a map)", path, part)
		}

		val, exists := m[part]
		if !exists {
			return nil, fmt.Errorf("path %q: key %q not found", path, part)
		}
		current = val
	}

	return current, nil
}
