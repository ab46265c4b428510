package config

import (
	"fmt"
	"net/url"
	"strings"
)

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	u, err := url.Parse(cfg.Client.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("client.base_url must be an absolute http(s) URL (got %q)", cfg.Client.BaseURL)
	}
	if cfg.Client.Timeout < 0 {
		return fmt.Errorf("client.timeout must not be negative")
	}
	if envVarPattern.MatchString(cfg.Client.APIKey) {
		matches := envVarPattern.FindStringSubmatch(cfg.Client.APIKey)
		return fmt.Errorf("client.api_key references undefined environment variable ${%s}", matches[1])
	}
	for name, value := range cfg.Client.DefaultHeaders {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("client.default_headers contains an empty header name")
		}
		if envVarPattern.MatchString(value) {
			matches := envVarPattern.FindStringSubmatch(value)
			return fmt.Errorf("client.default_headers.%s references undefined environment variable ${%s}", name, matches[1])
		}
	}

	if cfg.Git.MaxConcurrent < 0 {
		return fmt.Errorf("git.max_concurrent must not be negative")
	}

	if cfg.Webhooks != nil {
		if err := validateWebhooks(cfg.Webhooks); err != nil {
			return err
		}
	}
	return nil
}

func validateWebhooks(wc *WebhooksConfig) error {
	if wc.Listen == "" {
		return fmt.Errorf("webhooks.listen is required")
	}

	seen := make(map[string]bool)
	for i, ep := range wc.Endpoints {
		if !strings.HasPrefix(ep.Path, "/") {
			return fmt.Errorf("webhooks.endpoints[%d]: path %q must start with /", i, ep.Path)
		}
		if seen[ep.Path] {
			return fmt.Errorf("webhooks.endpoints[%d]: duplicate path %q", i, ep.Path)
		}
		seen[ep.Path] = true

		if ep.Secret == "" {
			if ep.SecretEnv != "" {
				return fmt.Errorf("webhooks.endpoints[%d]: secret_env %q is not set", i, ep.SecretEnv)
			}
			return fmt.Errorf("webhooks.endpoints[%d]: no secret or secret_env configured", i)
		}
		if envVarPattern.MatchString(ep.Secret) {
			matches := envVarPattern.FindStringSubmatch(ep.Secret)
			return fmt.Errorf("webhooks.endpoints[%d]: secret references undefined environment variable ${%s}", i, matches[1])
		}
	}
	return nil
}
