package config

import "time"

// Config represents the complete automa configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Client    ClientConfig    `yaml:"client"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Git       GitConfig       `yaml:"git"`
	Journal   JournalConfig   `yaml:"journal"`
	Webhooks  *WebhooksConfig `yaml:"webhooks,omitempty"`
}

// ServiceConfig defines process-wide settings.
type ServiceConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// ClientConfig defines how the Automa API is reached.
type ClientConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key,omitempty"`
	Timeout time.Duration `yaml:"timeout"`
	// DefaultHeaders are sent with every request. An empty value removes a
	// built-in default header.
	DefaultHeaders map[string]string `yaml:"default_headers,omitempty"`
}

// WorkspaceConfig defines where task code is extracted.
type WorkspaceConfig struct {
	BaseDir string `yaml:"base_dir"`
	// LockDir defaults to a "locks" sibling of BaseDir.
	LockDir string `yaml:"lock_dir"`
}

// GitConfig defines the git binary used to compute proposal diffs.
type GitConfig struct {
	Binary        string `yaml:"binary"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// JournalConfig defines the local sqlite journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// WebhooksConfig defines webhook listener settings.
type WebhooksConfig struct {
	Listen    string            `yaml:"listen"`
	Endpoints []WebhookEndpoint `yaml:"endpoints"`
}

// WebhookEndpoint defines a single webhook endpoint.
type WebhookEndpoint struct {
	Path            string `yaml:"path"`
	Secret          string `yaml:"secret,omitempty"`
	SecretEnv       string `yaml:"secret_env,omitempty"`
	SignatureHeader string `yaml:"signature_header,omitempty"`
	MaxBodySize     string `yaml:"max_body_size,omitempty"`
}

const (
	DefaultBaseURL      = "https://api.automa.app"
	DefaultWorkspaceDir = "/tmp/automa/tasks"
)

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
		Client: ClientConfig{
			BaseURL: DefaultBaseURL,
			Timeout: 5 * time.Minute,
		},
		Workspace: WorkspaceConfig{
			BaseDir: DefaultWorkspaceDir,
		},
		Git: GitConfig{
			Binary:        "git",
			MaxConcurrent: 4,
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    "/tmp/automa/journal.db",
		},
	}
}
