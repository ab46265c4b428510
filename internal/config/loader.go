package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// envNamespace prefixes every override variable, e.g. AUTOMA_BASE_URL.
const envNamespace = "AUTOMA"

// EnvOverrides are read from the process environment and win over the file.
type EnvOverrides struct {
	BaseURL      string `envconfig:"BASE_URL"`
	APIKey       string `envconfig:"API_KEY"`
	WorkspaceDir string `envconfig:"WORKSPACE_DIR"`
	JournalPath  string `envconfig:"JOURNAL_PATH"`
	LogLevel     string `envconfig:"LOG_LEVEL"`
}

// Load reads configuration from configPath. An empty path yields the defaults.
// Environment overrides are applied last, then the result is validated.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if configPath != "" {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
		}

		data, err := os.ReadFile(absPath)
		if err != nil {
			return nil, fmt.Errorf("config file not found: %s\n"+
				"Hint: Check the path or run with --config flag", absPath)
		}

		expanded := interpolateEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", absPath, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	cfg = applyConfigDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	var env EnvOverrides
	if err := envconfig.Process(envNamespace, &env); err != nil {
		return fmt.Errorf("failed to load env: %w", err)
	}

	if env.BaseURL != "" {
		cfg.Client.BaseURL = env.BaseURL
	}
	if env.APIKey != "" {
		cfg.Client.APIKey = env.APIKey
	}
	if env.WorkspaceDir != "" {
		cfg.Workspace.BaseDir = env.WorkspaceDir
	}
	if env.JournalPath != "" {
		cfg.Journal.Path = env.JournalPath
	}
	if env.LogLevel != "" {
		cfg.Service.LogLevel = env.LogLevel
	}
	return nil
}

// applyConfigDefaults fills fields a partial file left empty.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	cfg.Service.LogLevel = strings.ToLower(strings.TrimSpace(cfg.Service.LogLevel))
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	cfg.Client.BaseURL = strings.TrimSpace(cfg.Client.BaseURL)
	if cfg.Client.BaseURL == "" {
		cfg.Client.BaseURL = defaults.Client.BaseURL
	}
	if cfg.Client.Timeout == 0 {
		cfg.Client.Timeout = defaults.Client.Timeout
	}
	if cfg.Workspace.BaseDir == "" {
		cfg.Workspace.BaseDir = defaults.Workspace.BaseDir
	}
	if cfg.Workspace.LockDir == "" {
		cfg.Workspace.LockDir = filepath.Join(filepath.Dir(filepath.Clean(cfg.Workspace.BaseDir)), "locks")
	}
	if cfg.Git.Binary == "" {
		cfg.Git.Binary = defaults.Git.Binary
	}
	if cfg.Git.MaxConcurrent == 0 {
		cfg.Git.MaxConcurrent = defaults.Git.MaxConcurrent
	}
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = defaults.Journal.Path
	}
	if cfg.Webhooks != nil {
		for i := range cfg.Webhooks.Endpoints {
			if cfg.Webhooks.Endpoints[i].SecretEnv != "" && cfg.Webhooks.Endpoints[i].Secret == "" {
				cfg.Webhooks.Endpoints[i].Secret = os.Getenv(cfg.Webhooks.Endpoints[i].SecretEnv)
			}
		}
	}
	return cfg
}

// interpolateEnv replaces ${VAR} placeholders with environment values.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]

		if value, exists := os.LookupEnv(varName); exists {
			return value
		}

		// If not found, leave the placeholder (will fail validation if required)
		return match
	})
}
