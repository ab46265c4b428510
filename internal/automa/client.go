// Package automa wires the Automa API client together from options.
package automa

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/automa-app/automa-go/internal/api"
	"github.com/automa-app/automa-go/internal/code"
	"github.com/automa-app/automa-go/internal/git"
	"github.com/automa-app/automa-go/internal/log"
	"github.com/automa-app/automa-go/internal/workspace"
)

const (
	// BaseURLEnv is consulted when Options.BaseURL is empty.
	BaseURLEnv     = "AUTOMA_BASE_URL"
	DefaultBaseURL = "https://api.automa.app"
)

// Options configures a Client. Zero values select defaults.
type Options struct {
	BaseURL        string
	DefaultHeaders map[string]string
	// APIKey is sent as a bearer token when set.
	APIKey string

	WorkspaceDir string

	GitBinary        string
	GitMaxConcurrent int

	// Journal receives download and proposal events.
	Journal code.Recorder

	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Client is the entry point of the SDK.
type Client struct {
	Code       *code.Service
	Workspaces workspace.Manager

	api *api.Client
}

// New builds a Client.
func New(opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}

	apiOpts := []api.ClientOption{api.WithLogger(logger.With("component", "api"))}
	if opts.HTTPClient != nil {
		apiOpts = append(apiOpts, api.WithHTTPClient(opts.HTTPClient))
	}
	if opts.Timeout > 0 {
		apiOpts = append(apiOpts, api.WithTimeout(opts.Timeout))
	}
	if opts.APIKey != "" {
		apiOpts = append(apiOpts, api.WithBearerToken(opts.APIKey))
	}
	if len(opts.DefaultHeaders) > 0 {
		apiOpts = append(apiOpts, api.WithDefaultHeaders(opts.DefaultHeaders))
	}

	transport, err := api.NewClient(ResolveBaseURL(opts.BaseURL), apiOpts...)
	if err != nil {
		return nil, err
	}

	workspaces, err := workspace.NewFSManager(opts.WorkspaceDir)
	if err != nil {
		return nil, fmt.Errorf("workspace manager: %w", err)
	}

	differ := git.NewCLIDiffer(opts.GitBinary, git.NewPool(opts.GitMaxConcurrent))

	codeOpts := []code.Option{code.WithLogger(logger.With("component", "code"))}
	if opts.Journal != nil {
		codeOpts = append(codeOpts, code.WithRecorder(opts.Journal))
	}

	return &Client{
		Code:       code.New(transport, workspaces, differ, codeOpts...),
		Workspaces: workspaces,
		api:        transport,
	}, nil
}

// BaseURL reports the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.api.BaseURL()
}

// ResolveBaseURL applies the fallback chain: explicit value, then
// AUTOMA_BASE_URL, then DefaultBaseURL.
func ResolveBaseURL(explicit string) string {
	if v := strings.TrimSpace(explicit); v != "" {
		return v
	}
	if v := strings.TrimSpace(os.Getenv(BaseURLEnv)); v != "" {
		return v
	}
	return DefaultBaseURL
}
