// Package doctor checks that a loaded configuration can actually run on this
// machine: git is reachable, directories are writable, secrets look sane.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/automa-app/automa-go/internal/config"
)

// minSecretLength is the shortest webhook secret accepted without a warning.
const minSecretLength = 16

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration against the local environment.
type Doctor struct {
	cfg      *config.Config
	lookPath func(string) (string, error)
}

// New creates a Doctor for cfg.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, lookPath: exec.LookPath}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateClient(r)
	d.validateGit(r)
	d.validateDirectories(r)
	d.validateWebhooks(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateClient(r *Result) {
	c := d.cfg.Client
	if strings.TrimSpace(c.APIKey) == "" {
		if _, ok := headerValue(c.DefaultHeaders, "Authorization"); !ok {
			d.addWarning(r, "client", "client.api_key", "no API key or Authorization header; requests will be unauthenticated")
		}
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil {
		d.addError(r, "client", "client.base_url", err.Error())
		return
	}
	if u.Scheme == "http" && !isLoopback(u.Hostname()) {
		d.addWarning(r, "client", "client.base_url", "plain http to a remote host sends the API key unencrypted")
	}
}

func (d *Doctor) validateGit(r *Result) {
	if _, err := d.lookPath(d.cfg.Git.Binary); err != nil {
		d.addError(r, "git", "git.binary",
			fmt.Sprintf("%q not found; propose needs git to compute diffs", d.cfg.Git.Binary))
	}
}

func (d *Doctor) validateDirectories(r *Result) {
	if err := checkWritable(d.cfg.Workspace.BaseDir); err != nil {
		d.addError(r, "workspace", "workspace.base_dir", err.Error())
	}
	if err := checkWritable(d.cfg.Workspace.LockDir); err != nil {
		d.addError(r, "workspace", "workspace.lock_dir", err.Error())
	}
	if d.cfg.Journal.Enabled {
		if err := checkWritable(filepath.Dir(d.cfg.Journal.Path)); err != nil {
			d.addError(r, "journal", "journal.path", err.Error())
		}
	}
}

func (d *Doctor) validateWebhooks(r *Result) {
	if d.cfg.Webhooks == nil {
		return
	}
	for i, ep := range d.cfg.Webhooks.Endpoints {
		field := fmt.Sprintf("webhooks.endpoints[%d].secret", i)
		if len(ep.Secret) < minSecretLength {
			d.addWarning(r, "webhooks", field,
				fmt.Sprintf("secret for %s is shorter than %d bytes", ep.Path, minSecretLength))
		}
	}
}

// checkWritable verifies dir exists (or can be created) and accepts files.
func checkWritable(dir string) error {
	if dir == "" {
		return fmt.Errorf("directory is not set")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, ".automa-doctor-*")
	if err != nil {
		return fmt.Errorf("%s is not writable: %w", dir, err)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return nil
}

func headerValue(headers map[string]string, key string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, key) && strings.TrimSpace(v) != "" {
			return v, true
		}
	}
	return "", false
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
		return b.String()
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, level string, is Issue) {
	if is.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", level, is.Category, is.Field, is.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", level, is.Category, is.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
