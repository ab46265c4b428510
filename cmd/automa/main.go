package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/automa-app/automa-go/internal/automa"
	"github.com/automa-app/automa-go/internal/config"
	"github.com/automa-app/automa-go/internal/journal"
	"github.com/automa-app/automa-go/internal/log"
	"github.com/automa-app/automa-go/internal/storage"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "download":
		if hasHelpFlag(args) {
			printDownloadHelp()
			return 0
		}
		return runDownload(args)
	case "propose":
		if hasHelpFlag(args) {
			printProposeHelp()
			return 0
		}
		return runPropose(args)
	case "cleanup":
		if hasHelpFlag(args) {
			printCleanupHelp()
			return 0
		}
		return runCleanup(args)
	case "status":
		if hasHelpFlag(args) {
			printStatusHelp()
			return 0
		}
		return runStatus(args)

	// --- NOUNS ---
	case "webhook":
		return runWebhookNoun(args)
	case "config":
		return runConfigNoun(args)

	case "doctor":
		return runDoctor(args)

	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: automa version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("automa %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		info.Commit = commit
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}

	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

// runtimeEnv bundles what a command needs once configuration is loaded.
type runtimeEnv struct {
	cfg     *config.Config
	client  *automa.Client
	journal *journal.Store
	db      *sql.DB
}

func (r *runtimeEnv) Close() {
	if r.db != nil {
		_ = r.db.Close()
	}
}

// loadConfig reads the config file and sets up logging from it.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		configPath = os.Getenv("AUTOMA_CONFIG")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log.Configure(log.Options{Writer: os.Stderr, Level: cfg.Service.LogLevel, Format: cfg.Service.LogFormat})
	return cfg, nil
}

// openJournal returns a nil store when the journal is disabled.
func openJournal(ctx context.Context, cfg *config.Config) (*journal.Store, *sql.DB, error) {
	if !cfg.Journal.Enabled {
		return nil, nil, nil
	}
	db, err := storage.OpenSQLite(ctx, cfg.Journal.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open journal: %w", err)
	}
	return journal.NewStore(db), db, nil
}

func loadRuntime(ctx context.Context, configPath string) (*runtimeEnv, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	env := &runtimeEnv{cfg: cfg}
	env.journal, env.db, err = openJournal(ctx, cfg)
	if err != nil {
		return nil, err
	}

	opts := automa.Options{
		BaseURL:          cfg.Client.BaseURL,
		DefaultHeaders:   cfg.Client.DefaultHeaders,
		APIKey:           cfg.Client.APIKey,
		WorkspaceDir:     cfg.Workspace.BaseDir,
		GitBinary:        cfg.Git.Binary,
		GitMaxConcurrent: cfg.Git.MaxConcurrent,
		Timeout:          cfg.Client.Timeout,
		Logger:           log.Get(),
	}
	if env.journal != nil {
		opts.Journal = env.journal
	}

	env.client, err = automa.New(opts)
	if err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printUsage() {
	fmt.Print(`automa - Work on Automa tasks from the command line

Usage:
  automa <command> [flags]

Task Commands:
  download          Download a task's code into its workspace
  propose           Propose the workspace changes back to Automa
  cleanup           Remove a task workspace
  status            Show recent downloads, proposals or webhook deliveries

Webhook Commands:
  webhook verify    Check a payload signature
  webhook serve     Receive signed webhook deliveries

Config Commands:
  config show       Print the effective configuration (secrets redacted)
  config get <path> Print one configuration value
  doctor            Check configuration against this machine

General:
  version           Show version information
  help              Show this help message

Every command accepts --config <path> (or AUTOMA_CONFIG).
`)
}

func printDownloadHelp() {
	fmt.Println("Usage: automa download --task <id> [--task-token <token>] [--force] [--config <path>]")
	fmt.Println("Refuses to replace a workspace that still holds a proposal token unless --force is given.")
}

func printProposeHelp() {
	fmt.Println("Usage: automa propose --task <id> [--task-token <token>] [--message <text>] [--config <path>]")
}

func printCleanupHelp() {
	fmt.Println("Usage: automa cleanup --task <id> [--missing-ok] [--config <path>]")
}

func printStatusHelp() {
	fmt.Println("Usage: automa status [--task <id> | --deliveries] [--limit <n>] [--config <path>]")
}
