package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/automa-app/automa-go/internal/code"
	"github.com/automa-app/automa-go/internal/doctor"
	"github.com/automa-app/automa-go/internal/lock"
	"github.com/automa-app/automa-go/internal/log"
	"github.com/automa-app/automa-go/internal/webhook"
	"github.com/automa-app/automa-go/internal/workspace"
)

type taskFlags struct {
	configPath string
	taskID     int64
	taskToken  string
}

func (tf *taskFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&tf.configPath, "config", "", "Path to configuration file")
	fs.Int64Var(&tf.taskID, "task", 0, "Task id")
	fs.StringVar(&tf.taskToken, "task-token", "", "Task access token")
}

func (tf *taskFlags) task() code.Task {
	return code.Task{ID: tf.taskID, Token: tf.taskToken}
}

func parseTaskFlags(fs *flag.FlagSet, tf *taskFlags, args []string) bool {
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return false
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "Unexpected arguments: %v\n", fs.Args())
		return false
	}
	if tf.taskID <= 0 {
		fmt.Fprintln(os.Stderr, "--task must be a positive task id")
		return false
	}
	return true
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// withTaskLock serializes CLI invocations working on the same task.
func withTaskLock(lockDir string, taskID int64, fn func() int) int {
	l, err := lock.AcquireTaskLock(lockDir, taskID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	logger := log.WithTask(taskID)
	logger.Debug("task lock acquired", "path", l.Path())
	defer func() {
		if err := l.Release(); err != nil {
			logger.Warn("failed to release task lock", "error", err)
		}
	}()
	return fn()
}

func runDownload(args []string) int {
	var tf taskFlags
	var force bool

	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	tf.register(fs)
	fs.BoolVar(&force, "force", false, "Replace a workspace that still holds a proposal token")
	if !parseTaskFlags(fs, &tf, args) {
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()

	env, err := loadRuntime(ctx, tf.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer env.Close()

	return withTaskLock(env.cfg.Workspace.LockDir, tf.taskID, func() int {
		if !force {
			if _, err := env.client.Workspaces.ReadToken(ctx, tf.taskID); err == nil {
				fmt.Fprintf(os.Stderr, "Workspace %s already holds an unproposed download; use --force to replace it\n",
					env.client.Workspaces.Path(tf.taskID))
				return 1
			}
		}

		dir, err := env.client.Code.Download(ctx, code.DownloadParams{Task: tf.task()})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Download failed: %v\n", err)
			return 1
		}
		fmt.Println(dir)
		return 0
	})
}

func runPropose(args []string) int {
	var tf taskFlags
	var message string

	fs := flag.NewFlagSet("propose", flag.ContinueOnError)
	tf.register(fs)
	fs.StringVar(&message, "message", "", "Commit message for the proposal")
	if !parseTaskFlags(fs, &tf, args) {
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()

	env, err := loadRuntime(ctx, tf.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer env.Close()

	return withTaskLock(env.cfg.Workspace.LockDir, tf.taskID, func() int {
		params := code.ProposeParams{Task: tf.task()}
		if message != "" {
			params.Proposal = &code.Proposal{Message: message}
		}

		resp, err := env.client.Code.Propose(ctx, params)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Propose failed: %v\n", err)
			return 1
		}
		var created struct {
			ID any `json:"id"`
		}
		if err := resp.Decode(&created); err == nil && created.ID != nil {
			fmt.Printf("Proposal %v submitted (HTTP %d)\n", created.ID, resp.StatusCode)
			return 0
		}
		fmt.Printf("Proposal submitted (HTTP %d)\n", resp.StatusCode)
		if len(resp.Body) > 0 {
			fmt.Println(string(resp.Body))
		}
		return 0
	})
}

func runCleanup(args []string) int {
	var tf taskFlags
	var missingOK bool

	fs := flag.NewFlagSet("cleanup", flag.ContinueOnError)
	tf.register(fs)
	fs.BoolVar(&missingOK, "missing-ok", false, "Succeed when the workspace does not exist")
	if !parseTaskFlags(fs, &tf, args) {
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig(tf.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	mgr, err := workspace.NewFSManager(cfg.Workspace.BaseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	return withTaskLock(cfg.Workspace.LockDir, tf.taskID, func() int {
		var opts []workspace.CleanupOption
		if missingOK {
			opts = append(opts, workspace.MissingOK())
		}
		if err := mgr.Cleanup(ctx, tf.taskID, opts...); err != nil {
			fmt.Fprintf(os.Stderr, "Cleanup failed: %v\n", err)
			return 1
		}
		fmt.Printf("Removed %s\n", mgr.Path(tf.taskID))
		return 0
	})
}

func runStatus(args []string) int {
	var configPath string
	var taskID int64
	var limit int
	var deliveries bool

	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file")
	fs.Int64Var(&taskID, "task", 0, "Show proposals for one task")
	fs.IntVar(&limit, "limit", 10, "Number of rows to show")
	fs.BoolVar(&deliveries, "deliveries", false, "Show received webhook deliveries instead of downloads")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	store, db, err := openJournal(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if store == nil {
		fmt.Fprintln(os.Stderr, "Journal is disabled (journal.enabled: false)")
		return 1
	}
	defer db.Close()

	mgr, err := workspace.NewFSManager(cfg.Workspace.BaseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if deliveries {
		records, err := store.Deliveries(ctx, limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Print(renderDeliveries(records))
		return 0
	}

	if taskID > 0 {
		proposals, err := store.Proposals(ctx, taskID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Print(renderTaskStatus(ctx, mgr, taskID, proposals))
		return 0
	}

	downloads, err := store.RecentDownloads(ctx, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Print(renderDownloads(ctx, mgr, downloads))
	return 0
}

// --- WEBHOOK ---

func runWebhookNoun(args []string) int {
	if len(args) < 1 {
		printWebhookNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printWebhookNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "verify":
		return runWebhookVerify(actionArgs)
	case "serve":
		return runWebhookServe(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown webhook action: %s\n", action)
		return 1
	}
}

func printWebhookNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: automa webhook <action>")
	fmt.Fprintln(w, "Actions: verify, serve")
	fmt.Fprintln(w, "  verify --secret <s> --signature <hex> [--file <payload.json>|-]")
	fmt.Fprintln(w, "  serve [--config <path>]")
}

func runWebhookVerify(args []string) int {
	var secret, signature, file string

	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.StringVar(&secret, "secret", os.Getenv("AUTOMA_WEBHOOK_SECRET"), "Shared secret (default $AUTOMA_WEBHOOK_SECRET)")
	fs.StringVar(&signature, "signature", "", "Hex HMAC-SHA256 signature to check")
	fs.StringVar(&file, "file", "-", "Payload file, - for stdin")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	var (
		data []byte
		err  error
	)
	if file == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading payload: %v\n", err)
		return 1
	}
	if !json.Valid(data) {
		fmt.Fprintln(os.Stderr, "Payload is not valid JSON")
		return 1
	}

	if !webhook.Verify(secret, signature, json.RawMessage(data)) {
		fmt.Println("invalid")
		return 1
	}
	fmt.Println("valid")
	return 0
}

func runWebhookServe(args []string) int {
	var configPath string

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if cfg.Webhooks == nil {
		fmt.Fprintln(os.Stderr, "No webhooks configured (webhooks.listen / webhooks.endpoints)")
		return 1
	}
	whCfg, err := webhook.FromGlobalConfig(cfg.Webhooks)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logger := log.WithComponent("webhook")

	var handler webhook.Handler = webhook.HandlerFunc(func(_ context.Context, d webhook.Delivery) error {
		logger.Info("webhook delivery", "delivery_id", d.ID, "endpoint", d.Endpoint, "bytes", len(d.Payload))
		return nil
	})
	store, db, err := openJournal(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if store != nil {
		defer db.Close()
		handler = store
	}

	srv := webhook.New(whCfg, handler, logger)
	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Webhook server failed: %v\n", err)
		return 1
	}
	return 0
}

// --- CONFIG ---

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "show":
		return runConfigShow(actionArgs)
	case "get":
		return runConfigGet(actionArgs)
	case "check":
		return runDoctor(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func printConfigNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: automa config <action>")
	fmt.Fprintln(w, "Actions: show, get <path>, check")
}

func runConfigShow(args []string) int {
	var configPath string
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	out, err := cfg.Redacted()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Print(string(out))
	return 0
}

func runConfigGet(args []string) int {
	var configPath string
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: automa config get [--config <path>] <path>")
		return 1
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	val, err := cfg.GetPath(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	switch v := val.(type) {
	case map[string]any, []any:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
	default:
		fmt.Println(v)
	}
	return 0
}

func runDoctor(args []string) int {
	var configPath string
	var jsonOut bool
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file")
	fs.BoolVar(&jsonOut, "json", false, "Output the report as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()
	if jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}
	if !result.Valid {
		return 1
	}
	return 0
}
