// Reviewhelper answers questions about an uploaded source tree.
//
// It exposes an HTTP API that streams review progress as Server-Sent
// Events, and a CLI for one-shot questions and for importing extracted
// trees into file storage. Configuration is loaded from a single YAML
// file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	reviewhelper serve                     Start the API server
//	reviewhelper init [dir]                Initialize a working directory
//	reviewhelper ask <question>            Ask a single question
//	reviewhelper import <dir> <subject>    Import an extracted tree
//	reviewhelper version                   Print version and build information
//	reviewhelper -o json version           Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rajeevc5260/Code-Review-Helper/internal/agent"
	"github.com/rajeevc5260/Code-Review-Helper/internal/api"
	"github.com/rajeevc5260/Code-Review-Helper/internal/buildinfo"
	"github.com/rajeevc5260/Code-Review-Helper/internal/config"
	"github.com/rajeevc5260/Code-Review-Helper/internal/events"
	"github.com/rajeevc5260/Code-Review-Helper/internal/memory"
	"github.com/rajeevc5260/Code-Review-Helper/internal/stream"
)

// importPrefix is the storage folder imported trees are copied under.
const importPrefix = "CodeZips"

// main constructs the OS-level environment and delegates to [run], so
// the full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand: the flag
// package's globals interfere with calling run concurrently from tests.
// Flags after the command name are passed to the subcommand.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		opts, err := parseAskArgs(cmdArgs)
		if err != nil {
			return err
		}
		opts.json = outputFmt == "json"
		return runAsk(ctx, stdout, stderr, configPath, opts)
	case "import":
		if len(cmdArgs) != 2 {
			return errors.New("usage: reviewhelper import <dir> <subject>")
		}
		return runImport(ctx, stdout, stderr, configPath, cmdArgs[0], cmdArgs[1])
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Code Review Helper - questions and answers over an uploaded source tree")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: reviewhelper [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                  Start the API server")
	fmt.Fprintln(w, "  init [dir]             Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ask [opts] <question>  Ask a single question")
	fmt.Fprintln(w, "  import <dir> <subject> Copy an extracted tree into file storage")
	fmt.Fprintln(w, "  version                Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Ask options:")
	fmt.Fprintln(w, "  -subject <id>          Upload to ask about")
	fmt.Fprintln(w, "  -user <id>             User the conversation belongs to (default: cli)")
	fmt.Fprintln(w, "  -conversation <id>     Continue an existing conversation")
	fmt.Fprintln(w, "  -analyze               Answer from content search instead of browsing files")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>         Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt       Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/reviewhelper/config.yaml, /etc/reviewhelper/config.yaml")
	return nil
}

// askOptions are the parsed arguments of the ask subcommand.
type askOptions struct {
	subject      string
	user         string
	conversation string
	analyze      bool
	json         bool
	question     string
}

func parseAskArgs(args []string) (askOptions, error) {
	opts := askOptions{user: "cli"}
	var words []string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-subject" && i+1 < len(args):
			opts.subject = args[i+1]
			i++
		case args[i] == "-user" && i+1 < len(args):
			opts.user = args[i+1]
			i++
		case args[i] == "-conversation" && i+1 < len(args):
			opts.conversation = args[i+1]
			i++
		case args[i] == "-analyze":
			opts.analyze = true
		case strings.HasPrefix(args[i], "-") && len(words) == 0:
			return opts, fmt.Errorf("unknown ask flag: %s", args[i])
		default:
			words = append(words, args[i])
		}
	}
	opts.question = strings.Join(words, " ")
	if strings.TrimSpace(opts.question) == "" {
		return opts, errors.New("usage: reviewhelper ask [-subject id] [-user id] [-conversation id] [-analyze] <question>")
	}
	if opts.subject == "" && opts.conversation == "" {
		return opts, errors.New("ask: -subject or -conversation is required")
	}
	return opts, nil
}

// runAsk runs one review (or analysis) against the configured stack and
// prints the answer. Logs go to stderr so that stdout carries only the
// answer, or the raw event stream with -o json.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string, opts askOptions) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	logger.Debug("config loaded", "path", cfgPath)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var runner api.Runner = a.reviewer
	if opts.analyze {
		if a.analyzer == nil {
			return errors.New("ask: -analyze requires search.url to be configured")
		}
		runner = a.analyzer
	}

	recordCtx, stopRecording := context.WithCancel(ctx)
	waitUsage := a.recordUsage(recordCtx)
	defer func() {
		stopRecording()
		waitUsage()
	}()

	var em stream.Emitter
	if opts.json {
		em = stream.NewWriter(stdout)
	} else {
		em = &progressPrinter{w: stderr}
	}

	res := runner.Run(ctx, &agent.Request{
		Message:        opts.question,
		UserID:         opts.user,
		SubjectID:      opts.subject,
		ConversationID: opts.conversation,
	}, em)

	if !opts.json && res.Answer != "" {
		fmt.Fprintln(stdout, res.Answer)
	}
	if res.Status != agent.StatusSuccess {
		return fmt.Errorf("ask failed (request %s)", res.RequestID)
	}
	if res.ConversationID != "" {
		logger.Info("conversation saved", "conversation", res.ConversationID)
	}
	return nil
}

// progressPrinter renders run events as short human-readable lines.
type progressPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *progressPrinter) Emit(name string, payload map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case name == stream.EventError:
		_, err := fmt.Fprintf(p.w, "! %v: %v\n", payload["kind"], payload["error"])
		return err
	case name == stream.EventProgress:
		_, err := fmt.Fprintf(p.w, "· %v\n", payload["stage"])
		return err
	case strings.HasSuffix(name, stream.Started):
		target := payload["location"]
		if target == nil {
			target = payload["tool"]
		}
		_, err := fmt.Fprintf(p.w, "→ %s %v\n", strings.TrimSuffix(name, stream.Started), target)
		return err
	case name == stream.EventFinished:
		_, err := fmt.Fprintf(p.w, "✓ %v in %vms\n", payload["status"], payload["elapsed_ms"])
		return err
	}
	return nil
}

// runImport copies a locally extracted tree into file storage and
// records its structure, so that subject can be reviewed without an
// upload service.
func runImport(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, dir, subject string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dir, err)
	}
	files, err := treeFiles(abs)
	if err != nil {
		return fmt.Errorf("scan %s: %w", dir, err)
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	location := path.Join(importPrefix, subject, filepath.Base(abs))
	root, err := a.gateway.Import(ctx, "file://"+filepath.ToSlash(abs), location)
	if err != nil {
		return fmt.Errorf("import %s: %w", dir, err)
	}

	doc, err := json.Marshal(map[string]any{"root": root, "files": files})
	if err != nil {
		return fmt.Errorf("encode structure: %w", err)
	}
	if err := a.store.SaveStructure(ctx, &memory.Structure{SubjectID: subject, JSON: doc, Root: root}); err != nil {
		return fmt.Errorf("save structure: %w", err)
	}
	a.bus.Emit(events.SourceImport, events.KindImportComplete, map[string]any{
		"subject_id": subject,
		"root":       root,
		"files":      len(files),
	})

	fmt.Fprintf(stdout, "Imported %d files from %s as %s (root %s)\n", len(files), dir, subject, root)
	return nil
}

// treeFiles lists the regular files under dir as sorted slash paths
// relative to dir.
func treeFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// runServe starts the HTTP API and blocks until SIGINT or SIGTERM.
// In-flight runs are detached from their requests, so shutdown waits
// only for the HTTP server to drain.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger, _ := config.NewLogger(stdout, "info", "text")
	logger.Info("starting reviewhelper", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	// Reconfigure now that the desired level and format are known.
	logger, err = config.NewLogger(stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.LLM.Default,
		"storage", cfg.Storage.BaseURL,
		"data_dir", cfg.DataDir,
	)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	waitUsage := a.recordUsage(ctx)
	health := a.watchBackends(ctx)
	defer func() {
		cancel()
		health.Stop()
		waitUsage()
	}()

	deps := api.Deps{
		Reviewer: a.reviewer,
		Store:    a.store,
		Files:    a.gateway,
		Bus:      a.bus,
		Health:   health,
		Usage:    a.usage,
		Logger:   logger,
	}
	// A nil *Analyzer must stay a nil interface so the route reports 503.
	if a.analyzer != nil {
		deps.Analyzer = a.analyzer
	}
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, deps)

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("reviewhelper stopped")
	return nil
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). Otherwise,
// [config.FindConfig] searches the default locations.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
