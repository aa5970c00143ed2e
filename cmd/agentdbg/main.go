// Command agentdbg is an interactive GDB shell that turns plain-language
// requests into verified debugger commands.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stupiduntilnot/agentdbg/internal/audit"
	cmdpkg "github.com/stupiduntilnot/agentdbg/internal/commander"
	"github.com/stupiduntilnot/agentdbg/internal/config"
	ctxpkg "github.com/stupiduntilnot/agentdbg/internal/context"
	"github.com/stupiduntilnot/agentdbg/internal/control"
	"github.com/stupiduntilnot/agentdbg/internal/db"
	"github.com/stupiduntilnot/agentdbg/internal/debugger"
	"github.com/stupiduntilnot/agentdbg/internal/dummy"
	"github.com/stupiduntilnot/agentdbg/internal/extract"
	"github.com/stupiduntilnot/agentdbg/internal/gemini"
	modelpkg "github.com/stupiduntilnot/agentdbg/internal/model"
	"github.com/stupiduntilnot/agentdbg/internal/openai"
	"github.com/stupiduntilnot/agentdbg/internal/orchestrator"
	"github.com/stupiduntilnot/agentdbg/internal/session"
)

type rootOptions struct {
	configPath    string
	verbose       bool
	resume        string
	provider      string
	modelID       string
	baseURL       string
	extractMode   string
	minProbes     int
	maxIterations int
	contextWindow int
	noStream      bool
	plain         bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "agentdbg:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "agentdbg [program]",
		Short: "GDB shell with a natural-language command agent",
		Long: `agentdbg starts gdb on an optional program and reads commands.

  agent <request>   translate the request and run the resulting commands
  ask <request>     translate the request and confirm before running
  quit              leave the session

Anything else is passed to gdb unchanged.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			program := ""
			if len(args) == 1 {
				program = args[0]
			}
			return runSession(cmd.Context(), cfg, opts, program, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "settings file (default ~/.agentdbg.yaml)")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	f.StringVar(&opts.resume, "resume", "", `continue the context of a session id, or "last"`)
	f.StringVar(&opts.provider, "provider", "", "model provider: openai, gemini or dummy")
	f.StringVar(&opts.modelID, "model-id", "", "model identifier")
	f.StringVar(&opts.baseURL, "base-url", "", "OpenAI-compatible endpoint")
	f.StringVar(&opts.extractMode, "extract-mode", "", "command extraction: fenced, lines or json")
	f.IntVar(&opts.minProbes, "min-probes", 0, "help probes required before a final command batch")
	f.IntVar(&opts.maxIterations, "max-iterations", 0, "model queries allowed per request")
	f.IntVar(&opts.contextWindow, "context-window", 0, "executed requests carried into prompts")
	f.BoolVar(&opts.noStream, "no-stream", false, "do not stream model output")
	f.BoolVar(&opts.plain, "plain", false, "disable styling and markdown rendering")

	cmd.AddCommand(newConfigureCmd())
	return cmd
}

// loadConfig layers changed flags over the file and environment settings.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	f := cmd.Flags()
	if f.Changed("provider") {
		cfg.Provider = opts.provider
	}
	if f.Changed("model-id") {
		cfg.ModelID = opts.modelID
	}
	if f.Changed("base-url") {
		cfg.BaseURL = opts.baseURL
	}
	if f.Changed("extract-mode") {
		cfg.ExtractMode = opts.extractMode
	}
	if f.Changed("min-probes") {
		cfg.MinProbes = opts.minProbes
	}
	if f.Changed("max-iterations") {
		cfg.MaxIterations = opts.maxIterations
	}
	if f.Changed("context-window") {
		cfg.ContextWindow = opts.contextWindow
	}
	if opts.noStream {
		cfg.Stream = false
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

func runSession(ctx context.Context, cfg config.Config, opts *rootOptions, program string, in io.Reader, out io.Writer) error {
	logger, err := newLogger(opts.verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var (
		database *sql.DB
		sink     audit.Sink = audit.Nop{}
	)
	if cfg.Audit {
		database, err = db.OpenDB(cfg.DBPath)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := db.InitSchema(database); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
		sink = &db.EventLog{DB: database}
	}

	sessionID := uuid.NewString()
	var history []ctxpkg.Entry
	if opts.resume != "" {
		if database == nil {
			return &config.Error{Field: "audit", Msg: "--resume needs the audit database"}
		}
		sessionID, history, err = resumeHistory(database, opts.resume, cfg.ContextWindow)
		if err != nil {
			return err
		}
		logger.Debug("resuming session", zap.String("session_id", sessionID), zap.Int("entries", len(history)))
	}

	sessionEventID, err := session.Start(sink, sessionID, map[string]any{
		"program":  program,
		"provider": cfg.Provider,
		"model":    cfg.ModelID,
		"resumed":  opts.resume != "",
	})
	if err != nil {
		logger.Warn("failed to log session.started", zap.Error(err))
	}

	provider, err := newModelProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init model provider: %w", err)
	}

	bridge, err := newBridge(ctx, cfg, program, logger)
	if err != nil {
		if _, logErr := sink.Append(audit.Event{
			ParentID: audit.Ptr(sessionEventID),
			Type:     audit.EventSessionError,
			Payload:  map[string]any{"error": err.Error()},
		}); logErr != nil {
			logger.Warn("failed to log session.error", zap.Error(logErr))
		}
		return fmt.Errorf("start debugger: %w", err)
	}
	defer bridge.Close()

	console, err := newCommander(cfg, opts.plain, in, out)
	if err != nil {
		return fmt.Errorf("init commander: %w", err)
	}

	mode, err := extract.ParseMode(cfg.ExtractMode)
	if err != nil {
		return err
	}
	modelID := cfg.ModelID
	if modelID == "" && cfg.Provider == "dummy" {
		modelID = "dummy"
	}
	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(logger.Named("orchestrator")),
		orchestrator.WithAudit(sink, sessionEventID),
		orchestrator.WithHistory(history),
	}
	if cfg.Stream {
		orchOpts = append(orchOpts, orchestrator.WithStream(console.Stream()))
	}
	if database != nil {
		orchOpts = append(orchOpts, orchestrator.WithPersist(func(e ctxpkg.Entry) error {
			return db.AppendHistory(database, sessionID, e)
		}))
	}
	orch, err := orchestrator.New(orchestrator.Config{
		Model:        modelID,
		SystemPrompt: cfg.SystemPrompt,
		Policy:       cfg.Policy(),
		WindowSize:   cfg.ContextWindow,
		Extractor:    extract.New(mode),
		CondenseHelp: cfg.CondenseHelp,
	}, provider, bridge, orchOpts...)
	if err != nil {
		return err
	}

	console.Notify(cmdpkg.KindInfo, fmt.Sprintf("agentdbg session %s (%s via %s). Type `agent <request>`, `ask <request>` or a gdb command.",
		sessionID, modelID, cfg.Provider))

	s := &session.Session{
		ID:        sessionID,
		Planner:   orch,
		Bridge:    bridge,
		Commander: console,
		Sink:      sink,
		EventID:   sessionEventID,
		Logger:    logger.Named("session"),
	}
	err = s.Serve(ctx)
	if errors.Is(err, debugger.ErrExited) || errors.Is(err, debugger.ErrClosed) {
		console.Notify(cmdpkg.KindInfo, "Debugger session ended.")
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// resumeHistory resolves "last" to the most recent session id and loads
// its newest executed cycles.
func resumeHistory(database *sql.DB, resume string, window int) (string, []ctxpkg.Entry, error) {
	sessionID := resume
	if resume == "last" {
		latest, err := db.LatestSessionID(database)
		if err != nil {
			return "", nil, fmt.Errorf("find last session: %w", err)
		}
		if latest == "" {
			return "", nil, fmt.Errorf("no previous session to resume")
		}
		sessionID = latest
	}
	if window <= 0 {
		return sessionID, nil, nil
	}
	provider := &ctxpkg.SQLiteProvider{DB: database}
	entries, err := provider.GetHistory(sessionID, window)
	if err != nil {
		return "", nil, fmt.Errorf("load history of session %s: %w", sessionID, err)
	}
	return sessionID, entries, nil
}

func newModelProvider(ctx context.Context, cfg config.Config) (modelpkg.Provider, error) {
	var p modelpkg.Provider
	switch cfg.Provider {
	case "openai":
		p = openai.NewClient(cfg.APIKey, cfg.BaseURL, time.Duration(cfg.TimeoutSeconds)*time.Second)
	case "gemini":
		c, err := gemini.NewClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		p = c
	case "dummy":
		d, err := dummy.NewProvider(cfg.DummyProviderScript)
		if err != nil {
			return nil, err
		}
		p = d
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
	breaker := control.NewCircuitBreaker(cfg.CircuitThreshold, time.Duration(cfg.CircuitCooldownSeconds)*time.Second)
	return modelpkg.NewGuarded(p, breaker), nil
}

func newBridge(ctx context.Context, cfg config.Config, program string, logger *zap.Logger) (debugger.Bridge, error) {
	switch cfg.Debugger {
	case "gdb":
		return debugger.StartGDB(ctx, debugger.GDBConfig{
			Path:    cfg.GDBPath,
			Program: program,
			Limits:  debugger.Limits{MaxLines: cfg.MaxOutputLines, MaxBytes: cfg.MaxOutputBytes},
		}, logger.Named("gdb"))
	case "dummy":
		return dummy.NewDebugger(), nil
	default:
		return nil, fmt.Errorf("unsupported debugger: %s", cfg.Debugger)
	}
}

func newCommander(cfg config.Config, plain bool, in io.Reader, out io.Writer) (cmdpkg.Commander, error) {
	switch cfg.Commander {
	case "console":
		return cmdpkg.NewConsole(in, out, plain), nil
	case "dummy":
		return dummy.NewCommander(cfg.DummyInputScript, cfg.DummyConfirmScript)
	default:
		return nil, fmt.Errorf("unsupported commander: %s", cfg.Commander)
	}
}
