// Command BotPipe runs messaging bots that walk users through authored
// scenarios or chat with a language model.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/BotPipe/internal/api"
	"github.com/BTreeMap/BotPipe/internal/bots"
	"github.com/BTreeMap/BotPipe/internal/catalog"
	"github.com/BTreeMap/BotPipe/internal/flow"
	"github.com/BTreeMap/BotPipe/internal/genai"
	"github.com/BTreeMap/BotPipe/internal/lockfile"
	"github.com/BTreeMap/BotPipe/internal/messaging"
	"github.com/BTreeMap/BotPipe/internal/metrics"
	"github.com/BTreeMap/BotPipe/internal/models"
	"github.com/BTreeMap/BotPipe/internal/store"
	"github.com/BTreeMap/BotPipe/internal/tokens"
	"github.com/BTreeMap/BotPipe/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for BotPipe state data
	DefaultStateDir = "/var/lib/botpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "botpipe.db"
	// MemoryDSN selects the in-memory store
	MemoryDSN = "memory"
	// DefaultBotID names the bot used when no catalog is configured
	DefaultBotID = "assistant"
	// consoleUserID identifies the local console user
	consoleUserID = "console"
)

func main() {
	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	initializeLogger(flags.logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags, os.Stdin, os.Stdout); err != nil {
		slog.Error("BotPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("BotPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir        string
	DatabaseURL     string
	CatalogPath     string
	LLMProvider     string
	OpenAIKey       string
	OpenAIBaseURL   string
	AnthropicKey    string
	LLMTimeout      time.Duration
	GenAIDebug      bool
	OpsAddr         string
	ConsoleBot      string
	LogLevel        string
	dsnFromStateDir bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir     string
	dbDSN        string
	catalogPath  string
	importOnly   bool
	overwrite    bool
	llmProvider  string
	openaiKey    string
	openaiURL    string
	anthropicKey string
	llmTimeout   time.Duration
	genaiDebug   bool
	opsAddr      string
	consoleBot   string
	logLevel     string
}

// initializeLogger installs a text logger at the requested level.
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

func parseLogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:      util.GetEnv("BOTPIPE_STATE_DIR", DefaultStateDir),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		CatalogPath:   os.Getenv("BOTPIPE_CATALOG"),
		LLMProvider:   util.GetEnv("LLM_PROVIDER", genai.ProviderOpenAI),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
		AnthropicKey:  os.Getenv("ANTHROPIC_API_KEY"),
		LLMTimeout:    util.ParseDurationEnv("LLM_TIMEOUT", genai.DefaultTimeout),
		GenAIDebug:    util.ParseBoolEnv("GENAI_DEBUG", false),
		OpsAddr:       util.GetEnv("OPS_ADDR", api.DefaultAddr),
		ConsoleBot:    os.Getenv("BOTPIPE_CONSOLE_BOT"),
		LogLevel:      util.GetEnv("LOG_LEVEL", "info"),
	}
	if v, ok := os.LookupEnv("OPS_ADDR"); ok && v == "" {
		config.OpsAddr = ""
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		config.dsnFromStateDir = true
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"BOTPIPE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", !config.dsnFromStateDir,
		"BOTPIPE_CATALOG", config.CatalogPath,
		"LLM_PROVIDER", config.LLMProvider,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"ANTHROPIC_API_KEY_SET", config.AnthropicKey != "",
		"OPS_ADDR", config.OpsAddr)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) Flags {
	var flags Flags
	fs.StringVar(&flags.stateDir, "state-dir", config.StateDir, "state directory for BotPipe data (overrides $BOTPIPE_STATE_DIR)")
	fs.StringVar(&flags.dbDSN, "db-dsn", config.DatabaseURL, "PostgreSQL DSN, SQLite path or \"memory\" (overrides $DATABASE_URL)")
	fs.StringVar(&flags.catalogPath, "catalog", config.CatalogPath, "YAML or JSON file with bots and scenarios (overrides $BOTPIPE_CATALOG)")
	fs.BoolVar(&flags.importOnly, "import-only", false, "import catalog scenarios into the store and exit")
	fs.BoolVar(&flags.overwrite, "overwrite", false, "replace scenarios that already exist when importing")
	fs.StringVar(&flags.llmProvider, "llm-provider", config.LLMProvider, "LLM provider: openai or anthropic (overrides $LLM_PROVIDER)")
	fs.StringVar(&flags.openaiKey, "openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&flags.openaiURL, "openai-base-url", config.OpenAIBaseURL, "OpenAI-compatible endpoint (overrides $OPENAI_BASE_URL)")
	fs.StringVar(&flags.anthropicKey, "anthropic-api-key", config.AnthropicKey, "Anthropic API key (overrides $ANTHROPIC_API_KEY)")
	fs.DurationVar(&flags.llmTimeout, "llm-timeout", config.LLMTimeout, "timeout of one LLM call (overrides $LLM_TIMEOUT)")
	fs.BoolVar(&flags.genaiDebug, "genai-debug", config.GenAIDebug, "write LLM requests and responses to <state-dir>/debug (overrides $GENAI_DEBUG)")
	fs.StringVar(&flags.opsAddr, "ops-addr", config.OpsAddr, "health and metrics listen address, empty disables (overrides $OPS_ADDR)")
	fs.StringVar(&flags.consoleBot, "console-bot", config.ConsoleBot, "bot served on stdin/stdout, defaults to the first bot (overrides $BOTPIPE_CONSOLE_BOT)")
	fs.StringVar(&flags.logLevel, "log-level", config.LogLevel, "debug, info, warn or error (overrides $LOG_LEVEL)")

	if err := fs.Parse(args); err != nil {
		slog.Error("failed to parse flags", "error", err)
	}

	// Follow a changed state directory when the DSN was derived from it
	if config.dsnFromStateDir && flags.dbDSN == config.DatabaseURL && flags.stateDir != config.StateDir {
		flags.dbDSN = filepath.Join(flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "state_dir", flags.stateDir)
	}
	return flags
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	switch {
	case flags.dbDSN == "" || flags.dbDSN == MemoryDSN:
		return nil
	case store.DetectDSNType(flags.dbDSN) == store.DriverPostgres:
		return []store.Option{store.WithPostgresDSN(flags.dbDSN)}
	default:
		return []store.Option{store.WithSQLiteDSN(flags.dbDSN)}
	}
}

// buildGenAIOptions constructs GenAI configuration options for the selected provider
func buildGenAIOptions(flags Flags) []genai.Option {
	opts := []genai.Option{genai.WithTimeout(flags.llmTimeout)}
	switch flags.llmProvider {
	case genai.ProviderAnthropic:
		opts = append(opts, genai.WithAPIKey(flags.anthropicKey))
	default:
		opts = append(opts, genai.WithAPIKey(flags.openaiKey))
		if flags.openaiURL != "" {
			opts = append(opts, genai.WithBaseURL(flags.openaiURL))
		}
	}
	if flags.genaiDebug {
		opts = append(opts, genai.WithDebugMode(true, flags.stateDir))
	}
	return opts
}

// loadBots returns the catalog, or a catalog with one default bot when no
// file is configured.
func loadBots(path string) (*catalog.Catalog, error) {
	if path == "" {
		slog.Info("No catalog configured, using default bot", "botID", DefaultBotID)
		return &catalog.Catalog{Bots: []models.Bot{{ID: DefaultBotID, Name: "Assistant"}}}, nil
	}
	return catalog.Load(path)
}

// run wires every component and blocks until ctx is cancelled or the bots stop.
func run(ctx context.Context, flags Flags, stdin io.Reader, stdout io.Writer) error {
	lock, err := lockfile.AcquireLock(flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	cat, err := loadBots(flags.catalogPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	st, err := store.New(buildStoreOptions(flags)...)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	res, err := catalog.Import(ctx, st, cat.Scenarios, flags.overwrite)
	if err != nil {
		return fmt.Errorf("import scenarios: %w", err)
	}
	slog.Info("Scenarios imported", "imported", res.Imported, "skipped", res.Skipped)
	if flags.importOnly {
		return nil
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheusRecorder(reg)

	var llm genai.Client
	client, err := genai.NewClient(flags.llmProvider, buildGenAIOptions(flags)...)
	if err != nil {
		// Chat and gpt_request steps answer with an apology until a key is configured.
		slog.Warn("LLM client not configured", "provider", flags.llmProvider, "error", err)
	} else {
		llm = genai.WithMetrics(client, flags.llmProvider, recorder)
	}

	locks := flow.NewPairLocker()
	engine := flow.NewEngine(st, st, llm, flow.WithLocker(locks), flow.WithRecorder(recorder))
	chat := flow.NewConversationManager(st, llm, tokens.NewCounter(), locks, recorder)

	registry, err := buildRegistry(cat, flags.consoleBot, engine, chat, stdin, stdout)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error {
		// The process ends when the last transport closes.
		defer cancel()
		return registry.Run(runCtx)
	})
	if flags.opsAddr != "" {
		server := api.NewServer(st, registry, engine, reg)
		g.Go(func() error { return server.ListenAndServe(runCtx, flags.opsAddr) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildRegistry attaches the console transport to one bot. Bots without a
// transport are listed but not run.
func buildRegistry(cat *catalog.Catalog, consoleBot string, engine *flow.Engine, chat *flow.ConversationManager, stdin io.Reader, stdout io.Writer) (*bots.Registry, error) {
	if len(cat.Bots) == 0 {
		return nil, errors.New("catalog defines no bots")
	}
	if consoleBot == "" {
		consoleBot = cat.Bots[0].ID
	}
	bot, ok := cat.Bot(consoleBot)
	if !ok {
		return nil, fmt.Errorf("console bot %q is not in the catalog", consoleBot)
	}

	registry := bots.NewRegistry()
	svc := messaging.NewConsoleService(bot.ID, models.User{ID: consoleUserID, DisplayName: os.Getenv("USER")}, stdin, stdout)
	if err := registry.Add(bot, svc, messaging.NewDispatcher(bot, svc, engine, chat)); err != nil {
		return nil, err
	}
	for _, b := range cat.Bots {
		if b.ID != bot.ID {
			slog.Info("Bot has no transport configured", "botID", b.ID)
		}
	}
	return registry, nil
}
