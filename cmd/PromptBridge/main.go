package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/BTreeMap/PromptBridge/internal/api"
	"github.com/BTreeMap/PromptBridge/internal/bridge"
	"github.com/BTreeMap/PromptBridge/internal/config"
	"github.com/BTreeMap/PromptBridge/internal/conversation"
	"github.com/BTreeMap/PromptBridge/internal/genai"
	"github.com/BTreeMap/PromptBridge/internal/lockfile"
	"github.com/BTreeMap/PromptBridge/internal/messaging"
	"github.com/BTreeMap/PromptBridge/internal/prompt"
	"github.com/BTreeMap/PromptBridge/internal/ratelimit"
	"github.com/BTreeMap/PromptBridge/internal/scheduler"
	"github.com/BTreeMap/PromptBridge/internal/secrets"
	"github.com/BTreeMap/PromptBridge/internal/store"
	"github.com/BTreeMap/PromptBridge/internal/twiliowhatsapp"
	"github.com/BTreeMap/PromptBridge/internal/whatsapp"
)

// Rotating log file limits.
const (
	DefaultLogMaxSizeMB  = 50
	DefaultLogMaxBackups = 5
	DefaultLogMaxAgeDays = 28
)

func main() {
	// Bootstrap logger until the configured one is installed
	initializeLogger(config.LogConfig{Level: config.DefaultLogLevel, Format: config.DefaultLogFormat}, os.Stdout)

	config.LoadDotEnv()

	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		slog.Error("Failed to parse command line flags", "error", err)
		os.Exit(2)
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logCloser := initializeLogger(cfg.Log, os.Stdout)
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("PromptBridge failed to run", "error", err)
		logCloser.Close()
		os.Exit(1)
	}
	slog.Info("PromptBridge exited successfully")
}

// Flags holds command line flag values. Only flags given explicitly override
// the file and environment configuration.
type Flags struct {
	configPath       *string
	apiAddr          *string
	stateDir         *string
	storeURL         *string
	llmProvider      *string
	deliveryProvider *string
	openaiKey        *string
	systemPrompt     *string
	logLevel         *string
	logFile          *string
	qrOutput         *string
	numeric          *bool
	allowNative      *bool

	set map[string]bool
}

// parseCommandLineFlags parses args into Flags, recording which flags were set.
func parseCommandLineFlags(fs *flag.FlagSet, args []string) (Flags, error) {
	flags := Flags{
		configPath:       fs.String("config", os.Getenv(config.EnvConfigPath), "path to TOML config file (overrides $"+config.EnvConfigPath+")"),
		apiAddr:          fs.String("api-addr", "", "API server address (overrides $API_ADDR)"),
		stateDir:         fs.String("state-dir", "", "state directory for PromptBridge data (overrides $PROMPTBRIDGE_STATE_DIR)"),
		storeURL:         fs.String("store-url", "", "key/value store URL: memory://, redis://, postgres://, dynamodb://<table> or an SQLite path (overrides $STORE_URL)"),
		llmProvider:      fs.String("llm-provider", "", "LLM provider: openai or gemini (overrides $LLM_PROVIDER)"),
		deliveryProvider: fs.String("delivery-provider", "", "delivery channel: cloudapi, twilio or whatsmeow (overrides $DELIVERY_PROVIDER)"),
		openaiKey:        fs.String("openai-api-key", "", "OpenAI API key (overrides $OPENAI_API_KEY)"),
		systemPrompt:     fs.String("system-prompt", "", "path to the system prompt file (overrides $SYSTEM_PROMPT_PATH)"),
		logLevel:         fs.String("log-level", "", "log level: debug, info, warn or error (overrides $LOG_LEVEL)"),
		logFile:          fs.String("log-file", "", "also write logs to this rotating file (overrides $LOG_FILE)"),
		qrOutput:         fs.String("qr-output", "", "path to write the whatsmeow login QR code"),
		numeric:          fs.Bool("numeric-code", false, "print the raw whatsmeow pairing code instead of a QR code"),
		allowNative:      fs.Bool("allow-native-webhook", false, "accept native Cloud API webhook envelopes (overrides $ALLOW_NATIVE_WEBHOOK)"),
		set:              map[string]bool{},
	}
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	fs.Visit(func(f *flag.Flag) { flags.set[f.Name] = true })
	slog.Debug("flags parsed", "set", len(flags.set), "config", *flags.configPath)
	return flags, nil
}

// apply copies explicitly set flags onto cfg.
func (f Flags) apply(cfg *config.Config) {
	setIf := func(name string, dst *string, v *string) {
		if f.set[name] {
			*dst = *v
		}
	}
	setIf("api-addr", &cfg.Server.Addr, f.apiAddr)
	setIf("state-dir", &cfg.Server.StateDir, f.stateDir)
	setIf("store-url", &cfg.Store.URL, f.storeURL)
	setIf("llm-provider", &cfg.LLM.Provider, f.llmProvider)
	setIf("delivery-provider", &cfg.Delivery.Provider, f.deliveryProvider)
	setIf("openai-api-key", &cfg.LLM.OpenAI.APIKey, f.openaiKey)
	setIf("system-prompt", &cfg.Conversation.SystemPromptPath, f.systemPrompt)
	setIf("log-level", &cfg.Log.Level, f.logLevel)
	setIf("log-file", &cfg.Log.File, f.logFile)
	setIf("qr-output", &cfg.Delivery.Whatsmeow.QRPath, f.qrOutput)
	if f.set["numeric-code"] {
		cfg.Delivery.Whatsmeow.NumericCode = *f.numeric
	}
	if f.set["allow-native-webhook"] {
		cfg.Server.AllowNativeWebhook = *f.allowNative
	}
}

// loadConfig layers defaults, the TOML file, the environment and flags, then validates.
func loadConfig(flags Flags) (config.Config, error) {
	cfg, err := config.Load(*flags.configPath)
	if err != nil {
		return cfg, err
	}
	cfg.ApplyEnv()
	flags.apply(&cfg)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	slog.Debug("Final configuration",
		"state_dir", cfg.Server.StateDir,
		"store_type", store.DetectDSNType(cfg.Store.URL),
		"api_addr", cfg.Server.Addr,
		"llm_provider", cfg.LLM.Provider,
		"delivery_provider", cfg.Delivery.Provider)
	return cfg, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// initializeLogger installs the default slog logger. When a log file is
// configured, output is teed into a lumberjack rotating file.
func initializeLogger(cfg config.LogConfig, stdout io.Writer) io.Closer {
	var (
		out    = stdout
		closer io.Closer = nopCloser{}
	)
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAge:     DefaultLogMaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(stdout, rotator)
		closer = rotator
	}

	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	slog.SetDefault(slog.New(handler))
	return closer
}

// run wires every component and serves until ctx is cancelled.
func run(ctx context.Context, cfg config.Config) error {
	if err := resolveSecrets(ctx, &cfg); err != nil {
		return err
	}

	if err := ensureDirectoriesExist(cfg); err != nil {
		return fmt.Errorf("failed to create required directories: %w", err)
	}

	if lockfile.NeedsLock(stateDSNs(cfg)...) {
		lock, err := lockfile.Acquire(cfg.Server.StateDir)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	kv, err := store.Open(ctx, cfg.Store.URL)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer kv.Close()
	if err := pingStore(ctx, kv, cfg); err != nil {
		// The health endpoint reports this; the limiter fails open meanwhile.
		slog.Warn("Store not reachable at startup", "type", store.DetectDSNType(cfg.Store.URL), "error", err)
	}
	sched, err := startSweeper(kv, cfg)
	if err != nil {
		return err
	}
	if sched != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			sched.Stop(ctx)
		}()
	}

	llm, err := genai.New(ctx, cfg.LLM.Provider, buildGenAIOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}

	delivery, err := buildDeliveryService(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create delivery channel: %w", err)
	}
	if err := delivery.Start(ctx); err != nil {
		return fmt.Errorf("failed to start delivery channel: %w", err)
	}
	defer delivery.Stop()
	if !delivery.CredentialsConfigured() {
		slog.Warn("Delivery credentials not configured; replies will be reported as queued", "provider", cfg.Delivery.Provider)
	}

	systemPrompt, err := prompt.Load(cfg.Conversation.SystemPromptPath)
	if err != nil {
		return err
	}

	auth := bridge.NewAuthGuard(cfg.Server.BotSecret)
	if !auth.Configured() {
		slog.Warn("BOT_SECRET is not set; webhook requests will be refused with 503")
	}
	limiter := ratelimit.New(kv, buildRateLimitOptions(cfg)...)
	history := conversation.New(kv, cfg.Conversation.TTL)

	pipeline, err := bridge.NewPipeline(auth, limiter, history, llm, delivery, buildPipelineOptions(cfg, systemPrompt)...)
	if err != nil {
		return err
	}
	server, err := api.NewServer(pipeline, auth, history, limiter, delivery, buildAPIOptions(cfg)...)
	if err != nil {
		return err
	}

	slog.Info("Bootstrapping PromptBridge with configured modules",
		"llm_provider", cfg.LLM.Provider,
		"delivery_provider", cfg.Delivery.Provider,
		"store_type", store.DetectDSNType(cfg.Store.URL))
	return server.Run(ctx)
}

// resolveSecrets swaps ssm: references for their Parameter Store values.
func resolveSecrets(ctx context.Context, cfg *config.Config) error {
	refs := cfg.SecretRefs()
	values := make([]string, 0, len(refs))
	for _, r := range refs {
		values = append(values, *r)
	}
	if !secrets.AnyReference(values...) {
		return nil
	}
	resolver, err := secrets.NewAWSResolver(ctx, cfg.AWS.Region)
	if err != nil {
		return fmt.Errorf("failed to create secrets resolver: %w", err)
	}
	if err := resolver.ResolveAll(ctx, refs...); err != nil {
		return fmt.Errorf("failed to resolve secrets: %w", err)
	}
	slog.Info("Secret references resolved from SSM Parameter Store")
	return nil
}

// stateDSNs lists the DSNs that may keep files in the state directory.
func stateDSNs(cfg config.Config) []string {
	dsns := []string{cfg.Store.URL}
	if cfg.Delivery.Provider == config.DeliveryWhatsmeow {
		dsns = append(dsns, cfg.Delivery.Whatsmeow.DBDSN)
	}
	return dsns
}

// ensureDirectoriesExist creates parent directories for file-based databases.
func ensureDirectoriesExist(cfg config.Config) error {
	for _, dsn := range stateDSNs(cfg) {
		if store.DetectDSNType(dsn) != store.TypeSQLite {
			continue
		}
		path := strings.TrimPrefix(dsn, "file:")
		if i := strings.Index(path, "?"); i >= 0 {
			path = path[:i]
		}
		dir := filepath.Dir(path)
		slog.Debug("Creating directory for file-based database", "dir", dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// startSweeper schedules expired-key purging for backends that need it.
// It returns nil when the backend expires keys natively or sweeping is disabled.
func startSweeper(kv store.KeyValueStore, cfg config.Config) (*scheduler.Scheduler, error) {
	sweeper, ok := kv.(store.Sweeper)
	if !ok || cfg.Store.SweepSchedule == "" {
		return nil, nil
	}
	sched := scheduler.NewScheduler()
	if err := sched.AddJob(cfg.Store.SweepSchedule, "store-sweep", scheduler.SweepJob(sweeper, cfg.Store.Timeout)); err != nil {
		sched.Stop(context.Background())
		return nil, fmt.Errorf("invalid store sweep schedule: %w", err)
	}
	return sched, nil
}

func pingStore(ctx context.Context, kv store.KeyValueStore, cfg config.Config) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.Store.Timeout)
	defer cancel()
	return kv.Ping(ctx)
}

// buildGenAIOptions constructs LLM client options for the selected provider.
func buildGenAIOptions(cfg config.Config) []genai.Option {
	pc := cfg.LLM.OpenAI
	if cfg.LLM.Provider == genai.ProviderGemini {
		pc = cfg.LLM.Gemini
	}
	opts := []genai.Option{
		genai.WithTemperature(cfg.LLM.Temperature),
		genai.WithMaxTokens(cfg.LLM.MaxTokens),
	}
	if pc.APIKey != "" {
		opts = append(opts, genai.WithAPIKey(pc.APIKey))
	}
	if pc.Model != "" {
		opts = append(opts, genai.WithModel(pc.Model))
	}
	if pc.BaseURL != "" {
		opts = append(opts, genai.WithBaseURL(pc.BaseURL))
	}
	return opts
}

// buildDeliveryService creates the configured delivery channel.
func buildDeliveryService(ctx context.Context, cfg config.Config) (messaging.Service, error) {
	switch cfg.Delivery.Provider {
	case config.DeliveryCloudAPI:
		return messaging.NewCloudAPIService(buildCloudAPIOptions(cfg)...), nil
	case config.DeliveryTwilio:
		tw := cfg.Delivery.Twilio
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(tw.AccountSID),
			twiliowhatsapp.WithAuthToken(tw.AuthToken),
			twiliowhatsapp.WithFromWhats(tw.FromNumber),
		)
		if err != nil {
			slog.Warn("Twilio client not configured", "error", err)
			return messaging.NewTwilioService(nil), nil
		}
		return messaging.NewTwilioService(client), nil
	case config.DeliveryWhatsmeow:
		client, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(cfg)...)
		if err != nil {
			return nil, err
		}
		return messaging.NewWhatsAppService(client), nil
	default:
		return nil, errors.New("unsupported delivery provider " + cfg.Delivery.Provider)
	}
}

// buildCloudAPIOptions constructs Cloud API client options.
func buildCloudAPIOptions(cfg config.Config) []messaging.CloudAPIOption {
	ca := cfg.Delivery.CloudAPI
	opts := []messaging.CloudAPIOption{
		messaging.WithCloudAPICredentials(ca.Token, ca.PhoneID),
		messaging.WithHTTPClient(&http.Client{Timeout: cfg.Delivery.Timeout}),
	}
	if ca.APIVersion != "" {
		opts = append(opts, messaging.WithGraphVersion(ca.APIVersion))
	}
	if ca.BaseURL != "" {
		opts = append(opts, messaging.WithGraphBaseURL(ca.BaseURL))
	}
	return opts
}

// buildWhatsAppOptions constructs whatsmeow client options.
func buildWhatsAppOptions(cfg config.Config) []whatsapp.Option {
	wm := cfg.Delivery.Whatsmeow
	var opts []whatsapp.Option
	if wm.QRPath != "" {
		opts = append(opts, whatsapp.WithQRCodeOutput(wm.QRPath))
	}
	if wm.NumericCode {
		opts = append(opts, whatsapp.WithNumericCode())
	}
	if wm.DBDSN != "" {
		opts = append(opts, whatsapp.WithDBDSN(wm.DBDSN))
	}
	if cfg.Log.Level == "debug" {
		opts = append(opts, whatsapp.WithLogLevel("DEBUG"))
	}
	return opts
}

func buildRateLimitOptions(cfg config.Config) []ratelimit.Option {
	return []ratelimit.Option{
		ratelimit.WithMaxRequests(cfg.RateLimit.Max),
		ratelimit.WithWindow(cfg.RateLimit.Window),
	}
}

func buildPipelineOptions(cfg config.Config, systemPrompt string) []bridge.Option {
	return []bridge.Option{
		bridge.WithSystemPrompt(systemPrompt),
		bridge.WithNativePayloads(cfg.Server.AllowNativeWebhook),
		bridge.WithMaxContextMessages(cfg.Conversation.MaxContextMessages),
		bridge.WithTimeouts(cfg.Store.Timeout, cfg.LLM.Timeout, cfg.Delivery.Timeout),
	}
}

// buildAPIOptions constructs API server configuration options.
func buildAPIOptions(cfg config.Config) []api.Option {
	return []api.Option{
		api.WithAddr(cfg.Server.Addr),
		api.WithVerifyToken(cfg.Server.VerifyToken),
		api.WithMaxContextMessages(cfg.Conversation.MaxContextMessages),
		api.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
	}
}
