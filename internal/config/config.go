// Package config loads PromptBridge runtime configuration.
//
// Values are layered, lowest precedence first: built-in defaults, an optional
// TOML file, then environment variables (optionally seeded from a .env file).
// Command-line flags are applied on top by the binary.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/BTreeMap/PromptBridge/internal/genai"
	"github.com/BTreeMap/PromptBridge/internal/messaging"
	"github.com/BTreeMap/PromptBridge/internal/util"
)

const (
	DefaultConfigPath         = "promptbridge.toml"
	DefaultAPIAddr            = ":8080"
	DefaultStateDir           = "/var/lib/promptbridge"
	DefaultStoreURL           = "memory://"
	DefaultStoreTimeout       = 5 * time.Second
	DefaultSweepSchedule      = "@every 15m"
	DefaultRateLimitMax       = 10
	DefaultRateLimitWindow    = 60 * time.Second
	DefaultConversationTTL    = 24 * time.Hour
	DefaultMaxContextMessages = 20
	DefaultSystemPromptPath   = "prompts/system_prompt.txt"
	DefaultLLMProvider        = genai.ProviderOpenAI
	DefaultLLMTemperature     = genai.DefaultTemperature
	DefaultLLMMaxTokens       = genai.DefaultMaxTokens
	DefaultOpenAIModel        = "gpt-4o"
	DefaultGeminiModel        = "gemini-1.5-flash"
	DefaultLLMTimeout         = 30 * time.Second
	DefaultDeliveryProvider   = messaging.ProviderCloudAPI
	DefaultDeliveryTimeout    = 15 * time.Second
	DefaultGraphVersion       = "v21.0"
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	DefaultShutdownTimeout    = 10 * time.Second
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
)

// Delivery providers.
const (
	DeliveryCloudAPI  = messaging.ProviderCloudAPI
	DeliveryTwilio    = messaging.ProviderTwilio
	DeliveryWhatsmeow = messaging.ProviderWhatsmeow
)

// EnvConfigPath names the environment variable that points at the TOML file.
const EnvConfigPath = "PROMPTBRIDGE_CONFIG"

type Config struct {
	Log          LogConfig          `toml:"log"`
	Server       ServerConfig       `toml:"server"`
	Store        StoreConfig        `toml:"store"`
	RateLimit    RateLimitConfig    `toml:"rate_limit"`
	Conversation ConversationConfig `toml:"conversation"`
	LLM          LLMConfig          `toml:"llm"`
	Delivery     DeliveryConfig     `toml:"delivery"`
	AWS          AWSConfig          `toml:"aws"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

type ServerConfig struct {
	Addr               string        `toml:"addr"`
	BotSecret          string        `toml:"bot_secret"`
	VerifyToken        string        `toml:"verify_token"`
	AllowNativeWebhook bool          `toml:"allow_native_webhook"`
	StateDir           string        `toml:"state_dir"`
	ShutdownTimeout    time.Duration `toml:"shutdown_timeout"`
}

type StoreConfig struct {
	URL     string        `toml:"url"`
	Timeout time.Duration `toml:"timeout"`
	// SweepSchedule is the cron expression for purging expired keys from
	// backends without native expiry. Empty disables sweeping.
	SweepSchedule string `toml:"sweep_schedule"`
}

type RateLimitConfig struct {
	Max    int64         `toml:"max"`
	Window time.Duration `toml:"window"`
}

type ConversationConfig struct {
	TTL                time.Duration `toml:"ttl"`
	MaxContextMessages int           `toml:"max_context_messages"`
	SystemPromptPath   string        `toml:"system_prompt_path"`
}

type LLMConfig struct {
	Provider    string         `toml:"provider"`
	Timeout     time.Duration  `toml:"timeout"`
	Temperature float64        `toml:"temperature"`
	MaxTokens   int64          `toml:"max_tokens"`
	OpenAI      ProviderConfig `toml:"openai"`
	Gemini      ProviderConfig `toml:"gemini"`
}

type ProviderConfig struct {
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
	BaseURL string `toml:"base_url"`
}

type DeliveryConfig struct {
	Provider  string          `toml:"provider"`
	Timeout   time.Duration   `toml:"timeout"`
	CloudAPI  CloudAPIConfig  `toml:"cloudapi"`
	Twilio    TwilioConfig    `toml:"twilio"`
	Whatsmeow WhatsmeowConfig `toml:"whatsmeow"`
}

type CloudAPIConfig struct {
	Token      string `toml:"token"`
	PhoneID    string `toml:"phone_id"`
	APIVersion string `toml:"api_version"`
	BaseURL    string `toml:"base_url"`
}

type TwilioConfig struct {
	AccountSID string `toml:"account_sid"`
	AuthToken  string `toml:"auth_token"`
	FromNumber string `toml:"from_number"`
}

type WhatsmeowConfig struct {
	DBDSN       string `toml:"db_dsn"`
	QRPath      string `toml:"qr_path"`
	NumericCode bool   `toml:"numeric_code"`
}

type AWSConfig struct {
	Region string `toml:"region"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Server: ServerConfig{
			Addr:            DefaultAPIAddr,
			StateDir:        DefaultStateDir,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Store: StoreConfig{
			URL:           DefaultStoreURL,
			Timeout:       DefaultStoreTimeout,
			SweepSchedule: DefaultSweepSchedule,
		},
		RateLimit: RateLimitConfig{
			Max:    DefaultRateLimitMax,
			Window: DefaultRateLimitWindow,
		},
		Conversation: ConversationConfig{
			TTL:                DefaultConversationTTL,
			MaxContextMessages: DefaultMaxContextMessages,
			SystemPromptPath:   DefaultSystemPromptPath,
		},
		LLM: LLMConfig{
			Provider:    DefaultLLMProvider,
			Timeout:     DefaultLLMTimeout,
			Temperature: DefaultLLMTemperature,
			MaxTokens:   DefaultLLMMaxTokens,
			OpenAI:      ProviderConfig{Model: DefaultOpenAIModel},
			Gemini:      ProviderConfig{Model: DefaultGeminiModel},
		},
		Delivery: DeliveryConfig{
			Provider: DefaultDeliveryProvider,
			Timeout:  DefaultDeliveryTimeout,
			CloudAPI: CloudAPIConfig{APIVersion: DefaultGraphVersion},
		},
	}
}

// Load reads the TOML file at path over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			slog.Debug("config.Load: no config file, using defaults", "path", path)
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	slog.Debug("config.Load: config file loaded", "path", path)
	return cfg, nil
}

// LoadDotEnv populates the process environment from .env files. Existing
// variables are never overwritten.
func LoadDotEnv(paths ...string) {
	if err := godotenv.Load(paths...); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}
}

// ApplyEnv overrides fields whose environment variable is set.
func (c *Config) ApplyEnv() {
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")
	setString(&c.Log.File, "LOG_FILE")

	setString(&c.Server.Addr, "API_ADDR")
	setString(&c.Server.BotSecret, "BOT_SECRET")
	setString(&c.Server.VerifyToken, "VERIFY_TOKEN", "WHATSAPP_VERIFY_TOKEN")
	c.Server.AllowNativeWebhook = util.ParseBoolEnv("ALLOW_NATIVE_WEBHOOK", c.Server.AllowNativeWebhook)
	setString(&c.Server.StateDir, "PROMPTBRIDGE_STATE_DIR")
	c.Server.ShutdownTimeout = util.ParseDurationEnv("SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	setString(&c.Store.URL, "STORE_URL", "REDIS_URL")
	c.Store.Timeout = util.ParseDurationEnv("STORE_TIMEOUT", c.Store.Timeout)
	if v, ok := os.LookupEnv("STORE_SWEEP_SCHEDULE"); ok {
		c.Store.SweepSchedule = strings.TrimSpace(v)
	}

	c.RateLimit.Max = util.ParseIntEnv("RATE_LIMIT_MAX", c.RateLimit.Max)
	c.RateLimit.Window = util.ParseDurationEnv("RATE_LIMIT_WINDOW", c.RateLimit.Window)

	c.Conversation.TTL = util.ParseDurationEnv("CONVERSATION_TTL", c.Conversation.TTL)
	c.Conversation.MaxContextMessages = int(util.ParseIntEnv("MAX_CONTEXT_MESSAGES", int64(c.Conversation.MaxContextMessages)))
	setString(&c.Conversation.SystemPromptPath, "SYSTEM_PROMPT_PATH")

	setString(&c.LLM.Provider, "LLM_PROVIDER")
	c.LLM.Timeout = util.ParseDurationEnv("LLM_TIMEOUT", c.LLM.Timeout)
	c.LLM.Temperature = util.ParseFloatEnv("LLM_TEMPERATURE", c.LLM.Temperature)
	c.LLM.MaxTokens = util.ParseIntEnv("LLM_MAX_TOKENS", c.LLM.MaxTokens)
	setString(&c.LLM.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&c.LLM.OpenAI.Model, "OPENAI_MODEL")
	setString(&c.LLM.OpenAI.BaseURL, "OPENAI_API_BASE")
	setString(&c.LLM.Gemini.APIKey, "GOOGLE_API_KEY", "GEMINI_API_KEY")
	setString(&c.LLM.Gemini.Model, "GEMINI_MODEL")
	setString(&c.LLM.Gemini.BaseURL, "GEMINI_API_BASE")

	setString(&c.Delivery.Provider, "DELIVERY_PROVIDER")
	c.Delivery.Timeout = util.ParseDurationEnv("DELIVERY_TIMEOUT", c.Delivery.Timeout)
	setString(&c.Delivery.CloudAPI.Token, "WHATSAPP_TOKEN")
	setString(&c.Delivery.CloudAPI.PhoneID, "WHATSAPP_PHONE_ID")
	setString(&c.Delivery.CloudAPI.APIVersion, "WHATSAPP_API_VERSION")
	setString(&c.Delivery.CloudAPI.BaseURL, "WHATSAPP_API_BASE")
	setString(&c.Delivery.Twilio.AccountSID, "TWILIO_ACCOUNT_SID")
	setString(&c.Delivery.Twilio.AuthToken, "TWILIO_AUTH_TOKEN")
	setString(&c.Delivery.Twilio.FromNumber, "TWILIO_FROM_NUMBER")
	setString(&c.Delivery.Whatsmeow.DBDSN, "WHATSAPP_DB_DSN")

	setString(&c.AWS.Region, "AWS_REGION")

	slog.Debug("environment variables applied",
		"API_ADDR", c.Server.Addr,
		"BOT_SECRET_SET", c.Server.BotSecret != "",
		"STORE_URL_SET", c.Store.URL != DefaultStoreURL,
		"LLM_PROVIDER", c.LLM.Provider,
		"DELIVERY_PROVIDER", c.Delivery.Provider,
		"PROMPTBRIDGE_STATE_DIR", c.Server.StateDir)
}

func setString(dst *string, keys ...string) {
	if v := util.FirstEnv(keys...); v != "" {
		*dst = v
	}
}

// Normalize lowercases provider names and fills values derived from other fields.
func (c *Config) Normalize() {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	c.Delivery.Provider = strings.ToLower(strings.TrimSpace(c.Delivery.Provider))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Delivery.Whatsmeow.DBDSN == "" && c.Server.StateDir != "" {
		c.Delivery.Whatsmeow.DBDSN = filepath.Join(c.Server.StateDir, DefaultWhatsAppDBFileName)
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr must not be empty"))
	}
	switch c.LLM.Provider {
	case genai.ProviderOpenAI, genai.ProviderGemini:
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q is not supported (use openai or gemini)", c.LLM.Provider))
	}
	switch c.Delivery.Provider {
	case DeliveryCloudAPI, DeliveryTwilio, DeliveryWhatsmeow:
	default:
		errs = append(errs, fmt.Errorf("delivery.provider %q is not supported (use cloudapi, twilio or whatsmeow)", c.Delivery.Provider))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not supported (use text or json)", c.Log.Format))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature %v must be between 0 and 2", c.LLM.Temperature))
	}
	if c.LLM.MaxTokens <= 0 {
		errs = append(errs, errors.New("llm.max_tokens must be positive"))
	}
	if c.RateLimit.Max <= 0 {
		errs = append(errs, errors.New("rate_limit.max must be positive"))
	}
	if c.RateLimit.Window < time.Second {
		errs = append(errs, errors.New("rate_limit.window must be at least 1s"))
	}
	if c.Conversation.TTL <= 0 {
		errs = append(errs, errors.New("conversation.ttl must be positive"))
	}
	if c.Conversation.MaxContextMessages < 0 {
		errs = append(errs, errors.New("conversation.max_context_messages must not be negative"))
	}
	timeouts := []struct {
		name string
		d    time.Duration
	}{
		{"store.timeout", c.Store.Timeout},
		{"llm.timeout", c.LLM.Timeout},
		{"delivery.timeout", c.Delivery.Timeout},
		{"server.shutdown_timeout", c.Server.ShutdownTimeout},
	}
	for _, t := range timeouts {
		if t.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", t.name))
		}
	}
	return errors.Join(errs...)
}

// SecretRefs returns pointers to every field that may hold a secret reference.
func (c *Config) SecretRefs() []*string {
	return []*string{
		&c.Server.BotSecret,
		&c.Server.VerifyToken,
		&c.Store.URL,
		&c.LLM.OpenAI.APIKey,
		&c.LLM.Gemini.APIKey,
		&c.Delivery.CloudAPI.Token,
		&c.Delivery.Twilio.AuthToken,
	}
}

// SlogLevel maps the configured level name onto slog.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
