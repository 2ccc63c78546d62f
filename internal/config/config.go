package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/ggonzalez94/dexswap/internal/registry"
)

const (
	envPrefix = "DEXSWAP_"

	DefaultTimeout            = 10 * time.Second
	DefaultMaxStale           = 5 * time.Minute
	DefaultPriceCacheTTL      = 30 * time.Second
	DefaultSwapTimeoutSeconds = 300
	MinSwapTimeoutSeconds     = 1
	DefaultSlippagePercent    = 0.5
	DefaultSessionsPerMinute  = 5
)

// Providers with configurable base URLs, in registration order.
var ProviderNames = []string{"0x", "odos", "paraswap", "jupiter", "1inch"}

type GlobalFlags struct {
	ConfigPath  string
	JSON        bool
	Plain       bool
	Select      string
	ResultsOnly bool
	Strict      bool
	Timeout     string
	MaxStale    string
	NoStale     bool
	NoCache     bool
	LogLevel    string
	MetricsDump string
}

// BindFlags registers the global flags on fs.
func BindFlags(fs *pflag.FlagSet, flags *GlobalFlags) {
	fs.BoolVar(&flags.JSON, "json", false, "Output JSON (default)")
	fs.BoolVar(&flags.Plain, "plain", false, "Output plain text")
	fs.StringVar(&flags.Select, "select", "", "Select fields from data (comma-separated)")
	fs.BoolVar(&flags.ResultsOnly, "results-only", false, "Output only data payload")
	fs.BoolVar(&flags.Strict, "strict", false, "Fail when any aggregator does not answer")
	fs.StringVar(&flags.Timeout, "timeout", "", "Per-aggregator request timeout")
	fs.StringVar(&flags.MaxStale, "max-stale", "", "Maximum stale fallback window after TTL expiry")
	fs.BoolVar(&flags.NoStale, "no-stale", false, "Reject stale cache entries")
	fs.BoolVar(&flags.NoCache, "no-cache", false, "Disable cache reads and writes")
	fs.StringVar(&flags.ConfigPath, "config", "", "Path to config file")
	fs.StringVar(&flags.LogLevel, "log-level", "", "Log level (debug|info|warn|error)")
	fs.StringVar(&flags.MetricsDump, "metrics-dump", "", "Write Prometheus text metrics to this file on exit")
}

type Settings struct {
	OutputMode    string
	SelectFields  []string
	ResultsOnly   bool
	Strict        bool
	Timeout       time.Duration
	MaxStale      time.Duration
	NoStale       bool
	CacheEnabled  bool
	CachePath     string
	CacheLockPath string
	PriceCacheTTL time.Duration
	LogLevel      string

	// Wallet sessions.
	SessionTTL        time.Duration
	SlippageBps       int64
	SessionsPerMinute int
	AppPublicURL      string
	RelayProjectID    string
	SolanaRPCURL      string
	// Explorers maps a chain slug to a transaction URL prefix override.
	Explorers map[string]string

	TelegramBotToken string
	MetricsEnabled   bool
	// MetricsDumpPath receives the text exposition of the run's metrics when set.
	MetricsDumpPath  string

	ZeroXAPIKey   string
	OdosAPIKey    string
	JupiterAPIKey string
	OneInchAPIKey string
	// BaseURLs maps a provider name to a validated base URL override.
	BaseURLs map[string]string
}

type providerConfig struct {
	APIKey    string `yaml:"api_key"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
}

type fileConfig struct {
	Output   string `yaml:"output"`
	Strict   *bool  `yaml:"strict"`
	Timeout  string `yaml:"timeout"`
	LogLevel string `yaml:"log_level"`
	Cache    struct {
		Enabled  *bool  `yaml:"enabled"`
		MaxStale string `yaml:"max_stale"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
		PriceTTL string `yaml:"price_ttl"`
	} `yaml:"cache"`
	Swap struct {
		TimeoutSeconds    *int              `yaml:"timeout_seconds"`
		Slippage          *float64          `yaml:"slippage"`
		SessionsPerMinute *int              `yaml:"sessions_per_minute"`
		AppPublicURL      string            `yaml:"app_public_url"`
		RelayProjectID    string            `yaml:"relay_project_id"`
		SolanaRPCURL      string            `yaml:"solana_rpc_url"`
		Explorers         map[string]string `yaml:"explorers"`
	} `yaml:"swap"`
	Telegram struct {
		BotToken    string `yaml:"bot_token"`
		BotTokenEnv string `yaml:"bot_token_env"`
	} `yaml:"telegram"`
	Metrics struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"metrics"`
	Providers struct {
		ZeroX    providerConfig `yaml:"0x"`
		Odos     providerConfig `yaml:"odos"`
		ParaSwap providerConfig `yaml:"paraswap"`
		Jupiter  providerConfig `yaml:"jupiter"`
		OneInch  providerConfig `yaml:"1inch"`
	} `yaml:"providers"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	if err := applyEnv(&settings); err != nil {
		return Settings{}, err
	}

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}
	if settings.MaxStale < 0 {
		settings.MaxStale = DefaultMaxStale
	}
	if settings.PriceCacheTTL <= 0 {
		settings.PriceCacheTTL = DefaultPriceCacheTTL
	}
	if settings.SessionsPerMinute < 0 {
		settings.SessionsPerMinute = 0
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:        "json",
		Timeout:           DefaultTimeout,
		MaxStale:          DefaultMaxStale,
		CacheEnabled:      true,
		CachePath:         cachePath,
		CacheLockPath:     lockPath,
		PriceCacheTTL:     DefaultPriceCacheTTL,
		LogLevel:          "error",
		SessionTTL:        DefaultSwapTimeoutSeconds * time.Second,
		SlippageBps:       SlippageBps(DefaultSlippagePercent),
		SessionsPerMinute: DefaultSessionsPerMinute,
		MetricsEnabled:    true,
		Explorers:         map[string]string{},
		BaseURLs:          map[string]string{},
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "dexswap", "config.yaml"), nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "dexswap")
	return filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"), nil
}

// SessionTTLFromSeconds returns the wallet session lifetime for a raw setting. Values that do
// not parse or fall below the minimum use the default.
func SessionTTLFromSeconds(raw string) time.Duration {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < MinSwapTimeoutSeconds {
		n = DefaultSwapTimeoutSeconds
	}
	return time.Duration(n) * time.Second
}

// SlippageBps converts a slippage percentage to basis points. Non-finite or non-positive
// percentages use the default.
func SlippageBps(percent float64) int64 {
	if math.IsNaN(percent) || math.IsInf(percent, 0) || percent <= 0 {
		percent = DefaultSlippagePercent
	}
	return int64(math.Round(percent * 100))
}

func slippageFromString(raw string) int64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return SlippageBps(DefaultSlippagePercent)
	}
	return SlippageBps(v)
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Strict != nil {
		settings.Strict = *cfg.Strict
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.LogLevel != "" {
		settings.LogLevel = strings.ToLower(cfg.LogLevel)
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if cfg.Cache.MaxStale != "" {
		d, err := time.ParseDuration(cfg.Cache.MaxStale)
		if err != nil {
			return fmt.Errorf("config cache.max_stale: %w", err)
		}
		settings.MaxStale = d
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}
	if cfg.Cache.PriceTTL != "" {
		d, err := time.ParseDuration(cfg.Cache.PriceTTL)
		if err != nil {
			return fmt.Errorf("config cache.price_ttl: %w", err)
		}
		settings.PriceCacheTTL = d
	}

	if cfg.Swap.TimeoutSeconds != nil {
		settings.SessionTTL = SessionTTLFromSeconds(strconv.Itoa(*cfg.Swap.TimeoutSeconds))
	}
	if cfg.Swap.Slippage != nil {
		settings.SlippageBps = SlippageBps(*cfg.Swap.Slippage)
	}
	if cfg.Swap.SessionsPerMinute != nil {
		settings.SessionsPerMinute = *cfg.Swap.SessionsPerMinute
	}
	if cfg.Swap.AppPublicURL != "" {
		settings.AppPublicURL = cfg.Swap.AppPublicURL
	}
	if cfg.Swap.RelayProjectID != "" {
		settings.RelayProjectID = cfg.Swap.RelayProjectID
	}
	if cfg.Swap.SolanaRPCURL != "" {
		settings.SolanaRPCURL = cfg.Swap.SolanaRPCURL
	}
	for slug, prefix := range cfg.Swap.Explorers {
		setExplorer(settings, slug, prefix)
	}

	if cfg.Telegram.BotToken != "" {
		settings.TelegramBotToken = cfg.Telegram.BotToken
	}
	if cfg.Telegram.BotTokenEnv != "" {
		settings.TelegramBotToken = os.Getenv(cfg.Telegram.BotTokenEnv)
	}
	if cfg.Metrics.Enabled != nil {
		settings.MetricsEnabled = *cfg.Metrics.Enabled
	}

	providerFiles := map[string]providerConfig{
		"0x":       cfg.Providers.ZeroX,
		"odos":     cfg.Providers.Odos,
		"paraswap": cfg.Providers.ParaSwap,
		"jupiter":  cfg.Providers.Jupiter,
		"1inch":    cfg.Providers.OneInch,
	}
	for _, name := range ProviderNames {
		pc := providerFiles[name]
		key := pc.APIKey
		if pc.APIKeyEnv != "" {
			key = os.Getenv(pc.APIKeyEnv)
		}
		if key != "" {
			setAPIKey(settings, name, key)
		}
		if pc.BaseURL != "" {
			if err := setBaseURL(settings, name, pc.BaseURL); err != nil {
				return fmt.Errorf("config providers.%s.base_url: %w", name, err)
			}
		}
	}

	return nil
}

func applyEnv(settings *Settings) error {
	if v := env("OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := env("STRICT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.Strict = b
		}
	}
	if v := env("TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := env("MAX_STALE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.MaxStale = d
		}
	}
	if v := env("NO_STALE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.NoStale = b
		}
	}
	if v := env("NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	if v := env("CACHE_PATH"); v != "" {
		settings.CachePath = v
	}
	if v := env("CACHE_LOCK_PATH"); v != "" {
		settings.CacheLockPath = v
	}
	if v := env("PRICE_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.PriceCacheTTL = d
		}
	}
	if v := env("LOG_LEVEL"); v != "" {
		settings.LogLevel = strings.ToLower(v)
	}

	if v, ok := os.LookupEnv(envPrefix + "SWAP_TIMEOUT_SECONDS"); ok {
		settings.SessionTTL = SessionTTLFromSeconds(v)
	}
	if v, ok := os.LookupEnv(envPrefix + "SWAP_SLIPPAGE"); ok {
		settings.SlippageBps = slippageFromString(v)
	}
	if v := env("SESSIONS_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.SessionsPerMinute = n
		}
	}
	if v := env("APP_PUBLIC_URL"); v != "" {
		settings.AppPublicURL = v
	}
	if v := env("WC_PROJECT_ID"); v != "" {
		settings.RelayProjectID = v
	}
	if v := env("SOLANA_RPC_URL"); v != "" {
		settings.SolanaRPCURL = v
	}
	if v := env("TELEGRAM_BOT_TOKEN"); v != "" {
		settings.TelegramBotToken = v
	}
	if v := env("METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.MetricsEnabled = b
		}
	}
	for _, slug := range []string{"ethereum", "arbitrum", "base", "optimism", "polygon", "solana"} {
		if v := env("EXPLORER_" + strings.ToUpper(slug)); v != "" {
			setExplorer(settings, slug, v)
		}
	}

	for _, name := range ProviderNames {
		prefix := envProviderName(name)
		if v := env(prefix + "_API_KEY"); v != "" {
			setAPIKey(settings, name, v)
		}
		if v := env(prefix + "_BASE_URL"); v != "" {
			if err := setBaseURL(settings, name, v); err != nil {
				return fmt.Errorf("%s%s_BASE_URL: %w", envPrefix, prefix, err)
			}
		}
	}
	return nil
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Select) != "" {
		parts := strings.Split(flags.Select, ",")
		fields := make([]string, 0, len(parts))
		for _, part := range parts {
			f := strings.TrimSpace(part)
			if f != "" {
				fields = append(fields, f)
			}
		}
		settings.SelectFields = fields
	}
	settings.ResultsOnly = flags.ResultsOnly

	if flags.Strict {
		settings.Strict = true
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.MaxStale != "" {
		d, err := time.ParseDuration(flags.MaxStale)
		if err != nil {
			return fmt.Errorf("parse --max-stale: %w", err)
		}
		settings.MaxStale = d
	}
	if flags.NoStale {
		settings.NoStale = true
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}
	if flags.LogLevel != "" {
		settings.LogLevel = strings.ToLower(flags.LogLevel)
	}
	if strings.TrimSpace(flags.MetricsDump) != "" {
		settings.MetricsDumpPath = strings.TrimSpace(flags.MetricsDump)
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}

	return nil
}

func env(name string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + name))
}

// envProviderName maps a provider name to its env var infix: 0x becomes ZEROX, 1inch becomes
// 1INCH.
func envProviderName(name string) string {
	if name == "0x" {
		return "ZEROX"
	}
	return strings.ToUpper(name)
}

func setAPIKey(settings *Settings, provider, key string) {
	key = strings.TrimSpace(key)
	switch provider {
	case "0x":
		settings.ZeroXAPIKey = key
	case "odos":
		settings.OdosAPIKey = key
	case "jupiter":
		settings.JupiterAPIKey = key
	case "1inch":
		settings.OneInchAPIKey = key
	}
}

func setBaseURL(settings *Settings, provider, endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)
	if !registry.IsAllowedBaseURL(endpoint) {
		return fmt.Errorf("base url %q must be https (http allowed only for loopback hosts)", endpoint)
	}
	if settings.BaseURLs == nil {
		settings.BaseURLs = map[string]string{}
	}
	settings.BaseURLs[provider] = strings.TrimRight(endpoint, "/")
	return nil
}

func setExplorer(settings *Settings, slug, prefix string) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	prefix = strings.TrimSpace(prefix)
	if slug == "" || prefix == "" {
		return
	}
	if settings.Explorers == nil {
		settings.Explorers = map[string]string{}
	}
	settings.Explorers[slug] = prefix
}
