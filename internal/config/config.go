package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const appDirName = "dustsweep"

type GlobalFlags struct {
	ConfigPath     string
	JSON           bool
	Plain          bool
	Select         string
	ResultsOnly    bool
	EnableCommands string
	Timeout        string
	Retries        int
	MaxStale       string
	NoStale        bool
	NoCache        bool
	LogLevel       string
}

type Settings struct {
	OutputMode     string
	SelectFields   []string
	ResultsOnly    bool
	EnableCommands []string
	Timeout        time.Duration
	Retries        int
	MaxStale       time.Duration
	NoStale        bool
	CacheEnabled   bool
	CachePath      string
	CacheLockPath  string
	RunStorePath   string
	RunLockPath    string

	RelayAPIKey      string
	RelayBaseURL     string
	RouteScanAPIKey  string
	RouteScanBaseURL string
	CovalentAPIKey   string
	CovalentBaseURL  string

	// RPCURLs overrides the default public RPC per chain id.
	RPCURLs        map[int64]string
	WalletRPCURL   string
	KeySource      string
	PollInterval   time.Duration
	ReceiptTimeout time.Duration
	DefaultTarget  string

	LogLevel string
	LogFile  string
}

type providerKey struct {
	APIKey    string `yaml:"api_key"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
}

type fileConfig struct {
	Output  string `yaml:"output"`
	Timeout string `yaml:"timeout"`
	Retries *int   `yaml:"retries"`
	Cache   struct {
		Enabled  *bool  `yaml:"enabled"`
		MaxStale string `yaml:"max_stale"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
	Execution struct {
		RunsPath       string `yaml:"runs_path"`
		RunsLockPath   string `yaml:"runs_lock_path"`
		PollInterval   string `yaml:"poll_interval"`
		ReceiptTimeout string `yaml:"receipt_timeout"`
		Target         string `yaml:"target"`
	} `yaml:"execution"`
	Providers struct {
		Relay     providerKey `yaml:"relay"`
		RouteScan providerKey `yaml:"routescan"`
		Covalent  providerKey `yaml:"covalent"`
	} `yaml:"providers"`
	RPC    map[int64]string `yaml:"rpc"`
	Wallet struct {
		RPCURL    string `yaml:"rpc_url"`
		KeySource string `yaml:"key_source"`
	} `yaml:"wallet"`
	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`
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

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 15 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.MaxStale < 0 {
		settings.MaxStale = 5 * time.Minute
	}
	if settings.PollInterval <= 0 {
		settings.PollInterval = 2 * time.Second
	}
	if settings.ReceiptTimeout <= 0 {
		settings.ReceiptTimeout = 2 * time.Minute
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	cacheDir := filepath.Dir(cachePath)
	return Settings{
		OutputMode:     "json",
		Timeout:        15 * time.Second,
		Retries:        2,
		MaxStale:       5 * time.Minute,
		CacheEnabled:   true,
		CachePath:      cachePath,
		CacheLockPath:  lockPath,
		RunStorePath:   filepath.Join(cacheDir, "runs.db"),
		RunLockPath:    filepath.Join(cacheDir, "runs.lock"),
		RPCURLs:        map[int64]string{},
		KeySource:      "auto",
		PollInterval:   2 * time.Second,
		ReceiptTimeout: 2 * time.Minute,
		DefaultTarget:  "ETH",
		LogLevel:       "warn",
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
	return filepath.Join(base, appDirName, "config.yaml"), nil
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
	dir := filepath.Join(base, appDirName)
	return filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"), nil
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
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
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
	if cfg.Execution.RunsPath != "" {
		settings.RunStorePath = cfg.Execution.RunsPath
	}
	if cfg.Execution.RunsLockPath != "" {
		settings.RunLockPath = cfg.Execution.RunsLockPath
	}
	if cfg.Execution.PollInterval != "" {
		d, err := time.ParseDuration(cfg.Execution.PollInterval)
		if err != nil {
			return fmt.Errorf("config execution.poll_interval: %w", err)
		}
		settings.PollInterval = d
	}
	if cfg.Execution.ReceiptTimeout != "" {
		d, err := time.ParseDuration(cfg.Execution.ReceiptTimeout)
		if err != nil {
			return fmt.Errorf("config execution.receipt_timeout: %w", err)
		}
		settings.ReceiptTimeout = d
	}
	if cfg.Execution.Target != "" {
		settings.DefaultTarget = strings.ToUpper(cfg.Execution.Target)
	}

	applyProviderKey(cfg.Providers.Relay, &settings.RelayAPIKey, &settings.RelayBaseURL)
	applyProviderKey(cfg.Providers.RouteScan, &settings.RouteScanAPIKey, &settings.RouteScanBaseURL)
	applyProviderKey(cfg.Providers.Covalent, &settings.CovalentAPIKey, &settings.CovalentBaseURL)

	for chainID, url := range cfg.RPC {
		if strings.TrimSpace(url) != "" {
			settings.RPCURLs[chainID] = strings.TrimSpace(url)
		}
	}
	if cfg.Wallet.RPCURL != "" {
		settings.WalletRPCURL = cfg.Wallet.RPCURL
	}
	if cfg.Wallet.KeySource != "" {
		settings.KeySource = strings.ToLower(cfg.Wallet.KeySource)
	}
	if cfg.Log.Level != "" {
		settings.LogLevel = cfg.Log.Level
	}
	if cfg.Log.File != "" {
		settings.LogFile = cfg.Log.File
	}

	return nil
}

func applyProviderKey(p providerKey, apiKey, baseURL *string) {
	if apiKey != nil {
		if p.APIKey != "" {
			*apiKey = p.APIKey
		}
		if p.APIKeyEnv != "" {
			*apiKey = os.Getenv(p.APIKeyEnv)
		}
	}
	if baseURL != nil && p.BaseURL != "" {
		*baseURL = strings.TrimRight(p.BaseURL, "/")
	}
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("DUST_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("DUST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("DUST_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("DUST_MAX_STALE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.MaxStale = d
		}
	}
	if v := os.Getenv("DUST_NO_STALE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.NoStale = b
		}
	}
	if v := os.Getenv("DUST_NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	if v := os.Getenv("DUST_CACHE_PATH"); v != "" {
		settings.CachePath = v
	}
	if v := os.Getenv("DUST_CACHE_LOCK_PATH"); v != "" {
		settings.CacheLockPath = v
	}
	if v := os.Getenv("DUST_RUNS_PATH"); v != "" {
		settings.RunStorePath = v
	}
	if v := os.Getenv("DUST_RUNS_LOCK_PATH"); v != "" {
		settings.RunLockPath = v
	}
	if v := os.Getenv("DUST_RELAY_API_KEY"); v != "" {
		settings.RelayAPIKey = v
	}
	if v := os.Getenv("DUST_ROUTESCAN_API_KEY"); v != "" {
		settings.RouteScanAPIKey = v
	}
	if v := os.Getenv("DUST_COVALENT_API_KEY"); v != "" {
		settings.CovalentAPIKey = v
	}
	if v := os.Getenv("DUST_WALLET_RPC_URL"); v != "" {
		settings.WalletRPCURL = v
	}
	if v := os.Getenv("DUST_KEY_SOURCE"); v != "" {
		settings.KeySource = strings.ToLower(v)
	}
	if v := os.Getenv("DUST_TARGET"); v != "" {
		settings.DefaultTarget = strings.ToUpper(v)
	}
	if v := os.Getenv("DUST_LOG_LEVEL"); v != "" {
		settings.LogLevel = v
	}
	if v := os.Getenv("DUST_LOG_FILE"); v != "" {
		settings.LogFile = v
	}
	for _, chainID := range []int64{1, 10, 56, 137, 8453, 42161} {
		if v := os.Getenv(fmt.Sprintf("DUST_RPC_URL_%d", chainID)); v != "" {
			settings.RPCURLs[chainID] = v
		}
	}
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
		settings.SelectFields = splitList(flags.Select)
	}
	settings.ResultsOnly = flags.ResultsOnly

	if strings.TrimSpace(flags.EnableCommands) != "" {
		settings.EnableCommands = splitList(flags.EnableCommands)
	}

	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
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
	if strings.TrimSpace(flags.LogLevel) != "" {
		settings.LogLevel = strings.TrimSpace(flags.LogLevel)
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}
	switch settings.KeySource {
	case "auto", "env", "file", "keystore":
	default:
		return fmt.Errorf("wallet key source must be auto, env, file or keystore")
	}

	return nil
}

func splitList(input string) []string {
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		v := strings.TrimSpace(part)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
