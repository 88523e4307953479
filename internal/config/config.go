package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppDirectoryName is the per-user application data directory name.
const AppDirectoryName = "moviesquad"

// Config holds all daemon settings. Values are layered: built-in
// defaults, then an optional config.yaml in the data directory, then
// MOVIESQUAD_* environment variables.
type Config struct {
	Backend struct {
		// BaseURL is the REST API root, e.g. "http://localhost:3001".
		BaseURL string `mapstructure:"base_url"`
		// SocketURL is the chat websocket endpoint. Derived from
		// BaseURL when empty.
		SocketURL string `mapstructure:"socket_url"`
		// Timeout bounds each REST request.
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"backend"`

	Listen struct {
		// Addr is the local UI bridge listen address.
		Addr string `mapstructure:"addr"`
		// WebDir holds the UI shell and static assets.
		WebDir string `mapstructure:"web_dir"`
	} `mapstructure:"listen"`

	Chat struct {
		// TypingDebounce is how long after the last keystroke the
		// stopped-typing signal fires.
		TypingDebounce time.Duration `mapstructure:"typing_debounce"`
		// ReconnectMaxElapsed caps the reconnect backoff schedule;
		// after this the session reports a terminal disconnect.
		ReconnectMaxElapsed time.Duration `mapstructure:"reconnect_max_elapsed"`
		// HistoryCacheLimit bounds cached messages read per conversation.
		HistoryCacheLimit int `mapstructure:"history_cache_limit"`
	} `mapstructure:"chat"`

	Logging struct {
		Level  string `mapstructure:"level"`  // debug | info | warn | error
		Format string `mapstructure:"format"` // json | console
		File   string `mapstructure:"file"`   // empty = stderr only
	} `mapstructure:"logging"`

	// DataDir is where the local database, config and logs live.
	DataDir string `mapstructure:"data_dir"`
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If MOVIESQUAD_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv("MOVIESQUAD_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// Load reads configuration from defaults, the optional config file in the
// data directory, and the environment.
func Load() (*Config, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, err
	}
	return LoadFrom(dataDir)
}

// LoadFrom is Load with an explicit data directory.
func LoadFrom(dataDir string) (*Config, error) {
	v := viper.New()

	v.SetDefault("backend.base_url", "http://localhost:3001")
	v.SetDefault("backend.socket_url", "")
	v.SetDefault("backend.timeout", 15*time.Second)
	v.SetDefault("listen.addr", "127.0.0.1:8090")
	v.SetDefault("listen.web_dir", "web/client")
	v.SetDefault("chat.typing_debounce", time.Second)
	v.SetDefault("chat.reconnect_max_elapsed", 5*time.Minute)
	v.SetDefault("chat.history_cache_limit", 200)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")
	v.SetDefault("data_dir", dataDir)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dataDir)

	v.SetEnvPrefix("MOVIESQUAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Backend.SocketURL == "" {
		cfg.Backend.SocketURL = deriveSocketURL(cfg.Backend.BaseURL)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url must not be empty")
	}
	if c.Chat.TypingDebounce <= 0 {
		return fmt.Errorf("chat.typing_debounce must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug|info|warn|error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format %q is not one of json|console", c.Logging.Format)
	}
	return nil
}

// deriveSocketURL maps the REST base URL onto the chat websocket endpoint.
func deriveSocketURL(baseURL string) string {
	u := baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return strings.TrimSuffix(u, "/") + "/ws"
}
