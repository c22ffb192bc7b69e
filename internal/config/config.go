package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	DefaultSession string    `toml:"default_session"`
	Auth           Auth      `toml:"auth"`
	Server         Server    `toml:"server"`
	Reconnect      Reconnect `toml:"reconnect"`
	Cache          Cache     `toml:"cache"`
	Typing         Typing    `toml:"typing"`
	Engine         Engine    `toml:"engine"`
}

// Auth identifies this client to the server. The token is issued out of
// band and pasted into the config file.
type Auth struct {
	UserID   string `toml:"user_id"`
	Username string `toml:"username"`
	Token    string `toml:"token"`
}

// Server holds the channel and fetch endpoints.
type Server struct {
	ChannelURL string `toml:"channel_url"`
	APIBaseURL string `toml:"api_base_url"`
}

// Reconnect tunes the connection manager's backoff policy.
type Reconnect struct {
	MaxAttempts     int      `toml:"max_attempts"`
	InitialInterval Duration `toml:"initial_interval"`
	MaxInterval     Duration `toml:"max_interval"`
}

// Cache tunes the conversation store.
type Cache struct {
	TTL               Duration `toml:"ttl"`
	MaxEntries        int      `toml:"max_entries"`
	MaxPersistedConvs int      `toml:"max_persisted_conversations"`
}

// Typing tunes the typing coordinator windows.
type Typing struct {
	DebounceWindow Duration `toml:"debounce_window"`
	IdleStopAfter  Duration `toml:"idle_stop_after"`
	RemoteExpiry   Duration `toml:"remote_expiry"`
}

// Engine tunes the sync engine.
type Engine struct {
	PageSize         int      `toml:"page_size"`
	LoadOlderDelay   Duration `toml:"load_older_delay"`
	SendAckTimeout   Duration `toml:"send_ack_timeout"`
	ScrollSuspension Duration `toml:"scroll_suspension"`
	BottomThreshold  int      `toml:"bottom_threshold_px"`
}

// Default returns the configuration defaults applied before any file values.
func Default() *Config {
	return &Config{
		Reconnect: Reconnect{
			MaxAttempts:     5,
			InitialInterval: Duration{500 * time.Millisecond},
			MaxInterval:     Duration{30 * time.Second},
		},
		Cache: Cache{
			TTL:               Duration{24 * time.Hour},
			MaxEntries:        20,
			MaxPersistedConvs: 200,
		},
		Typing: Typing{
			DebounceWindow: Duration{50 * time.Millisecond},
			IdleStopAfter:  Duration{3 * time.Second},
			RemoteExpiry:   Duration{5 * time.Second},
		},
		Engine: Engine{
			PageSize:         20,
			LoadOlderDelay:   Duration{300 * time.Millisecond},
			SendAckTimeout:   Duration{10 * time.Second},
			ScrollSuspension: Duration{500 * time.Millisecond},
			BottomThreshold:  80,
		},
	}
}

// Load reads config from the given path, layered over defaults.
// Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Duration wraps time.Duration with TOML string encoding ("300ms", "24h").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}
