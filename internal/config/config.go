// Package config loads rebook settings from flags, REBOOK_* environment
// variables, a YAML file and defaults, and reloads them when the file changes.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/metcalfc/rebook/internal/narration"
	"github.com/metcalfc/rebook/internal/reader"
)

// Config holds rebook configuration.
type Config struct {
	Reader    ReaderCfg    `mapstructure:"reader" yaml:"reader"`
	Playback  PlaybackCfg  `mapstructure:"playback" yaml:"playback"`
	Narration NarrationCfg `mapstructure:"narration" yaml:"narration"`
	Audio     AudioCfg     `mapstructure:"audio" yaml:"audio"`
	State     StateCfg     `mapstructure:"state" yaml:"state"`
	Server    ServerCfg    `mapstructure:"server" yaml:"server"`
}

// ReaderCfg controls pagination and sentence mapping.
type ReaderCfg struct {
	WordLimit int `mapstructure:"word_limit" yaml:"word_limit"`
	Lookahead int `mapstructure:"lookahead" yaml:"lookahead"`
}

// PlaybackCfg controls the narration scheduler.
type PlaybackCfg struct {
	ChunkSentences int           `mapstructure:"chunk_sentences" yaml:"chunk_sentences"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// NarrationCfg selects the narration provider and voice.
type NarrationCfg struct {
	Provider string `mapstructure:"provider" yaml:"provider"`
	APIKey   string `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR}
	BaseURL  string `mapstructure:"base_url" yaml:"base_url"`
	VoiceID  string `mapstructure:"voice_id" yaml:"voice_id"`
	Model    string `mapstructure:"model" yaml:"model"`
	Format   string `mapstructure:"format" yaml:"format"`
}

// AudioCfg selects the audio player command.
type AudioCfg struct {
	Player string `mapstructure:"player" yaml:"player"`
}

// StateCfg locates the position store.
type StateCfg struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// ServerCfg configures `rebook serve`.
type ServerCfg struct {
	Addr    string `mapstructure:"addr" yaml:"addr"`
	Library string `mapstructure:"library" yaml:"library"`
}

// DefaultConfig returns configuration with defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Reader: ReaderCfg{
			WordLimit: reader.DefaultWordLimit,
			Lookahead: reader.DefaultLookahead,
		},
		Playback: PlaybackCfg{
			ChunkSentences: 2,
			RequestTimeout: 60 * time.Second,
		},
		Narration: NarrationCfg{
			Provider: narration.MiniMaxName,
		},
		Server: ServerCfg{
			Addr:    "127.0.0.1:8080",
			Library: ".",
		},
	}
}

// providerKeyEnv names the environment variable holding each provider's key
// when narration.api_key is unset.
var providerKeyEnv = map[string]string{
	narration.MiniMaxName:    "REBOOK_MINIMAX_API_KEY",
	narration.ElevenLabsName: "REBOOK_ELEVENLABS_API_KEY",
	narration.ExternalName:   "REBOOK_EXTERNAL_TTS_API_KEY",
}

// Validate rejects settings the reader cannot run with.
func (c *Config) Validate() error {
	if c.Reader.WordLimit <= 0 {
		return fmt.Errorf("reader.word_limit must be positive, got %d", c.Reader.WordLimit)
	}
	if c.Reader.Lookahead <= 0 {
		return fmt.Errorf("reader.lookahead must be positive, got %d", c.Reader.Lookahead)
	}
	if c.Playback.ChunkSentences <= 0 {
		return fmt.Errorf("playback.chunk_sentences must be positive, got %d", c.Playback.ChunkSentences)
	}
	if c.Playback.RequestTimeout <= 0 {
		return fmt.Errorf("playback.request_timeout must be positive, got %s", c.Playback.RequestTimeout)
	}
	if _, ok := providerKeyEnv[c.Narration.Provider]; !ok {
		return fmt.Errorf("unknown narration provider %q (want one of %s)",
			c.Narration.Provider, strings.Join(narration.Providers(), ", "))
	}
	return nil
}

// ReaderOptions returns the layout options.
func (c *Config) ReaderOptions() reader.Options {
	return reader.Options{WordLimit: c.Reader.WordLimit, Lookahead: c.Reader.Lookahead}
}

// APIKey resolves the narration key: narration.api_key with ${ENV_VAR}
// expansion, else the provider's own environment variable.
func (c *Config) APIKey() string {
	if key := ResolveEnvVars(c.Narration.APIKey); key != "" {
		return key
	}
	return os.Getenv(providerKeyEnv[c.Narration.Provider])
}

// NarrationConfig converts the narration settings for narration.New.
func (c *Config) NarrationConfig() narration.Config {
	return narration.Config{
		Provider: c.Narration.Provider,
		APIKey:   c.APIKey(),
		BaseURL:  c.Narration.BaseURL,
		Voice: narration.Voice{
			ID:     c.Narration.VoiceID,
			Model:  c.Narration.Model,
			Format: c.Narration.Format,
		},
		Timeout: c.Playback.RequestTimeout,
	}
}

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	v         *viper.Viper
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a config manager and loads the initial config. An empty
// cfgFile searches ./rebook.yaml then $HOME/.rebook/config.yaml; a missing
// file is not an error.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{v: viper.New()}
	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}
	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg
	return cm, nil
}

func (cm *Manager) initViper(cfgFile string) error {
	v := cm.v
	d := DefaultConfig()
	v.SetDefault("reader.word_limit", d.Reader.WordLimit)
	v.SetDefault("reader.lookahead", d.Reader.Lookahead)
	v.SetDefault("playback.chunk_sentences", d.Playback.ChunkSentences)
	v.SetDefault("playback.request_timeout", d.Playback.RequestTimeout)
	v.SetDefault("narration.provider", d.Narration.Provider)
	v.SetDefault("narration.api_key", "")
	v.SetDefault("narration.base_url", "")
	v.SetDefault("narration.voice_id", "")
	v.SetDefault("narration.model", "")
	v.SetDefault("narration.format", "")
	v.SetDefault("audio.player", "")
	v.SetDefault("state.dir", "")
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.library", d.Server.Library)

	// REBOOK_READER_WORD_LIMIT and friends
	v.SetEnvPrefix("REBOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("rebook")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.rebook")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// $HOME/.rebook/config.yaml is the documented home location.
			if cfgFile == "" {
				return cm.readHomeConfig()
			}
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

func (cm *Manager) readHomeConfig() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	path := filepath.Join(home, ".rebook", "config.yaml")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	cm.v.SetConfigFile(path)
	if err := cm.v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// BindFlag makes a command-line flag override key.
func (cm *Manager) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("no flag for %s", key)
	}
	if err := cm.v.BindPFlag(key, flag); err != nil {
		return err
	}
	return cm.Reload()
}

// Reload re-reads the merged settings without waiting for a file event.
func (cm *Manager) Reload() error {
	cfg, err := cm.load()
	if err != nil {
		return err
	}
	cm.mu.Lock()
	cm.config = cfg
	cm.mu.Unlock()
	return nil
}

// ConfigFile returns the file in use, or "" when running on defaults.
func (cm *Manager) ConfigFile() string {
	return cm.v.ConfigFileUsed()
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading. Invalid edits are ignored and the
// previous configuration stays in effect. Without a config file there is
// nothing to watch.
func (cm *Manager) WatchConfig() {
	if cm.ConfigFile() == "" {
		return
	}
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil || cfg.Validate() != nil {
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	cm.v.WatchConfig()
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envPattern.ReplaceAllStringFunc(value, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// WriteDefault writes the default configuration to path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	cfg.Narration.APIKey = "${REBOOK_MINIMAX_API_KEY}"
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# rebook configuration
# narration.api_key accepts ${ENV_VAR} references.
# Every key can be overridden with REBOOK_<SECTION>_<KEY>, e.g. REBOOK_READER_WORD_LIMIT=300.

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
