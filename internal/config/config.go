package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	DataDir    string `mapstructure:"data_dir"`
	DeviceName string `mapstructure:"device_name"`

	Source SourceConfig `mapstructure:"source"`
	Voice  VoiceConfig  `mapstructure:"voice"`
	Engine EngineConfig `mapstructure:"engine"`
}

// SourceConfig points at the streaming service the shared identity lives on.
type SourceConfig struct {
	APIBaseURL   string `mapstructure:"api_base_url"`
	EventsURL    string `mapstructure:"events_url"`
	AuthURL      string `mapstructure:"auth_url"`
	TokenURL     string `mapstructure:"token_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// VoiceConfig points at the room signaling endpoint frames are published to.
type VoiceConfig struct {
	SignalURL string `mapstructure:"signal_url"`
}

// EngineConfig holds the relay tunables shared by every session.
type EngineConfig struct {
	FrameInterval   time.Duration `mapstructure:"frame_interval"`
	FrameBuffer     int           `mapstructure:"frame_buffer"`
	StallThreshold  time.Duration `mapstructure:"stall_threshold"`
	ConnectRetries  uint64        `mapstructure:"connect_retries"`
	ReconnectTries  uint64        `mapstructure:"reconnect_tries"`
	BackoffInterval time.Duration `mapstructure:"backoff_interval"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("SOUNDCORD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("data_dir", "./data")
	v.SetDefault("device_name", "Soundcord")

	v.SetDefault("source.api_base_url", "https://api.spotify.com")
	v.SetDefault("source.events_url", "wss://dealer.spotify.com")
	v.SetDefault("source.auth_url", "https://accounts.spotify.com/authorize")
	v.SetDefault("source.token_url", "https://accounts.spotify.com/api/token")
	v.SetDefault("source.client_id", "")
	v.SetDefault("source.client_secret", "")

	v.SetDefault("voice.signal_url", "http://localhost:7000")

	v.SetDefault("engine.frame_interval", "20ms")
	v.SetDefault("engine.frame_buffer", 8)
	v.SetDefault("engine.stall_threshold", "500ms")
	v.SetDefault("engine.connect_retries", 3)
	v.SetDefault("engine.reconnect_tries", 3)
	v.SetDefault("engine.backoff_interval", "250ms")
	v.SetDefault("engine.idle_timeout", "5m")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Device: %s\n", cfg.Mode, cfg.Port, cfg.DeviceName)
	return &cfg, nil
}
