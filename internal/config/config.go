package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/huddle/internal/database"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	LogLevel   string        `mapstructure:"log_level"`

	Database database.Config `mapstructure:"database"`
	Sweeper  SweeperConfig   `mapstructure:"sweeper"`
	Sync     SyncConfig      `mapstructure:"sync"`
	Room     RoomConfig      `mapstructure:"room"`
	Media    MediaConfig     `mapstructure:"media"`
	Client   ClientConfig    `mapstructure:"client"`
}

// SweeperConfig drives the expired-meeting job. An empty schedule disables it.
type SweeperConfig struct {
	Schedule string `mapstructure:"schedule"`
}

type SyncConfig struct {
	SendBuffer  int           `mapstructure:"send_buffer"`
	WriteLimit  int           `mapstructure:"write_limit"`
	WriteWindow time.Duration `mapstructure:"write_window"`
}

type RoomConfig struct {
	MaxConnectionAttempts int           `mapstructure:"max_connection_attempts"`
	RetryDelay            time.Duration `mapstructure:"retry_delay"`
	ReactionDisplay       time.Duration `mapstructure:"reaction_display"`
	SpeakingInterval      time.Duration `mapstructure:"speaking_interval"`
	// SpeakingDetector is "random" or "activity".
	SpeakingDetector string `mapstructure:"speaking_detector"`
}

type MediaConfig struct {
	ICEServers   []string `mapstructure:"ice_servers"`
	CaptureAudio bool     `mapstructure:"capture_audio"`
	CaptureVideo bool     `mapstructure:"capture_video"`
}

type ClientConfig struct {
	ServerURL   string        `mapstructure:"server_url"`
	Token       string        `mapstructure:"token"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "change-me")
	v.SetDefault("token_ttl", "168h")
	v.SetDefault("log_level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/huddle.db")

	v.SetDefault("sweeper.schedule", "@every 1m")

	v.SetDefault("sync.send_buffer", 32)
	v.SetDefault("sync.write_limit", 50)
	v.SetDefault("sync.write_window", "1s")

	v.SetDefault("room.max_connection_attempts", 3)
	v.SetDefault("room.retry_delay", "2s")
	v.SetDefault("room.reaction_display", "2500ms")
	v.SetDefault("room.speaking_interval", "1s")
	v.SetDefault("room.speaking_detector", "random")

	v.SetDefault("media.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("media.capture_audio", true)
	v.SetDefault("media.capture_video", true)

	v.SetDefault("client.server_url", "ws://localhost:8080/api/ws/sync")
	v.SetDefault("client.token", "")
	v.SetDefault("client.call_timeout", "10s")
}

// Load reads config/config.{CONFIG_ENV}.yaml, falling back to defaults.
// HUDDLE_* environment variables override file values.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("HUDDLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("db", cfg.Database.Driver).Msg("config ready")
	return &cfg, nil
}
