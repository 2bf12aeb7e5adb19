package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode string `mapstructure:"mode"`
	Port int    `mapstructure:"port"`

	URL            string `mapstructure:"url"`
	Token          string `mapstructure:"token"`
	AutoSubscribe  bool   `mapstructure:"auto_subscribe"`
	AdaptiveStream bool   `mapstructure:"adaptive_stream"`

	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	LogLevel   string        `mapstructure:"log_level"`

	ICEServers          []string      `mapstructure:"ice_servers"`
	ForceRelay          bool          `mapstructure:"force_relay"`
	ICEConnectTimeout   time.Duration `mapstructure:"ice_connect_timeout"`
	TrackPublishTimeout time.Duration `mapstructure:"track_publish_timeout"`

	ReconnectAttempts    int           `mapstructure:"reconnect_attempts"`
	ReconnectInterval    time.Duration `mapstructure:"reconnect_interval"`
	MaxReconnectInterval time.Duration `mapstructure:"max_reconnect_interval"`
}

var ErrNoURL = errors.New("config: url is required")

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8081)
	v.SetDefault("url", "")
	v.SetDefault("token", "")
	v.SetDefault("auto_subscribe", true)
	v.SetDefault("adaptive_stream", false)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("log_level", "info")
	v.SetDefault("ice_servers", []string{})
	v.SetDefault("force_relay", false)
	v.SetDefault("ice_connect_timeout", "15s")
	v.SetDefault("track_publish_timeout", "10s")
	v.SetDefault("reconnect_attempts", 10)
	v.SetDefault("reconnect_interval", "300ms")
	v.SetDefault("max_reconnect_interval", "5s")
}

func flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("client", pflag.ContinueOnError)
	fs.String("url", "", "signaling server URL (ws, wss, http or https)")
	fs.String("token", "", "access token")
	fs.Int("port", 8081, "control API port")
	fs.String("mode", "release", "gin mode: debug or release")
	fs.String("log_level", "info", "zerolog level")
	fs.StringSlice("ice_servers", nil, "extra ICE server URLs, overriding the server-provided list")
	fs.Bool("force_relay", false, "only use TURN relay candidates")
	return fs
}

// Load reads config/config.$CONFIG_ENV.yaml, then RTC_* env vars, then args.
func Load(args []string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	setDefaults(v)
	v.SetEnvPrefix("RTC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fs := flags()
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}
	fs.VisitAll(func(f *pflag.Flag) {
		// Unset flags must not shadow the file and env values.
		if f.Changed {
			_ = v.BindPFlag(f.Name, f)
		}
	})

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.URL == "" {
		return nil, ErrNoURL
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("url", cfg.URL).Msg("config ready")
	return &cfg, nil
}
