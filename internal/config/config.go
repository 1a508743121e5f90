package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type RateLimit struct {
	Requests int           `mapstructure:"requests"`
	Interval time.Duration `mapstructure:"interval"`
}

type WebRTC struct {
	STUNURLs      []string      `mapstructure:"stun_urls"`
	PublicIP      string        `mapstructure:"public_ip"`
	UDPPortMin    uint16        `mapstructure:"udp_port_min"`
	UDPPortMax    uint16        `mapstructure:"udp_port_max"`
	GatherTimeout time.Duration `mapstructure:"gather_timeout"`
}

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`
	// Engine selects the media engine: "webrtc" or "memory".
	Engine     string    `mapstructure:"engine"`
	SendBuffer int       `mapstructure:"send_buffer"`
	RateLimit  RateLimit `mapstructure:"rate_limit"`
	WebRTC     WebRTC    `mapstructure:"webrtc"`
}

const envPrefix = "HUDDLE"

func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile reads fileName over the defaults; a missing file is not an error.
// HUDDLE_* variables override both, e.g. HUDDLE_RATE_LIMIT_REQUESTS.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	v.SetEnvPrefix(envPrefix)
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
	if cfg.Engine != "webrtc" && cfg.Engine != "memory" {
		return nil, fmt.Errorf("unknown engine %q", cfg.Engine)
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("engine", cfg.Engine).
		Msg("config ready")
	return &cfg, nil
}

// Every key needs a default so AutomaticEnv can see it on Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "huddle-dev-secret")
	v.SetDefault("log_level", "info")
	v.SetDefault("engine", "webrtc")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("rate_limit.requests", 50)
	v.SetDefault("rate_limit.interval", "1s")
	v.SetDefault("webrtc.stun_urls", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("webrtc.public_ip", "")
	v.SetDefault("webrtc.udp_port_min", 0)
	v.SetDefault("webrtc.udp_port_max", 0)
	v.SetDefault("webrtc.gather_timeout", "5s")
}
