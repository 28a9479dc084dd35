package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "DESKRELAY"

type Config struct {
	Mode             string        `mapstructure:"mode"`
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	ReadLimit        int64         `mapstructure:"read_limit"`
	PingPeriod       time.Duration `mapstructure:"ping_period"`
	PongWait         time.Duration `mapstructure:"pong_wait"`
	WriteWait        time.Duration `mapstructure:"write_wait"`
	SendBuffer       int           `mapstructure:"send_buffer"`
	Backpressure     string        `mapstructure:"backpressure"`
	RegisterLimit    int           `mapstructure:"register_limit"`
	RegisterInterval time.Duration `mapstructure:"register_interval"`
	LogLevel         string        `mapstructure:"log_level"`
	LogFormat        string        `mapstructure:"log_format"`
	CORSOrigins      []string      `mapstructure:"cors_origins"`
	Secret           string        `mapstructure:"secret"`
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Mode {
	case "debug", "release", "test":
	default:
		errs = append(errs, fmt.Errorf("mode must be debug, release or test, got %q", c.Mode))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port out of range: %d", c.Port))
	}
	if c.ReadLimit <= 0 {
		errs = append(errs, errors.New("read_limit must be positive"))
	}
	if c.PingPeriod <= 0 || c.PongWait <= c.PingPeriod {
		errs = append(errs, errors.New("pong_wait must exceed a positive ping_period"))
	}
	if c.WriteWait <= 0 {
		errs = append(errs, errors.New("write_wait must be positive"))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, errors.New("send_buffer must be positive"))
	}
	switch c.Backpressure {
	case "drop", "kick":
	default:
		errs = append(errs, fmt.Errorf("backpressure must be drop or kick, got %q", c.Backpressure))
	}
	if c.RegisterLimit <= 0 || c.RegisterInterval <= 0 {
		errs = append(errs, errors.New("register_limit and register_interval must be positive"))
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be console or json, got %q", c.LogFormat))
	}
	if c.Secret == "" {
		errs = append(errs, errors.New("secret must not be empty"))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 5000)
	v.SetDefault("read_limit", 4<<20)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "10s")
	v.SetDefault("send_buffer", 256)
	v.SetDefault("backpressure", "drop")
	v.SetDefault("register_limit", 10)
	v.SetDefault("register_interval", "10s")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("cors_origins", []string{"*"})
	v.SetDefault("secret", "remote-desktop-secret-key")
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("deskrelay", pflag.ContinueOnError)
	fs.String("config", "", "path to a YAML config file")
	fs.String("mode", "release", "gin mode: debug, release or test")
	fs.String("host", "0.0.0.0", "listen host")
	fs.Int("port", 5000, "listen port")
	fs.String("log-level", "info", "zerolog level")
	fs.String("backpressure", "drop", "slow consumer policy: drop or kick")
	return fs
}

// Load resolves configuration from defaults, the YAML file, DESKRELAY_*
// environment variables and command-line flags, in increasing priority.
func Load(args []string) (*Config, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	for key, flag := range map[string]string{
		"mode":         "mode",
		"host":         "host",
		"port":         "port",
		"log_level":    "log-level",
		"backpressure": "backpressure",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}

	explicit, _ := fs.GetString("config")
	fileName := explicit
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(fileName)

	if err := v.ReadInConfig(); err != nil {
		if explicit != "" {
			return nil, fmt.Errorf("read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Str("addr", cfg.Addr()).Str("backpressure", cfg.Backpressure).Msg("config ready")
	return &cfg, nil
}
