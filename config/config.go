package config

import (
	"github.com/go-errors/errors"
	"github.com/jinzhu/configor"
	"go.uber.org/zap"
)

// EnvPrefix is the prefix of environment variables overriding file settings,
// e.g. HERALDING_SERVER_BANNER
const EnvPrefix = "HERALDING"

// Config is the complete honeypot configuration
type Config struct {
	Mode string `default:"debug"`

	Log      LoggerConfig
	Server   ServerConfig
	Sessions SessionConfig
	Metrics  MetricsConfig
}

// LoggerConfig is turned into a zap.Config by Build
type LoggerConfig struct {
	Level       string   `default:"info"`
	Encoding    string   // "console" or "json", empty keeps the mode's default
	OutputPaths []string // defaults to stderr
}

// ServerConfig is what the SMTP listener presents to clients
type ServerConfig struct {
	HostPort string `default:":2525"`
	// Banner is sent as "220 <Banner>" and repeated in the EHLO reply
	Banner   string `default:"Microsoft ESMTP MAIL service ready"`
	Hostname string `default:"localhost"` // announced in the HELO reply
}

// SessionConfig configures the sessions recording each connection
type SessionConfig struct {
	// Accounts are decoy username/password pairs the session reports as valid.
	// The SMTP channel rejects every login regardless.
	Accounts map[string]string
	// ReverseDNS is the host:port of a DNS server used for PTR lookups of
	// peers, empty disables the lookups
	ReverseDNS        string
	ReverseDNSTimeout int `default:"2"` // seconds
}

// MetricsConfig configures the prometheus endpoint
type MetricsConfig struct {
	Addr string // e.g. ":9100", empty disables the /metrics endpoint
	Path string `default:"/metrics"`
}

// Load loads configuration from the given files (YAML, TOML or JSON, by
// extension), missing files are skipped and defaults apply
func Load(files ...string) (*Config, error) {
	c := &Config{}
	err := configor.New(&configor.Config{ENVPrefix: EnvPrefix}).Load(c, files...)
	if err != nil {
		return nil, errors.WrapPrefix(err, "load config", 0)
	}
	return c, nil
}

// Default returns the configuration used when no file is given
func Default() *Config {
	c, err := Load()
	if err != nil {
		// only defaults and environment are involved, failing here is a programming error
		panic(err)
	}
	return c
}

// Debug reports whether the honeypot runs in debug mode
func (c *Config) Debug() bool {
	return c.Mode == "debug"
}

// Logger builds the zap logger described by the configuration
func (c *Config) Logger() (*zap.Logger, error) {
	return c.Log.Build(c.Debug())
}

// Build builds a zap logger, development settings are used in debug mode
func (l LoggerConfig) Build(debug bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if debug {
		zc = zap.NewDevelopmentConfig()
	}
	if l.Level != "" {
		level, err := zap.ParseAtomicLevel(l.Level)
		if err != nil {
			return nil, errors.WrapPrefix(err, "log level", 0)
		}
		zc.Level = level
	}
	if l.Encoding != "" {
		zc.Encoding = l.Encoding
	}
	if len(l.OutputPaths) != 0 {
		zc.OutputPaths = l.OutputPaths
	}
	return zc.Build()
}
