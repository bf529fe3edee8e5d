package config

import (
	"net"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Config describes all configuration options
type Config struct {
	Brand string `default:"Void" usage:"Brand name reported as the server version"`
	Log   struct {
		Level string `default:"info" usage:"Log level (debug, info, warn, error or fatal)"`
		File  string `usage:"Write logs to this file instead of stderr"`
		JSON  bool   `default:"false" usage:"Output JSONND instead of pretty console messages"`
	}
	Listener struct {
		Address        string        `default:"127.0.0.1:25565" usage:"Listening address"`
		Timeout        time.Duration `default:"10s" usage:"Deadline for a complete exchange on one connection"`
		MaxConnections int           `default:"0" usage:"Maximum number of concurrent connections (0 means unlimited)"`
	}
	Status struct {
		MOTD      string `usage:"Description shown in the server list"`
		CacheSize int    `default:"64" usage:"Number of encoded status responses to keep"`
	}
	Login struct {
		Message string `default:"Your IP address is {ip}" usage:"Disconnect message sent on login; {ip} is replaced with the client's IP"`
	}
	Store struct {
		Path string `usage:"bbolt database to record visits in (disabled if empty)"`
	}
}

var logLevels = map[string]zerolog.Level{
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

func loaderConfig() aconfig.Config {
	return aconfig.Config{
		EnvPrefix: "GLASS",
		Files:     []string{"glass.toml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	}
}

// Loader initializes an empty config object and returns a new Loader for this object
func Loader() (*Config, *aconfig.Loader) {
	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, loaderConfig())
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	if _, _, err := net.SplitHostPort(cfg.Listener.Address); err != nil {
		return eris.Wrapf(err, "Invalid value for listener.address: %s", cfg.Listener.Address)
	}

	if _, ok := logLevels[cfg.Log.Level]; !ok {
		return eris.Errorf("Invalid value for log.level: %s", cfg.Log.Level)
	}

	if cfg.Brand == "" {
		return eris.New("brand must not be empty")
	}

	if cfg.Listener.Timeout <= 0 {
		return eris.Errorf("Invalid value for listener.timeout: %s (must be positive)", cfg.Listener.Timeout)
	}

	if cfg.Listener.MaxConnections < 0 {
		return eris.Errorf("Invalid value for listener.max_connections: %d", cfg.Listener.MaxConnections)
	}

	if cfg.Status.CacheSize < 0 {
		return eris.Errorf("Invalid value for status.cache_size: %d", cfg.Status.CacheSize)
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}

// LoginMessage renders the login disconnect message for the given client IP
func (cfg *Config) LoginMessage(ip string) string {
	return strings.ReplaceAll(cfg.Login.Message, "{ip}", ip)
}
