package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the HTTP listener settings under "server".
type Config struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	DataDir  string `mapstructure:"data_dir"`
	ReadOnly bool   `mapstructure:"read_only"`
}

// Addr returns host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

var envKeyReplacer = strings.NewReplacer(".", "_")

// ServerConfig reads the "server" section key by key so environment
// overrides and defaults both apply.
func ServerConfig(v *viper.Viper) Config {
	return Config{
		Host:     v.GetString("server.host"),
		Port:     v.GetInt("server.port"),
		DataDir:  v.GetString("server.data_dir"),
		ReadOnly: v.GetBool("server.read_only"),
	}
}

// LoadConfig reads upkeep.yaml (or configPath) and UPKEEP_* environment
// variables on top of built-in defaults. A missing config file is not an
// error.
func LoadConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("upkeep")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/upkeep")
	}

	// UPKEEP_SERVER_PORT=9090, UPKEEP_SCHEDULE_WARNING_DAYS=30
	v.SetEnvPrefix("UPKEEP")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return v, nil
}

// SetDefaults installs every default the server and its modules rely on.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.data_dir", "./data")
	v.SetDefault("server.read_only", false)
	v.SetDefault("server.rate_limit_rps", 50)
	v.SetDefault("server.rate_limit_burst", 100)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("database.path", "./data/upkeep.db")

	v.SetDefault("schedule.warning_fraction", 0.20)
	v.SetDefault("schedule.warning_days", 7)
	v.SetDefault("schedule.critical_days", 0)
	v.SetDefault("schedule.max_horizon_days", 366)
	v.SetDefault("schedule.default_horizon_days", 7)

	v.SetDefault("modules.fleet.scan_interval", "1h")
	v.SetDefault("modules.fleet.history_retention", "8760h")
	v.SetDefault("modules.fleet.seed_demo", false)
	v.SetDefault("modules.notify.urls", []string{})
	v.SetDefault("modules.notify.cooldown", "24h")
	v.SetDefault("modules.notify.min_status", "critical")
	v.SetDefault("modules.ws.max_clients", 64)
	v.SetDefault("modules.ws.origins", []string{})

	v.SetDefault("backup.dir", "./data/backups")
	v.SetDefault("backup.keep", 7)
}
