package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/rpattn/engsnap/internal/db"
	"github.com/rpattn/engsnap/internal/domain"
	"github.com/rpattn/engsnap/internal/duplicates"
)

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
	LogMode        string
}

// EngineConfig holds the comparison/restore tunables.
type EngineConfig struct {
	// DoubleTolerance is the absolute tolerance for DOUBLE comparisons.
	DoubleTolerance float64
	// BackupPolicy decides what a failed pre-restore backup does.
	BackupPolicy domain.BackupPolicy
	// NameFields is the ordered list of name-like parameters the duplicate
	// scanner consults; localized hosts store the name under different keys.
	NameFields []string
	// Workers bounds parallel comparison and duplicate lookups.
	Workers int
}

// Config is the full process configuration.
type Config struct {
	Database db.Config
	Server   ServerConfig
	Engine   EngineConfig
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database: db.DefaultConfig(),
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
			LogMode:        "dev",
		},
		Engine: EngineConfig{
			DoubleTolerance: domain.DefaultDoubleTolerance,
			BackupPolicy:    domain.BackupRequire,
			NameFields:      duplicates.DefaultNameFields,
			Workers:         4,
		},
	}
}

// Load reads config.yaml from configPath, with ENGSNAP_-prefixed environment
// overrides. A missing file is not an error; defaults and env still apply.
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("ENGSNAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for _, key := range []string{
		"database.host", "database.port", "database.user", "database.password",
		"database.dbname", "database.sslmode",
		"server.addr", "server.allowed_origins", "server.log_mode",
		"engine.double_tolerance", "engine.backup_policy", "engine.name_fields",
		"engine.workers",
	} {
		if err := v.BindEnv(key); err != nil {
			return cfg, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}

	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}
	if v.IsSet("server.log_mode") {
		cfg.Server.LogMode = v.GetString("server.log_mode")
	}

	if v.IsSet("engine.double_tolerance") {
		cfg.Engine.DoubleTolerance = v.GetFloat64("engine.double_tolerance")
	}
	if v.IsSet("engine.backup_policy") {
		policy := domain.BackupPolicy(strings.ToUpper(v.GetString("engine.backup_policy")))
		if policy != domain.BackupRequire && policy != domain.BackupWarn {
			return cfg, fmt.Errorf("invalid engine.backup_policy %q", v.GetString("engine.backup_policy"))
		}
		cfg.Engine.BackupPolicy = policy
	}
	if v.IsSet("engine.name_fields") {
		cfg.Engine.NameFields = v.GetStringSlice("engine.name_fields")
	}
	if v.IsSet("engine.workers") {
		cfg.Engine.Workers = v.GetInt("engine.workers")
	}

	return cfg, nil
}
