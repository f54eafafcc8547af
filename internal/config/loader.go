package config

import (
	"time"

	"github.com/zyliufeng123/zhiguan-system/internal/db"

	"github.com/spf13/viper"
)

// Config gathers the runtime settings of the service.
type Config struct {
	ListenAddr     string
	Database       db.Config
	ImportWorkers  int
	ImportQueue    int
	StagingDir     string
	StagingTTL     time.Duration
	MigrationsPath string
}

// Defaults mirrors the development setup.
func Defaults() Config {
	return Config{
		ListenAddr:     ":8080",
		Database:       db.DefaultConfig(),
		ImportWorkers:  2,
		ImportQueue:    64,
		StagingDir:     "./staging",
		StagingTTL:     24 * time.Hour,
		MigrationsPath: "./migrations",
	}
}

// Load reads config.yaml from configPath with environment overrides
// (ZHIGUAN_DATABASE_HOST and so on). A missing file is fine; defaults and
// env vars apply.
func Load(configPath string) (Config, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("ZHIGUAN")

	v.BindEnv("server.addr")
	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("import.workers")
	v.BindEnv("import.queue")
	v.BindEnv("import.staging_dir")
	v.BindEnv("import.staging_ttl_hours")
	v.BindEnv("import.migrations_path")

	// Config file not found is not an error; defaults + env apply.
	_ = v.ReadInConfig()

	if v.IsSet("server.addr") {
		cfg.ListenAddr = v.GetString("server.addr")
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
	if v.IsSet("import.workers") {
		cfg.ImportWorkers = v.GetInt("import.workers")
	}
	if v.IsSet("import.queue") {
		cfg.ImportQueue = v.GetInt("import.queue")
	}
	if v.IsSet("import.staging_dir") {
		cfg.StagingDir = v.GetString("import.staging_dir")
	}
	if v.IsSet("import.staging_ttl_hours") {
		cfg.StagingTTL = time.Duration(v.GetInt("import.staging_ttl_hours")) * time.Hour
	}
	if v.IsSet("import.migrations_path") {
		cfg.MigrationsPath = v.GetString("import.migrations_path")
	}

	return cfg, nil
}
