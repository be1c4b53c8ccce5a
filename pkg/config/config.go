package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// AppConfig holds the complete configuration for the application
type AppConfig struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	ServiceName string         `mapstructure:"service_name"`
	Database    DatabaseConfig `mapstructure:"database"`
	Store       StoreConfig    `mapstructure:"store"`
	Server      ServerConfig   `mapstructure:"server"`
	Import      ImportConfig   `mapstructure:"import"`
}

type DatabaseConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	Name           string        `mapstructure:"name"`
	Schema         string        `mapstructure:"schema"`
	Table          string        `mapstructure:"table"`
	SSLMode        string        `mapstructure:"sslmode"`
	MaxConns       int           `mapstructure:"max_conns"`
	MinConns       int           `mapstructure:"min_conns"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type StoreConfig struct {
	Debug                bool          `mapstructure:"debug"`
	RetryLimit           int           `mapstructure:"retry_limit"`
	RetryInitialInterval time.Duration `mapstructure:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `mapstructure:"retry_max_interval"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type ImportConfig struct {
	Workers int `mapstructure:"workers"`
}

// Load loads configuration from file and environment variables
func Load(path string) (*AppConfig, error) {
	v := viper.New()

	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("service_name", "playerpoints")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.table", "playerpoints")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.connect_timeout", 5*time.Second)
	v.SetDefault("store.debug", false)
	v.SetDefault("store.retry_limit", 10)
	v.SetDefault("store.retry_initial_interval", 100*time.Millisecond)
	v.SetDefault("store.retry_max_interval", 5*time.Second)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("import.workers", 4)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	// Nested keys are only picked up by Unmarshal when bound explicitly
	v.BindEnv("service_name", "SERVICE_NAME")
	v.BindEnv("environment", "ENVIRONMENT")
	v.BindEnv("log_level", "LOG_LEVEL")
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.port", "DATABASE_PORT")
	v.BindEnv("database.user", "DATABASE_USER")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("database.name", "DATABASE_NAME")
	v.BindEnv("database.schema", "DATABASE_SCHEMA")
	v.BindEnv("database.table", "DATABASE_TABLE")
	v.BindEnv("database.sslmode", "DATABASE_SSLMODE")
	v.BindEnv("database.max_conns", "DATABASE_MAX_CONNS")
	v.BindEnv("database.min_conns", "DATABASE_MIN_CONNS")
	v.BindEnv("database.connect_timeout", "DATABASE_CONNECT_TIMEOUT")
	v.BindEnv("store.debug", "STORE_DEBUG")
	v.BindEnv("store.retry_limit", "STORE_RETRY_LIMIT")
	v.BindEnv("store.retry_initial_interval", "STORE_RETRY_INITIAL_INTERVAL")
	v.BindEnv("store.retry_max_interval", "STORE_RETRY_MAX_INTERVAL")
	v.BindEnv("server.addr", "SERVER_ADDR")
	v.BindEnv("import.workers", "IMPORT_WORKERS")

	var config AppConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks if the configuration is valid
func (c *AppConfig) Validate() error {
	if c.ServiceName == "" {
		return errors.New("service_name is required")
	}
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if c.Store.RetryLimit < 0 {
		return errors.New("store.retry_limit must not be negative")
	}
	if c.Store.RetryInitialInterval < 0 || c.Store.RetryMaxInterval < 0 {
		return errors.New("store retry intervals must not be negative")
	}
	if c.Import.Workers < 1 {
		return errors.New("import.workers must be at least 1")
	}
	return nil
}

// Validate checks the database section on its own
func (c *DatabaseConfig) Validate() error {
	if c.Host == "" {
		return errors.New("database.host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("database.port %d is out of range", c.Port)
	}
	if c.User == "" {
		return errors.New("database.user is required")
	}
	if c.Name == "" {
		return errors.New("database.name is required")
	}
	if !identifierPattern.MatchString(c.Table) {
		return fmt.Errorf("database.table %q is not a plain identifier", c.Table)
	}
	if c.Schema != "" && !identifierPattern.MatchString(c.Schema) {
		return fmt.Errorf("database.schema %q is not a plain identifier", c.Schema)
	}
	if c.MinConns < 0 || c.MaxConns < 1 || c.MinConns > c.MaxConns {
		return fmt.Errorf("invalid pool bounds: min_conns=%d max_conns=%d", c.MinConns, c.MaxConns)
	}
	return nil
}

// DSN renders a keyword/value connection string understood by pgx
func (c *DatabaseConfig) DSN() string {
	parts := []string{
		"host=" + quoteDSN(c.Host),
		fmt.Sprintf("port=%d", c.Port),
		"user=" + quoteDSN(c.User),
		"dbname=" + quoteDSN(c.Name),
	}
	if c.Password != "" {
		parts = append(parts, "password="+quoteDSN(c.Password))
	}
	if c.SSLMode != "" {
		parts = append(parts, "sslmode="+quoteDSN(c.SSLMode))
	}
	return strings.Join(parts, " ")
}

func quoteDSN(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}
