// Package config provides configuration management for the rebalancer.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/limiquantix/rebalancer/internal/domain"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	VSphere  VSphereConfig  `mapstructure:"vsphere"`
	Planner  PlannerConfig  `mapstructure:"planner"`
	DRS      DRSConfig      `mapstructure:"drs"`
	Database DatabaseConfig `mapstructure:"database"`
	Etcd     EtcdConfig     `mapstructure:"etcd"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	CORS     CORSConfig     `mapstructure:"cors"`
}

// ServerConfig holds status HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address string.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// VSphereConfig holds vCenter connection and inventory collection settings.
type VSphereConfig struct {
	Host       string `mapstructure:"host"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	Insecure   bool   `mapstructure:"insecure"`
	Datacenter string `mapstructure:"datacenter"`
	Cluster    string `mapstructure:"cluster"`

	// Capacities used when a host does not report them, in MB/s.
	DefaultDiskCapacity    float64 `mapstructure:"default_disk_capacity"`
	DefaultNetworkCapacity float64 `mapstructure:"default_network_capacity"`

	// PinnedPrefixes lists VM name prefixes that are never migrated.
	PinnedPrefixes []string      `mapstructure:"pinned_prefixes"`
	MigrateTimeout time.Duration `mapstructure:"migrate_timeout"`
}

// PlannerConfig holds the migration planner settings.
type PlannerConfig struct {
	Metrics            []string `mapstructure:"metrics"`
	Aggressiveness     int      `mapstructure:"aggressiveness"`
	MaxMigrations      int      `mapstructure:"max_migrations"`
	ApplyAntiAffinity  bool     `mapstructure:"apply_anti_affinity"`
	ApplyBalance       bool     `mapstructure:"apply_balance"`
	IgnoreAntiAffinity bool     `mapstructure:"ignore_anti_affinity"`
}

// PlanConfig converts the settings into a validated planning configuration.
func (c PlannerConfig) PlanConfig() (domain.PlanConfig, error) {
	metrics, err := domain.ParseMetrics(c.Metrics)
	if err != nil {
		return domain.PlanConfig{}, err
	}
	cfg := domain.PlanConfig{
		Metrics:            metrics,
		Aggressiveness:     c.Aggressiveness,
		MaxMigrations:      c.MaxMigrations,
		ApplyAntiAffinity:  c.ApplyAntiAffinity,
		ApplyBalance:       c.ApplyBalance,
		IgnoreAntiAffinity: c.IgnoreAntiAffinity,
	}
	if err := cfg.Validate(); err != nil {
		return domain.PlanConfig{}, err
	}
	return cfg, nil
}

// DRSConfig holds the periodic rebalancing engine configuration.
type DRSConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	DryRun           bool          `mapstructure:"dry_run"`
	Interval         time.Duration `mapstructure:"interval"`
	HistoryRetention time.Duration `mapstructure:"history_retention"`
	LeaderElection   bool          `mapstructure:"leader_election"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// URL returns the PostgreSQL connection URL used by migrations.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

// EtcdConfig holds etcd configuration.
type EtcdConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	ElectionKey string        `mapstructure:"election_key"`
	SessionTTL  int           `mapstructure:"session_ttl"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Address returns the Redis address string.
func (c RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Environment variables
	v.SetEnvPrefix("REBALANCER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 9090)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// vSphere
	v.SetDefault("vsphere.insecure", false)
	v.SetDefault("vsphere.default_disk_capacity", 1000.0)
	v.SetDefault("vsphere.default_network_capacity", 1250.0)
	v.SetDefault("vsphere.pinned_prefixes", []string{})
	v.SetDefault("vsphere.migrate_timeout", "30m")

	// Planner
	v.SetDefault("planner.metrics", []string{"cpu", "memory", "disk", "network"})
	v.SetDefault("planner.aggressiveness", domain.DefaultAggressiveness)
	v.SetDefault("planner.max_migrations", domain.DefaultMaxMigrations)
	v.SetDefault("planner.apply_anti_affinity", true)
	v.SetDefault("planner.apply_balance", true)
	v.SetDefault("planner.ignore_anti_affinity", false)

	// DRS
	v.SetDefault("drs.enabled", true)
	v.SetDefault("drs.dry_run", true)
	v.SetDefault("drs.interval", "5m")
	v.SetDefault("drs.history_retention", "168h")
	v.SetDefault("drs.leader_election", false)

	// Database
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "rebalancer")
	v.SetDefault("database.user", "rebalancer")
	v.SetDefault("database.password", "rebalancer")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// etcd
	v.SetDefault("etcd.enabled", false)
	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.dial_timeout", "5s")
	v.SetDefault("etcd.election_key", "/rebalancer/leader")
	v.SetDefault("etcd.session_ttl", 10)

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "1h")

	// Metrics
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// CORS
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"*"})
	v.SetDefault("cors.allow_credentials", false)
}
