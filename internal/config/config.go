// Package config loads recordbase settings from a YAML file and applies
// RECORDBASE_* environment overrides on top.
package config

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.yaml.in/yaml/v3"

	"github.com/koustreak/recordbase/internal/access"
	"github.com/koustreak/recordbase/internal/database"
	"github.com/koustreak/recordbase/internal/errs"
	"github.com/koustreak/recordbase/internal/filestore"
	"github.com/koustreak/recordbase/internal/logger"
	"github.com/koustreak/recordbase/internal/query"
	"github.com/koustreak/recordbase/internal/schema"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RECORDBASE_"

// Config is the full server configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"        envPrefix:"SERVER_"`
	Database      DatabaseConfig      `yaml:"database"      envPrefix:"DATABASE_"`
	Log           LogConfig           `yaml:"log"           envPrefix:"LOG_"`
	Records       RecordsConfig       `yaml:"records"       envPrefix:"RECORDS_"`
	Subscriptions SubscriptionsConfig `yaml:"subscriptions" envPrefix:"SUBSCRIPTIONS_"`
	Access        AccessConfig        `yaml:"access"`
	Archive       ArchiveConfig       `yaml:"archive"       envPrefix:"ARCHIVE_"`
	Schema        SchemaConfig        `yaml:"schema"        envPrefix:"SCHEMA_"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address         string          `yaml:"address"          env:"ADDRESS"`
	CORSOrigins     []string        `yaml:"cors_origins"     env:"CORS_ORIGINS" envSeparator:","`
	RateLimit       RateLimitConfig `yaml:"rate_limit"       envPrefix:"RATE_LIMIT_"`
	JWTSecret       string          `yaml:"jwt_secret"       env:"JWT_SECRET"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// RateLimitConfig is a per-client token bucket. RPS 0 disables limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"   env:"RPS"`
	Burst int     `yaml:"burst" env:"BURST"`
}

// DatabaseConfig selects and tunes the store.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"             env:"DRIVER"`
	DSN             string        `yaml:"dsn"                env:"DSN"`
	MaxConns        int32         `yaml:"max_conns"          env:"MAX_CONNS"`
	MinConns        int32         `yaml:"min_conns"          env:"MIN_CONNS"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"  env:"MAX_CONN_LIFETIME"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"MAX_CONN_IDLE_TIME"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"    env:"CONNECT_TIMEOUT"`
	QueryTimeout    time.Duration `yaml:"query_timeout"      env:"QUERY_TIMEOUT"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// TableConfig exposes one table, optionally restricting its relations.
type TableConfig struct {
	Name   string   `yaml:"name"`
	Expand []string `yaml:"expand"`
}

// RecordsConfig tunes the record API.
type RecordsConfig struct {
	DefaultLimit int           `yaml:"default_limit" env:"DEFAULT_LIMIT"`
	MaxLimit     int           `yaml:"max_limit"     env:"MAX_LIMIT"`
	CountTimeout time.Duration `yaml:"count_timeout" env:"COUNT_TIMEOUT"`
	// Tables lists exposed tables. Empty exposes every table.
	Tables []TableConfig `yaml:"tables"`
}

// SubscriptionsConfig tunes change streams.
type SubscriptionsConfig struct {
	QueueSize int           `yaml:"queue_size" env:"QUEUE_SIZE"`
	Keepalive time.Duration `yaml:"keepalive"  env:"KEEPALIVE"`
}

// RuleConfig is one access rule.
type RuleConfig struct {
	Table       string   `yaml:"table"`
	Read        []string `yaml:"read"`
	Write       []string `yaml:"write"`
	OwnerColumn string   `yaml:"owner_column"`
}

// AccessConfig holds the access policy. Without rules every caller may
// read and write every exposed table.
type AccessConfig struct {
	Rules []RuleConfig `yaml:"rules"`
}

// ArchiveConfig configures the object storage change archive.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"        env:"ENABLED"`
	Endpoint      string        `yaml:"endpoint"       env:"ENDPOINT"`
	AccessKey     string        `yaml:"access_key"     env:"ACCESS_KEY"`
	SecretKey     string        `yaml:"secret_key"     env:"SECRET_KEY"`
	UseSSL        bool          `yaml:"use_ssl"        env:"USE_SSL"`
	Region        string        `yaml:"region"         env:"REGION"`
	Bucket        string        `yaml:"bucket"         env:"BUCKET"`
	BatchSize     int           `yaml:"batch_size"     env:"BATCH_SIZE"`
	Buffer        int           `yaml:"buffer"         env:"BUFFER"`
	FlushInterval time.Duration `yaml:"flush_interval" env:"FLUSH_INTERVAL"`
}

// SchemaConfig controls schema change detection. Zero disables polling.
type SchemaConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":4000",
			RateLimit:       RateLimitConfig{RPS: 50, Burst: 100},
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          string(database.DriverSQLite),
			DSN:             "recordbase.db",
			MaxConns:        8,
			MinConns:        1,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			ConnectTimeout:  10 * time.Second,
			QueryTimeout:    30 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Records: RecordsConfig{
			DefaultLimit: query.DefaultLimit,
			MaxLimit:     query.MaxLimit,
			CountTimeout: 5 * time.Second,
		},
		Subscriptions: SubscriptionsConfig{QueueSize: 256, Keepalive: 15 * time.Second},
		Archive: ArchiveConfig{
			Bucket:        "recordbase-changes",
			BatchSize:     500,
			Buffer:        4096,
			FlushInterval: 10 * time.Second,
		},
		Schema: SchemaConfig{PollInterval: 5 * time.Second},
	}
}

// Load reads path (skipped when empty), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to open config file", err)
		}
		defer f.Close()
		if err := decode(f, cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg, nil); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode merges a YAML document into cfg. Unknown keys are rejected.
func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return errs.Wrap(errs.ErrKindInvalidInput, "failed to parse config file", err)
	}
	return nil
}

// applyEnv applies overrides from environ, or the process environment when
// environ is nil.
func applyEnv(cfg *Config, environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return errs.Wrap(errs.ErrKindInvalidInput, "failed to parse environment overrides", err)
	}
	return nil
}

// Validate reports every invalid setting in one error.
func (c *Config) Validate() error {
	var problems []string
	switch database.Driver(c.Database.Driver) {
	case database.DriverSQLite, database.DriverPostgres, database.DriverMySQL:
	default:
		problems = append(problems, "database.driver must be sqlite, postgres or mysql")
	}
	if c.Database.DSN == "" {
		problems = append(problems, "database.dsn is required")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, "log.level must be debug, info, warn or error")
	}
	if f := strings.ToLower(c.Log.Format); f != "json" && f != "console" {
		problems = append(problems, "log.format must be json or console")
	}
	if c.Records.DefaultLimit <= 0 || c.Records.MaxLimit <= 0 || c.Records.DefaultLimit > c.Records.MaxLimit {
		problems = append(problems, "records limits must be positive with default_limit <= max_limit")
	}
	if c.Server.RateLimit.RPS < 0 || (c.Server.RateLimit.RPS > 0 && c.Server.RateLimit.Burst <= 0) {
		problems = append(problems, "server.rate_limit needs a positive burst when rps is set")
	}
	for _, t := range c.Records.Tables {
		if t.Name == "" {
			problems = append(problems, "records.tables entries need a name")
		}
	}
	for _, r := range c.Access.Rules {
		if r.Table == "" {
			problems = append(problems, "access.rules entries need a table")
		}
	}
	if c.Archive.Enabled && (c.Archive.Endpoint == "" || c.Archive.Bucket == "") {
		problems = append(problems, "archive.endpoint and archive.bucket are required when the archive is enabled")
	}
	if len(problems) > 0 {
		return errs.New(errs.ErrKindInvalidInput, "invalid configuration: "+strings.Join(problems, "; "))
	}
	return nil
}

// StoreConfig converts the database section.
func (c *Config) StoreConfig() *database.Config {
	d := c.Database
	return &database.Config{
		Driver:          database.Driver(d.Driver),
		DSN:             d.DSN,
		MaxConns:        d.MaxConns,
		MinConns:        d.MinConns,
		MaxConnLifetime: d.MaxConnLifetime,
		MaxConnIdleTime: d.MaxConnIdleTime,
		ConnectTimeout:  d.ConnectTimeout,
		QueryTimeout:    d.QueryTimeout,
	}
}

// LoggerConfig converts the log section. Output goes to stdout.
func (c *Config) LoggerConfig() *logger.Config {
	lc := logger.DefaultConfig()
	lc.Level = strings.ToLower(c.Log.Level)
	lc.Format = strings.ToLower(c.Log.Format)
	return lc
}

// Limits returns the page size bounds.
func (c *Config) Limits() query.Limits {
	return query.Limits{Default: c.Records.DefaultLimit, Max: c.Records.MaxLimit}
}

// TableConfigs returns the exposed table list for the schema registry.
func (c *Config) TableConfigs() []schema.TableConfig {
	out := make([]schema.TableConfig, len(c.Records.Tables))
	for i, t := range c.Records.Tables {
		out[i] = schema.TableConfig{Name: t.Name, Expand: t.Expand}
	}
	return out
}

// Authorizer builds the access policy, or AllowAll without rules.
func (c *Config) Authorizer() access.Authorizer {
	if len(c.Access.Rules) == 0 {
		return access.AllowAll{}
	}
	rules := make([]access.Rule, len(c.Access.Rules))
	for i, r := range c.Access.Rules {
		rules[i] = access.Rule{Table: r.Table, Read: r.Read, Write: r.Write, OwnerColumn: r.OwnerColumn}
	}
	return access.NewPolicy(rules)
}

// FilestoreConfig converts the archive section.
func (c *Config) FilestoreConfig() *filestore.Config {
	a := c.Archive
	return &filestore.Config{
		Provider:  filestore.ProviderMinIO,
		Endpoint:  a.Endpoint,
		AccessKey: a.AccessKey,
		SecretKey: a.SecretKey,
		UseSSL:    a.UseSSL,
		Region:    a.Region,
		Bucket:    a.Bucket,
	}
}

// Redacted returns a copy safe to print, secrets masked.
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.Server.JWTSecret != "" {
		cp.Server.JWTSecret = "***"
	}
	if cp.Archive.SecretKey != "" {
		cp.Archive.SecretKey = "***"
	}
	if cp.Database.DSN != "" && cp.Database.Driver != string(database.DriverSQLite) {
		cp.Database.DSN = "***"
	}
	return &cp
}

// YAML renders c as a YAML document.
func (c *Config) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
