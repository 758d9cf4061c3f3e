// Package config loads meshcore settings from defaults, an optional YAML file
// and MESHCORE_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"meshcore/pkg/resource"
)

// Storage drivers accepted by Server.Storage.Driver.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageBlob     = "blob"
)

type Config struct {
	Server    Server              `yaml:"server"`
	Client    Client              `yaml:"client"`
	Log       Log                 `yaml:"log"`
	Metrics   Metrics             `yaml:"metrics"`
	Resources []resource.Resource `yaml:"resources"`

	// LoadedFrom lists the sources applied, lowest precedence first.
	LoadedFrom []string `yaml:"-"`
}

type Server struct {
	Addr    string  `yaml:"addr" validate:"required"`
	Storage Storage `yaml:"storage"`
}

type Storage struct {
	Driver      string `yaml:"driver" validate:"oneof=memory sqlite postgres blob"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
	Blob        Blob   `yaml:"blob"`
}

// Blob selects the object store behind the blob storage driver.
type Blob struct {
	Driver    string `yaml:"driver" validate:"oneof=fs s3 memory"`
	Root      string `yaml:"root"`
	Prefix    string `yaml:"prefix"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

type Client struct {
	BaseURL string        `yaml:"base_url" validate:"required,url"`
	Timeout time.Duration `yaml:"timeout"`
}

type Log struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

type Metrics struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Path      string `yaml:"path"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: Server{
			Addr: ":8080",
			Storage: Storage{
				Driver:     StorageMemory,
				SQLitePath: "meshcore.db",
				Blob:       Blob{Driver: "fs", Root: "./blobdata", Prefix: "state/", Region: "us-east-1"},
			},
		},
		Client:  Client{BaseURL: "http://localhost:8080", Timeout: 30 * time.Second},
		Log:     Log{Level: "info"},
		Metrics: Metrics{Enabled: true, Namespace: "meshcore", Path: "/metrics"},
	}
}

// Load builds the configuration. An empty path skips the file layer; a
// missing file at an explicit path is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.LoadedFrom = append(cfg.LoadedFrom, "defaults")
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		cfg.LoadedFrom = append(cfg.LoadedFrom, path)
	}
	if applyEnv(cfg, os.LookupEnv) {
		cfg.LoadedFrom = append(cfg.LoadedFrom, "environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and every resource definition.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	switch c.Server.Storage.Driver {
	case StoragePostgres:
		if c.Server.Storage.PostgresDSN == "" {
			return fmt.Errorf("invalid config: postgres storage requires server.storage.postgres_dsn")
		}
	case StorageBlob:
		if c.Server.Storage.Blob.Driver == "s3" && c.Server.Storage.Blob.Bucket == "" {
			return fmt.Errorf("invalid config: s3 blob storage requires server.storage.blob.bucket")
		}
	}
	seen := make(map[string]struct{}, len(c.Resources))
	for _, res := range c.Resources {
		if _, dup := seen[res.Name]; dup {
			return fmt.Errorf("invalid config: resource %s declared twice", res.Name)
		}
		seen[res.Name] = struct{}{}
		if err := res.Normalize().Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}
	return nil
}

// Resource returns the normalised definition named name.
func (c *Config) Resource(name string) (resource.Resource, bool) {
	for _, res := range c.Resources {
		if res.Name == name {
			return res.Normalize(), true
		}
	}
	return resource.Resource{}, false
}

type lookupFunc func(string) (string, bool)

// applyEnv overlays MESHCORE_* variables and reports whether any was set.
func applyEnv(cfg *Config, lookup lookupFunc) bool {
	applied := false
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
			applied = true
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(name); ok && v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
				applied = true
			}
		}
	}
	str("MESHCORE_SERVER_ADDR", &cfg.Server.Addr)
	str("MESHCORE_STORAGE_DRIVER", &cfg.Server.Storage.Driver)
	str("MESHCORE_SQLITE_PATH", &cfg.Server.Storage.SQLitePath)
	str("MESHCORE_POSTGRES_DSN", &cfg.Server.Storage.PostgresDSN)
	str("MESHCORE_BLOB_DRIVER", &cfg.Server.Storage.Blob.Driver)
	str("MESHCORE_BLOB_FS_ROOT", &cfg.Server.Storage.Blob.Root)
	str("MESHCORE_BLOB_PREFIX", &cfg.Server.Storage.Blob.Prefix)
	str("MESHCORE_BLOB_S3_BUCKET", &cfg.Server.Storage.Blob.Bucket)
	str("MESHCORE_BLOB_S3_REGION", &cfg.Server.Storage.Blob.Region)
	str("MESHCORE_BLOB_S3_ENDPOINT", &cfg.Server.Storage.Blob.Endpoint)
	boolean("MESHCORE_BLOB_S3_PATH_STYLE", &cfg.Server.Storage.Blob.PathStyle)
	str("MESHCORE_CLIENT_BASE_URL", &cfg.Client.BaseURL)
	if v, ok := lookup("MESHCORE_CLIENT_TIMEOUT"); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Client.Timeout = d
			applied = true
		}
	}
	str("MESHCORE_LOG_LEVEL", &cfg.Log.Level)
	boolean("MESHCORE_LOG_DEVELOPMENT", &cfg.Log.Development)
	boolean("MESHCORE_METRICS_ENABLED", &cfg.Metrics.Enabled)
	str("MESHCORE_METRICS_NAMESPACE", &cfg.Metrics.Namespace)
	return applied
}

// Logger builds the zap logger described by the log section.
func (l Log) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(l.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
