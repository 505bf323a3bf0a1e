// Package config loads the Gofer service's own boot configuration: the
// settings that bring up ports and supervisors, not the
// per-pipeline JSON configuration document registered at runtime.
//
// Configuration is layered file-then-environment: an HCL
// file (if one is found) loaded first, then GOFER_-prefixed environment
// variables superimposed on top, so environment variables always win
// (https://12factor.net/config).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/structs"
	"github.com/kelseyhightower/envconfig"
	"github.com/knadh/koanf/parsers/hcl"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Docker holds the scheduler's docker-specific knobs. It is small enough to
// load on its own via envconfig, separate from the koanf-driven pass that
// handles the rest of Config.
type Docker struct {
	Prune         bool          `envconfig:"prune"`
	PruneInterval time.Duration `envconfig:"prune_interval"`
}

func defaultDocker() Docker {
	return Docker{Prune: true, PruneInterval: time.Hour}
}

// FromEnv overlays GOFER_SCHEDULER_DOCKER_-prefixed environment variables
// onto d, loaded independently of the rest of Config.
func (d *Docker) FromEnv() error {
	return envconfig.Process("gofer_scheduler_docker", d)
}

// Config is the complete set of settings a gofer service process needs to
// boot: log level, storage locations, port tunables, and engine defaults.
type Config struct {
	LogLevel string `koanf:"log_level"`

	APIHost         string `koanf:"api_host"`
	StoragePath     string `koanf:"storage_path"`
	ObjectStorePath string `koanf:"object_store_path"`
	SecretStorePath string `koanf:"secret_store_path"`

	// EncryptionKey is the 32-byte secret-store key (GOFER_ENCRYPTION_KEY).
	// It has no safe default; Load rejects an empty value once environment
	// overlays have been applied.
	EncryptionKey string `koanf:"encryption_key"`

	EventRetentionSeconds     int64 `koanf:"event_retention_seconds"`
	TaskDefaultTimeoutSeconds int64 `koanf:"task_default_timeout_seconds"`
	ShutdownGraceSeconds      int64 `koanf:"shutdown_grace_seconds"`

	GoferHost string `koanf:"gofer_host"` // advertised to extension containers for callback dialing

	// TaskLogDir is the root directory task execution logs are written
	// under: {task_log_dir}/{namespace}_{pipeline}_{run}_{task_id}.
	TaskLogDir string `koanf:"task_log_dir"`

	// ObjectRetentionCount caps how many pipeline-scoped object keys a
	// single pipeline keeps; the object pruner evicts the oldest beyond
	// this count. Zero disables pipeline-scoped object eviction.
	ObjectRetentionCount int64 `koanf:"object_retention_count"`

	// ObjectPruneIntervalSeconds bounds how often the object pruner sweeps
	// every pipeline for keys beyond ObjectRetentionCount.
	ObjectPruneIntervalSeconds int64 `koanf:"object_prune_interval_seconds"`

	Docker Docker `koanf:"-"`
}

func defaultConfig() *Config {
	return &Config{
		LogLevel:                  "info",
		APIHost:                   "localhost:8080",
		StoragePath:               "/var/lib/gofer/gofer.db",
		ObjectStorePath:           "/var/lib/gofer/objects.db",
		SecretStorePath:           "/var/lib/gofer/secrets.db",
		EventRetentionSeconds:     int64((7 * 24 * time.Hour) / time.Second),
		TaskDefaultTimeoutSeconds: 0,
		ShutdownGraceSeconds:      15,
		GoferHost:                "localhost:8080",
		TaskLogDir:               "/var/log/gofer",
		ObjectRetentionCount:       20,
		ObjectPruneIntervalSeconds: int64((5 * time.Minute) / time.Second),
		Docker:                     defaultDocker(),
	}
}

// EventRetention is EventRetentionSeconds as a time.Duration.
func (c *Config) EventRetention() time.Duration {
	return time.Duration(c.EventRetentionSeconds) * time.Second
}

// TaskDefaultTimeout is TaskDefaultTimeoutSeconds as a time.Duration; zero
// means unlimited.
func (c *Config) TaskDefaultTimeout() time.Duration {
	return time.Duration(c.TaskDefaultTimeoutSeconds) * time.Second
}

func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

// ObjectPruneInterval is ObjectPruneIntervalSeconds as a time.Duration.
func (c *Config) ObjectPruneInterval() time.Duration {
	return time.Duration(c.ObjectPruneIntervalSeconds) * time.Second
}

// searchFilePaths returns the first path in order that exists and is a
// regular file, or "" if none do.
func searchFilePaths(paths ...string) string {
	for _, path := range paths {
		if path == "" {
			continue
		}
		stat, err := os.Stat(path)
		if err != nil || stat.IsDir() {
			continue
		}
		return path
	}
	return ""
}

// Load reads the service's boot configuration: an HCL file (if found at
// flagPath, GOFER_CONFIG_PATH, or /etc/gofer/gofer.hcl, in that order of
// discovery but with the environment variable always overriding the flag),
// then GOFER_-prefixed environment variables on top.
func Load(flagPath string) (*Config, error) {
	cfg := defaultConfig()

	path := searchFilePaths(flagPath, "/etc/gofer/gofer.hcl")
	if envPath := os.Getenv("GOFER_CONFIG_PATH"); envPath != "" {
		path = envPath
	}

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), hcl.Parser(true)); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider("GOFER_", "__", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "GOFER_"))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("config: reading environment: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshaling: %w", err)
	}

	if err := cfg.Docker.FromEnv(); err != nil {
		return nil, fmt.Errorf("config: reading scheduler docker environment: %w", err)
	}

	if cfg.EncryptionKey == "" {
		return nil, fmt.Errorf("config: GOFER_ENCRYPTION_KEY is required")
	}

	return cfg, nil
}

// EnvVarNames reflects over Config's fields to list the GOFER_-prefixed
// environment variable names it recognizes, for a `gofer service printenv`
// style introspection command.
func EnvVarNames() []string {
	names := make([]string, 0)
	for _, field := range structs.Fields(defaultConfig()) {
		tag := field.Tag("koanf")
		if tag == "" || tag == "-" {
			continue
		}
		names = append(names, "GOFER_"+strings.ToUpper(tag))
	}
	return names
}
