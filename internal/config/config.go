package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" yaml:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases" yaml:"databases"`
	Redis       RedisConfig               `json:"redis" yaml:"redis"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address" yaml:"server_address"`
	WorkDir       string `json:"work_dir" yaml:"work_dir"`
	LogLevel      string `json:"log_level" yaml:"log_level"`

	MaxPartSize          int64 `json:"max_part_size" yaml:"max_part_size"`
	AvoidFileConflicts   *bool `json:"avoid_file_conflicts" yaml:"avoid_file_conflicts"`
	ProgressIntervalMs   int   `json:"progress_interval_ms" yaml:"progress_interval_ms"`
	ProgressGraceSeconds int   `json:"progress_grace_seconds" yaml:"progress_grace_seconds"`

	MatchPolicy    string `json:"match_policy" yaml:"match_policy"`
	HeaderLocale   string `json:"header_locale" yaml:"header_locale"`
	KeepExtracted  bool   `json:"keep_extracted" yaml:"keep_extracted"`
	MaxNestedDepth int    `json:"max_nested_depth" yaml:"max_nested_depth"` // -1 expands only the outer archive

	ReportTTL     int `json:"report_ttl_minutes" yaml:"report_ttl_minutes"`
	CleanInterval int `json:"clean_interval_minutes" yaml:"clean_interval_minutes"`

	MinWorkers        int `json:"min_workers" yaml:"min_workers"`
	MaxWorkers        int `json:"max_workers" yaml:"max_workers"`
	QueueSize         int `json:"queue_size" yaml:"queue_size"`
	WorkerIdleTimeout int `json:"worker_idle_timeout" yaml:"worker_idle_timeout"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"db_name" yaml:"db_name"`
	Params   string `json:"params" yaml:"params"`
}

type RedisConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// DefaultMaxPartSize mirrors the 100 MB limit the upload form advertises.
const DefaultMaxPartSize int64 = 100_000_000

// Load reads configuration from the provided path (defaults to config.json).
// Files ending in .yaml or .yml are decoded as YAML, everything else as JSON.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	applyDefaults(&cfg)

	for _, name := range []string{"sqlite", "sqlite3"} {
		dbCfg, ok := cfg.Databases[name]
		if !ok || dbCfg.DSN == "" || dbCfg.DSN == ":memory:" || strings.HasPrefix(dbCfg.DSN, "file:") {
			continue
		}
		if !filepath.IsAbs(dbCfg.DSN) {
			dbCfg.DSN = filepath.Join(filepath.Dir(absPath), dbCfg.DSN)
			cfg.Databases[name] = dbCfg
		}
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	b := &cfg.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = ":8090"
	}
	if b.WorkDir == "" {
		b.WorkDir = os.TempDir()
	}
	if b.LogLevel == "" {
		b.LogLevel = "info"
	}
	if b.MaxPartSize <= 0 {
		b.MaxPartSize = DefaultMaxPartSize
	}
	if b.AvoidFileConflicts == nil {
		enabled := true
		b.AvoidFileConflicts = &enabled
	}
	if b.ProgressIntervalMs <= 0 {
		b.ProgressIntervalMs = 250
	}
	if b.ProgressGraceSeconds <= 0 {
		b.ProgressGraceSeconds = 60
	}
	if b.MatchPolicy == "" {
		b.MatchPolicy = "first"
	}
	if b.HeaderLocale == "" {
		b.HeaderLocale = "en"
	}
	if b.MaxNestedDepth < 0 {
		b.MaxNestedDepth = 0
	} else if b.MaxNestedDepth == 0 {
		b.MaxNestedDepth = 2
	}
	if b.ReportTTL <= 0 {
		b.ReportTTL = 24 * 60
	}
	if b.CleanInterval <= 0 {
		b.CleanInterval = 60
	}
	if b.MinWorkers <= 0 {
		b.MinWorkers = 1
	}
	if b.MaxWorkers < b.MinWorkers {
		b.MaxWorkers = b.MinWorkers * 4
	}
	if b.QueueSize <= 0 {
		b.QueueSize = 64
	}
	if b.WorkerIdleTimeout <= 0 {
		b.WorkerIdleTimeout = 5
	}
	if cfg.Databases == nil {
		cfg.Databases = map[string]DatabaseConfig{}
	}
	if _, ok := cfg.Databases["sqlite3"]; !ok {
		cfg.Databases["sqlite3"] = DatabaseConfig{DSN: "jettyreport.db"}
	}
}

// ConflictAvoidance reports whether uploads get a random suffix on name clashes.
func (b BasicConfig) ConflictAvoidance() bool {
	return b.AvoidFileConflicts == nil || *b.AvoidFileConflicts
}
