package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eargollo/dupecat/internal/scan"
)

// Config holds all configuration loaded from config.yaml.
type Config struct {
	Root           string        `yaml:"root"            json:"root"`
	DBPath         string        `yaml:"db_path"         json:"-"`
	ReportPath     string        `yaml:"report_path"     json:"report_path"`
	FollowSymlinks bool          `yaml:"follow_symlinks" json:"follow_symlinks"`
	Prune          bool          `yaml:"prune"           json:"prune"`
	SkipEmpty      bool          `yaml:"skip_empty"      json:"skip_empty"`
	Verify         bool          `yaml:"verify"          json:"verify"`
	ExcludePaths   []string      `yaml:"exclude_paths"   json:"exclude_paths"`
	HashAlgorithm  string        `yaml:"hash_algorithm"  json:"hash_algorithm"`
	HashTimeout    time.Duration `yaml:"hash_timeout"    json:"hash_timeout"`
	StoreRetries   int           `yaml:"store_retries"   json:"store_retries"`
	ScanWorkers    ScanWorkers   `yaml:"scan_workers"    json:"scan_workers"`
	Schedule       string        `yaml:"schedule"        json:"schedule"`
	ScanPaused     bool          `yaml:"scan_paused"     json:"scan_paused"`
	HTTPAddr       string        `yaml:"http_addr"       json:"-"`
	LogLevel       string        `yaml:"log_level"       json:"-"`
}

// ScanWorkers holds concurrency knobs for the scan pipeline.
type ScanWorkers struct {
	Walkers int `yaml:"walkers" json:"walkers"`
	Hashers int `yaml:"hashers" json:"hashers"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// applyDefaults fills zero/empty fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Root == "" {
		c.Root = "."
	}
	if c.DBPath == "" {
		c.DBPath = "dupecat.db"
	}
	if c.ReportPath == "" {
		c.ReportPath = "duplicates.csv"
	}
	if c.HashAlgorithm == "" {
		c.HashAlgorithm = scan.DefaultAlgorithm
	}
	if c.HashTimeout == 0 {
		c.HashTimeout = 5 * time.Minute
	}
	if c.StoreRetries == 0 {
		c.StoreRetries = 3
	}
	if c.ScanWorkers.Walkers == 0 {
		c.ScanWorkers.Walkers = 4
	}
	if c.ScanWorkers.Hashers == 0 {
		c.ScanWorkers.Hashers = 2
	}
	if c.Schedule == "" {
		c.Schedule = "0 2 * * 0"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate rejects values no run could use.
func (c *Config) Validate() error {
	algo, err := scan.NormalizeAlgorithm(c.HashAlgorithm)
	if err != nil {
		return err
	}
	c.HashAlgorithm = algo
	if c.ScanWorkers.Walkers < 0 || c.ScanWorkers.Hashers < 0 {
		return fmt.Errorf("scan_workers must not be negative")
	}
	if c.HashTimeout < 0 {
		return fmt.Errorf("hash_timeout must not be negative")
	}
	return nil
}

// Load reads and parses the YAML config file at path.
// If the file does not exist, Load returns a default Config so a scan can
// run without one.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return &cfg, nil
}

// ScanConfig converts the file settings into pipeline settings.
func (c *Config) ScanConfig() scan.Config {
	sc := scan.DefaultConfig()
	sc.Root = c.Root
	sc.FollowSymlinks = c.FollowSymlinks
	sc.Prune = c.Prune
	sc.SkipEmpty = c.SkipEmpty
	sc.Verify = c.Verify
	sc.Excludes = c.ExcludePaths
	sc.Algorithm = c.HashAlgorithm
	sc.HashTimeout = c.HashTimeout
	if c.ScanWorkers.Walkers > 0 {
		sc.Walkers = c.ScanWorkers.Walkers
	}
	if c.ScanWorkers.Hashers > 0 {
		sc.Hashers = c.ScanWorkers.Hashers
	}
	return sc
}
