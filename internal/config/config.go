// Package config loads wsb configuration for a collection.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DirName is the per-collection state directory holding config, tree, locks
// and backups.
const DirName = ".wsb"

// Shard rollover defaults.
const (
	DefaultMetaThreshold     = 256 * 1024
	DefaultTocThreshold      = 4096 * 1024
	DefaultFulltextThreshold = 128 * 1024 * 1024
)

// Config represents the complete wsb configuration.
type Config struct {
	Version  int                   `yaml:"version" json:"version"`
	Books    map[string]BookConfig `yaml:"book" json:"book"`
	Backup   BackupConfig          `yaml:"backup" json:"backup"`
	Lock     LockConfig            `yaml:"lock" json:"lock"`
	Fulltext FulltextConfig        `yaml:"fulltext" json:"fulltext"`
	Shard    ShardConfig           `yaml:"shard" json:"shard"`
	Log      LogConfig             `yaml:"log" json:"log"`
}

// BookConfig locates one book inside the collection root.
// TopDir is relative to the collection root; DataDir, TreeDir and Index are
// relative to TopDir.
type BookConfig struct {
	Name    string `yaml:"name" json:"name"`
	TopDir  string `yaml:"top_dir" json:"top_dir"`
	DataDir string `yaml:"data_dir" json:"data_dir"`
	TreeDir string `yaml:"tree_dir" json:"tree_dir"`
	Index   string `yaml:"index" json:"index"`
	NoTree  bool   `yaml:"no_tree" json:"no_tree"`
}

// BackupConfig configures the backup-before-mutate contract.
type BackupConfig struct {
	// Enabled turns shard backups on (default: true).
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Dir is the backup root relative to the collection root.
	Dir string `yaml:"dir" json:"dir"`
}

// LockConfig configures the tree lock held for a cache run.
type LockConfig struct {
	// Timeout is how long to wait for a busy lock (default: 5s).
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// Stale is the age after which an unrefreshed lock file is taken over (default: 60s).
	Stale time.Duration `yaml:"stale" json:"stale"`
}

// FulltextConfig configures the incremental fulltext cache generator.
type FulltextConfig struct {
	// InclusiveFrames splices frame targets into their parent page (default: true).
	InclusiveFrames bool `yaml:"inclusive_frames" json:"inclusive_frames"`
	// Workers is the number of items extracted concurrently (default: 1).
	Workers int `yaml:"workers" json:"workers"`
	// ArchiveCache is the number of open HTZ/MAFF containers kept per run (default: 8).
	ArchiveCache int `yaml:"archive_cache" json:"archive_cache"`
}

// ShardConfig configures shard rollover thresholds.
type ShardConfig struct {
	MetaThreshold     int `yaml:"meta_threshold" json:"meta_threshold"`
	TocThreshold      int `yaml:"toc_threshold" json:"toc_threshold"`
	FulltextThreshold int `yaml:"fulltext_threshold" json:"fulltext_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// NewConfig creates a new Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Books: map[string]BookConfig{
			"": DefaultBook(),
		},
		Backup: BackupConfig{
			Enabled: true,
			Dir:     filepath.Join(DirName, "backup"),
		},
		Lock: LockConfig{
			Timeout: 5 * time.Second,
			Stale:   60 * time.Second,
		},
		Fulltext: FulltextConfig{
			InclusiveFrames: true,
			Workers:         1,
			ArchiveCache:    8,
		},
		Shard: ShardConfig{
			MetaThreshold:     DefaultMetaThreshold,
			TocThreshold:      DefaultTocThreshold,
			FulltextThreshold: DefaultFulltextThreshold,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultBook returns the layout of a book with no explicit configuration.
func DefaultBook() BookConfig {
	return BookConfig{
		Name:    "scrapbook",
		TreeDir: filepath.Join(DirName, "tree"),
		Index:   filepath.Join(DirName, "tree", "map.html"),
	}
}

// Book returns the configuration of book id with defaults filled in.
// ok is false when no such book is configured.
func (c *Config) Book(id string) (BookConfig, bool) {
	b, ok := c.Books[id]
	if !ok {
		return BookConfig{}, false
	}
	def := DefaultBook()
	if b.Name == "" {
		b.Name = def.Name
	}
	if b.TreeDir == "" {
		b.TreeDir = def.TreeDir
	}
	if b.Index == "" {
		b.Index = filepath.Join(b.TreeDir, "map.html")
	}
	return b, true
}

// GetUserConfigPath returns the path to the user/global configuration file.
//   - $XDG_CONFIG_HOME/wsb/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/wsb/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "wsb", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "wsb", "config.yaml")
	}
	return filepath.Join(home, ".config", "wsb", "config.yaml")
}

// Load loads configuration for the collection rooted at root.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/wsb/config.yaml)
//  3. Collection config (<root>/.wsb/config.yaml or .yml)
//  4. Environment variables (WSB_*)
func Load(root string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if err := cfg.loadFromDir(filepath.Join(root, DirName)); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromDir loads config.yaml, falling back to config.yml.
func (c *Config) loadFromDir(dir string) error {
	for _, name := range []string{"config.yaml", "config.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

// loadYAML decodes path over the current values, so only keys present in
// the file take effect.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies WSB_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("WSB_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("WSB_INCLUSIVE_FRAMES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Fulltext.InclusiveFrames = b
		}
	}
	if v := os.Getenv("WSB_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Fulltext.Workers = n
		}
	}
	if v := os.Getenv("WSB_NO_BACKUP"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Backup.Enabled = !b
		}
	}
	if v := os.Getenv("WSB_LOCK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			c.Lock.Timeout = d
		}
	}
	if v := os.Getenv("WSB_LOCK_STALE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Lock.Stale = d
		}
	}
}

// FindRoot finds the collection root by walking up from startDir to the
// first directory containing a .wsb directory. If none is found, the
// absolute startDir is returned.
func FindRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	current := absDir
	for {
		if dirExists(filepath.Join(current, DirName)) {
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return absDir, nil
		}
		current = parent
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Shard.MetaThreshold <= 0 || c.Shard.TocThreshold <= 0 || c.Shard.FulltextThreshold <= 0 {
		return fmt.Errorf("shard thresholds must be positive, got meta=%d toc=%d fulltext=%d",
			c.Shard.MetaThreshold, c.Shard.TocThreshold, c.Shard.FulltextThreshold)
	}
	if c.Fulltext.Workers <= 0 {
		return fmt.Errorf("fulltext.workers must be positive, got %d", c.Fulltext.Workers)
	}
	if c.Fulltext.ArchiveCache <= 0 {
		return fmt.Errorf("fulltext.archive_cache must be positive, got %d", c.Fulltext.ArchiveCache)
	}
	if c.Lock.Timeout < 0 {
		return fmt.Errorf("lock.timeout must not be negative, got %s", c.Lock.Timeout)
	}
	if c.Lock.Stale <= 0 {
		return fmt.Errorf("lock.stale must be positive, got %s", c.Lock.Stale)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("log.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Log.Level)
	}

	if c.Backup.Dir != "" && !isLocalDir(c.Backup.Dir) {
		return fmt.Errorf("backup.dir must be relative to the collection root, got %s", c.Backup.Dir)
	}
	for id, b := range c.Books {
		for key, dir := range map[string]string{"top_dir": b.TopDir, "data_dir": b.DataDir, "tree_dir": b.TreeDir} {
			if dir != "" && !isLocalDir(dir) {
				return fmt.Errorf("book %q: %s must be relative to the collection root, got %s", id, key, dir)
			}
		}
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func isLocalDir(dir string) bool {
	return filepath.IsLocal(filepath.FromSlash(dir))
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
