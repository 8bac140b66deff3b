package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/jamesainslie/shelf/pkg/shelf/logging"
	"github.com/jamesainslie/shelf/pkg/shelf/types"
	"github.com/spf13/viper"
)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size" json:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups" yaml:"max_backups"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level" json:"level" yaml:"level"`
	Path       string            `mapstructure:"path" json:"path" yaml:"path"`
	Console    string            `mapstructure:"console" json:"console" yaml:"console"`
	Rotation   RotationConfig    `mapstructure:"rotation" json:"rotation" yaml:"rotation"`
	Components map[string]string `mapstructure:"components" json:"components" yaml:"components"`
}

// BackupConfig configures where and how the pre-existing configuration is backed up.
type BackupConfig struct {
	// Dir overrides <managed_root>/backups/pre-shelf.
	Dir string `mapstructure:"dir" json:"dir" yaml:"dir"`

	// ArchiveFramework archives a detected framework directory into the backup.
	ArchiveFramework bool `mapstructure:"archive_framework" json:"archive_framework" yaml:"archive_framework"`
}

// SnapshotConfig configures the safety snapshot taken before uninstall.
type SnapshotConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled" yaml:"enabled"`

	// Dir is where snapshots are written. Empty means the home directory.
	Dir string `mapstructure:"dir" json:"dir" yaml:"dir"`
}

// CleanupConfig configures removal of the managed root.
type CleanupConfig struct {
	KeepBackups bool     `mapstructure:"keep_backups" json:"keep_backups" yaml:"keep_backups"`
	UseTrash    bool     `mapstructure:"use_trash" json:"use_trash" yaml:"use_trash"`
	Preserve    []string `mapstructure:"preserve" json:"preserve" yaml:"preserve"`
}

// Config represents the application configuration.
type Config struct {
	// Home is the home directory shelf operates on. Empty means the user's home.
	Home        string         `mapstructure:"home" json:"home" yaml:"home"`
	ManagedRoot string         `mapstructure:"managed_root" json:"managed_root" yaml:"managed_root"`
	Backup      BackupConfig   `mapstructure:"backup" json:"backup" yaml:"backup"`
	Snapshot    SnapshotConfig `mapstructure:"snapshot" json:"snapshot" yaml:"snapshot"`
	Cleanup     CleanupConfig  `mapstructure:"cleanup" json:"cleanup" yaml:"cleanup"`
	Logging     LoggingConfig  `mapstructure:"logging" json:"logging" yaml:"logging"`
}

// Load loads configuration from file and environment variables.
// Config file locations (in order of precedence):
//   - $XDG_CONFIG_HOME/shelf/config.yaml
//   - $HOME/.config/shelf/config.yaml
//
// Environment variables are prefixed with SHELF_ (e.g., SHELF_MANAGED_ROOT).
// Paths in the result are absolute with ~ expanded against Home.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches the
// default locations; a named file must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
			v.AddConfigPath(filepath.Join(xdgConfigHome, "shelf"))
		}
		v.AddConfigPath(filepath.Join(homeDir, ".config", "shelf"))
	}

	v.SetEnvPrefix("SHELF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("home", "")
	v.SetDefault("managed_root", DefaultManagedRoot)
	v.SetDefault("backup.dir", "")
	v.SetDefault("backup.archive_framework", true)
	v.SetDefault("snapshot.enabled", true)
	v.SetDefault("snapshot.dir", "")
	v.SetDefault("cleanup.keep_backups", false)
	v.SetDefault("cleanup.use_trash", false)
	v.SetDefault("cleanup.preserve", DefaultPreserve)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.console", "")
	v.SetDefault("logging.rotation.max_size", DefaultLogMaxSize)
	v.SetDefault("logging.rotation.max_backups", DefaultLogMaxBackups)
	v.SetDefault("logging.components", map[string]string{})

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.resolve(homeDir); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolve makes every path in cfg absolute.
func (c *Config) resolve(userHome string) error {
	if c.Home == "" {
		c.Home = userHome
	}
	home, err := expandAgainst(c.Home, userHome)
	if err != nil {
		return err
	}
	c.Home = home

	if c.ManagedRoot == "" {
		c.ManagedRoot = DefaultManagedRoot
	}
	if c.ManagedRoot, err = expandAgainst(c.ManagedRoot, c.Home); err != nil {
		return err
	}

	if c.Backup.Dir == "" {
		c.Backup.Dir = filepath.Join(c.ManagedRoot, filepath.FromSlash(BackupSubdir))
	} else if c.Backup.Dir, err = expandAgainst(c.Backup.Dir, c.Home); err != nil {
		return err
	}

	if c.Snapshot.Dir == "" {
		c.Snapshot.Dir = c.Home
	} else if c.Snapshot.Dir, err = expandAgainst(c.Snapshot.Dir, c.Home); err != nil {
		return err
	}

	if c.Logging.Path != "" {
		if c.Logging.Path, err = expandAgainst(c.Logging.Path, c.Home); err != nil {
			return err
		}
	}
	return nil
}

// JournalDir returns the journal database directory inside the managed root.
func (c *Config) JournalDir() string {
	return filepath.Join(c.ManagedRoot, filepath.FromSlash(JournalSubdir))
}

// LoggingConfig converts the logging section into a logging.Config.
func (c *Config) LoggingConfig() (logging.Config, error) {
	out := logging.Config{
		Level:        c.Logging.Level,
		Path:         c.Logging.Path,
		Components:   c.Logging.Components,
		ConsoleLevel: c.Logging.Console,
		Rotation:     logging.RotationConfig{MaxBackups: c.Logging.Rotation.MaxBackups},
	}
	if c.Logging.Rotation.MaxSize != "" {
		size, err := types.ParseSize(c.Logging.Rotation.MaxSize)
		if err != nil {
			return out, fmt.Errorf("logging.rotation.max_size: %w", err)
		}
		out.Rotation.MaxSize = size
	}
	return out, nil
}

// ConfigDir returns the configuration directory path.
func ConfigDir() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, "shelf"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", "shelf"), nil
}

// ConfigPath returns the path of the config file Load reads first.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// WriteDefault writes a default config file if none exists and returns its
// path. An existing file is left untouched.
func WriteDefault() (string, error) {
	configPath, err := ConfigPath()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configPath); err == nil {
		return configPath, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to check config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	defaultConfig := fmt.Sprintf(`# shelf configuration

# Home directory to manage (empty means the current user's home)
home: ""

# Directory owned by shelf: profiles, shared history, backups, journal
managed_root: %s

backup:
  # Backup location (empty means <managed_root>/%s)
  dir: ""
  # Archive a detected framework directory (oh-my-zsh, prezto, ...) into the backup
  archive_framework: true

snapshot:
  # Take a safety snapshot of the managed root before uninstalling
  enabled: true
  # Where snapshots are written (empty means the home directory)
  dir: ""

cleanup:
  # Keep <managed_root>/backups when uninstalling
  keep_backups: false
  # Move removed items to the system trash instead of deleting them
  use_trash: false
  # Extra managed-root globs to keep, e.g. "history/**"
  preserve: []

logging:
  # Log level: debug, info, warn, error
  level: info
  # Log file path (empty means $XDG_STATE_HOME/shelf/shelf.log)
  path: ""
  # Mirror records at or above this level to stderr (empty disables)
  console: ""
  rotation:
    max_size: %s
    max_backups: %d
  # Per-component log levels, e.g. backup: debug
  components: {}
`, DefaultManagedRoot, BackupSubdir, DefaultLogMaxSize, DefaultLogMaxBackups)

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o600); err != nil {
		return "", fmt.Errorf("failed to write default config: %w", err)
	}

	return configPath, nil
}

// ExpandPath expands ~ in a path to the user's home directory.
func ExpandPath(path string) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return expandAgainst(path, homeDir)
}

// expandAgainst expands a leading ~ against home and makes the result
// absolute.
func expandAgainst(path, home string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		path = filepath.Join(home, path[1:])
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}
	return abs, nil
}

// StateDir returns $XDG_STATE_HOME/shelf/ for log files.
func StateDir() string {
	return filepath.Join(xdg.StateHome, "shelf")
}
