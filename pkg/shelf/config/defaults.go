// Package config provides configuration management for shelf.
package config

// Default configuration values for shelf.
const (
	// DefaultManagedRoot is the directory shelf owns inside the home directory.
	DefaultManagedRoot = "~/.shelf"

	// BackupSubdir is the backup directory relative to the managed root.
	BackupSubdir = "backups/pre-shelf"

	// JournalSubdir is the journal database directory relative to the managed root.
	JournalSubdir = "state/journal"

	// DefaultLogMaxSize is the log size that triggers rotation.
	DefaultLogMaxSize = "5MB"

	// DefaultLogMaxBackups is the number of rotated logs kept.
	DefaultLogMaxBackups = 3
)

// DefaultPreserve lists managed-root globs kept by cleanup when none are configured.
var DefaultPreserve = []string{}
