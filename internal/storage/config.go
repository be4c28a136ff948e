package storage

import (
	"path/filepath"

	"codeberg.org/mutker/flightctl/internal/errors"
)

const (
	defaultDirPerm = 0o755

	// MemoryPath opens a private in-memory database.
	MemoryPath = ":memory:"
)

type Config struct {
	DBPath string
	// BackupDir receives a copy of the database before an incompatible
	// schema is replaced. Empty means next to the database.
	BackupDir string
}

func (c Config) Validate() error {
	if c.DBPath == "" {
		return errors.New().New(ErrInvalidDBPath)
	}
	return nil
}

func (c Config) inMemory() bool {
	return c.DBPath == MemoryPath
}

func (c Config) backupDir() string {
	if c.inMemory() {
		return ""
	}
	if c.BackupDir != "" {
		return c.BackupDir
	}
	return filepath.Join(filepath.Dir(c.DBPath), "backups")
}

func (c Config) dsn() string {
	if c.inMemory() {
		return "file::memory:?_foreign_keys=1"
	}
	return "file:" + c.DBPath + "?_journal_mode=WAL&_foreign_keys=1&_busy_timeout=5000"
}
