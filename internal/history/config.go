package history

import "codeberg.org/mutker/specsweep/internal/errors"

const (
	defaultDirPerm   = 0o755
	defaultDBPath    = "/var/lib/specsweep/history.db"
	defaultBackupDir = "/var/lib/specsweep/backups"
)

type Config struct {
	DBPath    string
	BackupDir string
	Enabled   bool
}

func DefaultConfig() Config {
	return Config{
		DBPath:    defaultDBPath,
		BackupDir: defaultBackupDir,
		Enabled:   false,
	}
}

func (c Config) Validate() error {
	// Only validate DBPath if history is enabled
	if c.Enabled && c.DBPath == "" {
		return errors.New().New(ErrInvalidDBPath)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
