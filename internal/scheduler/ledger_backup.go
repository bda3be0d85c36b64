package scheduler

import (
	"fmt"

	"github.com/rs/zerolog"
)

// BackupRunner produces a backup archive and returns its path
// Used by scheduler to enable testing with mocks
type BackupRunner interface {
	BackupAll() (string, error)
}

// LedgerBackupJob archives the engine databases on a daily schedule
type LedgerBackupJob struct {
	log     zerolog.Logger
	backups BackupRunner
}

// NewLedgerBackupJob creates a new LedgerBackupJob
func NewLedgerBackupJob(backups BackupRunner) *LedgerBackupJob {
	return &LedgerBackupJob{
		log:     zerolog.Nop(),
		backups: backups,
	}
}

// SetLogger sets the logger for the job
func (j *LedgerBackupJob) SetLogger(log zerolog.Logger) {
	j.log = log
}

// Name returns the job name
func (j *LedgerBackupJob) Name() string {
	return "ledger_backup"
}

// Run executes the ledger backup job
func (j *LedgerBackupJob) Run() error {
	archivePath, err := j.backups.BackupAll()
	if err != nil {
		return fmt.Errorf("backup run failed: %w", err)
	}

	j.log.Info().
		Str("archive", archivePath).
		Msg("Backup archive created")

	return nil
}
