// Package reliability provides the operational safety net for the engine:
// consistent database backups, archive rotation and off-site replication.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/avelios/anchor/internal/database"
	"github.com/avelios/anchor/internal/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const archivePrefix = "anchor-backup-"

// minimum archives kept regardless of age
const minBackupsToKeep = 3

// BackupService snapshots the engine databases into timestamped tar.gz
// archives. Snapshots use VACUUM INTO so the ledger stays consistent even
// while trading is live. Archives are optionally replicated to an
// S3-compatible bucket.
type BackupService struct {
	databases     map[string]*database.DB
	backupDir     string
	remote        *S3Client
	events        *events.Manager
	retentionDays int
	log           zerolog.Logger
}

// ArchiveMetadata describes the contents of one backup archive
type ArchiveMetadata struct {
	Timestamp time.Time          `json:"timestamp"`
	Databases []DatabaseMetadata `json:"databases"`
}

// DatabaseMetadata describes a single database snapshot inside an archive
type DatabaseMetadata struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// NewBackupService creates a backup service. remote may be nil for
// local-only backups.
func NewBackupService(
	databases map[string]*database.DB,
	backupDir string,
	remote *S3Client,
	eventManager *events.Manager,
	retentionDays int,
	log zerolog.Logger,
) *BackupService {
	return &BackupService{
		databases:     databases,
		backupDir:     backupDir,
		remote:        remote,
		events:        eventManager,
		retentionDays: retentionDays,
		log:           log.With().Str("service", "backup").Logger(),
	}
}

// BackupAll snapshots every database into a tar.gz archive and returns the
// archive path. Old archives beyond the retention window are rotated out
// afterwards.
func (s *BackupService) BackupAll() (string, error) {
	s.log.Info().Msg("Starting backup")
	startTime := time.Now()

	if err := os.MkdirAll(s.backupDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	stagingDir, err := os.MkdirTemp(s.backupDir, "staging-*")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	metadata := ArchiveMetadata{
		Timestamp: time.Now().UTC(),
		Databases: make([]DatabaseMetadata, 0, len(s.databases)),
	}

	names := make([]string, 0, len(s.databases))
	for name := range s.databases {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		db := s.databases[name]
		if db == nil {
			continue
		}

		snapshotPath := filepath.Join(stagingDir, name+".db")
		s.log.Debug().Str("database", name).Msg("Snapshotting database")

		if err := db.Backup(snapshotPath); err != nil {
			return "", fmt.Errorf("failed to snapshot %s: %w", name, err)
		}

		info, err := os.Stat(snapshotPath)
		if err != nil {
			return "", fmt.Errorf("failed to stat %s snapshot: %w", name, err)
		}

		checksum, err := checksumFile(snapshotPath)
		if err != nil {
			return "", fmt.Errorf("failed to checksum %s snapshot: %w", name, err)
		}

		metadata.Databases = append(metadata.Databases, DatabaseMetadata{
			Name:      name,
			Filename:  name + ".db",
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
	}

	metadataPath := filepath.Join(stagingDir, "backup-metadata.json")
	if err := writeMetadata(metadataPath, metadata); err != nil {
		return "", fmt.Errorf("failed to write metadata: %w", err)
	}

	archiveName := archivePrefix + time.Now().Format("2006-01-02-150405") + ".tar.gz"
	archivePath := filepath.Join(s.backupDir, archiveName)

	archiveFiles := make([]string, 0, len(metadata.Databases)+1)
	for _, dbMeta := range metadata.Databases {
		archiveFiles = append(archiveFiles, dbMeta.Filename)
	}
	archiveFiles = append(archiveFiles, "backup-metadata.json")

	if err := createArchive(archivePath, stagingDir, archiveFiles); err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}

	archiveInfo, err := os.Stat(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to stat archive: %w", err)
	}

	uploaded := false
	if s.remote != nil {
		if err := s.upload(archivePath, archiveName, archiveInfo.Size()); err != nil {
			// Local archive exists, remote replication can catch up on the
			// next run.
			s.log.Error().Err(err).Str("archive", archiveName).Msg("Remote upload failed")
		} else {
			uploaded = true
		}
	}

	if err := s.rotate(); err != nil {
		s.log.Warn().Err(err).Msg("Archive rotation failed")
	}

	duration := time.Since(startTime)
	s.log.Info().
		Dur("duration_ms", duration).
		Str("archive", archiveName).
		Int64("size_bytes", archiveInfo.Size()).
		Bool("uploaded", uploaded).
		Msg("Backup completed")

	if s.events != nil {
		s.events.Emit(uuid.NewString(), events.BackupCompleted, "reliability",
			map[string]interface{}{"databases": names},
			map[string]interface{}{
				"archive":     archiveName,
				"size_bytes":  archiveInfo.Size(),
				"uploaded":    uploaded,
				"duration_ms": duration.Milliseconds(),
			}, "")
	}

	return archivePath, nil
}

// upload streams the archive to the remote bucket
func (s *BackupService) upload(archivePath, archiveName string, size int64) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	return s.remote.Upload(ctx, archiveName, file, size)
}

// rotate deletes local archives older than the retention window, always
// keeping the newest minBackupsToKeep regardless of age. retentionDays 0
// keeps everything.
func (s *BackupService) rotate() error {
	if s.retentionDays <= 0 {
		return nil
	}

	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		return fmt.Errorf("failed to read backup directory: %w", err)
	}

	type archive struct {
		name      string
		timestamp time.Time
	}

	archives := make([]archive, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, archivePrefix) || !strings.HasSuffix(name, ".tar.gz") {
			continue
		}

		timestampStr := strings.TrimSuffix(strings.TrimPrefix(name, archivePrefix), ".tar.gz")
		timestamp, err := time.Parse("2006-01-02-150405", timestampStr)
		if err != nil {
			s.log.Warn().Str("filename", name).Msg("Failed to parse timestamp from archive name")
			continue
		}

		archives = append(archives, archive{name: name, timestamp: timestamp})
	}

	// newest first
	sort.Slice(archives, func(i, j int) bool {
		return archives[i].timestamp.After(archives[j].timestamp)
	})

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	deleted := 0
	for i, a := range archives {
		if i < minBackupsToKeep || !a.timestamp.Before(cutoff) {
			continue
		}

		if err := os.Remove(filepath.Join(s.backupDir, a.name)); err != nil {
			s.log.Error().Err(err).Str("filename", a.name).Msg("Failed to delete old archive")
			continue
		}

		s.log.Info().Str("filename", a.name).Msg("Deleted old archive")
		deleted++
	}

	if deleted > 0 {
		s.log.Info().
			Int("deleted", deleted).
			Int("remaining", len(archives)-deleted).
			Msg("Archive rotation completed")
	}

	return nil
}

// checksumFile returns the sha256 checksum of a file
func checksumFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

// writeMetadata writes archive metadata to a JSON file
func writeMetadata(path string, metadata ArchiveMetadata) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(metadata)
}

// createArchive packs the named files from sourceDir into a tar.gz archive
func createArchive(archivePath, sourceDir string, filenames []string) error {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer archiveFile.Close()

	gzipWriter := gzip.NewWriter(archiveFile)
	defer gzipWriter.Close()

	tarWriter := tar.NewWriter(gzipWriter)
	defer tarWriter.Close()

	for _, filename := range filenames {
		if err := addFileToArchive(tarWriter, filepath.Join(sourceDir, filename), filename); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", filename, err)
		}
	}

	return nil
}

// addFileToArchive adds a single file to a tar archive
func addFileToArchive(tarWriter *tar.Writer, filePath, nameInArchive string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}

	if err := tarWriter.WriteHeader(header); err != nil {
		return err
	}

	if _, err := io.Copy(tarWriter, file); err != nil {
		return err
	}

	return nil
}
