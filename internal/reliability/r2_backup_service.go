package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// minBackupsToKeep bounds retention rotation: we never delete below this
// count regardless of age, so a misconfigured retention window can't wipe
// every recovery point.
const minBackupsToKeep = 3

// DatabaseMetadata describes one database file captured in a backup archive.
type DatabaseMetadata struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupMetadata is written alongside a backup archive as backup-metadata.json
// and read back by RestoreService before a staged restore is trusted.
type BackupMetadata struct {
	Timestamp  time.Time          `json:"timestamp"`
	Version    string             `json:"version"`
	AppVersion string             `json:"app_version"`
	Databases  []DatabaseMetadata `json:"databases"`
}

// BackupInfo describes a backup archive already present in R2.
type BackupInfo struct {
	Filename  string
	Timestamp time.Time
	SizeBytes int64
}

// BackupService creates local tar.gz archives of the fleet's SQLite
// databases. It knows nothing about R2 - R2BackupService composes it with
// an R2Client to get the local archive off-box.
type BackupService struct {
	dataDir   string
	databases []string
	log       zerolog.Logger
}

// NewBackupService creates a local backup service for the given data
// directory. databases names the logical database set to capture (e.g.
// "fleet", "cache") - each is expected to live at dataDir/<name>.db.
func NewBackupService(dataDir string, databases []string, log zerolog.Logger) *BackupService {
	return &BackupService{
		dataDir:   dataDir,
		databases: databases,
		log:       log.With().Str("service", "backup").Logger(),
	}
}

// CreateLocalBackup archives the configured databases into a single
// tar.gz under dataDir/backups and returns its path plus metadata.
func (b *BackupService) CreateLocalBackup() (string, *BackupMetadata, error) {
	backupDir := filepath.Join(b.dataDir, "backups")
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return "", nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	stamp := time.Now().UTC()
	filename := fmt.Sprintf("fleet-backup-%s.tar.gz", stamp.Format("2006-01-02-150405"))
	archivePath := filepath.Join(backupDir, filename)

	stagingDir, err := os.MkdirTemp(b.dataDir, "backup-staging-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	metadata := BackupMetadata{
		Timestamp:  stamp,
		Version:    "1.0.0",
		AppVersion: "fleetctl",
		Databases:  make([]DatabaseMetadata, 0, len(b.databases)),
	}

	files := make([]string, 0, len(b.databases)+1)
	for _, name := range b.databases {
		dbPath := filepath.Join(b.dataDir, name+".db")
		info, err := os.Stat(dbPath)
		if os.IsNotExist(err) {
			b.log.Warn().Str("database", name).Msg("Database file not found, skipping from backup")
			continue
		}
		if err != nil {
			return "", nil, fmt.Errorf("failed to stat database %s: %w", name, err)
		}

		checksum, err := b.calculateChecksum(dbPath)
		if err != nil {
			return "", nil, fmt.Errorf("failed to checksum database %s: %w", name, err)
		}

		stagedPath := filepath.Join(stagingDir, name+".db")
		if err := copyFile(dbPath, stagedPath); err != nil {
			return "", nil, fmt.Errorf("failed to stage database %s: %w", name, err)
		}

		metadata.Databases = append(metadata.Databases, DatabaseMetadata{
			Name:      name,
			Filename:  name + ".db",
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
		files = append(files, name+".db")
	}

	metadataPath := filepath.Join(stagingDir, "backup-metadata.json")
	metadataFile, err := os.Create(metadataPath)
	if err != nil {
		return "", nil, fmt.Errorf("failed to write metadata: %w", err)
	}
	encoder := json.NewEncoder(metadataFile)
	encoder.SetIndent("", "  ")
	encErr := encoder.Encode(metadata)
	metadataFile.Close()
	if encErr != nil {
		return "", nil, fmt.Errorf("failed to encode metadata: %w", encErr)
	}
	files = append(files, "backup-metadata.json")

	if err := createArchive(archivePath, stagingDir, files); err != nil {
		return "", nil, fmt.Errorf("failed to create archive: %w", err)
	}

	b.log.Info().Str("filename", filename).Int("databases", len(metadata.Databases)).Msg("Local backup created")
	return archivePath, &metadata, nil
}

func (b *BackupService) calculateChecksum(path string) (string, error) {
	return calculateChecksum(path)
}

// calculateChecksum computes a sha256 digest of the file at path, prefixed
// the way BackupMetadata.Databases[i].Checksum expects it.
func calculateChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}

	return "sha256:" + hex.EncodeToString(hasher.Sum(nil)), nil
}

// createArchive writes files (relative to sourceDir) into a tar.gz at
// archivePath.
func createArchive(archivePath, sourceDir string, files []string) error {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer archiveFile.Close()

	gzipWriter := gzip.NewWriter(archiveFile)
	defer gzipWriter.Close()

	tarWriter := tar.NewWriter(gzipWriter)
	defer tarWriter.Close()

	for _, name := range files {
		path := filepath.Join(sourceDir, name)
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", name, err)
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return fmt.Errorf("failed to build tar header for %s: %w", name, err)
		}
		header.Name = name

		if err := tarWriter.WriteHeader(header); err != nil {
			return fmt.Errorf("failed to write tar header for %s: %w", name, err)
		}

		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", name, err)
		}
		_, copyErr := io.Copy(tarWriter, file)
		file.Close()
		if copyErr != nil {
			return fmt.Errorf("failed to write %s into archive: %w", name, copyErr)
		}
	}

	return nil
}

func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}
	return destFile.Sync()
}

// R2BackupService composes a local BackupService with an R2Client to mirror
// fleet.db/cache.db snapshots off-box, and rotates old backups on a
// retention window. CreateAndUploadBackup is its entry point, run by the
// container's six-hourly backup cron.
type R2BackupService struct {
	r2Client      *R2Client
	backupService *BackupService
	dataDir       string
	retentionDays int
	log           zerolog.Logger
}

// NewR2BackupService creates an R2-backed backup service with a 30-day
// retention window. A retentionDays of 0 disables age-based rotation
// (backups are kept until manually pruned).
func NewR2BackupService(r2Client *R2Client, backupService *BackupService, dataDir string, log zerolog.Logger) *R2BackupService {
	return &R2BackupService{
		r2Client:      r2Client,
		backupService: backupService,
		dataDir:       dataDir,
		retentionDays: 30,
		log:           log.With().Str("service", "r2_backup").Logger(),
	}
}

// CreateAndUploadBackup creates a local archive, uploads it to R2, and
// rotates old backups that fall outside the retention window.
func (s *R2BackupService) CreateAndUploadBackup(ctx context.Context) error {
	archivePath, _, err := s.backupService.CreateLocalBackup()
	if err != nil {
		return fmt.Errorf("failed to create local backup: %w", err)
	}
	defer os.Remove(archivePath)

	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive for upload: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat archive: %w", err)
	}

	key := filepath.Base(archivePath)
	if err := s.r2Client.Upload(ctx, key, file, info.Size()); err != nil {
		return fmt.Errorf("failed to upload backup: %w", err)
	}

	if err := s.rotateOldBackups(ctx); err != nil {
		s.log.Error().Err(err).Msg("Failed to rotate old backups, continuing")
	}

	return nil
}

// ListBackups lists backups currently stored in R2, newest first.
func (s *R2BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.r2Client.List(ctx, "fleet-backup-")
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		if obj.Key == nil {
			continue
		}
		var size int64
		if obj.Size != nil {
			size = *obj.Size
		}
		var timestamp time.Time
		if obj.LastModified != nil {
			timestamp = *obj.LastModified
		}
		backups = append(backups, BackupInfo{
			Filename:  *obj.Key,
			Timestamp: timestamp,
			SizeBytes: size,
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})

	return backups, nil
}

// rotateOldBackups deletes backups older than the retention window, always
// keeping at least minBackupsToKeep regardless of age.
func (s *R2BackupService) rotateOldBackups(ctx context.Context) error {
	if s.retentionDays <= 0 {
		return nil
	}

	backups, err := s.ListBackups(ctx)
	if err != nil {
		return err
	}

	if len(backups) <= minBackupsToKeep {
		return nil
	}

	cutoff := time.Now().Add(-time.Duration(s.retentionDays) * 24 * time.Hour)

	// backups is sorted newest-first; keep index for the minimum count
	// even if older entries are still within the cutoff.
	for i := minBackupsToKeep; i < len(backups); i++ {
		backup := backups[i]
		if backup.Timestamp.After(cutoff) {
			continue
		}
		if err := s.r2Client.Delete(ctx, backup.Filename); err != nil {
			s.log.Error().Err(err).Str("filename", backup.Filename).Msg("Failed to delete old backup")
			continue
		}
		s.log.Info().Str("filename", backup.Filename).Msg("Rotated old backup")
	}

	return nil
}
