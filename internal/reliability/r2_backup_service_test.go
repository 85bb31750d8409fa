package reliability

import (
	"context"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// TestNewR2BackupService tests creation of R2 backup service
func TestNewR2BackupService(t *testing.T) {
	log := zerolog.New(io.Discard)

	r2Client, _ := NewR2Client("test-account", "test-key", "test-secret", "test-bucket", log)
	backupService := &BackupService{}
	dataDir := "/tmp/test"

	service := NewR2BackupService(r2Client, backupService, dataDir, log)

	if service == nil {
		t.Fatal("expected service, got nil")
	}

	if service.r2Client != r2Client {
		t.Error("r2Client not set correctly")
	}

	if service.backupService != backupService {
		t.Error("backupService not set correctly")
	}

	if service.dataDir != dataDir {
		t.Error("dataDir not set correctly")
	}
}

// TestBackupMetadataJSON tests JSON serialization of backup metadata
func TestBackupMetadataJSON(t *testing.T) {
	metadata := BackupMetadata{
		Timestamp:  time.Date(2026, 1, 8, 14, 30, 0, 0, time.UTC),
		Version:    "1.0.0",
		AppVersion: "fleetctl",
		Databases: []DatabaseMetadata{
			{
				Name:      "fleet",
				Filename:  "fleet.db",
				SizeBytes: 1234567,
				Checksum:  "sha256:abc123",
			},
			{
				Name:      "cache",
				Filename:  "cache.db",
				SizeBytes: 9876543,
				Checksum:  "sha256:def456",
			},
		},
	}

	if metadata.Version != "1.0.0" {
		t.Errorf("expected version 1.0.0, got %s", metadata.Version)
	}

	if len(metadata.Databases) != 2 {
		t.Errorf("expected 2 databases, got %d", len(metadata.Databases))
	}

	if metadata.Databases[0].Name != "fleet" {
		t.Errorf("expected first database to be fleet, got %s", metadata.Databases[0].Name)
	}
}

// TestBackupInfoSorting tests sorting of backups by timestamp
func TestBackupInfoSorting(t *testing.T) {
	backups := []BackupInfo{
		{
			Filename:  "fleet-backup-2026-01-06-120000.tar.gz",
			Timestamp: time.Date(2026, 1, 6, 12, 0, 0, 0, time.UTC),
			SizeBytes: 100,
		},
		{
			Filename:  "fleet-backup-2026-01-08-120000.tar.gz",
			Timestamp: time.Date(2026, 1, 8, 12, 0, 0, 0, time.UTC),
			SizeBytes: 200,
		},
		{
			Filename:  "fleet-backup-2026-01-07-120000.tar.gz",
			Timestamp: time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC),
			SizeBytes: 150,
		},
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})

	if backups[0].Timestamp.Day() != 8 {
		t.Errorf("expected newest backup first (day 8), got day %d", backups[0].Timestamp.Day())
	}

	if backups[1].Timestamp.Day() != 7 {
		t.Errorf("expected second backup (day 7), got day %d", backups[1].Timestamp.Day())
	}

	if backups[2].Timestamp.Day() != 6 {
		t.Errorf("expected oldest backup last (day 6), got day %d", backups[2].Timestamp.Day())
	}
}

// TestCalculateChecksum tests checksum calculation
func TestCalculateChecksum(t *testing.T) {
	log := zerolog.New(io.Discard)
	service := &R2BackupService{
		log: log,
	}

	_, err := service.backupService.calculateChecksum("/nonexistent/file.db")
	if err == nil {
		t.Error("expected error for nonexistent file, got nil")
	}
}

// TestCreateArchive tests archive creation structure
func TestCreateArchive(t *testing.T) {
	ctx := context.Background()
	_ = ctx

	err := createArchive("/invalid/archive.tar.gz", "/invalid/source", []string{"test"})
	if err == nil {
		t.Error("expected error for invalid paths, got nil")
	}
}

// TestRotateOldBackupsLogic tests the retention logic
func TestRotateOldBackupsLogic(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name            string
		backupCount     int
		retentionDays   int
		oldestBackupAge int // days old
		expectDeletion  bool
		expectMinKept   int
	}{
		{
			name:            "few backups, never delete",
			backupCount:     2,
			retentionDays:   30,
			oldestBackupAge: 100,
			expectDeletion:  false,
			expectMinKept:   2,
		},
		{
			name:            "exactly min backups, never delete",
			backupCount:     3,
			retentionDays:   30,
			oldestBackupAge: 100,
			expectDeletion:  false,
			expectMinKept:   3,
		},
		{
			name:            "many backups within retention",
			backupCount:     10,
			retentionDays:   30,
			oldestBackupAge: 29,
			expectDeletion:  false,
			expectMinKept:   3,
		},
		{
			name:            "many backups beyond retention",
			backupCount:     10,
			retentionDays:   30,
			oldestBackupAge: 60,
			expectDeletion:  true,
			expectMinKept:   3,
		},
		{
			name:            "retention 0 keeps all beyond minimum",
			backupCount:     10,
			retentionDays:   0,
			oldestBackupAge: 365,
			expectDeletion:  false,
			expectMinKept:   3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			canDelete := tt.backupCount > minBackupsToKeep

			var cutoffTime time.Time
			if tt.retentionDays > 0 {
				cutoffTime = now.AddDate(0, 0, -tt.retentionDays)
			}

			oldestBackupTime := now.AddDate(0, 0, -tt.oldestBackupAge)
			shouldDeleteOldest := canDelete && tt.retentionDays > 0 && oldestBackupTime.Before(cutoffTime)

			if shouldDeleteOldest != tt.expectDeletion {
				t.Errorf("expected deletion=%v, got %v", tt.expectDeletion, shouldDeleteOldest)
			}
		})
	}
}

// TestDatabaseMetadata tests database metadata structure
func TestDatabaseMetadata(t *testing.T) {
	db := DatabaseMetadata{
		Name:      "fleet",
		Filename:  "fleet.db",
		SizeBytes: 1024 * 1024, // 1MB
		Checksum:  "sha256:abc123def456",
	}

	if db.Name != "fleet" {
		t.Errorf("expected name 'fleet', got %s", db.Name)
	}

	if db.SizeBytes != 1024*1024 {
		t.Errorf("expected size 1048576, got %d", db.SizeBytes)
	}

	if db.Checksum[:7] != "sha256:" {
		t.Error("expected checksum to start with 'sha256:'")
	}
}
