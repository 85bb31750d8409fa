// Package snapshot implements the State Snapshotter: captures observable
// page state immediately before a terminate-and-restart, persists it per
// account as an atomically-rewritten JSON file, and restores it afterward
// through the Session Adapter's write operations. Restoration never
// recreates orders - only UI state - because order recreation belongs to
// the trading application itself.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/riverlock/fleetctl/internal/domain"
	"github.com/riverlock/fleetctl/internal/errkind"
	"github.com/riverlock/fleetctl/internal/reliability"
)

// Store persists per-account snapshots to a local directory, optionally
// mirroring every successful write to R2-compatible archival storage.
type Store struct {
	dir      string
	r2Client *reliability.R2Client // nil disables archival mirroring
	log      zerolog.Logger
}

// NewStore creates a Store rooted at dir. r2Client may be nil to disable
// archival mirroring entirely.
func NewStore(dir string, r2Client *reliability.R2Client, log zerolog.Logger) *Store {
	return &Store{
		dir:      dir,
		r2Client: r2Client,
		log:      log.With().Str("component", "snapshot_store").Logger(),
	}
}

func (s *Store) path(accountName string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.state.json", accountName))
}

// Capture persists snap to disk via a temp-file-then-rename write, so a
// reader never observes a partially-written snapshot. When archival is
// configured, the write is additionally mirrored to R2 fire-and-forget -
// a mirror failure is logged and never blocks or fails the restart path.
func (s *Store) Capture(ctx context.Context, snap domain.Snapshot) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errkind.New(errkind.ConfigInvalid, snap.AccountName, "failed to create snapshot directory", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errkind.New(errkind.ConfigInvalid, snap.AccountName, "failed to encode snapshot", err)
	}

	tmp, err := os.CreateTemp(s.dir, snap.AccountName+".*.tmp")
	if err != nil {
		return errkind.New(errkind.ConfigInvalid, snap.AccountName, "failed to create temp snapshot file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errkind.New(errkind.ConfigInvalid, snap.AccountName, "failed to write temp snapshot file", err)
	}
	if err := tmp.Close(); err != nil {
		return errkind.New(errkind.ConfigInvalid, snap.AccountName, "failed to close temp snapshot file", err)
	}

	if err := os.Rename(tmpPath, s.path(snap.AccountName)); err != nil {
		return errkind.New(errkind.ConfigInvalid, snap.AccountName, "failed to rename snapshot into place", err)
	}

	s.log.Info().Str("account_name", snap.AccountName).Msg("Snapshot captured")

	if s.r2Client != nil {
		go s.mirrorToR2(snap.AccountName, data, snap.CapturedAt)
	}

	return nil
}

func (s *Store) mirrorToR2(accountName string, data []byte, capturedAt time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	key := fmt.Sprintf("snapshots/%s/%d.json", accountName, capturedAt.Unix())
	if err := s.r2Client.Upload(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		s.log.Warn().Err(err).Str("account_name", accountName).Str("key", key).Msg("Snapshot R2 mirror failed")
	}
}

// Load reads the most recently captured snapshot for an account, if any.
func (s *Store) Load(accountName string) (domain.Snapshot, bool, error) {
	data, err := os.ReadFile(s.path(accountName))
	if os.IsNotExist(err) {
		return domain.Snapshot{}, false, nil
	}
	if err != nil {
		return domain.Snapshot{}, false, errkind.New(errkind.ConfigInvalid, accountName, "failed to read snapshot file", err)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.Snapshot{}, false, errkind.New(errkind.ConfigInvalid, accountName, "failed to decode snapshot file", err)
	}
	return snap, true, nil
}
