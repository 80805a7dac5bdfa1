// Package snapshot persists versioned queue snapshots as JSON with atomic
// writes and rotating timestamped backups.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/meshbatch/internal/models"
)

const backupTimeFormat = "20060102-150405.000"

// Store reads and writes the canonical queue state file. Save performs
// serialize -> temp file -> fsync -> atomic rename, rotating the previous
// canonical file into the backup directory first. Load falls back through
// backups newest-first and degrades to an empty queue when nothing is
// usable; it never fails startup.
type Store struct {
	path       string
	backupDir  string
	maxBackups int
	mu         sync.Mutex
	logger     arbor.ILogger
}

// NewStore creates a snapshot store rooted at the given state file path.
func NewStore(path string, maxBackups int, logger arbor.ILogger) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	backupDir := filepath.Join(dir, "backups")
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	return &Store{
		path:       path,
		backupDir:  backupDir,
		maxBackups: maxBackups,
		logger:     logger,
	}, nil
}

// Save writes the snapshot atomically and rotates backups.
func (s *Store) Save(snap *models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := s.rotateCanonical(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to rotate state backup, continuing with save")
	}

	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	s.pruneBackups()

	s.logger.Debug().Int("jobs", len(snap.Jobs)).Str("path", s.path).Msg("Queue snapshot saved")
	return nil
}

// Load reads the canonical state file, falling back through backups.
// Returns (nil, nil) when no usable state exists.
func (s *Store) Load() (*models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap, err := s.loadFile(s.path); err == nil {
		s.logger.Info().Int("jobs", len(snap.Jobs)).Str("path", s.path).Msg("Queue snapshot loaded")
		return snap, nil
	} else if !os.IsNotExist(err) {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("Canonical state file unusable, trying backups")
	}

	for _, backup := range s.listBackups() {
		snap, err := s.loadFile(backup)
		if err != nil {
			s.logger.Warn().Err(err).Str("path", backup).Msg("Backup unusable, trying older")
			continue
		}
		s.logger.Info().Int("jobs", len(snap.Jobs)).Str("path", backup).Msg("Queue state recovered from backup")
		return snap, nil
	}

	s.logger.Info().Msg("No usable queue state found, starting empty")
	return nil, nil
}

func (s *Store) loadFile(path string) (*models.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Unknown fields are tolerated deliberately so queue files survive
	// minor version upgrades.
	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return &snap, nil
}

// rotateCanonical moves the current state file into the backup directory
// with a timestamped name before it is overwritten.
func (s *Store) rotateCanonical() error {
	if _, err := os.Stat(s.path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	name := fmt.Sprintf("%s-%s%s",
		strings.TrimSuffix(filepath.Base(s.path), filepath.Ext(s.path)),
		time.Now().Format(backupTimeFormat),
		filepath.Ext(s.path))
	return os.Rename(s.path, filepath.Join(s.backupDir, name))
}

// listBackups returns backup paths newest-first.
func (s *Store) listBackups() []string {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		return nil
	}

	var backups []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), filepath.Ext(s.path)) {
			backups = append(backups, filepath.Join(s.backupDir, entry.Name()))
		}
	}
	// Names embed a sortable timestamp.
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))
	return backups
}

func (s *Store) pruneBackups() {
	backups := s.listBackups()
	for i := s.maxBackups; i < len(backups); i++ {
		if err := os.Remove(backups[i]); err != nil {
			s.logger.Warn().Err(err).Str("path", backups[i]).Msg("Failed to prune old backup")
		}
	}
}

// writeFileAtomic writes data to a temp file in the target directory,
// fsyncs, then renames over the destination.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".meshbatch-tmp-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}
