package clipstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// StagedFile is a write that has been persisted next to its destination but not yet
// made visible. Promote swaps it in while keeping the previous file as a backup,
// Discard undoes either step and Finalize drops the backup.
type StagedFile struct {
	rel      string
	abs      string
	tmp      string
	backup   string
	promoted bool
}

// Stage writes data to a temp file beside rel without touching rel itself
func (s *Store) Stage(rel string, data []byte) (*StagedFile, error) {
	if err := s.EnsureDir(rel); err != nil {
		return nil, err
	}
	abs, _ := s.Abs(rel)
	tmp, err := s.writeTemp(abs, data)
	if err != nil {
		return nil, err
	}
	return &StagedFile{rel: rel, abs: abs, tmp: tmp}, nil
}

// Path returns the destination path relative to the store root
func (f *StagedFile) Path() string {
	return f.rel
}

// Promote moves the staged bytes over the destination
func (f *StagedFile) Promote() error {
	if f.promoted {
		return nil
	}
	if _, err := os.Stat(f.abs); err == nil {
		backup := filepath.Join(filepath.Dir(f.abs), "."+filepath.Base(f.abs)+backupMarker+uuid.NewString())
		if err := os.Rename(f.abs, backup); err != nil {
			return fmt.Errorf("failed to back up %s: %w", f.rel, err)
		}
		f.backup = backup
		// rename keeps the old mtime; the sweeper ages backups from here
		now := time.Now()
		if err := os.Chtimes(backup, now, now); err != nil {
			os.Rename(backup, f.abs)
			f.backup = ""
			return fmt.Errorf("failed to touch backup of %s: %w", f.rel, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if err := os.Rename(f.tmp, f.abs); err != nil {
		if f.backup != "" {
			os.Rename(f.backup, f.abs)
			f.backup = ""
		}
		return fmt.Errorf("failed to promote %s: %w", f.rel, err)
	}
	f.promoted = true
	return nil
}

// Discard restores the destination to its state before Stage was called
func (f *StagedFile) Discard() error {
	if !f.promoted {
		if err := os.Remove(f.tmp); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}

	if f.backup != "" {
		if err := os.Rename(f.backup, f.abs); err != nil {
			return fmt.Errorf("failed to restore %s: %w", f.rel, err)
		}
		f.backup = ""
	} else if err := os.Remove(f.abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	f.promoted = false
	return nil
}

// Finalize drops the backup of the replaced file
func (f *StagedFile) Finalize() error {
	if f.backup == "" {
		return nil
	}
	err := os.Remove(f.backup)
	f.backup = ""
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
