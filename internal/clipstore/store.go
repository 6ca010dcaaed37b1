package clipstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	linesDir   = "lines"
	songsDir   = "songs"
	uploadsDir = "uploads"

	tmpMarker    = ".tmp-"
	backupMarker = ".bak-"
)

// ErrUnsafePath is returned for paths that would escape the store root
var ErrUnsafePath = errors.New("unsafe clip path")

// Store is path-addressed audio storage rooted at a directory on disk.
// All paths accepted and returned by Store are slash-separated and relative to the root.
type Store struct {
	root     string
	dirPerm  fs.FileMode
	filePerm fs.FileMode
}

// New creates a store rooted at root, creating the directory if needed
func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("clip store root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve clip store root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create clip store root: %w", err)
	}
	return &Store{root: abs, dirPerm: 0755, filePerm: 0644}, nil
}

// Root returns the absolute root directory
func (s *Store) Root() string {
	return s.root
}

// LinePath is the deterministic location of a line's clip
func LinePath(lessonID, lineID int64, ext string) string {
	return path.Join(linesDir, fmt.Sprintf("lesson_%d", lessonID), fmt.Sprintf("line_%d.%s", lineID, ext))
}

// ExportPath is the deterministic location of a lesson's exported mix
func ExportPath(lessonID int64, ext string) string {
	return path.Join(songsDir, fmt.Sprintf("lesson_%d.%s", lessonID, ext))
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// UploadPath returns a collision-free location for an uploaded playlist track
func UploadPath(originalName string) string {
	base := filepath.Base(strings.ReplaceAll(originalName, "\\", "/"))
	base = strings.Trim(unsafeNameChars.ReplaceAllString(base, "_"), "._")
	if base == "" {
		base = "audio"
	}
	return path.Join(songsDir, uploadsDir, uuid.NewString()+"_"+base)
}

// Ext returns the lower-cased extension of a clip path without the dot
func Ext(p string) string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(p)), ".")
}

// Abs resolves a relative clip path to an absolute filesystem path
func (s *Store) Abs(rel string) (string, error) {
	if rel == "" || strings.Contains(rel, "\x00") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, rel)
	}
	if strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, "\\") {
		return "", fmt.Errorf("%w: absolute path %q", ErrUnsafePath, rel)
	}
	cleaned := path.Clean(strings.ReplaceAll(rel, "\\", "/"))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: traversal in %q", ErrUnsafePath, rel)
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

// Exists reports whether a regular file is stored at rel
func (s *Store) Exists(rel string) (bool, error) {
	abs, err := s.Abs(rel)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// Size returns the byte size of the file at rel
func (s *Store) Size(rel string) (int64, error) {
	abs, err := s.Abs(rel)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Read returns the full contents of the file at rel
func (s *Store) Read(rel string) ([]byte, error) {
	abs, err := s.Abs(rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

// Open opens the file at rel for streaming
func (s *Store) Open(rel string) (*os.File, error) {
	abs, err := s.Abs(rel)
	if err != nil {
		return nil, err
	}
	return os.Open(abs)
}

// EnsureDir creates the directory that will contain rel. Existing directories are fine.
func (s *Store) EnsureDir(rel string) error {
	abs, err := s.Abs(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), s.dirPerm); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", rel, err)
	}
	return nil
}

// Write stores data at rel, replacing any previous file atomically
func (s *Store) Write(rel string, data []byte) error {
	if err := s.EnsureDir(rel); err != nil {
		return err
	}
	abs, _ := s.Abs(rel)
	tmp, err := s.writeTemp(abs, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, abs); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move %s into place: %w", rel, err)
	}
	return nil
}

// Remove deletes the file at rel. Missing files are not an error.
func (s *Store) Remove(rel string) error {
	abs, err := s.Abs(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) writeTemp(abs string, data []byte) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(abs), "."+filepath.Base(abs)+tmpMarker+"*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	if err := os.Chmod(name, s.filePerm); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

// SweepStale removes temp and backup files left behind by interrupted writes
// that are older than olderThan. It returns the number of files removed.
func (s *Store) SweepStale(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if !strings.HasPrefix(name, ".") || !(strings.Contains(name, tmpMarker) || strings.Contains(name, backupMarker)) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(p); err == nil {
			removed++
		}
		return nil
	})
	return removed, err
}
