package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/therealutkarshpriyadarshi/subextract/internal/logging"
)

// ErrInvalidName is returned for cache keys that are not plain file names.
var ErrInvalidName = errors.New("invalid cache entry name")

const stagingPrefix = ".staging-"

// Entry is a finished subtitle file in the cache.
type Entry struct {
	Name    string    `json:"name"`
	Path    string    `json:"-"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Mirror receives every published entry, e.g. to copy it to object storage.
type Mirror interface {
	Mirror(ctx context.Context, name, path string) error
}

// Store is the on-disk subtitle cache. Files only ever appear at their final
// path through a rename, so readers never see partial content.
type Store struct {
	dir     string
	tempDir string
	mirror  Mirror
	logger  *logging.Logger
}

// NewStore creates both directories if needed.
func NewStore(dir, tempDir string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	for _, d := range []string{dir, tempDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory %s: %w", d, err)
		}
	}
	return &Store{dir: dir, tempDir: tempDir, logger: logger.WithComponent("cache")}, nil
}

// SetMirror installs an optional publish mirror.
func (s *Store) SetMirror(m Mirror) {
	s.mirror = m
}

// Dir returns the output directory.
func (s *Store) Dir() string { return s.dir }

// TempRoot returns the scratch directory.
func (s *Store) TempRoot() string { return s.tempDir }

// Path returns the final path for name.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Exists reports whether a finished entry named name is present.
func (s *Store) Exists(name string) bool {
	_, ok := s.Lookup(name)
	return ok
}

// Lookup returns the entry named name.
func (s *Store) Lookup(name string) (Entry, bool) {
	if validateName(name) != nil {
		return Entry{}, false
	}
	info, err := os.Stat(s.Path(name))
	if err != nil || !info.Mode().IsRegular() {
		return Entry{}, false
	}
	return Entry{Name: name, Path: s.Path(name), Size: info.Size(), ModTime: info.ModTime()}, true
}

// List returns every finished .srt entry sorted by name.
func (s *Store) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache directory: %w", err)
	}

	var entries []Entry
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || strings.HasPrefix(name, ".") || !strings.EqualFold(filepath.Ext(name), ".srt") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{Name: name, Path: s.Path(name), Size: info.Size(), ModTime: info.ModTime()})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// TempDir creates a fresh scratch directory for one operation.
func (s *Store) TempDir(prefix string) (string, error) {
	dir, err := os.MkdirTemp(s.tempDir, prefix)
	if err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}
	return dir, nil
}

// Publish moves src into the cache as name. On a cross-device rename the
// content is first staged next to the destination and renamed from there.
func (s *Store) Publish(ctx context.Context, src, name string) (Entry, error) {
	if err := validateName(name); err != nil {
		return Entry{}, err
	}
	dst := s.Path(name)

	err := os.Rename(src, dst)
	if errors.Is(err, syscall.EXDEV) {
		err = s.publishCopy(src, dst)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("failed to publish %s: %w", name, err)
	}

	return s.published(ctx, name)
}

// PublishBytes writes data to a staging file and renames it into place.
func (s *Store) PublishBytes(ctx context.Context, data []byte, name string) (Entry, error) {
	if err := validateName(name); err != nil {
		return Entry{}, err
	}

	staging, err := s.stage(func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	if err != nil {
		return Entry{}, fmt.Errorf("failed to stage %s: %w", name, err)
	}
	if err := os.Rename(staging, s.Path(name)); err != nil {
		os.Remove(staging)
		return Entry{}, fmt.Errorf("failed to publish %s: %w", name, err)
	}

	return s.published(ctx, name)
}

func (s *Store) publishCopy(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	staging, err := s.stage(func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
	if err != nil {
		return err
	}
	if err := os.Rename(staging, dst); err != nil {
		os.Remove(staging)
		return err
	}
	os.Remove(src)
	return nil
}

// stage writes a hidden file inside the output directory and returns its path.
func (s *Store) stage(write func(io.Writer) error) (string, error) {
	f, err := os.CreateTemp(s.dir, stagingPrefix+"*.srt")
	if err != nil {
		return "", err
	}
	path := f.Name()

	if err := write(f); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	if err := os.Chmod(path, 0o644); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func (s *Store) published(ctx context.Context, name string) (Entry, error) {
	entry, ok := s.Lookup(name)
	if !ok {
		return Entry{}, fmt.Errorf("published entry %s vanished", name)
	}

	if s.mirror != nil {
		if err := s.mirror.Mirror(ctx, entry.Name, entry.Path); err != nil {
			s.logger.WithError(err).Warnf("failed to mirror %s", entry.Name)
		}
	}

	s.logger.WithField("name", name).WithField("size_bytes", entry.Size).Debug("published cache entry")
	return entry, nil
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, "/\\\x00") || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
