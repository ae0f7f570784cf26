// Package storage keeps uploaded files on disk, one file per file id.
package storage

import (
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when no regular file exists for an id.
var ErrNotFound = errors.New("file not found")

// Info describes a stored file.
type Info struct {
	ID   uint32
	Size int64
}

// Store maps file ids to files under a single directory.
type Store struct {
	dir string
}

// New creates dir if needed and returns a Store rooted there.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create storage dir %s", dir)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the storage root.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the on-disk path for id.
func (s *Store) Path(id uint32) string {
	return filepath.Join(s.dir, strconv.FormatUint(uint64(id), 10))
}

// Stat returns the size of the file stored for id. Directories and missing
// entries are reported as ErrNotFound.
func (s *Store) Stat(id uint32) (Info, error) {
	fi, err := os.Stat(s.Path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Info{}, errors.Wrapf(ErrNotFound, "file %d", id)
		}
		return Info{}, errors.Wrapf(err, "stat file %d", id)
	}
	if fi.IsDir() {
		return Info{}, errors.Wrapf(ErrNotFound, "file %d is a directory", id)
	}
	return Info{ID: id, Size: fi.Size()}, nil
}

// Write stores data under id, replacing any previous content. The file is
// written to a temporary name first and renamed into place.
func (s *Store) Write(id uint32, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return errors.Wrapf(err, "create temp file for %d", id)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrapf(err, "write file %d", id)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "close file %d", id)
	}
	if err := os.Rename(tmpName, s.Path(id)); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "rename file %d", id)
	}
	return nil
}

// Open opens the file stored for id for sequential reading.
func (s *Store) Open(id uint32) (io.ReadCloser, error) {
	if _, err := s.Stat(id); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path(id))
	if err != nil {
		return nil, errors.Wrapf(err, "open file %d", id)
	}
	return f, nil
}

// MaxID returns the highest id with a file in the store, or 0.
func (s *Store) MaxID() (uint32, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, errors.Wrapf(err, "read storage dir %s", s.dir)
	}

	var highest uint32
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, err := strconv.ParseUint(entry.Name(), 10, 32)
		if err != nil {
			continue
		}
		if uint32(id) > highest {
			highest = uint32(id)
		}
	}
	return highest, nil
}
