package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ruteri/wallet-key-backup/interfaces"
)

// FileDriver implements a cloud driver on the local file system. Every named file
// lives directly under the base directory.
type FileDriver struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileDriver creates a file driver rooted at baseDir, creating the directory if needed.
func NewFileDriver(baseDir string, log *slog.Logger) (*FileDriver, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("%w: failed to create base directory: %v", interfaces.ErrIO, err)
	}

	return &FileDriver{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Locate looks up name under the base directory.
func (d *FileDriver) Locate(ctx context.Context, name string) (interfaces.FileHandle, bool, error) {
	filePath, err := d.filePath(name)
	if err != nil {
		return interfaces.FileHandle{}, false, err
	}

	info, err := os.Stat(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return interfaces.FileHandle{}, false, nil
	}
	if err != nil {
		return interfaces.FileHandle{}, false, fmt.Errorf("%w: failed to stat file: %v", interfaces.ErrIO, err)
	}

	return interfaces.FileHandle{ID: filePath, Name: name, ModifiedAt: info.ModTime()}, true, nil
}

// Create creates an empty file. An existing file is left untouched.
func (d *FileDriver) Create(ctx context.Context, name string) (interfaces.FileHandle, error) {
	filePath, err := d.filePath(name)
	if err != nil {
		return interfaces.FileHandle{}, err
	}

	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return interfaces.FileHandle{}, fmt.Errorf("%w: failed to create file: %v", interfaces.ErrIO, err)
	}
	if err := f.Close(); err != nil {
		return interfaces.FileHandle{}, fmt.Errorf("%w: failed to close file: %v", interfaces.ErrIO, err)
	}

	d.log.Debug("Created file", slog.String("path", filePath))
	return interfaces.FileHandle{ID: filePath, Name: name}, nil
}

// Read returns the file content.
func (d *FileDriver) Read(ctx context.Context, handle interfaces.FileHandle) ([]byte, error) {
	data, err := os.ReadFile(handle.ID)
	if errors.Is(err, os.ErrNotExist) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read file: %v", interfaces.ErrIO, err)
	}

	d.log.Debug("Read file",
		slog.String("path", handle.ID),
		slog.Int("size", len(data)))

	return data, nil
}

// Write replaces the file content through a temporary file and rename.
func (d *FileDriver) Write(ctx context.Context, handle interfaces.FileHandle, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(handle.ID), ".tmp-"+filepath.Base(handle.ID)+"-*")
	if err != nil {
		return fmt.Errorf("%w: failed to create temporary file: %v", interfaces.ErrIO, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: failed to write file: %v", interfaces.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: failed to close file: %v", interfaces.ErrIO, err)
	}
	if err := os.Rename(tmp.Name(), handle.ID); err != nil {
		return fmt.Errorf("%w: failed to replace file: %v", interfaces.ErrIO, err)
	}

	d.log.Debug("Wrote file",
		slog.String("path", handle.ID),
		slog.Int("size", len(data)))

	return nil
}

// List returns every regular file under the base directory, sorted by name.
func (d *FileDriver) List(ctx context.Context) ([]interfaces.FileHandle, error) {
	entries, err := os.ReadDir(d.baseDir)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list directory: %v", interfaces.ErrIO, err)
	}

	handles := make([]interfaces.FileHandle, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".tmp-") {
			continue
		}
		handle := interfaces.FileHandle{ID: filepath.Join(d.baseDir, entry.Name()), Name: entry.Name()}
		if info, err := entry.Info(); err == nil {
			handle.ModifiedAt = info.ModTime()
		}
		handles = append(handles, handle)
	}

	sort.Slice(handles, func(i, j int) bool { return handles[i].Name < handles[j].Name })
	return handles, nil
}

// Name returns a unique identifier for this driver.
func (d *FileDriver) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(d.baseDir))
}

// LocationURI returns the URI that identifies this driver.
func (d *FileDriver) LocationURI() string {
	return d.locationURI
}

func (d *FileDriver) filePath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: invalid file name %q", interfaces.ErrConfiguration, name)
	}
	return filepath.Join(d.baseDir, name), nil
}
