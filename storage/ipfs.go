package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/ruteri/wallet-key-backup/interfaces"
)

// IPFSDriver implements a cloud driver on the mutable file system (MFS) of an IPFS
// node. Backup files live under one MFS directory.
type IPFSDriver struct {
	shell       *shell.Shell
	host        string
	port        string
	root        string
	log         *slog.Logger
	locationURI string
}

// NewIPFSDriver creates a new IPFS driver connected to the node API at host:port,
// storing files under the MFS directory root.
func NewIPFSDriver(host, port, root string, timeout time.Duration, log *slog.Logger) (*IPFSDriver, error) {
	apiURL := fmt.Sprintf("%s:%s", host, port)

	root = "/" + strings.Trim(root, "/")
	if root == "/" {
		root = "/wallet-backup"
	}

	sh := shell.NewShell(apiURL)
	sh.SetTimeout(timeout)

	return &IPFSDriver{
		shell:       sh,
		host:        host,
		port:        port,
		root:        root,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s%s?timeout=%s", apiURL, root, timeout),
	}, nil
}

// Locate stats the MFS path for name.
func (d *IPFSDriver) Locate(ctx context.Context, name string) (interfaces.FileHandle, bool, error) {
	filePath := path.Join(d.root, name)

	stat, err := d.shell.FilesStat(ctx, filePath)
	if isIPFSNotExist(err) {
		return interfaces.FileHandle{}, false, nil
	}
	if err != nil {
		return interfaces.FileHandle{}, false, fmt.Errorf("%w: failed to stat IPFS file: %v", interfaces.ErrIO, err)
	}

	return interfaces.FileHandle{ID: filePath, Name: name, Revision: stat.Hash}, true, nil
}

// Create writes an empty file, creating the root directory if needed.
func (d *IPFSDriver) Create(ctx context.Context, name string) (interfaces.FileHandle, error) {
	if err := d.shell.FilesMkdir(ctx, d.root, shell.FilesMkdir.Parents(true)); err != nil {
		return interfaces.FileHandle{}, fmt.Errorf("%w: failed to create IPFS directory: %v", interfaces.ErrIO, err)
	}

	handle := interfaces.FileHandle{ID: path.Join(d.root, name), Name: name}
	if err := d.Write(ctx, handle, nil); err != nil {
		return interfaces.FileHandle{}, err
	}
	return handle, nil
}

// Read returns the file content.
func (d *IPFSDriver) Read(ctx context.Context, handle interfaces.FileHandle) ([]byte, error) {
	start := time.Now()

	reader, err := d.shell.FilesRead(ctx, handle.ID)
	if isIPFSNotExist(err) {
		d.log.Debug("File not found in IPFS", slog.String("path", handle.ID))
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		d.log.Error("Failed to read file from IPFS",
			slog.String("path", handle.ID),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("%w: failed to read IPFS file: %v", interfaces.ErrIO, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read IPFS file: %v", interfaces.ErrIO, err)
	}

	d.log.Debug("Fetched file from IPFS",
		slog.String("path", handle.ID),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

// Write replaces the file content.
func (d *IPFSDriver) Write(ctx context.Context, handle interfaces.FileHandle, data []byte) error {
	err := d.shell.FilesWrite(ctx, handle.ID, bytes.NewReader(data),
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Truncate(true),
		shell.FilesWrite.Parents(true))
	if err != nil {
		return fmt.Errorf("%w: failed to write IPFS file: %v", interfaces.ErrIO, err)
	}

	d.log.Debug("Stored file in IPFS",
		slog.String("path", handle.ID),
		slog.Int("size", len(data)))

	return nil
}

// List returns every file in the root directory.
func (d *IPFSDriver) List(ctx context.Context) ([]interfaces.FileHandle, error) {
	entries, err := d.shell.FilesLs(ctx, d.root, shell.FilesLs.Stat(true))
	if isIPFSNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list IPFS directory: %v", interfaces.ErrIO, err)
	}

	handles := make([]interfaces.FileHandle, 0, len(entries))
	for _, entry := range entries {
		if entry.Type == shell.TDirectory {
			continue
		}
		handles = append(handles, interfaces.FileHandle{
			ID:       path.Join(d.root, entry.Name),
			Name:     entry.Name,
			Revision: entry.Hash,
		})
	}
	return handles, nil
}

// Name returns a unique identifier for this driver.
func (d *IPFSDriver) Name() string {
	return fmt.Sprintf("ipfs-%s-%s", d.host, d.port)
}

// LocationURI returns the URI that identifies this driver.
func (d *IPFSDriver) LocationURI() string {
	return d.locationURI
}

func isIPFSNotExist(err error) bool {
	return err != nil && strings.Contains(err.Error(), "does not exist")
}
