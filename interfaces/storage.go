package interfaces

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// FileHandle identifies a single remote file on a cloud driver.
type FileHandle struct {
	// ID is the driver-specific locator (path, object key, KV path).
	ID string

	// Name is the logical file name the handle was located or created by.
	Name string

	// Revision is an optional driver-specific version tag required for updates
	// (e.g. the blob sha on GitHub).
	Revision string

	// ModifiedAt is the last modification time when the backend reports one.
	ModifiedAt time.Time
}

// CloudDriver is the per-provider storage primitive set. Drivers never retry and
// report absent files through the found flag or ErrNotFound, and transport
// failures wrapped in ErrIO.
type CloudDriver interface {
	// Locate finds a file by name. found is false when it does not exist.
	Locate(ctx context.Context, name string) (handle FileHandle, found bool, err error)

	// Create creates an empty file and returns its handle.
	Create(ctx context.Context, name string) (FileHandle, error)

	// Read returns the whole file content. Returns ErrNotFound if the handle no
	// longer resolves.
	Read(ctx context.Context, handle FileHandle) ([]byte, error)

	// Write overwrites the whole file content.
	Write(ctx context.Context, handle FileHandle, data []byte) error

	// List returns all files managed by this driver.
	List(ctx context.Context) ([]FileHandle, error)

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this driver.
	LocationURI() string
}

// StorageBackendLocation represents URI for storage backend.
type StorageBackendLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   *url.Userinfo
}

// NewStorageBackendLocation creates a new storage location from a URI string with validation.
func NewStorageBackendLocation(uri string) (StorageBackendLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return StorageBackendLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	switch parsed.Scheme {
	case "file", "s3", "ipfs", "github", "vault":
	default:
		return StorageBackendLocation{}, fmt.Errorf("%w: unsupported storage scheme: %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	return StorageBackendLocation{
		Raw:    uri,
		Scheme: parsed.Scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   parsed.User,
	}, nil
}

// String returns the original URI string.
func (loc StorageBackendLocation) String() string {
	return loc.Raw
}

// GetParam returns a query parameter value.
func (loc StorageBackendLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc StorageBackendLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

// ErrInvalidLocationURI is returned when a storage location URI is malformed or unsupported.
// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
var ErrInvalidLocationURI = fmt.Errorf("%w: invalid storage location URI", ErrConfiguration)

// CloudDriverFactory creates cloud drivers from location URIs.
type CloudDriverFactory interface {
	// DriverFor creates a driver from URI.
	// Supports file://, s3://, ipfs://, github://, vault://
	DriverFor(location StorageBackendLocation) (CloudDriver, error)
}
