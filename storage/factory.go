package storage

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/wallet-key-backup/interfaces"
)

// DriverFactory creates cloud drivers from location URIs.
type DriverFactory struct {
	log *slog.Logger
}

// NewDriverFactory creates a new factory instance.
func NewDriverFactory(logger *slog.Logger) *DriverFactory {
	return &DriverFactory{log: logger}
}

// DriverFor creates a cloud driver from a location URI.
// The URI format should be [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - file:// - Local filesystem directory
//   - s3:// - Amazon S3 or compatible object storage
//   - ipfs:// - IPFS node mutable file system
//   - vault:// - HashiCorp Vault KV v2
//   - github:// - GitHub repository contents
func (f *DriverFactory) DriverFor(location interfaces.StorageBackendLocation) (interfaces.CloudDriver, error) {
	switch strings.ToLower(location.Scheme) {
	case "github":
		return f.createGitHubDriver(location)
	case "ipfs":
		return f.createIPFSDriver(location)
	case "s3":
		return f.createS3Driver(location)
	case "vault":
		return f.createVaultDriver(location)
	case "file":
		return f.createFileDriver(location)
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme: %s", interfaces.ErrInvalidLocationURI, location.Scheme)
	}
}

// DriversFor parses and creates a driver for every URI, in order. Invalid URIs are
// logged and skipped; an error is returned only when none could be created.
func (f *DriverFactory) DriversFor(uris []string) ([]interfaces.CloudDriver, error) {
	drivers := make([]interfaces.CloudDriver, 0, len(uris))

	for _, uri := range uris {
		location, err := interfaces.NewStorageBackendLocation(uri)
		if err == nil {
			var driver interfaces.CloudDriver
			driver, err = f.DriverFor(location)
			if err == nil {
				drivers = append(drivers, driver)
				continue
			}
		}
		f.log.Warn("Failed to create cloud driver",
			"err", err,
			slog.String("locationURI", redactURI(uri)))
	}

	if len(drivers) == 0 {
		return nil, fmt.Errorf("%w: no valid cloud drivers created", interfaces.ErrConfiguration)
	}
	return drivers, nil
}

// createGitHubDriver creates a GitHub contents driver.
// URI format: github://[TOKEN@]owner/repo[/dir]?branch=main&api=https://api.github.com
func (f *DriverFactory) createGitHubDriver(loc interfaces.StorageBackendLocation) (interfaces.CloudDriver, error) {
	f.log.Debug("Creating GitHub driver", slog.String("owner", loc.Host))

	parts := strings.SplitN(strings.Trim(loc.Path, "/"), "/", 2)
	if loc.Host == "" || parts[0] == "" {
		return nil, fmt.Errorf("%w: expected github://owner/repo[/dir]", interfaces.ErrInvalidLocationURI)
	}

	owner := loc.Host
	repo := parts[0]
	dir := ""
	if len(parts) == 2 {
		dir = parts[1]
	}

	token := loc.GetParam("token")
	if loc.Auth != nil && token == "" {
		token = loc.Auth.Username()
	}

	return NewGitHubDriver(owner, repo, dir, loc.GetParam("branch"), token, loc.GetParam("api"), f.log), nil
}

// createIPFSDriver creates an IPFS MFS driver.
// URI format: ipfs://host:port/mfs/dir?timeout=30s
func (f *DriverFactory) createIPFSDriver(loc interfaces.StorageBackendLocation) (interfaces.CloudDriver, error) {
	f.log.Debug("Creating IPFS driver", slog.String("host", loc.Host))

	host, port, found := strings.Cut(loc.Host, ":")
	if !found || port == "" {
		port = "5001"
	}

	timeout := 30 * time.Second
	if raw := loc.GetParam("timeout"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid timeout %q", interfaces.ErrInvalidLocationURI, raw)
		}
		timeout = parsed
	}

	return NewIPFSDriver(host, port, loc.Path, timeout, f.log)
}

// createS3Driver creates an S3 or S3-compatible driver.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket-name/prefix/?region=us-west-2&endpoint=custom.s3.com
func (f *DriverFactory) createS3Driver(loc interfaces.StorageBackendLocation) (interfaces.CloudDriver, error) {
	f.log.Debug("Creating S3 driver", slog.String("bucket", loc.Host))

	if loc.Host == "" {
		return nil, fmt.Errorf("%w: missing S3 bucket", interfaces.ErrInvalidLocationURI)
	}

	region := loc.GetParam("region")
	if region == "" {
		region = "us-east-1"
	}

	var accessKey, secretKey string
	if loc.Auth != nil {
		accessKey = loc.Auth.Username()
		secretKey, _ = loc.Auth.Password()
	}

	return NewS3Driver(loc.Host, strings.TrimPrefix(loc.Path, "/"), region, loc.GetParam("endpoint"), accessKey, secretKey, f.log)
}

// createVaultDriver creates a Vault KV v2 driver.
// URI format: vault://[TOKEN@]host:port/mount/path?tls=true
func (f *DriverFactory) createVaultDriver(loc interfaces.StorageBackendLocation) (interfaces.CloudDriver, error) {
	f.log.Debug("Creating Vault driver", slog.String("host", loc.Host))

	mount, dataPath, _ := strings.Cut(strings.Trim(loc.Path, "/"), "/")
	if loc.Host == "" || mount == "" {
		return nil, fmt.Errorf("%w: expected vault://host:port/mount/path", interfaces.ErrInvalidLocationURI)
	}

	scheme := "http"
	if loc.GetParamBool("tls") {
		scheme = "https"
	}

	token := loc.GetParam("token")
	if loc.Auth != nil && token == "" {
		token = loc.Auth.Username()
	}

	return NewVaultDriver(fmt.Sprintf("%s://%s", scheme, loc.Host), mount, dataPath, token, f.log)
}

// createFileDriver creates a file system driver.
// URI format: file:///absolute/path/ or file://./relative/path/
func (f *DriverFactory) createFileDriver(loc interfaces.StorageBackendLocation) (interfaces.CloudDriver, error) {
	f.log.Debug("Creating file driver", slog.String("path", loc.Path))

	path := loc.Path
	if loc.Host != "" {
		path = loc.Host + "/" + strings.TrimPrefix(path, "/")
	}

	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI: %s", interfaces.ErrInvalidLocationURI, loc.String())
	}

	return NewFileDriver(path, f.log)
}

// redactURI strips credentials from a URI for logging.
func redactURI(uri string) string {
	uri, _, _ = strings.Cut(uri, "?")
	if scheme, rest, found := strings.Cut(uri, "://"); found {
		if at := strings.Index(rest, "@"); at >= 0 {
			return scheme + "://***@" + rest[at+1:]
		}
	}
	return uri
}
