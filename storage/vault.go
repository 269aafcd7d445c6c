package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/wallet-key-backup/interfaces"
)

// VaultDriver implements a cloud driver on a HashiCorp Vault KV v2 secrets engine.
// Each backup file is one secret holding its content under the "content" key.
type VaultDriver struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultDriver creates a new Vault driver authenticated with a token.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: Path within the mount (e.g. "wallet-backup")
//   - token: Vault token with read/write access to the path
//   - log: Structured logger
func NewVaultDriver(address, mountPath, dataPath, token string, log *slog.Logger) (*VaultDriver, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.HttpClient = &http.Client{Timeout: 30 * time.Second}
	config.MaxRetries = 0

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Vault client: %v", interfaces.ErrConfiguration, err)
	}
	if token != "" {
		client.SetToken(token)
	}

	mountPath = strings.Trim(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultDriver{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", strings.TrimPrefix(strings.TrimPrefix(address, "https://"), "http://"), mountPath, dataPath),
	}, nil
}

// Locate reads the secret metadata for name.
func (d *VaultDriver) Locate(ctx context.Context, name string) (interfaces.FileHandle, bool, error) {
	secret, err := d.client.Logical().ReadWithContext(ctx, d.metadataPath(name))
	if err != nil {
		return interfaces.FileHandle{}, false, fmt.Errorf("%w: failed to read Vault metadata: %v", interfaces.ErrIO, err)
	}
	if secret == nil || secret.Data == nil {
		return interfaces.FileHandle{}, false, nil
	}

	handle := interfaces.FileHandle{ID: path.Join(d.dataPath, name), Name: name}
	if version, ok := secret.Data["current_version"]; ok {
		handle.Revision = fmt.Sprint(version)
	}
	if updated, ok := secret.Data["updated_time"].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, updated); err == nil {
			handle.ModifiedAt = ts
		}
	}
	return handle, true, nil
}

// Create writes an empty secret.
func (d *VaultDriver) Create(ctx context.Context, name string) (interfaces.FileHandle, error) {
	handle := interfaces.FileHandle{ID: path.Join(d.dataPath, name), Name: name}
	if err := d.Write(ctx, handle, nil); err != nil {
		return interfaces.FileHandle{}, err
	}
	return handle, nil
}

// Read returns the content stored in the secret.
func (d *VaultDriver) Read(ctx context.Context, handle interfaces.FileHandle) ([]byte, error) {
	start := time.Now()
	dataPath := d.secretPath(handle)

	secret, err := d.client.Logical().ReadWithContext(ctx, dataPath)
	if err != nil {
		d.log.Error("Failed to read from Vault",
			slog.String("path", dataPath),
			"err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrIO, err)
	}

	if secret == nil || secret.Data == nil {
		d.log.Debug("Secret not found in Vault", slog.String("path", dataPath))
		return nil, interfaces.ErrNotFound
	}

	// KV v2 nests the payload under "data"; deleted versions carry a nil map.
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, interfaces.ErrNotFound
	}

	content, ok := data["content"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: content key not found in Vault data", interfaces.ErrIO)
	}

	d.log.Debug("Fetched secret from Vault",
		slog.String("path", dataPath),
		slog.Int("size", len(content)),
		slog.Duration("duration", time.Since(start)))

	return []byte(content), nil
}

// Write stores data as a new secret version.
func (d *VaultDriver) Write(ctx context.Context, handle interfaces.FileHandle, data []byte) error {
	dataPath := d.secretPath(handle)

	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"content": string(data),
		},
	}

	if _, err := d.client.Logical().WriteWithContext(ctx, dataPath, secretData); err != nil {
		d.log.Error("Failed to write to Vault",
			slog.String("path", dataPath),
			"err", err)
		return fmt.Errorf("%w: %v", interfaces.ErrIO, err)
	}

	d.log.Debug("Stored secret in Vault",
		slog.String("path", dataPath),
		slog.Int("size", len(data)))

	return nil
}

// List returns every secret under the data path.
func (d *VaultDriver) List(ctx context.Context) ([]interfaces.FileHandle, error) {
	secret, err := d.client.Logical().ListWithContext(ctx, path.Join(d.mountPath, "metadata", d.dataPath))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list Vault secrets: %v", interfaces.ErrIO, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}

	keys, _ := secret.Data["keys"].([]interface{})
	handles := make([]interfaces.FileHandle, 0, len(keys))
	for _, key := range keys {
		name, ok := key.(string)
		if !ok || strings.HasSuffix(name, "/") {
			continue
		}
		handles = append(handles, interfaces.FileHandle{ID: path.Join(d.dataPath, name), Name: name})
	}
	return handles, nil
}

// Name returns a unique identifier for this driver.
func (d *VaultDriver) Name() string {
	return fmt.Sprintf("vault-%s-%s", d.mountPath, d.dataPath)
}

// LocationURI returns the URI that identifies this driver.
func (d *VaultDriver) LocationURI() string {
	return d.locationURI
}

func (d *VaultDriver) secretPath(handle interfaces.FileHandle) string {
	return path.Join(d.mountPath, "data", handle.ID)
}

func (d *VaultDriver) metadataPath(name string) string {
	return path.Join(d.mountPath, "metadata", d.dataPath, name)
}
