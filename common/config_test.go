package common

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ruteri/wallet-key-backup/interfaces"
	"github.com/ruteri/wallet-key-backup/storage"
	"github.com/ruteri/wallet-key-backup/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	backupDir := t.TempDir()
	path := writeConfig(t, `
backup:
  secret: static-secret
  storage_uris:
    - file://`+backupDir+`
chain:
  access_node_url: http://localhost:8888
  poll_interval: 2s
fee_payer:
  url: http://localhost:8081
  address: "0xf8d6e0586b0a20c7"
  key_index: 2
`)
	t.Setenv("WALLET_BACKUP_RETRY_ATTEMPTS", "5")
	t.Setenv("WALLET_BACKUP_REGISTRY_TOKEN", "token-from-env")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "static-secret", cfg.Backup.Secret)
	assert.Equal(t, storage.DefaultBackupFileName, cfg.Backup.FileName)
	assert.Equal(t, "http://localhost:8888", cfg.Chain.AccessNodeURL)
	assert.Equal(t, 2*time.Second, cfg.Chain.PollInterval)
	assert.Equal(t, transaction.DefaultComputeLimit, cfg.Chain.ComputeLimit)
	assert.Equal(t, uint64(5), cfg.Retry.Attempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.Interval)
	assert.Equal(t, "token-from-env", cfg.Registry.Token)

	payer, ok := cfg.FeePayerAddress()
	require.True(t, ok)
	assert.Equal(t, "0xf8d6e0586b0a20c7", payer.String())
	assert.Equal(t, 2, cfg.FeePayer.KeyIndex)

	stores, err := cfg.BackupStores(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.Len(t, stores, 1)
	assert.Equal(t, "file-"+filepath.Base(backupDir), stores[0].Name())
}

func TestLoadConfig_Validation(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
chain:
  access_node_url: http://localhost:8888
`))
	require.ErrorIs(t, err, interfaces.ErrConfiguration)
	assert.Contains(t, err.Error(), "backup.secret")

	_, err = LoadConfig(writeConfig(t, `
backup:
  secret: s
fee_payer:
  url: http://localhost:8081
`))
	require.ErrorIs(t, err, interfaces.ErrConfiguration)
	assert.Contains(t, err.Error(), "must be set together")

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, interfaces.ErrConfiguration)
}

func TestLoadConfig_EnvOnly(t *testing.T) {
	t.Setenv("WALLET_BACKUP_BACKUP_SECRET", "from-env")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Backup.Secret)
	_, ok := cfg.FeePayerAddress()
	assert.False(t, ok)
}
