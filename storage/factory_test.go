package storage

import (
	"path/filepath"
	"testing"

	"github.com/ruteri/wallet-key-backup/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriverFactory_DriverFor(t *testing.T) {
	factory := NewDriverFactory(testLogger())
	dir := t.TempDir()

	tests := []struct {
		name     string
		uri      string
		wantType interface{}
		wantErr  bool
	}{
		{name: "file", uri: "file://" + filepath.Join(dir, "backups"), wantType: &FileDriver{}},
		{name: "s3", uri: "s3://AKIA:secret@bucket/wallets?region=eu-west-1", wantType: &S3Driver{}},
		{name: "ipfs", uri: "ipfs://localhost:5001/wallet?timeout=5s", wantType: &IPFSDriver{}},
		{name: "ipfs bad timeout", uri: "ipfs://localhost:5001/wallet?timeout=soon", wantErr: true},
		{name: "vault", uri: "vault://token@vault.local:8200/secret/wallet", wantType: &VaultDriver{}},
		{name: "vault missing mount", uri: "vault://vault.local:8200", wantErr: true},
		{name: "github", uri: "github://owner/repo/backups?branch=main", wantType: &GitHubDriver{}},
		{name: "github missing repo", uri: "github://owner", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			location, err := interfaces.NewStorageBackendLocation(tt.uri)
			require.NoError(t, err)

			driver, err := factory.DriverFor(location)
			if tt.wantErr {
				require.ErrorIs(t, err, interfaces.ErrConfiguration)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, driver)
		})
	}
}

func TestDriverFactory_DriversFor(t *testing.T) {
	factory := NewDriverFactory(testLogger())

	drivers, err := factory.DriversFor([]string{
		"ftp://example.com/backups",
		"file://" + t.TempDir(),
	})
	require.NoError(t, err)
	require.Len(t, drivers, 1)

	_, err = factory.DriversFor([]string{"ftp://example.com"})
	require.ErrorIs(t, err, interfaces.ErrConfiguration)
}

func TestNewStorageBackendLocation(t *testing.T) {
	_, err := interfaces.NewStorageBackendLocation("gopher://x")
	require.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	loc, err := interfaces.NewStorageBackendLocation("vault://vault.local:8200/secret/wallet?tls=yes")
	require.NoError(t, err)
	assert.Equal(t, "vault", loc.Scheme)
	assert.True(t, loc.GetParamBool("tls"))
}

func TestRedactURI(t *testing.T) {
	assert.Equal(t, "s3://***@bucket/wallets", redactURI("s3://AKIA:secret@bucket/wallets?region=x"))
	assert.Equal(t, "github://owner/repo", redactURI("github://owner/repo?token=abc"))
}
