package storage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ruteri/wallet-key-backup/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVault serves a minimal KV v2 engine mounted at "secret".
type fakeVault struct {
	mu       sync.Mutex
	secrets  map[string]string
	versions map[string]int
	token    string
}

func (f *fakeVault) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Header.Get("X-Vault-Token") != f.token {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"errors":["permission denied"]}`))
		return
	}

	list := r.Method == "LIST" || r.URL.Query().Get("list") == "true"
	switch {
	case list && strings.HasPrefix(r.URL.Path, "/v1/secret/metadata/"):
		prefix := strings.TrimPrefix(r.URL.Path, "/v1/secret/metadata/") + "/"
		var keys []string
		for p := range f.secrets {
			if strings.HasPrefix(p, prefix) {
				keys = append(keys, strings.TrimPrefix(p, prefix))
			}
		}
		keys = append(keys, "nested/")
		json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{"keys": keys}})

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/secret/metadata/"):
		p := strings.TrimPrefix(r.URL.Path, "/v1/secret/metadata/")
		if _, ok := f.secrets[p]; !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"errors":[]}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{
			"current_version": f.versions[p],
			"updated_time":    "2026-01-02T03:04:05.123456Z",
		}})

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/secret/data/"):
		p := strings.TrimPrefix(r.URL.Path, "/v1/secret/data/")
		content, ok := f.secrets[p]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"errors":[]}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{
			"data":     map[string]interface{}{"content": content},
			"metadata": map[string]interface{}{"version": f.versions[p]},
		}})

	case (r.Method == http.MethodPut || r.Method == http.MethodPost) && strings.HasPrefix(r.URL.Path, "/v1/secret/data/"):
		p := strings.TrimPrefix(r.URL.Path, "/v1/secret/data/")
		var body struct {
			Data struct {
				Content string `json:"content"`
			} `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"errors":["invalid body"]}`))
			return
		}
		f.secrets[p] = body.Data.Content
		f.versions[p]++
		json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{"version": f.versions[p]}})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		w.Write([]byte(`{"errors":["unsupported"]}`))
	}
}

func TestVaultDriver_Lifecycle(t *testing.T) {
	fake := &fakeVault{secrets: map[string]string{}, versions: map[string]int{}, token: "vault-token"}
	server := httptest.NewServer(fake)
	defer server.Close()

	driver, err := NewVaultDriver(server.URL, "/secret/", "wallet-backup", "vault-token", testLogger())
	require.NoError(t, err)
	assert.Equal(t, "vault-secret-wallet-backup", driver.Name())
	ctx := context.Background()

	_, found, err := driver.Locate(ctx, "backup.json")
	require.NoError(t, err)
	assert.False(t, found)

	handle, err := driver.Create(ctx, "backup.json")
	require.NoError(t, err)
	assert.Equal(t, "wallet-backup/backup.json", handle.ID)

	require.NoError(t, driver.Write(ctx, handle, []byte(`"sealed"`)))

	located, found, err := driver.Locate(ctx, "backup.json")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, handle.ID, located.ID)
	assert.Equal(t, "2", located.Revision)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 123456000, time.UTC), located.ModifiedAt.UTC())

	data, err := driver.Read(ctx, located)
	require.NoError(t, err)
	assert.Equal(t, []byte(`"sealed"`), data)

	handles, err := driver.List(ctx)
	require.NoError(t, err)
	require.Len(t, handles, 1)
	assert.Equal(t, "backup.json", handles[0].Name)

	_, err = driver.Read(ctx, interfaces.FileHandle{ID: "wallet-backup/missing.json"})
	require.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestVaultDriver_Errors(t *testing.T) {
	fake := &fakeVault{secrets: map[string]string{}, versions: map[string]int{}, token: "vault-token"}
	server := httptest.NewServer(fake)

	driver, err := NewVaultDriver(server.URL, "secret", "wallet-backup", "wrong-token", testLogger())
	require.NoError(t, err)

	_, _, err = driver.Locate(context.Background(), "backup.json")
	require.ErrorIs(t, err, interfaces.ErrIO)

	err = driver.Write(context.Background(), interfaces.FileHandle{ID: "wallet-backup/backup.json"}, []byte("x"))
	require.ErrorIs(t, err, interfaces.ErrIO)

	server.Close()
	_, err = driver.List(context.Background())
	require.ErrorIs(t, err, interfaces.ErrIO)
}
