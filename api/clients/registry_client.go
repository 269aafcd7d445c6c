package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ruteri/wallet-key-backup/interfaces"
	"github.com/stretchr/testify/mock"
)

// RegistryClient implements interfaces.AccountRegistry for the wallet backend.
type RegistryClient struct {
	// ServerAddr is the base URL of the account registry
	ServerAddr string

	// Token, when set, is sent as a bearer token
	Token string

	client *http.Client
}

// NewRegistryClient creates a registry client.
func NewRegistryClient(serverAddr, token string, timeout time.Duration) *RegistryClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RegistryClient{
		ServerAddr: serverAddr,
		Token:      token,
		client:     &http.Client{Timeout: timeout},
	}
}

// SyncDeviceKey records a newly registered key for address. Repeating a sync for the
// same key is harmless on the server side.
func (c *RegistryClient) SyncDeviceKey(ctx context.Context, address interfaces.Address, req *interfaces.DeviceKeyRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal sync request: %w", err)
	}

	url := fmt.Sprintf("%s/api/accounts/%s/keys", c.ServerAddr, address.String())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %v", interfaces.ErrConfiguration, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: could not request account registry: %v", interfaces.ErrIO, err)
	}
	defer resp.Body.Close()

	return statusError("account registry", resp)
}

// MockAccountRegistry implements interfaces.AccountRegistry for testing.
type MockAccountRegistry struct {
	mock.Mock
}

func (m *MockAccountRegistry) SyncDeviceKey(ctx context.Context, address interfaces.Address, req *interfaces.DeviceKeyRequest) error {
	args := m.Called(ctx, address, req)
	return args.Error(0)
}

var _ interfaces.AccountRegistry = (*RegistryClient)(nil)
