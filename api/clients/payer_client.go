package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ruteri/wallet-key-backup/interfaces"
	"github.com/stretchr/testify/mock"
)

// SignAsPayerPath is the fee payer endpoint accepting a PayerSignRequest.
const SignAsPayerPath = "/api/signAsPayer"

// PayerClient implements interfaces.FeePayer against a remote fee payer server.
type PayerClient struct {
	// ServerAddr is the base URL of the fee payer server
	ServerAddr string

	payer    interfaces.Address
	keyIndex int
	client   *http.Client
}

// NewPayerClient creates a client for the fee payer at serverAddr sponsoring payer
// with its key keyIndex.
func NewPayerClient(serverAddr string, payer interfaces.Address, keyIndex int, timeout time.Duration) *PayerClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PayerClient{
		ServerAddr: serverAddr,
		payer:      payer,
		keyIndex:   keyIndex,
		client:     &http.Client{Timeout: timeout},
	}
}

// Address returns the sponsoring payer account.
func (c *PayerClient) Address() interfaces.Address {
	return c.payer
}

// KeyIndex returns the payer key that signs envelopes.
func (c *PayerClient) KeyIndex() int {
	return c.keyIndex
}

// SignAsPayer posts the signable form of a transaction and returns the payer's
// envelope signature.
func (c *PayerClient) SignAsPayer(ctx context.Context, req *interfaces.PayerSignRequest) (*interfaces.PayerSignResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payer request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ServerAddr+SignAsPayerPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", interfaces.ErrConfiguration, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: could not request fee payer: %v", interfaces.ErrIO, err)
	}
	defer resp.Body.Close()

	if err := statusError("fee payer", resp); err != nil {
		return nil, err
	}

	var parsed interfaces.PayerSignResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: could not parse fee payer response: %v", interfaces.ErrIO, err)
	}
	return &parsed, nil
}

// statusError classifies a non-2xx response.
func statusError(endpoint string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	kind := interfaces.ErrIO
	switch {
	case resp.StatusCode == http.StatusNotFound:
		kind = interfaces.ErrNotFound
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		kind = interfaces.ErrProtocolRejection
	}
	return fmt.Errorf("%w: %s returned error %d: %s", kind, endpoint, resp.StatusCode, bytes.TrimSpace(bodyBytes))
}

// MockFeePayer implements interfaces.FeePayer for testing.
type MockFeePayer struct {
	mock.Mock
}

func (m *MockFeePayer) Address() interfaces.Address {
	args := m.Called()
	return args.Get(0).(interfaces.Address)
}

func (m *MockFeePayer) KeyIndex() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockFeePayer) SignAsPayer(ctx context.Context, req *interfaces.PayerSignRequest) (*interfaces.PayerSignResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.PayerSignResponse), args.Error(1)
}

var _ interfaces.FeePayer = (*PayerClient)(nil)
