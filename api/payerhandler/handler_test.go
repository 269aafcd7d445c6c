package payerhandler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/wallet-key-backup/api/clients"
	"github.com/ruteri/wallet-key-backup/chain/chaintest"
	"github.com/ruteri/wallet-key-backup/interfaces"
	"github.com/ruteri/wallet-key-backup/keys"
	"github.com/ruteri/wallet-key-backup/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	accountAddr, _ = interfaces.NewAddressFromHex("0x01cf0e2f2f715450")
	payerAddr, _   = interfaces.NewAddressFromHex("0xf8d6e0586b0a20c7")
)

type testEnv struct {
	chain   *chaintest.FakeChain
	server  *httptest.Server
	builder *transaction.Builder
	shares  []*keys.SeedPhraseProvider
	log     *slog.Logger
}

func setupTestEnvironment(t *testing.T, allowedScripts ...string) *testEnv {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	payerKey, err := keys.GeneratePrivateKey(interfaces.ECDSAP256)
	require.NoError(t, err)
	payerSigner, err := keys.NewPrivateKeyProvider(payerKey, interfaces.ECDSAP256, interfaces.SHA3_256, interfaces.FullWeight)
	require.NoError(t, err)

	var shares []*keys.SeedPhraseProvider
	for i := 0; i < 2; i++ {
		material, err := keys.GenerateKeyMaterial(keys.DefaultMnemonicWords)
		require.NoError(t, err)
		share, err := material.Provider(interfaces.SHA2_256, interfaces.ShareWeight)
		require.NoError(t, err)
		shares = append(shares, share)
	}

	chain := chaintest.NewFakeChain()
	chain.CreateAccount(payerAddr, payerSigner)
	chain.CreateAccount(accountAddr, shares[0], shares[1])

	r := chi.NewRouter()
	NewHandler(payerAddr, 0, payerSigner, 0, allowedScripts, logger).RegisterRoutes(r)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	payer := clients.NewPayerClient(server.URL, payerAddr, 0, 5*time.Second)
	return &testEnv{
		chain:   chain,
		server:  server,
		builder: transaction.NewBuilder(chain, payer, 0, logger),
		shares:  shares,
		log:     logger,
	}
}

func (e *testEnv) prepare(t *testing.T) *transaction.Voucher {
	newKey, err := keys.GeneratePrivateKey(interfaces.ECDSAP256)
	require.NoError(t, err)
	device, err := keys.NewPrivateKeyProvider(newKey, interfaces.ECDSAP256, interfaces.SHA3_256, interfaces.FullWeight)
	require.NoError(t, err)

	args, err := transaction.AddKeyArguments(device.PublicKey(), device.SignatureAlgorithm(), device.HashAlgorithm(), device.KeyWeight())
	require.NoError(t, err)

	v, signers, err := e.builder.PrepareMulti(context.Background(), transaction.PrepareRequest{
		Address:   accountAddr,
		Script:    transaction.AddKeyScript,
		Arguments: args,
	}, e.shares[0], e.shares[1])
	require.NoError(t, err)

	for _, s := range signers {
		require.NoError(t, e.builder.AddPayloadSignature(v, accountAddr, s.KeyIndex, s.Provider))
	}
	return v
}

func TestHandleSignAsPayer_Success(t *testing.T) {
	env := setupTestEnvironment(t)
	v := env.prepare(t)

	require.Len(t, v.PayloadSignatures, 2)
	require.NoError(t, env.builder.AddRemoteEnvelopeSignature(context.Background(), v))
	require.Len(t, v.EnvelopeSignatures, 1)
	assert.Equal(t, payerAddr, v.EnvelopeSignatures[0].Address)

	id, err := env.builder.Submit(context.Background(), v)
	require.NoError(t, err)

	result, err := env.chain.GetTransactionResult(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, result.ErrorMessage)
	assert.Len(t, env.chain.Account(accountAddr).Keys, 3)
}

func TestHandleSignAsPayer_WrongPayer(t *testing.T) {
	env := setupTestEnvironment(t)
	v := env.prepare(t)
	v.Payer = accountAddr

	err := env.builder.AddRemoteEnvelopeSignature(context.Background(), v)
	require.ErrorIs(t, err, interfaces.ErrProtocolRejection)
	assert.Contains(t, err.Error(), "403")
}

func TestHandleSignAsPayer_WrongPayerKey(t *testing.T) {
	env := setupTestEnvironment(t)
	v := env.prepare(t)
	assert.Equal(t, 0, v.PayerKeyIndex)
	v.PayerKeyIndex = 1

	err := env.builder.AddRemoteEnvelopeSignature(context.Background(), v)
	require.ErrorIs(t, err, interfaces.ErrProtocolRejection)
	assert.Contains(t, err.Error(), "payer key 1")
}

func TestHandleSignAsPayer_ScriptNotAllowed(t *testing.T) {
	env := setupTestEnvironment(t, "transaction { execute {} }")
	v := env.prepare(t)

	err := env.builder.AddRemoteEnvelopeSignature(context.Background(), v)
	require.ErrorIs(t, err, interfaces.ErrProtocolRejection)
}

func TestHandleSignAsPayer_Validation(t *testing.T) {
	env := setupTestEnvironment(t)
	v := env.prepare(t)

	tests := []struct {
		name   string
		body   func() []byte
		status int
	}{
		{
			name:   "malformed json",
			body:   func() []byte { return []byte("{") },
			status: http.StatusBadRequest,
		},
		{
			name: "bad reference block",
			body: func() []byte {
				req := v.PayerRequest()
				req.ReferenceBlockID = "zz"
				b, _ := json.Marshal(req)
				return b
			},
			status: http.StatusBadRequest,
		},
		{
			name: "compute limit too high",
			body: func() []byte {
				req := v.PayerRequest()
				req.ComputeLimit = transaction.DefaultComputeLimit + 1
				b, _ := json.Marshal(req)
				return b
			},
			status: http.StatusBadRequest,
		},
		{
			name: "no payload signatures",
			body: func() []byte {
				req := v.PayerRequest()
				req.PayloadSignatures = nil
				b, _ := json.Marshal(req)
				return b
			},
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(env.server.URL+clients.SignAsPayerPath, "application/json", bytes.NewReader(tt.body()))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestHandlePayerInfo(t *testing.T) {
	env := setupTestEnvironment(t)

	resp, err := http.Get(env.server.URL + "/api/payer")
	require.NoError(t, err)
	defer resp.Body.Close()

	var info map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, payerAddr.String(), info["address"])
	assert.Equal(t, float64(0), info["keyId"])
}
