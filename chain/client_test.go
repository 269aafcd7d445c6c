package chain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/wallet-key-backup/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBlockID = "7bc42fe85d32ca513769a74f97f7e1a7bad6c9407f0d934c2aa645ef9cf613c7"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestNode(t *testing.T) (*httptest.Server, *transactionRequest) {
	var sent transactionRequest
	r := chi.NewRouter()

	r.Get("/v1/accounts/{address}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "address") != "01cf0e2f2f715450" {
			http.Error(w, `{"code":404,"message":"account not found"}`, http.StatusNotFound)
			return
		}
		assert.Equal(t, "keys", r.URL.Query().Get("expand"))
		w.Write([]byte(`{
			"address": "01cf0e2f2f715450",
			"balance": "100000",
			"keys": [
				{"index":"0","public_key":"0xabcd","signing_algorithm":"ECDSA_P256","hashing_algorithm":"SHA3_256","sequence_number":"4","weight":"1000","revoked":false},
				{"index":"1","public_key":"0xef01","signing_algorithm":"ECDSA_P256","hashing_algorithm":"SHA2_256","sequence_number":"0","weight":"500","revoked":true}
			]
		}`))
	})

	r.Get("/v1/blocks", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sealed", r.URL.Query().Get("height"))
		w.Write([]byte(`[{"header":{"id":"` + testBlockID + `","height":"42"}}]`))
	})

	r.Post("/v1/transactions", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sent))
		if sent.GasLimit == "0" {
			http.Error(w, `{"code":400,"message":"invalid gas limit"}`, http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"id":"` + testBlockID + `"}`))
	})

	r.Get("/v1/transaction_results/{id}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "id") != testBlockID {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"Sealed","status_code":1,"error_message":"cadence runtime error"}`))
	})

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server, &sent
}

func TestClient_GetAccount(t *testing.T) {
	server, _ := newTestNode(t)
	client := NewClient(server.URL, 0, testLogger())

	addr, _ := interfaces.NewAddressFromHex("0x01cf0e2f2f715450")
	account, err := client.GetAccount(context.Background(), addr)
	require.NoError(t, err)

	assert.Equal(t, uint64(100000), account.Balance)
	require.Len(t, account.Keys, 2)
	assert.Equal(t, "abcd", account.Keys[0].PublicKey)
	assert.Equal(t, interfaces.ECDSAP256, account.Keys[0].SigAlgo)
	assert.Equal(t, interfaces.SHA3_256, account.Keys[0].HashAlgo)
	assert.Equal(t, uint64(4), account.Keys[0].SequenceNumber)
	assert.Equal(t, 1000, account.Keys[0].Weight)
	assert.True(t, account.Keys[1].Revoked)

	_, found := account.KeyByPublicKey("0xEF01")
	assert.False(t, found, "revoked keys are not matched")

	missing, _ := interfaces.NewAddressFromHex("0x02")
	_, err = client.GetAccount(context.Background(), missing)
	require.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestClient_GetLatestSealedBlock(t *testing.T) {
	server, _ := newTestNode(t)
	client := NewClient(server.URL, 0, testLogger())

	block, err := client.GetLatestSealedBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testBlockID, block.ID.String())
	assert.Equal(t, uint64(42), block.Height)
}

func TestClient_SendTransaction(t *testing.T) {
	server, sent := newTestNode(t)
	client := NewClient(server.URL, 0, testLogger())

	addr, _ := interfaces.NewAddressFromHex("0x01cf0e2f2f715450")
	tx := &interfaces.SignedTransaction{
		Script:       []byte("transaction {}"),
		Arguments:    [][]byte{[]byte(`{"type":"String","value":"a"}`)},
		ComputeLimit: 9999,
		ProposalKey:  interfaces.ProposalKey{Address: addr, KeyIndex: 1, SequenceNumber: 3},
		Payer:        addr,
		Authorizers:  []interfaces.Address{addr},
		EnvelopeSignatures: []interfaces.TransactionSignature{
			{Address: addr, KeyIndex: 1, Signature: []byte{0x01, 0x02}},
		},
	}

	id, err := client.SendTransaction(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, testBlockID, id.String())

	assert.Equal(t, base64.StdEncoding.EncodeToString(tx.Script), sent.Script)
	assert.Equal(t, "9999", sent.GasLimit)
	assert.Equal(t, "01cf0e2f2f715450", sent.Payer)
	assert.Equal(t, "3", sent.ProposalKey.SequenceNumber)
	require.Len(t, sent.EnvelopeSignatures, 1)
	assert.Equal(t, "AQI=", sent.EnvelopeSignatures[0].Signature)
	assert.Empty(t, sent.PayloadSignatures)

	tx.ComputeLimit = 0
	_, err = client.SendTransaction(context.Background(), tx)
	require.ErrorIs(t, err, interfaces.ErrProtocolRejection)
	assert.Contains(t, err.Error(), "invalid gas limit")
}

func TestClient_GetTransactionResult(t *testing.T) {
	server, _ := newTestNode(t)
	client := NewClient(server.URL, 0, testLogger())

	id, err := interfaces.NewIdentifierFromHex(testBlockID)
	require.NoError(t, err)

	result, err := client.GetTransactionResult(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, interfaces.TransactionStatusSealed, result.Status)
	assert.True(t, result.Failed())

	_, err = client.GetTransactionResult(context.Background(), interfaces.Identifier{1})
	require.ErrorIs(t, err, interfaces.ErrIO)
	assert.True(t, interfaces.IsRetryable(err))
}

func TestClient_MalformedNumbers(t *testing.T) {
	addr, _ := interfaces.NewAddressFromHex("0x01cf0e2f2f715450")
	tests := []struct {
		name    string
		account string
		want    string
	}{
		{"sequence", `{"balance":"1","keys":[{"index":"0","public_key":"ab","sequence_number":"seven","weight":"1000"}]}`, "invalid sequence number"},
		{"weight", `{"balance":"1","keys":[{"index":"0","public_key":"ab","sequence_number":"7","weight":"1000.00000000"}]}`, "invalid weight"},
		{"balance", `{"balance":"","keys":[]}`, "invalid balance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := chi.NewRouter()
			r.Get("/v1/accounts/{address}", func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.account))
			})
			server := httptest.NewServer(r)
			defer server.Close()

			_, err := NewClient(server.URL, 0, testLogger()).GetAccount(context.Background(), addr)
			require.ErrorIs(t, err, interfaces.ErrIO)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	r := chi.NewRouter()
	r.Get("/v1/blocks", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"header":{"id":"` + testBlockID + `","height":"latest"}}]`))
	})
	server := httptest.NewServer(r)
	defer server.Close()

	_, err := NewClient(server.URL, 0, testLogger()).GetLatestSealedBlock(context.Background())
	require.ErrorIs(t, err, interfaces.ErrIO)
	assert.Contains(t, err.Error(), "invalid block height")
}

func TestClient_NetworkError(t *testing.T) {
	server, _ := newTestNode(t)
	url := server.URL
	server.Close()

	_, err := NewClient(url, 0, testLogger()).GetLatestSealedBlock(context.Background())
	require.ErrorIs(t, err, interfaces.ErrIO)
}
