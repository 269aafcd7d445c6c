// Package chain implements the blockchain client over the Flow Access REST API.
package chain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ruteri/wallet-key-backup/interfaces"
)

// Client talks to an access node's REST API.
type Client struct {
	baseURL string
	client  *http.Client
	log     *slog.Logger
}

// NewClient creates a client for the access node at baseURL (e.g. https://rest-mainnet.onflow.org).
func NewClient(baseURL string, timeout time.Duration, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

type accountResponse struct {
	Address string               `json:"address"`
	Balance string               `json:"balance"`
	Keys    []accountKeyResponse `json:"keys"`
}

type accountKeyResponse struct {
	Index            string `json:"index"`
	PublicKey        string `json:"public_key"`
	SigningAlgorithm string `json:"signing_algorithm"`
	HashingAlgorithm string `json:"hashing_algorithm"`
	SequenceNumber   string `json:"sequence_number"`
	Weight           string `json:"weight"`
	Revoked          bool   `json:"revoked"`
}

type blockResponse struct {
	Header struct {
		ID     string `json:"id"`
		Height string `json:"height"`
	} `json:"header"`
}

type proposalKeyRequest struct {
	Address        string `json:"address"`
	KeyIndex       string `json:"key_index"`
	SequenceNumber string `json:"sequence_number"`
}

type signatureRequest struct {
	Address   string `json:"address"`
	KeyIndex  string `json:"key_index"`
	Signature string `json:"signature"`
}

type transactionRequest struct {
	Script             string             `json:"script"`
	Arguments          []string           `json:"arguments"`
	ReferenceBlockID   string             `json:"reference_block_id"`
	GasLimit           string             `json:"gas_limit"`
	Payer              string             `json:"payer"`
	ProposalKey        proposalKeyRequest `json:"proposal_key"`
	Authorizers        []string           `json:"authorizers"`
	PayloadSignatures  []signatureRequest `json:"payload_signatures"`
	EnvelopeSignatures []signatureRequest `json:"envelope_signatures"`
}

type transactionResponse struct {
	ID string `json:"id"`
}

type transactionResultResponse struct {
	Status       string `json:"status"`
	StatusCode   int    `json:"status_code"`
	ErrorMessage string `json:"error_message"`
}

// GetAccount fetches an account with its keys.
func (c *Client) GetAccount(ctx context.Context, address interfaces.Address) (*interfaces.Account, error) {
	var resp accountResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/accounts/%s?expand=keys", address.Hex()), nil, &resp); err != nil {
		return nil, err
	}

	balance, err := strconv.ParseUint(resp.Balance, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid balance %q", interfaces.ErrIO, resp.Balance)
	}
	account := &interfaces.Account{Address: address, Balance: balance}

	for _, k := range resp.Keys {
		index, err := strconv.Atoi(k.Index)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid key index %q", interfaces.ErrIO, k.Index)
		}
		seq, err := strconv.ParseUint(k.SequenceNumber, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid sequence number %q for key %d", interfaces.ErrIO, k.SequenceNumber, index)
		}
		weight, err := strconv.Atoi(k.Weight)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid weight %q for key %d", interfaces.ErrIO, k.Weight, index)
		}

		account.Keys = append(account.Keys, interfaces.AccountKey{
			Index:          index,
			PublicKey:      strings.TrimPrefix(k.PublicKey, "0x"),
			SigAlgo:        interfaces.ParseSignatureAlgorithm(k.SigningAlgorithm),
			HashAlgo:       interfaces.ParseHashAlgorithm(k.HashingAlgorithm),
			Weight:         weight,
			SequenceNumber: seq,
			Revoked:        k.Revoked,
		})
	}
	return account, nil
}

// GetLatestSealedBlock fetches the latest sealed block header.
func (c *Client) GetLatestSealedBlock(ctx context.Context) (*interfaces.Block, error) {
	var resp []blockResponse
	if err := c.do(ctx, http.MethodGet, "/v1/blocks?height=sealed", nil, &resp); err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("%w: no sealed block returned", interfaces.ErrIO)
	}

	id, err := interfaces.NewIdentifierFromHex(resp[0].Header.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid block id: %v", interfaces.ErrIO, err)
	}
	height, err := strconv.ParseUint(resp[0].Header.Height, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid block height %q", interfaces.ErrIO, resp[0].Header.Height)
	}

	return &interfaces.Block{ID: id, Height: height}, nil
}

// SendTransaction submits a signed transaction. An accepted transaction without an
// id yields the empty identifier.
func (c *Client) SendTransaction(ctx context.Context, tx *interfaces.SignedTransaction) (interfaces.Identifier, error) {
	req := transactionRequest{
		Script:           base64.StdEncoding.EncodeToString(tx.Script),
		Arguments:        make([]string, 0, len(tx.Arguments)),
		ReferenceBlockID: tx.ReferenceBlockID.String(),
		GasLimit:         strconv.FormatUint(tx.ComputeLimit, 10),
		Payer:            tx.Payer.Hex(),
		ProposalKey: proposalKeyRequest{
			Address:        tx.ProposalKey.Address.Hex(),
			KeyIndex:       strconv.Itoa(tx.ProposalKey.KeyIndex),
			SequenceNumber: strconv.FormatUint(tx.ProposalKey.SequenceNumber, 10),
		},
		Authorizers:        make([]string, 0, len(tx.Authorizers)),
		PayloadSignatures:  encodeSignatures(tx.PayloadSignatures),
		EnvelopeSignatures: encodeSignatures(tx.EnvelopeSignatures),
	}
	for _, arg := range tx.Arguments {
		req.Arguments = append(req.Arguments, base64.StdEncoding.EncodeToString(arg))
	}
	for _, addr := range tx.Authorizers {
		req.Authorizers = append(req.Authorizers, addr.Hex())
	}

	var resp transactionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/transactions", req, &resp); err != nil {
		return interfaces.Identifier{}, err
	}
	if resp.ID == "" {
		return interfaces.Identifier{}, nil
	}

	id, err := interfaces.NewIdentifierFromHex(resp.ID)
	if err != nil {
		return interfaces.Identifier{}, fmt.Errorf("%w: invalid transaction id: %v", interfaces.ErrIO, err)
	}
	return id, nil
}

// GetTransactionResult fetches the current result of a transaction.
func (c *Client) GetTransactionResult(ctx context.Context, id interfaces.Identifier) (*interfaces.TransactionResult, error) {
	var resp transactionResultResponse
	if err := c.do(ctx, http.MethodGet, "/v1/transaction_results/"+id.String(), nil, &resp); err != nil {
		return nil, err
	}

	return &interfaces.TransactionResult{
		ID:           id,
		Status:       interfaces.ParseTransactionStatus(resp.Status),
		ErrorMessage: resp.ErrorMessage,
	}, nil
}

func encodeSignatures(sigs []interfaces.TransactionSignature) []signatureRequest {
	out := make([]signatureRequest, 0, len(sigs))
	for _, sig := range sigs {
		out = append(out, signatureRequest{
			Address:   sig.Address.Hex(),
			KeyIndex:  strconv.Itoa(sig.KeyIndex),
			Signature: base64.StdEncoding.EncodeToString(sig.Signature),
		})
	}
	return out
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %v", interfaces.ErrConfiguration, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return interfaces.NewSourceError("access-node", path, fmt.Errorf("%w: %v", interfaces.ErrIO, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return interfaces.NewSourceError("access-node", path, fmt.Errorf("%w: failed to read response: %v", interfaces.ErrIO, err))
	}

	c.log.Debug("Access node request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return interfaces.NewSourceError("access-node", path, interfaces.ErrNotFound)
	case resp.StatusCode == http.StatusBadRequest:
		return interfaces.NewSourceError("access-node", path, fmt.Errorf("%w: %s", interfaces.ErrProtocolRejection, errorMessage(respBody)))
	case resp.StatusCode >= 300:
		return interfaces.NewSourceError("access-node", path, fmt.Errorf("%w: status %d: %s", interfaces.ErrIO, resp.StatusCode, errorMessage(respBody)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return interfaces.NewSourceError("access-node", path, fmt.Errorf("%w: failed to decode response: %v", interfaces.ErrIO, err))
	}
	return nil
}

func errorMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Message != "" {
		return parsed.Message
	}
	if len(body) > 256 {
		body = body[:256]
	}
	return strings.TrimSpace(string(body))
}

var _ interfaces.ChainClient = (*Client)(nil)
