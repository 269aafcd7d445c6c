package payerhandler

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/wallet-key-backup/api/clients"
	"github.com/ruteri/wallet-key-backup/interfaces"
	"github.com/ruteri/wallet-key-backup/transaction"
)

// MaxRequestSize bounds the accepted request body.
const MaxRequestSize = 1 << 20

// Handler signs transaction envelopes as the sponsoring payer account.
type Handler struct {
	payer    interfaces.Address
	keyIndex int
	signer   interfaces.SigningProvider
	builder  *transaction.Builder

	// allowedScripts, when non-empty, restricts which scripts are sponsored.
	allowedScripts map[string]bool
	maxCompute     uint64

	log *slog.Logger
}

// NewHandler creates a handler signing with signer as key keyIndex of payer.
func NewHandler(payer interfaces.Address, keyIndex int, signer interfaces.SigningProvider, maxCompute uint64, allowedScripts []string, log *slog.Logger) *Handler {
	allowed := make(map[string]bool, len(allowedScripts))
	for _, script := range allowedScripts {
		allowed[script] = true
	}
	if maxCompute == 0 {
		maxCompute = transaction.DefaultComputeLimit
	}
	return &Handler{
		payer:          payer,
		keyIndex:       keyIndex,
		signer:         signer,
		builder:        transaction.NewBuilder(nil, nil, maxCompute, log),
		allowedScripts: allowed,
		maxCompute:     maxCompute,
		log:            log,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post(clients.SignAsPayerPath, h.HandleSignAsPayer)
	r.Get("/api/payer", h.HandlePayerInfo)
}

// HandlePayerInfo returns the sponsoring account and key.
//
// URL format: GET /api/payer
// Response: {"address": "0x...", "keyId": N, "publicKey": "..."}
func (h *Handler) HandlePayerInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(map[string]interface{}{
		"address":   h.payer.String(),
		"keyId":     h.keyIndex,
		"publicKey": h.signer.PublicKey(),
	})
	if err != nil {
		h.log.Error("could not encode payer info", "err", err)
	}
}

// HandleSignAsPayer envelope-signs a transaction paid for by the configured account.
//
// URL format: POST /api/signAsPayer
// Request body: interfaces.PayerSignRequest
// Response: interfaces.PayerSignResponse
func (h *Handler) HandleSignAsPayer(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestSize))
	if err != nil {
		http.Error(w, fmt.Errorf("could not read request: %w", err).Error(), http.StatusBadRequest)
		return
	}

	var req interfaces.PayerSignRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, fmt.Errorf("invalid request: %w", err).Error(), http.StatusBadRequest)
		return
	}

	v, err := transaction.VoucherFromPayerRequest(&req)
	if err != nil {
		http.Error(w, fmt.Errorf("invalid transaction: %w", err).Error(), http.StatusBadRequest)
		return
	}

	if v.Payer != h.payer {
		http.Error(w, fmt.Sprintf("payer %s is not sponsored here", v.Payer), http.StatusForbidden)
		return
	}
	if v.ComputeLimit > h.maxCompute {
		http.Error(w, fmt.Sprintf("compute limit %d exceeds %d", v.ComputeLimit, h.maxCompute), http.StatusBadRequest)
		return
	}
	if len(h.allowedScripts) > 0 && !h.allowedScripts[v.Cadence] {
		http.Error(w, "script is not sponsored", http.StatusForbidden)
		return
	}
	if len(req.EnvelopeSigTemplate) > 0 && v.PayerKeyIndex != h.keyIndex {
		http.Error(w, fmt.Sprintf("payer key %d is not the signing key %d", v.PayerKeyIndex, h.keyIndex), http.StatusBadRequest)
		return
	}
	if len(v.PayloadSignatures) == 0 {
		http.Error(w, "transaction has no payload signatures", http.StatusBadRequest)
		return
	}

	if err := h.builder.AddEnvelopeSignature(v, h.payer, h.keyIndex, h.signer); err != nil {
		h.log.Error("could not sign envelope", "err", err)
		http.Error(w, fmt.Errorf("could not sign envelope: %w", err).Error(), http.StatusInternalServerError)
		return
	}

	var signature []byte
	for _, sig := range v.EnvelopeSignatures {
		if sig.Address == h.payer && sig.KeyIndex == h.keyIndex {
			signature = sig.Signature
		}
	}

	h.log.Info("Signed as payer",
		slog.String("proposer", v.ProposalKey.Address.String()),
		slog.Uint64("sequence", v.ProposalKey.SequenceNumber),
		slog.Int("payloadSigs", len(v.PayloadSignatures)))

	w.Header().Set("Content-Type", "application/json")
	err = json.NewEncoder(w).Encode(interfaces.PayerSignResponse{
		EnvelopeSignature: interfaces.PayerSignature{
			Address:   h.payer.String(),
			KeyID:     h.keyIndex,
			Signature: hex.EncodeToString(signature),
		},
	})
	if err != nil {
		h.log.Error("could not encode response", "err", err)
	}
}
