// Package main (cmd/payerserver) runs a fee payer server: it sponsors transactions
// by signing their envelopes with a key of the payer account.
//
// The server exposes POST /api/signAsPayer and GET /api/payer, plus health checks
// and optional profiling endpoints. It shuts down gracefully on SIGINT/SIGTERM.
//
// Example usage:
//
//	payerserver --listen-addr=0.0.0.0:8081 \
//	    --payer-address=0xf8d6e0586b0a20c7 \
//	    --payer-key-index=0 \
//	    --payer-private-key=$PAYER_PRIVATE_KEY \
//	    --allowed-script=./scripts/add_key.cdc
package main
