// Package payerhandler implements the fee payer HTTP endpoint: it accepts the
// signable form of a transaction, checks that it is addressed to the configured
// payer account, and returns the payer's envelope signature.
package payerhandler
