/*
Package backup orchestrates the two multi-step flows of the wallet key backup:
creating a backup share and restoring account access from shares.

# Create

	Idle -> GeneratingShare -> RegisteringOnChain -> Uploading -> SyncingServer -> Done | Failed

A fresh share key is derived from a new seed phrase, added to the account with
weight 500 by a transaction authorized by the current device key, its phrase is
sealed under the user's PIN and merged into the backend's backup file, and the
account registry is told about the new key. A share that reached the chain but
could not be uploaded is kept in memory and reused by the next Create for the same
user and backend.

# Restore

	CollectingShares -> BuildingMultiSigTx -> WatchingTransaction -> SyncingAccount -> Done
	                                                                               | Failed | NotFound | WrongPin

Shares come from backup files (record + PIN) or from seed phrases typed in by the
user. Once at least two shares carrying a combined weight of 1000 are collected, a
transaction adding the new device key is signed by every share, submitted, watched
until executed and synced with the account registry.

Only idempotent steps (account and file reads, uploads, fee payer signing and
registry sync) are retried, and only on interfaces.ErrIO. Transactions are never
resubmitted automatically.
*/
package backup
