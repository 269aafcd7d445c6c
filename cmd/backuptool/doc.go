// Package main (cmd/backuptool) is an operator tool for wallet key backups.
//
// It reads and decrypts backup files on any configured storage backend and runs the
// create, restore and reconcile flows against an access node:
//
//	backuptool --config ./backup.yaml list --storage file:///var/backups
//	backuptool decrypt --user-id 42 --pin 135790
//	backuptool pubkey --mnemonic "..."
//	backuptool create --address 0x01cf0e2f2f715450 --user-id 42 --pin 135790 --authorizer-key $DEVICE_KEY
//	backuptool restore --address 0x01cf0e2f2f715450 --user-id 42 --pin 135790
//	backuptool reconcile --address 0x01cf0e2f2f715450 --user-id 42
//
// Settings come from the config file and WALLET_BACKUP_* environment variables;
// --storage overrides backup.storage_uris.
package main
