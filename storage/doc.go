// Package storage keeps wallet key backup files on pluggable cloud drivers.
//
// A cloud driver exposes a flat namespace of named files:
//
//   - File system directories for local development and testing
//   - S3-compatible object storage
//   - IPFS mutable file system on a local or remote node
//   - GitHub repository contents
//   - Vault KV v2 secrets
//
// # Storage URI Format
//
// Drivers are specified using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - file:///var/lib/wallet-backups/
//   - s3://bucket-name/prefix/?region=us-west-2
//   - ipfs://127.0.0.1:5001/wallet-backups
//   - github://owner/repo/backups?branch=main
//   - vault://vault.example.com:8200/secret/wallet-backups
//
// # Backup Files
//
// BackupStore keeps every backup record of one backend in a single file. The file
// content is the JSON record array, encrypted with the static backup secret
// (see cryptoutils.BlobCipher), base64-encoded and wrapped as a JSON string. Records
// are keyed by user id; an upsert replaces the record of the same user or prepends a
// new one.
//
// MultiStore looks up the records of one user across several backends, which is how
// a restore finds the shares to collect.
package storage
