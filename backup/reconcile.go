package backup

import (
	"context"
	"errors"
	"strings"

	"github.com/ruteri/wallet-key-backup/interfaces"
)

// ReconcileStatus compares a backend's backup record with the account keys.
type ReconcileStatus int

const (
	// ReconcileInSync: the record exists and its key is active on the account.
	ReconcileInSync ReconcileStatus = iota

	// ReconcileKeyMissing: the record exists but its key was revoked or never added.
	ReconcileKeyMissing

	// ReconcileRecordMissing: a share key is on the account but its upload failed.
	ReconcileRecordMissing

	// ReconcileNoBackup: neither a record nor a pending share exists.
	ReconcileNoBackup
)

func (s ReconcileStatus) String() string {
	switch s {
	case ReconcileInSync:
		return "in_sync"
	case ReconcileKeyMissing:
		return "key_missing"
	case ReconcileRecordMissing:
		return "record_missing"
	default:
		return "no_backup"
	}
}

// ReconcileReport is the outcome of Reconcile.
type ReconcileReport struct {
	Status ReconcileStatus
	Record *interfaces.BackupRecord
	Key    *interfaces.AccountKey
}

// Reconcile checks the backup of userID in store against the keys of address. Run
// it on start to find creates interrupted between registration and upload.
func (o *Orchestrator) Reconcile(ctx context.Context, address interfaces.Address, store interfaces.BackupRecordStore, userID string) (*ReconcileReport, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var record *interfaces.BackupRecord
	err := o.retry(ctx, "find_record", func() error {
		var err error
		record, err = store.Find(ctx, userID)
		return err
	})
	if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		return nil, err
	}

	account, err := o.fetchAccount(ctx, address)
	if err != nil {
		return nil, err
	}

	if record != nil {
		report := &ReconcileReport{Status: ReconcileKeyMissing, Record: record}
		if key, ok := account.KeyByPublicKey(record.PublicKey); ok {
			report.Status = ReconcileInSync
			report.Key = &key
		}
		return report, nil
	}

	if share, ok := o.pending[pendingKey{address: address, userID: userID, backend: store.Name()}]; ok {
		if key, ok := account.KeyByPublicKey(share.provider.PublicKey()); ok {
			return &ReconcileReport{Status: ReconcileRecordMissing, Key: &key}, nil
		}
	}
	return &ReconcileReport{Status: ReconcileNoBackup}, nil
}

func sameKey(a, b string) bool {
	return strings.EqualFold(strings.TrimPrefix(a, "0x"), strings.TrimPrefix(b, "0x"))
}
