package interfaces

import (
	"context"
	"time"
)

// BackupRecord is one backup share entry persisted in a backup file. Data holds the
// share's seed phrase encrypted under the user's PIN.
type BackupRecord struct {
	Address    Address            `json:"address"`
	UserID     string             `json:"userId"`
	UserName   string             `json:"userName"`
	PublicKey  string             `json:"publicKey"`
	SignAlgo   SignatureAlgorithm `json:"signAlgo"`
	HashAlgo   HashAlgorithm      `json:"hashAlgo"`
	KeyIndex   int                `json:"keyIndex"`
	UpdateTime int64              `json:"updateTime"`
	Data       string             `json:"data"`
}

// UpdatedAt returns UpdateTime as a time.
func (r *BackupRecord) UpdatedAt() time.Time {
	return time.UnixMilli(r.UpdateTime)
}

// BackupRecordStore is the record-level view of one backend's backup file.
type BackupRecordStore interface {
	LoadRecords(ctx context.Context) ([]BackupRecord, error)
	SaveRecords(ctx context.Context, records []BackupRecord) error
	Upsert(ctx context.Context, record BackupRecord) error
	Find(ctx context.Context, userID string) (*BackupRecord, error)

	// Name identifies the underlying backend.
	Name() string
}
