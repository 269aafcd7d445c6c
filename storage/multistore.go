package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/wallet-key-backup/interfaces"
)

// LocatedRecord is a backup record together with the store holding it.
type LocatedRecord struct {
	Store  interfaces.BackupRecordStore
	Record *interfaces.BackupRecord
}

// MultiStore looks up backup records across the stores of several backends.
type MultiStore struct {
	stores []interfaces.BackupRecordStore
	log    *slog.Logger
}

// NewMultiStore creates a multi-backend view over stores.
func NewMultiStore(stores []interfaces.BackupRecordStore, logger *slog.Logger) *MultiStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &MultiStore{
		stores: stores,
		log:    logger,
	}
}

// Stores returns the underlying stores in order.
func (m *MultiStore) Stores() []interfaces.BackupRecordStore {
	return m.stores
}

// Locate returns the record of userID from every store holding one, in store order.
// Backends failing with other errors are skipped as long as at least one record is
// found; otherwise the failures are returned, or ErrNotFound when every backend
// simply has no record.
func (m *MultiStore) Locate(ctx context.Context, userID string) ([]LocatedRecord, error) {
	start := time.Now()
	var (
		found []LocatedRecord
		errs  []error
	)

	for _, store := range m.stores {
		record, err := store.Find(ctx, userID)
		if err == nil {
			found = append(found, LocatedRecord{Store: store, Record: record})
			continue
		}
		if errors.Is(err, interfaces.ErrNotFound) {
			m.log.Debug("No backup record on backend",
				slog.String("backend_name", store.Name()),
				slog.String("user_id", userID))
			continue
		}

		errs = append(errs, fmt.Errorf("%s: %w", store.Name(), err))
		m.log.Warn("Failed to read backup records",
			slog.String("backend_name", store.Name()),
			"err", err)
	}

	m.log.Info("Located backup records",
		slog.String("user_id", userID),
		slog.Int("found", len(found)),
		slog.Int("failed_backends", len(errs)),
		slog.Duration("duration", time.Since(start)))

	switch {
	case len(found) > 0:
		return found, nil
	case len(errs) > 0:
		return nil, errors.Join(errs...)
	default:
		return nil, fmt.Errorf("%w: no backup record for user %s on %d backend(s)", interfaces.ErrNotFound, userID, len(m.stores))
	}
}
