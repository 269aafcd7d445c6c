package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/wallet-key-backup/cryptoutils"
	"github.com/ruteri/wallet-key-backup/interfaces"
)

// DefaultBackupFileName is the remote file name used when none is configured.
const DefaultBackupFileName = "wallet_backup.json"

// BackupStore keeps the list of backup records of one backend in a single remote
// file. The file holds the JSON record array encrypted with the static backup
// secret, base64-encoded and wrapped as a JSON string.
//
// Read-merge-write cycles are serialized within the process; across devices the
// last write wins.
type BackupStore struct {
	driver   interfaces.CloudDriver
	cipher   *cryptoutils.BlobCipher
	fileName string
	log      *slog.Logger

	mu sync.Mutex
}

// NewBackupStore creates a record store over driver. secret is the static backup
// secret; fileName defaults to DefaultBackupFileName.
func NewBackupStore(driver interfaces.CloudDriver, secret, fileName string, log *slog.Logger) *BackupStore {
	if fileName == "" {
		fileName = DefaultBackupFileName
	}
	return &BackupStore{
		driver:   driver,
		cipher:   cryptoutils.NewBlobCipher(secret),
		fileName: fileName,
		log:      log,
	}
}

// Name identifies the underlying driver.
func (s *BackupStore) Name() string {
	return s.driver.Name()
}

// Driver returns the underlying cloud driver.
func (s *BackupStore) Driver() interfaces.CloudDriver {
	return s.driver
}

// LoadRecords reads and decrypts the backup file. A missing file yields an empty list.
func (s *BackupStore) LoadRecords(ctx context.Context) ([]interfaces.BackupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// SaveRecords encrypts and writes records, creating the file if absent.
func (s *BackupStore) SaveRecords(ctx context.Context, records []interfaces.BackupRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, records)
}

// Upsert inserts record at the head of the list, or updates the key fields of the
// existing record with the same user id in place, and saves the file.
func (s *BackupStore) Upsert(ctx context.Context, record interfaces.BackupRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load(ctx)
	if err != nil {
		return err
	}

	found := false
	for i := range records {
		if records[i].UserID != record.UserID {
			continue
		}
		records[i].PublicKey = record.PublicKey
		records[i].SignAlgo = record.SignAlgo
		records[i].HashAlgo = record.HashAlgo
		records[i].KeyIndex = record.KeyIndex
		records[i].UpdateTime = record.UpdateTime
		records[i].Data = record.Data
		found = true
		break
	}
	if !found {
		records = append([]interfaces.BackupRecord{record}, records...)
	}

	s.log.Debug("Upserting backup record",
		slog.String("backend", s.driver.Name()),
		slog.String("userId", record.UserID),
		slog.Bool("update", found),
		slog.Int("records", len(records)))

	return s.save(ctx, records)
}

// Find loads the list and returns the record for userID, or ErrNotFound.
func (s *BackupStore) Find(ctx context.Context, userID string) (*interfaces.BackupRecord, error) {
	records, err := s.LoadRecords(ctx)
	if err != nil {
		return nil, err
	}

	for i := range records {
		if records[i].UserID == userID {
			return &records[i], nil
		}
	}
	return nil, fmt.Errorf("%w: no backup record for user %s on %s", interfaces.ErrNotFound, userID, s.driver.Name())
}

func (s *BackupStore) load(ctx context.Context) ([]interfaces.BackupRecord, error) {
	handle, found, err := s.driver.Locate(ctx, s.fileName)
	if err != nil {
		return nil, interfaces.NewSourceError(s.driver.Name(), "locate", err)
	}
	if !found {
		return []interfaces.BackupRecord{}, nil
	}

	raw, err := s.driver.Read(ctx, handle)
	if errors.Is(err, interfaces.ErrNotFound) {
		return []interfaces.BackupRecord{}, nil
	}
	if err != nil {
		return nil, interfaces.NewSourceError(s.driver.Name(), "read", err)
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return []interfaces.BackupRecord{}, nil
	}

	plaintext, err := s.decode(raw)
	if err != nil {
		return nil, interfaces.NewSourceError(s.driver.Name(), "decode", err)
	}

	return s.parseRecords(plaintext)
}

func (s *BackupStore) decode(raw []byte) ([]byte, error) {
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, fmt.Errorf("%w: backup file is not a JSON string: %v", interfaces.ErrDecryption, err)
	}

	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 payload: %v", interfaces.ErrDecryption, err)
	}

	return s.cipher.Decrypt(blob)
}

// parseRecords decodes the record array, skipping individual malformed entries.
func (s *BackupStore) parseRecords(plaintext []byte) ([]interfaces.BackupRecord, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(plaintext, &entries); err != nil {
		return nil, fmt.Errorf("%w: backup list is not a JSON array: %v", interfaces.ErrDecryption, err)
	}

	records := make([]interfaces.BackupRecord, 0, len(entries))
	for i, entry := range entries {
		var record interfaces.BackupRecord
		if err := json.Unmarshal(entry, &record); err != nil {
			s.log.Warn("Skipping malformed backup record",
				slog.String("backend", s.driver.Name()),
				slog.Int("index", i),
				"err", err)
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *BackupStore) save(ctx context.Context, records []interfaces.BackupRecord) error {
	if records == nil {
		records = []interfaces.BackupRecord{}
	}

	plaintext, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to marshal backup records: %w", err)
	}

	blob, err := s.cipher.Encrypt(plaintext)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(base64.StdEncoding.EncodeToString(blob))
	if err != nil {
		return fmt.Errorf("failed to marshal backup payload: %w", err)
	}

	handle, found, err := s.driver.Locate(ctx, s.fileName)
	if err != nil {
		return interfaces.NewSourceError(s.driver.Name(), "locate", err)
	}
	if !found {
		handle, err = s.driver.Create(ctx, s.fileName)
		if err != nil {
			return interfaces.NewSourceError(s.driver.Name(), "create", err)
		}
	}

	if err := s.driver.Write(ctx, handle, payload); err != nil {
		return interfaces.NewSourceError(s.driver.Name(), "write", err)
	}

	s.log.Info("Saved backup file",
		slog.String("backend", s.driver.Name()),
		slog.Int("records", len(records)))

	return nil
}
