package main

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/ruteri/wallet-key-backup/api/clients"
	"github.com/ruteri/wallet-key-backup/backup"
	"github.com/ruteri/wallet-key-backup/chain"
	"github.com/ruteri/wallet-key-backup/cmd/flags"
	"github.com/ruteri/wallet-key-backup/common"
	"github.com/ruteri/wallet-key-backup/interfaces"
	"github.com/ruteri/wallet-key-backup/storage"
	"github.com/ruteri/wallet-key-backup/transaction"
	"github.com/urfave/cli/v2"
)

type environment struct {
	log          *slog.Logger
	cfg          *common.Config
	stores       []*storage.BackupStore
	multi        *storage.MultiStore
	orchestrator *backup.Orchestrator
}

func newEnvironment(cCtx *cli.Context) (*environment, error) {
	logger := flags.SetupLogger(cCtx)

	cfg, err := common.LoadConfig(cCtx.String(flags.ConfigFlag.Name))
	if err != nil {
		return nil, err
	}
	if uris := cCtx.StringSlice(flagStorage.Name); len(uris) > 0 {
		cfg.Backup.StorageURIs = uris
	}

	stores, err := cfg.BackupStores(logger)
	if err != nil {
		return nil, err
	}

	chainClient := chain.NewClient(cfg.Chain.AccessNodeURL, cfg.Chain.Timeout, logger)

	var feePayer interfaces.FeePayer
	if payer, ok := cfg.FeePayerAddress(); ok {
		feePayer = clients.NewPayerClient(cfg.FeePayer.URL, payer, cfg.FeePayer.KeyIndex, cfg.FeePayer.Timeout)
	}

	var registry interfaces.AccountRegistry
	if cfg.Registry.URL != "" {
		registry = clients.NewRegistryClient(cfg.Registry.URL, cfg.Registry.Token, cfg.Registry.Timeout)
	}

	builder := transaction.NewBuilder(chainClient, feePayer, cfg.Chain.ComputeLimit, logger)
	watcher := transaction.NewWatcher(chainClient, cfg.Chain.PollInterval, cfg.Chain.MaxPolls, logger)

	deviceName := cCtx.String(flagDeviceName.Name)
	if deviceName == "" {
		deviceName = "backuptool"
	}

	orchestrator := backup.NewOrchestrator(chainClient, builder, watcher, registry, backup.Config{
		RetryAttempts: cfg.Retry.Attempts,
		RetryInterval: cfg.Retry.Interval,
		DeviceInfo: interfaces.DeviceInfo{
			DeviceID:   uuid.NewString(),
			Name:       deviceName,
			Type:       "cli",
			AppVersion: common.Version,
		},
	}, logger)

	logger.Debug("Backup environment ready",
		slog.Int("stores", len(stores)),
		slog.String("accessNode", cfg.Chain.AccessNodeURL),
		slog.Bool("feePayer", feePayer != nil),
		slog.Bool("registry", registry != nil))

	recordStores := make([]interfaces.BackupRecordStore, 0, len(stores))
	for _, store := range stores {
		recordStores = append(recordStores, store)
	}

	return &environment{
		log:          logger,
		cfg:          cfg,
		stores:       stores,
		multi:        storage.NewMultiStore(recordStores, logger),
		orchestrator: orchestrator,
	}, nil
}
