package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/wallet-key-backup/backup"
	"github.com/ruteri/wallet-key-backup/cmd/flags"
	"github.com/ruteri/wallet-key-backup/interfaces"
	"github.com/ruteri/wallet-key-backup/keys"
	"github.com/urfave/cli/v2"
)

var (
	flagStorage = &cli.StringSliceFlag{
		Name:  "storage",
		Usage: "storage location URI; may be repeated. Overrides backup.storage_uris",
	}
	flagAddress = &cli.StringFlag{
		Name:     "address",
		Required: true,
		Usage:    "account address",
	}
	flagUserID = &cli.StringFlag{
		Name:     "user-id",
		Required: true,
		Usage:    "user id of the backup record",
	}
	flagUserName = &cli.StringFlag{
		Name:  "user-name",
		Usage: "user name stored in the backup record",
	}
	flagPIN = &cli.StringFlag{
		Name:    "pin",
		EnvVars: []string{"WALLET_BACKUP_PIN"},
		Usage:   "PIN sealing the seed phrase",
	}
	flagMnemonic = &cli.StringFlag{
		Name:    "mnemonic",
		EnvVars: []string{"WALLET_BACKUP_MNEMONIC"},
		Usage:   "seed phrase of a backup share",
	}
	flagMessage = &cli.StringFlag{
		Name:     "message",
		Required: true,
		Usage:    "0x-prefixed hex message",
	}
	flagAuthorizerKey = &cli.StringFlag{
		Name:     "authorizer-key",
		Required: true,
		EnvVars:  []string{"WALLET_BACKUP_AUTHORIZER_KEY"},
		Usage:    "hex-encoded private key of a full-weight account key",
	}
	flagKeySigAlgo = &cli.StringFlag{
		Name:  "sig-algo",
		Value: interfaces.ECDSAP256.String(),
		Usage: "signature algorithm of the device key",
	}
	flagKeyHashAlgo = &cli.StringFlag{
		Name:  "hash-algo",
		Value: interfaces.SHA3_256.String(),
		Usage: "hash algorithm of the device key",
	}
	flagDeviceName = &cli.StringFlag{
		Name:  "device-name",
		Value: "backuptool",
		Usage: "device name reported to the account registry",
	}
	flagTimeout = &cli.DurationFlag{
		Name:  "timeout",
		Value: 5 * time.Minute,
		Usage: "timeout of a flow",
	}
)

func main() {
	app := &cli.App{
		Name:  "backuptool",
		Usage: "Inspect wallet key backups and run backup flows",
		Flags: append([]cli.Flag{
			flags.ConfigFlag,
			flags.LogServiceFlagFn("backuptool"),
		}, flags.LogFlags...),
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "list the backup records on every storage backend",
				Flags:  []cli.Flag{flagStorage},
				Action: listRecords,
			},
			{
				Name:   "decrypt",
				Usage:  "decrypt the seed phrase of a backup record",
				Flags:  []cli.Flag{flagStorage, flagUserID, flagPIN},
				Action: decryptRecord,
			},
			{
				Name:   "pubkey",
				Usage:  "print the share public key of a seed phrase",
				Flags:  []cli.Flag{flagMnemonic},
				Action: printPublicKey,
			},
			{
				Name:   "sign",
				Usage:  "sign a message with the share key of a seed phrase",
				Flags:  []cli.Flag{flagMnemonic, flagMessage},
				Action: signMessage,
			},
			{
				Name:  "create",
				Usage: "create a backup share on the first storage backend",
				Flags: []cli.Flag{
					flagStorage, flagAddress, flagUserID, flagUserName, flagPIN,
					flagAuthorizerKey, flagKeySigAlgo, flagKeyHashAlgo, flagDeviceName, flagTimeout,
				},
				Action: createBackup,
			},
			{
				Name:  "restore",
				Usage: "restore the account with a new device key from the shares on every storage backend",
				Flags: []cli.Flag{
					flagStorage, flagAddress, flagUserID, flagPIN, flagMnemonic,
					flagKeySigAlgo, flagKeyHashAlgo, flagDeviceName, flagTimeout,
				},
				Action: restoreAccount,
			},
			{
				Name:   "reconcile",
				Usage:  "compare the backup records with the account keys",
				Flags:  []cli.Flag{flagStorage, flagAddress, flagUserID},
				Action: reconcile,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func listRecords(cCtx *cli.Context) error {
	env, err := newEnvironment(cCtx)
	if err != nil {
		return err
	}

	for _, store := range env.stores {
		records, err := store.LoadRecords(cCtx.Context)
		if err != nil {
			env.log.Error("Failed to load records", "backend", store.Name(), "err", err)
			continue
		}

		fmt.Printf("%s: %d record(s)\n", store.Name(), len(records))
		for _, r := range records {
			fmt.Printf("  user=%s name=%q address=%s keyIndex=%d %s/%s updated=%s\n    publicKey=%s\n",
				r.UserID, r.UserName, r.Address, r.KeyIndex, r.SignAlgo, r.HashAlgo,
				r.UpdatedAt().Format(time.RFC3339), r.PublicKey)
		}
	}
	return nil
}

func decryptRecord(cCtx *cli.Context) error {
	env, err := newEnvironment(cCtx)
	if err != nil {
		return err
	}

	located, err := env.multi.Locate(cCtx.Context, cCtx.String(flagUserID.Name))
	if err != nil {
		return err
	}

	for _, l := range located {
		mnemonic, err := backup.OpenMnemonic(cCtx.String(flagPIN.Name), l.Record.Data)
		if err != nil {
			return fmt.Errorf("%s: %w", l.Store.Name(), err)
		}
		fmt.Printf("%s: keyIndex=%d publicKey=%s\n  %s\n", l.Store.Name(), l.Record.KeyIndex, l.Record.PublicKey, mnemonic)
	}
	return nil
}

func printPublicKey(cCtx *cli.Context) error {
	provider, err := keys.NewSeedPhraseProvider(cCtx.String(flagMnemonic.Name))
	if err != nil {
		return err
	}
	fmt.Printf("publicKey=%s sigAlgo=%s hashAlgo=%s weight=%d path=%s\n",
		provider.PublicKey(), provider.SignatureAlgorithm(), provider.HashAlgorithm(),
		provider.KeyWeight(), provider.Material().Path())
	return nil
}

func signMessage(cCtx *cli.Context) error {
	provider, err := keys.NewSeedPhraseProvider(cCtx.String(flagMnemonic.Name))
	if err != nil {
		return err
	}
	msg, err := hexutil.Decode(cCtx.String(flagMessage.Name))
	if err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	sig, err := provider.Sign(msg)
	if err != nil {
		return err
	}
	fmt.Printf("publicKey=%s\nsignature=%s\n", provider.PublicKey(), hexutil.Encode(sig))
	return nil
}

func createBackup(cCtx *cli.Context) error {
	env, err := newEnvironment(cCtx)
	if err != nil {
		return err
	}
	defer env.orchestrator.Close()

	address, err := interfaces.NewAddressFromHex(cCtx.String(flagAddress.Name))
	if err != nil {
		return err
	}
	authorizer, err := deviceKey(cCtx, cCtx.String(flagAuthorizerKey.Name))
	if err != nil {
		return err
	}

	ctx, cancel := flowContext(cCtx)
	defer cancel()

	result, err := env.orchestrator.Create(ctx, backup.CreateRequest{
		Address:    address,
		UserID:     cCtx.String(flagUserID.Name),
		UserName:   cCtx.String(flagUserName.Name),
		PIN:        cCtx.String(flagPIN.Name),
		Store:      env.stores[0],
		Authorizer: authorizer,
	})
	if err != nil {
		return err
	}

	fmt.Printf("backend=%s keyIndex=%d publicKey=%s tx=%s\n",
		env.stores[0].Name(), result.Record.KeyIndex, result.Record.PublicKey, result.TransactionID)
	return nil
}

func restoreAccount(cCtx *cli.Context) error {
	env, err := newEnvironment(cCtx)
	if err != nil {
		return err
	}
	defer env.orchestrator.Close()

	address, err := interfaces.NewAddressFromHex(cCtx.String(flagAddress.Name))
	if err != nil {
		return err
	}

	var sources []backup.ShareSource
	located, err := env.multi.Locate(cCtx.Context, cCtx.String(flagUserID.Name))
	if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		return err
	}
	for _, l := range located {
		sources = append(sources, backup.ShareSource{
			Store:  l.Store,
			UserID: cCtx.String(flagUserID.Name),
			PIN:    cCtx.String(flagPIN.Name),
		})
	}
	if mnemonic := cCtx.String(flagMnemonic.Name); mnemonic != "" {
		sources = append(sources, backup.ShareSource{Mnemonic: mnemonic})
	}
	env.log.Info("Restoring from shares", "backends", len(located), "sources", len(sources))

	sigAlgo := interfaces.ParseSignatureAlgorithm(cCtx.String(flagKeySigAlgo.Name))
	privateKey, err := keys.GeneratePrivateKey(sigAlgo)
	if err != nil {
		return err
	}
	device, err := keys.NewPrivateKeyProvider(privateKey, sigAlgo, interfaces.ParseHashAlgorithm(cCtx.String(flagKeyHashAlgo.Name)), interfaces.FullWeight)
	if err != nil {
		return err
	}

	ctx, cancel := flowContext(cCtx)
	defer cancel()

	env.orchestrator.Subscribe(func(t backup.Transition) {
		if t.To == backup.StateCollectingShares && t.Shares > 0 {
			env.log.Info("Share collected", "shares", t.Shares)
		}
	})

	result, err := env.orchestrator.Restore(ctx, backup.RestoreRequest{
		Address:   address,
		Sources:   sources,
		DeviceKey: device,
	})
	if err != nil {
		return err
	}

	fmt.Printf("tx=%s deviceKeyIndex=%d shares=%d\ndevicePrivateKey=%s\n",
		result.TransactionID, result.DeviceKeyIndex, result.Shares, device.PrivateKeyHex())
	return nil
}

func reconcile(cCtx *cli.Context) error {
	env, err := newEnvironment(cCtx)
	if err != nil {
		return err
	}
	defer env.orchestrator.Close()

	address, err := interfaces.NewAddressFromHex(cCtx.String(flagAddress.Name))
	if err != nil {
		return err
	}

	for _, store := range env.stores {
		report, err := env.orchestrator.Reconcile(cCtx.Context, address, store, cCtx.String(flagUserID.Name))
		if err != nil {
			env.log.Error("Failed to reconcile", "backend", store.Name(), "err", err)
			continue
		}
		line := fmt.Sprintf("%s: %s", store.Name(), report.Status)
		if report.Key != nil {
			line += fmt.Sprintf(" keyIndex=%d weight=%d", report.Key.Index, report.Key.Weight)
		}
		fmt.Println(line)
	}
	return nil
}

func deviceKey(cCtx *cli.Context, privateKeyHex string) (*keys.PrivateKeyProvider, error) {
	sigAlgo := interfaces.ParseSignatureAlgorithm(cCtx.String(flagKeySigAlgo.Name))
	privateKey, err := keys.PrivateKeyFromHex(sigAlgo, privateKeyHex)
	if err != nil {
		return nil, err
	}
	return keys.NewPrivateKeyProvider(privateKey, sigAlgo, interfaces.ParseHashAlgorithm(cCtx.String(flagKeyHashAlgo.Name)), interfaces.FullWeight)
}

// flowContext bounds a flow by --timeout and cancels it on SIGINT/SIGTERM.
func flowContext(cCtx *cli.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, cCtx.Duration(flagTimeout.Name))
	return ctx, func() {
		cancel()
		stop()
	}
}
