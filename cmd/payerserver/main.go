package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/wallet-key-backup/api/payerhandler"
	"github.com/ruteri/wallet-key-backup/cmd/flags"
	"github.com/ruteri/wallet-key-backup/httpserver"
	"github.com/ruteri/wallet-key-backup/interfaces"
	"github.com/ruteri/wallet-key-backup/keys"
	"github.com/ruteri/wallet-key-backup/transaction"
	"github.com/urfave/cli/v2"
)

var (
	flagListenAddr = &cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8081",
		Usage: "address to listen on for API",
	}
	flagPayerAddress = &cli.StringFlag{
		Name:     "payer-address",
		Required: true,
		Usage:    "payer account address",
	}
	flagPayerKeyIndex = &cli.IntFlag{
		Name:  "payer-key-index",
		Value: 0,
		Usage: "index of the signing key on the payer account",
	}
	flagPayerPrivateKey = &cli.StringFlag{
		Name:     "payer-private-key",
		Required: true,
		EnvVars:  []string{"PAYER_PRIVATE_KEY"},
		Usage:    "hex-encoded private key of the payer account key",
	}
	flagPayerSigAlgo = &cli.StringFlag{
		Name:  "payer-sig-algo",
		Value: interfaces.ECDSAP256.String(),
		Usage: "signature algorithm of the payer key: ECDSA_P256 or ECDSA_secp256k1",
	}
	flagPayerHashAlgo = &cli.StringFlag{
		Name:  "payer-hash-algo",
		Value: interfaces.SHA3_256.String(),
		Usage: "hash algorithm of the payer key: SHA2_256 or SHA3_256",
	}
	flagMaxCompute = &cli.Uint64Flag{
		Name:  "max-compute-limit",
		Value: transaction.DefaultComputeLimit,
		Usage: "highest compute limit the payer sponsors",
	}
	flagAllowedScripts = &cli.StringSliceFlag{
		Name:  "allowed-script",
		Usage: "file holding a script the payer sponsors; may be repeated. When omitted, the add-key script is allowed",
	}
)

func main() {
	app := &cli.App{
		Name:  "payerserver",
		Usage: "Sponsor transactions by signing them as the fee payer",
		Flags: append(append([]cli.Flag{
			flagListenAddr,
			flagPayerAddress,
			flagPayerKeyIndex,
			flagPayerPrivateKey,
			flagPayerSigAlgo,
			flagPayerHashAlgo,
			flagMaxCompute,
			flagAllowedScripts,
			flags.LogServiceFlagFn("payerserver"),
		}, flags.LogFlags...), flags.ServerFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			payer, err := interfaces.NewAddressFromHex(cCtx.String(flagPayerAddress.Name))
			if err != nil {
				return fmt.Errorf("invalid payer address: %w", err)
			}

			sigAlgo := interfaces.ParseSignatureAlgorithm(cCtx.String(flagPayerSigAlgo.Name))
			hashAlgo := interfaces.ParseHashAlgorithm(cCtx.String(flagPayerHashAlgo.Name))
			privateKey, err := keys.PrivateKeyFromHex(sigAlgo, cCtx.String(flagPayerPrivateKey.Name))
			if err != nil {
				return fmt.Errorf("invalid payer private key: %w", err)
			}
			signer, err := keys.NewPrivateKeyProvider(privateKey, sigAlgo, hashAlgo, interfaces.FullWeight)
			if err != nil {
				return err
			}

			scripts := []string{transaction.AddKeyScript}
			if files := cCtx.StringSlice(flagAllowedScripts.Name); len(files) > 0 {
				scripts = scripts[:0]
				for _, file := range files {
					script, err := os.ReadFile(file)
					if err != nil {
						return fmt.Errorf("failed to read script %s: %w", file, err)
					}
					scripts = append(scripts, string(script))
				}
			}

			handler := payerhandler.NewHandler(payer, cCtx.Int(flagPayerKeyIndex.Name), signer, cCtx.Uint64(flagMaxCompute.Name), scripts, logger)

			cfg := flags.ConfigureServer(cCtx, logger, cCtx.String(flagListenAddr.Name))
			server, err := httpserver.New(cfg, handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting fee payer server",
				"listenAddr", cfg.ListenAddr,
				"payer", payer.String(),
				"publicKey", signer.PublicKey(),
				"scripts", len(scripts))
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
