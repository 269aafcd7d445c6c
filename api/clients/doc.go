/*
Package clients provides HTTP clients for the remote services the backup core
talks to besides the chain itself.

# Client Types

1. PayerClient - the sponsoring fee payer; implements interfaces.FeePayer
2. RegistryClient - the wallet account registry; implements interfaces.AccountRegistry

Both clients map transport failures and 5xx responses to interfaces.ErrIO, so the
orchestrator can retry them, and 4xx responses to interfaces.ErrProtocolRejection.

# Example Usage

	payer := clients.NewPayerClient("https://payer.example.com", payerAddress, 0, 10*time.Second)
	builder := transaction.NewBuilder(chainClient, payer, 0, log)

	registry := clients.NewRegistryClient("https://wallet.example.com", token, 10*time.Second)
	err := registry.SyncDeviceKey(ctx, address, &interfaces.DeviceKeyRequest{...})
*/
package clients
