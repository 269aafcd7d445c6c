/*
Package api groups the HTTP surfaces around the backup core.

  - clients - clients for the remote fee payer and the account registry
  - payerhandler - the fee payer endpoint served by cmd/payerserver

Both sides share the wire types of the interfaces package (PayerSignRequest,
PayerSignResponse, DeviceKeyRequest), so a PayerClient can talk to a payerhandler
directly, as the integration tests do.
*/
package api
