package common

// Version is set at build time with -ldflags "-X github.com/ruteri/wallet-key-backup/common.Version=..."
var Version = "dev"
