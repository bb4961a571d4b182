package config

import (
	"flag"
	"os"
	"time"

	"github.com/packetkeeper/packetkeeper/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-m string   backend mode: local, dir, or vault
//	-d string   data directory for the embedded databases
//	-s string   sync folder for dir mode
//	-o string   owner id
//	-u string   user display name
//	-k string   encryption key service URL
//	-a string   vault server address (vault mode)
//	-b string   S3 bucket for snapshot sync
//	-e string   S3 base endpoint
//	-t int      key cache TTL in seconds
//
// Note: The function filters os.Args to only include the flags it knows
// about, using flagx.FilterArgs, to avoid interference with other
// components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-m", "-d", "-s", "-o", "-u", "-k", "-a", "-b", "-e", "-t"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.Mode, "m", cfg.Mode, "backend mode: local, dir or vault")
	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "data directory")
	fs.StringVar(&cfg.SyncDir, "s", cfg.SyncDir, "sync folder (dir mode)")
	fs.StringVar(&cfg.OwnerID, "o", cfg.OwnerID, "owner id")
	fs.StringVar(&cfg.User, "u", cfg.User, "user display name")
	fs.StringVar(&cfg.KeyServiceURL, "k", cfg.KeyServiceURL, "encryption key service URL")
	fs.StringVar(&cfg.VaultAddr, "a", cfg.VaultAddr, "vault server address")
	fs.StringVar(&cfg.S3Bucket, "b", cfg.S3Bucket, "S3 bucket")
	fs.StringVar(&cfg.S3BaseEndpoint, "e", cfg.S3BaseEndpoint, "S3 base endpoint")
	keyTTL := fs.Int("t", int(cfg.KeyTTL.Seconds()), "key cache TTL (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.KeyTTL = time.Duration(*keyTTL) * time.Second
}
