package config

import "time"

// Backend modes selectable at startup.
const (
	ModeLocal = "local"
	ModeDir   = "dir"
	ModeVault = "vault"
)

// Config holds runtime settings for the keeper.
//
// Fields:
//   - Mode: storage backend, one of "local", "dir", "vault".
//   - DataDir: directory holding the embedded databases.
//   - SyncDir: folder granted for snapshot syncing in "dir" mode.
//   - OwnerID / User: the signed-in account id and its display name.
//   - WorkspaceID / WorkspaceType: shared-workspace scope, empty for personal.
//   - KeyServiceURL / KeyServiceToken: remote encryption-key service; when the
//     URL is empty, keys are derived offline from a local secret.
//   - KeyTTL: how long resolved keys stay cached in memory.
//   - S3*: object storage used as the sync target in "local" mode; an empty
//     bucket disables remote sync entirely.
//   - VaultAddr / VaultToken: hosted vault server for "vault" mode.
//   - LogFile: path for the rotating log file, empty for stderr only.
type Config struct {
	Mode    string
	DataDir string
	SyncDir string

	OwnerID       string
	User          string
	WorkspaceID   string
	WorkspaceType string

	KeyServiceURL   string
	KeyServiceToken string
	KeyTTL          time.Duration

	S3AccessKey    string
	S3SecretKey    string
	S3Bucket       string
	S3Region       string
	S3BaseEndpoint string

	VaultAddr  string
	VaultToken string

	LogFile string
}

// LoadDefaults populates c with sensible defaults for a personal,
// fully offline keeper.
func (c *Config) LoadDefaults() {
	c.Mode = ModeLocal
	c.DataDir = "./data"
	c.KeyTTL = 5 * time.Minute
	c.S3Region = "us-east-1"
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present) and command-line flags (if present). Later
// sources take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
