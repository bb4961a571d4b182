// Package cli implements the interactive keeper shell: a REPL over the
// storage adapter, with backend wiring driven by configuration.
package cli

import (
	"bufio"
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/packetkeeper/packetkeeper/internal/common"
	"github.com/packetkeeper/packetkeeper/internal/filex"
	"github.com/packetkeeper/packetkeeper/internal/keeper/adapter"
	"github.com/packetkeeper/packetkeeper/internal/keeper/blob"
	"github.com/packetkeeper/packetkeeper/internal/keeper/config"
	"github.com/packetkeeper/packetkeeper/internal/keeper/keyring"
	"github.com/packetkeeper/packetkeeper/internal/keeper/store"
	"github.com/packetkeeper/packetkeeper/internal/keeper/vaultapi"
	"github.com/packetkeeper/packetkeeper/internal/logging"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

// App ties the configured backend to the interactive shell.
type App struct {
	cfg     *config.Config
	backend adapter.Adapter
	// dir is non-nil when the backend is directory-persisted, enabling the
	// grant/revoke commands.
	dir    *adapter.Dir
	log    logging.Logger
	reader *bufio.Reader
	Mode   Mode
}

// NewApp builds the backend selected by cfg.Mode and wraps it in a shell.
func NewApp(ctx context.Context, cfg *config.Config, log logging.Logger) (*App, error) {
	a := &App{cfg: cfg, log: log, reader: bufio.NewReader(os.Stdin), Mode: ModeOffline}

	if cfg.Mode == config.ModeVault {
		if cfg.VaultAddr == "" {
			return nil, fmt.Errorf("vault mode needs a server address")
		}
		a.backend = adapter.NewVault(vaultapi.NewHTTPClient(cfg.VaultAddr, cfg.VaultToken, log), log)
		return a, nil
	}

	cipher, err := a.buildCipher(ctx)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.DataDir, log)
	if err != nil {
		return nil, err
	}

	localCfg := adapter.LocalConfig{
		OwnerID:       cfg.OwnerID,
		User:          cfg.User,
		WorkspaceID:   cfg.WorkspaceID,
		WorkspaceType: keyring.WorkspaceType(cfg.WorkspaceType),
	}

	switch cfg.Mode {
	case config.ModeDir:
		dir := adapter.NewDir(st, cipher, localCfg, log)
		if cfg.SyncDir != "" {
			if err := dir.Grant(cfg.SyncDir); err != nil {
				st.Close()
				return nil, err
			}
		}
		a.backend = dir
		a.dir = dir

	case config.ModeLocal:
		var transport blob.Transport
		if cfg.S3Bucket != "" {
			transport, err = blob.NewS3Transport(ctx, blob.S3Config{
				Region:       cfg.S3Region,
				BaseEndpoint: cfg.S3BaseEndpoint,
				Bucket:       cfg.S3Bucket,
				AccessKey:    cfg.S3AccessKey,
				SecretKey:    cfg.S3SecretKey,
				Prefix:       cfg.OwnerID,
				UsePathStyle: cfg.S3BaseEndpoint != "",
			})
			if err != nil {
				st.Close()
				return nil, err
			}
		}
		a.backend = adapter.NewLocal(st, cipher, transport, localCfg, log)

	default:
		st.Close()
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}

	return a, nil
}

// buildCipher selects the key source: the remote key service when a URL is
// configured, an offline argon2id derivation from a passphrase otherwise.
// Resolved keys are cached either way so interactive use does not hammer
// the service (or the KDF).
func (a *App) buildCipher(ctx context.Context) (*keyring.Cipher, error) {
	var resolver keyring.Resolver

	if a.cfg.KeyServiceURL != "" {
		resolver = keyring.NewKeyService(a.cfg.KeyServiceURL, a.cfg.KeyServiceToken, a.log)
	} else {
		secret, err := GetPassword(os.Stdout)
		if err != nil {
			return nil, err
		}
		defer common.WipeByteArray(secret)
		if len(secret) == 0 {
			return nil, fmt.Errorf("an empty passphrase cannot protect anything")
		}

		salt, err := a.loadOrCreateSalt()
		if err != nil {
			return nil, err
		}
		resolver = keyring.NewLocalResolver(secret, salt)
	}

	return keyring.NewCipher(keyring.NewCachingResolver(resolver, a.cfg.KeyTTL), a.log), nil
}

// loadOrCreateSalt keeps a per-installation random salt next to the
// databases, so the same passphrase yields the same keys across restarts.
func (a *App) loadOrCreateSalt() ([]byte, error) {
	path := filepath.Join(a.cfg.DataDir, "salt")
	if filex.Exists(path) {
		return os.ReadFile(path)
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	if err := filex.WriteFileAtomic(path, salt, 0o600); err != nil {
		return nil, err
	}
	return salt, nil
}

func (a *App) Run(ctx context.Context) {
	defer a.backend.Close()

	go a.StartOnlineStatusWatcher(ctx, 15*time.Second)

	scanner := bufio.NewScanner(os.Stdin)
	runREPL(ctx, a, a.getStatus, scanner)
}

func (a *App) getStatus() string {
	s := ""
	if a.cfg.OwnerID != "" {
		s = a.cfg.OwnerID + " "
	}
	s += string(a.Mode)
	return fmt.Sprintf("(%s)", s)
}

func (a *App) setMode(ctx context.Context, mode Mode) {
	if a.Mode != mode {
		a.Mode = mode
		a.log.Info(ctx, "connectivity changed", "mode", mode)
	}
}

// StartOnlineStatusWatcher periodically probes the backend's remote side
// and flips the Mode shown in the prompt.
func (a *App) StartOnlineStatusWatcher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			probe, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			online := a.backend.IsOnline(probe)
			cancel()

			if online {
				a.setMode(ctx, ModeOnline)
			} else {
				a.setMode(ctx, ModeOffline)
			}

		case <-ctx.Done():
			return
		}
	}
}
