package adapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/packetkeeper/packetkeeper/internal/common"
	"github.com/packetkeeper/packetkeeper/internal/filex"
	"github.com/packetkeeper/packetkeeper/internal/keeper/blob"
	"github.com/packetkeeper/packetkeeper/internal/keeper/keyring"
	"github.com/packetkeeper/packetkeeper/internal/keeper/store"
	"github.com/packetkeeper/packetkeeper/internal/logging"
)

// grantedDir is a blob transport whose target directory can be granted and
// revoked at runtime. While revoked, every operation fails with
// common.ErrUnavailable.
type grantedDir struct {
	mu    sync.RWMutex
	inner *blob.FSTransport
}

func (g *grantedDir) get() (*blob.FSTransport, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.inner == nil {
		return nil, fmt.Errorf("%w: no sync directory granted", common.ErrUnavailable)
	}
	return g.inner, nil
}

func (g *grantedDir) Upload(ctx context.Context, name string, data []byte) error {
	t, err := g.get()
	if err != nil {
		return err
	}
	return t.Upload(ctx, name, data)
}

func (g *grantedDir) Download(ctx context.Context, name string) ([]byte, error) {
	t, err := g.get()
	if err != nil {
		return nil, err
	}
	return t.Download(ctx, name)
}

func (g *grantedDir) List(ctx context.Context) ([]string, error) {
	t, err := g.get()
	if err != nil {
		return nil, err
	}
	return t.List(ctx)
}

func (g *grantedDir) Ping(ctx context.Context) error {
	t, err := g.get()
	if err != nil {
		return err
	}
	return t.Ping(ctx)
}

// Dir is the directory-persisted backend: a local store whose snapshots
// sync into a user-chosen folder (typically one watched by a third-party
// file-sync tool). The folder is granted explicitly and can be revoked;
// cold starts with an empty or missing folder behave like a first sync.
type Dir struct {
	*Local
	granted *grantedDir
}

func NewDir(st *store.Store, cipher *keyring.Cipher, cfg LocalConfig, log logging.Logger) *Dir {
	granted := &grantedDir{}
	return &Dir{
		Local:   NewLocal(st, cipher, granted, cfg, log),
		granted: granted,
	}
}

// Grant points syncing at dir, creating it if needed.
func (d *Dir) Grant(dir string) error {
	if err := filex.EnsureDir(dir); err != nil {
		return err
	}
	d.granted.mu.Lock()
	d.granted.inner = blob.NewFSTransport(dir)
	d.granted.mu.Unlock()
	return nil
}

// Revoke detaches the sync directory. Local data is untouched; Sync fails
// until a new grant.
func (d *Dir) Revoke() {
	d.granted.mu.Lock()
	d.granted.inner = nil
	d.granted.mu.Unlock()
}

// Location returns the granted directory, or "" when revoked.
func (d *Dir) Location() string {
	d.granted.mu.RLock()
	defer d.granted.mu.RUnlock()
	if d.granted.inner == nil {
		return ""
	}
	return d.granted.inner.Dir()
}

var _ Adapter = (*Dir)(nil)
