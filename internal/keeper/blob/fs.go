package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/packetkeeper/packetkeeper/internal/common"
	"github.com/packetkeeper/packetkeeper/internal/filex"
)

// FSTransport stores blobs as files in one directory. It backs the
// directory-persisted mode, where sync targets a user-chosen folder
// (typically inside a third-party file-sync tool) instead of a server.
type FSTransport struct {
	dir string
}

func NewFSTransport(dir string) *FSTransport {
	return &FSTransport{dir: dir}
}

// Dir returns the directory this transport writes to.
func (t *FSTransport) Dir() string { return t.dir }

func (t *FSTransport) Upload(_ context.Context, name string, data []byte) error {
	if err := filex.WriteFileAtomic(filepath.Join(t.dir, name), data, 0o600); err != nil {
		return fmt.Errorf("%w: %v", common.ErrTransportFailure, err)
	}
	return nil
}

func (t *FSTransport) Download(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(t.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", common.ErrTransportFailure, err)
	}
	return data, nil
}

func (t *FSTransport) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", common.ErrTransportFailure, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// Ping verifies the directory exists and is writable, creating it on first
// use.
func (t *FSTransport) Ping(context.Context) error {
	if err := filex.EnsureDir(t.dir); err != nil {
		return fmt.Errorf("%w: %v", common.ErrUnavailable, err)
	}
	return nil
}
