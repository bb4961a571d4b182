package cli

import (
	"context"
	"fmt"
)

// Grant points the directory-persisted backend at dir. Only meaningful
// in dir mode.
func (a *App) Grant(ctx context.Context, dir string) error {
	if a.dir == nil {
		return fmt.Errorf("grant is only available in dir mode")
	}
	if err := a.dir.Grant(dir); err != nil {
		return err
	}
	printlnFn("Syncing into", dir)
	return nil
}

// Revoke detaches the sync directory. Local data stays readable.
func (a *App) Revoke(ctx context.Context) error {
	if a.dir == nil {
		return fmt.Errorf("revoke is only available in dir mode")
	}
	a.dir.Revoke()
	printlnFn("Sync directory revoked")
	return nil
}
