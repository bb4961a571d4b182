package cli

import (
	"context"
	"os"

	"github.com/packetkeeper/packetkeeper/internal/common"
)

// SetKey stores a provider API key for the active user. The secret is
// read without echo and wiped after storing.
func (a *App) SetKey(ctx context.Context) error {
	provider, err := getSimpleText(a.reader, "Enter provider (e.g. openai)", os.Stdout)
	if err != nil {
		return err
	}
	secret, err := GetPassword(os.Stdout)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(secret)

	if err := a.backend.SaveAPIKey(ctx, provider, a.cfg.OwnerID, string(secret)); err != nil {
		return err
	}
	printlnFn("Stored key for", provider)
	return nil
}

// GetKey prints the stored API key for a provider.
func (a *App) GetKey(ctx context.Context) error {
	provider, err := getSimpleText(a.reader, "Enter provider", os.Stdout)
	if err != nil {
		return err
	}
	secret, err := a.backend.GetAPIKey(ctx, provider, a.cfg.OwnerID)
	if err != nil {
		return err
	}
	printlnFn(secret)
	return nil
}
