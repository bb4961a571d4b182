package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/packetkeeper/packetkeeper/internal/keeper/adapter"
)

// List prints a one-line summary per conversation. Unreadable records
// show as placeholders rather than breaking the listing.
func (a *App) List(ctx context.Context) error {
	convs, err := a.backend.ListConversations(ctx, adapter.ListFilter{
		OwnerID:     a.cfg.OwnerID,
		NewestFirst: true,
	})
	if err != nil {
		return err
	}
	for _, c := range convs {
		marker := ""
		if c.Broken {
			marker = " [unreadable]"
		}
		printlnFn(fmt.Sprintf("%s  %s  (%d messages)%s", c.ID, c.Title, len(c.Messages), marker))
	}
	return nil
}

func (a *App) ListContexts(ctx context.Context) error {
	ctxs, err := a.backend.ListContexts(ctx, adapter.ListFilter{OwnerID: a.cfg.OwnerID})
	if err != nil {
		return err
	}
	for _, c := range ctxs {
		printlnFn(fmt.Sprintf("%s  %s", c.ID, c.Title))
	}
	return nil
}

func (a *App) ListPrompts(ctx context.Context) error {
	prompts, err := a.backend.ListSystemPrompts(ctx, adapter.ListFilter{OwnerID: a.cfg.OwnerID})
	if err != nil {
		return err
	}
	for _, p := range prompts {
		def := ""
		if p.IsDefault {
			def = " (default)"
		}
		printlnFn(fmt.Sprintf("%s  %s%s", p.ID, p.Title, def))
	}
	return nil
}

// Show fetches and displays a single conversation by ID, messages
// included.
func (a *App) Show(ctx context.Context) error {
	id, err := getSimpleText(a.reader, "Enter conversation id", os.Stdout)
	if err != nil {
		return err
	}

	c, err := a.backend.GetConversationByID(ctx, id)
	if err != nil {
		return err
	}

	printlnFn(c.Title)
	if c.Fork != nil {
		printlnFn(fmt.Sprintf("forked from %s by %s", c.Fork.ForkedFrom, c.Fork.ForkedByUser))
	}
	for _, m := range c.Messages {
		printlnFn(fmt.Sprintf("[%s] %s", m.Actor, m.Content))
	}
	return nil
}

// Delete removes a conversation by its identifier, prompting the user
// for the ID.
func (a *App) Delete(ctx context.Context) error {
	id, err := getSimpleText(a.reader, "Enter conversation id to delete", os.Stdout)
	if err != nil {
		return err
	}
	return a.backend.DeleteConversation(ctx, id)
}

// Sync triggers a reconciliation round trip with the remote side.
func (a *App) Sync(ctx context.Context) error {
	sum, err := a.backend.Sync(ctx)
	if err != nil {
		return err
	}
	printlnFn(fmt.Sprintf("Sync done: %d inserted, %d updated, %d forked, %d deleted",
		sum.Inserted, sum.Updated, sum.Forked, sum.Deleted))
	return nil
}
