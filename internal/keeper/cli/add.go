package cli

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/packetkeeper/packetkeeper/internal/keeper/adapter"
	"github.com/packetkeeper/packetkeeper/internal/keeper/models"
)

// getSimpleText and getMultiline are indirections used to facilitate
// testing. They point to interactive input helpers and can be swapped in
// tests.
var getSimpleText = GetSimpleText
var getMultiline = GetMultiline

// AddChat collects a title, an opening message and tags, and stores them
// as a new conversation.
func (a *App) AddChat(ctx context.Context) error {
	title, err := getSimpleText(a.reader, "Enter title", os.Stdout)
	if err != nil {
		return err
	}
	text, err := getMultiline(a.reader, "Enter the first message:", os.Stdout)
	if err != nil {
		return err
	}
	tags, err := GetTags(a.reader, os.Stdout)
	if err != nil {
		return err
	}

	var msgs []models.Message
	if text != "" {
		msgs = append(msgs, models.Message{
			Actor:     "user",
			Content:   text,
			Timestamp: time.Now().UTC(),
		})
	}

	c, err := a.backend.CreateConversation(ctx, adapter.ConversationInput{
		RequestID: uuid.NewString(),
		OwnerID:   a.cfg.OwnerID,
		Title:     title,
		Tags:      tags,
		Messages:  msgs,
	})
	if err != nil {
		return err
	}
	printlnFn("Created:", c.ID)
	return nil
}

// AddContext collects a reusable context body and stores it.
func (a *App) AddContext(ctx context.Context) error {
	title, err := getSimpleText(a.reader, "Enter title", os.Stdout)
	if err != nil {
		return err
	}
	body, err := getMultiline(a.reader, "Enter context body:", os.Stdout)
	if err != nil {
		return err
	}
	tags, err := GetTags(a.reader, os.Stdout)
	if err != nil {
		return err
	}

	c, err := a.backend.SaveContext(ctx, adapter.ContextInput{
		RequestID: uuid.NewString(),
		OwnerID:   a.cfg.OwnerID,
		Title:     title,
		Body:      body,
		Tags:      tags,
	})
	if err != nil {
		return err
	}
	printlnFn("Created:", c.ID)
	return nil
}

// AddPrompt collects a system prompt and stores it.
func (a *App) AddPrompt(ctx context.Context) error {
	title, err := getSimpleText(a.reader, "Enter title", os.Stdout)
	if err != nil {
		return err
	}
	prompt, err := getMultiline(a.reader, "Enter prompt text:", os.Stdout)
	if err != nil {
		return err
	}

	p, err := a.backend.SaveSystemPrompt(ctx, adapter.SystemPromptInput{
		RequestID: uuid.NewString(),
		OwnerID:   a.cfg.OwnerID,
		Title:     title,
		Prompt:    prompt,
	})
	if err != nil {
		return err
	}
	printlnFn("Created:", p.ID)
	return nil
}
