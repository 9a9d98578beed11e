package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/whisperd/internal/config"
	"github.com/kiranshivaraju/whisperd/internal/store"
	"github.com/kiranshivaraju/whisperd/pkg/models"
)

const keysUsage = "usage: whisperd keys create -name NAME | list | revoke -id UUID"

// keyAdmin is the subset of store.Store the keys subcommands need.
type keyAdmin interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}

// runKeys manages hashed API keys in Postgres.
func runKeys(args []string, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.URL == "" {
		return errors.New("keys: DATABASE_URL is required")
	}

	ctx := context.Background()
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := store.RunMigrations(cfg.Database.URL, migrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return keysCommand(ctx, store.NewPostgresStore(pool), args, out)
}

func keysCommand(ctx context.Context, ks keyAdmin, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New(keysUsage)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	switch args[0] {
	case "create":
		fs := flag.NewFlagSet("keys create", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		name := fs.String("name", "", "human readable key name (required)")
		if err := fs.Parse(args[1:]); err != nil {
			return fmt.Errorf("%w\n%s", err, keysUsage)
		}
		if *name == "" {
			return errors.New("keys create: -name is required")
		}

		raw, key, err := store.NewAPIKey(*name)
		if err != nil {
			return err
		}
		if err := ks.CreateAPIKey(ctx, key); err != nil {
			return fmt.Errorf("create api key: %w", err)
		}
		return enc.Encode(map[string]any{
			"id":         key.ID,
			"name":       key.Name,
			"key_prefix": key.KeyPrefix,
			"key":        raw,
		})

	case "list":
		keys, err := ks.ListAPIKeys(ctx)
		if err != nil {
			return fmt.Errorf("list api keys: %w", err)
		}
		if keys == nil {
			keys = []*models.APIKey{}
		}
		return enc.Encode(keys)

	case "revoke":
		fs := flag.NewFlagSet("keys revoke", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		rawID := fs.String("id", "", "key id to revoke (required)")
		if err := fs.Parse(args[1:]); err != nil {
			return fmt.Errorf("%w\n%s", err, keysUsage)
		}
		id, err := uuid.Parse(*rawID)
		if err != nil {
			return fmt.Errorf("keys revoke: invalid -id %q: %w", *rawID, err)
		}
		if err := ks.RevokeAPIKey(ctx, id); err != nil {
			return fmt.Errorf("revoke api key: %w", err)
		}
		return enc.Encode(map[string]any{"id": id, "revoked": true})

	default:
		return fmt.Errorf("unknown keys command %q\n%s", args[0], keysUsage)
	}
}
