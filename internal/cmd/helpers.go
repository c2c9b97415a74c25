package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tabstash/tabstash/internal/config"
	"github.com/tabstash/tabstash/internal/kv"
	"github.com/tabstash/tabstash/internal/slogger"
	"github.com/tabstash/tabstash/internal/workspace"
)

func requireConfig(ctx context.Context) (*config.Config, error) {
	cfg := ConfigFromContext(ctx)
	if cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}

func defaultDatabasePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, config.DefaultDataDir, "tabstash.db"), nil
}

// openStore opens the durable store directly, for commands that never touch
// live browser state. The caller owns the returned database handle.
func openStore(ctx context.Context) (*kv.SQLite, *workspace.Store, error) {
	path := ""
	if cfg := ConfigFromContext(ctx); cfg != nil {
		path = cfg.Storage.Database
	}
	if path == "" {
		var err error
		path, err = defaultDatabasePath()
		if err != nil {
			return nil, nil, err
		}
	}

	db, err := kv.OpenSQLite(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return db, workspace.NewStore(db, slogger.FromContext(ctx)), nil
}

// resolveContext finds a context by id or, failing that, by exact title.
func resolveContext(ctx context.Context, store *workspace.Store, ref string) (*workspace.Context, error) {
	c, err := store.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if c != nil {
		return c, nil
	}

	matches, err := store.List(ctx, func(c *workspace.Context) bool { return c.Title == ref })
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no context matches %q", ref)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%q is ambiguous: %d contexts share that title", ref, len(matches))
	}
}
