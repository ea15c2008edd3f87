package credentials

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"

	"github.com/wardenhq/warden/internal/logging"
)

// FileCredentials maps owner -> provider -> value, the shape of a
// credentials.toml file:
//
//	[alice]
//	github = "ghp_xxx"
//	openrouter = "sk-or-xxx"
type FileCredentials map[string]map[string]string

// StandardPaths returns the credential file locations in order of priority.
func StandardPaths() []string {
	paths := []string{"credentials.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "warden", "credentials.toml"))
	}
	return paths
}

// LoadFile reads a credentials file.
func LoadFile(path string) (FileCredentials, error) {
	var creds FileCredentials
	if _, err := toml.DecodeFile(path, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials file: %w", err)
	}
	return creds, nil
}

// Seed loads a credentials file into the store. Every entry goes through
// Set, so waiters blocked on a seeded key wake up.
func Seed(store *Store, path string) error {
	creds, err := LoadFile(path)
	if err != nil {
		return err
	}
	for owner, providers := range creds {
		for provider, value := range providers {
			if value == "" {
				continue
			}
			if err := store.Set(owner, provider, value); err != nil {
				return err
			}
		}
	}
	return nil
}

// Watch re-seeds the store whenever the credentials file changes, letting an
// operator satisfy a pending credential request by editing the file. Blocks
// until ctx is cancelled.
func Watch(ctx context.Context, store *Store, path string, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.New()
	}
	logger = logger.WithComponent("credwatch")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory rather than the file: editors replace files on
	// save, which drops a direct file watch.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := Seed(store, path); err != nil {
				logger.Warn("credentials file reload failed", map[string]interface{}{"error": err})
				continue
			}
			logger.Info("credentials file reloaded", map[string]interface{}{"path": path})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("credentials watcher error", map[string]interface{}{"error": err})
		}
	}
}
