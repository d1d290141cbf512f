// Package scan discovers vault directories that appear under VAULT_PATH
// out-of-band — dropped onto disk by an operator restoring a backup,
// rather than created by the first sync call — and opens them through
// the vault registry as soon as they appear, so they become visible without a server
// restart. This changes no wire contract; it only populates the
// in-memory registry sooner.
//
// Scanner uses fsnotify the same way a per-vault file watcher would, but
// one level up: it watches VAULT_PATH itself for new vault directories
// rather than watching a single already-open vault's file tree for
// content edits.
package scan

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aretw0/lifecycle"
	"github.com/fsnotify/fsnotify"

	"github.com/scionsync/scion/internal/vault"
	"github.com/scionsync/scion/internal/vaultname"
)

// Scanner watches one registry's root directory for new vault
// directories.
type Scanner struct {
	registry *vault.Registry
	logger   *slog.Logger
}

// New wires a Scanner to registry.
func New(registry *vault.Registry, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{registry: registry, logger: logger}
}

// Watch starts the scan as a tracked background job bound to ctx,
// following the same lifecycle.Go pattern the fan-out hub uses for its
// heartbeat loop. It returns once the watcher is established; the scan
// itself runs until ctx is cancelled.
func (s *Scanner) Watch(ctx context.Context) error {
	root := s.registry.Root()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(root); err != nil {
		watcher.Close()
		return err
	}

	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				s.handle(ev)
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				s.logger.Warn("vault root scan error", "error", err)
			}
		}
	}, lifecycle.WithErrorHandler(func(err error) {
		s.logger.Error("vault root scan stopped", "error", err)
	}))

	return nil
}

func (s *Scanner) handle(ev fsnotify.Event) {
	if ev.Op&fsnotify.Create == 0 {
		return
	}
	info, err := os.Stat(ev.Name)
	if err != nil || !info.IsDir() {
		return
	}
	name := filepath.Base(ev.Name)
	if !vaultname.Valid(name) {
		return
	}
	if _, err := s.registry.Get(name); err != nil {
		s.logger.Warn("discovered vault directory failed to open", "vault", name, "error", err)
		return
	}
	s.logger.Info("discovered vault directory out-of-band", "vault", name)
}
