package server

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// LoadAccess applies the configured access file to the command registry.
// No file configured is not an error.
func (g *Game) LoadAccess() (int, error) {
	if g.Conf.AccessFile == "" {
		return 0, nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	n, err := g.Commands.LoadAccessFile(g.Conf.AccessFile, g.Log)
	if err != nil {
		return n, fmt.Errorf("access: %w", err)
	}
	g.Log.Info("access: loaded", zap.String("file", g.Conf.AccessFile), zap.Int("directives", n))
	return n, nil
}

// NotifyWizards sends a message to all connected wizards.
func (g *Game) NotifyWizards(msg string) {
	players := g.Conns.ConnectedPlayers()
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range players {
		if g.DB.Wizard(p) {
			g.Notify(p, msg)
		}
	}
}

// WatchAccessFile re-applies the access file whenever it is written or
// replaced, until ctx is cancelled. The directory is watched rather than
// the file so editors that rename over it are seen.
func (g *Game) WatchAccessFile(ctx context.Context) error {
	path := g.Conf.AccessFile
	if path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("access: watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("access: watching %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()
		name := filepath.Base(path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || filepath.Base(event.Name) != name {
					continue
				}
				n, err := g.LoadAccess()
				if err != nil {
					g.Log.Warn("access: reload failed", zap.Error(err))
					continue
				}
				g.NotifyWizards(fmt.Sprintf("GAME: Access file reloaded, %d directives applied.", n))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				g.Log.Warn("access: watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
