package orchestrator

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/autodevhq/autodev/internal/logging"
	"github.com/autodevhq/autodev/internal/paths"
	"github.com/autodevhq/autodev/internal/registry"
)

// activityWatcher feeds worker log writes into assignment lastActivity.
// It is purely diagnostic: inactivity is surfaced, never acted on.
type activityWatcher struct {
	watcher  *fsnotify.Watcher
	registry *registry.Registry
	logger   *logging.Logger
}

func newActivityWatcher(layout *paths.Layout, reg *registry.Registry, logger *logging.Logger) (*activityWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(layout.LogsDir()); err != nil {
		w.Close()
		return nil, err
	}
	return &activityWatcher{
		watcher:  w,
		registry: reg,
		logger:   logger.WithComponent("activity"),
	}, nil
}

func (a *activityWatcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			instanceID, ok := instanceFromLogName(filepath.Base(ev.Name))
			if !ok {
				continue
			}
			if assignee, err := a.registry.GetByInstance(instanceID); err == nil {
				a.registry.TouchActivity(assignee.ID)
			}
		case err, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
			a.logger.Warn("watch error", "error", err)
		}
	}
}

func (a *activityWatcher) close() {
	_ = a.watcher.Close()
}

// instanceFromLogName extracts the instance id from "output-<id>.log".
func instanceFromLogName(name string) (string, bool) {
	if !strings.HasPrefix(name, "output-") || !strings.HasSuffix(name, ".log") {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(name, "output-"), ".log")
	return id, id != ""
}
