package registry

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/rosterhq/roster/pkg/definition"
	"github.com/rosterhq/roster/pkg/logger"
	agenttypes "github.com/rosterhq/roster/pkg/types/agent"
)

// CacheInvalidator is notified when definitions change on disk so
// downstream caches (dependency resolutions) can be dropped.
type CacheInvalidator interface {
	InvalidateAll()
}

// Watcher re-registers definitions when their files change. Removed
// files keep their records: the registry never destroys a record except
// by process restart, so a deleted file only stops future updates.
type Watcher struct {
	registry    *Registry
	invalidator CacheInvalidator
	onChange    func(agentID string)
	watcher     *fsnotify.Watcher
	// dirSources attributes events back to the source that owns the
	// directory.
	dirSources map[string]agenttypes.Source
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithChangeListener registers fn to run with the agent id each time a
// definition is re-registered from a file change.
func WithChangeListener(fn func(agentID string)) WatcherOption {
	return func(w *Watcher) {
		w.onChange = fn
	}
}

// NewWatcher creates a watcher over the registry's definition
// directories. invalidator may be nil.
func NewWatcher(ctx context.Context, reg *Registry, invalidator CacheInvalidator, opts ...WatcherOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create file watcher")
	}

	w := &Watcher{
		registry:    reg,
		invalidator: invalidator,
		watcher:     fsw,
		dirSources:  make(map[string]agenttypes.Source),
	}
	for _, opt := range opts {
		opt(w)
	}

	for _, src := range reg.Store().Sources(ctx) {
		ds, ok := src.(*definition.DirSource)
		if !ok {
			continue
		}
		dir := ds.Dir()
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := fsw.Add(dir); err != nil {
			logger.G(ctx).WithField("dir", dir).WithError(err).Warn("failed to watch definition directory")
			continue
		}
		w.dirSources[filepath.Clean(dir)] = ds.Origin()
	}

	logger.G(ctx).WithField("dirs", len(w.dirSources)).Info("watching definition directories")
	return w, nil
}

// Watch processes filesystem events until ctx is cancelled or the
// watcher is closed.
func (w *Watcher) Watch(ctx context.Context) error {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logger.G(ctx).WithError(err).Error("definition watcher error")

		case <-ctx.Done():
			logger.G(ctx).Info("stopping definition watcher")
			return nil
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".md") {
		return
	}

	log := logger.G(ctx).WithField("path", event.Name)

	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		log.Debug("definition file removed, record retained")
		return
	}

	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	if info, err := os.Stat(event.Name); err != nil || info.IsDir() {
		return
	}

	source, ok := w.dirSources[filepath.Clean(filepath.Dir(event.Name))]
	if !ok {
		return
	}

	content, err := os.ReadFile(event.Name)
	if err != nil {
		log.WithError(err).Warn("failed to read changed definition")
		return
	}

	doc := definition.Document{
		Path:    event.Name,
		Source:  source,
		Content: content,
	}
	if info, err := os.Stat(event.Name); err == nil {
		doc.ModTime = info.ModTime()
	}

	outcome := definition.Parse(ctx, doc)

	// A lower-precedence file must not clobber the record that shadows
	// it: only the path that owns the id (or a brand new id) registers.
	if existing, getErr := w.registry.Get(outcome.Definition.ID); getErr == nil && existing.Definition.Path != event.Name {
		log.WithField("id", outcome.Definition.ID).Debug("change shadowed by higher precedence definition")
		return
	}

	rec := w.registry.RegisterParsed(outcome)

	if w.invalidator != nil {
		w.invalidator.InvalidateAll()
	}
	if w.onChange != nil {
		w.onChange(rec.Definition.ID)
	}

	log.WithField("id", rec.Definition.ID).Info("definition re-registered from file change")
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
