package config

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads path on every write and hands the new Config to onChange.
// current is the config already in effect; each reload is compared with the
// last applied one, so a save that changes nothing does not call onChange.
// It blocks until ctx is cancelled.
//
// A reload that fails to parse or validate is logged and skipped; onChange
// is not called and the caller keeps its previous config.
func Watch(ctx context.Context, path string, current *Config, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watch: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("config: watch %q: %w", path, err)
	}

	slog.Info("config: watching for changes", "path", path)
	r := &reloader{path: path, current: current, onChange: onChange}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Atomic-save editors replace the file, which surfaces as Create.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			r.reload()

			// The inode may have changed under an atomic save.
			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}

type reloader struct {
	path     string
	current  *Config
	onChange func(*Config)
}

// reload loads the file and applies it when it differs from the current config.
// It reports whether onChange was called.
func (r *reloader) reload() bool {
	next, err := Load(r.path)
	if err != nil {
		slog.Error("config: reload failed, keeping previous config", "path", r.path, "err", err)
		return false
	}
	if r.current != nil && reflect.DeepEqual(r.current, next) {
		slog.Debug("config: file saved without changes", "path", r.path)
		return false
	}

	d := DiffTeams(r.current, next)
	attrs := []any{"path", r.path, "teams", len(next.Teams)}
	if len(d.Added) > 0 {
		attrs = append(attrs, "added", d.Added)
	}
	if len(d.Removed) > 0 {
		attrs = append(attrs, "removed", d.Removed)
	}
	if len(d.Changed) > 0 {
		attrs = append(attrs, "changed", d.Changed)
	}
	if r.current != nil && r.current.App.Interval != next.App.Interval {
		attrs = append(attrs, "interval", next.App.Interval)
	}
	slog.Info("config: reloaded", attrs...)

	r.current = next
	r.onChange(next)
	return true
}

// TeamDiff lists team IDs by how they differ between two configs.
type TeamDiff struct {
	Added   []string
	Removed []string
	Changed []string
}

// DiffTeams compares the teams of prev and next by ID. Added and Changed
// follow next's order, Removed follows prev's. A nil prev counts every team
// in next as added.
func DiffTeams(prev, next *Config) TeamDiff {
	var d TeamDiff
	old := make(map[string]Team)
	if prev != nil {
		for _, t := range prev.Teams {
			old[t.ID] = t
		}
	}
	kept := make(map[string]bool)
	if next != nil {
		for _, t := range next.Teams {
			was, ok := old[t.ID]
			switch {
			case !ok:
				d.Added = append(d.Added, t.ID)
			case !reflect.DeepEqual(was, t):
				d.Changed = append(d.Changed, t.ID)
			}
			kept[t.ID] = true
		}
	}
	if prev != nil {
		for _, t := range prev.Teams {
			if !kept[t.ID] {
				d.Removed = append(d.Removed, t.ID)
			}
		}
	}
	return d
}
