package config

import (
	"context"
	"log/slog"
	"reflect"
	"slices"

	"github.com/fsnotify/fsnotify"
)

// Diff compares two configs. applied lists the changed settings that take
// effect from the next evaluation cycle; restart lists changed sections
// that are only read at startup.
func Diff(prev, next *Config) (applied, restart []string) {
	if prev == nil {
		prev = &Config{}
	}
	pa, na := prev.Availability, next.Availability
	if pa.EffectivePolicy() != na.EffectivePolicy() {
		applied = append(applied, "availability.policy")
	}
	if pa.Precision != na.Precision {
		applied = append(applied, "availability.precision")
	}
	if !slices.Equal(pa.EffectivePeriods(), na.EffectivePeriods()) {
		applied = append(applied, "availability.periods")
	}
	if pa.Interval != na.Interval {
		applied = append(applied, "availability.interval")
	}
	if pa.Workers != na.Workers {
		applied = append(applied, "availability.workers")
	}
	if prev.Storage.QueryTimeout != next.Storage.QueryTimeout {
		applied = append(applied, "storage.query_timeout")
	}

	startup := []struct {
		name       string
		prev, next any
	}{
		{"server", prev.Server, next.Server},
		{"storage.backend", prev.Storage.Backend, next.Storage.Backend},
		{"storage.dsn_env", prev.Storage.DSNEnv, next.Storage.DSNEnv},
		{"storage.fixture", prev.Storage.Fixture, next.Storage.Fixture},
		{"results", prev.Results, next.Results},
		{"publish", prev.Publish, next.Publish},
		{"probes", prev.Probes, next.Probes},
		{"alerts", prev.Alerts, next.Alerts},
	}
	for _, s := range startup {
		if !reflect.DeepEqual(s.prev, s.next) {
			restart = append(restart, s.name)
		}
	}
	return applied, restart
}

// Watch monitors path for changes and calls onChange with the newly loaded
// Config whenever a write changes a setting that applies without a restart.
// It runs until ctx is cancelled.
//
// If a reload fails (e.g., invalid YAML), the error is logged and the
// previous config remains active. Watch does not call onChange.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	current, err := Load(path)
	if err != nil {
		slog.Warn("config: initial load for diffing failed", "path", path, "err", err)
		current = nil
	}

	slog.Info("config: watching for changes", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Editors often save via rename, so Create counts as a write.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(path)
			if err != nil {
				slog.Error("config: reload failed, keeping previous config",
					"path", path, "err", err)
				continue
			}

			applied, restart := Diff(current, cfg)
			if len(restart) > 0 {
				slog.Warn("config: changes ignored until restart", "path", path, "sections", restart)
			}
			if len(applied) > 0 {
				slog.Info("config: reloaded", "path", path,
					"changed", applied,
					"policy", cfg.Availability.EffectivePolicy(),
					"precision", cfg.Availability.Precision)
				onChange(cfg)
			}
			current = cfg

			// Re-add the file in case an atomic save replaced the inode.
			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}
