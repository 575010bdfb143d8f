package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DocumentsWatcher monitors the configured rule and warehouse sources and
// invokes the supplied callback whenever definitions change. Stop must be
// called to release filesystem resources.
type DocumentsWatcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop halts the watcher and waits for the underlying goroutine to exit.
func (w *DocumentsWatcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

// sourceSpec is one watch target: either a single file or a folder tree.
type sourceSpec struct {
	kind   string
	file   string
	folder string
}

// WatchDocuments wires fsnotify around the configured rule and warehouse
// sources and reloads the bundle on any relevant change. The provided config
// should come from Loader.Load so the inline definitions are already captured.
func (l *Loader) WatchDocuments(ctx context.Context, cfg Config, onChange func(Bundle), onError func(error)) (*DocumentsWatcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("config: watch documents requires a change callback")
	}
	specs := make([]sourceSpec, 0, 2)
	if cfg.Server.Rules.RulesFile != "" || cfg.Server.Rules.RulesFolder != "" {
		specs = append(specs, sourceSpec{kind: "rules", file: cfg.Server.Rules.RulesFile, folder: cfg.Server.Rules.RulesFolder})
	}
	if cfg.Server.Warehouses.WarehousesFile != "" || cfg.Server.Warehouses.WarehousesFolder != "" {
		specs = append(specs, sourceSpec{kind: "warehouses", file: cfg.Server.Warehouses.WarehousesFile, folder: cfg.Server.Warehouses.WarehousesFolder})
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("config: no definition source configured for watching")
	}

	watchCtx, cancel := context.WithCancel(ctx)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("config: watch documents: %w", err)
	}

	inlineRules := cloneRuleDefinitions(cfg.InlineRules)
	inlineWarehouses := cloneWarehouseDefinitions(cfg.InlineWarehouses)

	bundle, err := buildDocumentBundle(watchCtx, inlineRules, inlineWarehouses, cfg.Server.Rules, cfg.Server.Warehouses)
	if err != nil {
		if closeErr := watcher.Close(); closeErr != nil && onError != nil {
			onError(fmt.Errorf("config: watch documents close: %w", closeErr))
		}
		cancel()
		return nil, err
	}
	onChange(bundle)

	done := make(chan struct{})
	watch := &DocumentsWatcher{cancel: cancel, done: done}

	ready := make(chan struct{})
	var readyOnce sync.Once
	signalReady := func() { readyOnce.Do(func() { close(ready) }) }

	go func() {
		defer close(done)
		defer func() {
			if err := watcher.Close(); err != nil && onError != nil {
				onError(fmt.Errorf("config: watch documents close: %w", err))
			}
		}()
		defer signalReady()

		var reloadMu sync.Mutex
		reload := func() {
			reloadMu.Lock()
			defer reloadMu.Unlock()
			bundle, err := buildDocumentBundle(watchCtx, inlineRules, inlineWarehouses, cfg.Server.Rules, cfg.Server.Warehouses)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				if onError != nil {
					onError(err)
				}
				return
			}
			onChange(bundle)
		}

		dirs := map[string]struct{}{}
		addDir := func(dir string) {
			dir = filepath.Clean(dir)
			if _, ok := dirs[dir]; ok {
				return
			}
			if err := watcher.Add(dir); err != nil {
				if onError != nil {
					onError(fmt.Errorf("config: watch add %s: %w", dir, err))
				}
				return
			}
			dirs[dir] = struct{}{}
		}

		targetFiles := map[string]struct{}{}
		for _, spec := range specs {
			if spec.file != "" {
				resolved := spec.file
				if path, err := filepath.Abs(spec.file); err == nil {
					resolved = path
				} else if onError != nil {
					onError(fmt.Errorf("config: resolve %s file: %w", spec.kind, err))
				}
				target := filepath.Clean(resolved)
				targetFiles[target] = struct{}{}
				addDir(filepath.Dir(target))
				continue
			}
			root, err := filepath.Abs(spec.folder)
			if err != nil {
				if onError != nil {
					onError(fmt.Errorf("config: resolve %s folder: %w", spec.kind, err))
				}
				root = spec.folder
			}
			if err := filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
				if walkErr != nil {
					if onError != nil {
						onError(fmt.Errorf("config: walk watcher %s: %w", path, walkErr))
					}
					return nil
				}
				if d.IsDir() {
					addDir(path)
				}
				return nil
			}); err != nil {
				if onError != nil {
					onError(fmt.Errorf("config: traverse watcher %s: %w", root, err))
				}
			}
		}

		signalReady()

		const debounce = 25 * time.Millisecond
		var reloadTimer *time.Timer
		var reloadSignal <-chan time.Time
		scheduleReload := func() {
			if reloadTimer == nil {
				reloadTimer = time.NewTimer(debounce)
			} else {
				if !reloadTimer.Stop() {
					select {
					case <-reloadTimer.C:
					default:
					}
				}
				reloadTimer.Reset(debounce)
			}
			reloadSignal = reloadTimer.C
		}
		flushTimer := func() {
			if reloadTimer == nil {
				return
			}
			if !reloadTimer.Stop() {
				select {
				case <-reloadTimer.C:
				default:
				}
			}
			reloadSignal = nil
		}
		defer flushTimer()

		for {
			select {
			case <-watchCtx.Done():
				return
			case <-reloadSignal:
				flushTimer()
				reload()
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				name := filepath.Clean(event.Name)
				if event.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(name); err == nil && info.IsDir() {
						addDir(name)
						continue
					}
				}
				_, isTarget := targetFiles[name]
				if !isTarget && !isSupportedDocumentFile(name) {
					continue
				}
				if isTarget && event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					if onError != nil {
						onError(fmt.Errorf("config: definitions file %s removed", name))
					}
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) == 0 {
					continue
				}
				scheduleReload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(fmt.Errorf("config: watch error: %w", err))
				}
			}
		}
	}()

	<-ready

	return watch, nil
}
