package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/MrSnakeDoc/toposync/internal/domain"
	"github.com/MrSnakeDoc/toposync/internal/logger"
	"github.com/MrSnakeDoc/toposync/internal/sources/catalog"
	"github.com/MrSnakeDoc/toposync/internal/utils"
)

// CatalogStore is where imported endpoints and credentials land.
type CatalogStore interface {
	SaveEndpoint(ctx context.Context, ep domain.Endpoint) error
	SaveCredential(ctx context.Context, cred domain.TrustCredential) error
}

// CatalogReloader imports the catalog file at startup and again whenever it
// changes on disk, then calls onChange so a sweep can pick the new
// endpoints up.
type CatalogReloader struct {
	loader   *catalog.Loader
	mapper   *catalog.Mapper
	store    CatalogStore
	logger   logger.Logger
	onChange func()
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCatalogReloader creates a new catalog reloader. onChange may be nil.
func NewCatalogReloader(
	catalogFile string,
	store CatalogStore,
	log logger.Logger,
	onChange func(),
) *CatalogReloader {
	loader := catalog.NewLoader(catalogFile)
	return &CatalogReloader{
		loader:   loader,
		mapper:   catalog.NewMapper(loader.Dir()),
		store:    store,
		logger:   log,
		onChange: onChange,
		stopCh:   make(chan struct{}),
	}
}

// Start imports the catalog once and starts watching it.
func (cr *CatalogReloader) Start(ctx context.Context) error {
	if _, err := cr.Reload(ctx); err != nil {
		return fmt.Errorf("initial catalog import failed: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory: atomic saves replace the file's inode.
	if err := watcher.Add(cr.loader.Dir()); err != nil {
		utils.Close(watcher)
		return fmt.Errorf("failed to watch %s: %w", cr.loader.Dir(), err)
	}

	cr.logger.Info("watching catalog for changes", logger.String("path", cr.loader.Path()))

	target := filepath.Clean(cr.loader.Path())
	cr.wg.Add(1)
	go func() {
		defer cr.wg.Done()
		defer utils.Close(watcher)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cr.logger.Info("catalog changed", logger.String("op", event.Op.String()))
				if _, err := cr.Reload(ctx); err != nil {
					cr.logger.Error("catalog reload failed, keeping previous endpoints", logger.Error(err))
					continue
				}
				if cr.onChange != nil {
					cr.onChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				cr.logger.Warn("catalog watcher error", logger.Error(err))
			case <-cr.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the watcher
func (cr *CatalogReloader) Stop() {
	cr.stopOnce.Do(func() { close(cr.stopCh) })
	cr.wg.Wait()
}

// Reload imports the catalog into the store and returns the number of
// endpoints applied. Nothing is written when the catalog is invalid.
func (cr *CatalogReloader) Reload(ctx context.Context) (int, error) {
	c, err := cr.loader.Load()
	if err != nil {
		return 0, err
	}

	entries, err := cr.mapper.Map(c)
	if err != nil {
		return 0, fmt.Errorf("invalid catalog: %w", err)
	}

	withCredential := 0
	for _, e := range entries {
		if err := cr.store.SaveEndpoint(ctx, e.Endpoint); err != nil {
			return 0, fmt.Errorf("failed to save endpoint %s: %w", e.Endpoint.ID, err)
		}
		if e.Credential != nil {
			if err := cr.store.SaveCredential(ctx, *e.Credential); err != nil {
				return 0, fmt.Errorf("failed to save credential %s: %w", e.Endpoint.ID, err)
			}
			withCredential++
		}
	}

	cr.logger.Info("catalog imported",
		logger.Int("endpoints", len(entries)),
		logger.Int("credentials", withCredential))
	return len(entries), nil
}
