package hivemq

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/hivemq/hivemq-testcontainer-go/internal/errors"
	"github.com/hivemq/hivemq-testcontainer-go/internal/logger"
)

// ExtensionSupplier produces an extension folder on the host, typically by
// building an extension project. The folder's base name is the extension id.
type ExtensionSupplier interface {
	Supply(ctx context.Context) (string, error)
}

// ExtensionSupplierFunc adapts a function to ExtensionSupplier.
type ExtensionSupplierFunc func(ctx context.Context) (string, error)

// Supply calls f.
func (f ExtensionSupplierFunc) Supply(ctx context.Context) (string, error) { return f(ctx) }

// SupplierCache memoizes supplier output so an extension is built once per
// test binary rather than once per container.
type SupplierCache struct {
	items *cache.Cache
	group singleflight.Group
}

// NewSupplierCache returns a cache whose entries expire after ttl.
// A ttl of 0 keeps entries until the process exits.
func NewSupplierCache(ttl time.Duration) *SupplierCache {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &SupplierCache{items: cache.New(ttl, 10*time.Minute)}
}

// Supplier wraps s so its result is stored under key.
func (c *SupplierCache) Supplier(key string, s ExtensionSupplier) *CachedSupplier {
	return &CachedSupplier{cache: c, key: key, inner: s}
}

// Forget drops the entry stored under key.
func (c *SupplierCache) Forget(key string) {
	c.items.Delete(key)
}

// CachedSupplier is an ExtensionSupplier backed by a SupplierCache.
type CachedSupplier struct {
	cache *SupplierCache
	key   string
	inner ExtensionSupplier
}

// Supply returns the cached folder when it still exists on disk. Otherwise it
// runs the wrapped supplier; concurrent callers share a single build.
func (s *CachedSupplier) Supply(ctx context.Context) (string, error) {
	if v, ok := s.cache.items.Get(s.key); ok {
		dir := v.(string)
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		}
		s.cache.items.Delete(s.key)
	}

	// The build is shared, so one caller giving up must not cancel it.
	buildCtx := context.WithoutCancel(ctx)
	ch := s.cache.group.DoChan(s.key, func() (any, error) {
		dir, err := s.inner.Supply(buildCtx)
		if err != nil {
			return "", err
		}
		s.cache.items.SetDefault(s.key, dir)
		return dir, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for extension %s: %w", s.key, ctx.Err())
	}
}

func runnerOrDefault(r commandRunner) commandRunner {
	if r == nil {
		return newExecRunner()
	}
	return r
}

func supplierLogger(l *slog.Logger, tool string) logger.Logger {
	if l == nil {
		l = slog.Default()
	}
	return logger.FromSlog(l).With(logger.String("component", "supplier"), logger.String("tool", tool))
}

// unpackExtension extracts archive into a fresh temporary folder and returns
// <tmp>/<id>.
func unpackExtension(archive, id string) (string, error) {
	if _, err := os.Stat(archive); err != nil {
		return "", errors.Newf("extension archive %s not found: %w", archive, ErrBuildFailed).
			Component(component).
			Category(errors.CategoryBuild).
			Build()
	}

	tmp, err := os.MkdirTemp("", "hivemq-extension-")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary folder: %w", err)
	}
	if err := extractZip(archive, osfs.New(tmp)); err != nil {
		_ = os.RemoveAll(tmp)
		return "", errors.New(err).
			Component(component).
			Category(errors.CategoryFileIO).
			Context("archive", archive).
			Build()
	}

	dir := filepath.Join(tmp, id)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		_ = os.RemoveAll(tmp)
		return "", fmt.Errorf("%w: archive %s has no %s folder", ErrInvalidExtension, archive, id)
	}
	return dir, nil
}

func buildFailed(tool, project string, err error) error {
	return errors.Newf("exception while building the HiveMQ extension with %s: %w", tool, err).
		Component(component).
		Category(errors.CategoryBuild).
		Context("project", project).
		Build()
}
