package hivemqtest

import (
	"fmt"
	"sync"
	"testing"
)

// CleanupManager runs registered cleanups in LIFO order.
type CleanupManager struct {
	mu       sync.Mutex
	cleanups []cleanupFunc
}

type cleanupFunc struct {
	name string
	fn   func() error
}

// NewCleanupManager creates an empty CleanupManager.
func NewCleanupManager() *CleanupManager {
	return &CleanupManager{}
}

// Add registers fn under name. The last added cleanup runs first.
func (cm *CleanupManager) Add(name string, fn func() error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.cleanups = append(cm.cleanups, cleanupFunc{name: name, fn: fn})
}

// Cleanup runs every registered cleanup and returns the failures. Cleanups
// run without the lock held, so a cleanup may call Add.
func (cm *CleanupManager) Cleanup() []error {
	cm.mu.Lock()
	pending := cm.cleanups
	cm.cleanups = nil
	cm.mu.Unlock()

	var errs []error
	for i := len(pending) - 1; i >= 0; i-- {
		c := pending[i]
		if err := c.fn(); err != nil {
			errs = append(errs, fmt.Errorf("%s cleanup failed: %w", c.name, err))
		}
	}
	return errs
}

// RegisterTestCleanup runs the cleanups when t finishes and reports failures
// as test errors.
func (cm *CleanupManager) RegisterTestCleanup(t testing.TB) {
	t.Helper()
	t.Cleanup(func() {
		for _, err := range cm.Cleanup() {
			t.Errorf("cleanup error: %v", err)
		}
	})
}

// CleanupOnce runs a cleanup at most once, for cleanups reachable from both a
// defer and t.Cleanup.
type CleanupOnce struct {
	once sync.Once
	fn   func() error
	err  error
}

// NewCleanupOnce wraps fn.
func NewCleanupOnce(fn func() error) *CleanupOnce {
	return &CleanupOnce{fn: fn}
}

// Do runs the cleanup on the first call and returns its error on every call.
func (co *CleanupOnce) Do() error {
	co.once.Do(func() {
		co.err = co.fn()
	})
	return co.err
}
