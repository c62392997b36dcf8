// Package cache holds small in-process caches with expiry and a manager that
// sweeps them on a ticker.
package cache

import (
	"sync"
	"time"

	"spendsync/internal/log"
)

// Cache is a keyed store of values that may expire.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, data T)
	Delete(key string)
	Size() int
}

// Cleaner is implemented by caches that can drop expired entries in bulk.
type Cleaner interface {
	CleanExpired() int
}

// Manager sweeps registered caches periodically.
type Manager struct {
	mu       sync.Mutex
	caches   []Cleaner
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	logger   *log.Logger
}

func NewManager() *Manager {
	return &Manager{
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: log.ForComponent(log.ComponentCache),
	}
}

// Register adds a cache to the sweep.
func (m *Manager) Register(c Cleaner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caches = append(m.caches, c)
}

// StartCleanup begins sweeping every interval until Stop.
func (m *Manager) StartCleanup(interval time.Duration) {
	go m.cleanup(interval)
}

// Sweep runs one cleanup pass and returns the number of entries dropped.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	caches := append([]Cleaner{}, m.caches...)
	m.mu.Unlock()

	total := 0
	for _, c := range caches {
		total += c.CleanExpired()
	}
	return total
}

func (m *Manager) cleanup(interval time.Duration) {
	defer close(m.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Debug("Expired cache entries removed", "count", n)
			}
		case <-m.stopCh:
			return
		}
	}
}

// Stop ends the sweep and waits for it to exit. It must follow StartCleanup.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		<-m.doneCh
	})
}
