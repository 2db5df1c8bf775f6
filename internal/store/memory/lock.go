package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// pruneThreshold is the lease count above which Acquire drops expired
// leases. Replay guards take one lease per signature and never unlock.
const pruneThreshold = 1024

// LockManager is a process-local domain.LockManager with expiring keys.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]lease
	nowFn func() time.Time
	seq   uint64
}

type lease struct {
	id      uint64
	expires time.Time
}

// NewLockManager returns an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]lease), nowFn: time.Now}
}

// Acquire takes key for ttl. It returns domain.ErrLockHeld while another
// unexpired lease exists. The unlock func only releases its own lease.
func (l *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	if len(l.held) >= pruneThreshold {
		for k, cur := range l.held {
			if !now.Before(cur.expires) {
				delete(l.held, k)
			}
		}
	}
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		return nil, domain.ErrLockHeld
	}
	l.seq++
	id := l.seq
	l.held[key] = lease{id: id, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if cur, ok := l.held[key]; ok && cur.id == id {
				delete(l.held, key)
			}
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
