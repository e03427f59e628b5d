package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/watchledger/internal/metrics"
)

// streamLock is a one-slot semaphore shared by the writers of one stream.
type streamLock struct {
	slot    chan struct{}
	waiters int
}

// streamLocks serializes writers per stream key inside this process. Entries
// are dropped once the last holder or waiter leaves.
type streamLocks struct {
	mu    sync.Mutex
	locks map[string]*streamLock // key: StreamKey.String()
}

func newStreamLocks() *streamLocks {
	return &streamLocks{locks: make(map[string]*streamLock)}
}

// acquire blocks until the stream is free or ctx is done. The returned
// release must be called exactly once.
func (l *streamLocks) acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	sl, ok := l.locks[key]
	if !ok {
		sl = &streamLock{slot: make(chan struct{}, 1)}
		l.locks[key] = sl
	}
	sl.waiters++
	l.mu.Unlock()

	start := time.Now()
	select {
	case sl.slot <- struct{}{}:
		metrics.StreamLockWait.Observe(time.Since(start).Seconds())
		return func() {
			<-sl.slot
			l.leave(key, sl)
		}, nil
	case <-ctx.Done():
		l.leave(key, sl)
		return nil, ctx.Err()
	}
}

func (l *streamLocks) leave(key string, sl *streamLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sl.waiters--
	if sl.waiters == 0 {
		delete(l.locks, key)
	}
}

// size is the number of live entries.
func (l *streamLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
