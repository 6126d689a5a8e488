package flow

import (
	"context"
	"sync"
)

type pairKey struct {
	botID  string
	userID string
}

type pairLock struct {
	ch   chan struct{}
	refs int
}

// PairLocker serializes work per (bot, user) pair. Entries are reference
// counted and dropped once no goroutine holds or waits for them.
type PairLocker struct {
	mu    sync.Mutex
	locks map[pairKey]*pairLock
}

// NewPairLocker creates an empty PairLocker.
func NewPairLocker() *PairLocker {
	return &PairLocker{locks: make(map[pairKey]*pairLock)}
}

// Lock blocks until the pair is free or ctx is done. The returned function
// releases the lock and must be called exactly once.
func (l *PairLocker) Lock(ctx context.Context, botID, userID string) (func(), error) {
	key := pairKey{botID: botID, userID: userID}

	l.mu.Lock()
	pl, ok := l.locks[key]
	if !ok {
		pl = &pairLock{ch: make(chan struct{}, 1)}
		l.locks[key] = pl
	}
	pl.refs++
	l.mu.Unlock()

	select {
	case pl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, pl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-pl.ch
			l.release(key, pl)
		})
	}, nil
}

func (l *PairLocker) release(key pairKey, pl *pairLock) {
	l.mu.Lock()
	pl.refs--
	if pl.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

// Len returns the number of pairs currently locked or waited on.
func (l *PairLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
