package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

type key struct {
	fileID uuid.UUID
	userID uuid.UUID
}

type attempt struct {
	fails        int
	blockedUntil time.Time
}

// LRU is an in-process limiter backed by an expirable LRU cache. Entries
// age out after the window, so the counter memory stays bounded without a
// cleanup goroutine.
type LRU struct {
	mu       sync.Mutex
	cache    *expirable.LRU[key, *attempt]
	maxFails int
	blockFor time.Duration
}

// NewLRU constructs a limiter holding at most size counters, each expiring
// after window; maxFails failures inside the window block for blockFor.
func NewLRU(size int, window time.Duration, maxFails int, blockFor time.Duration) *LRU {
	return &LRU{
		cache:    expirable.NewLRU[key, *attempt](size, nil, window),
		maxFails: maxFails,
		blockFor: blockFor,
	}
}

// Allow reports whether a decrypt attempt is currently allowed.
func (l *LRU) Allow(_ context.Context, fileID, userID uuid.UUID) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.cache.Get(key{fileID, userID})
	if !ok {
		return true, 0, nil
	}
	if until := time.Until(a.blockedUntil); until > 0 {
		return false, until, nil
	}
	return true, 0, nil
}

// Success resets counters for (file, user).
func (l *LRU) Success(_ context.Context, fileID, userID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache.Remove(key{fileID, userID})
	return nil
}

// Failure records a failed attempt; on reaching the threshold it sets a
// block and reports the retry-after duration.
func (l *LRU) Failure(_ context.Context, fileID, userID uuid.UUID) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key{fileID, userID}
	a, ok := l.cache.Get(k)
	if !ok {
		a = &attempt{}
	}
	a.fails++
	if a.fails >= l.maxFails {
		a.blockedUntil = time.Now().Add(l.blockFor)
		l.cache.Add(k, a)
		return true, l.blockFor, nil
	}
	l.cache.Add(k, a)
	return false, 0, nil
}
