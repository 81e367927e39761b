package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotHeld is returned when releasing a lease that expired or was taken over
var ErrNotHeld = errors.New("lease not held")

// Lease is a held lock on one key
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out short-lived exclusive leases keyed by name. Acquire does not
// wait: ok is false when another holder has the key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (lease Lease, ok bool, err error)
}

// LocalLocker is a Locker for a single process
type LocalLocker struct {
	mu     sync.Mutex
	now    func() time.Time
	leases map[string]localEntry
}

type localEntry struct {
	token   string
	expires time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		now:    time.Now,
		leases: make(map[string]localEntry),
	}
}

// Acquire implements Locker
func (l *LocalLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if entry, ok := l.leases[key]; ok && now.Before(entry.expires) {
		return nil, false, nil
	}

	token := uuid.New().String()
	l.leases[key] = localEntry{token: token, expires: now.Add(ttl)}
	return &localLease{locker: l, key: key, token: token}, true, nil
}

type localLease struct {
	locker *LocalLocker
	key    string
	token  string
}

func (l *localLease) Release(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()

	entry, ok := l.locker.leases[l.key]
	if !ok || entry.token != l.token {
		return ErrNotHeld
	}
	delete(l.locker.leases, l.key)
	return nil
}
