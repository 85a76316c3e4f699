// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package tenant

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

type tenantLock struct {
	*semaphore.Weighted
	refs int
}

// Locks provides one lock per tenant for the read-modify-write cycles on its
// application record. Waiting for a lock honors the context. Locks which
// nobody holds or awaits are released.
type Locks struct {
	mutex sync.Mutex
	locks map[int64]*tenantLock
}

// NewLocks returns an empty set of tenant locks
func NewLocks() *Locks {
	return &Locks{locks: map[int64]*tenantLock{}}
}

// Lock acquires the lock of tenantID and returns the matching unlock function.
// It returns ctx.Err() if ctx is done before the lock is acquired.
func (l *Locks) Lock(ctx context.Context, tenantID int64) (unlock func(), err error) {
	l.mutex.Lock()
	lock, ok := l.locks[tenantID]
	if !ok {
		lock = &tenantLock{Weighted: semaphore.NewWeighted(1)}
		l.locks[tenantID] = lock
	}
	lock.refs++
	l.mutex.Unlock()

	if err = lock.Acquire(ctx, 1); err != nil {
		l.release(tenantID, lock)
		return nil, err
	}
	return func() {
		lock.Release(1)
		l.release(tenantID, lock)
	}, nil
}

func (l *Locks) release(tenantID int64, lock *tenantLock) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, tenantID)
	}
}

// Len returns the number of tenants whose lock is held or awaited
func (l *Locks) Len() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return len(l.locks)
}
