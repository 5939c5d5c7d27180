package servicing

import "sync"

// loanLocks hands out one mutex per loan id. Entries are dropped once no
// caller holds or waits on them.
type loanLocks struct {
	mu    sync.Mutex
	locks map[string]*loanLock
}

type loanLock struct {
	mu   sync.Mutex
	refs int
}

func newLoanLocks() *loanLocks {
	return &loanLocks{locks: make(map[string]*loanLock)}
}

// lock blocks until id is free and returns the matching unlock.
func (l *loanLocks) lock(id string) func() {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &loanLock{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

func (l *loanLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
