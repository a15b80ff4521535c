package engine

import "sync"

// deviceLocks guards the one-run-per-device invariant. Acquisition is
// non-blocking: a dispatch that loses the race skips the run and the
// schedule stays due for the next poll.
type deviceLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newDeviceLocks() *deviceLocks {
	return &deviceLocks{held: make(map[string]bool)}
}

// TryAcquire takes the device's run lock if free.
func (l *deviceLocks) TryAcquire(deviceID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[deviceID] {
		return false
	}

	l.held[deviceID] = true

	return true
}

// Release frees the device's run lock.
func (l *deviceLocks) Release(deviceID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.held, deviceID)
}
