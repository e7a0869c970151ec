package engine

import "sync"

// jobLocks serializes engine operations per job: no two bulk operations
// against the same job's steps may run concurrently, which closes the
// read-then-write race in TriggerExtraction's overlap check. Store-level
// row locking guards against other processes; this guards within one.
type jobLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newJobLocks() *jobLocks {
	return &jobLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the mutex for jobID, creating it on first use, and
// returns the unlock function.
func (j *jobLocks) acquire(jobID string) func() {
	j.mu.Lock()
	m, ok := j.locks[jobID]
	if !ok {
		m = &sync.Mutex{}
		j.locks[jobID] = m
	}
	j.mu.Unlock()

	m.Lock()
	return m.Unlock
}
