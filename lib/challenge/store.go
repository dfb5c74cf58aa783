package challenge

import (
	"sync"
	"time"
)

// Store owns every outstanding challenge. One coarse lock guards the map for
// the full duration of each operation; the workload is low-volume and the
// critical sections are short. There is no background sweeper: both mutating
// operations purge expired entries before doing their own work, so the map
// is bounded by the TTL and call volume.
type Store struct {
	lock sync.Mutex
	data map[string]Challenge
	now  func() time.Time
}

func NewStore() *Store {
	return &Store{
		data: map[string]Challenge{},
		now:  time.Now,
	}
}

// Add records a pending challenge keyed by its ID.
func (s *Store) Add(c Challenge) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.purgeLocked()
	s.data[c.ID] = c
}

// Take removes and returns the challenge for id. Removal happens before the
// caller validates anything, so of two concurrent redemption attempts exactly
// one observes the challenge; the other finds nothing and fails closed.
func (s *Store) Take(id string) (Challenge, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.purgeLocked()

	c, ok := s.data[id]
	if !ok {
		return Challenge{}, false
	}

	delete(s.data, id)
	return c, true
}

// Len reports the number of stored challenges, including any not yet purged.
func (s *Store) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return len(s.data)
}

func (s *Store) purgeLocked() {
	now := s.now()
	for id, c := range s.data {
		if c.Expired(now) {
			delete(s.data, id)
		}
	}
}
