package model

import (
	"sort"
	"sync"
	"time"
)

// Store is the process-wide device cache, keyed (account, device id). The
// polling coordinator is the sole writer; every read hands out a clone.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]map[DeviceID]Snapshot
}

func NewStore() *Store {
	return &Store{accounts: make(map[string]map[DeviceID]Snapshot)}
}

// Apply replaces the snapshots of the given devices atomically. Devices not
// in the batch keep their previous snapshot: absence from a poll is not
// removal.
func (s *Store) Apply(account string, snaps []Snapshot, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	devices := s.accounts[account]
	if devices == nil {
		devices = make(map[DeviceID]Snapshot)
		s.accounts[account] = devices
	}
	for _, snap := range snaps {
		snap.Account = account
		snap.LastUpdated = now
		snap.Available = true
		devices[snap.ID] = snap.Clone()
	}
}

// SetAvailability flips the availability flag on every device of an account.
// It returns the ids whose flag actually changed.
func (s *Store) SetAvailability(account string, available bool) []DeviceID {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []DeviceID
	for id, snap := range s.accounts[account] {
		if snap.Available == available {
			continue
		}
		snap.Available = available
		s.accounts[account][id] = snap
		changed = append(changed, id)
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].String() < changed[j].String() })
	return changed
}

// Remove deletes one device. Used only when the remote service reports the
// device gone.
func (s *Store) Remove(account string, id DeviceID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	devices := s.accounts[account]
	if _, ok := devices[id]; !ok {
		return false
	}
	delete(devices, id)
	return true
}

// DropAccount tears down every snapshot of an account. Called before the
// account's coordinator is discarded so a late poll result cannot resurrect
// the account.
func (s *Store) DropAccount(account string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, account)
}

// Get returns a clone of one device snapshot.
func (s *Store) Get(account string, id DeviceID) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.accounts[account][id]
	if !ok {
		return Snapshot{}, false
	}
	return snap.Clone(), true
}

// List returns clones of all snapshots of an account, ordered by id.
func (s *Store) List(account string) []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := s.accounts[account]
	out := make([]Snapshot, 0, len(devices))
	for _, snap := range devices {
		out = append(out, snap.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// Count returns the number of known devices for an account.
func (s *Store) Count(account string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts[account])
}
