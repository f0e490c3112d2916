package session

import (
	"sort"
	"sync"
)

// presenceDelta is one buffered online/offline transition.
type presenceDelta struct {
	identity string
	online   bool
}

// PresenceTracker maintains the set of online identities. Incremental
// deltas that arrive while an authoritative snapshot is outstanding are
// journaled and replayed on top of the snapshot, so a delta racing the
// snapshot response is never lost.
type PresenceTracker struct {
	mu              sync.Mutex
	online          map[string]struct{}
	snapshotPending bool
	journal         []presenceDelta
}

// NewPresenceTracker returns an empty tracker.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{online: make(map[string]struct{})}
}

// MarkSnapshotRequested records that an authoritative snapshot has been
// requested; deltas arriving before it lands are journaled for replay.
func (p *PresenceTracker) MarkSnapshotRequested() {
	p.mu.Lock()
	p.snapshotPending = true
	p.journal = nil
	p.mu.Unlock()
}

// ApplyOnline records an identity coming online. Returns true when the
// visible set changed.
func (p *PresenceTracker) ApplyOnline(identity string) bool {
	return p.applyDelta(identity, true)
}

// ApplyOffline records an identity going offline. Returns true when the
// visible set changed.
func (p *PresenceTracker) ApplyOffline(identity string) bool {
	return p.applyDelta(identity, false)
}

func (p *PresenceTracker) applyDelta(identity string, online bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.snapshotPending {
		p.journal = append(p.journal, presenceDelta{identity: identity, online: online})
	}

	if online {
		if _, ok := p.online[identity]; ok {
			return false
		}
		p.online[identity] = struct{}{}
		return true
	}

	if _, ok := p.online[identity]; !ok {
		return false
	}
	delete(p.online, identity)
	return true
}

// ApplySnapshot replaces the online set with the authoritative snapshot,
// then replays any deltas journaled while the snapshot was in flight.
func (p *PresenceTracker) ApplySnapshot(users []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.online = make(map[string]struct{}, len(users))
	for _, u := range users {
		p.online[u] = struct{}{}
	}

	for _, d := range p.journal {
		if d.online {
			p.online[d.identity] = struct{}{}
		} else {
			delete(p.online, d.identity)
		}
	}
	p.journal = nil
	p.snapshotPending = false
}

// Online returns a sorted snapshot of the online identities.
func (p *PresenceTracker) Online() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	users := make([]string, 0, len(p.online))
	for u := range p.online {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// IsOnline reports whether one identity is in the online set.
func (p *PresenceTracker) IsOnline(identity string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.online[identity]
	return ok
}

// Reset clears all presence state. Called when the session tears down;
// stale presence is worse than empty presence.
func (p *PresenceTracker) Reset() {
	p.mu.Lock()
	p.online = make(map[string]struct{})
	p.journal = nil
	p.snapshotPending = false
	p.mu.Unlock()
}
