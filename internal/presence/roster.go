package presence

import (
	"sync"

	"chat-sync/internal/models"
)

// Broadcaster receives the full roster snapshot after every change and
// fans it out to every live connection.
type Broadcaster interface {
	BroadcastPresence(users []models.ConnectedUser)
}

// Roster is the process-wide table of connected users. Entries are
// keyed by both user id and connection id: a reconnecting user evicts
// their stale row instead of duplicating it.
type Roster struct {
	mu          sync.RWMutex
	users       []models.ConnectedUser
	broadcaster Broadcaster
}

// NewRoster builds an empty roster. The broadcaster may be nil in tests.
func NewRoster(b Broadcaster) *Roster {
	return &Roster{broadcaster: b}
}

// Upsert removes any existing entry sharing the user id or the
// connection id, then inserts the new entry. Idempotent.
func (r *Roster) Upsert(userID, connectionID, secondaryID string) {
	r.mu.Lock()
	kept := r.users[:0]
	for _, u := range r.users {
		if u.UserID == userID || u.ConnectionID == connectionID {
			continue
		}
		kept = append(kept, u)
	}
	r.users = append(kept, models.ConnectedUser{
		UserID:       userID,
		ConnectionID: connectionID,
		SecondaryID:  secondaryID,
	})
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.broadcast(snapshot)
}

// Remove drops the entry for a connection id. No-op when absent.
func (r *Roster) Remove(connectionID string) {
	r.mu.Lock()
	found := false
	kept := r.users[:0]
	for _, u := range r.users {
		if u.ConnectionID == connectionID {
			found = true
			continue
		}
		kept = append(kept, u)
	}
	r.users = kept
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	if found {
		r.broadcast(snapshot)
	}
}

// FindByUserID returns the entry for a user, if connected.
func (r *Roster) FindByUserID(userID string) (models.ConnectedUser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.UserID == userID {
			return u, true
		}
	}
	return models.ConnectedUser{}, false
}

// FindBySecondaryID returns the entry carrying a secondary identifier.
func (r *Roster) FindBySecondaryID(secondaryID string) (models.ConnectedUser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.SecondaryID != "" && u.SecondaryID == secondaryID {
			return u, true
		}
	}
	return models.ConnectedUser{}, false
}

// FindByConnectionID returns the entry for a connection handle.
func (r *Roster) FindByConnectionID(connectionID string) (models.ConnectedUser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.ConnectionID == connectionID {
			return u, true
		}
	}
	return models.ConnectedUser{}, false
}

// All returns a copy of the current roster.
func (r *Roster) All() []models.ConnectedUser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Roster) snapshotLocked() []models.ConnectedUser {
	out := make([]models.ConnectedUser, len(r.users))
	copy(out, r.users)
	return out
}

func (r *Roster) broadcast(snapshot []models.ConnectedUser) {
	if r.broadcaster != nil {
		r.broadcaster.BroadcastPresence(snapshot)
	}
}
