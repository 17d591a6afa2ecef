package rooms

import (
	"errors"
	"sync"

	"github.com/samber/lo"
)

// ErrRoomClosed is returned when adding to a room that was already evicted
// from its registry. Callers should fetch a fresh room and retry.
var ErrRoomClosed = errors.New("room closed")

// Room manages the ordered membership of a signaling room.
//
// The participant slice is copy-on-write: every mutation installs a new slice,
// so a snapshot returned by List stays valid while other connections join or
// leave.
type Room struct {
	ID string

	mu           sync.RWMutex
	participants []Participant
	closed       bool

	// seq orders protocol transitions within the room.
	seq sync.Mutex
}

// NewRoom creates an empty room
func NewRoom(id string) *Room {
	return &Room{ID: id}
}

// AddParticipant appends p unless a participant with the same connection is
// already present. It reports whether the membership changed.
func (r *Room) AddParticipant(p Participant) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false, ErrRoomClosed
	}
	connID := p.Conn.ID()
	if lo.ContainsBy(r.participants, func(existing Participant) bool { return existing.SameConn(connID) }) {
		return false, nil
	}

	next := make([]Participant, len(r.participants), len(r.participants)+1)
	copy(next, r.participants)
	r.participants = append(next, p)
	return true, nil
}

// RemoveParticipant removes the participant attached to connID, if any.
func (r *Room) RemoveParticipant(connID string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed, found := lo.Find(r.participants, func(p Participant) bool { return p.SameConn(connID) })
	if !found {
		return Participant{}, false
	}
	r.participants = lo.Reject(r.participants, func(p Participant, _ int) bool { return p.SameConn(connID) })
	return removed, true
}

// FirstParticipant returns the earliest-joined member still present. That
// member is the designated offer initiator.
func (r *Room) FirstParticipant() (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.participants) == 0 {
		return Participant{}, false
	}
	return r.participants[0], true
}

func (r *Room) Contains(connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.ContainsBy(r.participants, func(p Participant) bool { return p.SameConn(connID) })
}

func (r *Room) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// List returns the membership in join order. The returned slice must not be
// modified.
func (r *Room) List() []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.participants
}

// ClientIDs returns the client ids of the members in join order.
func (r *Room) ClientIDs() []string {
	return lo.Map(r.List(), func(p Participant, _ int) string { return p.ClientID })
}

// Sequence runs fn while holding the room's transition lock. Joins, forwards
// and departures for the same room never interleave.
func (r *Room) Sequence(fn func()) {
	r.seq.Lock()
	defer r.seq.Unlock()
	fn()
}

// closeIfEmpty marks the room closed when it has no members so that no
// participant can be added after the registry has dropped it.
func (r *Room) closeIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || len(r.participants) > 0 {
		return false
	}
	r.closed = true
	return true
}

func (r *Room) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}
