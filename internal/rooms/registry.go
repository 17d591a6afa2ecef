package rooms

import (
	"sort"
	"sync"
)

// Registry maps room ids to live rooms.
//
// Operations are atomic per key; rooms with different ids never contend.
type Registry struct {
	rooms sync.Map // map[string]*Room
}

func NewRegistry() *Registry {
	return &Registry{}
}

// GetOrCreate returns the live room for id, creating it when absent. created
// is true only for the caller whose room was stored.
func (g *Registry) GetOrCreate(id string) (room *Room, created bool) {
	for {
		if v, ok := g.rooms.Load(id); ok {
			room = v.(*Room)
			if !room.isClosed() {
				return room, false
			}
			// Evicted concurrently; clear the stale entry and race again.
			g.rooms.CompareAndDelete(id, room)
			continue
		}

		// Only allocate on a miss; losing the store race re-checks the winner.
		room = NewRoom(id)
		if _, loaded := g.rooms.LoadOrStore(id, room); !loaded {
			return room, true
		}
	}
}

// Find looks up a live room without creating one.
func (g *Registry) Find(id string) (*Room, bool) {
	v, ok := g.rooms.Load(id)
	if !ok {
		return nil, false
	}
	room := v.(*Room)
	if room.isClosed() {
		return nil, false
	}
	return room, true
}

// RemoveIfEmpty evicts the room for id when it has no participants. It
// reports whether an eviction happened. A participant that joined before the
// emptiness check keeps the room alive.
func (g *Registry) RemoveIfEmpty(id string) bool {
	v, ok := g.rooms.Load(id)
	if !ok {
		return false
	}
	room := v.(*Room)
	if !room.closeIfEmpty() {
		return false
	}
	g.rooms.CompareAndDelete(id, room)
	return true
}

// Rooms returns the live rooms ordered by id.
func (g *Registry) Rooms() []*Room {
	var out []*Room
	g.rooms.Range(func(_, v any) bool {
		if room := v.(*Room); !room.isClosed() {
			out = append(out, room)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
