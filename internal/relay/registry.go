package relay

import "sync"

// registry tracks the peers of every session room.
type registry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*peer // sessionID -> peerID -> peer
}

func newRegistry() *registry {
	return &registry{rooms: make(map[string]map[string]*peer)}
}

// register adds p to its room and returns the room size afterwards.
func (r *registry) register(p *peer) (int, error) {
	if p == nil {
		return 0, ErrNilPeer
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.rooms[p.sessionID]
	if room == nil {
		room = make(map[string]*peer)
		r.rooms[p.sessionID] = room
	}
	room[p.id] = p
	return len(room), nil
}

// unregister removes p and drops the room once empty. It reports whether
// p was registered.
func (r *registry) unregister(p *peer) bool {
	if p == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[p.sessionID]
	if !ok {
		return false
	}
	if _, ok := room[p.id]; !ok {
		return false
	}
	delete(room, p.id)
	if len(room) == 0 {
		delete(r.rooms, p.sessionID)
	}
	return true
}

// peers returns the room's members except the one with id exclude.
func (r *registry) peers(sessionID, exclude string) []*peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[sessionID]
	out := make([]*peer, 0, len(room))
	for id, p := range room {
		if id != exclude {
			out = append(out, p)
		}
	}
	return out
}

func (r *registry) roomSize(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[sessionID])
}

// stats reports totals for the health endpoint.
func (r *registry) stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, room := range r.rooms {
		total += len(room)
	}
	return map[string]int{
		"total_connections": total,
		"active_sessions":   len(r.rooms),
	}
}
