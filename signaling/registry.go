package signaling

import (
	"log/slog"
	"sync"

	meshsignal "github.com/webmeet/meshsignal"
)

// room holds the membership and per-member metadata of one live room.
// order records join order so name-addressed scans have a deterministic
// "first match"; Go map iteration would not.
type room struct {
	members map[meshsignal.PeerID]Conn
	meta    map[meshsignal.PeerID]PeerMeta
	order   []meshsignal.PeerID
}

// Registry owns room membership and peer metadata. One mutex guards every
// mutation and the read that decides it; two peers joining or leaving the
// same room at the same instant never interleave.
type Registry struct {
	mu     sync.Mutex
	rooms  map[meshsignal.RoomID]*room
	joined map[meshsignal.PeerID]map[meshsignal.RoomID]struct{}
	log    *slog.Logger
}

// NewRegistry creates an empty registry. A nil log uses slog.Default().
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		rooms:  make(map[meshsignal.RoomID]*room),
		joined: make(map[meshsignal.PeerID]map[meshsignal.RoomID]struct{}),
		log:    log,
	}
}

// Join adds id to roomID, creating the room if absent, and returns a
// snapshot of the room's full peer metadata including the joiner. A
// duplicate join mutates nothing and returns joined=false.
func (r *Registry) Join(roomID meshsignal.RoomID, id meshsignal.PeerID, c Conn, meta PeerMeta) (snapshot map[meshsignal.PeerID]PeerMeta, joined bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.joined[id][roomID]; ok {
		r.log.Warn("duplicate join ignored", "room", roomID, "peer", id)
		return nil, false
	}

	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{
			members: make(map[meshsignal.PeerID]Conn),
			meta:    make(map[meshsignal.PeerID]PeerMeta),
		}
		r.rooms[roomID] = rm
		r.log.Info("room created", "room", roomID)
	}

	rm.members[id] = c
	rm.meta[id] = meta
	rm.order = append(rm.order, id)
	if r.joined[id] == nil {
		r.joined[id] = make(map[meshsignal.RoomID]struct{})
	}
	r.joined[id][roomID] = struct{}{}

	snapshot = make(map[meshsignal.PeerID]PeerMeta, len(rm.meta))
	for pid, m := range rm.meta {
		snapshot[pid] = m
	}
	return snapshot, true
}

// Leave removes id from roomID, returning the ids of the members that
// remain, captured before removal. Leaving a room the peer is not in is a
// no-op. A room left empty is deleted immediately.
func (r *Registry) Leave(roomID meshsignal.RoomID, id meshsignal.PeerID) (remaining []meshsignal.PeerID, left bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(roomID, id)
}

func (r *Registry) leaveLocked(roomID meshsignal.RoomID, id meshsignal.PeerID) ([]meshsignal.PeerID, bool) {
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, false
	}
	if _, ok := rm.members[id]; !ok {
		return nil, false
	}

	remaining := make([]meshsignal.PeerID, 0, len(rm.members)-1)
	for _, pid := range rm.order {
		if pid != id {
			remaining = append(remaining, pid)
		}
	}

	delete(rm.members, id)
	delete(rm.meta, id)
	for i, pid := range rm.order {
		if pid == id {
			rm.order = append(rm.order[:i], rm.order[i+1:]...)
			break
		}
	}
	delete(r.joined[id], roomID)
	if len(r.joined[id]) == 0 {
		delete(r.joined, id)
	}

	if len(rm.members) != len(rm.meta) || len(rm.members) != len(rm.order) {
		r.log.Error("registry invariant violated: membership and metadata diverged",
			"room", roomID, "members", len(rm.members), "meta", len(rm.meta))
	}

	if len(rm.members) == 0 {
		delete(r.rooms, roomID)
		r.log.Info("room deleted", "room", roomID)
	}
	return remaining, true
}

// LeaveAll removes id from every room it joined, returning the remaining
// member ids per room. Used on disconnect.
func (r *Registry) LeaveAll(id meshsignal.PeerID) map[meshsignal.RoomID][]meshsignal.PeerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomIDs := make([]meshsignal.RoomID, 0, len(r.joined[id]))
	for roomID := range r.joined[id] {
		roomIDs = append(roomIDs, roomID)
	}

	out := make(map[meshsignal.RoomID][]meshsignal.PeerID, len(roomIDs))
	for _, roomID := range roomIDs {
		if remaining, ok := r.leaveLocked(roomID, id); ok {
			out[roomID] = remaining
		}
	}
	return out
}

// SetStatusByName mutates one status field of the first member of roomID
// whose display name is name, in join order. Clients address peers by
// display name here; when names collide, first match wins.
func (r *Registry) SetStatusByName(roomID meshsignal.RoomID, name, element string, status bool) (meshsignal.PeerID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return meshsignal.PeerID{}, false
	}
	for _, pid := range rm.order {
		m := rm.meta[pid]
		if m.Name != name {
			continue
		}
		switch element {
		case meshsignal.StatusVideo:
			m.Video = status
		case meshsignal.StatusAudio:
			m.Audio = status
		case meshsignal.StatusHand:
			m.Hand = status
		default:
			r.log.Warn("unknown status element", "room", roomID, "element", element)
			return meshsignal.PeerID{}, false
		}
		rm.meta[pid] = m
		return pid, true
	}
	return meshsignal.PeerID{}, false
}

// RenameByOldName renames the first member of roomID whose display name is
// oldName, in join order. Same first-match rule as SetStatusByName.
func (r *Registry) RenameByOldName(roomID meshsignal.RoomID, oldName, newName string) (meshsignal.PeerID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return meshsignal.PeerID{}, false
	}
	for _, pid := range rm.order {
		m := rm.meta[pid]
		if m.Name != oldName {
			continue
		}
		m.Name = newName
		rm.meta[pid] = m
		return pid, true
	}
	return meshsignal.PeerID{}, false
}

// RoomPeers returns a copy of roomID's peer metadata, or ok=false if the
// room does not exist.
func (r *Registry) RoomPeers(roomID meshsignal.RoomID) (map[meshsignal.PeerID]PeerMeta, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, false
	}
	out := make(map[meshsignal.PeerID]PeerMeta, len(rm.meta))
	for pid, m := range rm.meta {
		out[pid] = m
	}
	return out, true
}

// RoomExists reports whether roomID currently has members.
func (r *Registry) RoomExists(roomID meshsignal.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[roomID]
	return ok
}

// RoomsOf returns the ids of the rooms id currently belongs to.
func (r *Registry) RoomsOf(id meshsignal.PeerID) []meshsignal.RoomID {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]meshsignal.RoomID, 0, len(r.joined[id]))
	for roomID := range r.joined[id] {
		out = append(out, roomID)
	}
	return out
}
