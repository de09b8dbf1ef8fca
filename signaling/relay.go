package signaling

import (
	"log/slog"

	meshsignal "github.com/webmeet/meshsignal"
)

// Relay forwards events to sets of peers. It stores nothing: every target
// id is resolved against the directory at send time, and ids that are no
// longer registered are skipped silently, since the peer already left.
type Relay struct {
	dir *Directory
	log *slog.Logger
}

// NewRelay creates a relay over dir. A nil log uses slog.Default().
func NewRelay(dir *Directory, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{dir: dir, log: log}
}

// ToPeers delivers ev/data to every live target. No retries, no ordering
// guarantee across distinct targets; per-target order matches call order.
func (r *Relay) ToPeers(targets []meshsignal.PeerID, ev Event, data any) {
	for _, id := range targets {
		r.ToPeer(id, ev, data)
	}
}

// ToPeer delivers ev/data to a single target if it is registered.
// Returns false if the target was already gone.
func (r *Relay) ToPeer(target meshsignal.PeerID, ev Event, data any) bool {
	c, ok := r.dir.Lookup(target)
	if !ok {
		r.log.Debug("relay target not registered, skipping", "peer", target, "event", ev)
		return false
	}
	c.Enqueue(ev, data)
	return true
}
