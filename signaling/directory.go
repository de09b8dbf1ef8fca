package signaling

import (
	"github.com/go4org/hashtriemap"

	meshsignal "github.com/webmeet/meshsignal"
)

// Directory maps peer ids to live connections, process-wide. Lookups on
// absent ids are routine: the peer already left.
type Directory struct {
	conns hashtriemap.HashTrieMap[meshsignal.PeerID, Conn]
}

// Register makes id routable. Last write wins per id.
func (d *Directory) Register(id meshsignal.PeerID, c Conn) {
	d.conns.Store(id, c)
}

// Unregister removes id. Removing an absent id is a no-op.
func (d *Directory) Unregister(id meshsignal.PeerID) {
	d.conns.Delete(id)
}

// Lookup returns the live connection for id, if any.
func (d *Directory) Lookup(id meshsignal.PeerID) (Conn, bool) {
	return d.conns.Load(id)
}
