package meshsignal

import (
	"github.com/google/uuid"
)

// RoomID names a meeting room. Rooms exist implicitly: the first peer to
// join creates the room, and it is deleted the moment the last peer leaves.
type RoomID string

// PeerID identifies one live connection. Assigned by the server when the
// websocket is accepted.
type PeerID = uuid.UUID

// Status fields a peer can toggle mid-call.
const (
	StatusVideo = "video"
	StatusAudio = "audio"
	StatusHand  = "hand"
)
