package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/pion/webrtc/v4"

	meshsignal "github.com/webmeet/meshsignal"
)

// Event names exchanged over the websocket. Browsers speak the same
// protocol, so events and payloads are JSON.
type Event string

const (
	// Peer -> Server {room_id, peer_name, audio, video, hand}
	//
	// Sent by a peer right after the socket is opened to enter a room.
	// Joining a room the peer already belongs to is a no-op.
	EventJoin Event = "join"
	// Server -> Peer {peer_id, peers, should_create_offer, ice_servers}
	//
	// Sent once per discovered pair when a peer joins a room. Existing
	// members learn about the joiner with should_create_offer=false; the
	// joiner learns about each existing member with should_create_offer=true,
	// so exactly one side of every pair initiates the WebRTC offer.
	EventAddPeer Event = "addPeer"
	// Server -> Peer {peer_id}
	//
	// Sent to every remaining member of a room when a peer leaves or
	// disconnects, and symmetrically back to the departing peer, so both
	// sides tear down their RTCPeerConnection.
	EventRemovePeer Event = "removePeer"
	// Peer -> Server {peer_id, ice_candidate}
	//
	// Trickle one ICE candidate to a single target peer. The server relays
	// it as an iceCandidate event with the sender's id attached.
	EventRelayICE Event = "relayICE"
	// Server -> Peer {peer_id, ice_candidate}
	EventIceCandidate Event = "iceCandidate"
	// Peer -> Server {peer_id, session_description}
	//
	// Relay an SDP offer or answer to a single target peer. The server
	// relays it as a sessionDescription event with the sender's id attached.
	EventRelaySDP Event = "relaySDP"
	// Server -> Peer {peer_id, session_description}
	EventSessionDescription Event = "sessionDescription"
	// Peer -> Server {peers, room_id, peer_name_old, peer_name_new}
	//
	// Rename a peer addressed by its current display name. The notify set
	// is supplied by the caller, not derived from room membership.
	//
	// Server -> Peer {peer_id, peer_name}
	EventPeerName Event = "peerName"
	// Peer -> Server {peers, room_id, peer_name, element, status}
	//
	// Toggle a status field (video, audio, hand) of the peer addressed by
	// display name.
	//
	// Server -> Peer {peer_id, peer_name, element, status}
	EventPeerStatus Event = "peerStatus"
	// Peer -> Server {peers, room_id, peer_name, peer_action}
	//
	// Opaque action fan-out. No registry mutation.
	//
	// Server -> Peer {peer_name, peer_action}
	EventPeerAction Event = "peerAction"
	// Peer -> Server {room_id, peer_id, peer_name}
	//
	// Ask the server to tell one peer it was kicked. The server only
	// relays the notice; the kicked peer disconnects itself, which drives
	// the normal leave path.
	//
	// Server -> Peer {peer_name}
	EventKickOut Event = "kickOut"
	// Peer -> Server {peers, room_id, peer_name, file}
	//
	// Announce an incoming file transfer to the notify set.
	//
	// Server -> Peer {file}
	EventFileInfo Event = "fileInfo"
	// Peer -> Server {peers, ...}
	//
	// Whiteboard drawing op. The peers field is stripped before relay; the
	// rest of the payload is forwarded verbatim.
	//
	// Server -> Peer {...}
	EventWhiteboard Event = "whiteboardOp"
)

// Envelope frames every message in both directions.
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// PeerMeta is the lightweight per-member state a room tracks.
type PeerMeta struct {
	Name  string `json:"peer_name"`
	Audio bool   `json:"peer_audio"`
	Video bool   `json:"peer_video"`
	Hand  bool   `json:"peer_hand"`
}

// JoinData is the payload of EventJoin.
type JoinData struct {
	Room  meshsignal.RoomID `json:"room_id"`
	Name  string            `json:"peer_name"`
	Audio bool              `json:"peer_audio"`
	Video bool              `json:"peer_video"`
	Hand  bool              `json:"peer_hand"`
}

// AddPeerData is the payload of EventAddPeer.
type AddPeerData struct {
	PeerID            meshsignal.PeerID              `json:"peer_id"`
	Peers             map[meshsignal.PeerID]PeerMeta `json:"peers"`
	ShouldCreateOffer bool                           `json:"should_create_offer"`
	IceServers        []webrtc.ICEServer             `json:"ice_servers"`
}

// RemovePeerData is the payload of EventRemovePeer.
type RemovePeerData struct {
	PeerID meshsignal.PeerID `json:"peer_id"`
}

// RelayICEData is the payload of EventRelayICE. On the way in PeerID is the
// target; on the way out (EventIceCandidate) it is the sender.
type RelayICEData struct {
	PeerID       meshsignal.PeerID `json:"peer_id"`
	IceCandidate json.RawMessage   `json:"ice_candidate"`
}

// RelaySDPData is the payload of EventRelaySDP. On the way in PeerID is the
// target; on the way out (EventSessionDescription) it is the sender.
type RelaySDPData struct {
	PeerID             meshsignal.PeerID `json:"peer_id"`
	SessionDescription json.RawMessage   `json:"session_description"`
}

// PeerNameData is the inbound payload of EventPeerName.
type PeerNameData struct {
	Peers   []meshsignal.PeerID `json:"peers"`
	Room    meshsignal.RoomID   `json:"room_id"`
	OldName string              `json:"peer_name_old"`
	NewName string              `json:"peer_name_new"`
}

// PeerRenamedData is the outbound payload of EventPeerName.
type PeerRenamedData struct {
	PeerID meshsignal.PeerID `json:"peer_id"`
	Name   string            `json:"peer_name"`
}

// PeerStatusData is the inbound payload of EventPeerStatus.
type PeerStatusData struct {
	Peers   []meshsignal.PeerID `json:"peers"`
	Room    meshsignal.RoomID   `json:"room_id"`
	Name    string              `json:"peer_name"`
	Element string              `json:"element"`
	Status  bool                `json:"status"`
}

// PeerStatusChangedData is the outbound payload of EventPeerStatus.
type PeerStatusChangedData struct {
	PeerID  meshsignal.PeerID `json:"peer_id"`
	Name    string            `json:"peer_name"`
	Element string            `json:"element"`
	Status  bool              `json:"status"`
}

// PeerActionData is the inbound payload of EventPeerAction.
type PeerActionData struct {
	Peers  []meshsignal.PeerID `json:"peers"`
	Room   meshsignal.RoomID   `json:"room_id"`
	Name   string              `json:"peer_name"`
	Action json.RawMessage     `json:"peer_action"`
}

// PeerActionRelayData is the outbound payload of EventPeerAction.
type PeerActionRelayData struct {
	Name   string          `json:"peer_name"`
	Action json.RawMessage `json:"peer_action"`
}

// KickOutData is the inbound payload of EventKickOut.
type KickOutData struct {
	Room   meshsignal.RoomID `json:"room_id"`
	PeerID meshsignal.PeerID `json:"peer_id"`
	Name   string            `json:"peer_name"`
}

// KickedData is the outbound payload of EventKickOut.
type KickedData struct {
	Name string `json:"peer_name"`
}

// FileDescriptor describes a file about to be sent over a data channel.
// The size is bytes; the server never sees file content.
type FileDescriptor struct {
	Name string `json:"fileName"`
	Size int64  `json:"fileSize"`
	Type string `json:"fileType"`
}

// FileInfoData is the inbound payload of EventFileInfo.
type FileInfoData struct {
	Peers []meshsignal.PeerID `json:"peers"`
	Room  meshsignal.RoomID   `json:"room_id"`
	Name  string              `json:"peer_name"`
	File  FileDescriptor      `json:"file"`
}

// FileInfoRelayData is the outbound payload of EventFileInfo.
type FileInfoRelayData struct {
	File FileDescriptor `json:"file"`
}

// WriteEnvelope marshals env as JSON and writes it to conn.
// Error if the write fails or takes longer than timeout.
func WriteEnvelope(conn *websocket.Conn, env Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, env); err != nil {
		return fmt.Errorf("signaling: write %s: %w", env.Event, err)
	}
	return nil
}

// ReadEnvelope reads one JSON envelope from conn. The read blocks until a
// message arrives or ctx is done; signaling peers are legitimately silent
// for long stretches mid-call.
func ReadEnvelope(ctx context.Context, conn *websocket.Conn) (Envelope, error) {
	var env Envelope
	if err := wsjson.Read(ctx, conn, &env); err != nil {
		return Envelope{}, fmt.Errorf("signaling: read: %w", err)
	}
	return env, nil
}
