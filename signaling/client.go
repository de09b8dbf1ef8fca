package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/coder/websocket"

	meshsignal "github.com/webmeet/meshsignal"
)

// WebsocketScheme is the websocket scheme (ws or wss)
type WebsocketScheme string

const (
	// Websocket (non-secure)
	SchemeWs WebsocketScheme = "ws"
	// Websocket secure
	SchemeWss WebsocketScheme = "wss"
)

// endpointURL builds the signaling endpoint for host, e.g.
// ws://example.com:8080/ws.
func endpointURL(host string, scheme WebsocketScheme) string {
	u := url.URL{
		Host:   host,
		Scheme: string(scheme),
		Path:   "ws",
	}
	return u.String()
}

// Client speaks the signaling protocol from the peer side. It relays
// handshake events; WebRTC negotiation itself stays with the caller, which
// reacts through the On* callbacks.
//
// Set callbacks before calling Listen. A nil callback ignores that event.
type Client struct {
	sock *websocket.Conn
	log  *slog.Logger

	OnAddPeer            func(AddPeerData)
	OnRemovePeer         func(meshsignal.PeerID)
	OnIceCandidate       func(from meshsignal.PeerID, candidate json.RawMessage)
	OnSessionDescription func(from meshsignal.PeerID, sdp json.RawMessage)
	OnPeerName           func(PeerRenamedData)
	OnPeerStatus         func(PeerStatusChangedData)
	OnPeerAction         func(PeerActionRelayData)
	OnFileInfo           func(FileDescriptor)
	OnWhiteboard         func(json.RawMessage)
	OnKicked             func(byName string)
}

// Dial connects to the signaling server at host.
//
// A nil log will use slog.Default().
func Dial(ctx context.Context, host string, scheme WebsocketScheme, log *slog.Logger, opts websocket.DialOptions) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	endpoint := endpointURL(host, scheme)
	sock, _, err := websocket.Dial(ctx, endpoint, &opts)
	if err != nil {
		return nil, fmt.Errorf("signaling: dial %v: %w", endpoint, err)
	}
	return &Client{sock: sock, log: log}, nil
}

// Join enters a room with the given display name and initial status.
func (c *Client) Join(room meshsignal.RoomID, name string, audio, video, hand bool) error {
	return c.send(EventJoin, JoinData{
		Room: room, Name: name, Audio: audio, Video: video, Hand: hand,
	})
}

// SendIceCandidate trickles one ICE candidate to a single peer.
func (c *Client) SendIceCandidate(target meshsignal.PeerID, candidate json.RawMessage) error {
	return c.send(EventRelayICE, RelayICEData{PeerID: target, IceCandidate: candidate})
}

// SendSessionDescription relays an SDP offer or answer to a single peer.
func (c *Client) SendSessionDescription(target meshsignal.PeerID, sdp json.RawMessage) error {
	return c.send(EventRelaySDP, RelaySDPData{PeerID: target, SessionDescription: sdp})
}

// SetStatus toggles a status element (video, audio, hand) of the peer
// addressed by display name, notifying the given set.
func (c *Client) SetStatus(room meshsignal.RoomID, name, element string, status bool, notify []meshsignal.PeerID) error {
	return c.send(EventPeerStatus, PeerStatusData{
		Peers: notify, Room: room, Name: name, Element: element, Status: status,
	})
}

// Rename changes the display name of the peer currently named oldName.
func (c *Client) Rename(room meshsignal.RoomID, oldName, newName string, notify []meshsignal.PeerID) error {
	return c.send(EventPeerName, PeerNameData{
		Peers: notify, Room: room, OldName: oldName, NewName: newName,
	})
}

// SendAction fans an opaque action payload out to the notify set.
func (c *Client) SendAction(room meshsignal.RoomID, name string, action json.RawMessage, notify []meshsignal.PeerID) error {
	return c.send(EventPeerAction, PeerActionData{
		Peers: notify, Room: room, Name: name, Action: action,
	})
}

// SendFileInfo announces an incoming file transfer to the notify set.
func (c *Client) SendFileInfo(room meshsignal.RoomID, name string, file FileDescriptor, notify []meshsignal.PeerID) error {
	return c.send(EventFileInfo, FileInfoData{
		Peers: notify, Room: room, Name: name, File: file,
	})
}

// Kick asks the server to tell target it was kicked by byName.
func (c *Client) Kick(room meshsignal.RoomID, target meshsignal.PeerID, byName string) error {
	return c.send(EventKickOut, KickOutData{Room: room, PeerID: target, Name: byName})
}

func (c *Client) send(ev Event, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("signaling: marshal %s: %w", ev, err)
	}
	return WriteEnvelope(c.sock, Envelope{Event: ev, Data: raw}, writeTimeout)
}

// Listen blocks, reading server events and dispatching them to the
// callbacks until ctx is done or the socket fails.
func (c *Client) Listen(ctx context.Context) error {
	for {
		env, err := ReadEnvelope(ctx, c.sock)
		if err != nil {
			return err
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env Envelope) {
	switch env.Event {
	case EventAddPeer:
		var d AddPeerData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			c.log.Debug("malformed addPeer", "error", err)
			return
		}
		if c.OnAddPeer != nil {
			c.OnAddPeer(d)
		}
	case EventRemovePeer:
		var d RemovePeerData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			c.log.Debug("malformed removePeer", "error", err)
			return
		}
		if c.OnRemovePeer != nil {
			c.OnRemovePeer(d.PeerID)
		}
	case EventIceCandidate:
		var d RelayICEData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			c.log.Debug("malformed iceCandidate", "error", err)
			return
		}
		if c.OnIceCandidate != nil {
			c.OnIceCandidate(d.PeerID, d.IceCandidate)
		}
	case EventSessionDescription:
		var d RelaySDPData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			c.log.Debug("malformed sessionDescription", "error", err)
			return
		}
		if c.OnSessionDescription != nil {
			c.OnSessionDescription(d.PeerID, d.SessionDescription)
		}
	case EventPeerName:
		var d PeerRenamedData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			c.log.Debug("malformed peerName", "error", err)
			return
		}
		if c.OnPeerName != nil {
			c.OnPeerName(d)
		}
	case EventPeerStatus:
		var d PeerStatusChangedData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			c.log.Debug("malformed peerStatus", "error", err)
			return
		}
		if c.OnPeerStatus != nil {
			c.OnPeerStatus(d)
		}
	case EventPeerAction:
		var d PeerActionRelayData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			c.log.Debug("malformed peerAction", "error", err)
			return
		}
		if c.OnPeerAction != nil {
			c.OnPeerAction(d)
		}
	case EventFileInfo:
		var d FileInfoRelayData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			c.log.Debug("malformed fileInfo", "error", err)
			return
		}
		if c.OnFileInfo != nil {
			c.OnFileInfo(d.File)
		}
	case EventWhiteboard:
		if c.OnWhiteboard != nil {
			c.OnWhiteboard(env.Data)
		}
	case EventKickOut:
		var d KickedData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			c.log.Debug("malformed kickOut", "error", err)
			return
		}
		if c.OnKicked != nil {
			c.OnKicked(d.Name)
		}
	default:
		c.log.Debug("unknown server event", "event", env.Event)
	}
}

// Close closes the connection. The server treats this as leaving every
// joined room.
func (c *Client) Close() error {
	return c.sock.Close(websocket.StatusNormalClosure, "disconnecting")
}
