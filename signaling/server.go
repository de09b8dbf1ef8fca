package signaling

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/dustin/go-humanize"
	"github.com/pion/webrtc/v4"
	"golang.org/x/time/rate"

	meshsignal "github.com/webmeet/meshsignal"
	"github.com/webmeet/meshsignal/internal"
)

const pingInterval = 25 * time.Second

// Server is the signaling relay. It accepts websocket peers, tracks room
// membership, and fans handshake events out between peers. It never stores
// a relayed message and never blocks on a slow peer.
type Server struct {
	opts      websocket.AcceptOptions
	registry  *Registry
	directory *Directory
	relay     *Relay
	ice       []webrtc.ICEServer
	apiSecret string
	Mux       *http.ServeMux
	log       *slog.Logger
}

// NewServer creates a signaling server. iceServers is handed to every peer
// in addPeer events and is static for the process lifetime. apiSecret gates
// the meeting-creation endpoint. A nil log uses slog.Default().
func NewServer(log *slog.Logger, iceServers []webrtc.ICEServer, apiSecret string, opts websocket.AcceptOptions) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		opts:      opts,
		registry:  NewRegistry(log),
		directory: &Directory{},
		ice:       iceServers,
		apiSecret: apiSecret,
		Mux:       http.NewServeMux(),
		log:       log,
	}
	s.relay = NewRelay(s.directory, log)
	s.Mux.HandleFunc("GET /ws", s.serveWS)
	s.Mux.HandleFunc("POST /api/v1/meeting", s.createMeeting)
	s.Mux.HandleFunc("GET /health", s.health)
	return s
}

// GET /ws
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	sock, err := websocket.Accept(w, r, &s.opts)
	if err != nil {
		s.log.Debug("failed to accept peer", "error", err)
		return
	}
	defer sock.CloseNow()

	c := newWSConn(sock, s.log)
	s.directory.Register(c.ID(), c)
	s.log.Info("peer connected", "peer", c.ID())

	defer func() {
		s.directory.Unregister(c.ID())
		s.disconnect(c)
		c.close()
		s.log.Info("peer disconnected", "peer", c.ID())
	}()

	// Ping loop. Keeps intermediaries from idling the socket out; registry
	// liveness is directory presence, not pings.
	go func() {
		for {
			time.Sleep(pingInterval)
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := sock.Ping(ctx)
			cancel()
			if err != nil {
				s.log.Debug("peer shutting down ping loop", "peer", c.ID(), "error", err)
				return
			}
		}
	}()

	lim := rate.NewLimiter(20, 40)
	for {
		if !lim.Allow() {
			sock.Close(websocket.StatusPolicyViolation, "rate limit")
			s.log.Debug("peer closed for rate limit", "peer", c.ID())
			return
		}
		env, err := ReadEnvelope(r.Context(), sock)
		if err != nil {
			s.log.Debug("peer read failed, shutting down", "peer", c.ID(), "error", err)
			return
		}
		s.dispatch(c, env)
	}
}

// dispatch routes one inbound envelope to its handler. Handlers run to
// completion one at a time per connection; registry mutations serialize on
// the registry's lock across connections.
func (s *Server) dispatch(c Conn, env Envelope) {
	switch env.Event {
	case EventJoin:
		s.handleJoin(c, env.Data)
	case EventRelayICE:
		s.handleRelayICE(c, env.Data)
	case EventRelaySDP:
		s.handleRelaySDP(c, env.Data)
	case EventPeerName:
		s.handlePeerName(c, env.Data)
	case EventPeerStatus:
		s.handlePeerStatus(c, env.Data)
	case EventPeerAction:
		s.handlePeerAction(c, env.Data)
	case EventKickOut:
		s.handleKickOut(c, env.Data)
	case EventFileInfo:
		s.handleFileInfo(c, env.Data)
	case EventWhiteboard:
		s.handleWhiteboard(c, env.Data)
	default:
		s.log.Debug("unknown event", "peer", c.ID(), "event", env.Event)
	}
}

// handleJoin runs the peer-discovery fan-out. Every existing member learns
// about the joiner as the answerer; the joiner learns about each existing
// member as the offerer, so no pair ever double-offers.
func (s *Server) handleJoin(c Conn, data []byte) {
	var d JoinData
	if err := json.Unmarshal(data, &d); err != nil {
		s.log.Warn("malformed join", "peer", c.ID(), "error", err)
		return
	}

	meta := PeerMeta{Name: d.Name, Audio: d.Audio, Video: d.Video, Hand: d.Hand}
	snapshot, joined := s.registry.Join(d.Room, c.ID(), c, meta)
	if !joined {
		return
	}
	s.log.Info("peer joined room", "room", d.Room, "peer", c.ID(), "name", d.Name)

	for pid := range snapshot {
		if pid == c.ID() {
			continue
		}
		s.relay.ToPeer(pid, EventAddPeer, AddPeerData{
			PeerID:            c.ID(),
			Peers:             snapshot,
			ShouldCreateOffer: false,
			IceServers:        s.ice,
		})
		s.relay.ToPeer(c.ID(), EventAddPeer, AddPeerData{
			PeerID:            pid,
			Peers:             snapshot,
			ShouldCreateOffer: true,
			IceServers:        s.ice,
		})
	}
}

// disconnect tears id out of every room it joined, with symmetric
// removePeer notices so both sides drop their RTCPeerConnection.
func (s *Server) disconnect(c Conn) {
	for roomID, remaining := range s.registry.LeaveAll(c.ID()) {
		s.log.Info("peer left room", "room", roomID, "peer", c.ID())
		for _, pid := range remaining {
			s.relay.ToPeer(pid, EventRemovePeer, RemovePeerData{PeerID: c.ID()})
			c.Enqueue(EventRemovePeer, RemovePeerData{PeerID: pid})
		}
	}
}

func (s *Server) handleRelayICE(c Conn, data []byte) {
	var d RelayICEData
	if err := json.Unmarshal(data, &d); err != nil {
		s.log.Warn("malformed relayICE", "peer", c.ID(), "error", err)
		return
	}
	s.relay.ToPeer(d.PeerID, EventIceCandidate, RelayICEData{
		PeerID:       c.ID(),
		IceCandidate: d.IceCandidate,
	})
}

func (s *Server) handleRelaySDP(c Conn, data []byte) {
	var d RelaySDPData
	if err := json.Unmarshal(data, &d); err != nil {
		s.log.Warn("malformed relaySDP", "peer", c.ID(), "error", err)
		return
	}
	s.relay.ToPeer(d.PeerID, EventSessionDescription, RelaySDPData{
		PeerID:             c.ID(),
		SessionDescription: d.SessionDescription,
	})
}

// handlePeerName updates the authoritative metadata, then notifies the
// caller-supplied set only when the rename matched someone.
func (s *Server) handlePeerName(c Conn, data []byte) {
	var d PeerNameData
	if err := json.Unmarshal(data, &d); err != nil {
		s.log.Warn("malformed peerName", "peer", c.ID(), "error", err)
		return
	}
	id, ok := s.registry.RenameByOldName(d.Room, d.OldName, d.NewName)
	if !ok {
		s.log.Debug("rename matched no peer", "room", d.Room, "name", d.OldName)
		return
	}
	if len(d.Peers) == 0 {
		return
	}
	s.relay.ToPeers(d.Peers, EventPeerName, PeerRenamedData{PeerID: id, Name: d.NewName})
}

// handlePeerStatus fans the status change out regardless of whether the
// registry found a matching name; status sync is best-effort UI state, not
// gated on registry consistency.
func (s *Server) handlePeerStatus(c Conn, data []byte) {
	var d PeerStatusData
	if err := json.Unmarshal(data, &d); err != nil {
		s.log.Warn("malformed peerStatus", "peer", c.ID(), "error", err)
		return
	}
	if _, ok := s.registry.SetStatusByName(d.Room, d.Name, d.Element, d.Status); !ok {
		s.log.Debug("status change matched no peer", "room", d.Room, "name", d.Name, "element", d.Element)
	}
	s.relay.ToPeers(d.Peers, EventPeerStatus, PeerStatusChangedData{
		PeerID:  c.ID(),
		Name:    d.Name,
		Element: d.Element,
		Status:  d.Status,
	})
}

func (s *Server) handlePeerAction(c Conn, data []byte) {
	var d PeerActionData
	if err := json.Unmarshal(data, &d); err != nil {
		s.log.Warn("malformed peerAction", "peer", c.ID(), "error", err)
		return
	}
	s.relay.ToPeers(d.Peers, EventPeerAction, PeerActionRelayData{Name: d.Name, Action: d.Action})
}

// handleKickOut relays the notice only. The kicked peer disconnects itself,
// which drives the normal leave path; no registry mutation happens here.
func (s *Server) handleKickOut(c Conn, data []byte) {
	var d KickOutData
	if err := json.Unmarshal(data, &d); err != nil {
		s.log.Warn("malformed kickOut", "peer", c.ID(), "error", err)
		return
	}
	if s.relay.ToPeer(d.PeerID, EventKickOut, KickedData{Name: d.Name}) {
		s.log.Info("peer kicked", "room", d.Room, "peer", d.PeerID, "by", d.Name)
	}
}

func (s *Server) handleFileInfo(c Conn, data []byte) {
	var d FileInfoData
	if err := json.Unmarshal(data, &d); err != nil {
		s.log.Warn("malformed fileInfo", "peer", c.ID(), "error", err)
		return
	}
	s.log.Info("file transfer announced",
		"room", d.Room, "from", d.Name,
		"file", d.File.Name, "size", humanize.Bytes(uint64(d.File.Size)))
	s.relay.ToPeers(d.Peers, EventFileInfo, FileInfoRelayData{File: d.File})
}

// handleWhiteboard strips the notify set out of the payload and relays the
// rest verbatim; peers never see each other's routing.
func (s *Server) handleWhiteboard(c Conn, data []byte) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		s.log.Warn("malformed whiteboardOp", "peer", c.ID(), "error", err)
		return
	}
	var peers []meshsignal.PeerID
	if raw, ok := fields["peers"]; ok {
		if err := json.Unmarshal(raw, &peers); err != nil {
			s.log.Warn("malformed whiteboardOp peers", "peer", c.ID(), "error", err)
			return
		}
		delete(fields, "peers")
	}
	s.relay.ToPeers(peers, EventWhiteboard, fields)
}

// POST /api/v1/meeting
func (s *Server) createMeeting(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	if s.apiSecret == "" || subtle.ConstantTimeCompare([]byte(auth), []byte(s.apiSecret)) != 1 {
		s.log.Debug("meeting creation rejected", "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id := internal.GenerateUniqueMeetingID(func(id string) bool {
		return !s.registry.RoomExists(meshsignal.RoomID(id))
	})
	s.log.Info("meeting created", "meeting", id)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{
		"meeting": "/join/" + id,
	})
}

// GET /health
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
