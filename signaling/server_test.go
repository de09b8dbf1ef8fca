package signaling

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/coder/websocket"
	"github.com/pion/webrtc/v4"

	meshsignal "github.com/webmeet/meshsignal"
)

const testSecret = "it-is-a-secret-to-everybody"

func newTestServer() *Server {
	return NewServer(testLogger(),
		[]webrtc.ICEServer{{URLs: []string{"stun:stun.example.org:3478"}}},
		testSecret, websocket.AcceptOptions{})
}

// connect registers a fake connection as if its websocket had been accepted.
func connect(s *Server) *fakeConn {
	f := newFakeConn()
	s.directory.Register(f.ID(), f)
	return f
}

func mustRaw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func join(t *testing.T, s *Server, c *fakeConn, room meshsignal.RoomID, name string) {
	t.Helper()
	s.dispatch(c, Envelope{Event: EventJoin, Data: mustRaw(t, JoinData{
		Room: room, Name: name, Audio: true, Video: true,
	})})
}

func TestJoinFanOut(t *testing.T) {
	s := newTestServer()
	b, c := connect(s), connect(s)
	join(t, s, b, "meet", "Bob")
	join(t, s, c, "meet", "Carol")
	b.events, c.events = nil, nil

	a := connect(s)
	join(t, s, a, "meet", "Alice")

	for _, existing := range []*fakeConn{b, c} {
		adds := existing.eventsOf(EventAddPeer)
		if len(adds) != 1 {
			t.Fatalf("existing member got %d addPeer events, want 1", len(adds))
		}
		d := adds[0].data.(AddPeerData)
		if d.PeerID != a.ID() {
			t.Fatalf("addPeer names %s, want joiner %s", d.PeerID, a.ID())
		}
		if d.ShouldCreateOffer {
			t.Fatal("existing member told to create the offer")
		}
		if len(d.Peers) != 3 {
			t.Fatalf("snapshot has %d peers, want 3", len(d.Peers))
		}
		if len(d.IceServers) != 1 {
			t.Fatal("addPeer missing ice servers")
		}
	}

	adds := a.eventsOf(EventAddPeer)
	if len(adds) != 2 {
		t.Fatalf("joiner got %d addPeer events, want 2", len(adds))
	}
	seen := map[meshsignal.PeerID]bool{}
	for _, e := range adds {
		d := e.data.(AddPeerData)
		if !d.ShouldCreateOffer {
			t.Fatal("joiner not told to create the offer")
		}
		seen[d.PeerID] = true
	}
	if !seen[b.ID()] || !seen[c.ID()] {
		t.Fatalf("joiner discovered %v, want both %s and %s", seen, b.ID(), c.ID())
	}
}

func TestDisconnectFansOutAcrossRooms(t *testing.T) {
	s := newTestServer()
	a, b, c := connect(s), connect(s), connect(s)
	join(t, s, a, "r1", "Alice")
	join(t, s, b, "r1", "Bob")
	join(t, s, a, "r2", "Alice")
	join(t, s, c, "r2", "Carol")
	join(t, s, a, "solo", "Alice")
	b.events, c.events, a.events = nil, nil, nil

	// Mirror serveWS teardown order: directory first, then leave-all.
	s.directory.Unregister(a.ID())
	s.disconnect(a)

	for _, peer := range []*fakeConn{b, c} {
		removes := peer.eventsOf(EventRemovePeer)
		if len(removes) != 1 {
			t.Fatalf("remaining member got %d removePeer events, want 1", len(removes))
		}
		if got := removes[0].data.(RemovePeerData).PeerID; got != a.ID() {
			t.Fatalf("removePeer names %s, want %s", got, a.ID())
		}
	}

	// Symmetric teardown notices back to the departing peer.
	backs := a.eventsOf(EventRemovePeer)
	if len(backs) != 2 {
		t.Fatalf("departing peer got %d removePeer events, want 2", len(backs))
	}

	if _, ok := s.directory.Lookup(a.ID()); ok {
		t.Fatal("departed peer still in directory")
	}
	for _, room := range []meshsignal.RoomID{"r1", "r2"} {
		peers, ok := s.registry.RoomPeers(room)
		if !ok {
			t.Fatalf("room %s vanished with members left", room)
		}
		if _, still := peers[a.ID()]; still {
			t.Fatalf("departed peer still member of %s", room)
		}
	}
	if s.registry.RoomExists("solo") {
		t.Fatal("emptied room still registered")
	}
}

func TestRelayICEReachesOnlyTargetWithSenderID(t *testing.T) {
	s := newTestServer()
	a, b, c := connect(s), connect(s), connect(s)

	candidate := json.RawMessage(`{"candidate":"candidate:1 1 udp 2122260223 192.0.2.1 54400 typ host"}`)
	s.dispatch(a, Envelope{Event: EventRelayICE, Data: mustRaw(t, RelayICEData{
		PeerID: b.ID(), IceCandidate: candidate,
	})})

	got := b.eventsOf(EventIceCandidate)
	if len(got) != 1 {
		t.Fatalf("target got %d iceCandidate events, want 1", len(got))
	}
	d := got[0].data.(RelayICEData)
	if d.PeerID != a.ID() {
		t.Fatalf("iceCandidate sender = %s, want %s", d.PeerID, a.ID())
	}
	if string(d.IceCandidate) != string(candidate) {
		t.Fatal("candidate blob not relayed verbatim")
	}
	if len(c.events) != 0 {
		t.Fatal("bystander received a point-to-point relay")
	}
}

func TestRelayToStaleTargetIsSilentSkip(t *testing.T) {
	s := newTestServer()
	live, gone := connect(s), newFakeConn()

	s.relay.ToPeers([]meshsignal.PeerID{live.ID(), gone.ID()}, EventPeerAction,
		PeerActionRelayData{Name: "Alice"})

	if len(live.eventsOf(EventPeerAction)) != 1 {
		t.Fatal("live target not delivered")
	}
	if len(gone.events) != 0 {
		t.Fatal("unregistered target delivered")
	}
}

func TestPeerStatusRelaysRegardlessOfMatch(t *testing.T) {
	s := newTestServer()
	a, b := connect(s), connect(s)
	join(t, s, a, "meet", "Alice")
	join(t, s, b, "meet", "Bob")
	b.events = nil

	s.dispatch(a, Envelope{Event: EventPeerStatus, Data: mustRaw(t, PeerStatusData{
		Peers: []meshsignal.PeerID{b.ID()}, Room: "meet",
		Name: "NoSuchPeer", Element: meshsignal.StatusHand, Status: true,
	})})

	got := b.eventsOf(EventPeerStatus)
	if len(got) != 1 {
		t.Fatalf("notify set got %d peerStatus events, want 1", len(got))
	}
	d := got[0].data.(PeerStatusChangedData)
	if d.PeerID != a.ID() || d.Name != "NoSuchPeer" || d.Element != meshsignal.StatusHand || !d.Status {
		t.Fatalf("relayed status = %+v", d)
	}
}

func TestPeerNameRelayGatedOnMatch(t *testing.T) {
	s := newTestServer()
	a, b := connect(s), connect(s)
	join(t, s, a, "meet", "Alice")
	join(t, s, b, "meet", "Bob")
	b.events = nil

	// No match: metadata untouched, nothing relayed.
	s.dispatch(a, Envelope{Event: EventPeerName, Data: mustRaw(t, PeerNameData{
		Peers: []meshsignal.PeerID{b.ID()}, Room: "meet",
		OldName: "Ghost", NewName: "Spirit",
	})})
	if len(b.eventsOf(EventPeerName)) != 0 {
		t.Fatal("rename with no match relayed")
	}

	// Match: metadata updated and notify set told.
	s.dispatch(a, Envelope{Event: EventPeerName, Data: mustRaw(t, PeerNameData{
		Peers: []meshsignal.PeerID{b.ID()}, Room: "meet",
		OldName: "Alice", NewName: "Alicia",
	})})
	got := b.eventsOf(EventPeerName)
	if len(got) != 1 {
		t.Fatalf("notify set got %d peerName events, want 1", len(got))
	}
	d := got[0].data.(PeerRenamedData)
	if d.PeerID != a.ID() || d.Name != "Alicia" {
		t.Fatalf("relayed rename = %+v", d)
	}
	peers, _ := s.registry.RoomPeers("meet")
	if peers[a.ID()].Name != "Alicia" {
		t.Fatal("registry metadata not renamed")
	}
}

func TestKickOutRelaysWithoutRegistryMutation(t *testing.T) {
	s := newTestServer()
	a, b := connect(s), connect(s)
	join(t, s, a, "meet", "Alice")
	join(t, s, b, "meet", "Bob")
	b.events = nil

	s.dispatch(a, Envelope{Event: EventKickOut, Data: mustRaw(t, KickOutData{
		Room: "meet", PeerID: b.ID(), Name: "Alice",
	})})

	got := b.eventsOf(EventKickOut)
	if len(got) != 1 {
		t.Fatalf("target got %d kickOut events, want 1", len(got))
	}
	if got[0].data.(KickedData).Name != "Alice" {
		t.Fatal("kick notice missing instigator name")
	}
	peers, _ := s.registry.RoomPeers("meet")
	if _, still := peers[b.ID()]; !still {
		t.Fatal("kick mutated room membership")
	}
}

func TestFileInfoRelaysDescriptorOnly(t *testing.T) {
	s := newTestServer()
	a, b := connect(s), connect(s)

	s.dispatch(a, Envelope{Event: EventFileInfo, Data: mustRaw(t, FileInfoData{
		Peers: []meshsignal.PeerID{b.ID()}, Room: "meet", Name: "Alice",
		File: FileDescriptor{Name: "slides.pdf", Size: 1 << 20, Type: "application/pdf"},
	})})

	got := b.eventsOf(EventFileInfo)
	if len(got) != 1 {
		t.Fatalf("notify set got %d fileInfo events, want 1", len(got))
	}
	d := got[0].data.(FileInfoRelayData)
	if d.File.Name != "slides.pdf" || d.File.Size != 1<<20 {
		t.Fatalf("relayed descriptor = %+v", d.File)
	}
}

func TestWhiteboardStripsNotifySet(t *testing.T) {
	s := newTestServer()
	a, b := connect(s), connect(s)

	payload := map[string]any{
		"peers":  []meshsignal.PeerID{b.ID()},
		"action": "draw",
		"stroke": map[string]any{"x": 1, "y": 2},
	}
	s.dispatch(a, Envelope{Event: EventWhiteboard, Data: mustRaw(t, payload)})

	got := b.eventsOf(EventWhiteboard)
	if len(got) != 1 {
		t.Fatalf("notify set got %d whiteboard events, want 1", len(got))
	}
	fields := got[0].data.(map[string]json.RawMessage)
	if _, leaked := fields["peers"]; leaked {
		t.Fatal("notify set leaked to peers")
	}
	if string(fields["action"]) != `"draw"` {
		t.Fatalf("drawing op not relayed verbatim: %s", fields["action"])
	}
}

func TestCreateMeetingRequiresSecret(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/meeting", nil)
	rec := httptest.NewRecorder()
	s.Mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing secret: status %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/meeting", nil)
	req.Header.Set("Authorization", testSecret)
	rec = httptest.NewRecorder()
	s.Mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("valid secret: status %d, want 201", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response not json: %v", err)
	}
	if body["meeting"] == "" {
		t.Fatal("response missing meeting url")
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status %d", rec.Code)
	}
}
