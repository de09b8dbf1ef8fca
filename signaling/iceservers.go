package signaling

import (
	"fmt"
	"os"
	"strings"

	"github.com/pion/webrtc/v4"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

const defaultStunURL = "stun:stun.l.google.com:19302"

// ICEServersFromEnv builds the process-wide ICE server list from the
// environment:
//
//	ICE_SERVERS    comma-separated STUN/TURN URLs
//	TURN_URL       single TURN server, with TURN_USER / TURN_PASSWORD
//
// Falls back to a public STUN server when nothing is configured. The list
// is static for the process lifetime; peers receive it in every addPeer
// event.
func ICEServersFromEnv() []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, 2)

	if raw := os.Getenv("ICE_SERVERS"); raw != "" {
		for _, u := range strings.Split(raw, ",") {
			u = strings.TrimSpace(u)
			if u == "" {
				continue
			}
			servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
		}
	}

	if turnURL := os.Getenv("TURN_URL"); turnURL != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{turnURL},
			Username:   os.Getenv("TURN_USER"),
			Credential: os.Getenv("TURN_PASSWORD"),
		})
	}

	if len(servers) == 0 {
		servers = append(servers, webrtc.ICEServer{URLs: []string{defaultStunURL}})
	}
	return servers
}

// FetchTwilioICEServers requests short-lived STUN/TURN servers from the
// Twilio Network Traversal Service. Called once at startup when Twilio
// credentials are configured; the result replaces the env-derived list.
func FetchTwilioICEServers(accountSid, authToken string) ([]webrtc.ICEServer, error) {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSid,
		Password: authToken,
	})

	ttl := 86400
	token, err := client.Api.CreateToken(&twilioApi.CreateTokenParams{Ttl: &ttl})
	if err != nil {
		return nil, fmt.Errorf("signaling: twilio token: %w", err)
	}
	if token.IceServers == nil {
		return nil, fmt.Errorf("signaling: twilio token carried no ice servers")
	}

	servers := make([]webrtc.ICEServer, 0, len(*token.IceServers))
	for _, s := range *token.IceServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{s.Url},
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return servers, nil
}
