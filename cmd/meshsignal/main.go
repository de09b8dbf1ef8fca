package main

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/coder/websocket"

	"github.com/webmeet/meshsignal/signaling"
)

type config struct {
	Port       string
	APISecret  string
	TwilioSID  string
	TwilioAuth string
}

func loadConfig() config {
	return config{
		Port:       getEnv("PORT", "8080"),
		APISecret:  getEnv("API_SECRET", ""),
		TwilioSID:  getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuth: getEnv("TWILIO_AUTH_TOKEN", ""),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func initLogging() *slog.Logger {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "dev", "development", "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error", "production", "prod":
		level = slog.LevelError
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)
	return log
}

func main() {
	log := initLogging()
	cfg := loadConfig()

	if cfg.APISecret == "" {
		log.Warn("API_SECRET not set, meeting creation endpoint disabled")
	}

	iceServers := signaling.ICEServersFromEnv()
	if cfg.TwilioSID != "" && cfg.TwilioAuth != "" {
		servers, err := signaling.FetchTwilioICEServers(cfg.TwilioSID, cfg.TwilioAuth)
		if err != nil {
			log.Error("twilio ice servers unavailable, using env config", "error", err)
		} else {
			iceServers = servers
			log.Info("using twilio ice servers", "count", len(servers))
		}
	}

	srv := signaling.NewServer(log, iceServers, cfg.APISecret, websocket.AcceptOptions{
		// Browsers join from the meeting page origin; tighten this when
		// the front end and relay share a host.
		OriginPatterns: []string{"*"},
	})

	addr := ":" + cfg.Port
	log.Info("signaling server listening", "addr", addr)
	if err := http.ListenAndServe(addr, srv.Mux); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
