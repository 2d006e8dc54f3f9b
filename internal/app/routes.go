package app

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/telebridge/internal/bridge"
	"github.com/MrWong99/telebridge/internal/health"
	"github.com/MrWong99/telebridge/internal/observe"
	"github.com/MrWong99/telebridge/pkg/transport/twilio"
)

// routes builds the HTTP handler:
//
//	GET|POST /voice          TwiML webhook; ?mode=convai selects the relay
//	POST     /status         Twilio call status callback
//	GET      /calls          calls in progress as JSON
//	GET      <media_path>    Media Streams socket of the cascaded bridge
//	GET      <relay_path>    Media Streams socket of the conversational-AI relay
//	GET      /healthz /health /readyz /metrics
func (a *App) routes() http.Handler {
	cfg := a.config()
	mux := http.NewServeMux()

	mux.HandleFunc("GET /voice", a.handleVoice)
	mux.HandleFunc("POST /voice", a.handleVoice)
	mux.HandleFunc("POST /status", a.handleStatus)
	mux.HandleFunc("GET /calls", a.handleCalls)
	mux.HandleFunc("GET "+cfg.Server.MediaPath, a.handleMediaStream)
	mux.HandleFunc("GET "+cfg.Server.RelayPath, a.handleRelayStream)

	health.New(a.checkers...).Register(mux)
	scrape := a.scrape
	if scrape == nil {
		scrape = promhttp.Handler()
	}
	mux.Handle("GET /metrics", scrape)

	return observe.Middleware(a.metrics)(mux)
}

// handleVoice answers Twilio's incoming-call webhook with TwiML that connects
// the call to one of the Media Streams sockets.
func (a *App) handleVoice(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	cfg := a.config()

	mode := a.mode(r.Form.Get("mode"))
	path := cfg.Server.MediaPath
	if mode == bridge.ModeConvAI {
		path = cfg.Server.RelayPath
	}

	params := map[string]string{}
	for key, field := range map[string]string{"from": "From", "to": "To"} {
		if v := r.Form.Get(field); v != "" {
			params[key] = v
		}
	}

	target := streamURL(cfg.Server.PublicURL, r.Host, path)
	body, err := twilio.ConnectStream(target, "", params)
	if err != nil {
		slog.Error("render twiml", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	slog.Info("incoming call",
		"call_sid", r.Form.Get("CallSid"),
		"from", r.Form.Get("From"),
		"mode", mode,
		"stream_url", target,
	)
	w.Header().Set("Content-Type", twilio.ContentTypeTwiML)
	_, _ = w.Write(body)
}

// mode picks the bridge for a call. An explicit request wins when that
// bridge is configured; otherwise the cascaded bridge is preferred.
func (a *App) mode(requested string) string {
	switch {
	case requested == bridge.ModeConvAI && a.providers.ConvAI():
		return bridge.ModeConvAI
	case requested == bridge.ModeCascade && a.providers.Cascaded():
		return bridge.ModeCascade
	case a.providers.Cascaded():
		return bridge.ModeCascade
	}
	return bridge.ModeConvAI
}

// handleStatus logs Twilio's call status callbacks.
func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	slog.Info("call status",
		"call_sid", r.Form.Get("CallSid"),
		"status", r.Form.Get("CallStatus"),
		"duration", r.Form.Get("CallDuration"),
	)
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleCalls(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(struct {
		Active int        `json:"active"`
		Calls  []CallInfo `json:"calls"`
	}{a.calls.Count(), a.calls.Active()})
}

// streamURL returns the WebSocket URL of path, based on publicURL when set
// and on the webhook's Host header otherwise.
func streamURL(publicURL, host, path string) string {
	if publicURL == "" {
		return "wss://" + host + path
	}
	u, err := url.Parse(publicURL)
	if err != nil || u.Host == "" {
		slog.Warn("server.public_url is not an absolute url, using request host", "public_url", publicURL)
		return "wss://" + host + path
	}
	scheme := "wss"
	if u.Scheme == "http" || u.Scheme == "ws" {
		scheme = "ws"
	}
	return scheme + "://" + u.Host + strings.TrimSuffix(u.Path, "/") + path
}
