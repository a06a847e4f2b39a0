package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Trueflutter/moltworker/pkg/gateway"
)

// Ensurer guarantees a ready gateway process before a session is wired up.
type Ensurer interface {
	EnsureRunning(ctx context.Context) (*gateway.Handle, error)
}

// Proxy accepts client WebSocket connections and relays them to the
// gateway process inside the sandbox. One session per accepted connection;
// sessions share nothing but the lifecycle manager.
type Proxy struct {
	gateway  Ensurer
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer
	logger   *slog.Logger
}

// NewProxy creates a relay proxy over the given lifecycle manager.
func NewProxy(gw Ensurer, logger *slog.Logger) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{
		gateway: gw,
		upgrader: websocket.Upgrader{
			// The sandbox fronting is the trust boundary, not the Origin
			// header; tokens on the query string are validated by the
			// gateway itself.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		dialer: websocket.DefaultDialer,
		logger: logger,
	}
}

// ServeHTTP implements the connection negotiation: upgrade check, gateway
// readiness, backend dial with fail-open response passthrough, then the
// bidirectional relay.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sess := newSession(r.Host, p.logger)

	if !websocket.IsWebSocketUpgrade(r) {
		p.writeError(w, http.StatusUpgradeRequired, "WebSocket upgrade required", "")
		return
	}

	handle, err := p.gateway.EnsureRunning(r.Context())
	if err != nil {
		details := err.Error()
		if se, ok := gateway.AsStartError(err); ok {
			details = se.Details
		}
		p.writeError(w, http.StatusServiceUnavailable, "Moltbot gateway failed to start", details)
		return
	}

	// The original query string (auth token included) travels to the
	// backend untouched; the relay never inspects it.
	backendURL := handle.Endpoint
	if r.URL.RawQuery != "" {
		backendURL += "?" + r.URL.RawQuery
	}

	backendConn, resp, err := p.dialer.DialContext(r.Context(), backendURL, nil)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			// The backend answered with a plain HTTP response instead of a
			// socket upgrade: fail open and hand its diagnostic to the
			// client verbatim.
			p.relayResponse(w, resp)
			return
		}
		p.logger.Error("backend dial failed", "endpoint", handle.Endpoint, "error", err)
		p.writeError(w, http.StatusBadGateway, "Moltbot gateway unreachable", err.Error())
		return
	}

	clientConn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		p.logger.Error("client upgrade failed", "error", err)
		_ = backendConn.Close()
		return
	}

	sess.accept(clientConn, backendConn)
	p.logger.Info("relay session open", "host", r.Host, "gateway", handle.ProcessID)
	sess.run()
}

// relayResponse copies a non-upgraded backend response (status, headers,
// body) to the client unchanged.
func (p *Proxy) relayResponse(w http.ResponseWriter, resp *http.Response) {
	defer resp.Body.Close()

	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		p.logger.Error("failed to relay backend response", "error", err)
	}
}

func (p *Proxy) writeError(w http.ResponseWriter, status int, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]string{"error": message}
	if details != "" {
		body["details"] = details
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		p.logger.Error("failed to write error response", "error", err)
	}
}
