package relay

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// State is the lifecycle of one relay session.
type State string

const (
	StateNegotiating  State = "negotiating"
	StateBothAccepted State = "both-accepted"
	StateRelaying     State = "relaying"
	StateClosing      State = "closing"
	StateClosed       State = "closed"
)

const (
	// closeWriteWait bounds how long a close frame write may block.
	closeWriteWait = 5 * time.Second

	// Fixed reasons for abnormal (1011) closes so the failing side is
	// diagnosable from the peer's close frame.
	reasonClientError    = "client error"
	reasonContainerError = "container error"
)

// session pairs a client-facing socket with a backend-facing socket and
// forwards frames between them until either side closes or errors. The two
// endpoints are exclusively owned by the session for its duration.
type session struct {
	client  *websocket.Conn
	backend *websocket.Conn
	host    string
	logger  *slog.Logger

	mu    sync.Mutex
	state State

	clientOpen  atomic.Bool
	backendOpen atomic.Bool
	clientOnce  sync.Once
	backendOnce sync.Once
}

func newSession(host string, logger *slog.Logger) *session {
	return &session{
		host:   host,
		logger: logger,
		state:  StateNegotiating,
	}
}

// accept hands both endpoints to the session.
func (s *session) accept(client, backend *websocket.Conn) {
	s.client = client
	s.backend = backend
	s.clientOpen.Store(true)
	s.backendOpen.Store(true)
	s.setState(StateBothAccepted)
}

// run pumps both directions until both endpoints are closed. Per-direction
// frame order is preserved; nothing is guaranteed across directions. There
// is no buffering: a frame for an endpoint that is not open is dropped.
func (s *session) run() {
	s.setState(StateRelaying)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.pumpClientToBackend()
	}()
	go func() {
		defer wg.Done()
		s.pumpBackendToClient()
	}()
	wg.Wait()

	s.setState(StateClosed)
	s.logger.Debug("relay session closed", "host", s.host)
}

// pumpClientToBackend forwards client frames to the backend unmodified.
func (s *session) pumpClientToBackend() {
	for {
		messageType, data, err := s.client.ReadMessage()
		if err != nil {
			s.clientGone(err)
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		if !s.backendOpen.Load() {
			continue // best-effort relay: drop, don't queue
		}
		if err := s.backend.WriteMessage(messageType, data); err != nil {
			// Backend transport failed mid-write.
			s.setState(StateClosing)
			s.shutBackend()
			s.closeClient(websocket.CloseInternalServerErr, reasonContainerError)
		}
	}
}

// pumpBackendToClient forwards backend frames to the client, rewriting
// recognized error envelopes in text frames.
func (s *session) pumpBackendToClient() {
	for {
		messageType, data, err := s.backend.ReadMessage()
		if err != nil {
			s.backendGone(err)
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		if messageType == websocket.TextMessage {
			data = rewriteErrorFrame(data, s.host)
		}
		if !s.clientOpen.Load() {
			continue
		}
		if err := s.client.WriteMessage(messageType, data); err != nil {
			// Client transport failed mid-write.
			s.setState(StateClosing)
			s.shutClient()
			s.closeBackend(websocket.CloseInternalServerErr, reasonClientError)
		}
	}
}

// clientGone handles the client endpoint's close or error event by
// propagating termination to the backend exactly once.
func (s *session) clientGone(err error) {
	s.setState(StateClosing)

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		s.closeBackend(ce.Code, truncateCloseReason(ce.Text))
	} else {
		s.closeBackend(websocket.CloseInternalServerErr, reasonClientError)
	}
	s.shutClient()
}

// backendGone handles the backend endpoint's close or error event. A close
// reason from the backend goes through the error translator before it
// reaches the client.
func (s *session) backendGone(err error) {
	s.setState(StateClosing)

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		reason := truncateCloseReason(Translate(ce.Text, s.host))
		s.closeClient(ce.Code, reason)
	} else {
		s.closeClient(websocket.CloseInternalServerErr, reasonContainerError)
	}
	s.shutBackend()
}

// closeClient sends a close frame to the client and releases the endpoint.
// Idempotent: closing an already-closed endpoint is a no-op.
func (s *session) closeClient(code int, reason string) {
	s.clientOnce.Do(func() {
		s.clientOpen.Store(false)
		deadline := time.Now().Add(closeWriteWait)
		_ = s.client.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = s.client.Close()
	})
}

// closeBackend mirrors closeClient for the backend endpoint.
func (s *session) closeBackend(code int, reason string) {
	s.backendOnce.Do(func() {
		s.backendOpen.Store(false)
		deadline := time.Now().Add(closeWriteWait)
		_ = s.backend.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = s.backend.Close()
	})
}

// shutClient releases the client endpoint without sending a close frame,
// for when the client itself initiated the close or already failed.
func (s *session) shutClient() {
	s.clientOnce.Do(func() {
		s.clientOpen.Store(false)
		_ = s.client.Close()
	})
}

// shutBackend mirrors shutClient for the backend endpoint.
func (s *session) shutBackend() {
	s.backendOnce.Do(func() {
		s.backendOpen.Store(false)
		_ = s.backend.Close()
	})
}

func (s *session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	// closing is sticky until both endpoints are done.
	if s.state == StateClosing && state != StateClosed {
		return
	}
	s.state = state
}

// currentState reports the session state; used by tests.
func (s *session) currentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
