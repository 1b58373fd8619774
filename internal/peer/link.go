// Package peer manages the single browser WebSocket connection the bridge
// dispatches upstream work over: connect/replace-on-reconnect, a 30s
// heartbeat with a three-miss disconnect threshold, serialized outbound
// writes, and inbound demultiplexing by request id.
package peer

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	heartbeatInterval = 30 * time.Second
	heartbeatTimeout  = 60 * time.Second
	maxMissedPongs    = 3
	writeTimeout      = 10 * time.Second
)

// Handlers are the callbacks the orchestrator wires in to react to inbound
// peer messages without this package depending on pool/registry/config.
type Handlers struct {
	// OnChunk delivers a {requestId, data} inbound frame. data is
	// normalized to its wire string form: the sentinel "[DONE]", a raw
	// tagged record line, or a JSON-encoded error object.
	OnChunk func(requestID string, data string)
	// OnSessionCreated delivers a session_created message.
	OnSessionCreated func(sessionID, messageID, modelName string)
	// OnReconnectionHandshake delivers the peer's claimed pending request
	// ids and must return how many this process actually restored, which
	// is echoed back as restoration_ack.
	OnReconnectionHandshake func(pendingRequestIDs []string) (restoredCount int)
	// OnModelRegistry delivers a full model registry replacement and must
	// return the new registry size, echoed back as model_registry_ack.
	OnModelRegistry func(models map[string]interface{}) (count int)
	// OnDisconnect fires once the connection is confirmed gone (close,
	// write failure, or heartbeat exhaustion).
	OnDisconnect func()
	// OnConnect fires once a connection is accepted, just before its
	// receive and heartbeat loops are started.
	OnConnect func()
	// OnAlert fires when the heartbeat exhausts its miss budget, so the
	// caller can surface a monitoring alert.
	OnAlert func(message string)
}

// Link owns the current browser WebSocket connection. Safe for concurrent
// use: Connect, Send, and the internal receive/heartbeat loops all
// serialize through a single write mutex and an atomically replaced
// connection pointer.
type Link struct {
	log      *slog.Logger
	handlers Handlers

	mu         sync.Mutex
	conn       *websocket.Conn
	generation uint64 // bumped on every Connect, lets stale loops exit

	lastPong    time.Time
	missedPongs int
}

// New returns a Link with no active connection.
func New(log *slog.Logger, handlers Handlers) *Link {
	return &Link{log: log, handlers: handlers}
}

// Connect accepts a new peer connection, closing and replacing any
// existing one (logged as a warning, per spec.md §4.E), and starts its
// receive and heartbeat loops.
func (l *Link) Connect(conn *websocket.Conn) {
	l.mu.Lock()
	if l.conn != nil {
		l.log.Warn("replacing existing peer connection")
		_ = l.conn.Close()
	}
	l.conn = conn
	l.generation++
	gen := l.generation
	l.lastPong = time.Now()
	l.missedPongs = 0
	l.mu.Unlock()

	if l.handlers.OnConnect != nil {
		l.handlers.OnConnect()
	}

	go l.receiveLoop(conn, gen)
	go l.heartbeatLoop(conn, gen)
}

// Connected reports whether a peer connection is currently active.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// Send serializes v as JSON and writes it, guarding against interleaved
// writes from concurrent callers and from the heartbeat loop.
func (l *Link) Send(v interface{}) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()

	if conn == nil {
		return websocket.ErrCloseSent
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != conn {
		return websocket.ErrCloseSent
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// SendRetryRequest dispatches a retry/reuse request against a warmed
// session.
func (l *Link) SendRetryRequest(requestID string, payload interface{}, filesToUpload interface{}) error {
	return l.Send(map[string]interface{}{
		"type":          "retry_request",
		"requestId":     requestID,
		"payload":       payload,
		"filesToUpload": filesToUpload,
	})
}

// SendWarmupSession asks the browser to mint a new warmed session.
func (l *Link) SendWarmupSession(requestID, modelName string, payload interface{}) error {
	return l.Send(map[string]interface{}{
		"type":          "warmup_session",
		"requestId":     requestID,
		"modelName":     modelName,
		"payload":       payload,
		"filesToUpload": []interface{}{},
	})
}

// SendAbortRequest tells the browser a client cancelled requestID.
func (l *Link) SendAbortRequest(requestID string) error {
	return l.Send(map[string]interface{}{"type": "abort_request", "requestId": requestID})
}

// SendRefreshModels asks the browser to resend its model inventory.
func (l *Link) SendRefreshModels() error {
	return l.Send(map[string]interface{}{"type": "refresh_models"})
}

// SendRefresh asks the browser to reload the tab, typically after a
// Cloudflare challenge.
func (l *Link) SendRefresh() error {
	return l.Send(map[string]interface{}{"type": "refresh"})
}

// SendActivateIDCapture asks the browser's userscript to enter id-capture
// mode, in service of the id_updater CLI.
func (l *Link) SendActivateIDCapture() error {
	return l.Send(map[string]interface{}{"command": "activate_id_capture"})
}

func (l *Link) disconnect(conn *websocket.Conn, gen uint64) {
	l.mu.Lock()
	if l.generation != gen {
		l.mu.Unlock()
		return
	}
	l.conn = nil
	l.mu.Unlock()

	_ = conn.Close()
	if l.handlers.OnDisconnect != nil {
		l.handlers.OnDisconnect()
	}
}

func (l *Link) heartbeatLoop(conn *websocket.Conn, gen uint64) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for range ticker.C {
		l.mu.Lock()
		if l.generation != gen {
			l.mu.Unlock()
			return
		}
		sincePong := time.Since(l.lastPong)
		l.mu.Unlock()

		if sincePong > heartbeatTimeout {
			l.mu.Lock()
			l.missedPongs++
			missed := l.missedPongs
			l.mu.Unlock()

			if missed >= maxMissedPongs {
				l.log.Warn("peer heartbeat exhausted, treating as disconnected")
				if l.handlers.OnAlert != nil {
					l.handlers.OnAlert("browser websocket heartbeat timed out")
				}
				l.disconnect(conn, gen)
				return
			}
		}

		if err := l.Send(map[string]interface{}{"type": "ping", "timestamp": time.Now().Unix()}); err != nil {
			l.log.Warn("failed to send heartbeat ping", slog.String("error", err.Error()))
			l.disconnect(conn, gen)
			return
		}
	}
}

func (l *Link) handlePong() {
	l.mu.Lock()
	l.lastPong = time.Now()
	l.missedPongs = 0
	l.mu.Unlock()
}

func (l *Link) receiveLoop(conn *websocket.Conn, gen uint64) {
	defer l.disconnect(conn, gen)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			l.log.Info("peer connection closed", slog.String("error", err.Error()))
			return
		}

		var envelope map[string]interface{}
		if err := json.Unmarshal(data, &envelope); err != nil {
			l.log.Warn("dropping unparseable peer message", slog.String("error", err.Error()))
			continue
		}

		l.dispatch(envelope)
	}
}

func (l *Link) dispatch(envelope map[string]interface{}) {
	msgType, _ := envelope["type"].(string)

	switch msgType {
	case "pong":
		l.handlePong()

	case "session_created":
		if l.handlers.OnSessionCreated == nil {
			return
		}
		sessionID, _ := envelope["session_id"].(string)
		messageID, _ := envelope["message_id"].(string)
		modelName, _ := envelope["model_name"].(string)
		l.handlers.OnSessionCreated(sessionID, messageID, modelName)

	case "reconnection_handshake":
		ids := stringSlice(envelope["pending_request_ids"])
		restored := 0
		if l.handlers.OnReconnectionHandshake != nil {
			restored = l.handlers.OnReconnectionHandshake(ids)
		}
		_ = l.Send(map[string]interface{}{"type": "restoration_ack", "restored_count": restored})

	case "model_registry":
		models, _ := envelope["models"].(map[string]interface{})
		count := 0
		if l.handlers.OnModelRegistry != nil {
			count = l.handlers.OnModelRegistry(models)
		}
		_ = l.Send(map[string]interface{}{"type": "model_registry_ack", "count": count})

	default:
		requestID, ok := envelope["requestId"].(string)
		if !ok || l.handlers.OnChunk == nil {
			return
		}
		l.handlers.OnChunk(requestID, normalizeData(envelope["data"]))
	}
}

// normalizeData renders an inbound data payload as a string: strings pass
// through, everything else (an error object, most commonly) is
// re-marshaled to JSON so the codec's object-with-"error" detection still
// applies.
func normalizeData(data interface{}) string {
	if s, ok := data.(string); ok {
		return s
	}
	b, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	return string(b)
}

func stringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
