package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/krisarmstrong/omxconf/pkg/logging"
)

// Message types sent on /api/ws
const (
	MessageStatus = "status"
	MessageResult = "result"
	MessageReport = "report"
	MessageLog    = "log"
)

// Message is one websocket frame
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

const (
	clientQueue  = 64
	pingInterval = 2 * time.Second
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(req *http.Request) bool {
		return true
	},
}

// hub fans messages out to every connected client. A client that falls
// behind loses messages instead of stalling the run.
type hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: map[*websocket.Conn]chan []byte{}}
}

func (h *hub) add(ws *websocket.Conn) chan []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan []byte, clientQueue)
	h.clients[ws] = ch
	return ch
}

func (h *hub) remove(ws *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.clients[ws]; ok {
		close(ch)
		delete(h.clients, ws)
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) broadcast(msg Message) {
	packet, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.clients {
		select {
		case ch <- packet:
		default:
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ws, ch := range h.clients {
		close(ch)
		delete(h.clients, ws)
		ws.Close()
	}
}

func (s *Server) handleWebsocket(w http.ResponseWriter, req *http.Request) {
	ws, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		http.Error(w, fmt.Sprintf("couldn't make websocket: %s", err), http.StatusBadRequest)
		return
	}
	ch := s.hub.add(ws)
	logging.LogDebug(logging.ComponentWeb, "websocket client connected", "clients", s.hub.count())

	initial, _ := json.Marshal(Message{Type: MessageStatus, Data: s.Status()})
	go s.websocketWriter(ws, ch, initial)

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			s.hub.remove(ws)
			break
		}
	}
}

func (s *Server) websocketWriter(ws *websocket.Conn, ch <-chan []byte, initial []byte) {
	pingTicker := time.NewTicker(pingInterval)
	defer func() {
		pingTicker.Stop()
		ws.Close()
	}()

	write := func(kind int, packet []byte) bool {
		if err := ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return false
		}
		return ws.WriteMessage(kind, packet) == nil
	}

	if !write(websocket.TextMessage, initial) {
		return
	}
	for {
		select {
		case packet, ok := <-ch:
			if !ok || !write(websocket.TextMessage, packet) {
				return
			}
		case <-pingTicker.C:
			if !write(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

// LogWriter returns a writer suitable for logging.AddSink that forwards
// each record to websocket clients.
func (s *Server) LogWriter() *LogWriter {
	return &LogWriter{hub: s.hub}
}

// LogWriter forwards log records as MessageLog frames
type LogWriter struct {
	hub *hub
}

func (l *LogWriter) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\n")
	if line != "" {
		l.hub.broadcast(Message{Type: MessageLog, Data: line})
	}
	return len(p), nil
}
