package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kallabhanu88-ctrl/speech-to-text-app/internal/recorder"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	subscriberQueue = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The control API binds to a local address; any local page may watch it
	CheckOrigin: func(r *http.Request) bool { return true },
}

// snapshotSource is the part of the recorder the hub observes
type snapshotSource interface {
	Subscribe(fn func(recorder.Snapshot)) func()
	Current() recorder.Snapshot
}

// eventHub fans recorder snapshots out to WebSocket subscribers
type eventHub struct {
	logger   *slog.Logger
	recorder snapshotSource
	detach   func()

	subscribers map[chan recorder.Snapshot]struct{}
	closed      bool
	mu          sync.Mutex
}

func newEventHub(logger *slog.Logger) *eventHub {
	return &eventHub{
		logger:      logger,
		subscribers: make(map[chan recorder.Snapshot]struct{}),
	}
}

// attach subscribes the hub to the recorder's snapshots
func (e *eventHub) attach(rec snapshotSource) {
	e.recorder = rec
	e.detach = rec.Subscribe(e.broadcast)
}

// broadcast queues snap for every subscriber, dropping it for subscribers
// that are not keeping up
func (e *eventHub) broadcast(snap recorder.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for ch := range e.subscribers {
		select {
		case ch <- snap:
		default:
			e.logger.Debug("Dropping snapshot for slow subscriber",
				slog.String("state", snap.StateName),
			)
		}
	}
}

func (e *eventHub) subscribe() (chan recorder.Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, false
	}
	ch := make(chan recorder.Snapshot, subscriberQueue)
	e.subscribers[ch] = struct{}{}
	return ch, true
}

func (e *eventHub) unsubscribe(ch chan recorder.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.subscribers[ch]; ok {
		delete(e.subscribers, ch)
		close(ch)
	}
}

func (e *eventHub) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subscribers)
}

// close detaches from the recorder and ends every subscription
func (e *eventHub) close() {
	// Called before taking e.mu: the recorder holds its publish lock while
	// calling broadcast.
	if e.detach != nil {
		e.detach()
		e.detach = nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true
	for ch := range e.subscribers {
		delete(e.subscribers, ch)
		close(ch)
	}
}

// serveWS implements GET /events. The current snapshot is sent first,
// followed by one message per recorder update.
func (e *eventHub) serveWS(w http.ResponseWriter, r *http.Request) {
	ch, ok := e.subscribe()
	if !ok {
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.unsubscribe(ch)
		e.logger.Warn("WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	e.logger.Debug("Event subscriber connected", slog.String("remote", r.RemoteAddr))

	done := make(chan struct{})
	go e.readPump(conn, done)
	e.writePump(conn, ch, done)

	e.unsubscribe(ch)
	conn.Close()

	e.logger.Debug("Event subscriber disconnected", slog.String("remote", r.RemoteAddr))
}

// readPump discards client messages and detects disconnects
func (e *eventHub) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (e *eventHub) writePump(conn *websocket.Conn, ch <-chan recorder.Snapshot, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	if e.recorder != nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(e.recorder.Current()); err != nil {
			return
		}
	}

	for {
		select {
		case snap, ok := <-ch:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := conn.WriteJSON(snap); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}
