// Package feed pushes newly stored records to websocket clients.
//
// The hub only observes the store file; it never talks to the daemon, so
// the submission path stays one-directional.
package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/JustVugg/msgboard/internal/metrics"
	"github.com/JustVugg/msgboard/internal/store"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 16
)

// Event is one record as sent to feed clients.
type Event struct {
	Timestamp string       `json:"timestamp"`
	Fields    store.Record `json:"fields"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

type Hub struct {
	store    *store.Store
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	seen    map[string]string
}

func NewHub(st *store.Store, logger *zap.Logger) *Hub {
	return &Hub{
		store:  st,
		logger: logger.Named("feed"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			HandshakeTimeout: 10 * time.Second,
		},
		clients: make(map[*client]struct{}),
		seen:    make(map[string]string),
	}
}

// Start records what is already stored, then watches the store file until
// ctx is done. Records present before Start are never broadcast.
func (h *Hub) Start(ctx context.Context) error {
	if records, err := h.store.Load(); err == nil {
		h.mu.Lock()
		for key, rec := range records {
			h.seen[key] = fingerprint(rec)
		}
		h.mu.Unlock()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// The directory is watched so the file may be created after Start.
	if err := watcher.Add(filepath.Dir(h.store.Path())); err != nil {
		watcher.Close()
		return err
	}

	target := filepath.Clean(h.store.Path())

	go func() {
		defer watcher.Close()
		defer h.closeAll()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					h.scan()
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				h.logger.Warn("store watcher error", zap.Error(err))
			}
		}
	}()

	return nil
}

// scan broadcasts records that are new or changed since the last scan. A
// half-written store fails to parse and is simply picked up on the next
// write event.
func (h *Hub) scan() {
	records, err := h.store.Load()
	if err != nil {
		h.logger.Debug("store not readable yet", zap.Error(err))
		return
	}

	keys := make([]string, 0, len(records))
	for key := range records {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		fp := fingerprint(records[key])

		h.mu.Lock()
		unchanged := h.seen[key] == fp
		h.seen[key] = fp
		h.mu.Unlock()

		if unchanged {
			continue
		}

		msg, err := json.Marshal(Event{Timestamp: key, Fields: records[key]})
		if err != nil {
			continue
		}
		h.Broadcast(msg)
	}
}

func fingerprint(rec store.Record) string {
	b, _ := json.Marshal(rec)
	return string(b)
}

// Broadcast queues msg for every client. A client whose queue is full is
// disconnected rather than allowed to stall the others.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.removeLocked(c)
		}
	}
}

// Clients is the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.FeedClientConnected()

	h.logger.Debug("feed client connected", zap.String("remote", r.RemoteAddr))

	go h.writeLoop(c)

	// Clients never send anything meaningful; reading only detects close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("feed client read error", zap.Error(err))
			}
			break
		}
	}

	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()

	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	metrics.FeedClientDisconnected()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		h.removeLocked(c)
	}
}
