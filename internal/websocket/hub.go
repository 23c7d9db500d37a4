// Package websocket pushes filtered-route snapshots to UI clients and takes
// acknowledge and visibility commands back from them.
package websocket

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yeonjoon13/intended-route-monitor/internal/log"
	"github.com/yeonjoon13/intended-route-monitor/internal/model"
	"github.com/yeonjoon13/intended-route-monitor/internal/notify"
)

const writeWait = 5 * time.Second

// Controller is the part of the monitor the hub uses.
type Controller interface {
	FilteredRoutes() map[model.MMSI]model.FilteredIntendedRoute
	Acknowledge(mmsi model.MMSI) error
	SetVisible(mmsi model.MMSI, visible bool) error
}

// RouteView is one vessel in a snapshot.
type RouteView struct {
	MMSI         model.MMSI            `json:"mmsi"`
	Name         string                `json:"name"`
	Visible      bool                  `json:"visible"`
	Acknowledged bool                  `json:"acknowledged"`
	PendingAlert bool                  `json:"pending_alert"`
	Minimum      *model.FilterMessage  `json:"minimum,omitempty"`
	Messages     []model.FilterMessage `json:"messages"`
}

type Snapshot struct {
	Type   string      `json:"type"`
	Routes []RouteView `json:"routes"`
}

// Command is sent by clients. Type is "acknowledge" or "visible".
type Command struct {
	Type    string     `json:"type"`
	MMSI    model.MMSI `json:"mmsi"`
	Visible bool       `json:"visible,omitempty"`
}

type errorReply struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// Hub is a notify.Listener that broadcasts a snapshot to every connected
// client after the filtered routes change.
type Hub struct {
	ctrl     Controller
	lg       *log.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}

	dirty chan struct{}
}

func NewHub(ctrl Controller, lg *log.Logger) *Hub {
	return &Hub{
		ctrl: ctrl,
		lg:   lg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
		dirty:   make(chan struct{}, 1),
	}
}

// RouteSetChanged marks the snapshot stale. Bursts of events collapse into
// one broadcast.
func (h *Hub) RouteSetChanged(notify.Event) {
	select {
	case h.dirty <- struct{}{}:
	default:
	}
}

// Run broadcasts snapshots until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case <-h.dirty:
			h.broadcast()
		}
	}
}

// Snapshot returns every vessel's filtered route ordered by MMSI.
func (h *Hub) Snapshot() Snapshot {
	routes := h.ctrl.FilteredRoutes()
	views := make([]RouteView, 0, len(routes))
	for mmsi, fr := range routes {
		v := RouteView{
			MMSI:         mmsi,
			Acknowledged: fr.Acknowledged,
			PendingAlert: fr.PendingAlert(),
			Minimum:      fr.Minimum,
			Messages:     fr.Messages,
		}
		if fr.Route != nil {
			v.Visible = fr.Route.Visible
			if fr.Route.Route != nil {
				v.Name = fr.Route.Route.Name
			}
		}
		if v.Messages == nil {
			v.Messages = []model.FilterMessage{}
		}
		views = append(views, v)
	}
	slices.SortFunc(views, func(a, b RouteView) int { return cmp.Compare(a.MMSI, b.MMSI) })
	return Snapshot{Type: "routes", Routes: views}
}

func (h *Hub) broadcast() {
	snap := h.Snapshot()

	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.writeJSON(snap); err != nil {
			h.lg.Warn("websocket write failed", "remote", c.conn.RemoteAddr().String(), "error", err)
			h.remove(c)
			c.conn.Close()
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
		delete(h.clients, c)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request, sends the current snapshot and then
// applies commands until the client disconnects.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.lg.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	c := &client{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	defer h.remove(c)
	h.lg.Info("client connected", "remote", conn.RemoteAddr().String())

	if err := c.writeJSON(h.Snapshot()); err != nil {
		return
	}

	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.writeJSON(errorReply{Type: "error", Error: err.Error()})
				continue
			}
			h.lg.Info("client disconnected", "remote", conn.RemoteAddr().String())
			return
		}
		if err := h.apply(cmd); err != nil {
			if werr := c.writeJSON(errorReply{Type: "error", Error: err.Error()}); werr != nil {
				return
			}
		}
	}
}

func (h *Hub) apply(cmd Command) error {
	switch cmd.Type {
	case "acknowledge":
		return h.ctrl.Acknowledge(cmd.MMSI)
	case "visible":
		return h.ctrl.SetVisible(cmd.MMSI, cmd.Visible)
	default:
		return fmt.Errorf("%q: unknown command", cmd.Type)
	}
}

// HandleRoutes serves the current snapshot as JSON.
func (h *Hub) HandleRoutes(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.Snapshot()); err != nil {
		h.lg.Warn("snapshot encode failed", "error", err)
	}
}

// Handler routes /ws and /routes.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.HandleWebSocket)
	mux.HandleFunc("GET /routes", h.HandleRoutes)
	return mux
}
