package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yeonjoon13/intended-route-monitor/internal/geo"
	"github.com/yeonjoon13/intended-route-monitor/internal/model"
	"github.com/yeonjoon13/intended-route-monitor/internal/monitor"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func line(lat float64, lons ...float64) *model.Route {
	wps := make([]model.Waypoint, len(lons))
	for i, lon := range lons {
		wps[i] = model.Waypoint{Position: geo.Position{Latitude: lat, Longitude: lon}, SpeedKnots: 10}
	}
	return model.NewRoute("test", t0, wps)
}

func setup(t *testing.T) (*monitor.Monitor, *Hub, *httptest.Server) {
	t.Helper()
	opts := monitor.DefaultOptions()
	opts.Now = func() time.Time { return t0 }
	m := monitor.New(opts)
	m.SetOwnRoute(model.NewOwnRoute(line(0, 0, 1), model.NoActiveWaypoint))

	hub := NewHub(m, nil)
	m.AddListener(hub)
	m.UpsertRoute(219000001, line(0.01, 0, 1), model.NoActiveWaypoint)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(hub.Handler())
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return m, hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

// readUntil reads messages until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(raw json.RawMessage) bool) json.RawMessage {
	t.Helper()
	for {
		var raw json.RawMessage
		if err := conn.ReadJSON(&raw); err != nil {
			t.Fatalf("read: %v", err)
		}
		if match(raw) {
			return raw
		}
	}
}

func snapshotWhere(t *testing.T, pred func(Snapshot) bool) func(json.RawMessage) bool {
	return func(raw json.RawMessage) bool {
		var s Snapshot
		if err := json.Unmarshal(raw, &s); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
		return s.Type == "routes" && pred(s)
	}
}

func TestInitialSnapshot(t *testing.T) {
	_, hub, srv := setup(t)
	conn := dial(t, srv)

	raw := readUntil(t, conn, snapshotWhere(t, func(Snapshot) bool { return true }))
	var s Snapshot
	json.Unmarshal(raw, &s)
	if len(s.Routes) != 1 {
		t.Fatalf("snapshot has %d routes, want 1", len(s.Routes))
	}
	v := s.Routes[0]
	if v.MMSI != 219000001 || !v.Visible || v.Minimum == nil || len(v.Messages) != 1 {
		t.Errorf("route view = %+v", v)
	}
	if hub.Clients() != 1 {
		t.Errorf("Clients() = %d, want 1", hub.Clients())
	}
}

func TestCommands(t *testing.T) {
	m, _, srv := setup(t)
	conn := dial(t, srv)

	if err := conn.WriteJSON(Command{Type: "acknowledge", MMSI: 219000001}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, conn, snapshotWhere(t, func(s Snapshot) bool {
		return len(s.Routes) == 1 && s.Routes[0].Acknowledged
	}))

	if err := conn.WriteJSON(Command{Type: "visible", MMSI: 219000001, Visible: false}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, conn, snapshotWhere(t, func(s Snapshot) bool {
		return len(s.Routes) == 1 && !s.Routes[0].Visible
	}))
	if ir, _ := m.IntendedRoute(219000001); ir.Visible {
		t.Error("route still visible")
	}

	for _, cmd := range []Command{{Type: "acknowledge", MMSI: 1}, {Type: "rename", MMSI: 219000001}} {
		if err := conn.WriteJSON(cmd); err != nil {
			t.Fatal(err)
		}
		readUntil(t, conn, func(raw json.RawMessage) bool {
			var r errorReply
			json.Unmarshal(raw, &r)
			return r.Type == "error" && r.Error != ""
		})
	}
}

func TestMalformedCommands(t *testing.T) {
	_, _, srv := setup(t)
	conn := dial(t, srv)

	for _, raw := range []string{`{"type":]`, `{"type":"acknowledge","mmsi":"abc"}`, `{"type":"visible","visible":"no"}`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatal(err)
		}
		readUntil(t, conn, func(raw json.RawMessage) bool {
			var r errorReply
			json.Unmarshal(raw, &r)
			return r.Type == "error" && r.Error != ""
		})
	}

	// The connection is still usable.
	if err := conn.WriteJSON(Command{Type: "acknowledge", MMSI: 219000001}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, conn, snapshotWhere(t, func(s Snapshot) bool {
		return len(s.Routes) == 1 && s.Routes[0].Acknowledged
	}))
}

func TestHandleRoutes(t *testing.T) {
	_, _, srv := setup(t)

	resp, err := http.Get(srv.URL + "/routes")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var s Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	if len(s.Routes) != 1 || s.Routes[0].MMSI != 219000001 {
		t.Errorf("snapshot = %+v", s)
	}
}
