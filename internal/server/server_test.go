package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"recon-ingest-go/internal/config"
)

func testConfig() config.AppConfig {
	return config.AppConfig{
		Host:            "10.0.0.5",
		Port:            27015,
		PosePort:        12345,
		DropAccumulated: true,
		TickRate:        16 * time.Millisecond,
		TrackID:         2,
		ParentID:        1,
	}
}

func TestHandleConfig(t *testing.T) {
	srv := newServer(testConfig(), Hooks{})

	req := httptest.NewRequest("GET", "/config", nil)
	rec := httptest.NewRecorder()
	srv.handleConfig(rec, req)

	if rec.Code != 200 {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if payload["host"] != "10.0.0.5" {
		t.Fatalf("unexpected host: %v", payload["host"])
	}
	if payload["port"].(float64) != 27015 {
		t.Fatalf("unexpected port: %v", payload["port"])
	}
	if payload["tick_rate_ms"].(float64) != 16 {
		t.Fatalf("unexpected tick rate: %v", payload["tick_rate_ms"])
	}
	if payload["parent_id"].(float64) != 1 {
		t.Fatalf("unexpected parent id: %v", payload["parent_id"])
	}
	if _, ok := payload["type"]; ok {
		t.Fatalf("http config must not carry a message type")
	}
}

func TestHandleStatus(t *testing.T) {
	srv := newServer(testConfig(), Hooks{
		Status: func() map[string]any {
			return map[string]any{"frames": map[string]any{"frames_received_total": 3}}
		},
	})
	rec := httptest.NewRecorder()
	srv.handleStatus(rec, httptest.NewRequest("GET", "/status", nil))

	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["ws_clients"].(float64) != 0 {
		t.Fatalf("unexpected ws_clients: %v", payload["ws_clients"])
	}
	if payload["frames"].(map[string]any)["frames_received_total"].(float64) != 3 {
		t.Fatalf("status hook output missing: %v", payload)
	}
}

func TestHandleControl(t *testing.T) {
	var got Control
	srv := newServer(testConfig(), Hooks{
		Control: func(c Control) error {
			got = c
			return nil
		},
	})

	rec := httptest.NewRecorder()
	srv.handleControl(rec, httptest.NewRequest("POST", "/control", strings.NewReader(`{"frozen":true}`)))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if got.Frozen == nil || !*got.Frozen || got.DropAccumulated != nil {
		t.Fatalf("unexpected control %+v", got)
	}

	rec = httptest.NewRecorder()
	srv.handleControl(rec, httptest.NewRequest("GET", "/control", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.handleControl(rec, httptest.NewRequest("POST", "/control", strings.NewReader("{")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleControlWithoutHook(t *testing.T) {
	srv := newServer(testConfig(), Hooks{})
	rec := httptest.NewRecorder()
	srv.handleControl(rec, httptest.NewRequest("POST", "/control", strings.NewReader(`{}`)))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := conn.ReadJSON(&payload); err != nil {
		t.Fatalf("read: %v", err)
	}
	return payload
}

func TestWebsocketSession(t *testing.T) {
	var (
		controlMu sync.Mutex
		control   Control
	)
	srv := newServer(testConfig(), Hooks{
		Snapshot: func() any { return map[string]any{"type": "snapshot", "frames": 9} },
		Control: func(c Control) error {
			controlMu.Lock()
			defer controlMu.Unlock()
			control = c
			if c.Frozen != nil {
				return errors.New("frozen not allowed")
			}
			return nil
		},
	})
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	conn := dialWS(t, ts)
	if hello := readJSON(t, conn); hello["type"] != "config" || hello["pose_port"].(float64) != 12345 {
		t.Fatalf("unexpected greeting %v", hello)
	}

	if err := conn.WriteJSON(map[string]any{"type": "snapshot_request"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if snap := readJSON(t, conn); snap["type"] != "snapshot" || snap["frames"].(float64) != 9 {
		t.Fatalf("unexpected snapshot %v", snap)
	}

	if err := conn.WriteJSON(map[string]any{"type": "control", "drop_accumulated": false}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ack := readJSON(t, conn); ack["type"] != "control_ack" || ack["ok"] != true {
		t.Fatalf("unexpected ack %v", ack)
	}
	controlMu.Lock()
	applied := control
	controlMu.Unlock()
	if applied.DropAccumulated == nil || *applied.DropAccumulated {
		t.Fatalf("control not applied: %+v", applied)
	}

	if err := conn.WriteJSON(map[string]any{"type": "control", "frozen": true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ack := readJSON(t, conn); ack["ok"] != false || ack["error"] != "frozen not allowed" {
		t.Fatalf("unexpected ack %v", ack)
	}
}

func TestBroadcastReachesClients(t *testing.T) {
	srv := newServer(testConfig(), Hooks{})
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	messages := make(chan any, 1)
	go srv.broadcast(ctx, messages)

	conn := dialWS(t, ts)
	readJSON(t, conn)

	deadline := time.Now().Add(5 * time.Second)
	for srv.clientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(time.Millisecond)
	}

	messages <- map[string]any{"type": "poses", "count": 2}
	if msg := readJSON(t, conn); msg["type"] != "poses" || msg["count"].(float64) != 2 {
		t.Fatalf("unexpected broadcast %v", msg)
	}
}
