package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"gachalab/internal/models"
)

func readFeed(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read feed: %v", err)
	}
	var msg map[string]interface{}
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("decode feed: %v", err)
	}
	return msg
}

func TestFeedBroadcastsWins(t *testing.T) {
	env := newTestEnv(t, 1)
	env.st.PutPrize(models.Prize{GachaID: "g1", Name: "Plush", Stock: 2, Weight: 1, IsActive: true})
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/feed"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if hello := readFeed(t, conn); hello["type"] != "hello" {
		t.Fatalf("expected hello, got %v", hello)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping","ts":42}`)); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	pong := readFeed(t, conn)
	if pong["type"] != "pong" || pong["data"].(map[string]interface{})["ts"] != float64(42) {
		t.Fatalf("expected pong, got %v", pong)
	}

	resp, err := http.Post(ts.URL+"/api/spin", "application/json", strings.NewReader(`{"gacha_id":"g1"}`))
	if err != nil {
		t.Fatalf("spin: %v", err)
	}
	resp.Body.Close()

	win := readFeed(t, conn)
	if win["type"] != "win" {
		t.Fatalf("expected win, got %v", win)
	}
	data := win["data"].(map[string]interface{})
	if data["gacha_id"] != "g1" || data["prize"].(map[string]interface{})["name"] != "Plush" {
		t.Errorf("unexpected win payload %v", data)
	}
	if _, ok := data["code"]; ok {
		t.Errorf("redeem codes must not reach the public feed")
	}
}

func TestFeedRejectsForeignOrigin(t *testing.T) {
	env := newTestEnv(t, 0)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/feed"
	header := http.Header{"Origin": []string{"https://evil.example"}}
	if _, _, err := websocket.DefaultDialer.Dial(wsURL, header); err == nil {
		t.Fatal("expected handshake to fail for a foreign origin")
	}
}
